package engine

import (
	"github.com/google/uuid"

	"github.com/yungbote/rpa-orchestrator/internal/domain"
	"github.com/yungbote/rpa-orchestrator/internal/queue"
)

// CreateScheduleInput is the shape of spec.md §4.7's create_schedule
// operation.
type CreateScheduleInput struct {
	Name           string
	WorkflowID     string
	Frequency      domain.ScheduleFrequency
	CronExpression string
	Timezone       string
	Priority       domain.Priority
	Enabled        bool
}

// CreateSchedule registers a new schedule with the scheduler.
func (e *Engine) CreateSchedule(in CreateScheduleInput) (*domain.Schedule, error) {
	sched := &domain.Schedule{
		ID:             uuid.New().String(),
		Name:           in.Name,
		WorkflowID:     in.WorkflowID,
		Frequency:      in.Frequency,
		CronExpression: in.CronExpression,
		Timezone:       in.Timezone,
		Priority:       in.Priority,
		Enabled:        in.Enabled,
	}
	if err := e.Scheduler.Add(sched); err != nil {
		return nil, err
	}
	return sched, nil
}

// ToggleSchedule enables or disables a schedule, recomputing next_run if
// re-enabled.
func (e *Engine) ToggleSchedule(id string, enabled bool) error {
	return e.Scheduler.SetEnabled(id, enabled)
}

// DeleteSchedule removes a schedule entirely.
func (e *Engine) DeleteSchedule(id string) error {
	return e.Scheduler.Remove(id)
}

// UpcomingSchedules returns the next `limit` due schedules across the
// system, soonest first.
func (e *Engine) UpcomingSchedules(limit int) []*domain.Schedule {
	return e.Scheduler.GetNextRuns(limit)
}

// GetQueueStats exposes the queue's read-only stats accessor.
func (e *Engine) GetQueueStats() queue.Stats {
	return e.Queue.GetQueueStats()
}
