// Package scheduler emits job submissions on time triggers (spec.md §4.2):
// a single ONCE fire, fixed-delta interval triggers (HOURLY/DAILY/WEEKLY/
// MONTHLY), and 5/6-field CRON expressions parsed with robfig/cron/v3.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/yungbote/rpa-orchestrator/internal/domain"
	"github.com/yungbote/rpa-orchestrator/internal/logger"
	"github.com/yungbote/rpa-orchestrator/internal/rpaerrors"
)

// TriggerFunc is invoked when a schedule fires. Returning false means the
// fire failed; success_count is only incremented on true.
type TriggerFunc func(sched *domain.Schedule) bool

// cronParser accepts standard 5-field (minute hour day month weekday) or
// extended 6-field (with leading seconds) expressions, per spec.md §4.2.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// entry is the scheduler's bookkeeping for one domain.Schedule.
type entry struct {
	sched    *domain.Schedule
	cronSpec cron.Schedule
	running  bool // max 1 instance concurrently, per misfire policy
}

// Scheduler owns a set of schedules and fires TriggerFunc on each due tick.
type Scheduler struct {
	mu        sync.Mutex
	log       *logger.Logger
	entries   map[string]*entry
	onTrigger TriggerFunc
	location  *time.Location

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Scheduler. onTrigger is called on every fire.
func New(log *logger.Logger, onTrigger TriggerFunc) *Scheduler {
	return &Scheduler{
		log:       log.With("component", "scheduler"),
		entries:   make(map[string]*entry),
		onTrigger: onTrigger,
		location:  time.UTC,
	}
}

// Add registers a schedule and computes its first next_run.
func (s *Scheduler) Add(sched *domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[sched.ID]; exists {
		return rpaerrors.Wrap("scheduler.Add", rpaerrors.ErrDuplicate, fmt.Errorf("schedule %s already exists", sched.ID))
	}
	e := &entry{sched: sched}
	if err := s.primeLocked(e); err != nil {
		return rpaerrors.Wrap("scheduler.Add", rpaerrors.ErrConfiguration, err)
	}
	s.entries[sched.ID] = e
	return nil
}

// Remove deletes a schedule.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return rpaerrors.Wrap("scheduler.Remove", rpaerrors.ErrNotFound, nil)
	}
	delete(s.entries, id)
	return nil
}

// Update replaces a schedule's definition and recomputes next_run.
func (s *Scheduler) Update(sched *domain.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sched.ID]
	if !ok {
		return rpaerrors.Wrap("scheduler.Update", rpaerrors.ErrNotFound, nil)
	}
	e.sched = sched
	if err := s.primeLocked(e); err != nil {
		return rpaerrors.Wrap("scheduler.Update", rpaerrors.ErrConfiguration, err)
	}
	return nil
}

// SetEnabled toggles a schedule's enabled flag.
func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return rpaerrors.Wrap("scheduler.SetEnabled", rpaerrors.ErrNotFound, nil)
	}
	e.sched.Enabled = enabled
	if enabled {
		return s.primeLocked(e)
	}
	return nil
}

// GetNextRuns returns up to limit (schedule, next_run) pairs across all
// enabled schedules, soonest first.
func (s *Scheduler) GetNextRuns(limit int) []*domain.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Schedule, 0, len(s.entries))
	for _, e := range s.entries {
		if e.sched.Enabled && e.sched.NextRun != nil {
			out = append(out, e.sched)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].NextRun.Before(*out[j-1].NextRun); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// primeLocked computes the schedule's cron.Schedule (if CRON) and its first
// next_run. It is side-effect-free with respect to wall clock beyond reading
// time.Now, matching spec.md's "Next-run calculation is side-effect-free"
// testable property when combined with NextRunAfter.
func (s *Scheduler) primeLocked(e *entry) error {
	sched := e.sched
	if sched.Frequency == domain.FrequencyCron {
		cs, err := cronParser.Parse(sched.CronExpression)
		if err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", sched.CronExpression, err)
		}
		e.cronSpec = cs
	}
	if !sched.Enabled {
		return nil
	}
	next := NextRunAfter(sched, e.cronSpec, time.Now().In(s.location))
	sched.NextRun = &next
	return nil
}

// NextRunAfter computes a schedule's next fire time without mutating any
// state: strictly after `after` for interval and CRON schedules, while ONCE
// returns its fixed NextRun (or `after` when unset). Exposed standalone so it matches what Add
// produced (spec.md §8 testable property).
func NextRunAfter(sched *domain.Schedule, cs cron.Schedule, after time.Time) time.Time {
	switch sched.Frequency {
	case domain.FrequencyOnce:
		if sched.NextRun != nil {
			return *sched.NextRun
		}
		return after
	case domain.FrequencyHourly:
		return after.Add(time.Hour)
	case domain.FrequencyDaily:
		return after.AddDate(0, 0, 1)
	case domain.FrequencyWeekly:
		return after.AddDate(0, 0, 7)
	case domain.FrequencyMonthly:
		return after.AddDate(0, 1, 0)
	case domain.FrequencyCron:
		if cs == nil {
			return after
		}
		return cs.Next(after)
	default:
		return after
	}
}

// Start launches the tick loop, checking for due schedules once per second.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return
	}
	s.stop = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop()
}

// Stop halts the tick loop and waits for in-flight fires started before the
// call to return (it does not cancel a fire already dispatched).
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// tick fires every due, non-running schedule exactly once, coalescing any
// missed runs into a single catch-up fire with ≤60s grace (spec.md §4.2
// misfire policy, grounded on scheduling_coordinator.py).
func (s *Scheduler) tick(now time.Time) {
	const misfireGrace = 60 * time.Second

	var due []*entry
	s.mu.Lock()
	for _, e := range s.entries {
		if !e.sched.Enabled || e.running || e.sched.NextRun == nil {
			continue
		}
		if now.Sub(*e.sched.NextRun) > misfireGrace {
			// Missed by more than the grace window: coalesce into a
			// single catch-up fire now instead of N backlogged fires.
			due = append(due, e)
			e.running = true
			continue
		}
		if !now.Before(*e.sched.NextRun) {
			due = append(due, e)
			e.running = true
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		s.fire(e, now)
	}
}

func (s *Scheduler) fire(e *entry, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("schedule trigger panicked", "schedule_id", e.sched.ID, "error", r)
		}
		s.mu.Lock()
		e.running = false
		if e.sched.Frequency == domain.FrequencyOnce {
			// ONCE is a single DateTrigger: never reschedules.
			e.sched.Enabled = false
		} else {
			next := NextRunAfter(e.sched, e.cronSpec, now)
			e.sched.NextRun = &next
		}
		s.mu.Unlock()
	}()

	s.mu.Lock()
	e.sched.RunCount++
	e.sched.LastRun = &now
	s.mu.Unlock()

	ok := false
	if s.onTrigger != nil {
		ok = s.onTrigger(e.sched)
	}
	if ok {
		s.mu.Lock()
		e.sched.SuccessCount++
		s.mu.Unlock()
	} else {
		s.log.Warn("schedule trigger did not report success", "schedule_id", e.sched.ID)
	}
}
