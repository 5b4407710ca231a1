package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/rpa-orchestrator/internal/claimstore"
	"github.com/yungbote/rpa-orchestrator/internal/domain"
	"github.com/yungbote/rpa-orchestrator/internal/queue"
	"github.com/yungbote/rpa-orchestrator/internal/realtime"
	"github.com/yungbote/rpa-orchestrator/internal/rpaerrors"
)

// SubmitJobInput is the shape of spec.md §4.7's submit_job operation.
type SubmitJobInput struct {
	WorkflowID     string
	WorkflowName   string
	WorkflowJSON   []byte
	RobotID        string
	Priority       domain.Priority
	ScheduledTime  *time.Time
	Params         map[string]interface{}
	CheckDuplicate bool
}

// SubmitJob enqueues a new job, persists it to job_queue, and returns the
// admitted Job or a *rpaerrors.Error (ErrDuplicate on a dedup hit within the
// window).
func (e *Engine) SubmitJob(in SubmitJobInput) (*domain.Job, error) {
	job := &domain.Job{
		ID:            uuid.New(),
		WorkflowID:    in.WorkflowID,
		WorkflowName:  in.WorkflowName,
		WorkflowJSON:  in.WorkflowJSON,
		Priority:      in.Priority,
		RobotID:       in.RobotID,
		ScheduledTime: in.ScheduledTime,
		CreatedAt:     time.Now().UTC(),
	}
	if in.CheckDuplicate {
		job.DedupFingerprint = queue.Fingerprint(in.WorkflowID, in.Params)
	}

	ok, msg := e.Queue.Enqueue(job, in.CheckDuplicate)
	if !ok {
		return nil, rpaerrors.Wrap("SubmitJob", rpaerrors.ErrDuplicate, errors.New(msg))
	}

	if err := e.persistQueued(job); err != nil {
		return nil, rpaerrors.Wrap("SubmitJob", rpaerrors.ErrTransient, err)
	}
	return job, nil
}

func (e *Engine) persistQueued(job *domain.Job) error {
	workflowJSON := job.WorkflowJSON
	if workflowJSON == nil {
		workflowJSON = []byte("{}")
	}
	row := claimstore.JobQueueRow{
		JobID:            job.ID.String(),
		WorkflowID:       job.WorkflowID,
		WorkflowName:     job.WorkflowName,
		WorkflowJSON:     datatypes.JSON(workflowJSON),
		Priority:         int(job.Priority),
		Status:           string(job.Status),
		RobotID:          job.RobotID,
		ScheduledFor:     job.ScheduledTime,
		DedupFingerprint: job.DedupFingerprint,
		CreatedAt:        job.CreatedAt,
	}
	return e.Store.DB().Create(&row).Error
}

// CancelJob cancels a non-terminal job. A QUEUED (or PENDING) job is
// cancelled immediately since no robot has started it. A RUNNING job is
// cancelled cooperatively (spec.md §5): this only notifies the owning robot
// over the control channel, and the queue transitions to CANCELLED later,
// when routeWireMessage observes the robot's job_cancelled acknowledgement.
func (e *Engine) CancelJob(jobID uuid.UUID, reason string) error {
	job, ok := e.Queue.Get(jobID)
	if !ok {
		return rpaerrors.Wrap("CancelJob", rpaerrors.ErrNotFound, nil)
	}

	if job.Status != domain.JobRunning {
		ok2, msg := e.Queue.Cancel(jobID, reason)
		if !ok2 {
			return rpaerrors.Wrap("CancelJob", rpaerrors.ErrInvalidTransition, errors.New(msg))
		}
		_ = e.Store.DB().Model(&claimstore.JobQueueRow{}).Where("job_id = ?", jobID.String()).
			Updates(map[string]interface{}{"status": string(domain.JobCancelled)}).Error
		return nil
	}

	robotID := job.RobotID
	if robotID == "" {
		return rpaerrors.Wrap("CancelJob", rpaerrors.ErrInvalidTransition, errors.New("running job has no assigned robot"))
	}
	cmd, err := realtime.NewControlMessage(realtime.ControlCommand{
		Command: "cancel_job",
		RobotID: robotID,
		JobID:   jobID.String(),
		Reason:  reason,
	})
	if err != nil {
		return rpaerrors.Wrap("CancelJob", rpaerrors.ErrTransient, err)
	}
	if err := e.Bus.Publish(context.Background(), cmd); err != nil {
		return rpaerrors.Wrap("CancelJob", rpaerrors.ErrTransient, err)
	}
	return nil
}

// RetryJob creates a new job copying the original's workflow fields, with
// check_duplicate = false (spec.md §4.7).
func (e *Engine) RetryJob(jobID uuid.UUID) (*domain.Job, error) {
	orig, ok := e.Queue.Get(jobID)
	if !ok {
		return nil, rpaerrors.Wrap("RetryJob", rpaerrors.ErrNotFound, nil)
	}
	job, err := e.SubmitJob(SubmitJobInput{
		WorkflowID:     orig.WorkflowID,
		WorkflowName:   orig.WorkflowName,
		WorkflowJSON:   orig.WorkflowJSON,
		RobotID:        orig.RobotID,
		Priority:       orig.Priority,
		CheckDuplicate: false,
	})
	if err != nil {
		return nil, err
	}
	job.RetryCount = orig.RetryCount + 1
	return job, nil
}
