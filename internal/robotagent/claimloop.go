package robotagent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yungbote/rpa-orchestrator/internal/claimstore"
	"github.com/yungbote/rpa-orchestrator/internal/domain"
	"github.com/yungbote/rpa-orchestrator/internal/wire"
)

// claimLoop is the hybrid poll+subscribe loop from spec.md §4.5.1: poll on a
// fixed interval, but reset the backoff to poll_interval immediately whenever
// a jobs-channel hint arrives. Idle polls back off multiplicatively (1.5x,
// capped at 10s) so an idle fleet doesn't hammer Postgres, grounded on
// robot_agent.py/distributed_agent.py's claim loop.
func (a *Agent) claimLoop(ctx context.Context) error {
	const (
		backoffFactor = 1.5
		backoffCap    = 10 * time.Second
	)
	interval := a.cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	delay := interval
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.notifyHint:
			if !timer.Stop() {
				<-timer.C
			}
			delay = interval
			timer.Reset(0)
		case <-timer.C:
			claimedAny, err := a.claimAndRunBatch(ctx)
			if err != nil {
				a.log.Warn("claim attempt failed", "error", err)
			}
			if claimedAny {
				delay = interval
			} else {
				delay = time.Duration(float64(delay) * backoffFactor)
				if delay > backoffCap {
					delay = backoffCap
				}
			}
			timer.Reset(delay)
		}
	}
}

func (a *Agent) claimAndRunBatch(ctx context.Context) (bool, error) {
	slots := a.cfg.MaxConcurrentJobs - a.currentJobCount()
	if slots <= 0 {
		return false, nil
	}

	claimed, err := a.store.ClaimJob(ctx, a.cfg.RobotID, a.cfg.Environment, time.Now().UTC(), a.cfg.VisibilityTimeout, slots)
	if err != nil {
		return false, err
	}
	if len(claimed) == 0 {
		return false, nil
	}

	for _, c := range claimed {
		if a.consumeCancelFlag(c.Job.ID.String()) {
			_ = a.store.ReleaseJob(ctx, c.Job.ID.String())
			continue
		}
		if owner, conflict := a.affinityConflict(c.Job.WorkflowID); conflict {
			a.log.Info("releasing job due to state affinity mismatch", "job_id", c.Job.ID.String(), "affinity_owner", owner)
			_ = a.store.ReleaseJob(ctx, c.Job.ID.String())
			continue
		}
		a.startJob(ctx, c)
	}
	return true, nil
}

// startJob runs a claimed job to completion in its own goroutine, reporting
// progress and settling the terminal status (spec.md §4.5.1).
func (a *Agent) startJob(ctx context.Context, c claimstore.Claimed) {
	job := c.Job
	inflight := &inFlightJob{job: job, generation: c.LeaseGeneration, cancel: make(chan struct{})}

	a.mu.Lock()
	a.inflight[job.ID.String()] = inflight
	a.mu.Unlock()

	go func() {
		defer func() {
			a.mu.Lock()
			delete(a.inflight, job.ID.String())
			a.mu.Unlock()
		}()

		exec, ok := a.reg.Get(job.WorkflowID)
		if !ok {
			a.settle(ctx, job.ID.String(), inflight.generation, domain.JobFailed, nil, "no executor registered for workflow")
			return
		}

		report := func(progress int, currentNode string) {
			a.log.Debug("job progress", "job_id", job.ID.String(), "progress", progress, "current_node", currentNode)
			a.sendWire(wire.TypeJobProgress, wire.JobProgressPayload{
				JobID:    job.ID.String(),
				RobotID:  a.cfg.RobotID,
				Progress: progress,
				Message:  currentNode,
			})
		}

		result, err := a.runWithPanicRecovery(ctx, exec, job, report, inflight.cancel)
		select {
		case <-inflight.cancel:
			a.settle(ctx, job.ID.String(), inflight.generation, domain.JobCancelled, nil, "cancelled")
			return
		default:
		}
		if err != nil {
			status := domain.JobFailed
			if err == context.DeadlineExceeded {
				status = domain.JobTimeout
			}
			a.settle(ctx, job.ID.String(), inflight.generation, status, nil, err.Error())
			return
		}
		a.settle(ctx, job.ID.String(), inflight.generation, domain.JobCompleted, result, "")
	}()
}

func (a *Agent) runWithPanicRecovery(ctx context.Context, exec Executor, job domain.Job, report ProgressFunc, cancel <-chan struct{}) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("executor panic recovered", "job_id", job.ID.String(), "panic", r)
			err = errExecutorPanic
		}
	}()

	execCtx := ctx
	var cancelTimeout context.CancelFunc
	if a.cfg.JobTimeout > 0 {
		execCtx, cancelTimeout = context.WithTimeout(ctx, a.cfg.JobTimeout)
		defer cancelTimeout()
	}
	return exec.Execute(execCtx, job, report, cancel)
}

// settle finalizes a job against the durable store (the authority on status)
// and, when connected, pushes the matching wire acknowledgement so the
// orchestrator's in-memory queue observes the outcome too — in particular,
// the job_cancelled ack is what lets a cooperatively-cancelled RUNNING job
// transition out of RUNNING on the orchestrator side (spec.md §5).
func (a *Agent) settle(ctx context.Context, jobID string, generation int64, status domain.JobStatus, result []byte, errMsg string) {
	if err := a.store.Settle(context.Background(), jobID, a.cfg.RobotID, generation, status, result, errMsg); err != nil {
		a.log.Warn("settle failed, job likely lost its lease and was reclaimed elsewhere", "job_id", jobID, "error", err)
		return
	}
	switch status {
	case domain.JobCompleted:
		a.sendWire(wire.TypeJobComplete, wire.JobCompletePayload{
			JobID:   jobID,
			RobotID: a.cfg.RobotID,
			Result:  json.RawMessage(result),
		})
	case domain.JobCancelled:
		a.sendWire(wire.TypeJobCancelled, wire.JobCancelledPayload{JobID: jobID, RobotID: a.cfg.RobotID})
	default: // FAILED, TIMEOUT
		a.sendWire(wire.TypeJobFailed, wire.JobFailedPayload{JobID: jobID, RobotID: a.cfg.RobotID, Error: errMsg})
	}
}
