package robotagent

import (
	"context"
	"time"

	"github.com/yungbote/rpa-orchestrator/internal/rpaerrors"
)

// heartbeatLoop extends the lease on every in-flight job every
// heartbeat_interval (spec.md §4.5.2). A robot that loses a lease (another
// robot reclaimed the job after a missed visibility window) abandons just
// that job rather than tearing down the whole agent, grounded on
// heartbeat_service.py.
func (a *Agent) heartbeatLoop(ctx context.Context) error {
	interval := a.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.extendAllLeases(ctx)
		}
	}
}

func (a *Agent) extendAllLeases(ctx context.Context) {
	a.mu.Lock()
	jobs := make([]*inFlightJob, 0, len(a.inflight))
	for _, j := range a.inflight {
		jobs = append(jobs, j)
	}
	a.mu.Unlock()

	extension := a.cfg.VisibilityTimeout
	if extension <= 0 {
		extension = 30 * time.Second
	}

	for _, j := range jobs {
		jobID := j.job.ID.String()
		_, err := a.store.ExtendLease(ctx, jobID, a.cfg.RobotID, j.generation, extension)
		if err == nil {
			continue
		}
		if rpaerrors.Is(err, rpaerrors.ErrLeaseLost) {
			a.log.Warn("lost lease, abandoning job without settling", "job_id", jobID)
			j.cancelOnce.Do(func() { close(j.cancel) })
			a.mu.Lock()
			delete(a.inflight, jobID)
			a.mu.Unlock()
			continue
		}
		a.log.Warn("extend lease failed, will retry next heartbeat", "job_id", jobID, "error", err)
	}
}
