package robotagent

import (
	"context"
	"time"
)

// gracefulShutdown stops accepting new claims (the caller must already have
// cancelled the context driving claimLoop) and waits up to
// graceful_shutdown_seconds for in-flight jobs to finish on their own.
// Anything still running past the deadline is left to abandon its lease:
// the lease simply expires and another robot reclaims the job, rather than
// this agent racing to settle a job it may no longer own (spec.md §4.5.5).
func (a *Agent) gracefulShutdown(ctx context.Context) {
	deadline := a.cfg.GracefulShutdown
	if deadline <= 0 {
		deadline = 60 * time.Second
	}

	timeout := time.NewTimer(deadline)
	defer timeout.Stop()
	poll := time.NewTicker(200 * time.Millisecond)
	defer poll.Stop()

	for {
		if a.currentJobCount() == 0 {
			a.log.Info("graceful shutdown complete, no in-flight jobs remaining")
			return
		}
		select {
		case <-timeout.C:
			a.log.Warn("graceful shutdown deadline reached with jobs still in flight, leaving leases to expire", "in_flight", a.currentJobCount())
			return
		case <-poll.C:
		case <-ctx.Done():
			return
		}
	}
}
