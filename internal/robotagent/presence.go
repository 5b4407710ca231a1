package robotagent

import (
	"context"
	"time"

	"github.com/yungbote/rpa-orchestrator/internal/claimstore"
	"github.com/yungbote/rpa-orchestrator/internal/domain"
	"github.com/yungbote/rpa-orchestrator/internal/realtime"
)

// presenceLoop publishes this robot's fleet state on ChannelPresence and
// refreshes its robots-table row, every presence_interval (spec.md §4.5.4).
func (a *Agent) presenceLoop(ctx context.Context) error {
	interval := a.cfg.PresenceInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.publishPresence(ctx)
		}
	}
}

func (a *Agent) publishPresence(ctx context.Context) {
	now := time.Now().UTC()
	status := domain.RobotOnline
	current := a.currentJobCount()
	if current >= a.cfg.MaxConcurrentJobs {
		status = domain.RobotBusy
	}

	db := a.store.DB()
	if err := db.WithContext(ctx).Model(&claimstore.RobotRow{}).
		Where("robot_id = ?", a.cfg.RobotID).
		Updates(map[string]interface{}{"status": string(status), "last_seen": now}).Error; err != nil {
		a.log.Warn("failed to refresh robot row", "error", err)
	}

	if a.bus == nil {
		return
	}
	msg, err := realtime.NewPresenceMessage(realtime.Presence{
		RobotID:       a.cfg.RobotID,
		Status:        string(status),
		CurrentJobs:   current,
		TimestampUnix: now.Unix(),
	})
	if err != nil {
		a.log.Warn("failed to encode presence message", "error", err)
		return
	}
	if err := a.bus.Publish(ctx, msg); err != nil {
		a.log.Debug("presence publish failed, realtime channel degraded", "error", err)
	}
}
