package engine

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/yungbote/rpa-orchestrator/internal/claimstore"
	"github.com/yungbote/rpa-orchestrator/internal/domain"
	"github.com/yungbote/rpa-orchestrator/internal/rpaerrors"
)

// RegisterRobotInput is the shape of spec.md §4.7's register_robot operation.
type RegisterRobotInput struct {
	ID                string
	Name              string
	Environment       string
	Tags              map[string]bool
	Capabilities      domain.Capabilities
	MaxConcurrentJobs int
}

// RegisterRobot admits a new robot (or re-registers an existing one) into
// the dispatcher's in-memory registry and persists its row, mirroring the
// robot agent's own upsert on startup so the HTTP control plane can register
// robots out of band too.
func (e *Engine) RegisterRobot(in RegisterRobotInput) (*domain.Robot, error) {
	if in.ID == "" {
		return nil, rpaerrors.Wrap("RegisterRobot", rpaerrors.ErrConfiguration, nil)
	}
	r := &domain.Robot{
		ID:                in.ID,
		Name:              in.Name,
		Environment:       in.Environment,
		Tags:              in.Tags,
		Capabilities:      in.Capabilities,
		Status:            domain.RobotOnline,
		MaxConcurrentJobs: in.MaxConcurrentJobs,
	}
	e.Dispatcher.RegisterRobot(r)

	caps, _ := json.Marshal(in.Capabilities)
	now := time.Now().UTC()
	row := claimstore.RobotRow{
		RobotID:      r.ID,
		Hostname:     r.Name,
		Capabilities: datatypes.JSON(caps),
		Status:       string(domain.RobotOnline),
		RegisteredAt: now,
		LastSeen:     now,
	}
	if err := e.Store.DB().Save(&row).Error; err != nil {
		return nil, rpaerrors.Wrap("RegisterRobot", rpaerrors.ErrTransient, err)
	}
	return r, nil
}

// UpdateRobotStatus sets a robot's status directly, e.g. an operator
// draining a robot for maintenance (spec.md §4.7).
func (e *Engine) UpdateRobotStatus(robotID string, status domain.RobotStatus) error {
	if err := e.Dispatcher.UpdateStatus(robotID, status); err != nil {
		return err
	}
	return e.Store.DB().Model(&claimstore.RobotRow{}).Where("robot_id = ?", robotID).
		Update("status", string(status)).Error
}

// RobotHeartbeat records a liveness ping from a robot that isn't using the
// durable-store path directly (e.g. reporting only over the wire protocol).
// currentJobs is the robot's own count of in-flight jobs (wire heartbeat's
// current_jobs[] payload); pass -1 when the caller has no such count, which
// leaves the dispatcher's bookkeeping untouched.
func (e *Engine) RobotHeartbeat(robotID string, currentJobs int) error {
	if err := e.Dispatcher.UpdateHeartbeat(robotID); err != nil {
		return err
	}
	e.Dispatcher.SyncLoad(robotID, currentJobs)
	return e.Store.DB().Model(&claimstore.RobotRow{}).Where("robot_id = ?", robotID).
		Update("last_seen", time.Now().UTC()).Error
}

// GetRobot returns the in-memory view of a registered robot.
func (e *Engine) GetRobot(robotID string) (*domain.Robot, bool) {
	return e.Dispatcher.GetRobot(robotID)
}
