package claimstore

import (
	"time"

	"gorm.io/datatypes"
)

// JobQueueRow is the GORM mapping for the job_queue table (spec.md §4.4),
// grounded on the teacher's internal/domain/jobs.JobRun struct.
type JobQueueRow struct {
	JobID            string         `gorm:"column:job_id;type:uuid;primaryKey"`
	WorkflowID       string         `gorm:"column:workflow_id;not null;index"`
	WorkflowName     string         `gorm:"column:workflow_name;not null"`
	WorkflowJSON     datatypes.JSON `gorm:"column:workflow_json;type:jsonb"`
	Priority         int            `gorm:"column:priority;not null;index"`
	Status           string         `gorm:"column:status;not null;index"`
	RobotID          string         `gorm:"column:robot_id;index"`
	ScheduledFor     *time.Time     `gorm:"column:scheduled_for;index"`
	Environment      string         `gorm:"column:environment;index"`
	DedupFingerprint string         `gorm:"column:dedup_fingerprint;index"`
	RetryCount       int            `gorm:"column:retry_count;not null;default:0"`
	Progress         int            `gorm:"column:progress;not null;default:0"`
	CurrentNode      string         `gorm:"column:current_node"`
	Result           datatypes.JSON `gorm:"column:result;type:jsonb"`
	ErrorMessage     string         `gorm:"column:error_message"`
	CreatedAt        time.Time      `gorm:"column:created_at;not null;index"`
	StartedAt        *time.Time     `gorm:"column:started_at"`
	CompletedAt      *time.Time     `gorm:"column:completed_at"`
	DurationMS       int64          `gorm:"column:duration_ms;not null;default:0"`
}

func (JobQueueRow) TableName() string { return "job_queue" }

// JobClaimRow is the GORM mapping for job_claim: exists only for claimed
// non-terminal jobs.
type JobClaimRow struct {
	JobID           string    `gorm:"column:job_id;type:uuid;primaryKey"`
	RobotID         string    `gorm:"column:robot_id;not null;index"`
	ClaimedAt       time.Time `gorm:"column:claimed_at;not null"`
	LeaseExpiresAt  time.Time `gorm:"column:lease_expires_at;not null;index"`
	LeaseGeneration int64     `gorm:"column:lease_generation;not null;default:0"`
}

func (JobClaimRow) TableName() string { return "job_claim" }

// RobotRow is the GORM mapping for robots.
type RobotRow struct {
	RobotID      string         `gorm:"column:robot_id;primaryKey"`
	Hostname     string         `gorm:"column:hostname"`
	Capabilities datatypes.JSON `gorm:"column:capabilities;type:jsonb"`
	Status       string         `gorm:"column:status;not null;index"`
	RegisteredAt time.Time      `gorm:"column:registered_at;not null"`
	LastSeen     time.Time      `gorm:"column:last_seen;index"`
	Metrics      datatypes.JSON `gorm:"column:metrics;type:jsonb"`
}

func (RobotRow) TableName() string { return "robots" }
