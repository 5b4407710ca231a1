// Package domain holds the entity types shared across the queue, dispatcher,
// claim store, robot agent, and engine: Job, Robot, Schedule, RobotPool, and
// ClaimedJob, per spec.md §3.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority orders jobs within the queue; higher values dispatch first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParsePriority maps a case-insensitive name to a Priority, defaulting to
// PriorityNormal for unknown input.
func ParsePriority(s string) Priority {
	switch strings.ToUpper(s) {
	case "LOW":
		return PriorityLow
	case "HIGH":
		return PriorityHigh
	case "CRITICAL":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// JobStatus is the job state machine's set of states (spec.md §4.1).
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobQueued    JobStatus = "QUEUED"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
	JobTimeout   JobStatus = "TIMEOUT"
)

// IsTerminal reports whether the status rejects further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled, JobTimeout:
		return true
	default:
		return false
	}
}

// validJobTransitions enumerates the state machine edges in spec.md §4.1.
var validJobTransitions = map[JobStatus]map[JobStatus]bool{
	JobPending: {JobQueued: true, JobCancelled: true},
	JobQueued:  {JobRunning: true, JobCancelled: true},
	JobRunning: {JobCompleted: true, JobFailed: true, JobTimeout: true, JobCancelled: true},
}

// CanTransition reports whether from -> to is a legal state-machine edge.
func CanTransition(from, to JobStatus) bool {
	if from.IsTerminal() {
		return false
	}
	edges, ok := validJobTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Job is a unit of work submitted for execution by a robot.
type Job struct {
	ID             uuid.UUID
	WorkflowID     string
	WorkflowName   string
	WorkflowJSON   []byte
	Priority       Priority
	Status         JobStatus
	RobotID        string // targeted robot before dispatch, or the assignee once running; empty = any
	Environment    string
	ScheduledTime  *time.Time
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	DurationMS     int64
	Progress       int
	CurrentNode    string
	Result         []byte
	ErrorMessage   string
	RetryCount     int
	VisibilityTTL  time.Duration
	DedupFingerprint string
}

// RobotStatus is the robot lifecycle status (spec.md §3).
type RobotStatus string

const (
	RobotOnline  RobotStatus = "ONLINE"
	RobotBusy    RobotStatus = "BUSY"
	RobotOffline RobotStatus = "OFFLINE"
	RobotError   RobotStatus = "ERROR"
)

// Capabilities describes what a robot can execute.
type Capabilities struct {
	Platform       string
	BrowserEngines []string
	Desktop        bool
	CPU            string
	Memory         string
}

// Robot is a registered worker process.
type Robot struct {
	ID                string
	Name              string
	Environment       string
	Tags              map[string]bool
	Capabilities      Capabilities
	Status            RobotStatus
	MaxConcurrentJobs int
	CurrentJobs       int
	LastHeartbeat     time.Time
	LastSeen          time.Time
}

// HasTags reports whether the robot carries every tag in want.
func (r *Robot) HasTags(want map[string]bool) bool {
	for t := range want {
		if !r.Tags[t] {
			return false
		}
	}
	return true
}

// ScheduleFrequency is the trigger kind for a Schedule (spec.md §4.2).
type ScheduleFrequency string

const (
	FrequencyOnce    ScheduleFrequency = "ONCE"
	FrequencyHourly  ScheduleFrequency = "HOURLY"
	FrequencyDaily   ScheduleFrequency = "DAILY"
	FrequencyWeekly  ScheduleFrequency = "WEEKLY"
	FrequencyMonthly ScheduleFrequency = "MONTHLY"
	FrequencyCron    ScheduleFrequency = "CRON"
)

// Schedule is a recurring or one-shot job trigger.
type Schedule struct {
	ID             string
	Name           string
	WorkflowID     string
	Frequency      ScheduleFrequency
	CronExpression string
	Timezone       string
	Enabled        bool
	Priority       Priority
	NextRun        *time.Time
	LastRun        *time.Time
	RunCount       int
	SuccessCount   int
}

// RobotPool groups robots by tag set and caps concurrency / allowed
// workflows.
type RobotPool struct {
	Name              string
	Tags              map[string]bool
	MaxConcurrentJobs int
	AllowedWorkflows  map[string]bool // nil/empty = all allowed
}

// Admits reports whether a robot qualifies for the pool.
func (p *RobotPool) Admits(r *Robot) bool {
	return r.HasTags(p.Tags)
}

// WorkflowAllowed reports whether the pool permits dispatching workflowID.
func (p *RobotPool) WorkflowAllowed(workflowID string) bool {
	if len(p.AllowedWorkflows) == 0 {
		return true
	}
	return p.AllowedWorkflows[workflowID]
}

// ClaimedJob is a view of a Job currently leased to a robot.
type ClaimedJob struct {
	JobID          uuid.UUID
	RobotID        string
	ClaimedAt      time.Time
	LeaseExpiresAt time.Time
	LeaseGeneration int64
}
