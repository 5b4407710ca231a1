// Package wire defines the JSON message envelope used by the Robot ↔
// Orchestrator wire protocol (spec.md §6): every message carries {type,
// timestamp, ...}. This channel is advisory push/notification on top of the
// durable claim store — a robot that never receives a job_assign message
// still finds the job via its own claim loop (internal/robotagent), and the
// orchestrator still settles state from internal/claimstore, not from this
// wire. Grounded on the teacher's habit of a typed envelope per message kind
// (internal/domain/chat's event types) generalized to this protocol.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type is the wire message discriminator.
type Type string

const (
	// Robot -> Orchestrator
	TypeRegister     Type = "register"
	TypeHeartbeat    Type = "heartbeat"
	TypeJobAccept    Type = "job_accept"
	TypeJobReject    Type = "job_reject"
	TypeJobProgress  Type = "job_progress"
	TypeJobComplete  Type = "job_complete"
	TypeJobFailed    Type = "job_failed"
	TypeJobCancelled Type = "job_cancelled"
	TypePong         Type = "pong"

	// Orchestrator -> Robot
	TypeRegisterAck  Type = "register_ack"
	TypeHeartbeatAck Type = "heartbeat_ack"
	TypeJobAssign    Type = "job_assign"
	TypeJobCancel    Type = "job_cancel"
	TypePing         Type = "ping"
	TypeError        Type = "error"
)

// Envelope is the outer shape every message shares.
type Envelope struct {
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"-"`
}

type envelopeWire struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// Capabilities mirrors spec.md §6's register payload capabilities object.
type Capabilities struct {
	Types             []string `json:"types"`
	MaxConcurrentJobs int      `json:"max_concurrent_jobs"`
	Tags              []string `json:"tags"`
	OSInfo            string   `json:"os_info"`
	Hostname          string   `json:"hostname"`
}

type RegisterPayload struct {
	RobotID      string       `json:"robot_id"`
	RobotName    string       `json:"robot_name"`
	Capabilities Capabilities `json:"capabilities"`
	Environment  string       `json:"environment"`
	APIKeyHash   string       `json:"api_key_hash,omitempty"`
}

type Metrics struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

type HeartbeatPayload struct {
	RobotID       string   `json:"robot_id"`
	CurrentJobs   []string `json:"current_jobs"`
	JobsCompleted int      `json:"jobs_completed"`
	JobsFailed    int      `json:"jobs_failed"`
	Metrics       Metrics  `json:"metrics"`
}

type JobAcceptPayload struct {
	JobID   string `json:"job_id"`
	RobotID string `json:"robot_id"`
}

type JobRejectPayload struct {
	JobID   string `json:"job_id"`
	RobotID string `json:"robot_id"`
	Reason  string `json:"reason"`
}

type JobProgressPayload struct {
	JobID    string `json:"job_id"`
	RobotID  string `json:"robot_id"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
}

type JobCompletePayload struct {
	JobID   string          `json:"job_id"`
	RobotID string          `json:"robot_id"`
	Result  json.RawMessage `json:"result,omitempty"`
}

type JobFailedPayload struct {
	JobID   string `json:"job_id"`
	RobotID string `json:"robot_id"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type JobCancelledPayload struct {
	JobID   string `json:"job_id"`
	RobotID string `json:"robot_id"`
}

type PongPayload struct {
	RobotID string `json:"robot_id"`
}

type RegisterAckPayload struct{}

type HeartbeatAckPayload struct{}

type JobAssignPayload struct {
	JobID        string          `json:"job_id"`
	WorkflowName string          `json:"workflow_name"`
	WorkflowJSON json.RawMessage `json:"workflow_json"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Priority     string          `json:"priority"`
}

type JobCancelPayload struct {
	JobID string `json:"job_id"`
}

type PingPayload struct{}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Encode marshals typ+payload into a flat JSON object: the envelope fields
// plus the payload's own fields merged at the top level, matching spec.md's
// "{type, timestamp, ...}" shape rather than a nested payload object.
func Encode(typ Type, ts time.Time, payload interface{}) ([]byte, error) {
	payloadRaw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire encode %s: %w", typ, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payloadRaw, &fields); err != nil {
		return nil, fmt.Errorf("wire encode %s: payload must be an object: %w", typ, err)
	}
	typRaw, _ := json.Marshal(typ)
	tsRaw, _ := json.Marshal(ts)
	out := map[string]json.RawMessage{"type": typRaw, "timestamp": tsRaw}
	for k, v := range fields {
		out[k] = v
	}
	return json.Marshal(out)
}

// Decode splits a raw wire message into its Type/Timestamp and leaves the
// full raw object available for payload-specific unmarshalling.
func Decode(raw []byte) (Envelope, error) {
	var w envelopeWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return Envelope{}, fmt.Errorf("wire decode: %w", err)
	}
	return Envelope{Type: w.Type, Timestamp: w.Timestamp, Payload: json.RawMessage(raw)}, nil
}
