// Package realtime implements the advisory pub/sub channel from spec.md
// §4.6: jobs (insert hints), control (cancel/shutdown/pause/resume), and
// presence (robot fleet state). Correctness never depends on this channel —
// every consumer must keep working in poll-only mode if Bus is an
// InProcessBus with no remote source.
package realtime

import (
	"context"
	"encoding/json"
)

// Channel names the three logical pub/sub channels spec.md §4.6 defines.
type Channel string

const (
	ChannelJobs     Channel = "jobs"
	ChannelControl  Channel = "control"
	ChannelPresence Channel = "presence"
)

// Message is the envelope published on any channel.
type Message struct {
	Channel Channel         `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// JobsHint is the payload on ChannelJobs (spec.md §4.6): a wake-up hint, not
// authoritative.
type JobsHint struct {
	JobID        string `json:"job_id"`
	WorkflowName string `json:"workflow_name"`
	Priority     string `json:"priority"`
}

// ControlCommand is the payload on ChannelControl.
type ControlCommand struct {
	Command string `json:"command"` // cancel_job | shutdown | pause | resume
	RobotID string `json:"robot_id,omitempty"` // empty = broadcast all
	JobID   string `json:"job_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Presence is the payload robots publish on ChannelPresence.
type Presence struct {
	RobotID       string  `json:"robot_id"`
	Status        string  `json:"status"`
	CurrentJobs   int     `json:"current_jobs"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	TimestampUnix int64   `json:"ts"`
}

// Bus is the pub/sub abstraction every realtime implementation satisfies:
// a real Redis-backed bus, or an in-process fan-out for poll-only mode and
// tests. Modeled on the teacher's internal/realtime/bus.Bus interface.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	StartForwarder(ctx context.Context, onMsg func(Message)) error
	Close() error
}

func encode(channel Channel, event string, data interface{}) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Channel: channel, Event: event, Data: raw}, nil
}

// NewPresenceMessage builds a ChannelPresence Message from a Presence
// payload, for callers outside this package (e.g. robotagent).
func NewPresenceMessage(p Presence) (Message, error) {
	return encode(ChannelPresence, "presence", p)
}

// NewJobsHintMessage builds a ChannelJobs Message from a JobsHint payload.
func NewJobsHintMessage(h JobsHint) (Message, error) {
	return encode(ChannelJobs, "job_inserted", h)
}

// NewControlMessage builds a ChannelControl Message from a ControlCommand.
func NewControlMessage(cmd ControlCommand) (Message, error) {
	return encode(ChannelControl, cmd.Command, cmd)
}
