package engine

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/rpa-orchestrator/internal/domain"
	"github.com/yungbote/rpa-orchestrator/internal/wire"
	"github.com/yungbote/rpa-orchestrator/internal/wire/ws"
)

// AttachWireServer wires a ws.Server into the engine so job dispatches push
// a job_assign over the WebSocket to a connected robot in addition to the
// realtime-bus hint (spec.md §6). The wire channel is advisory only: the
// robot agent's own durable claim loop is what actually admits the job.
func (e *Engine) AttachWireServer(srv *ws.Server) {
	e.mu.Lock()
	e.wireServer = srv
	e.mu.Unlock()
}

// HandleWireConn is the ws.Server onConnect callback: it drains conn.Inbox,
// decoding and routing each wire message, until the connection closes.
func (e *Engine) HandleWireConn(robotID string, conn *ws.Conn) {
	ack, err := wire.Encode(wire.TypeRegisterAck, time.Now().UTC(), wire.RegisterAckPayload{})
	if err == nil {
		conn.Send(ack)
	}
	for raw := range conn.Inbox {
		e.routeWireMessage(robotID, raw, conn)
	}
	if e.wireServer != nil {
		e.wireServer.Forget(robotID)
	}
}

func (e *Engine) routeWireMessage(robotID string, raw []byte, conn *ws.Conn) {
	env, err := wire.Decode(raw)
	if err != nil {
		e.Log.Warn("wire: dropping undecodable message", "robot_id", robotID, "error", err)
		return
	}
	switch env.Type {
	case wire.TypeHeartbeat:
		currentJobs := -1
		var hb wire.HeartbeatPayload
		if err := json.Unmarshal(env.Payload, &hb); err == nil {
			currentJobs = len(hb.CurrentJobs)
		}
		_ = e.RobotHeartbeat(robotID, currentJobs)
		reply, _ := wire.Encode(wire.TypeHeartbeatAck, time.Now().UTC(), wire.HeartbeatAckPayload{})
		conn.Send(reply)

	case wire.TypeJobProgress:
		var p wire.JobProgressPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			if id, err := uuid.Parse(p.JobID); err == nil {
				e.Queue.UpdateProgress(id, p.Progress, p.Message)
			}
		}

	case wire.TypeJobComplete:
		var p wire.JobCompletePayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			if id, err := uuid.Parse(p.JobID); err == nil {
				e.Queue.Complete(id, []byte(p.Result))
			}
		}

	case wire.TypeJobFailed:
		var p wire.JobFailedPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			if id, err := uuid.Parse(p.JobID); err == nil {
				e.Queue.Fail(id, p.Error)
			}
		}

	case wire.TypeJobCancelled:
		// Cancellation of a RUNNING job is cooperative (spec.md §5): the
		// queue only transitions to CANCELLED here, on the robot's
		// acknowledgement, never at the moment CancelJob is called.
		var p wire.JobCancelledPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			if id, err := uuid.Parse(p.JobID); err == nil {
				e.Queue.Cancel(id, "cancelled by robot")
			}
		}

	case wire.TypeJobReject:
		// Robot declined a targeted job before claiming it; the job never
		// left QUEUED, so there is no queue transition to make here.

	case wire.TypeJobAccept:
		// Informational only; the robot's own claim (or the in-memory
		// Dequeue) is what actually admits the job.

	case wire.TypePong:
		// keepalive acknowledgement, nothing to do.
	}
}

// pushJobAssign sends a job_assign push to robotID's live wire connection,
// if any. Silent no-op when the robot isn't connected over WS.
func (e *Engine) pushJobAssign(job *domain.Job, robotID string) {
	e.mu.Lock()
	srv := e.wireServer
	e.mu.Unlock()
	if srv == nil {
		return
	}
	conn, ok := srv.Lookup(robotID)
	if !ok {
		return
	}
	msg, err := wire.Encode(wire.TypeJobAssign, time.Now().UTC(), wire.JobAssignPayload{
		JobID:        job.ID.String(),
		WorkflowName: job.WorkflowName,
		WorkflowJSON: job.WorkflowJSON,
		Priority:     job.Priority.String(),
	})
	if err != nil {
		return
	}
	conn.Send(msg)
}
