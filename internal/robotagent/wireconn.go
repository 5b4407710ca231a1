package robotagent

import (
	"time"

	"github.com/yungbote/rpa-orchestrator/internal/wire"
)

// wireConn is the subset of *ws.Conn the agent needs to push lifecycle
// acknowledgements back to the orchestrator. Narrowed to an interface so
// tests can inject a fake without a live WebSocket.
type wireConn interface {
	Send(msg []byte)
}

// SetWireConn attaches the live wire connection used to push job_progress/
// job_complete/job_failed/job_cancelled acknowledgements. Pass nil when the
// connection drops; the claim loop keeps settling against the durable store
// either way, since the wire channel is advisory, not authoritative.
func (a *Agent) SetWireConn(conn wireConn) {
	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
}

func (a *Agent) sendWire(typ wire.Type, payload interface{}) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return
	}
	raw, err := wire.Encode(typ, time.Now().UTC(), payload)
	if err != nil {
		a.log.Warn("wire encode failed", "type", typ, "error", err)
		return
	}
	conn.Send(raw)
}
