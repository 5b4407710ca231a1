// Package ws implements the gorilla/websocket transport for the Robot ↔
// Orchestrator wire protocol (spec.md §6), following the standard
// gorilla read-pump/write-pump goroutine pair per connection.
package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yungbote/rpa-orchestrator/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 1 << 20 // 1MB
)

// Conn wraps a *websocket.Conn with buffered send/receive channels and the
// read/write pump goroutines that keep the socket alive.
type Conn struct {
	raw    *websocket.Conn
	log    *logger.Logger
	send   chan []byte
	Inbox  chan []byte
	closed chan struct{}
}

// NewConn starts the read and write pumps for raw and returns a Conn. The
// caller must call Close when done; pumps exit on read error or ctx.Done.
func NewConn(ctx context.Context, raw *websocket.Conn, log *logger.Logger) *Conn {
	c := &Conn{
		raw:    raw,
		log:    log.With("component", "wire.ws"),
		send:   make(chan []byte, 64),
		Inbox:  make(chan []byte, 64),
		closed: make(chan struct{}),
	}
	go c.readPump(ctx)
	go c.writePump(ctx)
	return c
}

// Send enqueues a message for the write pump. Non-blocking: a full send
// buffer drops the message and logs, mirroring the realtime bus's
// advisory-delivery policy.
func (c *Conn) Send(msg []byte) {
	select {
	case c.send <- msg:
	case <-c.closed:
	default:
		c.log.Warn("wire send buffer full, dropping message")
	}
}

// Close terminates both pumps and the underlying connection.
func (c *Conn) Close() {
	select {
	case <-c.closed:
		return
	default:
		close(c.closed)
	}
	_ = c.raw.Close()
}

func (c *Conn) readPump(ctx context.Context) {
	defer c.Close()
	defer close(c.Inbox)

	c.raw.SetReadLimit(maxMessageSize)
	_ = c.raw.SetReadDeadline(time.Now().Add(pongWait))
	c.raw.SetPongHandler(func(string) error {
		_ = c.raw.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.raw.ReadMessage()
		if err != nil {
			c.log.Debug("wire connection closed on read", "error", err)
			return
		}
		select {
		case c.Inbox <- msg:
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		}
	}
}

func (c *Conn) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case msg, ok := <-c.send:
			_ = c.raw.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.raw.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.raw.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug("wire write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.raw.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.raw.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
