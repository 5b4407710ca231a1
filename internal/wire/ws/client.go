package ws

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yungbote/rpa-orchestrator/internal/logger"
)

// Client is the robot-side WS dialer with reconnect backoff, used as the
// push/notification half of the robot agent alongside its direct claim
// store access.
type Client struct {
	url       string
	header    http.Header
	tlsConfig *tls.Config
	log       *logger.Logger

	reconnectDelay      time.Duration
	reconnectMultiplier float64
	maxReconnectDelay   time.Duration
}

// ClientConfig configures a Client's dial target and reconnect schedule.
type ClientConfig struct {
	URL                 string
	Header              http.Header
	TLSConfig           *tls.Config
	ReconnectDelay      time.Duration
	ReconnectMultiplier float64
	MaxReconnectDelay   time.Duration
}

// NewClient builds a Client from cfg, filling in sane defaults for any zero
// reconnect knobs.
func NewClient(cfg ClientConfig, log *logger.Logger) *Client {
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = time.Second
	}
	mult := cfg.ReconnectMultiplier
	if mult <= 1 {
		mult = 2.0
	}
	maxDelay := cfg.MaxReconnectDelay
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}
	return &Client{
		url:                 cfg.URL,
		header:              cfg.Header,
		tlsConfig:           cfg.TLSConfig,
		log:                 log.With("component", "wire.ws.client"),
		reconnectDelay:      delay,
		reconnectMultiplier: mult,
		maxReconnectDelay:   maxDelay,
	}
}

// Run dials the orchestrator and calls onConn with the established Conn for
// each successful connection, reconnecting with exponential backoff until
// ctx is cancelled. onConn should block until the connection is done (e.g.
// by ranging over conn.Inbox).
func (c *Client) Run(ctx context.Context, onConn func(ctx context.Context, conn *Conn)) {
	delay := c.reconnectDelay
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig:  c.tlsConfig,
	}

	for {
		if ctx.Err() != nil {
			return
		}
		raw, _, err := dialer.DialContext(ctx, c.url, c.header)
		if err != nil {
			c.log.Warn("wire dial failed, backing off", "error", err, "delay", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.reconnectMultiplier)
			if delay > c.maxReconnectDelay {
				delay = c.maxReconnectDelay
			}
			continue
		}

		delay = c.reconnectDelay
		conn := NewConn(ctx, raw, c.log)
		onConn(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
	}
}
