package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/rpa-orchestrator/internal/logger"
)

// RedisBus is the distributed Bus implementation, grounded on the teacher's
// internal/realtime/bus/redis_bus.go, generalized from a single "sse"
// channel to the three channels spec.md §4.6 names (all multiplexed over
// one Redis pub/sub channel, demultiplexed on Message.Channel).
type RedisBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

// NewRedisBus dials addr and pings it with a 5s timeout before returning.
func NewRedisBus(ctx context.Context, log *logger.Logger, addr, channel string) (*RedisBus, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis bus: addr required")
	}
	if channel == "" {
		channel = "rpa"
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr, DialTimeout: 5 * time.Second})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisBus{log: log.With("component", "realtime.redis_bus"), rdb: rdb, channel: channel}, nil
}

func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *RedisBus) StartForwarder(ctx context.Context, onMsg func(Message)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					b.log.Warn("bad realtime payload", "error", err)
					continue
				}
				onMsg(msg)
			}
		}
	}()
	return nil
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
