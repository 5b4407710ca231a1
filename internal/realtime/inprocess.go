package realtime

import (
	"context"
	"sync"
)

// InProcessBus is an in-memory fan-out implementation of Bus used for
// poll-only mode (no REDIS_ADDR configured) and for tests. It is grounded on
// the teacher's internal/sse.SSEHub in-process subscription fan-out, reduced
// to Bus's narrower Publish/StartForwarder/Close contract.
type InProcessBus struct {
	mu          sync.Mutex
	subscribers []chan Message
	closed      bool
}

// NewInProcessBus constructs an empty in-process bus.
func NewInProcessBus() *InProcessBus {
	return &InProcessBus{}
}

// Publish fans msg out to every active StartForwarder subscriber,
// non-blocking (a slow subscriber drops the message rather than stalling
// the publisher).
func (b *InProcessBus) Publish(_ context.Context, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// StartForwarder registers onMsg to receive every subsequent Publish call
// until ctx is cancelled or Close is called.
func (b *InProcessBus) StartForwarder(ctx context.Context, onMsg func(Message)) error {
	ch := make(chan Message, 64)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				onMsg(msg)
			}
		}
	}()
	return nil
}

// Close stops accepting new publishes. Existing forwarder goroutines exit
// when their context is cancelled.
func (b *InProcessBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subscribers = nil
	return nil
}
