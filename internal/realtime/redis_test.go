package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/yungbote/rpa-orchestrator/internal/logger"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

func TestRedisBusPublishSubscribeRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	defer mr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus, err := NewRedisBus(ctx, mustTestLogger(t), mr.Addr(), "rpa-test")
	if err != nil {
		t.Fatalf("NewRedisBus: %v", err)
	}
	defer bus.Close()

	received := make(chan Message, 1)
	if err := bus.StartForwarder(ctx, func(m Message) { received <- m }); err != nil {
		t.Fatalf("StartForwarder: %v", err)
	}

	// give the subscription goroutine a moment to attach before publishing.
	time.Sleep(20 * time.Millisecond)

	msg, err := encode(ChannelPresence, "presence", Presence{RobotID: "R1", Status: "ONLINE"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := bus.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-received:
		var p Presence
		if err := json.Unmarshal(got.Data, &p); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if p.RobotID != "R1" {
			t.Fatalf("expected robot_id R1, got %q", p.RobotID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for forwarded message")
	}
}
