package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestInProcessBusDeliversOrderedMessages(t *testing.T) {
	bus := NewInProcessBus()
	defer bus.Close()

	received := make(chan Message, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := bus.StartForwarder(ctx, func(m Message) { received <- m }); err != nil {
		t.Fatalf("StartForwarder: %v", err)
	}

	first, _ := encode(ChannelJobs, "job_inserted", JobsHint{JobID: "j1"})
	second, _ := encode(ChannelJobs, "job_inserted", JobsHint{JobID: "j2"})
	if err := bus.Publish(ctx, first); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := bus.Publish(ctx, second); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got1 := recv(t, received)
	got2 := recv(t, received)

	var h1, h2 JobsHint
	_ = json.Unmarshal(got1.Data, &h1)
	_ = json.Unmarshal(got2.Data, &h2)
	if h1.JobID != "j1" || h2.JobID != "j2" {
		t.Fatalf("expected ordered delivery j1 then j2, got %s then %s", h1.JobID, h2.JobID)
	}
}

func TestInProcessBusCloseStopsPublish(t *testing.T) {
	bus := NewInProcessBus()
	ctx := context.Background()
	received := make(chan Message, 1)
	_ = bus.StartForwarder(ctx, func(m Message) { received <- m })

	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	msg, _ := encode(ChannelControl, "shutdown", ControlCommand{Command: "shutdown"})
	if err := bus.Publish(ctx, msg); err != nil {
		t.Fatalf("publish after close should be a no-op, not an error: %v", err)
	}
	select {
	case <-received:
		t.Fatalf("expected no delivery after Close")
	case <-time.After(50 * time.Millisecond):
	}
}

func recv(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message")
	}
	return Message{}
}
