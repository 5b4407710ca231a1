package wire

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTripFlattensPayload(t *testing.T) {
	ts := time.Unix(1700000000, 0).UTC()
	raw, err := Encode(TypeJobProgress, ts, JobProgressPayload{
		JobID:    "j1",
		RobotID:  "r1",
		Progress: 42,
		Message:  "processing node 3",
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Type != TypeJobProgress {
		t.Fatalf("expected type job_progress, got %s", env.Type)
	}
	if !env.Timestamp.Equal(ts) {
		t.Fatalf("expected timestamp %v, got %v", ts, env.Timestamp)
	}

	var payload JobProgressPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.JobID != "j1" || payload.Progress != 42 {
		t.Fatalf("unexpected payload after round trip: %+v", payload)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Fatalf("expected error decoding non-JSON input")
	}
}
