package queue

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/rpa-orchestrator/internal/domain"
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

func newJob(priority domain.Priority, createdAt time.Time) *domain.Job {
	return &domain.Job{
		ID:         uuid.New(),
		WorkflowID: "W",
		Priority:   priority,
		CreatedAt:  createdAt,
	}
}

func TestEnqueueDedupRejectsWithinWindow(t *testing.T) {
	q := New(mustTestLogger(t), 300*time.Second)

	j1 := newJob(domain.PriorityNormal, time.Now())
	j1.DedupFingerprint = Fingerprint("W", map[string]interface{}{"x": 1})
	if ok, _ := q.Enqueue(j1, true); !ok {
		t.Fatalf("expected first enqueue to succeed")
	}

	j2 := newJob(domain.PriorityNormal, time.Now())
	j2.DedupFingerprint = Fingerprint("W", map[string]interface{}{"x": 1})
	if ok, msg := q.Enqueue(j2, true); ok {
		t.Fatalf("expected duplicate rejection, got ok with msg %q", msg)
	}

	q.Dequeue(&domain.Robot{ID: "R1"}, nil)
	if ok, _ := q.Complete(j1.ID, nil); !ok {
		t.Fatalf("complete should succeed")
	}

	j3 := newJob(domain.PriorityNormal, time.Now())
	j3.DedupFingerprint = Fingerprint("W", map[string]interface{}{"x": 1})
	if ok, msg := q.Enqueue(j3, true); !ok {
		t.Fatalf("expected enqueue after terminal to succeed, got %q", msg)
	}
}

func TestDequeuePriorityThenFIFO(t *testing.T) {
	q := New(mustTestLogger(t), 300*time.Second)
	base := time.Now()

	jNormal := newJob(domain.PriorityNormal, base)
	jHigh := newJob(domain.PriorityHigh, base.Add(time.Millisecond))
	jCritical := newJob(domain.PriorityCritical, base.Add(2*time.Millisecond))
	jNormalLater := newJob(domain.PriorityNormal, base.Add(3*time.Millisecond))

	for _, j := range []*domain.Job{jNormalLater, jNormal, jHigh, jCritical} {
		if ok, msg := q.Enqueue(j, false); !ok {
			t.Fatalf("enqueue failed: %s", msg)
		}
	}

	robot := &domain.Robot{ID: "R1"}

	first := q.Dequeue(robot, nil)
	if first == nil || first.ID != jCritical.ID {
		t.Fatalf("expected CRITICAL job first, got %+v", first)
	}
	if ok, _ := q.Complete(first.ID, nil); !ok {
		t.Fatalf("complete should succeed")
	}

	second := q.Dequeue(robot, nil)
	if second == nil || second.ID != jHigh.ID {
		t.Fatalf("expected HIGH job second, got %+v", second)
	}
	if ok, _ := q.Complete(second.ID, nil); !ok {
		t.Fatalf("complete should succeed")
	}

	third := q.Dequeue(robot, nil)
	if third == nil || third.ID != jNormal.ID {
		t.Fatalf("expected earlier NORMAL job third (FIFO within a priority), got %+v", third)
	}
}

func TestTargetedJobInvisibleToOtherRobots(t *testing.T) {
	q := New(mustTestLogger(t), 300*time.Second)
	j := newJob(domain.PriorityNormal, time.Now())
	j.RobotID = "R2"
	if ok, _ := q.Enqueue(j, false); !ok {
		t.Fatalf("enqueue failed")
	}

	r1 := &domain.Robot{ID: "R1"}
	if got := q.Dequeue(r1, nil); got != nil {
		t.Fatalf("R1 should not see job targeted at R2, got %+v", got)
	}

	r2 := &domain.Robot{ID: "R2"}
	if got := q.Dequeue(r2, nil); got == nil || got.ID != j.ID {
		t.Fatalf("R2 should claim its targeted job")
	}
}

func TestFinalizeIsMonotonic(t *testing.T) {
	q := New(mustTestLogger(t), 300*time.Second)
	j := newJob(domain.PriorityNormal, time.Now())
	q.Enqueue(j, false)
	q.Dequeue(&domain.Robot{ID: "R1"}, nil)

	if ok, _ := q.Complete(j.ID, nil); !ok {
		t.Fatalf("first complete should succeed")
	}
	if ok, msg := q.Fail(j.ID, "late failure"); ok {
		t.Fatalf("second terminal transition must be rejected, got ok with %q", msg)
	}
}

func TestUpdateProgressIdempotentAndBounded(t *testing.T) {
	q := New(mustTestLogger(t), 300*time.Second)
	j := newJob(domain.PriorityNormal, time.Now())
	q.Enqueue(j, false)
	q.Dequeue(&domain.Robot{ID: "R1"}, nil)

	q.UpdateProgress(j.ID, 150, "node-a")
	got, _ := q.Get(j.ID)
	if got.Progress != 100 {
		t.Fatalf("expected progress clamped to 100, got %d", got.Progress)
	}

	q.UpdateProgress(j.ID, 50, "node-b")
	q.UpdateProgress(j.ID, 50, "node-b")
	got, _ = q.Get(j.ID)
	if got.Progress != 50 || got.CurrentNode != "node-b" {
		t.Fatalf("expected idempotent progress 50/node-b, got %d/%s", got.Progress, got.CurrentNode)
	}
}

func TestCheckTimeouts(t *testing.T) {
	q := New(mustTestLogger(t), 300*time.Second)
	j := newJob(domain.PriorityNormal, time.Now())
	j.VisibilityTTL = 10 * time.Millisecond
	q.Enqueue(j, false)
	q.Dequeue(&domain.Robot{ID: "R1"}, nil)

	time.Sleep(20 * time.Millisecond)
	expired := q.CheckTimeouts(time.Now(), time.Hour)
	if len(expired) != 1 || expired[0] != j.ID {
		t.Fatalf("expected job to time out, got %+v", expired)
	}
	got, _ := q.Get(j.ID)
	if got.Status != domain.JobTimeout {
		t.Fatalf("expected TIMEOUT status, got %s", got.Status)
	}
}
