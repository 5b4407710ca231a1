package dispatcher

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/rpa-orchestrator/internal/domain"
	"github.com/yungbote/rpa-orchestrator/internal/logger"
	"github.com/yungbote/rpa-orchestrator/internal/queue"
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

func TestLeastLoadedTieBreaksByHeartbeat(t *testing.T) {
	log := mustTestLogger(t)
	q := queue.New(log, 300*time.Second)
	d := New(log, q, Config{Strategy: LeastLoaded, StaleTimeout: time.Minute})

	now := time.Now().UTC()
	r1 := &domain.Robot{ID: "R1", Status: domain.RobotOnline, MaxConcurrentJobs: 2, CurrentJobs: 1, LastHeartbeat: now.Add(-5 * time.Second)}
	r2 := &domain.Robot{ID: "R2", Status: domain.RobotOnline, MaxConcurrentJobs: 2, CurrentJobs: 1, LastHeartbeat: now.Add(-1 * time.Second)}
	d.RegisterRobot(r1)
	d.RegisterRobot(r2)

	job := &domain.Job{ID: uuid.New(), WorkflowID: "W"}
	picked, ok := d.Select(job)
	if !ok {
		t.Fatalf("expected a candidate")
	}
	if picked.ID != "R1" {
		t.Fatalf("expected tie-break to prefer earlier (more recently proven alive doesn't mean largest) heartbeat R1, got %s", picked.ID)
	}
}

func TestTargetedRobotUnavailableYieldsNoCandidate(t *testing.T) {
	log := mustTestLogger(t)
	q := queue.New(log, 300*time.Second)
	d := New(log, q, Config{StaleTimeout: time.Minute})

	r2 := &domain.Robot{ID: "R2", Status: domain.RobotOffline, MaxConcurrentJobs: 1}
	d.RegisterRobot(r2)

	job := &domain.Job{ID: uuid.New(), WorkflowID: "W", RobotID: "R2"}
	if _, ok := d.Select(job); ok {
		t.Fatalf("expected no candidate when targeted robot is unavailable")
	}
}

func TestAffinityFallsBackToLeastLoaded(t *testing.T) {
	log := mustTestLogger(t)
	q := queue.New(log, 300*time.Second)
	d := New(log, q, Config{Strategy: Affinity, StaleTimeout: time.Minute})

	now := time.Now().UTC()
	r1 := &domain.Robot{ID: "R1", Status: domain.RobotOnline, MaxConcurrentJobs: 2, CurrentJobs: 0, LastHeartbeat: now}
	d.RegisterRobot(r1)

	job := &domain.Job{ID: uuid.New(), WorkflowID: "W"}
	picked, ok := d.Select(job)
	if !ok || picked.ID != "R1" {
		t.Fatalf("expected fallback to least-loaded when no affinity recorded")
	}
}

func TestHealthTickMarksStaleRobotsOffline(t *testing.T) {
	log := mustTestLogger(t)
	q := queue.New(log, 300*time.Second)
	d := New(log, q, Config{StaleTimeout: 10 * time.Millisecond})

	r1 := &domain.Robot{ID: "R1", Status: domain.RobotOnline, MaxConcurrentJobs: 1, LastHeartbeat: time.Now().UTC().Add(-time.Second)}
	d.RegisterRobot(r1)

	d.HealthTick()
	got, _ := d.GetRobot("R1")
	if got.Status != domain.RobotOffline {
		t.Fatalf("expected robot to be marked OFFLINE, got %s", got.Status)
	}
}
