package scheduler

import (
	"testing"
	"time"

	"github.com/robfig/cron/v3"

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

func TestNextRunMatchesWhatAddProduced(t *testing.T) {
	s := New(mustTestLogger(t), func(*domain.Schedule) bool { return true })
	sched := &domain.Schedule{ID: "s1", Frequency: domain.FrequencyCron, CronExpression: "*/1 * * * *", Enabled: true}
	if err := s.Add(sched); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if sched.NextRun == nil {
		t.Fatalf("expected NextRun to be set after Add")
	}
	addNext := *sched.NextRun

	recomputed := NextRunAfter(sched, mustParse(t, "*/1 * * * *"), addNext.Add(-time.Minute))
	if !recomputed.Equal(addNext) {
		t.Fatalf("NextRunAfter should reproduce Add's computation: got %v want %v", recomputed, addNext)
	}
}

func mustParse(t *testing.T, expr string) cron.Schedule {
	t.Helper()
	cs, err := cronParser.Parse(expr)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return cs
}

func TestInvalidCronArityRejected(t *testing.T) {
	s := New(mustTestLogger(t), nil)
	sched := &domain.Schedule{ID: "bad", Frequency: domain.FrequencyCron, CronExpression: "* * * *", Enabled: true}
	if err := s.Add(sched); err == nil {
		t.Fatalf("expected configuration error for bad arity cron expression")
	}
}

func TestFireIncrementsSuccessOnlyOnTrue(t *testing.T) {
	calls := 0
	s := New(mustTestLogger(t), func(*domain.Schedule) bool {
		calls++
		return calls == 1
	})
	sched := &domain.Schedule{ID: "once", Frequency: domain.FrequencyOnce, Enabled: true}
	sched.NextRun = timePtr(time.Now().Add(-time.Second))
	if err := s.Add(sched); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.tick(time.Now())
	if sched.RunCount != 1 || sched.SuccessCount != 1 {
		t.Fatalf("expected run=1 success=1, got run=%d success=%d", sched.RunCount, sched.SuccessCount)
	}
	if sched.Enabled {
		t.Fatalf("ONCE schedule should disable itself after firing")
	}

	failing := &domain.Schedule{ID: "once-fail", Frequency: domain.FrequencyOnce, Enabled: true}
	failing.NextRun = timePtr(time.Now().Add(-time.Second))
	if err := s.Add(failing); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.tick(time.Now())
	if failing.RunCount != 1 || failing.SuccessCount != 0 {
		t.Fatalf("expected run=1 success=0 for a false trigger, got run=%d success=%d", failing.RunCount, failing.SuccessCount)
	}
}

func timePtr(t time.Time) *time.Time { return &t }
