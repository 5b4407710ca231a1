package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yungbote/rpa-orchestrator/internal/claimstore"
	"github.com/yungbote/rpa-orchestrator/internal/config"
	"github.com/yungbote/rpa-orchestrator/internal/dispatcher"
	"github.com/yungbote/rpa-orchestrator/internal/domain"
	"github.com/yungbote/rpa-orchestrator/internal/logger"
	"github.com/yungbote/rpa-orchestrator/internal/queue"
	"github.com/yungbote/rpa-orchestrator/internal/realtime"
	"github.com/yungbote/rpa-orchestrator/internal/rpaerrors"
)

// newTestEngine builds an Engine by hand, the way New does, but against a
// sqlmock-backed claim store and an in-process bus instead of a live
// Postgres/Redis, so the facade methods can be exercised directly.
func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)

	q := queue.New(log, time.Hour)
	dsp := dispatcher.New(log, q, dispatcher.Config{Strategy: dispatcher.LeastLoaded})
	q.OnStateChange(func(job *domain.Job, from, to domain.JobStatus) {
		if to.IsTerminal() {
			dsp.ReleaseCapacity(job.RobotID)
		}
	})

	e := &Engine{
		Log:        log.With("component", "engine"),
		Cfg:        &config.Orchestrator{},
		Queue:      q,
		Dispatcher: dsp,
		Store:      claimstore.New(gdb, log),
		Bus:        realtime.NewInProcessBus(),
	}
	return e, mock
}

func TestSubmitJobPersistsAndEnqueues(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "job_queue"`).WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectCommit()

	job, err := e.SubmitJob(SubmitJobInput{WorkflowID: "wf-1", WorkflowName: "demo", Priority: domain.PriorityNormal})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	got, ok := e.Queue.Get(job.ID)
	if !ok || got.Status != domain.JobQueued {
		t.Fatalf("expected submitted job to be QUEUED in memory, got %+v ok=%v", got, ok)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestCancelJobOnQueuedTransitionsImmediately(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "job_queue"`).WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectCommit()
	job, err := e.SubmitJob(SubmitJobInput{WorkflowID: "wf-1", WorkflowName: "demo"})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "job_queue" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := e.CancelJob(job.ID, "no longer needed"); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}

	got, _ := e.Queue.Get(job.ID)
	if got.Status != domain.JobCancelled {
		t.Fatalf("expected QUEUED job to cancel immediately, got status %s", got.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

// TestCancelJobOnRunningOnlyRequestsCooperatively is the regression test for
// cooperative cancellation: a RUNNING job must not flip to CANCELLED in
// memory purely from the cancel request. It only gets there once the
// robot's own acknowledgement comes back through routeWireMessage.
func TestCancelJobOnRunningOnlyRequestsCooperatively(t *testing.T) {
	e, _ := newTestEngine(t)

	job := &domain.Job{
		ID:         uuid.New(),
		WorkflowID: "wf-1",
		Status:     domain.JobRunning,
		RobotID:    "R1",
		CreatedAt:  time.Now().UTC(),
	}
	e.Queue.Put(job)

	received := make(chan realtime.ControlCommand, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Bus.StartForwarder(ctx, func(msg realtime.Message) {
		if msg.Channel != realtime.ChannelControl {
			return
		}
		var cmd realtime.ControlCommand
		if jsonErr := json.Unmarshal(msg.Data, &cmd); jsonErr == nil {
			received <- cmd
		}
	}); err != nil {
		t.Fatalf("StartForwarder: %v", err)
	}

	if err := e.CancelJob(job.ID, "graceful stop"); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}

	got, _ := e.Queue.Get(job.ID)
	if got.Status != domain.JobRunning {
		t.Fatalf("expected a RUNNING job to remain RUNNING until the robot acknowledges, got %s", got.Status)
	}

	select {
	case cmd := <-received:
		if cmd.Command != "cancel_job" || cmd.RobotID != "R1" || cmd.JobID != job.ID.String() {
			t.Fatalf("unexpected control command: %+v", cmd)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a cancel_job control command to be published")
	}
}

func TestCancelJobRunningWithoutRobotFails(t *testing.T) {
	e, _ := newTestEngine(t)
	job := &domain.Job{ID: uuid.New(), WorkflowID: "wf-1", Status: domain.JobRunning, CreatedAt: time.Now().UTC()}
	e.Queue.Put(job)

	err := e.CancelJob(job.ID, "x")
	if !rpaerrors.Is(err, rpaerrors.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for a RUNNING job with no assigned robot, got %v", err)
	}
}

func TestCancelJobNotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.CancelJob(uuid.New(), "x"); !rpaerrors.Is(err, rpaerrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRetryJobCopiesWorkflowFields(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "job_queue"`).WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectCommit()
	orig, err := e.SubmitJob(SubmitJobInput{WorkflowID: "wf-1", WorkflowName: "demo", Priority: domain.PriorityHigh})
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	orig.RetryCount = 2
	e.Queue.Put(orig)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "job_queue"`).WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectCommit()
	retry, err := e.RetryJob(orig.ID)
	if err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	if retry.WorkflowID != orig.WorkflowID || retry.Priority != orig.Priority {
		t.Fatalf("expected retry to copy workflow fields from %+v, got %+v", orig, retry)
	}
	if retry.RetryCount != orig.RetryCount+1 {
		t.Fatalf("expected retry count to increment from %d, got %d", orig.RetryCount, retry.RetryCount)
	}
	if retry.ID == orig.ID {
		t.Fatal("expected retry to be a new job id")
	}
}

// TestReleaseCapacityFiresOnTerminalTransition covers the invariant at the
// center of capacity accounting: completing a dispatched job must free the
// assignee's slot so the next dispatch tick can use it.
func TestReleaseCapacityFiresOnTerminalTransition(t *testing.T) {
	e, _ := newTestEngine(t)
	// CurrentJobs: 1 stands in for what DispatchTick would have recorded when
	// it assigned this job to the robot.
	e.Dispatcher.RegisterRobot(&domain.Robot{ID: "R1", Status: domain.RobotOnline, MaxConcurrentJobs: 1, CurrentJobs: 1})

	job := &domain.Job{ID: uuid.New(), WorkflowID: "wf-1", Status: domain.JobRunning, RobotID: "R1", CreatedAt: time.Now().UTC()}
	e.Queue.Put(job)

	if ok, msg := e.Queue.Complete(job.ID, []byte(`{}`)); !ok {
		t.Fatalf("Complete failed: %s", msg)
	}

	robot, ok := e.Dispatcher.GetRobot("R1")
	if !ok {
		t.Fatal("expected robot to still be registered")
	}
	if robot.CurrentJobs != 0 {
		t.Fatalf("expected capacity to be released on completion, got CurrentJobs=%d", robot.CurrentJobs)
	}
}
