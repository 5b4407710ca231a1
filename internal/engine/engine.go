// Package engine is the Orchestrator Engine facade from spec.md §4.7: it
// owns the lifecycle of the queue, dispatcher, scheduler, claim store, and
// realtime bus, wiring them together the way the teacher's internal/app.App
// wires its repos/services/router (New builds everything, Start launches
// background loops, Close cancels and drains).
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/rpa-orchestrator/internal/claimstore"
	"github.com/yungbote/rpa-orchestrator/internal/config"
	"github.com/yungbote/rpa-orchestrator/internal/db"
	"github.com/yungbote/rpa-orchestrator/internal/dispatcher"
	"github.com/yungbote/rpa-orchestrator/internal/domain"
	"github.com/yungbote/rpa-orchestrator/internal/logger"
	"github.com/yungbote/rpa-orchestrator/internal/queue"
	"github.com/yungbote/rpa-orchestrator/internal/realtime"
	"github.com/yungbote/rpa-orchestrator/internal/scheduler"
	"github.com/yungbote/rpa-orchestrator/internal/wire/ws"
)

// Engine is the orchestrator process's top-level facade.
type Engine struct {
	Log        *logger.Logger
	Cfg        *config.Orchestrator
	Queue      *queue.Queue
	Dispatcher *dispatcher.Dispatcher
	Scheduler  *scheduler.Scheduler
	Store      *claimstore.Store
	Bus        realtime.Bus

	mu         sync.Mutex
	cancel     context.CancelFunc
	group      *errgroup.Group
	wireServer *ws.Server
}

// New builds every component but does not start background loops; call
// Start for that. It reconnects to Postgres, auto-migrates the claim-store
// tables, and rebuilds the in-memory robot registry from the durable robots
// table (spec.md §5: persisted state is the source of truth across
// restarts). The in-memory queue is not rebuilt; it starts empty.
func New(cfg *config.Orchestrator, log *logger.Logger) (*Engine, error) {
	pg, err := db.NewPostgresService(cfg.PostgresURL, log)
	if err != nil {
		return nil, fmt.Errorf("engine: init postgres: %w", err)
	}
	store := claimstore.New(pg.DB(), log)
	if err := store.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("engine: automigrate: %w", err)
	}

	var bus realtime.Bus
	if cfg.RedisAddr != "" {
		rb, err := realtime.NewRedisBus(context.Background(), log, cfg.RedisAddr, cfg.RedisChannelPrefix)
		if err != nil {
			log.Warn("realtime bus unavailable at startup, continuing in poll-only mode", "error", err)
			bus = realtime.NewInProcessBus()
		} else {
			bus = rb
		}
	} else {
		bus = realtime.NewInProcessBus()
	}

	q := queue.New(log, cfg.DedupWindow)
	dsp := dispatcher.New(log, q, dispatcher.Config{
		Strategy:            dispatcher.LeastLoaded,
		DispatchInterval:    cfg.DispatchInterval,
		HealthCheckInterval: cfg.HealthCheckInterval,
		StaleTimeout:        cfg.StaleTimeout,
	})
	// Every terminal transition (COMPLETED/FAILED/CANCELLED/TIMEOUT), however
	// it's reached — a wire ack, a timeout sweep, an immediate cancel — frees
	// the assignee's dispatch capacity exactly once (spec.md invariant:
	// current_jobs <= max_concurrent_jobs).
	q.OnStateChange(func(job *domain.Job, from, to domain.JobStatus) {
		if to.IsTerminal() {
			dsp.ReleaseCapacity(job.RobotID)
		}
	})

	e := &Engine{
		Log:        log.With("component", "engine"),
		Cfg:        cfg,
		Queue:      q,
		Dispatcher: dsp,
		Store:      store,
		Bus:        bus,
	}
	e.Scheduler = scheduler.New(log, e.onScheduleTrigger)
	dsp.OnDispatched(e.onJobDispatched)

	if err := e.rebuildFromDurableState(context.Background()); err != nil {
		return nil, fmt.Errorf("engine: rebuild state: %w", err)
	}
	return e, nil
}

func (e *Engine) rebuildFromDurableState(ctx context.Context) error {
	var rows []claimstore.RobotRow
	if err := e.Store.DB().WithContext(ctx).Find(&rows).Error; err != nil {
		return err
	}
	for _, row := range rows {
		e.Dispatcher.RegisterRobot(&domain.Robot{
			ID:     row.RobotID,
			Name:   row.Hostname,
			Status: domain.RobotStatus(row.Status),
		})
	}
	return nil
}

// Start launches the dispatcher's dispatch/health loops, the scheduler, and
// the engine's own due-marking bridge and timeout ticks under one errgroup,
// mirroring the teacher's App.Start.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	e.group = g
	e.mu.Unlock()

	g.Go(func() error { return e.Dispatcher.Run(gctx) })
	g.Go(func() error { e.Scheduler.Start(); <-gctx.Done(); e.Scheduler.Stop(); return nil })
	g.Go(func() error { return e.bridgeLoop(gctx) })
	g.Go(func() error { return e.timeoutLoop(gctx) })
}

// bridgeLoop ticks once a second and marks PENDING jobs whose scheduled time
// has arrived as due (Queue.MarkDue). It claims nothing itself. This is the
// engine's own small tick beyond what the queue/dispatcher already run
// standalone.
func (e *Engine) bridgeLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			e.Queue.MarkDue(now)
		}
	}
}

func (e *Engine) timeoutLoop(ctx context.Context) error {
	interval := e.Cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			expired := e.Queue.CheckTimeouts(time.Now().UTC(), e.Cfg.JobTimeout)
			for _, id := range expired {
				// CheckTimeouts already transitioned the job to TIMEOUT under
				// the queue lock, which fired the OnStateChange callback
				// above and released the assignee's dispatch capacity.
				e.Log.Info("job timed out", "job_id", id)
			}
		}
	}
}

func (e *Engine) onJobDispatched(job *domain.Job, robot *domain.Robot) {
	e.Log.Debug("job dispatched", "job_id", job.ID, "robot_id", robot.ID)
	hint, err := realtime.NewJobsHintMessage(realtime.JobsHint{
		JobID:        job.ID.String(),
		WorkflowName: job.WorkflowName,
		Priority:     job.Priority.String(),
	})
	if err == nil {
		_ = e.Bus.Publish(context.Background(), hint)
	}
	e.pushJobAssign(job, robot.ID)
}

func (e *Engine) onScheduleTrigger(sched *domain.Schedule) bool {
	_, err := e.SubmitJob(SubmitJobInput{
		WorkflowID:     sched.WorkflowID,
		WorkflowName:   sched.WorkflowID,
		Priority:       sched.Priority,
		CheckDuplicate: true,
	})
	if err != nil {
		e.Log.Warn("schedule trigger failed to submit job", "schedule_id", sched.ID, "error", err)
		return false
	}
	return true
}

// Close cancels every background loop and waits for them to exit, then
// closes the realtime bus and flushes logs, mirroring the teacher's
// App.Close.
func (e *Engine) Close() {
	e.mu.Lock()
	cancel := e.cancel
	g := e.group
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if g != nil {
		_ = g.Wait()
	}
	if e.Bus != nil {
		_ = e.Bus.Close()
	}
	e.Log.Sync()
}
