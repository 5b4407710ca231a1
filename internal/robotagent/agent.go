package robotagent

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/yungbote/rpa-orchestrator/internal/claimstore"
	"github.com/yungbote/rpa-orchestrator/internal/config"
	"github.com/yungbote/rpa-orchestrator/internal/domain"
	"github.com/yungbote/rpa-orchestrator/internal/logger"
	"github.com/yungbote/rpa-orchestrator/internal/realtime"
	"github.com/yungbote/rpa-orchestrator/internal/rpaerrors"
)

// LifecycleState is the agent's own process-level state machine (spec.md
// §4.5): STOPPED -> STARTING -> RUNNING -> SHUTTING_DOWN -> STOPPED.
type LifecycleState string

const (
	StateStopped      LifecycleState = "STOPPED"
	StateStarting     LifecycleState = "STARTING"
	StateRunning      LifecycleState = "RUNNING"
	StateShuttingDown LifecycleState = "SHUTTING_DOWN"
)

// Affinity advertises that a workflow's external state is tied to this
// robot (spec.md "State Affinity (optional)").
type Affinity struct {
	WorkflowID string
	RobotID    string
	ExpiresAt  time.Time
	StateKeys  []string
}

type inFlightJob struct {
	job        domain.Job
	generation int64
	cancel     chan struct{}
	cancelOnce sync.Once
}

// Agent is the per-worker process coordinating claim/heartbeat/presence
// loops and job execution.
type Agent struct {
	cfg   *config.Robot
	log   *logger.Logger
	store Store
	bus   realtime.Bus
	reg   *Registry

	mu          sync.Mutex
	state       LifecycleState
	inflight    map[string]*inFlightJob
	affinities  map[string]Affinity // workflow_id -> affinity
	notifyHint  chan struct{}
	cancelFlags map[string]bool // control-channel cancel requests not yet claimed
	conn        wireConn         // live WS connection, if any; nil means poll-only
}

// New constructs an Agent. bus may be a realtime.InProcessBus
// (realtime.NewInProcessBus) with no forwarder wired to a remote source to
// run in poll-only mode.
func New(cfg *config.Robot, log *logger.Logger, store Store, bus realtime.Bus, reg *Registry) *Agent {
	return &Agent{
		cfg:         cfg,
		log:         log.With("component", "robotagent", "robot_id", cfg.RobotID),
		store:       store,
		bus:         bus,
		reg:         reg,
		state:       StateStopped,
		inflight:    make(map[string]*inFlightJob),
		affinities:  make(map[string]Affinity),
		notifyHint:  make(chan struct{}, 1),
		cancelFlags: make(map[string]bool),
	}
}

func (a *Agent) setState(s LifecycleState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	a.log.Info("robot agent lifecycle transition", "state", s)
}

// State returns the current lifecycle state.
func (a *Agent) State() LifecycleState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) currentJobCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inflight)
}

// Run executes the full startup sequence (spec.md §4.5) and blocks until
// ctx is cancelled, then performs graceful shutdown.
func (a *Agent) Run(ctx context.Context) error {
	a.setState(StateStarting)

	if err := a.upsertRobotRow(ctx); err != nil {
		return rpaerrors.Wrap("Agent.Run", rpaerrors.ErrConfiguration, err)
	}

	if a.bus != nil {
		if err := a.bus.StartForwarder(ctx, a.onRealtimeMessage); err != nil {
			a.log.Warn("realtime forwarder unavailable, continuing in poll-only mode", "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	a.setState(StateRunning)

	g.Go(func() error { return a.claimLoop(gctx) })
	g.Go(func() error { return a.heartbeatLoop(gctx) })
	g.Go(func() error { return a.presenceLoop(gctx) })

	err := g.Wait()

	a.setState(StateShuttingDown)
	a.gracefulShutdown(context.Background())
	a.setState(StateStopped)

	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func (a *Agent) upsertRobotRow(ctx context.Context) error {
	db := a.store.DB()
	caps, _ := json.Marshal(a.cfg.Capabilities)
	row := claimstore.RobotRow{
		RobotID:      a.cfg.RobotID,
		Hostname:     a.cfg.RobotName,
		Capabilities: datatypes.JSON(caps),
		Status:       string(domain.RobotOnline),
		RegisteredAt: time.Now().UTC(),
		LastSeen:     time.Now().UTC(),
	}
	return db.WithContext(ctx).Save(&row).Error
}

// onRealtimeMessage handles control-channel commands (spec.md §4.5.3) and
// jobs-channel wake-up hints.
func (a *Agent) onRealtimeMessage(msg realtime.Message) {
	switch msg.Channel {
	case realtime.ChannelJobs:
		select {
		case a.notifyHint <- struct{}{}:
		default:
		}
	case realtime.ChannelControl:
		var cmd realtime.ControlCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			return
		}
		if cmd.RobotID != "" && cmd.RobotID != a.cfg.RobotID {
			return
		}
		if cmd.Command == "cancel_job" && cmd.JobID != "" {
			a.requestCancel(cmd.JobID)
		}
	}
}

func (a *Agent) requestCancel(jobID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if job, ok := a.inflight[jobID]; ok {
		job.cancelOnce.Do(func() { close(job.cancel) })
		return
	}
	// Not claimed yet: remember so a not-yet-started job is simply never
	// claimed (spec.md §4.5.3).
	a.cancelFlags[jobID] = true
}

func (a *Agent) consumeCancelFlag(jobID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancelFlags[jobID] {
		delete(a.cancelFlags, jobID)
		return true
	}
	return false
}

// AdvertiseAffinity records a workflow->robot state affinity.
func (a *Agent) AdvertiseAffinity(aff Affinity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.affinities[aff.WorkflowID] = aff
}

func (a *Agent) affinityConflict(workflowID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	aff, ok := a.affinities[workflowID]
	if !ok || aff.RobotID == a.cfg.RobotID || time.Now().After(aff.ExpiresAt) {
		return "", false
	}
	return aff.RobotID, true
}

