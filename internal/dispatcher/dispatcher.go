// Package dispatcher implements robot registry, pools, selection strategies,
// the dispatch/health loops, and affinity tracking from spec.md §4.3.
package dispatcher

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/rpa-orchestrator/internal/domain"
	"github.com/yungbote/rpa-orchestrator/internal/logger"
	"github.com/yungbote/rpa-orchestrator/internal/queue"
	"github.com/yungbote/rpa-orchestrator/internal/rpaerrors"
)

// Strategy selects a robot from a list of available candidates.
type Strategy string

const (
	RoundRobin  Strategy = "ROUND_ROBIN"
	LeastLoaded Strategy = "LEAST_LOADED"
	Random      Strategy = "RANDOM"
	Affinity    Strategy = "AFFINITY"
)

// DispatchedFunc fires after a job is successfully assigned to a robot.
type DispatchedFunc func(job *domain.Job, robot *domain.Robot)

// StatusChangedFunc fires when a robot's status changes (e.g. to OFFLINE on
// a stale heartbeat).
type StatusChangedFunc func(robot *domain.Robot, from, to domain.RobotStatus)

// Config controls the dispatch/health loop cadence and thresholds.
type Config struct {
	Strategy            Strategy
	DispatchInterval    time.Duration
	HealthCheckInterval time.Duration
	StaleTimeout        time.Duration
}

// Dispatcher owns the robot registry, pools, and affinity table.
type Dispatcher struct {
	mu     sync.Mutex
	log    *logger.Logger
	cfg    Config
	q      *queue.Queue
	robots map[string]*domain.Robot
	pools  map[string]*domain.RobotPool
	// affinity[workflowID][robotID] = success count.
	affinity map[string]map[string]int
	rrIndex  int

	onDispatched   DispatchedFunc
	onStatusChange StatusChangedFunc
}

// New constructs a Dispatcher bound to q for dequeuing.
func New(log *logger.Logger, q *queue.Queue, cfg Config) *Dispatcher {
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = 5 * time.Second
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = 60 * time.Second
	}
	if cfg.Strategy == "" {
		cfg.Strategy = LeastLoaded
	}
	return &Dispatcher{
		log:      log.With("component", "dispatcher"),
		cfg:      cfg,
		q:        q,
		robots:   make(map[string]*domain.Robot),
		pools:    make(map[string]*domain.RobotPool),
		affinity: make(map[string]map[string]int),
	}
}

// OnDispatched registers the dispatch-success callback.
func (d *Dispatcher) OnDispatched(fn DispatchedFunc) { d.onDispatched = fn }

// OnStatusChange registers the robot status-change callback.
func (d *Dispatcher) OnStatusChange(fn StatusChangedFunc) { d.onStatusChange = fn }

// RegisterRobot adds or replaces a robot in the registry, defaulting status
// to ONLINE and an unset last_heartbeat/last_seen to now.
func (d *Dispatcher) RegisterRobot(r *domain.Robot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r.Status == "" {
		r.Status = domain.RobotOnline
	}
	now := time.Now().UTC()
	if r.LastHeartbeat.IsZero() {
		r.LastHeartbeat = now
	}
	if r.LastSeen.IsZero() {
		r.LastSeen = now
	}
	d.robots[r.ID] = r
}

// AddPool registers a robot pool.
func (d *Dispatcher) AddPool(p *domain.RobotPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pools[p.Name] = p
}

// UpdateHeartbeat sets last_heartbeat/last_seen to now and, if the robot had
// gone OFFLINE, restores it to ONLINE.
func (d *Dispatcher) UpdateHeartbeat(robotID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.robots[robotID]
	if !ok {
		return rpaerrors.Wrap("UpdateHeartbeat", rpaerrors.ErrNotFound, nil)
	}
	now := time.Now().UTC()
	r.LastHeartbeat = now
	r.LastSeen = now
	if r.Status == domain.RobotOffline {
		from := r.Status
		r.Status = domain.RobotOnline
		d.fireStatusChange(r, from, r.Status)
	}
	return nil
}

// UpdateStatus sets a robot's status directly (e.g. from an explicit API
// call), firing the status-change callback on any change.
func (d *Dispatcher) UpdateStatus(robotID string, status domain.RobotStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.robots[robotID]
	if !ok {
		return rpaerrors.Wrap("UpdateStatus", rpaerrors.ErrNotFound, nil)
	}
	if r.Status == status {
		return nil
	}
	from := r.Status
	r.Status = status
	d.fireStatusChange(r, from, status)
	return nil
}

// ReleaseCapacity decrements a robot's current-job count, floored at zero.
// Callers fire this once a job dispatched to robotID reaches a terminal
// state, keeping current_jobs <= max_concurrent_jobs true (spec.md §4.3).
func (d *Dispatcher) ReleaseCapacity(robotID string) {
	if robotID == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.robots[robotID]; ok && r.CurrentJobs > 0 {
		r.CurrentJobs--
	}
}

// SyncLoad overwrites a robot's current-job count from its own self-reported
// heartbeat, correcting any drift in the dispatcher's bookkeeping (e.g. a
// missed release after an orchestrator restart). A negative count is treated
// as "unknown" and ignored.
func (d *Dispatcher) SyncLoad(robotID string, currentJobs int) {
	if robotID == "" || currentJobs < 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.robots[robotID]; ok {
		r.CurrentJobs = currentJobs
	}
}

// GetRobot returns the robot by id.
func (d *Dispatcher) GetRobot(robotID string) (*domain.Robot, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.robots[robotID]
	return r, ok
}

// RecordJobResult updates the affinity table; only successes increment it
// (spec.md §4.3).
func (d *Dispatcher) RecordJobResult(workflowID, robotID string, success bool) {
	if !success {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.affinity[workflowID]
	if !ok {
		m = make(map[string]int)
		d.affinity[workflowID] = m
	}
	m[robotID]++
}

// availableLocked reports whether a robot qualifies as a dispatch candidate
// (spec.md §4.3 availability rule). Caller must hold d.mu.
func (d *Dispatcher) availableLocked(r *domain.Robot, now time.Time) bool {
	if r.Status != domain.RobotOnline && r.Status != domain.RobotBusy {
		return false
	}
	if r.CurrentJobs >= r.MaxConcurrentJobs {
		return false
	}
	if now.Sub(r.LastHeartbeat) >= d.cfg.StaleTimeout {
		return false
	}
	return true
}

// candidatesLocked returns robots eligible to receive job, honoring a
// targeted robot_id, pool tag/workflow constraints. Caller must hold d.mu.
func (d *Dispatcher) candidatesLocked(job *domain.Job, now time.Time) []*domain.Robot {
	if job.RobotID != "" {
		r, ok := d.robots[job.RobotID]
		if !ok || !d.availableLocked(r, now) {
			return nil
		}
		return []*domain.Robot{r}
	}
	var out []*domain.Robot
	for _, r := range d.robots {
		if !d.availableLocked(r, now) {
			continue
		}
		if !d.poolsAllowLocked(r, job) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (d *Dispatcher) poolsAllowLocked(r *domain.Robot, job *domain.Job) bool {
	matched := false
	for _, p := range d.pools {
		if !p.Admits(r) {
			continue
		}
		matched = true
		if !p.WorkflowAllowed(job.WorkflowID) {
			return false
		}
	}
	_ = matched
	return true
}

// Select picks a candidate robot for job using the configured strategy, or
// returns (nil, false) if none are available.
func (d *Dispatcher) Select(job *domain.Job) (*domain.Robot, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	candidates := d.candidatesLocked(job, time.Now().UTC())
	if len(candidates) == 0 {
		return nil, false
	}
	switch d.cfg.Strategy {
	case RoundRobin:
		r := candidates[d.rrIndex%len(candidates)]
		d.rrIndex++
		return r, true
	case Random:
		return candidates[rand.Intn(len(candidates))], true
	case Affinity:
		if robotID, ok := d.bestAffinityLocked(job.WorkflowID, candidates); ok {
			for _, r := range candidates {
				if r.ID == robotID {
					return r, true
				}
			}
		}
		return d.leastLoadedLocked(candidates), true
	default: // LeastLoaded
		return d.leastLoadedLocked(candidates), true
	}
}

// leastLoadedLocked picks the candidate minimizing current/max, breaking
// ties by earliest (oldest) last_heartbeat, per dispatcher_service.py.
func (d *Dispatcher) leastLoadedLocked(candidates []*domain.Robot) *domain.Robot {
	best := candidates[0]
	bestRatio := ratio(best)
	for _, r := range candidates[1:] {
		rr := ratio(r)
		switch {
		case rr < bestRatio:
			best, bestRatio = r, rr
		case rr == bestRatio && r.LastHeartbeat.Before(best.LastHeartbeat):
			best = r
		}
	}
	return best
}

func ratio(r *domain.Robot) float64 {
	if r.MaxConcurrentJobs <= 0 {
		return 1
	}
	return float64(r.CurrentJobs) / float64(r.MaxConcurrentJobs)
}

func (d *Dispatcher) bestAffinityLocked(workflowID string, candidates []*domain.Robot) (string, bool) {
	m, ok := d.affinity[workflowID]
	if !ok || len(m) == 0 {
		return "", false
	}
	avail := make(map[string]bool, len(candidates))
	for _, r := range candidates {
		avail[r.ID] = true
	}
	bestID := ""
	bestCount := -1
	for robotID, count := range m {
		if !avail[robotID] {
			continue
		}
		if count > bestCount {
			bestCount, bestID = count, robotID
		}
	}
	return bestID, bestID != ""
}

// DispatchTick runs one iteration of the dispatch loop: for each available
// robot, attempt to dequeue a job targeted at it (or any), assigning on
// success and firing onDispatched.
func (d *Dispatcher) DispatchTick() {
	d.mu.Lock()
	now := time.Now().UTC()
	robots := make([]*domain.Robot, 0, len(d.robots))
	for _, r := range d.robots {
		if d.availableLocked(r, now) {
			robots = append(robots, r)
		}
	}
	d.mu.Unlock()

	for _, r := range robots {
		job := d.q.Dequeue(r, func(job *domain.Job) bool {
			d.mu.Lock()
			defer d.mu.Unlock()
			return d.poolsAllowLocked(r, job)
		})
		if job == nil {
			continue
		}
		d.mu.Lock()
		r.CurrentJobs++
		d.mu.Unlock()
		if d.onDispatched != nil {
			d.onDispatched(job, r)
		}
	}
}

// HealthTick marks any robot whose heartbeat is stale as OFFLINE.
func (d *Dispatcher) HealthTick() {
	now := time.Now().UTC()
	d.mu.Lock()
	var changed []*domain.Robot
	var froms []domain.RobotStatus
	for _, r := range d.robots {
		if r.Status != domain.RobotOffline && now.Sub(r.LastHeartbeat) > d.cfg.StaleTimeout {
			from := r.Status
			r.Status = domain.RobotOffline
			changed = append(changed, r)
			froms = append(froms, from)
		}
	}
	d.mu.Unlock()

	for i, r := range changed {
		if d.onStatusChange != nil {
			d.onStatusChange(r, froms[i], domain.RobotOffline)
		}
	}
}

func (d *Dispatcher) fireStatusChange(r *domain.Robot, from, to domain.RobotStatus) {
	if d.onStatusChange == nil {
		return
	}
	cb := d.onStatusChange
	rr := r
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				d.log.Error("status-change callback panicked", "error", rec, "robot_id", rr.ID)
			}
		}()
		cb(rr, from, to)
	}()
}

// Run launches the dispatch and health loops under an errgroup, returning
// when ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.runLoop(ctx, d.cfg.DispatchInterval, d.DispatchTick) })
	g.Go(func() error { return d.runLoop(ctx, d.cfg.HealthCheckInterval, d.HealthTick) })
	return g.Wait()
}

func (d *Dispatcher) runLoop(ctx context.Context, interval time.Duration, tick func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tick()
		}
	}
}
