// Package queue implements the in-memory job queue and state machine from
// spec.md §4.1: priority ordering, dedup, timeout detection, and
// state-change callbacks. It holds no reference to the durable store and
// writes nothing to it; it is the in-memory cache the dispatcher reads from.
package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/rpa-orchestrator/internal/domain"
	"github.com/yungbote/rpa-orchestrator/internal/logger"
	"github.com/yungbote/rpa-orchestrator/internal/rpaerrors"
)

// StateChangeFunc is invoked synchronously under the queue lock whenever a
// job's status changes. Implementations must not block and must not panic;
// panics are recovered, logged, and swallowed so the queue never corrupts.
type StateChangeFunc func(job *domain.Job, from, to domain.JobStatus)

// Stats is the result of GetQueueStats.
type Stats struct {
	ByStatus map[domain.JobStatus]int
	ByPriority map[domain.Priority]int
	Total int
}

type dedupEntry struct {
	jobID     uuid.UUID
	createdAt time.Time
}

// Queue is the in-memory priority queue + state machine.
type Queue struct {
	mu   sync.Mutex
	log  *logger.Logger
	jobs map[uuid.UUID]*domain.Job
	// There is no separate order index: Dequeue sorts the QUEUED candidates
	// on every call.
	dedup        map[string]dedupEntry
	dedupWindow  time.Duration
	callbacks    []StateChangeFunc
}

// New constructs an empty Queue. dedupWindow is spec.md's default 300s when
// zero.
func New(log *logger.Logger, dedupWindow time.Duration) *Queue {
	if dedupWindow <= 0 {
		dedupWindow = 300 * time.Second
	}
	return &Queue{
		log:         log.With("component", "queue"),
		jobs:        make(map[uuid.UUID]*domain.Job),
		dedup:       make(map[string]dedupEntry),
		dedupWindow: dedupWindow,
	}
}

// OnStateChange registers a callback fired on every status transition.
func (q *Queue) OnStateChange(fn StateChangeFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.callbacks = append(q.callbacks, fn)
}

// Fingerprint computes the dedup fingerprint from a workflow id and a
// canonicalized params payload (sorted keys, UTF-8), per spec.md §4.1.
func Fingerprint(workflowID string, params map[string]interface{}) string {
	normalized := canonicalize(params)
	raw, _ := json.Marshal(normalized)
	h := sha256.Sum256(append([]byte(workflowID+"|"), raw...))
	return hex.EncodeToString(h[:])
}

func canonicalize(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return map[string]interface{}{}
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]interface{}, len(params))
	for _, k := range keys {
		out[k] = params[k]
	}
	return out
}

// Enqueue admits a job. checkDuplicate=false is used for retries to bypass
// dedup (spec.md §4.1).
func (q *Queue) Enqueue(job *domain.Job, checkDuplicate bool) (bool, string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if checkDuplicate && job.DedupFingerprint != "" {
		if existing, ok := q.dedup[job.DedupFingerprint]; ok {
			if existingJob, found := q.jobs[existing.jobID]; found && !existingJob.Status.IsTerminal() {
				if time.Since(existing.createdAt) < q.dedupWindow {
					return false, rpaerrors.ErrDuplicate.Error()
				}
			}
		}
	}

	if job.Status == "" {
		job.Status = domain.JobPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	q.jobs[job.ID] = job
	if job.DedupFingerprint != "" {
		q.dedup[job.DedupFingerprint] = dedupEntry{jobID: job.ID, createdAt: job.CreatedAt}
	}

	target := domain.JobQueued
	if job.ScheduledTime != nil && job.ScheduledTime.After(time.Now().UTC()) {
		target = domain.JobPending
	}
	q.transitionLocked(job, target)
	return true, "queued"
}

// MarkDue transitions PENDING jobs whose scheduled_time has arrived to
// QUEUED. Called periodically by the engine.
func (q *Queue) MarkDue(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range q.jobs {
		if job.Status == domain.JobPending && (job.ScheduledTime == nil || !job.ScheduledTime.After(now)) {
			q.transitionLocked(job, domain.JobQueued)
		}
	}
}

// Dequeue returns the highest-priority QUEUED job matching the robot's
// constraints (targeted jobs are invisible to other robots), or nil.
// match additionally filters by pool/workflow eligibility; pass nil to
// accept everything.
func (q *Queue) Dequeue(robot *domain.Robot, match func(job *domain.Job) bool) *domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	candidates := make([]*domain.Job, 0)
	for _, job := range q.jobs {
		if job.Status != domain.JobQueued {
			continue
		}
		if job.RobotID != "" && job.RobotID != robot.ID {
			continue
		}
		if match != nil && !match(job) {
			continue
		}
		candidates = append(candidates, job)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	best := candidates[0]
	best.RobotID = robot.ID
	q.transitionLocked(best, domain.JobRunning)
	now := time.Now().UTC()
	best.StartedAt = &now
	return best
}

// Cancel transitions job_id to CANCELLED if non-terminal.
func (q *Queue) Cancel(jobID uuid.UUID, reason string) (bool, string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return false, rpaerrors.ErrNotFound.Error()
	}
	if job.Status.IsTerminal() {
		return false, rpaerrors.ErrInvalidTransition.Error()
	}
	job.ErrorMessage = reason
	q.transitionLocked(job, domain.JobCancelled)
	return true, "cancelled"
}

// Complete finalizes a job as COMPLETED with the given result payload.
func (q *Queue) Complete(jobID uuid.UUID, result []byte) (bool, string) {
	return q.finalize(jobID, domain.JobCompleted, result, "")
}

// Fail finalizes a job as FAILED with an error message.
func (q *Queue) Fail(jobID uuid.UUID, errMsg string) (bool, string) {
	return q.finalize(jobID, domain.JobFailed, nil, errMsg)
}

func (q *Queue) finalize(jobID uuid.UUID, status domain.JobStatus, result []byte, errMsg string) (bool, string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return false, rpaerrors.ErrNotFound.Error()
	}
	if job.Status.IsTerminal() {
		// Terminal-status monotonicity: never overwrite a terminal job
		// (spec.md §5 ordering guarantees).
		return false, rpaerrors.ErrInvalidTransition.Error()
	}
	if !domain.CanTransition(job.Status, status) {
		return false, rpaerrors.ErrInvalidTransition.Error()
	}
	now := time.Now().UTC()
	job.CompletedAt = &now
	if job.StartedAt != nil {
		job.DurationMS = now.Sub(*job.StartedAt).Milliseconds()
	}
	if result != nil {
		job.Result = result
	}
	if errMsg != "" {
		job.ErrorMessage = errMsg
	}
	q.transitionLocked(job, status)
	return true, "settled"
}

// UpdateProgress bounds progress to [0,100] and applies last-writer-wins
// semantics; idempotent by construction (spec.md §4.1, testable property 8).
func (q *Queue) UpdateProgress(jobID uuid.UUID, progress int, currentNode string) (bool, string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return false, rpaerrors.ErrNotFound.Error()
	}
	if job.Status.IsTerminal() {
		// Progress updates never resurrect or overwrite a terminal job.
		return false, rpaerrors.ErrInvalidTransition.Error()
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	job.Progress = progress
	job.CurrentNode = currentNode
	return true, "updated"
}

// CheckTimeouts marks RUNNING jobs as TIMEOUT once the time since started_at
// exceeds the job's own VisibilityTTL, or jobTimeout when VisibilityTTL is
// unset, returning their ids.
func (q *Queue) CheckTimeouts(now time.Time, jobTimeout time.Duration) []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	var expired []uuid.UUID
	for _, job := range q.jobs {
		if job.Status != domain.JobRunning || job.StartedAt == nil {
			continue
		}
		ttl := job.VisibilityTTL
		if ttl <= 0 {
			ttl = jobTimeout
		}
		if now.Sub(*job.StartedAt) > ttl {
			q.transitionLocked(job, domain.JobTimeout)
			expired = append(expired, job.ID)
		}
	}
	return expired
}

// Get returns the job by id, or (nil, false).
func (q *Queue) Get(jobID uuid.UUID) (*domain.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	return job, ok
}

// Put inserts or overwrites a job without running transition callbacks or
// state-machine checks. The engine's startup rebuild does not call it; the
// in-memory queue starts empty.
func (q *Queue) Put(job *domain.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[job.ID] = job
	if job.DedupFingerprint != "" {
		if _, ok := q.dedup[job.DedupFingerprint]; !ok {
			q.dedup[job.DedupFingerprint] = dedupEntry{jobID: job.ID, createdAt: job.CreatedAt}
		}
	}
}

// GetQueueStats returns counts by state and by priority.
func (q *Queue) GetQueueStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := Stats{ByStatus: make(map[domain.JobStatus]int), ByPriority: make(map[domain.Priority]int)}
	for _, job := range q.jobs {
		st.ByStatus[job.Status]++
		st.ByPriority[job.Priority]++
		st.Total++
	}
	return st
}

// transitionLocked performs the status change and fires callbacks. Caller
// must hold q.mu.
func (q *Queue) transitionLocked(job *domain.Job, to domain.JobStatus) {
	from := job.Status
	if from != "" && from != to && !domain.CanTransition(from, to) {
		q.log.Warn("rejected illegal queue transition", "job_id", job.ID, "from", from, "to", to)
		return
	}
	job.Status = to
	q.fireCallbacks(job, from, to)
}

// fireCallbacks invokes every registered callback, recovering and logging
// any panic so a misbehaving callback can never corrupt queue state (spec.md
// §4.1 failure semantics).
func (q *Queue) fireCallbacks(job *domain.Job, from, to domain.JobStatus) {
	for _, cb := range q.callbacks {
		q.safeInvoke(cb, job, from, to)
	}
}

func (q *Queue) safeInvoke(cb StateChangeFunc, job *domain.Job, from, to domain.JobStatus) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("queue state-change callback panicked", "error", r, "job_id", job.ID)
		}
	}()
	cb(job, from, to)
}
