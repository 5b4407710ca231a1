// Package robotagent implements the per-worker process from spec.md §4.5:
// the hybrid poll+subscribe claim loop, execution lifecycle reporting,
// heartbeat, presence, and graceful shutdown. Grounded on the teacher's
// internal/jobs/worker/worker.go (claim/dispatch loop, heartbeat goroutine,
// panic recovery) generalized to a standalone process.
package robotagent

import (
	"context"
	"fmt"
	"sync"

	"github.com/yungbote/rpa-orchestrator/internal/domain"
)

// ProgressFunc lets an Executor report incremental progress; the agent
// forwards it as a job_progress message (spec.md §6).
type ProgressFunc func(progress int, currentNode string)

// Executor runs a single job's workflow_json to completion. This models the
// "external collaborator" spec.md §4.5.1 leaves opaque: resource pooling
// (browser contexts, DB handles, HTTP clients) and workflow-node
// interpretation are out of core scope.
type Executor interface {
	// Execute runs job, calling report on progress and observing cancel for
	// cooperative cancellation between nodes. It returns a result payload
	// on success.
	Execute(ctx context.Context, job domain.Job, report ProgressFunc, cancel <-chan struct{}) ([]byte, error)
}

// Registry maps workflow ids (or "*" for a catch-all) to the Executor that
// handles them, mirroring the teacher's internal/jobs/runtime.Registry
// Handler lookup pattern.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register binds an Executor to a workflow id. Use "*" to register a
// catch-all fallback.
func (r *Registry) Register(workflowID string, exec Executor) error {
	if workflowID == "" {
		return fmt.Errorf("robotagent: workflow id required")
	}
	if exec == nil {
		return fmt.Errorf("robotagent: executor required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[workflowID]; exists {
		return fmt.Errorf("robotagent: executor already registered for %q", workflowID)
	}
	r.executors[workflowID] = exec
	return nil
}

// Get returns the Executor for workflowID, falling back to "*" if present.
func (r *Registry) Get(workflowID string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.executors[workflowID]; ok {
		return e, true
	}
	e, ok := r.executors["*"]
	return e, ok
}
