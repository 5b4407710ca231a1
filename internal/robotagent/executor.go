package robotagent

import (
	"context"

	"github.com/yungbote/rpa-orchestrator/internal/domain"
)

// noopExecutor reports a job complete immediately with an empty result. It
// exists so a freshly generated robot-agent binary has a catch-all handler
// to register before a real workflow interpreter is wired in; production
// deployments replace it with one or more workflow-specific Executors.
type noopExecutor struct{}

// NewNoopExecutor returns an Executor that completes every job instantly
// with an empty result, intended as a default "*" registration.
func NewNoopExecutor() Executor { return noopExecutor{} }

func (noopExecutor) Execute(ctx context.Context, job domain.Job, report ProgressFunc, cancel <-chan struct{}) ([]byte, error) {
	report(100, "noop")
	return []byte("{}"), nil
}
