package robotagent

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/rpa-orchestrator/internal/claimstore"
	"github.com/yungbote/rpa-orchestrator/internal/domain"
)

// Store is the subset of *claimstore.Store the agent depends on, narrowed to
// an interface so tests can substitute a fake claim protocol without a live
// Postgres instance. *claimstore.Store satisfies this as-is.
type Store interface {
	ClaimJob(ctx context.Context, robotID, env string, now time.Time, visibilityTimeout time.Duration, batch int) ([]claimstore.Claimed, error)
	ExtendLease(ctx context.Context, jobID string, robotID string, generation int64, extension time.Duration) (time.Time, error)
	Settle(ctx context.Context, jobID string, robotID string, generation int64, status domain.JobStatus, result []byte, errMsg string) error
	ReleaseJob(ctx context.Context, jobID string) error
	DB() *gorm.DB
}
