// Package claimstore is the durable, Postgres-backed claim protocol from
// spec.md §4.4: the single mechanism preventing double-execution of a job
// across orchestrator/robot crashes. It is grounded on the teacher's
// internal/data/repos/jobs.JobRunRepo.ClaimNextRunnable, generalized from a
// single-table "next runnable" query into the three-table job_queue /
// job_claim / robots claim protocol the spec requires.
package claimstore

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/rpa-orchestrator/internal/logger"
)

// Store wraps a *gorm.DB scoped to the claim-store tables.
type Store struct {
	db  *gorm.DB
	log *logger.Logger
}

// New constructs a Store over an already-opened *gorm.DB.
func New(db *gorm.DB, log *logger.Logger) *Store {
	return &Store{db: db, log: log.With("component", "claimstore")}
}

// AutoMigrate creates/updates the three logical tables.
func (s *Store) AutoMigrate() error {
	if err := s.db.AutoMigrate(&JobQueueRow{}, &JobClaimRow{}, &RobotRow{}); err != nil {
		return fmt.Errorf("claimstore automigrate: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for components (e.g. the engine's and the
// robot agent's robots-row writes) that need a raw connection.
func (s *Store) DB() *gorm.DB { return s.db }
