package claimstore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/rpa-orchestrator/internal/domain"
	"github.com/yungbote/rpa-orchestrator/internal/rpaerrors"
)

// ExtendLease renews job_claim.lease_expires_at only if robotID and
// generation match what was returned on claim. A zero rows-affected result
// means the robot has lost the lease (expired and reclaimed by another, or
// settled) and must abandon the job without calling Settle.
func (s *Store) ExtendLease(ctx context.Context, jobID string, robotID string, generation int64, extension time.Duration) (time.Time, error) {
	now := time.Now().UTC()
	newExpiry := now.Add(extension)

	var affected int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&JobClaimRow{}).
			Where("job_id = ? AND robot_id = ? AND lease_generation = ?", jobID, robotID, generation).
			Update("lease_expires_at", newExpiry)
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		return nil
	})
	if err != nil {
		return time.Time{}, rpaerrors.Wrap("ExtendLease", rpaerrors.ErrTransient, err)
	}
	if affected == 0 {
		return time.Time{}, rpaerrors.Wrap("ExtendLease", rpaerrors.ErrLeaseLost, nil)
	}
	return newExpiry, nil
}

// Settle sets job_queue.status to a terminal status, writes the result/error
// payload, and deletes the job_claim row in a single transaction.
func (s *Store) Settle(ctx context.Context, jobID string, robotID string, generation int64, status domain.JobStatus, result []byte, errMsg string) error {
	if !status.IsTerminal() {
		return rpaerrors.Wrap("Settle", rpaerrors.ErrInvalidTransition, nil)
	}
	now := time.Now().UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var claim JobClaimRow
		findErr := tx.Where("job_id = ? AND robot_id = ? AND lease_generation = ?", jobID, robotID, generation).First(&claim).Error
		if findErr == gorm.ErrRecordNotFound {
			return rpaerrors.Wrap("Settle", rpaerrors.ErrLeaseLost, nil)
		}
		if findErr != nil {
			return findErr
		}

		var jq JobQueueRow
		if err := tx.Where("job_id = ?", jobID).First(&jq).Error; err != nil {
			return err
		}
		durationMS := int64(0)
		if jq.StartedAt != nil {
			durationMS = now.Sub(*jq.StartedAt).Milliseconds()
		}

		updates := map[string]interface{}{
			"status":       string(status),
			"completed_at": now,
			"duration_ms":  durationMS,
			"error_message": errMsg,
		}
		if result != nil {
			updates["result"] = result
		}
		if err := tx.Model(&JobQueueRow{}).Where("job_id = ?", jobID).Updates(updates).Error; err != nil {
			return err
		}
		return tx.Where("job_id = ?", jobID).Delete(&JobClaimRow{}).Error
	})
	if err != nil {
		if rpaerrors.Is(err, rpaerrors.ErrLeaseLost) {
			return err
		}
		return rpaerrors.Wrap("Settle", rpaerrors.ErrTransient, err)
	}
	return nil
}

// ReleaseJob resets a job back to QUEUED and deletes its claim row. Used
// when a robot voluntarily gives up (e.g. a state-affinity mismatch).
func (s *Store) ReleaseJob(ctx context.Context, jobID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&JobQueueRow{}).Where("job_id = ?", jobID).Update("status", string(domain.JobQueued)).Error; err != nil {
			return err
		}
		return tx.Where("job_id = ?", jobID).Delete(&JobClaimRow{}).Error
	})
	if err != nil {
		return rpaerrors.Wrap("ReleaseJob", rpaerrors.ErrTransient, err)
	}
	return nil
}
