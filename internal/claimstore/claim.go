package claimstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/rpa-orchestrator/internal/domain"
	"github.com/yungbote/rpa-orchestrator/internal/rpaerrors"
)

// Claimed is one row handed back from ClaimJob, carrying the data a robot
// needs to start execution plus the lease generation it must present on
// every subsequent extend/settle/release call.
type Claimed struct {
	Job             domain.Job
	LeaseExpiresAt  time.Time
	LeaseGeneration int64
}

// ClaimJob selects up to batch QUEUED rows for environment env that are due
// (scheduled_for is null or <= now) and unclaimed or lease-expired, locks
// them with SELECT ... FOR UPDATE SKIP LOCKED ordered by (priority desc,
// created_at asc), and upserts job_claim + flips job_queue.status to
// RUNNING — all within one transaction, mirroring the teacher's
// ClaimNextRunnable. Grounded on internal/data/repos/jobs.job_run.go.
func (s *Store) ClaimJob(ctx context.Context, robotID, env string, now time.Time, visibilityTimeout time.Duration, batch int) ([]Claimed, error) {
	if batch <= 0 {
		return nil, nil
	}
	var claimed []Claimed

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []JobQueueRow
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Table("job_queue AS jq").
			Select("jq.*").
			Joins("LEFT JOIN job_claim jc ON jc.job_id = jq.job_id").
			Where("jq.status = ?", string(domain.JobQueued)).
			Where("jq.scheduled_for IS NULL OR jq.scheduled_for <= ?", now).
			Where("jc.job_id IS NULL OR jc.lease_expires_at < ?", now).
			Order("jq.priority DESC, jq.created_at ASC").
			Limit(batch)
		if env != "" {
			q = q.Where("jq.environment = ? OR jq.environment = ''", env)
		}
		if err := q.Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		for _, row := range rows {
			var existing JobClaimRow
			generation := int64(1)
			err := tx.Where("job_id = ?", row.JobID).First(&existing).Error
			switch {
			case err == nil:
				generation = existing.LeaseGeneration + 1
			case err == gorm.ErrRecordNotFound:
				generation = 1
			default:
				return err
			}

			leaseExpires := now.Add(visibilityTimeout)
			claimRow := JobClaimRow{
				JobID:           row.JobID,
				RobotID:         robotID,
				ClaimedAt:       now,
				LeaseExpiresAt:  leaseExpires,
				LeaseGeneration: generation,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "job_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"robot_id", "claimed_at", "lease_expires_at", "lease_generation"}),
			}).Create(&claimRow).Error; err != nil {
				return err
			}

			if err := tx.Model(&JobQueueRow{}).Where("job_id = ?", row.JobID).Updates(map[string]interface{}{
				"status":     string(domain.JobRunning),
				"robot_id":   robotID,
				"started_at": now,
			}).Error; err != nil {
				return err
			}

			claimed = append(claimed, Claimed{
				Job:             rowToJob(row, robotID, now),
				LeaseExpiresAt:  leaseExpires,
				LeaseGeneration: generation,
			})
		}
		return nil
	})
	if err != nil {
		return nil, rpaerrors.Wrap("ClaimJob", rpaerrors.ErrTransient, err)
	}
	return claimed, nil
}

func rowToJob(row JobQueueRow, robotID string, startedAt time.Time) domain.Job {
	id, _ := uuid.Parse(row.JobID)
	return domain.Job{
		ID:               id,
		WorkflowID:       row.WorkflowID,
		WorkflowName:     row.WorkflowName,
		WorkflowJSON:     []byte(row.WorkflowJSON),
		Priority:         domain.Priority(row.Priority),
		Status:           domain.JobRunning,
		RobotID:          robotID,
		Environment:      row.Environment,
		CreatedAt:        row.CreatedAt,
		StartedAt:        &startedAt,
		RetryCount:       row.RetryCount,
		DedupFingerprint: row.DedupFingerprint,
	}
}
