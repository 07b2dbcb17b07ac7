package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lettable/deposync/models"
	"gorm.io/gorm"
)

// IntegrationJobRepositoryImpl implements IntegrationJobRepository
type IntegrationJobRepositoryImpl struct {
	*BaseRepository[models.IntegrationJob, models.IntegrationJobFilter]
}

func NewIntegrationJobRepository(db *gorm.DB) IntegrationJobRepository {
	return &IntegrationJobRepositoryImpl{BaseRepository: NewBaseRepository[models.IntegrationJob, models.IntegrationJobFilter](db)}
}

func (r *IntegrationJobRepositoryImpl) ByUUID(ctx context.Context, jobUUID uuid.UUID) (*models.IntegrationJob, error) {
	db := r.getDB(ctx)
	var row models.IntegrationJob
	if err := db.Where("uuid = ?", jobUUID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find job by uuid %s: %w", jobUUID, err)
	}
	return &row, nil
}

func (r *IntegrationJobRepositoryImpl) ByTenantAndRecord(ctx context.Context, tenantKey, externalRecordID string) (*models.IntegrationJob, error) {
	db := r.getDB(ctx)
	var row models.IntegrationJob
	err := db.Where("tenant_key = ? AND external_record_id = ?", tenantKey, externalRecordID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find job for %s/%s: %w", tenantKey, externalRecordID, err)
	}
	return &row, nil
}

func (r *IntegrationJobRepositoryImpl) Update(ctx context.Context, job *models.IntegrationJob) error {
	db := r.getDB(ctx)
	return db.Save(job).Error
}

func (r *IntegrationJobRepositoryImpl) Delete(ctx context.Context, id uint) error {
	db := r.getDB(ctx)
	return db.Delete(&models.IntegrationJob{}, id).Error
}

// ListReady returns due pending jobs ordered oldest next_attempt_at first.
// The limit bounds per-tick load; callers pass the configured batch size.
func (r *IntegrationJobRepositoryImpl) ListReady(ctx context.Context, now time.Time, limit int) ([]*models.IntegrationJob, error) {
	if limit <= 0 {
		limit = 25
	}
	db := r.getDB(ctx)
	var rows []*models.IntegrationJob
	err := db.Where("status IN ? AND next_attempt_at <= ?",
		[]models.JobStatus{models.JobStatusPendingData, models.JobStatusPendingSubmit}, now).
		Order("next_attempt_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list ready jobs: %w", err)
	}
	return rows, nil
}

// Claim performs the single conditional write that moves a pending job to
// processing. Two concurrent ticks racing on the same job see exactly one
// RowsAffected == 1; the loser observes 0 and skips.
func (r *IntegrationJobRepositoryImpl) Claim(ctx context.Context, id uint, now time.Time) (bool, error) {
	db := r.getDB(ctx)
	res := db.Model(&models.IntegrationJob{}).
		Where("id = ? AND status IN ?", id,
			[]models.JobStatus{models.JobStatusPendingData, models.JobStatusPendingSubmit}).
		Updates(map[string]any{
			"status":           models.JobStatusProcessing,
			"lease_started_at": now,
			"updated_at":       now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim job %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *IntegrationJobRepositoryImpl) ListExpiredLeases(ctx context.Context, cutoff time.Time, limit int) ([]*models.IntegrationJob, error) {
	if limit <= 0 {
		limit = 100
	}
	db := r.getDB(ctx)
	var rows []*models.IntegrationJob
	err := db.Where("status = ? AND lease_started_at IS NOT NULL AND lease_started_at < ?",
		models.JobStatusProcessing, cutoff).
		Order("lease_started_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired leases: %w", err)
	}
	return rows, nil
}

func (r *IntegrationJobRepositoryImpl) ListAttemptCapped(ctx context.Context, limit int) ([]*models.IntegrationJob, error) {
	if limit <= 0 {
		limit = 100
	}
	db := r.getDB(ctx)
	var rows []*models.IntegrationJob
	err := db.Where("status IN ? AND max_attempts > 0 AND attempt_count >= max_attempts",
		[]models.JobStatus{models.JobStatusPendingData, models.JobStatusPendingSubmit}).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list attempt-capped jobs: %w", err)
	}
	return rows, nil
}

func (r *IntegrationJobRepositoryImpl) ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.IntegrationJob, error) {
	if limit <= 0 {
		limit = 100
	}
	db := r.getDB(ctx)
	var rows []*models.IntegrationJob
	err := db.Where("status = ?", status).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs by status %s: %w", status, err)
	}
	return rows, nil
}

func (r *IntegrationJobRepositoryImpl) CountPending(ctx context.Context) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	err := db.Model(&models.IntegrationJob{}).
		Where("status IN ?", []models.JobStatus{models.JobStatusPendingData, models.JobStatusPendingSubmit}).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return count, nil
}
