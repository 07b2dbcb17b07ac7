package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lettable/deposync/models"
	"gorm.io/gorm"
)

// AuditRecordRepositoryImpl implements AuditRecordRepository
type AuditRecordRepositoryImpl struct {
	*BaseRepository[models.AuditRecord, models.AuditRecordFilter]
}

func NewAuditRecordRepository(db *gorm.DB) AuditRecordRepository {
	return &AuditRecordRepositoryImpl{BaseRepository: NewBaseRepository[models.AuditRecord, models.AuditRecordFilter](db)}
}

func (r *AuditRecordRepositoryImpl) ListByJob(ctx context.Context, jobUUID uuid.UUID, limit, offset int) ([]*models.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	db := r.getDB(ctx)
	var rows []*models.AuditRecord
	err := db.Where("job_uuid = ?", jobUUID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records for job %s: %w", jobUUID, err)
	}
	return rows, nil
}

func (r *AuditRecordRepositoryImpl) ListFailures(ctx context.Context, limit, offset int) ([]*models.AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	db := r.getDB(ctx)
	var rows []*models.AuditRecord
	err := db.Where("outcome = ?", models.AuditOutcomeFailed).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list failed audit records: %w", err)
	}
	return rows, nil
}
