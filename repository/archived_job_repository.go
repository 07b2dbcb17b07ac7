package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lettable/deposync/models"
	"gorm.io/gorm"
)

// ArchivedJobRepositoryImpl implements ArchivedJobRepository
type ArchivedJobRepositoryImpl struct {
	*BaseRepository[models.ArchivedJob, models.ArchivedJobFilter]
}

func NewArchivedJobRepository(db *gorm.DB) ArchivedJobRepository {
	return &ArchivedJobRepositoryImpl{BaseRepository: NewBaseRepository[models.ArchivedJob, models.ArchivedJobFilter](db)}
}

func (r *ArchivedJobRepositoryImpl) ByJobUUID(ctx context.Context, jobUUID uuid.UUID) ([]*models.ArchivedJob, error) {
	db := r.getDB(ctx)
	var rows []*models.ArchivedJob
	err := db.Where("job_uuid = ?", jobUUID).
		Order("archived_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list archived records for job %s: %w", jobUUID, err)
	}
	return rows, nil
}

func (r *ArchivedJobRepositoryImpl) LatestByJobUUID(ctx context.Context, jobUUID uuid.UUID) (*models.ArchivedJob, error) {
	db := r.getDB(ctx)
	var row models.ArchivedJob
	err := db.Where("job_uuid = ?", jobUUID).
		Order("archived_at DESC, id DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find archived record for job %s: %w", jobUUID, err)
	}
	return &row, nil
}

func (r *ArchivedJobRepositoryImpl) ListByTenantKey(ctx context.Context, tenantKey string, limit, offset int) ([]*models.ArchivedJob, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	db := r.getDB(ctx)
	var rows []*models.ArchivedJob
	err := db.Where("tenant_key = ?", tenantKey).
		Order("archived_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list archived records for tenant %s: %w", tenantKey, err)
	}
	return rows, nil
}
