// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lettable/deposync/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
}

// IntegrationJobRepository defines operations for the active job store.
// All mutations of shared job state go through here; Claim is the only
// entry point into the processing status.
type IntegrationJobRepository interface {
	Repository[models.IntegrationJob, models.IntegrationJobFilter]
	ByUUID(ctx context.Context, jobUUID uuid.UUID) (*models.IntegrationJob, error)
	ByTenantAndRecord(ctx context.Context, tenantKey, externalRecordID string) (*models.IntegrationJob, error)
	Update(ctx context.Context, job *models.IntegrationJob) error
	Delete(ctx context.Context, id uint) error

	// ListReady returns pending jobs whose next attempt is due, oldest
	// next_attempt_at first, capped at limit.
	ListReady(ctx context.Context, now time.Time, limit int) ([]*models.IntegrationJob, error)

	// Claim atomically transitions a pending job to processing and stamps the
	// lease. It returns false when another worker won the race (or the job
	// left the pending state in the meantime).
	Claim(ctx context.Context, id uint, now time.Time) (bool, error)

	// Sweep queries
	ListExpiredLeases(ctx context.Context, cutoff time.Time, limit int) ([]*models.IntegrationJob, error)
	ListAttemptCapped(ctx context.Context, limit int) ([]*models.IntegrationJob, error)
	ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.IntegrationJob, error)
	CountPending(ctx context.Context) (int64, error)
}

// ArchivedJobRepository defines operations for the immutable archive store
type ArchivedJobRepository interface {
	Repository[models.ArchivedJob, models.ArchivedJobFilter]
	ByJobUUID(ctx context.Context, jobUUID uuid.UUID) ([]*models.ArchivedJob, error)
	LatestByJobUUID(ctx context.Context, jobUUID uuid.UUID) (*models.ArchivedJob, error)
	ListByTenantKey(ctx context.Context, tenantKey string, limit, offset int) ([]*models.ArchivedJob, error)
}

// AuditRecordRepository defines operations for per-execution audit records
type AuditRecordRepository interface {
	Repository[models.AuditRecord, models.AuditRecordFilter]
	ListByJob(ctx context.Context, jobUUID uuid.UUID, limit, offset int) ([]*models.AuditRecord, error)
	ListFailures(ctx context.Context, limit, offset int) ([]*models.AuditRecord, error)
}
