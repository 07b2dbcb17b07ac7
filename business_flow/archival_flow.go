package businessflow

import (
	"context"

	"github.com/lettable/deposync/models"
	"github.com/lettable/deposync/repository"
	"github.com/lettable/deposync/utils"
	"gorm.io/gorm"
)

// ArchivalFlow moves terminal jobs out of the active store into the
// immutable archive. Deletion of the active row is the commit point;
// a crash between the archive insert and the delete leaves at worst a
// duplicate archive row, never a lost job.
type ArchivalFlow interface {
	Archive(ctx context.Context, job *models.IntegrationJob, finalStatus models.JobStatus, reason string) (*models.ArchivedJob, error)
}

// ArchivalFlowImpl implements the archival business flow
type ArchivalFlowImpl struct {
	jobRepo     repository.IntegrationJobRepository
	archiveRepo repository.ArchivedJobRepository
	db          *gorm.DB
}

// NewArchivalFlow creates a new archival flow instance
func NewArchivalFlow(
	jobRepo repository.IntegrationJobRepository,
	archiveRepo repository.ArchivedJobRepository,
	db *gorm.DB,
) ArchivalFlow {
	return &ArchivalFlowImpl{
		jobRepo:     jobRepo,
		archiveRepo: archiveRepo,
		db:          db,
	}
}

// Archive writes the terminal record and removes the active row in one
// transaction. A job whose active row is already gone only gets the
// archive insert, so re-archival is a no-op on the active store.
func (s *ArchivalFlowImpl) Archive(ctx context.Context, job *models.IntegrationJob, finalStatus models.JobStatus, reason string) (*models.ArchivedJob, error) {
	archived := &models.ArchivedJob{
		JobUUID:            job.UUID,
		ExternalRecordID:   job.ExternalRecordID,
		TenantKey:          job.TenantKey,
		AgencyCode:         job.AgencyCode,
		BranchCode:         job.BranchCode,
		FinalStatus:        finalStatus,
		Reason:             reason,
		AttemptCount:       job.AttemptCount,
		Snapshot:           job.Snapshot,
		SnapshotTruncated:  job.SnapshotTruncated,
		MissingFields:      job.MissingFields,
		MissingFieldList:   job.MissingFieldList,
		Steps:              job.Steps,
		LastError:          job.LastError,
		LastErrorKind:      job.LastErrorKind,
		SchemeDepositID:    job.SchemeDepositID,
		SchemeConfirmation: job.SchemeConfirmation,
		TestMode:           job.TestMode,
		JobCreatedAt:       job.CreatedAt,
		ArchivedAt:         utils.UTCNow(),
	}

	err := repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		if err := s.archiveRepo.Save(txCtx, archived); err != nil {
			return err
		}
		if job.ID != 0 {
			if err := s.jobRepo.Delete(txCtx, job.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, NewBusinessError("JOB_ARCHIVAL_FAILED", "Failed to archive job", err)
	}

	job.Status = finalStatus
	return archived, nil
}
