package businessflow

import (
	"context"

	"github.com/google/uuid"
	"github.com/lettable/deposync/app/dto"
	"github.com/lettable/deposync/models"
	"github.com/lettable/deposync/repository"
	"github.com/lettable/deposync/utils"
)

// JobAdminFlow exposes job inspection and operator cancellation.
type JobAdminFlow interface {
	GetJob(ctx context.Context, jobUUID uuid.UUID) (*dto.JobStatusResponse, error)
	CancelJob(ctx context.Context, jobUUID uuid.UUID) (*dto.CancelJobResponse, error)
}

// JobAdminFlowImpl implements the job admin business flow
type JobAdminFlowImpl struct {
	jobRepo     repository.IntegrationJobRepository
	archiveRepo repository.ArchivedJobRepository
}

// NewJobAdminFlow creates a new job admin flow instance
func NewJobAdminFlow(
	jobRepo repository.IntegrationJobRepository,
	archiveRepo repository.ArchivedJobRepository,
) JobAdminFlow {
	return &JobAdminFlowImpl{
		jobRepo:     jobRepo,
		archiveRepo: archiveRepo,
	}
}

// GetJob returns the current state of a job, consulting the archive when the
// active store no longer holds it.
func (s *JobAdminFlowImpl) GetJob(ctx context.Context, jobUUID uuid.UUID) (*dto.JobStatusResponse, error) {
	job, err := s.jobRepo.ByUUID(ctx, jobUUID)
	if err != nil {
		return nil, NewBusinessError("JOB_LOOKUP_FAILED", "Failed to look up job", err)
	}
	if job != nil {
		return activeJobResponse(job), nil
	}

	archived, err := s.archiveRepo.LatestByJobUUID(ctx, jobUUID)
	if err != nil {
		return nil, NewBusinessError("ARCHIVE_LOOKUP_FAILED", "Failed to look up archived job", err)
	}
	if archived == nil {
		return nil, NewBusinessError("JOB_NOT_FOUND", "Job not found", ErrJobNotFound)
	}
	return archivedJobResponse(archived), nil
}

// CancelJob marks a pending job cancelled. The next sweep archives it.
// Processing jobs cannot be cancelled mid-flight; terminal and archived jobs
// are already beyond cancellation.
func (s *JobAdminFlowImpl) CancelJob(ctx context.Context, jobUUID uuid.UUID) (*dto.CancelJobResponse, error) {
	job, err := s.jobRepo.ByUUID(ctx, jobUUID)
	if err != nil {
		return nil, NewBusinessError("JOB_LOOKUP_FAILED", "Failed to look up job", err)
	}
	if job == nil {
		return nil, NewBusinessError("JOB_NOT_FOUND", "Job not found", ErrJobNotFound)
	}
	if job.Status == models.JobStatusProcessing {
		return nil, NewBusinessError("JOB_PROCESSING", "Job is being processed", ErrJobAlreadyProcessing)
	}
	if job.IsTerminal() {
		return nil, NewBusinessError("JOB_TERMINAL", "Job already reached a terminal state", ErrJobAlreadyTerminal)
	}

	job.Status = models.JobStatusCancelled
	job.UpdatedAt = utils.UTCNow()
	if err := s.jobRepo.Update(ctx, job); err != nil {
		return nil, NewBusinessError("JOB_CANCEL_FAILED", "Failed to cancel job", err)
	}

	return &dto.CancelJobResponse{
		JobUUID: job.UUID.String(),
		Status:  string(job.Status),
		Message: "Job cancelled; it will be archived on the next sweep",
	}, nil
}

func activeJobResponse(job *models.IntegrationJob) *dto.JobStatusResponse {
	resp := &dto.JobStatusResponse{
		JobUUID:          job.UUID.String(),
		ExternalRecordID: job.ExternalRecordID,
		TenantKey:        job.TenantKey,
		Status:           string(job.Status),
		AttemptCount:     job.AttemptCount,
		MaxAttempts:      job.MaxAttempts,
		MissingFields:    job.DecodeMissingFields(),
		Steps:            stepDTOs(job.DecodeSteps()),
		CreatedAt:        job.CreatedAt,
		CompletedAt:      job.CompletedAt,
	}
	if job.IsPending() {
		next := job.NextAttemptAt
		resp.NextAttemptAt = &next
	}
	if snapshot := job.DecodeSnapshot(); snapshot != nil {
		resp.Tenancy = tenancySummary(snapshot)
	}
	if job.LastError != nil {
		resp.LastError = *job.LastError
	}
	if job.LastErrorKind != nil {
		resp.LastErrorKind = *job.LastErrorKind
	}
	if job.SchemeDepositID != nil {
		resp.SchemeDepositID = *job.SchemeDepositID
	}
	if job.SchemeConfirmation != nil {
		resp.SchemeConfirmation = *job.SchemeConfirmation
	}
	return resp
}

func archivedJobResponse(archived *models.ArchivedJob) *dto.JobStatusResponse {
	resp := &dto.JobStatusResponse{
		JobUUID:          archived.JobUUID.String(),
		ExternalRecordID: archived.ExternalRecordID,
		TenantKey:        archived.TenantKey,
		Status:           string(archived.FinalStatus),
		Archived:         true,
		Reason:           archived.Reason,
		AttemptCount:     archived.AttemptCount,
		MissingFields:    archived.DecodeMissingFields(),
		Steps:            stepDTOs(archived.DecodeSteps()),
		CreatedAt:        archived.JobCreatedAt,
	}
	if archived.LastError != nil {
		resp.LastError = *archived.LastError
	}
	if archived.LastErrorKind != nil {
		resp.LastErrorKind = *archived.LastErrorKind
	}
	if archived.SchemeDepositID != nil {
		resp.SchemeDepositID = *archived.SchemeDepositID
	}
	if archived.SchemeConfirmation != nil {
		resp.SchemeConfirmation = *archived.SchemeConfirmation
	}
	return resp
}

func tenancySummary(t *models.Tenancy) *dto.TenancySummaryDTO {
	summary := &dto.TenancySummaryDTO{
		TenancyID:   t.TenancyID,
		TenantCount: len(t.Tenants),
	}
	if t.Property != nil {
		summary.Postcode = t.Property.Postcode
	}
	if t.DepositAmount != nil {
		summary.DepositAmount = t.DepositAmount.String()
	}
	return summary
}

func stepDTOs(steps []models.StepRecord) []dto.JobStepDTO {
	if len(steps) == 0 {
		return nil
	}
	out := make([]dto.JobStepDTO, 0, len(steps))
	for _, step := range steps {
		out = append(out, dto.JobStepDTO{
			Step:    step.Step,
			Outcome: step.Outcome,
			At:      step.At,
			Detail:  step.Detail,
		})
	}
	return out
}
