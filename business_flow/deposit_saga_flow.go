package businessflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/lettable/deposync/app/dto"
	"github.com/lettable/deposync/app/services"
	"github.com/lettable/deposync/config"
	"github.com/lettable/deposync/models"
	"github.com/lettable/deposync/repository"
	"github.com/google/uuid"
	"github.com/lettable/deposync/utils"
	"github.com/redis/go-redis/v9"
	"github.com/ttacon/libphonenumber"
)

// Saga outcomes
const (
	SagaOutcomeCompleted = "completed"
	SagaOutcomeDeferred  = "deferred"
	SagaOutcomeFailed    = "failed"
)

// SagaResult is the outcome of one saga execution. Deferred is a valid
// outcome of an invocation, not an error.
type SagaResult struct {
	Outcome            string
	Job                *models.IntegrationJob
	MissingFields      map[string][]string
	NextAttemptAt      *time.Time
	SchemeDepositID    string
	SchemeConfirmation string
	Reason             string
}

// DepositSagaFlow handles the deposit registration saga
type DepositSagaFlow interface {
	// Trigger runs the saga synchronously for an inbound request, creating or
	// reusing the active job for the record.
	Trigger(ctx context.Context, req *dto.TriggerDepositRequest) (*SagaResult, error)

	// Execute runs one saga pass over a job. The caller must hold the lease
	// (or the job must be fresh and unpersisted).
	Execute(ctx context.Context, job *models.IntegrationJob, trigger string) (*SagaResult, error)
}

// DepositSagaFlowImpl implements the deposit registration saga
type DepositSagaFlowImpl struct {
	jobRepo    repository.IntegrationJobRepository
	archival   ArchivalFlow
	pms        services.PMSClient
	scheme     services.SchemeClient
	postcode   services.PostcodeClient
	classifier ErrorClassifier
	audit      services.AuditSink
	cfg        *config.ProductionConfig
	rc         *redis.Client
	logger     *log.Logger
}

// NewDepositSagaFlow creates a new deposit saga flow instance
func NewDepositSagaFlow(
	jobRepo repository.IntegrationJobRepository,
	archival ArchivalFlow,
	pms services.PMSClient,
	scheme services.SchemeClient,
	postcode services.PostcodeClient,
	classifier ErrorClassifier,
	audit services.AuditSink,
	cfg *config.ProductionConfig,
	rc *redis.Client,
	logger *log.Logger,
) DepositSagaFlow {
	return &DepositSagaFlowImpl{
		jobRepo:    jobRepo,
		archival:   archival,
		pms:        pms,
		scheme:     scheme,
		postcode:   postcode,
		classifier: classifier,
		audit:      audit,
		cfg:        cfg,
		rc:         rc,
		logger:     logger,
	}
}

// Trigger handles an inbound on-demand trigger for one external record.
func (s *DepositSagaFlowImpl) Trigger(ctx context.Context, req *dto.TriggerDepositRequest) (*SagaResult, error) {
	tenantKey := models.TenantKeyFor(req.AgencyCode, req.BranchCode)

	if err := s.suppressDuplicate(ctx, tenantKey, req.ExternalRecordID); err != nil {
		return nil, err
	}

	existing, err := s.jobRepo.ByTenantAndRecord(ctx, tenantKey, req.ExternalRecordID)
	if err != nil {
		return nil, NewBusinessError("JOB_LOOKUP_FAILED", "Failed to look up active job", err)
	}

	if existing != nil {
		if existing.Status == models.JobStatusProcessing {
			return nil, NewBusinessError("JOB_PROCESSING", "Job is already being processed", ErrJobAlreadyProcessing)
		}
		if existing.IsTerminal() {
			return nil, NewBusinessError("JOB_TERMINAL", "Job already reached a terminal state", ErrJobAlreadyTerminal)
		}
		claimed, err := s.jobRepo.Claim(ctx, existing.ID, utils.UTCNow())
		if err != nil {
			return nil, NewBusinessError("JOB_CLAIM_FAILED", "Failed to claim job", err)
		}
		if !claimed {
			return nil, NewBusinessError("JOB_PROCESSING", "Job is already being processed", ErrJobClaimLost)
		}
		existing.Status = models.JobStatusProcessing
		return s.Execute(ctx, existing, models.AuditTriggerOnDemand)
	}

	now := utils.UTCNow()
	job := &models.IntegrationJob{
		UUID:             uuid.New(),
		ExternalRecordID: req.ExternalRecordID,
		TenantKey:        tenantKey,
		AgencyCode:       req.AgencyCode,
		BranchCode:       req.BranchCode,
		Status:           models.JobStatusProcessing,
		MaxAttempts:      int(s.cfg.Retry.MaxAttempts),
		NextAttemptAt:    now,
		LeaseStartedAt:   &now,
		Steps:            []byte("[]"),
		MissingFields:    []byte("{}"),
		TestMode:         req.TestMode || s.cfg.Scheme.TestMode,
	}

	// Persisting before execution makes the unique active index the fence
	// between concurrent fresh triggers: the loser of the insert race never
	// reaches the submit step. A crash mid-execution leaves a leased
	// processing row for the sweep to reclaim.
	if err := s.jobRepo.Save(ctx, job); err != nil {
		if dup, lookupErr := s.jobRepo.ByTenantAndRecord(ctx, tenantKey, req.ExternalRecordID); lookupErr == nil && dup != nil {
			return nil, NewBusinessError("JOB_PROCESSING", "Job is already being processed", ErrJobAlreadyProcessing)
		}
		return nil, NewBusinessError("JOB_PERSIST_FAILED", "Failed to persist job", err)
	}
	return s.Execute(ctx, job, models.AuditTriggerOnDemand)
}

// suppressDuplicate rejects a second trigger for the same record arriving
// within the suppression window. Redis being down never blocks a trigger.
func (s *DepositSagaFlowImpl) suppressDuplicate(ctx context.Context, tenantKey, externalRecordID string) error {
	if s.rc == nil {
		return nil
	}
	key := fmt.Sprintf("%strigger:%s:%s", s.cfg.Cache.RedisPrefix, tenantKey, externalRecordID)
	ok, err := s.rc.SetNX(ctx, key, "1", 10*time.Second).Result()
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("duplicate suppression unavailable: %v", err)
		}
		return nil
	}
	if !ok {
		return NewBusinessError("DUPLICATE_TRIGGER", "Trigger for this record was just processed", ErrDuplicateTrigger)
	}
	return nil
}

// Execute runs the saga steps over one job: fetch, validate, enrich, build
// the scheme payload, submit, persist the result. Every step lands in the
// job's ordered step history.
func (s *DepositSagaFlowImpl) Execute(ctx context.Context, job *models.IntegrationJob, trigger string) (*SagaResult, error) {
	started := utils.UTCNow()
	steps := job.DecodeSteps()
	record := func(step, outcome, detail string) {
		steps = append(steps, models.StepRecord{Step: step, Outcome: outcome, At: utils.UTCNow(), Detail: detail})
		job.SetSteps(steps)
	}
	finish := func(result *SagaResult, auditOutcome string) {
		s.audit.Record(ctx, job.UUID, job.TenantKey, trigger, auditOutcome, len(steps), utils.UTCNow().Sub(started), result.Reason)
		sagaExecutionsTotal.WithLabelValues(trigger, result.Outcome).Inc()
		sagaDuration.WithLabelValues(result.Outcome).Observe(utils.UTCNow().Sub(started).Seconds())
	}

	// Step 1: fetch current source data. Fetch failures are always transient;
	// the job re-defers and the ticker retries.
	tenancy, err := s.fetchTenancy(ctx, job)
	if err != nil {
		record(models.StepFetch, models.StepOutcomeFailed, err.Error())
		return s.deferJob(ctx, job, trigger, nil, err.Error(), models.ErrorKindTransient, record, finish)
	}
	if tenancy == nil {
		record(models.StepFetch, models.StepOutcomeFailed, ErrTenancyNotFound.Error())
		return s.failJob(ctx, job, trigger, ErrTenancyNotFound.Error(), models.ErrorKindPermanent, finish)
	}
	record(models.StepFetch, models.StepOutcomeOK, "")
	s.snapshotTenancy(job, tenancy)

	// Step 2: completeness validation.
	completeness := ValidateCompleteness(tenancy)
	if !completeness.IsComplete {
		if completeness.Deferrable {
			record(models.StepValidate, models.StepOutcomeDeferred, fmt.Sprintf("missing: %v", completeness.FlatFields()))
			return s.deferJob(ctx, job, trigger, &completeness, "", "", record, finish)
		}
		record(models.StepValidate, models.StepOutcomeFailed, fmt.Sprintf("missing: %v", completeness.FlatFields()))
		job.SetMissingFields(completeness.Missing, completeness.FlatFields())
		return s.failJob(ctx, job, trigger, ErrIdentityIncomplete.Error(), models.ErrorKindPermanent, finish)
	}
	record(models.StepValidate, models.StepOutcomeOK, "")
	job.SetMissingFields(map[string][]string{}, nil)

	// Step 3: enrichment. Region lookup failures degrade to the default
	// region instead of aborting.
	region := tenancy.Property.Region
	if region == "" {
		looked, err := s.postcode.LookupRegion(ctx, tenancy.Property.Postcode)
		if err != nil {
			region = s.postcode.DefaultRegion()
			record(models.StepEnrich, models.StepOutcomeSkipped, fmt.Sprintf("region lookup failed, using default %s", region))
		} else {
			region = looked
			record(models.StepEnrich, models.StepOutcomeOK, "")
		}
	} else {
		record(models.StepEnrich, models.StepOutcomeSkipped, "region already present")
	}

	// Step 4: build the scheme payload. A violation here means the source
	// data is malformed in a way waiting cannot fix.
	payload, err := buildSchemeRequest(tenancy, region, job.TestMode)
	if err != nil {
		record(models.StepBuild, models.StepOutcomeFailed, err.Error())
		return s.failJob(ctx, job, trigger, err.Error(), models.ErrorKindPermanent, finish)
	}
	record(models.StepBuild, models.StepOutcomeOK, "")

	// Step 5: submit to the scheme. A correlation id persisted by an earlier
	// attempt means the scheme already accepted this deposit; reuse it instead
	// of submitting again.
	var submitted *models.SchemeDepositResult
	if job.SchemeDepositID != nil && *job.SchemeDepositID != "" {
		confirmation := ""
		if job.SchemeConfirmation != nil {
			confirmation = *job.SchemeConfirmation
		}
		submitted = &models.SchemeDepositResult{
			DepositID:          *job.SchemeDepositID,
			ConfirmationNumber: confirmation,
		}
		record(models.StepSubmit, models.StepOutcomeSkipped, "deposit already registered")
	} else {
		submitted, err = s.scheme.SubmitDeposit(ctx, payload)
		if err != nil {
			kind := s.classifier.Classify(err.Error())
			submitFailuresTotal.WithLabelValues(kind).Inc()
			if kind == models.ErrorKindTransient {
				record(models.StepSubmit, models.StepOutcomeDeferred, err.Error())
				return s.deferJob(ctx, job, trigger, nil, err.Error(), kind, record, finish)
			}
			record(models.StepSubmit, models.StepOutcomeFailed, err.Error())
			return s.failJob(ctx, job, trigger, err.Error(), kind, finish)
		}
		record(models.StepSubmit, models.StepOutcomeOK, "")
	}

	// Step 6: persist the result and archive as completed.
	now := utils.UTCNow()
	job.SchemeDepositID = utils.ToPtr(submitted.DepositID)
	job.SchemeConfirmation = utils.ToPtr(submitted.ConfirmationNumber)
	job.LastError = nil
	job.LastErrorKind = nil
	job.CompletedAt = &now
	record(models.StepPersist, models.StepOutcomeOK, "")

	if _, err := s.archival.Archive(ctx, job, models.JobStatusCompleted, "deposit registered"); err != nil {
		// The deposit is registered downstream; losing the archive write must
		// not report failure to the caller. The job stays active and the next
		// sweep retires it.
		if s.logger != nil {
			s.logger.Printf("archival failed for completed job %s: %v", job.UUID, err)
		}
		job.Status = models.JobStatusCompleted
		if job.ID != 0 {
			_ = s.jobRepo.Update(ctx, job)
		}
	}

	result := &SagaResult{
		Outcome:            SagaOutcomeCompleted,
		Job:                job,
		SchemeDepositID:    submitted.DepositID,
		SchemeConfirmation: submitted.ConfirmationNumber,
	}
	finish(result, models.AuditOutcomeCompleted)
	return result, nil
}

func (s *DepositSagaFlowImpl) fetchTenancy(ctx context.Context, job *models.IntegrationJob) (*models.Tenancy, error) {
	branch := ""
	if job.BranchCode != nil {
		branch = *job.BranchCode
	}
	return s.pms.FetchTenancy(ctx, job.AgencyCode, branch, job.ExternalRecordID)
}

// snapshotTenancy stores the fetched record on the job, truncating oversized
// documents to the configured field limit.
func (s *DepositSagaFlowImpl) snapshotTenancy(job *models.IntegrationJob, tenancy *models.Tenancy) {
	raw, err := json.Marshal(tenancy)
	if err != nil {
		return
	}
	job.Snapshot, job.SnapshotTruncated = utils.TruncateJSON(raw, s.cfg.Retry.MaxFieldBytes)
}

// deferJob re-persists a job as pending with an incremented attempt count and
// a fresh backoff-scheduled next attempt. Jobs that just hit the attempt cap
// are archived as expired instead.
func (s *DepositSagaFlowImpl) deferJob(
	ctx context.Context,
	job *models.IntegrationJob,
	trigger string,
	completeness *CompletenessResult,
	lastError string,
	errorKind string,
	record func(step, outcome, detail string),
	finish func(result *SagaResult, auditOutcome string),
) (*SagaResult, error) {
	now := utils.UTCNow()
	job.AttemptCount++

	depositOnly := false
	if completeness != nil {
		depositOnly = completeness.DepositOnly()
		job.Status = PendingStatusFor(*completeness)
		job.SetMissingFields(completeness.Missing, completeness.FlatFields())
	} else {
		// No fresh completeness result (fetch error or transient submit
		// failure). Fall back to the last recorded gap: a clean or
		// deposit-only record keeps the fast profile, anything else stays on
		// the slow one.
		missing := job.DecodeMissingFields()
		_, depositGap := missing[CategoryDeposit]
		depositOnly = len(missing) == 0 || (len(missing) == 1 && depositGap)
		if depositOnly {
			job.Status = models.JobStatusPendingSubmit
		} else {
			job.Status = models.JobStatusPendingData
		}
	}
	if lastError != "" {
		job.LastError = utils.ToPtr(lastError)
		job.LastErrorKind = utils.ToPtr(errorKind)
	}

	if job.AttemptsExhausted() {
		record(models.StepPersist, models.StepOutcomeFailed, "attempts exhausted")
		job.Status = models.JobStatusExpired
		if _, err := s.archival.Archive(ctx, job, models.JobStatusExpired, "attempts exhausted"); err != nil {
			return nil, NewBusinessError("JOB_ARCHIVAL_FAILED", "Failed to archive exhausted job", err)
		}
		result := &SagaResult{Outcome: SagaOutcomeFailed, Job: job, Reason: "attempts exhausted"}
		finish(result, models.AuditOutcomeExpired)
		return result, nil
	}

	// The retry policy is read fresh each deferral so runtime configuration
	// changes take effect without restart.
	policy := s.cfg.Retry.PolicyFor(depositOnly)
	nextAttempt := NextAttemptAt(now, uint(job.AttemptCount), policy)
	job.NextAttemptAt = nextAttempt
	job.LeaseStartedAt = nil
	job.UpdatedAt = now

	if err := s.jobRepo.Update(ctx, job); err != nil {
		return nil, NewBusinessError("JOB_PERSIST_FAILED", "Failed to persist deferred job", err)
	}

	result := &SagaResult{
		Outcome:       SagaOutcomeDeferred,
		Job:           job,
		MissingFields: job.DecodeMissingFields(),
		NextAttemptAt: &nextAttempt,
		Reason:        lastError,
	}
	finish(result, models.AuditOutcomeDeferred)
	return result, nil
}

// failJob archives a job as permanently failed. Fresh jobs additionally
// surface the failure to the caller as an error.
func (s *DepositSagaFlowImpl) failJob(
	ctx context.Context,
	job *models.IntegrationJob,
	trigger string,
	reason string,
	errorKind string,
	finish func(result *SagaResult, auditOutcome string),
) (*SagaResult, error) {
	job.LastError = utils.ToPtr(reason)
	job.LastErrorKind = utils.ToPtr(errorKind)

	if _, err := s.archival.Archive(ctx, job, models.JobStatusFailed, reason); err != nil {
		return nil, NewBusinessError("JOB_ARCHIVAL_FAILED", "Failed to archive failed job", err)
	}

	result := &SagaResult{Outcome: SagaOutcomeFailed, Job: job, Reason: reason}
	finish(result, models.AuditOutcomeFailed)
	if trigger == models.AuditTriggerOnDemand {
		return result, NewBusinessError("SAGA_FAILED", reason, ErrSchemeRejected)
	}
	return result, nil
}

// buildSchemeRequest assembles the scheme submission payload from a complete
// tenancy. It re-checks the scheme's hard requirements; a violation here is
// malformed source data, not transient unavailability.
func buildSchemeRequest(tenancy *models.Tenancy, region string, testMode bool) (*models.SchemeDepositRequest, error) {
	if tenancy.Property == nil || tenancy.Property.AddressLine1 == "" || tenancy.Property.Postcode == "" {
		return nil, fmt.Errorf("property address is incomplete")
	}
	if tenancy.DepositAmount == nil || !tenancy.DepositAmount.IsPositive() {
		return nil, fmt.Errorf("deposit amount must be positive")
	}

	address := tenancy.Property.AddressLine1
	if tenancy.Property.AddressLine2 != "" {
		address += ", " + tenancy.Property.AddressLine2
	}
	if tenancy.Property.City != "" {
		address += ", " + tenancy.Property.City
	}

	tenants := make([]models.SchemeTenant, 0, len(tenancy.Tenants))
	for _, tenant := range tenancy.Tenants {
		entry := models.SchemeTenant{Name: tenant.FullName()}
		if entry.Name == "" {
			return nil, fmt.Errorf("tenant has no name")
		}
		if tenant.Email != nil {
			entry.Email = *tenant.Email
		}
		if tenant.Phone != nil {
			entry.Phone = normalizePhone(*tenant.Phone)
		}
		if entry.Email == "" && entry.Phone == "" {
			return nil, fmt.Errorf("tenant %s has neither email nor phone", entry.Name)
		}
		tenants = append(tenants, entry)
	}
	if len(tenants) == 0 {
		return nil, fmt.Errorf("tenancy has no tenants")
	}

	return &models.SchemeDepositRequest{
		TenancyReference: tenancy.TenancyID,
		AgencyCode:       tenancy.AgencyCode,
		BranchCode:       tenancy.BranchCode,
		PropertyAddress:  address,
		Postcode:         tenancy.Property.Postcode,
		Region:           region,
		DepositAmount:    *tenancy.DepositAmount,
		BondReference:    tenancy.BondReference,
		Tenants:          tenants,
		TestMode:         testMode,
	}, nil
}

// normalizePhone formats a phone number to E.164 where possible. Numbers the
// parser cannot handle pass through untouched; the scheme applies its own
// validation.
func normalizePhone(phone string) string {
	if phone == "" {
		return ""
	}
	parsed, err := libphonenumber.Parse(phone, "GB")
	if err != nil {
		return phone
	}
	return libphonenumber.Format(parsed, libphonenumber.E164)
}
