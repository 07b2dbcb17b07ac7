package businessflow

import (
	"context"
	"log"

	"github.com/lettable/deposync/config"
	"github.com/lettable/deposync/models"
	"github.com/lettable/deposync/repository"
	"github.com/lettable/deposync/utils"
)

// TickSummary reports what one scheduler tick did.
type TickSummary struct {
	Processed    int
	Completed    int
	Failed       int
	StillPending int
	Swept        int
}

// TickFlow drives the periodic retry pass: reclaim stale leases, retire
// exhausted and cancelled jobs, then re-execute one batch of due jobs.
type TickFlow interface {
	RunTick(ctx context.Context) (*TickSummary, error)
}

// TickFlowImpl implements the tick business flow
type TickFlowImpl struct {
	jobRepo  repository.IntegrationJobRepository
	saga     DepositSagaFlow
	archival ArchivalFlow
	cfg      *config.ProductionConfig
	logger   *log.Logger
}

// NewTickFlow creates a new tick flow instance
func NewTickFlow(
	jobRepo repository.IntegrationJobRepository,
	saga DepositSagaFlow,
	archival ArchivalFlow,
	cfg *config.ProductionConfig,
	logger *log.Logger,
) TickFlow {
	return &TickFlowImpl{
		jobRepo:  jobRepo,
		saga:     saga,
		archival: archival,
		cfg:      cfg,
		logger:   logger,
	}
}

// RunTick performs one sweep plus one batch of retries. Per-job errors never
// abort the tick; they update job state and surface through audit records.
func (s *TickFlowImpl) RunTick(ctx context.Context) (*TickSummary, error) {
	summary := &TickSummary{}

	summary.Swept = s.sweep(ctx)

	jobs, err := s.jobRepo.ListReady(ctx, utils.UTCNow(), s.cfg.Scheduler.BatchSize)
	if err != nil {
		return nil, NewBusinessError("TICK_LIST_FAILED", "Failed to list ready jobs", err)
	}

	for _, listed := range jobs {
		claimed, err := s.jobRepo.Claim(ctx, listed.ID, utils.UTCNow())
		if err != nil {
			s.logger.Printf("tick: claim failed for job %s: %v", listed.UUID, err)
			continue
		}
		if !claimed {
			continue
		}

		// The listed row may be stale: another worker can process and re-defer
		// the job between the list and the claim. The claim fences writers, so
		// the re-read observes the state the execution must start from.
		job, err := s.jobRepo.ByID(ctx, listed.ID)
		if err != nil {
			s.logger.Printf("tick: reload failed for job %s: %v", listed.UUID, err)
			continue
		}
		if job == nil {
			continue
		}

		jobCtx, cancel := context.WithTimeout(ctx, s.cfg.Scheduler.JobTimeout)
		result, err := s.saga.Execute(jobCtx, job, models.AuditTriggerTick)
		cancel()

		summary.Processed++
		if err != nil {
			s.logger.Printf("tick: execution failed for job %s: %v", job.UUID, err)
			summary.Failed++
			continue
		}
		switch result.Outcome {
		case SagaOutcomeCompleted:
			summary.Completed++
		case SagaOutcomeDeferred:
			summary.StillPending++
		default:
			summary.Failed++
		}
	}

	if pending, err := s.jobRepo.CountPending(ctx); err == nil {
		pendingJobs.Set(float64(pending))
	}

	return summary, nil
}

// sweep retires jobs that can no longer make progress: expired processing
// leases, attempt-capped pending jobs, and operator-cancelled jobs.
func (s *TickFlowImpl) sweep(ctx context.Context) int {
	swept := 0
	now := utils.UTCNow()

	// Stale leases mean a worker crashed mid-execution. The job is expired
	// and archived as failed; the step history shows how far it got.
	cutoff := now.Add(-s.cfg.Retry.LeaseTimeout)
	stale, err := s.jobRepo.ListExpiredLeases(ctx, cutoff, s.cfg.Scheduler.BatchSize)
	if err != nil {
		s.logger.Printf("sweep: listing expired leases failed: %v", err)
	} else {
		for _, job := range stale {
			job.Status = models.JobStatusExpired
			if _, err := s.archival.Archive(ctx, job, models.JobStatusFailed, "lease expired"); err != nil {
				s.logger.Printf("sweep: archiving lease-expired job %s failed: %v", job.UUID, err)
				continue
			}
			leasesReclaimed.Inc()
			swept++
		}
	}

	capped, err := s.jobRepo.ListAttemptCapped(ctx, s.cfg.Scheduler.BatchSize)
	if err != nil {
		s.logger.Printf("sweep: listing attempt-capped jobs failed: %v", err)
	} else {
		for _, job := range capped {
			if _, err := s.archival.Archive(ctx, job, models.JobStatusExpired, "attempts exhausted"); err != nil {
				s.logger.Printf("sweep: archiving attempt-capped job %s failed: %v", job.UUID, err)
				continue
			}
			swept++
		}
	}

	cancelled, err := s.jobRepo.ListByStatus(ctx, models.JobStatusCancelled, s.cfg.Scheduler.BatchSize)
	if err != nil {
		s.logger.Printf("sweep: listing cancelled jobs failed: %v", err)
	} else {
		for _, job := range cancelled {
			if _, err := s.archival.Archive(ctx, job, models.JobStatusCancelled, "cancelled by operator"); err != nil {
				s.logger.Printf("sweep: archiving cancelled job %s failed: %v", job.UUID, err)
				continue
			}
			swept++
		}
	}

	// Completed jobs normally archive inline; one left active means the
	// archive write failed after a successful submit.
	completed, err := s.jobRepo.ListByStatus(ctx, models.JobStatusCompleted, s.cfg.Scheduler.BatchSize)
	if err != nil {
		s.logger.Printf("sweep: listing completed jobs failed: %v", err)
	} else {
		for _, job := range completed {
			if _, err := s.archival.Archive(ctx, job, models.JobStatusCompleted, "deposit registered"); err != nil {
				s.logger.Printf("sweep: archiving completed job %s failed: %v", job.UUID, err)
				continue
			}
			swept++
		}
	}

	return swept
}
