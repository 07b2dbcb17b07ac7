package businessflow

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/lettable/deposync/app/dto"
	"github.com/lettable/deposync/app/services"
	"github.com/lettable/deposync/config"
	"github.com/lettable/deposync/models"
	"github.com/lettable/deposync/repository"
	testingutil "github.com/lettable/deposync/testing"
	"github.com/lettable/deposync/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.ProductionConfig {
	return &config.ProductionConfig{
		Retry: config.RetryConfig{
			PendingData: config.RetryPolicy{
				BaseInterval: time.Hour,
				Multiplier:   2.0,
				MaxInterval:  24 * time.Hour,
			},
			PendingSubmit: config.RetryPolicy{
				BaseInterval: 15 * time.Minute,
				Multiplier:   1.5,
				MaxInterval:  2 * time.Hour,
			},
			MaxAttempts:   12,
			LeaseTimeout:  15 * time.Minute,
			MaxFieldBytes: 64 * 1024,
		},
		Scheduler: config.SchedulerConfig{
			TickInterval: 5 * time.Minute,
			BatchSize:    25,
			JobTimeout:   2 * time.Minute,
		},
	}
}

type sagaHarness struct {
	flow     DepositSagaFlow
	jobRepo  repository.IntegrationJobRepository
	archRepo repository.ArchivedJobRepository
	pms      *services.MockPMSClient
	scheme   *services.MockSchemeClient
	postcode *services.MockPostcodeClient
	audit    *services.MockAuditSink
}

func newSagaHarness(testDB *testingutil.TestDB, cfg *config.ProductionConfig) *sagaHarness {
	jobRepo := repository.NewIntegrationJobRepository(testDB.DB)
	archRepo := repository.NewArchivedJobRepository(testDB.DB)
	archival := NewArchivalFlow(jobRepo, archRepo, testDB.DB)

	pms := services.NewMockPMSClient()
	scheme := services.NewMockSchemeClient()
	postcode := services.NewMockPostcodeClient()
	audit := services.NewMockAuditSink()

	flow := NewDepositSagaFlow(
		jobRepo,
		archival,
		pms,
		scheme,
		postcode,
		DefaultErrorClassifier(),
		audit,
		cfg,
		nil,
		log.Default(),
	)

	return &sagaHarness{
		flow:     flow,
		jobRepo:  jobRepo,
		archRepo: archRepo,
		pms:      pms,
		scheme:   scheme,
		postcode: postcode,
		audit:    audit,
	}
}

func TestTriggerCompleteRecord(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		h := newSagaHarness(testDB, testConfig())
		ctx := context.Background()

		tenancy := testingutil.NewTestTenancy("TEN-200001", "acme-lettings")
		h.pms.SetTenancy(tenancy)
		h.postcode.Regions[tenancy.Property.Postcode] = "EW"

		result, err := h.flow.Trigger(ctx, &dto.TriggerDepositRequest{
			ExternalRecordID: "TEN-200001",
			AgencyCode:       "acme-lettings",
		})
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, SagaOutcomeCompleted, result.Outcome)
		assert.Equal(t, "DEP-TEST-0001", result.SchemeDepositID)
		assert.Equal(t, "CONF-0001", result.SchemeConfirmation)

		// No active row: the job archived straight through.
		active, err := h.jobRepo.ByTenantAndRecord(ctx, "acme-lettings", "TEN-200001")
		require.NoError(t, err)
		assert.Nil(t, active)

		archived, err := h.archRepo.LatestByJobUUID(ctx, result.Job.UUID)
		require.NoError(t, err)
		require.NotNil(t, archived)
		assert.Equal(t, models.JobStatusCompleted, archived.FinalStatus)
		assert.Equal(t, "deposit registered", archived.Reason)
		require.NotNil(t, archived.SchemeDepositID)
		assert.Equal(t, "DEP-TEST-0001", *archived.SchemeDepositID)

		// One submission went over the wire, enriched with the region.
		require.Len(t, h.scheme.Submissions, 1)
		assert.Equal(t, "EW", h.scheme.Submissions[0].Region)
		assert.Equal(t, "TEN-200001", h.scheme.Submissions[0].TenancyReference)

		require.Len(t, h.audit.Records, 1)
		assert.Equal(t, models.AuditTriggerOnDemand, h.audit.Records[0].Trigger)
		assert.Equal(t, models.AuditOutcomeCompleted, h.audit.Records[0].Outcome)

		return nil
	})
	require.NoError(t, err)
}

func TestTriggerMissingDepositDefers(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		h := newSagaHarness(testDB, testConfig())
		ctx := context.Background()

		h.pms.SetTenancy(testingutil.NewTestTenancyMissingDeposit("TEN-200002", "acme-lettings"))

		before := utils.UTCNow()
		result, err := h.flow.Trigger(ctx, &dto.TriggerDepositRequest{
			ExternalRecordID: "TEN-200002",
			AgencyCode:       "acme-lettings",
		})
		require.NoError(t, err)
		assert.Equal(t, SagaOutcomeDeferred, result.Outcome)
		assert.Contains(t, result.MissingFields[CategoryDeposit], "deposit_amount")

		job, err := h.jobRepo.ByTenantAndRecord(ctx, "acme-lettings", "TEN-200002")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, models.JobStatusPendingSubmit, job.Status)
		assert.Equal(t, 1, job.AttemptCount)
		assert.Nil(t, job.LeaseStartedAt)

		// Deposit-only gaps ride the faster retry profile.
		require.NotNil(t, result.NextAttemptAt)
		assert.WithinDuration(t, before.Add(15*time.Minute), *result.NextAttemptAt, 10*time.Second)

		// Nothing reached the scheme.
		assert.Empty(t, h.scheme.Submissions)

		return nil
	})
	require.NoError(t, err)
}

func TestTriggerMissingPropertyUsesSlowProfile(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		h := newSagaHarness(testDB, testConfig())
		ctx := context.Background()

		h.pms.SetTenancy(testingutil.NewTestTenancyMissingProperty("TEN-200003", "acme-lettings"))

		before := utils.UTCNow()
		result, err := h.flow.Trigger(ctx, &dto.TriggerDepositRequest{
			ExternalRecordID: "TEN-200003",
			AgencyCode:       "acme-lettings",
		})
		require.NoError(t, err)
		assert.Equal(t, SagaOutcomeDeferred, result.Outcome)

		job, err := h.jobRepo.ByTenantAndRecord(ctx, "acme-lettings", "TEN-200003")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, models.JobStatusPendingData, job.Status)
		assert.WithinDuration(t, before.Add(time.Hour), job.NextAttemptAt, 10*time.Second)

		return nil
	})
	require.NoError(t, err)
}

func TestRetryCompletesAfterDataArrives(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		h := newSagaHarness(testDB, testConfig())
		ctx := context.Background()

		tenancy := testingutil.NewTestTenancyMissingDeposit("TEN-200004", "acme-lettings")
		h.pms.SetTenancy(tenancy)

		result, err := h.flow.Trigger(ctx, &dto.TriggerDepositRequest{
			ExternalRecordID: "TEN-200004",
			AgencyCode:       "acme-lettings",
		})
		require.NoError(t, err)
		require.Equal(t, SagaOutcomeDeferred, result.Outcome)

		// The deposit amount lands in the source system.
		amount := decimal.NewFromInt(875)
		tenancy.DepositAmount = &amount

		job, err := h.jobRepo.ByTenantAndRecord(ctx, "acme-lettings", "TEN-200004")
		require.NoError(t, err)
		require.NotNil(t, job)

		claimed, err := h.jobRepo.Claim(ctx, job.ID, utils.UTCNow())
		require.NoError(t, err)
		require.True(t, claimed)
		job.Status = models.JobStatusProcessing

		retry, err := h.flow.Execute(ctx, job, models.AuditTriggerTick)
		require.NoError(t, err)
		assert.Equal(t, SagaOutcomeCompleted, retry.Outcome)

		// Active row deleted, archive written.
		active, err := h.jobRepo.ByUUID(ctx, job.UUID)
		require.NoError(t, err)
		assert.Nil(t, active)

		archived, err := h.archRepo.LatestByJobUUID(ctx, job.UUID)
		require.NoError(t, err)
		require.NotNil(t, archived)
		assert.Equal(t, models.JobStatusCompleted, archived.FinalStatus)
		assert.Equal(t, 1, archived.AttemptCount)

		// Step history spans both executions.
		require.NotNil(t, retry.Job)
		steps := retry.Job.DecodeSteps()
		assert.GreaterOrEqual(t, len(steps), 7)

		return nil
	})
	require.NoError(t, err)
}

func TestPermanentSchemeErrorFailsImmediately(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		h := newSagaHarness(testDB, testConfig())
		ctx := context.Background()

		h.pms.SetTenancy(testingutil.NewTestTenancy("TEN-200005", "acme-lettings"))
		h.scheme.Errs = []error{assertableError("validation: duplicate tenancy reference")}

		result, err := h.flow.Trigger(ctx, &dto.TriggerDepositRequest{
			ExternalRecordID: "TEN-200005",
			AgencyCode:       "acme-lettings",
		})
		require.Error(t, err)
		assert.True(t, IsSchemeRejected(err))
		require.NotNil(t, result)
		assert.Equal(t, SagaOutcomeFailed, result.Outcome)

		// First attempt, no retry scheduled: the job went straight to archive.
		active, err := h.jobRepo.ByTenantAndRecord(ctx, "acme-lettings", "TEN-200005")
		require.NoError(t, err)
		assert.Nil(t, active)

		archived, err := h.archRepo.LatestByJobUUID(ctx, result.Job.UUID)
		require.NoError(t, err)
		require.NotNil(t, archived)
		assert.Equal(t, models.JobStatusFailed, archived.FinalStatus)
		require.NotNil(t, archived.LastErrorKind)
		assert.Equal(t, models.ErrorKindPermanent, *archived.LastErrorKind)

		return nil
	})
	require.NoError(t, err)
}

func TestTransientSchemeErrorDefersThenCompletes(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		h := newSagaHarness(testDB, testConfig())
		ctx := context.Background()

		h.pms.SetTenancy(testingutil.NewTestTenancy("TEN-200006", "acme-lettings"))
		h.scheme.Errs = []error{assertableError("scheme returned status 503")}

		result, err := h.flow.Trigger(ctx, &dto.TriggerDepositRequest{
			ExternalRecordID: "TEN-200006",
			AgencyCode:       "acme-lettings",
		})
		require.NoError(t, err)
		assert.Equal(t, SagaOutcomeDeferred, result.Outcome)

		job, err := h.jobRepo.ByTenantAndRecord(ctx, "acme-lettings", "TEN-200006")
		require.NoError(t, err)
		require.NotNil(t, job)
		// The record itself is complete, so the fast profile applies.
		assert.Equal(t, models.JobStatusPendingSubmit, job.Status)
		require.NotNil(t, job.LastErrorKind)
		assert.Equal(t, models.ErrorKindTransient, *job.LastErrorKind)

		claimed, err := h.jobRepo.Claim(ctx, job.ID, utils.UTCNow())
		require.NoError(t, err)
		require.True(t, claimed)
		job.Status = models.JobStatusProcessing

		retry, err := h.flow.Execute(ctx, job, models.AuditTriggerTick)
		require.NoError(t, err)
		assert.Equal(t, SagaOutcomeCompleted, retry.Outcome)
		assert.Len(t, h.scheme.Submissions, 2)

		return nil
	})
	require.NoError(t, err)
}

func TestTriggerIdentityGapFailsAndArchivesDetail(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		h := newSagaHarness(testDB, testConfig())
		ctx := context.Background()

		// The source record exists but carries no tenancy id of its own.
		tenancy := testingutil.NewTestTenancy("TEN-200008", "acme-lettings")
		tenancy.TenancyID = ""
		h.pms.Tenancies["TEN-200008"] = tenancy

		result, err := h.flow.Trigger(ctx, &dto.TriggerDepositRequest{
			ExternalRecordID: "TEN-200008",
			AgencyCode:       "acme-lettings",
		})
		require.Error(t, err)
		require.NotNil(t, result)
		assert.Equal(t, SagaOutcomeFailed, result.Outcome)

		// Identity gaps never defer: no active row, no retry scheduled.
		active, err := h.jobRepo.ByTenantAndRecord(ctx, "acme-lettings", "TEN-200008")
		require.NoError(t, err)
		assert.Nil(t, active)
		assert.Empty(t, h.scheme.Submissions)

		archived, err := h.archRepo.LatestByJobUUID(ctx, result.Job.UUID)
		require.NoError(t, err)
		require.NotNil(t, archived)
		assert.Equal(t, models.JobStatusFailed, archived.FinalStatus)

		// The archive carries exactly the detail the job held at archival.
		assert.Equal(t, result.Job.DecodeMissingFields(), archived.DecodeMissingFields())
		assert.Contains(t, archived.DecodeMissingFields()[CategoryIdentity], "tenancy_id")
		assert.Equal(t, result.Job.DecodeSteps(), archived.DecodeSteps())

		steps := archived.DecodeSteps()
		require.Len(t, steps, 2)
		assert.Equal(t, models.StepFetch, steps[0].Step)
		assert.Equal(t, models.StepOutcomeOK, steps[0].Outcome)
		assert.Equal(t, models.StepValidate, steps[1].Step)
		assert.Equal(t, models.StepOutcomeFailed, steps[1].Outcome)

		return nil
	})
	require.NoError(t, err)
}

func TestUnknownRecordFailsPermanently(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		h := newSagaHarness(testDB, testConfig())
		ctx := context.Background()

		result, err := h.flow.Trigger(ctx, &dto.TriggerDepositRequest{
			ExternalRecordID: "TEN-999999",
			AgencyCode:       "acme-lettings",
		})
		require.Error(t, err)
		require.NotNil(t, result)
		assert.Equal(t, SagaOutcomeFailed, result.Outcome)

		archived, err := h.archRepo.LatestByJobUUID(ctx, result.Job.UUID)
		require.NoError(t, err)
		require.NotNil(t, archived)
		assert.Equal(t, models.JobStatusFailed, archived.FinalStatus)

		return nil
	})
	require.NoError(t, err)
}

func TestTriggerRejectsProcessingJob(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		h := newSagaHarness(testDB, testConfig())
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := context.Background()

		job, err := fixtures.CreateTestJob(models.JobStatusProcessing)
		require.NoError(t, err)

		_, err = h.flow.Trigger(ctx, &dto.TriggerDepositRequest{
			ExternalRecordID: job.ExternalRecordID,
			AgencyCode:       "acme-lettings",
		})
		require.Error(t, err)
		assert.True(t, IsJobAlreadyProcessing(err))

		return nil
	})
	require.NoError(t, err)
}

func TestRegionLookupFailureFallsBackToDefault(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		h := newSagaHarness(testDB, testConfig())
		ctx := context.Background()

		// No region registered for the postcode; the mock lookup 404s.
		h.pms.SetTenancy(testingutil.NewTestTenancy("TEN-200007", "acme-lettings"))

		result, err := h.flow.Trigger(ctx, &dto.TriggerDepositRequest{
			ExternalRecordID: "TEN-200007",
			AgencyCode:       "acme-lettings",
		})
		require.NoError(t, err)
		assert.Equal(t, SagaOutcomeCompleted, result.Outcome)

		require.Len(t, h.scheme.Submissions, 1)
		assert.Equal(t, "EW", h.scheme.Submissions[0].Region)

		return nil
	})
	require.NoError(t, err)
}

// gatedSchemeClient blocks inside the submit step until released, holding
// an execution mid-saga so tests can observe concurrent trigger behavior.
type gatedSchemeClient struct {
	inner   *services.MockSchemeClient
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSchemeClient) SubmitDeposit(ctx context.Context, request *models.SchemeDepositRequest) (*models.SchemeDepositResult, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.inner.SubmitDeposit(ctx, request)
}

func TestConcurrentFreshTriggersSubmitOnce(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		cfg := testConfig()
		jobRepo := repository.NewIntegrationJobRepository(testDB.DB)
		archRepo := repository.NewArchivedJobRepository(testDB.DB)
		archival := NewArchivalFlow(jobRepo, archRepo, testDB.DB)

		pms := services.NewMockPMSClient()
		scheme := &gatedSchemeClient{
			inner:   services.NewMockSchemeClient(),
			entered: make(chan struct{}, 2),
			release: make(chan struct{}),
		}
		flow := NewDepositSagaFlow(
			jobRepo,
			archival,
			pms,
			scheme,
			services.NewMockPostcodeClient(),
			DefaultErrorClassifier(),
			services.NewMockAuditSink(),
			cfg,
			nil,
			log.Default(),
		)
		ctx := context.Background()

		pms.SetTenancy(testingutil.NewTestTenancy("TEN-200009", "acme-lettings"))
		req := &dto.TriggerDepositRequest{
			ExternalRecordID: "TEN-200009",
			AgencyCode:       "acme-lettings",
		}

		done := make(chan error, 1)
		go func() {
			_, err := flow.Trigger(ctx, req)
			done <- err
		}()
		<-scheme.entered

		// The active row written before execution fences the second trigger
		// out even without the cache-side suppression.
		_, err := flow.Trigger(ctx, req)
		require.Error(t, err)
		assert.True(t, IsJobAlreadyProcessing(err))

		close(scheme.release)
		require.NoError(t, <-done)
		assert.Len(t, scheme.inner.Submissions, 1)

		return nil
	})
	require.NoError(t, err)
}

// assertableError is a plain error with a fixed message for scripting
// downstream failures.
type assertableError string

func (e assertableError) Error() string { return string(e) }
