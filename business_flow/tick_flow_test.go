package businessflow

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lettable/deposync/app/dto"
	"github.com/lettable/deposync/models"
	testingutil "github.com/lettable/deposync/testing"
	"github.com/lettable/deposync/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTickHarness(testDB *testingutil.TestDB) (TickFlow, *sagaHarness) {
	cfg := testConfig()
	h := newSagaHarness(testDB, cfg)
	archival := NewArchivalFlow(h.jobRepo, h.archRepo, testDB.DB)
	tick := NewTickFlow(h.jobRepo, h.flow, archival, cfg, log.Default())
	return tick, h
}

func TestRunTickProcessesReadyJobs(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		tick, h := newTickHarness(testDB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := context.Background()

		job, err := fixtures.CreateTestJob(models.JobStatusPendingSubmit)
		require.NoError(t, err)
		h.pms.SetTenancy(testingutil.NewTestTenancy(job.ExternalRecordID, "acme-lettings"))

		summary, err := tick.RunTick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Processed)
		assert.Equal(t, 1, summary.Completed)
		assert.Equal(t, 0, summary.StillPending)
		assert.Equal(t, 0, summary.Failed)

		// The job completed and archived.
		active, err := h.jobRepo.ByUUID(ctx, job.UUID)
		require.NoError(t, err)
		assert.Nil(t, active)

		archived, err := h.archRepo.LatestByJobUUID(ctx, job.UUID)
		require.NoError(t, err)
		require.NotNil(t, archived)
		assert.Equal(t, models.JobStatusCompleted, archived.FinalStatus)

		return nil
	})
	require.NoError(t, err)
}

func TestRunTickLeavesFutureJobsAlone(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		tick, h := newTickHarness(testDB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := context.Background()

		job, err := fixtures.CreateTestJob(models.JobStatusPendingData)
		require.NoError(t, err)

		// Push the next attempt into the future.
		job.NextAttemptAt = utils.UTCNow().Add(time.Hour)
		require.NoError(t, h.jobRepo.Update(ctx, job))

		summary, err := tick.RunTick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, summary.Processed)

		active, err := h.jobRepo.ByUUID(ctx, job.UUID)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, models.JobStatusPendingData, active.Status)

		return nil
	})
	require.NoError(t, err)
}

func TestRunTickRedefersIncompleteJob(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		tick, h := newTickHarness(testDB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := context.Background()

		job, err := fixtures.CreateTestJob(models.JobStatusPendingSubmit)
		require.NoError(t, err)
		h.pms.SetTenancy(testingutil.NewTestTenancyMissingDeposit(job.ExternalRecordID, "acme-lettings"))

		summary, err := tick.RunTick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Processed)
		assert.Equal(t, 1, summary.StillPending)

		active, err := h.jobRepo.ByUUID(ctx, job.UUID)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, models.JobStatusPendingSubmit, active.Status)
		assert.Equal(t, 2, active.AttemptCount)
		assert.True(t, active.NextAttemptAt.After(utils.UTCNow()))

		return nil
	})
	require.NoError(t, err)
}

// captureSagaFlow records the jobs the tick hands to the saga.
type captureSagaFlow struct {
	captured []*models.IntegrationJob
}

func (f *captureSagaFlow) Trigger(ctx context.Context, req *dto.TriggerDepositRequest) (*SagaResult, error) {
	return nil, nil
}

func (f *captureSagaFlow) Execute(ctx context.Context, job *models.IntegrationJob, trigger string) (*SagaResult, error) {
	f.captured = append(f.captured, job)
	return &SagaResult{Outcome: SagaOutcomeDeferred, Job: job}, nil
}

func TestRunTickExecutesClaimedState(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		cfg := testConfig()
		h := newSagaHarness(testDB, cfg)
		archival := NewArchivalFlow(h.jobRepo, h.archRepo, testDB.DB)
		capture := &captureSagaFlow{}
		tick := NewTickFlow(h.jobRepo, capture, archival, cfg, log.Default())
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := context.Background()

		job, err := fixtures.CreateTestJob(models.JobStatusPendingSubmit)
		require.NoError(t, err)

		_, err = tick.RunTick(ctx)
		require.NoError(t, err)

		// The saga must receive the row as the claim left it, not the listed
		// copy from before the claim: a racing worker can re-defer the job in
		// between, and executing the listed copy would run with a stale
		// attempt count and snapshot.
		require.Len(t, capture.captured, 1)
		executed := capture.captured[0]
		assert.Equal(t, job.UUID, executed.UUID)
		assert.Equal(t, models.JobStatusProcessing, executed.Status)
		assert.NotNil(t, executed.LeaseStartedAt)

		return nil
	})
	require.NoError(t, err)
}

func TestSweepReclaimsStaleLease(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		tick, h := newTickHarness(testDB)
		ctx := context.Background()

		stale := utils.UTCNow().Add(-time.Hour)
		job := &models.IntegrationJob{
			UUID:             uuid.New(),
			ExternalRecordID: "TEN-300001",
			TenantKey:        "acme-lettings",
			AgencyCode:       "acme-lettings",
			Status:           models.JobStatusProcessing,
			AttemptCount:     3,
			MaxAttempts:      12,
			NextAttemptAt:    utils.UTCNow(),
			LeaseStartedAt:   &stale,
			Steps:            []byte("[]"),
			MissingFields:    []byte("{}"),
		}
		require.NoError(t, h.jobRepo.Save(ctx, job))

		summary, err := tick.RunTick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Swept)

		active, err := h.jobRepo.ByUUID(ctx, job.UUID)
		require.NoError(t, err)
		assert.Nil(t, active)

		archived, err := h.archRepo.LatestByJobUUID(ctx, job.UUID)
		require.NoError(t, err)
		require.NotNil(t, archived)
		assert.Equal(t, models.JobStatusFailed, archived.FinalStatus)
		assert.Equal(t, "lease expired", archived.Reason)

		return nil
	})
	require.NoError(t, err)
}

func TestSweepRetiresAttemptCappedJob(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		tick, h := newTickHarness(testDB)
		ctx := context.Background()

		job := &models.IntegrationJob{
			UUID:             uuid.New(),
			ExternalRecordID: "TEN-300002",
			TenantKey:        "acme-lettings",
			AgencyCode:       "acme-lettings",
			Status:           models.JobStatusPendingData,
			AttemptCount:     12,
			MaxAttempts:      12,
			NextAttemptAt:    utils.UTCNow().Add(time.Hour),
			Steps:            []byte("[]"),
			MissingFields:    []byte("{}"),
		}
		require.NoError(t, h.jobRepo.Save(ctx, job))

		summary, err := tick.RunTick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Swept)

		archived, err := h.archRepo.LatestByJobUUID(ctx, job.UUID)
		require.NoError(t, err)
		require.NotNil(t, archived)
		assert.Equal(t, models.JobStatusExpired, archived.FinalStatus)
		assert.Equal(t, "attempts exhausted", archived.Reason)

		return nil
	})
	require.NoError(t, err)
}

func TestSweepRetiresCancelledJob(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		tick, h := newTickHarness(testDB)
		fixtures := testingutil.NewTestFixtures(testDB)
		ctx := context.Background()

		job, err := fixtures.CreateTestJob(models.JobStatusCancelled)
		require.NoError(t, err)

		summary, err := tick.RunTick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Swept)

		archived, err := h.archRepo.LatestByJobUUID(ctx, job.UUID)
		require.NoError(t, err)
		require.NotNil(t, archived)
		assert.Equal(t, models.JobStatusCancelled, archived.FinalStatus)
		assert.Equal(t, "cancelled by operator", archived.Reason)

		return nil
	})
	require.NoError(t, err)
}
