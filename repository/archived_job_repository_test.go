package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lettable/deposync/models"
	testingutil "github.com/lettable/deposync/testing"
	"github.com/lettable/deposync/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newArchivedJob(jobUUID uuid.UUID, finalStatus models.JobStatus, archivedAt time.Time) *models.ArchivedJob {
	return &models.ArchivedJob{
		JobUUID:          jobUUID,
		ExternalRecordID: "TEN-600001",
		TenantKey:        "acme-lettings",
		AgencyCode:       "acme-lettings",
		FinalStatus:      finalStatus,
		Reason:           "deposit registered",
		AttemptCount:     1,
		MissingFields:    []byte("{}"),
		Steps:            []byte("[]"),
		JobCreatedAt:     archivedAt.Add(-time.Hour),
		ArchivedAt:       archivedAt,
	}
}

func TestArchivedJobRepository(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		repo := NewArchivedJobRepository(testDB.DB)
		ctx := context.Background()
		now := utils.UTCNow()

		t.Run("ByJobUUIDOrdersOldestFirst", func(t *testing.T) {
			jobUUID := uuid.New()
			first := newArchivedJob(jobUUID, models.JobStatusFailed, now.Add(-2*time.Hour))
			first.Reason = "lease expired"
			require.NoError(t, repo.Save(ctx, first))
			second := newArchivedJob(jobUUID, models.JobStatusCompleted, now)
			require.NoError(t, repo.Save(ctx, second))

			rows, err := repo.ByJobUUID(ctx, jobUUID)
			require.NoError(t, err)
			require.Len(t, rows, 2)
			assert.Equal(t, models.JobStatusFailed, rows[0].FinalStatus)
			assert.Equal(t, models.JobStatusCompleted, rows[1].FinalStatus)

			latest, err := repo.LatestByJobUUID(ctx, jobUUID)
			require.NoError(t, err)
			require.NotNil(t, latest)
			assert.Equal(t, models.JobStatusCompleted, latest.FinalStatus)
		})

		t.Run("LatestMissingReturnsNil", func(t *testing.T) {
			latest, err := repo.LatestByJobUUID(ctx, uuid.New())
			require.NoError(t, err)
			assert.Nil(t, latest)
		})

		t.Run("ListByTenantKey", func(t *testing.T) {
			rows, err := repo.ListByTenantKey(ctx, "acme-lettings", 10, 0)
			require.NoError(t, err)
			assert.NotEmpty(t, rows)

			none, err := repo.ListByTenantKey(ctx, "unknown-agency", 10, 0)
			require.NoError(t, err)
			assert.Empty(t, none)
		})

		return nil
	})
	require.NoError(t, err)
}

func TestAuditRecordRepository(t *testing.T) {
	err := testingutil.TestWithDB(func(testDB *testingutil.TestDB) error {
		repo := NewAuditRecordRepository(testDB.DB)
		ctx := context.Background()
		jobUUID := uuid.New()

		records := []*models.AuditRecord{
			{JobUUID: jobUUID, TenantKey: "acme-lettings", Trigger: models.AuditTriggerOnDemand, Outcome: models.AuditOutcomeDeferred, StepCount: 2},
			{JobUUID: jobUUID, TenantKey: "acme-lettings", Trigger: models.AuditTriggerTick, Outcome: models.AuditOutcomeFailed, StepCount: 5, Detail: "validation failed"},
			{JobUUID: uuid.New(), TenantKey: "other-agency", Trigger: models.AuditTriggerTick, Outcome: models.AuditOutcomeCompleted, StepCount: 6},
		}
		for _, record := range records {
			require.NoError(t, repo.Save(ctx, record))
		}

		byJob, err := repo.ListByJob(ctx, jobUUID, 10, 0)
		require.NoError(t, err)
		assert.Len(t, byJob, 2)

		failures, err := repo.ListFailures(ctx, 10, 0)
		require.NoError(t, err)
		require.Len(t, failures, 1)
		assert.Equal(t, "validation failed", failures[0].Detail)

		return nil
	})
	require.NoError(t, err)
}
