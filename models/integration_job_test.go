package models

import (
	"testing"
	"time"

	"github.com/lettable/deposync/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusHelpers(t *testing.T) {
	t.Run("Terminal", func(t *testing.T) {
		for _, status := range []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusExpired, JobStatusCancelled} {
			job := &IntegrationJob{Status: status}
			assert.True(t, job.IsTerminal(), string(status))
			assert.False(t, job.IsPending(), string(status))
		}
	})

	t.Run("Pending", func(t *testing.T) {
		for _, status := range []JobStatus{JobStatusPendingData, JobStatusPendingSubmit} {
			job := &IntegrationJob{Status: status}
			assert.True(t, job.IsPending(), string(status))
			assert.False(t, job.IsTerminal(), string(status))
		}
	})

	t.Run("ProcessingIsNeither", func(t *testing.T) {
		job := &IntegrationJob{Status: JobStatusProcessing}
		assert.False(t, job.IsPending())
		assert.False(t, job.IsTerminal())
	})
}

func TestLeaseExpired(t *testing.T) {
	stale := utils.UTCNow().Add(-time.Hour)
	fresh := utils.UTCNow().Add(-time.Minute)

	assert.True(t, (&IntegrationJob{Status: JobStatusProcessing, LeaseStartedAt: &stale}).LeaseExpired(15*time.Minute))
	assert.False(t, (&IntegrationJob{Status: JobStatusProcessing, LeaseStartedAt: &fresh}).LeaseExpired(15*time.Minute))
	assert.False(t, (&IntegrationJob{Status: JobStatusProcessing}).LeaseExpired(15*time.Minute))
	assert.False(t, (&IntegrationJob{Status: JobStatusPendingData, LeaseStartedAt: &stale}).LeaseExpired(15*time.Minute))
}

func TestAttemptsExhausted(t *testing.T) {
	assert.True(t, (&IntegrationJob{AttemptCount: 12, MaxAttempts: 12}).AttemptsExhausted())
	assert.False(t, (&IntegrationJob{AttemptCount: 11, MaxAttempts: 12}).AttemptsExhausted())
	// Zero MaxAttempts disables the cap.
	assert.False(t, (&IntegrationJob{AttemptCount: 100, MaxAttempts: 0}).AttemptsExhausted())
}

func TestDecodeSnapshot(t *testing.T) {
	job := &IntegrationJob{}
	assert.Nil(t, job.DecodeSnapshot())

	job.Snapshot = []byte(`{"tenancy_id":"TEN-1"}`)
	snap := job.DecodeSnapshot()
	require.NotNil(t, snap)
	assert.Equal(t, "TEN-1", snap.TenancyID)

	// A truncated snapshot is partial and must not decode.
	job.SnapshotTruncated = true
	assert.Nil(t, job.DecodeSnapshot())

	job.SnapshotTruncated = false
	job.Snapshot = []byte("not json")
	assert.Nil(t, job.DecodeSnapshot())
}

func TestStepHistoryRoundTrip(t *testing.T) {
	job := &IntegrationJob{}
	assert.Empty(t, job.DecodeSteps())

	at := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)
	job.SetSteps([]StepRecord{
		{Step: StepFetch, Outcome: StepOutcomeOK, At: at},
		{Step: StepSubmit, Outcome: StepOutcomeDeferred, At: at, Detail: "scheme returned status 503"},
	})

	steps := job.DecodeSteps()
	require.Len(t, steps, 2)
	assert.Equal(t, StepFetch, steps[0].Step)
	assert.Equal(t, "scheme returned status 503", steps[1].Detail)

	// Malformed history decodes to empty instead of failing.
	job.Steps = []byte("not json")
	assert.Empty(t, job.DecodeSteps())
}

func TestMissingFieldsRoundTrip(t *testing.T) {
	job := &IntegrationJob{}
	job.SetMissingFields(map[string][]string{"deposit": {"deposit_amount"}}, []string{"deposit.deposit_amount"})

	missing := job.DecodeMissingFields()
	require.Len(t, missing, 1)
	assert.Equal(t, []string{"deposit_amount"}, missing["deposit"])
	assert.Equal(t, []string{"deposit.deposit_amount"}, []string(job.MissingFieldList))
}

func TestTenantKeyFor(t *testing.T) {
	branch := "leeds"
	empty := ""
	assert.Equal(t, "acme-lettings", TenantKeyFor("acme-lettings", nil))
	assert.Equal(t, "acme-lettings", TenantKeyFor("acme-lettings", &empty))
	assert.Equal(t, "acme-lettings:leeds", TenantKeyFor("acme-lettings", &branch))
}

func TestTenantHelpers(t *testing.T) {
	email := "a@example.com"
	phone := "07700900123"

	assert.Equal(t, "Priya Shah", Tenant{FirstName: "Priya", LastName: "Shah"}.FullName())
	assert.Equal(t, "Priya", Tenant{FirstName: "Priya"}.FullName())
	assert.Equal(t, "Shah", Tenant{LastName: "Shah"}.FullName())

	assert.True(t, Tenant{Email: &email}.HasContact())
	assert.True(t, Tenant{Phone: &phone}.HasContact())
	assert.False(t, Tenant{}.HasContact())
	emptyStr := ""
	assert.False(t, Tenant{Email: &emptyStr}.HasContact())
}
