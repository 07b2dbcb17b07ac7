package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lettable/deposync/utils"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// JobStatus represents the status of an integration job
type JobStatus string

const (
	JobStatusPendingData   JobStatus = "pending_data"   // Deferred: source record incomplete, waiting for data
	JobStatusPendingSubmit JobStatus = "pending_submit" // Deferred: only the deposit amount (or the submit itself) is outstanding
	JobStatusProcessing    JobStatus = "processing"     // Leased by a worker, execution in flight
	JobStatusCompleted     JobStatus = "completed"      // Registered with the scheme
	JobStatusFailed        JobStatus = "failed"         // Permanent downstream failure, no retry
	JobStatusExpired       JobStatus = "expired"        // Attempts exhausted or lease reclaimed
	JobStatusCancelled     JobStatus = "cancelled"      // Operator cancellation, archived on next sweep
)

// Step outcomes recorded on the job's audit trail
const (
	StepOutcomeOK       = "ok"
	StepOutcomeFailed   = "failed"
	StepOutcomeDeferred = "deferred"
	StepOutcomeSkipped  = "skipped"
)

// Saga step names
const (
	StepFetch    = "fetch"
	StepValidate = "validate"
	StepEnrich   = "enrich"
	StepBuild    = "build_payload"
	StepSubmit   = "submit"
	StepPersist  = "persist_result"
)

// Error kinds assigned by the classifier
const (
	ErrorKindPermanent = "permanent"
	ErrorKindTransient = "transient"
)

// StepRecord is one entry in a job's ordered execution history.
type StepRecord struct {
	Step    string    `json:"step"`
	Outcome string    `json:"outcome"`
	At      time.Time `json:"at"`
	Detail  string    `json:"detail,omitempty"`
}

// IntegrationJob is the unit of work: one tenancy record to be registered
// with the deposit scheme. Exactly one active job may exist per tenant key +
// external record pair; terminal jobs are moved to archived_job_records and
// deleted from this table.
type IntegrationJob struct {
	ID   uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID uuid.UUID `gorm:"type:uuid;uniqueIndex;not null;default:gen_random_uuid()" json:"uuid"`

	// Identity
	ExternalRecordID string  `gorm:"size:64;not null;uniqueIndex:idx_integration_jobs_active,priority:2" json:"external_record_id"`
	TenantKey        string  `gorm:"size:128;not null;uniqueIndex:idx_integration_jobs_active,priority:1" json:"tenant_key"`
	AgencyCode       string  `gorm:"size:64;not null" json:"agency_code"`
	BranchCode       *string `gorm:"size:64" json:"branch_code,omitempty"`

	// Status and retry bookkeeping
	Status         JobStatus  `gorm:"type:varchar(20);not null;index:idx_integration_jobs_ready,priority:1" json:"status"`
	AttemptCount   int        `gorm:"not null;default:0" json:"attempt_count"`
	MaxAttempts    int        `gorm:"not null" json:"max_attempts"`
	NextAttemptAt  time.Time  `gorm:"not null;index:idx_integration_jobs_ready,priority:2" json:"next_attempt_at"`
	LeaseStartedAt *time.Time `json:"lease_started_at,omitempty"`

	// Payload snapshot: last fetched tenancy, possibly partial, possibly
	// truncated (see utils.TruncateJSON).
	Snapshot          json.RawMessage `gorm:"type:jsonb" json:"snapshot,omitempty"`
	SnapshotTruncated bool            `gorm:"not null;default:false" json:"snapshot_truncated"`

	// Outcome fields
	MissingFields    json.RawMessage `gorm:"type:jsonb;default:'{}'" json:"missing_fields"`
	MissingFieldList pq.StringArray  `gorm:"type:text[]" json:"missing_field_list,omitempty"`
	LastError        *string         `gorm:"type:text" json:"last_error,omitempty"`
	LastErrorKind    *string         `gorm:"type:varchar(10)" json:"last_error_kind,omitempty"`

	// Downstream correlation identifiers, set on successful submit
	SchemeDepositID    *string `gorm:"size:64" json:"scheme_deposit_id,omitempty"`
	SchemeConfirmation *string `gorm:"size:64" json:"scheme_confirmation,omitempty"`

	// Ordered step history across all executions of this job
	Steps json.RawMessage `gorm:"type:jsonb;default:'[]'" json:"steps"`

	TestMode bool `gorm:"not null;default:false" json:"test_mode"`

	CreatedAt   time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (IntegrationJob) TableName() string { return "integration_jobs" }

// BeforeCreate ensures the UUID is set
func (j *IntegrationJob) BeforeCreate(tx *gorm.DB) error {
	if j.UUID == uuid.Nil {
		j.UUID = uuid.New()
	}
	return nil
}

// IsTerminal returns true if the job reached a pre-archival terminal marker
func (j *IntegrationJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted ||
		j.Status == JobStatusFailed ||
		j.Status == JobStatusExpired ||
		j.Status == JobStatusCancelled
}

// IsPending returns true if the job is waiting for a retry tick
func (j *IntegrationJob) IsPending() bool {
	return j.Status == JobStatusPendingData || j.Status == JobStatusPendingSubmit
}

// LeaseExpired reports whether a processing job's lease is older than the
// given timeout. Jobs in any other status never hold a lease.
func (j *IntegrationJob) LeaseExpired(timeout time.Duration) bool {
	if j.Status != JobStatusProcessing || j.LeaseStartedAt == nil {
		return false
	}
	return utils.UTCNow().Sub(*j.LeaseStartedAt) > timeout
}

// AttemptsExhausted reports whether the retry cap has been reached
func (j *IntegrationJob) AttemptsExhausted() bool {
	return j.MaxAttempts > 0 && j.AttemptCount >= j.MaxAttempts
}

// DecodeSteps returns the job's step history. A missing or malformed steps
// column decodes to an empty history rather than an error, so a partially
// written job never blocks archival.
func (j *IntegrationJob) DecodeSteps() []StepRecord {
	if len(j.Steps) == 0 {
		return nil
	}
	var steps []StepRecord
	if err := json.Unmarshal(j.Steps, &steps); err != nil {
		return nil
	}
	return steps
}

// SetSteps replaces the job's step history
func (j *IntegrationJob) SetSteps(steps []StepRecord) {
	b, err := json.Marshal(steps)
	if err != nil {
		return
	}
	j.Steps = b
}

// SetMissingFields replaces the categorized missing-field map and the flat
// queryable list together so the two never drift apart.
func (j *IntegrationJob) SetMissingFields(missing map[string][]string, flat []string) {
	b, err := json.Marshal(missing)
	if err != nil {
		b = []byte("{}")
	}
	j.MissingFields = b
	j.MissingFieldList = pq.StringArray(flat)
}

// DecodeMissingFields returns the categorized missing-field map
func (j *IntegrationJob) DecodeMissingFields() map[string][]string {
	out := map[string][]string{}
	if len(j.MissingFields) == 0 {
		return out
	}
	_ = json.Unmarshal(j.MissingFields, &out)
	return out
}

// DecodeSnapshot returns the last fetched tenancy, or nil when no usable
// snapshot exists (never fetched, or truncated to fit the store).
func (j *IntegrationJob) DecodeSnapshot() *Tenancy {
	if len(j.Snapshot) == 0 || j.SnapshotTruncated {
		return nil
	}
	var t Tenancy
	if err := json.Unmarshal(j.Snapshot, &t); err != nil {
		return nil
	}
	return &t
}

// IntegrationJobFilter represents filter criteria for job queries
type IntegrationJobFilter struct {
	UUID             *uuid.UUID `json:"uuid,omitempty"`
	TenantKey        *string    `json:"tenant_key,omitempty"`
	ExternalRecordID *string    `json:"external_record_id,omitempty"`
	Status           *JobStatus `json:"status,omitempty"`
	ReadyBefore      *time.Time `json:"ready_before,omitempty"`
}
