package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ArchivedJob is the immutable terminal record of an integration job. It is
// written once by the archival flow, which then deletes the active row; the
// archive is never updated afterwards.
type ArchivedJob struct {
	ID      uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	JobUUID uuid.UUID `gorm:"type:uuid;index;not null" json:"job_uuid"`

	ExternalRecordID string  `gorm:"size:64;not null;index" json:"external_record_id"`
	TenantKey        string  `gorm:"size:128;not null;index" json:"tenant_key"`
	AgencyCode       string  `gorm:"size:64;not null" json:"agency_code"`
	BranchCode       *string `gorm:"size:64" json:"branch_code,omitempty"`

	FinalStatus JobStatus `gorm:"type:varchar(20);not null;index" json:"final_status"`
	Reason      string    `gorm:"type:text" json:"reason"`

	AttemptCount int `gorm:"not null" json:"attempt_count"`

	// Full history and state at time of archival
	Snapshot          json.RawMessage `gorm:"type:jsonb" json:"snapshot,omitempty"`
	SnapshotTruncated bool            `gorm:"not null;default:false" json:"snapshot_truncated"`
	MissingFields     json.RawMessage `gorm:"type:jsonb;default:'{}'" json:"missing_fields"`
	MissingFieldList  pq.StringArray  `gorm:"type:text[]" json:"missing_field_list,omitempty"`
	Steps             json.RawMessage `gorm:"type:jsonb;default:'[]'" json:"steps"`
	LastError         *string         `gorm:"type:text" json:"last_error,omitempty"`
	LastErrorKind     *string         `gorm:"type:varchar(10)" json:"last_error_kind,omitempty"`

	SchemeDepositID    *string `gorm:"size:64" json:"scheme_deposit_id,omitempty"`
	SchemeConfirmation *string `gorm:"size:64" json:"scheme_confirmation,omitempty"`

	TestMode bool `gorm:"not null;default:false" json:"test_mode"`

	JobCreatedAt time.Time `gorm:"not null" json:"job_created_at"`
	ArchivedAt   time.Time `gorm:"not null;default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index" json:"archived_at"`
}

func (ArchivedJob) TableName() string { return "archived_job_records" }

// DecodeSteps returns the archived step history
func (a *ArchivedJob) DecodeSteps() []StepRecord {
	if len(a.Steps) == 0 {
		return nil
	}
	var steps []StepRecord
	if err := json.Unmarshal(a.Steps, &steps); err != nil {
		return nil
	}
	return steps
}

// DecodeMissingFields returns the categorized missing-field map at archival
func (a *ArchivedJob) DecodeMissingFields() map[string][]string {
	out := map[string][]string{}
	if len(a.MissingFields) == 0 {
		return out
	}
	_ = json.Unmarshal(a.MissingFields, &out)
	return out
}

// ArchivedJobFilter represents filter criteria for archive queries
type ArchivedJobFilter struct {
	JobUUID     *uuid.UUID `json:"job_uuid,omitempty"`
	TenantKey   *string    `json:"tenant_key,omitempty"`
	FinalStatus *JobStatus `json:"final_status,omitempty"`
}
