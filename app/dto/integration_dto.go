package dto

import "time"

// Trigger outcomes reported to on-demand callers
const (
	TriggerOutcomeCompleted = "completed"
	TriggerOutcomeDeferred  = "deferred"
	TriggerOutcomeFailed    = "failed"
)

// TriggerDepositRequest represents an inbound deposit registration trigger
type TriggerDepositRequest struct {
	ExternalRecordID string  `json:"external_record_id" validate:"required,max=64"`
	AgencyCode       string  `json:"agency_code" validate:"required,max=64"`
	BranchCode       *string `json:"branch_code,omitempty" validate:"omitempty,max=64"`
	TestMode         bool    `json:"test_mode,omitempty"`
}

// TriggerDepositResponse represents the synchronous outcome of a trigger
type TriggerDepositResponse struct {
	Outcome            string              `json:"outcome"`
	JobUUID            string              `json:"job_uuid,omitempty"`
	Status             string              `json:"status,omitempty"`
	MissingFields      map[string][]string `json:"missing_fields,omitempty"`
	NextAttemptAt      *time.Time          `json:"next_attempt_at,omitempty"`
	SchemeDepositID    string              `json:"scheme_deposit_id,omitempty"`
	SchemeConfirmation string              `json:"scheme_confirmation,omitempty"`
	Reason             string              `json:"reason,omitempty"`
}

// TickResponse represents the summary of one scheduler tick
type TickResponse struct {
	Processed    int `json:"processed"`
	Completed    int `json:"completed"`
	Failed       int `json:"failed"`
	StillPending int `json:"still_pending"`
	Swept        int `json:"swept"`
}

// JobStepDTO is one step history entry on a job status response
type JobStepDTO struct {
	Step    string    `json:"step"`
	Outcome string    `json:"outcome"`
	At      time.Time `json:"at"`
	Detail  string    `json:"detail,omitempty"`
}

// JobStatusResponse represents the externally visible state of a job,
// active or archived
type JobStatusResponse struct {
	JobUUID            string              `json:"job_uuid"`
	ExternalRecordID   string              `json:"external_record_id"`
	TenantKey          string              `json:"tenant_key"`
	Status             string              `json:"status"`
	Archived           bool                `json:"archived"`
	Reason             string              `json:"reason,omitempty"`
	AttemptCount       int                 `json:"attempt_count"`
	MaxAttempts        int                 `json:"max_attempts,omitempty"`
	NextAttemptAt      *time.Time          `json:"next_attempt_at,omitempty"`
	MissingFields      map[string][]string `json:"missing_fields,omitempty"`
	LastError          string              `json:"last_error,omitempty"`
	LastErrorKind      string              `json:"last_error_kind,omitempty"`
	SchemeDepositID    string              `json:"scheme_deposit_id,omitempty"`
	SchemeConfirmation string              `json:"scheme_confirmation,omitempty"`
	Steps              []JobStepDTO        `json:"steps,omitempty"`
	Tenancy            *TenancySummaryDTO  `json:"tenancy,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	CompletedAt        *time.Time          `json:"completed_at,omitempty"`
}

// TenancySummaryDTO is a condensed view of the last fetched source record.
// Omitted when no usable snapshot exists.
type TenancySummaryDTO struct {
	TenancyID     string `json:"tenancy_id,omitempty"`
	Postcode      string `json:"postcode,omitempty"`
	TenantCount   int    `json:"tenant_count"`
	DepositAmount string `json:"deposit_amount,omitempty"`
}

// CancelJobResponse represents the outcome of an operator cancellation
type CancelJobResponse struct {
	JobUUID string `json:"job_uuid"`
	Status  string `json:"status"`
	Message string `json:"message"`
}
