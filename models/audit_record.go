package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit trigger kinds
const (
	AuditTriggerOnDemand = "on_demand"
	AuditTriggerTick     = "tick"
	AuditTriggerSweep    = "sweep"
)

// Audit outcomes
const (
	AuditOutcomeCompleted = "completed"
	AuditOutcomeDeferred  = "deferred"
	AuditOutcomeFailed    = "failed"
	AuditOutcomeExpired   = "expired"
	AuditOutcomeCancelled = "cancelled"
)

// AuditRecord is one structured per-execution entry written through the
// audit sink. Sink write failures never abort the saga.
type AuditRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	JobUUID   uuid.UUID `gorm:"type:uuid;index;not null" json:"job_uuid"`
	TenantKey string    `gorm:"size:128;not null;index" json:"tenant_key"`
	Trigger   string    `gorm:"type:varchar(10);not null" json:"trigger"`
	Outcome   string    `gorm:"type:varchar(12);not null;index" json:"outcome"`
	StepCount int       `gorm:"not null;default:0" json:"step_count"`
	Duration  int64     `gorm:"not null;default:0" json:"duration_ms"`
	Detail    string    `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt time.Time `gorm:"not null;default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index" json:"created_at"`
}

func (AuditRecord) TableName() string { return "audit_records" }

// AuditRecordFilter represents filter criteria for audit queries
type AuditRecordFilter struct {
	JobUUID *uuid.UUID `json:"job_uuid,omitempty"`
	Outcome *string    `json:"outcome,omitempty"`
}
