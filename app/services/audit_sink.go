package services

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lettable/deposync/models"
	"github.com/lettable/deposync/repository"
	"github.com/lettable/deposync/utils"
)

// AuditSink records saga outcomes for later inspection. Recording must
// never fail the saga; implementations absorb their own errors.
type AuditSink interface {
	Record(ctx context.Context, jobUUID uuid.UUID, tenantKey, trigger, outcome string, stepCount int, duration time.Duration, detail string)
}

// AuditSinkImpl implements AuditSink on top of the audit record store
type AuditSinkImpl struct {
	repo   repository.AuditRecordRepository
	logger *log.Logger
}

// NewAuditSink creates a new audit sink instance
func NewAuditSink(repo repository.AuditRecordRepository, logger *log.Logger) AuditSink {
	return &AuditSinkImpl{repo: repo, logger: logger}
}

// Record persists an audit record; failures are logged and swallowed.
func (s *AuditSinkImpl) Record(ctx context.Context, jobUUID uuid.UUID, tenantKey, trigger, outcome string, stepCount int, duration time.Duration, detail string) {
	record := &models.AuditRecord{
		JobUUID:   jobUUID,
		TenantKey: tenantKey,
		Trigger:   trigger,
		Outcome:   outcome,
		StepCount: stepCount,
		Duration:  duration.Milliseconds(),
		Detail:    detail,
		CreatedAt: utils.UTCNow(),
	}
	if err := s.repo.Save(ctx, record); err != nil {
		if s.logger != nil {
			s.logger.Printf("audit record write failed for job %s: %v", jobUUID, err)
		}
	}
}

// MockAuditSink implements AuditSink for testing
type MockAuditSink struct {
	Records []MockAuditEntry
}

// MockAuditEntry captures one recorded outcome
type MockAuditEntry struct {
	JobUUID   uuid.UUID
	TenantKey string
	Trigger   string
	Outcome   string
	StepCount int
	Duration  time.Duration
	Detail    string
}

// NewMockAuditSink creates a new mock audit sink
func NewMockAuditSink() *MockAuditSink {
	return &MockAuditSink{Records: make([]MockAuditEntry, 0)}
}

func (m *MockAuditSink) Record(ctx context.Context, jobUUID uuid.UUID, tenantKey, trigger, outcome string, stepCount int, duration time.Duration, detail string) {
	m.Records = append(m.Records, MockAuditEntry{
		JobUUID:   jobUUID,
		TenantKey: tenantKey,
		Trigger:   trigger,
		Outcome:   outcome,
		StepCount: stepCount,
		Duration:  duration,
		Detail:    detail,
	})
}
