// Package testing provides test utilities and database setup for testing the deposit integration system
package testing

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/lettable/deposync/models"
	"github.com/lettable/deposync/utils"
	"github.com/shopspring/decimal"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// NewTestTenancy builds a fully populated tenancy record that passes the
// completeness check as-is.
func NewTestTenancy(tenancyID, agencyCode string) *models.Tenancy {
	amount := decimal.NewFromInt(1250)
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	return &models.Tenancy{
		TenancyID:  tenancyID,
		AgencyCode: agencyCode,
		Property: &models.Property{
			AddressLine1: "14 Harcourt Terrace",
			City:         "Leeds",
			Postcode:     "LS6 2QD",
		},
		Tenants: []models.Tenant{
			{
				FirstName: "Priya",
				LastName:  "Shah",
				Email:     utils.ToPtr("priya.shah@example.com"),
			},
		},
		DepositAmount: &amount,
		StartDate:     &start,
	}
}

// NewTestTenancyMissingDeposit builds a tenancy that is complete except for
// the deposit amount, the deposit-only deferral case.
func NewTestTenancyMissingDeposit(tenancyID, agencyCode string) *models.Tenancy {
	t := NewTestTenancy(tenancyID, agencyCode)
	t.DepositAmount = nil
	return t
}

// NewTestTenancyMissingProperty builds a tenancy with no property details.
func NewTestTenancyMissingProperty(tenancyID, agencyCode string) *models.Tenancy {
	t := NewTestTenancy(tenancyID, agencyCode)
	t.Property = nil
	return t
}

// CreateTestJob inserts a pending integration job ready for the next tick
func (tf *TestFixtures) CreateTestJob(status models.JobStatus) (*models.IntegrationJob, error) {
	recordID := fmt.Sprintf("TEN-%06d", rand.Intn(900000)+100000)
	now := utils.UTCNow()

	job := &models.IntegrationJob{
		UUID:             uuid.New(),
		ExternalRecordID: recordID,
		TenantKey:        "acme-lettings",
		AgencyCode:       "acme-lettings",
		Status:           status,
		AttemptCount:     1,
		MaxAttempts:      12,
		NextAttemptAt:    now.Add(-time.Minute),
		Steps:            []byte("[]"),
		MissingFields:    []byte("{}"),
	}

	if err := tf.DB.DB.Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to create test job: %w", err)
	}

	return job, nil
}
