package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Tenancy is the record fetched from the property-management system. It is
// never persisted as its own table; the saga keeps the last fetched copy as a
// JSON snapshot on the integration job so retries do not always start from a
// cold fetch.
type Tenancy struct {
	TenancyID     string           `json:"tenancy_id"`
	AgencyCode    string           `json:"agency_code"`
	BranchCode    *string          `json:"branch_code,omitempty"`
	Property      *Property        `json:"property,omitempty"`
	Tenants       []Tenant         `json:"tenants,omitempty"`
	DepositAmount *decimal.Decimal `json:"deposit_amount,omitempty"`
	BondReference *string          `json:"bond_reference,omitempty"`
	StartDate     *time.Time       `json:"start_date,omitempty"`
}

// Property is the dwelling the deposit is held against.
type Property struct {
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city,omitempty"`
	Postcode     string `json:"postcode"`
	Region       string `json:"region,omitempty"`
}

// Tenant is one party on the tenancy agreement.
type Tenant struct {
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Email     *string `json:"email,omitempty"`
	Phone     *string `json:"phone,omitempty"`
}

// FullName returns the tenant's display name.
func (t Tenant) FullName() string {
	if t.FirstName == "" {
		return t.LastName
	}
	if t.LastName == "" {
		return t.FirstName
	}
	return t.FirstName + " " + t.LastName
}

// HasContact reports whether the tenant carries at least one reachable
// contact detail. The deposit scheme rejects parties with neither.
func (t Tenant) HasContact() bool {
	return (t.Email != nil && *t.Email != "") || (t.Phone != nil && *t.Phone != "")
}

// TenantKeyFor builds the composite organisation key used to partition jobs:
// the agency code plus an optional sub-branch.
func TenantKeyFor(agencyCode string, branchCode *string) string {
	if branchCode != nil && *branchCode != "" {
		return fmt.Sprintf("%s:%s", agencyCode, *branchCode)
	}
	return agencyCode
}
