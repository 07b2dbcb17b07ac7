package models

import (
	"github.com/shopspring/decimal"
)

// SchemeDepositRequest is the payload submitted to the deposit-registration
// scheme. It is built from a complete, enriched Tenancy; the builder enforces
// the scheme's required-field rules before anything goes over the wire.
type SchemeDepositRequest struct {
	TenancyReference string           `json:"tenancy_reference"`
	AgencyCode       string           `json:"agency_code"`
	BranchCode       *string          `json:"branch_code,omitempty"`
	PropertyAddress  string           `json:"property_address"`
	Postcode         string           `json:"postcode"`
	Region           string           `json:"region"`
	DepositAmount    decimal.Decimal  `json:"deposit_amount"`
	BondReference    *string          `json:"bond_reference,omitempty"`
	Tenants          []SchemeTenant   `json:"tenants"`
	TestMode         bool             `json:"test_mode,omitempty"`
}

// SchemeTenant is one deposit-holding party as the scheme expects it: a name
// plus at least one of email or phone.
type SchemeTenant struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// SchemeDepositResult carries the scheme's correlation identifiers for a
// successful registration.
type SchemeDepositResult struct {
	DepositID          string `json:"deposit_id"`
	ConfirmationNumber string `json:"confirmation_number"`
}
