package businessflow

import (
	"sort"

	"github.com/lettable/deposync/models"
)

// Missing-field categories. Identity gaps are structural and never resolve
// by waiting; the rest plausibly arrive later through normal data entry.
const (
	CategoryIdentity = "identity"
	CategoryProperty = "property"
	CategoryTenant   = "tenant"
	CategoryContact  = "contact"
	CategoryDeposit  = "deposit"
)

// CompletenessResult reports which required fields a fetched tenancy lacks.
type CompletenessResult struct {
	IsComplete bool
	Missing    map[string][]string
	Deferrable bool
}

// DepositOnly reports whether the deposit amount is the only gap. Such jobs
// qualify for the faster pending-submit retry profile.
func (r CompletenessResult) DepositOnly() bool {
	if r.IsComplete {
		return false
	}
	if len(r.Missing) != 1 {
		return false
	}
	fields, ok := r.Missing[CategoryDeposit]
	return ok && len(fields) > 0
}

// FlatFields returns every missing field as "category.field", sorted, for
// indexable persistence alongside the categorized map.
func (r CompletenessResult) FlatFields() []string {
	var flat []string
	for category, fields := range r.Missing {
		for _, field := range fields {
			flat = append(flat, category+"."+field)
		}
	}
	sort.Strings(flat)
	return flat
}

// ValidateCompleteness checks a fetched tenancy against the fields the
// deposit scheme requires. Deterministic and side-effect-free.
func ValidateCompleteness(tenancy *models.Tenancy) CompletenessResult {
	missing := make(map[string][]string)

	if tenancy == nil {
		return CompletenessResult{
			Missing:    map[string][]string{CategoryIdentity: {"record"}},
			Deferrable: false,
		}
	}

	if tenancy.TenancyID == "" {
		missing[CategoryIdentity] = append(missing[CategoryIdentity], "tenancy_id")
	}
	if tenancy.AgencyCode == "" {
		missing[CategoryIdentity] = append(missing[CategoryIdentity], "agency_code")
	}

	if tenancy.Property == nil {
		missing[CategoryProperty] = append(missing[CategoryProperty], "address")
	} else {
		if tenancy.Property.AddressLine1 == "" {
			missing[CategoryProperty] = append(missing[CategoryProperty], "address_line1")
		}
		if tenancy.Property.Postcode == "" {
			missing[CategoryProperty] = append(missing[CategoryProperty], "postcode")
		}
	}

	if len(tenancy.Tenants) == 0 {
		missing[CategoryTenant] = append(missing[CategoryTenant], "tenants")
	} else {
		for _, tenant := range tenancy.Tenants {
			if tenant.FirstName == "" || tenant.LastName == "" {
				missing[CategoryTenant] = append(missing[CategoryTenant], "tenant_name")
				break
			}
		}
		for _, tenant := range tenancy.Tenants {
			if !tenant.HasContact() {
				missing[CategoryContact] = append(missing[CategoryContact], "tenant_contact")
				break
			}
		}
	}

	if tenancy.DepositAmount == nil || tenancy.DepositAmount.IsZero() {
		missing[CategoryDeposit] = append(missing[CategoryDeposit], "deposit_amount")
	}

	if len(missing) == 0 {
		return CompletenessResult{IsComplete: true, Missing: map[string][]string{}, Deferrable: false}
	}

	// Deferrable iff nothing structural is absent.
	_, identityMissing := missing[CategoryIdentity]
	return CompletenessResult{
		IsComplete: false,
		Missing:    missing,
		Deferrable: !identityMissing,
	}
}

// PendingStatusFor maps a deferrable result to its pending status.
func PendingStatusFor(result CompletenessResult) models.JobStatus {
	if result.DepositOnly() {
		return models.JobStatusPendingSubmit
	}
	return models.JobStatusPendingData
}
