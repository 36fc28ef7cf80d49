package domain

import (
	"testing"
	"time"
)

func validClaim() ClaimExtraction {
	return ClaimExtraction{
		ClaimNumber:    strPtr("CLM-100"),
		PatientName:    strPtr("Jane Doe"),
		PatientDOB:     strPtr("1980-04-02"),
		MemberID:       strPtr("M-55"),
		ProviderName:   strPtr("Northside Clinic"),
		ProviderNPI:    strPtr("1234567890"),
		ServiceDate:    strPtr("2025-01-15"),
		DiagnosisCodes: []string{"J06.9"},
		LineItems: []ClaimLineItem{
			{ProcedureCode: strPtr("99213"), Units: 1, BilledAmount: 120},
			{ProcedureCode: strPtr("87880"), Units: 1, BilledAmount: 30},
		},
		TotalBilled: 150,
		Confidence:  0.9,
	}
}

func TestValidateClaimRules(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	res := ValidateClaim(validClaim(), now)
	if !res.IsValid || len(res.Errors) != 0 {
		t.Fatalf("expected no failed rules, got %v", res.Errors)
	}

	invalid := validClaim()
	invalid.ProviderNPI = strPtr("12-34")
	invalid.TotalBilled = 200
	invalid.ServiceDate = strPtr("2026-01-01")
	res = ValidateClaim(invalid, now)
	if res.IsValid {
		t.Fatalf("expected failed rules")
	}

	got := map[string]bool{}
	for _, issue := range res.Errors {
		got[issue.Rule] = true
	}
	for _, rule := range []string{"claim.provider_npi_format", "claim.total_matches_line_items", "claim.service_date_not_future"} {
		if !got[rule] {
			t.Fatalf("expected rule %s in %v", rule, res.Errors)
		}
	}
}

func TestValidateClaimMissingLineItems(t *testing.T) {
	v := validClaim()
	v.LineItems = nil
	res := ValidateClaim(v, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	fields := res.Fields()
	if len(fields) != 1 || fields[0] != "line_items" {
		t.Fatalf("unexpected low confidence fields: %v", fields)
	}
}

func strPtr(v string) *string {
	return &v
}
