package domain

import (
	"errors"
	"math"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// ValidateClaim applies the structural rules every extracted claim must pass
// before it can be adjudicated. now bounds the service date.
func ValidateClaim(v ClaimExtraction, now time.Time) ValidationReport {
	failed := make([]ValidationIssue, 0)
	warnings := make([]ValidationIssue, 0)

	if blank(v.ClaimNumber) {
		failed = append(failed, ValidationIssue{Field: "claim_number", Rule: "claim.claim_number_present"})
	}
	if blank(v.PatientName) {
		failed = append(failed, ValidationIssue{Field: "patient_name", Rule: "claim.patient_name_present"})
	}
	if blank(v.MemberID) {
		failed = append(failed, ValidationIssue{Field: "member_id", Rule: "claim.member_id_present"})
	}
	if !validNPI(v.ProviderNPI) {
		failed = append(failed, ValidationIssue{Field: "provider_npi", Rule: "claim.provider_npi_format", Message: "NPI must be 10 digits"})
	}

	serviceDate, err := parseISODate(v.ServiceDate)
	if err != nil {
		failed = append(failed, ValidationIssue{Field: "service_date", Rule: "claim.service_date_parseable"})
	} else if serviceDate.After(now) {
		failed = append(failed, ValidationIssue{Field: "service_date", Rule: "claim.service_date_not_future"})
	}
	if v.PatientDOB != nil {
		dob, err := time.Parse(dateLayout, *v.PatientDOB)
		if err != nil {
			warnings = append(warnings, ValidationIssue{Field: "patient_dob", Rule: "claim.patient_dob_parseable"})
		} else if !serviceDate.IsZero() && dob.After(serviceDate) {
			failed = append(failed, ValidationIssue{Field: "patient_dob", Rule: "claim.patient_dob_before_service"})
		}
	}

	if len(v.LineItems) == 0 {
		failed = append(failed, ValidationIssue{Field: "line_items", Rule: "claim.line_items_present"})
	}
	var sum float64
	for _, item := range v.LineItems {
		if blank(item.ProcedureCode) {
			failed = append(failed, ValidationIssue{Field: "line_items", Rule: "claim.procedure_code_present"})
		}
		if item.BilledAmount < 0 || item.Units < 0 {
			failed = append(failed, ValidationIssue{Field: "line_items", Rule: "claim.line_amounts_non_negative"})
		}
		sum += item.BilledAmount
	}
	if v.TotalBilled <= 0 {
		failed = append(failed, ValidationIssue{Field: "total_billed", Rule: "claim.total_billed_gt_zero"})
	} else if len(v.LineItems) > 0 && math.Abs(sum-v.TotalBilled) > 0.01 {
		failed = append(failed, ValidationIssue{Field: "total_billed", Rule: "claim.total_matches_line_items"})
	}
	if len(v.DiagnosisCodes) == 0 {
		warnings = append(warnings, ValidationIssue{Field: "diagnosis_codes", Rule: "claim.diagnosis_codes_present"})
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		failed = append(failed, ValidationIssue{Field: "confidence", Rule: "claim.confidence_range"})
	}

	return ValidationReport{IsValid: len(failed) == 0, Errors: failed, Warnings: warnings}
}

func parseISODate(v *string) (time.Time, error) {
	if v == nil {
		return time.Time{}, errors.New("date is null")
	}
	return time.Parse(dateLayout, *v)
}

func blank(v *string) bool {
	return v == nil || strings.TrimSpace(*v) == ""
}

func validNPI(v *string) bool {
	if v == nil || len(*v) != 10 {
		return false
	}
	for _, r := range *v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
