package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"claims-orchestrator/internal/domain"
	"claims-orchestrator/internal/workflow"
)

var usDate = []string{"01/02/2006", "1/2/2006", "01-02-2006"}

// Enricher normalizes identifiers and dates so the validator and reviewers
// see one canonical form.
type Enricher struct{}

func (Enricher) Run(_ context.Context, req workflow.StageRequest) (workflow.StageResult, error) {
	var v domain.ClaimExtraction
	if err := json.Unmarshal(req.Payload, &v); err != nil {
		return failed("decode extracted claim", err), nil
	}

	for _, p := range []*string{v.ClaimNumber, v.MemberID, v.ProviderNPI} {
		if p != nil {
			*p = strings.ToUpper(strings.TrimSpace(*p))
		}
	}
	for _, p := range []*string{v.PatientName, v.ProviderName} {
		if p != nil {
			*p = strings.Join(strings.Fields(*p), " ")
		}
	}
	if v.ProviderNPI != nil {
		*v.ProviderNPI = strings.NewReplacer("-", "", " ", "").Replace(*v.ProviderNPI)
	}
	v.ServiceDate = isoDate(v.ServiceDate)
	v.PatientDOB = isoDate(v.PatientDOB)

	codes := make([]string, 0, len(v.DiagnosisCodes))
	seen := make(map[string]struct{}, len(v.DiagnosisCodes))
	for _, c := range v.DiagnosisCodes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if _, ok := seen[c]; ok || c == "" {
			continue
		}
		seen[c] = struct{}{}
		codes = append(codes, c)
	}
	if len(codes) > 0 {
		v.DiagnosisCodes = codes
	} else {
		v.DiagnosisCodes = nil
	}

	var sum float64
	for i := range v.LineItems {
		if pc := v.LineItems[i].ProcedureCode; pc != nil {
			*pc = strings.ToUpper(strings.TrimSpace(*pc))
		}
		sum += v.LineItems[i].BilledAmount
	}
	if v.TotalBilled == 0 && sum > 0 {
		v.TotalBilled = math.Round(sum*100) / 100
	}
	return workflow.Succeeded(v, nil)
}

func isoDate(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	for _, layout := range usDate {
		if t, err := time.Parse(layout, s); err == nil {
			s = t.Format("2006-01-02")
			break
		}
	}
	return &s
}

// Validator applies the claim rules. It reports no score of its own so the
// orchestrator scores from the extraction confidence.
type Validator struct {
	Now func() time.Time
}

func (v *Validator) Run(_ context.Context, req workflow.StageRequest) (workflow.StageResult, error) {
	var claim domain.ClaimExtraction
	if err := json.Unmarshal(req.Payload, &claim); err != nil {
		return failed("decode extracted claim", err), nil
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	return workflow.Succeeded(domain.ValidateClaim(claim, now().UTC()), nil)
}

const optionalFieldPenalty = 0.025

// QualityAssessor scores field completeness: the share of required fields
// present, less a small penalty per missing optional field.
type QualityAssessor struct{}

func (QualityAssessor) Run(_ context.Context, req workflow.StageRequest) (workflow.StageResult, error) {
	var v domain.ClaimExtraction
	if err := json.Unmarshal(req.Payload, &v); err != nil {
		return failed("decode extracted claim", err), nil
	}

	required := []struct {
		name    string
		present bool
	}{
		{"claim_number", !blankPtr(v.ClaimNumber)},
		{"patient_name", !blankPtr(v.PatientName)},
		{"member_id", !blankPtr(v.MemberID)},
		{"provider_name", !blankPtr(v.ProviderName)},
		{"provider_npi", !blankPtr(v.ProviderNPI)},
		{"service_date", !blankPtr(v.ServiceDate)},
		{"line_items", len(v.LineItems) > 0},
	}
	optional := []struct {
		name    string
		present bool
	}{
		{"patient_dob", !blankPtr(v.PatientDOB)},
		{"diagnosis_codes", len(v.DiagnosisCodes) > 0},
	}

	report := domain.QualityReport{}
	present := 0
	for _, f := range required {
		if f.present {
			present++
		} else {
			report.MissingFields = append(report.MissingFields, f.name)
		}
	}
	score := float64(present) / float64(len(required))
	for _, f := range optional {
		if !f.present {
			report.MissingFields = append(report.MissingFields, f.name)
			score -= optionalFieldPenalty
		}
	}
	report.Score = math.Round(domain.ClampConfidence(score)*1000) / 1000
	return workflow.Succeeded(report, nil)
}

func blankPtr(v *string) bool {
	return v == nil || strings.TrimSpace(*v) == ""
}

// Adjudicator allows or denies each line on its own merits. There is no fee
// schedule: an allowed line is allowed at its billed amount. The stage
// confidence is the share of lines allowed, so mostly denied claims reach a
// reviewer.
type Adjudicator struct{}

func (Adjudicator) Run(_ context.Context, req workflow.StageRequest) (workflow.StageResult, error) {
	var v domain.ClaimExtraction
	if err := json.Unmarshal(req.Payload, &v); err != nil {
		return failed("decode extracted claim", err), nil
	}
	if len(v.LineItems) == 0 {
		return failed("claim has no line items", nil), nil
	}

	out := domain.AdjudicationOutcome{Lines: make([]domain.AdjudicatedLine, 0, len(v.LineItems))}
	seen := make(map[string]struct{}, len(v.LineItems))
	allowed := 0
	for _, item := range v.LineItems {
		line := domain.AdjudicatedLine{BilledAmount: item.BilledAmount}
		if item.ProcedureCode != nil {
			line.ProcedureCode = *item.ProcedureCode
		}
		switch {
		case strings.TrimSpace(line.ProcedureCode) == "":
			line.Denied, line.Reason = true, "missing procedure code"
		case item.Units <= 0:
			line.Denied, line.Reason = true, "no units billed"
		case item.BilledAmount <= 0:
			line.Denied, line.Reason = true, "no amount billed"
		default:
			key := fmt.Sprintf("%s/%d/%.2f", line.ProcedureCode, item.Units, item.BilledAmount)
			if _, dup := seen[key]; dup {
				line.Denied, line.Reason = true, "duplicate line"
			} else {
				seen[key] = struct{}{}
			}
		}
		if !line.Denied {
			line.AllowedAmount = item.BilledAmount
			allowed++
		}
		out.TotalBilled += item.BilledAmount
		out.TotalAllowed += line.AllowedAmount
		out.Lines = append(out.Lines, line)
	}

	switch allowed {
	case len(out.Lines):
		out.Decision = domain.AdjudicationApproved
	case 0:
		out.Decision = domain.AdjudicationDenied
	default:
		out.Decision = domain.AdjudicationPartial
	}
	return workflow.Succeeded(out, workflow.Score(float64(allowed)/float64(len(out.Lines))))
}
