package domain

import (
	"encoding/json"
	"time"
)

const ClaimJSONSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": [
    "claim_number",
    "patient_name",
    "member_id",
    "provider_name",
    "provider_npi",
    "service_date",
    "line_items",
    "total_billed",
    "confidence"
  ],
  "properties": {
    "claim_number": {"type": ["string", "null"]},
    "patient_name": {"type": ["string", "null"]},
    "patient_dob": {"type": ["string", "null"]},
    "member_id": {"type": ["string", "null"]},
    "provider_name": {"type": ["string", "null"]},
    "provider_npi": {"type": ["string", "null"]},
    "service_date": {"type": ["string", "null"]},
    "diagnosis_codes": {"type": "array", "items": {"type": "string"}},
    "line_items": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["procedure_code", "units", "billed_amount"],
        "properties": {
          "procedure_code": {"type": ["string", "null"]},
          "units": {"type": "integer", "minimum": 0},
          "billed_amount": {"type": "number"}
        }
      }
    },
    "total_billed": {"type": "number"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

type ClaimLineItem struct {
	ProcedureCode *string `json:"procedure_code"`
	Units         int     `json:"units"`
	BilledAmount  float64 `json:"billed_amount"`
}

type ClaimExtraction struct {
	ClaimNumber    *string         `json:"claim_number"`
	PatientName    *string         `json:"patient_name"`
	PatientDOB     *string         `json:"patient_dob,omitempty"`
	MemberID       *string         `json:"member_id"`
	ProviderName   *string         `json:"provider_name"`
	ProviderNPI    *string         `json:"provider_npi"`
	ServiceDate    *string         `json:"service_date"`
	DiagnosisCodes []string        `json:"diagnosis_codes,omitempty"`
	LineItems      []ClaimLineItem `json:"line_items"`
	TotalBilled    float64         `json:"total_billed"`
	Confidence     float64         `json:"confidence"`
}

type HistoryEntry struct {
	Status    ClaimStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Message   string      `json:"message,omitempty"`
}

type ClaimRecord struct {
	ID                string            `json:"id"`
	Status            ClaimStatus       `json:"status"`
	Priority          Priority          `json:"priority"`
	DocumentID        string            `json:"document_id"`
	DocumentHash      string            `json:"document_hash"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	ProcessingHistory []HistoryEntry    `json:"processing_history"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// ClaimState is the unit of work owned by the state manager. Payload fields
// are opaque results of external stages.
type ClaimState struct {
	Record             ClaimRecord     `json:"record"`
	ExtractedClaim     json.RawMessage `json:"extracted_claim,omitempty"`
	ValidationResult   json.RawMessage `json:"validation_result,omitempty"`
	AdjudicationResult json.RawMessage `json:"adjudication_result,omitempty"`
	QualityResult      json.RawMessage `json:"quality_result,omitempty"`
	CorrectionAttempts int             `json:"correction_attempts"`
	LastError          string          `json:"last_error,omitempty"`
}

func (s ClaimState) ID() string {
	return s.Record.ID
}

func (s ClaimState) Status() ClaimStatus {
	return s.Record.Status
}

// Clone returns a deep copy so callers never share slices or maps with the
// authoritative copy.
func (s ClaimState) Clone() ClaimState {
	out := s
	out.Record.ProcessingHistory = append([]HistoryEntry(nil), s.Record.ProcessingHistory...)
	if s.Record.Metadata != nil {
		out.Record.Metadata = make(map[string]string, len(s.Record.Metadata))
		for k, v := range s.Record.Metadata {
			out.Record.Metadata[k] = v
		}
	}
	out.ExtractedClaim = cloneRaw(s.ExtractedClaim)
	out.ValidationResult = cloneRaw(s.ValidationResult)
	out.AdjudicationResult = cloneRaw(s.AdjudicationResult)
	out.QualityResult = cloneRaw(s.QualityResult)
	return out
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	return append(json.RawMessage(nil), v...)
}

// StateTransition is emitted once per status change and never mutated.
type StateTransition struct {
	ClaimID    string            `json:"claim_id"`
	FromStatus ClaimStatus       `json:"from_status"`
	ToStatus   ClaimStatus       `json:"to_status"`
	Timestamp  time.Time         `json:"timestamp"`
	Message    string            `json:"message,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type ValidationIssue struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message,omitempty"`
}

type ValidationReport struct {
	IsValid  bool              `json:"is_valid"`
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Fields returns the distinct fields named by the report's errors, in order.
func (r ValidationReport) Fields() []string {
	seen := make(map[string]struct{}, len(r.Errors))
	out := make([]string, 0, len(r.Errors))
	for _, issue := range r.Errors {
		if issue.Field == "" {
			continue
		}
		if _, ok := seen[issue.Field]; ok {
			continue
		}
		seen[issue.Field] = struct{}{}
		out = append(out, issue.Field)
	}
	return out
}

type AdjudicationDecision string

const (
	AdjudicationApproved AdjudicationDecision = "approved"
	AdjudicationPartial  AdjudicationDecision = "partial"
	AdjudicationDenied   AdjudicationDecision = "denied"
)

type AdjudicatedLine struct {
	ProcedureCode string  `json:"procedure_code"`
	BilledAmount  float64 `json:"billed_amount"`
	AllowedAmount float64 `json:"allowed_amount"`
	Denied        bool    `json:"denied"`
	Reason        string  `json:"reason,omitempty"`
}

type AdjudicationOutcome struct {
	Decision     AdjudicationDecision `json:"decision"`
	TotalBilled  float64              `json:"total_billed"`
	TotalAllowed float64              `json:"total_allowed"`
	Lines        []AdjudicatedLine    `json:"lines"`
}

type QualityReport struct {
	Score         float64  `json:"score"`
	MissingFields []string `json:"missing_fields,omitempty"`
}
