package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"claims-orchestrator/internal/domain"
	"claims-orchestrator/internal/workflow"
)

type IndexWriter interface {
	PutIndex(ctx context.Context, claimID string, body []byte) (string, error)
}

// IndexEntry is the searchable summary written for every completed claim.
type IndexEntry struct {
	ClaimID      string                      `json:"claim_id"`
	DocumentID   string                      `json:"document_id"`
	DocumentHash string                      `json:"document_hash"`
	Priority     domain.Priority             `json:"priority"`
	ClaimNumber  string                      `json:"claim_number,omitempty"`
	MemberID     string                      `json:"member_id,omitempty"`
	ProviderNPI  string                      `json:"provider_npi,omitempty"`
	ServiceDate  string                      `json:"service_date,omitempty"`
	TotalBilled  float64                     `json:"total_billed"`
	TotalAllowed float64                     `json:"total_allowed"`
	Decision     domain.AdjudicationDecision `json:"decision,omitempty"`
	Corrections  int                         `json:"correction_attempts"`
	IndexedAt    time.Time                   `json:"indexed_at"`
}

type Indexer struct {
	Store IndexWriter
	Now   func() time.Time
}

func (ix *Indexer) Run(ctx context.Context, req workflow.StageRequest) (workflow.StageResult, error) {
	var st domain.ClaimState
	if err := json.Unmarshal(req.Payload, &st); err != nil {
		return workflow.StageResult{}, fmt.Errorf("decode claim state: %w", err)
	}
	now := time.Now
	if ix.Now != nil {
		now = ix.Now
	}

	entry := IndexEntry{
		ClaimID:      st.Record.ID,
		DocumentID:   st.Record.DocumentID,
		DocumentHash: st.Record.DocumentHash,
		Priority:     st.Record.Priority,
		Corrections:  st.CorrectionAttempts,
		IndexedAt:    now().UTC(),
	}
	if len(st.ExtractedClaim) > 0 {
		var v domain.ClaimExtraction
		if err := json.Unmarshal(st.ExtractedClaim, &v); err == nil {
			entry.ClaimNumber = deref(v.ClaimNumber)
			entry.MemberID = deref(v.MemberID)
			entry.ProviderNPI = deref(v.ProviderNPI)
			entry.ServiceDate = deref(v.ServiceDate)
			entry.TotalBilled = v.TotalBilled
		}
	}
	if len(st.AdjudicationResult) > 0 {
		var out domain.AdjudicationOutcome
		if err := json.Unmarshal(st.AdjudicationResult, &out); err == nil {
			entry.Decision = out.Decision
			entry.TotalAllowed = out.TotalAllowed
		}
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return workflow.StageResult{}, err
	}
	key, err := ix.Store.PutIndex(ctx, st.Record.ID, body)
	if err != nil {
		return workflow.StageResult{}, err
	}
	return workflow.Succeeded(map[string]string{"key": key}, nil)
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
