package temporal

import (
	"encoding/json"

	"claims-orchestrator/internal/domain"
)

const (
	ReviewDecisionSignalName = "reviewDecision"
	ClaimStatusQueryName     = "claimStatus"
)

type ReviewDecisionSignal struct {
	Decision    domain.ReviewDecisionType `json:"decision"`
	Corrections json.RawMessage           `json:"corrections,omitempty"`
	Reviewer    string                    `json:"reviewer,omitempty"`
	Notes       string                    `json:"notes,omitempty"`
}
