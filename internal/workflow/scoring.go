package workflow

import (
	"encoding/json"

	"claims-orchestrator/internal/domain"
)

type ScoreInput struct {
	Extracted       json.RawMessage
	Report          domain.ValidationReport
	StageConfidence *float64
}

// ConfidenceScorer turns a validation outcome into the score the routing
// policy acts on. Results are clamped to [0,1] by the orchestrator.
type ConfidenceScorer func(ScoreInput) float64

const (
	errorPenalty       = 0.1
	validBonus         = 0.05
	fallbackConfidence = 0.5
)

// DefaultScorer starts from the validator's score, or the extractor's own
// confidence field, then takes errorPenalty per error and adds validBonus
// when the claim is valid.
func DefaultScorer(in ScoreInput) float64 {
	base := fallbackConfidence
	if in.StageConfidence != nil {
		base = *in.StageConfidence
	} else {
		var hint struct {
			Confidence *float64 `json:"confidence"`
		}
		if err := json.Unmarshal(in.Extracted, &hint); err == nil && hint.Confidence != nil {
			base = *hint.Confidence
		}
	}

	score := base - errorPenalty*float64(len(in.Report.Errors))
	if in.Report.IsValid {
		score += validBonus
	}
	return domain.ClampConfidence(score)
}
