package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"claims-orchestrator/internal/domain"
)

// Stage names as they appear in events, spans and StageExecutionError.
const (
	StageParse      = "parsing"
	StageExtract    = "extraction"
	StageEnrich     = "enrichment"
	StageValidate   = "validation"
	StageCorrect    = "correction"
	StageQuality    = "quality"
	StageAdjudicate = "adjudication"
	StageIndex      = "indexing"
)

// Claim metadata keys written at intake.
const (
	MetaObjectKey = "object_key"
	MetaFilename  = "filename"
)

// StageRequest is what a collaborator receives. Payload depends on the
// stage: parsing gets Document and no Payload, extraction gets the
// ParsedDocument, correction gets a CorrectionInput, indexing gets the whole
// claim state, everything else gets the current extracted claim.
type StageRequest struct {
	ClaimID  string
	Stage    string
	Payload  json.RawMessage
	Document []byte
	Claim    domain.ClaimState
}

// StageResult mirrors the collaborator contract. A nil error with
// Success=false is a failure reported by the collaborator itself.
type StageResult struct {
	Success         bool
	Data            json.RawMessage
	Error           string
	ConfidenceScore *float64
}

type Stage interface {
	Run(ctx context.Context, req StageRequest) (StageResult, error)
}

type StageFunc func(ctx context.Context, req StageRequest) (StageResult, error)

func (f StageFunc) Run(ctx context.Context, req StageRequest) (StageResult, error) {
	return f(ctx, req)
}

// Stages wires collaborators into the pipeline. Enrich, Quality and Index
// are optional.
type Stages struct {
	Parse      Stage
	Extract    Stage
	Enrich     Stage
	Validate   Stage
	Correct    Stage
	Quality    Stage
	Adjudicate Stage
	Index      Stage
}

func (s Stages) validate() error {
	required := map[string]Stage{
		StageParse:      s.Parse,
		StageExtract:    s.Extract,
		StageValidate:   s.Validate,
		StageCorrect:    s.Correct,
		StageAdjudicate: s.Adjudicate,
	}
	for name, st := range required {
		if st == nil {
			return fmt.Errorf("%s stage is required", name)
		}
	}
	return nil
}

type ParsedDocument struct {
	Filename string `json:"filename,omitempty"`
	Text     string `json:"text"`
}

type CorrectionInput struct {
	Document   json.RawMessage `json:"document"`
	Extracted  json.RawMessage `json:"extracted"`
	Validation json.RawMessage `json:"validation,omitempty"`
}

// Succeeded builds a successful result around v.
func Succeeded(v any, confidence *float64) (StageResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return StageResult{}, err
	}
	return StageResult{Success: true, Data: data, ConfidenceScore: confidence}, nil
}

func Score(v float64) *float64 {
	return &v
}
