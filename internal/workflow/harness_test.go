package workflow

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/stretchr/testify/require"

	"claims-orchestrator/internal/domain"
	"claims-orchestrator/internal/events"
	"claims-orchestrator/internal/review"
	"claims-orchestrator/internal/state"
	"claims-orchestrator/internal/storage"
)

const validClaim = `{"claim_number":"A-100","patient_name":"Jane Roe","member_id":"M-1","provider_name":"Bayside Clinic","provider_npi":"1234567893","service_date":"2025-02-10","line_items":[{"procedure_code":"99213","units":1,"billed_amount":125}],"total_billed":125,"confidence":0.92}`

type testingT interface {
	require.TestingT
	Helper()
}

// harness wires a real state manager and in-memory queue and blob store
// around stub stages, and counts stage invocations.
type harness struct {
	states *state.Manager
	store  *storage.MemoryClaimStore
	queue  *review.MemoryQueue
	docs   *storage.MemoryBlobStore
	bus    *events.Bus
	orch   *Orchestrator

	mu    sync.Mutex
	calls map[string]int
}

func newHarness(t testingT, stages Stages, cfg state.Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store: storage.NewMemoryClaimStore(),
		queue: review.NewMemoryQueue(),
		docs:  storage.NewMemoryBlobStore(),
		bus:   events.NewBus(),
		calls: make(map[string]int),
	}
	h.states = state.New(h.store, h.bus, nil, cfg)
	orch, err := New(Deps{States: h.states, Queue: h.queue, Documents: h.docs}, h.count(stages), opts...)
	require.NoError(t, err)
	h.orch = orch
	return h
}

func (h *harness) count(s Stages) Stages {
	wrap := func(name string, st Stage) Stage {
		if st == nil {
			return nil
		}
		return StageFunc(func(ctx context.Context, req StageRequest) (StageResult, error) {
			h.mu.Lock()
			h.calls[name]++
			h.mu.Unlock()
			return st.Run(ctx, req)
		})
	}
	return Stages{
		Parse:      wrap(StageParse, s.Parse),
		Extract:    wrap(StageExtract, s.Extract),
		Enrich:     wrap(StageEnrich, s.Enrich),
		Validate:   wrap(StageValidate, s.Validate),
		Correct:    wrap(StageCorrect, s.Correct),
		Quality:    wrap(StageQuality, s.Quality),
		Adjudicate: wrap(StageAdjudicate, s.Adjudicate),
		Index:      wrap(StageIndex, s.Index),
	}
}

func (h *harness) callCount(stage string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[stage]
}

// seed registers a stored document and a claim in received, without running
// the pipeline.
func (h *harness) seed(t testingT, claimID string) {
	t.Helper()
	ctx := context.Background()
	key, err := h.docs.PutDocument(ctx, "doc-"+claimID, "claim.txt", []byte("claim text for "+claimID))
	require.NoError(t, err)
	_, err = h.states.CreateState(ctx, state.NewClaim{
		ID:         claimID,
		DocumentID: "doc-" + claimID,
		Metadata:   map[string]string{MetaObjectKey: key},
	})
	require.NoError(t, err)
}

func (h *harness) statuses(t testingT, claimID string) []domain.ClaimStatus {
	t.Helper()
	st, err := h.states.GetState(context.Background(), claimID)
	require.NoError(t, err)
	out := make([]domain.ClaimStatus, 0, len(st.Record.ProcessingHistory))
	for _, e := range st.Record.ProcessingHistory {
		out = append(out, e.Status)
	}
	return out
}

func fixedScore(v float64) ConfidenceScorer {
	return func(ScoreInput) float64 { return v }
}

func validReport() StageResult {
	res, _ := Succeeded(domain.ValidationReport{IsValid: true, Errors: []domain.ValidationIssue{}}, nil)
	return res
}

func invalidReport(fields ...string) StageResult {
	report := domain.ValidationReport{}
	for _, f := range fields {
		report.Errors = append(report.Errors, domain.ValidationIssue{Field: f, Rule: "required"})
	}
	res, _ := Succeeded(report, nil)
	return res
}

// happyStages returns collaborators that push a claim straight to completion
// under the default scorer.
func happyStages() Stages {
	return Stages{
		Parse: StageFunc(func(_ context.Context, req StageRequest) (StageResult, error) {
			return Succeeded(ParsedDocument{Text: string(req.Document)}, nil)
		}),
		Extract: StageFunc(func(context.Context, StageRequest) (StageResult, error) {
			return StageResult{Success: true, Data: json.RawMessage(validClaim), ConfidenceScore: Score(0.92)}, nil
		}),
		Validate: StageFunc(func(context.Context, StageRequest) (StageResult, error) {
			return validReport(), nil
		}),
		Correct: StageFunc(func(_ context.Context, req StageRequest) (StageResult, error) {
			var in CorrectionInput
			if err := json.Unmarshal(req.Payload, &in); err != nil {
				return StageResult{}, err
			}
			return StageResult{Success: true, Data: in.Extracted}, nil
		}),
		Adjudicate: StageFunc(func(context.Context, StageRequest) (StageResult, error) {
			return Succeeded(domain.AdjudicationOutcome{Decision: domain.AdjudicationApproved, TotalBilled: 125, TotalAllowed: 125}, nil)
		}),
	}
}
