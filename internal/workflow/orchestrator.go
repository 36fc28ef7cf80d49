// Package workflow drives claims through the processing pipeline. It owns no
// claim data: every status and payload change goes through the state manager.
package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"claims-orchestrator/internal/domain"
	"claims-orchestrator/internal/events"
	"claims-orchestrator/internal/logging"
	"claims-orchestrator/internal/observability"
	"claims-orchestrator/internal/review"
	"claims-orchestrator/internal/state"
)

// Escalation reasons recorded in history, the review queue and events.
const (
	ReasonMaxCorrections = "max correction attempts reached"
	ReasonLowConfidence  = "low confidence — human review required"
	ReasonLowQuality     = "quality score below threshold"
	ReasonAdjudication   = "adjudication confidence below threshold"
)

type StateManager interface {
	CreateState(ctx context.Context, in state.NewClaim) (domain.ClaimState, error)
	GetState(ctx context.Context, claimID string) (domain.ClaimState, error)
	TransitionTo(ctx context.Context, claimID string, to domain.ClaimStatus, message string, metadata map[string]string) (domain.ClaimState, error)
	SetExtractedClaim(ctx context.Context, claimID string, payload json.RawMessage) (domain.ClaimState, error)
	SetValidationResult(ctx context.Context, claimID string, payload json.RawMessage) (domain.ClaimState, error)
	SetAdjudicationResult(ctx context.Context, claimID string, payload json.RawMessage) (domain.ClaimState, error)
	SetQualityResult(ctx context.Context, claimID string, payload json.RawMessage) (domain.ClaimState, error)
	IncrementCorrectionAttempts(ctx context.Context, claimID string) (int, error)
	CanAttemptCorrection(st domain.ClaimState) bool
	DetermineNextAction(confidence float64) domain.RoutingAction
	RoutingPolicy() domain.RoutingPolicy
	Bus() *events.Bus
}

type DocumentStore interface {
	PutDocument(ctx context.Context, documentID, filename string, content []byte) (string, error)
	GetDocument(ctx context.Context, objectKey string) ([]byte, error)
}

type Deps struct {
	States    StateManager
	Queue     review.Queue
	Documents DocumentStore
	Log       logging.Logger
	Tracer    *observability.Tracer
}

type Option func(*Orchestrator)

func WithScorer(s ConfidenceScorer) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.scorer = s
		}
	}
}

type DocumentInput struct {
	DocumentID string
	ClaimID    string
	Filename   string
	Content    []byte
	// ObjectKey points at an already stored document. When Content is empty
	// the document is read from there instead of being uploaded again.
	ObjectKey string
	Priority  domain.Priority
	Metadata  map[string]string
}

type WorkflowResult struct {
	Success          bool               `json:"success"`
	ClaimID          string             `json:"claim_id"`
	FinalStatus      domain.ClaimStatus `json:"final_status"`
	Error            string             `json:"error,omitempty"`
	Reason           string             `json:"reason,omitempty"`
	ProcessingTimeMs int64              `json:"processing_time_ms"`
}

type Orchestrator struct {
	states StateManager
	queue  review.Queue
	docs   DocumentStore
	stages Stages
	bus    *events.Bus
	log    logging.Logger
	tracer *observability.Tracer
	scorer ConfidenceScorer
	now    func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func New(deps Deps, stages Stages, opts ...Option) (*Orchestrator, error) {
	if deps.States == nil {
		return nil, errors.New("state manager is required")
	}
	if deps.Queue == nil {
		return nil, errors.New("review queue is required")
	}
	if deps.Documents == nil {
		return nil, errors.New("document store is required")
	}
	if err := stages.validate(); err != nil {
		return nil, err
	}
	if deps.Log == nil {
		deps.Log = logging.Nop()
	}
	if deps.Tracer == nil {
		deps.Tracer = observability.NewTracer()
	}

	o := &Orchestrator{
		states:   deps.States,
		queue:    deps.Queue,
		docs:     deps.Documents,
		stages:   stages,
		bus:      deps.States.Bus(),
		log:      deps.Log.With(logging.F("component", "orchestrator")),
		tracer:   deps.Tracer,
		scorer:   DefaultScorer,
		now:      time.Now,
		inFlight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// run is the transient view of one claim while a driver holds it.
type run struct {
	claimID  string
	started  time.Time
	state    domain.ClaimState
	content  []byte
	document json.RawMessage
	reviewed bool
}

// ProcessDocument registers a new claim for a document and drives it as far
// as it can go.
func (o *Orchestrator) ProcessDocument(ctx context.Context, in DocumentInput) (WorkflowResult, error) {
	docID := in.DocumentID
	if docID == "" {
		docID = uuid.NewString()
	}
	claimID := in.ClaimID
	if claimID == "" {
		claimID = "CLM-" + docID
	}
	filename := in.Filename
	if filename == "" {
		filename = "document.txt"
	}

	release, err := o.acquire(claimID)
	if err != nil {
		return WorkflowResult{ClaimID: claimID}, err
	}
	defer release()

	// A duplicate must be refused before anything is written for it.
	if _, err := o.states.GetState(ctx, claimID); err == nil {
		return WorkflowResult{ClaimID: claimID}, &domain.DuplicateClaimError{ClaimID: claimID}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return WorkflowResult{ClaimID: claimID}, err
	}

	content := in.Content
	objectKey := in.ObjectKey
	switch {
	case len(content) == 0 && objectKey == "":
		return WorkflowResult{ClaimID: claimID}, fmt.Errorf("document %s has no content", docID)
	case len(content) == 0:
		content, err = o.docs.GetDocument(ctx, objectKey)
		if err != nil {
			return WorkflowResult{ClaimID: claimID}, fmt.Errorf("fetch document %s: %w", objectKey, err)
		}
	case objectKey == "":
		objectKey, err = o.docs.PutDocument(ctx, docID, filename, content)
		if err != nil {
			return WorkflowResult{ClaimID: claimID}, fmt.Errorf("store document %s: %w", docID, err)
		}
	}

	sum := sha256.Sum256(content)
	metadata := make(map[string]string, len(in.Metadata)+2)
	for k, v := range in.Metadata {
		metadata[k] = v
	}
	metadata[MetaObjectKey] = objectKey
	metadata[MetaFilename] = filename

	if _, err := o.states.CreateState(ctx, state.NewClaim{
		ID:           claimID,
		DocumentID:   docID,
		DocumentHash: hex.EncodeToString(sum[:]),
		Priority:     in.Priority,
		Metadata:     metadata,
	}); err != nil {
		return WorkflowResult{ClaimID: claimID}, err
	}
	return o.drive(ctx, &run{claimID: claimID, content: content})
}

// ProcessClaim resumes a claim from its persisted status. Settled claims are
// reported as they are.
func (o *Orchestrator) ProcessClaim(ctx context.Context, claimID string) (WorkflowResult, error) {
	release, err := o.acquire(claimID)
	if err != nil {
		return WorkflowResult{ClaimID: claimID}, err
	}
	defer release()
	return o.drive(ctx, &run{claimID: claimID})
}

// Resubmit moves a failed claim back to received and processes it again.
func (o *Orchestrator) Resubmit(ctx context.Context, claimID string) (WorkflowResult, error) {
	release, err := o.acquire(claimID)
	if err != nil {
		return WorkflowResult{ClaimID: claimID}, err
	}
	defer release()

	if _, err := o.states.TransitionTo(ctx, claimID, domain.StatusReceived, "resubmitted", nil); err != nil {
		return WorkflowResult{ClaimID: claimID}, err
	}
	return o.drive(ctx, &run{claimID: claimID})
}

// ProcessBatch runs ProcessClaim for distinct claims with at most limit in
// flight. Per-claim errors are reported in the matching result.
func (o *Orchestrator) ProcessBatch(ctx context.Context, claimIDs []string, limit int) ([]WorkflowResult, error) {
	results := make([]WorkflowResult, len(claimIDs))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, id := range claimIDs {
		i, id := i, id
		g.Go(func() error {
			res, err := o.ProcessClaim(ctx, id)
			if err != nil {
				res.ClaimID = id
				res.Success = false
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}

func (o *Orchestrator) acquire(claimID string) (func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[claimID]; busy {
		return nil, fmt.Errorf("claim %s: %w", claimID, domain.ErrClaimBusy)
	}
	o.inFlight[claimID] = struct{}{}
	return func() {
		o.mu.Lock()
		delete(o.inFlight, claimID)
		o.mu.Unlock()
	}, nil
}

func (o *Orchestrator) drive(ctx context.Context, r *run) (WorkflowResult, error) {
	st, err := o.states.GetState(ctx, r.claimID)
	if err != nil {
		return WorkflowResult{ClaimID: r.claimID}, err
	}
	r.state = st
	r.started = o.now()
	if st.Record.Status.Settled() {
		return o.settled(r), nil
	}
	return o.traced(ctx, r, o.resume)
}

func (o *Orchestrator) traced(ctx context.Context, r *run, fn func(context.Context, *run) (WorkflowResult, error)) (WorkflowResult, error) {
	ctx, span := o.tracer.StartClaimSpan(ctx, r.claimID)
	o.publish(r, events.WorkflowEvent{Type: events.WorkflowStarted})
	o.log.Info("claim run started",
		logging.F("claim_id", r.claimID),
		logging.F("status", string(r.state.Record.Status)),
	)
	res, err := fn(ctx, r)
	observability.EndSpan(span, err)
	return res, err
}

// resume continues the pipeline from the claim's current status. Every step
// reloads what it needs from the persisted state, so a run abandoned at any
// point can pick up again here.
func (o *Orchestrator) resume(ctx context.Context, r *run) (WorkflowResult, error) {
	switch r.state.Record.Status {
	case domain.StatusReceived:
		if err := o.transition(ctx, r, domain.StatusParsing, "parsing document", nil); err != nil {
			return o.abort(ctx, r, err)
		}
		fallthrough
	case domain.StatusParsing:
		if err := o.parse(ctx, r); err != nil {
			return o.abort(ctx, r, err)
		}
		if err := o.transition(ctx, r, domain.StatusExtracting, "extracting claim fields", nil); err != nil {
			return o.abort(ctx, r, err)
		}
		fallthrough
	case domain.StatusExtracting:
		if err := o.extract(ctx, r); err != nil {
			return o.abort(ctx, r, err)
		}
		if err := o.transition(ctx, r, domain.StatusValidating, "validating claim", nil); err != nil {
			return o.abort(ctx, r, err)
		}
		return o.validationLoop(ctx, r)
	case domain.StatusValidating:
		return o.validationLoop(ctx, r)
	case domain.StatusCorrecting:
		if err := o.correct(ctx, r); err != nil {
			return o.abort(ctx, r, err)
		}
		if err := o.transition(ctx, r, domain.StatusValidating, "re-validating after correction", nil); err != nil {
			return o.abort(ctx, r, err)
		}
		return o.validationLoop(ctx, r)
	case domain.StatusAdjudicating:
		return o.adjudicate(ctx, r)
	default:
		return o.settled(r), nil
	}
}

func (o *Orchestrator) validationLoop(ctx context.Context, r *run) (WorkflowResult, error) {
	for {
		report, res, err := o.validate(ctx, r)
		if err != nil {
			return o.abort(ctx, r, err)
		}

		confidence := domain.ClampConfidence(o.scorer(ScoreInput{
			Extracted:       r.state.ExtractedClaim,
			Report:          report,
			StageConfidence: res.ConfidenceScore,
		}))
		action := o.states.DetermineNextAction(confidence)
		o.log.Debug("routing decision",
			logging.F("claim_id", r.claimID),
			logging.F("confidence", confidence),
			logging.F("action", string(action)),
			logging.F("errors", len(report.Errors)),
		)

		switch action {
		case domain.ActionAutoProcess:
			if o.stages.Quality != nil {
				escalate, err := o.assessQuality(ctx, r)
				if err != nil {
					return o.abort(ctx, r, err)
				}
				if escalate {
					return o.escalate(ctx, r, ReasonLowQuality, report.Fields())
				}
			}
			msg := fmt.Sprintf("auto-processed at confidence %.2f", confidence)
			if err := o.transition(ctx, r, domain.StatusAdjudicating, msg, nil); err != nil {
				return o.abort(ctx, r, err)
			}
			return o.adjudicate(ctx, r)

		case domain.ActionCorrect:
			if !o.states.CanAttemptCorrection(r.state) {
				return o.escalate(ctx, r, ReasonMaxCorrections, report.Fields())
			}
			msg := fmt.Sprintf("correction attempt %d at confidence %.2f", r.state.CorrectionAttempts+1, confidence)
			if err := o.transition(ctx, r, domain.StatusCorrecting, msg, nil); err != nil {
				return o.abort(ctx, r, err)
			}
			count, err := o.states.IncrementCorrectionAttempts(ctx, r.claimID)
			if errors.Is(err, domain.ErrMaxCorrectionAttempts) {
				return o.escalate(ctx, r, ReasonMaxCorrections, report.Fields())
			}
			if err != nil {
				return o.abort(ctx, r, err)
			}
			r.state.CorrectionAttempts = count
			if err := o.correct(ctx, r); err != nil {
				return o.abort(ctx, r, err)
			}
			if err := o.transition(ctx, r, domain.StatusValidating, "re-validating after correction", nil); err != nil {
				return o.abort(ctx, r, err)
			}

		default:
			return o.escalate(ctx, r, ReasonLowConfidence, report.Fields())
		}
	}
}

func (o *Orchestrator) parse(ctx context.Context, r *run) error {
	if len(r.content) == 0 {
		key := r.state.Record.Metadata[MetaObjectKey]
		if key == "" {
			return &domain.StageExecutionError{ClaimID: r.claimID, Stage: StageParse, Message: "claim has no stored document"}
		}
		content, err := o.docs.GetDocument(ctx, key)
		if err != nil {
			return fmt.Errorf("fetch document %s: %w", key, err)
		}
		r.content = content
	}
	res, err := o.runStage(ctx, r, StageParse, o.stages.Parse, StageRequest{Document: r.content})
	if err != nil {
		return err
	}
	if err := requireData(r, StageParse, res); err != nil {
		return err
	}
	r.document = res.Data
	return nil
}

func (o *Orchestrator) extract(ctx context.Context, r *run) error {
	if r.document == nil {
		if err := o.parse(ctx, r); err != nil {
			return err
		}
	}
	res, err := o.runStage(ctx, r, StageExtract, o.stages.Extract, StageRequest{Payload: r.document})
	if err != nil {
		return err
	}
	if err := requireData(r, StageExtract, res); err != nil {
		return err
	}
	if err := o.setPayload(ctx, r, o.states.SetExtractedClaim, res.Data); err != nil {
		return err
	}

	if o.stages.Enrich == nil {
		return nil
	}
	res, err = o.runStage(ctx, r, StageEnrich, o.stages.Enrich, StageRequest{Payload: r.state.ExtractedClaim})
	if err != nil {
		return err
	}
	if len(res.Data) == 0 {
		return nil
	}
	return o.setPayload(ctx, r, o.states.SetExtractedClaim, res.Data)
}

func (o *Orchestrator) validate(ctx context.Context, r *run) (domain.ValidationReport, StageResult, error) {
	res, err := o.runStage(ctx, r, StageValidate, o.stages.Validate, StageRequest{Payload: r.state.ExtractedClaim})
	if err != nil {
		return domain.ValidationReport{}, res, err
	}
	if err := requireData(r, StageValidate, res); err != nil {
		return domain.ValidationReport{}, res, err
	}
	var report domain.ValidationReport
	if err := json.Unmarshal(res.Data, &report); err != nil {
		return report, res, &domain.StageExecutionError{ClaimID: r.claimID, Stage: StageValidate, Message: "malformed validation report", Cause: err}
	}
	if err := o.setPayload(ctx, r, o.states.SetValidationResult, res.Data); err != nil {
		return report, res, err
	}
	return report, res, nil
}

func (o *Orchestrator) correct(ctx context.Context, r *run) error {
	if r.document == nil {
		if err := o.parse(ctx, r); err != nil {
			return err
		}
	}
	payload, err := json.Marshal(CorrectionInput{
		Document:   r.document,
		Extracted:  r.state.ExtractedClaim,
		Validation: r.state.ValidationResult,
	})
	if err != nil {
		return err
	}
	res, err := o.runStage(ctx, r, StageCorrect, o.stages.Correct, StageRequest{Payload: payload})
	if err != nil {
		return err
	}
	if err := requireData(r, StageCorrect, res); err != nil {
		return err
	}
	return o.setPayload(ctx, r, o.states.SetExtractedClaim, res.Data)
}

// assessQuality reports whether the claim must go to review.
func (o *Orchestrator) assessQuality(ctx context.Context, r *run) (bool, error) {
	res, err := o.runStage(ctx, r, StageQuality, o.stages.Quality, StageRequest{Payload: r.state.ExtractedClaim})
	if err != nil {
		return false, err
	}
	score := 1.0
	if len(res.Data) > 0 {
		if err := o.setPayload(ctx, r, o.states.SetQualityResult, res.Data); err != nil {
			return false, err
		}
		var report domain.QualityReport
		if err := json.Unmarshal(res.Data, &report); err == nil {
			score = report.Score
		}
	}
	if res.ConfidenceScore != nil {
		score = *res.ConfidenceScore
	}
	return score < o.states.RoutingPolicy().AutoProcessThreshold, nil
}

func (o *Orchestrator) adjudicate(ctx context.Context, r *run) (WorkflowResult, error) {
	res, err := o.runStage(ctx, r, StageAdjudicate, o.stages.Adjudicate, StageRequest{Payload: r.state.ExtractedClaim})
	if err == nil {
		err = requireData(r, StageAdjudicate, res)
	}
	if err == nil {
		err = o.setPayload(ctx, r, o.states.SetAdjudicationResult, res.Data)
	}
	if err != nil {
		return o.abort(ctx, r, err)
	}

	if !r.reviewed && res.ConfidenceScore != nil && *res.ConfidenceScore < o.states.RoutingPolicy().CorrectionThreshold {
		return o.escalate(ctx, r, ReasonAdjudication, nil)
	}
	return o.complete(ctx, r)
}

// complete indexes the claim, best effort, and marks it completed.
func (o *Orchestrator) complete(ctx context.Context, r *run) (WorkflowResult, error) {
	if o.stages.Index != nil {
		payload, err := json.Marshal(r.state)
		if err == nil {
			_, err = o.runStage(ctx, r, StageIndex, o.stages.Index, StageRequest{Payload: payload})
		}
		if err != nil {
			if ctx.Err() != nil {
				return o.interrupted(r, ctx.Err())
			}
			o.log.Warn("indexing failed", logging.F("claim_id", r.claimID), logging.Err(err))
		}
	}

	if err := o.transition(ctx, r, domain.StatusCompleted, "claim completed", nil); err != nil {
		return o.abort(ctx, r, err)
	}
	res := o.result(r, true)
	o.publish(r, events.WorkflowEvent{
		Type:             events.WorkflowCompleted,
		ProcessingTimeMs: res.ProcessingTimeMs,
	})
	o.log.Info("claim completed", logging.F("claim_id", r.claimID), logging.F("processing_ms", res.ProcessingTimeMs))
	return res, nil
}

// escalate suspends the claim for a human decision. The queue entry is
// written first so a claim is never pending review without one.
func (o *Orchestrator) escalate(ctx context.Context, r *run, reason string, fields []string) (WorkflowResult, error) {
	item := review.Item{
		ClaimID:             r.claimID,
		Reason:              reason,
		Priority:            r.state.Record.Priority,
		LowConfidenceFields: fields,
		EnqueuedAt:          o.now().UTC(),
	}
	if err := o.queue.Enqueue(ctx, item); err != nil {
		return o.interrupted(r, fmt.Errorf("enqueue review for %s: %w", r.claimID, err))
	}
	if err := o.transition(ctx, r, domain.StatusPendingReview, reason, map[string]string{"reason": reason}); err != nil {
		if _, derr := o.queue.Dequeue(context.WithoutCancel(ctx), r.claimID); derr != nil {
			o.log.Warn("review rollback failed", logging.F("claim_id", r.claimID), logging.Err(derr))
		}
		return o.abort(ctx, r, err)
	}

	res := o.result(r, true)
	res.Reason = reason
	o.publish(r, events.WorkflowEvent{
		Type:             events.WorkflowReviewRequired,
		Reason:           reason,
		ProcessingTimeMs: res.ProcessingTimeMs,
	})
	o.log.Info("claim escalated to review",
		logging.F("claim_id", r.claimID),
		logging.F("reason", reason),
		logging.F("priority", string(r.state.Record.Priority)),
	)
	return res, nil
}

// abort ends a run. Stage failures fail the claim and are reported in the
// result; anything else leaves the claim where it is and is returned.
func (o *Orchestrator) abort(ctx context.Context, r *run, err error) (WorkflowResult, error) {
	var stageErr *domain.StageExecutionError
	if !errors.As(err, &stageErr) {
		return o.interrupted(r, err)
	}

	msg := stageErr.Error()
	if terr := o.transition(ctx, r, domain.StatusFailed, msg, map[string]string{"stage": stageErr.Stage}); terr != nil {
		return o.interrupted(r, fmt.Errorf("mark claim %s failed: %w", r.claimID, terr))
	}

	res := o.result(r, false)
	res.Error = msg
	o.publish(r, events.WorkflowEvent{
		Type:             events.WorkflowFailed,
		Stage:            stageErr.Stage,
		Error:            msg,
		ProcessingTimeMs: res.ProcessingTimeMs,
	})
	o.log.Warn("claim failed", logging.F("claim_id", r.claimID), logging.F("stage", stageErr.Stage), logging.Err(err))
	return res, nil
}

func (o *Orchestrator) interrupted(r *run, err error) (WorkflowResult, error) {
	res := o.result(r, false)
	res.Error = err.Error()
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		o.log.Error("claim run interrupted", logging.F("claim_id", r.claimID), logging.Err(err))
	}
	return res, err
}

func (o *Orchestrator) settled(r *run) WorkflowResult {
	switch r.state.Record.Status {
	case domain.StatusFailed:
		res := o.result(r, false)
		res.Error = r.state.LastError
		return res
	case domain.StatusPendingReview:
		res := o.result(r, true)
		if n := len(r.state.Record.ProcessingHistory); n > 0 {
			res.Reason = r.state.Record.ProcessingHistory[n-1].Message
		}
		return res
	default:
		return o.result(r, r.state.Record.Status == domain.StatusCompleted)
	}
}

func (o *Orchestrator) result(r *run, success bool) WorkflowResult {
	return WorkflowResult{
		Success:          success,
		ClaimID:          r.claimID,
		FinalStatus:      r.state.Record.Status,
		ProcessingTimeMs: o.now().Sub(r.started).Milliseconds(),
	}
}

func (o *Orchestrator) runStage(ctx context.Context, r *run, name string, stage Stage, req StageRequest) (StageResult, error) {
	req.ClaimID = r.claimID
	req.Stage = name
	req.Claim = r.state.Clone()

	o.publish(r, events.WorkflowEvent{Type: events.WorkflowStageStarted, Stage: name})
	stageCtx, span := o.tracer.StartStageSpan(ctx, r.claimID, name)
	start := o.now()
	res, err := stage.Run(stageCtx, req)
	if err == nil && !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "stage reported failure"
		}
		err = errors.New(msg)
	}
	observability.EndSpan(span, err)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		return res, &domain.StageExecutionError{ClaimID: r.claimID, Stage: name, Message: err.Error(), Cause: err}
	}
	o.publish(r, events.WorkflowEvent{
		Type:       events.WorkflowStageCompleted,
		Stage:      name,
		DurationMs: o.now().Sub(start).Milliseconds(),
	})
	return res, nil
}

func requireData(r *run, stage string, res StageResult) error {
	if len(res.Data) == 0 {
		return &domain.StageExecutionError{ClaimID: r.claimID, Stage: stage, Message: "stage returned no data"}
	}
	return nil
}

func (o *Orchestrator) transition(ctx context.Context, r *run, to domain.ClaimStatus, message string, metadata map[string]string) error {
	st, err := o.states.TransitionTo(ctx, r.claimID, to, message, metadata)
	if err != nil {
		return err
	}
	r.state = st
	return nil
}

func (o *Orchestrator) setPayload(ctx context.Context, r *run, set func(context.Context, string, json.RawMessage) (domain.ClaimState, error), payload json.RawMessage) error {
	st, err := set(ctx, r.claimID, payload)
	if err != nil {
		return err
	}
	r.state = st
	return nil
}

func (o *Orchestrator) publish(r *run, ev events.WorkflowEvent) {
	ev.ClaimID = r.claimID
	ev.Timestamp = o.now().UTC()
	if ev.Status == "" {
		ev.Status = r.state.Record.Status
	}
	o.bus.Workflow.Publish(ev)
}
