package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"claims-orchestrator/internal/domain"
	"claims-orchestrator/internal/logging"
	"claims-orchestrator/internal/review"
	"claims-orchestrator/internal/stages"
	"claims-orchestrator/internal/state"
	appTemporal "claims-orchestrator/internal/temporal"
)

const defaultUploadFilename = "claim.txt"

// ClaimReader is the read side of the state manager the API serves from.
type ClaimReader interface {
	GetState(ctx context.Context, claimID string) (domain.ClaimState, error)
	ListStates(ctx context.Context, f state.Filter) ([]domain.ClaimState, error)
	GetStatistics(ctx context.Context) (state.Statistics, error)
	DeleteState(ctx context.Context, claimID string) (bool, error)
}

type uploadBlobStore interface {
	PutDocument(ctx context.Context, documentID, filename string, content []byte) (string, error)
}

type workflowClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	SignalWorkflow(ctx context.Context, workflowID string, runID string, signalName string, arg interface{}) error
}

type Options struct {
	TaskQueue          string
	WorkflowIDPrefix   string
	AllowedUploadBytes int64
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error
	Log   logging.Logger
}

type Handler struct {
	opts     Options
	claims   ClaimReader
	reviews  review.Queue
	blob     uploadBlobStore
	temporal workflowClient
	log      logging.Logger
}

type uploadResponse struct {
	ClaimID    string             `json:"claim_id"`
	DocumentID string             `json:"document_id"`
	WorkflowID string             `json:"workflow_id"`
	Status     domain.ClaimStatus `json:"status"`
}

type reviewRequest struct {
	Decision    string          `json:"decision"`
	Corrections json.RawMessage `json:"corrections,omitempty"`
	Reviewer    string          `json:"reviewer,omitempty"`
	Notes       string          `json:"notes,omitempty"`
}

func NewHandler(opts Options, claims ClaimReader, reviews review.Queue, blob uploadBlobStore, temporalClient workflowClient) *Handler {
	if opts.AllowedUploadBytes <= 0 {
		opts.AllowedUploadBytes = 10 * 1024 * 1024
	}
	if opts.Log == nil {
		opts.Log = logging.Nop()
	}
	return &Handler{
		opts:     opts,
		claims:   claims,
		reviews:  reviews,
		blob:     blob,
		temporal: temporalClient,
		log:      opts.Log.With(logging.F("component", "api")),
	}
}

// UploadClaim stores the document and starts its claim workflow. The
// event-handler sees the same object and derives the same workflow ID, so
// whichever start loses gets WorkflowExecutionAlreadyStarted.
func (h *Handler) UploadClaim(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	if err := r.ParseMultipartForm(h.opts.AllowedUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid multipart payload"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "file form field is required"})
		return
	}
	defer file.Close()

	body, err := io.ReadAll(io.LimitReader(file, h.opts.AllowedUploadBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "failed to read file"})
		return
	}
	if int64(len(body)) > h.opts.AllowedUploadBytes {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "file exceeds size limit"})
		return
	}
	if !isSupportedTextUpload(body) {
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]any{"error": "only plain text documents are supported"})
		return
	}

	priority, ok := domain.ParsePriority(strings.TrimSpace(r.FormValue("priority")))
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid priority"})
		return
	}

	documentID := uuid.NewString()
	claimID := appTemporal.ClaimIDForDocument(documentID)
	filename := uploadFilename(header.Filename)

	objectKey, err := h.blob.PutDocument(ctx, documentID, filename, body)
	if err != nil {
		h.fail(w, "failed to upload file", err)
		return
	}

	workflowID := appTemporal.WorkflowID(h.opts.WorkflowIDPrefix, claimID)
	_, err = h.temporal.ExecuteWorkflow(ctx, appTemporal.IntakeStartOptions(workflowID, h.opts.TaskQueue), appTemporal.ClaimWorkflowName, appTemporal.ClaimWorkflowInput{
		DocumentID: documentID,
		ClaimID:    claimID,
		Filename:   filename,
		ObjectKey:  objectKey,
		Priority:   priority,
	})
	var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
	if err != nil && !errors.As(err, &alreadyStarted) {
		h.fail(w, "failed to start workflow", err)
		return
	}

	h.log.Info("claim uploaded",
		logging.F("claim_id", claimID),
		logging.F("object_key", objectKey),
		logging.F("priority", string(priority)),
	)
	writeJSON(w, http.StatusAccepted, uploadResponse{
		ClaimID:    claimID,
		DocumentID: documentID,
		WorkflowID: workflowID,
		Status:     domain.StatusReceived,
	})
}

func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request, claimID string) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	st, ok := h.load(ctx, w, claimID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) ListClaims(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	f, err := parseFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	items, err := h.claims.ListStates(ctx, f)
	if err != nil {
		h.fail(w, "failed to list claims", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	stats, err := h.claims.GetStatistics(ctx)
	if err != nil {
		h.fail(w, "failed to compute statistics", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// SubmitReview forwards a reviewer decision to the claim's running workflow.
// Signals do not start workflows.
func (h *Handler) SubmitReview(w http.ResponseWriter, r *http.Request, claimID string) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}

	decision := domain.ReviewDecisionType(req.Decision)
	if !decision.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid decision"})
		return
	}
	// Corrections are optional; a correct decision without them re-validates the claim as extracted.
	if decision == domain.ReviewDecisionCorrect && !isAbsentJSON(req.Corrections) && !isJSONObject(req.Corrections) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "corrections must be a JSON object"})
		return
	}

	st, ok := h.load(r.Context(), w, claimID)
	if !ok {
		return
	}
	if st.Record.Status != domain.StatusPendingReview {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "claim is not awaiting review", "status": st.Record.Status})
		return
	}

	signal := appTemporal.ReviewDecisionSignal{
		Decision:    decision,
		Corrections: req.Corrections,
		Reviewer:    req.Reviewer,
		Notes:       req.Notes,
	}
	if err := h.temporal.SignalWorkflow(r.Context(), appTemporal.WorkflowID(h.opts.WorkflowIDPrefix, claimID), "", appTemporal.ReviewDecisionSignalName, signal); err != nil {
		h.fail(w, "failed to signal workflow", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"claim_id": claimID, "status": "review_signal_sent"})
}

// Resubmit starts a fresh workflow run that moves a failed claim back to
// received.
func (h *Handler) Resubmit(w http.ResponseWriter, r *http.Request, claimID string) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	st, ok := h.load(ctx, w, claimID)
	if !ok {
		return
	}
	if st.Record.Status != domain.StatusFailed {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "only failed claims can be resubmitted", "status": st.Record.Status})
		return
	}

	workflowID := appTemporal.WorkflowID(h.opts.WorkflowIDPrefix, claimID)
	_, err := h.temporal.ExecuteWorkflow(ctx, appTemporal.ResubmitStartOptions(workflowID, h.opts.TaskQueue), appTemporal.ClaimWorkflowName, appTemporal.ClaimWorkflowInput{
		ClaimID:  claimID,
		Resubmit: true,
	})
	if err != nil {
		var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &alreadyStarted) {
			writeJSON(w, http.StatusConflict, map[string]any{"error": "claim workflow is still running"})
			return
		}
		h.fail(w, "failed to start workflow", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"claim_id": claimID, "workflow_id": workflowID, "status": domain.StatusReceived})
}

// DeleteClaim removes a settled claim. Claims still owned by a workflow are
// refused.
func (h *Handler) DeleteClaim(w http.ResponseWriter, r *http.Request, claimID string) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	st, ok := h.load(ctx, w, claimID)
	if !ok {
		return
	}
	if s := st.Record.Status; s != domain.StatusCompleted && s != domain.StatusFailed {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "claim is still in progress", "status": s})
		return
	}
	deleted, err := h.claims.DeleteState(ctx, claimID)
	if err != nil {
		h.fail(w, "failed to delete claim", err)
		return
	}
	if !deleted {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "claim not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) PendingReviews(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var f review.Filter
	if p := r.URL.Query().Get("priority"); p != "" {
		priority, ok := domain.ParsePriority(p)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid priority"})
			return
		}
		f.Priority = priority
	}
	items, err := h.reviews.List(ctx, f)
	if err != nil {
		h.fail(w, "failed to fetch pending reviews", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if h.opts.Ready != nil {
		if err := h.opts.Ready(ctx); err != nil {
			h.log.Warn("readiness check failed", logging.Err(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) load(ctx context.Context, w http.ResponseWriter, claimID string) (domain.ClaimState, bool) {
	st, err := h.claims.GetState(ctx, claimID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "claim not found"})
			return st, false
		}
		h.fail(w, "failed to fetch claim", err)
		return st, false
	}
	return st, true
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	h.log.Error(msg, logging.Err(err))
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": msg})
}

func parseFilter(r *http.Request) (state.Filter, error) {
	q := r.URL.Query()
	var f state.Filter
	if s := q.Get("status"); s != "" {
		f.Status = domain.ClaimStatus(s)
		if !f.Status.Valid() {
			return f, errors.New("invalid status")
		}
	}
	if p := q.Get("priority"); p != "" {
		priority, ok := domain.ParsePriority(p)
		if !ok {
			return f, errors.New("invalid priority")
		}
		f.Priority = priority
	}
	for key, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New(key + " must be RFC3339")
		}
		*dst = t
	}
	return f, nil
}

func isSupportedTextUpload(body []byte) bool {
	return stages.IsPlainText(body)
}

// uploadFilename keeps only the last element of a client-supplied name so it
// cannot escape the document's key prefix.
func uploadFilename(name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	switch base {
	case ".", "..", "/":
		return defaultUploadFilename
	}
	return base
}

func isAbsentJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func isJSONObject(raw json.RawMessage) bool {
	var obj map[string]json.RawMessage
	return len(raw) > 0 && json.Unmarshal(raw, &obj) == nil && obj != nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
