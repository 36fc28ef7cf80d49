package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"claims-orchestrator/internal/domain"
	"claims-orchestrator/internal/events"
	"claims-orchestrator/internal/review"
	"claims-orchestrator/internal/state"
	"claims-orchestrator/internal/storage"
	appTemporal "claims-orchestrator/internal/temporal"
)

type startCall struct {
	options client.StartWorkflowOptions
	name    interface{}
	input   appTemporal.ClaimWorkflowInput
}

type signalCall struct {
	workflowID string
	name       string
	signal     appTemporal.ReviewDecisionSignal
}

type fakeTemporal struct {
	mu       sync.Mutex
	starts   []startCall
	signals  []signalCall
	startErr error
}

func (f *fakeTemporal) ExecuteWorkflow(_ context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := startCall{options: options, name: workflow}
	if len(args) > 0 {
		call.input, _ = args[0].(appTemporal.ClaimWorkflowInput)
	}
	f.starts = append(f.starts, call)
	return nil, f.startErr
}

func (f *fakeTemporal) SignalWorkflow(_ context.Context, workflowID string, _ string, signalName string, arg interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sig, _ := arg.(appTemporal.ReviewDecisionSignal)
	f.signals = append(f.signals, signalCall{workflowID: workflowID, name: signalName, signal: sig})
	return nil
}

type fixture struct {
	states   *state.Manager
	queue    *review.MemoryQueue
	blobs    *storage.MemoryBlobStore
	temporal *fakeTemporal
	router   http.Handler
}

func newFixture(t *testing.T, ready func(context.Context) error) *fixture {
	t.Helper()
	f := &fixture{
		states:   state.New(storage.NewMemoryClaimStore(), nil, nil, state.DefaultConfig()),
		queue:    review.NewMemoryQueue(),
		blobs:    storage.NewMemoryBlobStore(),
		temporal: &fakeTemporal{},
	}
	h := NewHandler(Options{TaskQueue: "claims-task-queue", WorkflowIDPrefix: "claim", Ready: ready}, f.states, f.queue, f.blobs, f.temporal)
	f.router = NewRouter(h)
	return f
}

// seed creates a claim and walks it through the given statuses.
func (f *fixture) seed(t *testing.T, claimID string, priority domain.Priority, path ...domain.ClaimStatus) {
	t.Helper()
	ctx := context.Background()
	_, err := f.states.CreateState(ctx, state.NewClaim{ID: claimID, DocumentID: "doc-" + claimID, Priority: priority})
	require.NoError(t, err)
	for _, s := range path {
		_, err := f.states.TransitionTo(ctx, claimID, s, "test", nil)
		require.NoError(t, err)
	}
}

func (f *fixture) do(t *testing.T, method, target string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, filename string, content []byte, fields map[string]string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return buf.Bytes(), w.FormDataContentType()
}

var toPendingReview = []domain.ClaimStatus{domain.StatusParsing, domain.StatusExtracting, domain.StatusPendingReview}

func TestUploadStoresDocumentAndStartsWorkflow(t *testing.T) {
	f := newFixture(t, nil)
	body, ct := multipartBody(t, "claim.txt", []byte("patient: Jane Roe\nmember: M-1\n"), map[string]string{"priority": "urgent"})

	rec := f.do(t, http.MethodPost, "/v1/claims", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "CLM-"+resp.DocumentID, resp.ClaimID)
	assert.Equal(t, "claim-CLM-"+resp.DocumentID, resp.WorkflowID)
	assert.Equal(t, domain.StatusReceived, resp.Status)

	require.Len(t, f.temporal.starts, 1)
	start := f.temporal.starts[0]
	assert.Equal(t, resp.WorkflowID, start.options.ID)
	assert.Equal(t, "claims-task-queue", start.options.TaskQueue)
	assert.Equal(t, enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE, start.options.WorkflowIDReusePolicy)
	assert.Equal(t, resp.ClaimID, start.input.ClaimID)
	assert.Equal(t, appTemporal.ClaimWorkflowName, start.name)
	assert.Equal(t, domain.PriorityUrgent, start.input.Priority)
	assert.Equal(t, resp.DocumentID, start.input.DocumentID)
	assert.Equal(t, "documents/"+resp.DocumentID+"/claim.txt", start.input.ObjectKey)

	stored, err := f.blobs.GetDocument(context.Background(), start.input.ObjectKey)
	require.NoError(t, err)
	assert.Contains(t, string(stored), "Jane Roe")
}

func TestUploadKeepsObjectKeyUnderDocumentPrefix(t *testing.T) {
	cases := []struct {
		filename string
		want     string
	}{
		{`..\..\index\CLM-1.json`, "CLM-1.json"},
		{"nested/dir/claim.txt", "claim.txt"},
		{`C:\scans\form.txt`, "form.txt"},
		{"..", defaultUploadFilename},
	}
	for _, tc := range cases {
		t.Run(tc.filename, func(t *testing.T) {
			f := newFixture(t, nil)
			body, ct := multipartBody(t, tc.filename, []byte("claim text"), nil)

			rec := f.do(t, http.MethodPost, "/v1/claims", body, ct)
			require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
			require.Len(t, f.temporal.starts, 1)
			start := f.temporal.starts[0]
			assert.Equal(t, "documents/"+start.input.DocumentID+"/"+tc.want, start.input.ObjectKey)
			assert.Equal(t, tc.want, start.input.Filename)

			docID, filename, err := events.ParseDocumentKey(start.input.ObjectKey)
			require.NoError(t, err)
			assert.Equal(t, start.input.DocumentID, docID)
			assert.Equal(t, tc.want, filename)
		})
	}
}

func TestUploadDefaultsToNormalPriority(t *testing.T) {
	f := newFixture(t, nil)
	body, ct := multipartBody(t, "claim.txt", []byte("claim text"), nil)

	rec := f.do(t, http.MethodPost, "/v1/claims", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, domain.PriorityNormal, f.temporal.starts[0].input.Priority)
}

func TestUploadToleratesAlreadyStartedWorkflow(t *testing.T) {
	f := newFixture(t, nil)
	f.temporal.startErr = serviceerror.NewWorkflowExecutionAlreadyStarted("started", "", "")
	body, ct := multipartBody(t, "claim.txt", []byte("claim text"), nil)

	rec := f.do(t, http.MethodPost, "/v1/claims", body, ct)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestUploadRejections(t *testing.T) {
	f := newFixture(t, nil)

	cases := []struct {
		name    string
		content []byte
		fields  map[string]string
		want    int
	}{
		{"binary document", []byte("%PDF-1.7\n"), nil, http.StatusUnsupportedMediaType},
		{"unknown priority", []byte("claim text"), map[string]string{"priority": "asap"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, ct := multipartBody(t, "claim.txt", tc.content, tc.fields)
			rec := f.do(t, http.MethodPost, "/v1/claims", body, ct)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}

	rec := f.do(t, http.MethodPost, "/v1/claims", []byte("not multipart"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.temporal.starts)
}

func TestUploadFailsWhenWorkflowCannotStart(t *testing.T) {
	f := newFixture(t, nil)
	f.temporal.startErr = errors.New("frontend unavailable")
	body, ct := multipartBody(t, "claim.txt", []byte("claim text"), nil)

	rec := f.do(t, http.MethodPost, "/v1/claims", body, ct)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetClaim(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "CLM-1", domain.PriorityHigh, domain.StatusParsing)

	rec := f.do(t, http.MethodGet, "/v1/claims/CLM-1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st domain.ClaimState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, domain.StatusParsing, st.Record.Status)
	assert.Equal(t, domain.PriorityHigh, st.Record.Priority)

	rec = f.do(t, http.MethodGet, "/v1/claims/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListClaimsFilters(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "CLM-1", domain.PriorityNormal)
	f.seed(t, "CLM-2", domain.PriorityUrgent, domain.StatusFailed)
	f.seed(t, "CLM-3", domain.PriorityUrgent)

	type listResponse struct {
		Items []domain.ClaimState `json:"items"`
		Count int                 `json:"count"`
	}
	list := func(query string) listResponse {
		rec := f.do(t, http.MethodGet, "/v1/claims"+query, nil, "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var out listResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return out
	}

	assert.Equal(t, 3, list("").Count)
	failed := list("?status=failed")
	require.Equal(t, 1, failed.Count)
	assert.Equal(t, "CLM-2", failed.Items[0].Record.ID)
	assert.Equal(t, 2, list("?priority=urgent").Count)
	assert.Equal(t, 0, list("?from=2999-01-01T00:00:00Z").Count)

	for _, bad := range []string{"?status=lost", "?priority=asap", "?to=yesterday"} {
		rec := f.do(t, http.MethodGet, "/v1/claims"+bad, nil, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestStatistics(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "CLM-1", domain.PriorityNormal)
	f.seed(t, "CLM-2", domain.PriorityNormal, domain.StatusFailed)

	rec := f.do(t, http.MethodGet, "/v1/claims/stats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats state.Statistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[domain.StatusFailed])
	assert.Equal(t, 1, stats.ByStatus[domain.StatusReceived])
}

func TestSubmitReviewSignalsWorkflow(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "CLM-1", domain.PriorityNormal, toPendingReview...)

	payload := `{"decision":"correct","corrections":{"member_id":"M-9"},"reviewer":"alice","notes":"fixed member"}`
	rec := f.do(t, http.MethodPost, "/v1/claims/CLM-1/review", []byte(payload), "application/json")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	require.Len(t, f.temporal.signals, 1)
	sig := f.temporal.signals[0]
	assert.Equal(t, "claim-CLM-1", sig.workflowID)
	assert.Equal(t, appTemporal.ReviewDecisionSignalName, sig.name)
	assert.Equal(t, domain.ReviewDecisionCorrect, sig.signal.Decision)
	assert.Equal(t, "alice", sig.signal.Reviewer)
	assert.JSONEq(t, `{"member_id":"M-9"}`, string(sig.signal.Corrections))
}

func TestSubmitReviewCorrectWithoutCorrections(t *testing.T) {
	for _, body := range []string{`{"decision":"correct"}`, `{"decision":"correct","corrections":null}`} {
		f := newFixture(t, nil)
		f.seed(t, "CLM-1", domain.PriorityNormal, toPendingReview...)

		rec := f.do(t, http.MethodPost, "/v1/claims/CLM-1/review", []byte(body), "application/json")
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		require.Len(t, f.temporal.signals, 1)
		assert.Equal(t, domain.ReviewDecisionCorrect, f.temporal.signals[0].signal.Decision)
	}
}

func TestSubmitReviewRefusals(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "CLM-1", domain.PriorityNormal, toPendingReview...)
	f.seed(t, "CLM-2", domain.PriorityNormal, domain.StatusParsing)

	cases := []struct {
		name    string
		claimID string
		body    string
		want    int
	}{
		{"malformed json", "CLM-1", `{`, http.StatusBadRequest},
		{"unknown decision", "CLM-1", `{"decision":"maybe"}`, http.StatusBadRequest},
		{"corrections not an object", "CLM-1", `{"decision":"correct","corrections":[1]}`, http.StatusBadRequest},
		{"missing claim", "CLM-404", `{"decision":"approve"}`, http.StatusNotFound},
		{"not awaiting review", "CLM-2", `{"decision":"approve"}`, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/v1/claims/"+tc.claimID+"/review", []byte(tc.body), "application/json")
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
	assert.Empty(t, f.temporal.signals)
}

func TestResubmit(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "CLM-1", domain.PriorityNormal, domain.StatusFailed)
	f.seed(t, "CLM-2", domain.PriorityNormal, domain.StatusParsing)

	rec := f.do(t, http.MethodPost, "/v1/claims/CLM-1/resubmit", nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, f.temporal.starts, 1)
	assert.True(t, f.temporal.starts[0].input.Resubmit)
	assert.Equal(t, "CLM-1", f.temporal.starts[0].input.ClaimID)
	assert.Equal(t, "claim-CLM-1", f.temporal.starts[0].options.ID)
	assert.Equal(t, enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE, f.temporal.starts[0].options.WorkflowIDReusePolicy)

	rec = f.do(t, http.MethodPost, "/v1/claims/CLM-2/resubmit", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	f.temporal.startErr = serviceerror.NewWorkflowExecutionAlreadyStarted("running", "", "")
	rec = f.do(t, http.MethodPost, "/v1/claims/CLM-1/resubmit", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeleteClaim(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "CLM-1", domain.PriorityNormal, domain.StatusFailed)
	f.seed(t, "CLM-2", domain.PriorityNormal, toPendingReview...)

	rec := f.do(t, http.MethodDelete, "/v1/claims/CLM-1", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, err := f.states.GetState(context.Background(), "CLM-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	rec = f.do(t, http.MethodDelete, "/v1/claims/CLM-2", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodDelete, "/v1/claims/CLM-1", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPendingReviews(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.queue.Enqueue(ctx, review.Item{ClaimID: "CLM-1", Priority: domain.PriorityNormal, Reason: "low confidence"}))
	require.NoError(t, f.queue.Enqueue(ctx, review.Item{ClaimID: "CLM-2", Priority: domain.PriorityUrgent, Reason: "low confidence"}))

	rec := f.do(t, http.MethodGet, "/v1/reviews/pending", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Items []review.Item `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Items, 2)
	assert.Equal(t, "CLM-2", out.Items[0].ClaimID)

	rec = f.do(t, http.MethodGet, "/v1/reviews/pending?priority=normal", nil, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Items, 1)
	assert.Equal(t, "CLM-1", out.Items[0].ClaimID)

	rec = f.do(t, http.MethodGet, "/v1/reviews/pending?priority=asap", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil, "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz", nil, "").Code)

	down := newFixture(t, func(context.Context) error { return errors.New("postgres down") })
	rec := down.do(t, http.MethodGet, "/readyz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "not_ready"))

	rec = f.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
