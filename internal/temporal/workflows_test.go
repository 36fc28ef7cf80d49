package temporal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"claims-orchestrator/internal/domain"
	"claims-orchestrator/internal/review"
)

func newWorkflowEnv(f *fixture) *testsuite.TestWorkflowEnvironment {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(ClaimWorkflow)
	env.RegisterActivity(f.acts.IntakeActivity)
	env.RegisterActivity(f.acts.ProcessClaimActivity)
	env.RegisterActivity(f.acts.ResubmitActivity)
	env.RegisterActivity(f.acts.SubmitReviewActivity)
	return env
}

func TestClaimWorkflow_PendingReviewApprove(t *testing.T) {
	f := newFixture(t, &stubLLM{responses: []string{doubtfulClaim}})
	env := newWorkflowEnv(f)

	var queried ClaimWorkflowResult
	env.RegisterDelayedCallback(func() {
		val, err := env.QueryWorkflow(ClaimStatusQueryName)
		require.NoError(t, err)
		require.NoError(t, val.Get(&queried))

		env.SignalWorkflow(ReviewDecisionSignalName, ReviewDecisionSignal{
			Decision: domain.ReviewDecisionApprove,
			Reviewer: "qa",
		})
	}, time.Second)

	env.ExecuteWorkflow(ClaimWorkflow, ClaimWorkflowInput{
		DocumentID: "doc-approve-1",
		Filename:   "claim.txt",
		Content:    []byte("CMS-1500 claim A-101"),
	})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	require.Equal(t, domain.StatusPendingReview, queried.FinalStatus)
	require.Contains(t, queried.Reason, "low confidence")

	var result ClaimWorkflowResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.True(t, result.Success)
	require.Equal(t, domain.StatusCompleted, result.FinalStatus)

	items, err := f.queue.List(t.Context(), review.Filter{})
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestClaimWorkflow_PendingReviewReject(t *testing.T) {
	f := newFixture(t, &stubLLM{responses: []string{doubtfulClaim}})
	env := newWorkflowEnv(f)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(ReviewDecisionSignalName, ReviewDecisionSignal{
			Decision: domain.ReviewDecisionReject,
			Notes:    "fraud suspected",
		})
	}, time.Second)

	env.ExecuteWorkflow(ClaimWorkflow, ClaimWorkflowInput{DocumentID: "doc-reject-1", Content: []byte("claim A-101")})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result ClaimWorkflowResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.False(t, result.Success)
	require.Equal(t, domain.StatusFailed, result.FinalStatus)
	require.Contains(t, result.Error, "fraud suspected")

	st, err := f.states.GetState(t.Context(), "CLM-doc-reject-1")
	require.NoError(t, err)
	require.Equal(t, "fraud suspected", st.LastError)
}

func TestClaimWorkflow_RefusedDecisionKeepsWaiting(t *testing.T) {
	f := newFixture(t, &stubLLM{responses: []string{doubtfulClaim}})
	env := newWorkflowEnv(f)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(ReviewDecisionSignalName, ReviewDecisionSignal{
			Decision:    domain.ReviewDecisionCorrect,
			Corrections: json.RawMessage(`[1,2,3]`),
		})
	}, time.Second)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(ReviewDecisionSignalName, ReviewDecisionSignal{
			Decision:    domain.ReviewDecisionCorrect,
			Corrections: json.RawMessage(`{"confidence":0.97}`),
		})
	}, time.Minute)

	env.ExecuteWorkflow(ClaimWorkflow, ClaimWorkflowInput{DocumentID: "doc-correct-1", Content: []byte("claim A-101")})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result ClaimWorkflowResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, domain.StatusCompleted, result.FinalStatus)

	st, err := f.states.GetState(t.Context(), "CLM-doc-correct-1")
	require.NoError(t, err)
	require.Contains(t, string(st.ExtractedClaim), `"confidence":0.97`)
}

func TestClaimWorkflow_Resubmit(t *testing.T) {
	llm := &stubLLM{responses: []string{"garbage", "garbage", "garbage", confidentClaim}}
	f := newFixture(t, llm)

	res, err := f.acts.IntakeActivity(t.Context(), IntakeInput{DocumentID: "doc-5", Content: []byte("claim A-100")})
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, res.FinalStatus)

	env := newWorkflowEnv(f)
	env.ExecuteWorkflow(ClaimWorkflow, ClaimWorkflowInput{ClaimID: "CLM-doc-5", Resubmit: true})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result ClaimWorkflowResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Equal(t, domain.StatusCompleted, result.FinalStatus)
}
