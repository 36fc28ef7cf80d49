package temporal

import (
	"go.temporal.io/sdk/workflow"

	"claims-orchestrator/internal/domain"
	pipeline "claims-orchestrator/internal/workflow"
)

const ClaimWorkflowName = "ClaimWorkflow"

// WorkflowID is the execution id for a claim. One claim has at most one
// open execution.
func WorkflowID(prefix, claimID string) string {
	if prefix == "" {
		prefix = "claim"
	}
	return prefix + "-" + claimID
}

type ClaimWorkflowInput struct {
	DocumentID string
	ClaimID    string
	Filename   string
	Content    []byte
	ObjectKey  string
	Priority   domain.Priority
	Metadata   map[string]string
	// Resubmit restarts a failed claim instead of registering a new one.
	Resubmit bool
}

type ClaimWorkflowResult = pipeline.WorkflowResult

// ClaimWorkflow runs a claim through the pipeline, then waits on review
// decisions for as long as the claim sits in pending_review.
func ClaimWorkflow(ctx workflow.Context, input ClaimWorkflowInput) (ClaimWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)

	var current ClaimWorkflowResult
	if err := workflow.SetQueryHandler(ctx, ClaimStatusQueryName, func() (ClaimWorkflowResult, error) {
		return current, nil
	}); err != nil {
		return current, err
	}

	if input.Resubmit {
		if err := workflow.ExecuteActivity(mustActivityContext(ctx, ActivityPolicyResubmit), (*Activities).ResubmitActivity, ResubmitInput{
			ClaimID: input.ClaimID,
		}).Get(ctx, &current); err != nil {
			return current, err
		}
	} else {
		if err := workflow.ExecuteActivity(mustActivityContext(ctx, ActivityPolicyIntake), (*Activities).IntakeActivity, IntakeInput{
			DocumentID: input.DocumentID,
			ClaimID:    input.ClaimID,
			Filename:   input.Filename,
			Content:    input.Content,
			ObjectKey:  input.ObjectKey,
			Priority:   input.Priority,
			Metadata:   input.Metadata,
		}).Get(ctx, &current); err != nil {
			return current, err
		}
	}

	claimID := current.ClaimID
	signalChan := workflow.GetSignalChannel(ctx, ReviewDecisionSignalName)
	for current.FinalStatus == domain.StatusPendingReview {
		logger.Info("claim awaiting review", "ClaimID", claimID, "Reason", current.Reason)

		var decision ReviewDecisionSignal
		signalChan.Receive(ctx, &decision)

		var next ClaimWorkflowResult
		err := workflow.ExecuteActivity(mustActivityContext(ctx, ActivityPolicySubmitReview), (*Activities).SubmitReviewActivity, SubmitReviewInput{
			ClaimID:     claimID,
			Decision:    decision.Decision,
			Corrections: decision.Corrections,
			Notes:       decision.Notes,
			Reviewer:    decision.Reviewer,
		}).Get(ctx, &next)
		if err == nil {
			current = next
			continue
		}

		// The decision was refused or failed outright. Reload the claim and
		// keep waiting if it is still under review.
		logger.Warn("review decision not applied", "ClaimID", claimID, "Decision", decision.Decision, "Error", err)
		if err := workflow.ExecuteActivity(mustActivityContext(ctx, ActivityPolicyProcessClaim), (*Activities).ProcessClaimActivity, ProcessClaimInput{
			ClaimID: claimID,
		}).Get(ctx, &current); err != nil {
			return current, err
		}
	}

	logger.Info("claim workflow finished", "ClaimID", claimID, "Status", current.FinalStatus)
	return current, nil
}
