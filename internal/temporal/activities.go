package temporal

import (
	"context"
	"encoding/json"
	"errors"

	"go.temporal.io/sdk/temporal"

	"claims-orchestrator/internal/domain"
	pipeline "claims-orchestrator/internal/workflow"
)

// ErrTypeInvalidInput marks activity errors a retry cannot fix.
const ErrTypeInvalidInput = "InvalidInput"

// ClaimProcessor is the part of the orchestrator the activities drive.
type ClaimProcessor interface {
	ProcessDocument(ctx context.Context, in pipeline.DocumentInput) (pipeline.WorkflowResult, error)
	ProcessClaim(ctx context.Context, claimID string) (pipeline.WorkflowResult, error)
	Resubmit(ctx context.Context, claimID string) (pipeline.WorkflowResult, error)
	SubmitReview(ctx context.Context, claimID string, sub pipeline.ReviewSubmission) (pipeline.WorkflowResult, error)
}

type Activities struct {
	Processor ClaimProcessor
}

type IntakeInput struct {
	DocumentID string
	ClaimID    string
	Filename   string
	Content    []byte
	ObjectKey  string
	Priority   domain.Priority
	Metadata   map[string]string
}

type ProcessClaimInput struct {
	ClaimID string
}

type ResubmitInput struct {
	ClaimID string
}

type SubmitReviewInput struct {
	ClaimID     string
	Decision    domain.ReviewDecisionType
	Corrections json.RawMessage
	Notes       string
	Reviewer    string
}

// IntakeActivity registers the claim on first delivery. A retried delivery
// finds the claim already registered and resumes it instead.
func (a *Activities) IntakeActivity(ctx context.Context, input IntakeInput) (pipeline.WorkflowResult, error) {
	res, err := a.Processor.ProcessDocument(ctx, pipeline.DocumentInput{
		DocumentID: input.DocumentID,
		ClaimID:    input.ClaimID,
		Filename:   input.Filename,
		Content:    input.Content,
		ObjectKey:  input.ObjectKey,
		Priority:   input.Priority,
		Metadata:   input.Metadata,
	})
	if errors.Is(err, domain.ErrDuplicate) && res.ClaimID != "" {
		return a.ProcessClaimActivity(ctx, ProcessClaimInput{ClaimID: res.ClaimID})
	}
	return res, classify(err)
}

func (a *Activities) ProcessClaimActivity(ctx context.Context, input ProcessClaimInput) (pipeline.WorkflowResult, error) {
	res, err := a.Processor.ProcessClaim(ctx, input.ClaimID)
	return res, classify(err)
}

func (a *Activities) ResubmitActivity(ctx context.Context, input ResubmitInput) (pipeline.WorkflowResult, error) {
	res, err := a.Processor.Resubmit(ctx, input.ClaimID)
	return res, classify(err)
}

func (a *Activities) SubmitReviewActivity(ctx context.Context, input SubmitReviewInput) (pipeline.WorkflowResult, error) {
	res, err := a.Processor.SubmitReview(ctx, input.ClaimID, pipeline.ReviewSubmission{
		Decision:    input.Decision,
		Corrections: input.Corrections,
		Notes:       input.Notes,
		Reviewer:    input.Reviewer,
	})
	if err != nil && !input.Decision.Valid() {
		return res, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidInput, err)
	}
	if err != nil && res.FinalStatus == domain.StatusPendingReview && input.Decision == domain.ReviewDecisionCorrect {
		// Corrections were rejected before any state change.
		return res, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidInput, err)
	}
	return res, classify(err)
}

// classify marks errors that no retry can fix as non-retryable. Busy claims
// and store or context errors are left to the retry policy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrDuplicate),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrInvalidReviewState):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidInput, err)
	}
	return err
}
