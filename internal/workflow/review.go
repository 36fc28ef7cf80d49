package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"claims-orchestrator/internal/domain"
	"claims-orchestrator/internal/events"
	"claims-orchestrator/internal/logging"
)

const defaultRejectReason = "rejected by reviewer"

type ReviewSubmission struct {
	Decision    domain.ReviewDecisionType `json:"decision"`
	Corrections json.RawMessage           `json:"corrections,omitempty"`
	Notes       string                    `json:"notes,omitempty"`
	Reviewer    string                    `json:"reviewer,omitempty"`
}

// SubmitReview applies a reviewer's decision to a claim waiting in
// pending_review and resumes the pipeline where the decision leads.
func (o *Orchestrator) SubmitReview(ctx context.Context, claimID string, sub ReviewSubmission) (WorkflowResult, error) {
	if !sub.Decision.Valid() {
		return WorkflowResult{ClaimID: claimID}, fmt.Errorf("unknown review decision %q", sub.Decision)
	}

	release, err := o.acquire(claimID)
	if err != nil {
		return WorkflowResult{ClaimID: claimID}, err
	}
	defer release()

	st, err := o.states.GetState(ctx, claimID)
	if err != nil {
		return WorkflowResult{ClaimID: claimID}, err
	}
	if st.Record.Status != domain.StatusPendingReview {
		return WorkflowResult{ClaimID: claimID, FinalStatus: st.Record.Status},
			&domain.InvalidReviewStateError{ClaimID: claimID, Status: st.Record.Status}
	}

	var merged json.RawMessage
	if sub.Decision == domain.ReviewDecisionCorrect {
		merged, err = mergeCorrections(st.ExtractedClaim, sub.Corrections)
		if err != nil {
			return WorkflowResult{ClaimID: claimID, FinalStatus: st.Record.Status}, fmt.Errorf("claim %s: invalid corrections: %w", claimID, err)
		}
	}

	r := &run{claimID: claimID, state: st, started: o.now(), reviewed: true}
	metadata := map[string]string{"decision": string(sub.Decision)}
	if sub.Reviewer != "" {
		metadata["reviewer"] = sub.Reviewer
	}
	o.log.Info("review submitted",
		logging.F("claim_id", claimID),
		logging.F("decision", string(sub.Decision)),
		logging.F("reviewer", sub.Reviewer),
	)

	switch sub.Decision {
	case domain.ReviewDecisionReject:
		reason := sub.Notes
		if reason == "" {
			reason = defaultRejectReason
		}
		if err := o.transition(ctx, r, domain.StatusFailed, reason, metadata); err != nil {
			return o.interrupted(r, err)
		}
		o.dequeue(ctx, claimID)
		res := o.result(r, false)
		res.Error = reason
		o.publish(r, events.WorkflowEvent{
			Type:             events.WorkflowFailed,
			Reason:           defaultRejectReason,
			Error:            reason,
			ProcessingTimeMs: res.ProcessingTimeMs,
		})
		return res, nil

	case domain.ReviewDecisionApprove:
		msg := "approved by reviewer"
		if sub.Notes != "" {
			msg += ": " + sub.Notes
		}
		if err := o.transition(ctx, r, domain.StatusAdjudicating, msg, metadata); err != nil {
			return o.interrupted(r, err)
		}

	case domain.ReviewDecisionCorrect:
		msg := "corrected by reviewer"
		if hasCorrections(sub.Corrections) {
			if err := o.setPayload(ctx, r, o.states.SetExtractedClaim, merged); err != nil {
				return o.interrupted(r, err)
			}
		} else {
			msg = "revalidation requested by reviewer"
		}
		if err := o.transition(ctx, r, domain.StatusValidating, msg, metadata); err != nil {
			return o.interrupted(r, err)
		}
	}

	o.dequeue(ctx, claimID)
	return o.traced(ctx, r, o.resume)
}

// dequeue is best effort: the claim has already left pending_review, and a
// stale queue entry is rejected on its next submission.
func (o *Orchestrator) dequeue(ctx context.Context, claimID string) {
	if _, err := o.queue.Dequeue(ctx, claimID); err != nil {
		o.log.Warn("review dequeue failed", logging.F("claim_id", claimID), logging.Err(err))
	}
}

func hasCorrections(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// mergeCorrections overlays the top-level keys of corrections onto the
// extracted claim. Absent corrections leave the claim as extracted.
func mergeCorrections(extracted, corrections json.RawMessage) (json.RawMessage, error) {
	if !hasCorrections(corrections) {
		return extracted, nil
	}
	var patch map[string]json.RawMessage
	if err := json.Unmarshal(corrections, &patch); err != nil {
		return nil, fmt.Errorf("corrections must be a JSON object: %w", err)
	}

	base := map[string]json.RawMessage{}
	if len(extracted) > 0 {
		if err := json.Unmarshal(extracted, &base); err != nil {
			return nil, fmt.Errorf("extracted claim is not a JSON object: %w", err)
		}
	}
	for k, v := range patch {
		base[k] = v
	}
	return json.Marshal(base)
}
