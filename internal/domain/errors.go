package domain

import (
	"errors"
	"fmt"
)

// Sentinels let callers branch with errors.Is without depending on the
// concrete error types below.
var (
	ErrNotFound              = errors.New("claim not found")
	ErrDuplicate             = errors.New("claim already exists")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrStageExecution        = errors.New("stage execution failed")
	ErrMaxCorrectionAttempts = errors.New("max correction attempts reached")
	ErrInvalidReviewState    = errors.New("claim is not awaiting review")
	ErrClaimBusy             = errors.New("claim is already being processed")
)

type NotFoundError struct {
	ClaimID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("claim %s not found", e.ClaimID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

type DuplicateClaimError struct {
	ClaimID string
}

func (e *DuplicateClaimError) Error() string {
	return fmt.Sprintf("claim %s already exists", e.ClaimID)
}

func (e *DuplicateClaimError) Is(target error) bool {
	return target == ErrDuplicate
}

type InvalidTransitionError struct {
	ClaimID string
	From    ClaimStatus
	To      ClaimStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("claim %s: invalid transition %s -> %s", e.ClaimID, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

type StageExecutionError struct {
	ClaimID string
	Stage   string
	Message string
	Cause   error
}

func (e *StageExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Cause)
	}
	return fmt.Sprintf("stage %s failed: %s", e.Stage, e.Message)
}

func (e *StageExecutionError) Unwrap() error {
	return e.Cause
}

func (e *StageExecutionError) Is(target error) bool {
	return target == ErrStageExecution
}

type MaxCorrectionAttemptsExceededError struct {
	ClaimID  string
	Attempts int
	Max      int
}

func (e *MaxCorrectionAttemptsExceededError) Error() string {
	return fmt.Sprintf("claim %s: max correction attempts reached (%d/%d)", e.ClaimID, e.Attempts, e.Max)
}

func (e *MaxCorrectionAttemptsExceededError) Is(target error) bool {
	return target == ErrMaxCorrectionAttempts
}

type InvalidReviewStateError struct {
	ClaimID string
	Status  ClaimStatus
}

func (e *InvalidReviewStateError) Error() string {
	return fmt.Sprintf("claim %s is %s, review requires %s", e.ClaimID, e.Status, StatusPendingReview)
}

func (e *InvalidReviewStateError) Is(target error) bool {
	return target == ErrInvalidReviewState
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}
