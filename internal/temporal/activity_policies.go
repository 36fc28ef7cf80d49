package temporal

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	ActivityPolicyIntake       = "intake"
	ActivityPolicyProcessClaim = "process_claim"
	ActivityPolicyResubmit     = "resubmit"
	ActivityPolicySubmitReview = "submit_review"
)

type activityPolicy struct {
	StartToCloseTimeout time.Duration
	RetryPolicy         temporal.RetryPolicy
}

// Pipeline activities resume from persisted state, so a retry never repeats
// a completed stage. Stage failures come back in the result, not as errors.
var activityPolicies = map[string]activityPolicy{
	ActivityPolicyIntake: {
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: temporal.RetryPolicy{
			InitialInterval:        2 * time.Second,
			BackoffCoefficient:     2,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypeInvalidInput},
		},
	},
	ActivityPolicyProcessClaim: {
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: temporal.RetryPolicy{
			InitialInterval:        2 * time.Second,
			BackoffCoefficient:     2,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypeInvalidInput},
		},
	},
	ActivityPolicyResubmit: {
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: temporal.RetryPolicy{
			MaximumAttempts:        1,
			NonRetryableErrorTypes: []string{ErrTypeInvalidInput},
		},
	},
	ActivityPolicySubmitReview: {
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: temporal.RetryPolicy{
			InitialInterval:        1 * time.Second,
			BackoffCoefficient:     2,
			MaximumInterval:        10 * time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypeInvalidInput},
		},
	},
}

func ActivityOptionsFor(policyName string) (workflow.ActivityOptions, error) {
	policy, ok := activityPolicies[policyName]
	if !ok {
		return workflow.ActivityOptions{}, fmt.Errorf("unknown activity policy: %s", policyName)
	}

	retry := policy.RetryPolicy
	return workflow.ActivityOptions{
		StartToCloseTimeout: policy.StartToCloseTimeout,
		RetryPolicy:         &retry,
	}, nil
}

func mustActivityContext(ctx workflow.Context, policyName string) workflow.Context {
	ao, err := ActivityOptionsFor(policyName)
	if err != nil {
		panic(err)
	}
	return workflow.WithActivityOptions(ctx, ao)
}
