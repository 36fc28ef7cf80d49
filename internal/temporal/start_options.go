package temporal

import (
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// ClaimIDForDocument derives the claim id for an uploaded document. Every
// intake path uses it so one object maps to one workflow id.
func ClaimIDForDocument(documentID string) string {
	return "CLM-" + documentID
}

// IntakeStartOptions refuses to start a second run for a claim that already
// had one, open or closed.
func IntakeStartOptions(workflowID, taskQueue string) client.StartWorkflowOptions {
	return client.StartWorkflowOptions{
		ID:                    workflowID,
		TaskQueue:             taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}
}

// ResubmitStartOptions allows a new run once the previous one has closed.
func ResubmitStartOptions(workflowID, taskQueue string) client.StartWorkflowOptions {
	return client.StartWorkflowOptions{
		ID:                    workflowID,
		TaskQueue:             taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}
}
