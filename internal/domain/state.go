package domain

type ClaimStatus string

const (
	StatusReceived      ClaimStatus = "received"
	StatusParsing       ClaimStatus = "parsing"
	StatusExtracting    ClaimStatus = "extracting"
	StatusValidating    ClaimStatus = "validating"
	StatusCorrecting    ClaimStatus = "correcting"
	StatusPendingReview ClaimStatus = "pending_review"
	StatusAdjudicating  ClaimStatus = "adjudicating"
	StatusCompleted     ClaimStatus = "completed"
	StatusFailed        ClaimStatus = "failed"
)

// transitions is the full set of legal status changes. Anything not listed
// here is rejected by the state manager.
var transitions = map[ClaimStatus][]ClaimStatus{
	StatusReceived:      {StatusParsing, StatusFailed},
	StatusParsing:       {StatusExtracting, StatusFailed},
	StatusExtracting:    {StatusValidating, StatusPendingReview, StatusFailed},
	StatusValidating:    {StatusCorrecting, StatusPendingReview, StatusAdjudicating, StatusFailed},
	StatusCorrecting:    {StatusValidating, StatusPendingReview, StatusFailed},
	StatusPendingReview: {StatusValidating, StatusAdjudicating, StatusCompleted, StatusFailed},
	StatusAdjudicating:  {StatusCompleted, StatusPendingReview, StatusFailed},
	StatusCompleted:     {},
	StatusFailed:        {StatusReceived},
}

func AllStatuses() []ClaimStatus {
	return []ClaimStatus{
		StatusReceived,
		StatusParsing,
		StatusExtracting,
		StatusValidating,
		StatusCorrecting,
		StatusPendingReview,
		StatusAdjudicating,
		StatusCompleted,
		StatusFailed,
	}
}

func (s ClaimStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Settled reports whether no worker is currently driving a claim in this
// status: it is either terminal or waiting on a reviewer.
func (s ClaimStatus) Settled() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusPendingReview
}

func (s ClaimStatus) String() string {
	return string(s)
}

// NextStatuses returns a copy of the statuses reachable from s.
func NextStatuses(s ClaimStatus) []ClaimStatus {
	next := transitions[s]
	out := make([]ClaimStatus, len(next))
	copy(out, next)
	return out
}

func CanTransition(from, to ClaimStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func ParsePriority(v string) (Priority, bool) {
	switch Priority(v) {
	case PriorityNormal, PriorityHigh, PriorityUrgent:
		return Priority(v), true
	case "":
		return PriorityNormal, true
	default:
		return "", false
	}
}

// Rank orders priorities for queue scheduling; lower ranks are served first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	default:
		return 2
	}
}

type ReviewDecisionType string

const (
	ReviewDecisionApprove ReviewDecisionType = "approve"
	ReviewDecisionReject  ReviewDecisionType = "reject"
	ReviewDecisionCorrect ReviewDecisionType = "correct"
)

func (d ReviewDecisionType) Valid() bool {
	switch d {
	case ReviewDecisionApprove, ReviewDecisionReject, ReviewDecisionCorrect:
		return true
	default:
		return false
	}
}
