package domain

import "fmt"

const (
	DefaultAutoProcessThreshold  = 0.85
	DefaultCorrectionThreshold   = 0.60
	DefaultMaxCorrectionAttempts = 3
)

type RoutingAction string

const (
	ActionAutoProcess RoutingAction = "auto_process"
	ActionCorrect     RoutingAction = "correct"
	ActionReview      RoutingAction = "review"
)

type RoutingPolicy struct {
	AutoProcessThreshold float64 `yaml:"auto_process_threshold"`
	CorrectionThreshold  float64 `yaml:"correction_threshold"`
}

func DefaultRoutingPolicy() RoutingPolicy {
	return RoutingPolicy{
		AutoProcessThreshold: DefaultAutoProcessThreshold,
		CorrectionThreshold:  DefaultCorrectionThreshold,
	}
}

func (p RoutingPolicy) Validate() error {
	if p.AutoProcessThreshold < 0 || p.AutoProcessThreshold > 1 {
		return fmt.Errorf("auto process threshold %.2f outside [0,1]", p.AutoProcessThreshold)
	}
	if p.CorrectionThreshold < 0 || p.CorrectionThreshold > 1 {
		return fmt.Errorf("correction threshold %.2f outside [0,1]", p.CorrectionThreshold)
	}
	if p.AutoProcessThreshold <= p.CorrectionThreshold {
		return fmt.Errorf("auto process threshold %.2f must exceed correction threshold %.2f", p.AutoProcessThreshold, p.CorrectionThreshold)
	}
	return nil
}

// Decide maps a confidence score to a routing action. Both thresholds are
// inclusive lower bounds of their branch.
func (p RoutingPolicy) Decide(confidence float64) RoutingAction {
	switch {
	case confidence >= p.AutoProcessThreshold:
		return ActionAutoProcess
	case confidence >= p.CorrectionThreshold:
		return ActionCorrect
	default:
		return ActionReview
	}
}

func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
