package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"claims-orchestrator/internal/domain"
	"claims-orchestrator/internal/logging"
	"claims-orchestrator/internal/openai"
	"claims-orchestrator/internal/workflow"
)

const (
	phaseBase1    = "BASE_ATTEMPT_1"
	phaseBase2    = "BASE_ATTEMPT_2"
	phaseRepair1  = "REPAIR_ATTEMPT_1"
	phaseCorrect1 = "CORRECT_ATTEMPT_1"
)

// LLM wraps a completion client with the retry budget shared by extraction
// and correction.
type LLM struct {
	Client   openai.Client
	Model    string
	Timeout  time.Duration
	MaxRetry int
	Log      logging.Logger

	// sleep is replaced in tests.
	sleep func(context.Context, time.Duration) error
}

func (l *LLM) complete(ctx context.Context, claimID, phase, systemPrompt, userPrompt string) (string, error) {
	if l.Client == nil {
		return "", errors.New("no LLM client configured")
	}
	maxRetry := l.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 3
	}
	sleep := l.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetry; attempt++ {
		out, err := l.Client.CompleteJSON(ctx, openai.CompletionRequest{
			Model:        l.Model,
			SystemPrompt: systemPrompt,
			UserPrompt:   userPrompt,
			Timeout:      l.Timeout,
		})
		if err == nil {
			l.logger().Debug("model output",
				logging.F("claim_id", claimID),
				logging.F("phase", phase),
				logging.F("attempt", attempt),
				logging.F("bytes", len(out)),
			)
			return out, nil
		}
		lastErr = err
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			break
		}
		if attempt == maxRetry {
			break
		}
		delay := time.Duration(200*(1<<(attempt-1))) * time.Millisecond
		if err := sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("openai retry exhausted: %w", lastErr)
}

func (l *LLM) logger() logging.Logger {
	if l.Log == nil {
		return logging.Nop()
	}
	return l.Log
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Extractor turns parsed document text into a claim. A malformed answer gets
// one repair prompt, then one fresh extraction, before the stage fails.
type Extractor struct {
	LLM *LLM
}

func (e *Extractor) Run(ctx context.Context, req workflow.StageRequest) (workflow.StageResult, error) {
	var doc workflow.ParsedDocument
	if err := json.Unmarshal(req.Payload, &doc); err != nil {
		return workflow.StageResult{}, fmt.Errorf("decode parsed document: %w", err)
	}
	basePrompt := openai.BuildBaseUserPrompt(doc.Text)

	base1, err := e.LLM.complete(ctx, req.ClaimID, phaseBase1, openai.BASE_SYSTEM, basePrompt)
	if err != nil {
		return workflow.StageResult{}, err
	}
	parsed, conf, parseErr := openai.ParseClaim(base1)
	if parseErr == nil {
		return extracted(parsed, conf), nil
	}

	repair1, err := e.LLM.complete(ctx, req.ClaimID, phaseRepair1, openai.REPAIR_SYSTEM, openai.BuildRepairUserPrompt(base1, parseErr))
	if err != nil {
		return workflow.StageResult{}, err
	}
	parsed, conf, parseErr = openai.ParseClaim(repair1)
	if parseErr == nil {
		return extracted(parsed, conf), nil
	}

	base2, err := e.LLM.complete(ctx, req.ClaimID, phaseBase2, openai.BASE_SYSTEM, basePrompt)
	if err != nil {
		return workflow.StageResult{}, err
	}
	parsed, conf, parseErr = openai.ParseClaim(base2)
	if parseErr != nil {
		return workflow.StageResult{}, fmt.Errorf("extraction failed after base1+repair1+base2: %w", parseErr)
	}
	return extracted(parsed, conf), nil
}

func extracted(data []byte, conf float64) workflow.StageResult {
	return workflow.StageResult{Success: true, Data: data, ConfidenceScore: workflow.Score(conf)}
}

// Corrector asks the model to fix the fields the validator flagged.
type Corrector struct {
	LLM *LLM
}

func (c *Corrector) Run(ctx context.Context, req workflow.StageRequest) (workflow.StageResult, error) {
	var in workflow.CorrectionInput
	if err := json.Unmarshal(req.Payload, &in); err != nil {
		return workflow.StageResult{}, fmt.Errorf("decode correction input: %w", err)
	}
	var doc workflow.ParsedDocument
	if len(in.Document) > 0 {
		if err := json.Unmarshal(in.Document, &doc); err != nil {
			return workflow.StageResult{}, fmt.Errorf("decode parsed document: %w", err)
		}
	}
	var report domain.ValidationReport
	if len(in.Validation) > 0 {
		if err := json.Unmarshal(in.Validation, &report); err != nil {
			return workflow.StageResult{}, fmt.Errorf("decode validation report: %w", err)
		}
	}

	prompt := openai.BuildCorrectUserPrompt(doc.Text, string(in.Extracted), report.Errors)
	out, err := c.LLM.complete(ctx, req.ClaimID, phaseCorrect1, openai.CORRECT_SYSTEM, prompt)
	if err != nil {
		return workflow.StageResult{}, err
	}
	parsed, conf, err := openai.ParseClaim(out)
	if err != nil {
		return workflow.StageResult{}, fmt.Errorf("corrected claim: %w", err)
	}
	return extracted(parsed, conf), nil
}
