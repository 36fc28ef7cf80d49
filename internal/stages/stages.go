// Package stages holds the collaborators bundled with the worker: a text
// parser, LLM extraction and correction, rule validation, quality scoring,
// rule adjudication and claim indexing.
package stages

import (
	"time"

	"claims-orchestrator/internal/logging"
	"claims-orchestrator/internal/openai"
	"claims-orchestrator/internal/workflow"
)

type Options struct {
	LLM      openai.Client
	Model    string
	Timeout  time.Duration
	MaxRetry int
	// Index is optional. Without it completed claims are not indexed.
	Index IndexWriter
	Log   logging.Logger
	Now   func() time.Time
}

// New returns the full pipeline wired to opts.
func New(opts Options) workflow.Stages {
	if opts.Log == nil {
		opts.Log = logging.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	llm := &LLM{
		Client:   opts.LLM,
		Model:    opts.Model,
		Timeout:  opts.Timeout,
		MaxRetry: opts.MaxRetry,
		Log:      opts.Log,
	}
	s := workflow.Stages{
		Parse:      TextParser{},
		Extract:    &Extractor{LLM: llm},
		Enrich:     Enricher{},
		Validate:   &Validator{Now: opts.Now},
		Correct:    &Corrector{LLM: llm},
		Quality:    QualityAssessor{},
		Adjudicate: Adjudicator{},
	}
	if opts.Index != nil {
		s.Index = &Indexer{Store: opts.Index, Now: opts.Now}
	}
	return s
}

func failed(format string, err error) workflow.StageResult {
	msg := format
	if err != nil {
		msg += ": " + err.Error()
	}
	return workflow.StageResult{Success: false, Error: msg}
}
