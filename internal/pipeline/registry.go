package pipeline

import (
	"context"
	"fmt"
	"sort"

	"storepulse.app/analysis/common/llm"
	"storepulse.app/analysis/common/nlp"
	"storepulse.app/analysis/internal/model"
	"storepulse.app/analysis/internal/store"
)

const (
	StepToneDetection   = "tone_detection"
	StepIssueDetection  = "issue_detection"
	StepComplexityCheck = "complexity_check"
	StepLLMAnalysis     = "gpt_analysis"
	StepPersistence     = "persistence"
)

// Step is one unit of review analysis. Process reads and writes run; it
// returns an error only for unexpected failures, which the orchestrator
// isolates to this step.
type Step interface {
	Process(ctx context.Context, review *model.Review, run *RunContext) error
}

// StepFunc adapts a function to Step.
type StepFunc func(ctx context.Context, review *model.Review, run *RunContext) error

func (f StepFunc) Process(ctx context.Context, review *model.Review, run *RunContext) error {
	return f(ctx, review, run)
}

// Deps are the collaborators steps may use. Nil Scorer, Parser or LLM
// disable the capability and the steps fall back accordingly.
type Deps struct {
	Scorer  nlp.SentimentScorer
	Parser  nlp.Parser
	LLM     llm.Client
	Prompts store.PromptStore
	Tx      store.TxRunner
}

// Constructor builds a step from its parsed params.
type Constructor func(deps Deps, params *Params) (Step, error)

type Registry struct {
	constructors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{constructors: map[string]Constructor{}}
}

func (r *Registry) Register(key string, c Constructor) error {
	if key == "" || c == nil {
		return fmt.Errorf("step key and constructor are required")
	}
	if _, exists := r.constructors[key]; exists {
		return fmt.Errorf("step %q already registered", key)
	}
	r.constructors[key] = c
	return nil
}

func (r *Registry) Lookup(key string) (Constructor, bool) {
	c, ok := r.constructors[key]
	return c, ok
}

func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.constructors))
	for k := range r.constructors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RegisterBuiltins registers the five built-in steps. Call once at start-up.
func RegisterBuiltins(r *Registry) error {
	builtins := []struct {
		key string
		c   Constructor
	}{
		{StepToneDetection, NewToneDetectionStep},
		{StepIssueDetection, NewIssueDetectionStep},
		{StepComplexityCheck, NewComplexityCheckStep},
		{StepLLMAnalysis, NewLLMAnalysisStep},
		{StepPersistence, NewPersistenceStep},
	}
	for _, b := range builtins {
		if err := r.Register(b.key, b.c); err != nil {
			return err
		}
	}
	return nil
}

// NewBuiltinRegistry returns a registry holding only the built-in steps.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		panic(err)
	}
	return r
}
