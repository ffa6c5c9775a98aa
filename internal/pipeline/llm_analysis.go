package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"storepulse.app/analysis/common/llm"
	"storepulse.app/analysis/common/logger"
	"storepulse.app/analysis/internal/model"
	"storepulse.app/analysis/internal/store"
)

const maxLoggedReply = 256

const (
	avgInputTokens      = 200
	avgOutputTokens     = 100
	inputPricePerToken  = 0.0000001
	outputPricePerToken = 0.0000004

	defaultLLMConfidence = 0.8
)

// llmVerdict is the JSON object the model is asked to return. Pointer fields
// tell a missing key apart from an explicit value.
type llmVerdict struct {
	Tone          *string   `json:"tone" jsonschema:"description=One of Very Negative, Negative, Neutral, Positive, Very Positive"`
	Issues        *[]string `json:"issues" jsonschema:"description=Problem: or Request: tagged findings"`
	ComplexReview *string   `json:"complex_review" jsonschema:"description=Null when clear, else Need review: <reason>"`
	RawPolarity   *float64  `json:"raw_polarity"`
	Notes         *string   `json:"notes"`
	Confidence    *float64  `json:"confidence"`
}

type llmAnalysisStep struct {
	client       llm.Client
	prompts      store.PromptStore
	model        string
	promptID     string
	skipIfSimple bool
	temperature  float64
	maxTokens    int
}

func NewLLMAnalysisStep(deps Deps, params *Params) (Step, error) {
	s := &llmAnalysisStep{
		client:       deps.LLM,
		prompts:      deps.Prompts,
		model:        params.String("model", ""),
		promptID:     params.String("prompt_id", ""),
		skipIfSimple: params.Bool("skip_if_simple", true),
		temperature:  params.Float("temperature", 0.3),
		maxTokens:    params.Int("max_tokens", 500),
	}
	if s.maxTokens <= 0 {
		return nil, fmt.Errorf("max_tokens must be positive, got %d", s.maxTokens)
	}
	return s, nil
}

func (s *llmAnalysisStep) Process(ctx context.Context, review *model.Review, run *RunContext) error {
	if s.client == nil {
		slog.WarnContext(ctx, "llm analysis skipped, no client configured")
		return nil
	}

	if s.skipIfSimple {
		if run.SkipGPT != nil && *run.SkipGPT {
			slog.InfoContext(ctx, "llm analysis skipped, review marked simple")
			return nil
		}
		if run.ComplexReviewSet() && !run.IsComplex() {
			slog.InfoContext(ctx, "llm analysis skipped, review not complex")
			return nil
		}
	}

	if err := s.analyze(ctx, review, run); err != nil {
		slog.ErrorContext(ctx, "llm analysis failed, keeping local analysis", "error", err)
		run.GPTError = ptr(err.Error())
		run.AnalysisSource = model.AnalysisSourceLocal
	}
	return nil
}

func (s *llmAnalysisStep) analyze(ctx context.Context, review *model.Review, run *RunContext) error {
	completion, err := s.client.Complete(ctx, llm.Request{
		SystemPrompt: s.systemPrompt(ctx),
		UserPrompt:   fmt.Sprintf("Review rating: %d\nTitle: %s\nContent: %s", review.Rating, review.Title, review.Content),
		Model:        s.model,
		SchemaName:   "review_analysis",
		Schema:       llm.GenerateSchema[llmVerdict](),
		MaxTokens:    s.maxTokens,
		Temperature:  llm.Temp(s.temperature),
	})
	if err != nil {
		return fmt.Errorf("llm completion: %w", err)
	}

	var verdict llmVerdict
	if err := json.Unmarshal([]byte(llm.StripCodeFence(completion.Content)), &verdict); err != nil {
		slog.WarnContext(ctx, "llm reply is not valid json", "reply", logger.Truncate(completion.Content, maxLoggedReply))
		return fmt.Errorf("decoding llm response: %w", err)
	}

	if verdict.Tone != nil {
		tone, ok := model.ParseTone(*verdict.Tone)
		if !ok {
			slog.WarnContext(ctx, "llm returned unknown tone, using neutral", "tone", *verdict.Tone)
		}
		run.Tone = tone
	} else if run.Tone == "" {
		run.Tone = model.ToneNeutral
	}
	if verdict.Issues != nil {
		run.Issues = *verdict.Issues
	}
	if verdict.RawPolarity != nil {
		run.RawPolarity = ptr(clamp(-1, 1, *verdict.RawPolarity))
	}
	run.SetComplexReview(verdict.ComplexReview)
	run.Notes = verdict.Notes
	run.Confidence = ptr(clamp(0, 1, derefOr(verdict.Confidence, defaultLLMConfidence)))
	run.AnalysisSource = model.AnalysisSourceGPT
	run.GPTCost = ptr(completionCost(completion))

	slog.InfoContext(ctx, "llm analysis completed",
		"model", completion.Model,
		"tone", run.Tone,
		"prompt_tokens", completion.PromptTokens,
		"completion_tokens", completion.CompletionTokens)
	return nil
}

func (s *llmAnalysisStep) systemPrompt(ctx context.Context) string {
	if s.promptID == "" || s.prompts == nil {
		return DefaultPromptText
	}

	tmpl, err := s.prompts.GetActive(ctx, s.promptID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		slog.WarnContext(ctx, "prompt template not found, using default", "prompt_id", s.promptID)
		return DefaultPromptText
	case err != nil:
		slog.WarnContext(ctx, "loading prompt template failed, using default", "prompt_id", s.promptID, "error", err)
		return DefaultPromptText
	}
	return tmpl.Text
}

func completionCost(c *llm.Completion) float64 {
	in, out := c.PromptTokens, c.CompletionTokens
	if in == 0 && out == 0 {
		in, out = avgInputTokens, avgOutputTokens
	}
	return float64(in)*inputPricePerToken + float64(out)*outputPricePerToken
}
