package pipeline

import (
	"encoding/json"

	"storepulse.app/analysis/internal/model"
)

const DefaultPromptID = "default_review_analysis"

// DefaultPromptText is used when no prompt_id is configured or the
// configured template is missing.
const DefaultPromptText = `You are a review analyzer for a mobile game app. Analyze user reviews for:
1. Tone: Strictly one of: "Very Negative" (estimated polarity < -0.5), "Negative" (-0.5 to -0.1), "Neutral" (-0.1 to 0.1), "Positive" (0.1 to 0.5), "Very Positive" (>0.5). Base on overall sentiment. When high rating (>=4) and minor/single issue, lean towards Neutral or Positive if overall not strongly negative.
2. Issues/Requests: Array of strings, each as "Problem: [short description]" or "Request: [short description]" (max 50 chars per desc). Detect even in high-rating reviews for support. Empty array if none.
3. Complex review: Null if clear; else string starting with "Need review: [reason]" (e.g., "Need review: Mixed sentiments").
4. Notes: Null or string for extra info not fitting other fields (e.g., "User compared to other games").
5. Confidence: 0-1 score of your certainty.
Output ONLY JSON with EXACTLY these key names in lowercase/snake_case (no variations like capitalization). No additional text, explanations, or formatting outside the JSON object: {"tone": str, "issues": [str], "complex_review": str|null, "raw_polarity": float, "notes": str|null, "confidence": float}`

// BuiltinStepTypes is the step catalog seeded into pipeline_step_types.
func BuiltinStepTypes() []model.StepType {
	return []model.StepType{
		{Key: StepToneDetection, Label: "Tone Detection", Description: "Detects the emotional tone of the review using lexicon sentiment scoring"},
		{Key: StepIssueDetection, Label: "Issue Detection", Description: "Identifies problems and feature requests mentioned in the review"},
		{Key: StepComplexityCheck, Label: "Complexity Check", Description: "Determines if the review is complex and requires additional analysis"},
		{Key: StepLLMAnalysis, Label: "GPT Analysis", Description: "Advanced analysis using an LLM for complex reviews"},
		{Key: StepPersistence, Label: "Persistence", Description: "Saves analysis results and creates tickets if needed"},
	}
}

// DefaultStepConfigs is the out-of-the-box pipeline: every built-in step
// enabled, ordered 10 through 50.
func DefaultStepConfigs() []model.StepConfig {
	params := func(v map[string]any) json.RawMessage {
		raw, err := json.Marshal(v)
		if err != nil {
			panic(err)
		}
		return raw
	}

	return []model.StepConfig{
		{StepKey: StepToneDetection, Enabled: true, Order: 10, Params: params(map[string]any{})},
		{StepKey: StepIssueDetection, Enabled: true, Order: 20, Params: params(map[string]any{})},
		{StepKey: StepComplexityCheck, Enabled: true, Order: 30, Params: params(map[string]any{})},
		{StepKey: StepLLMAnalysis, Enabled: true, Order: 40, Params: params(map[string]any{
			"model":          "gpt-4o-mini",
			"prompt_id":      DefaultPromptID,
			"skip_if_simple": true,
		})},
		{StepKey: StepPersistence, Enabled: true, Order: 50, Params: params(map[string]any{
			"auto_ticket_for_problems": true,
			"auto_ticket_for_complex":  true,
			"ticket_only_for_negative": false,
		})},
	}
}

func DefaultPrompts() []model.PromptTemplate {
	return []model.PromptTemplate{
		{PromptID: DefaultPromptID, Version: "1.0", Text: DefaultPromptText, IsActive: true},
	}
}
