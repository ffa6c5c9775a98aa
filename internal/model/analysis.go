package model

import (
	"strings"
	"time"
)

type (
	Tone           string
	AnalysisSource string
)

const (
	ToneVeryNegative Tone = "very_negative"
	ToneNegative     Tone = "negative"
	ToneNeutral      Tone = "neutral"
	TonePositive     Tone = "positive"
	ToneVeryPositive Tone = "very_positive"
)

const (
	AnalysisSourceLocal  AnalysisSource = "local"
	AnalysisSourceGPT    AnalysisSource = "gpt"
	AnalysisSourceManual AnalysisSource = "manual"
	AnalysisSourceNone   AnalysisSource = "none"
)

// ParseTone maps a free-form label ("Very Negative", "very-negative") to a Tone.
// Unknown labels yield ToneNeutral and false.
func ParseTone(s string) (Tone, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch Tone(norm) {
	case ToneVeryNegative, ToneNegative, ToneNeutral, TonePositive, ToneVeryPositive:
		return Tone(norm), true
	}
	return ToneNeutral, false
}

func (t Tone) IsNegative() bool {
	return t == ToneNegative || t == ToneVeryNegative
}

// AnalysisResult is the one-per-review outcome of a pipeline run.
// Re-analysis replaces every field.
type AnalysisResult struct {
	ID              int64          `json:"id"`
	ReviewID        int64          `json:"review_id"`
	Tone            Tone           `json:"tone"`
	RawPolarity     float64        `json:"raw_polarity"`
	RawSubjectivity float64        `json:"raw_subjectivity"`
	Issues          []string       `json:"issues"`
	ComplexReview   *string        `json:"complex_review"`
	Notes           *string        `json:"notes"`
	Confidence      float64        `json:"confidence"`
	AnalysisSource  AnalysisSource `json:"analysis_source"`
	FullPayload     map[string]any `json:"full_payload"`
	FlagSupport     *string        `json:"flag_support"`
	AnalyzedAt      time.Time      `json:"analyzed_at"`
}
