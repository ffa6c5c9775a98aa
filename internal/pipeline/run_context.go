package pipeline

import (
	"sort"

	"storepulse.app/analysis/common/nlp"
	"storepulse.app/analysis/internal/model"
)

// RunContext is the blackboard shared by the steps of one run. A step may
// read anything an earlier step wrote; nothing is cleared between steps.
// Pointer fields are nil until some step sets them.
type RunContext struct {
	ReviewID int64
	AppID    int64
	AppName  string
	Platform model.Platform
	Rating   int

	Tone            model.Tone
	RawPolarity     *float64
	RawSubjectivity *float64
	Issues          []string
	Notes           *string
	Confidence      *float64
	AnalysisSource  model.AnalysisSource
	SkipGPT         *bool

	// Doc caches the parsed review so later steps do not parse again.
	Doc         *nlp.Document
	VaderScores *nlp.Scores

	GPTCost  *float64
	GPTError *string

	ExecutedSteps []string
	StepErrors    map[string]string

	AnalysisResultID *int64
	AnalysisCreated  *bool
	TicketID         *int64
	TicketError      *string

	complexReview    *string
	complexReviewSet bool
}

func NewRunContext(review *model.Review) *RunContext {
	return &RunContext{
		ReviewID:   review.ID,
		AppID:      review.AppID,
		AppName:    review.AppName,
		Platform:   review.Platform,
		Rating:     review.Rating,
		StepErrors: map[string]string{},
	}
}

// SetComplexReview records a complexity verdict; nil means "checked, not complex".
func (rc *RunContext) SetComplexReview(reason *string) {
	rc.complexReview = reason
	rc.complexReviewSet = true
}

func (rc *RunContext) ComplexReview() *string {
	return rc.complexReview
}

// ComplexReviewSet distinguishes "not checked" from "checked and not complex".
func (rc *RunContext) ComplexReviewSet() bool {
	return rc.complexReviewSet
}

func (rc *RunContext) IsComplex() bool {
	return rc.complexReview != nil && *rc.complexReview != ""
}

func (rc *RunContext) Polarity() float64 {
	return derefOr(rc.RawPolarity, 0)
}

func (rc *RunContext) Subjectivity() float64 {
	return derefOr(rc.RawSubjectivity, 0.5)
}

func (rc *RunContext) RecordStepError(key string, err error) {
	rc.StepErrors[key] = err.Error()
}

// Keys lists the wire names of every field currently set, sorted.
func (rc *RunContext) Keys() []string {
	keys := []string{"app_name", "platform", "rating", "review_id"}
	add := func(set bool, name string) {
		if set {
			keys = append(keys, name)
		}
	}

	add(rc.Tone != "", "tone")
	add(rc.RawPolarity != nil, "raw_polarity")
	add(rc.RawSubjectivity != nil, "raw_subjectivity")
	add(rc.Issues != nil, "issues")
	add(rc.complexReviewSet, "complex_review")
	add(rc.Notes != nil, "notes")
	add(rc.Confidence != nil, "confidence")
	add(rc.AnalysisSource != "", "analysis_source")
	add(rc.SkipGPT != nil, "skip_gpt")
	add(rc.Doc != nil, "nlp_doc")
	add(rc.VaderScores != nil, "vader_scores")
	add(rc.GPTCost != nil, "gpt_cost")
	add(rc.GPTError != nil, "gpt_error")
	add(len(rc.ExecutedSteps) > 0, "executed_steps")
	add(rc.AnalysisResultID != nil, "analysis_result_id")
	add(rc.AnalysisCreated != nil, "analysis_created")
	add(rc.TicketID != nil, "ticket_id")
	add(rc.TicketError != nil, "ticket_error")
	for key := range rc.StepErrors {
		keys = append(keys, key+"_error")
	}

	sort.Strings(keys)
	return keys
}

func derefOr[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}

func ptr[T any](v T) *T {
	return &v
}
