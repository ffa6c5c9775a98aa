package pipeline

import "storepulse.app/analysis/internal/model"

// RunSummary reports one pipeline run. Callers branch on Success.
type RunSummary struct {
	Success          bool                 `json:"success"`
	ReviewID         int64                `json:"review_id"`
	AnalysisResultID *int64               `json:"analysis_result_id"`
	TicketID         *int64               `json:"ticket_id"`
	AnalysisSource   model.AnalysisSource `json:"analysis_source,omitempty"`
	Tone             *model.Tone          `json:"tone"`
	IssuesCount      int                  `json:"issues_count"`
	GPTCost          *float64             `json:"gpt_cost"`
	ExecutedSteps    []string             `json:"executed_steps"`
	Warning          string               `json:"warning,omitempty"`
	Error            string               `json:"error,omitempty"`
}

func failedSummary(reviewID int64, err error) *RunSummary {
	return &RunSummary{
		ReviewID:      reviewID,
		ExecutedSteps: []string{},
		Error:         err.Error(),
	}
}

func summaryFromRun(run *RunContext) *RunSummary {
	s := &RunSummary{
		Success:          true,
		ReviewID:         run.ReviewID,
		AnalysisResultID: run.AnalysisResultID,
		TicketID:         run.TicketID,
		AnalysisSource:   run.AnalysisSource,
		IssuesCount:      len(run.Issues),
		GPTCost:          run.GPTCost,
		ExecutedSteps:    append([]string{}, run.ExecutedSteps...),
	}
	if s.AnalysisSource == "" && run.AnalysisResultID != nil {
		s.AnalysisSource = model.AnalysisSourceLocal
	}
	if run.Tone != "" {
		s.Tone = ptr(run.Tone)
	}
	return s
}
