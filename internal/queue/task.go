package queue

import "fmt"

type TaskType string

const (
	TaskTypeReviewAnalysis TaskType = "review_analysis"
)

// Source records why a run was enqueued.
type Source string

const (
	SourceReviewCreated Source = "review_created"
	SourceManual        Source = "manual"
	SourceReanalyze     Source = "reanalyze"
	SourceAppBacklog    Source = "app_backlog"
)

// AnalysisRequest asks for one pipeline run over a review.
type AnalysisRequest struct {
	ReviewID int64
	Source   Source
	TraceID  *string
	Attempt  int
}

// DedupeKey is the marker that makes a review-created event enqueue at most once.
func DedupeKey(reviewID int64) string {
	return fmt.Sprintf("review_analysis:enqueued:%d", reviewID)
}
