package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"storepulse.app/analysis/common/logger"
	"storepulse.app/analysis/internal/pipeline"
	"storepulse.app/analysis/internal/queue"
	"storepulse.app/analysis/internal/store"
)

const (
	DefaultBacklogLimit = 100
	MaxBacklogLimit     = 1000
)

var (
	ErrAppNotFound   = errors.New("app not found")
	ErrNoReviewIDs   = errors.New("at least one review id is required")
	ErrQueueDisabled = errors.New("analysis queue is not configured")
	ErrInvalidLimit  = fmt.Errorf("limit must be between 1 and %d", MaxBacklogLimit)
	ErrInvalidReview = errors.New("review id must be positive")
)

// Runner runs the pipeline for one review. *pipeline.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, reviewID int64) (*pipeline.RunSummary, error)
}

type BatchError struct {
	ReviewID int64  `json:"review_id"`
	Error    string `json:"error"`
}

// BatchSummary tallies a synchronous re-analysis of several reviews.
type BatchSummary struct {
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Errors     []BatchError `json:"errors"`
}

type BacklogResult struct {
	AppID     int64   `json:"app_id"`
	Enqueued  int     `json:"enqueued"`
	ReviewIDs []int64 `json:"review_ids"`
}

type AnalysisService interface {
	// RunPipeline analyzes a review synchronously. The summary is never nil.
	RunPipeline(ctx context.Context, reviewID int64) (*pipeline.RunSummary, error)
	// Enqueue schedules an asynchronous run.
	Enqueue(ctx context.Context, reviewID int64, source queue.Source) error
	// Reanalyze runs the pipeline for each review in turn, replacing prior results.
	Reanalyze(ctx context.Context, reviewIDs []int64) (*BatchSummary, error)
	// AnalyzeApp enqueues runs for up to limit reviews of an app that have no result yet.
	AnalyzeApp(ctx context.Context, appID int64, limit int) (*BacklogResult, error)
	// ReviewCreated enqueues exactly one run per newly ingested review.
	ReviewCreated(ctx context.Context, reviewID int64) (enqueued bool, err error)
}

type analysisService struct {
	runner   Runner
	reviews  store.ReviewStore
	producer queue.Producer
}

// NewAnalysisService wires the pipeline runner and queue. producer may be nil
// for callers that only run synchronously.
func NewAnalysisService(runner Runner, reviews store.ReviewStore, producer queue.Producer) AnalysisService {
	return &analysisService{
		runner:   runner,
		reviews:  reviews,
		producer: producer,
	}
}

func (s *analysisService) RunPipeline(ctx context.Context, reviewID int64) (*pipeline.RunSummary, error) {
	return s.runner.Run(ctx, reviewID)
}

func (s *analysisService) Enqueue(ctx context.Context, reviewID int64, source queue.Source) error {
	if reviewID <= 0 {
		return ErrInvalidReview
	}
	if s.producer == nil {
		return ErrQueueDisabled
	}
	if err := s.producer.Enqueue(ctx, s.request(ctx, reviewID, source)); err != nil {
		return fmt.Errorf("enqueueing review %d: %w", reviewID, err)
	}
	return nil
}

func (s *analysisService) Reanalyze(ctx context.Context, reviewIDs []int64) (*BatchSummary, error) {
	if len(reviewIDs) == 0 {
		return nil, ErrNoReviewIDs
	}

	batch := &BatchSummary{Total: len(reviewIDs), Errors: []BatchError{}}
	for _, reviewID := range reviewIDs {
		if err := ctx.Err(); err != nil {
			return batch, err
		}

		summary, err := s.runner.Run(ctx, reviewID)
		if err == nil && summary != nil && summary.Success {
			batch.Successful++
			continue
		}

		batch.Failed++
		msg := "pipeline run failed"
		switch {
		case summary != nil && summary.Error != "":
			msg = summary.Error
		case err != nil:
			msg = err.Error()
		}
		batch.Errors = append(batch.Errors, BatchError{ReviewID: reviewID, Error: msg})
	}

	slog.InfoContext(ctx, "reanalysis finished",
		"total", batch.Total,
		"successful", batch.Successful,
		"failed", batch.Failed)
	return batch, nil
}

func (s *analysisService) AnalyzeApp(ctx context.Context, appID int64, limit int) (*BacklogResult, error) {
	if limit == 0 {
		limit = DefaultBacklogLimit
	}
	if limit < 0 || limit > MaxBacklogLimit {
		return nil, ErrInvalidLimit
	}
	if s.producer == nil {
		return nil, ErrQueueDisabled
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{AppID: logger.Ptr(appID)})

	exists, err := s.reviews.AppExists(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("checking app: %w", err)
	}
	if !exists {
		return nil, ErrAppNotFound
	}

	ids, err := s.reviews.ListUnanalyzedByApp(ctx, appID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unanalyzed reviews: %w", err)
	}

	result := &BacklogResult{AppID: appID, ReviewIDs: []int64{}}
	for _, reviewID := range ids {
		if err := s.producer.Enqueue(ctx, s.request(ctx, reviewID, queue.SourceAppBacklog)); err != nil {
			return result, fmt.Errorf("enqueueing review %d: %w", reviewID, err)
		}
		result.Enqueued++
		result.ReviewIDs = append(result.ReviewIDs, reviewID)
	}

	slog.InfoContext(ctx, "app backlog enqueued", "enqueued", result.Enqueued, "limit", limit)
	return result, nil
}

func (s *analysisService) ReviewCreated(ctx context.Context, reviewID int64) (bool, error) {
	if reviewID <= 0 {
		return false, ErrInvalidReview
	}
	if s.producer == nil {
		return false, ErrQueueDisabled
	}

	if _, err := s.reviews.GetByID(ctx, reviewID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, fmt.Errorf("%w: %d", pipeline.ErrReviewNotFound, reviewID)
		}
		return false, fmt.Errorf("loading review: %w", err)
	}

	enqueued, err := s.producer.EnqueueOnce(ctx, s.request(ctx, reviewID, queue.SourceReviewCreated))
	if err != nil {
		return false, fmt.Errorf("enqueueing review %d: %w", reviewID, err)
	}
	if !enqueued {
		slog.InfoContext(ctx, "review already enqueued, skipping", "review_id", reviewID)
	}
	return enqueued, nil
}

func (s *analysisService) request(ctx context.Context, reviewID int64, source queue.Source) queue.AnalysisRequest {
	req := queue.AnalysisRequest{
		ReviewID: reviewID,
		Source:   source,
		Attempt:  1,
	}
	if traceID := logger.TraceID(ctx); traceID != "" {
		req.TraceID = &traceID
	}
	return req
}
