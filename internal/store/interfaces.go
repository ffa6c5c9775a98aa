package store

import (
	"context"
	"errors"
	"time"

	"storepulse.app/analysis/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ReviewStore reads reviews handed over by ingestion. The pipeline never writes them.
type ReviewStore interface {
	GetByID(ctx context.Context, id int64) (*model.Review, error)
	ListUnanalyzedByApp(ctx context.Context, appID int64, limit int) ([]int64, error)
	AppExists(ctx context.Context, appID int64) (bool, error)
}

// PipelineConfigStore defines the contract for the step catalog and configured steps
type PipelineConfigStore interface {
	// ListEnabled returns enabled configs ordered by order, then step label.
	ListEnabled(ctx context.Context) ([]model.StepConfig, error)
	ListStepTypes(ctx context.Context) ([]model.StepType, error)
	UpsertStepType(ctx context.Context, st model.StepType) (created bool, err error)
	UpsertConfig(ctx context.Context, cfg model.StepConfig) (created bool, err error)
	Reset(ctx context.Context) error
}

// PromptStore defines the contract for prompt template access
type PromptStore interface {
	// GetActive returns the newest active template for promptID.
	GetActive(ctx context.Context, promptID string) (*model.PromptTemplate, error)
	Upsert(ctx context.Context, p model.PromptTemplate) (created bool, err error)
	Reset(ctx context.Context) error
}

// AnalysisResultStore defines the contract for analysis results, one per review
type AnalysisResultStore interface {
	Upsert(ctx context.Context, result *model.AnalysisResult) (id int64, created bool, err error)
	GetByReviewID(ctx context.Context, reviewID int64) (*model.AnalysisResult, error)
}

// TicketStore defines the contract for review tickets
type TicketStore interface {
	// FindActive locks and returns the open or in-progress ticket of a review.
	FindActive(ctx context.Context, reviewID int64) (*model.ReviewTicket, error)
	Create(ctx context.Context, ticket *model.ReviewTicket) error
	Repoint(ctx context.Context, ticketID, analysisResultID int64) error
	DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TxStores exposes the stores a transactional operation may touch.
type TxStores interface {
	AnalysisResults() AnalysisResultStore
	Tickets() TicketStore
	PipelineConfigs() PipelineConfigStore
	Prompts() PromptStore
}

// TxRunner runs fn within a transaction with stores bound to it.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores TxStores) error) error
}
