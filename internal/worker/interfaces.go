package worker

import (
	"context"
	"time"

	"storepulse.app/analysis/internal/pipeline"
	"storepulse.app/analysis/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, delay time.Duration, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// Analyzer runs the pipeline for one review. *pipeline.Orchestrator satisfies it.
type Analyzer interface {
	Run(ctx context.Context, reviewID int64) (*pipeline.RunSummary, error)
}
