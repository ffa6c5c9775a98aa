package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storepulse.app/analysis/common/logger"
	"storepulse.app/analysis/internal/pipeline"
	"storepulse.app/analysis/internal/queue"
)

type Config struct {
	MaxAttempts int
	// RetryBaseDelay is multiplied by the failed attempt number.
	RetryBaseDelay time.Duration
	// RunTimeout bounds a single pipeline run. Zero disables the bound.
	RunTimeout time.Duration
}

type Worker struct {
	consumer Consumer
	analyzer Analyzer
	cfg      Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, analyzer Analyzer, cfg Config) *Worker {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Worker{
		consumer:  consumer,
		analyzer:  analyzer,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "worker"})
	slog.InfoContext(ctx, "worker started",
		"max_attempts", w.cfg.MaxAttempts,
		"retry_base_delay", w.cfg.RetryBaseDelay,
		"run_timeout", w.cfg.RunTimeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		if err := w.ProcessMessage(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "message left pending",
				"error", err,
				"message_id", msg.ID,
				"review_id", msg.ReviewID)
		}
	}

	return nil
}

// ProcessMessage runs the pipeline for msg and settles it: ack on success or
// fatal failure, requeue with backoff on retryable failure, DLQ once attempts
// are exhausted. A returned error means the message was left pending for the
// reclaimer. Exported so it can be reused by the reclaimer.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	msgID := msg.ID
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID: &msgID,
		ReviewID:  logger.Ptr(msg.ReviewID),
		Attempt:   logger.Ptr(msg.Attempt),
	})

	span := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.process_message",
		trace.WithAttributes(
			attribute.String("message_id", msg.ID),
			attribute.Int("attempt", msg.Attempt),
		))
	defer span.End()
	ctx = span.Context()

	if err := waitUntil(ctx, msg.NotBefore); err != nil {
		return fmt.Errorf("waiting for retry delay: %w", err)
	}

	slog.InfoContext(ctx, "processing message", "source", msg.Source)

	start := time.Now()
	summary, runErr := w.runSafe(ctx, msg.ReviewID)
	if runErr == nil {
		if err := w.consumer.Ack(ctx, msg); err != nil {
			// Log but don't fail - a redelivered run overwrites the same result
			slog.WarnContext(ctx, "failed to ACK message", "error", err)
		}
		slog.InfoContext(ctx, "message processed",
			"duration_ms", time.Since(start).Milliseconds(),
			"analysis_result_id", summary.AnalysisResultID,
			"ticket_id", summary.TicketID,
			"warning", summary.Warning)
		return nil
	}

	span.RecordError(runErr)
	if ctx.Err() != nil {
		return fmt.Errorf("worker shutting down: %w", errors.Join(ctx.Err(), runErr))
	}

	return w.handleFailedMessage(ctx, msg, runErr)
}

func (w *Worker) runSafe(ctx context.Context, reviewID int64) (summary *pipeline.RunSummary, err error) {
	if w.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.RunTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in pipeline run",
				"panic", r,
				"stack", string(debug.Stack()))
			summary = nil
			err = pipeline.NewRetryableError(fmt.Errorf("panic: %v", r))
		}
	}()
	return w.analyzer.Run(ctx, reviewID)
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) error {
	if !pipeline.IsRetryable(err) {
		slog.ErrorContext(ctx, "fatal pipeline error, not retrying", "error", err)
		if ackErr := w.consumer.Ack(ctx, msg); ackErr != nil {
			return fmt.Errorf("acking failed message: %w", ackErr)
		}
		return nil
	}

	if msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "max attempts reached, sending to DLQ",
			"error", err,
			"attempts", msg.Attempt)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			return fmt.Errorf("sending to DLQ: %w", dlqErr)
		}
		return nil
	}

	delay := w.RetryDelay(msg.Attempt)
	slog.WarnContext(ctx, "requeuing failed message",
		"error", err,
		"delay", delay)
	if requeueErr := w.consumer.Requeue(ctx, msg, delay, err.Error()); requeueErr != nil {
		return fmt.Errorf("requeuing message: %w", requeueErr)
	}
	return nil
}

// RetryDelay is the backoff applied after the given failed attempt.
func (w *Worker) RetryDelay(attempt int) time.Duration {
	return w.cfg.RetryBaseDelay * time.Duration(max(attempt, 1))
}

func waitUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if t.IsZero() || d <= 0 {
		return nil
	}

	slog.DebugContext(ctx, "delaying retried message", "wait", d)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
