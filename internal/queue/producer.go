package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type Producer interface {
	Enqueue(ctx context.Context, req AnalysisRequest) error
	// EnqueueOnce enqueues only if no run was enqueued for the review within
	// the dedupe window. It reports whether a message was added.
	EnqueueOnce(ctx context.Context, req AnalysisRequest) (bool, error)
	Close() error
}

type redisProducer struct {
	client    *redis.Client
	stream    string
	dedupeTTL time.Duration
	logger    *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, dedupeTTL time.Duration, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client:    client,
		stream:    stream,
		dedupeTTL: dedupeTTL,
		logger:    logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, req AnalysisRequest) error {
	values := requestValues(req)
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue review analysis: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued review analysis",
		"review_id", req.ReviewID,
		"source", values["source"],
		"attempt", values["attempt"])
	return nil
}

func (p *redisProducer) EnqueueOnce(ctx context.Context, req AnalysisRequest) (bool, error) {
	key := DedupeKey(req.ReviewID)
	set, err := p.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), p.dedupeTTL).Result()
	if err != nil {
		return false, fmt.Errorf("setting dedupe marker: %w", err)
	}
	if !set {
		p.logger.DebugContext(ctx, "review analysis already enqueued, skipping", "review_id", req.ReviewID)
		return false, nil
	}

	if err := p.Enqueue(ctx, req); err != nil {
		// Drop the marker so a later event can retry.
		if delErr := p.client.Del(ctx, key).Err(); delErr != nil {
			p.logger.WarnContext(ctx, "failed to clear dedupe marker", "review_id", req.ReviewID, "error", delErr)
		}
		return false, err
	}
	return true, nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}

func requestValues(req AnalysisRequest) map[string]any {
	msg := Message{
		ReviewID: req.ReviewID,
		Source:   req.Source,
		Attempt:  req.Attempt,
	}
	if msg.Source == "" {
		msg.Source = SourceManual
	}
	if req.TraceID != nil {
		msg.TraceID = *req.TraceID
	}
	return MessageValues(msg)
}
