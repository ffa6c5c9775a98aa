package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"storepulse.app/analysis/common/logger"
	"storepulse.app/analysis/internal/queue"
)

type RedisReclaimerConfig struct {
	Stream    string
	Group     string
	Consumer  string
	MinIdle   time.Duration
	Interval  time.Duration
	BatchSize int64
	// MaxDeliveries dead-letters a message that keeps getting stuck. Zero disables the check.
	MaxDeliveries int64
}

// RedisReclaimer picks up analysis jobs left pending by a worker that died
// or shut down mid-run, and finishes them.
type RedisReclaimer struct {
	client    *redis.Client
	cfg       RedisReclaimerConfig
	consumer  Consumer
	processor queue.MessageProcessor
}

// NewRedisReclaimer builds a reclaimer. processor is normally Worker.ProcessMessage.
func NewRedisReclaimer(client *redis.Client, cfg RedisReclaimerConfig, consumer Consumer, processor queue.MessageProcessor) *RedisReclaimer {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &RedisReclaimer{
		client:    client,
		cfg:       cfg,
		consumer:  consumer,
		processor: processor,
	}
}

// Run sweeps on every interval until ctx is done.
func (r *RedisReclaimer) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "worker.reclaimer"})
	slog.InfoContext(ctx, "reclaimer started",
		"interval", r.cfg.Interval,
		"min_idle", r.cfg.MinIdle,
		"max_deliveries", r.cfg.MaxDeliveries)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.sweep(ctx); err != nil {
				slog.ErrorContext(ctx, "reclaim sweep failed", "error", err)
			}
		}
	}
}

func (r *RedisReclaimer) sweep(ctx context.Context) error {
	pending, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: r.cfg.Stream,
		Group:  r.cfg.Group,
		Idle:   r.cfg.MinIdle,
		Start:  "-",
		End:    "+",
		Count:  r.cfg.BatchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("listing pending jobs: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	deliveries := make(map[string]int64, len(pending))
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		deliveries[p.ID] = p.RetryCount
		ids = append(ids, p.ID)
	}

	// Claiming resets idle time, so a second reclaimer racing us gets nothing back.
	claimed, err := r.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   r.cfg.Stream,
		Group:    r.cfg.Group,
		Consumer: r.cfg.Consumer,
		MinIdle:  r.cfg.MinIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return fmt.Errorf("claiming %d pending jobs: %w", len(ids), err)
	}

	slog.InfoContext(ctx, "claimed stale jobs", "pending", len(pending), "claimed", len(claimed))
	for _, raw := range claimed {
		if ctx.Err() != nil {
			return nil
		}
		r.recover(ctx, raw, deliveries[raw.ID])
	}
	return nil
}

func (r *RedisReclaimer) recover(ctx context.Context, raw redis.XMessage, delivered int64) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{MessageID: logger.Ptr(raw.ID)})

	msg, err := queue.ParseMessage(raw)
	if err != nil {
		slog.ErrorContext(ctx, "dropping unparsable pending job", "error", err)
		_ = r.consumer.Ack(ctx, queue.Message{ID: raw.ID, Raw: raw})
		return
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{ReviewID: logger.Ptr(msg.ReviewID)})

	if exhausted(r.cfg.MaxDeliveries, delivered) {
		reason := fmt.Sprintf("delivered %d times without completing", delivered)
		if err := r.consumer.SendDLQ(ctx, msg, reason); err != nil {
			slog.ErrorContext(ctx, "dead-lettering stuck job failed", "error", err)
		}
		return
	}

	start := time.Now()
	if err := r.processor(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "reclaimed job failed", "error", err, "deliveries", delivered)
		return
	}
	slog.InfoContext(ctx, "reclaimed job finished",
		"deliveries", delivered,
		"duration_ms", time.Since(start).Milliseconds())
}

// exhausted reports whether a job delivered this many times should stop being retried.
func exhausted(maxDeliveries, delivered int64) bool {
	return maxDeliveries > 0 && delivered >= maxDeliveries
}
