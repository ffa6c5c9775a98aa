package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"storepulse.app/analysis/common/logger"
)

type ConsumerConfig struct {
	Stream      string        // Redis stream name
	Group       string        // Redis consumer group name
	Consumer    string        // Redis consumer name
	DLQStream   string        // Dead letter queue stream for failed messages
	BatchSize   int64         // Number of messages to process per batch
	Block       time.Duration // How long to block/poll for new messages
	MaxAttempts int           // Maximum attempts before moving to DLQ
}

type Message struct {
	ID        string
	TaskType  TaskType
	ReviewID  int64
	Source    Source
	Attempt   int
	TraceID   string
	LastError string
	// NotBefore delays a retried message; zero means run now.
	NotBefore time.Time
	Raw       redis.XMessage
}

// MessageProcessor processes a queue message.
type MessageProcessor func(ctx context.Context, msg Message) error

type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

func NewRedisConsumer(client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	consumer := &RedisConsumer{
		client: client,
		cfg:    cfg,
	}

	if err := consumer.ensureGroup(context.Background()); err != nil { //nolint:contextcheck
		return nil, err
	}

	return consumer, nil
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// Start from "0" so a recreated group still sees messages already in the stream.
	if err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err(); err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "analysis.queue.consumer",
	})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		// ">" reads messages never delivered to this group. Pending ones are
		// left to the reclaimer.
		Streams: []string{c.cfg.Stream, ">"},
		Count:   c.cfg.BatchSize,
		Block:   c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			parsed, parseErr := ParseMessage(msg)
			if parseErr != nil {
				slog.ErrorContext(ctx, "failed to parse message",
					"error", parseErr,
					"raw_message_id", msg.ID,
					"stream", c.cfg.Stream)
				_ = c.Ack(ctx, Message{ID: msg.ID, Raw: msg})
				continue
			}
			messages = append(messages, parsed)
		}
	}

	if len(messages) > 0 {
		slog.DebugContext(ctx, "read messages from stream",
			"count", len(messages),
			"stream", c.cfg.Stream,
			"consumer", c.cfg.Consumer)
	}

	return messages, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}

	slog.DebugContext(ctx, "message acknowledged", "stream", c.cfg.Stream)
	return nil
}

// Requeue re-adds msg with the next attempt number, to run no earlier than
// delay from now, then acks the original. A crash between the two leaves a
// duplicate rather than a lost message.
func (c *RedisConsumer) Requeue(ctx context.Context, msg Message, delay time.Duration, errMsg string) error {
	next := msg
	next.Attempt = max(msg.Attempt, 1) + 1
	next.LastError = errMsg
	next.NotBefore = time.Time{}
	if delay > 0 {
		next.NotBefore = time.Now().Add(delay)
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: MessageValues(next),
	}).Err(); err != nil {
		return fmt.Errorf("xadd requeue: %w", err)
	}
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking requeued message: %w", err)
	}

	slog.InfoContext(ctx, "message requeued for retry",
		"next_attempt", next.Attempt,
		"delay", delay,
		"reason", errMsg)
	return nil
}

func (c *RedisConsumer) SendDLQ(ctx context.Context, msg Message, errMsg string) error {
	values := MessageValues(msg)
	values["error"] = errMsg
	values["original_id"] = msg.ID

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DLQStream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd dlq (stream=%s): %w", c.cfg.DLQStream, err)
	}
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking dead-lettered message: %w", err)
	}

	slog.ErrorContext(ctx, "message sent to DLQ",
		"final_error", errMsg,
		"dlq_stream", c.cfg.DLQStream)
	return nil
}

func ParseMessage(msg redis.XMessage) (Message, error) {
	taskType := TaskType(optionalString(msg.Values, "task_type"))
	if taskType == "" {
		taskType = TaskTypeReviewAnalysis
	}
	if taskType != TaskTypeReviewAnalysis {
		return Message{}, fmt.Errorf("unknown task_type %q", taskType)
	}

	reviewID, err := parseInt64(msg.Values, "review_id")
	if err != nil {
		return Message{}, err
	}

	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return Message{}, err
	}
	if attempt <= 0 {
		attempt = 1
	}

	notBeforeMs, err := parseOptionalInt(msg.Values, "not_before")
	if err != nil {
		return Message{}, err
	}
	var notBefore time.Time
	if notBeforeMs > 0 {
		notBefore = time.UnixMilli(int64(notBeforeMs))
	}

	source := Source(optionalString(msg.Values, "source"))
	if source == "" {
		source = SourceManual
	}

	return Message{
		ID:        msg.ID,
		TaskType:  taskType,
		ReviewID:  reviewID,
		Source:    source,
		Attempt:   attempt,
		TraceID:   optionalString(msg.Values, "trace_id"),
		LastError: optionalString(msg.Values, "last_error"),
		NotBefore: notBefore,
		Raw:       msg,
	}, nil
}

// MessageValues is the stream encoding of msg.
func MessageValues(msg Message) map[string]any {
	values := map[string]any{
		"task_type": string(TaskTypeReviewAnalysis),
		"review_id": msg.ReviewID,
		"attempt":   max(msg.Attempt, 1),
	}
	if msg.Source != "" {
		values["source"] = string(msg.Source)
	}
	if msg.TraceID != "" {
		values["trace_id"] = msg.TraceID
	}
	if msg.LastError != "" {
		values["last_error"] = msg.LastError
	}
	if !msg.NotBefore.IsZero() {
		values["not_before"] = msg.NotBefore.UnixMilli()
	}
	return values
}

func parseInt64(values map[string]any, key string) (int64, error) {
	raw, ok := values[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	num, err := strconv.ParseInt(fmt.Sprint(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func optionalString(values map[string]any, key string) string {
	raw, ok := values[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}
