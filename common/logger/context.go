package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment so review and step identity reach every
// log line without passing loggers around.
type LogFields struct {
	ReviewID  *int64  // Review under analysis
	AppID     *int64  // App the review belongs to
	MessageID *string // Redis stream message ID
	StepKey   *string // Pipeline step key (e.g., "tone_detection")
	Attempt   *int    // Job attempt number
	Component string  // Component name (e.g., "analysis.pipeline.orchestrator")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	merged := mergeFields(GetLogFields(ctx), fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing
	override(&result.ReviewID, next.ReviewID)
	override(&result.AppID, next.AppID)
	override(&result.MessageID, next.MessageID)
	override(&result.StepKey, next.StepKey)
	override(&result.Attempt, next.Attempt)
	if next.Component != "" {
		result.Component = next.Component
	}
	return result
}

func override[T any](dst **T, src *T) {
	if src != nil {
		*dst = src
	}
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{ReviewID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate shortens s to at most maxLen bytes plus "...", never splitting a UTF-8 sequence.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := 0
	for i := range s {
		if i > maxLen {
			break
		}
		cut = i
	}
	return s[:cut] + "..."
}
