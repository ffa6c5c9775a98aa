package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
)

// Provider constants for LLM provider selection.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

const (
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-3-5-haiku-latest"
)

// Config holds LLM client configuration.
type Config struct {
	Provider string // "openai" or "anthropic"
	APIKey   string // Required: API key for the provider
	BaseURL  string // Optional: custom API endpoint
	Model    string // Default model when a request does not name one
}

// Client sends a single system+user exchange and returns the raw text reply.
type Client interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
	Model() string
}

type Request struct {
	SystemPrompt string
	UserPrompt   string
	Model        string // overrides the client default when set
	SchemaName   string
	Schema       any // optional JSON schema for providers that support it
	MaxTokens    int
	Temperature  *float64 // nil = model default, explicit 0 = deterministic
}

type Completion struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// New creates a Client for cfg.Provider. Defaults to OpenAI.
func New(cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	switch cfg.Provider {
	case "", ProviderOpenAI:
		return newOpenAIClient(cfg), nil
	case ProviderAnthropic:
		return newAnthropicClient(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

func GenerateSchema[T any]() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

func Temp(t float64) *float64 {
	return &t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func logCompletion(ctx context.Context, provider string, start time.Time, out *Completion, attrs ...any) {
	args := append([]any{
		"provider", provider,
		"model", out.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", out.PromptTokens,
		"completion_tokens", out.CompletionTokens,
	}, attrs...)
	slog.DebugContext(ctx, "llm completion finished", args...)
}

var codeFence = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

// StripCodeFence unwraps a reply wrapped in a markdown code block.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFence.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// IsRetryable reports whether err is worth another attempt: rate limits,
// server errors and transport failures are, client errors and cancellation are not.
func IsRetryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		slog.DebugContext(ctx, "llm error not retryable: context cancelled or deadline exceeded")
		return false
	}

	status := 0
	var openaiErr *openai.Error
	var anthropicErr *anthropic.Error
	switch {
	case errors.As(err, &openaiErr):
		status = openaiErr.StatusCode
	case errors.As(err, &anthropicErr):
		status = anthropicErr.StatusCode
	default:
		slog.WarnContext(ctx, "llm network error, will retry", "error", err)
		return true
	}

	switch {
	case status == 429:
		slog.WarnContext(ctx, "llm rate limited, will retry", "status_code", status)
		return true
	case status >= 500:
		slog.WarnContext(ctx, "llm server error, will retry", "status_code", status)
		return true
	default:
		slog.ErrorContext(ctx, "llm client error, not retryable", "status_code", status)
		return false
	}
}
