package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 1024

type anthropicClient struct {
	client anthropic.Client
	model  string
}

func newAnthropicClient(cfg Config) *anthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &anthropicClient{
		client: anthropic.NewClient(opts...),
		model:  firstNonEmpty(cfg.Model, defaultAnthropicModel),
	}
}

// Complete ignores req.Schema; the system prompt carries the output contract.
func (c *anthropicClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	model := firstNonEmpty(req.Model, c.model)

	start := time.Now()
	resp, err := c.client.Messages.New(ctx, messageParams(model, req))
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, errors.New("no text content in response")
	}

	out := &Completion{
		Content:          text.String(),
		Model:            model,
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
	}
	logCompletion(ctx, ProviderAnthropic, start, out, "stop_reason", resp.StopReason)
	return out, nil
}

func (c *anthropicClient) Model() string {
	return c.model
}

// messageParams requires max_tokens, so an unset limit falls back to a default.
func messageParams(model string, req Request) anthropic.MessageNewParams {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return params
}
