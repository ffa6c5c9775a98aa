package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type openaiClient struct {
	client openai.Client
	model  string
}

func newOpenAIClient(cfg Config) *openaiClient {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &openaiClient{
		client: openai.NewClient(opts...),
		model:  firstNonEmpty(cfg.Model, defaultOpenAIModel),
	}
}

func (c *openaiClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	model := firstNonEmpty(req.Model, c.model)

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, chatParams(model, req))
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices in response")
	}

	out := &Completion{
		Content:          resp.Choices[0].Message.Content,
		Model:            model,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
	}
	logCompletion(ctx, ProviderOpenAI, start, out, "finish_reason", resp.Choices[0].FinishReason)
	return out, nil
}

func (c *openaiClient) Model() string {
	return c.model
}

func chatParams(model string, req Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.SystemPrompt),
			openai.UserMessage(req.UserPrompt),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.Schema == nil {
		return params
	}

	// Non-strict: strict mode rejects the nullable fields stored prompts may ask for.
	params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
			JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   firstNonEmpty(req.SchemaName, "analysis"),
				Schema: req.Schema,
				Strict: openai.Bool(false),
			},
		},
	}
	return params
}
