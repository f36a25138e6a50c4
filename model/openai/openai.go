// Package openai adapts the OpenAI chat completions API to the
// model.Generator contract so GPT models can serve graph nodes and agents
// alongside the local catalog.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/anserhq/anser/model"
)

// DefaultModel serves requests that do not pin a model.
const DefaultModel = "gpt-4o-mini"

// completion is the slice of a provider response the adapter needs.
type completion struct {
	text         string
	promptTokens int
	outputTokens int
}

// backend issues one completion against the provider. Tests replace it.
type backend interface {
	complete(ctx context.Context, in model.GenerateInput) (completion, error)
}

// Client generates text with GPT models. It is safe for concurrent use.
type Client struct {
	model   string
	pricing *model.Pricing
	api     backend
}

// Option adjusts client construction.
type Option func(*Client)

// WithModel overrides the default model.
func WithModel(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.model = name
		}
	}
}

// WithPricing replaces the cost table.
func WithPricing(p *model.Pricing) Option {
	return func(c *Client) {
		if p != nil {
			c.pricing = p
		}
	}
}

// New builds a client for the OpenAI API.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		model:   DefaultModel,
		pricing: model.NewPricing(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.api == nil {
		c.api = &sdkBackend{client: sdk.NewClient(option.WithAPIKey(apiKey))}
	}
	return c
}

// Generate implements model.Generator. An empty Model falls back to the
// client's configured default.
func (c *Client) Generate(ctx context.Context, in model.GenerateInput) (*model.GenerateOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if in.Model == "" {
		in.Model = c.model
	}

	start := time.Now()
	out, err := c.api.complete(ctx, in)
	seconds := time.Since(start).Seconds()
	if err != nil {
		return nil, describe(in.Model, err)
	}

	return &model.GenerateOutput{
		Model:        in.Model,
		Text:         out.text,
		Cost:         c.pricing.CostFor(in.Model, out.promptTokens, out.outputTokens),
		Confidence:   model.EstimateConfidence(in.Model, out.text, out.outputTokens),
		Seconds:      seconds,
		PromptTokens: out.promptTokens,
		OutputTokens: out.outputTokens,
	}, nil
}

// sdkBackend calls the official SDK.
type sdkBackend struct {
	client sdk.Client
}

func (b *sdkBackend) complete(ctx context.Context, in model.GenerateInput) (completion, error) {
	var messages []sdk.ChatCompletionMessageParamUnion
	if in.System != "" {
		messages = append(messages, sdk.SystemMessage(in.System))
	}
	messages = append(messages, sdk.UserMessage(in.Prompt))

	params := sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(in.Model),
		Messages: messages,
	}
	if in.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(in.MaxTokens))
	}
	if in.Temperature > 0 {
		params.Temperature = sdk.Float(in.Temperature)
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return completion{}, err
	}
	if len(resp.Choices) == 0 {
		return completion{}, errors.New("empty choices in response")
	}

	return completion{
		text:         resp.Choices[0].Message.Content,
		promptTokens: int(resp.Usage.PromptTokens),
		outputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

// describe prefixes provider failures with a stable reason string so the
// error classifiers upstream can key on it.
func describe(name string, err error) error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		if reason := reasonFor(apierr.StatusCode); reason != "" {
			return fmt.Errorf("openai %s: %s: %w", name, reason, err)
		}
	}
	return fmt.Errorf("openai %s: %w", name, err)
}

func reasonFor(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "invalid api key"
	case status == http.StatusTooManyRequests:
		return "rate limited"
	case status == http.StatusNotFound:
		return "model not found"
	case status >= 500:
		return "provider overloaded"
	default:
		return ""
	}
}
