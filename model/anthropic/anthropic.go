// Package anthropic adapts the Anthropic Messages API to the model.Generator
// contract so Claude models can serve graph nodes and agents alongside the
// local catalog.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/anserhq/anser/model"
)

// DefaultModel serves requests that do not pin a model.
const DefaultModel = "claude-3-5-sonnet-20241022"

// The Messages API requires a token ceiling on every call.
const defaultMaxTokens = 1024

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

// Client generates text with Claude models. It is safe for concurrent use.
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

// New builds a client for the Anthropic API.
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
// client's configured default; MaxTokens defaults to the adapter's ceiling
// because the provider rejects unbounded requests.
func (c *Client) Generate(ctx context.Context, in model.GenerateInput) (*model.GenerateOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if in.Model == "" {
		in.Model = c.model
	}
	if in.MaxTokens <= 0 {
		in.MaxTokens = defaultMaxTokens
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
	params := sdk.MessageNewParams{
		Model:     sdk.Model(in.Model),
		MaxTokens: int64(in.MaxTokens),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(in.Prompt))},
	}
	if in.System != "" {
		params.System = []sdk.TextBlockParam{{Text: in.System}}
	}
	if in.Temperature > 0 {
		params.Temperature = sdk.Float(in.Temperature)
	}

	msg, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return completion{}, err
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return completion{
		text:         text.String(),
		promptTokens: int(msg.Usage.InputTokens),
		outputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

// describe prefixes provider failures with a stable reason string so the
// error classifiers upstream can key on it.
func describe(name string, err error) error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		if reason := reasonFor(apierr.StatusCode); reason != "" {
			return fmt.Errorf("anthropic %s: %s: %w", name, reason, err)
		}
	}
	return fmt.Errorf("anthropic %s: %w", name, err)
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
