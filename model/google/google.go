// Package google adapts the Gemini API to the model.Generator contract so
// Gemini models can serve graph nodes and agents alongside the local catalog.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/anserhq/anser/model"
)

// DefaultModel serves requests that do not pin a model.
const DefaultModel = "gemini-1.5-flash"

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

// Client generates text with Gemini models. It is safe for concurrent use.
type Client struct {
	model   string
	pricing *model.Pricing
	api     backend
	close   func() error
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

// New builds a client for the Gemini API. The context covers transport setup
// only; calls carry their own.
func New(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	c := &Client{
		model:   DefaultModel,
		pricing: model.NewPricing(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.api == nil {
		gc, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
		if err != nil {
			return nil, fmt.Errorf("google: create client: %w", err)
		}
		c.api = &sdkBackend{client: gc}
		c.close = gc.Close
	}
	return c, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c.close != nil {
		return c.close()
	}
	return nil
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
	client *genai.Client
}

func (b *sdkBackend) complete(ctx context.Context, in model.GenerateInput) (completion, error) {
	gm := b.client.GenerativeModel(in.Model)
	if in.System != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(in.System)}}
	}
	if in.MaxTokens > 0 {
		gm.SetMaxOutputTokens(int32(in.MaxTokens))
	}
	if in.Temperature > 0 {
		gm.SetTemperature(float32(in.Temperature))
	}

	resp, err := gm.GenerateContent(ctx, genai.Text(in.Prompt))
	if err != nil {
		return completion{}, err
	}

	var text strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
	}

	out := completion{text: text.String()}
	if resp.UsageMetadata != nil {
		out.promptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

// describe prefixes provider failures with a stable reason string so the
// error classifiers upstream can key on it. Safety blocks get their own
// reason because retrying them is pointless.
func describe(name string, err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return fmt.Errorf("google %s: blocked by safety filter: %w", name, err)
	}
	var apierr *googleapi.Error
	if errors.As(err, &apierr) {
		if reason := reasonFor(apierr.Code); reason != "" {
			return fmt.Errorf("google %s: %s: %w", name, reason, err)
		}
	}
	return fmt.Errorf("google %s: %w", name, err)
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
