package google

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"

	"github.com/anserhq/anser/model"
)

type fakeBackend struct {
	calls []model.GenerateInput
	reply func(in model.GenerateInput) (completion, error)
}

func (f *fakeBackend) complete(_ context.Context, in model.GenerateInput) (completion, error) {
	f.calls = append(f.calls, in)
	if f.reply != nil {
		return f.reply(in)
	}
	return completion{text: "a considered answer to the question", promptTokens: 150, outputTokens: 60}, nil
}

func newTestClient(t *testing.T, fake *fakeBackend, opts ...Option) *Client {
	t.Helper()
	c := &Client{model: DefaultModel, pricing: model.NewPricing(), api: fake}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func TestGenerateDefaults(t *testing.T) {
	fake := &fakeBackend{}
	c := newTestClient(t, fake)

	out, err := c.Generate(context.Background(), model.GenerateInput{Prompt: "why is the sky blue"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if len(fake.calls) != 1 {
		t.Fatalf("backend called %d times", len(fake.calls))
	}
	if fake.calls[0].Model != DefaultModel {
		t.Errorf("model = %q, want %s", fake.calls[0].Model, DefaultModel)
	}

	// 150 input tokens at $0.075/1M plus 60 output tokens at $0.30/1M.
	wantCost := 150.0/1e6*0.075 + 60.0/1e6*0.30
	if math.Abs(out.Cost-wantCost) > 1e-12 {
		t.Errorf("cost = %v, want %v", out.Cost, wantCost)
	}
	if out.PromptTokens != 150 || out.OutputTokens != 60 {
		t.Errorf("tokens = %d/%d", out.PromptTokens, out.OutputTokens)
	}
}

func TestGenerateCanceledContext(t *testing.T) {
	fake := &fakeBackend{}
	c := newTestClient(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Generate(ctx, model.GenerateInput{Prompt: "q"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(fake.calls) != 0 {
		t.Errorf("backend called despite canceled context")
	}
}

func TestDescribe(t *testing.T) {
	t.Run("api error carries a reason", func(t *testing.T) {
		err := describe("gemini-1.5-flash", &googleapi.Error{Code: 429, Message: "quota"})
		if !strings.Contains(err.Error(), "rate limited") {
			t.Errorf("err = %q", err)
		}
		var apierr *googleapi.Error
		if !errors.As(err, &apierr) {
			t.Error("chain lost the googleapi error")
		}
	})

	t.Run("safety block is named", func(t *testing.T) {
		err := describe("gemini-1.5-flash", &genai.BlockedError{})
		if !strings.Contains(err.Error(), "blocked by safety filter") {
			t.Errorf("err = %q", err)
		}
	})

	t.Run("plain errors keep the provider prefix", func(t *testing.T) {
		err := describe("gemini-1.5-flash", errors.New("connection refused"))
		if !strings.HasPrefix(err.Error(), "google gemini-1.5-flash:") {
			t.Errorf("err = %q", err)
		}
	})
}

func TestCloseWithoutSDKClient(t *testing.T) {
	c := newTestClient(t, &fakeBackend{})
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
