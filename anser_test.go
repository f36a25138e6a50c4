package anser

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anserhq/anser/cache"
	"github.com/anserhq/anser/envelope"
	"github.com/anserhq/anser/model"
	"github.com/anserhq/anser/provider"
)

// fakeModel scripts the model manager. reply, when set, decides each call;
// otherwise every generation succeeds with a canned answer.
type fakeModel struct {
	mu       sync.Mutex
	calls    []model.GenerateInput
	reply    func(ctx context.Context, in model.GenerateInput) (*model.GenerateOutput, error)
	degraded bool
}

func (f *fakeModel) Generate(ctx context.Context, in model.GenerateInput) (*model.GenerateOutput, error) {
	f.mu.Lock()
	f.calls = append(f.calls, in)
	reply := f.reply
	f.mu.Unlock()
	if reply != nil {
		return reply(ctx, in)
	}
	return &model.GenerateOutput{
		Model:      "llama2:7b-chat",
		Text:       "Certainly, here is what I found.",
		Cost:       0.01,
		Confidence: 0.9,
		Seconds:    0.2,
	}, nil
}

func (f *fakeModel) Degraded() bool { return f.degraded }

func (f *fakeModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeModel) callsMatching(match func(model.GenerateInput) bool) []model.GenerateInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.GenerateInput
	for _, in := range f.calls {
		if match(in) {
			out = append(out, in)
		}
	}
	return out
}

// fakeSearcher serves canned results and counts calls.
type fakeSearcher struct {
	mu      sync.Mutex
	results []provider.Result
	err     error
	calls   int
}

func (f *fakeSearcher) Name() string  { return "fake_search" }
func (f *fakeSearcher) Cost() float64 { return 0.42 }

func (f *fakeSearcher) Search(_ context.Context, _ string, maxResults int) ([]provider.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) > maxResults {
		return f.results[:maxResults], nil
	}
	return f.results, nil
}

func (f *fakeSearcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeScraper returns deterministic page text per URL.
type fakeScraper struct {
	mu   sync.Mutex
	err  error
	urls []string
}

func (f *fakeScraper) Scrape(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return "Extended page content fetched from " + url + ".", nil
}

func (f *fakeScraper) scraped() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

func newTestOrchestrator(t *testing.T, services Services, opts ...Option) *Orchestrator {
	t.Helper()
	if services.Model == nil {
		services.Model = &fakeModel{}
	}
	if services.Cache == nil {
		services.Cache = cache.NewMemory(64)
	}
	o, err := New(services, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func TestNew(t *testing.T) {
	t.Run("requires a model service", func(t *testing.T) {
		if _, err := New(Services{}); err == nil {
			t.Fatal("New accepted services without a model")
		}
	})

	t.Run("compiles both graphs up front", func(t *testing.T) {
		o := newTestOrchestrator(t, Services{})
		if o.chat == nil || o.search == nil {
			t.Fatal("graphs not compiled")
		}
		if o.sched == nil {
			t.Fatal("scheduler not built")
		}
	})

	t.Run("a nil cache degrades to a no-op", func(t *testing.T) {
		o, err := New(Services{Model: &fakeModel{}})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, ok := o.services.Cache.(cache.Noop); !ok {
			t.Fatalf("cache = %T, want cache.Noop", o.services.Cache)
		}
	})
}

// Invalid requests are rejected before any state, model, or provider work, so
// they cost nothing.
func TestValidationRejectsAtZeroCost(t *testing.T) {
	fm := &fakeModel{}
	fs := &fakeSearcher{}
	o := newTestOrchestrator(t, Services{Model: fm, Search: fs})

	t.Run("blank chat query", func(t *testing.T) {
		res := o.RunChat(context.Background(), ChatRequest{Query: "   "})
		if res.Status != StatusError || res.Failure == nil {
			t.Fatalf("status = %s, failure = %+v", res.Status, res.Failure)
		}
		if res.Failure.Code != CodeValidation {
			t.Errorf("code = %s, want %s", res.Failure.Code, CodeValidation)
		}
		if res.Failure.CorrelationID == "" {
			t.Error("correlation ID not stamped on the failure")
		}
		if len(res.Failure.Suggestions) == 0 {
			t.Error("validation failure carries no suggestions")
		}
		if res.Metadata.Cost != 0 {
			t.Errorf("cost = %v, want 0", res.Metadata.Cost)
		}
	})

	t.Run("oversized search query", func(t *testing.T) {
		res := o.RunSearch(context.Background(), SearchRequest{Query: strings.Repeat("q", 10001)})
		if res.Failure == nil || res.Failure.Code != CodeValidation {
			t.Fatalf("failure = %+v, want %s", res.Failure, CodeValidation)
		}
		if res.Results == nil || res.Metadata.ProvidersUsed == nil {
			t.Error("rejected search result has nil slices")
		}
	})

	t.Run("research depth out of range", func(t *testing.T) {
		res := o.RunResearch(context.Background(), ResearchRequest{Question: "how do B-trees rebalance?", DepthLevel: 9})
		if len(res.Errors) != 1 || res.Errors[0].Code != CodeValidation {
			t.Fatalf("errors = %+v, want one %s", res.Errors, CodeValidation)
		}
		if res.WorkflowID == "" {
			t.Error("workflow ID missing from rejected research result")
		}
	})

	if n := fm.callCount(); n != 0 {
		t.Errorf("model called %d times by rejected requests", n)
	}
	if n := fs.callCount(); n != 0 {
		t.Errorf("search provider called %d times by rejected requests", n)
	}
}

func TestFailureFromError(t *testing.T) {
	o := newTestOrchestrator(t, Services{})

	cases := []struct {
		name string
		err  error
		code string
	}{
		{"envelope timeout", &envelope.TimeoutError{Class: envelope.ClassStandard, Elapsed: 2 * time.Second}, CodeDeadline},
		{"context deadline", context.DeadlineExceeded, CodeDeadline},
		{"caller cancellation", context.Canceled, CodeDeadline},
		{"anything else", errors.New("socket closed unexpectedly"), CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := o.failureFromError(tc.err, "corr-1")
			if f.Code != tc.code {
				t.Errorf("code = %s, want %s", f.Code, tc.code)
			}
			if f.CorrelationID != "corr-1" {
				t.Errorf("correlation ID = %q", f.CorrelationID)
			}
		})
	}
}

// Production mode keeps failure detail out of responses; development mode
// passes the underlying error text through.
func TestProductionModeScrubsFailureMessages(t *testing.T) {
	err := errors.New("dial tcp 10.0.0.7:11434: connection refused")

	dev := newTestOrchestrator(t, Services{})
	if f := dev.failureFromError(err, "c"); !strings.Contains(f.Message, "connection refused") {
		t.Errorf("development message = %q, want the raw error", f.Message)
	}

	prod := newTestOrchestrator(t, Services{}, WithProductionMode(true))
	f := prod.failureFromError(err, "c")
	if strings.Contains(f.Message, "10.0.0.7") || strings.Contains(f.Message, "connection refused") {
		t.Errorf("production message leaks detail: %q", f.Message)
	}
	if f.Message != userMessageFor(CodeInternal) {
		t.Errorf("production message = %q, want the generic form", f.Message)
	}
}

func TestQueryHash(t *testing.T) {
	a := queryHash("  What is WASM? ")
	b := queryHash("what is wasm?")
	if a != b {
		t.Errorf("hash should normalize case and whitespace: %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Errorf("hash length = %d, want 16 hex chars", len(a))
	}
	if a == queryHash("something else") {
		t.Error("distinct queries collided")
	}
}
