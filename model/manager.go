// Package model manages the catalog of generation models behind the
// orchestrator: discovery from the backend, tier assignment, performance
// tracking, selection, and generation with warm-up and timeout handling.
//
// The manager keeps per-model runtime statistics (EWMA response time, a
// bounded window of recent outcomes, recent confidence scores) and uses them
// to pick models for tasks. When the backend cannot be reached at startup the
// manager enters degraded mode: the catalog stays empty and selection answers
// with a hardcoded default so requests still get served once the backend
// returns.
package model

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/anserhq/anser/graph"
	"github.com/anserhq/anser/model/ollama"
)

// tracer resolves against the globally installed provider; without one every
// span is a no-op.
var tracer = otel.Tracer("anser.model")

const (
	defaultDiscoveryAttempts = 3
	defaultDiscoveryDelay    = time.Second

	defaultSelectionTTL = 60 * time.Second
	defaultLoadWait     = 30 * time.Second
	defaultCallTimeout  = 120 * time.Second
)

type entry struct {
	info Info
	perf perf
}

// Manager owns the model catalog and all generation traffic to the backend.
// It is safe for concurrent use.
type Manager struct {
	client  *ollama.Client
	logger  *slog.Logger
	metrics *Metrics
	pricing *Pricing

	preferred    map[string][]string
	defaultModel string
	loadWait     time.Duration
	callTimeout  time.Duration

	discoveryAttempts int
	discoveryDelay    time.Duration

	selCache *selectionCache
	loads    singleflight.Group

	mu       sync.RWMutex
	catalog  map[string]*entry
	degraded bool

	shutdownOnce sync.Once
	done         chan struct{}
}

// ManagerOption adjusts manager construction.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager's structured logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithManagerMetrics attaches Prometheus instrumentation.
func WithManagerMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithPricing replaces the cost table.
func WithPricing(p *Pricing) ManagerOption {
	return func(m *Manager) {
		if p != nil {
			m.pricing = p
		}
	}
}

// WithPreferred replaces the task-type preference table.
func WithPreferred(table map[string][]string) ManagerOption {
	return func(m *Manager) {
		if table != nil {
			m.preferred = table
		}
	}
}

// WithDefaultModel overrides the emergency fallback model.
func WithDefaultModel(name string) ManagerOption {
	return func(m *Manager) {
		if name != "" {
			m.defaultModel = name
		}
	}
}

// WithSelectionTTL overrides how long selection decisions are memoized.
func WithSelectionTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		if ttl > 0 {
			m.selCache = newSelectionCache(ttl)
		}
	}
}

// WithLoadWait bounds how long a warm-up load may take.
func WithLoadWait(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.loadWait = d
		}
	}
}

// WithCallTimeout bounds a single generation call.
func WithCallTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.callTimeout = d
		}
	}
}

// WithDiscoveryBackoff controls how many times discovery is attempted and
// the base delay between attempts.
func WithDiscoveryBackoff(attempts int, delay time.Duration) ManagerOption {
	return func(m *Manager) {
		if attempts >= 1 {
			m.discoveryAttempts = attempts
		}
		if delay > 0 {
			m.discoveryDelay = delay
		}
	}
}

// NewManager builds a manager over the given backend client. Call Discover
// before serving traffic; without it every selection uses the default model.
func NewManager(client *ollama.Client, opts ...ManagerOption) *Manager {
	m := &Manager{
		client:            client,
		logger:            slog.Default(),
		pricing:           NewPricing(),
		preferred:         defaultPreferred,
		defaultModel:      DefaultModel,
		loadWait:          defaultLoadWait,
		callTimeout:       defaultCallTimeout,
		discoveryAttempts: defaultDiscoveryAttempts,
		discoveryDelay:    defaultDiscoveryDelay,
		selCache:          newSelectionCache(defaultSelectionTTL),
		catalog:           make(map[string]*entry),
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Discover fetches the backend's model list and rebuilds the catalog,
// retrying with exponential backoff. Exhausting the retries flips the manager
// into degraded mode and returns the last error; the manager stays usable.
func (m *Manager) Discover(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < m.discoveryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(m.discoveryDelay * (1 << (attempt - 1))):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		models, err := m.client.ListModels(ctx, true)
		if err != nil {
			lastErr = err
			m.logger.Warn("model discovery failed", "attempt", attempt+1, "error", err)
			continue
		}
		m.install(models)
		m.logger.Info("model catalog ready", "models", len(models))
		return nil
	}

	m.mu.Lock()
	m.degraded = true
	m.mu.Unlock()
	m.metrics.countDiscoveryFailure()
	m.logger.Error("model discovery exhausted, entering degraded mode", "error", lastErr)
	return fmt.Errorf("model discovery: %w", lastErr)
}

// install rebuilds the catalog from a fresh tag list, carrying existing
// performance history forward for models that are still present.
func (m *Manager) install(models []ollama.Model) {
	m.mu.Lock()
	next := make(map[string]*entry, len(models))
	for _, om := range models {
		e, ok := m.catalog[om.Name]
		if !ok {
			e = &entry{}
		}
		loaded := e.info.Loaded
		e.info = Info{
			Name:          om.Name,
			Tier:          TierFor(om.Name),
			Size:          om.Size,
			Family:        om.Details.Family,
			ParameterSize: om.Details.ParameterSize,
			Ready:         true,
			Loaded:        loaded,
		}
		next[om.Name] = e
	}
	m.catalog = next
	m.degraded = false
	m.mu.Unlock()

	m.selCache.invalidate()
}

// StartRefresh re-runs discovery on the given interval until Shutdown.
func (m *Manager) StartRefresh(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.Discover(ctx); err != nil {
					m.logger.Warn("catalog refresh failed", "error", err)
				}
			case <-m.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Shutdown stops background work. It is idempotent and never blocks.
func (m *Manager) Shutdown(context.Context) error {
	m.shutdownOnce.Do(func() { close(m.done) })
	return nil
}

// Degraded reports whether the last discovery cycle failed outright.
func (m *Manager) Degraded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.degraded
}

// Ready reports whether the named model is in the catalog.
func (m *Manager) Ready(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.catalog[name]
	return ok && e.info.Ready
}

// Models returns a name-sorted snapshot of the catalog.
func (m *Manager) Models() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.catalog))
	for _, e := range m.catalog {
		infos = append(infos, e.info)
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Stats returns the runtime statistics for one model.
func (m *Manager) Stats(name string) (Stats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.catalog[name]
	if !ok {
		return Stats{}, false
	}
	return e.perf.snapshot(), true
}

// Pricing exposes the cost table, shared with routing for budget estimates.
func (m *Manager) Pricing() *Pricing { return m.pricing }

// RecordConfidence feeds an externally assessed confidence score back into a
// model's history. Response-evaluating nodes call this when they have a
// better signal than the generation heuristic.
func (m *Manager) RecordConfidence(name string, confidence float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.catalog[name]; ok {
		e.perf.recordConfidence(confidence)
	}
}

// GenerateInput describes one generation request. An empty Model selects one
// automatically from TaskType and Quality.
type GenerateInput struct {
	Model       string
	TaskType    string
	Quality     graph.Quality
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
}

// GenerateOutput is a completed generation with its accounting.
type GenerateOutput struct {
	Model        string
	Text         string
	Cost         float64
	Confidence   float64
	Seconds      float64
	PromptTokens int
	OutputTokens int
}

// Generate selects a model if needed, warms it, and runs one completion
// under the manager's call timeout. Statistics update whether the call
// succeeds or fails.
func (m *Manager) Generate(ctx context.Context, in GenerateInput) (*GenerateOutput, error) {
	name := in.Model
	if name == "" {
		name = m.Select(in.TaskType, in.Quality)
	}

	ctx, span := tracer.Start(ctx, "Manager.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", name))

	if err := m.ensureLoaded(ctx, name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	start := time.Now()
	res, err := m.client.Generate(callCtx, ollama.GenerateRequest{
		Model:   name,
		Prompt:  in.Prompt,
		System:  in.System,
		Options: generateOptions(in),
	})
	seconds := time.Since(start).Seconds()
	if err != nil {
		m.observe(name, seconds, false, 0)
		m.metrics.countGeneration(name, "error", seconds)
		err = fmt.Errorf("generate with %s: %w", name, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if res.TotalSeconds > 0 {
		seconds = res.TotalSeconds
	}

	confidence := confidenceFor(TierFor(name), res.Text, res.EvalCount)
	m.observe(name, seconds, true, confidence)
	m.metrics.countGeneration(name, "success", seconds)
	span.SetAttributes(
		attribute.Float64("llm.seconds", seconds),
		attribute.Int("llm.output_tokens", res.EvalCount),
	)

	return &GenerateOutput{
		Model:        name,
		Text:         res.Text,
		Cost:         m.pricing.CostFor(name, res.PromptEvalCount, res.EvalCount),
		Confidence:   confidence,
		Seconds:      seconds,
		PromptTokens: res.PromptEvalCount,
		OutputTokens: res.EvalCount,
	}, nil
}

func generateOptions(in GenerateInput) map[string]interface{} {
	opts := make(map[string]interface{})
	if in.MaxTokens > 0 {
		opts["num_predict"] = in.MaxTokens
	}
	if in.Temperature > 0 {
		opts["temperature"] = in.Temperature
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

// EstimateConfidence scores a completion from the model's tier and the shape
// of the response. The remote generator adapters share this heuristic with
// the manager so confidence stays comparable across backends.
func EstimateConfidence(name, text string, outputTokens int) float64 {
	return confidenceFor(TierFor(name), text, outputTokens)
}

// confidenceFor estimates output confidence from the tier's base reliability
// and the shape of the response. Callers with a real quality signal refine it
// through RecordConfidence.
func confidenceFor(tier Tier, text string, evalCount int) float64 {
	base := 0.70
	switch tier {
	case TierBalanced:
		base = 0.80
	case TierPremium:
		base = 0.85
	}
	if strings.TrimSpace(text) == "" {
		base -= 0.30
	} else if evalCount >= 50 {
		base += 0.05
	}
	if base < 0 {
		base = 0
	}
	if base > 1 {
		base = 1
	}
	return base
}

// ensureLoaded warms the model with an empty generation, which makes the
// backend page it in and keep it resident. Concurrent warm-ups for the same
// model collapse into one backend call.
func (m *Manager) ensureLoaded(ctx context.Context, name string) error {
	m.mu.RLock()
	e, ok := m.catalog[name]
	loaded := ok && e.info.Loaded
	m.mu.RUnlock()
	if loaded {
		return nil
	}

	_, err, _ := m.loads.Do(name, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(ctx, m.loadWait)
		defer cancel()
		_, err := m.client.Generate(loadCtx, ollama.GenerateRequest{Model: name})
		return nil, err
	})
	if err != nil {
		m.metrics.countLoad(name, "error")
		return fmt.Errorf("load model %s: %w", name, err)
	}
	m.metrics.countLoad(name, "success")

	m.mu.Lock()
	if e, ok := m.catalog[name]; ok {
		e.info.Loaded = true
	}
	m.mu.Unlock()
	return nil
}

// observe folds one call's outcome into the model's statistics. Models not
// in the catalog (degraded-mode fallbacks) get a provisional entry so their
// history is not lost.
func (m *Manager) observe(name string, seconds float64, success bool, confidence float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.catalog[name]
	if !ok {
		e = &entry{info: Info{Name: name, Tier: TierFor(name)}}
		m.catalog[name] = e
	}
	e.perf.observe(seconds, success)
	if success && confidence > 0 {
		e.perf.recordConfidence(confidence)
	}
}
