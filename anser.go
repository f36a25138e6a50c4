// Package anser orchestrates AI requests over a local model backend. Three
// operations cover the surface: RunChat drives a conversational graph,
// RunSearch a cost-routed external search graph, and RunResearch a
// multi-agent task DAG. Every operation runs inside an async-safety envelope
// and returns a fully materialized value; failures travel in-band as
// structured Failure values, never as panics or naked errors.
package anser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/anserhq/anser/agent"
	"github.com/anserhq/anser/analytics"
	"github.com/anserhq/anser/cache"
	"github.com/anserhq/anser/envelope"
	"github.com/anserhq/anser/graph"
	"github.com/anserhq/anser/graph/emit"
	"github.com/anserhq/anser/model"
	"github.com/anserhq/anser/provider"
	"github.com/anserhq/anser/provider/brave"
	"github.com/anserhq/anser/router"
)

// Operation names used in metrics and analytics events.
const (
	opChat     = "chat"
	opSearch   = "search"
	opResearch = "research"
)

// deadlineGrace widens the outer envelope past a request's own time budget,
// so the inner layer can return partial state before the envelope gives up.
const deadlineGrace = 2 * time.Second

// ModelService is the slice of the model manager the graphs depend on.
// *model.Manager satisfies it.
type ModelService interface {
	Generate(ctx context.Context, in model.GenerateInput) (*model.GenerateOutput, error)
	Degraded() bool
}

// Services are the collaborators behind an orchestrator. Model is required.
// A nil Cache degrades to a no-op; a nil Search forces every search request
// down the direct-response branch; a nil Scraper disables content
// enhancement; a nil Analytics drops usage events.
type Services struct {
	Model     ModelService
	Search    provider.Searcher
	Scraper   provider.Scraper
	Cache     cache.Cache
	Analytics *analytics.Recorder
	Agents    *agent.Registry
}

// Orchestrator owns the compiled graphs and the multi-agent scheduler. It is
// safe for concurrent use; per-request state lives in graph.State values.
type Orchestrator struct {
	services Services
	logger   *slog.Logger

	registerer   prometheus.Registerer
	metrics      *Metrics
	graphMetrics *graph.Metrics
	agentMetrics *agent.Metrics
	envMetrics   *envelope.Metrics

	costs         router.Costs
	maxQueryLen   int
	defaultBudget float64
	concurrency   int
	production    bool
	tracer        trace.Tracer

	chat     *graph.Engine
	search   *graph.Engine
	sched    *agent.Scheduler
	registry *agent.Registry
}

// Option adjusts orchestrator construction.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics registers all orchestrator-owned instrumentation (operations,
// graph engine, scheduler, envelope) with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *Orchestrator) { o.registerer = reg }
}

// WithRouterCosts sets the configured price of external search calls.
func WithRouterCosts(costs router.Costs) Option {
	return func(o *Orchestrator) {
		if costs.PrimarySearch >= 0 && costs.Enhancement >= 0 {
			o.costs = costs
		}
	}
}

// WithMaxQueryLength caps accepted query length in bytes.
func WithMaxQueryLength(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxQueryLen = n
		}
	}
}

// WithDefaultBudget sets the cost budget applied when a request names none.
func WithDefaultBudget(b float64) Option {
	return func(o *Orchestrator) {
		if b > 0 {
			o.defaultBudget = b
		}
	}
}

// WithConcurrency caps parallel agent tasks per research wave.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithProductionMode switches failure messages to their generic forms so
// internal detail stays in the logs.
func WithProductionMode(on bool) Option {
	return func(o *Orchestrator) { o.production = on }
}

// WithTracing exports every graph step event as an OpenTelemetry span on
// tracer. Without it, step events go only to the logger and metrics.
func WithTracing(tracer trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = tracer }
}

// New builds an orchestrator and compiles its graphs. Compilation failures
// are programming errors and surface here, before any request runs.
func New(services Services, opts ...Option) (*Orchestrator, error) {
	if services.Model == nil {
		return nil, errors.New("anser: Services.Model is required")
	}

	o := &Orchestrator{
		services:      services,
		logger:        slog.Default(),
		costs:         router.Costs{PrimarySearch: brave.DefaultCost, Enhancement: 0.08},
		maxQueryLen:   10000,
		defaultBudget: 1.0,
		concurrency:   4,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.services.Cache == nil {
		o.services.Cache = cache.Noop{}
	}
	if o.registerer != nil {
		o.metrics = NewMetrics(o.registerer)
		o.graphMetrics = graph.NewMetrics(o.registerer)
		o.agentMetrics = agent.NewMetrics(o.registerer)
		o.envMetrics = envelope.NewMetrics(o.registerer)
	}

	o.registry = services.Agents
	if o.registry == nil {
		o.registry = agent.NewRegistry()
		if err := agent.RegisterBuiltins(o.registry, services.Model); err != nil {
			return nil, fmt.Errorf("register builtin agents: %w", err)
		}
	}
	o.sched = agent.NewScheduler(o.registry,
		agent.WithConcurrency(o.concurrency),
		agent.WithLogger(o.logger),
		agent.WithMetrics(o.agentMetrics))

	var err error
	if o.chat, err = o.buildChatGraph(); err != nil {
		return nil, fmt.Errorf("compile chat graph: %w", err)
	}
	if o.search, err = o.buildSearchGraph(); err != nil {
		return nil, fmt.Errorf("compile search graph: %w", err)
	}
	return o, nil
}

// RunChat executes one conversational turn. The result is always
// materialized; inspect Status and Failure rather than an error.
func (o *Orchestrator) RunChat(ctx context.Context, req ChatRequest) ChatResult {
	correlationID := uuid.NewString()
	start := time.Now()

	if f := validateChatRequest(req, o.maxQueryLen); f != nil {
		f.CorrelationID = correlationID
		res := ChatResult{
			SessionID: req.SessionID,
			History:   req.History,
			Status:    StatusError,
			Failure:   f,
		}
		o.finish(chatEvent(req, res, correlationID))
		return res
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	fallback := ChatResult{
		Response:  safeFallbackResponse,
		SessionID: sessionID,
		History:   req.History,
		Status:    StatusError,
	}

	res, err := envelope.Run(ctx, envelope.ClassStandard, req.Query, fallback,
		func(opCtx context.Context) (ChatResult, error) {
			return o.runChat(opCtx, correlationID, sessionID, req), nil
		}, o.envelopeOptions(req.MaxTime)...)
	if err != nil {
		res = fallback
		res.Failure = o.failureFromError(err, correlationID)
		res.Metadata.Seconds = time.Since(start).Seconds()
	}

	o.finish(chatEvent(req, res, correlationID))
	return res
}

func (o *Orchestrator) runChat(ctx context.Context, correlationID, sessionID string, req ChatRequest) ChatResult {
	budget := req.MaxCost
	if budget <= 0 {
		budget = o.defaultBudget
	}
	st := graph.NewState(graph.StateParams{
		RequestID:     uuid.NewString(),
		CorrelationID: correlationID,
		SessionID:     sessionID,
		Query:         req.Query,
		History:       req.History,
		Budget:        budget,
		MaxTime:       req.MaxTime,
		Quality:       req.Quality,
	})
	if req.Style != "" {
		st.SetIntermediate("style", req.Style)
	}

	final, err := o.chat.Run(ctx, st)
	return o.assembleChatResult(req, sessionID, correlationID, final, err)
}

func (o *Orchestrator) assembleChatResult(req ChatRequest, sessionID, correlationID string, st *graph.State, runErr error) ChatResult {
	res := ChatResult{
		Response:  st.FinalResponse,
		SessionID: sessionID,
		Metadata:  metadataFor(st, correlationID),
	}

	res.History = make([]graph.Turn, 0, len(st.History)+2)
	res.History = append(res.History, st.History...)
	res.History = append(res.History, graph.Turn{Role: "user", Content: req.Query, Timestamp: st.StartedAt})
	if st.FinalResponse != "" {
		res.History = append(res.History, graph.Turn{Role: "assistant", Content: st.FinalResponse, Timestamp: time.Now()})
	}

	if runErr != nil {
		res.Status = StatusError
		res.Failure = o.failureFromRun(st, runErr, correlationID)
		return res
	}

	res.Status = statusFor(st)
	if req.Flags.DeveloperHints {
		res.DeveloperHints = developerHints(st)
	}
	return res
}

// RunSearch executes one search request through the routing graph.
func (o *Orchestrator) RunSearch(ctx context.Context, req SearchRequest) SearchResult {
	correlationID := uuid.NewString()
	start := time.Now()

	if f := validateSearchRequest(req, o.maxQueryLen); f != nil {
		f.CorrelationID = correlationID
		res := emptySearchResult(req.Query)
		res.Status = StatusError
		res.Failure = f
		o.finish(searchEvent(req, res, correlationID))
		return res
	}

	fallback := emptySearchResult(req.Query)
	fallback.Summary = safeFallbackResponse
	fallback.Status = StatusError

	res, err := envelope.Run(ctx, envelope.ClassComplex, req.Query, fallback,
		func(opCtx context.Context) (SearchResult, error) {
			return o.runSearch(opCtx, correlationID, req), nil
		}, o.envelopeOptions(0)...)
	if err != nil {
		res = fallback
		res.Failure = o.failureFromError(err, correlationID)
		res.Metadata.Seconds = time.Since(start).Seconds()
		res.SearchTime = res.Metadata.Seconds
	}

	o.finish(searchEvent(req, res, correlationID))
	return res
}

func (o *Orchestrator) runSearch(ctx context.Context, correlationID string, req SearchRequest) SearchResult {
	budget := req.Budget
	if budget <= 0 {
		budget = o.defaultBudget
	}
	st := graph.NewState(graph.StateParams{
		RequestID:     uuid.NewString(),
		CorrelationID: correlationID,
		Query:         req.Query,
		Budget:        budget,
		Quality:       req.Quality,
	})

	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = defaultSearchResults
	}
	st.SetIntermediate("max_results", maxResults)
	if len(req.Domains) > 0 {
		st.SetIntermediate("domains", req.Domains)
	}
	if len(req.Filters) > 0 {
		st.SetIntermediate("filters", req.Filters)
	}
	if req.SearchKind != "" {
		st.SetIntermediate("search_kind", req.SearchKind)
	}

	final, err := o.search.Run(ctx, st)
	return o.assembleSearchResult(req, correlationID, final, err)
}

func (o *Orchestrator) assembleSearchResult(req SearchRequest, correlationID string, st *graph.State, runErr error) SearchResult {
	results, _ := st.Intermediate["search_results"].([]provider.Result)
	if results == nil {
		results = []provider.Result{}
	}
	providers, _ := st.Intermediate["providers_used"].([]string)
	if providers == nil {
		providers = []string{}
	}
	cached, _ := st.Intermediate["search_cached"].(bool)

	md := SearchMetadata{
		Metadata:      metadataFor(st, correlationID),
		ProvidersUsed: providers,
	}
	md.Cached = cached
	if s, ok := st.Intermediate["strategy"].(router.Strategy); ok {
		md.Rationale = s.Rationale
	}

	res := SearchResult{
		Query:            req.Query,
		Results:          results,
		Summary:          st.FinalResponse,
		TotalResults:     len(results),
		SearchTime:       md.Seconds,
		SourcesConsulted: sourcesOf(results),
		Metadata:         md,
	}
	if runErr != nil {
		res.Status = StatusError
		res.Failure = o.failureFromRun(st, runErr, correlationID)
		return res
	}
	res.Status = statusFor(st)
	return res
}

// RunResearch executes one multi-agent research workflow.
func (o *Orchestrator) RunResearch(ctx context.Context, req ResearchRequest) ResearchResult {
	correlationID := uuid.NewString()
	workflowID := uuid.NewString()
	start := time.Now()

	if f := validateResearchRequest(req, o.maxQueryLen); f != nil {
		f.CorrelationID = correlationID
		res := emptyResearchResult(workflowID)
		res.Errors = []Failure{*f}
		o.finish(researchEvent(req, res, correlationID))
		return res
	}

	fallback := emptyResearchResult(workflowID)

	res, err := envelope.Run(ctx, envelope.ClassResearch, req.Question, fallback,
		func(opCtx context.Context) (ResearchResult, error) {
			return o.runResearch(opCtx, correlationID, workflowID, req)
		}, o.envelopeOptions(req.TimeBudget)...)
	if err != nil {
		res = fallback
		res.Errors = []Failure{*o.failureFromError(err, correlationID)}
		res.Metadata.ExecutionTime = time.Since(start).Seconds()
	}

	o.finish(researchEvent(req, res, correlationID))
	return res
}

// engineOptions builds the shared option set for compiled graph engines.
func (o *Orchestrator) engineOptions() []graph.Option {
	opts := []graph.Option{
		graph.WithLogger(o.logger),
		graph.WithMetrics(o.graphMetrics),
	}
	if o.tracer != nil {
		opts = append(opts, graph.WithEmitter(emit.NewOTelEmitter(o.tracer)))
	}
	return opts
}

// envelopeOptions builds the envelope options for one run.
func (o *Orchestrator) envelopeOptions(timeBudget float64) []envelope.Option {
	opts := []envelope.Option{
		envelope.WithLogger(o.logger),
		envelope.WithMetrics(o.envMetrics),
	}
	if timeBudget > 0 {
		opts = append(opts, envelope.WithTimeout(secondsToDuration(timeBudget)+deadlineGrace))
	}
	return opts
}

// finish records one completed operation with metrics and analytics.
func (o *Orchestrator) finish(ev analytics.Event) {
	o.metrics.observeRequest(ev.Operation, Status(ev.Status), ev.Seconds, ev.Cost)
	if o.services.Analytics != nil {
		o.services.Analytics.Record(ev)
	}
}

func chatEvent(req ChatRequest, res ChatResult, correlationID string) analytics.Event {
	return analytics.Event{
		ID:         correlationID,
		Operation:  opChat,
		SessionID:  res.SessionID,
		QueryHash:  queryHash(req.Query),
		Quality:    string(req.Quality),
		Cost:       res.Metadata.Cost,
		Seconds:    res.Metadata.Seconds,
		Models:     res.Metadata.ModelsUsed,
		Confidence: res.Metadata.Confidence,
		Status:     string(res.Status),
		ErrorCode:  failureCode(res.Failure),
		Cached:     res.Metadata.Cached,
	}
}

func searchEvent(req SearchRequest, res SearchResult, correlationID string) analytics.Event {
	return analytics.Event{
		ID:         correlationID,
		Operation:  opSearch,
		QueryHash:  queryHash(req.Query),
		Quality:    string(req.Quality),
		Cost:       res.Metadata.Cost,
		Seconds:    res.Metadata.Seconds,
		Models:     res.Metadata.ModelsUsed,
		Confidence: res.Metadata.Confidence,
		Status:     string(res.Status),
		ErrorCode:  failureCode(res.Failure),
		Cached:     res.Metadata.Cached,
	}
}

func researchEvent(req ResearchRequest, res ResearchResult, correlationID string) analytics.Event {
	status := researchStatus(res)
	code := ""
	if len(res.Errors) > 0 {
		code = res.Errors[0].Code
	}
	return analytics.Event{
		ID:         correlationID,
		Operation:  opResearch,
		QueryHash:  queryHash(req.Question),
		Cost:       res.Metadata.Cost,
		Seconds:    res.Metadata.ExecutionTime,
		Models:     researchModels(res),
		Confidence: res.ConfidenceScore,
		Status:     string(status),
		ErrorCode:  code,
		Cached:     res.Metadata.Cached,
	}
}

func emptySearchResult(query string) SearchResult {
	return SearchResult{
		Query:            query,
		Results:          []provider.Result{},
		SourcesConsulted: []string{},
		Metadata:         SearchMetadata{ProvidersUsed: []string{}},
	}
}

func emptyResearchResult(workflowID string) ResearchResult {
	return ResearchResult{
		WorkflowID:      workflowID,
		DetailedResults: []TaskResult{},
		Metadata:        ResearchMetadata{AgentsUsed: []string{}},
	}
}

// statusFor classifies a finished graph run: no response is a failure, a
// response despite recorded node errors is partial.
func statusFor(st *graph.State) Status {
	switch {
	case st.FinalResponse == "":
		return StatusError
	case len(st.Errors) > 0:
		return StatusPartial
	default:
		return StatusSuccess
	}
}

func researchStatus(res ResearchResult) Status {
	switch {
	case res.Success:
		return StatusSuccess
	case res.ResearchResults != "":
		return StatusPartial
	default:
		return StatusError
	}
}

// metadataFor converts run accounting into the result metadata block.
func metadataFor(st *graph.State, correlationID string) Metadata {
	md := Metadata{
		Cost:       st.TotalCost(),
		ModelsUsed: st.ModelList(),
		Confidence: st.AvgConfidence(),
		Warnings:   append([]graph.Fault(nil), st.Warnings...),
		Errors:     faultFailures(st, correlationID),
	}
	if secs, ok := st.ResponseMetadata["elapsed_seconds"].(float64); ok {
		md.Seconds = secs
	}
	return md
}

// faultFailures classifies every node fault for the metadata errors list.
func faultFailures(st *graph.State, correlationID string) []Failure {
	if len(st.Errors) == 0 {
		return nil
	}
	out := make([]Failure, 0, len(st.Errors))
	for _, f := range st.Errors {
		out = append(out, Failure{
			Code:          faultCode(st, f),
			Message:       f.Message,
			CorrelationID: correlationID,
		})
	}
	return out
}

// faultCode resolves a node fault to an operation error code. Nodes that
// classified their own failure put the code in the result data; engine-level
// faults are recognized by their message prefix.
func faultCode(st *graph.State, f graph.Fault) string {
	if r, ok := st.Results[f.Node]; ok && !r.Success {
		if c, ok := r.Data["error_code"].(string); ok && c != "" {
			return c
		}
	}
	switch {
	case strings.HasPrefix(f.Message, "deadline exceeded"):
		return CodeDeadline
	case strings.HasPrefix(f.Message, "circuit breaker"):
		return CodeInternal
	}
	return CodeInternal
}

// failureFromRun converts a graph engine error into the result's failure.
func (o *Orchestrator) failureFromRun(st *graph.State, err error, correlationID string) *Failure {
	code := CodeInternal
	switch {
	case graph.IsEngineCode(err, graph.CodeDeadline):
		code = CodeDeadline
	case graph.IsEngineCode(err, graph.CodeNodeFailure):
		if n := len(st.Errors); n > 0 {
			code = faultCode(st, st.Errors[n-1])
		}
	}
	return o.newFailure(code, err, correlationID)
}

// failureFromError converts an envelope-level error into a failure.
func (o *Orchestrator) failureFromError(err error, correlationID string) *Failure {
	code := CodeInternal
	var te *envelope.TimeoutError
	switch {
	case errors.As(err, &te),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		code = CodeDeadline
	}
	return o.newFailure(code, err, correlationID)
}

func (o *Orchestrator) newFailure(code string, err error, correlationID string) *Failure {
	msg := userMessageFor(code)
	if !o.production && err != nil {
		msg = err.Error()
	}
	return &Failure{
		Code:          code,
		Message:       msg,
		Suggestions:   suggestionsFor(code),
		CorrelationID: correlationID,
	}
}

func userMessageFor(code string) string {
	switch code {
	case CodeValidation:
		return "the request was invalid"
	case CodeBudget:
		return "the request exceeded its cost budget"
	case CodeModelUnavailable:
		return "no model was available to serve the request"
	case CodeBackendTransport:
		return "the model backend could not be reached"
	case CodeProviderFailure:
		return "an external provider failed"
	case CodeDeadline:
		return "the request ran out of time"
	default:
		return "an internal error interrupted the request"
	}
}

func suggestionsFor(code string) []string {
	switch code {
	case CodeBudget:
		return []string{"raise the budget", "lower the quality tier"}
	case CodeModelUnavailable:
		return []string{"try again shortly", "check that the model backend has models installed"}
	case CodeBackendTransport:
		return []string{"check that the model backend is running", "try again shortly"}
	case CodeDeadline:
		return []string{"raise the time budget", "simplify the query"}
	default:
		return nil
	}
}

func failureCode(f *Failure) string {
	if f == nil {
		return ""
	}
	return f.Code
}

func developerHints(st *graph.State) map[string]interface{} {
	hints := map[string]interface{}{
		"execution_path": append([]string(nil), st.Path...),
		"intent":         string(st.Intent),
	}
	if r, ok := st.Results["intent_classifier"]; ok {
		if m, ok := r.Data["classification_method"].(string); ok {
			hints["classification_method"] = m
		}
	}
	if r, ok := st.Results["response_generator"]; ok {
		if tt, ok := r.Data["task_type"].(string); ok {
			hints["task_type"] = tt
		}
	}
	return hints
}

func researchModels(res ResearchResult) []string {
	seen := make(map[string]bool)
	var models []string
	for _, tr := range res.DetailedResults {
		if tr.Model == "" || seen[tr.Model] {
			continue
		}
		seen[tr.Model] = true
		models = append(models, tr.Model)
	}
	return models
}

func sourcesOf(results []provider.Result) []string {
	out := make([]string, 0, len(results))
	seen := make(map[string]bool)
	for _, r := range results {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		out = append(out, r.URL)
	}
	return out
}

func queryHash(q string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(q))))
	return hex.EncodeToString(sum[:8])
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
