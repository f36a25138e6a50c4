// Command anserd serves the orchestrator over HTTP. It wires the model
// manager, remote generators, cache, analytics, and search providers from a
// TOML config plus ANSER_* environment overrides, then runs until SIGINT or
// SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/anserhq/anser"
	"github.com/anserhq/anser/analytics"
	"github.com/anserhq/anser/cache"
	"github.com/anserhq/anser/config"
	"github.com/anserhq/anser/httpapi"
	"github.com/anserhq/anser/model"
	"github.com/anserhq/anser/model/anthropic"
	"github.com/anserhq/anser/model/google"
	"github.com/anserhq/anser/model/ollama"
	"github.com/anserhq/anser/model/openai"
	"github.com/anserhq/anser/provider"
	"github.com/anserhq/anser/provider/brave"
	"github.com/anserhq/anser/router"
)

const (
	modelRefreshInterval = 5 * time.Minute
	shutdownTimeout      = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to the TOML config file (default anser.toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "anserd:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error("anserd failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()

	var tracer trace.Tracer
	if cfg.Tracing.Endpoint != "" {
		cleanup, err := initTracer(ctx, cfg.Tracing.Endpoint)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer cleanup(context.Background())
		tracer = otel.Tracer("anser")
	}

	backend := ollama.NewClient(cfg.Backend.Host, ollama.WithLogger(logger))
	manager := model.NewManager(backend,
		model.WithDefaultModel(cfg.Backend.DefaultModel),
		model.WithManagerLogger(logger),
		model.WithManagerMetrics(model.NewMetrics(registry)))
	defer manager.Shutdown(context.Background())

	// A failed discovery leaves the manager in degraded mode; the refresh
	// loop keeps retrying, so the service still starts.
	if err := manager.Discover(ctx); err != nil {
		logger.Warn("model discovery failed, starting degraded", "error", err)
	}
	manager.StartRefresh(ctx, modelRefreshInterval)

	svc, closeRemotes, err := modelService(ctx, cfg, manager)
	if err != nil {
		return err
	}
	defer closeRemotes()

	store, err := cacheFor(cfg.Cache)
	if err != nil {
		return err
	}

	sink, err := sinkFor(cfg.Analytics)
	if err != nil {
		return err
	}
	recorder := analytics.NewRecorder(sink,
		analytics.WithRecorderLogger(logger),
		analytics.WithRecorderMetrics(analytics.NewMetrics(registry)))
	defer recorder.Close()

	services := anser.Services{
		Model:     svc,
		Scraper:   provider.NewPageScraper(provider.WithScrapeLogger(logger)),
		Cache:     store,
		Analytics: recorder,
	}
	if cfg.Search.BraveAPIKey != "" {
		services.Search = brave.NewClient(cfg.Search.BraveAPIKey,
			brave.WithLogger(logger),
			brave.WithCost(cfg.Search.PrimaryCost))
	} else {
		logger.Warn("no search api key configured, search requests answer from the model alone")
	}

	opts := []anser.Option{
		anser.WithLogger(logger),
		anser.WithMetrics(registry),
		anser.WithRouterCosts(router.Costs{
			PrimarySearch: cfg.Search.PrimaryCost,
			Enhancement:   cfg.Search.EnhancementCost,
		}),
		anser.WithMaxQueryLength(cfg.Limits.MaxQueryLength),
		anser.WithDefaultBudget(cfg.Limits.DefaultBudget),
		anser.WithConcurrency(cfg.Limits.MaxConcurrentAgents),
		anser.WithProductionMode(cfg.Production()),
	}
	if tracer != nil {
		opts = append(opts, anser.WithTracing(tracer))
	}
	orch, err := anser.New(services, opts...)
	if err != nil {
		return err
	}

	api := httpapi.New(orch,
		httpapi.WithLogger(logger),
		httpapi.WithModelHealth(svc),
		httpapi.WithMetrics(registry))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("anserd listening", "addr", cfg.Server.Addr, "env", cfg.Env)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// modelService layers remote generators over the local manager when provider
// keys are configured. Without keys the manager serves alone.
func modelService(ctx context.Context, cfg config.Config, manager *model.Manager) (anser.ModelService, func(), error) {
	keys := cfg.Providers
	if keys.AnthropicKey == "" && keys.OpenAIKey == "" && keys.GoogleKey == "" {
		return manager, func() {}, nil
	}

	var muxOpts []model.MuxOption
	var fallback string
	closeFn := func() {}

	if keys.AnthropicKey != "" {
		muxOpts = append(muxOpts, model.WithRoute("claude", anthropic.New(keys.AnthropicKey)))
		fallback = anthropic.DefaultModel
	}
	if keys.OpenAIKey != "" {
		muxOpts = append(muxOpts, model.WithRoute("gpt", openai.New(keys.OpenAIKey)))
		if fallback == "" {
			fallback = openai.DefaultModel
		}
	}
	if keys.GoogleKey != "" {
		gc, err := google.New(ctx, keys.GoogleKey)
		if err != nil {
			return nil, nil, fmt.Errorf("google client: %w", err)
		}
		muxOpts = append(muxOpts, model.WithRoute("gemini", gc))
		closeFn = func() { _ = gc.Close() }
		if fallback == "" {
			fallback = google.DefaultModel
		}
	}

	muxOpts = append(muxOpts, model.WithFallbackModel(fallback))
	return model.NewMux(manager, muxOpts...), closeFn, nil
}

func cacheFor(cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.URL {
	case "":
		return cache.NewMemory(cfg.MaxEntries), nil
	case "noop":
		return cache.Noop{}, nil
	default:
		return nil, fmt.Errorf("unsupported cache url %q", cfg.URL)
	}
}

func sinkFor(cfg config.AnalyticsConfig) (analytics.Sink, error) {
	switch cfg.Driver {
	case "sqlite":
		return analytics.NewSQLiteSink(cfg.DSN)
	case "mysql":
		return analytics.NewMySQLSink(cfg.DSN)
	default:
		return analytics.NewMemorySink(), nil
	}
}

// initTracer installs the global OTLP trace pipeline and returns its
// shutdown function.
func initTracer(ctx context.Context, endpoint string) (func(context.Context), error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("anser")))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			slog.Error("trace provider shutdown failed", "error", err)
		}
	}, nil
}
