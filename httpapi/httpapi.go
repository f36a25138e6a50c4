// Package httpapi exposes the orchestrator over HTTP. The edge owns
// serialization, status mapping, and streaming delivery; request semantics
// stay in the core, which always returns a materialized result.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anserhq/anser"
)

// Core is the orchestrator surface the edge serves. *anser.Orchestrator
// satisfies it.
type Core interface {
	RunChat(ctx context.Context, req anser.ChatRequest) anser.ChatResult
	RunSearch(ctx context.Context, req anser.SearchRequest) anser.SearchResult
	RunResearch(ctx context.Context, req anser.ResearchRequest) anser.ResearchResult
}

// Server builds the gin router for one orchestrator.
type Server struct {
	core     Core
	model    anser.ModelService
	logger   *slog.Logger
	gatherer prometheus.Gatherer
}

// Option adjusts server construction.
type Option func(*Server)

// WithLogger sets the access logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithModelHealth lets /healthz report the model manager's degraded state.
func WithModelHealth(ms anser.ModelService) Option {
	return func(s *Server) { s.model = ms }
}

// WithMetrics exposes the gatherer's metrics at /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// New builds a server over core.
func New(core Core, opts ...Option) *Server {
	s := &Server{
		core:   core,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router assembles the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), s.accessLog())

	r.GET("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/v1")
	{
		v1.POST("/chat", s.handleChat)
		v1.POST("/chat/stream", s.handleChatStream)
		v1.POST("/search", s.handleSearch)
		v1.POST("/research", s.handleResearch)
	}
	return r
}

func (s *Server) handleChat(c *gin.Context) {
	var req anser.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindReject(c, err)
		return
	}
	res := s.core.RunChat(c.Request.Context(), req)
	c.JSON(statusOf(res.Status, res.Failure), res)
}

func (s *Server) handleSearch(c *gin.Context) {
	var req anser.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindReject(c, err)
		return
	}
	res := s.core.RunSearch(c.Request.Context(), req)
	c.JSON(statusOf(res.Status, res.Failure), res)
}

func (s *Server) handleResearch(c *gin.Context) {
	var req anser.ResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindReject(c, err)
		return
	}
	res := s.core.RunResearch(c.Request.Context(), req)
	c.JSON(researchStatusOf(res), res)
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.model != nil && s.model.Degraded() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"detail": "model catalog empty or backend unreachable",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// bindReject answers malformed request bodies in the same failure shape the
// core uses for its own validation rejections.
func bindReject(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"status": anser.StatusError,
		"error": anser.Failure{
			Code:        anser.CodeValidation,
			Message:     "invalid request body: " + err.Error(),
			Suggestions: []string{"send a JSON object matching the documented request shape"},
		},
	})
}

// statusOf maps an operation result onto an HTTP status. Partial results are
// 200s; the body carries the degradation detail.
func statusOf(st anser.Status, f *anser.Failure) int {
	if st != anser.StatusError {
		return http.StatusOK
	}
	if f == nil {
		return http.StatusInternalServerError
	}
	return statusByCode(f.Code)
}

func researchStatusOf(res anser.ResearchResult) int {
	if res.Success || res.ResearchResults != "" || len(res.Errors) == 0 {
		return http.StatusOK
	}
	return statusByCode(res.Errors[0].Code)
}

func statusByCode(code string) int {
	switch code {
	case anser.CodeValidation, anser.CodeBudget:
		return http.StatusBadRequest
	case anser.CodeDeadline:
		return http.StatusGatewayTimeout
	case anser.CodeModelUnavailable:
		return http.StatusServiceUnavailable
	case anser.CodeBackendTransport, anser.CodeProviderFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.FullPath() == "/metrics" || c.FullPath() == "/healthz" {
			return
		}
		id, _ := c.Get("request_id")
		s.logger.Info("request served",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", id,
		)
	}
}
