// Package ollama is a client for the Ollama HTTP API covering the operations
// the model manager needs: tag listing, model pulls, health probes, and unary
// or streaming generation.
//
// Transport failures and 5xx responses are retried with exponential backoff
// and jitter; 4xx responses, including missing models, fail immediately.
// Durations reported by the backend in nanoseconds are converted to seconds.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultBaseURL is the standard local Ollama address.
const DefaultBaseURL = "http://localhost:11434"

// APIError is a non-2xx response from the Ollama API. StatusCode is zero for
// errors delivered in-band on a streaming response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("ollama: %s", e.Message)
	}
	return fmt.Sprintf("ollama: %s (status %d)", e.Message, e.StatusCode)
}

// Retryable reports whether the request is worth repeating. Server-side
// failures are; client errors such as a bad model name are not.
func (e *APIError) Retryable() bool { return e.StatusCode >= 500 }

// IsNotFound reports whether err is a missing-model response.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// Model is one entry from the backend's tag list.
type Model struct {
	Name       string       `json:"name"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	ModifiedAt time.Time    `json:"modified_at"`
	Details    ModelDetails `json:"details"`
}

// ModelDetails carries backend-reported model metadata. Older backends omit
// some fields; zero values are expected.
type ModelDetails struct {
	Family            string `json:"family"`
	ParameterSize     string `json:"parameter_size"`
	QuantizationLevel string `json:"quantization_level"`
}

// PullProgress is one update from a streaming model pull.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// Client talks to one Ollama server. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	retryAttempts int
	retryDelay    time.Duration
	maxRetryDelay time.Duration

	listTTL   time.Duration
	healthTTL time.Duration

	mu            sync.RWMutex
	models        []Model
	modelsFetched time.Time
	healthy       bool
	healthChecked time.Time
}

// ClientOption adjusts client construction.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the client's structured logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetry controls the retry budget: attempts is the total number of tries
// per request, delay the base backoff between them.
func WithRetry(attempts int, delay time.Duration) ClientOption {
	return func(c *Client) {
		if attempts >= 1 {
			c.retryAttempts = attempts
		}
		if delay > 0 {
			c.retryDelay = delay
		}
	}
}

// WithListTTL overrides how long a fetched tag list stays fresh.
func WithListTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl > 0 {
			c.listTTL = ttl
		}
	}
}

// WithHealthTTL overrides how long a health probe result is reused.
func WithHealthTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl > 0 {
			c.healthTTL = ttl
		}
	}
}

// NewClient builds a client for the server at baseURL. An empty baseURL
// selects the default local address.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Minute, // pulls are slow
		},
		logger:        slog.Default(),
		retryAttempts: 3,
		retryDelay:    time.Second,
		maxRetryDelay: 30 * time.Second,
		listTTL:       5 * time.Minute,
		healthTTL:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured server address.
func (c *Client) BaseURL() string { return c.baseURL }

type tagsResponse struct {
	Models []Model `json:"models"`
}

// ListModels returns the models installed on the server. Results are cached
// for the list TTL; force bypasses the cache.
func (c *Client) ListModels(ctx context.Context, force bool) ([]Model, error) {
	if !force {
		c.mu.RLock()
		if c.models != nil && time.Since(c.modelsFetched) < c.listTTL {
			models := c.models
			c.mu.RUnlock()
			return models, nil
		}
		c.mu.RUnlock()
	}

	resp, err := c.doRetry(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("ollama: decode tag list: %w", err)
	}

	c.mu.Lock()
	c.models = tags.Models
	c.modelsFetched = time.Now()
	c.mu.Unlock()

	c.logger.Debug("fetched model list", "count", len(tags.Models))
	return tags.Models, nil
}

// Pull downloads a model from the registry, reporting progress through the
// callback when one is given. A successful pull invalidates the cached tag
// list so the new model shows up on the next ListModels.
func (c *Client) Pull(ctx context.Context, name string, progress func(PullProgress)) error {
	payload, err := json.Marshal(map[string]interface{}{"name": name, "stream": true})
	if err != nil {
		return fmt.Errorf("ollama: encode pull request: %w", err)
	}

	resp, err := c.doRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var update struct {
			PullProgress
			Error string `json:"error,omitempty"`
		}
		if err := json.Unmarshal(line, &update); err != nil {
			c.logger.Debug("skipping unparseable pull line", "error", err)
			continue
		}
		if update.Error != "" {
			return &APIError{Message: fmt.Sprintf("pull %q: %s", name, update.Error)}
		}
		if progress != nil {
			progress(update.PullProgress)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("ollama: read pull stream: %w", err)
	}

	c.mu.Lock()
	c.models = nil
	c.modelsFetched = time.Time{}
	c.mu.Unlock()

	c.logger.Info("model pulled", "model", name)
	return nil
}

// Healthy reports whether the server answers its root endpoint. Probe
// results are cached for the health TTL.
func (c *Client) Healthy(ctx context.Context) bool {
	c.mu.RLock()
	if !c.healthChecked.IsZero() && time.Since(c.healthChecked) < c.healthTTL {
		ok := c.healthy
		c.mu.RUnlock()
		return ok
	}
	c.mu.RUnlock()

	ok := c.probe(ctx)

	c.mu.Lock()
	c.healthy = ok
	c.healthChecked = time.Now()
	c.mu.Unlock()
	return ok
}

func (c *Client) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// doRetry issues a request built by build, retrying transport errors and 5xx
// responses with exponential backoff. The caller owns the response body.
func (c *Client) doRetry(ctx context.Context, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff(attempt-1, c.retryDelay, c.maxRetryDelay)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := build()
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			c.logger.Warn("request failed", "path", req.URL.Path, "attempt", attempt+1, "error", err)
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = apiErrorFrom(resp)
			c.logger.Warn("server error", "path", req.URL.Path, "attempt", attempt+1, "status", resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, apiErrorFrom(resp)
		}
		return resp, nil
	}
	return nil, fmt.Errorf("ollama: %d attempts exhausted: %w", c.retryAttempts, lastErr)
}

// apiErrorFrom drains and closes the response body, extracting the backend's
// error message when it has one.
func apiErrorFrom(resp *http.Response) *APIError {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))

	var wire struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &wire); err == nil && wire.Error != "" {
		msg = wire.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

// backoff computes min(base * 2^attempt, max) plus jitter in [0, base).
func backoff(attempt int, base, max time.Duration) time.Duration {
	d := base * (1 << attempt)
	if d > max {
		d = max
	}
	return d + time.Duration(rand.Int63n(int64(base)))
}
