// Package brave is a client for the Brave Search REST API. It implements
// the provider search contract with a configured per-call cost. Requests are
// single-shot: callers treat search failures as degraded input, so there is
// no retry layer here.
package brave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/anserhq/anser/provider"
)

// DefaultBaseURL is the public Brave Search API endpoint.
const DefaultBaseURL = "https://api.search.brave.com"

// Name identifies Brave results in source attributions and cache keys.
const Name = "brave_search"

// DefaultCost is the accounted charge per search call in dollars when the
// deployment does not configure one.
const DefaultCost = 0.42

const (
	defaultCount = 10
	maxCount     = 20
)

// Client queries one Brave Search endpoint. It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	cost       float64
	httpClient *http.Client
	logger     *slog.Logger
}

var _ provider.Searcher = (*Client)(nil)

// Option adjusts client construction.
type Option func(*Client)

// WithBaseURL points the client at a different endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimSuffix(u, "/")
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the client's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCost sets the accounted charge per search call in dollars.
func WithCost(cost float64) Option {
	return func(c *Client) {
		if cost >= 0 {
			c.cost = cost
		}
	}
}

// NewClient builds a client authenticating with apiKey. An empty key is
// allowed at construction; searches then fail per call.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		cost:       DefaultCost,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements provider.Searcher.
func (c *Client) Name() string { return Name }

// Cost implements provider.Searcher.
func (c *Client) Cost() float64 { return c.cost }

type searchResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			Age         string `json:"age"`
		} `json:"results"`
	} `json:"web"`
}

// Search runs a web search and maps the organic results. maxResults is
// clamped to the API's limit of 20; zero selects the API default of 10.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]provider.Result, error) {
	if c.apiKey == "" {
		return nil, errors.New("brave: api key not configured")
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("brave: empty query")
	}

	count := maxResults
	if count <= 0 {
		count = defaultCount
	}
	if count > maxCount {
		count = maxCount
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(count))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/res/v1/web/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("brave: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave: search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("brave: search returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var wire searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("brave: decode response: %w", err)
	}

	results := make([]provider.Result, 0, len(wire.Web.Results))
	for i, r := range wire.Web.Results {
		results = append(results, provider.Result{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: cleanSnippet(r.Description),
			Source:  Name,
			// Brave orders by relevance; derive a score from rank.
			Score: 1 - 0.05*float64(i),
		})
	}

	c.logger.Debug("brave search completed",
		"query", query, "results", len(results), "elapsed", time.Since(start))
	return results, nil
}

// highlightTags strips the emphasis markers Brave embeds in descriptions.
var highlightTags = strings.NewReplacer(
	"<strong>", "", "</strong>", "",
	"<em>", "", "</em>", "",
	"<b>", "", "</b>", "",
)

func cleanSnippet(s string) string { return highlightTags.Replace(s) }
