// Package provider defines the outbound contracts for external web search
// and page scraping. Implementations live in subpackages (brave) or in this
// package (PageScraper). Provider failures are per-call: callers treat them
// as degraded input, never as pipeline failures.
package provider

import "context"

// Result is one entry returned by an external search provider. Content is
// empty until an enhancement pass scrapes the page.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Content string  `json:"content,omitempty"`
	Source  string  `json:"source"`
	Score   float64 `json:"relevance_score"`
}

// Searcher is an external web search API. Cost reports the configured charge
// per Search call in dollars so the caller can account for it before issuing
// the request.
type Searcher interface {
	Name() string
	Cost() float64
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// Scraper fetches a URL and extracts its readable text.
type Scraper interface {
	Scrape(ctx context.Context, url string) (string, error)
}
