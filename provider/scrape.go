package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/go-shiori/go-readability"
)

const (
	scrapeBodyLimit = 1 << 20 // bytes read per page
	scrapeUserAgent = "Mozilla/5.0 (compatible; anser/1.0)"

	defaultMaxText = 8000
)

// PageScraper downloads a page and extracts its article text with
// readability, falling back to a plain tag strip when extraction yields
// nothing. It is safe for concurrent use.
type PageScraper struct {
	client  *http.Client
	logger  *slog.Logger
	maxText int
}

// ScrapeOption adjusts PageScraper construction.
type ScrapeOption func(*PageScraper)

// WithScrapeClient replaces the underlying HTTP client.
func WithScrapeClient(hc *http.Client) ScrapeOption {
	return func(s *PageScraper) {
		if hc != nil {
			s.client = hc
		}
	}
}

// WithScrapeLogger sets the scraper's structured logger.
func WithScrapeLogger(logger *slog.Logger) ScrapeOption {
	return func(s *PageScraper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxText caps the extracted text length in bytes.
func WithMaxText(n int) ScrapeOption {
	return func(s *PageScraper) {
		if n > 0 {
			s.maxText = n
		}
	}
}

// NewPageScraper builds a scraper with a 15 second request timeout.
func NewPageScraper(opts ...ScrapeOption) *PageScraper {
	s := &PageScraper{
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  slog.Default(),
		maxText: defaultMaxText,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scrape fetches rawURL and returns its readable text, truncated to the
// configured maximum.
func (s *PageScraper) Scrape(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("scrape: invalid url %q: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", scrapeUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("scrape %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("scrape %s: status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, scrapeBodyLimit))
	if err != nil {
		return "", fmt.Errorf("scrape %s: read body: %w", rawURL, err)
	}

	parsedURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(bytes.NewReader(body), parsedURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return s.clip(strings.TrimSpace(article.TextContent)), nil
	}
	if err != nil {
		s.logger.Debug("readability extraction failed, stripping tags", "url", rawURL, "error", err)
	}

	text := stripTags(string(body))
	if text == "" {
		return "", fmt.Errorf("scrape %s: no extractable text", rawURL)
	}
	return s.clip(text), nil
}

func (s *PageScraper) clip(text string) string {
	if len(text) <= s.maxText {
		return text
	}
	return text[:s.maxText]
}

// stripTags is the last-resort extractor: it drops markup, skips script and
// style bodies, and collapses runs of whitespace to single spaces.
func stripTags(html string) string {
	var b strings.Builder
	b.Grow(len(html))

	inTag := false
	skipUntil := "" // closing tag that ends a skipped script/style body
	for i := 0; i < len(html); i++ {
		c := html[i]
		if c == '<' {
			inTag = true
			rest := strings.ToLower(html[i:min(i+len("</script"), len(html))])
			switch {
			case skipUntil != "" && strings.HasPrefix(rest, skipUntil):
				skipUntil = ""
			case skipUntil == "" && strings.HasPrefix(rest, "<script"):
				skipUntil = "</script"
			case skipUntil == "" && strings.HasPrefix(rest, "<style"):
				skipUntil = "</style"
			}
			continue
		}
		if inTag {
			if c == '>' {
				inTag = false
				b.WriteByte(' ')
			}
			continue
		}
		if skipUntil != "" {
			continue
		}
		b.WriteByte(c)
	}

	return strings.Join(strings.FieldsFunc(b.String(), unicode.IsSpace), " ")
}
