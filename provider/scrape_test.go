package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const articlePage = `<!DOCTYPE html>
<html>
<head><title>Consensus Protocols</title><style>nav { color: red; }</style></head>
<body>
<nav><a href="/">Home</a><a href="/about">About</a></nav>
<article>
<h1>Consensus Protocols</h1>
<p>Raft decomposes consensus into leader election, log replication, and safety,
which makes the protocol considerably easier to reason about than its
predecessors. Each server persists a current term, a vote, and a log of
commands that the state machine applies in order.</p>
<p>Paxos, by contrast, describes agreement on a single value, and practical
systems layer multi-decree coordination, leadership, and reconfiguration on
top of it. The resulting implementations differ widely, which is one reason
comparisons between the two protocols remain a popular topic.</p>
</article>
<script>analytics.track("pageview");</script>
<footer>Copyright 2026</footer>
</body>
</html>`

func TestPageScraper(t *testing.T) {
	t.Run("extracts article text", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "anser") {
				t.Errorf("User-Agent = %q", ua)
			}
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(articlePage))
		}))
		defer srv.Close()

		text, err := NewPageScraper().Scrape(context.Background(), srv.URL)
		if err != nil {
			t.Fatalf("Scrape: %v", err)
		}
		if !strings.Contains(text, "leader election") {
			t.Errorf("missing first paragraph content: %q", text)
		}
		if !strings.Contains(text, "multi-decree coordination") {
			t.Errorf("missing second paragraph content: %q", text)
		}
		if strings.Contains(text, "analytics.track") {
			t.Errorf("script body leaked into text: %q", text)
		}
	})

	t.Run("clips to max text", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(articlePage))
		}))
		defer srv.Close()

		text, err := NewPageScraper(WithMaxText(40)).Scrape(context.Background(), srv.URL)
		if err != nil {
			t.Fatalf("Scrape: %v", err)
		}
		if len(text) > 40 {
			t.Errorf("len(text) = %d, want <= 40", len(text))
		}
	})

	t.Run("error status fails the call", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "gone", http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := NewPageScraper().Scrape(context.Background(), srv.URL)
		if err == nil || !strings.Contains(err.Error(), "404") {
			t.Fatalf("err = %v, want status 404 error", err)
		}
	})

	t.Run("unreachable server fails the call", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		if _, err := NewPageScraper().Scrape(context.Background(), srv.URL); err == nil {
			t.Fatal("expected transport error")
		}
	})
}

func TestStripTags(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text unchanged", "no markup here", "no markup here"},
		{"tags removed", "<p>hello <b>world</b></p>", "hello world"},
		{"script body dropped", `<p>kept</p><script>var x = "dropped";</script><p>also kept</p>`, "kept also kept"},
		{"style body dropped", "<style>body { color: red; }</style><p>visible</p>", "visible"},
		{"whitespace collapsed", "<div>\n  spaced\n\n  out  </div>", "spaced out"},
		{"case insensitive script", "<SCRIPT>hidden()</SCRIPT>after", "after"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripTags(tt.in); got != tt.want {
				t.Errorf("stripTags(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
