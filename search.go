package anser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anserhq/anser/cache"
	"github.com/anserhq/anser/graph"
	"github.com/anserhq/anser/model"
	"github.com/anserhq/anser/provider"
	"github.com/anserhq/anser/router"
)

const (
	defaultSearchResults = 10
	searchCacheTTL       = 15 * time.Minute
	maxScrapeConcurrency = 3

	synthesisSystemPrompt = "You are a research assistant. Synthesize the search results into a direct answer. " +
		"Cite sources by number where relevant, and say so when the results do not answer the question."
)

// buildSearchGraph assembles the search pipeline. The smart_router's
// skip-external decision picks between the full external branch and a
// model-only direct response; provider trouble downgrades the run instead of
// failing it.
func (o *Orchestrator) buildSearchGraph() (*graph.Engine, error) {
	eng := graph.New("search", o.engineOptions()...)

	nodes := []graph.Node{
		startNode(),
		o.smartRouterNode(),
		o.braveSearchNode(),
		o.contentEnhancementNode(),
		o.responseSynthesisNode(),
		o.directResponseNode(),
		o.searchErrorHandlerNode(),
		endNode(),
	}
	for _, n := range nodes {
		if err := eng.AddNode(n); err != nil {
			return nil, err
		}
	}

	if err := eng.AddEdge("start", "smart_router"); err != nil {
		return nil, err
	}
	err := eng.AddConditionalEdge("smart_router", o.routeAfterStrategy, map[string]string{
		"external": "brave_search",
		"direct":   "direct_response",
	})
	if err != nil {
		return nil, err
	}
	edges := [][2]string{
		{"brave_search", "content_enhancement"},
		{"content_enhancement", "response_synthesis"},
		{"response_synthesis", "end"},
		{"direct_response", "end"},
		{"error_handler", "end"},
	}
	for _, e := range edges {
		if err := eng.AddEdge(e[0], e[1]); err != nil {
			return nil, err
		}
	}

	if err := eng.Compile(); err != nil {
		return nil, err
	}
	return eng, nil
}

func (o *Orchestrator) smartRouterNode() graph.Node {
	return graph.NewNode("smart_router", graph.KindDecision, func(_ context.Context, st *graph.State) graph.NodeResult {
		strategy := router.Decide(st.Query, st.BudgetRemaining, st.Quality, o.costs)
		st.SetIntermediate("strategy", strategy)
		return graph.Succeeded(map[string]interface{}{
			"skip_external":   strategy.SkipExternal,
			"use_primary":     strategy.UsePrimary,
			"use_enhancement": strategy.UseEnhancement,
			"max_fetches":     strategy.MaxFetches,
			"estimated_cost":  strategy.EstimatedCost,
			"rationale":       strategy.Rationale,
		})
	})
}

// routeAfterStrategy picks the branch after smart_router. A missing search
// provider forces the direct branch regardless of strategy.
func (o *Orchestrator) routeAfterStrategy(st *graph.State) string {
	s, ok := st.Intermediate["strategy"].(router.Strategy)
	if !ok || s.SkipExternal || o.services.Search == nil {
		return "direct"
	}
	return "external"
}

func (o *Orchestrator) braveSearchNode() graph.Node {
	return graph.NewNode("brave_search", graph.KindProcessing, func(ctx context.Context, st *graph.State) graph.NodeResult {
		maxResults := intermediateInt(st, "max_results", defaultSearchResults)
		key := cache.SearchKey(st.Query, maxResults)

		if raw, ok := o.services.Cache.Get(key); ok {
			var results []provider.Result
			if err := json.Unmarshal([]byte(raw), &results); err == nil {
				st.SetIntermediate("search_results", filterResults(results, st))
				st.SetIntermediate("search_cached", true)
				return graph.Succeeded(map[string]interface{}{
					"cached":       true,
					"result_count": len(results),
				})
			}
			o.logger.Warn("discarding undecodable search cache entry", "key", key)
		}

		results, err := o.services.Search.Search(ctx, st.Query, maxResults)
		appendProvider(st, o.services.Search.Name())
		if err != nil {
			// Provider failures degrade the run; synthesis will work with
			// whatever exists, which may be nothing.
			st.AppendWarning("brave_search", fmt.Sprintf("primary search failed: %v", err))
			o.logger.Warn("primary search failed",
				"correlation_id", st.CorrelationID, "error", err)
			st.SetIntermediate("search_results", []provider.Result{})
			return graph.Succeeded(map[string]interface{}{
				"cached":         false,
				"result_count":   0,
				"provider_error": err.Error(),
				"error_code":     CodeProviderFailure,
			})
		}

		if payload, err := json.Marshal(results); err == nil {
			o.services.Cache.Set(key, string(payload), searchCacheTTL)
		}
		st.SetIntermediate("search_results", filterResults(results, st))

		res := graph.Succeeded(map[string]interface{}{
			"cached":       false,
			"result_count": len(results),
		})
		res.Cost = o.services.Search.Cost()
		return res
	})
}

func (o *Orchestrator) contentEnhancementNode() graph.Node {
	return graph.NewNode("content_enhancement", graph.KindProcessing, func(ctx context.Context, st *graph.State) graph.NodeResult {
		strategy, _ := st.Intermediate["strategy"].(router.Strategy)
		results, _ := st.Intermediate["search_results"].([]provider.Result)
		if !strategy.UseEnhancement || strategy.MaxFetches <= 0 ||
			o.services.Scraper == nil || len(results) == 0 {
			return graph.Succeeded(map[string]interface{}{"enhanced": 0, "skipped": true})
		}

		var targets []int
		for i := range results {
			if len(targets) == strategy.MaxFetches {
				break
			}
			if results[i].URL != "" {
				targets = append(targets, i)
			}
		}
		planned := len(targets)
		for len(targets) > 0 && !st.WithinBudget(float64(len(targets))*o.costs.Enhancement) {
			targets = targets[:len(targets)-1]
		}
		if len(targets) < planned {
			st.AppendWarning("content_enhancement",
				fmt.Sprintf("enhancement reduced from %d to %d fetches to fit budget", planned, len(targets)))
		}
		if len(targets) == 0 {
			return graph.Succeeded(map[string]interface{}{"enhanced": 0, "skipped": true})
		}

		var mu sync.Mutex
		enhanced := 0
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxScrapeConcurrency)
		for _, idx := range targets {
			g.Go(func() error {
				text, err := o.services.Scraper.Scrape(gctx, results[idx].URL)
				if err != nil {
					o.logger.Warn("content enhancement fetch failed",
						"url", results[idx].URL, "error", err)
					return nil
				}
				mu.Lock()
				results[idx].Content = text
				enhanced++
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait() // workers never return errors; fetch failures are isolated

		st.SetIntermediate("search_results", results)
		appendProvider(st, "web_scraper")

		res := graph.Succeeded(map[string]interface{}{
			"enhanced":  enhanced,
			"attempted": len(targets),
			"failed":    len(targets) - enhanced,
		})
		res.Cost = float64(len(targets)) * o.costs.Enhancement
		return res
	})
}

func (o *Orchestrator) responseSynthesisNode() graph.Node {
	return graph.NewNode("response_synthesis", graph.KindProcessing, func(ctx context.Context, st *graph.State) graph.NodeResult {
		if st.BudgetRemaining <= 0 {
			res := graph.Failed("budget exhausted before synthesis", true)
			res.Data = map[string]interface{}{"error_code": CodeBudget}
			return res
		}

		results, _ := st.Intermediate["search_results"].([]provider.Result)
		out, err := o.services.Model.Generate(ctx, model.GenerateInput{
			TaskType: "qa-and-summary",
			Quality:  st.Quality,
			Prompt:   synthesisPrompt(st.Query, results),
			System:   synthesisSystemPrompt,
		})
		if err != nil {
			res := graph.Failed(fmt.Sprintf("response synthesis: %v", err), true)
			res.Data = map[string]interface{}{"error_code": classifyModelError(err)}
			return res
		}

		st.FinalResponse = out.Text
		res := graph.Succeeded(map[string]interface{}{
			"response_length": len(out.Text),
			"sources_used":    len(results),
		})
		res.Cost = out.Cost
		res.ModelUsed = out.Model
		res.ExecutionTime = out.Seconds
		res.Confidence = out.Confidence
		return res
	})
}

func (o *Orchestrator) directResponseNode() graph.Node {
	return graph.NewNode("direct_response", graph.KindProcessing, func(ctx context.Context, st *graph.State) graph.NodeResult {
		if st.BudgetRemaining <= 0 {
			res := graph.Failed("budget exhausted before direct response", true)
			res.Data = map[string]interface{}{"error_code": CodeBudget}
			return res
		}

		out, err := o.services.Model.Generate(ctx, model.GenerateInput{
			TaskType: "qa-and-summary",
			Quality:  st.Quality,
			Prompt:   st.Query,
			System: "You are a helpful assistant. Answer from your own knowledge; " +
				"external search is unavailable for this request.",
		})
		if err != nil {
			res := graph.Failed(fmt.Sprintf("direct response: %v", err), true)
			res.Data = map[string]interface{}{"error_code": classifyModelError(err)}
			return res
		}

		st.FinalResponse = out.Text
		res := graph.Succeeded(map[string]interface{}{
			"response_length": len(out.Text),
		})
		res.Cost = out.Cost
		res.ModelUsed = out.Model
		res.ExecutionTime = out.Seconds
		res.Confidence = out.Confidence
		return res
	})
}

// searchErrorHandlerNode degrades to a plain listing of whatever results were
// fetched, or to the generic fallback when there are none.
func (o *Orchestrator) searchErrorHandlerNode() graph.Node {
	return graph.NewNode("error_handler", graph.KindErrorHandler, func(_ context.Context, st *graph.State) graph.NodeResult {
		recovered := ""
		if n := len(st.Errors); n > 0 {
			recovered = st.Errors[n-1].Message
		}
		if st.FinalResponse == "" {
			if results, _ := st.Intermediate["search_results"].([]provider.Result); len(results) > 0 {
				st.FinalResponse = listingFallback(results)
			} else {
				st.FinalResponse = safeFallbackResponse
			}
		}
		o.logger.Warn("search run recovered with fallback response",
			"correlation_id", st.CorrelationID, "cause", recovered)
		return graph.Succeeded(map[string]interface{}{
			"fallback":       true,
			"recovered_from": recovered,
		})
	})
}

func listingFallback(results []provider.Result) string {
	var b strings.Builder
	b.WriteString("I couldn't synthesize a full answer, but these sources look relevant:\n")
	for i, r := range results {
		if i == 5 {
			break
		}
		fmt.Fprintf(&b, "- %s (%s)\n", r.Title, r.URL)
	}
	return b.String()
}

func synthesisPrompt(query string, results []provider.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nSearch results:\n", query)
	if len(results) == 0 {
		b.WriteString("(none available)\n")
	}
	for i, r := range results {
		if i == 5 {
			break
		}
		fmt.Fprintf(&b, "\n%d. %s\n   %s\n", i+1, r.Title, r.URL)
		body := r.Snippet
		if r.Content != "" {
			body = clipText(r.Content, 1200)
		}
		if body != "" {
			fmt.Fprintf(&b, "   %s\n", body)
		}
	}
	b.WriteString("\nAnswer the question using these results.")
	return b.String()
}

func clipText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// filterResults applies the request's domain and keyword filters. Filters
// are applied after caching so cached entries stay request-independent.
func filterResults(results []provider.Result, st *graph.State) []provider.Result {
	domains, _ := st.Intermediate["domains"].([]string)
	filters, _ := st.Intermediate["filters"].([]string)
	if len(domains) == 0 && len(filters) == 0 {
		return results
	}
	out := make([]provider.Result, 0, len(results))
	for _, r := range results {
		if len(domains) > 0 && !matchesDomain(r.URL, domains) {
			continue
		}
		if len(filters) > 0 && !mentionsAny(r, filters) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func matchesDomain(rawURL string, domains []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range domains {
		d = strings.ToLower(strings.TrimPrefix(d, "www."))
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func mentionsAny(r provider.Result, terms []string) bool {
	text := strings.ToLower(r.Title + " " + r.Snippet)
	for _, t := range terms {
		if strings.Contains(text, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

func appendProvider(st *graph.State, name string) {
	used, _ := st.Intermediate["providers_used"].([]string)
	st.SetIntermediate("providers_used", append(used, name))
}

func intermediateInt(st *graph.State, key string, def int) int {
	if v, ok := st.Intermediate[key].(int); ok && v > 0 {
		return v
	}
	return def
}
