// Package router decides, per search request, which external calls are worth
// making. It is a pure function over the query text, the remaining budget,
// and the requested quality; it performs no I/O and holds no state, so the
// same inputs always produce the same strategy.
package router

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/anserhq/anser/graph"
)

// Costs carries the configured price of each external call class. Values come
// from configuration; the router never hardcodes prices.
type Costs struct {
	PrimarySearch float64
	Enhancement   float64
}

// QueryKind buckets a query by its surface form.
type QueryKind string

const (
	KindInstructional QueryKind = "instructional"
	KindDefinitional  QueryKind = "definitional"
	KindComparative   QueryKind = "comparative"
	KindGeneral       QueryKind = "general"
)

// Analysis is the router's read of one query.
type Analysis struct {
	Complexity     float64
	NeedsFreshness bool
	Kind           QueryKind
}

// Strategy is the routing decision for one search request.
type Strategy struct {
	UsePrimary     bool    `json:"use_primary"`
	UseEnhancement bool    `json:"use_enhancement"`
	MaxFetches     int     `json:"max_enhancement_fetches"`
	EstimatedCost  float64 `json:"estimated_cost"`
	Rationale      string  `json:"rationale"`
	SkipExternal   bool    `json:"skip_external"`
}

var complexityWords = map[string]bool{
	"analyze":       true,
	"compare":       true,
	"research":      true,
	"comprehensive": true,
	"detailed":      true,
}

var freshnessWords = map[string]bool{
	"recent":  true,
	"latest":  true,
	"current": true,
	"today":   true,
	"news":    true,
}

var comparativeWords = map[string]bool{
	"compare":    true,
	"vs":         true,
	"versus":     true,
	"difference": true,
	"better":     true,
}

var definitionalWords = map[string]bool{
	"define":     true,
	"definition": true,
	"meaning":    true,
	"explain":    true,
}

var instructionalWords = map[string]bool{
	"guide":    true,
	"tutorial": true,
	"steps":    true,
	"install":  true,
	"setup":    true,
}

// Analyze classifies a query's complexity, freshness need, and kind.
func Analyze(query string) Analysis {
	return analyze(query, time.Now().Year())
}

func analyze(query string, year int) Analysis {
	words := tokenize(query)
	lower := strings.ToLower(query)

	a := Analysis{Complexity: 0.5, Kind: KindGeneral}
	thisYear := strconv.Itoa(year)
	nextYear := strconv.Itoa(year + 1)
	for _, w := range words {
		if complexityWords[w] {
			a.Complexity = 0.8
		}
		if freshnessWords[w] || w == thisYear || w == nextYear {
			a.NeedsFreshness = true
		}
	}

	switch {
	case containsAnyWord(words, comparativeWords):
		a.Kind = KindComparative
	case strings.Contains(lower, "how to") || strings.Contains(lower, "how do") ||
		strings.Contains(lower, "how can") || containsAnyWord(words, instructionalWords):
		a.Kind = KindInstructional
	case strings.HasPrefix(lower, "what is") || strings.HasPrefix(lower, "what are") ||
		containsAnyWord(words, definitionalWords):
		a.Kind = KindDefinitional
	}
	return a
}

func tokenize(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsAnyWord(words []string, set map[string]bool) bool {
	for _, w := range words {
		if set[w] {
			return true
		}
	}
	return false
}

// Decide emits the search strategy for a query under the given budget and
// quality. Precedence: an underfunded request skips external calls entirely,
// premium quality with headroom buys full enhancement, a complex query with
// headroom buys partial enhancement, anything else gets the primary search
// alone.
func Decide(query string, budget float64, quality graph.Quality, costs Costs) Strategy {
	a := Analyze(query)

	switch {
	case budget < costs.PrimarySearch:
		return Strategy{
			SkipExternal:  true,
			EstimatedCost: 0,
			Rationale:     "budget-constrained",
		}
	case quality == graph.QualityPremium && budget >= costs.PrimarySearch+3*costs.Enhancement:
		return Strategy{
			UsePrimary:     true,
			UseEnhancement: true,
			MaxFetches:     3,
			EstimatedCost:  costs.PrimarySearch + 3*costs.Enhancement,
			Rationale:      "premium-enhancement",
		}
	case a.Complexity > 0.7 && budget >= costs.PrimarySearch+2*costs.Enhancement:
		return Strategy{
			UsePrimary:     true,
			UseEnhancement: true,
			MaxFetches:     2,
			EstimatedCost:  costs.PrimarySearch + 2*costs.Enhancement,
			Rationale:      fmt.Sprintf("complex-%s-query", a.Kind),
		}
	default:
		return Strategy{
			UsePrimary:    true,
			EstimatedCost: costs.PrimarySearch,
			Rationale:     "primary-only",
		}
	}
}
