package anser

import (
	"fmt"
	"strings"

	"github.com/anserhq/anser/graph"
)

// Validation runs before any state is built or any collaborator is touched,
// so a rejected request incurs zero cost. Each check returns a Failure with
// CodeValidation; the caller stamps the correlation ID.

func validateQuery(query string, maxLen int) *Failure {
	if strings.TrimSpace(query) == "" {
		return &Failure{
			Code:        CodeValidation,
			Message:     "query must not be empty",
			Suggestions: []string{"provide a non-empty query"},
		}
	}
	if maxLen > 0 && len(query) > maxLen {
		return &Failure{
			Code:    CodeValidation,
			Message: fmt.Sprintf("query exceeds the maximum length of %d characters", maxLen),
			Suggestions: []string{
				"shorten the query",
				"split the request into smaller questions",
			},
		}
	}
	return nil
}

func validateQuality(q graph.Quality) *Failure {
	switch q {
	case "", graph.QualityMinimal, graph.QualityBalanced, graph.QualityHigh, graph.QualityPremium:
		return nil
	}
	return &Failure{
		Code:        CodeValidation,
		Message:     fmt.Sprintf("unknown quality %q", q),
		Suggestions: []string{"use one of: minimal, balanced, high, premium"},
	}
}

func validateBudget(name string, v float64) *Failure {
	if v < 0 {
		return &Failure{
			Code:        CodeValidation,
			Message:     fmt.Sprintf("%s must not be negative", name),
			Suggestions: []string{fmt.Sprintf("omit %s or set it to a positive value", name)},
		}
	}
	return nil
}

func validateChatRequest(req ChatRequest, maxQueryLen int) *Failure {
	if f := validateQuery(req.Query, maxQueryLen); f != nil {
		return f
	}
	if f := validateQuality(req.Quality); f != nil {
		return f
	}
	if f := validateBudget("max_cost", req.MaxCost); f != nil {
		return f
	}
	if f := validateBudget("max_time", req.MaxTime); f != nil {
		return f
	}
	switch req.Style {
	case "", "concise", "detailed":
	default:
		return &Failure{
			Code:        CodeValidation,
			Message:     fmt.Sprintf("unknown style %q", req.Style),
			Suggestions: []string{"use one of: concise, detailed"},
		}
	}
	return nil
}

func validateSearchRequest(req SearchRequest, maxQueryLen int) *Failure {
	if f := validateQuery(req.Query, maxQueryLen); f != nil {
		return f
	}
	if f := validateQuality(req.Quality); f != nil {
		return f
	}
	if f := validateBudget("budget", req.Budget); f != nil {
		return f
	}
	if req.MaxResults < 0 {
		return &Failure{
			Code:        CodeValidation,
			Message:     "max_results must not be negative",
			Suggestions: []string{"omit max_results to use the default"},
		}
	}
	switch req.SearchKind {
	case "", "web", "news", "academic":
	default:
		return &Failure{
			Code:        CodeValidation,
			Message:     fmt.Sprintf("unknown search kind %q", req.SearchKind),
			Suggestions: []string{"use one of: web, news, academic"},
		}
	}
	return nil
}

func validateResearchRequest(req ResearchRequest, maxQueryLen int) *Failure {
	if f := validateQuery(req.Question, maxQueryLen); f != nil {
		return f
	}
	switch req.Methodology {
	case "", MethodSystematic, MethodExploratory, MethodComparative, MethodMetaAnalysis:
	default:
		return &Failure{
			Code:        CodeValidation,
			Message:     fmt.Sprintf("unknown methodology %q", req.Methodology),
			Suggestions: []string{"use one of: systematic, exploratory, comparative, meta-analysis"},
		}
	}
	if req.DepthLevel < 0 || req.DepthLevel > 5 {
		return &Failure{
			Code:        CodeValidation,
			Message:     "depth_level must be between 1 and 5",
			Suggestions: []string{"omit depth_level to use the default of 2"},
		}
	}
	if f := validateBudget("cost_budget", req.CostBudget); f != nil {
		return f
	}
	if f := validateBudget("time_budget", req.TimeBudget); f != nil {
		return f
	}
	return nil
}
