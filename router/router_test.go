package router

import (
	"math"
	"testing"

	"github.com/anserhq/anser/graph"
)

func TestAnalyze(t *testing.T) {
	t.Run("complexity", func(t *testing.T) {
		cases := []struct {
			query string
			want  float64
		}{
			{"what time is it", 0.5},
			{"analyze the tradeoffs of goroutine pools", 0.8},
			{"Compare React and Vue", 0.8},
			{"comprehensive survey of consensus protocols", 0.8},
			{"I am researching nothing", 0.5}, // substring of a keyword does not count
		}
		for _, tc := range cases {
			if got := analyze(tc.query, 2026).Complexity; got != tc.want {
				t.Errorf("Complexity(%q) = %v, want %v", tc.query, got, tc.want)
			}
		}
	})

	t.Run("freshness", func(t *testing.T) {
		cases := []struct {
			query string
			want  bool
		}{
			{"latest AI news", true},
			{"what happened today", true},
			{"results for 2026", true},
			{"plans for 2027", true},
			{"history of 2020", false},
			{"how do channels work", false},
		}
		for _, tc := range cases {
			if got := analyze(tc.query, 2026).NeedsFreshness; got != tc.want {
				t.Errorf("NeedsFreshness(%q) = %v, want %v", tc.query, got, tc.want)
			}
		}
	})

	t.Run("kind", func(t *testing.T) {
		cases := []struct {
			query string
			want  QueryKind
		}{
			{"compare React and Vue", KindComparative},
			{"Postgres vs MySQL for analytics", KindComparative},
			{"how to deploy a Go binary", KindInstructional},
			{"kubernetes setup for beginners", KindInstructional},
			{"what is a goroutine", KindDefinitional},
			{"explain channels", KindDefinitional},
			{"best pizza nearby", KindGeneral},
			// comparative wins when rules overlap
			{"how to compare two files", KindComparative},
		}
		for _, tc := range cases {
			if got := analyze(tc.query, 2026).Kind; got != tc.want {
				t.Errorf("Kind(%q) = %v, want %v", tc.query, got, tc.want)
			}
		}
	})
}

func TestDecide(t *testing.T) {
	costs := Costs{PrimarySearch: 0.42, Enhancement: 0.08}

	t.Run("underfunded requests skip external calls", func(t *testing.T) {
		s := Decide("latest AI news", 0.001, graph.QualityBalanced, costs)
		if !s.SkipExternal || s.UsePrimary || s.UseEnhancement {
			t.Errorf("strategy = %+v, want the direct path", s)
		}
		if s.EstimatedCost != 0 {
			t.Errorf("EstimatedCost = %v, want 0", s.EstimatedCost)
		}
		if s.Rationale != "budget-constrained" {
			t.Errorf("Rationale = %q, want budget-constrained", s.Rationale)
		}
	})

	t.Run("budget exactly at primary cost buys primary only", func(t *testing.T) {
		s := Decide("best pizza nearby", 0.42, graph.QualityBalanced, costs)
		if s.SkipExternal || !s.UsePrimary || s.UseEnhancement {
			t.Errorf("strategy = %+v, want primary only", s)
		}
		if s.EstimatedCost != costs.PrimarySearch {
			t.Errorf("EstimatedCost = %v, want %v", s.EstimatedCost, costs.PrimarySearch)
		}
	})

	t.Run("budget just below primary cost takes the direct path", func(t *testing.T) {
		s := Decide("best pizza nearby", 0.419, graph.QualityBalanced, costs)
		if !s.SkipExternal {
			t.Errorf("strategy = %+v, want skip-external", s)
		}
	})

	t.Run("premium with headroom buys full enhancement", func(t *testing.T) {
		s := Decide("compare React and Vue", 5.0, graph.QualityPremium, costs)
		if !s.UsePrimary || !s.UseEnhancement || s.MaxFetches != 3 {
			t.Errorf("strategy = %+v, want 3 enhancement fetches", s)
		}
		want := costs.PrimarySearch + 3*costs.Enhancement
		if math.Abs(s.EstimatedCost-want) > 1e-9 {
			t.Errorf("EstimatedCost = %v, want %v", s.EstimatedCost, want)
		}
	})

	t.Run("premium without full headroom degrades to complexity rule", func(t *testing.T) {
		budget := costs.PrimarySearch + 2.5*costs.Enhancement
		s := Decide("analyze this codebase", budget, graph.QualityPremium, costs)
		if !s.UseEnhancement || s.MaxFetches != 2 {
			t.Errorf("strategy = %+v, want 2 enhancement fetches", s)
		}
	})

	t.Run("complex queries buy partial enhancement", func(t *testing.T) {
		s := Decide("detailed comparison of raft and paxos", 1.0, graph.QualityBalanced, costs)
		if !s.UsePrimary || !s.UseEnhancement || s.MaxFetches != 2 {
			t.Errorf("strategy = %+v, want 2 enhancement fetches", s)
		}
		want := costs.PrimarySearch + 2*costs.Enhancement
		if math.Abs(s.EstimatedCost-want) > 1e-9 {
			t.Errorf("EstimatedCost = %v, want %v", s.EstimatedCost, want)
		}
	})

	t.Run("complex query without enhancement headroom stays primary", func(t *testing.T) {
		budget := costs.PrimarySearch + costs.Enhancement // room for one fetch, rule needs two
		s := Decide("analyze everything", budget, graph.QualityBalanced, costs)
		if s.UseEnhancement || !s.UsePrimary {
			t.Errorf("strategy = %+v, want primary only", s)
		}
	})

	t.Run("simple queries stay primary regardless of budget", func(t *testing.T) {
		s := Decide("weather in Lisbon", 100.0, graph.QualityBalanced, costs)
		if s.UseEnhancement || !s.UsePrimary || s.SkipExternal {
			t.Errorf("strategy = %+v, want primary only", s)
		}
		if s.Rationale != "primary-only" {
			t.Errorf("Rationale = %q", s.Rationale)
		}
	})

	t.Run("decisions are deterministic", func(t *testing.T) {
		a := Decide("compare React and Vue", 5.0, graph.QualityPremium, costs)
		b := Decide("compare React and Vue", 5.0, graph.QualityPremium, costs)
		if a != b {
			t.Errorf("same inputs produced different strategies: %+v vs %+v", a, b)
		}
	})
}
