package model

import (
	"testing"
	"time"

	"github.com/anserhq/anser/graph"
)

func catalogEntry(name string, stats perf) *entry {
	return &entry{
		info: Info{Name: name, Tier: TierFor(name), Ready: true},
		perf: stats,
	}
}

func managerWith(entries ...*entry) *Manager {
	m := NewManager(nil)
	for _, e := range entries {
		m.catalog[e.info.Name] = e
	}
	return m
}

func TestScoreMonotonicity(t *testing.T) {
	now := time.Now()
	base := Stats{SuccessRate: 0.5, AvgResponseTime: 2.0, LastUsed: now.Add(-time.Minute)}

	t.Run("reliability raises the score", func(t *testing.T) {
		better := base
		better.SuccessRate = 0.9
		if score(better, now) <= score(base, now) {
			t.Error("higher success rate must score higher")
		}
	})

	t.Run("speed raises the score", func(t *testing.T) {
		better := base
		better.AvgResponseTime = 0.5
		if score(better, now) <= score(base, now) {
			t.Error("lower response time must score higher")
		}
	})

	t.Run("recent use raises the score", func(t *testing.T) {
		better := base
		better.LastUsed = now.Add(-time.Second)
		if score(better, now) <= score(base, now) {
			t.Error("more recent use must score higher")
		}
	})

	t.Run("never used drops the recency term", func(t *testing.T) {
		neverUsed := Stats{SuccessRate: 1.0, AvgResponseTime: 0}
		got := score(neverUsed, now)
		// 0.4*1.0 + 0.3*1.0 + ~0
		if got < 0.699 || got > 0.701 {
			t.Errorf("score = %v, want ~0.7", got)
		}
	})
}

func TestQualityAdmits(t *testing.T) {
	cases := []struct {
		quality graph.Quality
		tier    Tier
		want    bool
	}{
		{graph.QualityMinimal, TierFast, true},
		{graph.QualityMinimal, TierBalanced, false},
		{graph.QualityBalanced, TierFast, true},
		{graph.QualityBalanced, TierBalanced, true},
		{graph.QualityBalanced, TierPremium, false},
		{graph.QualityHigh, TierFast, false},
		{graph.QualityHigh, TierBalanced, true},
		{graph.QualityHigh, TierPremium, true},
		{graph.QualityPremium, TierPremium, true},
		{graph.QualityPremium, TierBalanced, false},
	}
	for _, tc := range cases {
		if got := qualityAdmits(tc.quality, tc.tier); got != tc.want {
			t.Errorf("qualityAdmits(%s, %v) = %v, want %v", tc.quality, tc.tier, got, tc.want)
		}
	}
}

func TestSelect(t *testing.T) {
	t.Run("empty catalog falls back to the default model", func(t *testing.T) {
		m := managerWith()
		if got := m.Select("question", graph.QualityBalanced); got != DefaultModel {
			t.Errorf("Select = %q, want %q", got, DefaultModel)
		}
	})

	t.Run("preferred model wins when ready and admitted", func(t *testing.T) {
		m := managerWith(
			catalogEntry("llama2:7b-chat", perf{}),
			catalogEntry("phi:2.7b", perf{}),
		)
		if got := m.Select("conversation", graph.QualityBalanced); got != "llama2:7b-chat" {
			t.Errorf("Select = %q, want preferred llama2:7b-chat", got)
		}
	})

	t.Run("quality filter overrides preference", func(t *testing.T) {
		m := managerWith(
			catalogEntry("llama2:7b-chat", perf{}),
			catalogEntry("phi:2.7b", perf{}),
		)
		// Minimal quality only admits the fast tier, so the balanced
		// preferred model is skipped.
		if got := m.Select("conversation", graph.QualityMinimal); got != "phi:2.7b" {
			t.Errorf("Select = %q, want phi:2.7b", got)
		}
	})

	t.Run("scoring picks the stronger model", func(t *testing.T) {
		now := time.Now()
		strong := perf{avgResponseTime: 0.5, lastUsed: now}
		strong.outcomes = []bool{true, true, true, true}
		weak := perf{avgResponseTime: 4.0, lastUsed: now.Add(-time.Hour)}
		weak.outcomes = []bool{false, false, true, false}

		m := managerWith(
			catalogEntry("mistral:7b", weak),
			catalogEntry("mixtral:8x7b", strong),
		)
		// No preferred entry matches the "summarize" task, so scoring decides.
		if got := m.Select("summarize", graph.QualityPremium); got != "mixtral:8x7b" {
			t.Errorf("Select = %q, want mixtral:8x7b", got)
		}
	})

	t.Run("ties break by ascending name", func(t *testing.T) {
		m := managerWith(
			catalogEntry("zephyr:7b", perf{}),
			catalogEntry("mistral:7b", perf{}),
		)
		if got := m.Select("summarize", graph.QualityPremium); got != "mistral:7b" {
			t.Errorf("Select = %q, want mistral:7b on a tie", got)
		}
	})

	t.Run("decision is cached for the TTL", func(t *testing.T) {
		now := time.Now()
		strong := perf{avgResponseTime: 0.5, lastUsed: now}
		strong.outcomes = []bool{true, true}
		m := managerWith(
			catalogEntry("mistral:7b", strong),
			catalogEntry("zephyr:7b", perf{}),
		)

		first := m.Select("summarize", graph.QualityPremium)
		if first != "mistral:7b" {
			t.Fatalf("first Select = %q", first)
		}

		// Make the other model dominant; the cached decision must hold.
		z := m.catalog["zephyr:7b"]
		z.perf.avgResponseTime = 0.01
		z.perf.lastUsed = time.Now()
		z.perf.outcomes = []bool{true, true, true, true}

		if got := m.Select("summarize", graph.QualityPremium); got != first {
			t.Errorf("cached Select = %q, want %q", got, first)
		}

		m.selCache.invalidate()
		if got := m.Select("summarize", graph.QualityPremium); got != "zephyr:7b" {
			t.Errorf("Select after invalidation = %q, want zephyr:7b", got)
		}
	})

	t.Run("cached model gone from catalog forces reselection", func(t *testing.T) {
		m := managerWith(
			catalogEntry("mistral:7b", perf{}),
			catalogEntry("zephyr:7b", perf{}),
		)
		if got := m.Select("summarize", graph.QualityPremium); got != "mistral:7b" {
			t.Fatalf("first Select = %q", got)
		}

		delete(m.catalog, "mistral:7b")
		if got := m.Select("summarize", graph.QualityPremium); got != "zephyr:7b" {
			t.Errorf("Select after removal = %q, want zephyr:7b", got)
		}
	})

	t.Run("expired cache entries recompute", func(t *testing.T) {
		m := NewManager(nil, WithSelectionTTL(10*time.Millisecond))
		m.catalog["mistral:7b"] = catalogEntry("mistral:7b", perf{})

		if got := m.Select("summarize", graph.QualityPremium); got != "mistral:7b" {
			t.Fatalf("first Select = %q", got)
		}
		time.Sleep(20 * time.Millisecond)
		if got := m.Select("summarize", graph.QualityPremium); got != "mistral:7b" {
			t.Errorf("Select after expiry = %q, want mistral:7b", got)
		}
	})
}
