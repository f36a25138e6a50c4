package model

import (
	"sync"
	"time"

	"github.com/anserhq/anser/graph"
)

// DefaultModel is the hardcoded last resort when the catalog is empty or no
// candidate survives filtering.
const DefaultModel = "llama2:7b-chat"

// defaultPreferred lists first-choice models per task type, in order. A
// preferred model only wins when it is in the catalog and its tier fits the
// requested quality.
var defaultPreferred = map[string][]string{
	"conversation": {"llama2:7b-chat", "phi:2.7b"},
	"question":     {"llama2:7b-chat", "mistral:7b"},
	"code":         {"codellama:13b", "deepseek-coder:6.7b"},
	"analysis":     {"llama2:13b", "mixtral:8x7b"},
	"creative":     {"llama2:13b-chat", "mistral:7b"},
	"request":      {"llama2:7b-chat", "phi:2.7b"},
}

// score ranks a model for selection: recent reliability dominates, then
// responsiveness, then how recently the model was exercised (warm models
// answer faster).
func score(stats Stats, now time.Time) float64 {
	sinceUse := now.Sub(stats.LastUsed).Seconds()
	if stats.LastUsed.IsZero() {
		sinceUse = 1e12 // never used: the recency term vanishes
	}
	return 0.4*stats.SuccessRate +
		0.3*(1.0/(stats.AvgResponseTime+1.0)) +
		0.3*(1.0/(sinceUse+1.0))
}

// qualityAdmits reports whether a tier may serve the requested quality.
func qualityAdmits(q graph.Quality, tier Tier) bool {
	switch q {
	case graph.QualityMinimal:
		return tier == TierFast
	case graph.QualityBalanced:
		return tier <= TierBalanced
	case graph.QualityHigh:
		return tier >= TierBalanced
	case graph.QualityPremium:
		return tier == TierPremium
	default:
		return true
	}
}

type selectionEntry struct {
	model   string
	expires time.Time
}

// selectionCache memoizes selection decisions per task/quality pair so
// repeated requests skip the scoring pass. Entries are validated against the
// live catalog before reuse.
type selectionCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]selectionEntry
}

func newSelectionCache(ttl time.Duration) *selectionCache {
	return &selectionCache{ttl: ttl, entries: make(map[string]selectionEntry)}
}

func (c *selectionCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expires) {
		delete(c.entries, key)
		return "", false
	}
	return e.model, true
}

func (c *selectionCache) put(key, model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = selectionEntry{model: model, expires: time.Now().Add(c.ttl)}
}

func (c *selectionCache) drop(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *selectionCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]selectionEntry)
}

// Select picks the model for a task at the requested quality.
//
// Resolution order: a cached decision whose model is still in the catalog,
// the first fitting entry in the preferred table, then the highest composite
// score among quality-admissible models (ties broken by ascending name). An
// empty catalog falls back to DefaultModel with an emergency log so a
// degraded service keeps answering.
func (m *Manager) Select(taskType string, quality graph.Quality) string {
	key := taskType + "|" + string(quality)
	if name, ok := m.selCache.get(key); ok {
		if m.Ready(name) {
			m.metrics.countSelection(name, "cache")
			return name
		}
		m.selCache.drop(key)
	}

	type candidate struct {
		name  string
		tier  Tier
		stats Stats
	}

	m.mu.RLock()
	candidates := make([]candidate, 0, len(m.catalog))
	for name, e := range m.catalog {
		if !e.info.Ready {
			continue
		}
		candidates = append(candidates, candidate{name: name, tier: e.info.Tier, stats: e.perf.snapshot()})
	}
	m.mu.RUnlock()

	if len(candidates) == 0 {
		m.logger.Warn("emergency fallback: model catalog is empty",
			"task", taskType, "quality", string(quality), "model", m.defaultModel)
		m.metrics.countSelection(m.defaultModel, "fallback")
		return m.defaultModel
	}

	byName := make(map[string]candidate, len(candidates))
	for _, c := range candidates {
		byName[c.name] = c
	}
	for _, name := range m.preferred[taskType] {
		if c, ok := byName[name]; ok && qualityAdmits(quality, c.tier) {
			m.selCache.put(key, name)
			m.metrics.countSelection(name, "preferred")
			return name
		}
	}

	admitted := candidates[:0]
	for _, c := range candidates {
		if qualityAdmits(quality, c.tier) {
			admitted = append(admitted, c)
		}
	}
	if len(admitted) == 0 {
		admitted = candidates
	}

	now := time.Now()
	best := admitted[0]
	bestScore := score(best.stats, now)
	for _, c := range admitted[1:] {
		s := score(c.stats, now)
		if s > bestScore || (s == bestScore && c.name < best.name) {
			best, bestScore = c, s
		}
	}
	m.selCache.put(key, best.name)
	m.metrics.countSelection(best.name, "scored")
	return best.name
}
