package model

import (
	"context"
	"strings"
	"time"
)

// Generator runs one completion. The Manager implements it over the local
// backend; the anthropic, openai, and google subpackages implement it over
// their provider APIs; Mux composes local and remote generators into one
// serving surface.
type Generator interface {
	Generate(ctx context.Context, in GenerateInput) (*GenerateOutput, error)
}

// Tier buckets models by capability and cost. Selection uses tiers to honor
// the requested quality level without hardcoding model names.
type Tier int

const (
	// TierFast is the small, cheap bucket for latency-sensitive work.
	TierFast Tier = iota
	// TierBalanced is the general-purpose bucket.
	TierBalanced
	// TierPremium is everything larger or unrecognized; assume capable and
	// expensive.
	TierPremium
)

func (t Tier) String() string {
	switch t {
	case TierFast:
		return "fast"
	case TierBalanced:
		return "balanced"
	case TierPremium:
		return "premium"
	default:
		return "unknown"
	}
}

// TierFor assigns a tier from the model name prefix. The phi family is the
// fast tier, llama2 variants are balanced, anything else is premium.
func TierFor(name string) Tier {
	switch {
	case strings.HasPrefix(name, "phi"):
		return TierFast
	case strings.HasPrefix(name, "llama2"):
		return TierBalanced
	default:
		return TierPremium
	}
}

// Info describes one model in the catalog.
type Info struct {
	Name          string
	Tier          Tier
	Size          int64
	Family        string
	ParameterSize string
	Ready         bool // present on the backend
	Loaded        bool // warmed into memory
}

// Stats is a read-only snapshot of one model's runtime performance.
type Stats struct {
	Calls           uint64
	Failures        uint64
	SuccessRate     float64
	AvgResponseTime float64 // EWMA, seconds
	AvgConfidence   float64
	LastUsed        time.Time
}

const (
	// ewmaAlpha weights new response-time samples against history.
	ewmaAlpha = 0.1
	// successWindow bounds how many recent outcomes feed the success rate.
	successWindow = 20
	// confidenceCap bounds the retained confidence samples per model.
	confidenceCap = 100
)

// perf accumulates runtime statistics for one model. Callers synchronize
// access; the manager guards all perf values behind its own mutex.
type perf struct {
	calls           uint64
	failures        uint64
	avgResponseTime float64
	outcomes        []bool
	confidences     []float64
	lastUsed        time.Time
}

func (p *perf) observe(seconds float64, success bool) {
	p.calls++
	if !success {
		p.failures++
	}
	if p.avgResponseTime == 0 {
		p.avgResponseTime = seconds
	} else {
		p.avgResponseTime = ewmaAlpha*seconds + (1-ewmaAlpha)*p.avgResponseTime
	}
	p.outcomes = append(p.outcomes, success)
	if len(p.outcomes) > successWindow {
		p.outcomes = p.outcomes[len(p.outcomes)-successWindow:]
	}
	p.lastUsed = time.Now()
}

func (p *perf) recordConfidence(score float64) {
	if score < 0 {
		score = 0
	} else if score > 1 {
		score = 1
	}
	p.confidences = append(p.confidences, score)
	if len(p.confidences) > confidenceCap {
		p.confidences = p.confidences[len(p.confidences)-confidenceCap:]
	}
}

// successRate is the share of successes in the recent window. A model with
// no history is treated as fully reliable so new models get a chance.
func (p *perf) successRate() float64 {
	if len(p.outcomes) == 0 {
		return 1.0
	}
	ok := 0
	for _, s := range p.outcomes {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(p.outcomes))
}

func (p *perf) avgConfidence() float64 {
	if len(p.confidences) == 0 {
		return 0
	}
	var sum float64
	for _, c := range p.confidences {
		sum += c
	}
	return sum / float64(len(p.confidences))
}

func (p *perf) snapshot() Stats {
	return Stats{
		Calls:           p.calls,
		Failures:        p.failures,
		SuccessRate:     p.successRate(),
		AvgResponseTime: p.avgResponseTime,
		AvgConfidence:   p.avgConfidence(),
		LastUsed:        p.lastUsed,
	}
}
