package model

import "sync"

// Rate is the cost of a model per 1M tokens, split by direction. Local
// models use nominal operational units rather than provider list prices, so
// budget math stays uniform whether a request runs locally or remotely.
type Rate struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Per-tier rates for models without an explicit entry.
var tierRates = map[Tier]Rate{
	TierFast:     {InputPer1M: 0.05, OutputPer1M: 0.10},
	TierBalanced: {InputPer1M: 0.25, OutputPer1M: 0.50},
	TierPremium:  {InputPer1M: 1.00, OutputPer1M: 2.00},
}

// Named overrides, remote provider models included. Remote rates follow the
// providers' published per-1M-token prices in USD.
var defaultRates = map[string]Rate{
	"gpt-4o":                     {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":                {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-3.5-turbo":              {InputPer1M: 0.50, OutputPer1M: 1.50},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},
	"gemini-1.5-pro":             {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":           {InputPer1M: 0.075, OutputPer1M: 0.30},
}

// Pricing resolves per-call costs from token counts. Safe for concurrent use.
type Pricing struct {
	mu    sync.RWMutex
	rates map[string]Rate
}

// NewPricing builds a table seeded with the default named rates.
func NewPricing() *Pricing {
	rates := make(map[string]Rate, len(defaultRates))
	for name, r := range defaultRates {
		rates[name] = r
	}
	return &Pricing{rates: rates}
}

// SetRate overrides the rate for one model.
func (p *Pricing) SetRate(name string, r Rate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rates[name] = r
}

// RateFor returns the model's rate, falling back to its tier's default.
func (p *Pricing) RateFor(name string) Rate {
	p.mu.RLock()
	r, ok := p.rates[name]
	p.mu.RUnlock()
	if ok {
		return r
	}
	return tierRates[TierFor(name)]
}

// CostFor computes the cost of one call from actual token counts.
func (p *Pricing) CostFor(name string, inputTokens, outputTokens int) float64 {
	r := p.RateFor(name)
	return float64(inputTokens)/1_000_000*r.InputPer1M +
		float64(outputTokens)/1_000_000*r.OutputPer1M
}

// Estimate predicts the cost of a call before it runs, given expected token
// counts. Used for budget gating ahead of generation.
func (p *Pricing) Estimate(name string, promptTokens, maxTokens int) float64 {
	return p.CostFor(name, promptTokens, maxTokens)
}
