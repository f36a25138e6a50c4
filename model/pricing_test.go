package model

import (
	"math"
	"testing"
)

func TestPricingCostFor(t *testing.T) {
	p := NewPricing()

	t.Run("named rate", func(t *testing.T) {
		// gpt-4o: 2.50 in, 10.00 out per 1M.
		got := p.CostFor("gpt-4o", 1000, 500)
		want := 0.0025 + 0.005
		if math.Abs(got-want) > 1e-12 {
			t.Errorf("CostFor = %v, want %v", got, want)
		}
	})

	t.Run("tier fallback", func(t *testing.T) {
		fast := p.CostFor("phi:2.7b", 1000, 1000)
		balanced := p.CostFor("llama2:7b-chat", 1000, 1000)
		premium := p.CostFor("mixtral:8x7b", 1000, 1000)
		if !(fast < balanced && balanced < premium) {
			t.Errorf("tier ordering violated: fast=%v balanced=%v premium=%v", fast, balanced, premium)
		}
	})

	t.Run("override", func(t *testing.T) {
		p.SetRate("llama2:7b-chat", Rate{InputPer1M: 10, OutputPer1M: 20})
		got := p.CostFor("llama2:7b-chat", 1_000_000, 1_000_000)
		if math.Abs(got-30) > 1e-9 {
			t.Errorf("CostFor after override = %v, want 30", got)
		}
	})

	t.Run("zero tokens cost nothing", func(t *testing.T) {
		if got := p.CostFor("phi:2.7b", 0, 0); got != 0 {
			t.Errorf("CostFor(0,0) = %v, want 0", got)
		}
	})
}
