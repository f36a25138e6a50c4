package model

import (
	"math"
	"testing"
	"time"
)

func TestTierFor(t *testing.T) {
	cases := []struct {
		name string
		want Tier
	}{
		{"phi:2.7b", TierFast},
		{"phi3:mini", TierFast},
		{"llama2:7b-chat", TierBalanced},
		{"llama2:13b", TierBalanced},
		{"mistral:7b", TierPremium},
		{"codellama:13b", TierPremium},
		{"mixtral:8x7b", TierPremium},
	}
	for _, tc := range cases {
		if got := TierFor(tc.name); got != tc.want {
			t.Errorf("TierFor(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestPerfResponseTimeEWMA(t *testing.T) {
	var p perf
	p.observe(1.0, true)
	if p.avgResponseTime != 1.0 {
		t.Fatalf("first sample avg = %v, want 1.0", p.avgResponseTime)
	}
	p.observe(2.0, true)
	// 0.1*2.0 + 0.9*1.0
	if math.Abs(p.avgResponseTime-1.1) > 1e-9 {
		t.Errorf("avg after second sample = %v, want 1.1", p.avgResponseTime)
	}
}

func TestPerfSuccessWindow(t *testing.T) {
	var p perf
	if p.successRate() != 1.0 {
		t.Errorf("empty window success rate = %v, want optimistic 1.0", p.successRate())
	}

	for i := 0; i < 10; i++ {
		p.observe(0.1, false)
	}
	if p.successRate() != 0 {
		t.Errorf("all-failure rate = %v, want 0", p.successRate())
	}

	// 20 successes push every failure out of the window.
	for i := 0; i < successWindow; i++ {
		p.observe(0.1, true)
	}
	if p.successRate() != 1.0 {
		t.Errorf("rate after window rollover = %v, want 1.0", p.successRate())
	}
	if len(p.outcomes) != successWindow {
		t.Errorf("window length = %d, want %d", len(p.outcomes), successWindow)
	}
	if p.calls != 30 || p.failures != 10 {
		t.Errorf("lifetime counters = %d/%d, want 30/10", p.calls, p.failures)
	}
}

func TestPerfConfidenceDeque(t *testing.T) {
	var p perf
	if p.avgConfidence() != 0 {
		t.Errorf("empty avgConfidence = %v, want 0", p.avgConfidence())
	}
	for i := 0; i < confidenceCap+20; i++ {
		p.recordConfidence(0.5)
	}
	if len(p.confidences) != confidenceCap {
		t.Errorf("deque length = %d, want cap %d", len(p.confidences), confidenceCap)
	}
	p.recordConfidence(1.7)
	p.recordConfidence(-3)
	last := p.confidences[len(p.confidences)-1]
	prev := p.confidences[len(p.confidences)-2]
	if prev != 1.0 || last != 0 {
		t.Errorf("clamping failed: prev=%v last=%v", prev, last)
	}
}

func TestPerfLastUsed(t *testing.T) {
	var p perf
	before := time.Now()
	p.observe(0.2, true)
	if p.lastUsed.Before(before) {
		t.Error("lastUsed not advanced by observe")
	}
}

func TestConfidenceFor(t *testing.T) {
	if got := confidenceFor(TierFast, "short answer", 10); got != 0.70 {
		t.Errorf("fast tier = %v, want 0.70", got)
	}
	if got := confidenceFor(TierBalanced, "long answer", 80); math.Abs(got-0.85) > 1e-9 {
		t.Errorf("balanced with long output = %v, want 0.85", got)
	}
	if got := confidenceFor(TierPremium, "   ", 0); math.Abs(got-0.55) > 1e-9 {
		t.Errorf("empty output = %v, want 0.55", got)
	}
}
