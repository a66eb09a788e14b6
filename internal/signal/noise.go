package signal

import (
	"context"
	"strings"
)

// VerdictKind discriminates noise filter outcomes.
type VerdictKind string

const (
	VerdictSignal    VerdictKind = "signal"
	VerdictNoise     VerdictKind = "noise"
	VerdictUncertain VerdictKind = "uncertain"
)

// Noise reasons.
const (
	ReasonEmpty     = "empty"
	ReasonTooShort  = "too_short"
	ReasonGreeting  = "greeting"
	ReasonLowWeight = "low_weight"
)

// Verdict is the tagged result of noise filtering.
type Verdict struct {
	Kind   VerdictKind `json:"kind"`
	Weight float64     `json:"weight,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

// Noise filter weight bands.
const (
	noiseBelow  = 0.3
	signalAbove = 0.6
)

// Filter produces {signal, noise, uncertain} verdicts over classified
// weight. It is instrumentation, not a gate: the agent loop processes
// noise as low-weight signal.
type Filter struct {
	llm LLM // tier 2; nil = pass uncertain through as signal
}

// NewFilter creates a noise filter. llm may be nil.
func NewFilter(llm LLM) *Filter {
	return &Filter{llm: llm}
}

// Filter runs tier 1 (deterministic) and, for uncertain outcomes, tier 2.
func (f *Filter) Filter(ctx context.Context, text string, sig Signal) Verdict {
	v := tier1(text, sig)
	if v.Kind != VerdictUncertain {
		return v
	}
	return f.tier2(ctx, text, v)
}

// tier1 is the deterministic sub-millisecond filter.
func tier1(text string, sig Signal) Verdict {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Verdict{Kind: VerdictNoise, Reason: ReasonEmpty}
	}
	if len(trimmed) < 3 {
		return Verdict{Kind: VerdictNoise, Reason: ReasonTooShort}
	}
	lower := strings.ToLower(trimmed)
	for _, p := range greetingPatterns {
		if p.MatchString(lower) {
			return Verdict{Kind: VerdictNoise, Reason: ReasonGreeting}
		}
	}

	switch {
	case sig.Weight < noiseBelow:
		return Verdict{Kind: VerdictNoise, Weight: sig.Weight, Reason: ReasonLowWeight}
	case sig.Weight < signalAbove:
		return Verdict{Kind: VerdictUncertain, Weight: sig.Weight}
	default:
		return Verdict{Kind: VerdictSignal, Weight: sig.Weight}
	}
}

// tier2 is the LLM escalation for uncertain tier-1 outcomes. Without an
// LLM configured, uncertain passes through as signal at the tier-1 weight.
func (f *Filter) tier2(_ context.Context, _ string, v Verdict) Verdict {
	if f.llm == nil {
		return Verdict{Kind: VerdictSignal, Weight: v.Weight}
	}
	// Semantics beyond pass-through are deliberately unspecified; keep the
	// conservative behavior even when a small model is configured.
	return Verdict{Kind: VerdictSignal, Weight: v.Weight}
}
