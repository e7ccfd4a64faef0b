// Package normalizer coerces untrusted advisor output into a domain.Decision.
// Normalize never fails: anything it cannot use is replaced by a safe default.
package normalizer

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vadiminshakov/btcagent/internal/domain"
)

const (
	maxReasonRunes = 120

	dipRSI  = 32.0
	peakRSI = 70.0

	trendConfidence   = 0.66
	neutralConfidence = 0.55
)

// Defaults holds the values used when the advisor omits a field.
type Defaults struct {
	SizeUSD  float64
	StopATRK float64
}

// DefaultDefaults returns the stock fallbacks.
func DefaultDefaults() Defaults {
	return Defaults{SizeUSD: 300, StopATRK: 1.3}
}

// Normalize maps raw onto a valid Decision. obs supplies the RSI used to infer
// a missing state.
func Normalize(raw domain.RawDecision, obs domain.Observation, defaults Defaults) domain.Decision {
	state := normalizeState(raw, obs.RSI14)
	action := normalizeAction(raw, state)

	return domain.Decision{
		State:      state,
		Action:     action,
		Confidence: normalizeConfidence(raw, state),
		SizeUSD:    normalizeSize(raw, defaults.SizeUSD),
		StopATRK:   normalizeStopK(raw, defaults.StopATRK),
		Reason:     normalizeReason(raw, state, action),
		RiskFlags:  normalizeFlags(raw, state),
	}
}

// ParseRaw extracts a RawDecision from free-form text. Unparseable input
// yields an empty decision.
func ParseRaw(text string) domain.RawDecision {
	raw, err := domain.ParseRawDecision(text)
	if err != nil || raw == nil {
		return domain.RawDecision{}
	}
	return raw
}

// InferState classifies by RSI alone.
func InferState(rsi float64) domain.MarketState {
	switch {
	case rsi < dipRSI:
		return domain.StateDip
	case rsi > peakRSI:
		return domain.StatePeak
	default:
		return domain.StateConsolidation
	}
}

// InferAction is the natural action for state.
func InferAction(state domain.MarketState) domain.Action {
	switch state {
	case domain.StateDip:
		return domain.ActionBuy
	case domain.StatePeak:
		return domain.ActionSell
	default:
		return domain.ActionHold
	}
}

// Violations lists the ways raw departs from the strict decision shape.
// Used for logging only; Normalize handles every case.
func Violations(raw domain.RawDecision) []string {
	var out []string

	for _, key := range []string{"state", "action", "confidence"} {
		if _, ok := raw[key]; !ok {
			out = append(out, "missing "+key)
		}
	}

	if v, ok := raw["state"].(string); ok {
		if _, valid := domain.ParseMarketState(v); !valid {
			out = append(out, fmt.Sprintf("invalid state %q", v))
		}
	}
	if v, ok := raw["action"].(string); ok {
		if _, valid := domain.ParseAction(v); !valid {
			out = append(out, fmt.Sprintf("invalid action %q", v))
		}
	}
	if v, ok := raw["confidence"]; ok {
		if f, isNum := v.(float64); !isNum || f < 0 || f > 1 {
			out = append(out, fmt.Sprintf("confidence %v not a number in [0, 1]", v))
		}
	}

	known := map[string]bool{
		"state": true, "action": true, "confidence": true, "size_usd": true,
		"stop_atr_k": true, "reason_short": true, "risk_flags": true,
	}
	for key := range raw {
		if !known[key] {
			out = append(out, "unexpected field "+key)
		}
	}

	return out
}

func normalizeState(raw domain.RawDecision, rsi float64) domain.MarketState {
	for _, key := range []string{"state", "regime"} {
		if s, ok := raw[key].(string); ok {
			if st, valid := domain.ParseMarketState(s); valid {
				return st
			}
		}
	}

	if math.IsNaN(rsi) {
		rsi = 50
	}
	return InferState(rsi)
}

func normalizeAction(raw domain.RawDecision, state domain.MarketState) domain.Action {
	if s, ok := raw["action"].(string); ok {
		if a, valid := domain.ParseAction(s); valid {
			return a
		}
	}
	return InferAction(state)
}

func normalizeConfidence(raw domain.RawDecision, state domain.MarketState) float64 {
	conf, ok := number(raw["confidence"])
	if !ok {
		if state == domain.StatePeak || state == domain.StateDip {
			return trendConfidence
		}
		return neutralConfidence
	}
	return math.Max(0, math.Min(1, conf))
}

func normalizeSize(raw domain.RawDecision, fallback float64) float64 {
	size, ok := number(raw["size_usd"])
	if !ok || math.IsInf(size, 0) || size < 0 {
		return fallback
	}
	return size
}

func normalizeStopK(raw domain.RawDecision, fallback float64) *float64 {
	v, present := raw["stop_atr_k"]
	if present && v == nil {
		return nil
	}

	k, ok := number(v)
	if !ok || math.IsInf(k, 0) {
		k = fallback
	}
	return &k
}

func normalizeReason(raw domain.RawDecision, state domain.MarketState, action domain.Action) string {
	for _, key := range []string{"reason_short", "reason"} {
		if s, ok := raw[key].(string); ok && strings.TrimSpace(s) != "" {
			return truncateRunes(strings.TrimSpace(s), maxReasonRunes)
		}
	}
	return fmt.Sprintf("%s → %s", state, action)
}

func normalizeFlags(raw domain.RawDecision, state domain.MarketState) []string {
	switch v := raw["risk_flags"].(type) {
	case []string:
		return append([]string{}, v...)
	case []any:
		flags := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return []string{string(state)}
			}
			flags = append(flags, s)
		}
		return flags
	}
	return []string{string(state)}
}

// number accepts JSON numbers, Go numerics and numeric strings. NaN is rejected.
func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
