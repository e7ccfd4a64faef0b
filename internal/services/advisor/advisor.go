// Package advisor produces raw trade decisions from an observation.
package advisor

import (
	"context"

	"github.com/vadiminshakov/btcagent/internal/domain"
)

// Input holds everything an advisor may look at.
type Input struct {
	Pair        domain.Pair
	Observation domain.Observation
	// Candles analysis series, ascending. Optional for rule-based advice.
	Candles []domain.Candle
	CashUSD float64
	BTC     float64
}

// Advisor returns an untrusted decision; callers must normalize it.
type Advisor interface {
	Name() string
	Ask(ctx context.Context, in Input) (domain.RawDecision, error)
}

const (
	oversoldRSI   = 32.0
	overboughtRSI = 70.0
)

// RuleAdvisor applies deterministic RSI rules. Used offline and as the default.
type RuleAdvisor struct {
	SizeUSD  float64
	StopATRK float64
}

// NewRuleAdvisor creates a rule advisor that suggests sizeUSD buys.
func NewRuleAdvisor(sizeUSD, stopATRK float64) *RuleAdvisor {
	return &RuleAdvisor{SizeUSD: sizeUSD, StopATRK: stopATRK}
}

// Name implements Advisor.
func (a *RuleAdvisor) Name() string { return "rules" }

// Ask implements Advisor.
func (a *RuleAdvisor) Ask(_ context.Context, in Input) (domain.RawDecision, error) {
	rsi := in.Observation.RSI14

	switch {
	case rsi < oversoldRSI:
		return domain.RawDecision{
			"state":        string(domain.StateDip),
			"action":       string(domain.ActionBuy),
			"confidence":   0.72,
			"size_usd":     a.SizeUSD,
			"stop_atr_k":   a.StopATRK,
			"reason_short": "RSI oversold",
			"risk_flags":   []any{"dip"},
		}, nil
	case rsi > overboughtRSI:
		return domain.RawDecision{
			"state":        string(domain.StatePeak),
			"action":       string(domain.ActionSell),
			"confidence":   0.68,
			"size_usd":     0.0,
			"stop_atr_k":   nil,
			"reason_short": "RSI overbought",
			"risk_flags":   []any{"peak"},
		}, nil
	default:
		return domain.RawDecision{
			"state":        string(domain.StateConsolidation),
			"action":       string(domain.ActionHold),
			"confidence":   0.55,
			"size_usd":     0.0,
			"stop_atr_k":   nil,
			"reason_short": "Neutral",
			"risk_flags":   []any{"chop"},
		}, nil
	}
}
