// Package guardrails implements the independent pass/fail risk checks run
// before any trade is executed.
package guardrails

import (
	"strings"
	"time"

	"github.com/vadiminshakov/btcagent/internal/domain"
)

// Context holds everything a gate may look at for one candidate trade.
// It is rebuilt every tick from the portfolio snapshot and the observation.
type Context struct {
	Now        time.Time
	Side       domain.Side
	Confidence float64
	SizeUSD    float64
	Price      float64
	// ATR latest ATR14; zero when unavailable.
	ATR       float64
	Regime    domain.RegimeLabel
	Portfolio domain.PortfolioState
}

// Equity returns the portfolio marked at the candidate price.
func (c Context) Equity() float64 {
	return c.Portfolio.Equity(c.Price)
}

// PnLToday returns realized plus unrealized PnL since the start of the UTC day.
func (c Context) PnLToday() float64 {
	if !c.Portfolio.IsCurrentDay(c.Now) || c.Portfolio.DayStartEquityUSD <= 0 {
		return 0
	}
	return c.Equity() - c.Portfolio.DayStartEquityUSD
}

// TradesToday returns the trade count for the current UTC day.
func (c Context) TradesToday() int {
	if !c.Portfolio.IsCurrentDay(c.Now) {
		return 0
	}
	return c.Portfolio.TradesToday
}

// BuySpendToday returns the buy notional for the current UTC day.
func (c Context) BuySpendToday() float64 {
	if !c.Portfolio.IsCurrentDay(c.Now) {
		return 0
	}
	return c.Portfolio.BuySpendTodayUSD
}

// Gate defines a named check. Sides restricts it to the listed sides; empty means all.
type Gate struct {
	Name  string
	Sides []domain.Side
	Check func(ctx Context) (passed bool, reason string)
}

// Applies reports whether the gate is relevant for side.
func (g Gate) Applies(side domain.Side) bool {
	if len(g.Sides) == 0 {
		return true
	}
	for _, s := range g.Sides {
		if s == side {
			return true
		}
	}
	return false
}

// Run evaluates the gate.
func (g Gate) Run(ctx Context) domain.GateResult {
	passed, reason := g.Check(ctx)
	return domain.GateResult{Gate: g.Name, Passed: passed, Reason: reason}
}

// Verdict holds the combined outcome of a gate stack.
type Verdict struct {
	Passed bool
	// Reason first failing reason, or "ok".
	Reason   string
	Results  []domain.GateResult
	Failures []domain.GateResult
}

// FailureReasons joins all failing reasons for logs.
func (v Verdict) FailureReasons() string {
	reasons := make([]string, 0, len(v.Failures))
	for _, f := range v.Failures {
		reasons = append(reasons, f.Gate+": "+f.Reason)
	}
	return strings.Join(reasons, "; ")
}

// Evaluate runs every applicable gate and collects all failures. The first
// failure, in stack order, is the verdict reason.
func Evaluate(ctx Context, gates []Gate) Verdict {
	v := Verdict{Passed: true, Reason: "ok"}

	for _, g := range gates {
		if !g.Applies(ctx.Side) {
			continue
		}

		res := g.Run(ctx)
		v.Results = append(v.Results, res)
		if res.Passed {
			continue
		}

		if v.Passed {
			v.Passed = false
			v.Reason = res.Reason
		}
		v.Failures = append(v.Failures, res)
	}

	return v
}
