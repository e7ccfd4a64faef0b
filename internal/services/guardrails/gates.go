package guardrails

import (
	"fmt"
	"math"
	"time"

	"github.com/vadiminshakov/btcagent/internal/domain"
)

// Gate names.
const (
	GateGlobalPause    = "global_pause"
	GateMinConfidence  = "min_confidence"
	GateDailyTradeCap  = "daily_trade_cap"
	GatePositionLimit  = "position_limit"
	GateDailyLossCap   = "daily_loss_cap"
	GateCashFloor      = "cash_floor"
	GateDailyBuyBudget = "daily_buy_budget"
	GateSideCooldown   = "side_cooldown"
	GateFlipCooldown   = "flip_cooldown"
	GateRegime         = "regime"
)

var buyOnly = []domain.Side{domain.SideBuy}

// GlobalPause blocks everything while paused.
func GlobalPause(paused bool) Gate {
	return Gate{Name: GateGlobalPause, Check: func(Context) (bool, string) {
		if paused {
			return false, "global_pause_switch"
		}
		return true, "ok"
	}}
}

// MinConfidence blocks decisions below min.
func MinConfidence(min float64) Gate {
	return Gate{Name: GateMinConfidence, Check: func(ctx Context) (bool, string) {
		if ctx.Confidence < min {
			return false, fmt.Sprintf("conf %.2f < %.2f", ctx.Confidence, min)
		}
		return true, "ok"
	}}
}

// PositionLimit blocks buys once BTC exposure exceeds maxPct of equity.
func PositionLimit(maxPct float64) Gate {
	return Gate{Name: GatePositionLimit, Sides: buyOnly, Check: func(ctx Context) (bool, string) {
		equity := ctx.Equity()
		if equity <= 0 {
			return true, "no_equity_cap"
		}
		posVal := ctx.Portfolio.PositionValue(ctx.Price)
		if posVal > equity*maxPct/100 {
			return false, fmt.Sprintf("pos_cap %.2f > %.0f%% of equity", posVal, maxPct)
		}
		return true, "ok"
	}}
}

// LossCap defines the daily loss limits. AbsUSD takes priority; Pct applies to RefEquityUSD,
// or to the day-start equity when no reference is configured.
type LossCap struct {
	AbsUSD       float64
	Pct          float64
	RefEquityUSD float64
}

// DailyLossCap blocks buys once today's PnL breaches the configured cap.
func DailyLossCap(c LossCap) Gate {
	return Gate{Name: GateDailyLossCap, Sides: buyOnly, Check: func(ctx Context) (bool, string) {
		pnl := ctx.PnLToday()

		if c.AbsUSD > 0 {
			if pnl <= -c.AbsUSD {
				return false, fmt.Sprintf("hit_abs_cap:%.2f", c.AbsUSD)
			}
			return true, "abs_cap_ok"
		}

		ref := c.RefEquityUSD
		if ref <= 0 {
			ref = ctx.Portfolio.DayStartEquityUSD
		}
		if c.Pct > 0 && ref > 0 {
			if pnl < 0 && math.Abs(pnl) > c.Pct/100*ref {
				return false, fmt.Sprintf("hit_pct_cap:%.2f%%~%.2f", c.Pct, ref)
			}
			return true, "pct_cap_ok"
		}

		return true, "disabled"
	}}
}

// CashFloor blocks buys that would leave less than floor in cash.
func CashFloor(floor float64) Gate {
	return Gate{Name: GateCashFloor, Sides: buyOnly, Check: func(ctx Context) (bool, string) {
		post := ctx.Portfolio.CashUSD - ctx.SizeUSD
		if post < floor {
			return false, fmt.Sprintf("cash_floor: $%.2f after trade < $%.2f", post, floor)
		}
		return true, "ok"
	}}
}

// DailyBuyBudget blocks buys that push today's buy notional above limit.
func DailyBuyBudget(limit float64) Gate {
	return Gate{Name: GateDailyBuyBudget, Sides: buyOnly, Check: func(ctx Context) (bool, string) {
		spent := ctx.BuySpendToday()
		if spent+ctx.SizeUSD > limit {
			return false, fmt.Sprintf("daily buy cap: $%.0f/%.0f", spent, limit)
		}
		return true, "ok"
	}}
}

// SideCooldown blocks repeating the same side within cooldown. Zero disables it.
func SideCooldown(cooldown time.Duration) Gate {
	return Gate{Name: GateSideCooldown, Check: func(ctx Context) (bool, string) {
		last := ctx.Portfolio.LastSideTS(ctx.Side)
		if cooldown <= 0 || last == nil {
			return true, "ok"
		}
		elapsed := ctx.Now.Sub(*last)
		if elapsed < 0 {
			elapsed = 0
		}
		if elapsed < cooldown {
			return false, fmt.Sprintf("cooldown %s: %.1fm<%gm", ctx.Side, elapsed.Minutes(), cooldown.Minutes())
		}
		return true, "ok"
	}}
}

// DailyTradeCap blocks once the day's trade count reaches limit. Zero disables it.
func DailyTradeCap(limit int) Gate {
	return Gate{Name: GateDailyTradeCap, Check: func(ctx Context) (bool, string) {
		if limit <= 0 {
			return true, "cap disabled"
		}
		n := ctx.TradesToday()
		if n >= limit {
			return false, fmt.Sprintf("daily_cap reached (%d/%d)", n, limit)
		}
		return true, fmt.Sprintf("ok (%d/%d)", n, limit)
	}}
}
