package guardrails

import (
	"fmt"
	"math"
	"time"
)

const (
	minAdaptiveCooldown = 5 * time.Second
	maxAdaptiveCooldown = 60 * time.Second
	noATRCooldown       = 10 * time.Second

	// DefaultFlipConfDelta is the confidence rise that lets a side switch skip the cooldown.
	DefaultFlipConfDelta = 0.10
	confTolerance        = 1e-9
)

// AdaptiveCooldown returns clamp(atr/2, 5, 60) seconds. Calm markets cool down faster.
func AdaptiveCooldown(atr float64) time.Duration {
	if !(atr > 0) || math.IsInf(atr, 0) {
		return noATRCooldown
	}

	d := time.Duration(atr / 2 * float64(time.Second))
	if d < minAdaptiveCooldown {
		return minAdaptiveCooldown
	}
	if d > maxAdaptiveCooldown {
		return maxAdaptiveCooldown
	}
	return d
}

// FlipCooldown blocks trading inside the adaptive cooldown after the last trade,
// unless the side switches and confidence rose by at least confDelta.
func FlipCooldown(confDelta float64, allowSideSwitch bool) Gate {
	return Gate{Name: GateFlipCooldown, Check: func(ctx Context) (bool, string) {
		p := ctx.Portfolio
		if p.LastTradeTS == nil {
			return true, "ok"
		}

		cd := AdaptiveCooldown(ctx.ATR)
		elapsed := ctx.Now.Sub(*p.LastTradeTS)
		if elapsed < 0 {
			elapsed = 0
		}
		if elapsed >= cd {
			return true, "ok"
		}

		switched := p.LastSide != nil && *p.LastSide != ctx.Side
		if allowSideSwitch && switched && p.LastConf != nil &&
			ctx.Confidence >= *p.LastConf+confDelta-confTolerance {
			return true, fmt.Sprintf("flip %.2f>=%.2f+%.2f", ctx.Confidence, *p.LastConf, confDelta)
		}

		left := int((cd - elapsed).Seconds())
		return false, fmt.Sprintf("cooldown %ds left", left)
	}}
}
