package guardrails

import (
	"fmt"

	"github.com/vadiminshakov/btcagent/internal/domain"
)

// Thresholds defines the minimum confidence per regime and side.
type Thresholds struct {
	BullBuy  float64 `yaml:"bull_buy"`
	BullSell float64 `yaml:"bull_sell"`
	BearBuy  float64 `yaml:"bear_buy"`
	BearSell float64 `yaml:"bear_sell"`
	Chop     float64 `yaml:"chop"`
	// ChopSkip blocks every trade in chop regardless of confidence.
	ChopSkip bool `yaml:"chop_skip"`
}

// DefaultThresholds returns the literal default table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BullBuy:  0.65,
		BullSell: 0.80,
		BearBuy:  0.80,
		BearSell: 0.60,
		Chop:     0.75,
	}
}

// Required returns the minimum confidence for side in regime. ok is false when chop is skipped.
func (t Thresholds) Required(regime domain.RegimeLabel, side domain.Side) (float64, bool) {
	switch regime {
	case domain.RegimeBull:
		if side == domain.SideBuy {
			return t.BullBuy, true
		}
		return t.BullSell, true
	case domain.RegimeBear:
		if side == domain.SideSell {
			return t.BearSell, true
		}
		return t.BearBuy, true
	default:
		if t.ChopSkip {
			return 0, false
		}
		return t.Chop, true
	}
}

// RegimeGate requires regime-dependent confidence. Unknown labels are chop.
func RegimeGate(t Thresholds) Gate {
	return Gate{Name: GateRegime, Check: func(ctx Context) (bool, string) {
		label := ctx.Regime
		if label != domain.RegimeBull && label != domain.RegimeBear {
			label = domain.RegimeChop
		}

		req, ok := t.Required(label, ctx.Side)
		if !ok {
			return false, "chop-skip"
		}

		if label == domain.RegimeChop {
			return ctx.Confidence >= req, fmt.Sprintf("chop gate conf=%.2f/%.2f", ctx.Confidence, req)
		}

		if ctx.Confidence >= req {
			return true, fmt.Sprintf("%s-%s", label, sideWord(ctx.Side))
		}
		return false, fmt.Sprintf("%s gate: conf=%.2f/%.2f", label, ctx.Confidence, req)
	}}
}

func sideWord(s domain.Side) string {
	if s == domain.SideBuy {
		return "buy"
	}
	return "sell"
}
