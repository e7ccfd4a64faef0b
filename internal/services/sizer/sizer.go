// Package sizer turns a confidence into an order size with ATR protection levels.
package sizer

import (
	"math"

	"github.com/vadiminshakov/btcagent/internal/domain"
)

const qtyScale = 1e8

// Order represents a sized trade with protective levels.
type Order struct {
	Side       domain.Side
	SizeUSD    float64
	Stop       float64
	TakeProfit float64
	// ATR value used for the levels, after fallback.
	ATR float64
}

// Sizer maps confidence in [ConfLow, ConfHigh] linearly onto [KMin, 1] of MaxTradeUSD.
type Sizer struct {
	MaxTradeUSD float64
	MinTradeUSD float64
	ConfLow     float64
	ConfHigh    float64
	KMin        float64
	StopMult    float64
	TPMult      float64
	FallbackATR float64
}

// New returns a sizer with stock parameters and the given max trade.
func New(maxTradeUSD float64) Sizer {
	return Sizer{
		MaxTradeUSD: maxTradeUSD,
		MinTradeUSD: 10,
		ConfLow:     0.45,
		ConfHigh:    1,
		KMin:        0.2,
		StopMult:    1.2,
		TPMult:      1.8,
		FallbackATR: 50,
	}
}

// Scale returns the confidence multiplier k.
func (s Sizer) Scale(conf float64) float64 {
	span := s.ConfHigh - s.ConfLow
	if span <= 0 || math.IsNaN(conf) {
		return s.KMin
	}
	return clamp((conf-s.ConfLow)/span, s.KMin, 1)
}

// Build sizes an order for side at price.
func (s Sizer) Build(side domain.Side, price, conf, atr float64) Order {
	size := clamp(s.Scale(conf)*s.MaxTradeUSD, s.MinTradeUSD, s.MaxTradeUSD)

	if !(atr > 0) || math.IsInf(atr, 0) {
		atr = s.FallbackATR
	}

	o := Order{Side: side, SizeUSD: size, ATR: atr}
	if side == domain.SideBuy {
		o.Stop = price - s.StopMult*atr
		o.TakeProfit = price + s.TPMult*atr
	} else {
		o.Stop = price + s.StopMult*atr
		o.TakeProfit = price - s.TPMult*atr
	}

	return o
}

// CapSize returns the sizer size, lowered to the advisor's request when that is smaller.
func CapSize(sized, requested float64) float64 {
	if requested > 0 && requested < sized {
		return requested
	}
	return sized
}

// Quantity converts a USD size to BTC rounded to 8 decimals. Sells are capped at held.
func Quantity(side domain.Side, sizeUSD, price, held float64) float64 {
	if price <= 0 || sizeUSD <= 0 {
		return 0
	}

	qty := math.Round(sizeUSD/price*qtyScale) / qtyScale
	if side == domain.SideSell {
		qty = math.Min(qty, math.Max(held, 0))
	}
	return qty
}

func clamp(v, lo, hi float64) float64 {
	// hi wins when the bounds cross (max trade below the minimum)
	return math.Min(hi, math.Max(lo, v))
}
