package indicators

import (
	"math"

	"github.com/vadiminshakov/btcagent/internal/domain"
)

// TrueRange returns the true range per bar. The first bar has no previous close and uses high-low.
func TrueRange(candles []domain.Candle) []float64 {
	tr := make([]float64, len(candles))
	for i, c := range candles {
		if i == 0 {
			tr[i] = c.High - c.Low
			continue
		}
		prevClose := candles[i-1].Close
		tr[i] = math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
	}
	return tr
}

// ATR Wilder-smoothed average true range of the latest bar.
// The seed is the mean of TR[1..period]; ok is false with fewer than period+2 bars.
func ATR(candles []domain.Candle, period int) (float64, bool) {
	if period < 1 || len(candles) < period+2 {
		return 0, false
	}

	tr := TrueRange(candles)
	alpha := 1.0 / float64(period)

	var seed float64
	for _, v := range tr[1 : period+1] {
		seed += v
	}
	atr := seed / float64(period)

	for i := period + 1; i < len(tr); i++ {
		atr = (1-alpha)*atr + alpha*tr[i]
	}

	if math.IsNaN(atr) || math.IsInf(atr, 0) {
		return 0, false
	}

	return atr, true
}
