package indicators

import (
	"math"

	"github.com/vadiminshakov/btcagent/internal/domain"
)

// ADX returns the average directional index of the latest bar. +DM, -DM and TR are smoothed
// recursively with alpha = 1/period from the first bar; bars whose +DI/-DI sum is
// zero produce no DX and are skipped. ok is false with fewer than period+2 bars or
// when no DX value was defined.
func ADX(candles []domain.Candle, period int) (float64, bool) {
	n := len(candles)
	if period < 1 || n < period+2 {
		return 0, false
	}

	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := candles[i].High - candles[i-1].High
		down := candles[i-1].Low - candles[i].Low
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	alpha := 1.0 / float64(period)
	atr := smooth(TrueRange(candles), alpha)
	plus := smooth(plusDM, alpha)
	minus := smooth(minusDM, alpha)

	var (
		adx    float64
		seeded bool
	)
	for i := 0; i < n; i++ {
		if atr[i] <= 0 {
			continue
		}
		plusDI := plus[i] / atr[i] * 100
		minusDI := minus[i] / atr[i] * 100
		denom := plusDI + minusDI
		if denom == 0 || math.IsNaN(denom) {
			continue
		}
		dx := math.Abs(plusDI-minusDI) / denom * 100

		if !seeded {
			adx, seeded = dx, true
			continue
		}
		adx = (1-alpha)*adx + alpha*dx
	}

	if !seeded {
		return 0, false
	}

	return adx, true
}
