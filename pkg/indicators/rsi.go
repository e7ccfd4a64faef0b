package indicators

import (
	"math"

	"github.com/vadiminshakov/btcagent/internal/domain"
)

// lossFloor replaces a zero average loss so RS stays finite.
const lossFloor = 1e-12

// RSI computes the relative strength index from close-to-close deltas, using a simple
// rolling mean of gains and losses over period. Warm-up entries are NaN.
func RSI(candles []domain.Candle, period int) []float64 {
	out := make([]float64, len(candles))
	for i := range out {
		out[i] = math.NaN()
	}
	if period < 1 || len(candles) <= period {
		return out
	}

	gains := make([]float64, len(candles))
	losses := make([]float64, len(candles))
	for i := 1; i < len(candles); i++ {
		delta := candles[i].Close - candles[i-1].Close
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}

	for i := period; i < len(candles); i++ {
		var gainSum, lossSum float64
		for j := i - period + 1; j <= i; j++ {
			gainSum += gains[j]
			lossSum += losses[j]
		}

		avgGain := gainSum / float64(period)
		avgLoss := lossSum / float64(period)
		if avgLoss == 0 {
			avgLoss = lossFloor
		}

		out[i] = 100 - 100/(1+avgGain/avgLoss)
	}

	return out
}

// LastRSI returns the latest RSI value, or a neutral 50 when not computable.
func LastRSI(candles []domain.Candle, period int) (float64, bool) {
	v, ok := Last(RSI(candles, period))
	if !ok {
		return 50, false
	}
	return v, true
}
