// Package indicators provides deterministic technical indicators (ATR, RSI, EMA, ADX)
// and hourly resampling over canonical candles.
package indicators

import "math"

// EMA computes the recursive exponential moving average with alpha = 2/(span+1),
// seeded with the first value. Output has the same length as values.
func EMA(values []float64, span int) []float64 {
	if span < 1 {
		span = 1
	}
	return smooth(values, 2.0/float64(span+1))
}

// smooth applies value[i] = (1-alpha)*prev + alpha*x[i] starting from x[0].
func smooth(values []float64, alpha float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}

	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = (1-alpha)*out[i-1] + alpha*values[i]
	}

	return out
}

// Last returns the last finite value of series.
func Last(series []float64) (float64, bool) {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i], true
		}
	}
	return 0, false
}
