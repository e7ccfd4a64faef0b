package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/btcagent/internal/domain"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func candlesHLC(highs, lows, closes []float64) []domain.Candle {
	out := make([]domain.Candle, len(closes))
	for i := range closes {
		out[i] = domain.Candle{
			Time:  t0.Add(time.Duration(i) * time.Minute),
			Open:  closes[i],
			High:  highs[i],
			Low:   lows[i],
			Close: closes[i],
		}
	}
	return out
}

func candlesFromCloses(closes []float64) []domain.Candle {
	highs := make([]float64, len(closes))
	lows := make([]float64, len(closes))
	for i, c := range closes {
		highs[i] = c + 1
		lows[i] = c - 1
	}
	return candlesHLC(highs, lows, closes)
}

func sampleCandles() []domain.Candle {
	return candlesHLC(
		[]float64{10, 11, 12, 11.5, 13, 12.5, 14, 13, 15, 14.5},
		[]float64{9, 9.5, 10.5, 10, 11, 11.5, 12, 12, 13, 13.5},
		[]float64{9.5, 10.5, 11.5, 10.5, 12.5, 12, 13.5, 12.5, 14.5, 14},
	)
}

func TestATR(t *testing.T) {
	t.Run("wilder smoothing", func(t *testing.T) {
		atr, ok := ATR(sampleCandles(), 3)
		require.True(t, ok)
		assert.InDelta(t, 1.6159122085048014, atr, 1e-12)
	})

	t.Run("constant range", func(t *testing.T) {
		closes := make([]float64, 30)
		for i := range closes {
			closes[i] = 100
		}
		atr, ok := ATR(candlesFromCloses(closes), 14)
		require.True(t, ok)
		assert.InDelta(t, 2.0, atr, 1e-12)
	})

	t.Run("needs period+2 bars", func(t *testing.T) {
		_, ok := ATR(sampleCandles()[:4], 3)
		assert.False(t, ok)
		_, ok = ATR(sampleCandles()[:5], 3)
		assert.True(t, ok)
	})

	t.Run("deterministic", func(t *testing.T) {
		a, _ := ATR(sampleCandles(), 3)
		b, _ := ATR(sampleCandles(), 3)
		assert.Equal(t, a, b)
	})
}

func TestRSI(t *testing.T) {
	t.Run("rolling mean", func(t *testing.T) {
		rsi := RSI(sampleCandles(), 3)
		require.Len(t, rsi, 10)
		for i := 0; i < 3; i++ {
			assert.True(t, math.IsNaN(rsi[i]), "warm-up index %d", i)
		}
		assert.InDelta(t, 57.14285714285714, rsi[9], 1e-9)
	})

	t.Run("only gains saturate near 100", func(t *testing.T) {
		closes := make([]float64, 20)
		for i := range closes {
			closes[i] = float64(100 + i)
		}
		v, ok := LastRSI(candlesFromCloses(closes), 14)
		require.True(t, ok)
		assert.Greater(t, v, 99.99)
	})

	t.Run("only losses go to zero", func(t *testing.T) {
		closes := make([]float64, 20)
		for i := range closes {
			closes[i] = float64(100 - i)
		}
		v, ok := LastRSI(candlesFromCloses(closes), 14)
		require.True(t, ok)
		assert.InDelta(t, 0.0, v, 1e-9)
	})

	t.Run("alternating is neutral", func(t *testing.T) {
		closes := make([]float64, 30)
		for i := range closes {
			closes[i] = 100 + float64(i%2)
		}
		v, ok := LastRSI(candlesFromCloses(closes), 14)
		require.True(t, ok)
		assert.InDelta(t, 50.0, v, 1e-9)
	})

	t.Run("not enough data", func(t *testing.T) {
		v, ok := LastRSI(sampleCandles()[:3], 14)
		assert.False(t, ok)
		assert.Equal(t, 50.0, v)
	})
}

func TestEMA(t *testing.T) {
	assert.Equal(t, []float64{1, 1.5, 2.25}, EMA([]float64{1, 2, 3}, 3))
	assert.Empty(t, EMA(nil, 10))
}

func TestADX(t *testing.T) {
	t.Run("monotonic rise is a strong trend", func(t *testing.T) {
		closes := make([]float64, 40)
		for i := range closes {
			closes[i] = 100 + float64(i)*2
		}
		adx, ok := ADX(candlesFromCloses(closes), 14)
		require.True(t, ok)
		assert.Greater(t, adx, 99.0)
	})

	t.Run("flat series has no direction", func(t *testing.T) {
		closes := make([]float64, 40)
		for i := range closes {
			closes[i] = 100
		}
		_, ok := ADX(candlesFromCloses(closes), 14)
		assert.False(t, ok)
	})

	t.Run("short history", func(t *testing.T) {
		_, ok := ADX(sampleCandles(), 14)
		assert.False(t, ok)
	})
}

func TestResampleHourly(t *testing.T) {
	at := func(d time.Duration, o, h, l, c, v float64) domain.Candle {
		return domain.Candle{Time: t0.Add(d), Open: o, High: h, Low: l, Close: c, Volume: v}
	}

	in := []domain.Candle{
		at(61*time.Minute, 5, 6, 4, 5.5, 1),
		at(0, 1, 2, 0.5, 1.5, 1),
		at(time.Minute, 2, 3, 1, 2.5, 2),
		at(30*time.Minute, 2.5, 4, 2, 3, 3),
		at(60*time.Minute, 3, 3.5, 0.2, 3.2, 4),
	}

	out := ResampleHourly(in)
	require.Len(t, out, 3)

	assert.Equal(t, t0, out[0].Time)
	assert.Equal(t, 1.5, out[0].Close)

	hour := out[1]
	assert.Equal(t, t0.Add(time.Hour), hour.Time)
	assert.Equal(t, 2.0, hour.Open)
	assert.Equal(t, 4.0, hour.High)
	assert.Equal(t, 0.2, hour.Low)
	assert.Equal(t, 3.2, hour.Close)
	assert.Equal(t, 9.0, hour.Volume)

	assert.Equal(t, t0.Add(2*time.Hour), out[2].Time)
	assert.Nil(t, ResampleHourly(nil))
}

func TestCalculateContext(t *testing.T) {
	closes := make([]float64, 80)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}

	ctx, err := CalculateContext(candlesFromCloses(closes))
	require.NoError(t, err)
	assert.Greater(t, ctx.EMA20, ctx.EMA50)
	assert.True(t, ctx.HasEMA50)
	assert.Greater(t, ctx.MACD, 0.0)

	_, err = CalculateContext(candlesFromCloses(closes[:10]))
	assert.Error(t, err)
}
