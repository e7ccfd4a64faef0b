package indicators

import (
	"fmt"
	"sync"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/vadiminshakov/btcagent/internal/domain"
)

const minContextCandles = 35

// MarketContext holds the trend and momentum summary for advisor prompts.
// It is descriptive only and never feeds the gates.
type MarketContext struct {
	EMA20      float64
	EMA50      float64
	MACD       float64
	MACDSignal float64
	RSI7       float64
	HasEMA50   bool
}

// CalculateContext computes the prompt context from closes.
func CalculateContext(candles []domain.Candle) (MarketContext, error) {
	if len(candles) < minContextCandles {
		return MarketContext{}, fmt.Errorf("not enough data points: need at least %d, got %d", minContextCandles, len(candles))
	}

	closes := Closes(candles)
	var ctx MarketContext

	ema20, ok := Last(computeEMA(closes, 20))
	if !ok {
		return MarketContext{}, fmt.Errorf("failed to calculate EMA20")
	}
	ctx.EMA20 = ema20

	if len(closes) >= 50 {
		ctx.EMA50, ctx.HasEMA50 = Last(computeEMA(closes, 50))
	}

	macd, signal := computeMACD(closes)
	ctx.MACD, _ = Last(macd)
	ctx.MACDSignal, _ = Last(signal)

	rsi := momentum.NewRsiWithPeriod[float64](7)
	ctx.RSI7, _ = Last(helper.ChanToSlice(rsi.Compute(helper.SliceToChan(closes))))

	return ctx, nil
}

func computeEMA(closes []float64, period int) []float64 {
	ema := trend.NewEmaWithPeriod[float64](period)
	return helper.ChanToSlice(ema.Compute(helper.SliceToChan(closes)))
}

func computeMACD(closes []float64) (macd, signal []float64) {
	m := trend.NewMacd[float64]()
	macdChan, signalChan := m.Compute(helper.SliceToChan(closes))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		signal = helper.ChanToSlice(signalChan)
	}()
	macd = helper.ChanToSlice(macdChan)
	wg.Wait()

	return macd, signal
}
