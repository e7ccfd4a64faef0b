package regime

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/btcagent/internal/domain"
)

var start = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func series(n int, step time.Duration, price func(i int) float64) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		p := price(i)
		out[i] = domain.Candle{
			Time:  start.Add(time.Duration(i) * step),
			Open:  p,
			High:  p * 1.0005,
			Low:   p * 0.9995,
			Close: p,
		}
	}
	return out
}

func TestDetect(t *testing.T) {
	d := NewDetector()

	tests := []struct {
		name    string
		candles []domain.Candle
		label   domain.RegimeLabel
		reason  string
	}{
		{
			name:    "rising series is bull",
			candles: series(48*60, time.Minute, func(i int) float64 { return 30000 * (1 + 0.0001*float64(i)) }),
			label:   domain.RegimeBull,
			reason:  "uptrend",
		},
		{
			name:    "falling series is bear",
			candles: series(48*60, time.Minute, func(i int) float64 { return 30000 * (1 - 0.0001*float64(i)) }),
			label:   domain.RegimeBear,
			reason:  "downtrend",
		},
		{
			name: "oscillating series is chop",
			candles: series(48*60, time.Minute, func(i int) float64 {
				return 30000 + 50*math.Sin(2*math.Pi*float64(i)/360)
			}),
			label: domain.RegimeChop,
		},
		{
			name:    "flat series is chop",
			candles: series(48*60, time.Minute, func(int) float64 { return 30000 }),
			label:   domain.RegimeChop,
			reason:  "adx_unavailable",
		},
		{
			name:    "short history never trends",
			candles: series(20*60, time.Minute, func(i int) float64 { return 30000 * (1 + 0.0001*float64(i)) }),
			label:   domain.RegimeChop,
			reason:  "short_history 21h",
		},
		{
			name: "slope and cross disagree",
			candles: series(160, time.Hour, func(i int) float64 {
				if i < 150 {
					return 40000 - 100*float64(i)
				}
				return 25000 + 1500*float64(i-149)
			}),
			label:  domain.RegimeChop,
			reason: "slope_cross_conflict",
		},
		{
			name:   "empty input",
			label:  domain.RegimeChop,
			reason: "no_data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := d.Detect(tt.candles)
			assert.Equal(t, tt.label, report.Label)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, report.Reason)
			}
		})
	}
}

func TestDetect_Diagnostics(t *testing.T) {
	report := NewDetector().Detect(series(48*60, time.Minute, func(i int) float64 {
		return 30000 * (1 + 0.0001*float64(i))
	}))

	require.NotNil(t, report.ADX)
	assert.Greater(t, *report.ADX, DefaultADXMin)
	assert.Equal(t, 49, report.HistoryHours)
	assert.False(t, report.ShortHistory)
	assert.True(t, report.Trending)
	assert.InDelta(t, 17.17, report.SlopeBpsPerHour, 0.05)
	assert.Greater(t, report.EMA50, report.EMA200)
}

func TestDetect_ThresholdsAreConfigurable(t *testing.T) {
	rising := series(48*60, time.Minute, func(i int) float64 { return 30000 * (1 + 0.0001*float64(i)) })

	strict := NewDetector()
	strict.SlopeMinBps = 50
	report := strict.Detect(rising)
	assert.Equal(t, domain.RegimeChop, report.Label)
	assert.Contains(t, report.Reason, "slope")

	patient := NewDetector()
	patient.MinHours = 72
	assert.Equal(t, domain.RegimeChop, patient.Detect(rising).Label)
}
