// Package regime classifies recent price action into bull, bear or chop.
package regime

import (
	"fmt"
	"math"

	"github.com/vadiminshakov/btcagent/internal/domain"
	"github.com/vadiminshakov/btcagent/pkg/indicators"
)

const (
	DefaultSlopeMinBps = 2.0
	DefaultADXMin      = 18.0
	DefaultMinHours    = 36
	DefaultADXPeriod   = 14

	fastSpan     = 50
	slowSpan     = 200
	maxSlopeBars = 5
)

// Detector labels a fine-grained candle series after resampling it to hourly bars.
type Detector struct {
	// SlopeMinBps minimum |EMA200 slope| in basis points per hour.
	SlopeMinBps float64
	// ADXMin minimum ADX for a trending market.
	ADXMin float64
	// MinHours hourly history required before a trend is trusted.
	MinHours  int
	ADXPeriod int
}

// NewDetector returns a detector with default thresholds.
func NewDetector() *Detector {
	return &Detector{
		SlopeMinBps: DefaultSlopeMinBps,
		ADXMin:      DefaultADXMin,
		MinHours:    DefaultMinHours,
		ADXPeriod:   DefaultADXPeriod,
	}
}

// Detect classifies the series. It never fails: missing data yields chop.
func (d *Detector) Detect(candles []domain.Candle) domain.RegimeReport {
	if len(candles) == 0 {
		return domain.RegimeReport{Label: domain.RegimeChop, Reason: "no_data"}
	}

	hourly := indicators.ResampleHourly(candles)
	hours := len(hourly)
	if hours == 0 {
		return domain.RegimeReport{Label: domain.RegimeChop, Reason: "no_hourly_data"}
	}

	closes := indicators.Closes(hourly)
	ema50 := indicators.EMA(closes, fastSpan)
	ema200 := indicators.EMA(closes, slowSpan)

	report := domain.RegimeReport{
		EMA50:           ema50[hours-1],
		EMA200:          ema200[hours-1],
		SlopeBpsPerHour: slopeBps(ema200, closes[hours-1]),
		HistoryHours:    hours,
		ShortHistory:    hours < d.MinHours,
	}

	adx, ok := indicators.ADX(hourly, d.adxPeriod())
	if ok {
		report.ADX = &adx
	}

	slopeOK := math.Abs(report.SlopeBpsPerHour) >= d.SlopeMinBps
	adxOK := ok && adx >= d.ADXMin
	report.Trending = slopeOK && adxOK && !report.ShortHistory

	switch {
	case report.Trending && report.SlopeBpsPerHour > 0 && report.EMA50 > report.EMA200:
		report.Label = domain.RegimeBull
		report.Reason = "uptrend"
	case report.Trending && report.SlopeBpsPerHour < 0 && report.EMA50 < report.EMA200:
		report.Label = domain.RegimeBear
		report.Reason = "downtrend"
	default:
		report.Label = domain.RegimeChop
		report.Reason = chopReason(report, slopeOK, adxOK, ok)
	}

	return report
}

func (d *Detector) adxPeriod() int {
	if d.ADXPeriod > 0 {
		return d.ADXPeriod
	}
	return DefaultADXPeriod
}

// slopeBps EMA200 change per hour over the last k<=5 bars, in bps of the latest close.
func slopeBps(ema200 []float64, lastClose float64) float64 {
	n := len(ema200)
	if n < 2 || lastClose == 0 {
		return 0
	}

	k := maxSlopeBars
	if n-1 < k {
		k = n - 1
	}

	slope := (ema200[n-1] - ema200[n-1-k]) / float64(k)
	return slope / lastClose * 1e4
}

func chopReason(r domain.RegimeReport, slopeOK, adxOK, adxAvailable bool) string {
	switch {
	case r.ShortHistory:
		return fmt.Sprintf("short_history %dh", r.HistoryHours)
	case !adxAvailable:
		return "adx_unavailable"
	case !adxOK:
		return fmt.Sprintf("adx %.1f below threshold", *r.ADX)
	case !slopeOK:
		return fmt.Sprintf("slope %.2f bps/h below threshold", r.SlopeBpsPerHour)
	default:
		return "slope_cross_conflict"
	}
}
