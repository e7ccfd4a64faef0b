package indicators

import (
	"sort"
	"time"

	"github.com/vadiminshakov/btcagent/internal/domain"
)

// ResampleHourly aggregates fine-grained candles into hourly bars. Buckets are
// closed and labelled on the right: a bar stamped H covers (H-1h, H].
// Hours without input are omitted.
func ResampleHourly(candles []domain.Candle) []domain.Candle {
	if len(candles) == 0 {
		return nil
	}

	sorted := make([]domain.Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	out := make([]domain.Candle, 0, len(sorted)/60+1)
	for _, c := range sorted {
		label := hourLabel(c.Time)

		if n := len(out); n > 0 && out[n-1].Time.Equal(label) {
			bar := &out[n-1]
			if c.High > bar.High {
				bar.High = c.High
			}
			if c.Low < bar.Low {
				bar.Low = c.Low
			}
			bar.Close = c.Close
			bar.Volume += c.Volume
			continue
		}

		out = append(out, domain.Candle{
			Time:   label,
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		})
	}

	return out
}

// hourLabel rounds t up to the next whole hour; exact hours map to themselves.
func hourLabel(t time.Time) time.Time {
	t = t.UTC()
	floor := t.Truncate(time.Hour)
	if floor.Equal(t) {
		return floor
	}
	return floor.Add(time.Hour)
}

// Closes extracts the close series.
func Closes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
