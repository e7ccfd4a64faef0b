// Package feed fetches OHLCV candles from an ordered chain of sources.
package feed

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/btcagent/internal/domain"
)

const (
	// MinRows smallest usable series.
	MinRows = 20

	minCandles = 50
	maxCandles = 1500
)

var (
	// ErrInsufficientData source returned fewer than MinRows usable candles.
	ErrInsufficientData = errors.New("insufficient candle data")
	// ErrNoSource every source in the chain failed.
	ErrNoSource = errors.New("no data source available")
)

// Request describes a candle query.
type Request struct {
	Pair            domain.Pair
	LookbackDays    int
	IntervalMinutes int
}

// Interval returns the bar length.
func (r Request) Interval() time.Duration {
	return time.Duration(r.IntervalMinutes) * time.Minute
}

// CandlesNeeded returns the bars required to cover the lookback, with a floor of 50 and a cap of 1500.
func (r Request) CandlesNeeded() int {
	if r.IntervalMinutes <= 0 {
		return minCandles
	}
	n := r.LookbackDays*24*60/r.IntervalMinutes + 5
	if n < minCandles {
		n = minCandles
	}
	if n > maxCandles {
		n = maxCandles
	}
	return n
}

// Source defines a single candle provider.
type Source interface {
	Name() string
	Fetch(ctx context.Context, req Request) ([]domain.Candle, error)
}

// Normalize sorts ascending, drops non-finite or non-positive rows and
// collapses duplicate timestamps keeping the last one. It fails with
// ErrInsufficientData is returned below MinRows.
func Normalize(candles []domain.Candle) ([]domain.Candle, error) {
	byTime := make(map[int64]domain.Candle, len(candles))
	for _, c := range candles {
		if !validCandle(c) {
			continue
		}
		byTime[c.Time.UnixNano()] = domain.Candle{
			Time:   c.Time.UTC(),
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		}
	}

	out := make([]domain.Candle, 0, len(byTime))
	for _, c := range byTime {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })

	if len(out) < MinRows {
		return nil, errors.Wrapf(ErrInsufficientData, "%d rows after normalization", len(out))
	}

	return out, nil
}

func validCandle(c domain.Candle) bool {
	if c.Time.IsZero() {
		return false
	}
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return c.Close > 0 && c.High >= c.Low
}

// intervalString exchange style interval, e.g. 1m, 30m, 1h, 4h, 1d.
func intervalString(minutes int) (string, error) {
	switch {
	case minutes <= 0:
		return "", errors.Errorf("invalid interval %d minutes", minutes)
	case minutes%1440 == 0:
		return fmt.Sprintf("%dd", minutes/1440), nil
	case minutes%60 == 0:
		return fmt.Sprintf("%dh", minutes/60), nil
	default:
		return fmt.Sprintf("%dm", minutes), nil
	}
}

func tail(candles []domain.Candle, n int) []domain.Candle {
	if n > 0 && len(candles) > n {
		return candles[len(candles)-n:]
	}
	return candles
}
