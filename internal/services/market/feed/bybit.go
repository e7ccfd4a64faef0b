package feed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/btcagent/internal/domain"
)

const bybitMaxPerRequest = 200

// BybitSource fetches spot klines from Bybit V5.
type BybitSource struct {
	client *bybit.Client
	// pause between pages
	pageDelay time.Duration
}

// NewBybitSource creates a Bybit source.
func NewBybitSource(client *bybit.Client) *BybitSource {
	return &BybitSource{client: client, pageDelay: 100 * time.Millisecond}
}

// Name implements Source.
func (s *BybitSource) Name() string { return "bybit" }

// Fetch implements Source. Bybit returns newest first, so pages walk backwards
// from now using the oldest start time seen.
func (s *BybitSource) Fetch(ctx context.Context, req Request) ([]domain.Candle, error) {
	interval, err := bybitInterval(req.IntervalMinutes)
	if err != nil {
		return nil, err
	}

	symbol := bybit.SymbolV5(binanceSymbol(req.Pair))
	remaining := req.CandlesNeeded()
	var end *int64
	var out []domain.Candle

	for remaining > 0 {
		batch := remaining
		if batch > bybitMaxPerRequest {
			batch = bybitMaxPerRequest
		}

		result, err := s.client.V5().Market().GetKline(bybit.V5GetKlineParam{
			Category: bybit.CategoryV5Spot,
			Symbol:   symbol,
			Interval: bybit.Interval(interval),
			End:      end,
			Limit:    &batch,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to fetch klines from Bybit for %s", req.Pair.String())
		}
		if result == nil {
			return nil, errors.Errorf("empty result from Bybit API for %s", req.Pair.String())
		}

		items := result.Result.List
		if len(items) == 0 {
			break
		}

		oldest := int64(0)
		for i, k := range items {
			ms, err := strconv.ParseInt(k.StartTime, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "bybit start time at index %d", i)
			}
			c, err := parseCandle(time.UnixMilli(ms), k.Open, k.High, k.Low, k.Close, k.Volume)
			if err != nil {
				return nil, errors.Wrapf(err, "bybit kline at index %d", i)
			}
			out = append(out, c)
			if oldest == 0 || ms < oldest {
				oldest = ms
			}
		}

		if len(items) < batch {
			break
		}
		remaining -= len(items)

		next := oldest - 1
		end = &next

		if remaining > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.pageDelay):
			}
		}
	}

	if len(out) == 0 {
		return nil, errors.Errorf("no kline data returned from Bybit for %s", req.Pair.String())
	}

	return out, nil
}

// bybitInterval maps minutes to the V5 interval enum: "1".."720", "D", "W".
func bybitInterval(minutes int) (string, error) {
	switch minutes {
	case 1, 3, 5, 15, 30, 60, 120, 240, 360, 720:
		return fmt.Sprintf("%d", minutes), nil
	case 1440:
		return "D", nil
	case 10080:
		return "W", nil
	}
	return "", errors.Errorf("unsupported bybit interval %d minutes", minutes)
}
