package feed

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/btcagent/internal/domain"
)

const binanceMaxLimit = 1000

// BinanceSource fetches spot klines from Binance.
type BinanceSource struct {
	client *binance.Client
}

// NewBinanceSource creates a Binance source. The client may be unauthenticated.
func NewBinanceSource(client *binance.Client) *BinanceSource {
	return &BinanceSource{client: client}
}

// Name implements Source.
func (s *BinanceSource) Name() string { return "binance" }

// Fetch implements Source.
func (s *BinanceSource) Fetch(ctx context.Context, req Request) ([]domain.Candle, error) {
	interval, err := intervalString(req.IntervalMinutes)
	if err != nil {
		return nil, err
	}

	limit := req.CandlesNeeded()
	if limit > binanceMaxLimit {
		limit = binanceMaxLimit
	}

	klines, err := s.client.NewKlinesService().
		Symbol(binanceSymbol(req.Pair)).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines from Binance for %s", req.Pair.String())
	}

	out := make([]domain.Candle, 0, len(klines))
	for i, k := range klines {
		c, err := parseCandle(time.UnixMilli(k.OpenTime), k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			return nil, errors.Wrapf(err, "binance kline at index %d", i)
		}
		out = append(out, c)
	}

	return out, nil
}

// binanceSymbol maps USD quotes to USDT, the Binance spot convention.
func binanceSymbol(p domain.Pair) string {
	if p.To == "USD" {
		p.To = "USDT"
	}
	return p.Symbol()
}

func parseCandle(t time.Time, open, high, low, closePrice, volume string) (domain.Candle, error) {
	fields := [5]string{open, high, low, closePrice, volume}
	var vals [5]float64
	for i, f := range fields {
		d, err := decimal.NewFromString(f)
		if err != nil {
			return domain.Candle{}, errors.Wrapf(err, "failed to parse %q", f)
		}
		vals[i] = d.InexactFloat64()
	}

	return domain.Candle{
		Time:   t.UTC(),
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, nil
}
