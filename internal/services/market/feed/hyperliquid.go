package feed

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	hyperliquid "github.com/sonirico/go-hyperliquid"
	"github.com/vadiminshakov/btcagent/internal/domain"
)

// HyperliquidSource fetches candle snapshots from Hyperliquid. Prices are USD quoted.
type HyperliquidSource struct {
	info *hyperliquid.Info
	now  func() time.Time
}

// NewHyperliquidSource creates a Hyperliquid source.
func NewHyperliquidSource(info *hyperliquid.Info) *HyperliquidSource {
	return &HyperliquidSource{info: info, now: time.Now}
}

// Name implements Source.
func (s *HyperliquidSource) Name() string { return "hyperliquid" }

// Fetch implements Source.
func (s *HyperliquidSource) Fetch(ctx context.Context, req Request) ([]domain.Candle, error) {
	if s.info == nil {
		return nil, errors.New("hyperliquid info is nil")
	}

	interval, err := intervalString(req.IntervalMinutes)
	if err != nil {
		return nil, err
	}

	limit := req.CandlesNeeded()
	endMs := s.now().UnixMilli()
	// two extra bars absorb rounding at the window edges
	startMs := endMs - int64(limit+2)*req.Interval().Milliseconds()
	coin := strings.ToUpper(req.Pair.From)

	candles, err := s.info.CandlesSnapshot(ctx, coin, interval, startMs, endMs)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch candles from Hyperliquid for %s", coin)
	}
	if len(candles) == 0 {
		return nil, errors.Errorf("no candles from hyperliquid for %s %s", coin, interval)
	}

	out := make([]domain.Candle, 0, len(candles))
	for i, c := range candles {
		parsed, err := parseCandle(time.UnixMilli(c.TimeOpen), c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return nil, errors.Wrapf(err, "hyperliquid candle at index %d", i)
		}
		out = append(out, parsed)
	}

	return tail(out, limit), nil
}
