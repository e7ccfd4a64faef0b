package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/btcagent/internal/domain"
)

// CacheSourceName is the name of the cache in the feed order.
const CacheSourceName = "cache"

// ErrCacheMiss is returned when no series is cached for the request.
var ErrCacheMiss = errors.New("candle cache miss")

var cacheHeader = []string{"time", "open", "high", "low", "close", "volume"}

// CSVCache keeps the last good series per symbol and interval, one CSV file each.
// It doubles as the last source in the chain.
type CSVCache struct {
	dir string
	// MaxAge rejects series whose last bar is older than this; zero disables the check.
	MaxAge time.Duration
	now    func() time.Time
}

// NewCSVCache creates a cache rooted at dir.
func NewCSVCache(dir string) *CSVCache {
	return &CSVCache{dir: dir, now: time.Now}
}

// Name implements Source.
func (c *CSVCache) Name() string { return CacheSourceName }

// Path returns the file backing req.
func (c *CSVCache) Path(req Request) string {
	symbol := strings.ReplaceAll(req.Pair.String(), "/", "-")
	return filepath.Join(c.dir, fmt.Sprintf("candles_%s_%dm.csv", symbol, req.IntervalMinutes))
}

// Write replaces the cached series atomically.
func (c *CSVCache) Write(req Request, candles []domain.Candle) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create cache dir %s", c.dir)
	}

	path := c.Path(req)
	tmp, err := os.CreateTemp(c.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create cache temp file")
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(cacheHeader); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write cache header")
	}
	for _, cd := range candles {
		row := []string{
			cd.Time.UTC().Format(time.RFC3339),
			decimal.NewFromFloat(cd.Open).String(),
			decimal.NewFromFloat(cd.High).String(),
			decimal.NewFromFloat(cd.Low).String(),
			decimal.NewFromFloat(cd.Close).String(),
			decimal.NewFromFloat(cd.Volume).String(),
		}
		if err := w.Write(row); err != nil {
			tmp.Close()
			return errors.Wrap(err, "failed to write cache row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to flush cache")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close cache temp file")
	}

	return errors.Wrap(os.Rename(tmp.Name(), path), "failed to replace cache file")
}

// Fetch implements Source by reading the cached series.
func (c *CSVCache) Fetch(_ context.Context, req Request) ([]domain.Candle, error) {
	f, err := os.Open(c.Path(req))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrCacheMiss, "%s", c.Path(req))
		}
		return nil, errors.Wrap(err, "failed to open candle cache")
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read candle cache")
	}
	if len(rows) < 2 {
		return nil, errors.Wrapf(ErrCacheMiss, "%s is empty", c.Path(req))
	}

	out := make([]domain.Candle, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) != len(cacheHeader) {
			return nil, errors.Errorf("cache row %d has %d columns", i+1, len(row))
		}
		ts, err := time.Parse(time.RFC3339, row[0])
		if err != nil {
			return nil, errors.Wrapf(err, "cache row %d time", i+1)
		}
		cd, err := parseCandle(ts, row[1], row[2], row[3], row[4], row[5])
		if err != nil {
			return nil, errors.Wrapf(err, "cache row %d", i+1)
		}
		out = append(out, cd)
	}

	if c.MaxAge > 0 {
		last := out[len(out)-1].Time
		if age := c.now().Sub(last); age > c.MaxAge {
			return nil, errors.Errorf("candle cache is stale: last bar %s (%s old)", last.Format(time.RFC3339), age.Round(time.Second))
		}
	}

	return tail(out, req.CandlesNeeded()), nil
}
