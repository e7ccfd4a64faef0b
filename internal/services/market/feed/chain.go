package feed

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"github.com/vadiminshakov/btcagent/internal/domain"
	"github.com/vadiminshakov/btcagent/pkg/retrier"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultAttempts       = 3
	defaultRetryInterval  = 1500 * time.Millisecond
	defaultBreakerTimeout = 2 * time.Minute
	defaultBreakerTrips   = 3
	defaultRatePerSecond  = 5
	defaultRateBurst      = 5
)

// Recorder receives per-source fetch outcomes.
type Recorder interface {
	ObserveFeed(source string, took time.Duration, err error)
}

type guardedSource struct {
	src     Source
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// Chain tries sources in order and returns the first usable series.
// Successful remote results are written to the cache when one is attached.
type Chain struct {
	sources  []guardedSource
	cache    *CSVCache
	retrier  *retrier.Retrier
	recorder Recorder
	logger   *zap.Logger
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithRetrier replaces the per-source retry policy.
func WithRetrier(r *retrier.Retrier) ChainOption {
	return func(c *Chain) {
		c.retrier = r
	}
}

// WithCache attaches a write-through CSV cache.
func WithCache(cache *CSVCache) ChainOption {
	return func(c *Chain) {
		c.cache = cache
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) ChainOption {
	return func(c *Chain) {
		c.recorder = r
	}
}

// NewChain wraps every source in its own breaker and rate limiter.
func NewChain(logger *zap.Logger, sources []Source, opts ...ChainOption) *Chain {
	c := &Chain{
		logger: logger,
		retrier: retrier.New(
			retrier.WithMaxAttempts(defaultAttempts),
			retrier.WithInitialInterval(defaultRetryInterval),
			retrier.WithOnRetry(func(attempt int, err error) {
				logger.Debug("Retrying feed fetch", zap.Int("attempt", attempt), zap.Error(err))
			}),
		),
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, src := range sources {
		st := gobreaker.Settings{Name: src.Name(), Timeout: defaultBreakerTimeout}
		st.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= defaultBreakerTrips
		}
		st.OnStateChange = func(name string, from, to gobreaker.State) {
			logger.Warn("Feed circuit breaker state changed",
				zap.String("source", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		}

		c.sources = append(c.sources, guardedSource{
			src:     src,
			breaker: gobreaker.NewCircuitBreaker(st),
			limiter: rate.NewLimiter(rate.Limit(defaultRatePerSecond), defaultRateBurst),
		})
	}

	return c
}

// Sources returns the source names in try order.
func (c *Chain) Sources() []string {
	names := make([]string, 0, len(c.sources))
	for _, s := range c.sources {
		names = append(names, s.src.Name())
	}
	return names
}

// Fetch returns normalized candles from the first source that succeeds.
func (c *Chain) Fetch(ctx context.Context, req Request) ([]domain.Candle, error) {
	var failures []string

	for _, gs := range c.sources {
		name := gs.src.Name()
		start := time.Now()

		candles, err := c.fetchOne(ctx, gs, req)
		if c.recorder != nil {
			c.recorder.ObserveFeed(name, time.Since(start), err)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrap(ctx.Err(), "feed fetch cancelled")
			}
			c.logger.Warn("Feed source failed", zap.String("source", name), zap.Error(err))
			failures = append(failures, name+": "+err.Error())
			continue
		}

		if c.cache != nil && name != CacheSourceName {
			if err := c.cache.Write(req, candles); err != nil {
				c.logger.Warn("Failed to write candle cache", zap.Error(err))
			}
		}

		c.logger.Debug("Feed source served candles",
			zap.String("source", name),
			zap.Int("rows", len(candles)),
			zap.String("pair", req.Pair.String()),
			zap.Int("interval_min", req.IntervalMinutes))

		return candles, nil
	}

	return nil, errors.Wrapf(ErrNoSource, "%s", strings.Join(failures, "; "))
}

func (c *Chain) fetchOne(ctx context.Context, gs guardedSource, req Request) ([]domain.Candle, error) {
	return retrier.DoWithData(c.retrier, ctx, func(ctx context.Context) ([]domain.Candle, error) {
		if err := gs.limiter.Wait(ctx); err != nil {
			return nil, retrier.Permanent(err)
		}

		res, err := gs.breaker.Execute(func() (interface{}, error) {
			raw, err := gs.src.Fetch(ctx, req)
			if err != nil {
				return nil, err
			}
			return Normalize(raw)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) ||
				errors.Is(err, ErrInsufficientData) || errors.Is(err, ErrCacheMiss) {
				return nil, retrier.Permanent(err)
			}
			return nil, err
		}

		return res.([]domain.Candle), nil
	})
}
