package internal

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type ticker interface {
	Tick(ctx context.Context) (TickResult, error)
	Wait()
}

// TradingBot drives the runner on a fixed interval.
type TradingBot struct {
	runner   ticker
	interval time.Duration
	logger   *zap.Logger
}

// NewTradingBot creates a bot ticking every interval.
func NewTradingBot(logger *zap.Logger, runner ticker, interval time.Duration) (*TradingBot, error) {
	if interval <= 0 {
		return nil, errors.Errorf("invalid tick interval %s", interval)
	}
	return &TradingBot{runner: runner, interval: interval, logger: logger}, nil
}

// RunOnce executes a single tick, as a cron scheduler would.
func (b *TradingBot) RunOnce(ctx context.Context) (TickResult, error) {
	defer b.runner.Wait()
	return b.runner.Tick(ctx)
}

// Run ticks immediately and then on every interval until ctx is cancelled.
// Tick errors are logged and never stop the loop.
func (b *TradingBot) Run(ctx context.Context) error {
	defer b.runner.Wait()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.logger.Info("Starting trading loop", zap.Duration("interval", b.interval))

	b.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Context done, stopping trading loop")
			return ctx.Err()
		case <-ticker.C:
			b.tick(ctx)
		}
	}
}

func (b *TradingBot) tick(ctx context.Context) {
	res, err := b.runner.Tick(ctx)
	switch {
	case err == nil:
		b.logger.Debug("Tick finished", zap.String("outcome", res.Outcome), zap.String("reason", res.Reason))
	case errors.Is(err, ErrNoData):
		b.logger.Warn("No market data this tick, continuing", zap.Error(err))
	case ctx.Err() != nil:
		b.logger.Debug("Tick interrupted by shutdown", zap.Error(err))
	default:
		b.logger.Error("Tick failed", zap.Error(err))
	}
}
