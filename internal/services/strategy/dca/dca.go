// Package dca decides fixed-size accumulation buys on price drops.
package dca

import (
	"fmt"
	"time"

	"github.com/vadiminshakov/btcagent/internal/domain"
	"github.com/vadiminshakov/btcagent/internal/services/sizer"
)

const percentageMultiplier = 100

// Config DCA tunables.
type Config struct {
	Enabled bool
	// DropPct required drop from the last DCA fill, in percent.
	DropPct  float64
	LotUSD   float64
	Cooldown time.Duration
}

// DefaultConfig 3% drop, 60 minute cooldown, $50 lots.
func DefaultConfig() Config {
	return Config{Enabled: true, DropPct: 3, LotUSD: 50, Cooldown: 60 * time.Minute}
}

// Intent describes a DCA buy to execute.
type Intent struct {
	Price  float64
	LotUSD float64
	Qty    float64
	Note   string
}

// Strategy evaluates DCA triggers against the portfolio anchor.
type Strategy struct {
	cfg Config
}

// New returns a DCA strategy.
func New(cfg Config) *Strategy {
	return &Strategy{cfg: cfg}
}

// Config returns the strategy settings.
func (s *Strategy) Config() Config {
	return s.cfg
}

// Evaluate returns an intent when the drop and cooldown conditions both hold.
// The first lot fires immediately when there is no anchor.
func (s *Strategy) Evaluate(state domain.PortfolioState, price float64, now time.Time) (Intent, bool) {
	if !s.cfg.Enabled || s.cfg.LotUSD <= 0 || price <= 0 {
		return Intent{}, false
	}

	note, hit := s.dropHit(state, price)
	if !hit || !s.cooldownElapsed(state, now) {
		return Intent{}, false
	}

	qty := sizer.Quantity(domain.SideBuy, s.cfg.LotUSD, price, 0)
	if qty <= 0 {
		return Intent{}, false
	}

	return Intent{Price: price, LotUSD: s.cfg.LotUSD, Qty: qty, Note: note}, true
}

// Threshold returns the price at or below which the next lot fires. ok is false without an anchor.
func (s *Strategy) Threshold(state domain.PortfolioState) (float64, bool) {
	if state.LastDCAPrice == nil || *state.LastDCAPrice <= 0 {
		return 0, false
	}
	return *state.LastDCAPrice * (1 - s.cfg.DropPct/percentageMultiplier), true
}

func (s *Strategy) dropHit(state domain.PortfolioState, price float64) (string, bool) {
	threshold, ok := s.Threshold(state)
	if !ok {
		return "auto dca: first lot", true
	}
	if price > threshold {
		return "", false
	}

	drop := (*state.LastDCAPrice - price) / *state.LastDCAPrice * percentageMultiplier
	return fmt.Sprintf("auto dca: -%.2f%% from %.2f", drop, *state.LastDCAPrice), true
}

func (s *Strategy) cooldownElapsed(state domain.PortfolioState, now time.Time) bool {
	if state.LastDCATS == nil {
		return true
	}
	return now.Sub(*state.LastDCATS) >= s.cfg.Cooldown
}
