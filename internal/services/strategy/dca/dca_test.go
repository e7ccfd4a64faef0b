package dca

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/btcagent/internal/domain"
)

func anchored(price float64, at time.Time) domain.PortfolioState {
	st := domain.DefaultPortfolioState()
	st.LastDCAPrice = &price
	st.LastDCATS = &at
	return st
}

func TestEvaluate_FirstLot(t *testing.T) {
	s := New(DefaultConfig())

	intent, ok := s.Evaluate(domain.DefaultPortfolioState(), 50000, time.Now())
	require.True(t, ok)
	assert.Equal(t, 0.001, intent.Qty)
	assert.Equal(t, 50.0, intent.LotUSD)
	assert.Equal(t, "auto dca: first lot", intent.Note)
}

func TestEvaluate_DropAndCooldown(t *testing.T) {
	now := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	s := New(DefaultConfig())

	tests := []struct {
		name  string
		state domain.PortfolioState
		price float64
		fire  bool
	}{
		{name: "drop not reached", state: anchored(100000, now.Add(-2*time.Hour)), price: 97500, fire: false},
		{name: "exact threshold", state: anchored(100000, now.Add(-2*time.Hour)), price: 97000, fire: true},
		{name: "deeper drop", state: anchored(100000, now.Add(-2*time.Hour)), price: 90000, fire: true},
		{name: "cooldown active", state: anchored(100000, now.Add(-30*time.Minute)), price: 90000, fire: false},
		{name: "cooldown boundary", state: anchored(100000, now.Add(-60*time.Minute)), price: 90000, fire: true},
		{name: "price above anchor", state: anchored(100000, now.Add(-2*time.Hour)), price: 101000, fire: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := s.Evaluate(tt.state, tt.price, now)
			assert.Equal(t, tt.fire, ok)
		})
	}
}

func TestEvaluate_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	_, ok := New(cfg).Evaluate(domain.DefaultPortfolioState(), 50000, time.Now())
	assert.False(t, ok)

	cfg = DefaultConfig()
	cfg.LotUSD = 0
	_, ok = New(cfg).Evaluate(domain.DefaultPortfolioState(), 50000, time.Now())
	assert.False(t, ok)
}

func TestThreshold(t *testing.T) {
	s := New(DefaultConfig())

	_, ok := s.Threshold(domain.DefaultPortfolioState())
	assert.False(t, ok)

	th, ok := s.Threshold(anchored(100000, time.Now()))
	require.True(t, ok)
	assert.InDelta(t, 97000, th, 1e-6)
}

func TestEvaluate_Note(t *testing.T) {
	now := time.Now()
	intent, ok := New(DefaultConfig()).Evaluate(anchored(100000, now.Add(-2*time.Hour)), 95000, now)
	require.True(t, ok)
	assert.Equal(t, "auto dca: -5.00% from 100000.00", intent.Note)
}
