package guardrails

import "time"

// Config holds the tunables for the default stack.
type Config struct {
	GlobalPause      bool
	MinConfidence    float64
	MaxPositionPct   float64
	LossCap          LossCap
	CashFloorUSD     float64
	DailyBuyLimitUSD float64
	SideCooldown     time.Duration
	FlipConfDelta    float64
	AllowSideSwitch  bool
	Regime           Thresholds
	MaxTradesPerDay  int
}

// DefaultConfig returns the default tunables.
func DefaultConfig() Config {
	return Config{
		MinConfidence:    0.45,
		MaxPositionPct:   80,
		CashFloorUSD:     2000,
		DailyBuyLimitUSD: 5000,
		SideCooldown:     5 * time.Minute,
		FlipConfDelta:    DefaultFlipConfDelta,
		AllowSideSwitch:  true,
		Regime:           DefaultThresholds(),
	}
}

// Stack returns the gates applied to advisor-driven trades, in evaluation order.
func Stack(cfg Config) []Gate {
	return []Gate{
		GlobalPause(cfg.GlobalPause),
		MinConfidence(cfg.MinConfidence),
		DailyTradeCap(cfg.MaxTradesPerDay),
		PositionLimit(cfg.MaxPositionPct),
		DailyLossCap(cfg.LossCap),
		CashFloor(cfg.CashFloorUSD),
		DailyBuyBudget(cfg.DailyBuyLimitUSD),
		SideCooldown(cfg.SideCooldown),
		FlipCooldown(cfg.FlipConfDelta, cfg.AllowSideSwitch),
		RegimeGate(cfg.Regime),
	}
}

// DCAStack returns the gates applied to DCA lots: the pause switch and the cash floor only.
func DCAStack(cfg Config) []Gate {
	return []Gate{
		GlobalPause(cfg.GlobalPause),
		CashFloor(cfg.CashFloorUSD),
	}
}
