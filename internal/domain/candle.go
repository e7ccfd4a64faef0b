package domain

import "time"

// Candle represents a canonical OHLCV bar. Time is the bar open in UTC.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Observation represents the snapshot handed to the advisor.
type Observation struct {
	Time            time.Time   `json:"ts_utc"`
	Price           float64     `json:"price"`
	RSI14           float64     `json:"rsi14"`
	ATR14           float64     `json:"atr14"`
	IntervalMinutes int         `json:"interval_min"`
	Regime          RegimeLabel `json:"regime,omitempty"`
}

// HasATR reports whether ATR was computable for this observation.
func (o Observation) HasATR() bool {
	return o.ATR14 > 0
}
