package domain

// RegimeLabel represents a classified market condition.
type RegimeLabel string

const (
	RegimeBull RegimeLabel = "bull"
	RegimeBear RegimeLabel = "bear"
	RegimeChop RegimeLabel = "chop"
)

// RegimeReport holds the detector output with diagnostics.
type RegimeReport struct {
	Label           RegimeLabel `json:"label"`
	Reason          string      `json:"reason,omitempty"`
	EMA50           float64     `json:"ema50,omitempty"`
	EMA200          float64     `json:"ema200,omitempty"`
	SlopeBpsPerHour float64     `json:"ema200_slope_bps_per_hr"`
	// ADX nil when history is too short.
	ADX          *float64 `json:"adx14_h"`
	Trending     bool     `json:"trending"`
	HistoryHours int      `json:"history_hours"`
	ShortHistory bool     `json:"short_history"`
}
