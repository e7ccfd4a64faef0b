package domain

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// RawDecision holds advisor output before normalization. Never trusted.
type RawDecision map[string]any

// Decision represents a normalized trading decision.
type Decision struct {
	State      MarketState `json:"state"`
	Action     Action      `json:"action"`
	Confidence float64     `json:"confidence"`
	SizeUSD    float64     `json:"size_usd"`
	// StopATRK switches the protective stop on. The stop distance is always
	// the sizer's ATR multiple; the advisor's k is kept in the journal only.
	// nil means the advisor disabled the stop.
	StopATRK  *float64 `json:"stop_atr_k"`
	Reason    string   `json:"reason_short"`
	RiskFlags []string `json:"risk_flags"`
}

// ParseRawDecision extracts a JSON object from free-form advisor text.
func ParseRawDecision(raw string) (RawDecision, error) {
	payload := sanitizeDecisionPayload(raw)

	if start, end := strings.Index(payload, "{"), strings.LastIndex(payload, "}"); start >= 0 && end > start {
		payload = payload[start : end+1]
	}

	if !json.Valid([]byte(payload)) {
		return nil, errors.New("invalid JSON structure")
	}

	var out RawDecision
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil, errors.Wrap(err, "JSON unmarshal error")
	}

	return out, nil
}

func sanitizeDecisionPayload(raw string) string {
	response := strings.TrimSpace(raw)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	return strings.TrimSpace(response)
}

// Validate validates the decision.
func (d Decision) Validate() error {
	if _, ok := ParseMarketState(string(d.State)); !ok {
		return errors.Errorf("invalid state %q", d.State)
	}

	if _, ok := ParseAction(string(d.Action)); !ok {
		return errors.Errorf("invalid action %q", d.Action)
	}

	if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
		return errors.Errorf("confidence %v out of range [0, 1]", d.Confidence)
	}

	if math.IsNaN(d.SizeUSD) || math.IsInf(d.SizeUSD, 0) || d.SizeUSD < 0 {
		return errors.Errorf("invalid size_usd %v", d.SizeUSD)
	}

	if d.StopATRK != nil && (math.IsNaN(*d.StopATRK) || math.IsInf(*d.StopATRK, 0)) {
		return errors.Errorf("invalid stop_atr_k %v", *d.StopATRK)
	}

	return nil
}
