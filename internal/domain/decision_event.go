package domain

import "time"

// Tick outcomes recorded in the decision journal.
const (
	OutcomeHold    = "hold"
	OutcomeSkipped = "skipped"
	OutcomeTraded  = "traded"
	OutcomeError   = "error"
	OutcomeDCA     = "dca"
	OutcomeStop    = "stop"
)

// GateResult holds the outcome of a single guardrail.
type GateResult struct {
	Gate   string `json:"gate"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason"`
}

// DecisionTrace is the journal record describing one tick end to end.
type DecisionTrace struct {
	TickID      string        `json:"tick_id"`
	Time        time.Time     `json:"ts"`
	Pair        string        `json:"pair"`
	Observation *Observation  `json:"observation,omitempty"`
	Regime      *RegimeReport `json:"regime,omitempty"`
	Raw         RawDecision   `json:"raw,omitempty"`
	Decision    *Decision     `json:"decision,omitempty"`
	Gates       []GateResult  `json:"gates,omitempty"`
	Outcome     string        `json:"outcome"`
	Reason      string        `json:"reason,omitempty"`
	Trades      []TradeRecord `json:"trades,omitempty"`
}

// DecisionTraceRecord pairs a trace with its journal index.
type DecisionTraceRecord struct {
	Index uint64
	Trace DecisionTrace
}
