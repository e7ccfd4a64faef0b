package domain

import "strings"

// Side represents the direction of an executed trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Action represents the advisor intent.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// ParseAction returns the action and whether s named a valid one.
func ParseAction(s string) (Action, bool) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionBuy, ActionSell, ActionHold:
		return a, true
	}
	return "", false
}

// Side maps buy/sell to a trade side. ok is false for hold.
func (a Action) Side() (Side, bool) {
	switch a {
	case ActionBuy:
		return SideBuy, true
	case ActionSell:
		return SideSell, true
	}
	return "", false
}

// MarketState represents the advisor classification of the current price action.
type MarketState string

const (
	StatePeak          MarketState = "peak"
	StateDip           MarketState = "dip"
	StateConsolidation MarketState = "consolidation"
)

// ParseMarketState returns the state and whether s named a valid one.
func ParseMarketState(s string) (MarketState, bool) {
	switch st := MarketState(strings.ToLower(strings.TrimSpace(s))); st {
	case StatePeak, StateDip, StateConsolidation:
		return st, true
	}
	return "", false
}

// Trade sources written to the trade log.
const (
	SourceLLM     = "LLM"
	SourceDCA     = "DCA"
	SourceATRStop = "ATR_STOP"
)
