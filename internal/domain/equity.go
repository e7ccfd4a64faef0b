package domain

import "time"

// EquitySnapshot represents the portfolio marked to market at the end of a tick.
type EquitySnapshot struct {
	Time      time.Time `json:"ts"`
	Pair      string    `json:"pair"`
	Price     float64   `json:"price"`
	CashUSD   float64   `json:"cash_usd"`
	BTC       float64   `json:"btc"`
	EquityUSD float64   `json:"equity_usd"`
}

// NewEquitySnapshot marks state to price.
func NewEquitySnapshot(now time.Time, pair Pair, price float64, state PortfolioState) EquitySnapshot {
	return EquitySnapshot{
		Time:      now.UTC(),
		Pair:      pair.String(),
		Price:     price,
		CashUSD:   state.CashUSD,
		BTC:       state.BTC,
		EquityUSD: state.Equity(price),
	}
}

// EquitySnapshotRecord pairs a snapshot with its journal index.
type EquitySnapshotRecord struct {
	Index    uint64
	Snapshot EquitySnapshot
}
