package domain

import (
	"fmt"
	"time"
)

// TradeRecord represents an immutable trade log entry.
type TradeRecord struct {
	Time   time.Time `json:"time"`
	Side   Side      `json:"side"`
	Source string    `json:"source"`
	Price  float64   `json:"price"`
	// QtyBTC quantity of the base currency.
	QtyBTC float64 `json:"qty_btc"`
	// FeeUSD fee charged in quote currency.
	FeeUSD float64 `json:"fee_usd"`
	Note   string  `json:"note,omitempty"`
}

// Notional returns price * quantity.
func (t TradeRecord) Notional() float64 {
	return t.Price * t.QtyBTC
}

// String returns a human-readable string representation.
func (t TradeRecord) String() string {
	return fmt.Sprintf("%s %s qty: %.8f price: %.2f fee: %.2f", t.Source, t.Side, t.QtyBTC, t.Price, t.FeeUSD)
}
