// Package trader executes approved orders against the ledger, optionally
// routing them through an exchange first.
package trader

import (
	"context"

	"github.com/vadiminshakov/btcagent/internal/domain"
)

// Order represents a sized, gated trade ready for execution.
type Order struct {
	Side    domain.Side
	Price   float64
	Qty     float64
	SizeUSD float64
	Source  string
	Note    string
}

// Notional returns price * quantity.
func (o Order) Notional() float64 {
	return o.Price * o.Qty
}

// Executor fills an order and records it in the ledger.
type Executor interface {
	Name() string
	Execute(ctx context.Context, o Order) (domain.TradeRecord, error)
}

type tradeApplier interface {
	ApplyTrade(side domain.Side, price, qty float64, source, note string) (domain.TradeRecord, error)
}

// PaperExecutor fills at the observed price without touching any exchange.
type PaperExecutor struct {
	ledger tradeApplier
}

// NewPaperExecutor creates a paper executor.
func NewPaperExecutor(ledger tradeApplier) *PaperExecutor {
	return &PaperExecutor{ledger: ledger}
}

// Name implements Executor.
func (e *PaperExecutor) Name() string { return "paper" }

// Execute implements Executor.
func (e *PaperExecutor) Execute(_ context.Context, o Order) (domain.TradeRecord, error) {
	return e.ledger.ApplyTrade(o.Side, o.Price, o.Qty, o.Source, o.Note)
}
