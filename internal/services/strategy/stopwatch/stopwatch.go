// Package stopwatch exits the protected part of the position when price falls
// through the ATR stop.
package stopwatch

import (
	"fmt"

	"github.com/vadiminshakov/btcagent/internal/domain"
)

// Exit describes a forced sale of the protected quantity.
type Exit struct {
	Qty   float64
	Price float64
	Stop  float64
	Note  string
}

// Check returns an exit when a protected long is at or below its stop.
func Check(state domain.PortfolioState, price float64) (Exit, bool) {
	qty := state.ProtectedBTC()
	if qty <= 0 || price <= 0 {
		return Exit{}, false
	}

	stop := *state.StopPrice
	if price > stop {
		return Exit{}, false
	}

	return Exit{
		Qty:   qty,
		Price: price,
		Stop:  stop,
		Note:  fmt.Sprintf("stop %.2f hit at %.2f", stop, price),
	}, true
}
