package domain

import "time"

// Portfolio defaults for a fresh state.
const (
	DefaultSeedCashUSD = 10000.0
	dayLayout          = "2006-01-02"
)

// PortfolioState represents the persisted ledger state.
type PortfolioState struct {
	CashUSD float64 `json:"cash_usd"`
	BTC     float64 `json:"btc"`

	LastTradeTS *time.Time `json:"last_trade_ts"`
	LastSide    *Side      `json:"last_side"`
	LastConf    *float64   `json:"last_conf"`
	LastBuyTS   *time.Time `json:"last_buy_ts,omitempty"`
	LastSellTS  *time.Time `json:"last_sell_ts,omitempty"`

	TradesToday      int     `json:"trades_today"`
	TradesTodayDate  string  `json:"trades_today_date,omitempty"`
	BuySpendTodayUSD float64 `json:"buy_spend_today_usd"`
	// DayStartEquityUSD equity at the first observation of TradesTodayDate.
	DayStartEquityUSD float64 `json:"day_start_equity_usd"`

	LastDCAPrice *float64   `json:"last_dca_price"`
	LastDCATS    *time.Time `json:"last_dca_ts"`

	// StopPrice and TakeProfit protect ProtectedQty BTC bought on advisor
	// decisions. DCA lots are not covered.
	StopPrice    *float64 `json:"stop_price,omitempty"`
	TakeProfit   *float64 `json:"take_profit,omitempty"`
	ProtectedQty *float64 `json:"protected_qty,omitempty"`
}

// DefaultPortfolioState returns the seed state.
func DefaultPortfolioState() PortfolioState {
	return PortfolioState{CashUSD: DefaultSeedCashUSD}
}

// Equity marks the portfolio to price.
func (s PortfolioState) Equity(price float64) float64 {
	return s.CashUSD + s.BTC*price
}

// PositionValue returns the BTC holdings valued at price.
func (s PortfolioState) PositionValue(price float64) float64 {
	if s.BTC <= 0 || price <= 0 {
		return 0
	}
	return s.BTC * price
}

// LastSideTS returns the last trade time for a given side.
func (s PortfolioState) LastSideTS(side Side) *time.Time {
	if side == SideBuy {
		return s.LastBuyTS
	}
	return s.LastSellTS
}

// IsCurrentDay reports whether the daily counters belong to now's UTC date.
func (s PortfolioState) IsCurrentDay(now time.Time) bool {
	return s.TradesTodayDate == DayKey(now)
}

// ProtectedBTC returns how much of the position the stop covers. States
// written before the protected quantity was tracked cover the whole position.
func (s PortfolioState) ProtectedBTC() float64 {
	if s.StopPrice == nil {
		return 0
	}
	if s.ProtectedQty == nil || *s.ProtectedQty > s.BTC {
		return s.BTC
	}
	return *s.ProtectedQty
}

// ClearProtection drops the stop, the take-profit and the covered quantity.
func (s *PortfolioState) ClearProtection() {
	s.StopPrice = nil
	s.TakeProfit = nil
	s.ProtectedQty = nil
}

// DayKey returns the UTC date key used by daily counters.
func DayKey(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// Clone returns a deep copy so callers cannot mutate ledger internals.
func (s PortfolioState) Clone() PortfolioState {
	out := s
	out.LastTradeTS = cloneTime(s.LastTradeTS)
	out.LastBuyTS = cloneTime(s.LastBuyTS)
	out.LastSellTS = cloneTime(s.LastSellTS)
	out.LastDCATS = cloneTime(s.LastDCATS)
	out.LastConf = cloneFloat(s.LastConf)
	out.LastDCAPrice = cloneFloat(s.LastDCAPrice)
	out.StopPrice = cloneFloat(s.StopPrice)
	out.TakeProfit = cloneFloat(s.TakeProfit)
	out.ProtectedQty = cloneFloat(s.ProtectedQty)
	if s.LastSide != nil {
		side := *s.LastSide
		out.LastSide = &side
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
