// Package ledger applies trades to the persisted portfolio and keeps the trade log.
package ledger

import (
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/btcagent/internal/domain"
	"github.com/vadiminshakov/btcagent/internal/storage/portfolio"
	"go.uber.org/zap"
)

const (
	DefaultFeeBps = 10.0

	// epsUSD and epsBTC absorb floating point residue in balance checks.
	epsUSD = 1e-8
	epsBTC = 1e-12
)

var (
	ErrInsufficientCash     = errors.New("insufficient cash")
	ErrInsufficientPosition = errors.New("insufficient BTC")
	ErrInvalidTrade         = errors.New("invalid trade")
)

type stateStore interface {
	Load() (*domain.PortfolioState, error)
	Save(state domain.PortfolioState) error
}

type tradeLog interface {
	Append(rec domain.TradeRecord) (rollback func() error, err error)
}

// Ledger owns the portfolio state. All mutations are serialized and persisted
// before they become visible.
type Ledger struct {
	mu     sync.Mutex
	store  stateStore
	log    tradeLog
	feeBps float64
	logger *zap.Logger
	state  domain.PortfolioState
	now    func() time.Time
}

// New loads the current state and returns a ledger.
func New(store stateStore, log tradeLog, feeBps float64, logger *zap.Logger) *Ledger {
	if feeBps < 0 {
		feeBps = DefaultFeeBps
	}

	l := &Ledger{
		store:  store,
		log:    log,
		feeBps: feeBps,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	l.state = l.Load()

	return l
}

// Load reads the persisted state and makes it current. It never fails:
// a missing file yields the seed state and a corrupt file yields the seed
// state plus an error log, since balances are silently reset in that case.
func (l *Ledger) Load() domain.PortfolioState {
	l.mu.Lock()
	defer l.mu.Unlock()

	loaded, err := l.store.Load()
	switch {
	case err != nil && errors.Is(err, portfolio.ErrCorrupt):
		l.logger.Error("Portfolio state corrupt, falling back to defaults", zap.Error(err))
		l.state = domain.DefaultPortfolioState()
	case err != nil:
		l.logger.Error("Failed to read portfolio state, falling back to defaults", zap.Error(err))
		l.state = domain.DefaultPortfolioState()
	case loaded == nil:
		l.state = domain.DefaultPortfolioState()
	default:
		l.state = *loaded
	}

	return l.state.Clone()
}

// Reload replaces the in-memory state with the persisted one. The runner calls
// it once the single-writer lease is held, because another process may have
// traded since this ledger last read the file. On error the in-memory state
// is kept.
func (l *Ledger) Reload() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	loaded, err := l.store.Load()
	if err != nil {
		return errors.Wrap(err, "reload portfolio state")
	}
	if loaded != nil {
		l.state = *loaded
	}

	return nil
}

// Snapshot returns a copy of the current state.
func (l *Ledger) Snapshot() domain.PortfolioState {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state.Clone()
}

// FeeBps returns the configured fee rate in basis points.
func (l *Ledger) FeeBps() float64 {
	return l.feeBps
}

// ApplyTrade fills a trade against the portfolio. The trade log row and the
// state change are committed together or not at all.
func (l *Ledger) ApplyTrade(side domain.Side, price, qty float64, source, note string) (domain.TradeRecord, error) {
	if !(price > 0) || !(qty > 0) || math.IsInf(price, 0) || math.IsInf(qty, 0) {
		return domain.TradeRecord{}, errors.Wrapf(ErrInvalidTrade, "price %v qty %v", price, qty)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	notional := price * qty
	fee := notional * l.feeBps / 10000
	next := l.state.Clone()

	switch side {
	case domain.SideBuy:
		cost := notional + fee
		if next.CashUSD+epsUSD < cost {
			return domain.TradeRecord{}, errors.Wrapf(ErrInsufficientCash, "have %.2f need %.2f", next.CashUSD, cost)
		}
		next.CashUSD = clampZero(next.CashUSD - cost)
		next.BTC += qty
	case domain.SideSell:
		if next.BTC+epsBTC < qty {
			return domain.TradeRecord{}, errors.Wrapf(ErrInsufficientPosition, "have %.8f need %.8f", next.BTC, qty)
		}
		next.BTC = clampZero(next.BTC - qty)
		next.CashUSD += notional - fee
		if next.BTC <= epsBTC {
			next.ClearProtection()
		} else if next.ProtectedQty != nil && *next.ProtectedQty > next.BTC {
			left := next.BTC
			next.ProtectedQty = &left
		}
	default:
		return domain.TradeRecord{}, errors.Wrapf(ErrInvalidTrade, "side %q", side)
	}

	rec := domain.TradeRecord{
		Time:   l.now(),
		Side:   side,
		Source: source,
		Price:  price,
		QtyBTC: qty,
		FeeUSD: fee,
		Note:   note,
	}

	rollback, err := l.log.Append(rec)
	if err != nil {
		return domain.TradeRecord{}, errors.Wrap(err, "append trade record")
	}

	if err := l.store.Save(next); err != nil {
		if rbErr := rollback(); rbErr != nil {
			l.logger.Error("Failed to roll back trade record", zap.Error(rbErr))
		}
		return domain.TradeRecord{}, errors.Wrap(err, "persist portfolio state")
	}

	l.state = next

	l.logger.Info("Trade applied",
		zap.String("side", string(side)),
		zap.String("source", source),
		zap.Float64("price", price),
		zap.Float64("qty_btc", qty),
		zap.Float64("fee_usd", fee),
		zap.Float64("cash_usd", next.CashUSD),
		zap.Float64("btc", next.BTC),
	)

	return rec, nil
}

// RollDay starts a new accounting day when now is past the stored UTC date.
// price marks the day-start equity used by the daily loss cap.
func (l *Ledger) RollDay(now time.Time, price float64) error {
	return l.mutate(func(s *domain.PortfolioState) bool {
		return rollDay(s, now, price)
	})
}

// MarkTrade updates cooldown markers and daily counters after an accepted
// advisor trade.
func (l *Ledger) MarkTrade(side domain.Side, conf, price float64, now time.Time) error {
	return l.mark(side, &conf, price, now)
}

// MarkFill updates cooldown markers and daily counters after a DCA lot or a
// stop exit. LastConf keeps the last advisor confidence, so the flip check
// never compares against a fill that had no confidence.
func (l *Ledger) MarkFill(side domain.Side, price float64, now time.Time) error {
	return l.mark(side, nil, price, now)
}

func (l *Ledger) mark(side domain.Side, conf *float64, price float64, now time.Time) error {
	return l.mutate(func(s *domain.PortfolioState) bool {
		rollDay(s, now, price)

		ts := now.UTC()
		sideCopy := side
		s.TradesToday++
		s.LastTradeTS = &ts
		s.LastSide = &sideCopy
		if conf != nil {
			confCopy := *conf
			s.LastConf = &confCopy
		}
		if side == domain.SideBuy {
			s.LastBuyTS = &ts
		} else {
			s.LastSellTS = &ts
		}
		return true
	})
}

// RecordBuySpend adds notional to today's buy budget usage.
func (l *Ledger) RecordBuySpend(usd float64, now time.Time) error {
	return l.mutate(func(s *domain.PortfolioState) bool {
		rollDay(s, now, 0)
		s.BuySpendTodayUSD += usd
		return true
	})
}

// SetDCAAnchor stores the last DCA fill.
func (l *Ledger) SetDCAAnchor(price float64, now time.Time) error {
	return l.mutate(func(s *domain.PortfolioState) bool {
		ts := now.UTC()
		p := price
		s.LastDCAPrice = &p
		s.LastDCATS = &ts
		return true
	})
}

// SetProtection moves the stop and take-profit to the levels of the latest
// advisor buy and adds qty to the covered quantity.
func (l *Ledger) SetProtection(stop, takeProfit, qty float64) error {
	return l.mutate(func(s *domain.PortfolioState) bool {
		st, tp := stop, takeProfit
		covered := qty
		if s.StopPrice != nil && s.ProtectedQty != nil {
			covered += *s.ProtectedQty
		}
		if covered > s.BTC {
			covered = s.BTC
		}
		s.StopPrice = &st
		s.TakeProfit = &tp
		s.ProtectedQty = &covered
		return true
	})
}

// ClearProtection removes stop and take-profit levels.
func (l *Ledger) ClearProtection() error {
	return l.mutate(func(s *domain.PortfolioState) bool {
		if s.StopPrice == nil && s.TakeProfit == nil && s.ProtectedQty == nil {
			return false
		}
		s.ClearProtection()
		return true
	})
}

// mutate applies fn to a copy and persists it when fn reports a change.
func (l *Ledger) mutate(fn func(s *domain.PortfolioState) bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.state.Clone()
	if !fn(&next) {
		return nil
	}

	if err := l.store.Save(next); err != nil {
		return errors.Wrap(err, "persist portfolio state")
	}
	l.state = next

	return nil
}

func rollDay(s *domain.PortfolioState, now time.Time, price float64) bool {
	if s.IsCurrentDay(now) {
		return false
	}

	s.TradesTodayDate = domain.DayKey(now)
	s.TradesToday = 0
	s.BuySpendTodayUSD = 0
	if price > 0 {
		s.DayStartEquityUSD = s.Equity(price)
	} else {
		s.DayStartEquityUSD = s.CashUSD
	}

	return true
}

func clampZero(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
