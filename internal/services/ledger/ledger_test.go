package ledger

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/btcagent/internal/domain"
	"github.com/vadiminshakov/btcagent/internal/storage/portfolio"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fixture struct {
	dir    string
	store  *portfolio.Store
	log    *CSVTradeLog
	ledger *Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := portfolio.NewStore(dir)
	require.NoError(t, err)
	tradeLog, err := NewCSVTradeLog(dir)
	require.NoError(t, err)

	return &fixture{
		dir:    dir,
		store:  store,
		log:    tradeLog,
		ledger: New(store, tradeLog, DefaultFeeBps, zap.NewNop()),
	}
}

type failingStore struct {
	state *domain.PortfolioState
	err   error
}

func (s *failingStore) Load() (*domain.PortfolioState, error) { return s.state, nil }
func (s *failingStore) Save(domain.PortfolioState) error     { return s.err }

func TestLedger_SeedState(t *testing.T) {
	f := newFixture(t)

	s := f.ledger.Snapshot()
	assert.Equal(t, 10000.0, s.CashUSD)
	assert.Zero(t, s.BTC)
	assert.Nil(t, s.LastTradeTS)
	assert.Nil(t, s.LastDCAPrice)
	assert.Zero(t, s.TradesToday)
}

func TestLedger_ApplyTrade_Buy(t *testing.T) {
	f := newFixture(t)

	rec, err := f.ledger.ApplyTrade(domain.SideBuy, 50000, 0.000818, domain.SourceLLM, "dip -> buy")
	require.NoError(t, err)

	notional := 50000 * 0.000818
	fee := notional * 10 / 10000
	assert.InDelta(t, fee, rec.FeeUSD, 1e-12)
	assert.Equal(t, domain.SourceLLM, rec.Source)

	s := f.ledger.Snapshot()
	assert.InDelta(t, 10000-notional-fee, s.CashUSD, 1e-9)
	assert.InDelta(t, 0.000818, s.BTC, 1e-15)

	records, err := f.log.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.SideBuy, records[0].Side)
	assert.Equal(t, "LLM", records[0].Source)
	assert.InDelta(t, 0.000818, records[0].QtyBTC, 1e-12)
	assert.Equal(t, "dip -> buy", records[0].Note)

	reopened := New(f.store, f.log, DefaultFeeBps, zap.NewNop())
	assert.InDelta(t, s.CashUSD, reopened.Snapshot().CashUSD, 1e-9)
}

func TestLedger_ApplyTrade_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		side  domain.Side
		price float64
		qty   float64
		want  error
	}{
		{name: "buy beyond cash", side: domain.SideBuy, price: 50000, qty: 1, want: ErrInsufficientCash},
		{name: "sell without position", side: domain.SideSell, price: 50000, qty: 0.1, want: ErrInsufficientPosition},
		{name: "zero qty", side: domain.SideBuy, price: 50000, qty: 0, want: ErrInvalidTrade},
		{name: "negative price", side: domain.SideSell, price: -1, qty: 1, want: ErrInvalidTrade},
		{name: "unknown side", side: domain.Side("HOLD"), price: 1, qty: 1, want: ErrInvalidTrade},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			before := f.ledger.Snapshot()

			_, err := f.ledger.ApplyTrade(tt.side, tt.price, tt.qty, domain.SourceLLM, "")
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), err.Error())

			assert.Equal(t, before, f.ledger.Snapshot())
			records, err := f.log.ReadAll()
			require.NoError(t, err)
			assert.Empty(t, records)
		})
	}
}

func TestLedger_ApplyTrade_EpsilonTolerance(t *testing.T) {
	f := newFixture(t)

	// cost exceeds cash by less than the USD epsilon
	price := 100.0
	qty := (10000 + 5e-9) / (price * 1.001)
	_, err := f.ledger.ApplyTrade(domain.SideBuy, price, qty, domain.SourceLLM, "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, f.ledger.Snapshot().CashUSD, 0.0)

	held := f.ledger.Snapshot().BTC
	_, err = f.ledger.ApplyTrade(domain.SideSell, price, held+5e-13, domain.SourceLLM, "")
	require.NoError(t, err)
	assert.Zero(t, f.ledger.Snapshot().BTC)
}

func TestLedger_EquityChangesOnlyByFee(t *testing.T) {
	f := newFixture(t)
	price := 42000.0

	before := f.ledger.Snapshot().Equity(price)
	buy, err := f.ledger.ApplyTrade(domain.SideBuy, price, 0.05, domain.SourceLLM, "")
	require.NoError(t, err)
	assert.InDelta(t, before-buy.FeeUSD, f.ledger.Snapshot().Equity(price), 1e-6)

	mid := f.ledger.Snapshot().Equity(price)
	sell, err := f.ledger.ApplyTrade(domain.SideSell, price, 0.02, domain.SourceLLM, "")
	require.NoError(t, err)
	assert.InDelta(t, mid-sell.FeeUSD, f.ledger.Snapshot().Equity(price), 1e-6)
}

func TestLedger_RandomSequenceKeepsBalancesNonNegative(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 300; i++ {
		price := 20000 + rng.Float64()*40000
		side := domain.SideBuy
		if rng.Intn(2) == 0 {
			side = domain.SideSell
		}
		qty := rng.Float64() * 0.2

		_, err := f.ledger.ApplyTrade(side, price, qty, domain.SourceLLM, "")
		if err != nil {
			require.True(t,
				errors.Is(err, ErrInsufficientCash) || errors.Is(err, ErrInsufficientPosition) || errors.Is(err, ErrInvalidTrade),
				err.Error())
		}

		s := f.ledger.Snapshot()
		require.GreaterOrEqual(t, s.CashUSD, -epsUSD)
		require.GreaterOrEqual(t, s.BTC, -epsBTC)
	}
}

func TestLedger_PersistFailureRollsBackLog(t *testing.T) {
	dir := t.TempDir()
	tradeLog, err := NewCSVTradeLog(dir)
	require.NoError(t, err)
	store := &failingStore{err: errors.New("disk full")}
	l := New(store, tradeLog, DefaultFeeBps, zap.NewNop())

	_, err = l.ApplyTrade(domain.SideBuy, 50000, 0.001, domain.SourceDCA, "")
	require.Error(t, err)

	assert.Equal(t, 10000.0, l.Snapshot().CashUSD)
	records, err := tradeLog.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLedger_LoadCorruptFallsBackLoudly(t *testing.T) {
	dir := t.TempDir()
	store, err := portfolio.NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "portfolio.json"), []byte{0xde, 0xad, 0xbe, 0xef}, 0o644))
	tradeLog, err := NewCSVTradeLog(dir)
	require.NoError(t, err)

	core, logs := observer.New(zapcore.DebugLevel)
	l := New(store, tradeLog, DefaultFeeBps, zap.New(core))

	assert.Equal(t, domain.DefaultPortfolioState(), l.Snapshot())
	assert.Equal(t, domain.DefaultPortfolioState(), l.Load())

	corrupt := logs.FilterMessage("Portfolio state corrupt, falling back to defaults").All()
	require.Len(t, corrupt, 2)
	assert.Equal(t, zapcore.ErrorLevel, corrupt[0].Level)
}

func TestLedger_MarkTradeAndDayRollover(t *testing.T) {
	f := newFixture(t)
	day1 := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, f.ledger.RollDay(day1, 50000))
	require.NoError(t, f.ledger.MarkTrade(domain.SideBuy, 0.7, 50000, day1))
	require.NoError(t, f.ledger.RecordBuySpend(40, day1))
	require.NoError(t, f.ledger.MarkTrade(domain.SideSell, 0.9, 50000, day1.Add(time.Hour)))

	s := f.ledger.Snapshot()
	assert.Equal(t, 2, s.TradesToday)
	assert.Equal(t, "2025-04-01", s.TradesTodayDate)
	assert.Equal(t, 40.0, s.BuySpendTodayUSD)
	assert.Equal(t, domain.SideSell, *s.LastSide)
	assert.Equal(t, 0.9, *s.LastConf)
	assert.True(t, day1.Equal(*s.LastBuyTS))
	assert.True(t, day1.Add(time.Hour).Equal(*s.LastSellTS))
	assert.Equal(t, 10000.0, s.DayStartEquityUSD)

	day2 := day1.Add(24 * time.Hour)
	require.NoError(t, f.ledger.RollDay(day2, 50000))
	s = f.ledger.Snapshot()
	assert.Zero(t, s.TradesToday)
	assert.Zero(t, s.BuySpendTodayUSD)
	assert.Equal(t, "2025-04-02", s.TradesTodayDate)
	assert.NotNil(t, s.LastTradeTS, "cooldown markers survive the rollover")
}

func TestLedger_MarkFillKeepsAdvisorConfidence(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, f.ledger.MarkTrade(domain.SideSell, 0.8, 50000, now))
	require.NoError(t, f.ledger.MarkFill(domain.SideBuy, 49000, now.Add(time.Minute)))

	s := f.ledger.Snapshot()
	assert.Equal(t, 2, s.TradesToday)
	assert.Equal(t, domain.SideBuy, *s.LastSide)
	assert.True(t, now.Add(time.Minute).Equal(*s.LastTradeTS))
	require.NotNil(t, s.LastConf)
	assert.Equal(t, 0.8, *s.LastConf)

	fresh := newFixture(t)
	require.NoError(t, fresh.ledger.MarkFill(domain.SideBuy, 49000, now))
	assert.Nil(t, fresh.ledger.Snapshot().LastConf)
}

func TestLedger_ReloadSeesOtherWriter(t *testing.T) {
	a := newFixture(t)
	bStore, err := portfolio.NewStore(a.dir)
	require.NoError(t, err)
	bLog, err := NewCSVTradeLog(a.dir)
	require.NoError(t, err)
	b := New(bStore, bLog, DefaultFeeBps, zap.NewNop())

	_, err = a.ledger.ApplyTrade(domain.SideBuy, 50000, 0.001, domain.SourceLLM, "")
	require.NoError(t, err)

	require.NoError(t, b.Reload())
	assert.Equal(t, 0.001, b.Snapshot().BTC)
	_, err = b.ApplyTrade(domain.SideBuy, 50000, 0.001, domain.SourceLLM, "")
	require.NoError(t, err)

	persisted, err := a.store.Load()
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.InDelta(t, 0.002, persisted.BTC, 1e-12)
	assert.InDelta(t, 10000-2*50.05, persisted.CashUSD, 1e-9)

	records, err := a.log.ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 2)

	t.Run("corrupt file keeps the in-memory state", func(t *testing.T) {
		require.NoError(t, os.WriteFile(a.store.Path(), []byte("{oops"), 0o644))
		err := b.Reload()
		require.Error(t, err)
		assert.True(t, errors.Is(err, portfolio.ErrCorrupt))
		assert.InDelta(t, 0.002, b.Snapshot().BTC, 1e-12)
	})
}

func TestLedger_DCAAnchorAndProtection(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

	_, err := f.ledger.ApplyTrade(domain.SideBuy, 50000, 0.01, domain.SourceLLM, "")
	require.NoError(t, err)
	require.NoError(t, f.ledger.SetDCAAnchor(48000, now))
	require.NoError(t, f.ledger.SetProtection(47000, 51000, 0.01))

	s := f.ledger.Snapshot()
	assert.Equal(t, 48000.0, *s.LastDCAPrice)
	assert.True(t, now.Equal(*s.LastDCATS))
	assert.Equal(t, 47000.0, *s.StopPrice)
	assert.Equal(t, 51000.0, *s.TakeProfit)
	assert.Equal(t, 0.01, s.ProtectedBTC())

	require.NoError(t, f.ledger.ClearProtection())
	s = f.ledger.Snapshot()
	assert.Nil(t, s.StopPrice)
	assert.Nil(t, s.TakeProfit)
	assert.Nil(t, s.ProtectedQty)
}

func TestLedger_SellAdjustsProtection(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.ApplyTrade(domain.SideBuy, 50000, 0.004, domain.SourceLLM, "")
	require.NoError(t, err)
	require.NoError(t, f.ledger.SetProtection(49000, 51000, 0.004))
	_, err = f.ledger.ApplyTrade(domain.SideBuy, 50000, 0.002, domain.SourceDCA, "")
	require.NoError(t, err)

	t.Run("partial sell caps the covered quantity", func(t *testing.T) {
		_, err := f.ledger.ApplyTrade(domain.SideSell, 50000, 0.003, domain.SourceLLM, "")
		require.NoError(t, err)

		s := f.ledger.Snapshot()
		require.NotNil(t, s.StopPrice)
		assert.InDelta(t, 0.003, s.ProtectedBTC(), 1e-12)
	})

	t.Run("closing sell clears protection", func(t *testing.T) {
		_, err := f.ledger.ApplyTrade(domain.SideSell, 50000, 0.003, domain.SourceLLM, "")
		require.NoError(t, err)

		s := f.ledger.Snapshot()
		assert.Zero(t, s.BTC)
		assert.Nil(t, s.StopPrice)
		assert.Nil(t, s.TakeProfit)
		assert.Nil(t, s.ProtectedQty)
		assert.Zero(t, s.ProtectedBTC())
	})
}
