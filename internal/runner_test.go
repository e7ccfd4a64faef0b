package internal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/btcagent/internal/domain"
	"github.com/vadiminshakov/btcagent/internal/events"
	"github.com/vadiminshakov/btcagent/internal/metrics"
	"github.com/vadiminshakov/btcagent/internal/services/advisor"
	"github.com/vadiminshakov/btcagent/internal/services/guardrails"
	"github.com/vadiminshakov/btcagent/internal/services/ledger"
	"github.com/vadiminshakov/btcagent/internal/services/market/feed"
	"github.com/vadiminshakov/btcagent/internal/services/normalizer"
	"github.com/vadiminshakov/btcagent/internal/services/sizer"
	"github.com/vadiminshakov/btcagent/internal/services/strategy/dca"
	"github.com/vadiminshakov/btcagent/internal/services/trader"
	"github.com/vadiminshakov/btcagent/internal/storage/portfolio"
)

var tickNow = time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)

// flatCandles closes at price with a constant 200 range, so ATR14 is 200 and RSI14 is 0.
func flatCandles(n int, price float64) []domain.Candle {
	out := make([]domain.Candle, n)
	start := tickNow.Add(-time.Duration(n) * 30 * time.Minute)
	for i := range out {
		out[i] = domain.Candle{
			Time:   start.Add(time.Duration(i) * 30 * time.Minute),
			Open:   price,
			High:   price + 100,
			Low:    price - 100,
			Close:  price,
			Volume: 1,
		}
	}
	return out
}

type fakeFeed struct {
	mu        sync.Mutex
	candles   []domain.Candle
	err       error
	regimeErr error
	requests  []feed.Request
}

func (f *fakeFeed) Fetch(_ context.Context, req feed.Request) ([]domain.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if req.IntervalMinutes != 30 {
		if f.regimeErr != nil {
			return nil, f.regimeErr
		}
		return f.candles, nil
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.candles, nil
}

type fakeAdvisor struct {
	raw   domain.RawDecision
	err   error
	calls int
}

func (a *fakeAdvisor) Name() string { return "fake" }

func (a *fakeAdvisor) Ask(context.Context, advisor.Input) (domain.RawDecision, error) {
	a.calls++
	return a.raw, a.err
}

type fakeJournal struct {
	traces []domain.DecisionTrace
	equity []domain.EquitySnapshot
}

func (j *fakeJournal) SaveTrace(t domain.DecisionTrace) error {
	j.traces = append(j.traces, t)
	return nil
}

func (j *fakeJournal) SaveEquity(s domain.EquitySnapshot) error {
	j.equity = append(j.equity, s)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	trades []domain.TradeRecord
}

func (n *fakeNotifier) NotifyTrade(_ context.Context, rec domain.TradeRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.trades = append(n.trades, rec)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.trades)
}

type heldLease struct{}

func (heldLease) Acquire(context.Context) (bool, error) { return false, nil }
func (heldLease) Release(context.Context) error         { return nil }

type fixture struct {
	dir      string
	runner   *Runner
	ledger   *ledger.Ledger
	feed     *fakeFeed
	advisor  *fakeAdvisor
	journal  *fakeJournal
	notifier *fakeNotifier
	metrics  *metrics.Registry
	trades   chan events.TradeEvent
}

func newFixture(t *testing.T, raw domain.RawDecision, mutate func(cfg *RunnerConfig, deps *RunnerDeps)) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := portfolio.NewStore(dir)
	require.NoError(t, err)
	tradeLog, err := ledger.NewCSVTradeLog(dir)
	require.NoError(t, err)
	l := ledger.New(store, tradeLog, ledger.DefaultFeeBps, zap.NewNop())

	f := &fixture{
		dir:      dir,
		ledger:   l,
		feed:     &fakeFeed{candles: flatCandles(60, 50000), regimeErr: errors.New("regime feed down")},
		advisor:  &fakeAdvisor{raw: raw},
		journal:  &fakeJournal{},
		notifier: &fakeNotifier{},
		metrics:  metrics.New(),
	}
	broadcaster := events.NewTradeBroadcaster(8)
	f.trades = broadcaster.Subscribe()

	dcaCfg := dca.DefaultConfig()
	dcaCfg.Enabled = false
	cfg := RunnerConfig{
		Pair:          domain.Pair{From: "BTC", To: "USDT"},
		CandleMinutes: 30,
		LookbackDays:  30,
		Guardrails:    guardrails.DefaultConfig(),
		Normalizer:    normalizer.DefaultDefaults(),
		Sizer:         sizer.New(50),
		DCA:           dcaCfg,
	}
	deps := RunnerDeps{
		Feed:     f.feed,
		Advisor:  f.advisor,
		Ledger:   l,
		Executor: trader.NewPaperExecutor(l),
		Notifier: f.notifier,
		Journal:  f.journal,
		Metrics:  f.metrics,
		Events:   broadcaster,
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	f.runner = NewRunner(zap.NewNop(), cfg, deps)
	f.runner.now = func() time.Time { return tickNow }
	return f
}

func (f *fixture) tick(t *testing.T) (TickResult, error) {
	t.Helper()
	res, err := f.runner.Tick(context.Background())
	f.runner.Wait()
	return res, err
}

func TestRunner_Hold(t *testing.T) {
	f := newFixture(t, domain.RawDecision{"state": "consolidation", "action": "hold", "confidence": 0.55}, nil)

	res, err := f.tick(t)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeHold, res.Outcome)
	assert.Empty(t, res.Trades)
	assert.Nil(t, res.Regime, "regime is only needed for trades")

	require.Len(t, f.journal.traces, 1)
	trace := f.journal.traces[0]
	assert.Equal(t, res.TickID, trace.TickID)
	require.NotNil(t, trace.Observation)
	assert.Equal(t, 50000.0, trace.Observation.Price)
	assert.InDelta(t, 200, trace.Observation.ATR14, 1e-9)

	require.Len(t, f.journal.equity, 1)
	assert.Equal(t, 10000.0, f.journal.equity[0].EquityUSD)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Ticks.WithLabelValues(domain.OutcomeHold)))

	s := f.ledger.Snapshot()
	assert.Equal(t, domain.DayKey(tickNow), s.TradesTodayDate)
	assert.Equal(t, 10000.0, s.DayStartEquityUSD)
}

func TestRunner_FeedFailureIsNoData(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.feed.err = errors.New("all sources down")

	res, err := f.tick(t)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoData))
	assert.Equal(t, domain.OutcomeError, res.Outcome)
	assert.Zero(t, f.advisor.calls)

	assert.Equal(t, domain.DefaultPortfolioState(), f.ledger.Snapshot())
	require.Len(t, f.journal.traces, 1)
	assert.Equal(t, domain.OutcomeError, f.journal.traces[0].Outcome)
	assert.Empty(t, f.journal.equity)
}

func TestRunner_BuyApproved(t *testing.T) {
	f := newFixture(t, domain.RawDecision{
		"state": "dip", "action": "buy", "confidence": 0.9, "size_usd": 300, "stop_atr_k": 1.3, "reason_short": "oversold bounce",
	}, nil)

	res, err := f.tick(t)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeTraded, res.Outcome, res.Reason)
	require.Len(t, res.Trades, 1)

	rec := res.Trades[0]
	assert.Equal(t, domain.SideBuy, rec.Side)
	assert.Equal(t, domain.SourceLLM, rec.Source)
	assert.Equal(t, "oversold bounce", rec.Note)
	assert.InDelta(t, 0.00081818, rec.QtyBTC, 1e-12)

	require.NotNil(t, res.Regime)
	assert.Equal(t, domain.RegimeChop, res.Regime.Label)
	assert.Equal(t, ReasonRegimeFeedError, res.Regime.Reason)

	s := f.ledger.Snapshot()
	assert.InDelta(t, 0.00081818, s.BTC, 1e-12)
	assert.Equal(t, 1, s.TradesToday)
	assert.InDelta(t, rec.Notional(), s.BuySpendTodayUSD, 1e-9)
	require.NotNil(t, s.StopPrice)
	assert.InDelta(t, 50000-1.2*200, *s.StopPrice, 1e-9)
	require.NotNil(t, s.TakeProfit)
	assert.InDelta(t, 50000+1.8*200, *s.TakeProfit, 1e-9)
	require.NotNil(t, s.LastConf)
	assert.Equal(t, 0.9, *s.LastConf)

	assert.Equal(t, 1, f.notifier.count())
	select {
	case ev := <-f.trades:
		assert.Equal(t, rec, ev.Trade)
	default:
		t.Fatal("trade event not published")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Trades.WithLabelValues("BUY", domain.SourceLLM)))

	t.Run("second buy hits cooldown", func(t *testing.T) {
		res, err := f.tick(t)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeSkipped, res.Outcome)
		assert.Contains(t, res.Reason, "cooldown BUY")
		assert.Equal(t, 1, f.ledger.Snapshot().TradesToday)
	})
}

func TestRunner_GatesReject(t *testing.T) {
	f := newFixture(t, domain.RawDecision{"state": "dip", "action": "buy", "confidence": 0.9}, func(cfg *RunnerConfig, _ *RunnerDeps) {
		cfg.Guardrails.GlobalPause = true
	})

	res, err := f.tick(t)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSkipped, res.Outcome)
	assert.Equal(t, "global_pause_switch", res.Reason)
	assert.Empty(t, res.Trades)
	assert.Equal(t, 10000.0, f.ledger.Snapshot().CashUSD)
	assert.Zero(t, f.notifier.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.GateRejects.WithLabelValues(guardrails.GateGlobalPause)))
}

func TestRunner_AdvisorErrorFallsBackToIndicators(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.advisor.err = errors.New("model timeout")

	res, err := f.tick(t)
	require.NoError(t, err)
	require.NotNil(t, res.Decision)
	// flat closes give RSI 0, which reads as a dip
	assert.Equal(t, domain.StateDip, res.Decision.State)
	assert.Equal(t, domain.ActionBuy, res.Decision.Action)
	assert.Equal(t, 0.66, res.Decision.Confidence)
	assert.Equal(t, domain.OutcomeSkipped, res.Outcome)
	assert.Equal(t, "chop gate conf=0.66/0.75", res.Reason)
}

func TestRunner_SellWithoutPosition(t *testing.T) {
	f := newFixture(t, domain.RawDecision{"state": "peak", "action": "sell", "confidence": 0.9}, nil)

	res, err := f.tick(t)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSkipped, res.Outcome)
	assert.Equal(t, ReasonNoPosition, res.Reason)
}

func TestRunner_LeaseHeld(t *testing.T) {
	f := newFixture(t, nil, func(_ *RunnerConfig, deps *RunnerDeps) {
		deps.Lease = heldLease{}
	})

	res, err := f.tick(t)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSkipped, res.Outcome)
	assert.Equal(t, ReasonLeaseHeld, res.Reason)
	assert.Empty(t, f.feed.requests)
}

func TestRunner_DCAFirstLot(t *testing.T) {
	f := newFixture(t, domain.RawDecision{"state": "consolidation", "action": "hold", "confidence": 0.55}, func(cfg *RunnerConfig, _ *RunnerDeps) {
		cfg.DCA = dca.DefaultConfig()
	})

	res, err := f.tick(t)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDCA, res.Outcome)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, domain.SourceDCA, res.Trades[0].Source)
	assert.Equal(t, "auto dca: first lot", res.Trades[0].Note)
	assert.InDelta(t, 0.001, res.Trades[0].QtyBTC, 1e-12)

	s := f.ledger.Snapshot()
	require.NotNil(t, s.LastDCAPrice)
	assert.Equal(t, 50000.0, *s.LastDCAPrice)
	assert.InDelta(t, 50, s.BuySpendTodayUSD, 1e-9)
	assert.Nil(t, s.StopPrice)
	assert.Equal(t, 1, f.notifier.count())

	t.Run("no second lot without a drop", func(t *testing.T) {
		res, err := f.tick(t)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeHold, res.Outcome)
		assert.Empty(t, res.Trades)
	})
}

func TestRunner_DCABlockedByCashFloor(t *testing.T) {
	f := newFixture(t, domain.RawDecision{"action": "hold"}, func(cfg *RunnerConfig, _ *RunnerDeps) {
		cfg.DCA = dca.DefaultConfig()
		cfg.Guardrails.CashFloorUSD = 9990
	})

	res, err := f.tick(t)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeHold, res.Outcome)
	assert.Empty(t, res.Trades)
	assert.Nil(t, f.ledger.Snapshot().LastDCAPrice)
}

func TestRunner_DCAGating(t *testing.T) {
	t.Run("global pause blocks the lot", func(t *testing.T) {
		f := newFixture(t, domain.RawDecision{"action": "hold"}, func(cfg *RunnerConfig, _ *RunnerDeps) {
			cfg.DCA = dca.DefaultConfig()
			cfg.Guardrails.GlobalPause = true
		})

		res, err := f.tick(t)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeHold, res.Outcome)
		assert.Empty(t, res.Trades)
	})

	t.Run("trade cooldown does not apply", func(t *testing.T) {
		f := newFixture(t, domain.RawDecision{"action": "hold"}, func(cfg *RunnerConfig, _ *RunnerDeps) {
			cfg.DCA = dca.DefaultConfig()
		})
		require.NoError(t, f.ledger.MarkTrade(domain.SideBuy, 0.9, 50000, tickNow.Add(-time.Second)))

		res, err := f.tick(t)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeDCA, res.Outcome)
		require.Len(t, res.Trades, 1)

		st := f.ledger.Snapshot()
		require.NotNil(t, st.LastConf)
		assert.Equal(t, 0.9, *st.LastConf, "DCA lots keep the advisor confidence")
	})

	t.Run("flip right after a lot needs the advisor confidence margin", func(t *testing.T) {
		f := newFixture(t, domain.RawDecision{"state": "peak", "action": "sell", "confidence": 0.85}, func(cfg *RunnerConfig, _ *RunnerDeps) {
			cfg.DCA = dca.DefaultConfig()
		})
		require.NoError(t, f.ledger.MarkTrade(domain.SideSell, 0.8, 50000, tickNow.Add(-10*time.Minute)))

		res, err := f.tick(t)
		require.NoError(t, err)
		require.Len(t, res.Trades, 1, "only the DCA lot fills")
		assert.Equal(t, domain.SourceDCA, res.Trades[0].Source)
		assert.Contains(t, res.Reason, "cooldown")
	})
}

func TestRunner_StopHit(t *testing.T) {
	f := newFixture(t, domain.RawDecision{"state": "consolidation", "action": "hold"}, nil)
	_, err := f.ledger.ApplyTrade(domain.SideBuy, 51000, 0.01, domain.SourceLLM, "entry")
	require.NoError(t, err)
	require.NoError(t, f.ledger.SetProtection(50500, 52000, 0.01))

	res, err := f.tick(t)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeStop, res.Outcome)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, domain.SourceATRStop, res.Trades[0].Source)
	assert.Equal(t, domain.SideSell, res.Trades[0].Side)
	assert.Equal(t, 0.01, res.Trades[0].QtyBTC)
	assert.Equal(t, "stop 50500.00 hit at 50000.00", res.Trades[0].Note)

	s := f.ledger.Snapshot()
	assert.Zero(t, s.BTC)
	assert.Nil(t, s.StopPrice)
	assert.Nil(t, s.TakeProfit)
	assert.Equal(t, 1, f.advisor.calls, "the tick continues to the advisor")
}

func (f *fixture) at(offset time.Duration) {
	f.runner.now = func() time.Time { return tickNow.Add(offset) }
}

func TestRunner_FullSellDropsStaleStop(t *testing.T) {
	f := newFixture(t, domain.RawDecision{"state": "dip", "action": "buy", "confidence": 0.9}, nil)

	res, err := f.tick(t)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeTraded, res.Outcome, res.Reason)
	require.NotNil(t, f.ledger.Snapshot().StopPrice)

	f.advisor.raw = domain.RawDecision{"state": "peak", "action": "sell", "confidence": 0.9}
	f.at(10 * time.Minute)
	res, err = f.tick(t)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeTraded, res.Outcome, res.Reason)

	s := f.ledger.Snapshot()
	assert.Zero(t, s.BTC)
	assert.Nil(t, s.StopPrice, "closing sell clears the stop")
	assert.Nil(t, s.TakeProfit)

	_, err = f.ledger.ApplyTrade(domain.SideBuy, 49000, 0.001, domain.SourceDCA, "auto dca: first lot")
	require.NoError(t, err)

	f.advisor.raw = domain.RawDecision{"state": "consolidation", "action": "hold"}
	f.feed.candles = flatCandles(60, 49000)
	f.at(20 * time.Minute)
	res, err = f.tick(t)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeHold, res.Outcome)
	assert.Empty(t, res.Trades)
	assert.Equal(t, 0.001, f.ledger.Snapshot().BTC)
}

func TestRunner_StopKeepsDCALots(t *testing.T) {
	f := newFixture(t, domain.RawDecision{"state": "dip", "action": "buy", "confidence": 0.9}, nil)

	res, err := f.tick(t)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeTraded, res.Outcome, res.Reason)
	bought := res.Trades[0].QtyBTC

	_, err = f.ledger.ApplyTrade(domain.SideBuy, 49900, 0.001, domain.SourceDCA, "auto dca: first lot")
	require.NoError(t, err)

	f.advisor.raw = domain.RawDecision{"state": "consolidation", "action": "hold"}
	f.feed.candles = flatCandles(60, 49000)
	f.at(10 * time.Minute)
	res, err = f.tick(t)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeStop, res.Outcome)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, domain.SourceATRStop, res.Trades[0].Source)
	assert.InDelta(t, bought, res.Trades[0].QtyBTC, 1e-12)

	s := f.ledger.Snapshot()
	assert.InDelta(t, 0.001, s.BTC, 1e-12)
	assert.Nil(t, s.StopPrice)
}

func TestRunner_StopATRKTogglesProtection(t *testing.T) {
	tests := []struct {
		name  string
		k     any
		armed bool
	}{
		{name: "advisor k ignored for distance", k: 3.0, armed: true},
		{name: "disabled", k: nil, armed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, domain.RawDecision{"state": "dip", "action": "buy", "confidence": 0.9, "stop_atr_k": tt.k}, nil)

			res, err := f.tick(t)
			require.NoError(t, err)
			require.Equal(t, domain.OutcomeTraded, res.Outcome, res.Reason)

			s := f.ledger.Snapshot()
			if !tt.armed {
				assert.Nil(t, s.StopPrice)
				assert.Nil(t, s.ProtectedQty)
				return
			}
			require.NotNil(t, s.StopPrice)
			assert.InDelta(t, 50000-1.2*200, *s.StopPrice, 1e-9)
			assert.InDelta(t, res.Trades[0].QtyBTC, s.ProtectedBTC(), 1e-12)
		})
	}
}

func TestRunner_ReloadsStateAfterLease(t *testing.T) {
	f := newFixture(t, domain.RawDecision{"state": "consolidation", "action": "hold"}, nil)

	other, err := portfolio.NewStore(f.dir)
	require.NoError(t, err)
	written := domain.DefaultPortfolioState()
	written.CashUSD = 9000
	written.BTC = 0.02
	require.NoError(t, other.Save(written))

	res, err := f.tick(t)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeHold, res.Outcome)

	s := f.ledger.Snapshot()
	assert.Equal(t, 9000.0, s.CashUSD)
	assert.Equal(t, 0.02, s.BTC)
	require.Len(t, f.journal.equity, 1)
	assert.Equal(t, 9000+0.02*50000, f.journal.equity[0].EquityUSD)
}

func TestRunner_ExecutorFailureIsNoop(t *testing.T) {
	f := newFixture(t, domain.RawDecision{"state": "dip", "action": "buy", "confidence": 0.9}, func(_ *RunnerConfig, deps *RunnerDeps) {
		deps.Executor = failingExecutor{}
	})

	res, err := f.tick(t)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSkipped, res.Outcome)
	assert.Equal(t, "execution_failed", res.Reason)
	assert.Equal(t, 0, f.ledger.Snapshot().TradesToday)
}

type failingExecutor struct{}

func (failingExecutor) Name() string { return "failing" }

func (failingExecutor) Execute(context.Context, trader.Order) (domain.TradeRecord, error) {
	return domain.TradeRecord{}, ledger.ErrInsufficientCash
}
