package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/btcagent/internal/domain"
	"github.com/vadiminshakov/btcagent/internal/events"
	"github.com/vadiminshakov/btcagent/internal/lease"
	"github.com/vadiminshakov/btcagent/internal/services/advisor"
	"github.com/vadiminshakov/btcagent/internal/services/guardrails"
	"github.com/vadiminshakov/btcagent/internal/services/market/feed"
	"github.com/vadiminshakov/btcagent/internal/services/normalizer"
	"github.com/vadiminshakov/btcagent/internal/services/notifier"
	"github.com/vadiminshakov/btcagent/internal/services/regime"
	"github.com/vadiminshakov/btcagent/internal/services/sizer"
	"github.com/vadiminshakov/btcagent/internal/services/strategy/dca"
	"github.com/vadiminshakov/btcagent/internal/services/strategy/stopwatch"
	"github.com/vadiminshakov/btcagent/internal/services/trader"
	"github.com/vadiminshakov/btcagent/pkg/indicators"
)

// ErrNoData is returned when market data could not be fetched or was unusable. The tick is aborted without state changes.
var ErrNoData = errors.New("no market data")

// Skip reasons recorded when a tick stops early.
const (
	ReasonLeaseHeld       = "lease_held"
	ReasonNoPosition      = "no_position"
	ReasonRegimeFeedError = "regime_feed_error"
)

const (
	indicatorPeriod = 14

	defaultFeedTimeout    = 15 * time.Second
	defaultAdvisorTimeout = 20 * time.Second
	defaultNotifyTimeout  = 10 * time.Second
	defaultRegimeInterval = 5
	defaultRegimeDays     = 3
)

type candleFeed interface {
	Fetch(ctx context.Context, req feed.Request) ([]domain.Candle, error)
}

type portfolioLedger interface {
	Reload() error
	Snapshot() domain.PortfolioState
	RollDay(now time.Time, price float64) error
	MarkTrade(side domain.Side, conf, price float64, now time.Time) error
	MarkFill(side domain.Side, price float64, now time.Time) error
	RecordBuySpend(usd float64, now time.Time) error
	SetDCAAnchor(price float64, now time.Time) error
	SetProtection(stop, takeProfit, qty float64) error
	ClearProtection() error
}

type decisionJournal interface {
	SaveTrace(trace domain.DecisionTrace) error
	SaveEquity(snap domain.EquitySnapshot) error
}

type tickMetrics interface {
	ObserveTick(outcome string, took time.Duration, at time.Time)
	ObserveGates(results []domain.GateResult)
	ObserveTrade(rec domain.TradeRecord)
	SetPortfolio(state domain.PortfolioState, price float64)
	SetRegime(label domain.RegimeLabel)
}

type tradePublisher interface {
	Publish(e events.TradeEvent)
}

// RunnerConfig holds the tick parameters.
type RunnerConfig struct {
	Pair          domain.Pair
	CandleMinutes int
	LookbackDays  int
	// RegimeMinutes and RegimeDays shape the fine-grained series resampled for regime detection.
	RegimeMinutes int
	RegimeDays    int

	Guardrails guardrails.Config
	Normalizer normalizer.Defaults
	Sizer      sizer.Sizer
	DCA        dca.Config

	FeedTimeout    time.Duration
	AdvisorTimeout time.Duration
	NotifyTimeout  time.Duration
}

// RunnerDeps holds the collaborators. Feed, Advisor, Ledger and Executor are required;
// the rest fall back to no-ops.
type RunnerDeps struct {
	Feed     candleFeed
	Advisor  advisor.Advisor
	Detector *regime.Detector
	Ledger   portfolioLedger
	Executor trader.Executor
	Notifier notifier.Notifier
	Journal  decisionJournal
	Metrics  tickMetrics
	Events   tradePublisher
	Lease    lease.Lease
}

// TickResult describes what one tick did.
type TickResult struct {
	TickID   string
	Outcome  string
	Reason   string
	Decision *domain.Decision
	Regime   *domain.RegimeReport
	Gates    []domain.GateResult
	Trades   []domain.TradeRecord
}

// Runner executes the per-tick pipeline: fetch, stop check, DCA, advise,
// normalize, regime, size, gate, execute, account.
type Runner struct {
	cfg      RunnerConfig
	logger   *zap.Logger
	deps     RunnerDeps
	dca      *dca.Strategy
	gates    []guardrails.Gate
	dcaGates []guardrails.Gate
	now      func() time.Time
	pending  sync.WaitGroup
}

// NewRunner wires a runner.
func NewRunner(logger *zap.Logger, cfg RunnerConfig, deps RunnerDeps) *Runner {
	if cfg.FeedTimeout <= 0 {
		cfg.FeedTimeout = defaultFeedTimeout
	}
	if cfg.AdvisorTimeout <= 0 {
		cfg.AdvisorTimeout = defaultAdvisorTimeout
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	if cfg.RegimeMinutes <= 0 {
		cfg.RegimeMinutes = defaultRegimeInterval
	}
	if cfg.RegimeDays <= 0 {
		cfg.RegimeDays = defaultRegimeDays
	}
	if deps.Detector == nil {
		deps.Detector = regime.NewDetector()
	}
	if deps.Notifier == nil {
		deps.Notifier = notifier.Noop{}
	}
	if deps.Lease == nil {
		deps.Lease = lease.Noop{}
	}

	return &Runner{
		cfg:      cfg,
		logger:   logger.With(zap.String("pair", cfg.Pair.String())),
		deps:     deps,
		dca:      dca.New(cfg.DCA),
		gates:    guardrails.Stack(cfg.Guardrails),
		dcaGates: guardrails.DCAStack(cfg.Guardrails),
		now:      time.Now,
	}
}

// Wait blocks until in-flight notifications finish.
func (r *Runner) Wait() {
	r.pending.Wait()
}

// Tick runs one pass of the pipeline. Gate rejections and holds are results;
// errors are reserved for data failures and infrastructure problems.
func (r *Runner) Tick(ctx context.Context) (TickResult, error) {
	start := r.now()
	trace := domain.DecisionTrace{
		TickID:  uuid.NewString(),
		Time:    start.UTC(),
		Pair:    r.cfg.Pair.String(),
		Outcome: domain.OutcomeHold,
	}

	err := r.tick(ctx, &trace, start)
	if err != nil {
		trace.Outcome = domain.OutcomeError
		trace.Reason = err.Error()
	}

	r.finish(trace, start)

	return TickResult{
		TickID:   trace.TickID,
		Outcome:  trace.Outcome,
		Reason:   trace.Reason,
		Decision: trace.Decision,
		Regime:   trace.Regime,
		Gates:    trace.Gates,
		Trades:   trace.Trades,
	}, err
}

func (r *Runner) tick(ctx context.Context, trace *domain.DecisionTrace, now time.Time) error {
	held, err := r.deps.Lease.Acquire(ctx)
	if err != nil {
		return errors.Wrap(err, "lease")
	}
	if !held {
		trace.Outcome = domain.OutcomeSkipped
		trace.Reason = ReasonLeaseHeld
		r.logger.Info("Tick skipped, lease held by another process")
		return nil
	}
	defer func() {
		if err := r.deps.Lease.Release(context.Background()); err != nil {
			r.logger.Warn("Failed to release lease", zap.Error(err))
		}
	}()

	if err := r.deps.Ledger.Reload(); err != nil {
		r.logger.Warn("Failed to reload portfolio state, using last known state", zap.Error(err))
	}

	// FETCH
	candles, err := r.fetch(ctx, r.cfg.CandleMinutes, r.cfg.LookbackDays)
	if err != nil {
		return errors.Wrapf(ErrNoData, "fetch candles: %v", err)
	}
	obs := observe(candles, r.cfg.CandleMinutes, now)
	trace.Observation = &obs

	if err := r.deps.Ledger.RollDay(now, obs.Price); err != nil {
		r.logger.Warn("Failed to roll accounting day", zap.Error(err))
	}

	// STOP_CHECK
	if exit, ok := stopwatch.Check(r.deps.Ledger.Snapshot(), obs.Price); ok {
		r.logger.Info("Stop hit, closing position", zap.Float64("stop", exit.Stop), zap.Float64("price", exit.Price))
		order := trader.Order{Side: domain.SideSell, Price: exit.Price, Qty: exit.Qty, SizeUSD: exit.Qty * exit.Price, Source: domain.SourceATRStop, Note: exit.Note}
		if rec, ok := r.execute(ctx, order); ok {
			if err := r.deps.Ledger.ClearProtection(); err != nil {
				r.logger.Warn("Failed to clear protection", zap.Error(err))
			}
			r.account(rec, nil, now)
			trace.Trades = append(trace.Trades, rec)
			trace.Outcome = domain.OutcomeStop
		}
	}

	// DCA_CHECK
	if intent, ok := r.dca.Evaluate(r.deps.Ledger.Snapshot(), obs.Price, now); ok {
		r.runDCA(ctx, trace, intent, obs, now)
	}

	// ADVISE
	raw := r.advise(ctx, candles, obs)
	trace.Raw = raw

	// NORMALIZE
	dec := normalizer.Normalize(raw, obs, r.cfg.Normalizer)
	trace.Decision = &dec
	side, trade := dec.Action.Side()
	if !trade {
		r.logger.Info("Advisor holds", zap.String("state", string(dec.State)), zap.String("reason", dec.Reason))
		return nil
	}

	// REGIME
	report := r.detectRegime(ctx)
	trace.Regime = &report
	obs.Regime = report.Label

	// SIZE
	state := r.deps.Ledger.Snapshot()
	sized := r.cfg.Sizer.Build(side, obs.Price, dec.Confidence, obs.ATR14)
	sized.SizeUSD = sizer.CapSize(sized.SizeUSD, dec.SizeUSD)

	// GATES
	verdict := guardrails.Evaluate(guardrails.Context{
		Now:        now,
		Side:       side,
		Confidence: dec.Confidence,
		SizeUSD:    sized.SizeUSD,
		Price:      obs.Price,
		ATR:        obs.ATR14,
		Regime:     report.Label,
		Portfolio:  state,
	}, r.gates)
	trace.Gates = verdict.Results
	if r.deps.Metrics != nil {
		r.deps.Metrics.ObserveGates(verdict.Results)
	}
	if !verdict.Passed {
		r.logger.Info("Gates rejected trade",
			zap.String("side", string(side)),
			zap.Float64("confidence", dec.Confidence),
			zap.String("reasons", verdict.FailureReasons()),
		)
		r.skip(trace, verdict.Reason)
		return nil
	}

	// EXECUTE
	qty := sizer.Quantity(side, sized.SizeUSD, obs.Price, state.BTC)
	if qty <= 0 {
		r.skip(trace, ReasonNoPosition)
		return nil
	}
	rec, ok := r.execute(ctx, trader.Order{
		Side:    side,
		Price:   obs.Price,
		Qty:     qty,
		SizeUSD: sized.SizeUSD,
		Source:  domain.SourceLLM,
		Note:    dec.Reason,
	})
	if !ok {
		r.skip(trace, "execution_failed")
		return nil
	}

	// ACCOUNT
	// stop_atr_k only toggles protection; levels come from the sizer.
	if side == domain.SideBuy && dec.StopATRK != nil {
		if err := r.deps.Ledger.SetProtection(sized.Stop, sized.TakeProfit, rec.QtyBTC); err != nil {
			r.logger.Warn("Failed to store protection levels", zap.Error(err))
		}
	}
	r.account(rec, &dec.Confidence, now)
	trace.Trades = append(trace.Trades, rec)
	trace.Outcome = domain.OutcomeTraded
	trace.Reason = fmt.Sprintf("%s %s", dec.State, dec.Action)

	return nil
}

// skip marks the advisor trade as not executed unless an earlier stage of the
// tick already traded.
func (r *Runner) skip(trace *domain.DecisionTrace, reason string) {
	if trace.Outcome == domain.OutcomeHold {
		trace.Outcome = domain.OutcomeSkipped
	}
	trace.Reason = reason
}

func (r *Runner) fetch(ctx context.Context, minutes, days int) ([]domain.Candle, error) {
	fctx, cancel := context.WithTimeout(ctx, r.cfg.FeedTimeout)
	defer cancel()

	candles, err := r.deps.Feed.Fetch(fctx, feed.Request{Pair: r.cfg.Pair, LookbackDays: days, IntervalMinutes: minutes})
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, feed.ErrInsufficientData
	}
	return candles, nil
}

func observe(candles []domain.Candle, minutes int, now time.Time) domain.Observation {
	obs := domain.Observation{
		Time:            now.UTC(),
		Price:           candles[len(candles)-1].Close,
		RSI14:           50,
		IntervalMinutes: minutes,
	}
	if atr, ok := indicators.ATR(candles, indicatorPeriod); ok {
		obs.ATR14 = atr
	}
	if rsi, ok := indicators.LastRSI(candles, indicatorPeriod); ok {
		obs.RSI14 = rsi
	}
	return obs
}

func (r *Runner) runDCA(ctx context.Context, trace *domain.DecisionTrace, intent dca.Intent, obs domain.Observation, now time.Time) {
	verdict := guardrails.Evaluate(guardrails.Context{
		Now:       now,
		Side:      domain.SideBuy,
		SizeUSD:   intent.LotUSD,
		Price:     obs.Price,
		ATR:       obs.ATR14,
		Portfolio: r.deps.Ledger.Snapshot(),
	}, r.dcaGates)
	if !verdict.Passed {
		r.logger.Info("DCA lot blocked", zap.String("reasons", verdict.FailureReasons()))
		return
	}

	rec, ok := r.execute(ctx, trader.Order{
		Side:    domain.SideBuy,
		Price:   intent.Price,
		Qty:     intent.Qty,
		SizeUSD: intent.LotUSD,
		Source:  domain.SourceDCA,
		Note:    intent.Note,
	})
	if !ok {
		return
	}

	if err := r.deps.Ledger.SetDCAAnchor(rec.Price, now); err != nil {
		r.logger.Warn("Failed to store DCA anchor", zap.Error(err))
	}
	r.account(rec, nil, now)
	trace.Trades = append(trace.Trades, rec)
	if trace.Outcome == domain.OutcomeHold {
		trace.Outcome = domain.OutcomeDCA
	}
}

func (r *Runner) advise(ctx context.Context, candles []domain.Candle, obs domain.Observation) domain.RawDecision {
	actx, cancel := context.WithTimeout(ctx, r.cfg.AdvisorTimeout)
	defer cancel()

	state := r.deps.Ledger.Snapshot()
	raw, err := r.deps.Advisor.Ask(actx, advisor.Input{
		Pair:        r.cfg.Pair,
		Observation: obs,
		Candles:     candles,
		CashUSD:     state.CashUSD,
		BTC:         state.BTC,
	})
	if err != nil {
		r.logger.Warn("Advisor failed, using indicator fallback", zap.String("advisor", r.deps.Advisor.Name()), zap.Error(err))
		return domain.RawDecision{}
	}
	if raw == nil {
		return domain.RawDecision{}
	}
	if v := normalizer.Violations(raw); len(v) > 0 {
		r.logger.Debug("Advisor answer needs coercion", zap.Strings("violations", v))
	}
	return raw
}

func (r *Runner) detectRegime(ctx context.Context) domain.RegimeReport {
	candles, err := r.fetch(ctx, r.cfg.RegimeMinutes, r.cfg.RegimeDays)
	if err != nil {
		r.logger.Warn("Regime feed failed, assuming chop", zap.Error(err))
		return domain.RegimeReport{Label: domain.RegimeChop, Reason: ReasonRegimeFeedError}
	}

	report := r.deps.Detector.Detect(candles)
	r.logger.Info("Regime",
		zap.String("label", string(report.Label)),
		zap.String("reason", report.Reason),
		zap.Float64("slope_bps_hr", report.SlopeBpsPerHour),
		zap.Int("history_hours", report.HistoryHours),
	)
	return report
}

// execute fills the order. Failures are logged and turn the trade into a no-op.
func (r *Runner) execute(ctx context.Context, o trader.Order) (domain.TradeRecord, bool) {
	rec, err := r.deps.Executor.Execute(ctx, o)
	if err != nil {
		r.logger.Warn("Trade not executed",
			zap.String("executor", r.deps.Executor.Name()),
			zap.String("side", string(o.Side)),
			zap.String("source", o.Source),
			zap.Float64("qty", o.Qty),
			zap.Float64("price", o.Price),
			zap.Error(err),
		)
		return domain.TradeRecord{}, false
	}
	r.logger.Info("Trade executed", zap.Stringer("trade", rec))
	return rec, true
}

// account updates counters and fans the trade out to notifier, events and metrics.
// conf is nil for DCA lots and stop exits.
func (r *Runner) account(rec domain.TradeRecord, conf *float64, now time.Time) {
	var err error
	if conf != nil {
		err = r.deps.Ledger.MarkTrade(rec.Side, *conf, rec.Price, now)
	} else {
		err = r.deps.Ledger.MarkFill(rec.Side, rec.Price, now)
	}
	if err != nil {
		r.logger.Warn("Failed to mark trade", zap.Error(err))
	}
	if rec.Side == domain.SideBuy {
		if err := r.deps.Ledger.RecordBuySpend(rec.Notional(), now); err != nil {
			r.logger.Warn("Failed to record buy spend", zap.Error(err))
		}
	}

	r.pending.Add(1)
	gopool.Go(func() {
		defer r.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.NotifyTimeout)
		defer cancel()
		if err := r.deps.Notifier.NotifyTrade(ctx, rec); err != nil {
			r.logger.Warn("Trade notification failed", zap.Error(err))
		}
	})

	if r.deps.Events != nil {
		r.deps.Events.Publish(events.TradeEvent{
			Pair:      r.cfg.Pair.String(),
			Trade:     rec,
			EquityUSD: r.deps.Ledger.Snapshot().Equity(rec.Price),
		})
	}
	if r.deps.Metrics != nil {
		r.deps.Metrics.ObserveTrade(rec)
	}
}

// finish journals the trace and updates tick metrics. Both are best-effort.
func (r *Runner) finish(trace domain.DecisionTrace, start time.Time) {
	took := r.now().Sub(start)

	if r.deps.Journal != nil {
		if err := r.deps.Journal.SaveTrace(trace); err != nil {
			r.logger.Warn("Failed to journal decision trace", zap.Error(err))
		}
		if trace.Observation != nil {
			snap := domain.NewEquitySnapshot(trace.Time, r.cfg.Pair, trace.Observation.Price, r.deps.Ledger.Snapshot())
			if err := r.deps.Journal.SaveEquity(snap); err != nil {
				r.logger.Warn("Failed to journal equity snapshot", zap.Error(err))
			}
		}
	}

	if r.deps.Metrics != nil {
		r.deps.Metrics.ObserveTick(trace.Outcome, took, trace.Time)
		if trace.Observation != nil {
			r.deps.Metrics.SetPortfolio(r.deps.Ledger.Snapshot(), trace.Observation.Price)
		}
		if trace.Regime != nil {
			r.deps.Metrics.SetRegime(trace.Regime.Label)
		}
	}

	r.logger.Info("Tick done",
		zap.String("tick_id", trace.TickID),
		zap.String("outcome", trace.Outcome),
		zap.String("reason", trace.Reason),
		zap.Int("trades", len(trace.Trades)),
		zap.Duration("took", took),
	)
}
