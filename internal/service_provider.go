package internal

import (
	"context"
	"fmt"
	"path/filepath"

	binance "github.com/adshao/go-binance/v2"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/btcagent/config"
	"github.com/vadiminshakov/btcagent/internal/clients"
	"github.com/vadiminshakov/btcagent/internal/events"
	"github.com/vadiminshakov/btcagent/internal/lease"
	"github.com/vadiminshakov/btcagent/internal/metrics"
	"github.com/vadiminshakov/btcagent/internal/services/advisor"
	"github.com/vadiminshakov/btcagent/internal/services/ledger"
	"github.com/vadiminshakov/btcagent/internal/services/market/feed"
	"github.com/vadiminshakov/btcagent/internal/services/normalizer"
	"github.com/vadiminshakov/btcagent/internal/services/notifier"
	"github.com/vadiminshakov/btcagent/internal/services/regime"
	"github.com/vadiminshakov/btcagent/internal/services/sizer"
	"github.com/vadiminshakov/btcagent/internal/services/trader"
	"github.com/vadiminshakov/btcagent/internal/storage/decisions"
	"github.com/vadiminshakov/btcagent/internal/storage/portfolio"
	"github.com/vadiminshakov/btcagent/internal/web"
)

const (
	journalSubdir = "journal"
	cacheSubdir   = "cache"
	eventsBuffer  = 64
)

// App holds the fully wired agent.
type App struct {
	Config  config.Config
	Runner  *Runner
	Bot     *TradingBot
	Ledger  *ledger.Ledger
	Journal *decisions.WALStore
	Metrics *metrics.Registry
	Trades  *events.TradeBroadcaster

	logger  *zap.Logger
	closers []func() error
}

// NewApp builds every component from cfg.
func NewApp(ctx context.Context, logger *zap.Logger, cfg config.Config) (*App, error) {
	app := &App{
		Config:  cfg,
		Metrics: metrics.New(),
		Trades:  events.NewTradeBroadcaster(eventsBuffer),
		logger:  logger,
	}

	l, err := OpenLedger(logger, cfg)
	if err != nil {
		return nil, err
	}
	app.Ledger = l

	journal, err := OpenJournal(cfg)
	if err != nil {
		return nil, err
	}
	app.Journal = journal
	app.closers = append(app.closers, journal.Close)

	binanceClient := clients.NewBinanceClient(cfg.Binance.APIKey, cfg.Binance.APISecret)

	src, err := newFeed(ctx, logger, cfg, binanceClient, app.Metrics)
	if err != nil {
		app.Close()
		return nil, err
	}

	executor, err := newExecutor(logger, cfg, binanceClient, l)
	if err != nil {
		app.Close()
		return nil, err
	}

	adv, err := newAdvisor(logger, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	detector := regime.NewDetector()
	detector.SlopeMinBps = cfg.Regime.SlopeMinBps
	detector.ADXMin = cfg.Regime.ADXMin
	detector.MinHours = cfg.Regime.MinHours

	app.Runner = NewRunner(logger, RunnerConfig{
		Pair:          cfg.Pair,
		CandleMinutes: cfg.CandleMinutes,
		LookbackDays:  cfg.LookbackDays,
		Guardrails:    cfg.Guardrails,
		Normalizer: normalizer.Defaults{
			SizeUSD:  cfg.LLM.SizeUSD.InexactFloat64(),
			StopATRK: cfg.LLM.StopATRK.InexactFloat64(),
		},
		Sizer: sizer.New(cfg.MaxTradeUSD.InexactFloat64()),
		DCA:   cfg.DCA,
	}, RunnerDeps{
		Feed:     src,
		Advisor:  adv,
		Detector: detector,
		Ledger:   l,
		Executor: executor,
		Notifier: notifier.New(cfg.Telegram.Enabled, cfg.Telegram.Token, cfg.Telegram.ChatID),
		Journal:  journal,
		Metrics:  app.Metrics,
		Events:   app.Trades,
		Lease:    app.newLease(cfg.Redis),
	})

	app.Bot, err = NewTradingBot(logger, app.Runner, cfg.Interval)
	if err != nil {
		app.Close()
		return nil, err
	}

	logger.Info("Agent wired",
		zap.String("pair", cfg.Pair.String()),
		zap.String("advisor", adv.Name()),
		zap.String("executor", executor.Name()),
		zap.Strings("feed", src.Sources()),
		zap.Duration("interval", cfg.Interval),
	)

	return app, nil
}

// Server returns the HTTP server exposing the app's state.
func (a *App) Server() *web.Server {
	return web.NewServer(a.logger, a.Config.WebAddr, a.Config.Pair, web.Deps{
		Ledger:  a.Ledger,
		Journal: a.Journal,
		Trades:  a.Trades,
		Metrics: a.Metrics.Handler(),
	})
}

// Close releases storage and connections. It waits for pending notifications first.
func (a *App) Close() error {
	if a.Runner != nil {
		a.Runner.Wait()
	}

	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}

// OpenLedger loads the paper portfolio from the configured state dir.
func OpenLedger(logger *zap.Logger, cfg config.Config) (*ledger.Ledger, error) {
	dir := portfolio.StateDir(cfg.StateDir)
	store, err := portfolio.NewStore(dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open portfolio store")
	}
	tradeLog, err := ledger.NewCSVTradeLog(dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open trade log")
	}

	return ledger.New(store, tradeLog, cfg.FeeBps.InexactFloat64(), logger), nil
}

// OpenJournal opens the decision journal. It defaults to a subdirectory of the state dir.
func OpenJournal(cfg config.Config) (*decisions.WALStore, error) {
	dir := cfg.JournalDir
	if dir == "" {
		dir = filepath.Join(portfolio.StateDir(cfg.StateDir), journalSubdir)
	}
	journal, err := decisions.NewWALStore(dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open decision journal")
	}
	return journal, nil
}

func newFeed(ctx context.Context, logger *zap.Logger, cfg config.Config, binanceClient *binance.Client, rec feed.Recorder) (*feed.Chain, error) {
	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(portfolio.StateDir(cfg.StateDir), cacheSubdir)
	}
	cache := feed.NewCSVCache(cacheDir)

	sources := make([]feed.Source, 0, len(cfg.FeedOrder))
	for _, name := range cfg.FeedOrder {
		switch name {
		case "binance":
			sources = append(sources, feed.NewBinanceSource(binanceClient))
		case "bybit":
			sources = append(sources, feed.NewBybitSource(clients.NewBybitClient(cfg.Bybit.APIKey, cfg.Bybit.APISecret)))
		case "hyperliquid":
			hl, err := clients.NewHyperliquidClient(ctx, cfg.Hyperliquid.PrivateKey, cfg.Hyperliquid.BaseURL)
			if err != nil {
				return nil, errors.Wrap(err, "failed to create hyperliquid client")
			}
			sources = append(sources, feed.NewHyperliquidSource(hl.Info()))
		case feed.CacheSourceName:
			sources = append(sources, cache)
		default:
			return nil, fmt.Errorf("unsupported feed source: %s", name)
		}
	}
	if len(sources) == 0 {
		return nil, errors.New("feed order is empty")
	}

	return feed.NewChain(logger, sources, feed.WithCache(cache), feed.WithRecorder(rec)), nil
}

func newExecutor(logger *zap.Logger, cfg config.Config, binanceClient *binance.Client, l *ledger.Ledger) (trader.Executor, error) {
	switch cfg.Execution {
	case config.ExecutionPaper:
		return trader.NewPaperExecutor(l), nil
	case config.ExecutionBinance:
		return trader.NewBinanceExecutor(logger, binanceClient, cfg.Pair, l, cfg.MinNotionalUSD.InexactFloat64()), nil
	default:
		return nil, fmt.Errorf("unsupported execution mode: %s", cfg.Execution)
	}
}

func newAdvisor(logger *zap.Logger, cfg config.Config) (advisor.Advisor, error) {
	size := cfg.LLM.SizeUSD.InexactFloat64()
	stopK := cfg.LLM.StopATRK.InexactFloat64()

	switch cfg.Advisor {
	case config.AdvisorRules:
		return advisor.NewRuleAdvisor(size, stopK), nil
	case config.AdvisorLLM:
		client := clients.NewOpenAICompatibleClient(cfg.LLM.APIURL, cfg.LLM.APIKey, cfg.LLM.Model)
		return advisor.NewLLMAdvisor(logger, client, cfg.LLM.Model), nil
	default:
		return nil, fmt.Errorf("unsupported advisor: %s", cfg.Advisor)
	}
}

func (a *App) newLease(rc config.RedisConfig) lease.Lease {
	if rc.Addr == "" {
		return lease.Noop{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	a.closers = append(a.closers, client.Close)

	l := lease.NewRedisLease(client, rc.LeaseKey, rc.LeaseTTL)
	a.logger.Info("Using redis lease", zap.String("addr", rc.Addr), zap.String("key", rc.LeaseKey), zap.String("token", l.Token()))
	return l
}
