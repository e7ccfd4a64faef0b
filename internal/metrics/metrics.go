// Package metrics exposes Prometheus instruments for the tick pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vadiminshakov/btcagent/internal/domain"
)

const namespace = "btcagent"

// Registry holds all agent metrics on a private Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	Ticks         *prometheus.CounterVec
	TickDuration  prometheus.Histogram
	GateRejects   *prometheus.CounterVec
	Trades        *prometheus.CounterVec
	FeedRequests  *prometheus.CounterVec
	FeedLatency   *prometheus.HistogramVec
	Equity        prometheus.Gauge
	Cash          prometheus.Gauge
	Position      prometheus.Gauge
	Regime        *prometheus.GaugeVec
	LastTickEpoch prometheus.Gauge
}

// New creates and registers every metric.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		Ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ticks_total",
				Help:      "Ticks by outcome",
			},
			[]string{"outcome"},
		),
		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tick_duration_seconds",
				Help:      "Wall time of a full tick",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
			},
		),
		GateRejects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gate_rejections_total",
				Help:      "Failed guardrail checks by gate",
			},
			[]string{"gate"},
		),
		Trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trades_total",
				Help:      "Executed trades by side and source",
			},
			[]string{"side", "source"},
		),
		FeedRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feed_requests_total",
				Help:      "Candle fetches by source and result",
			},
			[]string{"source", "result"},
		),
		FeedLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "feed_latency_seconds",
				Help:      "Candle fetch latency by source",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		Equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "equity_usd",
			Help:      "Portfolio equity marked at the last price",
		}),
		Cash: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cash_usd",
			Help:      "Cash balance",
		}),
		Position: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "position_btc",
			Help:      "BTC held",
		}),
		Regime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "regime",
			Help:      "1 for the current regime label, 0 otherwise",
		}, []string{"label"}),
		LastTickEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_tick_timestamp_seconds",
			Help:      "Unix time of the last finished tick",
		}),
	}

	r.reg.MustRegister(
		r.Ticks, r.TickDuration, r.GateRejects, r.Trades, r.FeedRequests, r.FeedLatency,
		r.Equity, r.Cash, r.Position, r.Regime, r.LastTickEpoch,
	)

	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer returns the underlying registry, for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ObserveFeed implements feed.Recorder.
func (r *Registry) ObserveFeed(source string, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.FeedRequests.WithLabelValues(source, result).Inc()
	r.FeedLatency.WithLabelValues(source).Observe(took.Seconds())
}

// ObserveTick records a finished tick.
func (r *Registry) ObserveTick(outcome string, took time.Duration, at time.Time) {
	r.Ticks.WithLabelValues(outcome).Inc()
	r.TickDuration.Observe(took.Seconds())
	r.LastTickEpoch.Set(float64(at.Unix()))
}

// ObserveGates counts every failed gate.
func (r *Registry) ObserveGates(results []domain.GateResult) {
	for _, res := range results {
		if !res.Passed {
			r.GateRejects.WithLabelValues(res.Gate).Inc()
		}
	}
}

// ObserveTrade counts an executed trade.
func (r *Registry) ObserveTrade(rec domain.TradeRecord) {
	r.Trades.WithLabelValues(string(rec.Side), rec.Source).Inc()
}

// SetPortfolio updates the balance gauges.
func (r *Registry) SetPortfolio(state domain.PortfolioState, price float64) {
	r.Cash.Set(state.CashUSD)
	r.Position.Set(state.BTC)
	r.Equity.Set(state.Equity(price))
}

// SetRegime flags label as the active regime.
func (r *Registry) SetRegime(label domain.RegimeLabel) {
	for _, l := range []domain.RegimeLabel{domain.RegimeBull, domain.RegimeBear, domain.RegimeChop} {
		v := 0.0
		if l == label {
			v = 1
		}
		r.Regime.WithLabelValues(string(l)).Set(v)
	}
}
