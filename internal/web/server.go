package web

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vadiminshakov/btcagent/internal/domain"
	"github.com/vadiminshakov/btcagent/internal/events"
)

const (
	journalPollInterval = 2 * time.Second
	heartbeatInterval   = 30 * time.Second
	defaultDecisions    = 20
	maxDecisions        = 500
	defaultCertCache    = "cert-cache"
)

type stateReader interface {
	Snapshot() domain.PortfolioState
}

type journalReader interface {
	TracesAfter(index uint64) ([]domain.DecisionTraceRecord, error)
	EquityAfter(index uint64) ([]domain.EquitySnapshotRecord, error)
	LastTraces(n int) ([]domain.DecisionTraceRecord, error)
}

// Deps holds the collaborators served over HTTP. Nil members disable their endpoints.
type Deps struct {
	Ledger  stateReader
	Journal journalReader
	Trades  *events.TradeBroadcaster
	Metrics http.Handler
}

// Server exposes the agent state, journal streams and metrics.
type Server struct {
	addr   string
	pair   domain.Pair
	deps   Deps
	logger *zap.Logger
}

// NewServer creates a new status server.
func NewServer(logger *zap.Logger, addr string, pair domain.Pair, deps Deps) *Server {
	return &Server{addr: addr, pair: pair, deps: deps, logger: logger}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/equity", s.handleEquity)
	mux.HandleFunc("/api/decisions", s.handleDecisions)
	mux.HandleFunc("/trades/stream", s.handleTradeStream)
	mux.HandleFunc("/decisions/stream", s.handleDecisionStream)
	if s.deps.Metrics != nil {
		mux.Handle("/metrics", s.deps.Metrics)
	}
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go shutdownOnDone(ctx, s.logger, server)

	s.logger.Info("Status server listening", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "status server")
	}
	return nil
}

// StartWithAutoTLS serves HTTPS with ACME certificates for domains. A plain
// HTTP listener on :80 answers the HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return errors.New("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = defaultCertCache
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	challenge := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 5 * time.Second,
	}
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		TLSConfig:         tlsConfig,
	}
	go shutdownOnDone(ctx, s.logger, challenge)
	go shutdownOnDone(ctx, s.logger, server)

	go func() {
		if err := challenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ACME challenge server failed", zap.Error(err))
		}
	}()

	s.logger.Info("Status server listening with TLS", zap.String("addr", s.addr), zap.Strings("domains", domains))
	if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "status server")
	}
	return nil
}

func shutdownOnDone(ctx context.Context, logger *zap.Logger, server *http.Server) {
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server shutdown failed", zap.String("addr", server.Addr), zap.Error(err))
	}
}

type stateResponse struct {
	Pair       string                 `json:"pair"`
	State      domain.PortfolioState  `json:"state"`
	LastEquity *domain.EquitySnapshot `json:"last_equity,omitempty"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ledger == nil {
		unavailable(w, "ledger not available")
		return
	}
	resp := stateResponse{Pair: s.pair.String(), State: s.deps.Ledger.Snapshot()}
	if s.deps.Journal != nil {
		records, err := s.deps.Journal.EquityAfter(0)
		if err != nil {
			s.logger.Warn("Failed to read equity history", zap.Error(err))
		} else if len(records) > 0 {
			last := records[len(records)-1].Snapshot
			resp.LastEquity = &last
		}
	}
	writeJSON(w, resp)
}

func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		unavailable(w, "journal not available")
		return
	}
	records, err := s.deps.Journal.EquityAfter(0)
	if err != nil {
		s.logger.Error("Failed to read equity history", zap.Error(err))
		http.Error(w, "failed to load equity", http.StatusInternalServerError)
		return
	}
	out := make([]domain.EquitySnapshot, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Snapshot)
	}
	writeJSON(w, out)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		unavailable(w, "journal not available")
		return
	}
	n := defaultDecisions
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			http.Error(w, "n must be a positive integer", http.StatusBadRequest)
			return
		}
		n = min(v, maxDecisions)
	}
	records, err := s.deps.Journal.LastTraces(n)
	if err != nil {
		s.logger.Error("Failed to read decision journal", zap.Error(err))
		http.Error(w, "failed to load decisions", http.StatusInternalServerError)
		return
	}
	out := make([]domain.DecisionTrace, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Trace)
	}
	writeJSON(w, out)
}

func (s *Server) handleTradeStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Trades == nil {
		unavailable(w, "trade events not available")
		return
	}
	flusher, ok := startStream(w)
	if !ok {
		return
	}

	ch := s.deps.Trades.Subscribe()
	defer s.deps.Trades.Unsubscribe(ch)

	// send a comment heartbeat so proxies keep connection
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			if err := writeEvent(w, "trade", ev); err != nil {
				s.logger.Warn("Trade stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleDecisionStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Journal == nil {
		unavailable(w, "journal not available")
		return
	}
	flusher, ok := startStream(w)
	if !ok {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(journalPollInterval)
	defer pollTicker.Stop()

	lastIndex := uint64(0)
	sendTraces := func() error {
		records, err := s.deps.Journal.TracesAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, record := range records {
			if err := writeEvent(w, "decision", record.Trace); err != nil {
				return err
			}
			flusher.Flush()
			lastIndex = record.Index
		}
		return nil
	}

	if err := sendTraces(); err != nil {
		s.logger.Error("Decision stream initial load failed", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendTraces(); err != nil {
				s.logger.Warn("Decision stream poll failed", zap.Error(err))
			}
		}
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, indexHTML, s.pair.String())
}

func startStream(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

func writeEvent(w http.ResponseWriter, name string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
	return err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func unavailable(w http.ResponseWriter, msg string) {
	http.Error(w, msg, http.StatusServiceUnavailable)
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>btcagent</title>
  <style>
    body { font-family:'Space Mono',monospace; margin:2rem; color:#111; }
    pre { background:#f6f6f6; border:2px solid #111; padding:1rem; overflow:auto; }
    .trade { border-bottom:1px dashed #9c9c9c; padding:.4rem 0; }
  </style>
</head>
<body>
  <h3>btcagent %s</h3>
  <pre id="state">loading…</pre>
  <h4>Trades</h4>
  <div id="trades"></div>
  <h4>Decisions</h4>
  <div id="decisions"></div>
<script>
const refresh = () => fetch('/api/state').then(r => r.json()).then(s => {
  document.getElementById('state').textContent = JSON.stringify(s, null, 2);
});
refresh();
setInterval(refresh, 5000);

const prepend = (id, text) => {
  const el = document.createElement('div');
  el.className = 'trade';
  el.textContent = text;
  const box = document.getElementById(id);
  box.insertBefore(el, box.firstChild);
  while(box.children.length > 50){ box.removeChild(box.lastChild); }
};

const trades = new EventSource('/trades/stream');
trades.addEventListener('trade', (e) => {
  const ev = JSON.parse(e.data);
  prepend('trades', ev.trade.time + ' ' + ev.trade.source + ' ' + ev.trade.side + ' ' + ev.trade.qty_btc + ' @ ' + ev.trade.price);
  refresh();
});

const decisions = new EventSource('/decisions/stream');
decisions.addEventListener('decision', (e) => {
  const d = JSON.parse(e.data);
  prepend('decisions', d.ts + ' ' + d.outcome + (d.reason ? ' (' + d.reason + ')' : ''));
});
</script>
</body>
</html>`
