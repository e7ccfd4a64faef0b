// Command sseload opens many concurrent subscribers on the agent's SSE
// endpoints and reports connection and event counts.
//
//	go run ./tools/sseload --url http://localhost:8080/trades/stream --conns 500 --dur 1m
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vadiminshakov/btcagent/internal/domain"
	"github.com/vadiminshakov/btcagent/internal/events"
)

const statusEvery = 5 * time.Second

type options struct {
	url   string
	conns int
	dur   time.Duration
	ramp  time.Duration
}

type stats struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	trades      atomic.Int64
	decisions   atomic.Int64
	badPayloads atomic.Int64
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	opts := options{}
	cmd := &cobra.Command{
		Use:          "sseload",
		Short:        "Load test the agent's SSE streams",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.conns <= 0 {
				return errors.Errorf("invalid conns: %d", opts.conns)
			}
			return run(cmd.Context(), logger, opts)
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "http://localhost:8080/trades/stream", "SSE endpoint URL")
	cmd.Flags().IntVar(&opts.conns, "conns", 100, "concurrent subscribers")
	cmd.Flags().DurationVar(&opts.dur, "dur", time.Minute, "test duration, 0 runs until interrupted")
	cmd.Flags().DurationVar(&opts.ramp, "ramp", time.Second, "spread connection starts across this window")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		logger.Fatal("Load test failed", zap.Error(err))
	}
}

func run(ctx context.Context, logger *zap.Logger, opts options) error {
	if opts.dur > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.dur)
		defer cancel()
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     opts.conns + 10,
			MaxIdleConnsPerHost: opts.conns + 10,
			DisableCompression:  true,
			DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		},
	}

	logger.Info("Starting SSE load",
		zap.String("url", opts.url),
		zap.Int("conns", opts.conns),
		zap.Duration("dur", opts.dur),
		zap.Duration("ramp", opts.ramp))

	st := &stats{}
	start := time.Now()
	go report(ctx, logger, st, start)

	var step time.Duration
	if opts.ramp > 0 {
		step = opts.ramp / time.Duration(opts.conns)
	}

	var wg sync.WaitGroup
	for i := 0; i < opts.conns && ctx.Err() == nil; i++ {
		if i > 0 && step > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(step):
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			subscribe(ctx, client, opts.url, st)
		}()
	}
	wg.Wait()

	logStats(logger, "Done", st, time.Since(start))
	return nil
}

func subscribe(ctx context.Context, client *http.Client, url string, st *stats) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		st.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		st.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		st.connectErrs.Add(1)
		return
	}

	st.connected.Add(1)
	if err := consume(resp.Body, st); err != nil && ctx.Err() == nil {
		st.streamErrs.Add(1)
	}
}

// consume reads SSE frames until EOF, counting trade and decision events.
// Trade payloads are decoded to catch schema drift.
func consume(r io.Reader, st *stats) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			switch event {
			case "trade":
				var e events.TradeEvent
				if err := json.Unmarshal([]byte(payload), &e); err != nil || e.Trade.Side == "" {
					st.badPayloads.Add(1)
					continue
				}
				st.trades.Add(1)
			case "decision":
				var trace domain.DecisionTrace
				if err := json.Unmarshal([]byte(payload), &trace); err != nil || trace.TickID == "" {
					st.badPayloads.Add(1)
					continue
				}
				st.decisions.Add(1)
			}
		case line == "":
			event = ""
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}

func report(ctx context.Context, logger *zap.Logger, st *stats, start time.Time) {
	ticker := time.NewTicker(statusEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logStats(logger, "Status", st, time.Since(start))
		}
	}
}

func logStats(logger *zap.Logger, msg string, st *stats, elapsed time.Duration) {
	logger.Info(msg,
		zap.Int64("connected", st.connected.Load()),
		zap.Int64("connect_errs", st.connectErrs.Load()),
		zap.Int64("stream_errs", st.streamErrs.Load()),
		zap.Int64("trades", st.trades.Load()),
		zap.Int64("decisions", st.decisions.Load()),
		zap.Int64("bad_payloads", st.badPayloads.Load()),
		zap.Duration("elapsed", elapsed.Truncate(time.Second)),
	)
}
