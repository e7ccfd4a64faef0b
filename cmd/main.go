// Command btcagent runs the BTC paper-trading decision agent.
//
// Usage:
//
//	btcagent run --config config.yaml     tick forever and serve the status API
//	btcagent once --config config.yaml    single tick, for cron
//	btcagent status                       print the portfolio and recent decisions
//	btcagent init                         interactive config wizard
//
// Every setting can also come from the environment, e.g. SYMBOL, ADVISOR_MODEL,
// LLM_API_KEY, TELEGRAM_BOT_TOKEN, REDIS_ADDR.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vadiminshakov/btcagent/config"
	"github.com/vadiminshakov/btcagent/internal"
	"github.com/vadiminshakov/btcagent/internal/setup"
)

const defaultStatusTraces = 10

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "btcagent",
		Short:         "BTC paper-trading decision agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to yaml config (optional, env overrides apply)")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		runCmd(flags),
		onceCmd(flags),
		statusCmd(flags),
		initCmd(),
	)
	return root
}

func runCmd(flags *rootFlags) *cobra.Command {
	var noWeb bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Tick on the configured interval until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, cfg, err := bootstrap(flags)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx := cmd.Context()
			app, err := internal.NewApp(ctx, logger, cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			if !noWeb {
				go func() {
					server := app.Server()
					var err error
					if len(cfg.WebTLSDomains) > 0 {
						err = server.StartWithAutoTLS(ctx, cfg.WebTLSDomains, cfg.WebCertCache)
					} else {
						err = server.Start(ctx)
					}
					if err != nil {
						logger.Error("Status server stopped", zap.Error(err))
					}
				}()
			}

			if err := app.Bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info("Agent stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&noWeb, "no-web", false, "do not start the status server")
	return cmd
}

func onceCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single tick and print its result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, cfg, err := bootstrap(flags)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			app, err := internal.NewApp(cmd.Context(), logger, cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Bot.RunOnce(cmd.Context())
			if printErr := printJSON(cmd, res); printErr != nil {
				return printErr
			}
			return err
		},
	}
}

func statusCmd(flags *rootFlags) *cobra.Command {
	var n int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the portfolio state and the latest decisions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, cfg, err := bootstrap(flags)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			l, err := internal.OpenLedger(logger, cfg)
			if err != nil {
				return err
			}
			journal, err := internal.OpenJournal(cfg)
			if err != nil {
				return err
			}
			defer journal.Close()

			traces, err := journal.LastTraces(n)
			if err != nil {
				return errors.Wrap(err, "failed to read decision journal")
			}

			return printJSON(cmd, map[string]any{
				"pair":      cfg.Pair.String(),
				"state":     l.Snapshot(),
				"decisions": traces,
			})
		},
	}
	cmd.Flags().IntVarP(&n, "last", "n", defaultStatusTraces, "number of recent decisions to show")
	return cmd
}

func initCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a config file with the interactive wizard",
		RunE: func(*cobra.Command, []string) error {
			return setup.RunTUI(out)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", setup.DefaultOutput, "where to write the generated config")
	return cmd
}

func bootstrap(flags *rootFlags) (*zap.Logger, config.Config, error) {
	logger, err := newLogger(flags.debug)
	if err != nil {
		return nil, config.Config{}, errors.Wrap(err, "failed to create logger")
	}
	zap.ReplaceGlobals(logger)

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, config.Config{}, err
	}
	return logger, cfg, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
