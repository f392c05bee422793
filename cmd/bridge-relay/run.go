package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devblac/bridge-relay/internal/engine"
	"github.com/devblac/bridge-relay/internal/health"
	"github.com/devblac/bridge-relay/internal/logging"
	"github.com/devblac/bridge-relay/internal/metrics"
	"github.com/devblac/bridge-relay/internal/relay"
	"github.com/devblac/bridge-relay/internal/sink"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	flagOnce    bool
	flagDryRun  bool
	flagHealth  string
	flagMetrics string
)

func init() {
	runCmd.Flags().BoolVar(&flagOnce, "once", false, "Run a single cycle and exit")
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Sign mints without broadcasting and keep state in memory")
	runCmd.Flags().StringVar(&flagHealth, "health", "", "Health check HTTP address (e.g., :8080)")
	runCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Metrics HTTP address (e.g., :9090)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the relay until interrupted or faulted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log, logCloser, err := logging.NewWithOptions(logging.Options{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			File:   cfg.Logging.File,
		})
		if err != nil {
			return err
		}
		defer logCloser.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		reader, closeReader, err := openReader(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer closeReader()

		mint, closeWriter, err := openWriter(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer closeWriter()

		var (
			writer relay.LedgerWriter = mint
			store  relay.StateStore
			dbPing func(context.Context) error
		)
		if flagDryRun {
			writer = sink.NewSimulator(mint)
			store = relay.NewMemoryStore()
			log.Warn("dry run: transactions are not broadcast and state is not persisted")
		} else {
			backend, err := openState(ctx, cfg)
			if err != nil {
				return err
			}
			defer backend.Close()
			store, dbPing = backend, backend.Ping
		}

		var servers []func(context.Context) error
		stopServers := func() {
			for _, fn := range servers {
				shutdown(fn)
			}
		}

		var mtr *metrics.Metrics
		if flagMetrics != "" {
			mtr = metrics.Init()
			srv := metrics.Serve(flagMetrics)
			servers = append(servers, srv.Shutdown)
			log.Info("metrics enabled", "addr", flagMetrics)
		}

		notifier, err := buildNotifier(cfg, log, mtr)
		if err != nil {
			return err
		}
		ecfg, err := engineConfig(cfg)
		if err != nil {
			return err
		}
		scanner := engine.NewScanner(reader, log,
			engine.WithRetryDelay(cfg.Relay.RetryDelay),
			engine.WithRateLimit(cfg.Relay.RateLimit),
		)
		eng := engine.New(ecfg, reader, scanner, writer, store,
			engine.WithLogger(log),
			engine.WithMetrics(mtr),
			engine.WithNotifier(notifier),
		)

		if flagHealth != "" {
			rpc := health.NewRPCChecker(map[string]health.HeadPinger{
				"source":      reader,
				"destination": mint,
			})
			srv := health.Serve(flagHealth, health.Checker{
				DBPing:  dbPing,
				RPCPing: rpc.Ping,
				Phase: func() (string, bool) {
					p := eng.Phase()
					return p.String(), p == engine.PhaseFaulted
				},
			})
			servers = append(servers, func(ctx context.Context) error { return health.Shutdown(ctx, srv) })
			log.Info("health check enabled", "addr", flagHealth)
		}

		if flagOnce {
			defer stopServers()
			cycle, err := eng.RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("cycle %s: %w", cycle.ID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cycle %s: window %s, %d events, %d submitted, %d skipped\n",
				cycle.ID, windowText(cycle), cycle.Events, cycle.Submitted, cycle.Skipped)
			return nil
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return eng.Run(gctx) })
		g.Go(func() error {
			<-gctx.Done()
			stopServers()
			return nil
		})
		return g.Wait()
	},
}

func windowText(c engine.Cycle) string {
	if c.Idle {
		return "none"
	}
	return c.Window.String()
}

func shutdown(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = fn(ctx)
}
