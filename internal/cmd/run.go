package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/groundsync/internal/clock"
	"github.com/Iron-Ham/groundsync/internal/config"
	"github.com/Iron-Ham/groundsync/internal/event"
	"github.com/Iron-Ham/groundsync/internal/fuel"
	"github.com/Iron-Ham/groundsync/internal/logging"
	"github.com/Iron-Ham/groundsync/internal/runlock"
	"github.com/Iron-Ham/groundsync/internal/services"
	"github.com/Iron-Ham/groundsync/internal/snapshot"
	"github.com/Iron-Ham/groundsync/internal/statusapi"
	"github.com/Iron-Ham/groundsync/internal/varbus"
	"github.com/Iron-Ham/groundsync/internal/varbus/xplane"
)

// loadsheetDelay stands in for the dispatch round trip of a loadsheet request.
const loadsheetDelay = 2 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the synchronization loop",
	Long: `Run the control loop until interrupted.

With the memory transport both simulators are stood in for by an in-process
variable bus and a simulated fuel tanker, which is useful for trying out
phase policies without a simulator running.`,
	RunE: runRun,
}

var (
	runStatusAPI bool
	runFlight    string
)

func init() {
	runCmd.Flags().BoolVar(&runStatusAPI, "status-api", false, "serve the status API (overrides status_api.enabled)")
	runCmd.Flags().StringVar(&runFlight, "flight", "", "flight number used for the final loadsheet (overrides control.flight_number)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if runStatusAPI {
		cfg.StatusAPI.Enabled = true
	}
	if runFlight != "" {
		cfg.Control.FlightNumber = runFlight
	}

	logger := createLogger(cfg)
	defer logger.Close()

	lock, err := runlock.Acquire(config.ConfigDir(), cfg.Bus.Transport, logger)
	if err != nil {
		return err
	}
	defer lock.Release()

	keys, err := varbus.LoadKeys(cfg.Bus.KeysFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus, closeBus, err := openBus(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBus()

	store, err := snapshot.Open(cfg.Snapshot, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	events := event.NewBus(event.WithLogger(logger))
	loadsheet := services.NewLogLoadsheet(events, logger, loadsheetDelay)
	defer loadsheet.Wait()

	orch := services.New(bus, cfg,
		services.WithLogger(logger),
		services.WithEventBus(events),
		services.WithKeys(keys),
		services.WithStore(store),
		services.WithMenu(services.NewBusMenu(bus, keys.Menu)),
		services.WithLoadsheet(loadsheet),
	)
	defer orch.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(gctx)
	})
	if cfg.Bus.Transport == config.TransportMemory {
		tanker := fuel.NewTanker(bus, keys.Fuel, cfg.Fuel.RefuelRateKgPerSec,
			cfg.Fuel.HosePollInterval(), clock.Real(), logger)
		tanker.Start(gctx)
		defer tanker.Stop()
	}
	if cfg.StatusAPI.Enabled {
		api := statusapi.New(orch, statusapi.WithLogger(logger))
		g.Go(func() error {
			return api.ListenAndServe(gctx, cfg.StatusAPI.Addr)
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "groundsync running (transport %s, phase %s). Press Ctrl+C to stop.\n",
		cfg.Bus.Transport, orch.Machine().CurrentPhase())
	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stopped in phase %s\n", orch.Machine().CurrentPhase())
	return nil
}

// openBus creates the configured transport. The returned func releases it.
func openBus(ctx context.Context, cfg *config.Config, logger *logging.Logger) (varbus.Bus, func(), error) {
	switch cfg.Bus.Transport {
	case config.TransportXPlane:
		client, err := xplane.New(xplane.Config{
			RESTURL:        cfg.Bus.RESTURL,
			WebSocketURL:   cfg.Bus.WebSocketURL,
			RequestTimeout: cfg.Bus.RequestTimeout(),
			CacheSize:      cfg.Bus.CacheSize,
		}, xplane.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		if err := client.Connect(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to connect to X-Plane: %w", err)
		}
		return client, func() { _ = client.Close() }, nil
	default:
		return varbus.NewMemory(), func() {}, nil
	}
}

// createLogger builds the configured logger, falling back to stderr when
// the log directory cannot be used.
func createLogger(cfg *config.Config) *logging.Logger {
	rotation := logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	}
	logger, err := logging.NewRotatingLogger(cfg.Logging.Dir, cfg.Logging.Level, rotation)
	if err != nil {
		// Log creation failure shouldn't prevent the application from starting
		fmt.Fprintf(os.Stderr, "Warning: failed to create logger: %v\n", err)
		return logging.NewWriterLogger(os.Stderr, cfg.Logging.Level)
	}
	return logger
}
