package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/scrollcap/internal/clock"
	"github.com/goodtune/scrollcap/internal/config"
	"github.com/goodtune/scrollcap/internal/metrics"
	"github.com/goodtune/scrollcap/internal/systemd"
	"github.com/goodtune/scrollcap/internal/usage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the enforcement daemon",
	Long: `Start scrollcap: read platform events, enforce scroll limits, persist usage
to Redis and expose metrics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting scrollcap")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("redis_host", cfg.Storage.Redis.Host).
		Int("redis_port", cfg.Storage.Redis.Port).
		Msg("Storage initialized")

	events, closeEvents, err := openEvents(cfg.Events.Path)
	if err != nil {
		return err
	}
	defer closeEvents()

	clk := clock.RealClock{}
	p, err := newPipeline(cfg, store, newStream(cfg, events, logger), os.Stdout, clk, logger)
	if err != nil {
		return err
	}
	p.source.OnPress(func(time.Time) {
		if !p.console.Press() {
			logger.Debug().Msg("Button press with no overlay showing")
		}
	})

	retention, err := usage.NewRetentionScheduler(
		store.Usage(),
		cfg.Usage.ArchiveTime,
		cfg.Usage.RetentionDays,
		clk,
		time.Local,
		logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize retention scheduler: %w", err)
	}

	// Initialize Metrics Server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start Metrics Server: %w", err)
	}

	logger.Info().
		Str("addr", metricsAddr).
		Msg("Metrics Server started")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.dispatcher.Run(gctx) })
	g.Go(func() error { return p.engine.Run(gctx) })
	g.Go(func() error { return retention.Run(gctx) })
	g.Go(func() error {
		return systemd.RunWatchdog(gctx, func() bool { return p.queue.Len() < p.queue.Cap() }, logger)
	})

	// The reader may be blocked in a read that cannot be interrupted, so it
	// is not part of the group; the end of the stream stops the daemon.
	go consumeEvents(gctx, p, stop, logger)

	logger.Info().
		Str("events", cfg.Events.Path).
		Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}
	if err := systemd.NotifyStatus("enforcing scroll limits"); err != nil {
		logger.Debug().Err(err).Msg("Failed to send systemd status")
	}

	runErr := g.Wait()

	logger.Info().Msg("Shutting down")

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	logger.Info().Msg("scrollcap stopped")

	return runErr
}

func consumeEvents(ctx context.Context, p *pipeline, stop context.CancelFunc, logger zerolog.Logger) {
	if err := p.ingestor.Consume(ctx, p.source); err != nil {
		logger.Error().Err(err).Msg("Event stream failed")
	}
	if ctx.Err() == nil {
		logger.Info().Msg("Event stream closed, stopping")
	}
	stop()
}

// openEvents opens the platform event stream; "-" is stdin.
func openEvents(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open event stream: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
