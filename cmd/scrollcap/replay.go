package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fatih/color"
	"github.com/goodtune/scrollcap/internal/clock"
	"github.com/goodtune/scrollcap/internal/config"
	"github.com/goodtune/scrollcap/internal/ingest"
	"github.com/goodtune/scrollcap/internal/storage"
	redisstore "github.com/goodtune/scrollcap/internal/storage/redis"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	replayMemory      bool
	replayTrack       []string
	replayGlobalLimit float64
	replayAppLimits   map[string]string
	replayVerbose     bool
)

var replayCmd = &cobra.Command{
	Use:   "replay [flags] FILE",
	Short: "Replay a recorded event stream",
	Long: `Replay a JSON-lines event stream through the enforcement engine, using the
timestamps in the recording as the clock. Interventions are printed as they
would have been shown. "-" reads the stream from stdin.`,
	Example: `  scrollcap replay --memory --track com.example.feed --global-limit 100 session.jsonl
  scrollcap -c config.yaml replay session.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().BoolVar(&replayMemory, "memory", false, "Use a throwaway in-memory store instead of the configured Redis")
	replayCmd.Flags().StringSliceVar(&replayTrack, "track", nil, "Tracked apps (with --memory)")
	replayCmd.Flags().Float64Var(&replayGlobalLimit, "global-limit", 0, "Global limit in units (with --memory)")
	replayCmd.Flags().StringToStringVar(&replayAppLimits, "app-limit", nil, "Per-app limits as app=units (with --memory)")
	replayCmd.Flags().BoolVarP(&replayVerbose, "verbose", "v", false, "Log engine decisions to stderr")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := quietLogger()
	if replayVerbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	}

	seeding := len(replayTrack) > 0 || replayGlobalLimit > 0 || len(replayAppLimits) > 0
	if seeding && !replayMemory {
		return fmt.Errorf("--track, --global-limit and --app-limit require --memory")
	}

	events, closeEvents, err := openEvents(args[0])
	if err != nil {
		return err
	}
	defer closeEvents()

	// The clock follows the recording; it starts at the wall clock until
	// the first timestamped event.
	clk := clock.NewTestClock(time.Now())

	var store *redisstore.Store
	if replayMemory {
		mr := miniredis.NewMiniRedis()
		if err := mr.Start(); err != nil {
			return fmt.Errorf("failed to start in-memory store: %w", err)
		}
		defer mr.Close()

		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		store = redisstore.NewWithClient(client, cfg.Storage.Redis.KeyPrefix,
			redisstore.WithClock(clk),
			redisstore.WithDefaultGlobalLimit(cfg.Settings.DefaultGlobalLimit))
	} else {
		store, err = openStorage(cfg, redisstore.WithClock(clk))
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
	}
	defer store.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if seeding {
		if err := seedSettings(ctx, store.Settings()); err != nil {
			return err
		}
	}

	r := &replayer{clock: clk}
	first, err := r.peek(ctx, events, cfg, store, logger)
	if err != nil {
		return err
	}
	if first == nil {
		_, _ = fmt.Fprintln(os.Stdout, "No events to replay")
		return nil
	}

	dctx, stopUI := context.WithCancel(ctx)
	uiDone := make(chan struct{})
	go func() {
		defer close(uiDone)
		_ = r.p.dispatcher.Run(dctx)
	}()
	defer func() {
		stopUI()
		<-uiDone
	}()

	if err := r.run(ctx, *first); err != nil {
		return err
	}

	if err := r.p.flusher.FlushNow(ctx); err != nil {
		return fmt.Errorf("failed to flush usage: %w", err)
	}

	return r.summarise(ctx, store.Usage())
}

// replayer drives a pipeline from recorded events, advancing the clock
// to each event's timestamp and running flush cycles on recorded time.
type replayer struct {
	clock    *clock.TestClock
	p        *pipeline
	nextTick time.Time
	counts   map[ingest.Result]int
	presses  int
}

// peek reads the first event before the pipeline is built, so the clock,
// and with it the ledger's day, starts at the recording's first timestamp.
func (r *replayer) peek(ctx context.Context, events io.Reader, cfg *config.Config, store storage.Store, logger zerolog.Logger) (*ingest.Event, error) {
	st := newStream(cfg, events, logger)

	first, err := st.source.Next(ctx)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	if !first.ReceivedAt.IsZero() {
		r.clock.Set(first.ReceivedAt)
	}

	r.p, err = newPipeline(cfg, store, st, os.Stdout, r.clock, logger)
	if err != nil {
		return nil, err
	}
	return &first, nil
}

func (r *replayer) run(ctx context.Context, first ingest.Event) error {
	r.counts = map[ingest.Result]int{}
	r.p.source.OnPress(func(at time.Time) {
		r.advance(ctx, at)
		if r.p.console.Press() {
			r.presses++
		}
		r.p.engine.Drain(ctx)
	})

	if err := r.p.engine.ReloadSettings(ctx); err != nil {
		return err
	}
	if err := r.p.flusher.Reload(ctx); err != nil {
		return err
	}
	r.nextTick = r.clock.Now().Add(r.p.flusher.Interval())

	ev := first
	for {
		r.advance(ctx, ev.ReceivedAt)
		r.counts[r.p.ingestor.Handle(ev)]++
		r.p.engine.Drain(ctx)

		var err error
		ev, err = r.p.source.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read events: %w", err)
		}
	}
}

// advance moves the clock to at, running every flush cycle that falls due
// on the way.
func (r *replayer) advance(ctx context.Context, at time.Time) {
	if at.IsZero() || at.Before(r.clock.Now()) {
		return
	}
	for !r.nextTick.After(at) {
		r.clock.Set(r.nextTick)
		r.p.flusher.Tick(ctx)
		r.nextTick = r.nextTick.Add(r.p.flusher.Interval())
	}
	r.clock.Set(at)
}

func (r *replayer) summarise(ctx context.Context, store storage.UsageStore) error {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)

	_, _ = cyan.Println("\nEvents")
	for _, result := range []ingest.Result{
		ingest.ResultAccepted,
		ingest.ResultFocus,
		ingest.ResultSuppressed,
		ingest.ResultUntracked,
		ingest.ResultOwnPackage,
		ingest.ResultIgnoredKind,
		ingest.ResultInvalid,
	} {
		if n := r.counts[result]; n > 0 {
			fmt.Printf("  %-12s %d\n", result, n)
		}
	}
	if r.presses > 0 {
		fmt.Printf("  %-12s %d\n", "presses", r.presses)
	}
	if dropped := r.p.queue.Dropped(); dropped > 0 {
		fmt.Printf("  %-12s %d\n", "overflowed", dropped)
	}

	day := r.p.ledger.Load().Day
	totals, err := store.DailyTotalsByApp(ctx, day)
	if err != nil {
		return fmt.Errorf("failed to read totals: %w", err)
	}

	_, _ = cyan.Printf("\nUsage on %s\n", day)
	printTotals(totals, green)
	return nil
}

func seedSettings(ctx context.Context, s storage.SettingsStore) error {
	if len(replayTrack) > 0 {
		if err := s.SetTrackedApps(ctx, replayTrack); err != nil {
			return fmt.Errorf("failed to set tracked apps: %w", err)
		}
	}
	if replayGlobalLimit > 0 {
		if err := s.SetGlobalLimit(ctx, replayGlobalLimit); err != nil {
			return fmt.Errorf("failed to set global limit: %w", err)
		}
	}
	for app, raw := range replayAppLimits {
		limit, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid limit for %s: %w", app, err)
		}
		if err := s.SetAppLimit(ctx, app, limit); err != nil {
			return fmt.Errorf("failed to set limit for %s: %w", app, err)
		}
	}
	return nil
}
