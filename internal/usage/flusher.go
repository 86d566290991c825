package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/scrollcap/internal/clock"
	"github.com/goodtune/scrollcap/internal/metrics"
	"github.com/goodtune/scrollcap/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultFlushInterval is how often session distance is persisted
	DefaultFlushInterval = 20 * time.Second

	// DefaultShutdownFlushTimeout bounds the final flush on shutdown
	DefaultShutdownFlushTimeout = 5 * time.Second
)

// Flusher owns the write side of the ledger: it persists pending chunks,
// detects day changes and reloads today's totals from the store.
type Flusher struct {
	ledger   *Ledger
	store    storage.UsageStore
	clock    clock.Clock
	interval time.Duration
	logger   zerolog.Logger

	kick chan struct{}
	// mu ensures one flush or reload touches the store at a time
	mu sync.Mutex
}

// NewFlusher creates a new flusher
func NewFlusher(ledger *Ledger, store storage.UsageStore, clk clock.Clock, interval time.Duration, logger zerolog.Logger) *Flusher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Flusher{
		ledger:   ledger,
		store:    store,
		clock:    clk,
		interval: interval,
		logger:   logger.With().Str("component", "flusher").Logger(),
		kick:     make(chan struct{}, 1),
	}
}

// Interval returns the periodic flush interval.
func (f *Flusher) Interval() time.Duration {
	return f.interval
}

// Kick asks the flush loop to persist pending chunks soon. It never blocks.
func (f *Flusher) Kick() {
	select {
	case f.kick <- struct{}{}:
	default:
	}
}

// Run is the flush timer loop. It returns when ctx is cancelled; the
// caller is expected to call FlushNow afterwards.
func (f *Flusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.logger.Info().Dur("interval", f.interval).Msg("Usage flusher started")

	for {
		select {
		case <-ctx.Done():
			f.logger.Info().Msg("Usage flusher stopped")
			return nil
		case <-ticker.C:
			f.Tick(ctx)
		case <-f.kick:
			f.sync(ctx)
		}
	}
}

// Tick runs one periodic cycle: day rollover, session stash, persist.
func (f *Flusher) Tick(ctx context.Context) {
	now := f.clock.Now()
	f.CheckRollover(now)
	f.ledger.Stash(now)
	f.sync(ctx)
}

// CheckRollover starts a new day in the ledger if now is past it.
func (f *Flusher) CheckRollover(now time.Time) bool {
	day := f.ledger.DayOf(now)
	prev := f.ledger.Load().Day
	if _, rolled := f.ledger.Rollover(day, now); !rolled {
		return false
	}
	f.logger.Info().
		Str("previous_day", prev).
		Str("day", day).
		Msg("Day rollover, usage cache reset")
	f.Kick()
	return true
}

// sync persists pending chunks and reloads totals if the cache is stale.
// Failures are logged; the next cycle retries.
func (f *Flusher) sync(ctx context.Context) {
	if err := f.Persist(ctx); err != nil {
		f.logger.Error().Err(err).Msg("Failed to persist usage, will retry")
	}
	if f.ledger.Load().Stale {
		if err := f.Reload(ctx); err != nil {
			f.logger.Error().Err(err).Msg("Failed to reload today's usage")
		}
	}
}

// Persist writes every pending chunk as a UsageRecord. Chunks that were
// written are folded into the persisted totals atomically; the rest stay
// pending for the next attempt.
func (f *Flusher) Persist(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	chunks := f.ledger.beginFlush()
	if len(chunks) == 0 {
		return nil
	}

	written := make([]Chunk, 0, len(chunks))
	var err error
	for _, c := range chunks {
		record := storage.UsageRecord{
			ID:        c.ID,
			App:       c.App,
			Distance:  c.Distance,
			Timestamp: c.At,
			Day:       c.Day,
		}
		if err = f.store.Append(ctx, record); err != nil {
			err = fmt.Errorf("append record %s: %w", c.ID, err)
			break
		}
		written = append(written, c)
		metrics.DistanceTotal.WithLabelValues(c.App).Add(c.Distance)
	}

	snap := f.ledger.finishFlush(written)
	if err != nil {
		metrics.FlushesTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.FlushesTotal.WithLabelValues("ok").Inc()

	f.logger.Debug().
		Int("records", len(written)).
		Str("day", snap.Day).
		Float64("global_total", snap.GlobalTotal()).
		Msg("Flushed usage")

	return nil
}

// Reload replaces the persisted totals with the store's view of today.
// A reload that races a flush is discarded and retried once.
func (f *Flusher) Reload(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		snap := f.ledger.Load()
		totals, err := f.store.DailyTotalsByApp(ctx, snap.Day)
		if err != nil {
			return fmt.Errorf("load totals for %s: %w", snap.Day, err)
		}
		if f.ledger.ReplacePersisted(snap.Day, snap.Seq, totals) {
			f.logger.Debug().
				Str("day", snap.Day).
				Int("apps", len(totals)).
				Msg("Reloaded today's usage")
			return nil
		}
	}
	return nil
}

// FlushNow stashes the live session and persists everything pending. It is
// used on shutdown, so it runs detached from ctx cancellation and is bounded
// by its own timeout instead.
func (f *Flusher) FlushNow(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownFlushTimeout)
	defer cancel()

	now := f.clock.Now()
	f.CheckRollover(now)
	f.ledger.Stash(now)
	if err := f.Persist(ctx); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}

	snap := f.ledger.Load()
	if pending := snap.PendingDistance(); pending > 0 {
		return fmt.Errorf("final flush left %.3f units unwritten", pending)
	}
	return nil
}
