package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/scrollcap/internal/clock"
	"github.com/goodtune/scrollcap/internal/metrics"
	"github.com/goodtune/scrollcap/internal/storage"
	"github.com/rs/zerolog"
)

// DefaultRetentionDays is the rolling window of raw usage records.
const DefaultRetentionDays = 7

// RetentionScheduler folds raw usage records that fall out of the rolling
// window into daily totals, once at startup and then daily at a fixed time.
type RetentionScheduler struct {
	store         storage.UsageStore
	archiveTime   time.Time // Time of day to archive (only hour and minute are used)
	retentionDays int
	clock         clock.Clock
	loc           *time.Location
	logger        zerolog.Logger
}

// NewRetentionScheduler creates a new retention scheduler
func NewRetentionScheduler(store storage.UsageStore, archiveTime string, retentionDays int, clk clock.Clock, loc *time.Location, logger zerolog.Logger) (*RetentionScheduler, error) {
	// Parse archive time (HH:MM format)
	parsedTime, err := time.Parse("15:04", archiveTime)
	if err != nil {
		return nil, fmt.Errorf("invalid archive time %q: %w", archiveTime, err)
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if loc == nil {
		loc = time.Local
	}

	return &RetentionScheduler{
		store:         store,
		archiveTime:   parsedTime,
		retentionDays: retentionDays,
		clock:         clk,
		loc:           loc,
		logger:        logger.With().Str("component", "retention").Logger(),
	}, nil
}

// Run archives once immediately, then at every archive time until ctx is
// cancelled.
func (rs *RetentionScheduler) Run(ctx context.Context) error {
	rs.logger.Info().
		Str("archive_time", rs.archiveTime.Format("15:04")).
		Int("retention_days", rs.retentionDays).
		Msg("Usage retention scheduler started")

	rs.archive(ctx)

	for {
		// Calculate next archive time
		next := rs.NextRun(rs.clock.Now())
		wait := next.Sub(rs.clock.Now())

		rs.logger.Debug().
			Time("next_run", next).
			Dur("wait_duration", wait).
			Msg("Scheduled next usage archive")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			rs.archive(ctx)
		case <-ctx.Done():
			timer.Stop()
			rs.logger.Info().Msg("Usage retention scheduler stopped")
			return nil
		}
	}
}

// NextRun returns the first archive time strictly after now.
func (rs *RetentionScheduler) NextRun(now time.Time) time.Time {
	now = now.In(rs.loc)

	// Get today's archive time
	today := time.Date(
		now.Year(), now.Month(), now.Day(),
		rs.archiveTime.Hour(), rs.archiveTime.Minute(), 0, 0,
		rs.loc,
	)

	// If we've already passed today's archive time, schedule for tomorrow
	if !now.Before(today) {
		return today.AddDate(0, 0, 1)
	}

	return today
}

// Cutoff returns the first day whose raw records are kept at now.
func (rs *RetentionScheduler) Cutoff(now time.Time) string {
	return storage.RetentionCutoff(now.In(rs.loc), rs.retentionDays)
}

// ArchiveNow archives every day before the retention cutoff.
func (rs *RetentionScheduler) ArchiveNow(ctx context.Context) (storage.ArchiveResult, error) {
	cutoff := rs.Cutoff(rs.clock.Now())
	result, err := rs.store.ArchiveAndPrune(ctx, cutoff)
	if err != nil {
		return storage.ArchiveResult{}, fmt.Errorf("archive before %s: %w", cutoff, err)
	}
	metrics.ArchivedRecords.Add(float64(result.RecordsPruned))
	return result, nil
}

func (rs *RetentionScheduler) archive(ctx context.Context) {
	result, err := rs.ArchiveNow(ctx)
	if err != nil {
		rs.logger.Error().Err(err).Msg("Failed to archive old usage")
		return
	}

	rs.logger.Info().
		Int("days", result.Days).
		Int("totals_upserted", result.TotalsUpserted).
		Int("records_pruned", result.RecordsPruned).
		Msg("Archived old usage records")
}
