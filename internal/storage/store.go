package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrLocked is returned when a settings write is attempted while the lock
// governing that setting has not yet expired.
var ErrLocked = errors.New("storage: settings are locked")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Usage() UsageStore
	Settings() SettingsStore
}

// UsageStore is the durable ledger of scroll distance by app and day.
type UsageStore interface {
	// Append writes an immutable raw record. Appending the same record ID
	// twice stores it once.
	Append(ctx context.Context, record UsageRecord) error
	// DailyTotal returns the distance recorded across all apps for day.
	DailyTotal(ctx context.Context, day string) (float64, error)
	// DailyTotalsByApp returns the distance recorded per app for day,
	// merging raw records and archived totals.
	DailyTotalsByApp(ctx context.Context, day string) (map[string]float64, error)
	ListRecords(ctx context.Context, day string) ([]UsageRecord, error)
	ListDailyTotals(ctx context.Context, day string) ([]DailyAppTotal, error)
	// ArchiveAndPrune folds every raw record older than beforeDay into
	// DailyAppTotal rows and deletes the raw rows in one atomic step.
	ArchiveAndPrune(ctx context.Context, beforeDay string) (ArchiveResult, error)
	// Watch delivers the day key of every day whose totals changed until
	// ctx is cancelled.
	Watch(ctx context.Context) (<-chan string, error)
}

// SettingsStore holds the user's durable settings.
type SettingsStore interface {
	// Load returns all settings as one consistent view.
	Load(ctx context.Context) (Settings, error)
	SetTrackedApps(ctx context.Context, apps []string) error
	SetGlobalLimit(ctx context.Context, limit float64) error
	SetAppLimit(ctx context.Context, app string, limit float64) error
	ClearAppLimit(ctx context.Context, app string) error
	// SetGeneralLock and SetAppLimitsLock may only extend a lock that is
	// still active.
	SetGeneralLock(ctx context.Context, until time.Time) error
	SetAppLimitsLock(ctx context.Context, until time.Time) error
	// Watch signals every settings change until ctx is cancelled.
	Watch(ctx context.Context) (<-chan struct{}, error)
}
