package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/scrollcap/internal/clock"
	"github.com/goodtune/scrollcap/internal/config"
	"github.com/goodtune/scrollcap/internal/storage"
)

func setupTestStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()

	// Create miniredis instance
	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so we use it directly
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 1,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg, opts...)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store, mr
}

func record(id, app string, distance float64, at time.Time) storage.UsageRecord {
	return storage.UsageRecord{
		ID:        id,
		App:       app,
		Distance:  distance,
		Timestamp: at,
		Day:       storage.DayKey(at),
	}
}

func TestUsageStore_AppendAndTotals(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	usage := store.Usage()

	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	records := []storage.UsageRecord{
		record("r1", "com.video", 1.5, at),
		record("r2", "com.video", 2.25, at.Add(time.Minute)),
		record("r3", "com.social", 4, at.Add(2*time.Minute)),
	}
	for _, r := range records {
		if err := usage.Append(ctx, r); err != nil {
			t.Fatalf("Append(%s) failed: %v", r.ID, err)
		}
	}

	byApp, err := usage.DailyTotalsByApp(ctx, "2026-03-10")
	if err != nil {
		t.Fatalf("DailyTotalsByApp failed: %v", err)
	}
	if byApp["com.video"] != 3.75 {
		t.Errorf("Expected com.video total 3.75, got %v", byApp["com.video"])
	}
	if byApp["com.social"] != 4 {
		t.Errorf("Expected com.social total 4, got %v", byApp["com.social"])
	}

	total, err := usage.DailyTotal(ctx, "2026-03-10")
	if err != nil {
		t.Fatalf("DailyTotal failed: %v", err)
	}
	if total != 7.75 {
		t.Errorf("Expected daily total 7.75, got %v", total)
	}

	listed, err := usage.ListRecords(ctx, "2026-03-10")
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(listed) != 3 {
		t.Errorf("Expected 3 records, got %d", len(listed))
	}
}

func TestUsageStore_AppendIsIdempotent(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	usage := store.Usage()

	r := record("dup", "com.video", 5, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	for i := 0; i < 3; i++ {
		if err := usage.Append(ctx, r); err != nil {
			t.Fatalf("Append attempt %d failed: %v", i, err)
		}
	}

	total, err := usage.DailyTotal(ctx, r.Day)
	if err != nil {
		t.Fatalf("DailyTotal failed: %v", err)
	}
	if total != 5 {
		t.Errorf("Expected replayed append to count once (5), got %v", total)
	}
}

func TestUsageStore_AppendRejectsInvalid(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		record storage.UsageRecord
	}{
		{"missing id", storage.UsageRecord{App: "a", Distance: 1, Timestamp: time.Now()}},
		{"negative distance", storage.UsageRecord{ID: "x", App: "a", Distance: -1, Timestamp: time.Now()}},
		{"bad day", storage.UsageRecord{ID: "y", App: "a", Distance: 1, Timestamp: time.Now(), Day: "yesterday"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.Usage().Append(ctx, tt.record); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestUsageStore_DailyTotalsEmptyDay(t *testing.T) {
	store, _ := setupTestStore(t)

	byApp, err := store.Usage().DailyTotalsByApp(context.Background(), "2026-01-01")
	if err != nil {
		t.Fatalf("DailyTotalsByApp failed: %v", err)
	}
	if len(byApp) != 0 {
		t.Errorf("Expected no totals, got %v", byApp)
	}
}

func TestUsageStore_Watch(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := store.Usage().Watch(ctx)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	r := record("w1", "com.video", 1, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	if err := store.Usage().Append(ctx, r); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	select {
	case day := <-changes:
		if day != "2026-03-10" {
			t.Errorf("Expected change for 2026-03-10, got %q", day)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for usage change")
	}

	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-changes:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("Watch channel not closed after cancel")
		}
	}
}

func TestSettingsStore_LoadDefaults(t *testing.T) {
	store, _ := setupTestStore(t, WithDefaultGlobalLimit(250))

	settings, err := store.Settings().Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if settings.GlobalLimit != 250 {
		t.Errorf("Expected default global limit 250, got %v", settings.GlobalLimit)
	}
	if len(settings.TrackedApps) != 0 {
		t.Errorf("Expected no tracked apps, got %v", settings.TrackedApps)
	}
	if !settings.GeneralLockUntil.IsZero() || !settings.AppLimitsLockUntil.IsZero() {
		t.Error("Expected no locks")
	}
}

func TestSettingsStore_RoundTrip(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	settings := store.Settings()

	if err := settings.SetTrackedApps(ctx, []string{"com.video", "com.social", ""}); err != nil {
		t.Fatalf("SetTrackedApps failed: %v", err)
	}
	if err := settings.SetGlobalLimit(ctx, 40); err != nil {
		t.Fatalf("SetGlobalLimit failed: %v", err)
	}
	if err := settings.SetAppLimit(ctx, "com.video", 10); err != nil {
		t.Fatalf("SetAppLimit failed: %v", err)
	}
	if err := settings.SetAppLimit(ctx, "com.social", 20); err != nil {
		t.Fatalf("SetAppLimit failed: %v", err)
	}
	if err := settings.ClearAppLimit(ctx, "com.social"); err != nil {
		t.Fatalf("ClearAppLimit failed: %v", err)
	}

	loaded, err := settings.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !loaded.IsTracked("com.video") || !loaded.IsTracked("com.social") {
		t.Errorf("Expected both apps tracked, got %v", loaded.TrackedApps.Sorted())
	}
	if len(loaded.TrackedApps) != 2 {
		t.Errorf("Expected 2 tracked apps, got %d", len(loaded.TrackedApps))
	}
	if loaded.GlobalLimit != 40 {
		t.Errorf("Expected global limit 40, got %v", loaded.GlobalLimit)
	}
	if limit, ok := loaded.AppLimit("com.video"); !ok || limit != 10 {
		t.Errorf("Expected com.video limit 10, got %v (%v)", limit, ok)
	}
	if _, ok := loaded.AppLimit("com.social"); ok {
		t.Error("Expected com.social limit to be cleared")
	}
}

func TestSettingsStore_Locks(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clk := clock.NewTestClock(now)
	store, _ := setupTestStore(t, WithClock(clk))
	ctx := context.Background()
	settings := store.Settings()

	if err := settings.SetGeneralLock(ctx, now.Add(time.Hour)); err != nil {
		t.Fatalf("SetGeneralLock failed: %v", err)
	}

	// General lock guards tracked apps and the global limit only
	if err := settings.SetGlobalLimit(ctx, 10); !errors.Is(err, storage.ErrLocked) {
		t.Errorf("Expected ErrLocked for global limit, got %v", err)
	}
	if err := settings.SetTrackedApps(ctx, []string{"com.video"}); !errors.Is(err, storage.ErrLocked) {
		t.Errorf("Expected ErrLocked for tracked apps, got %v", err)
	}
	if err := settings.SetAppLimit(ctx, "com.video", 5); err != nil {
		t.Errorf("Expected app limit write to succeed, got %v", err)
	}

	// Active locks can be extended but not shortened
	if err := settings.SetGeneralLock(ctx, now.Add(time.Minute)); !errors.Is(err, storage.ErrLocked) {
		t.Errorf("Expected ErrLocked when shortening lock, got %v", err)
	}
	if err := settings.SetGeneralLock(ctx, now.Add(2*time.Hour)); err != nil {
		t.Errorf("Expected lock extension to succeed, got %v", err)
	}

	// App limits lock
	if err := settings.SetAppLimitsLock(ctx, now.Add(time.Hour)); err != nil {
		t.Fatalf("SetAppLimitsLock failed: %v", err)
	}
	if err := settings.ClearAppLimit(ctx, "com.video"); !errors.Is(err, storage.ErrLocked) {
		t.Errorf("Expected ErrLocked clearing app limit, got %v", err)
	}

	// Once expired, writes go through again
	clk.Set(now.Add(3 * time.Hour))
	if err := settings.SetGlobalLimit(ctx, 10); err != nil {
		t.Errorf("Expected write after expiry to succeed, got %v", err)
	}
	if err := settings.ClearAppLimit(ctx, "com.video"); err != nil {
		t.Errorf("Expected clear after expiry to succeed, got %v", err)
	}

	loaded, err := settings.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !loaded.GeneralLockUntil.Equal(now.Add(2 * time.Hour)) {
		t.Errorf("Expected general lock until %v, got %v", now.Add(2*time.Hour), loaded.GeneralLockUntil)
	}
	if loaded.GeneralLocked(clk.Now()) {
		t.Error("Expected general lock to be expired")
	}
}

func TestSettingsStore_Watch(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := store.Settings().Watch(ctx)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if err := store.Settings().SetGlobalLimit(ctx, 12); err != nil {
		t.Fatalf("SetGlobalLimit failed: %v", err)
	}

	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for settings change")
	}
}

func TestSettingsStore_CorruptValue(t *testing.T) {
	store, mr := setupTestStore(t)

	mr.HSet(DefaultKeyPrefix+"settings", "global_limit", "lots")

	if _, err := store.Settings().Load(context.Background()); err == nil {
		t.Error("Expected error for corrupt global_limit")
	}
}
