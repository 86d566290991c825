package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/scrollcap/internal/clock"
	"github.com/goodtune/scrollcap/internal/storage"
	redisstore "github.com/goodtune/scrollcap/internal/storage/redis"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) storage.UsageStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := redisstore.NewWithClient(client, "")
	t.Cleanup(func() { _ = store.Close() })

	return store.Usage()
}

// flakyStore fails the next n appends. With writeThrough set, the write
// lands before the error is reported, as with a lost reply.
type flakyStore struct {
	storage.UsageStore
	mu           sync.Mutex
	failures     int
	writeThrough bool
}

func (s *flakyStore) Append(ctx context.Context, record storage.UsageRecord) error {
	s.mu.Lock()
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()

	if !fail {
		return s.UsageStore.Append(ctx, record)
	}
	if s.writeThrough {
		if err := s.UsageStore.Append(ctx, record); err != nil {
			return err
		}
	}
	return errors.New("connection reset")
}

func newTestFlusher(t *testing.T, store storage.UsageStore) (*Flusher, *Ledger, *clock.TestClock) {
	t.Helper()

	clk := clock.NewTestClock(morning)
	ledger := NewLedger(clk.Now(), time.UTC)
	return NewFlusher(ledger, store, clk, time.Second, zerolog.Nop()), ledger, clk
}

func storeTotal(t *testing.T, store storage.UsageStore, day, app string) float64 {
	t.Helper()
	totals, err := store.DailyTotalsByApp(context.Background(), day)
	require.NoError(t, err)
	return totals[app]
}

// Two flush cycles of 5 units for A are two records; archiving folds them
// into one total of 10 and prunes both.
func TestFlusher_TwoCyclesThenArchive(t *testing.T) {
	store := setupTestStore(t)
	f, ledger, clk := newTestFlusher(t, store)
	ctx := context.Background()

	ledger.Switch("A", clk.Now())
	ledger.Add("A", 5)
	f.Tick(ctx)
	clk.Advance(20 * time.Second)
	ledger.Add("A", 5)
	f.Tick(ctx)

	records, err := store.ListRecords(ctx, "2026-03-10")
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, 10.0, ledger.Load().AppTotal("A"))

	clk.Set(morning.AddDate(0, 0, 8))
	rs, err := NewRetentionScheduler(store, "03:30", 7, clk, time.UTC, zerolog.Nop())
	require.NoError(t, err)

	result, err := rs.ArchiveNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RecordsPruned)

	totals, err := store.ListDailyTotals(ctx, "2026-03-10")
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, 10.0, totals[0].Distance)

	records, err = store.ListRecords(ctx, "2026-03-10")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFlusher_SwitchFlushReflectsInCache(t *testing.T) {
	store := setupTestStore(t)
	f, ledger, clk := newTestFlusher(t, store)
	ctx := context.Background()

	ledger.Switch("A", clk.Now())
	ledger.Add("A", 8)
	snap, _ := ledger.Switch("B", clk.Now())

	// Cache already holds A's distance before anything is written
	assert.Equal(t, 8.0, snap.AppTotal("A"))
	assert.Zero(t, snap.Session)

	require.NoError(t, f.Persist(ctx))
	assert.Equal(t, 8.0, storeTotal(t, store, "2026-03-10", "A"))
	assert.Equal(t, 8.0, ledger.Load().AppTotal("A"))
	assert.Equal(t, 8.0, ledger.Load().Persisted["A"])
}

func TestFlusher_RetriesFailedWrites(t *testing.T) {
	for _, writeThrough := range []bool{false, true} {
		name := "write lost"
		if writeThrough {
			name = "reply lost"
		}
		t.Run(name, func(t *testing.T) {
			store := &flakyStore{UsageStore: setupTestStore(t), failures: 1, writeThrough: writeThrough}
			f, ledger, clk := newTestFlusher(t, store)
			ctx := context.Background()

			ledger.Switch("A", clk.Now())
			ledger.Add("A", 3)
			ledger.Stash(clk.Now())

			require.Error(t, f.Persist(ctx))
			assert.Equal(t, 3.0, ledger.Load().AppTotal("A"), "failed write keeps distance counted")
			assert.Len(t, ledger.Load().Pending, 1)

			require.NoError(t, f.Persist(ctx))
			assert.Empty(t, ledger.Load().Pending)
			assert.Equal(t, 3.0, ledger.Load().AppTotal("A"))
			assert.Equal(t, 3.0, storeTotal(t, store, "2026-03-10", "A"), "retry must not double count")
		})
	}
}

// However flushes interleave with scrolling and switching, the store ends
// up holding exactly the distance that was credited.
func TestFlusher_NoDoubleCounting(t *testing.T) {
	store := setupTestStore(t)
	f, ledger, clk := newTestFlusher(t, store)
	ctx := context.Background()

	apps := []string{"A", "B", "C"}
	credited := map[string]float64{}

	for i := 0; i < 60; i++ {
		app := apps[(i/7)%len(apps)]
		ledger.Switch(app, clk.Now())

		delta := float64(i%5) * 0.25
		if _, ok := ledger.Add(app, delta); ok {
			credited[app] += delta
		}

		switch {
		case i%11 == 0:
			f.Tick(ctx)
		case i%4 == 0:
			require.NoError(t, f.Persist(ctx))
		case i%9 == 0:
			require.NoError(t, f.Reload(ctx))
		}
		clk.Advance(time.Second)
	}
	require.NoError(t, f.FlushNow(ctx))

	snap := ledger.Load()
	for _, app := range apps {
		assert.InDelta(t, credited[app], storeTotal(t, store, "2026-03-10", app), 1e-9, "store total for %s", app)
		assert.InDelta(t, credited[app], snap.AppTotal(app), 1e-9, "cached total for %s", app)
	}
}

func TestFlusher_ConcurrentFlushAndScroll(t *testing.T) {
	store := setupTestStore(t)
	f, ledger, clk := newTestFlusher(t, store)
	ctx, cancel := context.WithCancel(context.Background())

	ledger.Switch("A", clk.Now())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			ledger.Stash(clk.Now())
			_ = f.Persist(ctx)
		}
	}()

	var credited float64
	for i := 0; i < 2000; i++ {
		if _, ok := ledger.Add("A", 0.5); ok {
			credited += 0.5
		}
	}
	cancel()
	wg.Wait()

	require.NoError(t, f.FlushNow(context.Background()))
	assert.InDelta(t, credited, storeTotal(t, store, "2026-03-10", "A"), 1e-9)
	assert.InDelta(t, credited, ledger.Load().AppTotal("A"), 1e-9)
}

func TestFlusher_RolloverAttributesToPreviousDay(t *testing.T) {
	store := setupTestStore(t)
	f, ledger, clk := newTestFlusher(t, store)
	ctx := context.Background()

	clk.Set(time.Date(2026, 3, 10, 23, 59, 50, 0, time.UTC))
	ledger.Switch("A", clk.Now())
	ledger.Add("A", 4)

	clk.Set(time.Date(2026, 3, 11, 0, 0, 5, 0, time.UTC))
	f.Tick(ctx)

	assert.Equal(t, 4.0, storeTotal(t, store, "2026-03-10", "A"))
	assert.Zero(t, storeTotal(t, store, "2026-03-11", "A"))

	snap := ledger.Load()
	assert.Equal(t, "2026-03-11", snap.Day)
	assert.Zero(t, snap.AppTotal("A"))
	assert.False(t, snap.Stale, "tick reloads the new day")
}

func TestFlusher_ReloadPicksUpStoredUsage(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, storage.UsageRecord{
		ID: "earlier", App: "A", Distance: 12, Timestamp: morning, Day: "2026-03-10",
	}))

	f, ledger, _ := newTestFlusher(t, store)
	require.True(t, ledger.Load().Stale)
	require.NoError(t, f.Reload(ctx))

	assert.Equal(t, 12.0, ledger.Load().AppTotal("A"))
	assert.False(t, ledger.Load().Stale)
}

func TestFlusher_RunFlushesOnKick(t *testing.T) {
	store := setupTestStore(t)
	f, ledger, clk := newTestFlusher(t, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	ledger.Switch("A", clk.Now())
	ledger.Add("A", 2)
	ledger.Switch("B", clk.Now())
	f.Kick()

	require.Eventually(t, func() bool {
		totals, err := store.DailyTotalsByApp(context.Background(), "2026-03-10")
		return err == nil && totals["A"] == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
