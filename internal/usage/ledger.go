package usage

import (
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/goodtune/scrollcap/internal/storage"
	"github.com/google/uuid"
)

// Ledger is the session accumulator plus the cache of today's totals. All
// state lives in one Snapshot behind an atomic pointer, so readers always
// see session, pending and persisted distance from the same instant.
type Ledger struct {
	snap atomic.Pointer[Snapshot]
	loc  *time.Location
}

// NewLedger creates a ledger for the calendar day containing now. Day keys
// are computed in loc.
func NewLedger(now time.Time, loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.Local
	}
	l := &Ledger{loc: loc}
	l.snap.Store(&Snapshot{
		Day:       storage.DayKey(now.In(loc)),
		Persisted: map[string]float64{},
		Stale:     true,
	})
	return l
}

// Load returns the current snapshot. Callers must not mutate it.
func (l *Ledger) Load() *Snapshot {
	return l.snap.Load()
}

// DayOf returns the day key of t in the ledger's location.
func (l *Ledger) DayOf(t time.Time) string {
	return storage.DayKey(t.In(l.loc))
}

// update applies fn until it wins the compare-and-swap. fn receives a
// shallow copy and returns false to leave the snapshot untouched.
func (l *Ledger) update(fn func(next *Snapshot) bool) (*Snapshot, bool) {
	for {
		cur := l.snap.Load()
		next := *cur
		if !fn(&next) {
			return cur, false
		}
		if l.snap.CompareAndSwap(cur, &next) {
			return &next, true
		}
	}
}

// Add credits delta to the session if app is the app being tracked.
func (l *Ledger) Add(app string, delta float64) (*Snapshot, bool) {
	if delta < 0 {
		delta = 0
	}
	return l.update(func(next *Snapshot) bool {
		if app == "" || next.App != app {
			return false
		}
		next.Session += delta
		return true
	})
}

// Switch moves the session pointer to app. Distance accumulated for the
// previous app becomes a pending chunk in the same step, so it stays in
// that app's total while the write is outstanding.
func (l *Ledger) Switch(app string, at time.Time) (*Snapshot, bool) {
	return l.update(func(next *Snapshot) bool {
		if next.App == app {
			return false
		}
		stash(next, at)
		next.App = app
		next.uiAt = time.Time{}
		next.uiDistance = 0
		return true
	})
}

// Stash moves any session distance into a pending chunk.
func (l *Ledger) Stash(at time.Time) (*Snapshot, bool) {
	return l.update(func(next *Snapshot) bool {
		if next.Session <= 0 {
			return false
		}
		stash(next, at)
		return true
	})
}

func stash(next *Snapshot, at time.Time) {
	if next.Session <= 0 || next.App == "" {
		next.Session = 0
		return
	}
	next.Pending = append(slices.Clone(next.Pending), Chunk{
		ID:       uuid.NewString(),
		Day:      next.Day,
		App:      next.App,
		Distance: next.Session,
		At:       at,
	})
	next.Session = 0
}

// Rollover starts a new calendar day. Unflushed session distance is kept
// against the day it was scrolled on.
func (l *Ledger) Rollover(day string, at time.Time) (*Snapshot, bool) {
	return l.update(func(next *Snapshot) bool {
		if day <= next.Day {
			return false
		}
		stash(next, at)
		next.Day = day
		next.Persisted = map[string]float64{}
		next.Seq++
		next.Stale = true
		next.uiAt = time.Time{}
		next.uiDistance = 0
		return true
	})
}

// ReplacePersisted installs totals read from the store. The read must have
// started at seq on day; it is discarded if a flush has run since or is in
// progress, because the store may then already hold pending chunks.
func (l *Ledger) ReplacePersisted(day string, seq uint64, totals map[string]float64) bool {
	_, ok := l.update(func(next *Snapshot) bool {
		if next.Day != day || next.Seq != seq || next.Flushing {
			return false
		}
		next.Persisted = maps.Clone(totals)
		if next.Persisted == nil {
			next.Persisted = map[string]float64{}
		}
		next.Seq++
		next.Stale = false
		return true
	})
	return ok
}

// beginFlush marks a flush in progress and returns the chunks to write.
func (l *Ledger) beginFlush() []Chunk {
	var chunks []Chunk
	l.update(func(next *Snapshot) bool {
		if next.Flushing || len(next.Pending) == 0 {
			return false
		}
		chunks = slices.Clone(next.Pending)
		next.Flushing = true
		return true
	})
	return chunks
}

// finishFlush moves written chunks from Pending to Persisted in one step.
func (l *Ledger) finishFlush(written []Chunk) *Snapshot {
	done := make(map[string]struct{}, len(written))
	for _, c := range written {
		done[c.ID] = struct{}{}
	}

	snap, _ := l.update(func(next *Snapshot) bool {
		next.Flushing = false
		if len(written) == 0 {
			return true
		}

		persisted := maps.Clone(next.Persisted)
		pending := make([]Chunk, 0, len(next.Pending))
		for _, c := range next.Pending {
			if _, ok := done[c.ID]; !ok {
				pending = append(pending, c)
				continue
			}
			if c.Day == next.Day {
				persisted[c.App] += c.Distance
			}
		}
		next.Persisted = persisted
		next.Pending = pending
		next.Seq++
		return true
	})
	return snap
}

// MarkUI reports whether a UI refresh is due at at under t and, if so,
// records it.
func (l *Ledger) MarkUI(t Throttle, at time.Time) (UIUpdate, bool) {
	var update UIUpdate
	_, ok := l.update(func(next *Snapshot) bool {
		if next.App == "" {
			return false
		}
		total := next.AppTotal(next.App)
		due := next.uiAt.IsZero() ||
			at.Sub(next.uiAt) >= t.MinInterval ||
			total-next.uiDistance >= t.MinDistance
		if !due {
			return false
		}
		next.uiAt = at
		next.uiDistance = total
		update = UIUpdate{
			Day:         next.Day,
			App:         next.App,
			Session:     next.Session,
			AppTotal:    total,
			GlobalTotal: next.GlobalTotal(),
			At:          at,
		}
		return true
	})
	return update, ok
}
