package usage

import (
	"time"
)

// Chunk is session distance moved out of the live counter and waiting to be
// written as one UsageRecord. Its ID makes a retried write idempotent.
type Chunk struct {
	ID       string
	Day      string
	App      string
	Distance float64
	At       time.Time
}

// Snapshot is an immutable view of today's usage. Values are never mutated
// after being published; every change builds a new Snapshot.
type Snapshot struct {
	Day string
	// App is the app the session counter is attributed to, "" when idle.
	App     string
	Session float64

	// Persisted holds today's per-app totals as known to be in the store.
	Persisted map[string]float64
	// Pending holds chunks taken from the session but not yet confirmed
	// written.
	Pending []Chunk

	// Seq changes whenever Persisted or Pending change in a way that would
	// make a concurrent store read stale.
	Seq      uint64
	Flushing bool
	// Stale is set when Persisted must be reloaded, e.g. after a day change.
	Stale bool

	uiAt       time.Time
	uiDistance float64
}

// AppTotal returns today's effective usage for app: persisted, pending and
// live session distance, each counted once.
func (s *Snapshot) AppTotal(app string) float64 {
	total := s.Persisted[app]
	for _, c := range s.Pending {
		if c.Day == s.Day && c.App == app {
			total += c.Distance
		}
	}
	if app != "" && app == s.App {
		total += s.Session
	}
	return total
}

// GlobalTotal returns today's effective usage across all apps.
func (s *Snapshot) GlobalTotal() float64 {
	var total float64
	for _, distance := range s.Persisted {
		total += distance
	}
	for _, c := range s.Pending {
		if c.Day == s.Day {
			total += c.Distance
		}
	}
	return total + s.Session
}

// PendingDistance returns the distance awaiting a successful write.
func (s *Snapshot) PendingDistance() float64 {
	var total float64
	for _, c := range s.Pending {
		total += c.Distance
	}
	return total
}

// UIUpdate is a throttled refresh of the dashboard-facing counters.
type UIUpdate struct {
	Day         string
	App         string
	Session     float64
	AppTotal    float64
	GlobalTotal float64
	At          time.Time
}

// Throttle bounds how often UIUpdates are emitted. An update is due when
// either bound has been reached since the last one.
type Throttle struct {
	MinInterval time.Duration
	MinDistance float64
}
