package policy

import (
	"sync/atomic"
	"time"
)

// Phase is the state of foreground tracking.
type Phase int

const (
	// PhaseIdle: no tracked app is in the foreground.
	PhaseIdle Phase = iota
	// PhaseTracking: distance accumulates for App.
	PhaseTracking
	// PhaseBlocked: a hard block is showing over App.
	PhaseBlocked
	// PhaseImmune: events from App received before Until are discarded.
	PhaseImmune
)

func (p Phase) String() string {
	switch p {
	case PhaseTracking:
		return "tracking"
	case PhaseBlocked:
		return "blocked"
	case PhaseImmune:
		return "immune"
	default:
		return "idle"
	}
}

// Foreground is one immutable state of the foreground state machine. The
// transition methods return the next state and never modify the receiver.
type Foreground struct {
	Phase Phase
	App   string
	Until time.Time
	// LastBlocked is the app whose hard block the user last dismissed.
	LastBlocked string
}

// Current returns the app distance is attributed to, "" when none.
func (f Foreground) Current() string {
	if f.Phase == PhaseTracking || f.Phase == PhaseBlocked {
		return f.App
	}
	return ""
}

// Suppresses reports whether an event from pkg received at at is residue of
// a dismissed block.
func (f Foreground) Suppresses(pkg string, at time.Time) bool {
	return f.Phase == PhaseImmune && pkg == f.App && at.Before(f.Until)
}

// Focus handles a window focus change to pkg. Focus on any other package
// ends immunity at once.
func (f Foreground) Focus(pkg string, tracked bool, at time.Time) Foreground {
	if f.Suppresses(pkg, at) {
		return f
	}
	if (f.Phase == PhaseBlocked || f.Phase == PhaseTracking) && pkg == f.App && tracked {
		return f
	}
	if !tracked {
		return Foreground{Phase: PhaseIdle, LastBlocked: f.LastBlocked}
	}
	return Foreground{Phase: PhaseTracking, App: pkg, LastBlocked: f.LastBlocked}
}

// Block records a hard block over app.
func (f Foreground) Block(app string) Foreground {
	if f.Phase != PhaseTracking || f.App != app {
		return f
	}
	f.Phase = PhaseBlocked
	return f
}

// Unblock records that the hard block went away without the user leaving.
func (f Foreground) Unblock() Foreground {
	if f.Phase != PhaseBlocked {
		return f
	}
	f.Phase = PhaseTracking
	return f
}

// HardDismissed starts immunity for the blocked app.
func (f Foreground) HardDismissed(at time.Time, window time.Duration) Foreground {
	if f.Phase != PhaseBlocked {
		return f
	}
	return Foreground{
		Phase:       PhaseImmune,
		App:         f.App,
		Until:       at.Add(window),
		LastBlocked: f.App,
	}
}

// Untrack drops the current app, e.g. after it left the tracked set.
func (f Foreground) Untrack() Foreground {
	if f.Current() == "" {
		return f
	}
	return Foreground{Phase: PhaseIdle, LastBlocked: f.LastBlocked}
}

// ForegroundTracker publishes Foreground states for concurrent readers.
type ForegroundTracker struct {
	state atomic.Pointer[Foreground]
}

// Load returns the current state.
func (t *ForegroundTracker) Load() Foreground {
	if f := t.state.Load(); f != nil {
		return *f
	}
	return Foreground{}
}

// Update applies fn atomically and returns the states before and after.
func (t *ForegroundTracker) Update(fn func(Foreground) Foreground) (Foreground, Foreground) {
	for {
		cur := t.state.Load()
		prev := Foreground{}
		if cur != nil {
			prev = *cur
		}
		next := fn(prev)
		if t.state.CompareAndSwap(cur, &next) {
			return prev, next
		}
	}
}
