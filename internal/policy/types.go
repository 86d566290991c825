package policy

import (
	"github.com/goodtune/scrollcap/internal/presenter"
)

// Level is the urgency of an enforcement action. Levels are ordered.
type Level int

const (
	LevelNone Level = iota
	LevelWarn
	LevelSoft
	LevelHard
)

func (l Level) String() string {
	switch l {
	case LevelWarn:
		return "warn"
	case LevelSoft:
		return "soft"
	case LevelHard:
		return "hard"
	default:
		return "none"
	}
}

// Kind returns the overlay kind for soft and hard levels.
func (l Level) Kind() presenter.Kind {
	switch l {
	case LevelSoft:
		return presenter.KindSoft
	case LevelHard:
		return presenter.KindHard
	default:
		return 0
	}
}

// Threshold fractions of a limit.
const (
	WarnFraction = 0.25
	SoftFraction = 0.50
	HardFraction = 1.00
)

// Scope is what a limit applies to: every tracked app, or one app.
type Scope string

// GlobalScope is the scope of the global limit.
const GlobalScope Scope = "global"

// AppScope returns the scope of a per-app limit.
func AppScope(app string) Scope {
	return Scope("app:" + app)
}

// IsGlobal reports whether s is the global scope.
func (s Scope) IsGlobal() bool {
	return s == GlobalScope
}

// Flags is the once-per-day state of one scope.
type Flags struct {
	Warned      bool
	SoftBlocked bool
}

// mark records that level has been presented, or consumed, for a scope.
func (f Flags) mark(level Level) Flags {
	if level >= LevelWarn {
		f.Warned = true
	}
	if level >= LevelSoft {
		f.SoftBlocked = true
	}
	return f
}

// Overlay describes the blocking overlay currently on screen.
type Overlay struct {
	Level Level
	Scope Scope
	App   string
}

// Showing reports whether an overlay is on screen.
func (o Overlay) Showing() bool {
	return o.Level >= LevelSoft
}

// Input is everything Evaluate needs. Usage values are effective totals
// for today; limits of zero or less mean no limit.
type Input struct {
	App         string
	AppUsage    float64
	GlobalUsage float64
	AppLimit    float64
	GlobalLimit float64
	AppFlags    Flags
	GlobalFlags Flags
	Showing     Overlay
}

// Decision is the outcome of one evaluation.
type Decision struct {
	// Fire is the action to present now, LevelNone for nothing new.
	Fire  Level
	Scope Scope
	// Dismiss removes the overlay that was showing before Fire applies.
	Dismiss bool
	// Keep reports that the showing overlay stays up unchanged.
	Keep        bool
	AppFlags    Flags
	GlobalFlags Flags
}
