package policy

// RawLevel returns the highest threshold usage has reached against limit.
// A non-positive limit never triggers.
func RawLevel(usage, limit float64) Level {
	if limit <= 0 {
		return LevelNone
	}
	switch {
	case usage >= limit*HardFraction:
		return LevelHard
	case usage >= limit*SoftFraction:
		return LevelSoft
	case usage >= limit*WarnFraction:
		return LevelWarn
	default:
		return LevelNone
	}
}

// fireable returns the level a scope may present given its flags. Hard is
// persistent; warn and soft fire once per day.
func fireable(raw Level, f Flags) Level {
	switch {
	case raw == LevelHard:
		return LevelHard
	case raw >= LevelSoft && !f.SoftBlocked:
		return LevelSoft
	case raw >= LevelWarn && !f.Warned:
		return LevelWarn
	default:
		return LevelNone
	}
}

// Evaluate decides what to present for the active app. The app's own limit
// wins when it is at least as urgent as the global one; the global limit
// is the fallback when no app limit applies or it has not been breached as
// far.
//
// A showing overlay is dismissed once the user has left its app or usage is
// back under its threshold. Otherwise it is only ever replaced by a more
// urgent one; candidates at or below its level are consumed silently.
func Evaluate(in Input) Decision {
	d := Decision{AppFlags: in.AppFlags, GlobalFlags: in.GlobalFlags}

	showing := in.Showing
	if showing.Showing() {
		usage, limit := in.AppUsage, in.AppLimit
		if showing.Scope.IsGlobal() {
			usage, limit = in.GlobalUsage, in.GlobalLimit
		}
		if showing.App != in.App || RawLevel(usage, limit) < showing.Level {
			d.Dismiss = true
			showing = Overlay{}
		}
	}

	if in.App == "" {
		return d
	}

	appLevel := fireable(RawLevel(in.AppUsage, in.AppLimit), in.AppFlags)
	globalLevel := fireable(RawLevel(in.GlobalUsage, in.GlobalLimit), in.GlobalFlags)

	best, scope := appLevel, AppScope(in.App)
	if globalLevel > appLevel {
		best, scope = globalLevel, GlobalScope
	}

	presented := showing.Level
	if best > showing.Level {
		d.Fire = best
		d.Scope = scope
		presented = best
	} else if showing.Showing() {
		d.Keep = true
	}

	// Anything at or below what the user is looking at counts as delivered
	if appLevel != LevelNone && appLevel <= presented {
		d.AppFlags = d.AppFlags.mark(appLevel)
	}
	if globalLevel != LevelNone && globalLevel <= presented {
		d.GlobalFlags = d.GlobalFlags.mark(globalLevel)
	}

	return d
}
