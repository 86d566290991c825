package policy

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goodtune/scrollcap/internal/clock"
	"github.com/goodtune/scrollcap/internal/ingest"
	"github.com/goodtune/scrollcap/internal/metrics"
	"github.com/goodtune/scrollcap/internal/platform"
	"github.com/goodtune/scrollcap/internal/presenter"
	"github.com/goodtune/scrollcap/internal/storage"
	"github.com/goodtune/scrollcap/internal/usage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultImmunityWindow absorbs residual events of a dismissed block
	DefaultImmunityWindow = time.Second

	// DefaultRealityCheckTimeout bounds one foreground query
	DefaultRealityCheckTimeout = 250 * time.Millisecond
)

// Config tunes the engine.
type Config struct {
	OwnPackage          string
	ImmunityWindow      time.Duration
	RealityCheckTimeout time.Duration
	UIThrottle          usage.Throttle
}

// Deps are the collaborators of the engine. Foreground, Navigator and
// Notifier are optional.
type Deps struct {
	Ledger     *usage.Ledger
	Flusher    *usage.Flusher
	Queue      *ingest.Queue
	Usage      storage.UsageStore
	Settings   storage.SettingsStore
	Presenter  presenter.Presenter
	Notifier   presenter.Notifier
	Foreground platform.Foreground
	Navigator  platform.Navigator
	Clock      clock.Clock
}

// Engine turns scroll deltas, focus changes and settings into
// interventions. Evaluation and the overlay state are owned by a single
// worker goroutine; the producer path only touches atomically swapped
// snapshots.
type Engine struct {
	cfg        Config
	ledger     *usage.Ledger
	flusher    *usage.Flusher
	queue      *ingest.Queue
	usage      storage.UsageStore
	store      storage.SettingsStore
	presenter  presenter.Presenter
	notifier   presenter.Notifier
	foreground platform.Foreground
	navigator  platform.Navigator
	clock      clock.Clock
	logger     zerolog.Logger

	settings atomic.Pointer[storage.Settings]
	fg       ForegroundTracker
	flags    *FlagStore
	onUI     atomic.Pointer[func(usage.UIUpdate)]

	evalRequests chan struct{}
	dismissals   chan presenter.Kind

	// Owned by the worker
	showing Overlay
}

// NewEngine creates a new enforcement engine
func NewEngine(cfg Config, deps Deps, logger zerolog.Logger) (*Engine, error) {
	if deps.Ledger == nil || deps.Flusher == nil || deps.Queue == nil {
		return nil, fmt.Errorf("engine requires a ledger, flusher and queue")
	}
	if deps.Settings == nil || deps.Presenter == nil {
		return nil, fmt.Errorf("engine requires a settings store and presenter")
	}
	if cfg.ImmunityWindow <= 0 {
		cfg.ImmunityWindow = DefaultImmunityWindow
	}
	if cfg.RealityCheckTimeout <= 0 {
		cfg.RealityCheckTimeout = DefaultRealityCheckTimeout
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}

	flags, err := NewFlagStore(DefaultFlagCacheSize)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:          cfg,
		ledger:       deps.Ledger,
		flusher:      deps.Flusher,
		queue:        deps.Queue,
		usage:        deps.Usage,
		store:        deps.Settings,
		presenter:    deps.Presenter,
		notifier:     deps.Notifier,
		foreground:   deps.Foreground,
		navigator:    deps.Navigator,
		clock:        deps.Clock,
		logger:       logger.With().Str("component", "engine").Logger(),
		flags:        flags,
		evalRequests: make(chan struct{}, 1),
		dismissals:   make(chan presenter.Kind, 8),
	}
	e.settings.Store(&storage.Settings{})

	return e, nil
}

// OnUIUpdate registers a listener for throttled usage refreshes.
func (e *Engine) OnUIUpdate(fn func(usage.UIUpdate)) {
	e.onUI.Store(&fn)
}

// Settings returns the settings snapshot in force.
func (e *Engine) Settings() storage.Settings {
	return *e.settings.Load()
}

// Foreground returns the current foreground state.
func (e *Engine) Foreground() Foreground {
	return e.fg.Load()
}

// Showing returns the overlay state. It is owned by the worker, so callers
// other than tests driving Drain see a possibly stale value.
func (e *Engine) Showing() Overlay {
	return e.showing
}

// IsTracked implements ingest.Gate.
func (e *Engine) IsTracked(pkg string) bool {
	return e.settings.Load().IsTracked(pkg)
}

// Suppresses implements ingest.Gate.
func (e *Engine) Suppresses(pkg string, at time.Time) bool {
	return e.fg.Load().Suppresses(pkg, at)
}

// HandleFocus implements ingest.FocusHandler. The session switch, and with
// it the cached total of the app being left, is applied before evaluation
// is requested for the new app.
func (e *Engine) HandleFocus(pkg string, at time.Time) {
	tracked := e.IsTracked(pkg)
	prev, next := e.fg.Update(func(f Foreground) Foreground {
		return f.Focus(pkg, tracked, at)
	})
	if prev == next {
		// A showing block may still need to react to where focus went
		e.RequestEvaluation()
		return
	}

	if prev.Phase == PhaseImmune {
		e.logger.Info().
			Str("package", prev.App).
			Str("focus", pkg).
			Msg("Immunity cleared by focus change")
	}

	e.followForeground(at)

	e.logger.Debug().
		Str("package", pkg).
		Bool("tracked", tracked).
		Stringer("phase", next.Phase).
		Msg("Foreground changed")

	e.RequestEvaluation()
}

// UserDismissed routes a press of the overlay button into the engine. For a
// hard block the immunity window starts here, before the worker runs, so
// residual events are dropped at ingestion straight away.
func (e *Engine) UserDismissed(kind presenter.Kind) {
	if kind == presenter.KindHard {
		now := e.clock.Now()
		_, next := e.fg.Update(func(f Foreground) Foreground {
			return f.HardDismissed(now, e.cfg.ImmunityWindow)
		})
		if next.Phase == PhaseImmune {
			e.logger.Info().
				Str("package", next.App).
				Time("until", next.Until).
				Msg("Hard block dismissed, immunity set")
		}
	}

	select {
	case e.dismissals <- kind:
	default:
		e.logger.Warn().Stringer("kind", kind).Msg("Dismissal backlog full, dropping")
	}
}

// RequestEvaluation asks the worker to re-evaluate ahead of queued deltas.
func (e *Engine) RequestEvaluation() {
	select {
	case e.evalRequests <- struct{}{}:
	default:
	}
}

// ReloadSettings loads the combined settings view and swaps it in whole.
func (e *Engine) ReloadSettings(ctx context.Context) error {
	settings, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	e.settings.Store(&settings)

	// An app removed from the tracked set stops accumulating at once
	e.fg.Update(func(f Foreground) Foreground {
		if cur := f.Current(); cur != "" && !settings.IsTracked(cur) {
			return f.Untrack()
		}
		return f
	})
	e.followForeground(e.clock.Now())

	e.logger.Debug().
		Int("tracked_apps", len(settings.TrackedApps)).
		Float64("global_limit", settings.GlobalLimit).
		Int("app_limits", len(settings.AppLimits)).
		Msg("Settings applied")

	e.RequestEvaluation()
	return nil
}

// Run starts the drain worker, the flush timer and the store observers, and
// blocks until ctx is cancelled. Remaining distance is flushed before it
// returns.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.ReloadSettings(ctx); err != nil {
		return err
	}
	if err := e.flusher.Reload(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to load today's usage")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.drain(gctx) })
	g.Go(func() error { return e.flusher.Run(gctx) })
	g.Go(func() error { return e.observeSettings(gctx) })
	g.Go(func() error { return e.observeUsage(gctx) })

	e.logger.Info().Msg("Enforcement engine started")
	err := g.Wait()

	if ferr := e.flusher.FlushNow(ctx); ferr != nil {
		e.logger.Error().Err(ferr).Msg("Final usage flush failed")
		if err == nil {
			err = ferr
		}
	}

	e.logger.Info().Msg("Enforcement engine stopped")
	return err
}

// Drain processes everything pending without blocking: dismissals, then
// evaluation requests, then queued deltas. It must not run concurrently
// with Run.
func (e *Engine) Drain(ctx context.Context) {
	for ctx.Err() == nil && e.step(ctx, false) {
	}
}

func (e *Engine) drain(ctx context.Context) error {
	for e.step(ctx, true) {
	}
	return nil
}

// step handles one unit of work, preferring dismissals and evaluation
// requests over queued deltas. It returns false when ctx is done, or, when
// not blocking, when nothing was pending.
func (e *Engine) step(ctx context.Context, block bool) bool {
	select {
	case kind := <-e.dismissals:
		e.safely(func() { e.handleDismiss(ctx, kind) })
		return true
	default:
	}

	select {
	case <-e.evalRequests:
		e.safely(func() { e.evaluate(ctx, false) })
		return true
	default:
	}

	if !block {
		select {
		case d := <-e.queue.C():
			e.safely(func() { e.handleDelta(ctx, d) })
			return true
		default:
			return false
		}
	}

	select {
	case <-ctx.Done():
		return false
	case kind := <-e.dismissals:
		e.safely(func() { e.handleDismiss(ctx, kind) })
	case <-e.evalRequests:
		e.safely(func() { e.evaluate(ctx, false) })
	case d := <-e.queue.C():
		e.safely(func() { e.handleDelta(ctx, d) })
	}
	return true
}

// safely runs fn, logging a panic instead of letting it stop the worker.
func (e *Engine) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("Recovered from panic while processing event")
		}
	}()
	fn()
}

func (e *Engine) handleDelta(ctx context.Context, d ingest.Delta) {
	metrics.QueueDepth.Set(float64(e.queue.Len()))

	// Second immunity check: the delta may have been queued before the
	// block was dismissed.
	fg := e.fg.Load()
	if fg.Suppresses(d.Package, d.ReceivedAt) {
		e.dropGhost("immune", d)
		return
	}

	e.flusher.CheckRollover(d.ReceivedAt)

	snap, ok := e.ledger.Add(d.Package, d.Distance)
	if !ok {
		if fg.Current() != "" || !e.IsTracked(d.Package) || !e.adopt(ctx, d) {
			e.dropGhost("stale_app", d)
			return
		}
		if snap, ok = e.ledger.Add(d.Package, d.Distance); !ok {
			e.dropGhost("stale_app", d)
			return
		}
	}

	metrics.SessionDistance.Set(snap.Session)
	if update, due := e.ledger.MarkUI(e.cfg.UIThrottle, d.ReceivedAt); due {
		if fn := e.onUI.Load(); fn != nil {
			(*fn)(update)
		}
	}

	e.evaluate(ctx, true)
}

// adopt starts tracking d's package when no app is known to be in front,
// for example after immunity ran out without a new focus event, provided
// the platform confirms it. An unknown foreground does not confirm: the
// scroll may be residue of an app the user already left, and attributing
// it would count distance against the wrong app.
func (e *Engine) adopt(ctx context.Context, d ingest.Delta) bool {
	pkg, err := e.topmost(ctx)
	if err != nil || pkg != d.Package {
		return false
	}
	e.HandleFocus(d.Package, d.ReceivedAt)
	return e.fg.Load().Current() == d.Package
}

func (e *Engine) dropGhost(stage string, d ingest.Delta) {
	metrics.GhostEventsDropped.WithLabelValues(stage).Inc()
	e.logger.Debug().
		Str("package", d.Package).
		Str("stage", stage).
		Time("received_at", d.ReceivedAt).
		Msg("Dropped ghost event")
}

// evaluate applies one Decision. fromScroll is set when the trigger was a
// scroll in the active app, which already proves it is in front.
func (e *Engine) evaluate(ctx context.Context, fromScroll bool) {
	start := time.Now()
	defer func() { metrics.EvaluationDuration.Observe(time.Since(start).Seconds()) }()

	snap := e.ledger.Load()
	settings := e.settings.Load()
	app := snap.App

	in := Input{App: app, Showing: e.showing}
	if app != "" {
		in.AppUsage = snap.AppTotal(app)
		in.GlobalUsage = snap.GlobalTotal()
		in.AppLimit, _ = settings.AppLimit(app)
		in.GlobalLimit = settings.GlobalLimit
		in.AppFlags = e.flags.Get(snap.Day, AppScope(app))
		in.GlobalFlags = e.flags.Get(snap.Day, GlobalScope)
	}

	d := Evaluate(in)

	if d.Dismiss {
		if app == "" && e.keepsHardBlock(ctx, snap, settings) {
			e.logger.Debug().
				Str("package", e.showing.App).
				Msg("Blocked app still in front, keeping block")
			return
		}
		e.logger.Info().
			Stringer("level", e.showing.Level).
			Str("scope", string(e.showing.Scope)).
			Str("package", e.showing.App).
			Msg("Overlay no longer warranted, dismissing")
		e.dismissOverlay(ctx)
	}

	usageFor := func(scope Scope) (float64, float64) {
		if scope.IsGlobal() {
			return in.GlobalUsage, in.GlobalLimit
		}
		return in.AppUsage, in.AppLimit
	}

	delivered := true
	switch d.Fire {
	case LevelWarn:
		used, limit := usageFor(d.Scope)
		delivered = e.notify(ctx, d.Scope, app, used, limit)
	case LevelSoft, LevelHard:
		used, limit := usageFor(d.Scope)
		delivered = e.present(ctx, d.Fire, d.Scope, app, used, limit)
	default:
		if d.Keep && e.showing.Level == LevelHard {
			if !fromScroll && !e.realityCheck(ctx, app) {
				e.logger.Info().Str("package", app).Msg("Blocked app no longer in front, dismissing")
				e.dismissOverlay(ctx)
				break
			}
			e.fg.Update(func(f Foreground) Foreground { return f.Block(app) })
		}
	}

	if app == "" {
		return
	}

	// An action that never reached the user stays armed for the next event;
	// the losing scope keeps what Evaluate consumed.
	appFlags, globalFlags := d.AppFlags, d.GlobalFlags
	if !delivered {
		if d.Scope.IsGlobal() {
			globalFlags = in.GlobalFlags
		} else {
			appFlags = in.AppFlags
		}
	}
	e.flags.Set(snap.Day, AppScope(app), appFlags)
	e.flags.Set(snap.Day, GlobalScope, globalFlags)
}

// keepsHardBlock reports whether a hard block should survive focus moving to
// an untracked package. Input methods and system shades take focus without
// the blocked app leaving, so the block stays while its app is still tracked
// and over its limit and the platform still shows it, or the overlay, in
// front.
func (e *Engine) keepsHardBlock(ctx context.Context, snap *usage.Snapshot, settings *storage.Settings) bool {
	o := e.showing
	if o.Level != LevelHard || !settings.IsTracked(o.App) {
		return false
	}
	used, limit := snap.GlobalTotal(), settings.GlobalLimit
	if !o.Scope.IsGlobal() {
		used = snap.AppTotal(o.App)
		limit, _ = settings.AppLimit(o.App)
	}
	if RawLevel(used, limit) < LevelHard {
		return false
	}
	return e.realityCheck(ctx, o.App)
}

// notify delivers a warning and reports whether it went out. Without a
// notifier the log line is the delivery.
func (e *Engine) notify(ctx context.Context, scope Scope, app string, used, limit float64) bool {
	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, notice(scope, app, used, limit)); err != nil {
			e.logger.Error().Err(err).Msg("Failed to deliver usage warning")
			return false
		}
	}

	metrics.InterventionsTotal.WithLabelValues(LevelWarn.String(), scopeLabel(scope)).Inc()
	e.logger.Info().
		Str("package", app).
		Str("scope", string(scope)).
		Float64("usage", used).
		Float64("limit", limit).
		Msg("Usage warning")
	return true
}

// present shows a soft or hard block and reports whether it is on screen.
func (e *Engine) present(ctx context.Context, level Level, scope Scope, app string, used, limit float64) bool {
	if level == LevelHard && !e.realityCheck(ctx, app) {
		e.logger.Info().
			Str("package", app).
			Msg("Foreground does not match, not blocking")
		return false
	}

	if err := e.presenter.Show(ctx, intervention(level, scope, app, used, limit)); err != nil {
		// Fail closed: without an overlay there is nothing to track
		e.logger.Error().Err(err).Stringer("level", level).Msg("Failed to show overlay")
		return false
	}

	e.showing = Overlay{Level: level, Scope: scope, App: app}
	if level == LevelHard {
		e.fg.Update(func(f Foreground) Foreground { return f.Block(app) })
	}

	metrics.InterventionsTotal.WithLabelValues(level.String(), scopeLabel(scope)).Inc()
	e.logger.Info().
		Stringer("level", level).
		Str("package", app).
		Str("scope", string(scope)).
		Float64("usage", used).
		Float64("limit", limit).
		Msg("Overlay shown")
	return true
}

func (e *Engine) dismissOverlay(ctx context.Context) {
	if err := e.presenter.Dismiss(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to dismiss overlay")
	}
	if e.showing.Level == LevelHard {
		e.fg.Update(func(f Foreground) Foreground { return f.Unblock() })
	}
	e.showing = Overlay{}
}

func (e *Engine) handleDismiss(ctx context.Context, kind presenter.Kind) {
	if !e.showing.Showing() || e.showing.Level.Kind() != kind {
		e.logger.Debug().Stringer("kind", kind).Msg("Ignoring stale dismissal")
		return
	}

	blocked := e.showing.App
	if err := e.presenter.Dismiss(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to dismiss overlay")
	}
	e.showing = Overlay{}

	if kind != presenter.KindHard {
		e.logger.Info().Str("package", blocked).Msg("Soft block dismissed")
		return
	}

	if e.navigator != nil {
		if err := e.navigator.NavigateToSafeContext(ctx); err != nil {
			e.logger.Error().Err(err).Msg("Failed to navigate to safe context")
		}
	}

	// Immunity leaves no current app, unless focus already moved on
	e.followForeground(e.clock.Now())
}

// followForeground points the session at the foreground's current app. The
// foreground is read again after switching, so a focus change that lands
// in between is applied rather than overwritten.
func (e *Engine) followForeground(at time.Time) {
	for {
		app := e.fg.Load().Current()
		if _, switched := e.ledger.Switch(app, at); switched {
			e.flusher.Kick()
		}
		if e.fg.Load().Current() == app {
			return
		}
	}
}

// realityCheck reports whether app, or the overlay itself, owns the top
// window. It fails open when the platform cannot tell.
func (e *Engine) realityCheck(ctx context.Context, app string) bool {
	pkg, err := e.topmost(ctx)
	if err != nil {
		metrics.RealityChecksTotal.WithLabelValues("unknown").Inc()
		e.logger.Debug().Err(err).Msg("Foreground unknown, permitting action")
		return true
	}
	if pkg == app || pkg == e.cfg.OwnPackage {
		metrics.RealityChecksTotal.WithLabelValues("match").Inc()
		return true
	}
	metrics.RealityChecksTotal.WithLabelValues("mismatch").Inc()
	e.logger.Debug().
		Str("expected", app).
		Str("foreground", pkg).
		Msg("Reality check mismatch")
	return false
}

func (e *Engine) topmost(ctx context.Context) (string, error) {
	if e.foreground == nil {
		return "", platform.ErrUnknownForeground
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RealityCheckTimeout)
	defer cancel()
	return e.foreground.TopmostForegroundPackage(ctx)
}

func (e *Engine) observeSettings(ctx context.Context) error {
	changes, err := e.store.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch settings: %w", err)
	}

	logger := e.logger.With().Str("component", "settings-observer").Logger()

	// Pick up anything written before the subscription existed
	if err := e.ReloadSettings(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to reload settings")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			if err := e.ReloadSettings(ctx); err != nil {
				logger.Error().Err(err).Msg("Failed to reload settings")
			}
		}
	}
}

func (e *Engine) observeUsage(ctx context.Context) error {
	if e.usage == nil {
		<-ctx.Done()
		return nil
	}

	changes, err := e.usage.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch usage: %w", err)
	}

	logger := e.logger.With().Str("component", "usage-observer").Logger()

	for {
		select {
		case <-ctx.Done():
			return nil
		case day, ok := <-changes:
			if !ok {
				return nil
			}
			if day != e.ledger.Load().Day {
				continue
			}
			if err := e.flusher.Reload(ctx); err != nil {
				logger.Error().Err(err).Msg("Failed to reload today's usage")
				continue
			}
			e.RequestEvaluation()
		}
	}
}

func scopeLabel(s Scope) string {
	if s.IsGlobal() {
		return "global"
	}
	return "app"
}
