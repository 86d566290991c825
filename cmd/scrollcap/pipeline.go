package main

import (
	"fmt"
	"io"
	"time"

	"github.com/goodtune/scrollcap/internal/clock"
	"github.com/goodtune/scrollcap/internal/config"
	"github.com/goodtune/scrollcap/internal/ingest"
	"github.com/goodtune/scrollcap/internal/platform"
	"github.com/goodtune/scrollcap/internal/policy"
	"github.com/goodtune/scrollcap/internal/presenter"
	"github.com/goodtune/scrollcap/internal/storage"
	"github.com/goodtune/scrollcap/internal/usage"
	"github.com/rs/zerolog"
)

// pipeline is the enforcement stack shared by serve and replay: the event
// stream feeds the ingestor, the engine drains the queue and renders onto
// the console through the UI dispatcher.
type pipeline struct {
	ledger     *usage.Ledger
	flusher    *usage.Flusher
	queue      *ingest.Queue
	engine     *policy.Engine
	ingestor   *ingest.Ingestor
	console    *presenter.Console
	dispatcher *presenter.Dispatcher
	foreground *platform.StreamForeground
	source     *platform.StreamSource
}

// stream is the platform side of a pipeline: the event source and the
// foreground it observes.
type stream struct {
	foreground *platform.StreamForeground
	source     *platform.StreamSource
}

func newStream(cfg *config.Config, events io.Reader, logger zerolog.Logger) stream {
	fg := platform.NewStreamForeground(cfg.Enforcement.HomePackage)
	return stream{foreground: fg, source: platform.NewStreamSource(events, fg, logger)}
}

func newPipeline(cfg *config.Config, store storage.Store, st stream, out io.Writer, clk clock.Clock, logger zerolog.Logger) (*pipeline, error) {
	enf := cfg.Enforcement
	p := &pipeline{
		console:    presenter.NewConsole(out),
		dispatcher: presenter.NewDispatcher(),
		foreground: st.foreground,
		source:     st.source,
	}

	p.ledger = usage.NewLedger(clk.Now(), time.Local)
	p.flusher = usage.NewFlusher(
		p.ledger,
		store.Usage(),
		clk,
		config.ParseDuration(enf.FlushInterval, usage.DefaultFlushInterval),
		logger,
	)
	p.queue = ingest.NewQueue(enf.QueueCapacity)

	var navigator platform.Navigator = p.foreground
	if enf.SafeCommand != "" {
		navigator = platform.WithFallback(platform.CommandNavigator{Command: enf.SafeCommand}, p.foreground, logger)
	}

	engine, err := policy.NewEngine(policy.Config{
		OwnPackage:          enf.OwnPackage,
		ImmunityWindow:      config.ParseDuration(enf.ImmunityWindow, policy.DefaultImmunityWindow),
		RealityCheckTimeout: config.ParseDuration(enf.RealityCheckTimeout, policy.DefaultRealityCheckTimeout),
		UIThrottle: usage.Throttle{
			MinInterval: config.ParseDuration(enf.UIMinInterval, 0),
			MinDistance: enf.UIMinDistance,
		},
	}, policy.Deps{
		Ledger:     p.ledger,
		Flusher:    p.flusher,
		Queue:      p.queue,
		Usage:      store.Usage(),
		Settings:   store.Settings(),
		Presenter:  presenter.NewGuard(p.dispatcher.Presenter(p.console)),
		Notifier:   p.dispatcher.Notifier(p.console),
		Foreground: p.foreground,
		Navigator:  navigator,
		Clock:      clk,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize enforcement engine: %w", err)
	}
	p.engine = engine

	p.ingestor = ingest.New(ingest.Config{
		OwnPackage: enf.OwnPackage,
		Normalizer: ingest.Normalizer{
			PixelsPerUnit:  enf.PixelsPerUnit,
			FallbackPixels: enf.FallbackPixels,
		},
	}, p.queue, engine, engine, clk, logger)

	p.console.OnDismiss(engine.UserDismissed)

	return p, nil
}
