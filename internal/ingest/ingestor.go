package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/goodtune/scrollcap/internal/clock"
	"github.com/goodtune/scrollcap/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Result records what Handle did with one event.
type Result int

const (
	ResultAccepted Result = iota
	ResultFocus
	ResultOwnPackage
	ResultIgnoredKind
	ResultUntracked
	ResultSuppressed
	ResultInvalid
)

func (r Result) String() string {
	switch r {
	case ResultAccepted:
		return "accepted"
	case ResultFocus:
		return "focus"
	case ResultOwnPackage:
		return "own_package"
	case ResultIgnoredKind:
		return "ignored_kind"
	case ResultUntracked:
		return "untracked"
	case ResultSuppressed:
		return "suppressed"
	case ResultInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Gate answers the membership checks made on the producer path. Both
// methods must be cheap and must not block.
type Gate interface {
	IsTracked(pkg string) bool
	Suppresses(pkg string, at time.Time) bool
}

// FocusHandler receives window focus changes synchronously.
type FocusHandler interface {
	HandleFocus(pkg string, at time.Time)
}

// Source is a pull-based platform event stream.
type Source interface {
	Next(ctx context.Context) (Event, error)
}

// Config tunes an Ingestor.
type Config struct {
	OwnPackage string
	Normalizer Normalizer
}

// Ingestor filters platform events on the producer's goroutine and hands
// accepted scroll deltas to a Queue.
type Ingestor struct {
	ownPackage string
	normalizer Normalizer
	queue      *Queue
	gate       Gate
	focus      FocusHandler
	clock      clock.Clock
	logger     zerolog.Logger
	overflow   rate.Sometimes
}

// New creates an Ingestor.
func New(cfg Config, queue *Queue, gate Gate, focus FocusHandler, clk clock.Clock, logger zerolog.Logger) *Ingestor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Ingestor{
		ownPackage: cfg.OwnPackage,
		normalizer: cfg.Normalizer,
		queue:      queue,
		gate:       gate,
		focus:      focus,
		clock:      clk,
		logger:     logger.With().Str("component", "ingest").Logger(),
		overflow:   rate.Sometimes{Interval: 10 * time.Second},
	}
}

// Handle filters ev and, if relevant, forwards it. It never blocks.
func (i *Ingestor) Handle(ev Event) Result {
	result := i.handle(ev)
	metrics.EventsTotal.WithLabelValues(ev.Kind.String(), result.String()).Inc()
	return result
}

func (i *Ingestor) handle(ev Event) Result {
	if ev.Package == "" {
		return ResultInvalid
	}
	if ev.Package == i.ownPackage {
		return ResultOwnPackage
	}
	if ev.Kind != KindScroll && ev.Kind != KindWindowFocus {
		return ResultIgnoredKind
	}

	at := ev.ReceivedAt
	if at.IsZero() {
		at = i.clock.Now()
	}

	if i.gate.Suppresses(ev.Package, at) {
		i.logger.Debug().
			Str("package", ev.Package).
			Stringer("kind", ev.Kind).
			Msg("Dropped event from immune package")
		return ResultSuppressed
	}

	if ev.Kind == KindWindowFocus {
		i.focus.HandleFocus(ev.Package, at)
		return ResultFocus
	}

	if !i.gate.IsTracked(ev.Package) {
		return ResultUntracked
	}

	delta := Delta{
		Package:    ev.Package,
		Distance:   i.normalizer.Distance(ev.PixelDelta),
		ReceivedAt: at,
	}
	if i.queue.Push(delta) {
		i.overflow.Do(func() {
			i.logger.Warn().
				Uint64("dropped_total", i.queue.Dropped()).
				Int("capacity", i.queue.Cap()).
				Msg("Scroll queue full, dropping oldest deltas")
		})
	}

	return ResultAccepted
}

// Consume pulls events from src until it is exhausted or ctx is done.
// A clean end of stream returns nil.
func (i *Ingestor) Consume(ctx context.Context, src Source) error {
	for {
		ev, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				i.logger.Info().Msg("Event stream ended")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read platform event: %w", err)
		}
		i.Handle(ev)
	}
}
