package presenter

import (
	"context"
	"errors"
)

// ErrDispatcherStopped is returned for calls made after the UI loop exited.
var ErrDispatcherStopped = errors.New("presenter: dispatcher stopped")

// Dispatcher marshals UI calls onto the single goroutine running Run, the
// way a platform UI thread owns its widgets.
type Dispatcher struct {
	calls chan func()
	done  chan struct{}
}

// NewDispatcher creates a dispatcher. Run must be started before calls are
// made.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		calls: make(chan func()),
		done:  make(chan struct{}),
	}
}

// Run executes queued calls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-d.calls:
			fn()
		}
	}
}

// Do runs fn on the UI goroutine and waits for its result.
func (d *Dispatcher) Do(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	call := func() { result <- fn() }

	select {
	case d.calls <- call:
	case <-d.done:
		return ErrDispatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Presenter returns a Presenter whose calls run on the UI goroutine.
func (d *Dispatcher) Presenter(p Presenter) Presenter {
	return &dispatched{d: d, p: p}
}

// Notifier returns a Notifier whose calls run on the UI goroutine.
func (d *Dispatcher) Notifier(n Notifier) Notifier {
	return &dispatchedNotifier{d: d, n: n}
}

type dispatched struct {
	d *Dispatcher
	p Presenter
}

func (x *dispatched) Show(ctx context.Context, in Intervention) error {
	return x.d.Do(ctx, func() error { return x.p.Show(ctx, in) })
}

func (x *dispatched) Dismiss(ctx context.Context) error {
	return x.d.Do(ctx, func() error { return x.p.Dismiss(ctx) })
}

type dispatchedNotifier struct {
	d *Dispatcher
	n Notifier
}

func (x *dispatchedNotifier) Notify(ctx context.Context, n Notice) error {
	return x.d.Do(ctx, func() error { return x.n.Notify(ctx, n) })
}
