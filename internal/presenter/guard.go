package presenter

import (
	"context"
	"sync"
)

// Guard wraps a Presenter so repeated Show calls for the kind already on
// screen do not re-render, and Dismiss without an overlay is a no-op.
type Guard struct {
	next Presenter

	mu      sync.Mutex
	showing Kind
}

// NewGuard wraps next.
func NewGuard(next Presenter) *Guard {
	return &Guard{next: next}
}

// Showing returns the kind on screen, or zero.
func (g *Guard) Showing() Kind {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.showing
}

func (g *Guard) Show(ctx context.Context, in Intervention) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.showing == in.Kind {
		return nil
	}
	if err := g.next.Show(ctx, in); err != nil {
		return err
	}
	g.showing = in.Kind
	return nil
}

func (g *Guard) Dismiss(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.showing == 0 {
		return nil
	}
	if err := g.next.Dismiss(ctx); err != nil {
		return err
	}
	g.showing = 0
	return nil
}
