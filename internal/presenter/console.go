package presenter

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// Console renders interventions as coloured text. It stands in for a
// platform overlay in the daemon and in replays; Press simulates the user
// tapping the overlay's button.
type Console struct {
	out       io.Writer
	onDismiss DismissFunc

	mu      sync.Mutex
	showing *Intervention
}

// NewConsole creates a console presenter writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// OnDismiss registers the callback invoked by Press.
func (c *Console) OnDismiss(fn DismissFunc) {
	c.mu.Lock()
	c.onDismiss = fn
	c.mu.Unlock()
}

func (c *Console) Show(_ context.Context, in Intervention) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	style := color.New(color.FgYellow, color.Bold)
	if in.Kind == KindHard {
		style = color.New(color.FgRed, color.Bold)
	}

	_, _ = style.Fprintf(c.out, "[%s] %s\n", in.Kind, in.Title)
	_, _ = fmt.Fprintf(c.out, "    %s\n", in.Message)
	_, _ = color.New(color.FgCyan).Fprintf(c.out, "    ( %s )\n", in.ButtonLabel)

	shown := in
	c.showing = &shown
	return nil
}

func (c *Console) Dismiss(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.showing == nil {
		return nil
	}
	_, _ = color.New(color.FgGreen).Fprintf(c.out, "[%s] dismissed\n", c.showing.Kind)
	c.showing = nil
	return nil
}

func (c *Console) Notify(_ context.Context, n Notice) error {
	_, _ = color.New(color.FgCyan, color.Bold).Fprintf(c.out, "[notice] %s\n", n.Title)
	_, _ = fmt.Fprintf(c.out, "    %s\n", n.Message)
	return nil
}

// Showing returns the intervention on screen, if any.
func (c *Console) Showing() (Intervention, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.showing == nil {
		return Intervention{}, false
	}
	return *c.showing, true
}

// Press simulates the user pressing the overlay button. It reports whether
// an overlay was showing.
func (c *Console) Press() bool {
	c.mu.Lock()
	showing := c.showing
	fn := c.onDismiss
	c.mu.Unlock()

	if showing == nil {
		return false
	}
	if fn != nil {
		fn(showing.Kind)
	}
	return true
}
