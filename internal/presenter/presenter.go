package presenter

import (
	"context"
)

// Kind is the urgency of a blocking overlay.
type Kind int

const (
	KindSoft Kind = iota + 1
	KindHard
)

func (k Kind) String() string {
	switch k {
	case KindSoft:
		return "soft"
	case KindHard:
		return "hard"
	default:
		return "none"
	}
}

// Intervention is the content of a full-screen overlay.
type Intervention struct {
	Kind        Kind
	Title       string
	Message     string
	ButtonLabel string
}

// Notice is a one-time informational message that does not block.
type Notice struct {
	Title   string
	Message string
}

// Presenter renders and removes the blocking overlay. Show must be
// idempotent for the kind already showing, and Dismiss must be safe when
// nothing is shown.
type Presenter interface {
	Show(ctx context.Context, in Intervention) error
	Dismiss(ctx context.Context) error
}

// Notifier delivers informational notices.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// DismissFunc is called when the user presses the overlay's only button.
type DismissFunc func(kind Kind)
