package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrUnknownForeground is returned when the top-most window's owner cannot
// be determined.
var ErrUnknownForeground = errors.New("platform: foreground package unknown")

// Foreground answers which package owns the top-most window.
type Foreground interface {
	TopmostForegroundPackage(ctx context.Context) (string, error)
}

// Navigator moves the user to a safe context such as the home screen.
type Navigator interface {
	NavigateToSafeContext(ctx context.Context) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context) error

func (f NavigatorFunc) NavigateToSafeContext(ctx context.Context) error {
	return f(ctx)
}

// WithFallback returns a Navigator that tries primary and, if it fails,
// fallback. A nil primary goes straight to fallback.
func WithFallback(primary, fallback Navigator, logger zerolog.Logger) Navigator {
	return &fallbackNavigator{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With().Str("component", "navigator").Logger(),
	}
}

type fallbackNavigator struct {
	primary  Navigator
	fallback Navigator
	logger   zerolog.Logger
}

func (n *fallbackNavigator) NavigateToSafeContext(ctx context.Context) error {
	if n.primary != nil {
		err := n.primary.NavigateToSafeContext(ctx)
		if err == nil {
			return nil
		}
		n.logger.Warn().Err(err).Msg("Primary navigation failed, using fallback")
	}
	if n.fallback == nil {
		return fmt.Errorf("no fallback navigator configured")
	}
	if err := n.fallback.NavigateToSafeContext(ctx); err != nil {
		return fmt.Errorf("fallback navigation: %w", err)
	}
	return nil
}
