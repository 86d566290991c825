package ingest

import (
	"fmt"
	"time"
)

// Kind classifies a platform event.
type Kind int

const (
	// KindOther covers every event type the engine does not act on.
	KindOther Kind = iota
	KindScroll
	KindWindowFocus
)

func (k Kind) String() string {
	switch k {
	case KindScroll:
		return "scroll"
	case KindWindowFocus:
		return "window_focus"
	default:
		return "other"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unknown kinds decode
// as KindOther so the event is filtered rather than rejected.
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "scroll":
		*k = KindScroll
	case "window_focus", "window_focus_changed":
		*k = KindWindowFocus
	default:
		*k = KindOther
	}
	return nil
}

// Event is one notification from the platform event source.
type Event struct {
	Package    string    `json:"package"`
	Kind       Kind      `json:"kind"`
	PixelDelta *float64  `json:"pixel_delta,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

func (e Event) String() string {
	if e.PixelDelta != nil {
		return fmt.Sprintf("%s %s %vpx", e.Kind, e.Package, *e.PixelDelta)
	}
	return fmt.Sprintf("%s %s", e.Kind, e.Package)
}

// Delta is an accepted scroll event converted to canonical distance units.
type Delta struct {
	Package    string
	Distance   float64
	ReceivedAt time.Time
}

// Normalizer converts pixel deltas to canonical distance units.
type Normalizer struct {
	PixelsPerUnit float64
	// FallbackPixels stands in for widgets that report no delta while
	// scrolling.
	FallbackPixels float64
}

// Distance returns the canonical distance for one scroll event.
func (n Normalizer) Distance(pixelDelta *float64) float64 {
	if n.PixelsPerUnit <= 0 {
		return 0
	}
	pixels := n.FallbackPixels
	if pixelDelta != nil && *pixelDelta > 0 {
		pixels = *pixelDelta
	}
	return pixels / n.PixelsPerUnit
}
