package platform

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/goodtune/scrollcap/internal/ingest"
	"github.com/rs/zerolog"
)

// ActionPress marks a stream line recording a press of the overlay button.
const ActionPress = "press"

// maxLineBytes bounds one JSON line of the event stream.
const maxLineBytes = 64 * 1024

// line is one JSON object of the event stream.
type line struct {
	ingest.Event
	Action string `json:"action,omitempty"`
}

// StreamForeground derives the foreground package from the focus events
// seen on a stream. Navigation records the home package as foreground.
type StreamForeground struct {
	home string

	mu      sync.RWMutex
	current string
}

// NewStreamForeground creates a tracker that reports home after a
// navigation to the safe context.
func NewStreamForeground(home string) *StreamForeground {
	return &StreamForeground{home: home}
}

// Observe records pkg as the focused package.
func (f *StreamForeground) Observe(pkg string) {
	f.mu.Lock()
	f.current = pkg
	f.mu.Unlock()
}

func (f *StreamForeground) TopmostForegroundPackage(_ context.Context) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.current == "" {
		return "", ErrUnknownForeground
	}
	return f.current, nil
}

func (f *StreamForeground) NavigateToSafeContext(_ context.Context) error {
	f.Observe(f.home)
	return nil
}

// StreamSource reads platform events as JSON lines. Malformed lines are
// logged and skipped.
type StreamSource struct {
	scanner    *bufio.Scanner
	foreground *StreamForeground
	onPress    func(at time.Time)
	logger     zerolog.Logger
	lineNo     int
}

// NewStreamSource reads events from r. Focus events update foreground,
// which may be nil.
func NewStreamSource(r io.Reader, foreground *StreamForeground, logger zerolog.Logger) *StreamSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	return &StreamSource{
		scanner:    scanner,
		foreground: foreground,
		logger:     logger.With().Str("component", "event-stream").Logger(),
	}
}

// OnPress registers the handler for overlay button presses in the stream.
func (s *StreamSource) OnPress(fn func(at time.Time)) {
	s.onPress = fn
}

// Next returns the next platform event. It returns io.EOF at end of stream.
func (s *StreamSource) Next(ctx context.Context) (ingest.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return ingest.Event{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return ingest.Event{}, err
			}
			return ingest.Event{}, io.EOF
		}
		s.lineNo++

		raw := strings.TrimSpace(s.scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}

		var l line
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			s.logger.Warn().Err(err).Int("line", s.lineNo).Msg("Skipping malformed event")
			continue
		}

		if l.Action == ActionPress {
			if s.onPress != nil {
				s.onPress(l.ReceivedAt)
			}
			continue
		}

		if l.Kind == ingest.KindWindowFocus && s.foreground != nil && l.Package != "" {
			s.foreground.Observe(l.Package)
		}
		return l.Event, nil
	}
}
