package ingest

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/goodtune/scrollcap/internal/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGate struct {
	tracked    map[string]bool
	suppressed string
	until      time.Time
}

func (g *fakeGate) IsTracked(pkg string) bool { return g.tracked[pkg] }

func (g *fakeGate) Suppresses(pkg string, at time.Time) bool {
	return pkg == g.suppressed && at.Before(g.until)
}

type recordedFocus struct {
	mu     sync.Mutex
	events []string
}

func (r *recordedFocus) HandleFocus(pkg string, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, pkg)
}

func px(v float64) *float64 { return &v }

var epoch = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestIngestor(t *testing.T, capacity int) (*Ingestor, *Queue, *fakeGate, *recordedFocus) {
	t.Helper()

	queue := NewQueue(capacity)
	gate := &fakeGate{tracked: map[string]bool{"com.video": true, "com.social": true}}
	focus := &recordedFocus{}
	cfg := Config{
		OwnPackage: "scrollcap",
		Normalizer: Normalizer{PixelsPerUnit: 100, FallbackPixels: 10},
	}
	return New(cfg, queue, gate, focus, clock.NewTestClock(epoch), zerolog.Nop()), queue, gate, focus
}

func TestNormalizer_Distance(t *testing.T) {
	n := Normalizer{PixelsPerUnit: 3780, FallbackPixels: 150}

	tests := []struct {
		name  string
		delta *float64
		want  float64
	}{
		{"positive delta", px(378), 0.1},
		{"missing delta", nil, 150.0 / 3780},
		{"zero delta", px(0), 150.0 / 3780},
		{"negative delta", px(-40), 150.0 / 3780},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, n.Distance(tt.delta), 1e-12)
		})
	}

	assert.Zero(t, Normalizer{}.Distance(px(10)))
}

func TestIngestor_Filtering(t *testing.T) {
	ing, queue, gate, focus := newTestIngestor(t, 10)
	gate.suppressed = "com.social"
	gate.until = epoch.Add(time.Second)

	tests := []struct {
		name string
		ev   Event
		want Result
	}{
		{"own overlay", Event{Package: "scrollcap", Kind: KindScroll, ReceivedAt: epoch}, ResultOwnPackage},
		{"own overlay focus", Event{Package: "scrollcap", Kind: KindWindowFocus, ReceivedAt: epoch}, ResultOwnPackage},
		{"other kind", Event{Package: "com.video", Kind: KindOther, ReceivedAt: epoch}, ResultIgnoredKind},
		{"empty package", Event{Kind: KindScroll, ReceivedAt: epoch}, ResultInvalid},
		{"untracked scroll", Event{Package: "com.mail", Kind: KindScroll, ReceivedAt: epoch}, ResultUntracked},
		{"immune scroll", Event{Package: "com.social", Kind: KindScroll, ReceivedAt: epoch}, ResultSuppressed},
		{"immune focus", Event{Package: "com.social", Kind: KindWindowFocus, ReceivedAt: epoch}, ResultSuppressed},
		{"immunity over", Event{Package: "com.social", Kind: KindScroll, ReceivedAt: epoch.Add(time.Second)}, ResultAccepted},
		{"untracked focus", Event{Package: "com.mail", Kind: KindWindowFocus, ReceivedAt: epoch}, ResultFocus},
		{"tracked scroll", Event{Package: "com.video", Kind: KindScroll, PixelDelta: px(50), ReceivedAt: epoch}, ResultAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ing.Handle(tt.ev))
		})
	}

	assert.Equal(t, []string{"com.mail"}, focus.events)
	require.Equal(t, 2, queue.Len())

	first, ok := pop(queue)
	require.True(t, ok)
	assert.Equal(t, "com.social", first.Package)
	assert.InDelta(t, 0.1, first.Distance, 1e-12)

	second, ok := pop(queue)
	require.True(t, ok)
	assert.Equal(t, "com.video", second.Package)
	assert.InDelta(t, 0.5, second.Distance, 1e-12)
}

func TestIngestor_StampsMissingReceiptTime(t *testing.T) {
	ing, queue, _, _ := newTestIngestor(t, 10)

	require.Equal(t, ResultAccepted, ing.Handle(Event{Package: "com.video", Kind: KindScroll}))

	d, ok := pop(queue)
	require.True(t, ok)
	assert.Equal(t, epoch, d.ReceivedAt)
}

func TestQueue_DropsOldest(t *testing.T) {
	q := NewQueue(3)

	for i := 0; i < 5; i++ {
		dropped := q.Push(Delta{Package: "app", Distance: float64(i)})
		assert.Equal(t, i >= 3, dropped, "push %d", i)
	}

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, uint64(2), q.Dropped())

	var got []float64
	for {
		d, ok := pop(q)
		if !ok {
			break
		}
		got = append(got, d.Distance)
	}
	assert.Equal(t, []float64{2, 3, 4}, got)
}

func TestQueue_PushNeverBlocks(t *testing.T) {
	q := NewQueue(DefaultQueueCapacity)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10*DefaultQueueCapacity; i++ {
			q.Push(Delta{Distance: float64(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Push blocked on a full queue")
	}
	assert.Equal(t, DefaultQueueCapacity, q.Len())
}

func TestKind_JSON(t *testing.T) {
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(`{"package":"com.video","kind":"scroll","pixel_delta":12}`), &ev))
	assert.Equal(t, KindScroll, ev.Kind)
	require.NotNil(t, ev.PixelDelta)
	assert.Equal(t, 12.0, *ev.PixelDelta)

	require.NoError(t, json.Unmarshal([]byte(`{"package":"com.video","kind":"window_focus"}`), &ev))
	assert.Equal(t, KindWindowFocus, ev.Kind)

	require.NoError(t, json.Unmarshal([]byte(`{"package":"com.video","kind":"click"}`), &ev))
	assert.Equal(t, KindOther, ev.Kind)
}

type sliceSource struct {
	events []Event
}

func (s *sliceSource) Next(ctx context.Context) (Event, error) {
	if len(s.events) == 0 {
		return Event{}, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func TestIngestor_Consume(t *testing.T) {
	ing, queue, _, focus := newTestIngestor(t, 10)
	src := &sliceSource{events: []Event{
		{Package: "com.video", Kind: KindWindowFocus, ReceivedAt: epoch},
		{Package: "com.video", Kind: KindScroll, PixelDelta: px(100), ReceivedAt: epoch},
		{Package: "com.video", Kind: KindScroll, ReceivedAt: epoch},
	}}

	require.NoError(t, ing.Consume(context.Background(), src))
	assert.Equal(t, []string{"com.video"}, focus.events)
	assert.Equal(t, 2, queue.Len())
}

// pop takes the oldest delta the way the drain worker does.
func pop(q *Queue) (Delta, bool) {
	select {
	case d := <-q.C():
		return d, true
	default:
		return Delta{}, false
	}
}
