package policy

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestForeground_Transitions(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	window := time.Second

	var f Foreground
	assert.Equal(t, PhaseIdle, f.Phase)
	assert.Empty(t, f.Current())

	f = f.Focus("a", true, t0)
	assert.Equal(t, PhaseTracking, f.Phase)
	assert.Equal(t, "a", f.Current())

	f = f.Block("b")
	assert.Equal(t, PhaseTracking, f.Phase, "block only applies to the tracked app")

	f = f.Block("a")
	assert.Equal(t, PhaseBlocked, f.Phase)
	assert.Equal(t, "a", f.Current(), "a blocked app still accumulates")

	f = f.Focus("a", true, t0)
	assert.Equal(t, PhaseBlocked, f.Phase, "refocus keeps the block")

	f = f.HardDismissed(t0, window)
	assert.Equal(t, PhaseImmune, f.Phase)
	assert.Equal(t, "a", f.LastBlocked)
	assert.Empty(t, f.Current())

	assert.True(t, f.Suppresses("a", t0.Add(500*time.Millisecond)))
	assert.False(t, f.Suppresses("b", t0.Add(500*time.Millisecond)))
	assert.False(t, f.Suppresses("a", t0.Add(window)), "window is exclusive at its end")

	same := f.Focus("a", true, t0.Add(100*time.Millisecond))
	assert.Equal(t, f, same, "ghost focus inside the window is ignored")

	after := f.Focus("a", true, t0.Add(2*time.Second))
	assert.Equal(t, PhaseTracking, after.Phase)
	assert.Equal(t, "a", after.LastBlocked)
}

func TestForeground_FocusElsewhereClearsImmunity(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	f := Foreground{}.Focus("a", true, t0).Block("a").HardDismissed(t0, time.Minute)
	is := assert.New(t)
	is.True(f.Suppresses("a", t0.Add(time.Second)))

	home := f.Focus("launcher", false, t0.Add(time.Second))
	is.Equal(PhaseIdle, home.Phase)
	is.False(home.Suppresses("a", t0.Add(2*time.Second)))

	back := home.Focus("a", true, t0.Add(3*time.Second))
	is.Equal(PhaseTracking, back.Phase)
}

func TestForeground_UnblockAndUntrack(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	f := Foreground{}.Focus("a", true, t0).Block("a")
	assert.Equal(t, PhaseTracking, f.Unblock().Phase)
	assert.Equal(t, PhaseIdle, f.Untrack().Phase)

	idle := Foreground{}
	assert.Equal(t, idle, idle.Unblock())
	assert.Equal(t, idle, idle.Untrack())
	assert.Equal(t, idle, idle.HardDismissed(t0, time.Second), "dismiss without a block does nothing")
}

func TestForegroundTracker_ConcurrentUpdates(t *testing.T) {
	var tr ForegroundTracker
	t0 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				app := "a"
				if (i+j)%2 == 0 {
					app = "b"
				}
				tr.Update(func(f Foreground) Foreground { return f.Focus(app, true, t0) })
			}
		}(i)
	}
	wg.Wait()

	f := tr.Load()
	assert.Equal(t, PhaseTracking, f.Phase)
	assert.Contains(t, []string{"a", "b"}, f.App)
}
