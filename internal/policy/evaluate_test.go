package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRawLevel(t *testing.T) {
	tests := []struct {
		usage float64
		limit float64
		want  Level
	}{
		{0, 100, LevelNone},
		{24.9, 100, LevelNone},
		{25, 100, LevelWarn},
		{25.1, 100, LevelWarn},
		{49.99, 100, LevelWarn},
		{50, 100, LevelSoft},
		{99.9, 100, LevelSoft},
		{100, 100, LevelHard},
		{250, 100, LevelHard},
		{1000, 0, LevelNone},
		{1000, -5, LevelNone},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RawLevel(tt.usage, tt.limit), "usage=%v limit=%v", tt.usage, tt.limit)
	}
}

func TestRawLevel_Monotonic(t *testing.T) {
	prev := LevelNone
	for usage := 0.0; usage <= 150; usage += 0.5 {
		level := RawLevel(usage, 60)
		assert.GreaterOrEqual(t, level, prev, "level dropped at usage %v", usage)
		prev = level
	}
}

func TestEvaluate_ThresholdsFireOnce(t *testing.T) {
	in := Input{App: "a", GlobalLimit: 100}

	in.GlobalUsage = 24.9
	d := Evaluate(in)
	assert.Equal(t, LevelNone, d.Fire)

	in.GlobalUsage = 25.1
	d = Evaluate(in)
	assert.Equal(t, LevelWarn, d.Fire)
	assert.Equal(t, GlobalScope, d.Scope)
	assert.True(t, d.GlobalFlags.Warned)

	in.GlobalFlags = d.GlobalFlags
	in.GlobalUsage = 30
	d = Evaluate(in)
	assert.Equal(t, LevelNone, d.Fire, "warning fires once per day")

	in.GlobalUsage = 50.1
	d = Evaluate(in)
	assert.Equal(t, LevelSoft, d.Fire)
	assert.True(t, d.GlobalFlags.SoftBlocked)

	in.GlobalFlags = d.GlobalFlags
	in.GlobalUsage = 60
	d = Evaluate(in)
	assert.Equal(t, LevelNone, d.Fire, "soft block fires once per day")

	in.GlobalUsage = 100.1
	d = Evaluate(in)
	assert.Equal(t, LevelHard, d.Fire)

	// Hard is persistent
	d = Evaluate(in)
	assert.Equal(t, LevelHard, d.Fire)
}

func TestEvaluate_JumpStraightToHardConsumesLowerThresholds(t *testing.T) {
	d := Evaluate(Input{App: "a", AppUsage: 40, AppLimit: 30})

	assert.Equal(t, LevelHard, d.Fire)
	assert.Equal(t, AppScope("a"), d.Scope)
	assert.Equal(t, Flags{Warned: true, SoftBlocked: true}, d.AppFlags)
}

func TestEvaluate_AppLimitWins(t *testing.T) {
	tests := []struct {
		name      string
		in        Input
		wantFire  Level
		wantScope Scope
	}{
		{
			name:      "app hard over global warn",
			in:        Input{App: "a", AppUsage: 31, AppLimit: 30, GlobalUsage: 40, GlobalLimit: 100},
			wantFire:  LevelHard,
			wantScope: AppScope("a"),
		},
		{
			name:      "tie goes to app",
			in:        Input{App: "a", AppUsage: 8, AppLimit: 30, GlobalUsage: 26, GlobalLimit: 100},
			wantFire:  LevelWarn,
			wantScope: AppScope("a"),
		},
		{
			name:      "global fallback when no app limit",
			in:        Input{App: "a", AppUsage: 60, GlobalUsage: 60, GlobalLimit: 100},
			wantFire:  LevelSoft,
			wantScope: GlobalScope,
		},
		{
			name:      "global when strictly more urgent",
			in:        Input{App: "a", AppUsage: 10, AppLimit: 200, GlobalUsage: 100, GlobalLimit: 100},
			wantFire:  LevelHard,
			wantScope: GlobalScope,
		},
		{
			name:      "global fallback when app scope already delivered",
			in:        Input{App: "a", AppUsage: 16, AppLimit: 30, AppFlags: Flags{Warned: true, SoftBlocked: true}, GlobalUsage: 30, GlobalLimit: 100},
			wantFire:  LevelWarn,
			wantScope: GlobalScope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.in)
			assert.Equal(t, tt.wantFire, d.Fire)
			assert.Equal(t, tt.wantScope, d.Scope)
		})
	}
}

func TestEvaluate_LosingCandidateIsConsumed(t *testing.T) {
	d := Evaluate(Input{App: "a", AppUsage: 31, AppLimit: 30, GlobalUsage: 55, GlobalLimit: 100})

	assert.Equal(t, LevelHard, d.Fire)
	assert.Equal(t, Flags{Warned: true, SoftBlocked: true}, d.GlobalFlags)
}

func TestEvaluate_ShowingOverlay(t *testing.T) {
	hardA := Overlay{Level: LevelHard, Scope: AppScope("a"), App: "a"}
	softGlobal := Overlay{Level: LevelSoft, Scope: GlobalScope, App: "a"}

	tests := []struct {
		name        string
		in          Input
		wantDismiss bool
		wantKeep    bool
		wantFire    Level
	}{
		{
			name:     "hard stays while over limit",
			in:       Input{App: "a", AppUsage: 35, AppLimit: 30, Showing: hardA},
			wantKeep: true,
		},
		{
			name:        "limit raised",
			in:          Input{App: "a", AppUsage: 35, AppLimit: 60, AppFlags: Flags{Warned: true, SoftBlocked: true}, Showing: hardA},
			wantDismiss: true,
		},
		{
			name:        "limit removed",
			in:          Input{App: "a", AppUsage: 35, Showing: hardA},
			wantDismiss: true,
		},
		{
			name:        "user left the app",
			in:          Input{App: "b", AppUsage: 1, Showing: hardA},
			wantDismiss: true,
		},
		{
			name:        "nothing in front",
			in:          Input{Showing: hardA},
			wantDismiss: true,
		},
		{
			name:     "soft is upgraded to hard",
			in:       Input{App: "a", GlobalUsage: 100, GlobalLimit: 100, GlobalFlags: Flags{Warned: true, SoftBlocked: true}, Showing: softGlobal},
			wantFire: LevelHard,
		},
		{
			name:     "no downgrade under a showing soft",
			in:       Input{App: "a", AppUsage: 8, AppLimit: 30, GlobalUsage: 60, GlobalLimit: 100, GlobalFlags: Flags{Warned: true, SoftBlocked: true}, Showing: softGlobal},
			wantKeep: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.in)
			assert.Equal(t, tt.wantDismiss, d.Dismiss, "dismiss")
			assert.Equal(t, tt.wantKeep, d.Keep, "keep")
			assert.Equal(t, tt.wantFire, d.Fire, "fire")
		})
	}
}

func TestEvaluate_WarnUnderShowingSoftIsConsumed(t *testing.T) {
	softGlobal := Overlay{Level: LevelSoft, Scope: GlobalScope, App: "a"}
	d := Evaluate(Input{
		App: "a", AppUsage: 8, AppLimit: 30,
		GlobalUsage: 60, GlobalLimit: 100,
		GlobalFlags: Flags{Warned: true, SoftBlocked: true},
		Showing:     softGlobal,
	})

	assert.True(t, d.Keep)
	assert.True(t, d.AppFlags.Warned)
}
