package countdown

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	hint := 42

	startedTenAgo := now.Add(-10 * time.Second)
	startsInFive := now.Add(5 * time.Second)
	startedLongAgo := now.Add(-5 * time.Minute)

	tests := []struct {
		name string
		in   Inputs
		want Snapshot
	}{
		{
			name: "running vote counts down from elapsed time",
			in:   Inputs{StartsAt: &startedTenAgo, DurationSeconds: 60},
			want: Snapshot{SecondsUntilStart: 0, SecondsRemaining: 50},
		},
		{
			name: "future start reports pre-roll and full duration",
			in:   Inputs{StartsAt: &startsInFive, DurationSeconds: 60},
			want: Snapshot{SecondsUntilStart: 5, SecondsRemaining: 60},
		},
		{
			name: "wait window delays the open instant",
			in:   Inputs{StartsAt: &startedTenAgo, DurationSeconds: 60, WaitSeconds: 15},
			want: Snapshot{SecondsUntilStart: 5, SecondsRemaining: 60},
		},
		{
			name: "wait window already passed counts from open",
			in:   Inputs{StartsAt: &startedTenAgo, DurationSeconds: 60, WaitSeconds: 4},
			want: Snapshot{SecondsUntilStart: 0, SecondsRemaining: 54},
		},
		{
			name: "expired vote clamps to zero",
			in:   Inputs{StartsAt: &startedLongAgo, DurationSeconds: 60},
			want: Snapshot{SecondsUntilStart: 0, SecondsRemaining: 0},
		},
		{
			name: "no start instant falls back to server hint",
			in:   Inputs{DurationSeconds: 60, RemainingHint: &hint},
			want: Snapshot{SecondsUntilStart: 0, SecondsRemaining: 42},
		},
		{
			name: "no start instant and no hint reports full duration",
			in:   Inputs{DurationSeconds: 60},
			want: Snapshot{SecondsUntilStart: 0, SecondsRemaining: 60},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compute(tt.in, now))
		})
	}
}

func TestCompute_NeverDecrementsAcrossGaps(t *testing.T) {
	// After a long suspend the next tick must land on wall-clock truth,
	// not one step past the last displayed value.
	started := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	in := Inputs{StartsAt: &started, DurationSeconds: 300}

	before := Compute(in, started.Add(10*time.Second))
	assert.Equal(t, 290, before.SecondsRemaining)

	after := Compute(in, started.Add(4*time.Minute))
	assert.Equal(t, 60, after.SecondsRemaining)
}

func TestReconciler_DeliversClockTime(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fc := clockwork.NewFakeClock()
	ticks := make(chan time.Time, 8)
	rec := NewReconciler(fc, time.Second, func(now time.Time) { ticks <- now })

	go rec.Run(ctx)
	require.NoError(t, fc.BlockUntilContext(ctx, 1))

	start := fc.Now()
	fc.Advance(time.Second)

	select {
	case now := <-ticks:
		assert.Equal(t, start.Add(time.Second), now)
	case <-time.After(2 * time.Second):
		t.Fatal("no tick delivered")
	}
}

func TestReconciler_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	fc := clockwork.NewFakeClock()
	ticks := make(chan time.Time, 8)
	rec := NewReconciler(fc, time.Second, func(now time.Time) { ticks <- now })

	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()
	require.NoError(t, fc.BlockUntilContext(ctx, 1))

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop")
	}
}

func TestNewReconciler_DefaultsInterval(t *testing.T) {
	rec := NewReconciler(clockwork.NewFakeClock(), 0, func(time.Time) {})
	assert.Equal(t, DefaultInterval, rec.interval)
}
