// Package countdown derives a vote's countdown from the authoritative
// start instant and duration. The countdown is recomputed from wall
// clock on every tick and never decremented from a previous value, so it
// self-heals after suspend/resume or slow ticks.
package countdown

import (
	"context"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultInterval recomputes twice per second for smooth display.
const DefaultInterval = 500 * time.Millisecond

// Inputs are the authoritative countdown inputs from the latest
// snapshot. StartsAt is nil while the vote is still in draft; the
// server-computed RemainingHint is the fallback in that window.
type Inputs struct {
	StartsAt        *time.Time
	DurationSeconds int
	WaitSeconds     int
	RemainingHint   *int
}

// Snapshot is the derived countdown at one instant.
type Snapshot struct {
	SecondsUntilStart int
	SecondsRemaining  int
}

// Compute derives the countdown as a pure function of the inputs and
// now. Voting opens at StartsAt plus the pre-roll wait window; during
// the wait the full duration is reported untouched.
func Compute(in Inputs, now time.Time) Snapshot {
	if in.StartsAt == nil {
		remaining := in.DurationSeconds
		if in.RemainingHint != nil {
			remaining = *in.RemainingHint
		}
		return Snapshot{SecondsUntilStart: 0, SecondsRemaining: remaining}
	}

	opensAt := in.StartsAt.Add(time.Duration(in.WaitSeconds) * time.Second)
	if now.Before(opensAt) {
		until := int(math.Ceil(opensAt.Sub(now).Seconds()))
		return Snapshot{SecondsUntilStart: until, SecondsRemaining: in.DurationSeconds}
	}

	elapsed := int(now.Sub(opensAt).Seconds())
	remaining := in.DurationSeconds - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{SecondsUntilStart: 0, SecondsRemaining: remaining}
}

// Reconciler drives the periodic recompute, independent of any
// presentation framework. It only delivers ticks; the owner recomputes
// with Compute inside its own serialized context, which keeps the tick
// path and the message-handling path from mutating state concurrently.
type Reconciler struct {
	clock    clockwork.Clock
	interval time.Duration
	onTick   func(now time.Time)
}

// NewReconciler creates a reconciler. A zero interval means
// DefaultInterval. In production pass clockwork.NewRealClock(); tests
// drive a FakeClock.
func NewReconciler(clock clockwork.Clock, interval time.Duration, onTick func(now time.Time)) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reconciler{
		clock:    clock,
		interval: interval,
		onTick:   onTick,
	}
}

// Run ticks until the context is cancelled. Missed ticks cost nothing
// but display lag: the next tick recomputes from wall clock.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.onTick(r.clock.Now())
		}
	}
}
