// Package vote models one live poll as seen by this client. The model is
// authoritative-server, optimistic-local: inbound snapshots win over
// local guesses, and the status only ever moves forward.
//
// Activity is not safe for concurrent use; the session loop is the
// single writer.
package vote

import (
	"sort"
	"time"

	"github.com/cosolive/livesync/internal/protocol"
)

// Status is the lifecycle stage of a vote.
type Status string

const (
	StatusDraft  Status = "draft"
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// rank orders statuses so that snapshots can never move a vote backward.
func (s Status) rank() int {
	switch s {
	case StatusDraft:
		return 0
	case StatusActive:
		return 1
	case StatusClosed:
		return 2
	default:
		return -1
	}
}

// Tally is the known result for one option, replaced wholesale on each
// result update.
type Tally struct {
	Count   int
	Percent float64
}

// Option is one choice in a vote. Immutable except for Tally.
type Option struct {
	ID        int
	Content   string
	SortOrder int
	Tally     *Tally
}

// Result is the tallied outcome.
type Result struct {
	TotalVoters int
	Entries     []protocol.VoteResultEntry
}

// Timing is the countdown input derived from the latest snapshot.
type Timing struct {
	StartedAt       *time.Time
	DurationSeconds int
	WaitSeconds     int
	RemainingHint   *int
	Active          bool
}

// Activity is the local model of one vote.
type Activity struct {
	ID            int
	Title         string
	Description   string
	Multiple      bool
	MaxSelections int

	status          Status
	options         []Option
	startedAt       *time.Time
	durationSeconds int
	waitSeconds     int
	remainingHint   *int

	selected map[int]struct{}
	hasActed bool
	result   *Result
}

// New creates an empty activity awaiting its first snapshot.
func New(id int) *Activity {
	return &Activity{
		ID:       id,
		status:   StatusDraft,
		selected: make(map[int]struct{}),
	}
}

// ApplySnapshot merges a full authoritative snapshot. The status is
// overwritten only when the snapshot is at the same stage or a more
// advanced one; a stale snapshot (arriving after the vote moved on, for
// example a REST response racing a push message) is ignored entirely.
// Returns whether the snapshot was applied.
func (a *Activity) ApplySnapshot(snap protocol.ActivitySnapshot) bool {
	next := Status(snap.Status)
	if next.rank() < 0 || next.rank() < a.status.rank() {
		return false
	}

	a.Title = snap.Title
	a.Description = snap.Description
	a.Multiple = snap.Multiple
	a.MaxSelections = snap.MaxSelections
	a.startedAt = snap.StartedAt
	a.durationSeconds = snap.DurationSeconds
	a.waitSeconds = snap.WaitSeconds
	a.remainingHint = snap.RemainingSeconds

	opts := make([]Option, 0, len(snap.Options))
	for _, o := range snap.Options {
		opt := Option{ID: o.ID, Content: o.Content, SortOrder: o.SortOrder}
		if o.Count != nil {
			t := Tally{Count: *o.Count}
			if o.Percent != nil {
				t.Percent = *o.Percent
			}
			opt.Tally = &t
		}
		opts = append(opts, opt)
	}
	sort.Slice(opts, func(i, j int) bool { return opts[i].SortOrder < opts[j].SortOrder })
	a.options = opts

	a.setStatus(next)
	if snap.UserHasActed {
		a.markActed()
	}
	return true
}

// End forces the vote closed. Applying it twice is a no-op.
func (a *Activity) End() {
	a.setStatus(StatusClosed)
}

// setStatus advances status, clearing the selection set on close.
func (a *Activity) setStatus(next Status) {
	if next.rank() <= a.status.rank() {
		return
	}
	a.status = next
	if a.status == StatusClosed {
		a.clearSelection()
	}
}

// Toggle flips optionID in the local selection set. While the vote is
// not active, or after the user has acted, the request is silently
// ignored: the UI is expected to disable the controls, but the machine
// stays safe if it doesn't. Returns whether the selection changed.
func (a *Activity) Toggle(optionID int) bool {
	if a.status != StatusActive || a.hasActed {
		return false
	}

	if !a.Multiple {
		if _, ok := a.selected[optionID]; ok && len(a.selected) == 1 {
			return false
		}
		a.selected = map[int]struct{}{optionID: {}}
		return true
	}

	if _, ok := a.selected[optionID]; ok {
		delete(a.selected, optionID)
		return true
	}
	if len(a.selected) >= a.MaxSelections {
		return false
	}
	a.selected[optionID] = struct{}{}
	return true
}

// ConfirmSubmission records that the server accepted (or reported as
// duplicate) this user's submission.
func (a *Activity) ConfirmSubmission() {
	a.markActed()
}

func (a *Activity) markActed() {
	if a.hasActed {
		return
	}
	a.hasActed = true
	a.clearSelection()
}

func (a *Activity) clearSelection() {
	if len(a.selected) > 0 {
		a.selected = make(map[int]struct{})
	}
}

// SetResult attaches a result. Results are only attachable once the vote
// is closed or the user has acted; an early result (server push racing
// local state) is dropped and refetched later through the normal path.
func (a *Activity) SetResult(res Result) bool {
	if !a.ShouldFetchResult() {
		return false
	}
	a.result = &res

	byOption := make(map[int]Tally, len(res.Entries))
	for _, e := range res.Entries {
		byOption[e.OptionID] = Tally{Count: e.Count, Percent: e.Percent}
	}
	for i := range a.options {
		if t, ok := byOption[a.options[i].ID]; ok {
			tally := t
			a.options[i].Tally = &tally
		}
	}
	return true
}

// ShouldFetchResult reports whether result data is wanted: once closed,
// or once the user has acted (interim results, server policy allowing).
func (a *Activity) ShouldFetchResult() bool {
	return a.status == StatusClosed || a.hasActed
}

// CanSubmit reports whether a submission would pass local preconditions.
func (a *Activity) CanSubmit() bool {
	return a.status == StatusActive && !a.hasActed && len(a.selected) > 0
}

// Status returns the current lifecycle stage.
func (a *Activity) Status() Status { return a.status }

// HasActed reports whether this user's submission is confirmed.
func (a *Activity) HasActed() bool { return a.hasActed }

// Result returns the latest known result, or nil.
func (a *Activity) Result() *Result { return a.result }

// Options returns the current option list.
func (a *Activity) Options() []Option { return a.options }

// Selections returns the selected option ids, sorted.
func (a *Activity) Selections() []int {
	out := make([]int, 0, len(a.selected))
	for id := range a.selected {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// Timing returns the countdown inputs from the latest snapshot.
func (a *Activity) Timing() Timing {
	return Timing{
		StartedAt:       a.startedAt,
		DurationSeconds: a.durationSeconds,
		WaitSeconds:     a.waitSeconds,
		RemainingHint:   a.remainingHint,
		Active:          a.status == StatusActive,
	}
}
