package vote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosolive/livesync/internal/protocol"
)

func snapshot(id int, status string) protocol.ActivitySnapshot {
	return protocol.ActivitySnapshot{
		ID:              id,
		Title:           "Best lunch option",
		Status:          status,
		DurationSeconds: 60,
		Options: []protocol.OptionPayload{
			{ID: 1, Content: "Noodles", SortOrder: 2},
			{ID: 2, Content: "Rice", SortOrder: 1},
			{ID: 3, Content: "Dumplings", SortOrder: 3},
		},
	}
}

func activeVote(t *testing.T) *Activity {
	t.Helper()
	a := New(7)
	require.True(t, a.ApplySnapshot(snapshot(7, "active")))
	return a
}

func TestApplySnapshot_SortsOptions(t *testing.T) {
	a := activeVote(t)

	opts := a.Options()
	require.Len(t, opts, 3)
	assert.Equal(t, "Rice", opts[0].Content)
	assert.Equal(t, "Noodles", opts[1].Content)
	assert.Equal(t, "Dumplings", opts[2].Content)
}

func TestApplySnapshot_StatusNeverMovesBackward(t *testing.T) {
	a := activeVote(t)

	// A stale draft snapshot, e.g. a slow REST response racing the
	// push channel, must be ignored entirely.
	applied := a.ApplySnapshot(snapshot(7, "draft"))
	assert.False(t, applied)
	assert.Equal(t, StatusActive, a.Status())

	a.End()
	applied = a.ApplySnapshot(snapshot(7, "active"))
	assert.False(t, applied)
	assert.Equal(t, StatusClosed, a.Status())
}

func TestApplySnapshot_UnknownStatusIgnored(t *testing.T) {
	a := activeVote(t)
	assert.False(t, a.ApplySnapshot(snapshot(7, "archived")))
	assert.Equal(t, StatusActive, a.Status())
}

func TestEnd_Idempotent(t *testing.T) {
	a := activeVote(t)
	a.End()
	a.End()
	assert.Equal(t, StatusClosed, a.Status())
}

func TestToggle_SingleChoiceReplacesSelection(t *testing.T) {
	a := activeVote(t)

	assert.True(t, a.Toggle(1))
	assert.Equal(t, []int{1}, a.Selections())

	assert.True(t, a.Toggle(2))
	assert.Equal(t, []int{2}, a.Selections())

	// Re-selecting the only selected option changes nothing.
	assert.False(t, a.Toggle(2))
	assert.Equal(t, []int{2}, a.Selections())
}

func TestToggle_MultiChoiceRespectsMaxSelections(t *testing.T) {
	a := New(7)
	snap := snapshot(7, "active")
	snap.Multiple = true
	snap.MaxSelections = 2
	require.True(t, a.ApplySnapshot(snap))

	assert.True(t, a.Toggle(1))
	assert.True(t, a.Toggle(2))
	assert.False(t, a.Toggle(3), "selection past the cap must be refused")
	assert.Equal(t, []int{1, 2}, a.Selections())

	// Deselect frees a slot.
	assert.True(t, a.Toggle(1))
	assert.True(t, a.Toggle(3))
	assert.Equal(t, []int{2, 3}, a.Selections())
}

func TestToggle_IgnoredOutsideActiveWindow(t *testing.T) {
	a := New(7)
	require.True(t, a.ApplySnapshot(snapshot(7, "draft")))
	assert.False(t, a.Toggle(1))
	assert.Empty(t, a.Selections())

	a = activeVote(t)
	a.End()
	assert.False(t, a.Toggle(1))
	assert.Empty(t, a.Selections())
}

func TestToggle_IgnoredAfterActed(t *testing.T) {
	a := activeVote(t)
	a.ConfirmSubmission()
	assert.False(t, a.Toggle(1))
	assert.Empty(t, a.Selections())
}

func TestSelectionClearedOnClose(t *testing.T) {
	a := activeVote(t)
	require.True(t, a.Toggle(1))

	a.End()
	assert.Empty(t, a.Selections())
}

func TestConfirmSubmission_ClearsSelectionAndSticks(t *testing.T) {
	a := activeVote(t)
	require.True(t, a.Toggle(1))

	a.ConfirmSubmission()
	assert.True(t, a.HasActed())
	assert.Empty(t, a.Selections())

	a.ConfirmSubmission()
	assert.True(t, a.HasActed())
}

func TestApplySnapshot_UserHasActedFlows(t *testing.T) {
	a := New(7)
	snap := snapshot(7, "active")
	snap.UserHasActed = true
	require.True(t, a.ApplySnapshot(snap))
	assert.True(t, a.HasActed())
}

func TestCanSubmit(t *testing.T) {
	a := activeVote(t)
	assert.False(t, a.CanSubmit(), "empty selection")

	require.True(t, a.Toggle(1))
	assert.True(t, a.CanSubmit())

	a.ConfirmSubmission()
	assert.False(t, a.CanSubmit(), "already acted")
}

func TestSetResult_GatedUntilClosedOrActed(t *testing.T) {
	a := activeVote(t)

	res := Result{
		TotalVoters: 10,
		Entries: []protocol.VoteResultEntry{
			{OptionID: 1, Count: 6, Percent: 60},
			{OptionID: 2, Count: 4, Percent: 40},
		},
	}

	assert.False(t, a.SetResult(res), "early result must be dropped")
	assert.Nil(t, a.Result())

	a.End()
	require.True(t, a.SetResult(res))
	require.NotNil(t, a.Result())
	assert.Equal(t, 10, a.Result().TotalVoters)

	opts := a.Options()
	require.NotNil(t, opts[0].Tally) // Rice, option 2
	assert.Equal(t, 4, opts[0].Tally.Count)
	require.NotNil(t, opts[1].Tally) // Noodles, option 1
	assert.Equal(t, 6, opts[1].Tally.Count)
	assert.InDelta(t, 60.0, opts[1].Tally.Percent, 0.001)
}

func TestTiming_ReflectsSnapshot(t *testing.T) {
	a := New(7)
	started := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	hint := 42
	snap := snapshot(7, "active")
	snap.StartedAt = &started
	snap.WaitSeconds = 5
	snap.RemainingSeconds = &hint
	require.True(t, a.ApplySnapshot(snap))

	timing := a.Timing()
	require.NotNil(t, timing.StartedAt)
	assert.True(t, timing.StartedAt.Equal(started))
	assert.Equal(t, 60, timing.DurationSeconds)
	assert.Equal(t, 5, timing.WaitSeconds)
	require.NotNil(t, timing.RemainingHint)
	assert.Equal(t, 42, *timing.RemainingHint)
	assert.True(t, timing.Active)
}
