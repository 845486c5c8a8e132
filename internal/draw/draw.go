// Package draw models one live prize draw. Participation and round
// lifecycle come from server broadcasts; the winner overlay is derived
// solely from the latest winner set, never computed locally.
//
// Activity is not safe for concurrent use; the session loop is the
// single writer.
package draw

import (
	"github.com/cosolive/livesync/internal/protocol"
)

// Participation is the current user's standing in the draw.
type Participation string

const (
	NotJoined Participation = "not_joined"
	Joined    Participation = "joined"
	Removed   Participation = "removed"
)

// RoundStatus is the lifecycle of one draw round.
type RoundStatus string

const (
	RoundIdle    RoundStatus = "idle"
	RoundRolling RoundStatus = "rolling"
	RoundResult  RoundStatus = "result"
)

func (s RoundStatus) rank() int {
	switch s {
	case RoundIdle:
		return 0
	case RoundRolling:
		return 1
	case RoundResult:
		return 2
	default:
		return -1
	}
}

// Applied reports what a round-state message did to the local model.
type Applied struct {
	// RoundChanged is true when the message carried an unknown round
	// identifier, which signals messages were missed while disconnected
	// and a round_state_sync should be requested.
	RoundChanged bool
}

// Activity is the local model of one draw.
type Activity struct {
	ID     int
	userID string

	roundID          string
	roundTitle       string
	roundStatus      RoundStatus
	currentCount     int
	participantCount int

	participation Participation
	winners       map[string]struct{}
}

// New creates a draw model for the given current user.
func New(id int, userID string) *Activity {
	return &Activity{
		ID:            id,
		userID:        userID,
		roundStatus:   RoundIdle,
		participation: NotJoined,
		winners:       make(map[string]struct{}),
	}
}

// ApplyRoundState merges a round_state_change or round_state_sync
// message. A new round identifier resets the round to idle before the
// payload status is applied; within one round the status never moves
// backward.
func (a *Activity) ApplyRoundState(p protocol.RoundState) Applied {
	var applied Applied

	if p.RoundID != a.roundID {
		applied.RoundChanged = a.roundID != ""
		a.roundID = p.RoundID
		a.roundStatus = RoundIdle
	}

	next := RoundStatus(p.Status)
	if next.rank() > a.roundStatus.rank() {
		a.roundStatus = next
	}
	if p.CurrentTitle != "" {
		a.roundTitle = p.CurrentTitle
	}
	if p.CurrentCount > 0 {
		a.currentCount = p.CurrentCount
	}
	a.applyParticipantCount(p.ParticipantCount, p.Participants)

	if p.Winners != nil {
		winners := make(map[string]struct{}, len(p.Winners))
		for _, w := range p.Winners {
			winners[w] = struct{}{}
		}
		a.winners = winners
	}
	if p.Participants != nil {
		a.applyRoster(p.Participants)
	}

	return applied
}

// ApplyParticipantsHint merges a non-authoritative roster hint. A later
// round_state_sync always wins on conflict, which falls out naturally
// because sync messages overwrite the same fields.
func (a *Activity) ApplyParticipantsHint(p protocol.ParticipantsUpdate) {
	a.applyParticipantCount(p.ParticipantCount, p.Participants)
	if p.RemovedUserID != "" && p.RemovedUserID == a.userID {
		// Unconditional: the join this removal refers to may never have
		// been observed locally (confirmation lost while disconnected).
		a.participation = Removed
	}
	if p.Participants != nil {
		a.applyRoster(p.Participants)
	}
}

// applyParticipantCount prefers the explicit count, falling back to the
// roster length when a roster is present without one.
func (a *Activity) applyParticipantCount(count int, roster []protocol.Participant) {
	switch {
	case count > 0:
		a.participantCount = count
	case roster != nil:
		a.participantCount = len(roster)
	}
}

// applyRoster reconciles participation against a full roster: present
// means joined, absent after having joined means removed.
func (a *Activity) applyRoster(roster []protocol.Participant) {
	found := false
	for _, p := range roster {
		if p.ID == a.userID {
			found = true
			break
		}
	}
	if found {
		a.participation = Joined
		return
	}
	if a.participation == Joined {
		a.markRemoved()
	}
}

func (a *Activity) markRemoved() {
	if a.participation == Joined {
		a.participation = Removed
	}
}

// MarkJoined records an optimistic local join. Re-joining after removal
// is permitted.
func (a *Activity) MarkJoined() {
	a.participation = Joined
}

// MarkQuit records a confirmed local quit.
func (a *Activity) MarkQuit() {
	if a.participation == Joined {
		a.participation = Removed
	}
}

// CanJoin reports whether a join action makes sense right now.
func (a *Activity) CanJoin() bool {
	return a.participation == NotJoined || a.participation == Removed
}

// CanQuit reports whether quitting is currently allowed. Quit is
// disabled while the round is rolling; callers use this both to refuse
// the action and to disable the control.
func (a *Activity) CanQuit() bool {
	return a.roundStatus != RoundRolling
}

// IsWinner reports whether the current user appears in the latest winner
// set. This is an overlay over participation, not a state: a user shown
// as removed can still appear in a past round's frozen winner list.
func (a *Activity) IsWinner() bool {
	_, ok := a.winners[a.userID]
	return ok
}

// Participation returns the current user's standing.
func (a *Activity) Participation() Participation { return a.participation }

// RoundStatus returns the current round lifecycle stage.
func (a *Activity) RoundStatus() RoundStatus { return a.roundStatus }

// RoundID returns the locally held round identifier.
func (a *Activity) RoundID() string { return a.roundID }

// RoundTitle returns the display title for the current round.
func (a *Activity) RoundTitle() string { return a.roundTitle }

// CurrentCount returns the number of winners drawn in the current round.
func (a *Activity) CurrentCount() int { return a.currentCount }

// ParticipantCount returns the latest known participant count.
func (a *Activity) ParticipantCount() int { return a.participantCount }

// Winners returns the latest winner id set.
func (a *Activity) Winners() []string {
	out := make([]string, 0, len(a.winners))
	for w := range a.winners {
		out = append(out, w)
	}
	return out
}
