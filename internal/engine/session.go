package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cosolive/livesync/internal/actions"
	"github.com/cosolive/livesync/internal/countdown"
	"github.com/cosolive/livesync/internal/draw"
	"github.com/cosolive/livesync/internal/protocol"
	"github.com/cosolive/livesync/internal/vote"
)

// Events are the session's callbacks toward the display layer. They run
// on the session loop goroutine: keep them quick, and do not call the
// session's blocking methods from inside one.
type Events struct {
	OnVoteChanged  func(*vote.Activity)
	OnDrawChanged  func(*draw.Activity)
	OnCountdown    func(activityID int, snap countdown.Snapshot)
	OnActionError  func(activityID int, message string)
	OnConnectivity func(connected bool)
}

// Session is one observed room. All per-activity state is owned by the
// session loop goroutine: inbound messages, countdown ticks, and caller
// actions are serialized through one command channel.
type Session struct {
	engine *Engine
	roomID string
	events Events

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan func()

	votes     map[int]*vote.Activity
	draws     map[int]*draw.Activity
	lastTicks map[int]countdown.Snapshot

	fetchInFlight  map[int]bool
	resultInFlight map[int]bool

	closeOnce sync.Once
}

func newSession(e *Engine, roomID string, events Events) *Session {
	parent := e.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		engine:         e,
		roomID:         roomID,
		events:         events,
		ctx:            ctx,
		cancel:         cancel,
		cmds:           make(chan func(), 256),
		votes:          make(map[int]*vote.Activity),
		draws:          make(map[int]*draw.Activity),
		lastTicks:      make(map[int]countdown.Snapshot),
		fetchInFlight:  make(map[int]bool),
		resultInFlight: make(map[int]bool),
	}

	go s.run()
	rec := countdown.NewReconciler(e.clock, e.config.TickInterval, s.onTick)
	go rec.Run(ctx)
	return s
}

func (s *Session) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case cmd := <-s.cmds:
			cmd()
		}
	}
}

// enqueue delivers fn to the loop, preserving arrival order.
func (s *Session) enqueue(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.ctx.Done():
	}
}

// do runs fn on the loop and waits for its result.
func (s *Session) do(fn func() error) error {
	done := make(chan error, 1)
	select {
	case s.cmds <- func() { done <- fn() }:
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// RoomID returns the room this session observes.
func (s *Session) RoomID() string { return s.roomID }

// Close leaves the room and stops the loop. In-flight pending actions
// are deliberately not cancelled: a submission already sent may still
// confirm server-side, and its effect shows up via snapshot if the
// activity is revisited.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.engine.removeSession(s.roomID)
		log.Info().Str("room_id", s.roomID).Msg("session closed")
	})
}

// ObserveVote starts tracking a vote and cold-starts it from an
// authoritative snapshot.
func (s *Session) ObserveVote(activityID int) {
	s.enqueue(func() {
		if _, ok := s.votes[activityID]; ok {
			return
		}
		s.votes[activityID] = vote.New(activityID)
		s.refetchVote(activityID)
	})
}

// ObserveDraw starts tracking a draw and cold-starts its round state.
func (s *Session) ObserveDraw(activityID int) {
	s.enqueue(func() {
		if _, ok := s.draws[activityID]; ok {
			return
		}
		s.draws[activityID] = draw.New(activityID, s.engine.config.Identity.UserID)
		s.refetchRound(activityID)
		s.requestRoundSync(activityID)
	})
}

// ToggleOption flips an option in a vote's local selection. While the
// vote is not open, or after the user acted, the toggle is a silent
// no-op, not an error.
func (s *Session) ToggleOption(activityID, optionID int) error {
	return s.do(func() error {
		va, ok := s.votes[activityID]
		if !ok {
			return ErrUnknownActivity
		}
		if va.Toggle(optionID) {
			s.emitVote(va)
		}
		return nil
	})
}

// SubmitVote submits the current selection. Precondition violations are
// rejected locally with no network call.
func (s *Session) SubmitVote(activityID int) error {
	return s.do(func() error {
		va, ok := s.votes[activityID]
		if !ok {
			return ErrUnknownActivity
		}
		if va.Status() != vote.StatusActive || va.HasActed() {
			return ErrNotSubmittable
		}
		return s.engine.submitter.Submit(s.ctx, activityID, va.Selections())
	})
}

// JoinDraw sends a join for the current user and records it
// optimistically; a later authoritative roster overwrites it.
func (s *Session) JoinDraw(activityID int) error {
	return s.do(func() error {
		d, ok := s.draws[activityID]
		if !ok {
			return ErrUnknownActivity
		}
		if !d.CanJoin() {
			return ErrAlreadyJoined
		}
		if err := s.engine.submitter.Join(s.ctx, activityID); err != nil {
			return err
		}
		d.MarkJoined()
		s.emitDraw(d)
		return nil
	})
}

// QuitDraw sends a quit. While the round is rolling the quit is refused
// locally; callers also use CanQuit to disable the control.
func (s *Session) QuitDraw(activityID int) error {
	return s.do(func() error {
		d, ok := s.draws[activityID]
		if !ok {
			return ErrUnknownActivity
		}
		if !d.CanQuit() {
			return ErrQuitLocked
		}
		return s.engine.submitter.Quit(s.ctx, activityID)
	})
}

// CanQuit reports whether quitting the draw is currently allowed.
func (s *Session) CanQuit(activityID int) bool {
	allowed := false
	s.do(func() error {
		if d, ok := s.draws[activityID]; ok {
			allowed = d.CanQuit()
		}
		return nil
	})
	return allowed
}

// handleInbound routes a decoded message into the loop.
func (s *Session) handleInbound(t protocol.MessageType, msg any) {
	s.enqueue(func() {
		switch m := msg.(type) {
		case protocol.ActivitySnapshot:
			s.applyVoteSnapshot(m)
		case protocol.ActivityEnded:
			s.applyVoteEnded(m.ID)
		case protocol.RoundState:
			s.applyRoundState(m, t == protocol.TypeRoundStateSync)
		case protocol.ParticipantsUpdate:
			s.applyParticipantsHint(m)
		case protocol.ActionError:
			s.applyActionError(m)
		}
	})
}

func (s *Session) notifyConnectivity(connected bool) {
	s.enqueue(func() {
		if s.events.OnConnectivity != nil {
			s.events.OnConnectivity(connected)
		}
	})
}

// requestReconcile refetches authoritative state for every observed
// activity, feeding it through the same apply path as live messages.
func (s *Session) requestReconcile() {
	s.enqueue(func() {
		for id := range s.votes {
			s.refetchVote(id)
		}
		for id := range s.draws {
			s.requestRoundSync(id)
		}
	})
}

// applyVoteSnapshot merges a full snapshot. Snapshots for votes this
// session never observed are adopted: that is how a freshly launched
// vote pushed to the room materializes locally.
func (s *Session) applyVoteSnapshot(snap protocol.ActivitySnapshot) {
	va, ok := s.votes[snap.ID]
	if !ok {
		va = vote.New(snap.ID)
		s.votes[snap.ID] = va
	}
	if !va.ApplySnapshot(snap) {
		log.Debug().Int("activity_id", snap.ID).Str("status", snap.Status).Msg("stale snapshot ignored")
		return
	}

	if va.HasActed() {
		s.engine.submitter.Resolve(snap.ID, actions.KindSubmit)
	}
	if va.Status() == vote.StatusClosed {
		s.engine.submitter.Discard(snap.ID, actions.KindSubmit)
	}
	s.maybeFetchResult(va)
	s.emitVote(va)
}

func (s *Session) applyVoteEnded(activityID int) {
	va, ok := s.votes[activityID]
	if !ok {
		return
	}
	va.End()
	s.engine.submitter.Discard(activityID, actions.KindSubmit)
	s.maybeFetchResult(va)
	s.emitVote(va)
}

// applyRoundState merges a round lifecycle message into every observed
// draw; round messages are room-scoped on the wire. A round identifier
// this client has never seen means messages were missed, so a sync is
// requested unless this message already is one.
func (s *Session) applyRoundState(p protocol.RoundState, isSync bool) {
	for _, d := range s.draws {
		applied := d.ApplyRoundState(p)
		if applied.RoundChanged && !isSync {
			s.requestRoundSync(d.ID)
		}
		s.settleDrawPendings(d, isSync)
		s.emitDraw(d)
	}
}

func (s *Session) applyParticipantsHint(p protocol.ParticipantsUpdate) {
	for _, d := range s.draws {
		d.ApplyParticipantsHint(p)
		s.settleDrawPendings(d, false)
		s.emitDraw(d)
	}
}

// settleDrawPendings clears pending lottery actions confirmed by the
// latest state. Contradicted intents are only discarded on
// authoritative syncs, never on hints racing a just-sent action.
func (s *Session) settleDrawPendings(d *draw.Activity, authoritative bool) {
	switch d.Participation() {
	case draw.Joined:
		s.engine.submitter.Resolve(d.ID, actions.KindJoin)
	case draw.Removed, draw.NotJoined:
		s.engine.submitter.Resolve(d.ID, actions.KindQuit)
		if authoritative {
			s.engine.submitter.Discard(d.ID, actions.KindJoin)
		}
	}
}

// applyActionError bifurcates server action errors: already-acted
// signals are absorbed as success, genuine failures are surfaced without
// mutating state.
func (s *Session) applyActionError(p protocol.ActionError) {
	if p.ActivityID != 0 {
		if va, ok := s.votes[p.ActivityID]; ok && isAlreadyActed(p.Message) {
			va.ConfirmSubmission()
			s.engine.submitter.Resolve(p.ActivityID, actions.KindSubmit)
			s.maybeFetchResult(va)
			s.emitVote(va)
			return
		}
		if d, ok := s.draws[p.ActivityID]; ok && isAlreadyJoined(p.Message) {
			d.MarkJoined()
			s.engine.submitter.Resolve(p.ActivityID, actions.KindJoin)
			s.emitDraw(d)
			return
		}
		// Genuine failure: release the in-flight slot so the user can
		// retry; local selection state stays intact.
		s.engine.submitter.Resolve(p.ActivityID, actions.KindSubmit)
		s.engine.submitter.Resolve(p.ActivityID, actions.KindJoin)
		s.engine.submitter.Resolve(p.ActivityID, actions.KindQuit)
	}
	if s.events.OnActionError != nil {
		s.events.OnActionError(p.ActivityID, p.Message)
	}
}

// onTick recomputes countdowns inside the loop. A countdown reaching
// zero while the vote still looks active is a staleness hint: the close
// message may have been missed, so refetch.
func (s *Session) onTick(now time.Time) {
	s.enqueue(func() {
		for id, va := range s.votes {
			t := va.Timing()
			if t.StartedAt == nil && !t.Active {
				continue
			}
			snap := countdown.Compute(countdown.Inputs{
				StartsAt:        t.StartedAt,
				DurationSeconds: t.DurationSeconds,
				WaitSeconds:     t.WaitSeconds,
				RemainingHint:   t.RemainingHint,
			}, now)

			prev, seen := s.lastTicks[id]
			if seen && prev == snap {
				continue
			}
			s.lastTicks[id] = snap

			if s.events.OnCountdown != nil {
				s.events.OnCountdown(id, snap)
			}
			if seen && prev.SecondsRemaining > 0 && snap.SecondsRemaining == 0 && t.Active {
				s.refetchVote(id)
			}
		}
	})
}

// refetchVote fetches an authoritative vote snapshot off-loop and
// applies it through the normal snapshot path.
func (s *Session) refetchVote(activityID int) {
	if s.fetchInFlight[activityID] {
		return
	}
	s.fetchInFlight[activityID] = true

	go func() {
		snap, err := s.engine.fetcher.GetVote(s.ctx, activityID)
		s.enqueue(func() {
			delete(s.fetchInFlight, activityID)
			if err != nil {
				log.Warn().Err(err).Int("activity_id", activityID).Msg("vote snapshot fetch failed")
				return
			}
			s.applyVoteSnapshot(*snap)
		})
	}()
}

// refetchRound cold-starts a draw from the REST collaborator. The fetch
// is activity-scoped, so unlike room-scoped push messages the response
// is applied only to the draw it was fetched for.
func (s *Session) refetchRound(activityID int) {
	go func() {
		state, err := s.engine.fetcher.GetRoundState(s.ctx, activityID)
		s.enqueue(func() {
			if err != nil {
				log.Warn().Err(err).Int("activity_id", activityID).Msg("round state fetch failed")
				return
			}
			d, ok := s.draws[activityID]
			if !ok {
				return
			}
			d.ApplyRoundState(*state)
			s.settleDrawPendings(d, true)
			s.emitDraw(d)
		})
	}()
}

// requestRoundSync asks the server to push a round_state_sync.
func (s *Session) requestRoundSync(activityID int) {
	err := s.engine.ch.Publish(s.ctx, protocol.TypeGetSnapshot, protocol.GetSnapshot{ActivityID: activityID})
	if err != nil {
		// The next reconnect reconciliation retries.
		log.Debug().Err(err).Int("activity_id", activityID).Msg("round sync request failed")
	}
}

// maybeFetchResult fetches the tally once the vote is closed or the
// user has acted, at most one fetch in flight per vote.
func (s *Session) maybeFetchResult(va *vote.Activity) {
	if !va.ShouldFetchResult() || va.Result() != nil || s.resultInFlight[va.ID] {
		return
	}
	s.resultInFlight[va.ID] = true
	activityID := va.ID

	go func() {
		res, err := s.engine.fetcher.GetVoteResult(s.ctx, activityID)
		s.enqueue(func() {
			delete(s.resultInFlight, activityID)
			if err != nil {
				log.Warn().Err(err).Int("activity_id", activityID).Msg("result fetch failed")
				return
			}
			if va, ok := s.votes[activityID]; ok {
				if va.SetResult(vote.Result{TotalVoters: res.TotalVoters, Entries: res.Results}) {
					s.emitVote(va)
				}
			}
		})
	}()
}

func (s *Session) emitVote(va *vote.Activity) {
	if s.events.OnVoteChanged != nil {
		s.events.OnVoteChanged(va)
	}
}

func (s *Session) emitDraw(d *draw.Activity) {
	if s.events.OnDrawChanged != nil {
		s.events.OnDrawChanged(d)
	}
}

func isAlreadyActed(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "already voted") ||
		strings.Contains(m, "duplicate") ||
		strings.Contains(msg, "已投")
}

func isAlreadyJoined(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "already joined") ||
		strings.Contains(msg, "已加入")
}
