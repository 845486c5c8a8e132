// Package engine ties the synchronization pieces together: it owns the
// shared push channel, room membership, and one serialized session per
// observed room, and it reconciles local state against authoritative
// snapshots on every reconnect.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/cosolive/livesync/internal/actions"
	"github.com/cosolive/livesync/internal/channel"
	"github.com/cosolive/livesync/internal/protocol"
	"github.com/cosolive/livesync/internal/rooms"
)

// Local precondition violations, rejected before any network call.
var (
	ErrUnknownActivity = errors.New("engine: activity not observed")
	ErrNotSubmittable  = errors.New("engine: vote not open for submission")
	ErrQuitLocked      = errors.New("engine: quit disabled while round is rolling")
	ErrAlreadyJoined   = errors.New("engine: already joined")
)

// SnapshotFetcher is the request/response collaborator returning
// authoritative state outside the push channel.
type SnapshotFetcher interface {
	GetVote(ctx context.Context, activityID int) (*protocol.ActivitySnapshot, error)
	GetVoteResult(ctx context.Context, activityID int) (*protocol.VoteResult, error)
	GetRoundState(ctx context.Context, activityID int) (*protocol.RoundState, error)
}

// Config holds engine tuning.
type Config struct {
	Identity      actions.Identity
	TickInterval  time.Duration // countdown recompute interval
	ActionTimeout time.Duration // pending-action fallback timeout
}

// Engine is the entry point. Obtain one, Start it, then open sessions
// for the rooms you observe. The physical channel is shared by all
// sessions; closing a session leaves its room without tearing the
// connection down.
type Engine struct {
	ch         channel.Channel
	membership *rooms.Membership
	submitter  *actions.Submitter
	fetcher    SnapshotFetcher
	clock      clockwork.Clock
	config     Config

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session

	unsubs []func()
}

// New wires an engine over the given channel and snapshot collaborator.
func New(ch channel.Channel, fetcher SnapshotFetcher, clock clockwork.Clock, config Config) *Engine {
	e := &Engine{
		ch:         ch,
		membership: rooms.NewMembership(ch),
		submitter:  actions.NewSubmitter(ch, clock, config.Identity, config.ActionTimeout),
		fetcher:    fetcher,
		clock:      clock,
		config:     config,
		sessions:   make(map[string]*Session),
	}

	for _, t := range []protocol.MessageType{
		protocol.TypeActivitySnapshot,
		protocol.TypeActivityEnded,
		protocol.TypeRoundStateChange,
		protocol.TypeRoundStateSync,
		protocol.TypeParticipantsUpdate,
		protocol.TypeActionError,
	} {
		e.unsubs = append(e.unsubs, ch.Subscribe(t, e.fanOut))
	}
	e.unsubs = append(e.unsubs, ch.SubscribeState(e.onState))

	return e
}

// Start connects the channel and begins background housekeeping. The
// context bounds the engine's lifetime.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)
	if err := e.ch.Connect(e.ctx); err != nil {
		return err
	}
	go e.sweepLoop()
	return nil
}

// Shutdown closes every session and disconnects the channel.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	for _, unsub := range e.unsubs {
		unsub()
	}
	e.membership.Close()
	if e.cancel != nil {
		e.cancel()
	}
	if err := e.ch.Disconnect(); err != nil {
		log.Warn().Err(err).Msg("channel disconnect failed")
	}
}

// OpenSession joins roomID and returns its session. Opening the same
// room twice returns the existing session.
func (e *Engine) OpenSession(roomID string, events Events) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.sessions[roomID]; ok {
		return s
	}
	s := newSession(e, roomID, events)
	e.sessions[roomID] = s
	e.membership.EnsureJoined(e.ctx, roomID)
	log.Info().Str("room_id", roomID).Msg("session opened")
	return s
}

// Channel exposes the underlying channel, mainly for its connectivity
// state.
func (e *Engine) Channel() channel.Channel { return e.ch }

func (e *Engine) removeSession(roomID string) {
	e.mu.Lock()
	delete(e.sessions, roomID)
	e.mu.Unlock()
	e.membership.Leave(context.Background(), roomID)
}

// fanOut hands an inbound envelope to every open session. Activity ids
// are globally unique, so a session that does not observe the target
// activity drops the message.
func (e *Engine) fanOut(env protocol.Envelope) {
	msg, err := protocol.Decode(env)
	if err != nil {
		log.Warn().Err(err).Str("type", string(env.Type)).Msg("dropping undecodable message")
		return
	}
	if msg == nil {
		return
	}

	e.mu.Lock()
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	for _, s := range sessions {
		s.handleInbound(env.Type, msg)
	}
}

// onState reacts to connectivity transitions. Room re-join is the
// membership's job; the engine's job is reconciliation: every reconnect
// refetches an authoritative snapshot for every observed activity.
func (e *Engine) onState(st channel.State) {
	connected := st == channel.StateConnected

	e.mu.Lock()
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	for _, s := range sessions {
		s.notifyConnectivity(connected)
		if connected {
			s.requestReconcile()
		}
	}
}

// sweepLoop discards pending actions that outlived the fallback timeout
// without a confirmation message.
func (e *Engine) sweepLoop() {
	ticker := e.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.Chan():
			for _, a := range e.submitter.SweepExpired() {
				log.Debug().
					Int("activity_id", a.ActivityID).
					Str("kind", string(a.Kind)).
					Msg("pending action expired without confirmation")
			}
		}
	}
}
