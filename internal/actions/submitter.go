// Package actions sends user intents as idempotent, deduplicated
// requests. At most one action per (activity, kind) is in flight; a
// pending action is cleared by the inbound confirmation (or
// duplicate-rejection) message, with a local timeout as fallback only.
package actions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/cosolive/livesync/internal/protocol"
)

// Local precondition violations, rejected before any network call.
var (
	ErrEmptySelection = errors.New("actions: empty selection")
	ErrActionInFlight = errors.New("actions: action already in flight")
)

// Kind is the action kind half of the dedup key.
type Kind string

const (
	KindSubmit Kind = "submit"
	KindJoin   Kind = "join"
	KindQuit   Kind = "quit"
)

// PendingAction is one in-flight user intent.
type PendingAction struct {
	Kind           Kind
	ActivityID     int
	IdempotencyKey string
	SentAt         time.Time
}

// DefaultTimeout is the fallback age after which a pending action is
// discarded optimistically. Explicit confirmation messages are the
// primary clearing mechanism.
const DefaultTimeout = 5 * time.Second

// Sender is the outbound half of the push channel.
type Sender interface {
	Publish(ctx context.Context, t protocol.MessageType, payload any) error
}

// Identity is the current user, attached to lottery actions.
type Identity struct {
	UserID         string
	UserName       string
	UserDepartment string
}

type pendingKey struct {
	activityID int
	kind       Kind
}

// Submitter deduplicates and sends user intents.
type Submitter struct {
	sender   Sender
	clock    clockwork.Clock
	timeout  time.Duration
	identity Identity

	mu      sync.Mutex
	pending map[pendingKey]PendingAction
}

// NewSubmitter creates a submitter. A zero timeout means DefaultTimeout.
func NewSubmitter(sender Sender, clock clockwork.Clock, identity Identity, timeout time.Duration) *Submitter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Submitter{
		sender:   sender,
		clock:    clock,
		timeout:  timeout,
		identity: identity,
		pending:  make(map[pendingKey]PendingAction),
	}
}

// Submit sends vote selections. An empty selection and a duplicate
// in-flight submit are both rejected locally with no network call.
func (s *Submitter) Submit(ctx context.Context, activityID int, selections []int) error {
	if len(selections) == 0 {
		return ErrEmptySelection
	}

	action, err := s.begin(activityID, KindSubmit)
	if err != nil {
		return err
	}

	payload := protocol.SubmitAction{
		ActivityID:     activityID,
		Selections:     selections,
		IdempotencyKey: action.IdempotencyKey,
	}
	return s.send(ctx, activityID, KindSubmit, protocol.TypeSubmitAction, payload)
}

// Join sends a lottery join for the current user.
func (s *Submitter) Join(ctx context.Context, activityID int) error {
	if _, err := s.begin(activityID, KindJoin); err != nil {
		return err
	}
	return s.send(ctx, activityID, KindJoin, protocol.TypeLotteryAction, s.lotteryPayload(protocol.LotteryJoin, activityID))
}

// Quit sends a lottery quit. Callers gate on the draw machine's CanQuit
// predicate before getting here.
func (s *Submitter) Quit(ctx context.Context, activityID int) error {
	if _, err := s.begin(activityID, KindQuit); err != nil {
		return err
	}
	return s.send(ctx, activityID, KindQuit, protocol.TypeLotteryAction, s.lotteryPayload(protocol.LotteryQuit, activityID))
}

func (s *Submitter) lotteryPayload(action string, activityID int) protocol.LotteryAction {
	return protocol.LotteryAction{
		Action:         action,
		ActivityID:     activityID,
		UserID:         s.identity.UserID,
		UserName:       s.identity.UserName,
		UserDepartment: s.identity.UserDepartment,
	}
}

// begin records a pending action, enforcing at-most-one-in-flight per
// (activity, kind).
func (s *Submitter) begin(activityID int, kind Kind) (PendingAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := pendingKey{activityID: activityID, kind: kind}
	if _, ok := s.pending[k]; ok {
		return PendingAction{}, ErrActionInFlight
	}
	action := PendingAction{
		Kind:           kind,
		ActivityID:     activityID,
		IdempotencyKey: uuid.New().String(),
		SentAt:         s.clock.Now(),
	}
	s.pending[k] = action
	return action, nil
}

// send publishes the payload, retrying once on network error. On the
// second failure the pending slot is released so the user can retry;
// local selection state is untouched by this package.
func (s *Submitter) send(ctx context.Context, activityID int, kind Kind, t protocol.MessageType, payload any) error {
	err := s.sender.Publish(ctx, t, payload)
	if err == nil {
		return nil
	}

	log.Warn().
		Err(err).
		Int("activity_id", activityID).
		Str("kind", string(kind)).
		Msg("action send failed, retrying once")

	if err = s.sender.Publish(ctx, t, payload); err == nil {
		return nil
	}

	s.Resolve(activityID, kind)
	return fmt.Errorf("send %s for activity %d: %w", kind, activityID, err)
}

// Resolve clears the pending action for (activity, kind), typically
// because an inbound message confirmed or rejected-as-duplicate it.
// Returns whether an action was pending.
func (s *Submitter) Resolve(activityID int, kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := pendingKey{activityID: activityID, kind: kind}
	if _, ok := s.pending[k]; !ok {
		return false
	}
	delete(s.pending, k)
	return true
}

// Discard drops a pending action whose intent a reconciliation snapshot
// has contradicted; it is not retried.
func (s *Submitter) Discard(activityID int, kind Kind) {
	if s.Resolve(activityID, kind) {
		log.Debug().
			Int("activity_id", activityID).
			Str("kind", string(kind)).
			Msg("pending action discarded by reconciliation")
	}
}

// InFlight reports whether an action is pending for (activity, kind).
func (s *Submitter) InFlight(activityID int, kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[pendingKey{activityID: activityID, kind: kind}]
	return ok
}

// SweepExpired drops pending actions older than the fallback timeout and
// returns them.
func (s *Submitter) SweepExpired() []PendingAction {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var expired []PendingAction
	for k, action := range s.pending {
		if now.Sub(action.SentAt) >= s.timeout {
			expired = append(expired, action)
			delete(s.pending, k)
		}
	}
	return expired
}
