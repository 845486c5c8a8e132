// Package channel owns the physical connection to the push-messaging
// endpoint. It decodes nothing beyond the envelope: inbound payloads are
// routed by message type to subscribers, who decode at their boundary.
package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/cosolive/livesync/internal/protocol"
)

// ErrNotConnected is returned by Publish while the channel has no live
// connection. Callers decide whether to queue or surface.
var ErrNotConnected = errors.New("channel: not connected")

// State is the connectivity state of the channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Handler receives inbound envelopes for a subscribed message type.
type Handler func(protocol.Envelope)

// StateHandler receives connectivity transitions.
type StateHandler func(State)

// Channel is one logical push connection shared by many sessions.
// Connect is idempotent while already connected or connecting; Disconnect
// tears the connection down and stops reconnection until the next Connect.
type Channel interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Publish(ctx context.Context, t protocol.MessageType, payload any) error
	Subscribe(t protocol.MessageType, h Handler) (unsubscribe func())
	SubscribeState(h StateHandler) (unsubscribe func())
	State() State
}

// broker fans inbound envelopes and state transitions out to subscribers.
// Shared by the websocket and NATS transports.
type broker struct {
	mu        sync.RWMutex
	nextID    int
	subs      map[protocol.MessageType]map[int]Handler
	stateSubs map[int]StateHandler
	state     State
}

func newBroker() *broker {
	return &broker{
		subs:      make(map[protocol.MessageType]map[int]Handler),
		stateSubs: make(map[int]StateHandler),
	}
}

func (b *broker) subscribe(t protocol.MessageType, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[t] == nil {
		b.subs[t] = make(map[int]Handler)
	}
	b.subs[t][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[t], id)
	}
}

func (b *broker) subscribeState(h StateHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.stateSubs[id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.stateSubs, id)
	}
}

// dispatch delivers an envelope to every subscriber of its type. Handlers
// run on the transport's read goroutine; they are expected to hand off
// quickly (the engine enqueues into its session loop).
func (b *broker) dispatch(env protocol.Envelope) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[env.Type]))
	for _, h := range b.subs[env.Type] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
}

// setState records a connectivity transition and notifies subscribers.
// Setting the same state twice is a no-op.
func (b *broker) setState(s State) {
	b.mu.Lock()
	if b.state == s {
		b.mu.Unlock()
		return
	}
	b.state = s
	handlers := make([]StateHandler, 0, len(b.stateSubs))
	for _, h := range b.stateSubs {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(s)
	}
}

func (b *broker) currentState() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}
