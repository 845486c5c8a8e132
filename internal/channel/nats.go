package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/cosolive/livesync/internal/protocol"
)

// NATSConfig holds configuration for the NATS transport.
type NATSConfig struct {
	URL           string
	RoomPrefix    string // room subjects: <RoomPrefix>.<roomID>
	ActionSubject string // outbound user intents
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default NATS transport configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		RoomPrefix:    "livesync.rooms",
		ActionSubject: "livesync.actions",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// NATSChannel implements Channel over a NATS connection for deployments
// where the push fabric is NATS rather than a websocket gateway. Room
// membership maps to subject subscriptions: join_room and leave_room are
// handled inside Publish instead of going over the wire, so the engine
// and RoomMembership stay transport-agnostic.
type NATSChannel struct {
	config NATSConfig
	broker *broker

	mu       sync.Mutex
	nc       *nats.Conn
	roomSubs map[string]*nats.Subscription
}

// NewNATSChannel creates a NATS channel. Nothing connects until Connect.
func NewNATSChannel(config NATSConfig) *NATSChannel {
	return &NATSChannel{
		config:   config,
		broker:   newBroker(),
		roomSubs: make(map[string]*nats.Subscription),
	}
}

// Connect establishes the NATS connection. Connection errors are never
// fatal: RetryOnFailedConnect keeps dialing in the background and the
// handlers translate the lifecycle into channel state so RoomMembership
// re-joins (re-subscribes) on every connect.
func (c *NATSChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nc != nil && !c.nc.IsClosed() {
		return nil
	}
	c.broker.setState(StateConnecting)

	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(c.config.MaxReconnects),
		nats.ReconnectWait(c.config.ReconnectWait),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats connected")
			c.broker.setState(StateConnected)
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
			c.broker.setState(StateDisconnected)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
			c.broker.setState(StateConnected)
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("nats error")
		}),
	}

	// Only option-level misconfiguration errors here; a refused dial is
	// retried in the background.
	nc, err := nats.Connect(c.config.URL, opts...)
	if err != nil {
		c.broker.setState(StateDisconnected)
		return fmt.Errorf("configure NATS connection: %w", err)
	}
	c.nc = nc
	if nc.IsConnected() {
		c.broker.setState(StateConnected)
	}
	return nil
}

// Disconnect closes the NATS connection and drops all room subscriptions.
func (c *NATSChannel) Disconnect() error {
	c.mu.Lock()
	nc := c.nc
	c.nc = nil
	c.roomSubs = make(map[string]*nats.Subscription)
	c.mu.Unlock()

	if nc != nil {
		nc.Close()
	}
	c.broker.setState(StateDisconnected)
	return nil
}

// Publish sends an outbound message. Room membership messages are
// interpreted locally as subject subscriptions; everything else goes to
// the action subject.
func (c *NATSChannel) Publish(ctx context.Context, t protocol.MessageType, payload any) error {
	switch t {
	case protocol.TypeJoinRoom:
		join, ok := payload.(protocol.JoinRoom)
		if !ok {
			return fmt.Errorf("join_room payload must be protocol.JoinRoom, got %T", payload)
		}
		return c.joinRoom(join.RoomID)
	case protocol.TypeLeaveRoom:
		leave, ok := payload.(protocol.LeaveRoom)
		if !ok {
			return fmt.Errorf("leave_room payload must be protocol.LeaveRoom, got %T", payload)
		}
		return c.leaveRoom(leave.RoomID)
	}

	env, err := protocol.NewEnvelope(t, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	c.mu.Lock()
	nc := c.nc
	c.mu.Unlock()
	if nc == nil || !nc.IsConnected() {
		return ErrNotConnected
	}
	if err := nc.Publish(c.config.ActionSubject, data); err != nil {
		return fmt.Errorf("publish %s: %w", t, err)
	}
	return nil
}

func (c *NATSChannel) joinRoom(roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nc == nil {
		return ErrNotConnected
	}
	if _, ok := c.roomSubs[roomID]; ok {
		return nil
	}

	subject := fmt.Sprintf("%s.%s", c.config.RoomPrefix, roomID)
	sub, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
		var env protocol.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping malformed envelope")
			return
		}
		c.broker.dispatch(env)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.roomSubs[roomID] = sub
	return nil
}

func (c *NATSChannel) leaveRoom(roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.roomSubs[roomID]
	if !ok {
		return nil
	}
	delete(c.roomSubs, roomID)
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribe room %s: %w", roomID, err)
	}
	return nil
}

// Subscribe routes inbound envelopes of the given type to h.
func (c *NATSChannel) Subscribe(t protocol.MessageType, h Handler) func() {
	return c.broker.subscribe(t, h)
}

// SubscribeState delivers connectivity transitions.
func (c *NATSChannel) SubscribeState(h StateHandler) func() {
	return c.broker.subscribeState(h)
}

// State reports current connectivity.
func (c *NATSChannel) State() State {
	return c.broker.currentState()
}
