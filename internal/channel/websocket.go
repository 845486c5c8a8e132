package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/cosolive/livesync/internal/protocol"
)

// WebsocketConfig holds tuning for the websocket transport. The backoff
// numbers bound reconnection churn; they are not correctness parameters.
type WebsocketConfig struct {
	Endpoint         string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	ReconnectWait    time.Duration
	MaxReconnectWait time.Duration
}

// DefaultWebsocketConfig returns defaults suitable for a mobile-ish
// reconnection budget.
func DefaultWebsocketConfig(endpoint string) WebsocketConfig {
	return WebsocketConfig{
		Endpoint:         endpoint,
		HandshakeTimeout: 15 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      90 * time.Second,
		PingInterval:     30 * time.Second,
		ReconnectWait:    2 * time.Second,
		MaxReconnectWait: 30 * time.Second,
	}
}

// WebsocketChannel is the gorilla/websocket transport. One run loop per
// Connect call dials, pumps messages, and redials with exponential
// backoff until Disconnect.
type WebsocketChannel struct {
	config WebsocketConfig
	clock  clockwork.Clock
	broker *broker

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	running bool

	// writeMu serializes writers: gorilla/websocket supports at most one
	// concurrent writer per connection, and Publish is called from
	// session loops and caller goroutines alike.
	writeMu sync.Mutex
}

// NewWebsocketChannel creates a websocket channel. Nothing connects until
// Connect is called.
func NewWebsocketChannel(config WebsocketConfig) *WebsocketChannel {
	return &WebsocketChannel{
		config: config,
		clock:  clockwork.NewRealClock(),
		broker: newBroker(),
	}
}

// Connect starts the connection loop. A second call while already
// connected or connecting is a no-op.
func (c *WebsocketChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}
	c.running = true

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(runCtx)
	return nil
}

// Disconnect stops the connection loop and tears down the socket. Room
// membership bookkeeping lives above the channel; after a future Connect
// rooms must be re-joined.
func (c *WebsocketChannel) Disconnect() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel := c.cancel
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	c.broker.setState(StateDisconnected)
	return nil
}

// run dials and pumps messages, redialing with capped exponential backoff
// on every failure. Connection errors are never fatal; the loop only ends
// when the context is cancelled (Disconnect or caller shutdown).
func (c *WebsocketChannel) run(ctx context.Context) {
	backoff := c.config.ReconnectWait

	for {
		select {
		case <-ctx.Done():
			c.broker.setState(StateDisconnected)
			return
		default:
		}

		c.broker.setState(StateConnecting)

		conn, err := c.dial(ctx)
		if err != nil {
			c.broker.setState(StateDisconnected)
			log.Warn().
				Err(err).
				Str("endpoint", c.config.Endpoint).
				Dur("retry_in", backoff).
				Msg("connect failed")
			select {
			case <-ctx.Done():
				return
			case <-c.clock.After(backoff):
			}
			backoff *= 2
			if backoff > c.config.MaxReconnectWait {
				backoff = c.config.MaxReconnectWait
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		backoff = c.config.ReconnectWait
		c.broker.setState(StateConnected)
		log.Info().Str("endpoint", c.config.Endpoint).Msg("channel connected")

		if err := c.readLoop(ctx, conn); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("channel disconnected")
		}

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
		c.broker.setState(StateDisconnected)
	}
}

func (c *WebsocketChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.config.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, c.config.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.config.Endpoint, err)
	}
	return conn, nil
}

// readLoop reads envelopes until the connection drops. A ping goroutine
// keeps the connection alive; pongs extend the read deadline.
func (c *WebsocketChannel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(c.config.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				deadline := time.Now().Add(c.config.WriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Msg("dropping malformed envelope")
			continue
		}
		c.broker.dispatch(env)
	}
}

// Publish sends one outbound envelope. Sends are fire-and-forget: the
// reply, if any, arrives through the normal inbound path.
func (c *WebsocketChannel) Publish(ctx context.Context, t protocol.MessageType, payload any) error {
	env, err := protocol.NewEnvelope(t, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", t, err)
	}
	return nil
}

// Subscribe routes inbound envelopes of the given type to h. The returned
// function removes the subscription.
func (c *WebsocketChannel) Subscribe(t protocol.MessageType, h Handler) func() {
	return c.broker.subscribe(t, h)
}

// SubscribeState delivers connectivity transitions.
func (c *WebsocketChannel) SubscribeState(h StateHandler) func() {
	return c.broker.subscribeState(h)
}

// State reports current connectivity.
func (c *WebsocketChannel) State() State {
	return c.broker.currentState()
}
