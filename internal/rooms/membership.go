// Package rooms tracks which logical rooms the client intends to be in.
// The transport does not persist room membership across reconnects, so
// the intent set is replayed on every transition to connected.
package rooms

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/cosolive/livesync/internal/channel"
	"github.com/cosolive/livesync/internal/protocol"
)

// Membership records room intent and keeps the channel's server-side
// membership in line with it.
type Membership struct {
	ch channel.Channel

	mu     sync.Mutex
	intent map[string]struct{}

	unsubscribe func()
}

// NewMembership creates a Membership bound to ch and starts watching
// connectivity. Call Close when done.
func NewMembership(ch channel.Channel) *Membership {
	m := &Membership{
		ch:     ch,
		intent: make(map[string]struct{}),
	}
	m.unsubscribe = ch.SubscribeState(func(s channel.State) {
		if s == channel.StateConnected {
			m.rejoinAll()
		}
	})
	return m
}

// EnsureJoined records intent to be in roomID and, if connected, sends
// the join immediately. While disconnected the intent is queued and
// replayed on the next connect.
func (m *Membership) EnsureJoined(ctx context.Context, roomID string) {
	m.mu.Lock()
	m.intent[roomID] = struct{}{}
	m.mu.Unlock()

	if m.ch.State() != channel.StateConnected {
		return
	}
	if err := m.ch.Publish(ctx, protocol.TypeJoinRoom, protocol.JoinRoom{RoomID: roomID}); err != nil {
		// The next connectivity transition replays the intent.
		log.Warn().Err(err).Str("room_id", roomID).Msg("join_room send failed")
	}
}

// Leave removes intent and, if connected, sends the leave message.
func (m *Membership) Leave(ctx context.Context, roomID string) {
	m.mu.Lock()
	delete(m.intent, roomID)
	m.mu.Unlock()

	if m.ch.State() != channel.StateConnected {
		return
	}
	if err := m.ch.Publish(ctx, protocol.TypeLeaveRoom, protocol.LeaveRoom{RoomID: roomID}); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("leave_room send failed")
	}
}

// Rooms returns the current intent set, sorted.
func (m *Membership) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.intent))
	for r := range m.intent {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Close stops watching connectivity. Intent is retained in memory but no
// longer replayed.
func (m *Membership) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

func (m *Membership) rejoinAll() {
	for _, roomID := range m.Rooms() {
		if err := m.ch.Publish(context.Background(), protocol.TypeJoinRoom, protocol.JoinRoom{RoomID: roomID}); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("rejoin send failed")
			continue
		}
		log.Debug().Str("room_id", roomID).Msg("room rejoined")
	}
}
