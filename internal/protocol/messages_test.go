package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_RoutesByType(t *testing.T) {
	env := Envelope{
		Type:    TypeActivitySnapshot,
		Payload: json.RawMessage(`{"id":7,"title":"Budget vote","status":"active","isMultiple":true,"maxSelections":2}`),
	}

	msg, err := Decode(env)
	require.NoError(t, err)

	snap, ok := msg.(ActivitySnapshot)
	require.True(t, ok)
	assert.Equal(t, 7, snap.ID)
	assert.True(t, snap.Multiple)
	assert.Equal(t, 2, snap.MaxSelections)
}

func TestDecode_SyncAndChangeShareShape(t *testing.T) {
	payload := json.RawMessage(`{"roundId":"r1","status":"rolling","winners":["u1"]}`)

	for _, typ := range []MessageType{TypeRoundStateChange, TypeRoundStateSync} {
		msg, err := Decode(Envelope{Type: typ, Payload: payload})
		require.NoError(t, err)
		state, ok := msg.(RoundState)
		require.True(t, ok, "type %s", typ)
		assert.Equal(t, "r1", state.RoundID)
		assert.Equal(t, []string{"u1"}, state.Winners)
	}
}

func TestDecode_UnknownTypeIsNoOp(t *testing.T) {
	msg, err := Decode(Envelope{Type: "server_gossip", Payload: json.RawMessage(`{}`)})
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestDecode_MalformedPayload(t *testing.T) {
	_, err := Decode(Envelope{Type: TypeActionError, Payload: json.RawMessage(`{"message":`)})
	assert.Error(t, err)
}

func TestNewEnvelope_RoundTrips(t *testing.T) {
	env, err := NewEnvelope(TypeSubmitAction, SubmitAction{
		ActivityID:     7,
		Selections:     []int{1, 3},
		IdempotencyKey: "k-1",
	})
	require.NoError(t, err)
	assert.Equal(t, TypeSubmitAction, env.Type)

	var payload SubmitAction
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, []int{1, 3}, payload.Selections)
	assert.Equal(t, "k-1", payload.IdempotencyKey)
}
