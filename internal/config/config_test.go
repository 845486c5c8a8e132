package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigFromEnv_Defaults(t *testing.T) {
	cfg := NewConfigFromEnv()
	assert.Equal(t, TransportWebsocket, cfg.Transport)
	assert.Equal(t, "ws://localhost:8080/ws", cfg.Websocket.Endpoint)
	assert.NotZero(t, cfg.TickInterval)
	assert.NotZero(t, cfg.ActionTimeout)
}

func TestNewConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("LIVESYNC_TRANSPORT", TransportNATS)
	t.Setenv("LIVESYNC_NATS_URL", "nats://push.example.test:4222")
	t.Setenv("LIVESYNC_USER_ID", "user-42")
	t.Setenv("LIVESYNC_ROOM", "meeting-1")
	t.Setenv("LIVESYNC_TICK_INTERVAL", "250ms")
	t.Setenv("LIVESYNC_ACTION_TIMEOUT", "8")

	cfg := NewConfigFromEnv()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, TransportNATS, cfg.Transport)
	assert.Equal(t, "nats://push.example.test:4222", cfg.NATS.URL)
	assert.Equal(t, []string{"meeting-1"}, cfg.Rooms)
	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 8*time.Second, cfg.ActionTimeout, "bare integers read as seconds")
	assert.Equal(t, "user-42", cfg.Identity().UserID)
}

func TestLoadProfile_OverlaysEnv(t *testing.T) {
	t.Setenv("LIVESYNC_USER_ID", "user-42")

	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"websocket_endpoint: ws://profile.example.test/ws\nrooms:\n  - meeting-9\nuser_name: Wen\n",
	), 0o600))

	cfg := NewConfigFromEnv()
	require.NoError(t, cfg.LoadProfile(path))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ws://profile.example.test/ws", cfg.Websocket.Endpoint)
	assert.Equal(t, []string{"meeting-9"}, cfg.Rooms)
	assert.Equal(t, "user-42", cfg.UserID, "env value survives fields the profile omits")
	assert.Equal(t, "Wen", cfg.UserName)
}

func TestValidate_RejectsBadInput(t *testing.T) {
	cfg := NewConfigFromEnv()
	assert.Error(t, cfg.Validate(), "user id required")

	cfg.UserID = "user-42"
	cfg.Transport = "carrier-pigeon"
	assert.Error(t, cfg.Validate())
}
