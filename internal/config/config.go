// Package config loads engine settings from LIVESYNC_* environment
// variables (with defaults), optionally layered over a YAML profile.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cosolive/livesync/internal/actions"
	"github.com/cosolive/livesync/internal/channel"
	"github.com/cosolive/livesync/internal/countdown"
)

// Transport selects the push-channel implementation.
const (
	TransportWebsocket = "websocket"
	TransportNATS      = "nats"
)

// Config holds everything needed to run the sync engine.
type Config struct {
	Transport string `yaml:"transport"`

	Websocket channel.WebsocketConfig `yaml:"-"`
	NATS      channel.NATSConfig      `yaml:"-"`

	WebsocketEndpoint string `yaml:"websocket_endpoint"`
	NATSURL           string `yaml:"nats_url"`
	SnapshotBaseURL   string `yaml:"snapshot_base_url"`
	AuthToken         string `yaml:"auth_token"`

	UserID         string `yaml:"user_id"`
	UserName       string `yaml:"user_name"`
	UserDepartment string `yaml:"user_department"`

	Rooms []string `yaml:"rooms"`

	TickInterval  time.Duration `yaml:"tick_interval"`
	ActionTimeout time.Duration `yaml:"action_timeout"`
}

// NewConfigFromEnv reads LIVESYNC_* environment variables.
func NewConfigFromEnv() Config {
	cfg := Config{
		Transport:         getEnv("LIVESYNC_TRANSPORT", TransportWebsocket),
		WebsocketEndpoint: getEnv("LIVESYNC_WS_ENDPOINT", "ws://localhost:8080/ws"),
		NATSURL:           getEnv("LIVESYNC_NATS_URL", "nats://localhost:4222"),
		SnapshotBaseURL:   getEnv("LIVESYNC_SNAPSHOT_URL", "http://localhost:8080"),
		AuthToken:         getEnv("LIVESYNC_AUTH_TOKEN", ""),
		UserID:            getEnv("LIVESYNC_USER_ID", ""),
		UserName:          getEnv("LIVESYNC_USER_NAME", ""),
		UserDepartment:    getEnv("LIVESYNC_USER_DEPARTMENT", ""),
		TickInterval:      getEnvAsDuration("LIVESYNC_TICK_INTERVAL", countdown.DefaultInterval),
		ActionTimeout:     getEnvAsDuration("LIVESYNC_ACTION_TIMEOUT", actions.DefaultTimeout),
	}
	if room := getEnv("LIVESYNC_ROOM", ""); room != "" {
		cfg.Rooms = append(cfg.Rooms, room)
	}
	cfg.resolveTransports()
	return cfg
}

// LoadProfile overlays a YAML profile on top of env settings. Fields
// absent from the file keep their current values.
func (c *Config) LoadProfile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	c.resolveTransports()
	return nil
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportWebsocket, TransportNATS:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	return nil
}

// Identity returns the acting user for outbound actions.
func (c Config) Identity() actions.Identity {
	return actions.Identity{
		UserID:         c.UserID,
		UserName:       c.UserName,
		UserDepartment: c.UserDepartment,
	}
}

// resolveTransports fills the transport configs from the endpoint
// fields, keeping the per-transport defaults.
func (c *Config) resolveTransports() {
	c.Websocket = channel.DefaultWebsocketConfig(c.WebsocketEndpoint)
	c.NATS = channel.DefaultNATSConfig()
	c.NATS.URL = c.NATSURL
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
