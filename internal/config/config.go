package config

import (
	"time"

	"github.com/roverlink/signalhub/internal/logging"
)

// RelayMode selects how signaling messages are routed between peers.
type RelayMode string

const (
	// RelayModeBroadcast forwards every signaling message to all peers
	// except the sender.
	RelayModeBroadcast RelayMode = "broadcast"
	// RelayModePairwise forwards each signaling message to the sender's
	// designated counterparty only.
	RelayModePairwise RelayMode = "pairwise"
	// RelayModeEngine terminates sessions on the server itself: offers are
	// answered by the local negotiation engine instead of being relayed.
	RelayModeEngine RelayMode = "engine"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig   `json:"server" yaml:"server"`
	Relay   RelayConfig    `json:"relay" yaml:"relay"`
	Queue   QueueConfig    `json:"queue" yaml:"queue"`
	Auth    AuthConfig     `json:"auth" yaml:"auth"`
	Capture CaptureConfig  `json:"capture" yaml:"capture"`
	WebRTC  WebRTCConfig   `json:"webrtc" yaml:"webrtc"`
	Logging logging.Config `json:"logging" yaml:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host" yaml:"host"`
	Port         int           `json:"port" yaml:"port"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// RelayConfig represents message relay configuration
type RelayConfig struct {
	Mode RelayMode `json:"mode" yaml:"mode"`
}

// QueueConfig represents admission queue configuration
type QueueConfig struct {
	Enabled            bool          `json:"enabled" yaml:"enabled"`
	MaxSessionDuration time.Duration `json:"max_session_duration" yaml:"max_session_duration"`
	MaxIdleTime        time.Duration `json:"max_idle_time" yaml:"max_idle_time"`
	ReapInterval       time.Duration `json:"reap_interval" yaml:"reap_interval"`
	SlotEstimate       time.Duration `json:"slot_estimate" yaml:"slot_estimate"`
}

// AuthConfig represents upgrade endpoint authentication. Auth is disabled
// when the secret is empty.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret" yaml:"jwt_secret"`
}

// CaptureConfig represents image capture sink configuration
type CaptureConfig struct {
	Dir string `json:"dir" yaml:"dir"`
}

// WebRTCConfig represents negotiation engine configuration
type WebRTCConfig struct {
	ICEServers []ICEServer `json:"ice_servers" yaml:"ice_servers"`
}

// ICEServer represents an ICE server configuration
type ICEServer struct {
	URLs       []string `json:"urls" yaml:"urls"`
	Username   string   `json:"username,omitempty" yaml:"username,omitempty"`
	Credential string   `json:"credential,omitempty" yaml:"credential,omitempty"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "localhost",
			Port:         3030,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Relay: RelayConfig{
			Mode: RelayModeBroadcast,
		},
		Queue: QueueConfig{
			Enabled:            true,
			MaxSessionDuration: 10 * time.Minute,
			MaxIdleTime:        60 * time.Second,
			ReapInterval:       5 * time.Second,
			SlotEstimate:       10 * time.Minute,
		},
		Capture: CaptureConfig{
			Dir: ".",
		},
		WebRTC: WebRTCConfig{
			ICEServers: []ICEServer{
				{
					URLs: []string{"stun:stun.l.google.com:19302"},
				},
			},
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return NewConfigError("server.port", "invalid port number")
	}

	if c.Server.ReadTimeout < 0 {
		return NewConfigError("server.read_timeout", "timeout cannot be negative")
	}

	if c.Server.WriteTimeout < 0 {
		return NewConfigError("server.write_timeout", "timeout cannot be negative")
	}

	switch c.Relay.Mode {
	case RelayModeBroadcast, RelayModePairwise, RelayModeEngine:
	default:
		return NewConfigError("relay.mode", "must be broadcast, pairwise or engine")
	}

	if c.Queue.MaxSessionDuration <= 0 {
		return NewConfigError("queue.max_session_duration", "must be positive")
	}

	if c.Queue.MaxIdleTime <= 0 {
		return NewConfigError("queue.max_idle_time", "must be positive")
	}

	if c.Queue.ReapInterval <= 0 {
		return NewConfigError("queue.reap_interval", "must be positive")
	}

	if c.Relay.Mode == RelayModeEngine && len(c.WebRTC.ICEServers) == 0 {
		return NewConfigError("webrtc.ice_servers", "at least one ICE server is required in engine mode")
	}

	return nil
}
