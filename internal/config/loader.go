package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadOptions represents options for loading configuration
type LoadOptions struct {
	Path string
}

// Load loads configuration from various sources
func Load(opts ...LoadOptions) (*Config, error) {
	cfg := Default()

	var options LoadOptions
	if len(opts) > 0 {
		options = opts[0]
	}

	if options.Path != "" {
		if err := loadFromFile(cfg, options.Path); err != nil {
			return nil, err
		}
	}

	// Environment variables override file values
	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile loads configuration from a file
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(cfg *Config) {
	if host := os.Getenv("SIGNALHUB_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SIGNALHUB_SERVER_PORT"); port != "" {
		if p, err := parseInt(port); err == nil {
			cfg.Server.Port = p
		}
	}

	if mode := os.Getenv("SIGNALHUB_RELAY_MODE"); mode != "" {
		cfg.Relay.Mode = RelayMode(strings.ToLower(mode))
	}

	if enabled := os.Getenv("SIGNALHUB_QUEUE_ENABLED"); enabled != "" {
		cfg.Queue.Enabled = enabled == "true" || enabled == "1"
	}
	if d := os.Getenv("SIGNALHUB_QUEUE_MAX_SESSION_DURATION"); d != "" {
		if v, err := time.ParseDuration(d); err == nil {
			cfg.Queue.MaxSessionDuration = v
		}
	}
	if d := os.Getenv("SIGNALHUB_QUEUE_MAX_IDLE_TIME"); d != "" {
		if v, err := time.ParseDuration(d); err == nil {
			cfg.Queue.MaxIdleTime = v
		}
	}
	if d := os.Getenv("SIGNALHUB_QUEUE_REAP_INTERVAL"); d != "" {
		if v, err := time.ParseDuration(d); err == nil {
			cfg.Queue.ReapInterval = v
		}
	}

	if secret := os.Getenv("SIGNALHUB_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}

	if dir := os.Getenv("SIGNALHUB_CAPTURE_DIR"); dir != "" {
		cfg.Capture.Dir = dir
	}

	if level := os.Getenv("SIGNALHUB_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("SIGNALHUB_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	if iceServers := os.Getenv("SIGNALHUB_ICE_SERVERS"); iceServers != "" {
		urls := strings.Split(iceServers, ",")
		if len(urls) > 0 {
			cfg.WebRTC.ICEServers = []ICEServer{
				{URLs: urls},
			}
		}
	}
}

// parseInt parses a string to int
func parseInt(s string) (int, error) {
	var i int
	_, err := fmt.Sscanf(s, "%d", &i)
	return i, err
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

// NewConfigError creates a new configuration error
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in field '%s': %s", e.Field, e.Message)
}
