// Package config holds the environment-driven configuration for the relay.
package config

import (
	"fmt"
	"time"

	env "github.com/Netflix/go-env"
)

// Config is the full runtime configuration. Every field can be overridden
// from the environment; unset variables fall back to the defaults below.
type Config struct {
	Host string `env:"CHATRELAY_HOST,default=0.0.0.0"`
	Port int    `env:"CHATRELAY_PORT,default=8080"`

	DatabasePath    string        `env:"CHATRELAY_DATABASE_PATH,default=./chatrelay.db"`
	DatabaseTimeout time.Duration `env:"CHATRELAY_DATABASE_TIMEOUT,default=30s"`

	HTTPReadTimeout  time.Duration `env:"CHATRELAY_HTTP_READ_TIMEOUT,default=30s"`
	HTTPWriteTimeout time.Duration `env:"CHATRELAY_HTTP_WRITE_TIMEOUT,default=30s"`

	WSPingInterval time.Duration `env:"CHATRELAY_WS_PING_INTERVAL,default=30s"`
	WSReadTimeout  time.Duration `env:"CHATRELAY_WS_READ_TIMEOUT,default=60s"`
	WSWriteTimeout time.Duration `env:"CHATRELAY_WS_WRITE_TIMEOUT,default=10s"`
	WSSendBuffer   int           `env:"CHATRELAY_WS_SEND_BUFFER,default=100"`

	// HistoryScope selects what a connecting client gets replayed: "user"
	// replays only that user's own past messages, "room" replays the whole
	// room.
	HistoryScope string `env:"CHATRELAY_HISTORY_SCOPE,default=user"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without consulting the
// environment.
func Default() *Config {
	return &Config{
		Host:             "0.0.0.0",
		Port:             8080,
		DatabasePath:     "./chatrelay.db",
		DatabaseTimeout:  30 * time.Second,
		HTTPReadTimeout:  30 * time.Second,
		HTTPWriteTimeout: 30 * time.Second,
		WSPingInterval:   30 * time.Second,
		WSReadTimeout:    60 * time.Second,
		WSWriteTimeout:   10 * time.Second,
		WSSendBuffer:     100,
		HistoryScope:     "user",
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.DatabaseTimeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.HTTPReadTimeout <= 0 || c.HTTPWriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.WSPingInterval <= 0 || c.WSReadTimeout <= 0 || c.WSWriteTimeout <= 0 {
		return fmt.Errorf("WebSocket timeouts must be positive")
	}
	if c.WSSendBuffer <= 0 {
		return fmt.Errorf("WebSocket send buffer must be positive")
	}
	if c.HistoryScope != "user" && c.HistoryScope != "room" {
		return fmt.Errorf("history scope must be %q or %q", "user", "room")
	}
	return nil
}
