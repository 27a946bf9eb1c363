package database

import "time"

// Config holds SQLite connection settings for the relay store.
type Config struct {
	Path            string
	MaxConnections  int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns connection settings suitable for a single-node relay.
func DefaultConfig(path string) *Config {
	return &Config{
		Path:            path,
		MaxConnections:  10,
		ConnMaxLifetime: 30 * time.Second,
		ConnMaxIdleTime: 10 * time.Second,
	}
}
