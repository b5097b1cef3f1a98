// Package config provides configuration management for derivekeeper.
package config

import (
	"time"

	"github.com/solatis/derivekeeper/internal/breaker"
)

// Config is the complete service configuration.
type Config struct {
	Server  ServerConfig
	Breaker breaker.Config
	Log     LogConfig
	DB      DBConfig
}

// ServerConfig holds configuration for the gRPC aggregation API.
type ServerConfig struct {
	Host           string
	Port           int
	RequestTimeout time.Duration
	// MaxDocuments caps documents per request before the breaker is consulted.
	MaxDocuments int
	// MaxMessageBytes caps gRPC message size in both directions.
	MaxMessageBytes int
}

// LogConfig selects the logger level and encoding.
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or text
}

// DBConfig locates the run ledger database. An empty URL disables the ledger.
type DBConfig struct {
	URL string
}

// Default returns configuration with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            50051,
			RequestTimeout:  30 * time.Second,
			MaxDocuments:    breaker.DefaultMaxDatasetSize,
			MaxMessageBytes: 16 << 20,
		},
		Breaker: breaker.DefaultConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
