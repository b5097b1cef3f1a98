package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// Load loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Bind environment variables with DK_ prefix
	v.SetEnvPrefix("DK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Credentials belong in DK_DB_URL, never in a config file
	if err := validateNoCredentialsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Port:            v.GetInt("server.port"),
			RequestTimeout:  v.GetDuration("server.request_timeout"),
			MaxDocuments:    v.GetInt("server.max_documents"),
			MaxMessageBytes: v.GetInt("server.max_message_bytes"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		DB: DBConfig{
			URL: v.GetString("db.url"),
		},
	}
	cfg.Breaker.MaxComplexity = v.GetInt64("breaker.max_complexity")
	cfg.Breaker.MaxMemoryMB = v.GetInt64("breaker.max_memory_mb")
	cfg.Breaker.MaxProcessingTimeMs = v.GetInt64("breaker.max_processing_time_ms")
	cfg.Breaker.MaxDatasetSize = v.GetInt64("breaker.max_dataset_size")
	cfg.Breaker.CooldownPeriodMs = v.GetInt64("breaker.cooldown_period_ms")
	cfg.Breaker.FailureThreshold = v.GetInt64("breaker.failure_threshold")
	cfg.Breaker.MemoryThreshold = v.GetFloat64("breaker.memory_threshold")

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults mirrors Default().
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout.String())
	v.SetDefault("server.max_documents", d.Server.MaxDocuments)
	v.SetDefault("server.max_message_bytes", d.Server.MaxMessageBytes)

	v.SetDefault("breaker.max_complexity", d.Breaker.MaxComplexity)
	v.SetDefault("breaker.max_memory_mb", d.Breaker.MaxMemoryMB)
	v.SetDefault("breaker.max_processing_time_ms", d.Breaker.MaxProcessingTimeMs)
	v.SetDefault("breaker.max_dataset_size", d.Breaker.MaxDatasetSize)
	v.SetDefault("breaker.cooldown_period_ms", d.Breaker.CooldownPeriodMs)
	v.SetDefault("breaker.failure_threshold", d.Breaker.FailureThreshold)
	v.SetDefault("breaker.memory_threshold", d.Breaker.MemoryThreshold)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("db.url", "")
}

// validateConfig checks port range, positive server limits, log settings and breaker limits.
func validateConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Server.MaxDocuments <= 0 {
		return fmt.Errorf("max_documents must be positive, got %d", cfg.Server.MaxDocuments)
	}
	if cfg.Server.MaxMessageBytes <= 0 {
		return fmt.Errorf("max_message_bytes must be positive, got %d", cfg.Server.MaxMessageBytes)
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be one of debug, info, warn, error, got %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log format must be json or text, got %q", cfg.Log.Format)
	}
	if err := cfg.Breaker.Validate(); err != nil {
		return fmt.Errorf("breaker: %w", err)
	}
	return nil
}

// validateNoCredentialsInConfig enforces environment-only database credentials.
func validateNoCredentialsInConfig(v *viper.Viper) error {
	if !v.InConfig("db.url") {
		return nil
	}
	u, err := url.Parse(v.GetString("db.url"))
	if err != nil {
		return nil
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		return fmt.Errorf("database credentials not allowed in config files (use DK_DB_URL environment variable)")
	}
	return nil
}
