package breaker

import (
	"fmt"

	"github.com/solatis/derivekeeper/internal/types"
)

// Config bounds the work a CircuitBreaker admits.
type Config struct {
	// MaxComplexity caps datasetSize * fieldsPerRecord.
	MaxComplexity int64
	// MaxMemoryMB is the process memory budget in megabytes.
	MaxMemoryMB int64
	// MaxProcessingTimeMs is advisory; processing time is recorded, never enforced.
	MaxProcessingTimeMs int64
	// MaxDatasetSize caps the number of documents per call.
	MaxDatasetSize int64
	// CooldownPeriodMs is how long an open breaker rejects before probing.
	CooldownPeriodMs int64
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int64
	// MemoryThreshold is the fraction of MaxMemoryMB above which work is rejected.
	MemoryThreshold float64
}

// Default limits.
const (
	DefaultMaxComplexity       = 1_000_000
	DefaultMaxMemoryMB         = 512
	DefaultMaxProcessingTimeMs = 30_000
	DefaultMaxDatasetSize      = 10_000
	DefaultCooldownPeriodMs    = 60_000
	DefaultFailureThreshold    = 5
	DefaultMemoryThreshold     = 0.8
)

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		MaxComplexity:       DefaultMaxComplexity,
		MaxMemoryMB:         DefaultMaxMemoryMB,
		MaxProcessingTimeMs: DefaultMaxProcessingTimeMs,
		MaxDatasetSize:      DefaultMaxDatasetSize,
		CooldownPeriodMs:    DefaultCooldownPeriodMs,
		FailureThreshold:    DefaultFailureThreshold,
		MemoryThreshold:     DefaultMemoryThreshold,
	}
}

// Validate checks that every limit is positive and the memory threshold is a fraction.
func (c Config) Validate() error {
	limits := []struct {
		name  string
		value int64
	}{
		{"maxComplexity", c.MaxComplexity},
		{"maxMemoryMB", c.MaxMemoryMB},
		{"maxProcessingTimeMs", c.MaxProcessingTimeMs},
		{"maxDatasetSize", c.MaxDatasetSize},
		{"cooldownPeriodMs", c.CooldownPeriodMs},
		{"failureThreshold", c.FailureThreshold},
	}
	for _, l := range limits {
		if l.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", types.ErrConfiguration, l.name, l.value)
		}
	}
	if c.MemoryThreshold <= 0 || c.MemoryThreshold > 1 {
		return fmt.Errorf("%w: memoryThreshold must be in (0, 1], got %v", types.ErrConfiguration, c.MemoryThreshold)
	}
	return nil
}
