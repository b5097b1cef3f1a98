// internal/breaker/breaker.go
package breaker

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/solatis/derivekeeper/internal/types"
)

/*
 * Admission control for aggregation work.
 *
 * A CircuitBreaker answers one question before work starts: may a call over
 * datasetSize documents of fieldsPerRecord fields run now? It rejects when the
 * call is too large, too complex (datasetSize * fieldsPerRecord), when the
 * process heap is above MemoryThreshold of MaxMemoryMB, or when the breaker is
 * open and the cooldown has not elapsed.
 *
 * State machine:
 *
 *   closed    --failures >= threshold-->  open
 *   open      --cooldown elapsed, next accepted call-->  half-open
 *   half-open --success-->  closed
 *   half-open --any failure-->  open
 *
 * While half-open, further calls are rejected until the probe is recorded.
 * Complexity saturates at math.MaxInt64 rather than wrapping.
 * Rejections never count as failures. The breaker assumes a strict
 * check -> work -> record sequence and performs no locking; callers sharing
 * one instance across goroutines must serialize access.
 */

// Status is the breaker state.
type Status string

const (
	StatusClosed   Status = "closed"
	StatusOpen     Status = "open"
	StatusHalfOpen Status = "half-open"
)

// Metrics are cumulative counters since construction or the last Reset.
type Metrics struct {
	TotalAttempts      uint64
	SuccessfulAttempts uint64
	FailedAttempts     uint64
	RejectedAttempts   uint64
	// AverageProcessingTime is the running mean over successful calls, in ms.
	AverageProcessingTime float64
	// PeakMemoryUsage is the highest memory reported to RecordSuccess, in MB.
	PeakMemoryUsage float64
}

// State is a snapshot of the breaker. It shares nothing with the breaker.
type State struct {
	Status          Status
	Failures        uint64
	Metrics         Metrics
	LastFailureTime *time.Time
	LastSuccessTime *time.Time
}

// Governor admits or rejects aggregation work and records its outcome.
// Both CircuitBreaker and the disabled governor satisfy it.
type Governor interface {
	CanProcess(datasetSize, fieldsPerRecord int) error
	RecordSuccess(processingTimeMs, memoryMB float64)
	RecordFailure(reason string)
	SuggestBatchSize(datasetSize, fieldsPerRecord int) int
	Reset()
	State() State
}

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

// WithMemoryProbe replaces the process memory reading (megabytes).
func WithMemoryProbe(probe func() float64) Option {
	return func(cb *CircuitBreaker) {
		cb.memoryMB = probe
	}
}

// WithLogger sets the logger used for state transitions.
func WithLogger(logger *zap.Logger) Option {
	return func(cb *CircuitBreaker) {
		cb.logger = logger
	}
}

// CircuitBreaker is the resource governor. Not safe for concurrent use.
type CircuitBreaker struct {
	cfg Config

	status      Status
	failures    uint64
	metrics     Metrics
	lastFailure *time.Time
	lastSuccess *time.Time

	now      func() time.Time
	memoryMB func() float64
	logger   *zap.Logger
}

// New creates a closed CircuitBreaker. Returns ErrConfiguration for invalid limits.
func New(cfg Config, opts ...Option) (*CircuitBreaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cb := &CircuitBreaker{
		cfg:      cfg,
		status:   StatusClosed,
		now:      time.Now,
		memoryMB: MemoryUsageMB,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb, nil
}

// Config returns the limits the breaker was built with.
func (cb *CircuitBreaker) Config() Config {
	return cb.cfg
}

// CanProcess returns nil when the call may proceed, otherwise an
// *types.AggregationError describing the rejection.
func (cb *CircuitBreaker) CanProcess(datasetSize, fieldsPerRecord int) error {
	cb.metrics.TotalAttempts++

	probing := false
	if cb.status == StatusOpen {
		remaining := cb.cooldownRemaining()
		if remaining > 0 {
			return cb.reject(types.FailureCircuitOpen,
				"Circuit breaker is open; retry in %s", remaining.Round(time.Millisecond))
		}
		probing = true
	}
	if cb.status == StatusHalfOpen {
		return cb.reject(types.FailureCircuitOpen,
			"Circuit breaker is half-open; a probe is already in flight")
	}

	if int64(datasetSize) > cb.cfg.MaxDatasetSize {
		return cb.reject(types.FailureDatasetSize,
			"dataset size %d exceeds maximum %d", datasetSize, cb.cfg.MaxDatasetSize)
	}

	if complexity := complexity(datasetSize, fieldsPerRecord); complexity > cb.cfg.MaxComplexity {
		return cb.reject(types.FailureComplexity,
			"complexity %d exceeds maximum %d", complexity, cb.cfg.MaxComplexity)
	}

	ceiling := float64(cb.cfg.MaxMemoryMB) * cb.cfg.MemoryThreshold
	if usage := cb.memoryMB(); usage > ceiling {
		return cb.reject(types.FailureMemory,
			"memory usage %.1fMB exceeds %.0f%% of %dMB limit",
			usage, cb.cfg.MemoryThreshold*100, cb.cfg.MaxMemoryMB)
	}

	if probing {
		cb.transition(StatusHalfOpen)
	}
	return nil
}

func (cb *CircuitBreaker) reject(kind types.AggregationFailureKind, format string, args ...any) error {
	cb.metrics.RejectedAttempts++
	err := &types.AggregationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
	cb.logger.Debug("aggregation rejected",
		zap.String("kind", string(kind)),
		zap.String("reason", err.Message))
	return err
}

func (cb *CircuitBreaker) cooldownRemaining() time.Duration {
	if cb.lastFailure == nil {
		return 0
	}
	cooldown := time.Duration(cb.cfg.CooldownPeriodMs) * time.Millisecond
	return cooldown - cb.now().Sub(*cb.lastFailure)
}

// RecordSuccess records a completed call and closes a half-open breaker.
func (cb *CircuitBreaker) RecordSuccess(processingTimeMs, memoryMB float64) {
	cb.metrics.SuccessfulAttempts++
	n := float64(cb.metrics.SuccessfulAttempts)
	cb.metrics.AverageProcessingTime += (processingTimeMs - cb.metrics.AverageProcessingTime) / n
	if memoryMB > cb.metrics.PeakMemoryUsage {
		cb.metrics.PeakMemoryUsage = memoryMB
	}

	if processingTimeMs > float64(cb.cfg.MaxProcessingTimeMs) {
		cb.logger.Warn("aggregation exceeded advisory processing time",
			zap.Float64("processing_ms", processingTimeMs),
			zap.Int64("max_processing_ms", cb.cfg.MaxProcessingTimeMs))
	}

	now := cb.now()
	cb.lastSuccess = &now
	cb.failures = 0
	if cb.status == StatusHalfOpen {
		cb.transition(StatusClosed)
	}
}

// RecordFailure records a failed call. A half-open breaker reopens immediately;
// a closed breaker opens once failures reach FailureThreshold.
func (cb *CircuitBreaker) RecordFailure(reason string) {
	cb.failures++
	cb.metrics.FailedAttempts++
	now := cb.now()
	cb.lastFailure = &now

	cb.logger.Debug("aggregation failure recorded",
		zap.String("reason", reason),
		zap.Uint64("failures", cb.failures))

	switch cb.status {
	case StatusHalfOpen:
		cb.transition(StatusOpen)
	case StatusClosed:
		if cb.failures >= uint64(cb.cfg.FailureThreshold) {
			cb.transition(StatusOpen)
		}
	}
}

// SuggestBatchSize returns datasetSize when it fits within MaxComplexity,
// otherwise the largest batch using half the complexity budget. Never below 1.
func (cb *CircuitBreaker) SuggestBatchSize(datasetSize, fieldsPerRecord int) int {
	return suggestBatchSize(cb.cfg.MaxComplexity, datasetSize, fieldsPerRecord)
}

func suggestBatchSize(maxComplexity int64, datasetSize, fieldsPerRecord int) int {
	if complexity(datasetSize, fieldsPerRecord) <= maxComplexity {
		return max(1, datasetSize)
	}
	return max(1, int(float64(maxComplexity)*0.5/float64(fieldsPerRecord)))
}

// Reset clears failures, metrics and timestamps and closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.failures = 0
	cb.metrics = Metrics{}
	cb.lastFailure = nil
	cb.lastSuccess = nil
	if cb.status != StatusClosed {
		cb.transition(StatusClosed)
	}
}

// State returns an independent snapshot.
func (cb *CircuitBreaker) State() State {
	return State{
		Status:          cb.status,
		Failures:        cb.failures,
		Metrics:         cb.metrics,
		LastFailureTime: copyTime(cb.lastFailure),
		LastSuccessTime: copyTime(cb.lastSuccess),
	}
}

func (cb *CircuitBreaker) transition(to Status) {
	from := cb.status
	cb.status = to
	cb.logger.Info("circuit breaker state change",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Uint64("failures", cb.failures))
}

func complexity(datasetSize, fieldsPerRecord int) int64 {
	if datasetSize <= 0 || fieldsPerRecord <= 0 {
		return 0
	}
	if int64(fieldsPerRecord) > math.MaxInt64/int64(datasetSize) {
		return math.MaxInt64
	}
	return int64(datasetSize) * int64(fieldsPerRecord)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
