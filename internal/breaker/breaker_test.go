package breaker

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/derivekeeper/internal/types"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(t *testing.T, mutate func(*Config)) (*CircuitBreaker, *fakeClock, *float64) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	mem := new(float64)
	cb, err := New(cfg,
		WithClock(clock.Now),
		WithMemoryProbe(func() float64 { return *mem }))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return cb, clock, mem
}

func kindOf(err error) types.AggregationFailureKind {
	var aggErr *types.AggregationError
	if errors.As(err, &aggErr) {
		return aggErr.Kind
	}
	return ""
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero complexity", mutate: func(c *Config) { c.MaxComplexity = 0 }},
		{name: "negative memory", mutate: func(c *Config) { c.MaxMemoryMB = -1 }},
		{name: "zero processing time", mutate: func(c *Config) { c.MaxProcessingTimeMs = 0 }},
		{name: "zero dataset size", mutate: func(c *Config) { c.MaxDatasetSize = 0 }},
		{name: "zero cooldown", mutate: func(c *Config) { c.CooldownPeriodMs = 0 }},
		{name: "zero threshold", mutate: func(c *Config) { c.FailureThreshold = 0 }},
		{name: "memory threshold above one", mutate: func(c *Config) { c.MemoryThreshold = 1.5 }},
		{name: "memory threshold zero", mutate: func(c *Config) { c.MemoryThreshold = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if _, err := New(cfg); !errors.Is(err, types.ErrConfiguration) {
				t.Errorf("New() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestCanProcess_Limits(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		fields   int
		memoryMB float64
		wantKind types.AggregationFailureKind
	}{
		{name: "within limits", size: 100, fields: 10, memoryMB: 10},
		{name: "dataset too large", size: 10_001, fields: 1, wantKind: types.FailureDatasetSize},
		{name: "complexity too high", size: 10_000, fields: 101, wantKind: types.FailureComplexity},
		{name: "complexity at limit", size: 10_000, fields: 100},
		{name: "memory above soft ceiling", size: 1, fields: 1, memoryMB: 410, wantKind: types.FailureMemory},
		{name: "memory at soft ceiling", size: 1, fields: 1, memoryMB: 409.6},
		{name: "complexity product overflows", size: 4, fields: 1 << 62, wantKind: types.FailureComplexity},
		{name: "complexity product wraps negative", size: 3, fields: 1 << 62, wantKind: types.FailureComplexity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, _, mem := newTestBreaker(t, nil)
			*mem = tt.memoryMB

			err := cb.CanProcess(tt.size, tt.fields)
			state := cb.State()

			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("CanProcess() error = %v, want nil", err)
				}
				if state.Metrics.RejectedAttempts != 0 {
					t.Errorf("RejectedAttempts = %d, want 0", state.Metrics.RejectedAttempts)
				}
			} else {
				if got := kindOf(err); got != tt.wantKind {
					t.Fatalf("CanProcess() kind = %q, want %q (err=%v)", got, tt.wantKind, err)
				}
				if !errors.Is(err, types.ErrAggregationFailed) {
					t.Errorf("CanProcess() error does not match ErrAggregationFailed")
				}
				if state.Metrics.RejectedAttempts != 1 {
					t.Errorf("RejectedAttempts = %d, want 1", state.Metrics.RejectedAttempts)
				}
				if state.Failures != 0 {
					t.Errorf("Failures = %d, rejections must not count as failures", state.Failures)
				}
			}
			if state.Metrics.TotalAttempts != 1 {
				t.Errorf("TotalAttempts = %d, want 1", state.Metrics.TotalAttempts)
			}
		})
	}
}

func TestCanProcess_ConfigurableMemoryThreshold(t *testing.T) {
	cb, _, mem := newTestBreaker(t, func(c *Config) {
		c.MaxMemoryMB = 100
		c.MemoryThreshold = 0.5
	})
	*mem = 60

	if got := kindOf(cb.CanProcess(1, 1)); got != types.FailureMemory {
		t.Errorf("CanProcess() kind = %q, want memory", got)
	}
}

func TestStateMachine_OpensAtThreshold(t *testing.T) {
	cb, _, _ := newTestBreaker(t, func(c *Config) { c.FailureThreshold = 3 })

	cb.RecordFailure("boom")
	cb.RecordFailure("boom")
	if got := cb.State().Status; got != StatusClosed {
		t.Fatalf("after 2 failures status = %v, want closed", got)
	}

	cb.RecordFailure("boom")
	if got := cb.State().Status; got != StatusOpen {
		t.Fatalf("after 3 failures status = %v, want open", got)
	}

	err := cb.CanProcess(1, 1)
	if err == nil {
		t.Fatal("CanProcess() on open breaker = nil, want rejection")
	}
	if !strings.Contains(err.Error(), "Circuit breaker is open") {
		t.Errorf("CanProcess() error = %q, want message containing %q", err, "Circuit breaker is open")
	}
	if kindOf(err) != types.FailureCircuitOpen {
		t.Errorf("CanProcess() kind = %q, want circuit_open", kindOf(err))
	}

	state := cb.State()
	if state.Metrics.RejectedAttempts != 1 {
		t.Errorf("RejectedAttempts = %d, want 1", state.Metrics.RejectedAttempts)
	}
	if state.Failures != 3 {
		t.Errorf("Failures = %d, want 3", state.Failures)
	}
}

func TestStateMachine_HalfOpenProbe(t *testing.T) {
	cb, clock, _ := newTestBreaker(t, func(c *Config) {
		c.FailureThreshold = 1
		c.CooldownPeriodMs = 1000
	})

	cb.RecordFailure("boom")
	if cb.State().Status != StatusOpen {
		t.Fatalf("status = %v, want open", cb.State().Status)
	}

	clock.Advance(999 * time.Millisecond)
	if err := cb.CanProcess(1, 1); kindOf(err) != types.FailureCircuitOpen {
		t.Fatalf("CanProcess() before cooldown = %v, want circuit_open", err)
	}

	clock.Advance(time.Millisecond)
	if err := cb.CanProcess(1, 1); err != nil {
		t.Fatalf("CanProcess() after cooldown = %v, want nil", err)
	}
	if cb.State().Status != StatusHalfOpen {
		t.Fatalf("status = %v, want half-open", cb.State().Status)
	}

	if err := cb.CanProcess(1, 1); kindOf(err) != types.FailureCircuitOpen {
		t.Fatalf("second CanProcess() while half-open = %v, want circuit_open", err)
	}
	if got := cb.State().Metrics.RejectedAttempts; got != 2 {
		t.Errorf("RejectedAttempts = %d, want 2", got)
	}
	if cb.State().Status != StatusHalfOpen {
		t.Fatalf("status = %v, want half-open", cb.State().Status)
	}

	// A single failure while probing reopens regardless of threshold
	cb.RecordFailure("probe failed")
	if cb.State().Status != StatusOpen {
		t.Fatalf("status = %v, want open", cb.State().Status)
	}

	clock.Advance(time.Second)
	if err := cb.CanProcess(1, 1); err != nil {
		t.Fatalf("CanProcess() after second cooldown = %v, want nil", err)
	}
	cb.RecordSuccess(10, 1)

	state := cb.State()
	if state.Status != StatusClosed {
		t.Errorf("status = %v, want closed", state.Status)
	}
	if state.Failures != 0 {
		t.Errorf("Failures = %d, want 0", state.Failures)
	}
}

func TestStateMachine_HalfOpenWithHigherThreshold(t *testing.T) {
	cb, clock, _ := newTestBreaker(t, func(c *Config) {
		c.FailureThreshold = 2
		c.CooldownPeriodMs = 10
	})

	cb.RecordFailure("a")
	cb.RecordFailure("b")
	clock.Advance(10 * time.Millisecond)
	if err := cb.CanProcess(1, 1); err != nil {
		t.Fatalf("CanProcess() = %v, want nil", err)
	}
	cb.RecordFailure("c")
	if cb.State().Status != StatusOpen {
		t.Errorf("status = %v, want open", cb.State().Status)
	}
}

func TestRecordSuccess_Metrics(t *testing.T) {
	cb, clock, _ := newTestBreaker(t, nil)

	cb.RecordSuccess(10, 50)
	cb.RecordSuccess(20, 30)
	cb.RecordSuccess(30, 70)

	state := cb.State()
	if state.Metrics.SuccessfulAttempts != 3 {
		t.Errorf("SuccessfulAttempts = %d, want 3", state.Metrics.SuccessfulAttempts)
	}
	if state.Metrics.AverageProcessingTime != 20 {
		t.Errorf("AverageProcessingTime = %v, want 20", state.Metrics.AverageProcessingTime)
	}
	if state.Metrics.PeakMemoryUsage != 70 {
		t.Errorf("PeakMemoryUsage = %v, want 70", state.Metrics.PeakMemoryUsage)
	}
	if state.LastSuccessTime == nil || !state.LastSuccessTime.Equal(clock.Now()) {
		t.Errorf("LastSuccessTime = %v, want %v", state.LastSuccessTime, clock.Now())
	}
}

func TestSuggestBatchSize(t *testing.T) {
	cb, _, _ := newTestBreaker(t, func(c *Config) { c.MaxComplexity = 1000 })

	tests := []struct {
		name   string
		size   int
		fields int
		want   int
	}{
		{name: "fits", size: 100, fields: 10, want: 100},
		{name: "too complex", size: 200, fields: 10, want: 50},
		{name: "huge records", size: 10, fields: 5000, want: 1},
		{name: "empty dataset", size: 0, fields: 10, want: 1},
		{name: "product overflows", size: 1 << 40, fields: 1 << 40, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cb.SuggestBatchSize(tt.size, tt.fields); got != tt.want {
				t.Errorf("SuggestBatchSize(%d, %d) = %d, want %d", tt.size, tt.fields, got, tt.want)
			}
		})
	}
}

func TestReset(t *testing.T) {
	cb, _, _ := newTestBreaker(t, func(c *Config) { c.FailureThreshold = 1 })
	cb.RecordSuccess(5, 5)
	cb.RecordFailure("boom")
	_ = cb.CanProcess(1, 1)

	cb.Reset()

	state := cb.State()
	if state.Status != StatusClosed || state.Failures != 0 {
		t.Errorf("after Reset state = %+v, want closed with 0 failures", state)
	}
	if state.Metrics != (Metrics{}) {
		t.Errorf("after Reset metrics = %+v, want zero", state.Metrics)
	}
	if state.LastFailureTime != nil || state.LastSuccessTime != nil {
		t.Errorf("after Reset timestamps not cleared")
	}
}

func TestState_IsIndependentSnapshot(t *testing.T) {
	cb, _, _ := newTestBreaker(t, nil)
	cb.RecordFailure("boom")

	snapshot := cb.State()
	original := *snapshot.LastFailureTime
	*snapshot.LastFailureTime = original.Add(time.Hour)
	snapshot.Metrics.FailedAttempts = 99
	snapshot.Status = StatusOpen

	again := cb.State()
	if !again.LastFailureTime.Equal(original) {
		t.Errorf("mutating snapshot changed LastFailureTime")
	}
	if again.Metrics.FailedAttempts != 1 || again.Status != StatusClosed {
		t.Errorf("mutating snapshot changed breaker state: %+v", again)
	}
}

func TestDisabled(t *testing.T) {
	var g Governor = NewDisabled()
	if err := g.CanProcess(1_000_000_000, 1_000); err != nil {
		t.Errorf("CanProcess() = %v, want nil", err)
	}
	g.RecordFailure("ignored")
	if g.State().Status != StatusClosed {
		t.Errorf("status = %v, want closed", g.State().Status)
	}
	if got := g.SuggestBatchSize(500, 1000); got != 500 {
		t.Errorf("SuggestBatchSize() = %d, want 500", got)
	}
}

func TestMemoryUsageMB(t *testing.T) {
	if MemoryUsageMB() <= 0 {
		t.Errorf("MemoryUsageMB() = %v, want > 0", MemoryUsageMB())
	}
}

// Property-based test: a success always clears the failure count
func TestRecordSuccess_PropertyResetsFailures(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("recordSuccess resets failures to 0", prop.ForAll(
		func(failures int, threshold int64, probe bool) bool {
			cfg := DefaultConfig()
			cfg.FailureThreshold = threshold
			cfg.CooldownPeriodMs = 1
			clock := &fakeClock{t: time.Unix(0, 0)}
			cb, err := New(cfg, WithClock(clock.Now), WithMemoryProbe(func() float64 { return 0 }))
			if err != nil {
				return false
			}
			for i := 0; i < failures; i++ {
				cb.RecordFailure("generated")
			}
			if probe {
				clock.Advance(time.Millisecond)
				_ = cb.CanProcess(1, 1)
			}
			cb.RecordSuccess(1, 1)
			return cb.State().Failures == 0
		},
		gen.IntRange(0, 20),
		gen.Int64Range(1, 10),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// Property-based test: suggested batches always fit and are at least 1
func TestSuggestBatchSize_PropertyFits(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("suggested batch is >= 1 and within budget", prop.ForAll(
		func(maxComplexity int64, size int, fields int) bool {
			got := suggestBatchSize(maxComplexity, size, fields)
			if got < 1 {
				return false
			}
			return got == 1 || complexity(got, fields) <= maxComplexity
		},
		gen.Int64Range(1, 1_000_000),
		gen.IntRange(0, 100_000),
		gen.IntRange(1, 1_000),
	))

	properties.TestingRun(t)
}
