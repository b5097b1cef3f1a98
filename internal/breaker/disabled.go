package breaker

import "time"

// Disabled is a Governor that admits everything. It still counts attempts
// and successes so callers can inspect the same State shape.
type Disabled struct {
	metrics     Metrics
	lastFailure *time.Time
	lastSuccess *time.Time
	now         func() time.Time
}

// NewDisabled returns an unrestricted governor.
func NewDisabled() *Disabled {
	return &Disabled{now: time.Now}
}

func (d *Disabled) CanProcess(datasetSize, fieldsPerRecord int) error {
	d.metrics.TotalAttempts++
	return nil
}

func (d *Disabled) RecordSuccess(processingTimeMs, memoryMB float64) {
	d.metrics.SuccessfulAttempts++
	n := float64(d.metrics.SuccessfulAttempts)
	d.metrics.AverageProcessingTime += (processingTimeMs - d.metrics.AverageProcessingTime) / n
	if memoryMB > d.metrics.PeakMemoryUsage {
		d.metrics.PeakMemoryUsage = memoryMB
	}
	now := d.now()
	d.lastSuccess = &now
}

func (d *Disabled) RecordFailure(reason string) {
	d.metrics.FailedAttempts++
	now := d.now()
	d.lastFailure = &now
}

// SuggestBatchSize always returns the whole dataset.
func (d *Disabled) SuggestBatchSize(datasetSize, fieldsPerRecord int) int {
	return max(1, datasetSize)
}

func (d *Disabled) Reset() {
	d.metrics = Metrics{}
	d.lastFailure = nil
	d.lastSuccess = nil
}

// State always reports closed with zero failures.
func (d *Disabled) State() State {
	return State{
		Status:          StatusClosed,
		Metrics:         d.metrics,
		LastFailureTime: copyTime(d.lastFailure),
		LastSuccessTime: copyTime(d.lastSuccess),
	}
}

var (
	_ Governor = (*CircuitBreaker)(nil)
	_ Governor = (*Disabled)(nil)
)
