// Package api implements the derivekeeper.v1.Aggregation gRPC service.
package api

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/solatis/derivekeeper/internal/aggregator"
	"github.com/solatis/derivekeeper/internal/core/runs"
	"github.com/solatis/derivekeeper/internal/strategy"
)

// Service implements AggregationServer.
// Thin orchestration layer delegating to the aggregator, strategy and runs packages.
type Service struct {
	aggregator   *aggregator.Aggregator
	strategies   *strategy.Service
	recorder     runs.Recorder
	maxDocuments int
	logger       *zap.Logger
	now          func() time.Time

	// gate serializes aggregator calls; the circuit breaker behind it is
	// not safe for concurrent use.
	gate chan struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder persists every Aggregate and Combine call.
func WithRecorder(recorder runs.Recorder) Option {
	return func(s *Service) {
		s.recorder = recorder
	}
}

// WithMaxDocuments caps documents and sources per request.
func WithMaxDocuments(n int) Option {
	return func(s *Service) {
		s.maxDocuments = n
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a service over agg and strategies.
func NewService(agg *aggregator.Aggregator, strategies *strategy.Service, opts ...Option) (*Service, error) {
	if agg == nil {
		return nil, fmt.Errorf("aggregator cannot be nil")
	}
	if strategies == nil {
		return nil, fmt.Errorf("strategies cannot be nil")
	}

	s := &Service{
		aggregator: agg,
		strategies: strategies,
		logger:     zap.NewNop(),
		now:        time.Now,
		gate:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// acquire takes the aggregator gate or gives up when ctx ends.
func (s *Service) acquire(ctx context.Context) (release func(), err error) {
	select {
	case s.gate <- struct{}{}:
		return func() { <-s.gate }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// record writes run to the ledger when one is configured. Ledger failures
// are logged and never fail the request.
func (s *Service) record(ctx context.Context, run *runs.Run, result any) {
	if s.recorder == nil {
		return
	}
	encoded, err := runs.EncodeResult(result)
	if err != nil {
		s.logger.Warn("failed to encode run result", zap.Error(err))
	} else {
		run.Result = encoded
	}
	if err := s.recorder.Record(ctx, run); err != nil {
		s.logger.Warn("failed to record run", zap.String("kind", string(run.Kind)), zap.Error(err))
	}
}
