// internal/aggregator/aggregator.go
package aggregator

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/solatis/derivekeeper/internal/breaker"
	"github.com/solatis/derivekeeper/internal/derivation"
	"github.com/solatis/derivekeeper/internal/document"
	"github.com/solatis/derivekeeper/internal/types"
)

/*
 * Rule-set evaluation over a document collection.
 *
 * Aggregate is one governed unit of work:
 *
 *   governor.CanProcess(len(docs), avgFields)   reject before any work
 *   evaluate every rule in context order         later targets overwrite
 *   governor.RecordSuccess / RecordFailure       bracket the evaluation
 *
 * Rules are independent of each other: each reads the documents only, never
 * the derived tree, so the output is a pure function of (docs, rules, base).
 *
 * AggregateInBatches splits the collection and folds per-rule results
 * across batches. Sequences concatenate in batch order (Unique re-applies
 * de-duplication over the whole), counts add, and averages combine their
 * numeric sums, so the result equals a single unbatched call.
 */

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger for run summaries.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// WithClock replaces time.Now for elapsed-time measurement.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// WithMemoryProbe replaces the memory reading passed to RecordSuccess.
func WithMemoryProbe(probe func() float64) Option {
	return func(a *Aggregator) {
		a.memoryMB = probe
	}
}

// Aggregator applies derivation rules to document collections.
type Aggregator struct {
	governor breaker.Governor
	logger   *zap.Logger
	now      func() time.Time
	memoryMB func() float64
}

// New creates an Aggregator guarded by governor. A nil governor disables governance.
func New(governor breaker.Governor, opts ...Option) *Aggregator {
	if governor == nil {
		governor = breaker.NewDisabled()
	}
	a := &Aggregator{
		governor: governor,
		logger:   zap.NewNop(),
		now:      time.Now,
		memoryMB: breaker.MemoryUsageMB,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewWithDisabledCircuitBreaker creates an Aggregator that admits every call.
func NewWithDisabledCircuitBreaker(opts ...Option) *Aggregator {
	return New(breaker.NewDisabled(), opts...)
}

// Governor returns the governor guarding this Aggregator.
func (a *Aggregator) Governor() breaker.Governor {
	return a.governor
}

// SuggestBatchSize asks the governor for a batch size that keeps each batch
// of docs within its complexity limit.
func (a *Aggregator) SuggestBatchSize(docs []any) int {
	return a.governor.SuggestBatchSize(len(docs), averageFieldsPerRecord(docs))
}

// Aggregate evaluates every rule in ctx over docs. base, when non-nil, is
// snapshotted for MergeWithBase. Rejections and evaluation failures are
// *types.AggregationError values matching types.ErrAggregationFailed.
func (a *Aggregator) Aggregate(docs []any, ctx *derivation.Context, base map[string]any) (*Outcome, error) {
	return a.AggregateInBatches(docs, ctx, base, len(docs))
}

// AggregateInBatches is Aggregate over consecutive batches of at most
// batchSize documents, each admitted separately by the governor.
func (a *Aggregator) AggregateInBatches(docs []any, ctx *derivation.Context, base map[string]any, batchSize int) (*Outcome, error) {
	if ctx == nil {
		ctx = derivation.NewContext(nil, derivation.DefaultContextOptions())
	}
	if batchSize < 1 {
		batchSize = max(1, len(docs))
	}

	start := a.now()
	results := newRuleResults(ctx.Rules())
	batches := 0

	for lo := 0; lo < len(docs) || batches == 0; lo += batchSize {
		hi := min(lo+batchSize, len(docs))
		if err := a.runBatch(docs[lo:hi], ctx.Options(), results); err != nil {
			return nil, err
		}
		batches++
	}

	derived := make(map[string]any)
	for _, rr := range results {
		if v, ok := rr.value(); ok {
			setPath(derived, rr.rule.TargetPath(), v)
		}
	}

	outcome := &Outcome{
		derived:       derived,
		base:          document.CloneMap(base),
		RulesApplied:  len(results),
		DocumentCount: len(docs),
		Batches:       batches,
		Elapsed:       a.now().Sub(start),
	}

	a.logger.Debug("aggregation completed",
		zap.Int("documents", outcome.DocumentCount),
		zap.Int("rules", outcome.RulesApplied),
		zap.Int("batches", outcome.Batches),
		zap.Duration("elapsed", outcome.Elapsed))

	return outcome, nil
}

// runBatch is one check -> work -> record cycle.
func (a *Aggregator) runBatch(docs []any, opts derivation.ContextOptions, results []*ruleResult) error {
	if err := a.governor.CanProcess(len(docs), averageFieldsPerRecord(docs)); err != nil {
		a.logger.Info("aggregation rejected", zap.Int("documents", len(docs)), zap.Error(err))
		return err
	}

	start := a.now()
	if err := evaluateRules(docs, opts, results); err != nil {
		a.governor.RecordFailure(err.Error())
		return evaluationError(err)
	}
	elapsed := a.now().Sub(start)
	a.governor.RecordSuccess(float64(elapsed)/float64(time.Millisecond), a.memoryMB())
	return nil
}

func evaluateRules(docs []any, opts derivation.ContextOptions, results []*ruleResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic during evaluation: %v", types.ErrAggregationFailed, r)
		}
	}()
	for _, rr := range results {
		if err := rr.apply(docs, opts); err != nil {
			return err
		}
	}
	return nil
}

// averageFieldsPerRecord is the mean number of top-level keys across object
// documents, rounded up. Non-object documents are ignored.
func averageFieldsPerRecord(docs []any) int {
	objects, fields := 0, 0
	for _, doc := range docs {
		if obj, ok := document.AsObject(doc); ok {
			objects++
			fields += len(obj)
		}
	}
	if objects == 0 {
		return 0
	}
	return int(math.Ceil(float64(fields) / float64(objects)))
}
