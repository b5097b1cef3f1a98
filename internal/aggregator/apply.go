package aggregator

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/solatis/derivekeeper/internal/derivation"
	"github.com/solatis/derivekeeper/internal/document"
	"github.com/solatis/derivekeeper/internal/expression"
	"github.com/solatis/derivekeeper/internal/types"
)

// ruleResult accumulates one rule's result across one or more batches.
type ruleResult struct {
	rule *derivation.Rule

	values []any // From, Unique
	count  int   // Count, CountWhere
	sum    decimal.Decimal
	n      int64 // Average
}

func newRuleResults(rules []*derivation.Rule) []*ruleResult {
	results := make([]*ruleResult, len(rules))
	for i, r := range rules {
		results[i] = &ruleResult{rule: r, sum: decimal.Zero}
	}
	return results
}

// apply evaluates the rule over docs and folds the result into rr.
func (rr *ruleResult) apply(docs []any, opts derivation.ContextOptions) error {
	src := rr.rule.SourceExpression()

	switch op := rr.rule.Operation().(type) {
	case derivation.From, derivation.Unique:
		values := src.Collect(docs, expression.EvalOptions{KeepMissing: !opts.SkipUndefined})
		if rr.rule.IsFlatten() {
			values = flattenOnce(values)
		}
		if opts.SkipNull {
			values = dropNulls(values)
		}
		rr.values = append(rr.values, values...)
	case derivation.Count:
		rr.count += src.Count(docs)
	case derivation.Average:
		sum, n := src.NumericSum(docs)
		rr.sum = rr.sum.Add(sum)
		rr.n += n
	case derivation.CountWhere:
		rr.count += src.CountWhere(docs, op.Condition)
	default:
		return fmt.Errorf("unsupported operation %T for target %q", op, rr.rule.TargetField())
	}
	return nil
}

// value returns the derived value and whether the field should be written.
func (rr *ruleResult) value() (any, bool) {
	switch rr.rule.Operation().(type) {
	case derivation.From:
		return document.CloneSlice(nonNil(rr.values)), true
	case derivation.Unique:
		return document.CloneSlice(expression.Unique(rr.values)), true
	case derivation.Count, derivation.CountWhere:
		return rr.count, true
	case derivation.Average:
		if rr.n == 0 {
			return nil, false
		}
		mean, _ := rr.sum.Div(decimal.NewFromInt(rr.n)).Float64()
		return mean, true
	default:
		return nil, false
	}
}

func flattenOnce(values []any) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		if arr, ok := document.AsSlice(v); ok {
			out = append(out, arr...)
			continue
		}
		out = append(out, v)
	}
	return out
}

func dropNulls(values []any) []any {
	out := values[:0:0]
	for _, v := range values {
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}

func nonNil(values []any) []any {
	if values == nil {
		return []any{}
	}
	return values
}

// evaluationError wraps a rule failure as an aggregation failure.
func evaluationError(err error) error {
	var aggErr *types.AggregationError
	if errors.As(err, &aggErr) {
		return err
	}
	return &types.AggregationError{Kind: types.FailureEvaluation, Message: "rule evaluation failed", Err: err}
}
