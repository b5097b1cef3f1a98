// internal/expression/evaluate.go
package expression

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/solatis/derivekeeper/internal/types"
)

/*
 * Evaluation entry points.
 *
 * Fallible operations (Evaluate, EvaluateUnique, EvaluatePath, Average)
 * return explicit errors for malformed expressions. Count and CountWhere are
 * total: anything they cannot interpret counts as zero, because they run over
 * partial, heterogeneous collections where a bad directive must not abort the
 * whole derivation.
 *
 * Result ordering: documents in the order supplied, then elements in array
 * order. Duplicates are kept by Evaluate; EvaluateUnique keeps the first
 * occurrence of each canonical value.
 */

// Evaluate collects every value matched by expr across docs.
// expr must contain exactly one array notation.
func Evaluate(docs []any, expr string) ([]any, error) {
	e, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	if err := e.RequireSingleFanOut(); err != nil {
		return nil, err
	}
	return e.Collect(docs, EvalOptions{}), nil
}

// EvaluateUnique is Evaluate de-duplicated by canonical serialization.
func EvaluateUnique(docs []any, expr string) ([]any, error) {
	values, err := Evaluate(docs, expr)
	if err != nil {
		return nil, err
	}
	return Unique(values), nil
}

// EvaluatePath resolves a fan-out-free path against a single document.
// Returns ErrPathNotFound when navigation meets nil, a scalar or an absent key
// before the path is exhausted. A present null leaf is returned as nil.
func EvaluatePath(doc any, path string) (any, error) {
	e, err := Parse(path)
	if err != nil {
		return nil, err
	}
	if e.ArrayNotationCount() > 0 {
		return nil, fmt.Errorf("%w: array notation not allowed in path %q", types.ErrInvalidExpression, path)
	}
	value, found := e.Resolve(doc)
	if !found {
		return nil, fmt.Errorf("%w: %s", types.ErrPathNotFound, e.raw)
	}
	return value, nil
}

// Count returns the number of values matched by expr across docs.
// Malformed expressions, or ones with more than one array notation, count as 0.
func Count(docs []any, expr string) int {
	e, err := Parse(expr)
	if err != nil || e.RequireAtMostOneFanOut() != nil {
		return 0
	}
	return e.Count(docs)
}

// Average returns the arithmetic mean of matched values coercible to finite numbers.
// Non-numeric matches are skipped. Returns ErrNoNumericValues if none remain.
func Average(docs []any, expr string) (float64, error) {
	e, err := Parse(expr)
	if err != nil {
		return 0, err
	}
	if err := e.RequireAtMostOneFanOut(); err != nil {
		return 0, err
	}
	return e.Average(docs)
}

// CountWhere counts records selected by rootExpr that satisfy condition.
// Malformed expressions or conditions count as 0.
func CountWhere(docs []any, rootExpr, condition string) int {
	e, err := Parse(rootExpr)
	if err != nil || e.RequireAtMostOneFanOut() != nil {
		return 0
	}
	cond, err := ParseCondition(condition)
	if err != nil {
		return 0
	}
	return e.CountWhere(docs, cond)
}

// Collect walks every document and returns all matched values without
// checking array-notation cardinality. Rule construction has already done so.
func (e Expression) Collect(docs []any, opts EvalOptions) []any {
	out := make([]any, 0, len(docs))
	for _, doc := range docs {
		out = collect(e.segments, doc, opts, out)
	}
	return out
}

// Resolve follows a fan-out-free expression to one value.
func (e Expression) Resolve(doc any) (any, bool) {
	if e.fanOuts > 0 {
		return nil, false
	}
	return resolve(e.segments, doc)
}

// Count returns the number of matched values across docs.
func (e Expression) Count(docs []any) int {
	total := 0
	for _, doc := range docs {
		total += len(collect(e.segments, doc, EvalOptions{}, nil))
	}
	return total
}

// Average computes the exact mean of numeric matches using decimal arithmetic,
// so that e.g. 85, 92 and 78 average to exactly 85.
func (e Expression) Average(docs []any) (float64, error) {
	sum, n := e.NumericSum(docs)
	if n == 0 {
		return 0, fmt.Errorf("%w: %s", types.ErrNoNumericValues, e.raw)
	}
	mean, _ := sum.Div(decimal.NewFromInt(n)).Float64()
	return mean, nil
}

// NumericSum returns the sum and number of matches coercible to a finite number.
func (e Expression) NumericSum(docs []any) (decimal.Decimal, int64) {
	sum := decimal.Zero
	n := int64(0)
	for _, v := range e.Collect(docs, EvalOptions{}) {
		f, err := CoerceNumber(v)
		if err != nil {
			continue
		}
		sum = sum.Add(decimal.NewFromFloat(f))
		n++
	}
	return sum, n
}

// CountWhere counts matching records. Without an array notation, a matched
// array contributes its elements as records; with one, each match is a record.
func (e Expression) CountWhere(docs []any, cond Condition) int {
	count := 0
	for _, match := range e.Collect(docs, EvalOptions{}) {
		if e.fanOuts == 0 {
			if records, ok := asSlice(match); ok {
				for _, record := range records {
					if cond.Matches(record) {
						count++
					}
				}
				continue
			}
		}
		if cond.Matches(match) {
			count++
		}
	}
	return count
}

// Unique drops values whose canonical serialization was already seen,
// keeping first-occurrence order.
func Unique(values []any) []any {
	seen := make(map[string]struct{}, len(values))
	out := make([]any, 0, len(values))
	for _, v := range values {
		key := CanonicalKey(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}
