// internal/merge/merge.go
package merge

import (
	"errors"
	"fmt"
	"sort"

	"github.com/solatis/derivekeeper/internal/document"
	"github.com/solatis/derivekeeper/internal/expression"
	"github.com/solatis/derivekeeper/internal/types"
)

/*
 * Array merging across sources.
 *
 * Input validation is deliberately asymmetric: the outer value must be a
 * sequence (ErrNotAnArray otherwise), while non-array candidates inside it
 * are skipped. Sources pulled from partial documents are expected to be
 * ragged; a caller passing the wrong shape altogether is a bug.
 *
 * ItemCount is the sum of candidate lengths for both strategies, so it does
 * not change with FilterEmpty or Preserve.
 */

// Strategy selects how candidate arrays are combined.
type Strategy string

const (
	// Flatten concatenates candidates in source order.
	Flatten Strategy = "flatten"
	// Preserve keeps the array of arrays.
	Preserve Strategy = "preserve"
)

// Config tunes a merge.
type Config struct {
	Strategy Strategy
	// PreserveOrder keeps source order for flattened items. When false the
	// items are sorted by canonical serialization for a stable output.
	PreserveOrder bool
	// FilterEmpty drops empty candidates before flattening.
	FilterEmpty bool
}

// DefaultConfig flattens in source order and drops empty candidates.
func DefaultConfig() Config {
	return Config{Strategy: Flatten, PreserveOrder: true, FilterEmpty: true}
}

// Result is an immutable merge outcome.
type Result struct {
	data        []any
	SourceCount int
	ItemCount   int
}

// Data returns a deep copy of the merged array.
func (r *Result) Data() []any {
	return document.CloneSlice(r.data)
}

// Source is one origin contributing to MergeFromSources.
type Source struct {
	Data any
	// Path labels the origin, e.g. the file the document came from.
	Path string
}

// Merge combines the arrays held in sourceArrays.
func Merge(sourceArrays any, cfg Config) (*Result, error) {
	candidates, ok := document.AsSlice(sourceArrays)
	if !ok {
		return nil, fmt.Errorf("source arrays %w", types.ErrNotAnArray)
	}

	arrays := make([][]any, 0, len(candidates))
	items := 0
	for _, c := range candidates {
		arr, ok := document.AsSlice(c)
		if !ok {
			continue
		}
		arrays = append(arrays, arr)
		items += len(arr)
	}

	var data []any
	switch cfg.Strategy {
	case Flatten, "":
		data = flatten(arrays, cfg)
	case Preserve:
		data = make([]any, 0, len(arrays))
		for _, arr := range arrays {
			data = append(data, document.CloneSlice(arr))
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, cfg.Strategy)
	}

	return &Result{data: data, SourceCount: len(arrays), ItemCount: items}, nil
}

// ErrUnknownStrategy indicates a Config.Strategy other than Flatten or Preserve.
var ErrUnknownStrategy = errors.New("unknown merge strategy")

func flatten(arrays [][]any, cfg Config) []any {
	out := make([]any, 0)
	for _, arr := range arrays {
		if cfg.FilterEmpty && len(arr) == 0 {
			continue
		}
		for _, item := range arr {
			out = append(out, document.Clone(item))
		}
	}
	if !cfg.PreserveOrder {
		sort.SliceStable(out, func(i, j int) bool {
			return expression.CanonicalKey(out[i]) < expression.CanonicalKey(out[j])
		})
	}
	return out
}

// MergeFromSources resolves propertyPath in every source and merges the
// values found. A missing property contributes nothing; a non-array value
// is wrapped as a one-element array.
func MergeFromSources(sources []Source, propertyPath string, cfg Config) (*Result, error) {
	candidates := make([]any, 0, len(sources))
	for _, src := range sources {
		value, err := expression.EvaluatePath(src.Data, propertyPath)
		if err != nil {
			if errors.Is(err, types.ErrPathNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to resolve %q in %s: %w", propertyPath, sourceLabel(src), err)
		}
		if document.IsSlice(value) {
			candidates = append(candidates, value)
		} else {
			candidates = append(candidates, []any{value})
		}
	}
	return Merge(candidates, cfg)
}

func sourceLabel(src Source) string {
	if src.Path == "" {
		return "source"
	}
	return src.Path
}
