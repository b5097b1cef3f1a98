// internal/strategy/strategy.go
package strategy

import (
	"github.com/solatis/derivekeeper/internal/types"
)

/*
 * Whole-document combination strategies.
 *
 * Where the aggregator derives new fields from a collection, a Strategy
 * folds the collection itself into one document:
 *
 *   single  exactly one source, returned as is
 *   array   {<arrayKey>: [doc1..docN]} plus optional metadata
 *   merge   top-level fields folded under a conflict policy
 *
 * Strategies never alias their inputs: every returned value is a fresh tree.
 */

// ConflictResolution decides which value survives a key collision in merge.
type ConflictResolution string

const (
	FirstWins    ConflictResolution = "first-wins"
	LastWins     ConflictResolution = "last-wins"
	ArrayCombine ConflictResolution = "array-combine"
)

// Built-in strategy names.
const (
	NameSingle = "single"
	NameArray  = "array"
	NameMerge  = "merge"
)

// Options tune a strategy. Each strategy reads the fields it understands.
type Options struct {
	// ArrayKey is the field holding the documents in the array strategy.
	ArrayKey string
	// IncludeMetadata adds {metadata: {sourceCount, strategy}} to array results.
	IncludeMetadata bool
	// ConflictResolution is the merge collision policy.
	ConflictResolution ConflictResolution
	// DeepMerge applies the policy recursively to nested objects.
	DeepMerge bool
	// PreserveArrays concatenates same-named arrays instead of treating them as collisions.
	PreserveArrays bool
}

// DefaultOptions returns the options every built-in strategy starts from.
func DefaultOptions() Options {
	return Options{
		ArrayKey:           types.DefaultArrayKey,
		IncludeMetadata:    false,
		ConflictResolution: LastWins,
		DeepMerge:          true,
		PreserveArrays:     true,
	}
}

// Strategy combines source documents into one.
type Strategy interface {
	// Name is the registry key.
	Name() string
	// CanHandle reports whether the strategy accepts the shape of sources.
	CanHandle(sources []any) bool
	// Aggregate combines sources. Implementations must not alias sources.
	Aggregate(sources []any, opts Options) (any, error)
	// DefaultOptions returns the strategy's defaults.
	DefaultOptions() Options
	// ValidateOptions rejects options the strategy cannot honor.
	ValidateOptions(opts Options) error
}
