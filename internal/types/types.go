// Package types provides error types, identifiers and limits shared across
// derivekeeper components.
//
// Documents are plain JSON-compatible trees (map[string]any, []any, string,
// numbers, bool, nil) as produced by encoding/json or yaml.v3. No wrapper type
// is imposed on them; the evaluator walks them directly.
package types

// RunID identifies one aggregation run (UUIDv7 string).
type RunID string

// Limits enforced by the expression evaluator and the outer surfaces.
const (
	// MaxPathDepth prevents unbounded recursion on hostile expressions.
	// 16 levels covers deeply nested frontmatter without degradation.
	MaxPathDepth = 16

	// MaxArrayNotations is the number of fan-out points a collection expression may carry.
	MaxArrayNotations = 1

	// DefaultArrayKey is the wrapping key used by the array strategy.
	DefaultArrayKey = "documents"
)
