package aggregator

import (
	"errors"
	"time"

	"github.com/solatis/derivekeeper/internal/document"
)

// ErrNilOutcome is returned by MergeWithBase when given no outcome.
var ErrNilOutcome = errors.New("aggregation outcome is nil")

// Outcome is the terminal result of one Aggregate call.
type Outcome struct {
	derived map[string]any
	base    map[string]any

	RulesApplied  int
	DocumentCount int
	Batches       int
	Elapsed       time.Duration
}

// DerivedFields returns a copy of the derived field tree.
func (o *Outcome) DerivedFields() map[string]any {
	return document.CloneMap(o.derived)
}

// BaseData returns a copy of the base document captured at aggregation time,
// or nil when none was supplied.
func (o *Outcome) BaseData() map[string]any {
	return document.CloneMap(o.base)
}

// MergeWithBase overlays the derived fields on the base snapshot.
// The merge is shallow: a derived top-level key replaces the base key.
func MergeWithBase(outcome *Outcome) (map[string]any, error) {
	if outcome == nil {
		return nil, ErrNilOutcome
	}
	merged := make(map[string]any, len(outcome.base)+len(outcome.derived))
	for k, v := range outcome.base {
		merged[k] = document.Clone(v)
	}
	for k, v := range outcome.derived {
		merged[k] = document.Clone(v)
	}
	return merged, nil
}

// setPath writes value at the dot-path segments, creating or replacing
// intermediate objects as needed.
func setPath(root map[string]any, path []string, value any) {
	current := root
	for _, key := range path[:len(path)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[key] = next
		}
		current = next
	}
	current[path[len(path)-1]] = value
}
