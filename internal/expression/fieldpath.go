// internal/expression/fieldpath.go
package expression

import (
	"github.com/solatis/derivekeeper/internal/document"
)

/*
 * Path traversal over document trees.
 *
 * Two walkers share the segment model:
 *   - collect: follows every branch through fan-out segments and appends
 *     each reached value (ALL semantics, source order then element order)
 *   - resolve: follows a fan-out-free path to a single value
 *
 * Missing keys, nil intermediates, out-of-range indices and scalars met
 * before the path is exhausted end the branch silently. Heterogeneous
 * document sets are the normal case, not an error.
 */

// EvalOptions tunes collection traversal.
type EvalOptions struct {
	// KeepMissing appends nil for a leaf key absent from an object that was
	// otherwise reached, so callers can tell "present but empty" branches apart.
	KeepMissing bool
}

// collect appends every value reachable from current along segs to out.
func collect(segs []Segment, current any, opts EvalOptions, out []any) []any {
	if len(segs) == 0 {
		return append(out, current)
	}

	seg := segs[0]
	remaining := segs[1:]

	switch seg.Kind {
	case SegmentKey:
		obj, ok := asObject(current)
		if !ok {
			return out
		}
		val, ok := obj[seg.Key]
		if !ok {
			if opts.KeepMissing && len(remaining) == 0 {
				return append(out, nil)
			}
			return out
		}
		return collect(remaining, val, opts, out)

	case SegmentIndex:
		arr, ok := asSlice(current)
		if !ok || seg.Index >= len(arr) {
			return out
		}
		return collect(remaining, arr[seg.Index], opts, out)

	case SegmentFanOut:
		arr, ok := asSlice(current)
		if !ok {
			return out
		}
		for _, elem := range arr {
			out = collect(remaining, elem, opts, out)
		}
		return out
	}

	return out
}

// resolve follows segs from current and returns the single value reached.
// The bool result is false when a segment cannot be followed.
func resolve(segs []Segment, current any) (any, bool) {
	for _, seg := range segs {
		switch seg.Kind {
		case SegmentKey:
			obj, ok := asObject(current)
			if !ok {
				return nil, false
			}
			val, ok := obj[seg.Key]
			if !ok {
				return nil, false
			}
			current = val
		case SegmentIndex:
			arr, ok := asSlice(current)
			if !ok || seg.Index >= len(arr) {
				return nil, false
			}
			current = arr[seg.Index]
		default:
			return nil, false
		}
	}
	return current, true
}

func asObject(v any) (map[string]any, bool) { return document.AsObject(v) }

func asSlice(v any) ([]any, bool) { return document.AsSlice(v) }
