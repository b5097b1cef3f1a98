package strategy

import (
	"sort"

	"github.com/solatis/derivekeeper/internal/document"
	"github.com/solatis/derivekeeper/internal/types"
)

// Merge folds the top-level fields of object sources into one object.
type Merge struct{}

// combined marks a value collected by ArrayCombine so later collisions
// append to it instead of nesting. finalize turns it back into []any.
type combined []any

func (Merge) Name() string { return NameMerge }

// CanHandle accepts one or more sources that are all objects.
func (Merge) CanHandle(sources []any) bool {
	if len(sources) == 0 {
		return false
	}
	for _, s := range sources {
		if !document.IsObject(s) {
			return false
		}
	}
	return true
}

func (m Merge) Aggregate(sources []any, opts Options) (any, error) {
	if len(sources) < 1 {
		return nil, types.NewStrategyError(types.CodeInvalidSourceCount,
			"merge strategy requires at least 1 source, got %d", len(sources))
	}
	if err := m.ValidateOptions(opts); err != nil {
		return nil, err
	}

	result := make(map[string]any)
	for i, s := range sources {
		obj, ok := document.AsObject(s)
		if !ok {
			return nil, types.NewStrategyError(types.CodeIncompatibleStrategy,
				"merge strategy requires object sources, source %d is %T", i, s)
		}
		mergeInto(result, obj, opts)
	}
	return finalize(result), nil
}

func (Merge) DefaultOptions() Options { return DefaultOptions() }

func (Merge) ValidateOptions(opts Options) error {
	switch opts.ConflictResolution {
	case FirstWins, LastWins, ArrayCombine:
		return nil
	default:
		return types.NewStrategyError(types.CodeInvalidConfiguration,
			"unknown conflict resolution %q", opts.ConflictResolution)
	}
}

// mergeInto folds src into dst. Keys are visited in sorted order so the
// result does not depend on map iteration.
func mergeInto(dst, src map[string]any, opts Options) {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		incoming := src[k]
		existing, present := dst[k]
		if !present {
			dst[k] = document.Clone(incoming)
			continue
		}

		if opts.DeepMerge {
			dstObj, dstIsObj := existing.(map[string]any)
			srcObj, srcIsObj := document.AsObject(incoming)
			if dstIsObj && srcIsObj {
				mergeInto(dstObj, srcObj, opts)
				continue
			}
		}

		if opts.PreserveArrays {
			dstArr, dstIsArr := existing.([]any)
			srcArr, srcIsArr := document.AsSlice(incoming)
			if dstIsArr && srcIsArr {
				dst[k] = append(dstArr, document.CloneSlice(srcArr)...)
				continue
			}
		}

		switch opts.ConflictResolution {
		case FirstWins:
		case ArrayCombine:
			if c, ok := existing.(combined); ok {
				dst[k] = append(c, document.Clone(incoming))
			} else {
				dst[k] = combined{existing, document.Clone(incoming)}
			}
		default:
			dst[k] = document.Clone(incoming)
		}
	}
}

func finalize(v any) any {
	switch t := v.(type) {
	case combined:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = finalize(e)
		}
		return out
	case map[string]any:
		for k, e := range t {
			t[k] = finalize(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = finalize(e)
		}
		return t
	default:
		return v
	}
}
