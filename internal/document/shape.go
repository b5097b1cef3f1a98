// Package document holds helpers shared by every package that walks
// JSON-like document trees: shape checks, deep copies and decoding.
package document

import "reflect"

// AsObject returns v as a string-keyed map when it is one.
func AsObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// IsObject reports whether v is a string-keyed map.
func IsObject(v any) bool {
	_, ok := AsObject(v)
	return ok
}

// AsSlice returns v as []any. Typed slices built by Go callers are accepted
// through reflection; documents decoded from JSON/YAML take the fast path.
func AsSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		// []byte is a scalar payload, not a sequence
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// IsSlice reports whether v is a sequence.
func IsSlice(v any) bool {
	_, ok := AsSlice(v)
	return ok
}
