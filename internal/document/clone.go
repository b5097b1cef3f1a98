package document

// Clone deep-copies maps and slices. Scalars are returned as is.
func Clone(v any) any {
	if obj, ok := AsObject(v); ok {
		return CloneMap(obj)
	}
	if arr, ok := AsSlice(v); ok {
		return CloneSlice(arr)
	}
	return v
}

// CloneMap deep-copies m. A nil map clones to nil.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Clone(v)
	}
	return out
}

// CloneSlice deep-copies s. A nil slice clones to nil.
func CloneSlice(s []any) []any {
	if s == nil {
		return nil
	}
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = Clone(v)
	}
	return out
}
