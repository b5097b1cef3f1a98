package expression

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// canonicalJSON sorts object keys so equal trees serialize identically.
var canonicalJSON = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// CanonicalKey returns a serialization of v under which structurally equal
// values compare equal. Values jsoniter cannot encode fall back to a typed
// %v rendering, which still separates distinct primitives.
func CanonicalKey(v any) string {
	b, err := canonicalJSON.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%T:%v", v, v)
	}
	return string(b)
}
