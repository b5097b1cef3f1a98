// internal/expression/coercion.go
package expression

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/solatis/derivekeeper/internal/types"
)

/*
 * Numeric coercion for averaging and ordered comparisons.
 *
 * Strict mode: numbers of any Go width and numeric strings are accepted,
 * booleans are rejected so that true never averages as 1. Results must be
 * finite; NaN and Inf (including the strings "NaN"/"Inf") fail coercion.
 * Strings are trimmed first and whitespace-only strings are not numbers.
 */

// CoerceNumber converts value to a finite float64.
// Returns ErrCoercionFailed for nil, booleans, non-numeric strings and non-finite results.
func CoerceNumber(value any) (float64, error) {
	var f float64

	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int8:
		f = float64(v)
	case int16:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint:
		f = float64(v)
	case uint8:
		f = float64(v)
	case uint16:
		f = float64(v)
	case uint32:
		f = float64(v)
	case uint64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, types.ErrCoercionFailed
		}
		f = parsed
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, types.ErrCoercionFailed
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, types.ErrCoercionFailed
		}
		f = parsed
	default:
		// bool, nil, objects, arrays
		return 0, types.ErrCoercionFailed
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, types.ErrCoercionFailed
	}
	return f, nil
}

// isNumber reports whether value is a Go numeric type (strings excluded).
// Used by strict equality, where "5" and 5 differ.
func isNumber(value any) bool {
	switch value.(type) {
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return true
	default:
		return false
	}
}
