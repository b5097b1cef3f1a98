// internal/expression/condition.go
package expression

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/solatis/derivekeeper/internal/types"
)

/*
 * countWhere condition grammar.
 *
 *   condition := field-path operator literal
 *   operator  := "===" | "!==" | "==" | "!=" | ">" | ">=" | "<" | "<="
 *   literal   := 'text' | "text" | true | false | null | number
 *
 * "==" and "!=" are accepted as aliases of the strict forms. Equality is
 * strict: a string literal only matches a string value, a number literal
 * only matches a numeric value. Ordered operators need a numeric literal and
 * coerce the record value with CoerceNumber, so "3" > 2 holds.
 *
 * A record that is not an object, or lacks the field, never matches, for
 * "!==" as well. The grammar is deliberately small: one field, one operator,
 * one literal, no boolean connectives.
 */

// Operator is a countWhere comparison operator.
type Operator int

const (
	OpEq Operator = iota
	OpNeq
	OpGt
	OpGte
	OpLt
	OpLte
)

// operatorTokens is ordered longest-first so "===" wins over "==" and ">=" over ">".
var operatorTokens = []struct {
	token string
	op    Operator
}{
	{"===", OpEq},
	{"!==", OpNeq},
	{">=", OpGte},
	{"<=", OpLte},
	{"==", OpEq},
	{"!=", OpNeq},
	{">", OpGt},
	{"<", OpLt},
}

func (op Operator) String() string {
	switch op {
	case OpEq:
		return "==="
	case OpNeq:
		return "!=="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	default:
		return "?"
	}
}

// Condition is a parsed countWhere predicate on a single record field.
type Condition struct {
	raw     string
	field   []Segment
	op      Operator
	literal any
}

// ParseCondition parses a condition string.
// Returns ErrInvalidCondition when the text falls outside the grammar.
func ParseCondition(condition string) (Condition, error) {
	raw := strings.TrimSpace(condition)
	if raw == "" {
		return Condition{}, fmt.Errorf("%w: condition is empty", types.ErrInvalidCondition)
	}

	pos, token, op, found := findOperator(raw)
	if !found {
		return Condition{}, fmt.Errorf("%w: no operator in %q", types.ErrInvalidCondition, raw)
	}

	fieldText := strings.TrimSpace(raw[:pos])
	literalText := strings.TrimSpace(raw[pos+len(token):])
	if fieldText == "" || literalText == "" {
		return Condition{}, fmt.Errorf("%w: missing operand in %q", types.ErrInvalidCondition, raw)
	}

	field, err := Parse(fieldText)
	if err != nil {
		return Condition{}, fmt.Errorf("%w: field %q: %v", types.ErrInvalidCondition, fieldText, err)
	}
	if field.ArrayNotationCount() > 0 || field.IsRoot() {
		return Condition{}, fmt.Errorf("%w: field must name a single record field in %q", types.ErrInvalidCondition, raw)
	}

	literal, err := parseLiteral(literalText)
	if err != nil {
		return Condition{}, fmt.Errorf("%w: %v in %q", types.ErrInvalidCondition, err, raw)
	}

	if op != OpEq && op != OpNeq {
		if _, ok := literal.(float64); !ok {
			return Condition{}, fmt.Errorf("%w: operator %s needs a numeric literal in %q", types.ErrInvalidCondition, op, raw)
		}
	}

	return Condition{
		raw:     raw,
		field:   field.segments,
		op:      op,
		literal: literal,
	}, nil
}

// findOperator returns the position of the first operator token outside quotes.
func findOperator(s string) (int, string, Operator, bool) {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		if c == '\'' || c == '"' {
			quote = c
			continue
		}
		for _, candidate := range operatorTokens {
			if strings.HasPrefix(s[i:], candidate.token) {
				return i, candidate.token, candidate.op, true
			}
		}
	}
	return 0, "", 0, false
}

// parseLiteral reads a quoted string, boolean, null or number literal.
func parseLiteral(s string) (any, error) {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') {
		if s[len(s)-1] != s[0] {
			return nil, fmt.Errorf("unterminated string literal %s", s)
		}
		inner := s[1 : len(s)-1]
		if strings.IndexByte(inner, s[0]) >= 0 {
			return nil, fmt.Errorf("unexpected quote inside literal %s", s)
		}
		return inner, nil
	}

	switch s {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("unsupported literal %s", s)
	}
	return f, nil
}

// String returns the condition as written.
func (c Condition) String() string {
	return c.raw
}

// Matches reports whether record satisfies the condition.
func (c Condition) Matches(record any) bool {
	if _, ok := asObject(record); !ok {
		return false
	}
	value, found := resolve(c.field, record)
	if !found {
		return false
	}
	return Compare(c.op, value, c.literal)
}

// Compare applies op to a record value and a parsed literal.
func Compare(op Operator, value, literal any) bool {
	switch op {
	case OpEq:
		return strictEqual(value, literal)
	case OpNeq:
		return !strictEqual(value, literal)
	case OpGt:
		return compareNumeric(value, literal, func(a, b float64) bool { return a > b })
	case OpGte:
		return compareNumeric(value, literal, func(a, b float64) bool { return a >= b })
	case OpLt:
		return compareNumeric(value, literal, func(a, b float64) bool { return a < b })
	case OpLte:
		return compareNumeric(value, literal, func(a, b float64) bool { return a <= b })
	default:
		return false
	}
}

// strictEqual compares without cross-type coercion, except across numeric widths.
func strictEqual(value, literal any) bool {
	switch lit := literal.(type) {
	case nil:
		return value == nil
	case string:
		s, ok := value.(string)
		return ok && s == lit
	case bool:
		b, ok := value.(bool)
		return ok && b == lit
	case float64:
		if !isNumber(value) {
			return false
		}
		n, err := CoerceNumber(value)
		return err == nil && n == lit
	default:
		return false
	}
}

// compareNumeric coerces value to a number and applies cmp against the literal.
// Non-numeric values never satisfy an ordered comparison.
func compareNumeric(value, literal any, cmp func(a, b float64) bool) bool {
	lit, ok := literal.(float64)
	if !ok {
		return false
	}
	n, err := CoerceNumber(value)
	if err != nil {
		return false
	}
	return cmp(n, lit)
}
