// internal/expression/expression.go
package expression

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/solatis/derivekeeper/internal/types"
)

/*
 * Path expression parsing.
 *
 * Expressions use dot/bracket notation with an optional "$" root:
 *
 *   $.commands[].c1    fan out over commands, read c1 from each element
 *   tags[*]            same token, star form
 *   items[0].name      fixed index
 *   $                  the document itself
 *   $ref               a key named "$ref"; "$" is the root only alone or before "." or "["
 *
 * A segment ending in [] or [*] is the array-notation token. Collection
 * evaluation requires exactly one; counting and averaging accept zero or one.
 * Cardinality is checked by the caller because the rule differs per entry
 * point, parsing only rejects syntax errors and depth beyond MaxPathDepth.
 */

// SegmentKind distinguishes object keys, fixed indices and fan-out points.
type SegmentKind int

const (
	SegmentKey SegmentKind = iota
	SegmentIndex
	SegmentFanOut
)

// Segment is one step of a parsed expression.
type Segment struct {
	Key   string // object key (SegmentKey only)
	Index int    // array index (SegmentIndex only)
	Kind  SegmentKind
}

// Expression is an immutable parsed path expression.
type Expression struct {
	raw      string
	segments []Segment
	fanOuts  int
}

// Parse validates expr and splits it into segments.
// Returns ErrInvalidExpression for empty input, empty segments, unbalanced
// brackets, non-numeric indices or paths deeper than MaxPathDepth.
func Parse(expr string) (Expression, error) {
	raw := strings.TrimSpace(expr)
	if raw == "" {
		return Expression{}, fmt.Errorf("%w: expression is empty", types.ErrInvalidExpression)
	}

	body := raw
	switch {
	case body == "$":
		return Expression{raw: raw}, nil
	case strings.HasPrefix(body, "$."):
		body = body[2:]
	case strings.HasPrefix(body, "$["):
		body = body[1:]
	}

	e := Expression{raw: raw}
	for _, part := range strings.Split(body, ".") {
		if part == "" {
			return Expression{}, fmt.Errorf("%w: empty segment in %q", types.ErrInvalidExpression, raw)
		}
		segs, err := parsePart(part)
		if err != nil {
			return Expression{}, fmt.Errorf("%w: %s in %q", types.ErrInvalidExpression, err.Error(), raw)
		}
		for _, seg := range segs {
			if seg.Kind == SegmentFanOut {
				e.fanOuts++
			}
		}
		e.segments = append(e.segments, segs...)
	}

	if len(e.segments) > types.MaxPathDepth {
		return Expression{}, fmt.Errorf("%w: path exceeds maximum depth of %d", types.ErrInvalidExpression, types.MaxPathDepth)
	}

	return e, nil
}

// MustParse is Parse for expressions known valid at compile time. Panics on error.
func MustParse(expr string) Expression {
	e, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return e
}

// parsePart splits one dot-separated part into a key segment plus bracket suffixes.
func parsePart(part string) ([]Segment, error) {
	var segs []Segment

	name := part
	rest := ""
	if i := strings.IndexByte(part, '['); i >= 0 {
		name = part[:i]
		rest = part[i:]
	}
	if strings.ContainsAny(name, "]") {
		return nil, fmt.Errorf("unbalanced bracket in segment %q", part)
	}
	if name != "" {
		segs = append(segs, Segment{Key: name, Kind: SegmentKey})
	}

	for rest != "" {
		if rest[0] != '[' {
			return nil, fmt.Errorf("unexpected text %q after bracket", rest)
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, fmt.Errorf("unbalanced bracket in segment %q", part)
		}
		inner := strings.TrimSpace(rest[1:end])
		switch inner {
		case "", "*":
			segs = append(segs, Segment{Kind: SegmentFanOut})
		default:
			idx, err := strconv.Atoi(inner)
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("invalid index %q", inner)
			}
			segs = append(segs, Segment{Index: idx, Kind: SegmentIndex})
		}
		rest = rest[end+1:]
	}

	if len(segs) == 0 {
		return nil, fmt.Errorf("empty segment")
	}
	return segs, nil
}

// String returns the expression as written.
func (e Expression) String() string {
	return e.raw
}

// Segments returns a copy of the parsed segments.
func (e Expression) Segments() []Segment {
	out := make([]Segment, len(e.segments))
	copy(out, e.segments)
	return out
}

// ArrayNotationCount returns the number of [] / [*] tokens.
func (e Expression) ArrayNotationCount() int {
	return e.fanOuts
}

// IsRoot reports whether the expression selects the document itself.
func (e Expression) IsRoot() bool {
	return len(e.segments) == 0
}

// RequireSingleFanOut enforces the collection-evaluation cardinality rule.
func (e Expression) RequireSingleFanOut() error {
	switch {
	case e.fanOuts == 0:
		return fmt.Errorf("%w: missing array notation ([] or [*]) in %q", types.ErrInvalidExpression, e.raw)
	case e.fanOuts > types.MaxArrayNotations:
		return fmt.Errorf("%w: more than one array notation in %q", types.ErrInvalidExpression, e.raw)
	}
	return nil
}

// RequireAtMostOneFanOut enforces the counting/averaging cardinality rule.
func (e Expression) RequireAtMostOneFanOut() error {
	if e.fanOuts > types.MaxArrayNotations {
		return fmt.Errorf("%w: more than one array notation in %q", types.ErrInvalidExpression, e.raw)
	}
	return nil
}
