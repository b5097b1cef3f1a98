package expression

import (
	"errors"
	"strings"
	"testing"

	"github.com/solatis/derivekeeper/internal/types"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		expr     string
		segments []Segment
		fanOuts  int
	}{
		{
			name:     "root only",
			expr:     "$",
			segments: nil,
		},
		{
			name: "key path",
			expr: "$.a.b",
			segments: []Segment{
				{Key: "a", Kind: SegmentKey},
				{Key: "b", Kind: SegmentKey},
			},
		},
		{
			name: "fan out token",
			expr: "commands[].c1",
			segments: []Segment{
				{Key: "commands", Kind: SegmentKey},
				{Kind: SegmentFanOut},
				{Key: "c1", Kind: SegmentKey},
			},
			fanOuts: 1,
		},
		{
			name: "star token and index",
			expr: "rows[2].cells[*]",
			segments: []Segment{
				{Key: "rows", Kind: SegmentKey},
				{Index: 2, Kind: SegmentIndex},
				{Key: "cells", Kind: SegmentKey},
				{Kind: SegmentFanOut},
			},
			fanOuts: 1,
		},
		{
			name:     "dollar-prefixed key",
			expr:     "$ref[]",
			segments: []Segment{{Key: "$ref", Kind: SegmentKey}, {Kind: SegmentFanOut}},
			fanOuts:  1,
		},
		{
			name:     "dollar-prefixed key under root",
			expr:     "$.$defs.name",
			segments: []Segment{{Key: "$defs", Kind: SegmentKey}, {Key: "name", Kind: SegmentKey}},
		},
		{
			name:     "bare root fan out",
			expr:     "$[]",
			segments: []Segment{{Kind: SegmentFanOut}},
			fanOuts:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Parse(tt.expr)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if e.String() != tt.expr {
				t.Errorf("String() = %q, want %q", e.String(), tt.expr)
			}
			got := e.Segments()
			if len(got) != len(tt.segments) {
				t.Fatalf("len(Segments()) = %d, want %d", len(got), len(tt.segments))
			}
			for i := range got {
				if got[i] != tt.segments[i] {
					t.Errorf("Segments()[%d] = %+v, want %+v", i, got[i], tt.segments[i])
				}
			}
			if e.ArrayNotationCount() != tt.fanOuts {
				t.Errorf("ArrayNotationCount() = %d, want %d", e.ArrayNotationCount(), tt.fanOuts)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	deep := strings.Repeat("a.", types.MaxPathDepth) + "a"

	tests := []string{"", "$.", "a..b", "a[", "a]", "a[x]", "a[-1]", "a[]b", deep}
	for _, expr := range tests {
		t.Run(expr, func(t *testing.T) {
			if _, err := Parse(expr); !errors.Is(err, types.ErrInvalidExpression) {
				t.Errorf("Parse(%q) error = %v, want ErrInvalidExpression", expr, err)
			}
		})
	}
}

func TestParseCondition(t *testing.T) {
	tests := []struct {
		condition string
		wantErr   bool
	}{
		{condition: "priority > 2"},
		{condition: "priority>=2.5"},
		{condition: "meta.kind === 'spec'"},
		{condition: `done !== false`},
		{condition: "owner === null"},
		{condition: "title === 'a > b'"},
		{condition: "", wantErr: true},
		{condition: "priority", wantErr: true},
		{condition: "> 2", wantErr: true},
		{condition: "priority >", wantErr: true},
		{condition: "priority < 'x'", wantErr: true},
		{condition: "items[] === 'x'", wantErr: true},
		{condition: "$ === 'x'", wantErr: true},
		{condition: "name === 'unterminated", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.condition, func(t *testing.T) {
			_, err := ParseCondition(tt.condition)
			if tt.wantErr {
				if !errors.Is(err, types.ErrInvalidCondition) {
					t.Errorf("ParseCondition() error = %v, want ErrInvalidCondition", err)
				}
				return
			}
			if err != nil {
				t.Errorf("ParseCondition() unexpected error = %v", err)
			}
		})
	}
}

func TestCondition_QuotedOperatorInLiteral(t *testing.T) {
	cond, err := ParseCondition("title === 'a > b'")
	if err != nil {
		t.Fatalf("ParseCondition() error = %v", err)
	}
	if !cond.Matches(map[string]any{"title": "a > b"}) {
		t.Errorf("Matches() = false, want true")
	}
	if cond.Matches(map[string]any{"title": "a"}) {
		t.Errorf("Matches() = true, want false")
	}
}

func TestCompare_StrictEquality(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		literal any
		want    bool
	}{
		{name: "string vs string", value: "a", literal: "a", want: true},
		{name: "numeric string vs number", value: "5", literal: float64(5), want: false},
		{name: "int vs number", value: 5, literal: float64(5), want: true},
		{name: "bool vs bool", value: false, literal: false, want: true},
		{name: "bool vs string", value: true, literal: "true", want: false},
		{name: "nil vs null", value: nil, literal: nil, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(OpEq, tt.value, tt.literal); got != tt.want {
				t.Errorf("Compare(OpEq) = %v, want %v", got, tt.want)
			}
		})
	}
}
