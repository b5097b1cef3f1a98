package expression

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/solatis/derivekeeper/internal/types"
)

// decodeDocs unmarshals a JSON array literal into a document collection.
func decodeDocs(t *testing.T, data string) []any {
	t.Helper()
	var docs []any
	if err := json.Unmarshal([]byte(data), &docs); err != nil {
		t.Fatalf("invalid test fixture: %v", err)
	}
	return docs
}

const commandDocs = `[
	{"commands": [{"c1": "meta"}, {"c1": "spec"}]},
	{"commands": [{"c1": "git"}, {"c1": "meta"}]}
]`

func TestEvaluate_Normal(t *testing.T) {
	tests := []struct {
		name     string
		docs     string
		expr     string
		expected []any
	}{
		{
			name:     "fan out then key",
			docs:     commandDocs,
			expr:     "commands[].c1",
			expected: []any{"meta", "spec", "git", "meta"},
		},
		{
			name:     "root prefix and star token",
			docs:     commandDocs,
			expr:     "$.commands[*].c1",
			expected: []any{"meta", "spec", "git", "meta"},
		},
		{
			name:     "fan out at leaf",
			docs:     `[{"tags": ["a", "b"]}, {"tags": ["c"]}]`,
			expr:     "$.tags[]",
			expected: []any{"a", "b", "c"},
		},
		{
			name:     "dollar-prefixed key",
			docs:     `[{"$ref": ["#/a", "#/b"]}, {"$ref": ["#/c"]}]`,
			expr:     "$ref[]",
			expected: []any{"#/a", "#/b", "#/c"},
		},
		{
			name:     "missing key in one document",
			docs:     `[{"tags": ["a"]}, {"other": true}, {"tags": null}]`,
			expr:     "tags[]",
			expected: []any{"a"},
		},
		{
			name:     "non-array at fan-out point",
			docs:     `[{"tags": "a"}, {"tags": {"x": 1}}]`,
			expr:     "tags[]",
			expected: []any{},
		},
		{
			name:     "nested fan out with missing leaf",
			docs:     `[{"a": {"items": [{"v": 1}, {"w": 2}, {"v": null}]}}]`,
			expr:     "a.items[].v",
			expected: []any{float64(1), nil},
		},
		{
			name:     "fixed index before fan out",
			docs:     `[{"groups": [{"members": ["x", "y"]}, {"members": ["z"]}]}]`,
			expr:     "groups[0].members[]",
			expected: []any{"x", "y"},
		},
		{
			name:     "document collection itself",
			docs:     `[[1, 2], [3]]`,
			expr:     "$[]",
			expected: []any{float64(1), float64(2), float64(3)},
		},
		{
			name:     "composite leaf values preserved",
			docs:     `[{"items": [{"tags": ["a"]}, {"tags": ["b", "c"]}]}]`,
			expr:     "items[].tags",
			expected: []any{[]any{"a"}, []any{"b", "c"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(decodeDocs(t, tt.docs), tt.expr)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Evaluate() = %#v, expected %#v", got, tt.expected)
			}
		})
	}
}

func TestEvaluate_Cardinality(t *testing.T) {
	docs := decodeDocs(t, commandDocs)

	tests := []struct {
		name    string
		expr    string
		message string
	}{
		{name: "no array notation", expr: "commands.c1", message: "missing array notation"},
		{name: "two array notations", expr: "commands[].c1[]", message: "more than one array notation"},
		{name: "empty expression", expr: "  ", message: "empty"},
		{name: "empty segment", expr: "commands..c1", message: "empty segment"},
		{name: "unbalanced bracket", expr: "commands[.c1", message: "unbalanced"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Evaluate(docs, tt.expr)
			if !errors.Is(err, types.ErrInvalidExpression) {
				t.Fatalf("Evaluate() error = %v, want ErrInvalidExpression", err)
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Errorf("Evaluate() error = %q, want it to mention %q", err.Error(), tt.message)
			}
		})
	}
}

func TestEvaluateUnique(t *testing.T) {
	got, err := EvaluateUnique(decodeDocs(t, commandDocs), "commands[].c1")
	if err != nil {
		t.Fatalf("EvaluateUnique() error = %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("len(EvaluateUnique()) = %d, want 3 (%v)", len(got), got)
	}
	want := map[string]bool{"meta": true, "spec": true, "git": true}
	for _, v := range got {
		s, ok := v.(string)
		if !ok || !want[s] {
			t.Errorf("unexpected value %v", v)
		}
		delete(want, s)
	}
	if len(want) != 0 {
		t.Errorf("missing values %v", want)
	}
}

func TestEvaluateUnique_CompositeValues(t *testing.T) {
	docs := decodeDocs(t, `[
		{"people": [{"name": "a", "age": 1}, {"age": 1, "name": "a"}]},
		{"people": [{"name": "b", "age": 1}, [1, 2], [1, 2], 1, "1"]}
	]`)

	got, err := EvaluateUnique(docs, "people[]")
	if err != nil {
		t.Fatalf("EvaluateUnique() error = %v", err)
	}
	// {"name":"a","age":1} twice (key order irrelevant), [1,2] twice, 1 and "1" distinct
	if len(got) != 5 {
		t.Errorf("len(EvaluateUnique()) = %d, want 5 (%v)", len(got), got)
	}
}

func TestEvaluatePath(t *testing.T) {
	doc := map[string]any{
		"a": map[string]any{
			"b":    map[string]any{"c": "deep"},
			"null": nil,
			"list": []any{"x", map[string]any{"y": 2}},
		},
		"scalar": 5,
	}

	tests := []struct {
		name     string
		path     string
		expected any
		wantErr  error
	}{
		{name: "nested object", path: "a.b.c", expected: "deep"},
		{name: "root prefix", path: "$.a.b.c", expected: "deep"},
		{name: "present null leaf", path: "a.null", expected: nil},
		{name: "index into array", path: "a.list[1].y", expected: 2},
		{name: "absent final key", path: "a.b.missing", wantErr: types.ErrPathNotFound},
		{name: "through null", path: "a.null.x", wantErr: types.ErrPathNotFound},
		{name: "through scalar", path: "scalar.x", wantErr: types.ErrPathNotFound},
		{name: "index out of range", path: "a.list[5]", wantErr: types.ErrPathNotFound},
		{name: "array notation rejected", path: "a.list[]", wantErr: types.ErrInvalidExpression},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvaluatePath(doc, tt.path)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("EvaluatePath() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("EvaluatePath() unexpected error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("EvaluatePath() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestCount(t *testing.T) {
	docs := decodeDocs(t, `[
		{"tags": ["a", "b", "c"], "score": 85},
		{"tags": ["d", "e", "f"], "score": 92},
		{"tags": ["g", "h", "i"], "score": 78}
	]`)

	tests := []struct {
		name     string
		expr     string
		expected int
	}{
		{name: "fan out", expr: "$.tags[]", expected: 9},
		{name: "no fan out", expr: "$.score", expected: 3},
		{name: "missing field", expr: "$.missing", expected: 0},
		{name: "malformed degrades to zero", expr: "$..tags", expected: 0},
		{name: "two fan outs degrade to zero", expr: "$.tags[][]", expected: 0},
		{name: "root counts documents", expr: "$", expected: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Count(docs, tt.expr); got != tt.expected {
				t.Errorf("Count() = %d, expected %d", got, tt.expected)
			}
		})
	}
}

func TestAverage(t *testing.T) {
	tests := []struct {
		name     string
		docs     string
		expr     string
		expected float64
		wantErr  error
	}{
		{name: "exact mean", docs: `[{"score": 85}, {"score": 92}, {"score": 78}]`, expr: "$.score", expected: 85},
		{name: "numeric strings", docs: `[{"score": "10"}, {"score": " 20 "}]`, expr: "$.score", expected: 15},
		{name: "non-numeric skipped", docs: `[{"score": 4}, {"score": "abc"}, {"score": true}, {"score": null}]`, expr: "$.score", expected: 4},
		{name: "fan out", docs: `[{"s": [1, 2]}, {"s": [3, 4, 5]}]`, expr: "s[]", expected: 3},
		{name: "no numeric values", docs: `[{"score": "abc"}]`, expr: "$.score", wantErr: types.ErrNoNumericValues},
		{name: "nothing matched", docs: `[{}]`, expr: "$.score", wantErr: types.ErrNoNumericValues},
		{name: "malformed", docs: `[{}]`, expr: "$.a[][]", wantErr: types.ErrInvalidExpression},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Average(decodeDocs(t, tt.docs), tt.expr)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Average() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Average() unexpected error = %v", err)
			}
			if got != tt.expected {
				t.Errorf("Average() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestCountWhere(t *testing.T) {
	records := decodeDocs(t, `[{"priority": 1}, {"priority": 3}, {"priority": 5}, {"priority": 2}]`)

	if got := CountWhere(records, "$", "priority > 2"); got != 2 {
		t.Errorf("CountWhere(priority > 2) = %d, want 2", got)
	}

	nested := decodeDocs(t, `[
		{"tasks": [{"status": "done", "ok": true, "p": "4"}, {"status": "open", "ok": false}, null, "x"]},
		{"tasks": [{"status": "done", "p": 1}, {"p": 9}]},
		{"tasks": "not-a-list"}
	]`)

	tests := []struct {
		name      string
		root      string
		condition string
		expected  int
	}{
		{name: "string equality", root: "$.tasks[]", condition: "status === 'done'", expected: 2},
		{name: "double quotes", root: "$.tasks[]", condition: `status === "open"`, expected: 1},
		{name: "inequality skips missing field", root: "$.tasks[]", condition: "status !== 'done'", expected: 1},
		{name: "boolean literal", root: "$.tasks[]", condition: "ok === true", expected: 1},
		{name: "numeric string coerced for ordering", root: "$.tasks[]", condition: "p >= 4", expected: 2},
		{name: "less than", root: "$.tasks[]", condition: "p < 2", expected: 1},
		{name: "array without notation yields records", root: "$.tasks", condition: "status === 'done'", expected: 2},
		{name: "loose alias", root: "$.tasks[]", condition: "status == 'done'", expected: 2},
		{name: "malformed condition", root: "$.tasks[]", condition: "status ~ 'done'", expected: 0},
		{name: "ordered op with string literal", root: "$.tasks[]", condition: "status > 'a'", expected: 0},
		{name: "unquoted literal", root: "$.tasks[]", condition: "status === done", expected: 0},
		{name: "malformed root", root: "$.tasks[][]", condition: "p > 1", expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountWhere(nested, tt.root, tt.condition); got != tt.expected {
				t.Errorf("CountWhere() = %d, expected %d", got, tt.expected)
			}
		})
	}
}

// Property-based test: unique results never outnumber full results
func TestEvaluate_PropertyUniqueBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("|evaluateUnique| <= |evaluate|", prop.ForAll(
		func(values []int, split int) bool {
			docs := make([]any, 0, 2)
			items := make([]any, 0, len(values))
			for _, v := range values {
				items = append(items, map[string]any{"v": v % 7})
			}
			if split > len(items) {
				split = len(items)
			}
			docs = append(docs, map[string]any{"items": items[:split]}, map[string]any{"items": items[split:]})

			all, err1 := Evaluate(docs, "items[].v")
			unique, err2 := EvaluateUnique(docs, "items[].v")
			if err1 != nil || err2 != nil {
				return false
			}
			return len(unique) <= len(all) && len(all) == len(values)
		},
		gen.SliceOf(gen.IntRange(-50, 50)),
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}

// Property-based test: total operations never panic on arbitrary expressions
func TestCount_PropertyNeverPanics(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	docs := []any{
		map[string]any{"a": []any{map[string]any{"b": 1}}, "c": nil},
		"scalar",
		nil,
	}

	properties.Property("count and countWhere are total", prop.ForAll(
		func(expr string, cond string) bool {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("panic for expr=%q cond=%q: %v", expr, cond, r)
				}
			}()
			_ = Count(docs, expr)
			_ = CountWhere(docs, expr, cond)
			return Count(docs, expr) >= 0
		},
		gen.OneConstOf("$", "a[].b", "a[0].b", "c.d[]", "[]", "$[]", "a[*]", "a]", "a[x]", "", "a[][]"),
		gen.OneConstOf("b > 0", "b === 'x'", "b", "> 1", "b >=", "b !== null", "'b' === 1"),
	))

	properties.TestingRun(t)
}
