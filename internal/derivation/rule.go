// internal/derivation/rule.go
package derivation

import (
	"fmt"
	"strings"

	"github.com/solatis/derivekeeper/internal/expression"
	"github.com/solatis/derivekeeper/internal/types"
)

/*
 * Derivation rules.
 *
 * A Rule maps a source expression to a target field through one operation.
 * Rules are immutable and only built through the constructors below, which
 * validate everything that can be validated before evaluation:
 *
 *   - target field and source expression must be non-blank
 *   - the source expression must parse
 *   - From/Unique sources carry exactly one array notation
 *   - Count/Average/CountWhere sources carry at most one
 *   - CountWhere conditions must parse
 *
 * Moving these checks to construction keeps evaluation-time failures to
 * resource governance only.
 *
 * Operation is a closed sum type: the unexported marker method keeps other
 * packages from adding variants, and the Aggregator switches over the five
 * concrete types.
 */

// Operation is the derivation applied to a rule's source expression.
type Operation interface {
	isOperation()
	// Name returns the canonical operation name.
	Name() string
}

// From collects every matched value.
type From struct{}

// Unique collects matched values de-duplicated by canonical serialization.
type Unique struct{}

// Count counts matched values.
type Count struct{}

// Average averages numeric matched values.
type Average struct{}

// CountWhere counts matched records satisfying Condition.
type CountWhere struct {
	Condition expression.Condition
}

func (From) isOperation()       {}
func (Unique) isOperation()     {}
func (Count) isOperation()      {}
func (Average) isOperation()    {}
func (CountWhere) isOperation() {}

func (From) Name() string       { return "from" }
func (Unique) Name() string     { return "unique" }
func (Count) Name() string      { return "count" }
func (Average) Name() string    { return "average" }
func (CountWhere) Name() string { return "countWhere" }

// Options are per-rule evaluation flags.
type Options struct {
	// Unique de-duplicates collected values (selects the Unique operation).
	Unique bool
	// Flatten splices array values one level into the collected sequence.
	Flatten bool
}

// Rule is an immutable derivation rule.
type Rule struct {
	source    expression.Expression
	target    string
	operation Operation
	options   Options
}

// NewRule creates a From rule, or a Unique rule when opts.Unique is set.
// The source expression must carry exactly one array notation.
func NewRule(sourceExpression, targetField string, opts Options) (*Rule, error) {
	source, target, err := validateInputs(sourceExpression, targetField)
	if err != nil {
		return nil, err
	}
	if err := source.RequireSingleFanOut(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidSourceExpression, err)
	}

	var op Operation = From{}
	if opts.Unique {
		op = Unique{}
	}
	return &Rule{source: source, target: target, operation: op, options: opts}, nil
}

// NewCountRule creates a rule writing the number of matched values to targetField.
func NewCountRule(sourceExpression, targetField string) (*Rule, error) {
	return newScalarRule(sourceExpression, targetField, Count{})
}

// NewAverageRule creates a rule writing the mean of numeric matches to targetField.
func NewAverageRule(sourceExpression, targetField string) (*Rule, error) {
	return newScalarRule(sourceExpression, targetField, Average{})
}

// NewCountWhereRule creates a rule counting records selected by sourceExpression
// that satisfy condition.
func NewCountWhereRule(sourceExpression, condition, targetField string) (*Rule, error) {
	cond, err := expression.ParseCondition(condition)
	if err != nil {
		return nil, err
	}
	return newScalarRule(sourceExpression, targetField, CountWhere{Condition: cond})
}

// newScalarRule validates inputs for operations that tolerate zero or one array notation.
func newScalarRule(sourceExpression, targetField string, op Operation) (*Rule, error) {
	source, target, err := validateInputs(sourceExpression, targetField)
	if err != nil {
		return nil, err
	}
	if err := source.RequireAtMostOneFanOut(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidSourceExpression, err)
	}
	return &Rule{source: source, target: target, operation: op}, nil
}

// validateInputs checks the fields shared by every constructor.
func validateInputs(sourceExpression, targetField string) (expression.Expression, string, error) {
	target := strings.TrimSpace(targetField)
	if target == "" {
		return expression.Expression{}, "", types.ErrInvalidTargetField
	}
	for _, part := range strings.Split(target, ".") {
		if part == "" {
			return expression.Expression{}, "", fmt.Errorf("%w: empty segment in %q", types.ErrInvalidTargetField, target)
		}
	}

	if strings.TrimSpace(sourceExpression) == "" {
		return expression.Expression{}, "", types.ErrInvalidSourceExpression
	}
	source, err := expression.Parse(sourceExpression)
	if err != nil {
		return expression.Expression{}, "", fmt.Errorf("%w: %v", types.ErrInvalidSourceExpression, err)
	}
	return source, target, nil
}

// SourceExpression returns the parsed source expression.
func (r *Rule) SourceExpression() expression.Expression {
	return r.source
}

// TargetField returns the dot-path the derived value is written to.
func (r *Rule) TargetField() string {
	return r.target
}

// TargetPath returns the target field split into segments.
func (r *Rule) TargetPath() []string {
	return strings.Split(r.target, ".")
}

// Operation returns the rule's operation.
func (r *Rule) Operation() Operation {
	return r.operation
}

// Options returns the rule's evaluation flags.
func (r *Rule) Options() Options {
	return r.options
}

// IsUnique reports whether collected values are de-duplicated.
func (r *Rule) IsUnique() bool {
	_, ok := r.operation.(Unique)
	return ok
}

// IsFlatten reports whether array values are flattened one level.
func (r *Rule) IsFlatten() bool {
	return r.options.Flatten
}

// OperationName returns the canonical description recorded for introspection:
// from, unique, count($.expr), average($.expr) or countWhere($.expr, cond).
func (r *Rule) OperationName() string {
	switch op := r.operation.(type) {
	case From, Unique:
		return op.Name()
	case Count, Average:
		return fmt.Sprintf("%s(%s)", op.Name(), r.source)
	case CountWhere:
		return fmt.Sprintf("%s(%s, %s)", op.Name(), r.source, op.Condition)
	default:
		return "unknown"
	}
}

func (r *Rule) String() string {
	return fmt.Sprintf("%s <- %s", r.target, r.OperationName())
}
