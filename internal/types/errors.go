package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for derivekeeper operations.
var (
	// ErrInvalidExpression indicates a malformed path expression or wrong array-notation cardinality.
	ErrInvalidExpression = errors.New("invalid expression")

	// ErrPathNotFound indicates a path could not be resolved against a document.
	ErrPathNotFound = errors.New("path not found")

	// ErrNoNumericValues indicates an average was requested over values with no numeric members.
	ErrNoNumericValues = errors.New("no numeric values found")

	// ErrInvalidCondition indicates a countWhere condition outside the supported grammar.
	ErrInvalidCondition = errors.New("invalid condition")

	// ErrInvalidTargetField indicates an empty derivation target field.
	ErrInvalidTargetField = errors.New("target field must not be empty")

	// ErrInvalidSourceExpression indicates an empty or unusable derivation source expression.
	ErrInvalidSourceExpression = errors.New("source expression must not be empty")

	// ErrConfiguration indicates a circuit breaker configuration with non-positive limits.
	ErrConfiguration = errors.New("invalid circuit breaker configuration")

	// ErrAggregationFailed is the root of every resource-governance and evaluation failure.
	ErrAggregationFailed = errors.New("aggregation failed")

	// ErrNotAnArray indicates array merge input that is not a list of arrays.
	ErrNotAnArray = errors.New("must be an array")

	// ErrCoercionFailed indicates a value could not be read as a finite number.
	ErrCoercionFailed = errors.New("type coercion failed")
)

// AggregationFailureKind tags which limit or condition rejected an aggregation.
type AggregationFailureKind string

const (
	FailureDatasetSize AggregationFailureKind = "dataset_size"
	FailureComplexity  AggregationFailureKind = "complexity"
	FailureMemory      AggregationFailureKind = "memory"
	FailureCircuitOpen AggregationFailureKind = "circuit_open"
	FailureEvaluation  AggregationFailureKind = "evaluation"
)

// AggregationError reports a rejected or failed aggregation.
// Unwraps to ErrAggregationFailed so callers can match with errors.Is.
type AggregationError struct {
	Kind    AggregationFailureKind
	Message string
	Err     error // underlying cause, nil for admission rejections
}

func (e *AggregationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AggregationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrAggregationFailed, e.Err}
	}
	return []error{ErrAggregationFailed}
}

// IsRejection reports whether err is an admission rejection (no work was attempted).
func IsRejection(err error) bool {
	var aggErr *AggregationError
	if !errors.As(err, &aggErr) {
		return false
	}
	return aggErr.Kind != FailureEvaluation
}

// StrategyErrorCode identifies a failure of the strategy registry or a strategy.
type StrategyErrorCode string

const (
	CodeInvalidSources       StrategyErrorCode = "INVALID_SOURCES"
	CodeEmptySources         StrategyErrorCode = "EMPTY_SOURCES"
	CodeUnknownStrategy      StrategyErrorCode = "UNKNOWN_STRATEGY"
	CodeIncompatibleStrategy StrategyErrorCode = "INCOMPATIBLE_STRATEGY"
	CodeInvalidStrategy      StrategyErrorCode = "INVALID_STRATEGY"
	CodeInvalidStrategyName  StrategyErrorCode = "INVALID_STRATEGY_NAME"
	CodeInvalidConfiguration StrategyErrorCode = "INVALID_CONFIGURATION"
	CodeInvalidSourceCount   StrategyErrorCode = "INVALID_SOURCE_COUNT"
)

// StrategyError carries a stable code alongside a human-readable message.
type StrategyError struct {
	Code    StrategyErrorCode
	Message string
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewStrategyError builds a StrategyError with a formatted message.
func NewStrategyError(code StrategyErrorCode, format string, args ...any) *StrategyError {
	return &StrategyError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// StrategyErrorCodeOf extracts the code from err, or "" if err is not a StrategyError.
func StrategyErrorCodeOf(err error) StrategyErrorCode {
	var se *StrategyError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
