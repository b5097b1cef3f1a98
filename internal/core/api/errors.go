package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/solatis/derivekeeper/internal/types"
)

// Request validation errors are mapped inline in handlers as INVALID_ARGUMENT.
// Open circuit maps to UNAVAILABLE, other admission rejections to
// RESOURCE_EXHAUSTED. Strategy errors are caller mistakes: INVALID_ARGUMENT.
// Context errors map to DEADLINE_EXCEEDED or CANCELED.
func toStatus(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return status.FromContextError(err).Err()
	}

	var aggErr *types.AggregationError
	if errors.As(err, &aggErr) {
		switch aggErr.Kind {
		case types.FailureCircuitOpen:
			return status.Error(codes.Unavailable, aggErr.Error())
		case types.FailureEvaluation:
			return status.Error(codes.Internal, aggErr.Error())
		default:
			return status.Error(codes.ResourceExhausted, aggErr.Error())
		}
	}

	if types.StrategyErrorCodeOf(err) != "" {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	return status.Error(codes.Internal, err.Error())
}
