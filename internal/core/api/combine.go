package api

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/derivekeeper/internal/breaker"
	"github.com/solatis/derivekeeper/internal/core/runs"
	"github.com/solatis/derivekeeper/internal/document"
	"github.com/solatis/derivekeeper/internal/strategy"
	"github.com/solatis/derivekeeper/internal/types"
)

// Combine merges sources with a named strategy, or the auto-selected one
// when strategy is omitted.
//
// Request:  {sources: [...], strategy?: "merge", options?: {arrayKey, includeMetadata, conflictResolution, deepMerge, preserveArrays}}
// Response: {runId, strategy, result}
func (s *Service) Combine(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in := req.AsMap()

	sources, ok := document.AsSlice(in["sources"])
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "sources must be an array")
	}
	if s.maxDocuments > 0 && len(sources) > s.maxDocuments {
		return nil, status.Errorf(codes.InvalidArgument, "request exceeds maximum of %d sources", s.maxDocuments)
	}

	name, _ := in["strategy"].(string)
	if name == "" {
		name = s.strategies.SelectBestStrategy(sources)
	}

	var opts *strategy.Options
	if raw, present := in["options"]; present && raw != nil {
		overrides, ok := document.AsObject(raw)
		if !ok {
			return nil, status.Error(codes.InvalidArgument, "options must be an object")
		}
		defaults, err := s.strategies.GetStrategyConfiguration(name)
		if err != nil {
			return nil, toStatus(err)
		}
		resolved, err := applyOptions(defaults, overrides)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		opts = &resolved
	}

	started := s.now()
	result, err := s.strategies.Aggregate(sources, name, opts)

	run := &runs.Run{
		ID:            types.NewRunID(),
		Kind:          runs.KindCombine,
		Status:        runs.StatusFor(err),
		StartedAtMs:   started.UnixMilli(),
		DocumentCount: len(sources),
		ProcessingMs:  s.now().Sub(started).Milliseconds(),
		ErrorKind:     runs.ErrorKindFor(err),
	}
	if err != nil {
		run.ErrorMessage = err.Error()
		s.record(ctx, run, nil)
		s.logger.Info("combine failed", zap.String("strategy", name), zap.Error(err))
		return nil, toStatus(err)
	}
	s.record(ctx, run, result)

	resp, err := structpb.NewStruct(map[string]any{
		"runId":    string(run.ID),
		"strategy": name,
		"result":   result,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return resp, nil
}

// applyOptions overlays request option fields on a strategy's defaults.
func applyOptions(opts strategy.Options, overrides map[string]any) (strategy.Options, error) {
	for key, raw := range overrides {
		switch key {
		case "arrayKey":
			v, ok := raw.(string)
			if !ok {
				return opts, fmt.Errorf("options.arrayKey must be a string")
			}
			opts.ArrayKey = v
		case "conflictResolution":
			v, ok := raw.(string)
			if !ok {
				return opts, fmt.Errorf("options.conflictResolution must be a string")
			}
			opts.ConflictResolution = strategy.ConflictResolution(v)
		case "includeMetadata", "deepMerge", "preserveArrays":
			v, ok := raw.(bool)
			if !ok {
				return opts, fmt.Errorf("options.%s must be a boolean", key)
			}
			switch key {
			case "includeMetadata":
				opts.IncludeMetadata = v
			case "deepMerge":
				opts.DeepMerge = v
			default:
				opts.PreserveArrays = v
			}
		default:
			return opts, fmt.Errorf("unknown option %q", key)
		}
	}
	return opts, nil
}

// BreakerState reports the aggregator's circuit breaker snapshot.
func (s *Service) BreakerState(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, status.FromContextError(err).Err()
	}
	state := s.aggregator.Governor().State()
	release()

	resp, err := structpb.NewStruct(stateMap(state))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return resp, nil
}

func stateMap(state breaker.State) map[string]any {
	out := map[string]any{
		"status":   string(state.Status),
		"failures": int64(state.Failures),
		"metrics": map[string]any{
			"totalAttempts":         int64(state.Metrics.TotalAttempts),
			"successfulAttempts":    int64(state.Metrics.SuccessfulAttempts),
			"failedAttempts":        int64(state.Metrics.FailedAttempts),
			"rejectedAttempts":      int64(state.Metrics.RejectedAttempts),
			"averageProcessingTime": state.Metrics.AverageProcessingTime,
			"peakMemoryUsage":       state.Metrics.PeakMemoryUsage,
		},
	}
	if state.LastFailureTime != nil {
		out["lastFailureTime"] = state.LastFailureTime.UTC().Format(time.RFC3339Nano)
	}
	if state.LastSuccessTime != nil {
		out["lastSuccessTime"] = state.LastSuccessTime.UTC().Format(time.RFC3339Nano)
	}
	return out
}
