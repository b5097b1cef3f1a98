package api

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/derivekeeper/internal/aggregator"
	"github.com/solatis/derivekeeper/internal/core/runs"
	"github.com/solatis/derivekeeper/internal/document"
	"github.com/solatis/derivekeeper/internal/ruleset"
	"github.com/solatis/derivekeeper/internal/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Aggregate evaluates a rule set over the request documents.
//
// Request:  {documents: [...], rules: {skipNull, skipUndefined, rules: [...]}, base?: {...}, batchSize?: n}
// Response: {runId, derived, result, rulesApplied, documentCount, batches, elapsedMs}
func (s *Service) Aggregate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in := req.AsMap()

	docs, ok := document.AsSlice(in["documents"])
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "documents must be an array")
	}
	if s.maxDocuments > 0 && len(docs) > s.maxDocuments {
		return nil, status.Errorf(codes.InvalidArgument, "request exceeds maximum of %d documents", s.maxDocuments)
	}

	rs, err := parseRuleSet(in["rules"])
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	ruleCtx, err := rs.Build()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	var base map[string]any
	if raw, present := in["base"]; present && raw != nil {
		if base, ok = document.AsObject(raw); !ok {
			return nil, status.Error(codes.InvalidArgument, "base must be an object")
		}
	}

	batchSize := len(docs)
	if raw, present := in["batchSize"]; present {
		n, ok := raw.(float64)
		if !ok || n < 1 || n != float64(int(n)) {
			return nil, status.Error(codes.InvalidArgument, "batchSize must be a positive integer")
		}
		batchSize = int(n)
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, status.FromContextError(err).Err()
	}
	started := s.now()
	outcome, aggErr := s.aggregator.AggregateInBatches(docs, ruleCtx, base, batchSize)
	release()

	run := &runs.Run{
		ID:               types.NewRunID(),
		Kind:             runs.KindAggregate,
		Status:           runs.StatusFor(aggErr),
		StartedAtMs:      started.UnixMilli(),
		DocumentCount:    len(docs),
		RuleCount:        ruleCtx.Len(),
		ProcessingMs:     s.now().Sub(started).Milliseconds(),
		RulesFingerprint: rs.Fingerprint,
		ErrorKind:        runs.ErrorKindFor(aggErr),
	}

	if aggErr != nil {
		run.ErrorMessage = aggErr.Error()
		s.record(ctx, run, nil)
		s.logger.Info("aggregate failed", zap.String("run_id", string(run.ID)), zap.Error(aggErr))
		return nil, toStatus(aggErr)
	}

	derived := outcome.DerivedFields()
	merged, err := aggregator.MergeWithBase(outcome)
	if err != nil {
		return nil, toStatus(err)
	}
	s.record(ctx, run, derived)

	resp, err := structpb.NewStruct(map[string]any{
		"runId":         string(run.ID),
		"derived":       derived,
		"result":        merged,
		"rulesApplied":  outcome.RulesApplied,
		"documentCount": outcome.DocumentCount,
		"batches":       outcome.Batches,
		"elapsedMs":     outcome.Elapsed.Milliseconds(),
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return resp, nil
}

// parseRuleSet reads the rules field, which has the rule-set document shape.
func parseRuleSet(raw any) (*ruleset.RuleSet, error) {
	if _, ok := document.AsObject(raw); !ok {
		return nil, fmt.Errorf("rules must be an object")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rules: %w", err)
	}
	return ruleset.Parse(data)
}
