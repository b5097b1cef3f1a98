package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

/*
 * derivekeeper.v1.Aggregation carries google.protobuf.Struct in both
 * directions, so the service is described by hand instead of generated:
 *
 *   Aggregate     {documents, rules, base?, batchSize?}    -> {runId, derived, result, ...}
 *   Combine       {sources, strategy?, options?}           -> {runId, strategy, result}
 *   BreakerState  {}                                       -> {status, failures, metrics, ...}
 */

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "derivekeeper.v1.Aggregation"

const (
	methodAggregate    = "/" + ServiceName + "/Aggregate"
	methodCombine      = "/" + ServiceName + "/Combine"
	methodBreakerState = "/" + ServiceName + "/BreakerState"
)

// AggregationServer is the server API for the Aggregation service.
type AggregationServer interface {
	Aggregate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Combine(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BreakerState(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterAggregationServer registers srv on s.
func RegisterAggregationServer(s grpc.ServiceRegistrar, srv AggregationServer) {
	s.RegisterService(&aggregationServiceDesc, srv)
}

var aggregationServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AggregationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Aggregate", Handler: unaryHandler(methodAggregate, AggregationServer.Aggregate)},
		{MethodName: "Combine", Handler: unaryHandler(methodCombine, AggregationServer.Combine)},
		{MethodName: "BreakerState", Handler: unaryHandler(methodBreakerState, AggregationServer.BreakerState)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "derivekeeper/v1/aggregation.proto",
}

type unaryMethod func(AggregationServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AggregationServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AggregationServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// AggregationClient is the client API for the Aggregation service.
type AggregationClient struct {
	cc grpc.ClientConnInterface
}

// NewAggregationClient wraps a client connection.
func NewAggregationClient(cc grpc.ClientConnInterface) *AggregationClient {
	return &AggregationClient{cc: cc}
}

// Aggregate calls Aggregation.Aggregate.
func (c *AggregationClient) Aggregate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodAggregate, in, opts...)
}

// Combine calls Aggregation.Combine.
func (c *AggregationClient) Combine(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodCombine, in, opts...)
}

// BreakerState calls Aggregation.BreakerState.
func (c *AggregationClient) BreakerState(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodBreakerState, in, opts...)
}

func (c *AggregationClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
