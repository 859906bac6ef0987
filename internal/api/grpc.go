package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"covercall/pkg/covercall"
)

// BacktestServer is the server API of the covercall.v1.Backtest service.
type BacktestServer interface {
	Run(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	ListRuns(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the covercall.v1.Backtest service. Its messages are
// google.protobuf.Struct values, so no generated code is needed.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: covercall.ServiceName,
	HandlerType: (*BacktestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: unaryHandler(covercall.MethodRun, BacktestServer.Run)},
		{MethodName: "GetRun", Handler: unaryHandler(covercall.MethodGetRun, BacktestServer.GetRun)},
		{MethodName: "ListRuns", Handler: unaryHandler(covercall.MethodListRuns, BacktestServer.ListRuns)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "covercall/v1/backtest.proto",
}

// RegisterBacktestServer registers srv on gs.
func RegisterBacktestServer(gs grpc.ServiceRegistrar, srv BacktestServer) {
	gs.RegisterService(&ServiceDesc, srv)
}

type unaryMethod func(BacktestServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BacktestServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BacktestServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
