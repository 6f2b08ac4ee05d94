package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// KernelServiceName is the fully qualified gRPC service name.
const KernelServiceName = "procsched.v1.KernelService"

// KernelServiceServer is the server API of KernelService.
//
// Messages are protobuf well-known types: a pid travels as Int64Value,
// process snapshots and status as Struct, and multi-field requests
// (ChangeLevel, SetWeight) as a Struct with "pid" plus "level" or "weight".
type KernelServiceServer interface {
	ListProcesses(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetProcess(context.Context, *wrapperspb.Int64Value) (*structpb.Struct, error)
	KillProcess(context.Context, *wrapperspb.Int64Value) (*emptypb.Empty, error)
	ChangeLevel(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	SetWeight(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	SetWeightAll(context.Context, *wrapperspb.Int64Value) (*wrapperspb.Int64Value, error)
	GetParent(context.Context, *wrapperspb.Int64Value) (*wrapperspb.Int64Value, error)
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	PrintInfo(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	WatchEvents(*emptypb.Empty, EventStream) error
}

// EventStream is the server side of WatchEvents.
type EventStream interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type eventStream struct {
	grpc.ServerStream
}

func (x *eventStream) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

// KernelServiceDesc describes KernelService for grpc.Server.RegisterService.
var KernelServiceDesc = grpc.ServiceDesc{
	ServiceName: KernelServiceName,
	HandlerType: (*KernelServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ListProcesses", KernelServiceServer.ListProcesses),
		unary("GetProcess", KernelServiceServer.GetProcess),
		unary("KillProcess", KernelServiceServer.KillProcess),
		unary("ChangeLevel", KernelServiceServer.ChangeLevel),
		unary("SetWeight", KernelServiceServer.SetWeight),
		unary("SetWeightAll", KernelServiceServer.SetWeightAll),
		unary("GetParent", KernelServiceServer.GetParent),
		unary("GetStatus", KernelServiceServer.GetStatus),
		unary("PrintInfo", KernelServiceServer.PrintInfo),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
}

// RegisterKernelServiceServer registers srv with s.
func RegisterKernelServiceServer(s grpc.ServiceRegistrar, srv KernelServiceServer) {
	s.RegisterService(&KernelServiceDesc, srv)
}

// fullMethod returns the wire name of a KernelService method.
func fullMethod(name string) string {
	return "/" + KernelServiceName + "/" + name
}

// unary builds the descriptor of a unary method from its server method.
func unary[Req, Resp any](name string, call func(KernelServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(KernelServiceServer), ctx, req.(*Req))
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod(name),
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(KernelServiceServer).WatchEvents(in, &eventStream{stream})
}
