package grpc

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/jeeves-cluster-organization/procsched/coreengine/kernel"
)

// Dial opens a plaintext connection to a KernelService.
func Dial(address string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)
	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return conn, nil
}

// KernelClient is a typed client for KernelService.
type KernelClient struct {
	cc grpc.ClientConnInterface
}

// NewKernelClient creates a client over an open connection.
func NewKernelClient(cc grpc.ClientConnInterface) *KernelClient {
	return &KernelClient{cc: cc}
}

func (c *KernelClient) invoke(ctx context.Context, method string, in, out any) error {
	return c.cc.Invoke(ctx, fullMethod(method), in, out)
}

// ListProcesses returns every live process record.
func (c *KernelClient) ListProcesses(ctx context.Context) ([]kernel.ProcessInfo, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "ListProcesses", &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return processListFromStruct(out)
}

// GetProcess returns one process record.
func (c *KernelClient) GetProcess(ctx context.Context, pid int) (kernel.ProcessInfo, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "GetProcess", wrapperspb.Int64(int64(pid)), out); err != nil {
		return kernel.ProcessInfo{}, err
	}
	return processInfoFromMap(out.AsMap()), nil
}

// Kill marks pid killed.
func (c *KernelClient) Kill(ctx context.Context, pid int) error {
	return c.invoke(ctx, "KillProcess", wrapperspb.Int64(int64(pid)), new(emptypb.Empty))
}

// ChangeLevel moves pid to level.
func (c *KernelClient) ChangeLevel(ctx context.Context, pid int, level kernel.QueueLevel) error {
	in, err := structpb.NewStruct(map[string]any{"pid": pid, "level": int(level)})
	if err != nil {
		return err
	}
	return c.invoke(ctx, "ChangeLevel", in, new(emptypb.Empty))
}

// SetWeight sets the MHRRN weight of pid.
func (c *KernelClient) SetWeight(ctx context.Context, pid, weight int) error {
	in, err := structpb.NewStruct(map[string]any{"pid": pid, "weight": weight})
	if err != nil {
		return err
	}
	return c.invoke(ctx, "SetWeight", in, new(emptypb.Empty))
}

// SetWeightAll sets the MHRRN weight of every live process.
func (c *KernelClient) SetWeightAll(ctx context.Context, weight int) (int, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.invoke(ctx, "SetWeightAll", wrapperspb.Int64(int64(weight)), out); err != nil {
		return 0, err
	}
	return int(out.GetValue()), nil
}

// ParentPID returns the parent of pid.
func (c *KernelClient) ParentPID(ctx context.Context, pid int) (int, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.invoke(ctx, "GetParent", wrapperspb.Int64(int64(pid)), out); err != nil {
		return 0, err
	}
	return int(out.GetValue()), nil
}

// Status returns kernel-wide counters.
func (c *KernelClient) Status(ctx context.Context) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "GetStatus", &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// PrintInfo returns the fixed-width process table.
func (c *KernelClient) PrintInfo(ctx context.Context) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.invoke(ctx, "PrintInfo", &emptypb.Empty{}, out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// =============================================================================
// Event Watching
// =============================================================================

// EventWatcher receives kernel events from a WatchEvents stream.
type EventWatcher struct {
	stream grpc.ClientStream
}

// WatchEvents opens an event stream. Cancel ctx to close it.
func (c *KernelClient) WatchEvents(ctx context.Context) (*EventWatcher, error) {
	desc := &KernelServiceDesc.Streams[0]
	stream, err := c.cc.NewStream(ctx, desc, fullMethod(desc.StreamName))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventWatcher{stream: stream}, nil
}

// Recv blocks for the next event. It returns io.EOF when the server ends the
// stream.
func (w *EventWatcher) Recv() (*kernel.KernelEvent, error) {
	msg := new(structpb.Struct)
	if err := w.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return eventFromStruct(msg)
}
