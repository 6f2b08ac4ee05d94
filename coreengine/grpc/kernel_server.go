package grpc

import (
	"context"
	"strings"
	"sync"

	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/jeeves-cluster-organization/procsched/coreengine/kernel"
)

// eventBuffer is the per-subscriber backlog before events are dropped.
const eventBuffer = 64

// KernelServer implements KernelService on top of a running kernel.
// Thread-safe: delegates to kernel which handles synchronization.
type KernelServer struct {
	logger Logger
	kernel *kernel.Kernel

	subsMu sync.Mutex
	subs   map[chan *kernel.KernelEvent]struct{}
	closed chan struct{}
	once   sync.Once
}

// NewKernelServer creates a KernelService server and subscribes it to the
// kernel's lifecycle events.
func NewKernelServer(logger Logger, k *kernel.Kernel) *KernelServer {
	s := &KernelServer{
		logger: logger,
		kernel: k,
		subs:   make(map[chan *kernel.KernelEvent]struct{}),
		closed: make(chan struct{}),
	}
	k.OnEvent(s.publish)
	return s
}

// Close ends every WatchEvents stream.
func (s *KernelServer) Close() {
	s.once.Do(func() { close(s.closed) })
}

// =============================================================================
// Introspection
// =============================================================================

// ListProcesses returns a snapshot of every live process record.
func (s *KernelServer) ListProcesses(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out, err := processListToStruct(s.kernel.Dump())
	if err != nil {
		return nil, Internal("list processes", err)
	}
	return out, nil
}

// GetProcess returns a snapshot of one process record.
func (s *KernelServer) GetProcess(ctx context.Context, req *wrapperspb.Int64Value) (*structpb.Struct, error) {
	pid, err := validatePID(req)
	if err != nil {
		return nil, err
	}
	info, err := s.kernel.Process(pid)
	if err != nil {
		return nil, kernelStatus(err)
	}
	out, err := processInfoToStruct(info)
	if err != nil {
		return nil, Internal("get process", err)
	}
	return out, nil
}

// GetParent returns the parent pid of a process, 0 for init.
func (s *KernelServer) GetParent(ctx context.Context, req *wrapperspb.Int64Value) (*wrapperspb.Int64Value, error) {
	pid, err := validatePID(req)
	if err != nil {
		return nil, err
	}
	ppid, err := s.kernel.ParentPID(pid)
	if err != nil {
		return nil, kernelStatus(err)
	}
	return wrapperspb.Int64(int64(ppid)), nil
}

// GetStatus returns kernel-wide counters.
func (s *KernelServer) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(s.kernel.Status())
	if err != nil {
		return nil, Internal("get status", err)
	}
	return out, nil
}

// PrintInfo returns the fixed-width process table.
func (s *KernelServer) PrintInfo(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	var b strings.Builder
	if err := s.kernel.PrintInfo(&b); err != nil {
		return nil, Internal("print info", err)
	}
	return wrapperspb.String(b.String()), nil
}

// =============================================================================
// Control
// =============================================================================

// KillProcess marks a process killed.
func (s *KernelServer) KillProcess(ctx context.Context, req *wrapperspb.Int64Value) (*emptypb.Empty, error) {
	pid, err := validatePID(req)
	if err != nil {
		return nil, err
	}
	if err := s.kernel.Kill(pid); err != nil {
		return nil, kernelStatus(err)
	}
	s.logger.Info("process_kill_requested", "pid", pid)
	return &emptypb.Empty{}, nil
}

// ChangeLevel moves a process to another queue level.
func (s *KernelServer) ChangeLevel(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	pid, err := validatePIDField(req)
	if err != nil {
		return nil, err
	}
	level, err := requiredInt(req, "level")
	if err != nil {
		return nil, err
	}
	if err := s.kernel.ChangeLevel(ctx, pid, kernel.QueueLevel(level)); err != nil {
		return nil, kernelStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// SetWeight sets the MHRRN weight of a process.
func (s *KernelServer) SetWeight(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	pid, err := validatePIDField(req)
	if err != nil {
		return nil, err
	}
	weight, err := requiredInt(req, "weight")
	if err != nil {
		return nil, err
	}
	if err := s.kernel.SetWeight(ctx, pid, weight); err != nil {
		return nil, kernelStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// SetWeightAll sets the MHRRN weight of every live process and returns how
// many records changed.
func (s *KernelServer) SetWeightAll(ctx context.Context, req *wrapperspb.Int64Value) (*wrapperspb.Int64Value, error) {
	if req == nil {
		return nil, InvalidArgument("weight")
	}
	n, err := s.kernel.SetWeightAll(ctx, int(req.GetValue()))
	if err != nil {
		return nil, kernelStatus(err)
	}
	return wrapperspb.Int64(int64(n)), nil
}

// =============================================================================
// Event Streaming
// =============================================================================

// WatchEvents streams kernel lifecycle events until the client goes away or
// the server closes.
func (s *KernelServer) WatchEvents(_ *emptypb.Empty, stream EventStream) error {
	ch := s.subscribe()
	defer s.unsubscribe(ch)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closed:
			return nil
		case e := <-ch:
			msg, err := eventToStruct(e)
			if err != nil {
				return Internal("encode event", err)
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func (s *KernelServer) subscribe() chan *kernel.KernelEvent {
	ch := make(chan *kernel.KernelEvent, eventBuffer)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()
	return ch
}

func (s *KernelServer) unsubscribe(ch chan *kernel.KernelEvent) {
	s.subsMu.Lock()
	delete(s.subs, ch)
	s.subsMu.Unlock()
}

// publish runs under the kernel's table lock and must not block.
func (s *KernelServer) publish(e *kernel.KernelEvent) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- e:
		default:
			s.logger.Warn("event_dropped",
				"event_type", string(e.EventType),
				"pid", e.PID,
			)
		}
	}
}

// subscribers reports the number of open event streams.
func (s *KernelServer) subscribers() int {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	return len(s.subs)
}

var _ KernelServiceServer = (*KernelServer)(nil)
