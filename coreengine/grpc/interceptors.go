package grpc

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jeeves-cluster-organization/procsched/coreengine/kernel"
	"github.com/jeeves-cluster-organization/procsched/coreengine/observability"
)

// Event name prefixes for the two call shapes.
const (
	unaryEvent  = "grpc_request"
	streamEvent = "grpc_stream"
)

// =============================================================================
// LOGGING INTERCEPTOR
// =============================================================================

// logCall writes the completion line of one call: Debug on success, Error
// with the status code otherwise.
func logCall(logger Logger, event, method, peer string, start time.Time, err error) {
	elapsed := time.Since(start).Milliseconds()
	if err == nil {
		logger.Debug(event+"_completed",
			"method", method,
			"peer", peer,
			"duration_ms", elapsed,
		)
		return
	}
	logger.Error(event+"_failed",
		"method", method,
		"peer", peer,
		"duration_ms", elapsed,
		"code", status.Code(err).String(),
		"error", err.Error(),
	)
}

// LoggingInterceptor logs the start and outcome of every unary call.
func LoggingInterceptor(logger Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start, peer := time.Now(), peerHost(ctx)
		logger.Debug(unaryEvent+"_started", "method", info.FullMethod, "peer", peer)

		resp, err := handler(ctx, req)
		logCall(logger, unaryEvent, info.FullMethod, peer, start, err)
		return resp, err
	}
}

// StreamLoggingInterceptor logs the start and outcome of every stream.
func StreamLoggingInterceptor(logger Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start, peer := time.Now(), peerHost(ss.Context())
		logger.Debug(streamEvent+"_started",
			"method", info.FullMethod,
			"peer", peer,
			"server_stream", info.IsServerStream,
		)

		err := handler(srv, ss)
		logCall(logger, streamEvent, info.FullMethod, peer, start, err)
		return err
	}
}

// =============================================================================
// METRICS INTERCEPTOR
// =============================================================================

// recordCall counts one finished call under its status code.
func recordCall(method string, start time.Time, err error) {
	observability.RecordGRPCRequest(method, status.Code(err).String(),
		int(time.Since(start).Milliseconds()))
}

// MetricsInterceptor records request count and latency per method and code.
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		recordCall(info.FullMethod, start, err)
		return resp, err
	}
}

// StreamMetricsInterceptor records stream count and lifetime per method and code.
func StreamMetricsInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		recordCall(info.FullMethod, start, err)
		return err
	}
}

// =============================================================================
// RECOVERY INTERCEPTOR
// =============================================================================

// RecoveryHandler turns a recovered panic value into the error returned to
// the caller.
type RecoveryHandler func(p any) error

// DefaultRecoveryHandler returns an Internal error with panic details.
func DefaultRecoveryHandler(p any) error {
	return status.Errorf(codes.Internal, "panic recovered: %v", p)
}

// recoverCall is deferred by both recovery interceptors. A kernel invariant
// violation is re-raised: the process table can no longer be trusted.
func recoverCall(logger Logger, event, method string, handler RecoveryHandler, errp *error) {
	p := recover()
	if p == nil {
		return
	}
	if v, ok := p.(*kernel.InvariantViolation); ok {
		panic(v)
	}
	logger.Error(event,
		"method", method,
		"panic", fmt.Sprintf("%v", p),
		"stack", string(debug.Stack()),
	)
	*errp = handler(p)
}

// RecoveryInterceptor converts a panicking unary handler into an error.
func RecoveryInterceptor(logger Logger, handler RecoveryHandler) grpc.UnaryServerInterceptor {
	if handler == nil {
		handler = DefaultRecoveryHandler
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer recoverCall(logger, "grpc_panic_recovered", info.FullMethod, handler, &err)
		return next(ctx, req)
	}
}

// StreamRecoveryInterceptor converts a panicking stream handler into an error.
func StreamRecoveryInterceptor(logger Logger, handler RecoveryHandler) grpc.StreamServerInterceptor {
	if handler == nil {
		handler = DefaultRecoveryHandler
	}
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) (err error) {
		defer recoverCall(logger, "grpc_stream_panic_recovered", info.FullMethod, handler, &err)
		return next(srv, ss)
	}
}

// =============================================================================
// CHAIN INTERCEPTORS
// =============================================================================

// ChainUnaryInterceptors composes interceptors so that the first listed is
// the outermost.
func ChainUnaryInterceptors(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, final grpc.UnaryHandler) (any, error) {
		var step func(i int) grpc.UnaryHandler
		step = func(i int) grpc.UnaryHandler {
			if i == len(interceptors) {
				return final
			}
			return func(ctx context.Context, req any) (any, error) {
				return interceptors[i](ctx, req, info, step(i+1))
			}
		}
		return step(0)(ctx, req)
	}
}

// ChainStreamInterceptors is ChainUnaryInterceptors for streams.
func ChainStreamInterceptors(interceptors ...grpc.StreamServerInterceptor) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, final grpc.StreamHandler) error {
		var step func(i int) grpc.StreamHandler
		step = func(i int) grpc.StreamHandler {
			if i == len(interceptors) {
				return final
			}
			return func(srv any, ss grpc.ServerStream) error {
				return interceptors[i](srv, ss, info, step(i+1))
			}
		}
		return step(0)(srv, ss)
	}
}

// =============================================================================
// SERVER OPTIONS BUILDER
// =============================================================================

// ServerOptions is the procschedd interceptor stack: recovery outermost,
// then metrics and logging, plus otelgrpc spans. extra unary interceptors run
// innermost, so their rejections are still logged and counted.
func ServerOptions(logger Logger, extra ...grpc.UnaryServerInterceptor) []grpc.ServerOption {
	unary := append([]grpc.UnaryServerInterceptor{
		RecoveryInterceptor(logger, nil),
		MetricsInterceptor(),
		LoggingInterceptor(logger),
	}, extra...)

	return []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(ChainUnaryInterceptors(unary...)),
		grpc.StreamInterceptor(ChainStreamInterceptors(
			StreamRecoveryInterceptor(logger, nil),
			StreamMetricsInterceptor(),
			StreamLoggingInterceptor(logger),
		)),
	}
}
