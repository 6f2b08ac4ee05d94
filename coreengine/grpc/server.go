package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
)

// Logger interface for the server.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// =============================================================================
// Graceful Server
// =============================================================================

// GracefulServer serves KernelService on one TCP listener. Stopping it
// first ends every WatchEvents stream, since those never finish on their own.
type GracefulServer struct {
	srv    *grpc.Server
	kernel *KernelServer
	logger Logger
	addr   string

	mu      sync.Mutex
	lis     net.Listener
	stopped bool
}

// NewGracefulServer registers core on a new gRPC server. Without opts the
// default ServerOptions stack is used.
func NewGracefulServer(core *KernelServer, address string, opts ...grpc.ServerOption) (*GracefulServer, error) {
	if core == nil {
		return nil, fmt.Errorf("kernel server is required")
	}
	if len(opts) == 0 {
		opts = ServerOptions(core.logger)
	}

	srv := grpc.NewServer(opts...)
	RegisterKernelServiceServer(srv, core)
	return &GracefulServer{srv: srv, kernel: core, logger: core.logger, addr: address}, nil
}

// Start serves until ctx is done, then drains. It returns ctx.Err() after a
// drain, or the serve error if serving failed first.
func (s *GracefulServer) Start(ctx context.Context) error {
	serveErr, err := s.StartBackground()
	if err != nil {
		return err
	}

	select {
	case err, ok := <-serveErr:
		if ok && err != nil {
			return fmt.Errorf("serve %s: %w", s.Address(), err)
		}
		return nil
	case <-ctx.Done():
		s.logger.Info("grpc_server_draining", "reason", ctx.Err().Error())
		s.GracefulStop()
		return ctx.Err()
	}
}

// StartBackground binds the listener and serves on a new goroutine. The
// returned channel yields the serve error, if any, and is then closed.
func (s *GracefulServer) StartBackground() (<-chan error, error) {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.lis = lis
	s.mu.Unlock()

	s.logger.Info("grpc_server_listening", "address", lis.Addr().String())

	serveErr := make(chan error, 1)
	go func() {
		defer close(serveErr)
		if err := s.srv.Serve(lis); err != nil {
			serveErr <- err
		}
	}()
	return serveErr, nil
}

// beginStop reports whether the caller is the first to stop the server, and
// closes the event streams if so.
func (s *GracefulServer) beginStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.stopped = true
	s.kernel.Close()
	return true
}

// GracefulStop refuses new calls and waits for in-flight ones to finish.
func (s *GracefulServer) GracefulStop() {
	if !s.beginStop() {
		return
	}
	start := time.Now()
	s.srv.GracefulStop()
	s.logger.Info("grpc_server_drained", "duration_ms", time.Since(start).Milliseconds())
}

// Stop closes every connection without waiting.
func (s *GracefulServer) Stop() {
	if !s.beginStop() {
		return
	}
	s.srv.Stop()
	s.logger.Warn("grpc_server_stopped_hard")
}

// ShutdownWithTimeout drains for at most timeout and then stops hard.
func (s *GracefulServer) ShutdownWithTimeout(timeout time.Duration) {
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		s.GracefulStop()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		s.logger.Warn("grpc_drain_timeout", "timeout_ms", timeout.Milliseconds())
		s.srv.Stop()
	}
}

// Address is the bound address once listening, so ":0" resolves to the
// chosen port; before that it is the configured address.
func (s *GracefulServer) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis != nil {
		return s.lis.Addr().String()
	}
	return s.addr
}
