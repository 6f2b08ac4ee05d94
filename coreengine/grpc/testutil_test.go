package grpc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/jeeves-cluster-organization/procsched/coreengine/config"
	"github.com/jeeves-cluster-organization/procsched/coreengine/kernel"
)

// =============================================================================
// LOGGER MOCKS
// =============================================================================

// TestLogger captures log calls for verification. Kernel cores log from
// their own goroutines, so calls are guarded.
type TestLogger struct {
	mu         sync.Mutex
	debugCalls []map[string]any
	infoCalls  []map[string]any
	warnCalls  []map[string]any
	errorCalls []map[string]any
}

func (l *TestLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugCalls = append(l.debugCalls, toMap(msg, keysAndValues))
}

func (l *TestLogger) Info(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoCalls = append(l.infoCalls, toMap(msg, keysAndValues))
}

func (l *TestLogger) Warn(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnCalls = append(l.warnCalls, toMap(msg, keysAndValues))
}

func (l *TestLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorCalls = append(l.errorCalls, toMap(msg, keysAndValues))
}

func toMap(msg string, keysAndValues []any) map[string]any {
	m := map[string]any{"msg": msg}
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			m[key] = keysAndValues[i+1]
		}
	}
	return m
}

// has reports whether any call at any level logged msg.
func (l *TestLogger) has(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, calls := range [][]map[string]any{l.debugCalls, l.infoCalls, l.warnCalls, l.errorCalls} {
		for _, c := range calls {
			if c["msg"] == msg {
				return true
			}
		}
	}
	return false
}

// =============================================================================
// KERNEL FIXTURE
// =============================================================================

// bootTestKernel starts a two-core kernel whose init forks the named
// children. Each child sleeps until killed. It returns the child pids in
// fork order.
func bootTestKernel(t *testing.T, logger *TestLogger, children ...string) (*kernel.Kernel, []int) {
	t.Helper()

	cfg := config.DefaultCoreConfig()
	cfg.MaxProcesses = 8
	cfg.NumCPU = 2
	cfg.TickIntervalMs = 0
	cfg.IdlePollMs = 1

	pids := make(chan []int, 1)
	k := kernel.NewKernel(logger, cfg)
	_, err := k.UserInit("init", func(p *kernel.Proc) {
		forked := make([]int, 0, len(children))
		for _, name := range children {
			name := name
			pid, err := p.Fork(func(c *kernel.Proc) {
				c.SetName(name)
				_ = c.SleepTicks(1 << 30)
			})
			if err == nil {
				forked = append(forked, pid)
			}
		}
		pids <- forked
		for {
			if _, err := p.Wait(); err != nil {
				parkForever(p)
			}
		}
	})
	require.NoError(t, err)
	require.NoError(t, k.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = k.Shutdown(ctx)
	})

	var forked []int
	select {
	case forked = <-pids:
	case <-time.After(5 * time.Second):
		t.Fatal("init did not fork")
	}
	for _, pid := range forked {
		require.Eventually(t, func() bool {
			info, err := k.Process(pid)
			return err == nil && info.State == kernel.ProcessStateSleeping
		}, 5*time.Second, time.Millisecond)
	}
	return k, forked
}

// parkForever sleeps on a channel nobody wakes.
func parkForever(p *kernel.Proc) {
	var mu sync.Mutex
	mu.Lock()
	for {
		p.Sleep(&mu, &mu)
	}
}

// =============================================================================
// TEST SERVER
// =============================================================================

// testServer holds a running gRPC server for testing.
type testServer struct {
	server     *GracefulServer
	coreServer *KernelServer
	kernel     *kernel.Kernel
	logger     *TestLogger
	pids       []int
	conn       *grpc.ClientConn
	client     *KernelClient
}

// startTestServer boots a kernel and serves it on an ephemeral port.
func startTestServer(t *testing.T, children ...string) *testServer {
	t.Helper()

	logger := &TestLogger{}
	k, pids := bootTestKernel(t, logger, children...)

	coreServer := NewKernelServer(logger, k)
	server, err := NewGracefulServer(coreServer, "localhost:0")
	require.NoError(t, err)
	_, err = server.StartBackground()
	require.NoError(t, err)

	conn, err := Dial(server.Address())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		server.ShutdownWithTimeout(5 * time.Second)
	})

	return &testServer{
		server:     server,
		coreServer: coreServer,
		kernel:     k,
		logger:     logger,
		pids:       pids,
		conn:       conn,
		client:     NewKernelClient(conn),
	}
}
