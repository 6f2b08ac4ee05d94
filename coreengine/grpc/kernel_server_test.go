package grpc

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jeeves-cluster-organization/procsched/coreengine/kernel"
)

// =============================================================================
// INTROSPECTION TESTS
// =============================================================================

func TestKernelServer_ListProcesses(t *testing.T) {
	ts := startTestServer(t, "foo", "bar")
	ctx := context.Background()

	infos, err := ts.client.ListProcesses(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 3)

	assert.Equal(t, "init", infos[0].Name)
	assert.Equal(t, 1, infos[0].PID)
	assert.Equal(t, 0, infos[0].ParentPID)

	assert.Equal(t, "foo", infos[1].Name)
	assert.Equal(t, ts.pids[0], infos[1].PID)
	assert.Equal(t, 1, infos[1].ParentPID)
	assert.Equal(t, kernel.ProcessStateSleeping, infos[1].State)
	assert.Equal(t, kernel.LevelLastComeFirstServed, infos[1].Level)
	assert.Equal(t, 1, infos[1].Weight)

	assert.Equal(t, "bar", infos[2].Name)
}

func TestKernelServer_GetProcess(t *testing.T) {
	ts := startTestServer(t, "foo")
	ctx := context.Background()

	info, err := ts.client.GetProcess(ctx, ts.pids[0])
	require.NoError(t, err)
	assert.Equal(t, "foo", info.Name)
	assert.False(t, info.Killed)

	_, err = ts.client.GetProcess(ctx, 99)
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = ts.client.GetProcess(ctx, 0)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestKernelServer_ParentPID(t *testing.T) {
	ts := startTestServer(t, "foo")
	ctx := context.Background()

	ppid, err := ts.client.ParentPID(ctx, ts.pids[0])
	require.NoError(t, err)
	assert.Equal(t, 1, ppid)

	ppid, err = ts.client.ParentPID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, ppid)

	_, err = ts.client.ParentPID(ctx, 42)
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "get_parent_pid pid 42")
}

func TestKernelServer_Status(t *testing.T) {
	ts := startTestServer(t, "foo")

	st, err := ts.client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ts.kernel.BootID(), st["boot_id"])
	assert.Equal(t, float64(2), st["num_cpu"])

	procs, ok := st["processes"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), procs["total"])
	assert.Equal(t, float64(8), procs["capacity"])
}

func TestKernelServer_PrintInfo(t *testing.T) {
	ts := startTestServer(t, "foo")

	out, err := ts.client.PrintInfo(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out, "NAME      PID       STATE")
	assert.Contains(t, out, "foo       2         SLEEPING")
}

// =============================================================================
// CONTROL TESTS
// =============================================================================

func TestKernelServer_Kill(t *testing.T) {
	ts := startTestServer(t, "foo")
	ctx := context.Background()
	pid := ts.pids[0]

	require.NoError(t, ts.client.Kill(ctx, pid))
	require.Eventually(t, func() bool {
		_, err := ts.client.GetProcess(ctx, pid)
		return status.Code(err) == codes.NotFound
	}, 5*time.Second, 5*time.Millisecond, "killed child should be reaped by init")
	assert.True(t, ts.logger.has("process_kill_requested"))

	err := ts.client.Kill(ctx, pid)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestKernelServer_ChangeLevel(t *testing.T) {
	ts := startTestServer(t, "foo")
	ctx := context.Background()
	pid := ts.pids[0]

	require.NoError(t, ts.client.ChangeLevel(ctx, pid, kernel.LevelModifiedHRRN))
	info, err := ts.client.GetProcess(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, kernel.LevelModifiedHRRN, info.Level)

	tests := []struct {
		name  string
		pid   int
		level kernel.QueueLevel
		code  codes.Code
	}{
		{"level too low", pid, 0, codes.InvalidArgument},
		{"level too high", pid, 4, codes.InvalidArgument},
		{"unknown pid", 99, kernel.LevelRoundRobin, codes.NotFound},
		{"zero pid", 0, kernel.LevelRoundRobin, codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ts.client.ChangeLevel(ctx, tt.pid, tt.level)
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

func TestKernelServer_SetWeight(t *testing.T) {
	ts := startTestServer(t, "foo")
	ctx := context.Background()
	pid := ts.pids[0]

	require.NoError(t, ts.client.SetWeight(ctx, pid, 5))
	info, err := ts.client.GetProcess(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, 5, info.Weight)

	err = ts.client.SetWeight(ctx, pid, 0)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = ts.client.SetWeight(ctx, 99, 2)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestKernelServer_SetWeightAll(t *testing.T) {
	ts := startTestServer(t, "foo", "bar")
	ctx := context.Background()

	n, err := ts.client.SetWeightAll(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	infos, err := ts.client.ListProcesses(ctx)
	require.NoError(t, err)
	for _, info := range infos {
		assert.Equal(t, 3, info.Weight, "pid %d", info.PID)
	}

	_, err = ts.client.SetWeightAll(ctx, -1)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

// =============================================================================
// EVENT STREAM TESTS
// =============================================================================

func TestKernelServer_WatchEvents(t *testing.T) {
	ts := startTestServer(t, "foo")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pid := ts.pids[0]

	watcher, err := ts.client.WatchEvents(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ts.coreServer.subscribers() == 1 },
		5*time.Second, time.Millisecond)

	require.NoError(t, ts.client.ChangeLevel(ctx, pid, kernel.LevelRoundRobin))
	require.NoError(t, ts.client.Kill(ctx, pid))

	var seen []kernel.KernelEventType
	for len(seen) < 4 {
		e, err := watcher.Recv()
		require.NoError(t, err)
		if e.PID != pid {
			continue
		}
		seen = append(seen, e.EventType)
		if e.EventType == kernel.KernelEventProcessLevelChanged {
			assert.Equal(t, float64(2), e.Data["from_level"])
			assert.Equal(t, float64(1), e.Data["to_level"])
			assert.NotEmpty(t, e.ID)
			assert.False(t, e.Timestamp.IsZero())
		}
	}
	assert.Equal(t, []kernel.KernelEventType{
		kernel.KernelEventProcessLevelChanged,
		kernel.KernelEventProcessKilled,
		kernel.KernelEventProcessExited,
		kernel.KernelEventProcessReaped,
	}, seen)

	cancel()
	require.Eventually(t, func() bool { return ts.coreServer.subscribers() == 0 },
		5*time.Second, time.Millisecond, "cancelled stream should unsubscribe")
}

func TestKernelServer_WatchEventsEndsOnStop(t *testing.T) {
	ts := startTestServer(t)

	watcher, err := ts.client.WatchEvents(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ts.coreServer.subscribers() == 1 },
		5*time.Second, time.Millisecond)

	ts.server.GracefulStop()

	_, err = watcher.Recv()
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, ts.logger.has("grpc_server_drained"))
}

func TestKernelServer_PublishDropsWhenFull(t *testing.T) {
	logger := &TestLogger{}
	k, _ := bootTestKernel(t, logger)
	s := NewKernelServer(logger, k)

	ch := s.subscribe()
	defer s.unsubscribe(ch)
	for i := 0; i < eventBuffer+1; i++ {
		s.publish(kernel.NewKernelEvent(kernel.KernelEventProcessWeightChanged, 1, i, nil))
	}

	assert.Len(t, ch, eventBuffer)
	assert.True(t, logger.has("event_dropped"))
}
