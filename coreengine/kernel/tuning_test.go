package kernel

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var (
	spanRecorder     *tracetest.SpanRecorder
	spanRecorderOnce sync.Once
)

// recordSpans installs a global tracer provider backed by a recorder. The
// package tracer delegates to the first provider installed, so it is shared
// by every test in the package.
func recordSpans() *tracetest.SpanRecorder {
	spanRecorderOnce.Do(func() {
		spanRecorder = tracetest.NewSpanRecorder()
		otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder)))
	})
	return spanRecorder
}

func findSpan(sr *tracetest.SpanRecorder, name string, pid int) sdktrace.ReadOnlySpan {
	ended := sr.Ended()
	for i := len(ended) - 1; i >= 0; i-- {
		s := ended[i]
		if s.Name() != name {
			continue
		}
		for _, kv := range s.Attributes() {
			if string(kv.Key) == "pid" && int(kv.Value.AsInt64()) == pid {
				return s
			}
		}
	}
	return nil
}

// newTunedKernel returns an unstarted kernel holding the given records.
func newTunedKernel(t *testing.T, specs ...procSpec) (*Kernel, []*Proc) {
	t.Helper()
	k, tbl := newTestTable(t, 8, 8000)
	procs := make([]*Proc, len(specs))
	for i, spec := range specs {
		procs[i] = place(t, tbl, spec)
	}
	k.release(nil)
	return k, procs
}

// =============================================================================
// ChangeLevel Tests
// =============================================================================

func TestChangeLevel(t *testing.T) {
	sr := recordSpans()
	k, procs := newTunedKernel(t, procSpec{level: LevelModifiedHRRN})
	p := procs[0]
	p.waitingTicks = 40
	var events []*KernelEvent
	k.OnEvent(func(e *KernelEvent) { events = append(events, e) })

	err := k.ChangeLevel(context.Background(), p.pid, LevelRoundRobin)

	require.NoError(t, err)
	assert.Equal(t, LevelRoundRobin, p.level)
	assert.Equal(t, 0, p.waitingTicks)
	require.Len(t, events, 1)
	assert.Equal(t, KernelEventProcessLevelChanged, events[0].EventType)
	assert.Equal(t, map[string]any{"from_level": 3, "to_level": 1}, events[0].Data)

	span := findSpan(sr, "kernel.change_level", p.pid)
	require.NotNil(t, span)
	assert.Equal(t, codes.Unset, span.Status().Code)
}

func TestChangeLevel_Errors(t *testing.T) {
	sr := recordSpans()
	k, procs := newTunedKernel(t, procSpec{level: LevelLastComeFirstServed})

	tests := []struct {
		name  string
		pid   int
		level QueueLevel
		want  error
	}{
		{"level zero", procs[0].pid, 0, ErrInvalidArgument},
		{"level four", procs[0].pid, 4, ErrInvalidArgument},
		{"unknown pid", 42, LevelRoundRobin, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := k.ChangeLevel(context.Background(), tt.pid, tt.level)

			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, LevelLastComeFirstServed, procs[0].level)

			span := findSpan(sr, "kernel.change_level", tt.pid)
			require.NotNil(t, span)
			assert.Equal(t, codes.Error, span.Status().Code)
		})
	}
}

// =============================================================================
// Weight Tests
// =============================================================================

func TestSetWeight(t *testing.T) {
	k, procs := newTunedKernel(t,
		procSpec{level: LevelModifiedHRRN},
		procSpec{level: LevelModifiedHRRN},
	)

	require.NoError(t, k.SetWeight(context.Background(), procs[1].pid, 9))

	assert.Equal(t, 1, procs[0].weight)
	assert.Equal(t, 9, procs[1].weight)

	err := k.SetWeight(context.Background(), procs[0].pid, 0)
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, KindInvalidArgument, KindOf(err))

	err = k.SetWeight(context.Background(), 42, 3)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSetWeight_ChangesSelection(t *testing.T) {
	k, procs := newTunedKernel(t,
		procSpec{level: LevelModifiedHRRN, arrival: 0},
		procSpec{level: LevelModifiedHRRN, arrival: 0},
	)
	k.clock.(*TickClock).Set(10)

	require.NoError(t, k.SetWeight(context.Background(), procs[1].pid, 20))

	k.acquire(nil)
	defer k.release(nil)
	assert.Same(t, procs[1], k.table.selectModifiedHRRN(10))
}

func TestSetWeightAll(t *testing.T) {
	k, procs := newTunedKernel(t,
		procSpec{level: LevelModifiedHRRN},
		procSpec{level: LevelRoundRobin, state: ProcessStateSleeping},
		procSpec{level: LevelLastComeFirstServed, state: ProcessStateEmbryo},
	)

	n, err := k.SetWeightAll(context.Background(), 4)

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, p := range procs {
		assert.Equal(t, 4, p.weight)
	}

	_, err = k.SetWeightAll(context.Background(), -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

// =============================================================================
// Introspection Tests
// =============================================================================

func TestDumpAndProcess(t *testing.T) {
	k, procs := newTunedKernel(t,
		procSpec{level: LevelModifiedHRRN},
		procSpec{level: LevelRoundRobin, state: ProcessStateSleeping},
	)
	procs[1].parent = procs[0].slot

	infos := k.Dump()

	require.Len(t, infos, 2)
	assert.Equal(t, procs[0].pid, infos[0].PID)
	assert.Equal(t, ProcessStateSleeping, infos[1].State)
	assert.Equal(t, procs[0].pid, infos[1].ParentPID)

	info, err := k.Process(procs[1].pid)
	require.NoError(t, err)
	assert.Equal(t, infos[1], info)

	_, err = k.Process(99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParentPID(t *testing.T) {
	k, procs := newTunedKernel(t,
		procSpec{level: LevelLastComeFirstServed},
		procSpec{level: LevelLastComeFirstServed},
	)
	procs[1].parent = procs[0].slot

	ppid, err := k.ParentPID(procs[1].pid)
	require.NoError(t, err)
	assert.Equal(t, procs[0].pid, ppid)

	ppid, err = k.ParentPID(procs[0].pid)
	require.NoError(t, err)
	assert.Equal(t, 0, ppid)

	_, err = k.ParentPID(99)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "get_parent_pid pid 99: no such process", err.Error())
}

func TestPrintInfo(t *testing.T) {
	k, procs := newTunedKernel(t,
		procSpec{level: LevelModifiedHRRN, arrival: 50, execCount: 4, weight: 3},
		procSpec{level: LevelLastComeFirstServed, arrival: 60, state: ProcessStateSleeping},
	)
	procs[0].name = "foo"
	procs[1].name = "bar"
	k.clock.(*TickClock).Set(90)

	var buf bytes.Buffer
	require.NoError(t, k.PrintInfo(&buf))

	lines := strings.Split(buf.String(), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "NAME      PID       STATE         QUEUE_LVL ARR_TIME  HRRN      CYCLE     MHRRN     ", lines[0])
	assert.Equal(t, strings.Repeat("_", 94), lines[1])
	assert.Empty(t, lines[2])
	assert.Equal(t, "foo       1         RUNNABLE      3         50        11        4         7         ", lines[3])
	assert.Equal(t, "bar       2         SLEEPING      2         60        31        1         16        ", lines[4])
	assert.Empty(t, lines[5])
}

func TestFormatProcessTable_Empty(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, FormatProcessTable(&buf, nil))

	assert.Equal(t, 3, strings.Count(buf.String(), "\n"))
}
