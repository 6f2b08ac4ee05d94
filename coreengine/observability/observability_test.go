package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

// =============================================================================
// METRICS TESTS
// =============================================================================

func TestRecordDispatch(t *testing.T) {
	tests := []struct {
		name  string
		level string
	}{
		{"round robin", "round_robin"},
		{"lcfs", "lcfs"},
		{"mhrrn", "mhrrn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(dispatchesTotal.WithLabelValues(tt.level))

			RecordDispatch(tt.level)

			after := testutil.ToFloat64(dispatchesTotal.WithLabelValues(tt.level))
			assert.Equal(t, before+1, after)
		})
	}
}

func TestRecordPromotion(t *testing.T) {
	before := testutil.ToFloat64(promotionsTotal.WithLabelValues("mhrrn"))

	RecordPromotion("mhrrn")
	RecordPromotion("mhrrn")

	assert.Equal(t, before+2, testutil.ToFloat64(promotionsTotal.WithLabelValues("mhrrn")))
}

func TestRecordLevelChange(t *testing.T) {
	before := testutil.ToFloat64(levelChangesTotal.WithLabelValues("lcfs", "round_robin"))

	RecordLevelChange("lcfs", "round_robin")

	assert.Equal(t, before+1, testutil.ToFloat64(levelChangesTotal.WithLabelValues("lcfs", "round_robin")))
}

func TestRecordLifecycleEvent(t *testing.T) {
	for _, event := range []string{"fork", "exit", "reap", "kill"} {
		before := testutil.ToFloat64(lifecycleEventsTotal.WithLabelValues(event))
		RecordLifecycleEvent(event)
		assert.Equal(t, before+1, testutil.ToFloat64(lifecycleEventsTotal.WithLabelValues(event)), event)
	}
}

func TestSetTicks(t *testing.T) {
	SetTicks(42)
	assert.Equal(t, 42.0, testutil.ToFloat64(ticksGauge))

	SetTicks(43)
	assert.Equal(t, 43.0, testutil.ToFloat64(ticksGauge))
}

func TestSetProcessCounts(t *testing.T) {
	SetProcessCounts(map[string]map[string]int{
		"runnable": {"lcfs": 3, "round_robin": 1},
		"zombie":   {"mhrrn": 2},
	})
	assert.Equal(t, 3.0, testutil.ToFloat64(processesGauge.WithLabelValues("runnable", "lcfs")))
	assert.Equal(t, 2.0, testutil.ToFloat64(processesGauge.WithLabelValues("zombie", "mhrrn")))
	assert.Equal(t, 3, testutil.CollectAndCount(processesGauge))

	SetProcessCounts(map[string]map[string]int{"sleeping": {"lcfs": 1}})
	assert.Equal(t, 1, testutil.CollectAndCount(processesGauge))
}

func TestRecordGRPCRequest(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		status     string
		durationMS int
	}{
		{"ok", "/procsched.v1.KernelService/ListProcesses", "OK", 1},
		{"not found", "/procsched.v1.KernelService/KillProcess", "NotFound", 0},
		{"invalid", "/procsched.v1.KernelService/ChangeLevel", "InvalidArgument", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordGRPCRequest(tt.method, tt.status, tt.durationMS)

			count := testutil.ToFloat64(grpcRequestsTotal.WithLabelValues(tt.method, tt.status))
			assert.Greater(t, count, 0.0)
		})
	}
}

func TestMetricsHandler_ExposesSchedulerMetrics(t *testing.T) {
	RecordDispatch("lcfs")
	RecordLifecycleEvent("fork")

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "procsched_dispatches_total")
	assert.Contains(t, string(body), "procsched_lifecycle_events_total")
}

// =============================================================================
// TRACING TESTS
// =============================================================================

func TestInitTracer_Stdout(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracer(TracingConfig{ServiceName: "procsched-test", Stdout: &buf})
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	_, span := otel.Tracer("test").Start(context.Background(), "kernel.change_level")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "kernel.change_level")
	assert.Contains(t, buf.String(), "procsched-test")
}

func TestInitTracer_ResourceAttributes(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracer(TracingConfig{
		ServiceName: "procsched-test",
		Stdout:      &buf,
		Attributes:  map[string]string{"procsched.num_cpu": "4"},
	})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "kernel.set_weight")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "procsched.num_cpu")
}

func TestResourceAttributes_Sorted(t *testing.T) {
	attrs := resourceAttributes(TracingConfig{
		ServiceName: "svc",
		Attributes:  map[string]string{"b": "2", "a": "1"},
	})

	require.Len(t, attrs, 4)
	assert.Equal(t, "service.name", string(attrs[0].Key))
	assert.Equal(t, ServiceVersion, attrs[1].Value.AsString())
	assert.Equal(t, "a", string(attrs[2].Key))
	assert.Equal(t, "b", string(attrs[3].Key))
}

func TestInitTracer_NoExporter(t *testing.T) {
	shutdown, err := InitTracer(TracingConfig{ServiceName: "procsched-test"})

	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracer_OTLP(t *testing.T) {
	// Integration test, requires a real OTLP collector.
	t.Skip("Skipping integration test - requires OTLP collector")

	shutdown, err := InitTracer(TracingConfig{ServiceName: "procsched-test", Endpoint: "localhost:4317"})
	require.NoError(t, err)
	defer shutdown(context.Background())
}

// =============================================================================
// LOGGER TESTS
// =============================================================================

func decodeLines(t *testing.T, out string) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestLogrusLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogrusLogger("debug", &buf)

	logger.Info("process_forked", "pid", 7, "parent_pid", 1)
	logger.Debug("process_promoted", "pid", 3)

	entries := decodeLines(t, buf.String())
	require.Len(t, entries, 2)
	assert.Equal(t, "process_forked", entries[0]["msg"])
	assert.Equal(t, "info", entries[0]["level"])
	assert.Equal(t, 7.0, entries[0]["pid"])
	assert.Equal(t, 1.0, entries[0]["parent_pid"])
	assert.Equal(t, "debug", entries[1]["level"])
}

func TestLogrusLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogrusLogger("WARN", &buf)

	logger.Info("hidden")
	logger.Warn("shown")
	logger.Error("also_shown")

	entries := decodeLines(t, buf.String())
	require.Len(t, entries, 2)
	assert.Equal(t, "shown", entries[0]["msg"])
	assert.Equal(t, "also_shown", entries[1]["msg"])
}

func TestLogrusLogger_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogrusLogger("chatty", &buf)

	logger.Debug("hidden")
	logger.Info("shown")

	entries := decodeLines(t, buf.String())
	require.Len(t, entries, 1)
	assert.Equal(t, "shown", entries[0]["msg"])
}

func TestLogrusLogger_WithAndOddArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogrusLogger("info", &buf).With("component", "grpc")

	logger.Info("request", "method", "/x", "dangling")

	entries := decodeLines(t, buf.String())
	require.Len(t, entries, 1)
	assert.Equal(t, "grpc", entries[0]["component"])
	assert.Equal(t, "/x", entries[0]["method"])
	assert.Equal(t, "dangling", entries[0]["!BADKEY"])
}
