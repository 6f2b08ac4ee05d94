package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchedulingMetrics(t *testing.T) {
	tests := []struct {
		name                     string
		now, arrival, exec, w    int
		wantWait, wantRR, wantMR int
	}{
		{"reference values", 90, 50, 4, 3, 40, 11, 7},
		{"fresh process", 7, 7, 1, 1, 0, 1, 1},
		{"heavy weight dominates", 10, 0, 10, 9, 10, 2, 5},
		{"truncation", 10, 0, 3, 1, 10, 4, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantWait, WaitingTime(tt.now, tt.arrival))
			assert.Equal(t, tt.wantRR, ResponseRatio(tt.now, tt.arrival, tt.exec))
			assert.Equal(t, tt.wantMR, ModifiedResponseRatio(tt.now, tt.arrival, tt.exec, tt.w))
		})
	}
}

func TestResponseRatio_NoService(t *testing.T) {
	assert.Equal(t, 0, ResponseRatio(10, 0, 0))
}

func TestProcInfo_Metrics(t *testing.T) {
	_, tbl := newTestTable(t, 2, 8000)
	p := place(t, tbl, procSpec{level: LevelModifiedHRRN, arrival: 50, execCount: 4, weight: 3})
	p.name = "foo"

	info := p.info(90)

	assert.Equal(t, "foo", info.Name)
	assert.Equal(t, p.pid, info.PID)
	assert.Equal(t, 0, info.ParentPID)
	assert.Equal(t, ProcessStateRunnable, info.State)
	assert.Equal(t, LevelModifiedHRRN, info.Level)
	assert.Equal(t, 11, info.ResponseRatio)
	assert.Equal(t, 7, info.ModifiedResponseRatio)
	assert.Equal(t, 3, info.Weight)
}
