package kernel

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKernel_Sample(t *testing.T) {
	k, tbl := newTestTable(t, 8, 8000)
	place(t, tbl, procSpec{level: LevelRoundRobin})
	place(t, tbl, procSpec{level: LevelLastComeFirstServed})
	place(t, tbl, procSpec{level: LevelLastComeFirstServed})
	z := place(t, tbl, procSpec{level: LevelModifiedHRRN, state: ProcessStateZombie})
	k.release(nil)

	s := k.Sample()

	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 1, s.Counts[ProcessStateRunnable][LevelRoundRobin])
	assert.Equal(t, 2, s.Counts[ProcessStateRunnable][LevelLastComeFirstServed])
	assert.Equal(t, 1, s.Counts[ProcessStateZombie][LevelModifiedHRRN])
	assert.Equal(t, []int{z.pid}, s.Zombies)
}

func TestKernel_Sample_Empty(t *testing.T) {
	k := NewKernel(nil, testConfig(1))

	s := k.Sample()

	assert.Zero(t, s.Total)
	assert.Empty(t, s.Counts)
	assert.Empty(t, s.Zombies)
}

func TestKernel_StartSampler(t *testing.T) {
	logger := &testLogger{}
	k := NewKernel(logger, testConfig(1))

	stop := k.StartSampler(5 * time.Millisecond)
	require.NotNil(t, stop)

	require.Eventually(t, func() bool {
		logger.mu.Lock()
		defer logger.mu.Unlock()
		for _, log := range logger.logs {
			if strings.Contains(log, "table_sampled") {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	stop()
	stop()
}
