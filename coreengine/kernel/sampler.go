package kernel

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/procsched/coreengine/observability"
)

// TableSample is a point-in-time count of live records.
type TableSample struct {
	Tick    int
	Total   int
	Counts  map[ProcessState]map[QueueLevel]int
	Zombies []int // pids whose parent has not waited yet
}

// StartSampler starts a background goroutine that snapshots the process
// table every interval and publishes the counts as gauges.
// Returns a stop function; calling it more than once is safe.
func (k *Kernel) StartSampler(interval time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	SafeGo(k.logger, "sampler", func() {
		for {
			select {
			case <-ticker.C:
				k.runSampleCycle()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}, nil)

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// runSampleCycle takes one sample and publishes it. A panic is logged and
// the loop keeps going.
func (k *Kernel) runSampleCycle() {
	defer func() {
		if r := recover(); r != nil {
			if v, ok := r.(*InvariantViolation); ok {
				panic(v)
			}
			if k.logger != nil {
				k.logger.Error("sample_cycle_panic",
					"error", r,
					"stack", string(debug.Stack()),
				)
			}
		}
	}()

	s := k.Sample()

	gauge := make(map[string]map[string]int, len(s.Counts))
	for state, levels := range s.Counts {
		byLevel := make(map[string]int, len(levels))
		for level, n := range levels {
			byLevel[level.String()] = n
		}
		gauge[string(state)] = byLevel
	}
	observability.SetProcessCounts(gauge)

	if k.logger != nil {
		k.logger.Debug("table_sampled",
			"tick", s.Tick,
			"total", s.Total,
			"zombies", len(s.Zombies),
		)
	}
}

// Sample counts live records by state and level.
func (k *Kernel) Sample() TableSample {
	k.acquire(nil)
	defer k.release(nil)

	s := TableSample{
		Tick:   k.clock.Ticks(),
		Counts: make(map[ProcessState]map[QueueLevel]int),
	}
	for i := range k.table.procs {
		p := &k.table.procs[i]
		if !p.state.IsLive() {
			continue
		}
		s.Total++
		levels, ok := s.Counts[p.state]
		if !ok {
			levels = make(map[QueueLevel]int)
			s.Counts[p.state] = levels
		}
		levels[p.level]++
		if p.state == ProcessStateZombie {
			s.Zombies = append(s.Zombies, p.pid)
		}
	}
	return s
}
