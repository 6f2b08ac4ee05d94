package kernel

import (
	"sync"
	"sync/atomic"
)

// =============================================================================
// Table Lock
// =============================================================================

// tableLock guards every record in the process table and the pid counter.
// It may be released by a goroutine other than the one that acquired it:
// the scheduler dispatches with the lock held and the dispatched process
// releases it, and the reverse on every switch back.
type tableLock struct {
	mu   sync.Mutex
	held atomic.Bool
}

func (l *tableLock) Lock() {
	l.mu.Lock()
	l.held.Store(true)
}

func (l *tableLock) Unlock() {
	if !l.held.Swap(false) {
		violation("release", "table lock not held")
	}
	l.mu.Unlock()
}

func (l *tableLock) holding() bool {
	return l.held.Load()
}

// =============================================================================
// Process Table
// =============================================================================

// procTable is the fixed arena of process records. Records are allocated
// once at boot and addressed by slot index; parent links are slot indices.
type procTable struct {
	lock    tableLock
	procs   []Proc
	nextPID int

	defaultLevel   QueueLevel
	defaultWeight  int
	agingThreshold int
}

func newProcTable(k *Kernel, nproc, nofile int, level QueueLevel, weight, agingThreshold int) *procTable {
	t := &procTable{
		procs:          make([]Proc, nproc),
		nextPID:        1,
		defaultLevel:   level,
		defaultWeight:  weight,
		agingThreshold: agingThreshold,
	}
	for i := range t.procs {
		p := &t.procs[i]
		p.k = k
		p.slot = i
		p.state = ProcessStateUnused
		p.parent = -1
		p.files = make([]File, nofile)
	}
	return t
}

// setState is the only place a record changes state. Caller holds the lock.
func (t *procTable) setState(p *Proc, to ProcessState) {
	if !t.lock.holding() {
		violation("set_state", "pid %d: table lock not held", p.pid)
	}
	if !IsValidTransition(p.state, to) {
		violation("set_state", "pid %d: illegal transition %s -> %s", p.pid, p.state, to)
	}
	p.state = to
}

// allocSlot claims the first Unused slot, mints its pid and resets its
// scheduling metrics. Returns nil when the table is full. Caller holds the lock.
func (t *procTable) allocSlot(now int) *Proc {
	for i := range t.procs {
		p := &t.procs[i]
		if p.state != ProcessStateUnused {
			continue
		}
		t.setState(p, ProcessStateEmbryo)
		p.pid = t.nextPID
		t.nextPID++
		p.parent = -1
		p.name = ""
		p.level = t.defaultLevel
		p.waitingTicks = 1
		p.lastDispatch = 0
		p.arrivalTime = now
		p.execCount = 1
		p.weight = t.defaultWeight
		p.killed.Store(false)
		return p
	}
	return nil
}

// lookup finds the live record with pid. Caller holds the lock.
func (t *procTable) lookup(pid int) *Proc {
	if pid <= 0 {
		return nil
	}
	for i := range t.procs {
		p := &t.procs[i]
		if p.state.IsLive() && p.pid == pid {
			return p
		}
	}
	return nil
}

// wakeup1 makes every process sleeping on ch Runnable and returns how many
// woke. Caller holds the lock.
func (t *procTable) wakeup1(ch Channel) int {
	n := 0
	for i := range t.procs {
		p := &t.procs[i]
		if p.state == ProcessStateSleeping && p.channel == ch {
			t.setState(p, ProcessStateRunnable)
			n++
		}
	}
	return n
}

// countByState tallies live records. Caller holds the lock.
func (t *procTable) countByState() map[ProcessState]int {
	counts := make(map[ProcessState]int)
	for i := range t.procs {
		if s := t.procs[i].state; s.IsLive() {
			counts[s]++
		}
	}
	return counts
}
