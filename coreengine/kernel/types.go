// Package kernel implements the process lifecycle and scheduling core of a
// small teaching kernel.
//
// This package provides a fixed process table, fork/exit/wait/kill, sleep and
// wakeup, and a per-core scheduler that chooses among three levels:
//   - RoundRobin: longest time since last dispatch
//   - LastComeFirstServed: latest arrival
//   - ModifiedHRRN: highest weighted response ratio
//
// Processes waiting too long are aged into RoundRobin.
//
// A process is a goroutine running a Program; a core is a goroutine running
// the scheduler loop. Exactly one goroutine executes per core at a time and
// control moves between them by explicit handoff (see swtch.go).
package kernel

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Process States
// =============================================================================

// ProcessState represents the lifecycle state of a process record.
// State transitions:
//
//	UNUSED -> EMBRYO -> RUNNABLE <-> RUNNING -> ZOMBIE -> UNUSED
//	RUNNING -> SLEEPING -> RUNNABLE
//	EMBRYO -> UNUSED (allocation rollback)
type ProcessState string

const (
	// ProcessStateUnused marks a free slot.
	ProcessStateUnused ProcessState = "unused"
	// ProcessStateEmbryo marks a slot being set up by allocate or fork.
	ProcessStateEmbryo ProcessState = "embryo"
	// ProcessStateSleeping indicates the process is blocked on a channel.
	ProcessStateSleeping ProcessState = "sleeping"
	// ProcessStateRunnable indicates the process is ready to run, waiting for a core.
	ProcessStateRunnable ProcessState = "runnable"
	// ProcessStateRunning indicates the process owns a core.
	ProcessStateRunning ProcessState = "running"
	// ProcessStateZombie indicates the process exited but its parent has not waited yet.
	ProcessStateZombie ProcessState = "zombie"
)

// IsLive returns true for any occupied slot.
func (s ProcessState) IsLive() bool {
	return s != ProcessStateUnused && s != ""
}

// Label returns the upper-case name used in the process table dump.
func (s ProcessState) Label() string {
	return strings.ToUpper(string(s))
}

// =============================================================================
// Queue Levels
// =============================================================================

// QueueLevel selects the scheduling policy a process is ranked under.
// Lower levels are always considered first.
type QueueLevel int

const (
	LevelRoundRobin          QueueLevel = 1
	LevelLastComeFirstServed QueueLevel = 2
	LevelModifiedHRRN        QueueLevel = 3
)

// Valid reports whether l names one of the three levels.
func (l QueueLevel) Valid() bool {
	return l >= LevelRoundRobin && l <= LevelModifiedHRRN
}

// String returns the level name.
func (l QueueLevel) String() string {
	switch l {
	case LevelRoundRobin:
		return "round_robin"
	case LevelLastComeFirstServed:
		return "lcfs"
	case LevelModifiedHRRN:
		return "mhrrn"
	default:
		return "level_" + strconv.Itoa(int(l))
	}
}

// ParseQueueLevel accepts a level number or name ("1", "rr", "lcfs", "mhrrn", ...).
func ParseQueueLevel(s string) (QueueLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "rr", "round_robin", "roundrobin":
		return LevelRoundRobin, nil
	case "2", "lcfs", "last_come_first_served":
		return LevelLastComeFirstServed, nil
	case "3", "hrrn", "mhrrn", "modified_hrrn":
		return LevelModifiedHRRN, nil
	}
	return 0, fmt.Errorf("%w: unknown queue level %q", ErrInvalidArgument, s)
}

// =============================================================================
// Process Records
// =============================================================================

// Channel is the key a process sleeps on. It must be a non-nil comparable
// value; sleeping on a slice, map or func is an invariant violation.
// Pointers to the object being waited for are conventional.
type Channel any

// Program is the body of a process. A Program that returns exits the process.
type Program func(p *Proc)

// TrapFrame is the saved user register state copied by fork.
type TrapFrame struct {
	// Ret is the system call return register; a fork child sees 0.
	Ret int
	// Args are the system call argument registers.
	Args [4]int
}

// Proc is one slot of the process table and the handle a Program uses to
// make system calls. Scheduling fields are guarded by the table lock; the
// resources below them belong to the process itself and are only touched by
// its own goroutine or by the parent reaping it.
type Proc struct {
	k    *Kernel
	slot int

	// guarded by the table lock
	state        ProcessState
	pid          int
	parent       int // slot index, -1 for none
	name         string
	level        QueueLevel
	arrivalTime  int
	execCount    int
	waitingTicks int
	lastDispatch int
	weight       int
	channel      Channel
	cpu          *CPU

	killed atomic.Bool

	stack *Stack
	space AddressSpace
	files []File
	cwd   Inode
	frame TrapFrame
	entry Program
	ctx   *execContext
}

// clear returns the record to its boot-time contents. Caller holds the table lock.
func (p *Proc) clear() {
	p.pid = 0
	p.parent = -1
	p.name = ""
	p.level = 0
	p.arrivalTime = 0
	p.execCount = 0
	p.waitingTicks = 0
	p.lastDispatch = 0
	p.weight = 0
	p.channel = nil
	p.killed.Store(false)
	p.stack = nil
	p.space = nil
	p.cwd = nil
	p.frame = TrapFrame{}
	p.entry = nil
	p.ctx = nil
	for i := range p.files {
		p.files[i] = nil
	}
}

// info snapshots the record. Caller holds the table lock.
func (p *Proc) info(now int) ProcessInfo {
	parentPID := 0
	if p.parent >= 0 {
		parentPID = p.k.table.procs[p.parent].pid
	}
	return ProcessInfo{
		Name:                  p.name,
		PID:                   p.pid,
		ParentPID:             parentPID,
		State:                 p.state,
		Level:                 p.level,
		ArrivalTime:           p.arrivalTime,
		ExecCount:             p.execCount,
		WaitingTicks:          p.waitingTicks,
		LastDispatch:          p.lastDispatch,
		Weight:                p.weight,
		ResponseRatio:         ResponseRatio(now, p.arrivalTime, p.execCount),
		ModifiedResponseRatio: ModifiedResponseRatio(now, p.arrivalTime, p.execCount, p.weight),
		Killed:                p.killed.Load(),
	}
}

// ProcessInfo is a point-in-time copy of a process record.
type ProcessInfo struct {
	Name                  string       `json:"name"`
	PID                   int          `json:"pid"`
	ParentPID             int          `json:"parent_pid"`
	State                 ProcessState `json:"state"`
	Level                 QueueLevel   `json:"level"`
	ArrivalTime           int          `json:"arrival_time"`
	ExecCount             int          `json:"exec_count"`
	WaitingTicks          int          `json:"waiting_ticks"`
	LastDispatch          int          `json:"last_dispatch"`
	Weight                int          `json:"weight"`
	ResponseRatio         int          `json:"response_ratio"`
	ModifiedResponseRatio int          `json:"modified_response_ratio"`
	Killed                bool         `json:"killed"`
}

// =============================================================================
// Kernel Events
// =============================================================================

// KernelEventType identifies kernel events.
type KernelEventType string

const (
	KernelEventProcessCreated       KernelEventType = "process.created"
	KernelEventProcessExited        KernelEventType = "process.exited"
	KernelEventProcessReaped        KernelEventType = "process.reaped"
	KernelEventProcessKilled        KernelEventType = "process.killed"
	KernelEventProcessPromoted      KernelEventType = "process.promoted"
	KernelEventProcessLevelChanged  KernelEventType = "process.level_changed"
	KernelEventProcessWeightChanged KernelEventType = "process.weight_changed"
)

// KernelEvent represents a kernel event.
type KernelEvent struct {
	ID        string          `json:"id"`
	EventType KernelEventType `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Tick      int             `json:"tick"`
	PID       int             `json:"pid"`
	Data      map[string]any  `json:"data,omitempty"`
}

// NewKernelEvent creates a new kernel event.
func NewKernelEvent(eventType KernelEventType, pid, tick int, data map[string]any) *KernelEvent {
	return &KernelEvent{
		ID:        uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Tick:      tick,
		PID:       pid,
		Data:      data,
	}
}
