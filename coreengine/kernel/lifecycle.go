package kernel

import (
	"errors"
	"fmt"

	"github.com/jeeves-cluster-organization/procsched/coreengine/observability"
)

// =============================================================================
// Valid State Transitions
// =============================================================================

// validTransitions defines allowed state transitions.
var validTransitions = map[ProcessState]map[ProcessState]bool{
	ProcessStateUnused: {
		ProcessStateEmbryo: true,
	},
	ProcessStateEmbryo: {
		ProcessStateRunnable: true,
		ProcessStateUnused:   true, // allocation rollback
	},
	ProcessStateRunnable: {
		ProcessStateRunning: true,
	},
	ProcessStateRunning: {
		ProcessStateRunnable: true, // yield
		ProcessStateSleeping: true,
		ProcessStateZombie:   true,
	},
	ProcessStateSleeping: {
		ProcessStateRunnable: true, // wakeup or kill
	},
	ProcessStateZombie: {
		ProcessStateUnused: true, // reaped
	},
}

// IsValidTransition checks if a state transition is valid.
func IsValidTransition(from, to ProcessState) bool {
	if targets, ok := validTransitions[from]; ok {
		return targets[to]
	}
	return false
}

// =============================================================================
// Allocation
// =============================================================================

// allocate claims a slot and a kernel stack. On failure the slot goes back
// to Unused and nothing else changes. c is the caller's core or nil.
func (k *Kernel) allocate(c *CPU) (*Proc, error) {
	k.acquire(c)
	p := k.table.allocSlot(k.clock.Ticks())
	k.release(c)
	if p == nil {
		return nil, ErrNoSlot
	}

	stack, err := k.mem.AllocStack()
	if err != nil {
		k.acquire(c)
		k.free(p)
		k.release(c)
		if !errors.Is(err, ErrOutOfMemory) {
			err = fmt.Errorf("%w: %v", ErrOutOfMemory, err)
		}
		return nil, err
	}
	p.stack = stack
	p.ctx = newExecContext(k.halt, &k.table.lock)
	return p, nil
}

// free returns an Embryo or Zombie record to Unused, releasing its stack and
// address space. Caller holds the table lock.
func (k *Kernel) free(p *Proc) {
	if p.stack != nil {
		k.mem.FreeStack(p.stack)
	}
	if p.space != nil {
		p.space.Free()
	}
	k.table.setState(p, ProcessStateUnused)
	p.clear()
}

// start launches the goroutine of an Embryo record and makes it Runnable.
// Caller holds the table lock.
func (k *Kernel) start(p *Proc) {
	go k.procMain(p)
	k.table.setState(p, ProcessStateRunnable)
}

// procMain is the body of every process goroutine. The first dispatch
// arrives with the table lock held by the scheduler, so the process releases
// it before entering user code.
func (k *Kernel) procMain(p *Proc) {
	p.ctx.park()
	k.release(p.cpu)

	k.runProgram(p)
	p.Exit()
}

// =============================================================================
// Lifecycle Operations
// =============================================================================

// UserInit creates the first process. Orphans are re-parented to it and it
// must never exit.
func (k *Kernel) UserInit(name string, entry Program) (int, error) {
	if entry == nil {
		return 0, newError("userinit", 0, fmt.Errorf("%w: nil program", ErrInvalidArgument))
	}

	k.acquire(nil)
	exists := k.initSlot >= 0
	k.release(nil)
	if exists {
		return 0, newError("userinit", 0, fmt.Errorf("%w: init already created", ErrInvalidArgument))
	}

	p, err := k.allocate(nil)
	if err != nil {
		return 0, newError("userinit", 0, err)
	}
	space, err := k.mem.SetupSpace()
	if err != nil {
		k.acquire(nil)
		k.free(p)
		k.release(nil)
		return 0, newError("userinit", 0, err)
	}
	p.space = space
	p.frame = TrapFrame{}
	p.cwd = k.root.Dup()
	p.entry = entry

	if name == "" {
		name = "initcode"
	}

	k.acquire(nil)
	p.name = name
	k.initSlot = p.slot
	pid := p.pid
	k.start(p)
	k.emitEvent(NewKernelEvent(KernelEventProcessCreated, pid, p.arrivalTime, map[string]any{
		"name": name,
		"init": true,
	}))
	k.release(nil)
	k.kick()

	observability.RecordLifecycleEvent("fork")
	if k.logger != nil {
		k.logger.Info("init_created", "pid", pid, "name", name)
	}
	return pid, nil
}

// fork creates a child of parent running entry (parent's program when nil).
// The child's trap frame is the parent's with Ret cleared.
func (k *Kernel) fork(parent *Proc, entry Program) (int, error) {
	np, err := k.allocate(parent.cpu)
	if err != nil {
		return 0, newError("fork", parent.pid, err)
	}

	space, err := k.mem.CopySpace(parent.space)
	if err != nil {
		k.acquire(parent.cpu)
		k.free(np)
		k.release(parent.cpu)
		if !errors.Is(err, ErrOutOfMemory) {
			err = fmt.Errorf("%w: %v", ErrOutOfMemory, err)
		}
		return 0, newError("fork", parent.pid, err)
	}
	np.space = space
	np.frame = parent.frame
	np.frame.Ret = 0
	for fd, f := range parent.files {
		if f != nil {
			np.files[fd] = f.Dup()
		}
	}
	if parent.cwd != nil {
		np.cwd = parent.cwd.Dup()
	}
	np.entry = entry
	if np.entry == nil {
		np.entry = parent.entry
	}

	k.acquire(parent.cpu)
	np.parent = parent.slot
	np.name = parent.name
	pid := np.pid
	k.start(np)
	k.emitEvent(NewKernelEvent(KernelEventProcessCreated, pid, np.arrivalTime, map[string]any{
		"parent_pid": parent.pid,
		"name":       np.name,
	}))
	k.release(parent.cpu)
	k.kick()

	observability.RecordLifecycleEvent("fork")
	if k.logger != nil {
		k.logger.Debug("process_forked", "pid", pid, "parent_pid", parent.pid)
	}
	return pid, nil
}

// exit releases p's files, hands its children to init, wakes its parent and
// leaves p a Zombie. It returns only to let the caller end the goroutine.
func (k *Kernel) exit(p *Proc) {
	if p.slot == k.initSlot {
		violation("exit", "init exiting")
	}

	for fd, f := range p.files {
		if f != nil {
			f.Close()
			p.files[fd] = nil
		}
	}
	if p.cwd != nil {
		p.cwd.Put()
		p.cwd = nil
	}

	k.acquire(p.cpu)

	// Parent might be sleeping in wait.
	if p.parent >= 0 {
		k.table.wakeup1(&k.table.procs[p.parent])
	}

	initProc := &k.table.procs[k.initSlot]
	for i := range k.table.procs {
		q := &k.table.procs[i]
		if q.parent != p.slot || !q.state.IsLive() {
			continue
		}
		q.parent = k.initSlot
		if q.state == ProcessStateZombie {
			k.table.wakeup1(initProc)
		}
	}

	now := k.clock.Ticks()
	k.table.setState(p, ProcessStateZombie)
	k.emitEvent(NewKernelEvent(KernelEventProcessExited, p.pid, now, map[string]any{
		"killed": p.killed.Load(),
	}))
	observability.RecordLifecycleEvent("exit")
	if k.logger != nil {
		k.logger.Debug("process_exited", "pid", p.pid, "killed", p.killed.Load())
	}
	k.kick()

	k.schedFinal(p)
}

// wait reaps one Zombie child of p and returns its pid.
func (k *Kernel) wait(p *Proc) (int, error) {
	k.acquire(p.cpu)
	for {
		haveKids := false
		for i := range k.table.procs {
			q := &k.table.procs[i]
			if q.parent != p.slot || !q.state.IsLive() {
				continue
			}
			haveKids = true
			if q.state == ProcessStateZombie {
				pid := q.pid
				k.free(q)
				k.emitEvent(NewKernelEvent(KernelEventProcessReaped, pid, k.clock.Ticks(), map[string]any{
					"parent_pid": p.pid,
				}))
				k.release(p.cpu)
				observability.RecordLifecycleEvent("reap")
				return pid, nil
			}
		}

		if !haveKids || p.killed.Load() {
			k.release(p.cpu)
			return 0, newError("wait", p.pid, ErrNoChildren)
		}

		// Sleep on our own record; exit wakes the parent with it.
		k.sleep(p, p, &k.table.lock)
	}
}

// kill flags pid as killed and wakes it if it is sleeping. c is the
// caller's core or nil.
func (k *Kernel) kill(c *CPU, pid int) error {
	k.acquire(c)
	p := k.table.lookup(pid)
	if p == nil {
		k.release(c)
		return newError("kill", pid, ErrNotFound)
	}
	p.killed.Store(true)
	if p.state == ProcessStateSleeping {
		k.table.setState(p, ProcessStateRunnable)
	}
	k.emitEvent(NewKernelEvent(KernelEventProcessKilled, pid, k.clock.Ticks(), nil))
	k.release(c)
	k.kick()

	observability.RecordLifecycleEvent("kill")
	if k.logger != nil {
		k.logger.Info("process_killed", "pid", pid)
	}
	return nil
}

// Kill flags pid as killed on behalf of a caller outside any process.
func (k *Kernel) Kill(pid int) error {
	return k.kill(nil, pid)
}
