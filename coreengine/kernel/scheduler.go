package kernel

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jeeves-cluster-organization/procsched/coreengine/observability"
)

// =============================================================================
// Cores
// =============================================================================

// CPU is the per-core state. Only the goroutine currently executing on the
// core touches the plain fields; the timer only sets resched.
type CPU struct {
	id        int
	proc      *Proc        // process running here, nil while the scheduler runs
	scheduler *execContext // where the scheduler loop parks during a dispatch
	ncli      int          // depth of pushOff nesting
	intena    bool         // were interrupts enabled before the first pushOff?
	intr      atomic.Bool  // interrupts enabled
	resched   atomic.Bool  // timer asked the running process to yield
}

// ID returns the core number.
func (c *CPU) ID() int { return c.id }

func (c *CPU) sti() { c.intr.Store(true) }
func (c *CPU) cli() { c.intr.Store(false) }

// pushOff disables interrupts, remembering whether they were on at the
// outermost level. Matched by popOff.
func (c *CPU) pushOff() {
	enabled := c.intr.Load()
	c.cli()
	if c.ncli == 0 {
		c.intena = enabled
	}
	c.ncli++
}

func (c *CPU) popOff() {
	if c.intr.Load() {
		violation("popcli", "cpu %d: interruptible", c.id)
	}
	c.ncli--
	if c.ncli < 0 {
		violation("popcli", "cpu %d: unbalanced", c.id)
	}
	if c.ncli == 0 && c.intena {
		c.sti()
	}
}

// acquire takes the table lock. c is the caller's core, or nil for callers
// that are not running on a core (operators, tests).
func (k *Kernel) acquire(c *CPU) {
	if c != nil {
		c.pushOff()
	}
	k.table.lock.Lock()
}

func (k *Kernel) release(c *CPU) {
	k.table.lock.Unlock()
	if c != nil {
		c.popOff()
	}
}

// =============================================================================
// Scheduler Loop
// =============================================================================

// scheduler is the per-core loop. Each iteration picks a process, updates its
// metrics, ages the table and runs the process until it gives the core back.
// The loop ends when ctx is cancelled or the kernel halts.
func (k *Kernel) scheduler(ctx context.Context, c *CPU) {
	c.proc = nil
	for {
		select {
		case <-ctx.Done():
			return
		case <-k.halt:
			return
		default:
		}

		c.sti()
		k.acquire(c)
		p := k.pickNext()
		if p == nil {
			k.release(c)
			k.idle(ctx)
			continue
		}
		k.dispatch(c, p)
		k.release(c)
	}
}

// pickNext selects the next process and charges it for the dispatch, then
// runs the aging sweep. Caller holds the table lock.
func (k *Kernel) pickNext() *Proc {
	now := k.clock.Ticks()
	p := k.table.selectNext(now)
	if p == nil {
		return nil
	}
	p.waitingTicks = 0
	p.execCount++
	p.lastDispatch = now

	for _, pr := range k.table.age() {
		observability.RecordPromotion(pr.from.String())
		k.emitEvent(NewKernelEvent(KernelEventProcessPromoted, pr.pid, now, map[string]any{
			"from_level": int(pr.from),
			"to_level":   int(LevelRoundRobin),
		}))
		if k.logger != nil {
			k.logger.Debug("process_promoted", "pid", pr.pid, "from_level", pr.from.String())
		}
	}
	return p
}

// dispatch runs p on c until p switches back. Caller holds the table lock,
// which p releases on its side and reacquires before switching back.
func (k *Kernel) dispatch(c *CPU, p *Proc) {
	c.proc = p
	p.cpu = c
	c.resched.Store(false)
	k.mem.Switch(c.id, p.space)
	k.table.setState(p, ProcessStateRunning)
	observability.RecordDispatch(p.level.String())

	swtch(c.scheduler, p.ctx)

	k.mem.SwitchKernel(c.id)
	c.proc = nil
}

// checkSched verifies the preconditions for leaving a process.
func (k *Kernel) checkSched(p *Proc) *CPU {
	c := p.cpu
	if !k.table.lock.holding() {
		violation("sched", "pid %d: table lock not held", p.pid)
	}
	if c.ncli != 1 {
		violation("sched", "pid %d: locks held (ncli=%d)", p.pid, c.ncli)
	}
	if p.state == ProcessStateRunning {
		violation("sched", "pid %d: still running", p.pid)
	}
	if c.intr.Load() {
		violation("sched", "pid %d: interruptible", p.pid)
	}
	return c
}

// sched switches from p back to its core's scheduler. Caller holds only the
// table lock and has already changed p's state. Returns when p is dispatched
// again, possibly on another core.
func (k *Kernel) sched(p *Proc) {
	c := k.checkSched(p)
	intena := c.intena
	swtch(p.ctx, c.scheduler)
	p.cpu.intena = intena
}

// schedFinal leaves p for good. The caller's goroutine must not touch the
// record afterwards.
func (k *Kernel) schedFinal(p *Proc) {
	c := k.checkSched(p)
	c.scheduler.transfer()
}

// yield gives up the core for one scheduling round.
func (k *Kernel) yield(p *Proc) {
	k.acquire(p.cpu)
	k.table.setState(p, ProcessStateRunnable)
	k.sched(p)
	k.release(p.cpu)
}

// kick wakes an idle core after something became Runnable.
func (k *Kernel) kick() {
	select {
	case k.idleCh <- struct{}{}:
	default:
	}
}

// idle parks a core with nothing to run until it is kicked, polled or stopped.
func (k *Kernel) idle(ctx context.Context) {
	t := time.NewTimer(k.idlePoll)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-k.halt:
	case <-k.idleCh:
	case <-t.C:
	}
}
