package kernel

import (
	"runtime"
	"sync"
)

// System calls available to a running Program. They must be called from the
// process's own goroutine.

// Pid returns the process id.
func (p *Proc) Pid() int { return p.pid }

// Name returns the process name.
func (p *Proc) Name() string { return p.name }

// Kernel returns the kernel the process runs on.
func (p *Proc) Kernel() *Kernel { return p.k }

// Frame returns the process's trap frame.
func (p *Proc) Frame() *TrapFrame { return &p.frame }

// Killed reports whether someone killed the process.
func (p *Proc) Killed() bool { return p.killed.Load() }

// SetName renames the process, as exec does with the program name.
func (p *Proc) SetName(name string) {
	p.k.acquire(p.cpu)
	p.name = name
	p.k.release(p.cpu)
}

// ParentPID returns the pid of the parent, 0 for init.
func (p *Proc) ParentPID() int {
	p.k.acquire(p.cpu)
	defer p.k.release(p.cpu)
	if p.parent < 0 {
		return 0
	}
	return p.k.table.procs[p.parent].pid
}

// Fork creates a child running entry, or the caller's own program when entry
// is nil. The parent gets the child's pid, also stored in its Frame().Ret;
// the child starts with Frame().Ret == 0.
func (p *Proc) Fork(entry Program) (int, error) {
	pid, err := p.k.fork(p, entry)
	if err != nil {
		p.frame.Ret = -1
		return 0, err
	}
	p.frame.Ret = pid
	return pid, nil
}

// Exit terminates the process. It never returns.
func (p *Proc) Exit() {
	p.k.exit(p)
	runtime.Goexit()
}

// Wait blocks until a child exits and returns its pid, or ErrNoChildren.
func (p *Proc) Wait() (int, error) {
	return p.k.wait(p)
}

// Kill flags pid as killed.
func (p *Proc) Kill(pid int) error {
	return p.k.kill(p.cpu, pid)
}

// Yield gives up the core for one scheduling round.
func (p *Proc) Yield() {
	p.k.yield(p)
}

// Sleep atomically releases lk and sleeps on ch; lk is held again on return.
// Wakeups can be spurious with respect to the caller's condition, so Sleep
// belongs in a loop.
func (p *Proc) Sleep(ch Channel, lk sync.Locker) {
	p.k.sleep(p, ch, lk)
}

// Wakeup wakes every process sleeping on ch.
func (p *Proc) Wakeup(ch Channel) {
	p.k.wakeup(p.cpu, ch)
}

// SleepTicks sleeps for n clock ticks. Returns ErrKilled if the process is
// killed meanwhile.
func (p *Proc) SleepTicks(n int) error {
	return p.k.sleepTicks(p, n)
}

// Grow changes the size of the address space by n bytes.
func (p *Proc) Grow(n int) error {
	if err := p.space.Grow(n); err != nil {
		return newError("sbrk", p.pid, err)
	}
	p.k.mem.Switch(p.cpu.id, p.space)
	return nil
}

// Size returns the address space size in bytes.
func (p *Proc) Size() int {
	if p.space == nil {
		return 0
	}
	return p.space.Size()
}

// Trap is the user/kernel boundary check. A killed process exits here and a
// process whose core took a timer tick yields. Long-running programs call it
// between units of work.
func (p *Proc) Trap() {
	if p.killed.Load() {
		p.Exit()
	}
	if p.cpu.resched.Swap(false) {
		p.Yield()
	}
	if p.killed.Load() {
		p.Exit()
	}
}

// Open installs f in the lowest free descriptor slot.
func (p *Proc) Open(f File) (int, error) {
	for fd := range p.files {
		if p.files[fd] == nil {
			p.files[fd] = f
			return fd, nil
		}
	}
	return -1, newError("open", p.pid, ErrTooManyFiles)
}

// Close releases descriptor fd.
func (p *Proc) Close(fd int) error {
	if fd < 0 || fd >= len(p.files) || p.files[fd] == nil {
		return newError("close", p.pid, ErrInvalidArgument)
	}
	p.files[fd].Close()
	p.files[fd] = nil
	return nil
}

// File returns the file at descriptor fd, nil when the slot is empty.
func (p *Proc) File(fd int) File {
	if fd < 0 || fd >= len(p.files) {
		return nil
	}
	return p.files[fd]
}

// Cwd returns the working directory.
func (p *Proc) Cwd() Inode { return p.cwd }
