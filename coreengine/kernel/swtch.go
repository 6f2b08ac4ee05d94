package kernel

import "runtime"

// execContext is one side of a context switch: the parking spot of either a
// scheduler goroutine or a process goroutine. A goroutine runs only between
// receiving on its own context and handing off to another.
type execContext struct {
	resume chan struct{}
	halt   <-chan struct{}
	lock   *tableLock
}

func newExecContext(halt <-chan struct{}, lock *tableLock) *execContext {
	return &execContext{resume: make(chan struct{}), halt: halt, lock: lock}
}

// swtch resumes next and parks the caller on prev until something switches
// back to it. Once the kernel halts, parked goroutines exit instead.
func swtch(prev, next *execContext) {
	next.transfer()
	prev.park()
}

// transfer hands the core, and the table lock with it, to c. If the kernel
// halted the lock is dropped instead so that no exited goroutine keeps it.
func (c *execContext) transfer() {
	select {
	case c.resume <- struct{}{}:
	case <-c.halt:
		if c.lock.holding() {
			c.lock.Unlock()
		}
		runtime.Goexit()
	}
}

// park blocks until the core is handed back.
func (c *execContext) park() {
	select {
	case <-c.resume:
	case <-c.halt:
		runtime.Goexit()
	}
}
