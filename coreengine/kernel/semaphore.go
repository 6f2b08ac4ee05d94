package kernel

import (
	"fmt"
	"sync"
)

// defaultSemaphores is the size of the kernel semaphore table.
const defaultSemaphores = 16

// Semaphore is a counting semaphore for processes, built on sleep/wakeup.
type Semaphore struct {
	k     *Kernel
	mu    sync.Mutex
	value int
}

// Acquire takes one unit, sleeping while none is available. Returns
// ErrKilled if p is killed while waiting.
func (s *Semaphore) Acquire(p *Proc) error {
	s.mu.Lock()
	for s.value <= 0 {
		if p.Killed() {
			s.mu.Unlock()
			return newError("sem_acquire", p.pid, ErrKilled)
		}
		s.k.sleep(p, s, &s.mu)
	}
	s.value--
	s.mu.Unlock()
	return nil
}

// Release returns one unit and wakes the waiters. p is the releasing
// process, or nil for callers not running on a core.
func (s *Semaphore) Release(p *Proc) {
	var c *CPU
	if p != nil {
		c = p.cpu
	}
	s.mu.Lock()
	s.value++
	s.k.wakeup(c, s)
	s.mu.Unlock()
}

// Value returns the current count.
func (s *Semaphore) Value() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// SemaphoreTable holds the system-wide semaphores addressed by id.
type SemaphoreTable struct {
	sems []*Semaphore
}

func newSemaphoreTable(k *Kernel, n int) *SemaphoreTable {
	t := &SemaphoreTable{sems: make([]*Semaphore, n)}
	for i := range t.sems {
		t.sems[i] = &Semaphore{k: k}
	}
	return t
}

// Init sets semaphore id to n units.
func (t *SemaphoreTable) Init(id, n int) error {
	s, err := t.Get(id)
	if err != nil {
		return err
	}
	if n < 0 {
		return newError("sem_init", 0, fmt.Errorf("%w: negative count %d", ErrInvalidArgument, n))
	}
	s.mu.Lock()
	s.value = n
	s.mu.Unlock()
	return nil
}

// Get returns semaphore id.
func (t *SemaphoreTable) Get(id int) (*Semaphore, error) {
	if id < 0 || id >= len(t.sems) {
		return nil, newError("sem", 0, fmt.Errorf("%w: semaphore %d", ErrInvalidArgument, id))
	}
	return t.sems[id], nil
}

// Acquire takes one unit of semaphore id on behalf of p.
func (t *SemaphoreTable) Acquire(p *Proc, id int) error {
	s, err := t.Get(id)
	if err != nil {
		return err
	}
	return s.Acquire(p)
}

// Release returns one unit of semaphore id on behalf of p, which may be nil.
func (t *SemaphoreTable) Release(p *Proc, id int) error {
	s, err := t.Get(id)
	if err != nil {
		return err
	}
	s.Release(p)
	return nil
}
