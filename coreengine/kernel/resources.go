package kernel

import (
	"sync"
	"sync/atomic"
)

// =============================================================================
// Collaborator Interfaces
// =============================================================================
//
// The kernel owns process records and scheduling. Memory, time and files
// belong to other subsystems and are consumed through these interfaces.

// Memory allocates kernel stacks and user address spaces.
type Memory interface {
	AllocStack() (*Stack, error)
	FreeStack(s *Stack)
	// SetupSpace creates the first address space, used by init.
	SetupSpace() (AddressSpace, error)
	// CopySpace duplicates an address space for fork.
	CopySpace(src AddressSpace) (AddressSpace, error)
	// Switch activates space on a core before a process runs there.
	Switch(cpu int, space AddressSpace)
	// SwitchKernel restores the scheduler's address space on a core.
	SwitchKernel(cpu int)
}

// AddressSpace is a process's user memory.
type AddressSpace interface {
	Size() int
	Grow(n int) error
	Free()
}

// Stack is a kernel stack handed out by Memory.
type Stack struct {
	Pages int
}

// Clock is the global tick counter.
type Clock interface {
	Ticks() int
	Tick() int
}

// File is an open file handle; Dup shares it and bumps its reference count.
type File interface {
	Dup() File
	Close()
}

// Inode is a reference to a file system node, used for the working directory.
type Inode interface {
	Dup() Inode
	Put()
}

// =============================================================================
// Page Memory
// =============================================================================

// PageSize is the allocation unit of PageMemory.
const PageSize = 4096

// PageMemory is an in-memory Memory backed by a finite pool of pages.
// Allocation fails with ErrOutOfMemory once the pool is exhausted.
type PageMemory struct {
	mu     sync.Mutex
	total  int
	free   int
	active map[int]AddressSpace
}

// NewPageMemory creates a pool of pages.
func NewPageMemory(pages int) *PageMemory {
	return &PageMemory{
		total:  pages,
		free:   pages,
		active: make(map[int]AddressSpace),
	}
}

func pagesFor(size int) int {
	return (size + PageSize - 1) / PageSize
}

func (m *PageMemory) take(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > m.free {
		return ErrOutOfMemory
	}
	m.free -= n
	return nil
}

func (m *PageMemory) give(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.free += n
	if m.free > m.total {
		violation("kfree", "page pool overflow: %d free of %d", m.free, m.total)
	}
}

// FreePages returns the number of unallocated pages.
func (m *PageMemory) FreePages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.free
}

// AllocStack takes one page for a kernel stack.
func (m *PageMemory) AllocStack() (*Stack, error) {
	if err := m.take(1); err != nil {
		return nil, err
	}
	return &Stack{Pages: 1}, nil
}

// FreeStack returns a kernel stack to the pool.
func (m *PageMemory) FreeStack(s *Stack) {
	if s != nil {
		m.give(s.Pages)
	}
}

// SetupSpace creates a one-page address space.
func (m *PageMemory) SetupSpace() (AddressSpace, error) {
	if err := m.take(1); err != nil {
		return nil, err
	}
	return &pageSpace{mem: m, size: PageSize}, nil
}

// CopySpace allocates a space of the same size as src.
func (m *PageMemory) CopySpace(src AddressSpace) (AddressSpace, error) {
	size := 0
	if src != nil {
		size = src.Size()
	}
	if err := m.take(pagesFor(size)); err != nil {
		return nil, err
	}
	return &pageSpace{mem: m, size: size}, nil
}

// Switch records space as active on cpu.
func (m *PageMemory) Switch(cpu int, space AddressSpace) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[cpu] = space
}

// SwitchKernel clears the active space on cpu.
func (m *PageMemory) SwitchKernel(cpu int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, cpu)
}

// Active returns the user space active on cpu, nil while the scheduler runs.
func (m *PageMemory) Active(cpu int) AddressSpace {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[cpu]
}

// pageSpace is owned by a single process and needs no lock of its own.
type pageSpace struct {
	mem   *PageMemory
	size  int
	freed bool
}

func (s *pageSpace) Size() int { return s.size }

func (s *pageSpace) Grow(n int) error {
	newSize := s.size + n
	if newSize < 0 {
		return ErrInvalidArgument
	}
	delta := pagesFor(newSize) - pagesFor(s.size)
	if delta > 0 {
		if err := s.mem.take(delta); err != nil {
			return err
		}
	} else if delta < 0 {
		s.mem.give(-delta)
	}
	s.size = newSize
	return nil
}

func (s *pageSpace) Free() {
	if s.freed {
		return
	}
	s.freed = true
	s.mem.give(pagesFor(s.size))
}

// =============================================================================
// Clock
// =============================================================================

// TickClock is a Clock advanced by the timer.
type TickClock struct {
	ticks atomic.Int64
}

// Ticks returns the current tick.
func (c *TickClock) Ticks() int { return int(c.ticks.Load()) }

// Tick advances the clock and returns the new tick.
func (c *TickClock) Tick() int { return int(c.ticks.Add(1)) }

// Set moves the clock to n.
func (c *TickClock) Set(n int) { c.ticks.Store(int64(n)) }

// =============================================================================
// Reference-counted Files
// =============================================================================

// RefFile is a File that only counts references.
type RefFile struct {
	Name string
	refs atomic.Int32
}

// NewRefFile returns a file with one reference.
func NewRefFile(name string) *RefFile {
	f := &RefFile{Name: name}
	f.refs.Store(1)
	return f
}

// Dup adds a reference.
func (f *RefFile) Dup() File {
	f.refs.Add(1)
	return f
}

// Close drops a reference.
func (f *RefFile) Close() {
	if f.refs.Add(-1) < 0 {
		violation("fileclose", "%s: reference count below zero", f.Name)
	}
}

// Refs returns the current reference count.
func (f *RefFile) Refs() int { return int(f.refs.Load()) }

// RefInode is an Inode that only counts references.
type RefInode struct {
	Path string
	refs atomic.Int32
}

// NewRefInode returns an inode with one reference.
func NewRefInode(path string) *RefInode {
	ip := &RefInode{Path: path}
	ip.refs.Store(1)
	return ip
}

// Dup adds a reference.
func (ip *RefInode) Dup() Inode {
	ip.refs.Add(1)
	return ip
}

// Put drops a reference.
func (ip *RefInode) Put() {
	if ip.refs.Add(-1) < 0 {
		violation("iput", "%s: reference count below zero", ip.Path)
	}
}

// Refs returns the current reference count.
func (ip *RefInode) Refs() int { return int(ip.refs.Load()) }
