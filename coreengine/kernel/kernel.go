// Package kernel provides the scheduler core - unified kernel interface.
//
// The Kernel composes:
//   - procTable (fixed process records, pids, state machine)
//   - per-core scheduler loops and the dispatcher
//   - Memory, Clock and root Inode collaborators
//   - the tick timer, table sampler and semaphore table
//
// This is the main entry point for the kernel layer.
package kernel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jeeves-cluster-organization/procsched/coreengine/config"
)

// Logger is the structured logger used throughout the kernel.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// =============================================================================
// Kernel
// =============================================================================

// Kernel owns the process table and the cores that schedule it.
//
// Usage:
//
//	k := NewKernel(logger, cfg)
//	k.UserInit("init", func(p *kernel.Proc) {
//	    p.Fork(worker)
//	    for {
//	        p.Wait()
//	    }
//	})
//	k.Start(ctx)
//	defer k.Shutdown(ctx)
type Kernel struct {
	config *config.CoreConfig
	logger Logger
	bootID string

	table    *procTable
	cpus     []*CPU
	initSlot int // guarded by the table lock

	mem   Memory
	clock Clock
	root  Inode
	sems  *SemaphoreTable

	// ticksLock serializes clock advances with SleepTicks sleepers.
	ticksLock sync.Mutex

	idleCh   chan struct{}
	idlePoll time.Duration
	halt     chan struct{}
	haltOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  atomic.Bool

	stopTimer   func()
	stopSampler func()

	// Event listeners
	eventHandlers []KernelEventHandler
	eventMu       sync.RWMutex

	startedAt time.Time
}

// KernelEventHandler handles kernel events. Handlers run synchronously,
// usually with the table lock held, and must not block or call back into
// the kernel.
type KernelEventHandler func(*KernelEvent)

// Option customizes a Kernel.
type Option func(*Kernel)

// WithMemory replaces the default page pool.
func WithMemory(m Memory) Option {
	return func(k *Kernel) { k.mem = m }
}

// WithClock replaces the default tick clock.
func WithClock(c Clock) Option {
	return func(k *Kernel) { k.clock = c }
}

// WithRootInode sets the working directory given to init.
func WithRootInode(ip Inode) Option {
	return func(k *Kernel) { k.root = ip }
}

// WithEventHandler subscribes handler before the kernel boots, so it sees
// the events of init and its first children.
func WithEventHandler(handler KernelEventHandler) Option {
	return func(k *Kernel) { k.eventHandlers = append(k.eventHandlers, handler) }
}

// NewKernel allocates the process table and cores. A nil cfg uses the
// globally configured CoreConfig.
func NewKernel(logger Logger, cfg *config.CoreConfig, opts ...Option) *Kernel {
	if cfg == nil {
		cfg = config.GetCoreConfig()
	}

	k := &Kernel{
		config:        cfg,
		logger:        logger,
		bootID:        uuid.NewString(),
		initSlot:      -1,
		idleCh:        make(chan struct{}, cfg.NumCPU),
		idlePoll:      cfg.IdlePoll(),
		halt:          make(chan struct{}),
		eventHandlers: []KernelEventHandler{},
		startedAt:     time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.mem == nil {
		k.mem = NewPageMemory(cfg.MemoryPages)
	}
	if k.clock == nil {
		k.clock = &TickClock{}
	}
	if k.root == nil {
		k.root = NewRefInode("/")
	}
	if k.idlePoll <= 0 {
		k.idlePoll = time.Millisecond
	}

	k.table = newProcTable(k, cfg.MaxProcesses, cfg.MaxOpenFiles,
		QueueLevel(cfg.DefaultLevel), cfg.DefaultWeight, cfg.AgingThreshold)
	k.cpus = make([]*CPU, cfg.NumCPU)
	for i := range k.cpus {
		k.cpus[i] = &CPU{id: i, scheduler: newExecContext(k.halt, &k.table.lock)}
	}
	k.sems = newSemaphoreTable(k, defaultSemaphores)

	if logger != nil {
		logger.Info("kernel_initialized",
			"boot_id", k.bootID,
			"max_processes", cfg.MaxProcesses,
			"num_cpu", cfg.NumCPU,
			"aging_threshold", cfg.AgingThreshold,
			"default_level", QueueLevel(cfg.DefaultLevel).String(),
		)
	}

	return k
}

// Config returns the configuration the kernel booted with.
func (k *Kernel) Config() *config.CoreConfig {
	return k.config
}

// Clock returns the kernel clock.
func (k *Kernel) Clock() Clock {
	return k.clock
}

// Semaphores returns the kernel semaphore table.
func (k *Kernel) Semaphores() *SemaphoreTable {
	return k.sems
}

// BootID identifies this kernel instance.
func (k *Kernel) BootID() string {
	return k.bootID
}

// =============================================================================
// Start / Shutdown
// =============================================================================

// Start launches one scheduler loop per core and, when configured, the tick
// timer. The loops run until ctx is cancelled or Shutdown is called.
func (k *Kernel) Start(ctx context.Context) error {
	if !k.started.CompareAndSwap(false, true) {
		return errors.New("kernel already started")
	}

	ctx, k.cancel = context.WithCancel(ctx)
	for _, c := range k.cpus {
		k.wg.Add(1)
		go func(c *CPU) {
			defer k.wg.Done()
			k.scheduler(ctx, c)
		}(c)
	}

	if interval := k.config.TickInterval(); interval > 0 {
		k.stopTimer = k.StartTimer(interval)
	}
	if interval := k.config.SampleInterval(); interval > 0 {
		k.stopSampler = k.StartSampler(interval)
	}

	if k.logger != nil {
		k.logger.Info("kernel_started",
			"num_cpu", len(k.cpus),
			"tick_interval_ms", k.config.TickIntervalMs,
		)
	}
	return nil
}

// Shutdown kills every process except init, stops the timer and halts the
// cores. Parked processes and schedulers end at their next handoff; the call
// returns once every scheduler loop has stopped or ctx expires.
func (k *Kernel) Shutdown(ctx context.Context) error {
	if k.logger != nil {
		k.logger.Info("kernel_shutdown_initiated")
	}

	for _, info := range k.Dump() {
		if info.ParentPID == 0 {
			continue
		}
		if err := k.kill(nil, info.PID); err != nil && !errors.Is(err, ErrNotFound) && k.logger != nil {
			k.logger.Warn("shutdown_kill_failed", "pid", info.PID, "error", err.Error())
		}
	}

	if k.stopTimer != nil {
		k.stopTimer()
	}
	if k.stopSampler != nil {
		k.stopSampler()
	}
	if k.cancel != nil {
		k.cancel()
	}
	k.haltOnce.Do(func() { close(k.halt) })

	done := make(chan struct{})
	go func() {
		k.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if k.logger != nil {
			k.logger.Warn("shutdown_cancelled", "error", ctx.Err().Error())
		}
		return ctx.Err()
	}

	if k.logger != nil {
		k.logger.Info("kernel_shutdown_completed")
	}
	return nil
}

// =============================================================================
// Event System
// =============================================================================

// OnEvent registers an event handler.
func (k *Kernel) OnEvent(handler KernelEventHandler) {
	k.eventMu.Lock()
	defer k.eventMu.Unlock()
	k.eventHandlers = append(k.eventHandlers, handler)
}

// emitEvent emits an event to all handlers.
func (k *Kernel) emitEvent(event *KernelEvent) {
	k.eventMu.RLock()
	handlers := make([]KernelEventHandler, len(k.eventHandlers))
	copy(handlers, k.eventHandlers)
	k.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// =============================================================================
// System Status
// =============================================================================

// Status returns overall system status.
func (k *Kernel) Status() map[string]any {
	k.acquire(nil)
	byState := k.table.countByState()
	byLevel := map[string]int{}
	total := 0
	for i := range k.table.procs {
		p := &k.table.procs[i]
		if p.state.IsLive() {
			total++
			byLevel[p.level.String()]++
		}
	}
	k.release(nil)

	states := make(map[string]any, len(byState))
	for s, n := range byState {
		states[string(s)] = n
	}
	levels := make(map[string]any, len(byLevel))
	for l, n := range byLevel {
		levels[l] = n
	}

	return map[string]any{
		"boot_id": k.bootID,
		"processes": map[string]any{
			"total":    total,
			"capacity": len(k.table.procs),
			"by_state": states,
			"by_level": levels,
		},
		"num_cpu":         len(k.cpus),
		"ticks":           k.clock.Ticks(),
		"aging_threshold": k.table.agingThreshold,
		"uptime_seconds":  time.Since(k.startedAt).Seconds(),
	}
}
