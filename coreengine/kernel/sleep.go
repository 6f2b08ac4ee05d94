package kernel

import (
	"reflect"
	"sync"
)

// sleep parks p on ch. lk is released while p sleeps and held again on
// return; when lk is the table lock it is simply kept across the switch.
// Holding the table lock before dropping lk means no wakeup can slip in
// between the caller's check and p going to sleep.
func (k *Kernel) sleep(p *Proc, ch Channel, lk sync.Locker) {
	if p == nil {
		violation("sleep", "no process")
	}
	if lk == nil {
		violation("sleep", "pid %d: without lock", p.pid)
	}
	if !reflect.ValueOf(ch).Comparable() {
		violation("sleep", "pid %d: channel %T is not comparable", p.pid, ch)
	}

	tl := sync.Locker(&k.table.lock)
	if lk != tl {
		k.acquire(p.cpu)
		lk.Unlock()
	}

	p.channel = ch
	k.table.setState(p, ProcessStateSleeping)
	k.sched(p)
	p.channel = nil

	if lk != tl {
		k.release(p.cpu)
		lk.Lock()
	}
}

// Wakeup wakes every process sleeping on ch on behalf of a caller outside
// any process.
func (k *Kernel) Wakeup(ch Channel) {
	k.wakeup(nil, ch)
}

func (k *Kernel) wakeup(c *CPU, ch Channel) {
	k.acquire(c)
	n := k.table.wakeup1(ch)
	k.release(c)
	if n > 0 {
		k.kick()
	}
}

// tickChannel is what SleepTicks sleepers wait on.
func (k *Kernel) tickChannel() Channel {
	return &k.clock
}

func (k *Kernel) sleepTicks(p *Proc, n int) error {
	k.ticksLock.Lock()
	ticks0 := k.clock.Ticks()
	for k.clock.Ticks()-ticks0 < n {
		if p.killed.Load() {
			k.ticksLock.Unlock()
			return newError("sleep", p.pid, ErrKilled)
		}
		k.sleep(p, k.tickChannel(), &k.ticksLock)
	}
	k.ticksLock.Unlock()
	return nil
}
