package kernel

import (
	"sync"
	"time"

	"github.com/jeeves-cluster-organization/procsched/coreengine/observability"
)

// StartTimer starts a background goroutine that raises a timer interrupt
// every interval. Returns a stop function; calling it more than once is safe.
func (k *Kernel) StartTimer(interval time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	SafeGo(k.logger, "timer", func() {
		for {
			select {
			case <-ticker.C:
				k.timerInterrupt()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}, nil)

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// timerInterrupt advances the clock, wakes SleepTicks sleepers and asks
// every core to reschedule at its next boundary check.
func (k *Kernel) timerInterrupt() {
	k.ticksLock.Lock()
	now := k.clock.Tick()
	k.wakeup(nil, k.tickChannel())
	k.ticksLock.Unlock()

	for _, c := range k.cpus {
		c.resched.Store(true)
	}
	observability.SetTicks(now)
}
