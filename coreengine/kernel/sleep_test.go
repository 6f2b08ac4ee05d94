package kernel

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSleepWakeup_RoundTrip(t *testing.T) {
	var mu sync.Mutex
	ready := false
	var ch struct{ name string }
	woke := make(chan bool, 1)

	k := bootKernel(t, testConfig(2), func(p *Proc) {
		pid, _ := p.Fork(func(c *Proc) {
			mu.Lock()
			for !ready {
				c.Sleep(&ch, &mu)
			}
			mu.Unlock()
			woke <- true
		})
		for stateOf(p.Kernel(), pid) != ProcessStateSleeping {
			p.Yield()
		}
		mu.Lock()
		ready = true
		p.Wakeup(&ch)
		mu.Unlock()
		_, _ = p.Wait()
		parkForever(p)
	})

	assert.True(t, recv(t, woke))
	assert.Eventually(t, func() bool { return len(k.Dump()) == 1 }, 5*time.Second, time.Millisecond)
}

func TestWakeup_OnlyMatchingChannel(t *testing.T) {
	var a, b int
	children := make(chan int, 2)

	k := bootKernel(t, testConfig(2), func(p *Proc) {
		for _, ch := range []*int{&a, &b} {
			pid, _ := p.Fork(func(c *Proc) {
				var mu sync.Mutex
				mu.Lock()
				c.Sleep(ch, &mu)
				mu.Unlock()
			})
			children <- pid
		}
		for {
			if _, err := p.Wait(); err != nil {
				break
			}
		}
		parkForever(p)
	})

	onA, onB := recv(t, children), recv(t, children)
	require.Eventually(t, func() bool {
		return stateOf(k, onA) == ProcessStateSleeping && stateOf(k, onB) == ProcessStateSleeping
	}, 5*time.Second, time.Millisecond)

	k.Wakeup(&a)

	assert.Eventually(t, func() bool { return stateOf(k, onA) == ProcessStateUnused },
		5*time.Second, time.Millisecond, "woken sleeper ran to exit and was reaped")
	assert.Equal(t, ProcessStateSleeping, stateOf(k, onB))
}

func TestWakeup_NoSleepersIsNoop(t *testing.T) {
	k := bootKernel(t, testConfig(1), parkForever)
	var ch int

	assert.NotPanics(t, func() { k.Wakeup(&ch) })
}

func TestSleepTicks(t *testing.T) {
	slept := make(chan int, 1)
	started := make(chan int, 1)

	k := bootKernel(t, testConfig(2), func(p *Proc) {
		start := p.Kernel().Clock().Ticks()
		started <- start
		if err := p.SleepTicks(3); err != nil {
			slept <- -1
			parkForever(p)
		}
		slept <- p.Kernel().Clock().Ticks() - start
		parkForever(p)
	})

	recv(t, started)
	require.Eventually(t, func() bool { return stateOf(k, 1) == ProcessStateSleeping },
		5*time.Second, time.Millisecond)

	for i := 0; i < 2; i++ {
		k.timerInterrupt()
	}
	select {
	case <-slept:
		t.Fatal("woke before three ticks")
	case <-time.After(20 * time.Millisecond):
	}

	k.timerInterrupt()
	assert.GreaterOrEqual(t, recv(t, slept), 3)
}

func TestSleepTicks_Killed(t *testing.T) {
	errs := make(chan error, 1)
	children := make(chan int, 1)

	k := bootKernel(t, testConfig(2), func(p *Proc) {
		pid, _ := p.Fork(func(c *Proc) {
			errs <- c.SleepTicks(1000)
		})
		children <- pid
		_, _ = p.Wait()
		parkForever(p)
	})

	pid := recv(t, children)
	require.Eventually(t, func() bool { return stateOf(k, pid) == ProcessStateSleeping },
		5*time.Second, time.Millisecond)
	require.NoError(t, k.Kill(pid))

	err := recv(t, errs)
	require.ErrorIs(t, err, ErrKilled)
	assert.Equal(t, KindKilled, KindOf(err))
}

func TestSleep_WithoutLockPanics(t *testing.T) {
	k := NewKernel(nil, testConfig(1))
	_, err := k.UserInit("init", parkForever)
	require.NoError(t, err)
	defer k.Shutdown(t.Context())
	p := &k.table.procs[k.initSlot]

	assert.PanicsWithError(t, "kernel invariant violated in sleep: pid 1: without lock",
		func() { k.sleep(p, p, nil) })
	assert.PanicsWithError(t, "kernel invariant violated in sleep: no process",
		func() { k.sleep(nil, p, &sync.Mutex{}) })
}
