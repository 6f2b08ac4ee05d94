package main

import (
	"sync"

	"github.com/jeeves-cluster-organization/procsched/coreengine/kernel"
)

// trapEvery is how many loop iterations a worker runs between trap checks.
const trapEvery = 1000

// workload describes the CPU-bound load procschedd keeps running.
type workload struct {
	workers int // children forked by each foo
	work    int // loop iterations per worker
	rest    int // ticks init sleeps between batches
}

// initProgram is pid 1: it starts a foo batch, reaps whatever exits and
// starts the next batch once the table has drained.
func (w workload) initProgram(p *kernel.Proc) {
	for {
		if _, err := p.Fork(w.foo); err == nil {
			for {
				if _, err := p.Wait(); err != nil {
					break
				}
			}
		}
		if err := p.SleepTicks(w.rest); err != nil {
			park(p)
		}
	}
}

// park blocks init for good once it has been killed; init may not exit.
func park(p *kernel.Proc) {
	var mu sync.Mutex
	mu.Lock()
	for {
		p.Sleep(&mu, &mu)
	}
}

// foo forks the workers and waits for all of them.
func (w workload) foo(p *kernel.Proc) {
	p.SetName("foo")
	for i := 0; i < w.workers; i++ {
		if _, err := p.Fork(w.spin); err != nil {
			break
		}
	}
	for {
		if _, err := p.Wait(); err != nil {
			return
		}
	}
}

// spin burns CPU, giving the timer a chance to preempt it at every trap.
func (w workload) spin(p *kernel.Proc) {
	p.SetName("worker")
	x := 0
	for i := 0; i < w.work; i++ {
		x += i * i
		if i%trapEvery == 0 {
			p.Trap()
		}
	}
	p.Frame().Ret = x
}
