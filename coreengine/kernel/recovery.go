// Package kernel provides panic recovery utilities for kernel goroutines.
//
// Ordinary panics in background goroutines and in user programs are logged
// and contained. An *InvariantViolation is never contained: it means the
// process table can no longer be trusted, so it is re-raised.
package kernel

import (
	"runtime/debug"
)

// SafeGo runs a goroutine with panic recovery.
// If the goroutine panics, the panic is logged and the onPanic callback is called.
func SafeGo(logger Logger, operation string, fn func(), onPanic func(recovered any)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if v, ok := r.(*InvariantViolation); ok {
					panic(v)
				}
				stack := string(debug.Stack())
				if logger != nil {
					logger.Error("goroutine_panic_recovered",
						"operation", operation,
						"panic", r,
						"stack", stack,
					)
				}
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}

// runProgram runs p's program. A panicking program is treated as a faulting
// process: it is marked killed and the caller exits it.
func (k *Kernel) runProgram(p *Proc) {
	defer func() {
		if r := recover(); r != nil {
			if v, ok := r.(*InvariantViolation); ok {
				panic(v)
			}
			p.killed.Store(true)
			if k.logger != nil {
				k.logger.Error("process_fault",
					"pid", p.pid,
					"panic", r,
					"stack", string(debug.Stack()),
				)
			}
		}
	}()
	p.entry(p)
}
