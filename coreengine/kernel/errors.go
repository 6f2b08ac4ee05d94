package kernel

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Kinds
// =============================================================================

// ErrorKind classifies kernel errors for callers that map them onto another
// error space, such as gRPC status codes.
type ErrorKind string

const (
	KindResourceExhausted ErrorKind = "resource_exhausted"
	KindNotFound          ErrorKind = "not_found"
	KindNoChildren        ErrorKind = "no_children"
	KindInvalidArgument   ErrorKind = "invalid_argument"
	KindKilled            ErrorKind = "killed"
	KindUnknown           ErrorKind = "unknown"
)

// Sentinel errors. Compare with errors.Is; kernel operations wrap them in
// *KernelError.
var (
	ErrNoSlot          = errors.New("no free process slot")
	ErrOutOfMemory     = errors.New("out of memory")
	ErrTooManyFiles    = errors.New("too many open files")
	ErrNotFound        = errors.New("no such process")
	ErrNoChildren      = errors.New("no children")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrKilled          = errors.New("process killed")
)

// KernelError records the operation and process an error came from.
type KernelError struct {
	Op  string
	PID int
	Err error
}

// Error returns a string representation of the error.
func (e *KernelError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("%s pid %d: %v", e.Op, e.PID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying sentinel.
func (e *KernelError) Unwrap() error {
	return e.Err
}

// Kind classifies the error.
func (e *KernelError) Kind() ErrorKind {
	return KindOf(e.Err)
}

// KindOf classifies any error returned by the kernel.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoSlot), errors.Is(err, ErrOutOfMemory), errors.Is(err, ErrTooManyFiles):
		return KindResourceExhausted
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrNoChildren):
		return KindNoChildren
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrKilled):
		return KindKilled
	default:
		return KindUnknown
	}
}

func newError(op string, pid int, err error) *KernelError {
	return &KernelError{Op: op, PID: pid, Err: err}
}

// =============================================================================
// Invariant Violations
// =============================================================================

// InvariantViolation is the panic value raised when kernel state is
// inconsistent: an illegal state transition, a misused lock, init exiting.
// It is never recovered by the kernel.
type InvariantViolation struct {
	Op     string
	Detail string
}

// Error returns a string representation of the violation.
func (v *InvariantViolation) Error() string {
	return fmt.Sprintf("kernel invariant violated in %s: %s", v.Op, v.Detail)
}

func violation(op, format string, args ...any) {
	panic(&InvariantViolation{Op: op, Detail: fmt.Sprintf(format, args...)})
}
