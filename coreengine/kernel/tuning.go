package kernel

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeeves-cluster-organization/procsched/coreengine/observability"
)

var tracer = otel.Tracer("github.com/jeeves-cluster-organization/procsched/coreengine/kernel")

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// =============================================================================
// Tuning
// =============================================================================

// ChangeLevel moves pid to level and clears its waiting ticks.
func (k *Kernel) ChangeLevel(ctx context.Context, pid int, level QueueLevel) (err error) {
	_, span := tracer.Start(ctx, "kernel.change_level", trace.WithAttributes(
		attribute.Int("pid", pid),
		attribute.Int("level", int(level)),
	))
	defer func() { endSpan(span, err) }()

	if !level.Valid() {
		return newError("change_level", pid, fmt.Errorf("%w: level %d", ErrInvalidArgument, int(level)))
	}

	k.acquire(nil)
	p := k.table.lookup(pid)
	if p == nil {
		k.release(nil)
		return newError("change_level", pid, ErrNotFound)
	}
	from := p.level
	p.level = level
	p.waitingTicks = 0
	k.emitEvent(NewKernelEvent(KernelEventProcessLevelChanged, pid, k.clock.Ticks(), map[string]any{
		"from_level": int(from),
		"to_level":   int(level),
	}))
	k.release(nil)

	observability.RecordLevelChange(from.String(), level.String())
	if k.logger != nil {
		k.logger.Info("process_level_changed", "pid", pid, "from", from.String(), "to", level.String())
	}
	return nil
}

// SetWeight sets pid's priority weight.
func (k *Kernel) SetWeight(ctx context.Context, pid, weight int) (err error) {
	_, span := tracer.Start(ctx, "kernel.set_weight", trace.WithAttributes(
		attribute.Int("pid", pid),
		attribute.Int("weight", weight),
	))
	defer func() { endSpan(span, err) }()

	if weight < 1 {
		return newError("set_weight", pid, fmt.Errorf("%w: weight %d", ErrInvalidArgument, weight))
	}

	k.acquire(nil)
	p := k.table.lookup(pid)
	if p == nil {
		k.release(nil)
		return newError("set_weight", pid, ErrNotFound)
	}
	p.weight = weight
	k.emitEvent(NewKernelEvent(KernelEventProcessWeightChanged, pid, k.clock.Ticks(), map[string]any{
		"weight": weight,
	}))
	k.release(nil)

	if k.logger != nil {
		k.logger.Info("process_weight_changed", "pid", pid, "weight", weight)
	}
	return nil
}

// SetWeightAll sets the priority weight of every live process and returns
// how many were changed.
func (k *Kernel) SetWeightAll(ctx context.Context, weight int) (n int, err error) {
	_, span := tracer.Start(ctx, "kernel.set_weight_all", trace.WithAttributes(
		attribute.Int("weight", weight),
	))
	defer func() { endSpan(span, err) }()

	if weight < 1 {
		return 0, newError("set_weight_all", 0, fmt.Errorf("%w: weight %d", ErrInvalidArgument, weight))
	}

	k.acquire(nil)
	now := k.clock.Ticks()
	for i := range k.table.procs {
		p := &k.table.procs[i]
		if !p.state.IsLive() {
			continue
		}
		p.weight = weight
		n++
		k.emitEvent(NewKernelEvent(KernelEventProcessWeightChanged, p.pid, now, map[string]any{
			"weight": weight,
		}))
	}
	k.release(nil)

	span.SetAttributes(attribute.Int("processes", n))
	if k.logger != nil {
		k.logger.Info("weight_changed_all", "weight", weight, "processes", n)
	}
	return n, nil
}

// =============================================================================
// Introspection
// =============================================================================

// Dump snapshots every live record in slot order.
func (k *Kernel) Dump() []ProcessInfo {
	k.acquire(nil)
	defer k.release(nil)

	now := k.clock.Ticks()
	infos := make([]ProcessInfo, 0, len(k.table.procs))
	for i := range k.table.procs {
		p := &k.table.procs[i]
		if p.state.IsLive() {
			infos = append(infos, p.info(now))
		}
	}
	return infos
}

// Process returns a snapshot of pid.
func (k *Kernel) Process(pid int) (ProcessInfo, error) {
	k.acquire(nil)
	defer k.release(nil)

	p := k.table.lookup(pid)
	if p == nil {
		return ProcessInfo{}, newError("process", pid, ErrNotFound)
	}
	return p.info(k.clock.Ticks()), nil
}

// ParentPID returns the parent pid of pid, 0 for init.
func (k *Kernel) ParentPID(pid int) (int, error) {
	info, err := k.Process(pid)
	if err != nil {
		return 0, newError("get_parent_pid", pid, ErrNotFound)
	}
	return info.ParentPID, nil
}

// PrintInfo writes the process table in fixed-width columns.
func (k *Kernel) PrintInfo(w io.Writer) error {
	return FormatProcessTable(w, k.Dump())
}

// FormatProcessTable renders infos the way PrintInfo does.
func FormatProcessTable(w io.Writer, infos []ProcessInfo) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s%-10s%-14s%-10s%-10s%-10s%-10s%-10s\n",
		"NAME", "PID", "STATE", "QUEUE_LVL", "ARR_TIME", "HRRN", "CYCLE", "MHRRN")
	b.WriteString(strings.Repeat("_", 94))
	b.WriteString("\n\n")
	for _, info := range infos {
		fmt.Fprintf(&b, "%-10s%-10d%-14s%-10d%-10d%-10d%-10d%-10d\n",
			info.Name, info.PID, info.State.Label(), int(info.Level),
			info.ArrivalTime, info.ResponseRatio, info.ExecCount, info.ModifiedResponseRatio)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
