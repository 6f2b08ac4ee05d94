package kernel

// =============================================================================
// Queue Selectors
// =============================================================================
//
// Each selector scans the whole table and considers only Runnable records at
// its own level. Comparisons are strict, so among equal candidates the lowest
// slot wins. All selectors run with the table lock held.

// selectRoundRobin picks the RoundRobin process idle the longest. As a side
// effect every Runnable record, at any level, accrues one waiting tick.
func (t *procTable) selectRoundRobin(now int) *Proc {
	var best *Proc
	bestIdle := 0
	for i := range t.procs {
		p := &t.procs[i]
		if p.state != ProcessStateRunnable {
			continue
		}
		p.waitingTicks++
		if p.level != LevelRoundRobin {
			continue
		}
		idle := now - p.lastDispatch
		if best == nil || idle > bestIdle {
			best, bestIdle = p, idle
		}
	}
	return best
}

// selectLastComeFirstServed picks the most recently arrived LCFS process.
func (t *procTable) selectLastComeFirstServed() *Proc {
	var best *Proc
	for i := range t.procs {
		p := &t.procs[i]
		if p.state != ProcessStateRunnable || p.level != LevelLastComeFirstServed {
			continue
		}
		if best == nil || p.arrivalTime > best.arrivalTime {
			best = p
		}
	}
	return best
}

// selectModifiedHRRN picks the MHRRN process with the largest modified
// response ratio.
func (t *procTable) selectModifiedHRRN(now int) *Proc {
	var best *Proc
	bestRatio := 0
	for i := range t.procs {
		p := &t.procs[i]
		if p.state != ProcessStateRunnable || p.level != LevelModifiedHRRN {
			continue
		}
		ratio := ModifiedResponseRatio(now, p.arrivalTime, p.execCount, p.weight)
		if best == nil || ratio > bestRatio {
			best, bestRatio = p, ratio
		}
	}
	return best
}

// selectNext consults the levels in fixed order: RoundRobin, then
// LastComeFirstServed, then ModifiedHRRN.
func (t *procTable) selectNext(now int) *Proc {
	if p := t.selectRoundRobin(now); p != nil {
		return p
	}
	if p := t.selectLastComeFirstServed(); p != nil {
		return p
	}
	return t.selectModifiedHRRN(now)
}

// =============================================================================
// Aging
// =============================================================================

// promotion records one aging promotion for event emission after the sweep.
type promotion struct {
	pid  int
	from QueueLevel
}

// age promotes every record whose waiting ticks reached the threshold to
// RoundRobin and clears its waiting ticks. Promotion is one-way; a record
// already at RoundRobin only has its ticks cleared and is not reported.
func (t *procTable) age() []promotion {
	var promoted []promotion
	for i := range t.procs {
		p := &t.procs[i]
		if !p.state.IsLive() || p.waitingTicks < t.agingThreshold {
			continue
		}
		p.waitingTicks = 0
		if p.level == LevelRoundRobin {
			continue
		}
		promoted = append(promoted, promotion{pid: p.pid, from: p.level})
		p.level = LevelRoundRobin
	}
	return promoted
}
