package kernel

// Scheduling metrics. All arithmetic is integer and truncating so that rankings
// (and therefore ties) are reproducible.

// WaitingTime is the number of ticks since the process arrived.
func WaitingTime(now, arrival int) int {
	return now - arrival
}

// ResponseRatio is (waiting time + service received) / service received.
// execCount is at least 1 for every live record.
func ResponseRatio(now, arrival, execCount int) int {
	if execCount < 1 {
		return 0
	}
	return (WaitingTime(now, arrival) + execCount) / execCount
}

// ModifiedResponseRatio averages the response ratio with the priority weight.
func ModifiedResponseRatio(now, arrival, execCount, weight int) int {
	return (ResponseRatio(now, arrival, execCount) + weight) / 2
}
