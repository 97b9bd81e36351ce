package diff

import "sync/atomic"

// Stats aggregates counters across one diff run. All fields are atomics;
// recursion levels update them concurrently.
type Stats struct {
	leftRowCount  atomic.Int64
	queries       atomic.Int64
	slowChecksums atomic.Int64
}

// StatsSnapshot is a point-in-time copy of a run's counters.
type StatsSnapshot struct {
	// LeftRowCount is the sum of left-side counts observed at the first
	// bisection level; an estimate of the left table's size.
	LeftRowCount int64

	// Queries is the number of backend queries issued.
	Queries int64

	// SlowChecksums is the number of checksum queries that exceeded the
	// warning threshold.
	SlowChecksums int64
}

func (s *Stats) snapshot() StatsSnapshot {
	return StatsSnapshot{
		LeftRowCount:  s.leftRowCount.Load(),
		Queries:       s.queries.Load(),
		SlowChecksums: s.slowChecksums.Load(),
	}
}
