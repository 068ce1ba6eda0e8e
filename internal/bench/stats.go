package bench

import (
	"sort"

	"github.com/region-rt/regionrt/workload"
)

// RunStats is one row of the CSV report: the reduction of every
// measurement-sink sample observed during a single run.
type RunStats struct {
	Run          int
	GCTimeNs     int64
	GCCalls      int64
	MaxGCNs      int64
	AvgMemBytes  uint64
	PeakMemBytes uint64
	PeakObjects  int
}

// collector accumulates measurement-sink samples for one run. It is
// installed as a region.GCCallback for the duration of a single workload
// invocation and never shared across runs, so no synchronization is
// needed beyond what the stack already serializes.
type collector struct {
	calls      int64
	totalNs    int64
	maxNs      int64
	memSum     uint64
	peakMem    uint64
	peakObjs   int
	durations  []int64
}

func (c *collector) sink(durationNs int64, _ workload.Kind, bytesBefore uintptr, objectCountBefore int) {
	c.calls++
	c.totalNs += durationNs
	c.durations = append(c.durations, durationNs)
	if durationNs > c.maxNs {
		c.maxNs = durationNs
	}
	c.memSum += uint64(bytesBefore)
	if uint64(bytesBefore) > c.peakMem {
		c.peakMem = uint64(bytesBefore)
	}
	if objectCountBefore > c.peakObjs {
		c.peakObjs = objectCountBefore
	}
}

func (c *collector) stats(run int) RunStats {
	avgMem := uint64(0)
	if c.calls > 0 {
		avgMem = c.memSum / uint64(c.calls)
	}
	return RunStats{
		Run:          run,
		GCTimeNs:     c.totalNs,
		GCCalls:      c.calls,
		MaxGCNs:      c.maxNs,
		AvgMemBytes:  avgMem,
		PeakMemBytes: c.peakMem,
		PeakObjects:  c.peakObjs,
	}
}

// Aggregate is the trailing CSV comment line: percentiles and jitter over
// every individual GC call's duration across the measured runs, plus the
// mean/peak of the runs' memory figures.
type Aggregate struct {
	P50Ns   int64
	P99Ns   int64
	Jitter  float64
	AvgMem  uint64
	PeakMem uint64
}

// Reduce computes the aggregate across a set of measured (non-warmup)
// runs: percentiles and jitter over every individual GC call's duration
// (allDurations, pooled across all runs), mean/peak over the runs' own
// memory figures.
func Reduce(runs []RunStats, allDurations []int64) Aggregate {
	var memSum uint64
	var peakMem uint64
	for _, r := range runs {
		memSum += r.AvgMemBytes
		if r.PeakMemBytes > peakMem {
			peakMem = r.PeakMemBytes
		}
	}

	times := append([]int64(nil), allDurations...)
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	p50 := percentile(times, 50)
	p99 := percentile(times, 99)

	jitter := 0.0
	if p50 != 0 {
		jitter = float64(p99-p50) / float64(p50)
	}

	return Aggregate{
		P50Ns:   p50,
		P99Ns:   p99,
		Jitter:  jitter,
		AvgMem:  memSum / uint64(len(runs)),
		PeakMem: peakMem,
	}
}

// percentile takes the nearest-rank value of pct out of a pre-sorted
// ascending slice.
func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := (pct*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
