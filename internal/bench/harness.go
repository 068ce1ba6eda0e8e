package bench

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// Run drives warmupRuns discarded passes followed by runs measured passes
// of workload. It returns one RunStats per measured pass, plus every
// individual call's duration pooled across all measured passes for
// Reduce's percentile computation.
func Run(workload WorkloadFunc, kind string, args []string, runs, warmupRuns int) ([]RunStats, []int64, error) {
	for i := 0; i < warmupRuns; i++ {
		var c collector
		if err := workload(kind, args, c.sink); err != nil {
			return nil, nil, fmt.Errorf("bench: warmup run %d: %w", i, err)
		}
	}

	results := make([]RunStats, 0, runs)
	var allDurations []int64
	for i := 0; i < runs; i++ {
		var c collector
		if err := workload(kind, args, c.sink); err != nil {
			return nil, nil, fmt.Errorf("bench: run %d: %w", i, err)
		}
		results = append(results, c.stats(i))
		allDurations = append(allDurations, c.durations...)
	}
	return results, allDurations, nil
}

var csvHeader = []string{
	"run", "gc_time_ns", "gc_calls", "max_gc_ns",
	"avg_mem_bytes", "peak_mem_bytes", "peak_objects",
}

// WriteCSV writes the per-run rows followed by a trailing "#"-prefixed
// comment line carrying the aggregate percentiles, per the runtime's CSV
// report format. The encoding/csv writer itself only ever sees the header
// and data rows; the comment line is written directly so it is not
// quoted like an ordinary field.
func WriteCSV(w io.Writer, runs []RunStats, allDurations []int64, workloadHash string) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range runs {
		row := []string{
			strconv.Itoa(r.Run),
			strconv.FormatInt(r.GCTimeNs, 10),
			strconv.FormatInt(r.GCCalls, 10),
			strconv.FormatInt(r.MaxGCNs, 10),
			strconv.FormatUint(r.AvgMemBytes, 10),
			strconv.FormatUint(r.PeakMemBytes, 10),
			strconv.Itoa(r.PeakObjects),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}

	agg := Reduce(runs, allDurations)
	_, err := fmt.Fprintf(w, "#p50_ns=%d,p99_ns=%d,jitter=%.4f,avg_mem=%d,peak_mem=%d,workload_hash=%s\n",
		agg.P50Ns, agg.P99Ns, agg.Jitter, agg.AvgMem, agg.PeakMem, workloadHash)
	return err
}
