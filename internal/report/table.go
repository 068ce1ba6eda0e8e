// Package report prints the benchmark harness's human-readable summary
// table, the console companion to the CSV report bench.WriteCSV produces.
package report

import (
	"io"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/region-rt/regionrt/internal/bench"
)

// PrintSummary writes a grouped-thousands table of runs followed by the
// aggregate line, to w (typically os.Stderr, since stdout carries the
// CSV).
func PrintSummary(w io.Writer, runs []bench.RunStats, agg bench.Aggregate) {
	p := message.NewPrinter(language.English)

	p.Fprintf(w, "%-6s %16s %10s %14s %16s %16s %12s\n",
		"run", "gc_time_ns", "gc_calls", "max_gc_ns", "avg_mem_bytes", "peak_mem_bytes", "peak_objects")
	for _, r := range runs {
		p.Fprintf(w, "%-6d %16v %10v %14v %16v %16v %12v\n",
			r.Run,
			number.Decimal(r.GCTimeNs),
			number.Decimal(r.GCCalls),
			number.Decimal(r.MaxGCNs),
			number.Decimal(r.AvgMemBytes),
			number.Decimal(r.PeakMemBytes),
			number.Decimal(r.PeakObjects),
		)
	}

	p.Fprintf(w, "\np50=%v ns  p99=%v ns  jitter=%.4f  avg_mem=%v bytes  peak_mem=%v bytes\n",
		number.Decimal(agg.P50Ns), number.Decimal(agg.P99Ns), agg.Jitter,
		number.Decimal(agg.AvgMem), number.Decimal(agg.PeakMem))
}
