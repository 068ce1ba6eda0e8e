// Command region-bench is the benchmark harness wrapper: it loads a
// workload plugin, runs configured warmup and measurement passes with a
// measurement sink installed, and writes the resulting CSV report to
// stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/region-rt/regionrt/internal/bench"
	"github.com/region-rt/regionrt/internal/cli"
	"github.com/region-rt/regionrt/internal/report"
	"github.com/region-rt/regionrt/internal/scaffold"
	"github.com/region-rt/regionrt/internal/telemetry"
	"github.com/region-rt/regionrt/internal/watch"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		runInit(os.Args[2:])
		return
	}

	var (
		runs          = flag.Int("runs", 10, "number of measured runs")
		warmupRuns    = flag.Int("warmup_runs", 3, "number of discarded warmup runs")
		kind          = flag.String("kind", "arena", "region kind the workload should exercise (arena, trace, rc)")
		showVer       = flag.Bool("version", false, "print version information")
		verbose       = flag.Bool("verbose", false, "log each run's figures once the series finishes, and print a human-readable summary table")
		watchFlag     = flag.Bool("watch", false, "re-run the series every time the workload file changes")
		telemetryAddr = flag.String("telemetry_addr", "", "push a reduced report to this region-metrics-server address after each series")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] <workload.so> [-- workload args...]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "       %s init <module-path> <dir>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Loads <workload.so> as a Go plugin exporting %s and drives it\n", bench.RunBenchmarkSymbol)
		fmt.Fprintf(os.Stderr, "through --warmup_runs discarded passes and --runs measured passes.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *showVer {
		cli.PrintVersion("region-bench")
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	if *runs < 1 {
		cli.ExitWithError("--runs must be at least 1")
	}

	libPath := args[0]
	passthrough := args[1:]
	log := cli.NewLogger(*verbose)

	for {
		if err := runSeries(libPath, *kind, passthrough, *runs, *warmupRuns, *telemetryAddr, log, *verbose); err != nil {
			cli.ExitWithError("%v", err)
		}

		if !*watchFlag {
			return
		}

		log.Info("watching %s for changes...", libPath)
		if err := watch.UntilChanged(libPath); err != nil {
			cli.ExitWithError("%v", err)
		}
	}
}

func runSeries(libPath, kind string, passthrough []string, runs, warmupRuns int, telemetryAddr string, log *cli.Logger, verbose bool) error {
	w, err := bench.LoadWorkload(libPath)
	if err != nil {
		return err
	}
	if w.Warning != "" {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w.Warning)
	}

	log.Info("loading %s (hash=%s), kind=%s, warmup_runs=%d runs=%d", libPath, w.Hash, kind, warmupRuns, runs)

	results, allDurations, err := bench.Run(w.Func, kind, passthrough, runs, warmupRuns)
	if err != nil {
		return err
	}

	for _, r := range results {
		log.Info("run %d: gc_time_ns=%d gc_calls=%d max_gc_ns=%d", r.Run, r.GCTimeNs, r.GCCalls, r.MaxGCNs)
	}

	if err := bench.WriteCSV(os.Stdout, results, allDurations, w.Hash); err != nil {
		return fmt.Errorf("writing CSV report: %w", err)
	}

	if verbose {
		report.PrintSummary(os.Stderr, results, bench.Reduce(results, allDurations))
	}

	if telemetryAddr != "" {
		rep := telemetry.Report{WorkloadHash: w.Hash, Runs: results, Aggregate: bench.Reduce(results, allDurations)}
		if err := telemetry.Push(context.Background(), telemetryAddr, rep); err != nil {
			fmt.Fprintf(os.Stderr, "warning: telemetry push failed: %v\n", err)
		}
	}

	return nil
}

func runInit(args []string) {
	if len(args) != 2 {
		cli.ExitWithError("usage: region-bench init <module-path> <dir>")
	}
	if err := scaffold.Write(args[0], args[1]); err != nil {
		cli.ExitWithError("%v", err)
	}
	fmt.Printf("wrote workload scaffold to %s\n", args[1])
}
