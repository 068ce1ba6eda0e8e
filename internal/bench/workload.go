// Package bench implements the benchmark harness wrapper: loading a
// workload as a Go plugin, driving configured warmup and measurement
// passes through it with a measurement sink installed, and reducing the
// per-call samples into the CSV report described by the runtime's
// external benchmark contract.
package bench

import (
	"encoding/hex"
	"fmt"
	"os"
	"plugin"

	"golang.org/x/crypto/blake2b"

	"github.com/region-rt/regionrt/internal/abi"
	"github.com/region-rt/regionrt/workload"
)

// WorkloadFunc is an alias for workload.Func, the contract a benchmark
// workload plugin exports under the symbol name RunBenchmarkSymbol.
type WorkloadFunc = workload.Func

// RunBenchmarkSymbol is the exported symbol name every workload plugin
// must provide, mirroring the run_benchmark(kind, argc, argv) entry point
// described by the runtime's benchmark contract.
const RunBenchmarkSymbol = "RunBenchmark"

// WorkloadVersionSymbol is an optional exported string var a workload may
// provide declaring the ABI version of the WorkloadFunc contract it was
// built against. Its absence is tolerated; see internal/abi.
const WorkloadVersionSymbol = "WorkloadABIVersion"

// Workload is a loaded plugin: its entry point, a content hash for
// reproducibility tracking, and any non-fatal warning collected while
// loading it (e.g. a missing ABI version declaration).
type Workload struct {
	Func    WorkloadFunc
	Hash    string // lowercase hex blake2b-256 of the plugin file's contents
	Warning string
}

// LoadWorkload opens the plugin at path, resolves its RunBenchmark symbol,
// and checks any declared ABI version against the range this harness
// binary supports. Any failure here — the library does not exist, is not
// a valid Go plugin, does not export a symbol of the right type, or
// declares an ABI version that cannot be parsed — is a load failure the
// caller should report with exit code 1. A missing or out-of-range ABI
// version is not a failure: it is returned in Workload.Warning.
func LoadWorkload(path string) (*Workload, error) {
	hash, err := hashFile(path)
	if err != nil {
		return nil, fmt.Errorf("bench: hashing workload %q: %w", path, err)
	}

	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bench: opening workload %q: %w", path, err)
	}

	sym, err := p.Lookup(RunBenchmarkSymbol)
	if err != nil {
		return nil, fmt.Errorf("bench: workload %q does not export %s: %w", path, RunBenchmarkSymbol, err)
	}

	var fn WorkloadFunc
	switch s := sym.(type) {
	case func(string, []string, workload.GCCallback) error:
		fn = s
	case *func(string, []string, workload.GCCallback) error:
		fn = *s
	default:
		return nil, fmt.Errorf("bench: workload %q exports %s with the wrong signature (%T)", path, RunBenchmarkSymbol, sym)
	}

	declared := ""
	if vsym, err := p.Lookup(WorkloadVersionSymbol); err == nil {
		if v, ok := vsym.(*string); ok {
			declared = *v
		}
	}

	warning, err := abi.Check(declared)
	if err != nil {
		return nil, fmt.Errorf("bench: workload %q: %w", path, err)
	}

	return &Workload{Func: fn, Hash: hash, Warning: warning}, nil
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
