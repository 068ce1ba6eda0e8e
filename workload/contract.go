// Package workload is the one public contract between the region runtime
// and the benchmark plugins that drive it. It exists because Go plugins
// are compiled separately from the binary that loads them: a workload's
// source must import a type identical to the one the loader's type
// assertion expects, and internal/... packages cannot be imported across
// module boundaries, so the shared function and kind types live here
// instead of in internal/region.
package workload

// Kind mirrors internal/region.Kind's three variants without requiring a
// workload to import the internal package that defines the real one.
// Values and ordering are part of the ABI: internal/region.Kind.ABI()
// keeps them in lockstep.
type Kind int

const (
	KindArena Kind = iota
	KindTrace
	KindRc
)

func (k Kind) String() string {
	switch k {
	case KindArena:
		return "arena"
	case KindTrace:
		return "trace"
	case KindRc:
		return "rc"
	default:
		return "unknown"
	}
}

// GCCallback is the measurement sink a workload must forward to every
// region.Stack it opens, so the harness driving it can attribute timing
// and memory/object-count samples back to this run.
type GCCallback func(durationNs int64, kind Kind, bytesBefore uintptr, objectCountBefore int)

// Func is the signature every workload plugin exports under the symbol
// name "RunBenchmark". kind selects which region strategy to exercise
// ("arena", "trace", "rc"); args are the harness's passthrough positional
// CLI arguments.
type Func func(kind string, args []string, sink GCCallback) error
