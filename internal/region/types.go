// Package region implements the region-based memory management runtime:
// three interchangeable collection strategies (Arena, Trace, Rc) behind a
// common frontend, coordinated by a three-state concurrency protocol
// (Closed / Open / Collecting) and a per-worker context stack.
package region

import (
	"unsafe"

	"github.com/region-rt/regionrt/internal/descriptor"
	"github.com/region-rt/regionrt/workload"
)

// Kind selects which collection strategy backs a region.
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

// ABI converts k to the public workload.Kind a GCCallback sink receives,
// keeping the two enumerations in lockstep.
func (k Kind) ABI() workload.Kind {
	switch k {
	case KindArena:
		return workload.KindArena
	case KindTrace:
		return workload.KindTrace
	case KindRc:
		return workload.KindRc
	default:
		return workload.Kind(-1)
	}
}

// State is the region's place in the Closed/Open/Collecting state machine.
// It is stored as a uint32 so it can be manipulated with the shared CAS
// helpers in internal/runtime/concurrency.
type State uint32

const (
	StateClosed State = iota
	StateOpen
	StateCollecting
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateCollecting:
		return "collecting"
	default:
		return "unknown"
	}
}

// MarkColor is the tracing color used by the Trace strategy's mark phase.
type MarkColor uint8

const (
	White MarkColor = iota // not yet visited: candidate for sweep
	Gray                    // on the worklist, not yet scanned
	Black                   // scanned, reachable
)

// RCColor is the Lins trial-deletion color used by the Rc cycle detector.
type RCColor uint8

const (
	RCBlack  RCColor = iota // in use, not a cycle candidate
	RCPurple                // candidate root awaiting trial deletion
	RCGray                  // being trial-decremented
	RCWhite                 // provisionally garbage
	RCRed                   // confirmed garbage at scan time
)

// Object is the smallest addressable unit the runtime manages. Every
// non-entry object's region() is the unique RegionBase containing it; an
// entry object's region() is the region it names.
type Object struct {
	// Desc.Trace is invoked as Desc.Trace(unsafe.Pointer(o), &worklist):
	// callers push unsafe.Pointer(child) for each outgoing reference, and
	// the strategies here cast list entries back to *Object. Descriptors
	// stay type-erased so the header carries no per-object vtable.
	Desc    *descriptor.Descriptor
	Payload unsafe.Pointer // descriptor.Size bytes drawn from the region's Heap

	region *RegionBase

	Iso   bool // set exactly when this object is its region's entry
	Mark  MarkColor
	Color RCColor

	RefCount int32 // Rc strategy only

	// Next and Prev link the Trace or Rc strategy's doubly-linked object
	// list, allowing O(1) unlink of a freed object without a full-list
	// scan. Arena objects are on no list.
	Next *Object
	Prev *Object

	// CandNext and InCandidateBuffer implement the Rc candidate buffer as
	// an intrusive list per-object, avoiding allocation on decref.
	CandNext          *Object
	InCandidateBuffer bool

	freed bool
}

// Region returns the metadata of the unique region containing o: itself if
// o is an entry object, otherwise the region it belongs to.
func (o *Object) Region() *RegionBase {
	return o.region
}

// Addr returns the object's payload address, used as a stable identity for
// maps and logs.
func (o *Object) Addr() uintptr {
	return uintptr(o.Payload)
}
