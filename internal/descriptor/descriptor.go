// Package descriptor holds the per-type metadata region objects carry a
// pointer to. All polymorphism over object shape (tracing, finalization)
// goes through a Descriptor rather than an object-level vtable, so object
// headers stay a handful of words.
package descriptor

import "unsafe"

// Flags are opt-in per-type behaviors.
type Flags uint32

const (
	// FlagAcyclicOnly marks a type as provably incapable of participating
	// in a reference cycle. The Rc cycle detector never visits objects of
	// such a type and decref never marks them as cycle candidates.
	FlagAcyclicOnly Flags = 1 << iota
)

// TraceFunc walks the outgoing references of obj, pushing each one onto
// stack. Implementations are generated per type from field-offset layout;
// here they are supplied directly by callers (tests, workloads).
type TraceFunc func(obj unsafe.Pointer, stack *[]unsafe.Pointer)

// FinalizeFunc runs any type-specific cleanup before an object's memory is
// returned to the heap. May be nil.
type FinalizeFunc func(obj unsafe.Pointer)

// Descriptor is the per-type record the runtime consults for size, layout,
// tracing, and finalization.
type Descriptor struct {
	Name     string
	Size     uintptr
	Align    uintptr
	Trace    TraceFunc
	Finalize FinalizeFunc
	Flags    Flags
}

// AcyclicOnly reports whether d's cycle detector should never visit objects
// of this type.
func (d *Descriptor) AcyclicOnly() bool {
	return d.Flags&FlagAcyclicOnly != 0
}

// New is a small convenience constructor matching the field order workloads
// tend to specify descriptors in.
func New(name string, size, align uintptr, trace TraceFunc, finalize FinalizeFunc, flags Flags) *Descriptor {
	return &Descriptor{
		Name:     name,
		Size:     size,
		Align:    align,
		Trace:    trace,
		Finalize: finalize,
		Flags:    flags,
	}
}
