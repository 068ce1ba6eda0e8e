// Frontend dispatch: the mutator-facing operations, each one
// resolving the current region's strategy from the top of the calling
// worker's context stack and forwarding to it, with per-call measurement
// delivered to the installed sink or logged otherwise.
package region

import (
	"log"
	"time"

	"github.com/region-rt/regionrt/internal/descriptor"
	"github.com/region-rt/regionrt/internal/errors"
	"github.com/region-rt/regionrt/internal/heap"
)

// OpenMode selects why a worker is opening a region.
type OpenMode int

const (
	ModeWork OpenMode = iota
	ModeGC
)

// CreateRegion allocates a fresh region of the given kind, with an entry
// object built from entryDesc. The region starts Closed, owned once by
// its creator.
func CreateRegion(kind Kind, h heap.Heap, entryDesc *descriptor.Descriptor) *RegionBase {
	rb := newRegionBase(kind, h)

	switch kind {
	case KindArena:
		rb.strat = newArenaStrategy(rb, h)
	case KindTrace:
		rb.strat = newTraceStrategy(rb, h)
	case KindRc:
		rb.strat = newRcStrategy(rb, h)
	default:
		panic("region: unknown kind")
	}

	entry, err := rb.strat.allocObj(entryDesc)
	if err != nil {
		panic(errors.HeapExhausted(entryDesc.Size, err))
	}
	entry.Iso = true
	rb.entry = entry

	return rb
}

// OpenRegion pushes entry's region onto the worker's stack. ModeWork spins
// until the region is available; ModeGC makes a single attempt and
// returns false on contention. Opening a region this worker already has
// open is a precondition violation and panics before any state change.
func OpenRegion(stack *Stack, entry *Object, mode OpenMode) bool {
	rb := entry.Region()

	for _, f := range stack.frames {
		if f.region == rb {
			panic(errors.NestedOpenOfSameRegion(rb.ID()))
		}
	}

	switch mode {
	case ModeWork:
		rb.openForWork()
	case ModeGC:
		if !rb.openForGC() {
			return false
		}
	default:
		panic("region: unknown open mode")
	}

	stack.Push(entry, rb)
	return true
}

// CloseRegion pops the top frame, closes its state, and — when it was
// opened for mutator work — schedules exactly one asynchronous GC task via
// sched.
func CloseRegion(stack *Stack, sched Scheduler) {
	entry, rb := stack.Pop()
	_ = entry

	switch rb.State() {
	case StateOpen:
		rb.closeFrom(StateOpen)
		rb.measurementSink = stack.sink
		rb.taskInc()
		if ps, ok := sched.(*PoolScheduler); ok {
			ps.scheduleGCTask(rb)
		} else {
			sched.Schedule(func() { runGCTask(rb) })
		}
	case StateCollecting:
		rb.closeFrom(StateCollecting)
	default:
		panic(errors.CloseWithoutOpen())
	}
}

// RegionCollect synchronously collects the current region: it momentarily
// yields the Open state to attempt Collecting, runs the strategy's
// collect, and returns the region to Open so the calling mutator can
// continue.
func RegionCollect(stack *Stack) {
	rb := stack.TopRegion()
	if rb == nil {
		panic(errors.CloseWithoutOpen())
	}

	rb.closeFrom(StateOpen)
	measured(stack, rb, func() {
		if rb.openForGC() {
			rb.strat.collect()
			rb.closeFrom(StateCollecting)
		}
	})
	rb.openForWork()
}

// Alloc allocates a new object of desc's shape in the currently open
// region.
func Alloc(stack *Stack, desc *descriptor.Descriptor) *Object {
	rb := requireOpen(stack)

	var obj *Object
	measured(stack, rb, func() {
		o, err := rb.strat.allocObj(desc)
		if err != nil {
			panic(errors.HeapExhausted(desc.Size, err))
		}
		obj = o
	})

	return obj
}

// Incref increments o's reference count. Valid only when the current
// region is Rc.
func Incref(stack *Stack, o *Object) {
	rb := requireOpen(stack)
	rc := requireRc(rb, "incref")
	measured(stack, rb, func() { rc.Incref(o) })
}

// Decref decrements o's reference count, freeing it and cascading if it
// reaches zero. Valid only when the current region is Rc.
func Decref(stack *Stack, o *Object) {
	rb := requireOpen(stack)
	rc := requireRc(rb, "decref")
	measured(stack, rb, func() { rc.Decref(o) })
}

// Merge absorbs otherEntry's region into the currently open region. Both
// regions must share a kind, the donor must not be Rc, and the donor must
// not currently be open by any worker.
func Merge(stack *Stack, otherEntry *Object) {
	rb := requireOpen(stack)
	donor := otherEntry.Region()

	if donor.Kind() != rb.Kind() {
		panic(errors.InvalidMerge("merge requires regions of the same kind"))
	}
	if rb.Kind() == KindRc {
		panic(errors.InvalidMerge("merge is not supported by Rc regions"))
	}
	if !donor.openForWork_TryOnce() {
		panic(errors.InvalidMerge("donor region is open on another worker"))
	}

	measured(stack, rb, func() {
		switch rb.Kind() {
		case KindArena:
			rb.strat.(*arenaStrategy).mergeFrom(donor.strat.(*arenaStrategy))
		case KindTrace:
			rb.strat.(*traceStrategy).mergeFrom(donor.strat.(*traceStrategy), otherEntry)
		}
	})

	donor.closeFrom(StateOpen)
	donor.release()
}

// Freeze transitions the currently open Trace region into an immutable,
// reference-counted graph rooted at entry.
func Freeze(stack *Stack, entry *Object) {
	rb := requireOpen(stack)
	tr, ok := rb.strat.(*traceStrategy)
	if !ok {
		panic(errors.WrongRegionKind("freeze", rb.Kind().String(), KindTrace.String()))
	}
	measured(stack, rb, func() { tr.freeze(entry) })
}

// CreateExternalReference reserves a weak handle to o, usable from any
// region while o's source region remains alive.
func CreateExternalReference(o *Object) Handle {
	rb := o.Region()
	return rb.extref.reserve(rb, o)
}

// UseExternalReference resolves h, failing if the source region is no
// longer alive or the target was invalidated by a collection.
func UseExternalReference(h Handle) (*Object, bool) {
	if !h.region.Alive() {
		return nil, false
	}
	return h.region.extref.resolve(h)
}

// DebugSize reports the live-object count of the currently open region.
func DebugSize(stack *Stack) int {
	rb := requireOpen(stack)
	return rb.strat.debugSize()
}

// DebugMemoryUsed reports the live-byte count of the currently open
// region.
func DebugMemoryUsed(stack *Stack) uintptr {
	rb := requireOpen(stack)
	return rb.strat.debugMemoryUsed()
}

// Release logically releases entry's region. Idempotent: calling it more
// than once has no further effect.
func Release(entry *Object) {
	rb := entry.Region()
	if !rb.compareAndSwapAliveToReleasing() {
		return
	}
	rb.release()
}

func requireOpen(stack *Stack) *RegionBase {
	rb := stack.TopRegion()
	if rb == nil {
		panic(errors.CloseWithoutOpen())
	}
	return rb
}

func requireRc(rb *RegionBase, op string) *rcStrategy {
	rc, ok := rb.strat.(*rcStrategy)
	if !ok {
		panic(errors.WrongRegionKind(op, rb.Kind().String(), KindRc.String()))
	}
	return rc
}

// measured wraps fn with the per-call timing and memory/object-count
// snapshot the frontend owes every operation, delivering the four-tuple
// to the installed sink or logging it otherwise.
func measured(stack *Stack, rb *RegionBase, fn func()) {
	bytesBefore := rb.strat.debugMemoryUsed()
	objBefore := rb.strat.debugSize()

	start := time.Now()
	fn()
	dur := time.Since(start)

	if sink := stack.GetGCCallback(); sink != nil {
		sink(dur.Nanoseconds(), rb.Kind().ABI(), bytesBefore, objBefore)
	} else {
		log.Printf("region[%d kind=%s]: %s took %s (bytes_before=%d objects_before=%d)",
			rb.ID(), rb.Kind(), "op", dur, bytesBefore, objBefore)
	}
}
