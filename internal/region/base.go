package region

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/region-rt/regionrt/internal/descriptor"
	"github.com/region-rt/regionrt/internal/heap"
	"github.com/region-rt/regionrt/internal/runtime/concurrency"
	"github.com/region-rt/regionrt/workload"
)

// GCCallback is the measurement sink the benchmark harness installs around
// timed regions: duration of the call, the region's kind, and the
// memory/object counts observed before the call. It is an alias for
// workload.GCCallback, the public contract a workload plugin forwards its
// sink argument against, so a sink installed via Stack.SetGCCallback can
// be handed straight to a plugin without a shim.
type GCCallback = workload.GCCallback

// RegionBase is the concurrent state shared by all three strategies: the
// Closed/Open/Collecting state machine, the owner count that decouples
// logical release from physical reclamation, the liveness flag, the
// remembered set of externally-referenced objects, and the external
// reference table.
type RegionBase struct {
	kind  Kind
	entry *Object
	heap  heap.Heap

	state uint32 // atomic State
	// owners counts the creator (1) plus one per in-flight scheduled GC
	// task. Physical release happens exactly once, when owners reaches 0
	// after alive has gone false.
	owners    int64  // atomic
	alive     uint32 // atomic bool
	releasing uint32 // atomic bool, guards Release idempotency

	mu         sync.Mutex
	remembered map[*Object]struct{}
	extref     *externalRefTable

	strat regionStrategy

	releasedOnce sync.Once

	// measurementSink is the sink copied from the worker that performed the
	// work-close, so the asynchronous GC task it schedules can still report
	// its timing even though the task runs without a Stack of its own.
	measurementSink GCCallback
}

// regionStrategy is implemented by each of the three collection backends.
// alloc/collect/debug are common to all three; Rc-only (incref/decref),
// Trace-only (freeze) and Arena/Trace-only (merge) operations are methods
// on the concrete strategy types, which the frontend in api.go type-asserts
// to.
type regionStrategy interface {
	allocObj(desc *descriptor.Descriptor) (*Object, error)
	collect()
	debugSize() int
	debugMemoryUsed() uintptr
	releaseAll()
}

func newRegionBase(kind Kind, h heap.Heap) *RegionBase {
	return &RegionBase{
		kind:       kind,
		heap:       h,
		state:      uint32(StateClosed),
		owners:     1,
		alive:      1,
		remembered: make(map[*Object]struct{}),
		extref:     newExternalRefTable(),
	}
}

// ID identifies the region by the address of its metadata header.
func (rb *RegionBase) ID() uintptr {
	return uintptr(unsafe.Pointer(rb))
}

// Kind returns the collection strategy backing this region.
func (rb *RegionBase) Kind() Kind {
	return rb.kind
}

// Entry returns the region's entry object.
func (rb *RegionBase) Entry() *Object {
	return rb.entry
}

// State reads the current state with acquire semantics.
func (rb *RegionBase) State() State {
	return State(atomic.LoadUint32(&rb.state))
}

// Alive reports the one-way liveness flag: true until Release is called,
// false forever after.
func (rb *RegionBase) Alive() bool {
	return atomic.LoadUint32(&rb.alive) != 0
}

// taskInc increments the owner count. Called on every path that is about
// to schedule a GC task for this region, before the task is enqueued.
func (rb *RegionBase) taskInc() {
	atomic.AddInt64(&rb.owners, 1)
}

// taskDec decrements the owner count and reports whether this call
// brought it to zero, in which case the caller must perform physical
// release.
func (rb *RegionBase) taskDec() bool {
	return atomic.AddInt64(&rb.owners, -1) == 0
}

// release sets the one-way liveness flag and drops the creator's owner
// count. If that was the last outstanding owner, physical release runs
// synchronously on the caller's goroutine; otherwise it is deferred to
// whichever in-flight GC task retires last.
func (rb *RegionBase) release() {
	atomic.StoreUint32(&rb.alive, 0)
	if rb.taskDec() {
		rb.physicalRelease()
	}
}

func (rb *RegionBase) physicalRelease() {
	rb.releasedOnce.Do(func() {
		rb.strat.releaseAll()
		rb.mu.Lock()
		rb.remembered = nil
		rb.mu.Unlock()
		rb.extref.invalidateAll()
	})
}

// rememberExternal records that o (belonging to some other region) is
// referenced from within this region's remembered set.
func (rb *RegionBase) rememberExternal(o *Object) {
	rb.mu.Lock()
	rb.remembered[o] = struct{}{}
	rb.mu.Unlock()
}

func (rb *RegionBase) forgetExternal(o *Object) {
	rb.mu.Lock()
	delete(rb.remembered, o)
	rb.mu.Unlock()
}

// --- state machine ---------------------------------------------------

// openForWork spins the CAS Closed->Open, yielding on contention. It must
// not fail: a worker needing to run mutator code waits out any in-flight
// Collecting or Open state held by another worker.
func (rb *RegionBase) openForWork() {
	for {
		if concurrency.CASState(&rb.state, uint32(StateClosed), uint32(StateOpen)) {
			return
		}
		yieldToContender()
	}
}

// openForGC makes a single CAS attempt Closed->Collecting. It fails
// (returns false) if another collector is running or a mutator is active;
// the caller's GC task then simply releases its owners count.
func (rb *RegionBase) openForGC() bool {
	return concurrency.CASState(&rb.state, uint32(StateClosed), uint32(StateCollecting))
}

// openForWork_TryOnce makes a single CAS attempt Closed->Open, without
// spinning. Merge uses this to claim exclusive access to a donor region:
// a donor that is open elsewhere must abort the merge rather than block it.
func (rb *RegionBase) openForWork_TryOnce() bool {
	return concurrency.CASState(&rb.state, uint32(StateClosed), uint32(StateOpen))
}

// compareAndSwapAliveToReleasing is the one-shot gate Release uses to make
// logical release idempotent: only the first caller observes true.
func (rb *RegionBase) compareAndSwapAliveToReleasing() bool {
	return atomic.CompareAndSwapUint32(&rb.releasing, 0, 1)
}

// closeFrom CASes the unique expected state back to Closed. Only the
// holder of Open or Collecting ever calls this, so the CAS is guaranteed
// to succeed.
func (rb *RegionBase) closeFrom(expected State) {
	if !concurrency.CASState(&rb.state, uint32(expected), uint32(StateClosed)) {
		panic("region: close called from an unexpected state")
	}
}

func yieldToContender() {
	// architectural pause; osYield lives in state.go so platform-specific
	// variants can be swapped in without touching this file.
	osYield()
}
