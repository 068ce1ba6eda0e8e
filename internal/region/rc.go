package region

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/region-rt/regionrt/internal/descriptor"
	"github.com/region-rt/regionrt/internal/heap"
)

// rcStrategy implements deferred reference counting with a Lins-style
// trial-deletion cycle detector. The candidate buffer is an intrusive
// singly-linked list threaded through each object's CandNext pointer, so
// decref never allocates and a plain dealloc drops out of the buffer in
// O(1) by clearing InCandidateBuffer rather than by unlinking.
type rcStrategy struct {
	base *RegionBase
	h    heap.Heap

	mu        sync.Mutex
	head      *Object // object list, doubly linked via Next/Prev
	candHead  *Object // candidate buffer, linked via CandNext
	count     int64   // atomic
	bytes     int64   // atomic
}

func newRcStrategy(base *RegionBase, h heap.Heap) *rcStrategy {
	return &rcStrategy{base: base, h: h}
}

func (r *rcStrategy) kind() Kind { return KindRc }

func (r *rcStrategy) allocObj(desc *descriptor.Descriptor) (*Object, error) {
	align := desc.Align
	if align == 0 {
		align = 8
	}

	ptr, err := r.h.Alloc(desc.Size, align)
	if err != nil {
		return nil, err
	}

	obj := &Object{Desc: desc, Payload: ptr, region: r.base, RefCount: 1, Color: RCBlack}

	r.mu.Lock()
	obj.Next = r.head
	if r.head != nil {
		r.head.Prev = obj
	}
	r.head = obj
	r.mu.Unlock()

	atomic.AddInt64(&r.count, 1)
	atomic.AddInt64(&r.bytes, int64(desc.Size))

	return obj, nil
}

// Incref increments o's reference count and clears any cycle-candidate
// mark: a live incref is proof the object is reachable from somewhere
// other than the cycle the detector was worried about.
func (r *rcStrategy) Incref(o *Object) {
	o.RefCount++
	o.InCandidateBuffer = false
}

// Decref implements the plain decrement path: the recursive free-on-zero
// branch and the candidate-marking-on-survive branch.
func (r *rcStrategy) Decref(o *Object) {
	o.RefCount--

	if o.RefCount <= 0 {
		r.deallocate(o)
		return
	}

	if !o.InCandidateBuffer && !o.Desc.AcyclicOnly() {
		r.markCandidate(o)
	}
}

func (r *rcStrategy) markCandidate(o *Object) {
	r.mu.Lock()
	o.InCandidateBuffer = true
	o.CandNext = r.candHead
	r.candHead = o
	r.mu.Unlock()
}

// deallocate frees o, running its finalizer and recursively decref-ing
// every outgoing reference first. o is dropped from the
// candidate buffer (by flag, not by list surgery) before its memory goes
// back to the heap, satisfying the "deallocated candidate" invariant.
func (r *rcStrategy) deallocate(o *Object) {
	o.InCandidateBuffer = false

	r.unlinkLocked(o)

	if o.Desc.Finalize != nil {
		o.Desc.Finalize(unsafe.Pointer(o))
	}

	var children []unsafe.Pointer
	if o.Desc.Trace != nil {
		o.Desc.Trace(unsafe.Pointer(o), &children)
	}
	for _, c := range children {
		child := (*Object)(c)
		if child.region == o.region {
			r.Decref(child)
		}
	}

	r.base.extref.invalidate(o)
	r.h.Free(o.Payload)
	o.freed = true

	atomic.AddInt64(&r.count, -1)
	atomic.AddInt64(&r.bytes, -int64(o.Desc.Size))
}

func (r *rcStrategy) unlinkLocked(o *Object) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if o.Prev != nil {
		o.Prev.Next = o.Next
	} else if r.head == o {
		r.head = o.Next
	}
	if o.Next != nil {
		o.Next.Prev = o.Prev
	}
	o.Next, o.Prev = nil, nil
}

// collect runs one Lins-style trial-deletion pass over the candidate
// buffer: mark-red with trial decrements, restore everything reachable
// from an externally-held (still-positive) node, then free whatever is
// still red.
func (r *rcStrategy) collect() {
	r.mu.Lock()
	candHead := r.candHead
	r.candHead = nil
	r.mu.Unlock()

	var roots []*Object
	for o := candHead; o != nil; o = o.CandNext {
		if o.InCandidateBuffer && !o.freed {
			roots = append(roots, o)
		}
	}

	visitedRed := make(map[*Object]bool)
	var jumpStack []*Object

	var markRed func(o *Object)
	markRed = func(o *Object) {
		if visitedRed[o] {
			return
		}
		visitedRed[o] = true
		o.Color = RCRed

		var children []unsafe.Pointer
		if o.Desc.Trace != nil {
			o.Desc.Trace(unsafe.Pointer(o), &children)
		}
		for _, c := range children {
			child := (*Object)(c)
			if child.region != o.region || child.freed {
				continue
			}
			child.RefCount--
			child.Color = RCRed
			if child.RefCount > 0 {
				jumpStack = append(jumpStack, child)
			}
			markRed(child)
		}
	}

	for _, root := range roots {
		if !root.freed {
			markRed(root)
		}
	}

	// A root's own reference count is never trial-decremented by markRed
	// (only edges reaching it from elsewhere in the candidate graph are):
	// if it is still positive after the pass, some holder outside the
	// traversed set is keeping it alive, exactly as if an edge from
	// outside had landed it on the jump stack.
	for _, root := range roots {
		if !root.freed && root.RefCount > 0 {
			jumpStack = append(jumpStack, root)
		}
	}

	visitedRestore := make(map[*Object]bool)
	var restore func(o *Object)
	restore = func(o *Object) {
		if visitedRestore[o] {
			return
		}
		visitedRestore[o] = true
		o.Color = RCBlack

		var children []unsafe.Pointer
		if o.Desc.Trace != nil {
			o.Desc.Trace(unsafe.Pointer(o), &children)
		}
		for _, c := range children {
			child := (*Object)(c)
			if child.region != o.region || child.freed {
				continue
			}
			child.RefCount++
			if child.Color == RCRed {
				restore(child)
			}
		}
	}

	// A node lands on the jump stack when one trial decrement leaves it
	// positive; a later decrement in the same pass may still bring it to
	// zero, so only nodes that are still positive now are restored from.
	for _, j := range jumpStack {
		if j.Color == RCRed && j.RefCount > 0 {
			restore(j)
		}
	}

	for o := range visitedRed {
		if o.Color == RCRed && !o.freed {
			o.InCandidateBuffer = false
			r.unlinkLocked(o)
			if o.Desc.Finalize != nil {
				o.Desc.Finalize(unsafe.Pointer(o))
			}
			r.base.extref.invalidate(o)
			r.h.Free(o.Payload)
			o.freed = true
			atomic.AddInt64(&r.count, -1)
			atomic.AddInt64(&r.bytes, -int64(o.Desc.Size))
		}
	}
}

func (r *rcStrategy) debugSize() int {
	return int(atomic.LoadInt64(&r.count))
}

func (r *rcStrategy) debugMemoryUsed() uintptr {
	return uintptr(atomic.LoadInt64(&r.bytes))
}

func (r *rcStrategy) releaseAll() {
	r.mu.Lock()
	cur := r.head
	r.head = nil
	r.mu.Unlock()

	for cur != nil {
		next := cur.Next
		if !cur.freed {
			if cur.Desc.Finalize != nil {
				cur.Desc.Finalize(unsafe.Pointer(cur))
			}
			r.h.Free(cur.Payload)
			cur.freed = true
		}
		cur = next
	}
}
