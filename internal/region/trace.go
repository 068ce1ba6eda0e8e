package region

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/region-rt/regionrt/internal/descriptor"
	"github.com/region-rt/regionrt/internal/heap"
)

// traceStrategy is classical mark-sweep over a doubly-linked object list.
// Marking is depth-first over descriptor-declared fields; sweeping frees
// every object left White.
type traceStrategy struct {
	base *RegionBase
	h    heap.Heap

	mu    sync.Mutex
	head  *Object
	count int64 // atomic
	bytes int64 // atomic

	frozen bool
}

func newTraceStrategy(base *RegionBase, h heap.Heap) *traceStrategy {
	return &traceStrategy{base: base, h: h}
}

func (t *traceStrategy) kind() Kind { return KindTrace }

func (t *traceStrategy) allocObj(desc *descriptor.Descriptor) (*Object, error) {
	align := desc.Align
	if align == 0 {
		align = 8
	}

	ptr, err := t.h.Alloc(desc.Size, align)
	if err != nil {
		return nil, err
	}

	obj := &Object{Desc: desc, Payload: ptr, region: t.base, Mark: White}

	t.mu.Lock()
	obj.Next = t.head
	if t.head != nil {
		t.head.Prev = obj
	}
	t.head = obj
	t.mu.Unlock()

	atomic.AddInt64(&t.count, 1)
	atomic.AddInt64(&t.bytes, int64(desc.Size))

	return obj, nil
}

// collect runs one mark-sweep pass rooted at the region's entry object.
func (t *traceStrategy) collect() {
	entry := t.base.entry
	if entry == nil {
		return
	}

	worklist := []unsafe.Pointer{unsafe.Pointer(entry)}
	entry.Mark = Gray

	for len(worklist) > 0 {
		n := len(worklist) - 1
		cur := (*Object)(worklist[n])
		worklist = worklist[:n]

		var children []unsafe.Pointer
		if cur.Desc.Trace != nil {
			cur.Desc.Trace(unsafe.Pointer(cur), &children)
		}

		for _, c := range children {
			child := (*Object)(c)
			if child.Mark == White {
				child.Mark = Gray
				worklist = append(worklist, unsafe.Pointer(child))
			}
		}

		cur.Mark = Black
	}

	t.mu.Lock()
	cur := t.head
	var newHead *Object
	var newTail *Object
	for cur != nil {
		next := cur.Next
		if cur.Mark == White {
			t.sweepOne(cur)
		} else {
			cur.Mark = White // clear for next collection
			cur.Prev = newTail
			cur.Next = nil
			if newTail != nil {
				newTail.Next = cur
			} else {
				newHead = cur
			}
			newTail = cur
		}
		cur = next
	}
	t.head = newHead
	t.mu.Unlock()
}

// sweepOne runs o's finalizer (if any) and returns its memory to the heap.
// Any external-reference slot pointing at o must be invalidated first.
func (t *traceStrategy) sweepOne(o *Object) {
	t.base.extref.invalidate(o)

	if o.Desc.Finalize != nil {
		o.Desc.Finalize(unsafe.Pointer(o))
	}

	t.h.Free(o.Payload)
	o.freed = true

	atomic.AddInt64(&t.count, -1)
	atomic.AddInt64(&t.bytes, -int64(o.Desc.Size))
}

func (t *traceStrategy) debugSize() int {
	return int(atomic.LoadInt64(&t.count))
}

func (t *traceStrategy) debugMemoryUsed() uintptr {
	return uintptr(atomic.LoadInt64(&t.bytes))
}

func (t *traceStrategy) releaseAll() {
	t.mu.Lock()
	cur := t.head
	t.head = nil
	t.mu.Unlock()

	for cur != nil {
		next := cur.Next
		if !cur.freed {
			if cur.Desc.Finalize != nil {
				cur.Desc.Finalize(unsafe.Pointer(cur))
			}
			t.h.Free(cur.Payload)
			cur.freed = true
		}
		cur = next
	}
}

// mergeFrom splices donor's object list into t and clears the donor
// entry's iso bit.
func (t *traceStrategy) mergeFrom(donor *traceStrategy, donorEntry *Object) {
	donor.mu.Lock()
	donorHead := donor.head
	donorCount := atomic.LoadInt64(&donor.count)
	donorBytes := atomic.LoadInt64(&donor.bytes)
	donor.head = nil
	donor.mu.Unlock()

	donorEntry.Iso = false

	t.mu.Lock()
	if tail := tailOf(donorHead); tail != nil {
		tail.Next = t.head
		if t.head != nil {
			t.head.Prev = tail
		}
		t.head = donorHead
	}
	t.mu.Unlock()

	atomic.AddInt64(&t.count, donorCount)
	atomic.AddInt64(&t.bytes, donorBytes)
}

func tailOf(head *Object) *Object {
	cur := head
	for cur != nil && cur.Next != nil {
		cur = cur.Next
	}
	return cur
}

// Freeze transitions a Trace region to an immutable reference-counted
// graph rooted at entry, releasing the remembered-set and external-ref
// tables. The graph is walked once to seed each surviving
// object's reference count from its in-degree within the frozen set;
// objects unreachable from entry are swept first, as an implicit collect.
func (t *traceStrategy) freeze(entry *Object) {
	t.collect()

	t.mu.Lock()
	defer t.mu.Unlock()

	counts := make(map[*Object]int32)
	visited := make(map[*Object]bool)
	var walk func(o *Object)
	walk = func(o *Object) {
		if visited[o] {
			return
		}
		visited[o] = true
		var children []unsafe.Pointer
		if o.Desc.Trace != nil {
			o.Desc.Trace(unsafe.Pointer(o), &children)
		}
		for _, c := range children {
			child := (*Object)(c)
			counts[child]++
			walk(child)
		}
	}
	walk(entry)

	entry.RefCount = 1
	for o, c := range counts {
		o.RefCount = c
	}

	t.frozen = true
	t.base.mu.Lock()
	t.base.remembered = nil
	t.base.mu.Unlock()
	t.base.extref.invalidateAll()
}
