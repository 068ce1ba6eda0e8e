package region

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/region-rt/regionrt/internal/descriptor"
	"github.com/region-rt/regionrt/internal/heap"
)

// defaultSlabSize is the size of each slab drawn from the Heap when the
// current slab runs out of room.
const defaultSlabSize = 256 * 1024

// arenaStrategy is pure bump-pointer allocation over a growable list of
// slabs. It never runs individual finalizers and never reclaims memory
// until the whole region is released.
type arenaStrategy struct {
	base *RegionBase
	h    heap.Heap

	mu          sync.Mutex
	slabs       []unsafe.Pointer
	slabSizes   []uintptr
	curBase     unsafe.Pointer
	curOffset   uintptr
	curCapacity uintptr

	objectCount int64 // atomic
	bytesUsed   int64 // atomic
}

func newArenaStrategy(base *RegionBase, h heap.Heap) *arenaStrategy {
	return &arenaStrategy{base: base, h: h}
}

func (a *arenaStrategy) kind() Kind { return KindArena }

func (a *arenaStrategy) growLocked(minSize uintptr) error {
	size := uintptr(defaultSlabSize)
	if minSize > size {
		size = minSize
	}

	ptr, err := a.h.Alloc(size, heap.AlignUp(1, 16))
	if err != nil {
		return err
	}

	a.slabs = append(a.slabs, ptr)
	a.slabSizes = append(a.slabSizes, size)
	a.curBase = ptr
	a.curOffset = 0
	a.curCapacity = size

	return nil
}

func (a *arenaStrategy) allocObj(desc *descriptor.Descriptor) (*Object, error) {
	align := desc.Align
	if align == 0 {
		align = 8
	}
	size := heap.AlignUp(desc.Size, align)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.curBase == nil || heap.AlignUp(a.curOffset, align)+size > a.curCapacity {
		if err := a.growLocked(size); err != nil {
			return nil, err
		}
	}

	offset := heap.AlignUp(a.curOffset, align)
	ptr := unsafe.Add(a.curBase, int(offset))
	a.curOffset = offset + size

	atomic.AddInt64(&a.objectCount, 1)
	atomic.AddInt64(&a.bytesUsed, int64(size))

	return &Object{
		Desc:    desc,
		Payload: ptr,
		region:  a.base,
	}, nil
}

// collect is a no-op: the arena strategy only reclaims in bulk, on release.
func (a *arenaStrategy) collect() {}

func (a *arenaStrategy) debugSize() int {
	return int(atomic.LoadInt64(&a.objectCount))
}

func (a *arenaStrategy) debugMemoryUsed() uintptr {
	return uintptr(atomic.LoadInt64(&a.bytesUsed))
}

func (a *arenaStrategy) releaseAll() {
	a.mu.Lock()
	slabs := a.slabs
	a.slabs = nil
	a.mu.Unlock()

	for _, s := range slabs {
		a.h.Free(s)
	}
}

// mergeFrom splices donor's slabs into a: the donor
// ceases to exist as a region, its objects becoming part of the receiver.
// Arena objects carry no back-reference to a slab, only to their region,
// so callers must repoint the donor's entry (and, transitively, whatever
// mutator state names its objects) at the receiver before calling this.
func (a *arenaStrategy) mergeFrom(donor *arenaStrategy) {
	donor.mu.Lock()
	slabs := donor.slabs
	sizes := donor.slabSizes
	objs := atomic.LoadInt64(&donor.objectCount)
	bytes := atomic.LoadInt64(&donor.bytesUsed)
	donor.slabs = nil
	donor.slabSizes = nil
	donor.mu.Unlock()

	a.mu.Lock()
	a.slabs = append(a.slabs, slabs...)
	a.slabSizes = append(a.slabSizes, sizes...)
	a.mu.Unlock()

	atomic.AddInt64(&a.objectCount, objs)
	atomic.AddInt64(&a.bytesUsed, bytes)
}
