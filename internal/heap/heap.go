// Package heap provides the low-level aligned slab allocator that region
// strategies build on top of. It is the "Heap" collaborator described in the
// region runtime's external interfaces: aligned alloc(bytes, align) /
// free(ptr), with no knowledge of regions, objects, or descriptors.
package heap

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Heap is the low-level, thread-safe allocator every region strategy draws
// slabs from. Implementations must return aligned pointers and keep the
// backing memory alive until Free is called.
type Heap interface {
	Alloc(size, align uintptr) (unsafe.Pointer, error)
	Free(ptr unsafe.Pointer)
	BytesInUse() uintptr
	AllocationCount() uint64
}

// AlignUp rounds size up to the next multiple of align. align must be a
// power of two.
func AlignUp(size, align uintptr) uintptr {
	if align == 0 {
		return size
	}

	return (size + align - 1) &^ (align - 1)
}

// goHeap is the default Heap: it is backed by Go byte slices, tracked in a
// map so the runtime's own garbage collector cannot reclaim memory that the
// region runtime still considers live. This mirrors the placeholder system
// allocator the wider codebase uses until a platform-specific mmap path is
// wired in (see NewMmapHeap on unix builds).
type goHeap struct {
	mu         sync.Mutex
	live       map[unsafe.Pointer][]byte
	bytesInUse uintptr
	allocCount uint64
}

// New creates the default Go-slice-backed Heap.
func New() Heap {
	return &goHeap{
		live: make(map[unsafe.Pointer][]byte),
	}
}

func (h *goHeap) Alloc(size, align uintptr) (unsafe.Pointer, error) {
	if size == 0 {
		return nil, fmt.Errorf("heap: alloc of zero bytes")
	}

	aligned := AlignUp(size, align)
	// Over-allocate so we can carve out an aligned pointer from an
	// unaligned Go slice without relying on runtime internals.
	raw := make([]byte, aligned+align)

	base := uintptr(unsafe.Pointer(unsafe.SliceData(raw)))
	offset := AlignUp(base, align) - base
	ptr := unsafe.Add(unsafe.Pointer(unsafe.SliceData(raw)), int(offset))

	h.mu.Lock()
	h.live[ptr] = raw
	h.mu.Unlock()

	atomic.AddUintptr(&h.bytesInUse, uintptr(cap(raw)))
	atomic.AddUint64(&h.allocCount, 1)

	return ptr, nil
}

func (h *goHeap) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	h.mu.Lock()
	raw, ok := h.live[ptr]
	if ok {
		delete(h.live, ptr)
	}
	h.mu.Unlock()

	if ok {
		atomic.AddUintptr(&h.bytesInUse, -uintptr(cap(raw)))
	}
}

func (h *goHeap) BytesInUse() uintptr {
	return atomic.LoadUintptr(&h.bytesInUse)
}

func (h *goHeap) AllocationCount() uint64 {
	return atomic.LoadUint64(&h.allocCount)
}
