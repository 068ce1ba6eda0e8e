//go:build unix

package heap

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mmapHeap allocates slabs directly from the OS via mmap, rounding every
// request up to a page so the region runtime can exercise real guard-page
// style isolation between regions instead of sharing Go's heap.
type mmapHeap struct {
	mu         sync.Mutex
	live       map[unsafe.Pointer][]byte
	bytesInUse uintptr
	allocCount uint64
	pageSize   uintptr
}

// NewMmapHeap creates a Heap backed by anonymous mmap pages. It is the
// "production" counterpart to the Go-slice-backed default Heap; the
// region-bench harness has no flag that selects it.
func NewMmapHeap() Heap {
	return &mmapHeap{
		live:     make(map[unsafe.Pointer][]byte),
		pageSize: uintptr(unix.Getpagesize()),
	}
}

func (h *mmapHeap) Alloc(size, align uintptr) (unsafe.Pointer, error) {
	if size == 0 {
		return nil, fmt.Errorf("heap: alloc of zero bytes")
	}

	aligned := AlignUp(size, align)
	mapLen := AlignUp(aligned+align, h.pageSize)

	data, err := unix.Mmap(-1, 0, int(mapLen), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("heap: mmap %d bytes: %w", mapLen, err)
	}

	base := uintptr(unsafe.Pointer(unsafe.SliceData(data)))
	offset := AlignUp(base, align) - base
	ptr := unsafe.Add(unsafe.Pointer(unsafe.SliceData(data)), int(offset))

	h.mu.Lock()
	h.live[ptr] = data
	h.mu.Unlock()

	atomic.AddUintptr(&h.bytesInUse, uintptr(mapLen))
	atomic.AddUint64(&h.allocCount, 1)

	return ptr, nil
}

func (h *mmapHeap) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}

	h.mu.Lock()
	data, ok := h.live[ptr]
	if ok {
		delete(h.live, ptr)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	freed := uintptr(len(data))
	if err := unix.Munmap(data); err == nil {
		atomic.AddUintptr(&h.bytesInUse, -freed)
	}
}

func (h *mmapHeap) BytesInUse() uintptr {
	return atomic.LoadUintptr(&h.bytesInUse)
}

func (h *mmapHeap) AllocationCount() uint64 {
	return atomic.LoadUint64(&h.allocCount)
}
