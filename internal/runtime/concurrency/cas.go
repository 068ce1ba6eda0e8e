package concurrency

import "sync/atomic"

// CASState attempts to transition a region's packed state word from old to
// new. Region state is the only field in the runtime narrow enough, and
// contended enough, to need a named CAS helper rather than an inline
// atomic.CompareAndSwapUint32 call; everything else (owners, alive) reads
// and writes sync/atomic directly.
func CASState(addr *uint32, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(addr, old, new)
}
