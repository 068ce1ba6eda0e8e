package region

import "runtime"

// osYield gives up the current goroutine's turn while spinning on a
// contended CAS. The only contested case in practice is a worker trying to
// open a region whose GC task is mid-flight; a bounded Gosched suffices,
// matching the design notes' call for an architectural pause rather than a
// mutex.
func osYield() {
	runtime.Gosched()
}
