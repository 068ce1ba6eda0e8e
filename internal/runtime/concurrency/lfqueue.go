// Package concurrency provides the lock-free primitives the region runtime
// uses to hand work between mutator goroutines and the scheduler that runs
// asynchronous GC tasks: a bounded MPMC ring buffer for the task queue, a
// lock-free map for in-flight task bookkeeping, and a CAS helper for the
// region state machine.
package concurrency

import (
	"runtime"
	"sync/atomic"
)

// TaskQueue is the bounded multi-producer multi-consumer lock-free ring
// buffer PoolScheduler's worker goroutines enqueue and dequeue GC tasks
// through. It is Dmitry Vyukov's per-slot-sequence-number algorithm,
// specialized to func() rather than left generic: the scheduler never
// queues anything else, and a closure-specific queue lets Dequeue hand back
// a (func(), bool) pair instead of taking an output pointer.
type TaskQueue struct {
	_pad0   [64]byte
	mask    uint64
	_pad1   [64]byte
	enqueue uint64
	_pad2   [64]byte
	dequeue uint64
	_pad3   [64]byte
	cells   []taskCell
}

type taskCell struct {
	seq  uint64
	_pad [56]byte // cache line padding (approx)
	val  func()
}

// NewTaskQueue creates a queue with the given capacity (must be a power of
// two; rounded up if not, minimum 2).
func NewTaskQueue(capacity uint64) *TaskQueue {
	if capacity < 2 {
		capacity = 2
	}
	capPow2 := uint64(1)
	for capPow2 < capacity {
		capPow2 <<= 1
	}
	q := &TaskQueue{
		mask:  capPow2 - 1,
		cells: make([]taskCell, capPow2),
	}
	for i := range q.cells {
		q.cells[i].seq = uint64(i)
	}
	return q
}

// Enqueue tries to push task; returns false if the queue is full.
func (q *TaskQueue) Enqueue(task func()) bool {
	for {
		pos := atomic.LoadUint64(&q.enqueue)
		c := &q.cells[pos&q.mask]
		seq := atomic.LoadUint64(&c.seq)
		dif := int64(seq) - int64(pos)
		if dif == 0 {
			if atomic.CompareAndSwapUint64(&q.enqueue, pos, pos+1) {
				c.val = task
				atomic.StoreUint64(&c.seq, pos+1)
				return true
			}
		} else if dif < 0 {
			return false // full
		} else {
			runtime.Gosched()
		}
	}
}

// Dequeue tries to pop a task; ok is false if the queue is empty.
func (q *TaskQueue) Dequeue() (task func(), ok bool) {
	for {
		pos := atomic.LoadUint64(&q.dequeue)
		c := &q.cells[pos&q.mask]
		seq := atomic.LoadUint64(&c.seq)
		dif := int64(seq) - int64(pos+1)
		if dif == 0 {
			if atomic.CompareAndSwapUint64(&q.dequeue, pos, pos+1) {
				task = c.val
				c.val = nil
				atomic.StoreUint64(&c.seq, pos+q.mask+1)
				return task, true
			}
		} else if dif < 0 {
			return nil, false // empty
		} else {
			runtime.Gosched()
		}
	}
}
