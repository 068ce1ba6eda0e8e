package region

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/region-rt/regionrt/internal/runtime/concurrency"
)

// Scheduler hands asynchronous GC tasks off to whatever background
// execution the host provides. The benchmark harness and tests can supply
// a synchronous Scheduler that runs tasks inline.
type Scheduler interface {
	Schedule(task func())
}

// InlineScheduler runs every task synchronously on the caller's goroutine.
// Useful for tests that want deterministic collection ordering.
type InlineScheduler struct{}

func (InlineScheduler) Schedule(task func()) { task() }

// PoolScheduler is the default Scheduler: a fixed-size pool of worker
// goroutines pulling from a lock-free task queue, grounded on
// concurrency.TaskQueue and managed with an errgroup so Close can wait for
// the workers to drain the queue and exit. A panicking task is recovered
// and logged by the worker that ran it; it is not reported by Close.
type PoolScheduler struct {
	q       *concurrency.TaskQueue
	group   *errgroup.Group
	cancel  context.CancelFunc
	closed  uint32 // atomic
	dropped int64  // atomic, tasks scheduled after Close (run inline)

	// inFlight tracks how many GC tasks are currently queued or running
	// per region, keyed by RegionBase.ID(). It exists for observability
	// (InFlightTasks) rather than correctness: owners/alive already make
	// the lifecycle safe without it.
	inFlight *concurrency.RegionTaskCounters
}

// NewPoolScheduler starts workers workers pulling tasks from a queue of
// depth queueDepth.
func NewPoolScheduler(workers int, queueDepth uint64) *PoolScheduler {
	if workers < 1 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	ps := &PoolScheduler{
		q:        concurrency.NewTaskQueue(queueDepth),
		group:    group,
		cancel:   cancel,
		inFlight: concurrency.NewRegionTaskCounters(256),
	}

	for i := 0; i < workers; i++ {
		group.Go(func() error {
			ps.runWorker(ctx)
			return nil
		})
	}

	return ps
}

func (ps *PoolScheduler) runWorker(ctx context.Context) {
	for {
		if task, ok := ps.q.Dequeue(); ok {
			runTaskSafely(task)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Millisecond):
		}
	}
}

func runTaskSafely(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("region: GC task panicked: %v", r)
		}
	}()
	task()
}

// Schedule enqueues task for a worker to pick up. If the queue is
// momentarily full the task runs inline rather than being dropped: a GC
// task's owner-count bookkeeping must not be lost.
func (ps *PoolScheduler) Schedule(task func()) {
	if atomic.LoadUint32(&ps.closed) != 0 {
		atomic.AddInt64(&ps.dropped, 1)
		runTaskSafely(task)
		return
	}
	if !ps.q.Enqueue(task) {
		runTaskSafely(task)
	}
}

// Close stops queueing new tasks and waits for queued and in-flight ones to
// finish. A task scheduled after Close runs inline on the caller's
// goroutine.
func (ps *PoolScheduler) Close() error {
	atomic.StoreUint32(&ps.closed, 1)
	ps.cancel()
	return ps.group.Wait()
}

// scheduleGCTask wraps runGCTask with inFlight bookkeeping keyed by region
// ID, so InFlightTasks can answer "is anyone still working on this region"
// for diagnostics without touching RegionBase's own owners count.
func (ps *PoolScheduler) scheduleGCTask(rb *RegionBase) {
	ps.bumpInFlight(rb.ID(), 1)
	ps.Schedule(func() {
		defer ps.bumpInFlight(rb.ID(), -1)
		runGCTask(rb)
	})
}

func (ps *PoolScheduler) bumpInFlight(id uintptr, delta int64) {
	counter, _ := ps.inFlight.LoadOrStore(id, new(int64))
	atomic.AddInt64(counter, delta)
}

// InFlightTasks reports how many GC tasks are currently queued or running
// for the region identified by id.
func (ps *PoolScheduler) InFlightTasks(id uintptr) int64 {
	counter, ok := ps.inFlight.Load(id)
	if !ok {
		return 0
	}
	return atomic.LoadInt64(counter)
}

// runGCTask is the body of the asynchronous GC task scheduled by
// CloseRegion: skip the collection
// (but still retire the owner count) if the region is no longer alive or
// another worker beat this task to Collecting; otherwise run the
// strategy's collect, close back to Closed, and physically release if
// this was the last outstanding owner.
func runGCTask(rb *RegionBase) {
	if !rb.Alive() {
		if rb.taskDec() {
			rb.physicalRelease()
		}
		return
	}

	if !rb.openForGC() {
		if rb.taskDec() {
			rb.physicalRelease()
		}
		return
	}

	bytesBefore := rb.strat.debugMemoryUsed()
	objBefore := rb.strat.debugSize()
	start := time.Now()

	rb.strat.collect()

	rb.closeFrom(StateCollecting)
	dur := time.Since(start)

	if sink := rb.measurementSink; sink != nil {
		sink(dur.Nanoseconds(), rb.kind.ABI(), bytesBefore, objBefore)
	} else {
		log.Printf("region[%d kind=%s]: gc took %s (bytes_before=%d objects_before=%d)",
			rb.ID(), rb.kind, dur, bytesBefore, objBefore)
	}

	if rb.taskDec() {
		rb.physicalRelease()
	}
}
