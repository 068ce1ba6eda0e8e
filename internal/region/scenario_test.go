package region_test

// End-to-end scenarios and cross-strategy invariants. Field stores in
// these tests never implicitly adjust a reference count: the first store
// of a freshly allocated object into any field consumes its alloc-time
// RC of 1 for free, exactly as if ownership moved from the local variable
// into the field; every additional store of an already-referenced object,
// or the retargeting/removal of an edge, is paired with an explicit
// Incref/Decref call. This mirrors how a mutator using these primitives
// directly (rather than through a smart pointer) is expected to behave.

import (
	"math/rand"
	"sync"
	"testing"
	"unsafe"

	"github.com/region-rt/regionrt/internal/descriptor"
	"github.com/region-rt/regionrt/internal/heap"
	"github.com/region-rt/regionrt/internal/region"
)

type fixedFields struct {
	children [4]*region.Object
}

type emptyFields struct{ _ byte }

type listFields struct {
	cells []*region.Object
}

func traceFixed(ptr unsafe.Pointer, out *[]unsafe.Pointer) {
	o := (*region.Object)(ptr)
	ff := (*fixedFields)(o.Payload)
	for _, c := range ff.children {
		if c != nil {
			*out = append(*out, unsafe.Pointer(c))
		}
	}
}

func traceList(ptr unsafe.Pointer, out *[]unsafe.Pointer) {
	o := (*region.Object)(ptr)
	lf := (*listFields)(o.Payload)
	for _, c := range lf.cells {
		if c != nil {
			*out = append(*out, unsafe.Pointer(c))
		}
	}
}

// finalizeLog records how many times each object's finalizer has run,
// keyed by its stable payload address, so tests can assert
// exactly-once-finalization without relying on freed memory staying
// readable.
type finalizeLog struct {
	mu     sync.Mutex
	counts map[uintptr]int
}

func newFinalizeLog() *finalizeLog {
	return &finalizeLog{counts: make(map[uintptr]int)}
}

func (f *finalizeLog) record(ptr unsafe.Pointer) {
	o := (*region.Object)(ptr)
	f.mu.Lock()
	f.counts[o.Addr()]++
	f.mu.Unlock()
}

func (f *finalizeLog) countOf(addr uintptr) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[addr]
}

func fixedDesc(log *finalizeLog) *descriptor.Descriptor {
	return descriptor.New("fixed", unsafe.Sizeof(fixedFields{}), unsafe.Alignof(fixedFields{}),
		traceFixed, log.record, 0)
}

func emptyDesc(log *finalizeLog) *descriptor.Descriptor {
	return descriptor.New("cell", unsafe.Sizeof(emptyFields{}), unsafe.Alignof(emptyFields{}),
		nil, log.record, 0)
}

func listDesc(log *finalizeLog) *descriptor.Descriptor {
	return descriptor.New("list", unsafe.Sizeof(listFields{}), unsafe.Alignof(listFields{}),
		traceList, log.record, 0)
}

func setChild(o *region.Object, idx int, child *region.Object) {
	ff := (*fixedFields)(o.Payload)
	ff.children[idx] = child
}

func setCells(o *region.Object, cells []*region.Object) {
	lf := (*listFields)(o.Payload)
	lf.cells = cells
}

// TestBinaryTreePruning prunes a depth-2 binary tree under Trace and checks
// that debug_size shrinks as expected, then that release empties the heap.
func TestBinaryTreePruning(t *testing.T) {
	log := newFinalizeLog()
	h := heap.New()
	desc := fixedDesc(log)

	rb := region.CreateRegion(region.KindTrace, h, desc)
	stack := region.NewStack()
	if !region.OpenRegion(stack, rb.Entry(), region.ModeWork) {
		t.Fatal("open_region(Work) should never fail")
	}

	root := rb.Entry()
	left := region.Alloc(stack, desc)
	right := region.Alloc(stack, desc)
	ll := region.Alloc(stack, desc)
	lr := region.Alloc(stack, desc)
	rl := region.Alloc(stack, desc)
	rr := region.Alloc(stack, desc)

	setChild(root, 0, left)
	setChild(root, 1, right)
	setChild(left, 0, ll)
	setChild(left, 1, lr)
	setChild(right, 0, rl)
	setChild(right, 1, rr)

	if got := region.DebugSize(stack); got != 7 {
		t.Fatalf("debug_size before pruning = %d, want 7", got)
	}

	setChild(root, 0, nil)
	region.RegionCollect(stack)
	if got := region.DebugSize(stack); got != 4 {
		t.Fatalf("debug_size after pruning left = %d, want 4", got)
	}

	setChild(root, 1, nil)
	region.RegionCollect(stack)
	if got := region.DebugSize(stack); got != 1 {
		t.Fatalf("debug_size after pruning right = %d, want 1", got)
	}

	region.CloseRegion(stack, region.InlineScheduler{})
	region.Release(root)

	if got := h.BytesInUse(); got != 0 {
		t.Fatalf("heap bytes in use after release = %d, want 0", got)
	}
}

// TestSelfCycle is scenario 2: an object referencing itself must be
// collected by the Rc cycle detector even though its plain RC never hits
// zero through decref alone.
func TestSelfCycle(t *testing.T) {
	log := newFinalizeLog()
	h := heap.New()
	desc := fixedDesc(log)

	rb := region.CreateRegion(region.KindRc, h, desc)
	stack := region.NewStack()
	region.OpenRegion(stack, rb.Entry(), region.ModeWork)

	o1 := region.Alloc(stack, desc)
	setChild(o1, 0, o1)
	region.Incref(stack, o1)
	region.Decref(stack, o1)

	if got := region.DebugSize(stack); got != 2 {
		t.Fatalf("debug_size before collect = %d, want 2", got)
	}

	region.RegionCollect(stack)

	if got := region.DebugSize(stack); got != 1 {
		t.Fatalf("debug_size after collect = %d, want 1", got)
	}
	if log.countOf(o1.Addr()) != 1 {
		t.Fatalf("o1 finalizer ran %d times, want 1", log.countOf(o1.Addr()))
	}

	region.CloseRegion(stack, region.InlineScheduler{})
	region.Release(rb.Entry())
}

// TestDiamondCycle is scenario 3: a diamond-shaped reference cycle with no
// path from the entry must be fully reclaimed by one collect.
func TestDiamondCycle(t *testing.T) {
	log := newFinalizeLog()
	h := heap.New()
	desc := fixedDesc(log)

	rb := region.CreateRegion(region.KindRc, h, desc)
	stack := region.NewStack()
	region.OpenRegion(stack, rb.Entry(), region.ModeWork)

	o1 := region.Alloc(stack, desc)
	o2 := region.Alloc(stack, desc)
	o3 := region.Alloc(stack, desc)
	o4 := region.Alloc(stack, desc)

	setChild(o1, 0, o2)
	setChild(o1, 1, o3)
	setChild(o2, 0, o4)
	setChild(o3, 0, o4) // second store of o4: needs an explicit incref
	region.Incref(stack, o4)
	setChild(o4, 0, o1)

	region.Incref(stack, o4)
	region.Decref(stack, o4)

	if got := region.DebugSize(stack); got != 5 {
		t.Fatalf("debug_size before collect = %d, want 5", got)
	}

	region.RegionCollect(stack)

	if got := region.DebugSize(stack); got != 1 {
		t.Fatalf("debug_size after collect = %d, want 1", got)
	}

	region.CloseRegion(stack, region.InlineScheduler{})
	region.Release(rb.Entry())
}

// TestDeallocLinsStackElem is the "dealloc lins stack elem" safety
// scenario: a duplicated edge into n1, with n1->n2, where dropping one
// edge and retargeting the other away from n1 frees n1 immediately (not
// via collect) while n2 must survive the next collect. n1 must have
// already been dropped from the candidate buffer by the time collect
// walks it, or the detector would visit freed memory.
func TestDeallocLinsStackElem(t *testing.T) {
	log := newFinalizeLog()
	h := heap.New()
	desc := fixedDesc(log)

	rb := region.CreateRegion(region.KindRc, h, desc)
	stack := region.NewStack()
	region.OpenRegion(stack, rb.Entry(), region.ModeWork)

	entry := rb.Entry()
	n2 := region.Alloc(stack, desc)
	n1 := region.Alloc(stack, desc)

	setChild(n1, 0, n2)     // first store of n2: free
	setChild(entry, 0, n1)  // first store of n1: free
	setChild(entry, 1, n1)  // duplicate store of n1: needs an incref
	region.Incref(stack, n1)

	n1Addr := n1.Addr()

	// Drop one of the two entry->n1 edges.
	setChild(entry, 0, nil)
	region.Decref(stack, n1) // RC 2 -> 1, still live: marked a candidate

	// Retarget the other edge away from n1, onto n2 directly.
	setChild(entry, 1, n2)
	region.Incref(stack, n2)
	region.Decref(stack, n1) // RC 1 -> 0: n1 is deallocated right here

	if log.countOf(n1Addr) != 1 {
		t.Fatalf("n1 finalizer ran %d times immediately after the drop, want 1", log.countOf(n1Addr))
	}

	region.RegionCollect(stack)

	if got := region.DebugSize(stack); got != 2 {
		t.Fatalf("debug_size after collect = %d, want 2 (entry + n2)", got)
	}
	if log.countOf(n1Addr) != 1 {
		t.Fatalf("n1 finalizer ran %d times after collect, want exactly 1 (no re-visit)", log.countOf(n1Addr))
	}
	if log.countOf(n2.Addr()) != 0 {
		t.Fatalf("n2 finalizer ran, want it to survive")
	}

	region.CloseRegion(stack, region.InlineScheduler{})
	region.Release(rb.Entry())
}

// TestDistantCycle is the distant-cycle scenario: entry->n1->n2, with
// n2<->n3 forming a cycle reachable only through n1. Dropping entry->n1
// must make n1's deallocation cascade into collecting the whole n2/n3
// cycle, leaving only the entry.
func TestDistantCycle(t *testing.T) {
	log := newFinalizeLog()
	h := heap.New()
	desc := fixedDesc(log)

	rb := region.CreateRegion(region.KindRc, h, desc)
	stack := region.NewStack()
	region.OpenRegion(stack, rb.Entry(), region.ModeWork)

	entry := rb.Entry()
	n3 := region.Alloc(stack, desc)
	n2 := region.Alloc(stack, desc)
	n1 := region.Alloc(stack, desc)

	setChild(n2, 0, n3) // first store of n3: free
	setChild(n3, 0, n2) // first store of n2: free
	setChild(n1, 0, n2) // second store of n2: needs an explicit incref
	region.Incref(stack, n2)
	setChild(entry, 0, n1) // first store of n1: free

	setChild(entry, 0, nil)
	region.Decref(stack, n1) // RC 1 -> 0: n1 deallocates, cascades into n2

	if got := region.DebugSize(stack); got != 3 {
		t.Fatalf("debug_size before collect = %d, want 3 (entry, n2, n3)", got)
	}

	region.RegionCollect(stack)

	if got := region.DebugSize(stack); got != 1 {
		t.Fatalf("debug_size after collect = %d, want 1", got)
	}

	region.CloseRegion(stack, region.InlineScheduler{})
	region.Release(rb.Entry())
}

// TestUniversalInvariantsAcrossStrategies checks the properties common to
// all three strategies: debug_size stability across
// an open/close with no mutation in between, and an empty heap once the
// region is released and its one scheduled GC task has run.
func TestUniversalInvariantsAcrossStrategies(t *testing.T) {
	for _, kind := range []region.Kind{region.KindArena, region.KindTrace, region.KindRc} {
		kind := kind
		t.Run(kind.String(), func(t *testing.T) {
			log := newFinalizeLog()
			h := heap.New()
			desc := fixedDesc(log)

			rb := region.CreateRegion(kind, h, desc)
			stack := region.NewStack()
			region.OpenRegion(stack, rb.Entry(), region.ModeWork)

			// Both objects hang off the entry, so the GC task the close
			// schedules has nothing unreachable to reclaim under Trace.
			setChild(rb.Entry(), 0, region.Alloc(stack, desc))
			setChild(rb.Entry(), 1, region.Alloc(stack, desc))
			before := region.DebugSize(stack)

			region.CloseRegion(stack, region.InlineScheduler{})
			region.OpenRegion(stack, rb.Entry(), region.ModeWork)

			if got := region.DebugSize(stack); got != before {
				t.Fatalf("debug_size drifted across an idle open/close: got %d, want %d", got, before)
			}

			region.CloseRegion(stack, region.InlineScheduler{})
			region.Release(rb.Entry())

			if got := h.BytesInUse(); got != 0 {
				t.Fatalf("heap bytes in use after release+quiescence = %d, want 0", got)
			}
		})
	}
}

// TestTraceCollectIdempotent is the Trace-specific idempotence property:
// two consecutive collects with no mutation in between must produce the
// same debug_size.
func TestTraceCollectIdempotent(t *testing.T) {
	log := newFinalizeLog()
	h := heap.New()
	desc := fixedDesc(log)

	rb := region.CreateRegion(region.KindTrace, h, desc)
	stack := region.NewStack()
	region.OpenRegion(stack, rb.Entry(), region.ModeWork)

	root := rb.Entry()
	child := region.Alloc(stack, desc)
	region.Alloc(stack, desc) // unreachable from root
	setChild(root, 0, child)

	region.RegionCollect(stack)
	first := region.DebugSize(stack)
	region.RegionCollect(stack)
	second := region.DebugSize(stack)

	if first != second {
		t.Fatalf("collect is not idempotent: first=%d second=%d", first, second)
	}
	if first != 2 {
		t.Fatalf("debug_size after first collect = %d, want 2", first)
	}

	region.CloseRegion(stack, region.InlineScheduler{})
	region.Release(root)
}

// TestGameOfLife is scenario 4: an 8x8 Conway's Game of Life grid seeded
// with an R-pentomino, ten generations, each generation replacing the
// entry's cell list and collecting the previous generation's objects.
// debug_size must equal alive_cells+1 after every generation.
func TestGameOfLife(t *testing.T) {
	const gridSize = 8
	const generations = 10

	log := newFinalizeLog()
	h := heap.New()
	rootDesc := listDesc(log)
	cellDesc := emptyDesc(log)

	rb := region.CreateRegion(region.KindTrace, h, rootDesc)
	stack := region.NewStack()
	region.OpenRegion(stack, rb.Entry(), region.ModeWork)

	grid := rPentominoSeed(gridSize)

	for gen := 0; gen < generations; gen++ {
		grid = lifeStep(grid)

		var cells []*region.Object
		for y := 0; y < gridSize; y++ {
			for x := 0; x < gridSize; x++ {
				if grid[y][x] {
					cells = append(cells, region.Alloc(stack, cellDesc))
				}
			}
		}
		setCells(rb.Entry(), cells)

		region.RegionCollect(stack)

		want := len(cells) + 1
		if got := region.DebugSize(stack); got != want {
			t.Fatalf("generation %d: debug_size = %d, want %d (alive_cells+1)", gen, got, want)
		}
	}

	region.CloseRegion(stack, region.InlineScheduler{})
	region.Release(rb.Entry())
}

func rPentominoSeed(size int) [][]bool {
	grid := make([][]bool, size)
	for i := range grid {
		grid[i] = make([]bool, size)
	}
	ox, oy := size/2-1, size/2-1
	for _, p := range [][2]int{{1, 0}, {2, 0}, {0, 1}, {1, 1}, {1, 2}} {
		x, y := ox+p[0], oy+p[1]
		if x >= 0 && x < size && y >= 0 && y < size {
			grid[y][x] = true
		}
	}
	return grid
}

func lifeStep(grid [][]bool) [][]bool {
	size := len(grid)
	next := make([][]bool, size)
	for i := range next {
		next[i] = make([]bool, size)
	}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			n := liveNeighbors(grid, x, y)
			if grid[y][x] {
				next[y][x] = n == 2 || n == 3
			} else {
				next[y][x] = n == 3
			}
		}
	}
	return next
}

func liveNeighbors(grid [][]bool, x, y int) int {
	size := len(grid)
	count := 0
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			nx, ny := x+dx, y+dy
			if nx >= 0 && nx < size && ny >= 0 && ny < size && grid[ny][nx] {
				count++
			}
		}
	}
	return count
}

// TestTreeTransformation is scenario 5: a depth-10 binary tree (1023
// nodes) held through the entry's single child field, replaced wholesale
// five times by a fresh tree. Each replacement's old tree must be fully
// reclaimed by the next collect, leaving exactly 1024 live objects.
func TestTreeTransformation(t *testing.T) {
	const depth = 10
	const transforms = 5

	log := newFinalizeLog()
	h := heap.New()
	desc := fixedDesc(log)

	rb := region.CreateRegion(region.KindTrace, h, desc)
	stack := region.NewStack()
	region.OpenRegion(stack, rb.Entry(), region.ModeWork)

	for i := 0; i < transforms; i++ {
		root := buildBinaryTree(stack, desc, depth)
		setChild(rb.Entry(), 0, root)

		region.RegionCollect(stack)

		if got := region.DebugSize(stack); got != 1024 {
			t.Fatalf("transform %d: debug_size = %d, want 1024", i, got)
		}
	}

	region.CloseRegion(stack, region.InlineScheduler{})
	region.Release(rb.Entry())
}

func removeOne(xs []int, v int) []int {
	for i, x := range xs {
		if x == v {
			return append(xs[:i], xs[i+1:]...)
		}
	}
	return xs
}

func buildBinaryTree(stack *region.Stack, desc *descriptor.Descriptor, depth int) *region.Object {
	node := region.Alloc(stack, desc)
	if depth > 1 {
		setChild(node, 0, buildBinaryTree(stack, desc, depth-1))
		setChild(node, 1, buildBinaryTree(stack, desc, depth-1))
	}
	return node
}

// TestPointerChurn is scenario 6: 12 chained Rc nodes subjected to 1000
// seeded random edge add/remove mutations, collecting every 10
// iterations. A shadow adjacency list mirrors every real Incref/Decref so
// the test can independently confirm every surviving node stays reachable
// from the root and that the live count matches allocations minus
// deallocations.
func TestPointerChurn(t *testing.T) {
	const nodeCount = 12
	const iterations = 1000
	const collectEvery = 10

	log := newFinalizeLog()
	h := heap.New()
	desc := fixedDesc(log)

	rb := region.CreateRegion(region.KindRc, h, desc)
	stack := region.NewStack()
	region.OpenRegion(stack, rb.Entry(), region.ModeWork)

	nodes := make([]*region.Object, nodeCount)
	addrs := make([]uintptr, nodeCount)
	shadow := make([][]int, nodeCount) // shadow[i] lists node indices i currently points to

	for i := 0; i < nodeCount; i++ {
		nodes[i] = region.Alloc(stack, desc)
		addrs[i] = nodes[i].Addr()
	}
	for i := 0; i < nodeCount-1; i++ {
		setChild(nodes[i], 0, nodes[i+1])
		shadow[i] = append(shadow[i], i+1)
	}
	setChild(rb.Entry(), 0, nodes[0])

	isFreed := func(i int) bool { return log.countOf(addrs[i]) > 0 }
	findFreeSlot := func(o *region.Object) int {
		ff := (*fixedFields)(o.Payload)
		for i, c := range ff.children {
			if c == nil {
				return i
			}
		}
		return -1
	}
	findFirstEdge := func(o *region.Object) (int, *region.Object) {
		ff := (*fixedFields)(o.Payload)
		for i, c := range ff.children {
			if c != nil {
				return i, c
			}
		}
		return -1, nil
	}
	indexOf := func(o *region.Object) int {
		for i, n := range nodes {
			if n == o {
				return i
			}
		}
		return -1
	}

	rng := rand.New(rand.NewSource(12345))

	for iter := 0; iter < iterations; iter++ {
		from := rng.Intn(nodeCount)
		if isFreed(from) {
			continue
		}

		if rng.Intn(2) == 0 {
			to := rng.Intn(nodeCount)
			if isFreed(to) || to == from {
				continue
			}
			slot := findFreeSlot(nodes[from])
			if slot < 0 {
				continue
			}
			setChild(nodes[from], slot, nodes[to])
			region.Incref(stack, nodes[to])
			shadow[from] = append(shadow[from], to)
		} else {
			slot, target := findFirstEdge(nodes[from])
			if slot < 0 {
				continue
			}
			ti := indexOf(target)
			setChild(nodes[from], slot, nil)
			region.Decref(stack, target)
			if ti >= 0 {
				shadow[from] = removeOne(shadow[from], ti)
			}
		}

		if (iter+1)%collectEvery == 0 {
			region.RegionCollect(stack)
		}
	}

	region.RegionCollect(stack)

	aliveCount := 0
	for i := 0; i < nodeCount; i++ {
		if !isFreed(i) {
			aliveCount++
		}
	}

	if got := region.DebugSize(stack); got != aliveCount+1 {
		t.Fatalf("debug_size = %d, want %d (alive nodes + entry)", got, aliveCount+1)
	}

	// Every surviving node must be reachable from the root via the shadow
	// adjacency, restricted to edges whose target is still alive.
	reachable := make([]bool, nodeCount)
	queue := []int{0}
	reachable[0] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range shadow[cur] {
			if !reachable[next] && !isFreed(next) {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}
	for i := 0; i < nodeCount; i++ {
		if !isFreed(i) && !reachable[i] {
			t.Fatalf("node %d survives but is unreachable from root", i)
		}
	}

	region.CloseRegion(stack, region.InlineScheduler{})
	region.Release(rb.Entry())
}
