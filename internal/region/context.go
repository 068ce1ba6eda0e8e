package region

import (
	regerrors "github.com/region-rt/regionrt/internal/errors"
)

// frame is one entry in a worker's region-context stack.
type frame struct {
	entry  *Object
	region *RegionBase
}

// Stack is a per-worker stack of currently-open regions. Go has no
// implicit thread-local storage, so unlike the source runtime's
// thread-local stack, each worker goroutine owns an explicit *Stack value
// and threads it through its own call chain; frames live in a slice that
// grows and shrinks like the arena-plus-index structure the design notes
// call for, without a per-push heap allocation in the common case.
type Stack struct {
	frames []frame
	sink   GCCallback
}

// NewStack creates an empty region-context stack for one worker.
func NewStack() *Stack {
	return &Stack{}
}

// Push opens region on top of the stack. Nested push of the same region by
// the same worker is a precondition violation and aborts the process.
func (s *Stack) Push(entry *Object, rb *RegionBase) {
	for _, f := range s.frames {
		if f.region == rb {
			panic(regerrors.NestedOpenOfSameRegion(rb.ID()))
		}
	}
	s.frames = append(s.frames, frame{entry: entry, region: rb})
}

// Pop removes and returns the top frame. Calling Pop on an empty stack is
// a precondition violation.
func (s *Stack) Pop() (*Object, *RegionBase) {
	n := len(s.frames)
	if n == 0 {
		panic(regerrors.CloseWithoutOpen())
	}
	f := s.frames[n-1]
	s.frames = s.frames[:n-1]
	return f.entry, f.region
}

// TopEntry returns the entry object of the currently open region, or nil
// if the stack is empty.
func (s *Stack) TopEntry() *Object {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1].entry
}

// TopRegion returns the metadata of the currently open region, or nil if
// the stack is empty.
func (s *Stack) TopRegion() *RegionBase {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1].region
}

// Depth reports how many regions this worker currently has open, nested.
func (s *Stack) Depth() int {
	return len(s.frames)
}

// SetGCCallback installs the measurement sink the harness wraps timed
// regions with. Passing nil removes it, falling back to a log line per
// call (see api.go).
func (s *Stack) SetGCCallback(cb GCCallback) {
	s.sink = cb
}

// GetGCCallback returns the currently installed measurement sink, or nil.
func (s *Stack) GetGCCallback() GCCallback {
	return s.sink
}
