package region

import "sync"

// Handle is a weak reference to an object, valid only while its source
// region is alive and only until a collection invalidates the slot by
// freeing the target. It resolves through a slot index plus an epoch, so a
// reused slot can never be mistaken for the handle that originally
// reserved it (the classic ABA problem a simpler valid-bit table invites).
type Handle struct {
	region *RegionBase
	index  uint32
	epoch  uint32
}

type extRefSlot struct {
	epoch uint32
	obj   *Object
	used  bool
}

// externalRefTable holds one table per region of (epoch, object) slots.
type externalRefTable struct {
	mu    sync.Mutex
	slots []extRefSlot
	free  []uint32
}

func newExternalRefTable() *externalRefTable {
	return &externalRefTable{}
}

// reserve allocates a slot for o and returns a handle to it.
func (t *externalRefTable) reserve(rb *RegionBase, o *Object) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		t.slots[idx].obj = o
		t.slots[idx].used = true
		return Handle{region: rb, index: idx, epoch: t.slots[idx].epoch}
	}

	idx := uint32(len(t.slots))
	t.slots = append(t.slots, extRefSlot{epoch: 0, obj: o, used: true})
	return Handle{region: rb, index: idx, epoch: 0}
}

// resolve returns the live object behind h, or (nil, false) if the slot has
// been invalidated or reused since h was created.
func (t *externalRefTable) resolve(h Handle) (*Object, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if int(h.index) >= len(t.slots) {
		return nil, false
	}
	slot := &t.slots[h.index]
	if !slot.used || slot.epoch != h.epoch || slot.obj == nil {
		return nil, false
	}

	return slot.obj, true
}

// invalidate clears the slot's object pointer, e.g. because a collection
// is about to free the target, bumps its epoch and returns the slot to the
// free list. Handles still holding the old epoch observe "invalid" even
// after the slot is reused for a different object.
func (t *externalRefTable) invalidate(o *Object) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if t.slots[i].used && t.slots[i].obj == o {
			t.slots[i].obj = nil
			t.slots[i].epoch++
			t.free = append(t.free, uint32(i))
			t.slots[i].used = false
		}
	}
}

// invalidateAll is called once during physical release: every outstanding
// handle into this region must now resolve to invalid.
func (t *externalRefTable) invalidateAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		t.slots[i].obj = nil
		t.slots[i].epoch++
		t.slots[i].used = false
	}
	t.slots = nil
	t.free = nil
}
