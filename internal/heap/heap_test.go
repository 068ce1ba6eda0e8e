package heap

import (
	"testing"
)

func TestGoHeapAlloc(t *testing.T) {
	h := New()

	t.Run("BasicAlignment", func(t *testing.T) {
		ptr, err := h.Alloc(24, 16)
		if err != nil {
			t.Fatalf("alloc failed: %v", err)
		}
		if uintptr(ptr)%16 != 0 {
			t.Errorf("pointer %v not aligned to 16", ptr)
		}
		h.Free(ptr)
	})

	t.Run("ZeroSizeRejected", func(t *testing.T) {
		if _, err := h.Alloc(0, 8); err == nil {
			t.Error("expected error for zero-size allocation")
		}
	})

	t.Run("TracksBytesInUse", func(t *testing.T) {
		h := New()
		before := h.BytesInUse()
		ptr, err := h.Alloc(128, 8)
		if err != nil {
			t.Fatalf("alloc failed: %v", err)
		}
		if h.BytesInUse() <= before {
			t.Error("expected BytesInUse to grow")
		}
		h.Free(ptr)
	})

	t.Run("WritesSurviveAcrossGC", func(t *testing.T) {
		ptr, err := h.Alloc(64, 8)
		if err != nil {
			t.Fatalf("alloc failed: %v", err)
		}
		buf := (*[64]byte)(ptr)
		for i := range buf {
			buf[i] = byte(i)
		}
		for i := range buf {
			if buf[i] != byte(i) {
				t.Fatalf("data corruption at %d", i)
			}
		}
		h.Free(ptr)
	})
}

func TestAlignUp(t *testing.T) {
	cases := []struct{ size, align, want uintptr }{
		{0, 8, 0},
		{1, 8, 8},
		{8, 8, 8},
		{9, 8, 16},
		{17, 16, 32},
	}
	for _, c := range cases {
		if got := AlignUp(c.size, c.align); got != c.want {
			t.Errorf("AlignUp(%d,%d) = %d, want %d", c.size, c.align, got, c.want)
		}
	}
}
