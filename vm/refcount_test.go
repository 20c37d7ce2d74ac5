package vm

import "testing"

func TestRetainReleaseFreesAtZero(t *testing.T) {
	h := NewHeap()
	v := h.newList(nil)
	c := v.asPointer()
	if c.rc != 1 {
		t.Fatalf("newList should start at rc=1, got %d", c.rc)
	}
	h.retain(v)
	if c.rc != 2 {
		t.Fatalf("expected rc=2 after retain, got %d", c.rc)
	}
	h.releaseValue(v)
	if c.rc != 1 {
		t.Fatalf("expected rc=1 after one release, got %d", c.rc)
	}
	h.releaseValue(v)
	if c.structId != NullStructID {
		t.Error("cell should be freed once rc reaches zero")
	}
}

func TestReleaseRecursesIntoChildren(t *testing.T) {
	h := NewHeap()
	inner := h.newList(nil)
	innerCell := inner.asPointer()
	outer := h.newList([]Value{inner}) // outer owns inner's reference

	h.releaseValue(outer)
	if innerCell.structId != NullStructID {
		t.Error("releasing a list should release (and free) its elements")
	}
}

func TestDebugRCCounterTracksBalance(t *testing.T) {
	h := NewHeap()
	counter := h.EnableDebugRC()
	v := h.newList(nil)
	if *counter != 1 {
		t.Fatalf("expected debug rc counter at 1 after one alloc, got %d", *counter)
	}
	h.releaseValue(v)
	if *counter != 0 {
		t.Errorf("expected debug rc counter back to 0, got %d", *counter)
	}
}

func TestRetainReleaseNoOpOnNonPointer(t *testing.T) {
	h := NewHeap()
	counter := h.EnableDebugRC()
	h.retain(fromF64(3.14))
	h.retain(fromNone())
	h.retain(fromBool(true))
	if *counter != 0 {
		t.Errorf("retain on a non-pointer value must not touch the rc counter, got %d", *counter)
	}
}
