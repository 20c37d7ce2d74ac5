package vm

import "testing"

func TestListGetSetBounds(t *testing.T) {
	h := NewHeap()
	v := h.newList([]Value{fromInt(1), fromInt(2), fromInt(3)})
	c := asList(v)

	got, err := listGet(c, 1)
	if err != nil || got.asInt() != 2 {
		t.Fatalf("listGet(1) = %v, %v; want 2, nil", got, err)
	}

	if _, err := listGet(c, 3); err == nil {
		t.Error("listGet(len) should be out of bounds")
	}
	if _, err := listGet(c, -4); err == nil {
		t.Error("listGet(-len-1) should be out of bounds")
	}
	got, err = listGet(c, -1)
	if err != nil || got.asInt() != 3 {
		t.Errorf("listGet(-1) = %v, %v; want 3, nil", got, err)
	}

	if err := listSet(c, 0, fromInt(99)); err != nil {
		t.Fatalf("listSet(0, 99) failed: %v", err)
	}
	if got, _ := listGet(c, 0); got.asInt() != 99 {
		t.Error("listSet did not take effect")
	}
}

func TestListSliceBounds(t *testing.T) {
	h := NewHeap()
	v := h.newList([]Value{fromInt(1), fromInt(2), fromInt(3)})
	c := asList(v)

	out, err := listSlice(c, 1, 3)
	if err != nil || len(out) != 2 || out[0].asInt() != 2 || out[1].asInt() != 3 {
		t.Fatalf("listSlice(1,3) = %v, %v", out, err)
	}

	if _, err := listSlice(c, 2, 1); err == nil {
		t.Error("start > end should be out of bounds")
	}
	if _, err := listSlice(c, 0, 4); err == nil {
		t.Error("end > len should be out of bounds")
	}
}

func TestListIteratorProtocol(t *testing.T) {
	h := NewHeap()
	v := h.newList([]Value{fromInt(10), fromInt(20)})

	it := h.listIterator(v)
	if it != v {
		t.Fatal("iterator() should return the list itself")
	}

	first, ok := h.listNext(it)
	if !ok || first.asInt() != 10 {
		t.Errorf("first next() = %v, %v, want 10, true", first, ok)
	}
	second, ok := h.listNext(it)
	if !ok || second.asInt() != 20 {
		t.Errorf("second next() = %v, %v, want 20, true", second, ok)
	}
	_, ok = h.listNext(it)
	if ok {
		t.Error("next() past the end should report ok == false")
	}
}

func TestListNextPair(t *testing.T) {
	h := NewHeap()
	v := h.newList([]Value{fromInt(5), fromInt(6)})
	h.listIterator(v)

	idx, elem, ok := h.listNextPair(v)
	if !ok || idx.asInt() != 0 || elem.asInt() != 5 {
		t.Fatalf("first pair = (%v, %v, %v)", idx, elem, ok)
	}
	idx, elem, ok = h.listNextPair(v)
	if !ok || idx.asInt() != 1 || elem.asInt() != 6 {
		t.Fatalf("second pair = (%v, %v, %v)", idx, elem, ok)
	}
	_, _, ok = h.listNextPair(v)
	if ok {
		t.Error("pair iteration should end after the last element")
	}
}
