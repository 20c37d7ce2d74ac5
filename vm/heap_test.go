package vm

import "testing"

func TestHeapAllocFreeReuse(t *testing.T) {
	h := NewHeap()
	c1 := h.alloc()
	c1.structId = StructIDList
	addr1 := cellAddr(c1)
	h.free(c1)

	c2 := h.alloc()
	if cellAddr(c2) != addr1 {
		t.Error("expected immediate reuse of freed cell, got a different address")
	}
	if c2.structId != NullStructID {
		t.Error("alloc should return a zeroed cell")
	}
}

func TestHeapFreeMergesLeftNeighbour(t *testing.T) {
	h := NewHeap()
	cells := make([]*HeapObject, 5)
	for i := range cells {
		cells[i] = h.alloc()
		cells[i].structId = StructIDList
	}
	// Free cells 1 and 2 (adjacent); freeing 2 should extend the span that
	// freeing 1 created rather than starting a second free-list node.
	h.free(cells[1])
	h.free(cells[2])

	before := h.freeHead
	if before == nil {
		t.Fatal("expected a free span after two frees")
	}
	if before.freeLen < 2 {
		t.Errorf("expected merged span of length >= 2, got %d", before.freeLen)
	}
}

func TestHeapGrowOnEmptyFreeList(t *testing.T) {
	h := NewHeap()
	if len(h.pages) != 0 {
		t.Fatal("fresh heap should have no pages until first alloc")
	}
	h.alloc()
	if len(h.pages) == 0 {
		t.Fatal("alloc should grow the heap from zero pages")
	}
}

func TestHeapAllocExhaustsAndGrows(t *testing.T) {
	h := NewHeap()
	// Force several grow() cycles by allocating past a couple of pages'
	// worth of cells.
	for i := 0; i < cellsPerPage*2+5; i++ {
		c := h.alloc()
		c.structId = StructIDList
	}
	if len(h.pages) < 2 {
		t.Errorf("expected at least 2 pages after allocating %d cells, got %d pages", cellsPerPage*2+5, len(h.pages))
	}
}

func TestCollectCyclesNoCycles(t *testing.T) {
	h := NewHeap()
	a := h.newList(nil)
	report := h.CollectCycles()
	if report.CyclesFound != 0 {
		t.Errorf("expected no cycles, found %d", report.CyclesFound)
	}
	h.releaseValue(a)
}

func TestCollectCyclesSelfReferentialList(t *testing.T) {
	h := NewHeap()
	listVal := h.newList(nil)
	c := asList(listVal)
	c.listElems = []Value{listVal}
	h.retain(listVal) // the list now holds a reference to itself

	report := h.CollectCycles()
	if report.CyclesFound != 1 {
		t.Fatalf("expected exactly one cycle, found %d", report.CyclesFound)
	}
	if c.structId != NullStructID {
		t.Error("cycle root should have been force-freed")
	}
}
