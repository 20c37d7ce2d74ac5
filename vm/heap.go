package vm

import (
	"sync/atomic"
	"unsafe"
)

// cellsPerPage gives each page roughly 64 KiB of HeapObject cells (1600
// cells at the nominal 40-byte cell size). HeapObject itself is larger in
// this port because Go's collector requires every live pointer a cell owns
// to be an ordinary, GC-visible struct field rather than bytes hidden in a
// union (see object.go's doc comment and DESIGN.md). The allocator logic
// below is unaffected: it only ever moves whole cells and free-list
// bookkeeping fields, never interprets a cell's size in bytes.
const cellsPerPage = 1600

// page is one contiguous slab of fixed-shape cells. Cells live at a stable
// address for the page's lifetime (the array is pinned by Heap.pages for
// as long as the Heap exists), which is what lets Value store a raw cell
// pointer as a NaN-boxed 48-bit payload: Go's garbage collector does not
// move heap allocations, so the address stays valid.
type page struct {
	cells [cellsPerPage]HeapObject
}

// Heap is the paged slab allocator: O(1) alloc/free over fixed-shape
// cells, backed by a single free-list head into self-describing free spans
// stored directly inside freed cells.
type Heap struct {
	pages    []*page
	freeHead *HeapObject // head of the free-span list, or nil when empty

	// debugRC, when non-nil, is this heap's verification counter.
	// Only debug/verification builds (tests) install it.
	debugRC *int64
}

// NewHeap constructs an empty Heap with no pages; the first alloc grows it.
func NewHeap() *Heap {
	return &Heap{}
}

func cellAddr(p *HeapObject) uintptr        { return uintptr(unsafe.Pointer(p)) }
func cellFromAddr(addr uintptr) *HeapObject { return (*HeapObject)(unsafe.Pointer(addr)) }

// grow adds max(1, len(pages)*3/2) new pages, each initialized as one large
// free span chained into the free list.
func (h *Heap) grow() {
	n := len(h.pages) * 3 / 2
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		p := &page{}
		// Slot 0 is a sentinel so free() can always safely inspect the
		// left neighbour of any cell without underflowing the page
		//.
		p.cells[0].structId = sentinelStructID
		first := &p.cells[1]
		first.structId = NullStructID
		first.freeLen = uint32(cellsPerPage - 1)
		first.freeNext = h.freeHead
		h.freeHead = first
		h.pages = append(h.pages, p)
	}
}

// alloc returns a zeroed cell ready to be initialized as a live object.
// O(1): either the head span is consumed whole, or its first cell is
// carved off and the remaining span rewritten as the new head.
func (h *Heap) alloc() *HeapObject {
	if h.freeHead == nil {
		h.grow()
	}
	head := h.freeHead
	if head.freeLen == 1 {
		h.freeHead = head.freeNext
	} else {
		rest := cellFromAddr(cellAddr(head) + unsafe.Sizeof(HeapObject{}))
		rest.structId = NullStructID
		rest.freeLen = head.freeLen - 1
		rest.freeNext = head.freeNext
		h.freeHead = rest
	}
	*head = HeapObject{}
	if h.debugRC != nil {
		// Every alloc() caller immediately sets rc = 1 on the returned cell
		// — that's the initial owning reference, and it has to be counted
		// here or the counter never returns to zero even when every retain
		// is matched by a release.
		atomic.AddInt64(h.debugRC, 1)
	}
	return head
}

// free returns a cell to the allocator. If the cell immediately to its
// left is a single-cell free span, that span is extended in place instead
// of allocating a new free-list node. A left neighbour inside a longer
// span is not merged with: its span head is not reachable from it, so the
// freed cell starts a new single-cell span.
func (h *Heap) free(c *HeapObject) {
	if debugChecks && c.structId == NullStructID {
		panic("vm: double free (use-after-free) detected")
	}
	if left := h.leftNeighbour(c); left != nil && left.structId == NullStructID && left.freeLen == 1 {
		left.freeLen++
		*c = HeapObject{}
		return
	}
	*c = HeapObject{}
	c.structId = NullStructID
	c.freeLen = 1
	c.freeNext = h.freeHead
	h.freeHead = c
}

// leftNeighbour returns the cell immediately before c within its page. It
// never returns the page sentinel as a mergeable span because the
// sentinel's structId is never NullStructID.
func (h *Heap) leftNeighbour(c *HeapObject) *HeapObject {
	addr := cellAddr(c)
	sz := unsafe.Sizeof(HeapObject{})
	for _, p := range h.pages {
		base := cellAddr(&p.cells[0])
		end := base + sz*cellsPerPage
		if addr < base || addr >= end {
			continue
		}
		idx := (addr - base) / sz
		if idx == 0 {
			return nil
		}
		return &p.cells[idx-1]
	}
	return nil
}

// CycleReport summarizes one run of the on-demand cycle collector: a
// program with no cycles reports zero; a list containing itself reports
// one cycle and has its root force-freed.
type CycleReport struct {
	CyclesFound int
	FreedRoots  []*HeapObject
}

// CollectCycles walks every live cell in every page; for each reference
// cycle found, the cell the cycle closes back on (the target of the
// back-edge) is force-freed as its root, regardless of remaining
// references. Not part of ordinary release — for test assertions and
// optional end-of-program cleanup.
func (h *Heap) CollectCycles() CycleReport {
	visited := map[*HeapObject]bool{}
	var report CycleReport
	var roots []*HeapObject

	var dfs func(c *HeapObject, stack map[*HeapObject]bool) bool
	dfs = func(c *HeapObject, stack map[*HeapObject]bool) bool {
		if c == nil || c.structId == NullStructID {
			return false
		}
		if stack[c] {
			roots = append(roots, c)
			return true // back-edge: part of a cycle
		}
		if visited[c] {
			return false
		}
		stack[c] = true
		foundCycle := false
		for _, child := range c.children() {
			if child.isPointer() && dfs(child.asPointer(), stack) {
				foundCycle = true
			}
		}
		delete(stack, c)
		visited[c] = true
		return foundCycle
	}

	for _, p := range h.pages {
		for i := 1; i < cellsPerPage; i++ {
			c := &p.cells[i]
			if c.structId == NullStructID || visited[c] {
				continue
			}
			roots = roots[:0]
			dfs(c, map[*HeapObject]bool{})
			for _, r := range roots {
				if r.structId == NullStructID {
					continue // already freed via an earlier root
				}
				report.CyclesFound++
				report.FreedRoots = append(report.FreedRoots, r)
				h.forceFree(r)
			}
		}
	}
	return report
}

// forceFree frees a cycle root unconditionally, regardless of remaining
// references.
func (h *Heap) forceFree(c *HeapObject) {
	if c.structId == NullStructID {
		return
	}
	children := append([]Value(nil), c.children()...)
	// Detach the children before releasing them, so a release cascade that
	// comes back around the cycle to c finds nothing left to release.
	c.listElems, c.mapEntries, c.bigFields, c.fiberStack = nil, nil, nil, nil
	c.numCaptured, c.smallNumFields = 0, 0
	for _, child := range children {
		if child.isPointer() {
			h.releaseValue(child)
		}
	}
	if c.structId != NullStructID {
		h.free(c)
	}
}
