package vm

// newList allocates a List heap object wrapping elems. Ownership of each
// element's reference count is the caller's (compiler-emitted retains
// happen at the opcode level, not here).
func (h *Heap) newList(elems []Value) Value {
	c := h.alloc()
	c.structId = StructIDList
	c.rc = 1
	c.listElems = elems
	c.listNextIterIdx = 0
	return fromPointer(c)
}

func asList(v Value) *HeapObject {
	if !v.isPointer() || v.asPointer().structId != StructIDList {
		panic("vm: value is not a list")
	}
	return v.asPointer()
}

// listGet implements index-get / reverse-index-get. Negative indices count from the end.
func listGet(c *HeapObject, index int32) (Value, error) {
	n := int32(len(c.listElems))
	i := index
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, &OutOfBoundsError{Op: "list.get", Index: int(index), Len: int(n)}
	}
	return c.listElems[i], nil
}

func listSet(c *HeapObject, index int32, v Value) error {
	n := int32(len(c.listElems))
	i := index
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return &OutOfBoundsError{Op: "list.set", Index: int(index), Len: int(n)}
	}
	c.listElems[i] = v
	return nil
}

// listSlice copies the half-open range [start, end) into a new backing
// array.
func listSlice(c *HeapObject, start, end int32) ([]Value, error) {
	n := int32(len(c.listElems))
	if start < 0 || end > n || start > end {
		return nil, &OutOfBoundsError{Op: "list.slice", Index: int(start), Len: int(n)}
	}
	out := make([]Value, end-start)
	copy(out, c.listElems[start:end])
	return out, nil
}

// listIterator implements the "iterator" protocol: retains and
// returns the list itself, having reset its cursor.
func (h *Heap) listIterator(v Value) Value {
	c := asList(v)
	c.listNextIterIdx = 0
	h.retain(v)
	return v
}

// listNext implements "next": returns the element at the cursor (retained)
// and advances it, or reports ok == false at the end. The ok result (not a
// comparison against fromNone()) is what callers must check — a list
// element can itself be none-valued or numeric, so the returned Value
// alone can't distinguish exhaustion from a real element.
func (h *Heap) listNext(v Value) (Value, bool) {
	c := asList(v)
	if c.listNextIterIdx >= uint32(len(c.listElems)) {
		return 0, false
	}
	elem := c.listElems[c.listNextIterIdx]
	c.listNextIterIdx++
	h.retain(elem)
	return elem, true
}

// listNextPair implements "nextPair": (index, element), index as a plain
// integer Value.
func (h *Heap) listNextPair(v Value) (Value, Value, bool) {
	c := asList(v)
	if c.listNextIterIdx >= uint32(len(c.listElems)) {
		return 0, 0, false
	}
	idx := c.listNextIterIdx
	elem := c.listElems[idx]
	c.listNextIterIdx++
	h.retain(elem)
	return fromInt(int32(idx)), elem, true
}
