package vm

// Map is an open-addressed hash table over Values, backed by one
// []mapEntry slice whose `used` flag marks live slots.

const mapLoadFactorNum, mapLoadFactorDen = 3, 4 // grow past 75% full

func (h *Heap) newMap() Value {
	c := h.alloc()
	c.structId = StructIDMap
	c.rc = 1
	return fromPointer(c)
}

func asMap(v Value) *HeapObject {
	if !v.isPointer() || v.asPointer().structId != StructIDMap {
		panic("vm: value is not a map")
	}
	return v.asPointer()
}

// valueEqual implements the key-equality rule: heap-pointer keys compare
// by identity, strings by contents, everything else by raw bit pattern.
func valueEqual(a, b Value) bool {
	if a.isPointer() && b.isPointer() {
		pa, pb := a.asPointer(), b.asPointer()
		if pa == pb {
			return true
		}
		if pa.structId == StructIDString && pb.structId == StructIDString {
			return string(pa.strBytes) == string(pb.strBytes)
		}
		return false
	}
	return a == b
}

func mapHashSlot(c *HeapObject, key Value) int {
	if len(c.mapEntries) == 0 {
		return -1
	}
	h := hashValue(key)
	n := len(c.mapEntries)
	start := int(h % uint64(n))
	for i := 0; i < n; i++ {
		slot := (start + i) % n
		e := &c.mapEntries[slot]
		if !e.used || valueEqual(e.key, key) {
			return slot
		}
	}
	return -1
}

func hashValue(v Value) uint64 {
	if v.isPointer() && v.asPointer().structId == StructIDString {
		return fnv1a(v.asPointer().strBytes)
	}
	return fnv1a64(uint64(v))
}

func fnv1a(b []byte) uint64 {
	const offset, prime = 14695981039346656037, 1099511628211
	h := uint64(offset)
	for _, c := range b {
		h ^= uint64(c)
		h *= prime
	}
	return h
}

func fnv1a64(x uint64) uint64 {
	var b [8]byte
	for i := range b {
		b[i] = byte(x >> (8 * i))
	}
	return fnv1a(b[:])
}

func (h *Heap) mapGrow(c *HeapObject) {
	old := c.mapEntries
	newCap := len(old) * 2
	if newCap < 8 {
		newCap = 8
	}
	c.mapEntries = make([]mapEntry, newCap)
	c.mapSize = 0
	for _, e := range old {
		if e.used {
			h.mapPut(c, e.key, e.val)
		}
	}
}

// mapPut implements put. Overwrites an existing key in place;
// grows and rehashes once the table crosses its load factor.
func (h *Heap) mapPut(c *HeapObject, key, val Value) {
	if len(c.mapEntries) == 0 || int(c.mapSize+1)*mapLoadFactorDen > len(c.mapEntries)*mapLoadFactorNum {
		h.mapGrow(c)
	}
	slot := mapHashSlot(c, key)
	e := &c.mapEntries[slot]
	if e.used {
		h.releaseValue(e.val)
		e.val = val
		return
	}
	e.used = true
	e.key = key
	e.val = val
	c.mapSize++
}

// mapGet implements get.
func mapGet(c *HeapObject, key Value) (Value, bool) {
	slot := mapHashSlot(c, key)
	if slot < 0 || !c.mapEntries[slot].used {
		return 0, false
	}
	return c.mapEntries[slot].val, true
}

// mapRemove implements remove; uses tombstone-free linear re-insertion of
// the probe chain tail so lookups stay correct after a delete.
func (h *Heap) mapRemove(c *HeapObject, key Value) bool {
	slot := mapHashSlot(c, key)
	if slot < 0 || !c.mapEntries[slot].used {
		return false
	}
	removed := c.mapEntries[slot]
	c.mapEntries[slot] = mapEntry{}
	c.mapSize--
	h.releaseValue(removed.key)
	h.releaseValue(removed.val)

	n := len(c.mapEntries)
	i := (slot + 1) % n
	for c.mapEntries[i].used {
		e := c.mapEntries[i]
		c.mapEntries[i] = mapEntry{}
		c.mapSize--
		reslot := mapHashSlot(c, e.key)
		c.mapEntries[reslot] = e
		c.mapSize++
		i = (i + 1) % n
	}
	return true
}

func mapSize(c *HeapObject) int { return int(c.mapSize) }

// mapIterator resets the cursor and retains+returns the map as its own
// iterator, mirroring list.iterator.
func (h *Heap) mapIterator(v Value) Value {
	c := asMap(v)
	c.mapIterIdx = 0
	h.retain(v)
	return v
}

// mapNextPair advances the cursor to the next live entry.
func (h *Heap) mapNextPair(v Value) (Value, Value, bool) {
	c := asMap(v)
	for int(c.mapIterIdx) < len(c.mapEntries) {
		e := &c.mapEntries[c.mapIterIdx]
		c.mapIterIdx++
		if e.used {
			h.retain(e.key)
			h.retain(e.val)
			return e.key, e.val, true
		}
	}
	return 0, 0, false
}
