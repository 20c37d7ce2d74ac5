package vm

// maxSmallObjectFields is the number of inline field slots a SmallObject
// cell carries. Struct instances with more fields than this spill to the
// BigObject shape, a real heap shape rather than a panic stub.
const maxSmallObjectFields = 4

// newSmallObject allocates a struct instance whose field count fits inline.
func (h *Heap) newSmallObject(structID uint32, fields []Value) Value {
	if len(fields) > maxSmallObjectFields {
		panic("vm: newSmallObject called with too many fields, use newBigObject")
	}
	c := h.alloc()
	c.structId = structID
	c.rc = 1
	c.smallNumFields = uint8(len(fields))
	copy(c.smallFields[:], fields)
	return fromPointer(c)
}

// newBigObject allocates a struct instance whose fields overflow the
// inline capacity, backing them with a separately allocated Go slice
// instead.
//
// Its structId is always StructIDBigObject; the user struct id given to
// the build opcode is not recorded on the cell.
func (h *Heap) newBigObject(fields []Value) Value {
	c := h.alloc()
	c.structId = StructIDBigObject
	c.rc = 1
	c.bigFields = append([]Value(nil), fields...)
	return fromPointer(c)
}

func isObject(v Value) bool {
	if !v.isPointer() {
		return false
	}
	id := v.asPointer().structId
	return id == StructIDSmallObject || id == StructIDBigObject || id > lastBuiltinStructID
}

func objectFields(c *HeapObject) []Value {
	if c.structId == StructIDBigObject {
		return c.bigFields
	}
	return c.smallFields[:c.smallNumFields]
}

// objectGetField reads a field by its compiled-in slot index.
func objectGetField(c *HeapObject, slot int) Value {
	fields := objectFields(c)
	if slot < 0 || slot >= len(fields) {
		panic("vm: field slot out of range (compiler/inline-cache invariant violation)")
	}
	return fields[slot]
}

func objectSetField(h *Heap, c *HeapObject, slot int, v Value) {
	if c.structId == StructIDBigObject {
		if slot < 0 || slot >= len(c.bigFields) {
			panic("vm: field slot out of range (compiler/inline-cache invariant violation)")
		}
		h.releaseValue(c.bigFields[slot])
		c.bigFields[slot] = v
		return
	}
	if slot < 0 || slot >= int(c.smallNumFields) {
		panic("vm: field slot out of range (compiler/inline-cache invariant violation)")
	}
	h.releaseValue(c.smallFields[slot])
	c.smallFields[slot] = v
}
