package vm

// maxClosureCaptures is the number of inline capture slots a Closure cell
// carries. Exceeding it returns an explicit ErrTooManyCaptures rather than
// silently truncating captures or spilling to a secondary allocation.
const maxClosureCaptures = 3

// newLambda allocates a Lambda: a bare function pointer with no captured
// environment.
func (h *Heap) newLambda(pc uint32, numParams uint8, numLocals uint32) Value {
	c := h.alloc()
	c.structId = StructIDLambda
	c.rc = 1
	c.funcPc = pc
	c.numParams = numParams
	c.numLocals = numLocals
	return fromPointer(c)
}

// newClosure allocates a Closure: a function pointer plus up to
// maxClosureCaptures captured Values. Each captured pointer
// Value is retained; the closure cell owns that reference until it is
// released.
func (h *Heap) newClosure(pc uint32, numParams uint8, numLocals uint32, captures []Value) (Value, error) {
	if len(captures) > maxClosureCaptures {
		return 0, &ErrTooManyCaptures{Requested: len(captures), Max: maxClosureCaptures}
	}
	c := h.alloc()
	c.structId = StructIDClosure
	c.rc = 1
	c.funcPc = pc
	c.numParams = numParams
	c.numLocals = numLocals
	c.numCaptured = uint8(len(captures))
	for i, v := range captures {
		h.retain(v)
		c.captured[i] = v
	}
	return fromPointer(c), nil
}

func asCallable(v Value) *HeapObject {
	if !v.isPointer() {
		panic("vm: value is not callable")
	}
	p := v.asPointer()
	if p.structId != StructIDLambda && p.structId != StructIDClosure {
		panic("vm: value is not callable")
	}
	return p
}

func callableEntryPC(c *HeapObject) uint32     { return c.funcPc }
func callableNumParams(c *HeapObject) uint8    { return c.numParams }
func callableNumLocals(c *HeapObject) uint32   { return c.numLocals }

// closureCaptures returns the live capture slice of a Closure cell, empty
// for a Lambda.
func closureCaptures(c *HeapObject) []Value {
	if c.structId != StructIDClosure {
		return nil
	}
	return c.captured[:c.numCaptured]
}
