package vm

// Fiber implements the cooperative scheduler primitives:
// coinit/coresume/coyield/coreturn. A fiber is an ordinary heap object
// holding its own suspended value stack, program counter, and frame
// pointer — resuming it is just swapping the interpreter loop's live
// registers with the ones parked on the fiber cell, never an OS thread or
// goroutine. A fiber is owned data hanging off one *VM, never shared
// mutable state.

// A fiber is observed in one of three states: newly built and never
// resumed, currently suspended mid-body, and having run off its entry
// function's end. Encoded in fiberPc: a pc equal to fiberDonePC means
// done; any other value is a suspended resume point. There is no separate
// "running" storage because a fiber is never inspected while the
// interpreter loop actually has it live.
const fiberDonePC = ^uint32(0)

// newFiber implements coinit: builds a fresh fiber ready to start running
// entry at its first instruction, with an empty stack and no caller linked
// yet (prevFiber is set by coresume).
func (h *Heap) newFiber(entry *HeapObject, stackCap int) Value {
	c := h.alloc()
	c.structId = StructIDFiber
	c.rc = 1
	c.fiberStack = make([]Value, 0, stackCap)
	c.fiberPc = callableEntryPC(entry)
	c.fiberFramePtr = 0
	c.fiberPrevFiber = nil
	return fromPointer(c)
}

func asFiber(v Value) *HeapObject {
	if !v.isPointer() || v.asPointer().structId != StructIDFiber {
		panic("vm: value is not a fiber")
	}
	return v.asPointer()
}

func fiberIsDone(c *HeapObject) bool { return c.fiberPc == fiberDonePC }

// FiberSuspendState is the register snapshot coresume/coyield exchange
// with the interpreter loop.
type FiberSuspendState struct {
	PC        uint32
	FramePtr  uint32
	Stack     []Value
	PrevFiber *HeapObject
}

// coresume implements resuming a suspended fiber: the caller fiber (or the
// top-level, represented by a nil *HeapObject) is linked as this fiber's
// prevFiber so coreturn/coyield know who to hand control back to, and the
// fiber's parked state is handed to the interpreter loop to install as its
// live registers. Resuming an already-finished fiber is a no-op: target
// is left untouched and the returned state has PC fiberDonePC, the
// caller's frame pointer and a nil stack. The interpreter loop checks
// fiberIsDone before calling this, so it simply keeps running the caller.
func coresume(target *HeapObject, caller *HeapObject) FiberSuspendState {
	if fiberIsDone(target) {
		var fp uint32
		if caller != nil {
			fp = caller.fiberFramePtr
		}
		return FiberSuspendState{PC: fiberDonePC, FramePtr: fp, PrevFiber: caller}
	}
	target.fiberPrevFiber = caller
	return FiberSuspendState{
		PC:        target.fiberPc,
		FramePtr:  target.fiberFramePtr,
		Stack:     target.fiberStack,
		PrevFiber: caller,
	}
}

// coyield implements parking the currently running fiber mid-body and
// handing control back to whoever resumed it. Returns the previous fiber
// (nil at top level) so the interpreter loop knows whose registers to
// reinstall.
func coyield(current *HeapObject, pc uint32, framePtr uint32, stack []Value) *HeapObject {
	current.fiberPc = pc
	current.fiberFramePtr = framePtr
	current.fiberStack = stack
	prev := current.fiberPrevFiber
	current.fiberPrevFiber = nil
	return prev
}

// coreturn implements a fiber running off the end of its entry function:
// marks it permanently done and releases the locals still parked on its stack before
// handing control back to the caller fiber.
func coreturn(h *Heap, current *HeapObject) *HeapObject {
	for _, v := range current.fiberStack {
		h.releaseValue(v)
	}
	current.fiberStack = nil
	current.fiberPc = fiberDonePC
	current.fiberFramePtr = 0
	prev := current.fiberPrevFiber
	current.fiberPrevFiber = nil
	return prev
}
