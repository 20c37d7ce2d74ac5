package vm

// Frame slot layout: slot 0 is the call's return
// value, slot 1 is packed return info, slots 2.. are args then locals.
// callableNumLocals counts slots 2.. inclusive (args + captures + actual
// locals), so a frame spans exactly [framePtr, framePtr+2+numLocals).
const (
	frameSlotReturnValue = 0
	frameSlotReturnInfo  = 1
	frameFirstArgSlot    = 2
)

// callFrame carries the bookkeeping the interpreter loop threads around a
// bytecode call. It is a plain value, never heap-allocated — frames live
// as stack slots plus these few registers, which stay in local machine
// registers for the duration of the dispatch loop rather than a heap-owned
// struct.
type callFrame struct {
	pc       uint32
	framePtr uint32
}

// doCall runs the "on call" transition. argsBase is the absolute stack
// index of arg0 in the caller's own frame (register decode already applied
// callerFramePtr); the new frame is laid out so that arg0 lands at the new
// frame's slot 2, i.e. newFramePtr = argsBase - 2.
func doCall(h *Heap, stack *valueStack, callerPC, callerFramePtr uint32, argsBase uint32, numArgs int, numRetVals uint8, retFlag bool, callee *HeapObject) (callFrame, error) {
	if numArgs-1 != int(callableNumParams(callee)) {
		return callFrame{}, &Panic{Message: "argument count mismatch on call"}
	}
	newFramePtr := argsBase - frameFirstArgSlot
	frameEnd := newFramePtr + frameFirstArgSlot + callableNumLocals(callee)
	if stack.max > 0 && int(frameEnd) > stack.max {
		return callFrame{}, &StackOverflowError{Limit: stack.max}
	}
	if uint32(stack.len()) < frameEnd {
		if _, err := stack.reserve(frameEnd - uint32(stack.len())); err != nil {
			return callFrame{}, err
		}
	}

	stack.set(newFramePtr+frameSlotReturnInfo, fromReturnInfo(callerPC, callerFramePtr, numRetVals, retFlag))

	if caps := closureCaptures(callee); len(caps) > 0 {
		base := newFramePtr + frameFirstArgSlot + uint32(numArgs)
		for i, v := range caps {
			h.retain(v)
			stack.set(base+uint32(i), v)
		}
	}

	return callFrame{pc: callableEntryPC(callee), framePtr: newFramePtr}, nil
}

// doReturn runs the "on return" transition: reads return info back out of
// the current frame, reconciles produced-vs-requested return value count,
// and reports the caller's (pc, framePtr, retFlag) to resume.
//
// produced holds the return value actually pushed by the ret opcode, if
// any (0 or 1 values): if the caller requested none but one was produced,
// it is released; if one was requested but none was produced, slot 0 is
// filled with none.
func doReturn(h *Heap, stack *valueStack, framePtr uint32, produced []Value) (next callFrame, retFlag bool) {
	info := stack.get(framePtr + frameSlotReturnInfo)
	pc, callerFP, numRetVals, flag := info.asReturnInfo()

	result := fromNone()
	switch {
	case len(produced) == 1 && numRetVals == 0:
		h.releaseValue(produced[0])
	case len(produced) == 1 && numRetVals >= 1:
		result = produced[0]
	}
	if numRetVals >= 1 {
		stack.set(framePtr+frameSlotReturnValue, result)
	}

	return callFrame{pc: pc, framePtr: callerFP}, flag
}

// callNative runs the host-native ABI: `(vm, argsPointer, numArgs) ->
// Value`. A thin indirection through the NativeFunc value, kept as its own
// function so the interpreter loop's call opcodes read the same either way.
func callNative(vm *VM, fn NativeFunc, argsBase uint32, numArgs int) (Value, error) {
	return fn(vm, argsBase, numArgs)
}
