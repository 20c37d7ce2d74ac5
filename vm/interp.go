package vm

import (
	"context"
	"encoding/binary"
)

// runLoop is the fetch-decode-execute core. It fetches the
// next opcode from prog.Ops at pc, indexes the active frame via fp,
// computes, writes a destination register, and advances pc, with the hot
// numeric/comparison/copy paths inlined directly in the switch and the
// colder paths (field dispatch, calls, fibers) delegated to
// call.go/dispatch.go/fiber.go so this switch stays a flat,
// branch-predictable dispatch.
//
// ctx is polled every ctxCheckInterval instructions rather than every
// instruction, since the core itself has no cancellation concept and
// checking on every iteration would tax the hot loop for no behavioral
// benefit.
const ctxCheckInterval = 4096

func (vm *VM) runLoop(ctx context.Context, prog *Program, pc, fp uint32) (Value, uint32, error) {
	ops := prog.Ops
	stack := vm.stack
	heap := vm.heap
	iter := 0

	reg := func(offset byte) uint32 { return fp + uint32(offset) }

	for {
		iter++
		if iter%ctxCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return 0, pc, ctx.Err()
			default:
			}
		}

		if int(pc) >= len(ops) {
			return 0, pc, &NoEndOpError{PC: pc}
		}
		op := Opcode(ops[pc])
		body := ops[pc+1:]

		switch op {
		case OpPushTrue:
			stack.set(reg(body[0]), fromBool(true))
			pc += 2
		case OpPushFalse:
			stack.set(reg(body[0]), fromBool(false))
			pc += 2
		case OpPushNone:
			stack.set(reg(body[0]), fromNone())
			pc += 2
		case OpPushConst:
			idx := binary.LittleEndian.Uint16(body[1:3])
			stack.set(reg(body[0]), prog.Consts[idx])
			pc += 4
		case OpPushI8:
			stack.set(reg(body[0]), fromF64(float64(int8(body[1]))))
			pc += 3

		case OpAdd:
			dst, a, b := body[0], stack.get(reg(body[1])), stack.get(reg(body[2]))
			v, err := vm.arithAdd(a, b)
			if err != nil {
				return 0, pc, err
			}
			stack.set(reg(dst), v)
			pc += 4
		case OpSub:
			stack.set(reg(body[0]), fromF64(stack.get(reg(body[1])).asF64()-stack.get(reg(body[2])).asF64()))
			pc += 4
		case OpMul:
			stack.set(reg(body[0]), fromF64(stack.get(reg(body[1])).asF64()*stack.get(reg(body[2])).asF64()))
			pc += 4
		case OpDiv:
			stack.set(reg(body[0]), fromF64(stack.get(reg(body[1])).asF64()/stack.get(reg(body[2])).asF64()))
			pc += 4
		case OpMod:
			a, b := stack.get(reg(body[1])).asF64(), stack.get(reg(body[2])).asF64()
			stack.set(reg(body[0]), fromF64(modFloat(a, b)))
			pc += 4
		case OpNeg:
			stack.set(reg(body[0]), fromF64(-stack.get(reg(body[1])).asF64()))
			pc += 3
		case OpNot:
			stack.set(reg(body[0]), fromBool(!stack.get(reg(body[1])).isTrue()))
			pc += 3

		case OpEqNum:
			a, b := stack.get(reg(body[1])), stack.get(reg(body[2]))
			stack.set(reg(body[0]), fromBool(a.asF64() == b.asF64()))
			pc += 4
		case OpEq:
			a, b := stack.get(reg(body[1])), stack.get(reg(body[2]))
			stack.set(reg(body[0]), fromBool(valueEqual(a, b)))
			pc += 4
		case OpNeq:
			a, b := stack.get(reg(body[1])), stack.get(reg(body[2]))
			stack.set(reg(body[0]), fromBool(!valueEqual(a, b)))
			pc += 4
		case OpLt:
			stack.set(reg(body[0]), fromBool(stack.get(reg(body[1])).asF64() < stack.get(reg(body[2])).asF64()))
			pc += 4
		case OpLe:
			stack.set(reg(body[0]), fromBool(stack.get(reg(body[1])).asF64() <= stack.get(reg(body[2])).asF64()))
			pc += 4
		case OpGt:
			stack.set(reg(body[0]), fromBool(stack.get(reg(body[1])).asF64() > stack.get(reg(body[2])).asF64()))
			pc += 4
		case OpGe:
			stack.set(reg(body[0]), fromBool(stack.get(reg(body[1])).asF64() >= stack.get(reg(body[2])).asF64()))
			pc += 4

		case OpCopy:
			stack.set(reg(body[0]), stack.get(reg(body[1])))
			pc += 3
		case OpCopyRetainSrc:
			v := stack.get(reg(body[1]))
			heap.retain(v)
			stack.set(reg(body[0]), v)
			pc += 3
		case OpCopyReleaseDst:
			heap.releaseValue(stack.get(reg(body[0])))
			stack.set(reg(body[0]), stack.get(reg(body[1])))
			pc += 3
		case OpCopyRetainRelease:
			v := stack.get(reg(body[1]))
			heap.retain(v)
			heap.releaseValue(stack.get(reg(body[0])))
			stack.set(reg(body[0]), v)
			pc += 3
		case OpRetain:
			heap.retain(stack.get(reg(body[0])))
			pc += 2
		case OpRelease:
			heap.releaseValue(stack.get(reg(body[0])))
			pc += 2
		case OpSetInitN:
			base, n := reg(body[0]), body[1]
			for i := byte(0); i < n; i++ {
				stack.set(base+uint32(i), fromNone())
			}
			pc += 3

		case OpListBuild:
			base, n, dst := reg(body[0]), body[1], body[2]
			elems := make([]Value, n)
			for i := byte(0); i < n; i++ {
				elems[i] = stack.get(base + uint32(i))
			}
			stack.set(reg(dst), heap.newList(elems))
			pc += 5
		case OpMapEmpty:
			stack.set(reg(body[0]), heap.newMap())
			pc += 2
		case OpMapBuild:
			base, n, dst := reg(body[0]), body[1], body[2]
			m := heap.newMap()
			mc := asMap(m)
			for i := byte(0); i < n; i += 2 {
				heap.mapPut(mc, stack.get(base+uint32(i)), stack.get(base+uint32(i)+1))
			}
			stack.set(reg(dst), m)
			pc += 5
		case OpIndexGet:
			recv := stack.get(reg(body[1]))
			idx := stack.get(reg(body[2])).asInt()
			v, err := listGet(asList(recv), idx)
			if err != nil {
				return 0, pc, err
			}
			heap.retain(v)
			stack.set(reg(body[0]), v)
			pc += 4
		case OpReverseIndexGet:
			recv := stack.get(reg(body[1]))
			idx := -1 - stack.get(reg(body[2])).asInt()
			v, err := listGet(asList(recv), idx)
			if err != nil {
				return 0, pc, err
			}
			heap.retain(v)
			stack.set(reg(body[0]), v)
			pc += 4
		case OpIndexSet:
			recv := stack.get(reg(body[0]))
			idx := stack.get(reg(body[1])).asInt()
			v := stack.get(reg(body[2]))
			heap.retain(v)
			if err := listSet(asList(recv), idx, v); err != nil {
				return 0, pc, err
			}
			pc += 4
		case OpSlice:
			recv := asList(stack.get(reg(body[0])))
			start := stack.get(reg(body[1])).asInt()
			end := stack.get(reg(body[2])).asInt()
			elems, err := listSlice(recv, start, end)
			if err != nil {
				return 0, pc, err
			}
			for _, v := range elems {
				heap.retain(v)
			}
			stack.set(reg(body[3]), heap.newList(elems))
			pc += 5

		case OpForIterInit:
			v := stack.get(reg(body[0]))
			var iter Value
			switch asPointerStructID(v) {
			case StructIDList:
				iter = heap.listIterator(v)
			case StructIDMap:
				iter = heap.mapIterator(v)
			default:
				return 0, pc, &Panic{Message: "for-iter over non-iterable value"}
			}
			stack.set(reg(body[0]), iter)
			pc += 2

		case OpForIterNext:
			iterReg, dstReg := body[0], body[1]
			iterVal := stack.get(reg(iterReg))
			var next Value
			var ok bool
			switch asPointerStructID(iterVal) {
			case StructIDList:
				next, ok = heap.listNext(iterVal)
			case StructIDMap:
				_, v, present := heap.mapNextPair(iterVal)
				next, ok = v, present
			default:
				return 0, pc, &Panic{Message: "for-iter over non-iterable value"}
			}
			if !ok {
				pc = uint32(int32(pc) + int32(int16(binary.LittleEndian.Uint16(body[2:4]))))
			} else {
				stack.set(reg(dstReg), next)
				pc += 5
			}

		case OpForRangeInit:
			v := stack.get(reg(body[0]))
			var iter Value
			switch asPointerStructID(v) {
			case StructIDList:
				iter = heap.listIterator(v)
			case StructIDMap:
				iter = heap.mapIterator(v)
			default:
				return 0, pc, &Panic{Message: "for-range over non-iterable value"}
			}
			stack.set(reg(body[0]), iter)
			pc += 2

		case OpForRangeNext:
			iterReg, idxReg, valReg := body[0], body[1], body[2]
			iterVal := stack.get(reg(iterReg))
			var idx, val Value
			var ok bool
			switch asPointerStructID(iterVal) {
			case StructIDList:
				idx, val, ok = heap.listNextPair(iterVal)
			case StructIDMap:
				idx, val, ok = heap.mapNextPair(iterVal)
			default:
				return 0, pc, &Panic{Message: "for-range over non-iterable value"}
			}
			if !ok {
				pc = uint32(int32(pc) + int32(int16(binary.LittleEndian.Uint16(body[3:5]))))
			} else {
				stack.set(reg(idxReg), idx)
				stack.set(reg(valReg), val)
				pc += 6
			}

		case OpLambdaBuild:
			entryPC := binary.LittleEndian.Uint16(body[1:3])
			numParams := body[3]
			numLocals := binary.LittleEndian.Uint16(body[4:6])
			stack.set(reg(body[0]), heap.newLambda(uint32(entryPC), numParams, uint32(numLocals)))
			pc += 7
		case OpClosureBuild:
			base, n, entryReg := reg(body[0]), body[1], body[2]
			lambda := asCallable(stack.get(reg(entryReg)))
			caps := make([]Value, n)
			for i := byte(0); i < n; i++ {
				caps[i] = stack.get(base + uint32(i))
			}
			closure, err := heap.newClosure(callableEntryPC(lambda), callableNumParams(lambda), callableNumLocals(lambda), caps)
			if err != nil {
				return 0, pc, err
			}
			stack.set(reg(body[3]), closure)
			pc += 5

		case OpJump:
			// Offsets are relative to the opcode's own start, not
			// the byte after it, so asm.go's label patches stay a single
			// addition independent of operand width.
			pc = uint32(int32(pc) + int32(int16(binary.LittleEndian.Uint16(body))))
		case OpJumpCond:
			if stack.get(reg(body[0])).isTrue() {
				pc = uint32(int32(pc) + int32(int16(binary.LittleEndian.Uint16(body[1:3]))))
			} else {
				pc += 4
			}
		case OpJumpNotCond:
			if !stack.get(reg(body[0])).isTrue() {
				pc = uint32(int32(pc) + int32(int16(binary.LittleEndian.Uint16(body[1:3]))))
			} else {
				pc += 4
			}

		case OpCall0, OpCall1:
			calleeReg, numArgsB, dstReg := body[0], body[1], body[2]
			numArgs := int(numArgsB)
			calleeVal := stack.get(reg(calleeReg))
			argsBase := reg(calleeReg) - uint32(numArgs-1)
			numRet := uint8(0)
			if op == OpCall1 {
				numRet = 1
			}
			callee := asCallable(calleeVal)
			nf, err := doCall(heap, stack, pc+4, fp, argsBase, numArgs, numRet, true, callee)
			if err != nil {
				return 0, pc, err
			}
			pc, fp = nf.pc, nf.framePtr
			_ = dstReg // destination is written by the callee's ret opcode into slot 0

		case OpCallSym0, OpCallSym1:
			symIdx := binary.LittleEndian.Uint16(body[0:2])
			numArgs := int(body[2])
			fs := vm.symbols.Func(uint32(symIdx))
			argsBase := fp + frameFirstArgSlot
			numRet := uint8(0)
			if op == OpCallSym1 {
				numRet = 1
			}
			if fs.isNative() {
				result, err := callNative(vm, fs.native, argsBase, numArgs)
				if err != nil {
					return 0, pc, err
				}
				if numRet == 1 {
					stack.set(argsBase-frameFirstArgSlot, result)
				}
				pc += 4
			} else {
				synthetic := &HeapObject{structId: StructIDLambda, funcPc: fs.entryPC, numParams: fs.numParams, numLocals: fs.numLocals}
				nf, err := doCall(heap, stack, pc+4, fp, argsBase, numArgs, numRet, true, synthetic)
				if err != nil {
					return 0, pc, err
				}
				pc, fp = nf.pc, nf.framePtr
			}

		case OpCallObjSym0, OpCallObjSym1:
			methodIdx := binary.LittleEndian.Uint16(body[0:2])
			numArgs := int(body[2])
			receiverReg := body[3]
			receiver := stack.get(reg(receiverReg))
			entry, err := callObjSym(vm.symbols, uint32(methodIdx), receiver)
			if err != nil {
				return 0, pc, err
			}
			argsBase := reg(receiverReg)
			numRet := uint8(0)
			if op == OpCallObjSym1 {
				numRet = 1
			}
			synthetic := &HeapObject{structId: StructIDLambda, funcPc: entry.entryPC, numParams: entry.numParams, numLocals: entry.numLocals}
			nf, err := doCall(heap, stack, pc+5, fp, argsBase, numArgs, numRet, true, synthetic)
			if err != nil {
				return 0, pc, err
			}
			pc, fp = nf.pc, nf.framePtr

		case OpRet0:
			next, cont := doReturn(heap, stack, fp, nil)
			if !cont {
				return fromNone(), next.pc, nil
			}
			pc, fp = next.pc, next.framePtr
		case OpRet1:
			v := stack.get(reg(body[0]))
			next, cont := doReturn(heap, stack, fp, []Value{v})
			if !cont {
				return v, next.pc, nil
			}
			pc, fp = next.pc, next.framePtr

		case OpCoinit:
			// Copies N arguments into the new fiber's own stack starting at
			// slot 2, slots 0/1 reserved for return value and return info,
			// matching the frame layout every other callable uses.
			calleeReg, numArgsB, dstReg := body[0], body[1], body[2]
			entry := asCallable(stack.get(reg(calleeReg)))
			numArgs := int(numArgsB)
			frameSize := frameFirstArgSlot + callableNumLocals(entry)
			fiberVal := heap.newFiber(entry, int(frameSize))
			fc := asFiber(fiberVal)
			fc.fiberStack = fc.fiberStack[:frameSize]
			for i := 0; i < numArgs; i++ {
				v := stack.get(reg(calleeReg) - uint32(numArgs) + uint32(i))
				heap.retain(v)
				fc.fiberStack[frameFirstArgSlot+uint32(i)] = v
			}
			stack.set(reg(dstReg), fiberVal)
			pc += 4

		case OpCoresume:
			fiberReg := body[0]
			target := asFiber(stack.get(reg(fiberReg)))
			if target == vm.curFiber || fiberIsDone(target) {
				pc += 2
				break
			}
			// Park the caller's own registers on its fiber cell (the main
			// fiber included) before swapping the loop's live stack over to
			// the target's, so a later coyield/coreturn out of target knows
			// exactly where and on what stack to resume the caller.
			caller := vm.curFiber
			caller.fiberPc, caller.fiberFramePtr, caller.fiberStack = pc+2, fp, stack.values
			state := coresume(target, caller)
			vm.curFiber = target
			stack.values = state.Stack
			pc, fp = state.PC, state.FramePtr

		case OpCoyield:
			if vm.curFiber == vm.mainFiber {
				pc += 1
				break
			}
			current := vm.curFiber
			prev := coyield(current, pc+1, fp, stack.values)
			vm.curFiber = prev
			stack.values = prev.fiberStack
			pc, fp = prev.fiberPc, prev.fiberFramePtr

		case OpCoreturn:
			current := vm.curFiber
			prev := coreturn(heap, current)
			vm.curFiber = prev
			if current != vm.mainFiber {
				heap.releaseValue(fromPointer(current))
			}
			if prev == nil {
				return fromNone(), pc, nil
			}
			stack.values = prev.fiberStack
			pc, fp = prev.fiberPc, prev.fiberFramePtr

		case OpStringTemplate:
			fragIdx := binary.LittleEndian.Uint16(body[0:2])
			base, n := reg(body[2]), body[3]
			fragVal := prog.constString(prog.Consts[fragIdx])
			fragments := splitTemplateFragments(fragVal)
			values := make([]Value, n)
			for i := byte(0); i < n; i++ {
				values[i] = stack.get(base + uint32(i))
			}
			result := heap.formatTemplate(fragments, values)
			for _, v := range values {
				heap.releaseValue(v)
			}
			stack.set(base, result)
			pc += 5

		case OpFieldGet, OpFieldSet, OpFieldGetCached, OpFieldSetReleaseCached:
			next, err := vm.execFieldOp(prog, op, body, fp)
			if err != nil {
				return 0, pc, err
			}
			pc += next

		case OpSmallObjectBuild:
			structID := binary.LittleEndian.Uint16(body[0:2])
			base, n, dst := reg(body[2]), body[3], body[4]
			fields := make([]Value, n)
			for i := byte(0); i < n; i++ {
				fields[i] = stack.get(base + uint32(i))
			}
			var obj Value
			if n <= maxSmallObjectFields {
				obj = heap.newSmallObject(uint32(structID), fields)
			} else {
				obj = heap.newBigObject(fields)
			}
			stack.set(reg(dst), obj)
			pc += 6

		case OpEnd:
			slot := body[0]
			if slot == 255 {
				return fromNone(), pc, nil
			}
			return stack.get(reg(slot)), pc, nil

		default:
			return 0, pc, &Panic{Message: "unimplemented opcode"}
		}
	}
}

func modFloat(a, b float64) float64 {
	r := a - b*float64(int64(a/b))
	return r
}

// splitTemplateFragments splits the '\x00'-joined constant-string fragment
// blob a compiler would have packed into the string buffer for a single
// template literal.
func splitTemplateFragments(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
