package vm

import "encoding/binary"

// callObjSym resolves a method call against a receiver, branching on the
// method symbol's map kind: empty never matches, one-struct compares
// against the cached struct id, many-structs checks the MRU before the
// auxiliary hash. A receiver with no matching entry gets a "missing
// symbol" panic, Map receivers included: no map-style key lookup is done
// for method calls.
func callObjSym(tables *SymbolTables, methodID uint32, receiver Value) (methodEntry, error) {
	if !receiver.isPointer() {
		return methodEntry{}, &Panic{Message: "method call on a non-heap receiver"}
	}
	obj := receiver.asPointer()
	m := tables.methods[methodID]
	if m == nil {
		return methodEntry{}, &Panic{Message: "missing symbol"}
	}
	if e, ok := m.resolve(methodID, obj.structId); ok {
		return e, nil
	}
	if obj.structId == StructIDMap {
		return methodEntry{}, &Panic{Message: "missing symbol"}
	}
	return methodEntry{}, &Panic{Message: "missing symbol"}
}

// resolveField implements the field-access fast/slow path: the one-struct
// cache covers SmallObject/BigObject receivers, a Map receiver always
// falls back to name-based key lookup regardless of cache state
// (supporting maps-as-records).
func resolveField(fields *FieldSymbolMap, fieldID uint32, receiver Value) (fieldEntry, bool, isMapFallback bool) {
	if receiver.isPointer() && receiver.asPointer().structId == StructIDMap {
		return fieldEntry{}, false, true
	}
	if !receiver.isPointer() {
		return fieldEntry{}, false, false
	}
	e, ok := fields.resolve(receiver.asPointer().structId)
	return e, ok, false
}

// fieldGetCached implements the inline-cached field-get opcode's runtime
// behavior: compare the receiver's structId
// against the cache; on hit, read directly; on miss, fall through to the
// slow path and (by returning ok=false) signal the loop to perform the
// slow resolution and write the cache back.
func fieldGetCached(cachedStructID uint32, cachedOffset int, receiver Value) (Value, bool) {
	if !receiver.isPointer() {
		return 0, false
	}
	obj := receiver.asPointer()
	if obj.structId != cachedStructID {
		return 0, false
	}
	return objectGetField(obj, cachedOffset), true
}

// execFieldOp executes one of the four field-access opcodes and returns
// how far pc should advance. body is the slice of prog.Ops immediately
// following the opcode byte; for the cached variants it aliases the live
// instruction stream, so the slow-path writeback below is a plain in-place
// mutation rather than a side table.
func (vm *VM) execFieldOp(prog *Program, op Opcode, body []byte, fp uint32) (uint32, error) {
	switch op {
	case OpFieldGet:
		objReg, fieldID, destReg := body[0], binary.LittleEndian.Uint16(body[1:3]), body[3]
		recv := vm.stack.get(fp + uint32(objReg))
		v, err := vm.fieldGetSlow(uint32(fieldID), recv)
		if err != nil {
			return 0, err
		}
		vm.heap.retain(v)
		vm.stack.set(fp+uint32(destReg), v)
		return 6, nil

	case OpFieldSet:
		objReg, fieldID, srcReg := body[0], binary.LittleEndian.Uint16(body[1:3]), body[3]
		recv := vm.stack.get(fp + uint32(objReg))
		v := vm.stack.get(fp + uint32(srcReg))
		if err := vm.fieldSetSlow(uint32(fieldID), recv, v); err != nil {
			return 0, err
		}
		return 6, nil

	case OpFieldGetCached:
		objReg := body[0]
		fieldID := binary.LittleEndian.Uint16(body[1:3])
		cachedStructID := binary.LittleEndian.Uint16(body[3:5])
		cachedOffset := body[5]
		destReg := body[6]
		recv := vm.stack.get(fp + uint32(objReg))
		if v, ok := fieldGetCached(uint32(cachedStructID), int(cachedOffset), recv); ok {
			vm.heap.retain(v)
			vm.stack.set(fp+uint32(destReg), v)
			return 8, nil
		}
		v, err := vm.fieldGetSlow(uint32(fieldID), recv)
		if err != nil {
			return 0, err
		}
		if recv.isPointer() {
			if e, ok := vm.symbols.fields[uint32(fieldID)].resolve(recv.asPointer().structId); ok {
				binary.LittleEndian.PutUint16(body[3:5], uint16(recv.asPointer().structId))
				body[5] = byte(e.slot)
			}
		}
		vm.heap.retain(v)
		vm.stack.set(fp+uint32(destReg), v)
		return 8, nil

	default: // OpFieldSetReleaseCached
		objReg := body[0]
		fieldID := binary.LittleEndian.Uint16(body[1:3])
		srcReg := body[6]
		recv := vm.stack.get(fp + uint32(objReg))
		v := vm.stack.get(fp + uint32(srcReg))
		if err := vm.fieldSetSlow(uint32(fieldID), recv, v); err != nil {
			return 0, err
		}
		if recv.isPointer() {
			if e, ok := vm.symbols.fields[uint32(fieldID)].resolve(recv.asPointer().structId); ok {
				binary.LittleEndian.PutUint16(body[3:5], uint16(recv.asPointer().structId))
				body[5] = byte(e.slot)
			}
		}
		return 8, nil
	}
}

// fieldGetSlow is the non-cached lookup path: one-struct cache hit, or a
// Map receiver treated as a name-based key lookup.
func (vm *VM) fieldGetSlow(fieldID uint32, recv Value) (Value, error) {
	fields := vm.symbols.fields[fieldID]
	e, ok, mapFallback := resolveField(fields, fieldID, recv)
	if mapFallback {
		key := vm.heap.newStringFromGo(vm.fieldName(fieldID))
		defer vm.heap.releaseValue(key)
		v, found := mapGet(recv.asPointer(), key)
		if !found {
			return fromNone(), nil
		}
		return v, nil
	}
	if !ok {
		return 0, &Panic{Message: "missing field"}
	}
	return objectGetField(recv.asPointer(), e.slot), nil
}

func (vm *VM) fieldSetSlow(fieldID uint32, recv Value, v Value) error {
	fields := vm.symbols.fields[fieldID]
	e, ok, mapFallback := resolveField(fields, fieldID, recv)
	if mapFallback {
		key := vm.heap.newStringFromGo(vm.fieldName(fieldID))
		vm.heap.retain(v)
		vm.heap.mapPut(recv.asPointer(), key, v)
		return nil
	}
	if !ok {
		return &Panic{Message: "missing field"}
	}
	vm.heap.retain(v)
	objectSetField(vm.heap, recv.asPointer(), e.slot, v)
	return nil
}

func (vm *VM) fieldName(fieldID uint32) string {
	for name, id := range vm.symbols.fieldIDs {
		if id == fieldID {
			return name
		}
	}
	return ""
}
