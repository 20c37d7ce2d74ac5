package vm

// arithAdd implements the add opcode's fast/slow split: both-number is the hot path; either side being
// a string triggers concatenation (coercing the other side via
// stringify); none/bool on either side is a type error, since the
// language has no implicit numeric coercion for them.
func (vm *VM) arithAdd(a, b Value) (Value, error) {
	if a.isNumber() && b.isNumber() {
		return fromF64(a.asF64() + b.asF64()), nil
	}
	if isStringValue(a) || isStringValue(b) {
		sa := vm.heap.stringify(a)
		sb := vm.heap.stringify(b)
		return vm.heap.newStringFromGo(sa + sb), nil
	}
	return 0, &Panic{Message: "add: type mismatch, expected numbers or at least one string (" + typeOf(a) + " + " + typeOf(b) + ")"}
}

func isStringValue(v Value) bool {
	return v.isPointer() && v.asPointer().structId == StructIDString
}
