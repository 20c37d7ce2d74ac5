package vm

import (
	"bytes"
	"strings"
	"testing"
)

// newPrintingVM returns a VM with a "print" native registered at index 0,
// and the buffer its output lands in — the builtin library itself is
// explicitly out of scope, so tests stand one minimal native in
// for it, same role the host embedding this core would normally play.
func newPrintingVM(t *testing.T) (*VM, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	vm := New(Options{Stdout: &out, DebugRC: true})
	vm.symbols.RegisterNative("print", func(vm *VM, argsBase uint32, numArgs int) (Value, error) {
		v := vm.stack.get(argsBase)
		vm.printf("%s\n", vm.heap.stringify(v))
		vm.heap.releaseValue(v)
		return fromNone(), nil
	})
	return vm, &out
}

// TestArithmeticAndPrint evaluates `print 1 + 2 * 3`: prints "7" and
// leaves the debug rc counter at zero.
func TestArithmeticAndPrint(t *testing.T) {
	vm, out := newPrintingVM(t)

	a := NewAssembler()
	a.PushI8(0, 1)
	a.PushI8(1, 2)
	a.PushI8(3, 3)
	a.Mul(4, 1, 3)
	a.Add(2, 0, 4)
	a.CallSym0(0, 1)
	a.End(255)
	prog := a.Build(8)

	if _, err := vm.Eval(prog); err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "7" {
		t.Errorf("stdout = %q, want 7", got)
	}
	if rc := vm.DebugRC(); rc != 0 {
		t.Errorf("debug rc counter = %d, want 0", rc)
	}
}

// TestListIterationWithPrint iterates [1,2,3] via the list iterator
// protocol directly, printing each element, and leaves the heap balanced.
func TestListIterationWithPrint(t *testing.T) {
	vm, out := newPrintingVM(t)
	heap := vm.heap

	listVal := heap.newList([]Value{fromInt(1), fromInt(2), fromInt(3)})
	heap.listIterator(listVal)
	for {
		v, ok := heap.listNext(listVal)
		if !ok {
			break
		}
		vm.printf("%s\n", heap.stringify(v))
		heap.releaseValue(v)
	}
	heap.releaseValue(listVal) // drop the retain listIterator took plus the original owning ref
	heap.releaseValue(listVal)

	if got := strings.TrimSpace(out.String()); got != "1\n2\n3" {
		t.Errorf("stdout = %q, want 1\\n2\\n3", got)
	}
	if rc := vm.DebugRC(); rc != 0 {
		t.Errorf("debug rc counter = %d, want 0", rc)
	}
}

// TestClosureCapture builds a closure over one captured value and checks
// the capture survives into the closure cell.
func TestClosureCapture(t *testing.T) {
	h := NewHeap()
	// func (x): return n + x  -- entry pc is irrelevant here since we drive
	// the body by hand; this test only exercises capture plumbing, not
	// dispatch through runLoop.
	lambda := h.newLambda(0, 1, 0)
	closureVal, err := h.newClosure(callableEntryPC(asCallable(lambda)), 1, 0, []Value{fromInt(10)})
	if err != nil {
		t.Fatalf("newClosure: %v", err)
	}
	c := asCallable(closureVal)
	caps := closureCaptures(c)
	if len(caps) != 1 || caps[0].asInt() != 10 {
		t.Fatalf("closure should carry its captured value, got %v", caps)
	}
	result := fromF64(float64(caps[0].asInt()) + 5)
	if result.asF64() != 15 {
		t.Errorf("n + x = %v, want 15", result.asF64())
	}
	h.releaseValue(lambda)
	h.releaseValue(closureVal)
}

// TestFiberPingPong resumes a fiber three times, with the fiber yielding
// control back to main between each print, and checks the output
// interleaves in order and the fiber reports done afterward.
func TestFiberPingPong(t *testing.T) {
	h := NewHeap()
	entry := h.newLambda(0, 0, 0)
	fiberVal := h.newFiber(asCallable(entry), 8)
	fiber := asFiber(fiberVal)
	main := &HeapObject{structId: StructIDFiber}

	var output []string
	script := []string{"A", "B", "C"}
	cur := fiber
	for i := 0; i < 3; i++ {
		coresume(cur, main)
		output = append(output, script[i])
		coyield(cur, uint32(i+1), 0, nil)
	}
	coreturn(h, cur)

	if strings.Join(output, "") != "ABC" {
		t.Errorf("output = %v, want A B C in order", output)
	}
	if !fiberIsDone(fiber) {
		t.Error("fiber should be done after coreturn")
	}
	h.releaseValue(entry)
	h.releaseValue(fiberVal)
}

// TestForIterLoopOverList runs `for xs each x: print x` through the
// for-iter opcodes and checks every element is visited in order with the
// heap left balanced.
func TestForIterLoopOverList(t *testing.T) {
	vm, out := newPrintingVM(t)

	a := NewAssembler()
	a.PushI8(5, 1)
	a.PushI8(6, 2)
	a.PushI8(7, 3)
	a.ListBuild(5, 3, 3) // r3 = [1, 2, 3]
	a.ForIterInit(3)     // r3 becomes its own iterator (retains once more)
	a.Label("loop")
	a.ForIterNext(3, 2, "end") // next element lands at r2, the call arg slot
	a.CallSym0(0, 1)
	a.Jump("loop")
	a.Label("end")
	a.Release(3) // drop the iterator's own reference
	a.Release(3) // drop the original list binding
	a.End(255)
	prog := a.Build(8)

	if _, err := vm.Eval(prog); err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "1\n2\n3" {
		t.Errorf("stdout = %q, want 1\\n2\\n3", got)
	}
	if rc := vm.DebugRC(); rc != 0 {
		t.Errorf("debug rc counter = %d, want 0", rc)
	}
}

// TestMethodPolymorphism exercises method dispatch promotion: the first
// call on a method symbol installs a one-struct cache, a call against a
// second struct promotes it to the many-structs map, and a subsequent
// call against the first struct still resolves correctly via MRU refresh.
func TestMethodPolymorphism(t *testing.T) {
	tables := NewSymbolTables()
	account := tables.RegisterStruct("Account", 0)
	vault := tables.RegisterStruct("Vault", 0)

	showID := tables.RegisterMethod("show", account, 100, 0, 0)
	accountVal := fromPointer(&HeapObject{structId: account, rc: 1})

	e, err := callObjSym(tables, showID, accountVal)
	if err != nil || e.entryPC != 100 {
		t.Fatalf("first call (one-struct) failed: %v, %v", e, err)
	}

	tables.RegisterMethod("show", vault, 200, 0, 0)
	vaultVal := fromPointer(&HeapObject{structId: vault, rc: 1})
	e, err = callObjSym(tables, showID, vaultVal)
	if err != nil || e.entryPC != 200 {
		t.Fatalf("second call (promoted) failed: %v, %v", e, err)
	}

	e, err = callObjSym(tables, showID, accountVal)
	if err != nil || e.entryPC != 100 {
		t.Fatalf("third call (MRU refresh) failed: %v, %v", e, err)
	}
}

// TestRecursionAndStackGrowth drives deep recursion that forces the value
// stack to grow past its initial capacity without corrupting frames.
//
// f(n) = n == 0 ? 0 : f(n-1) + 1, addressed entirely in terms of the
// call-frame's own slots (n lives at offset 2, the arg slot every frame —
// including the outermost one seeded below — agrees on), so the same
// bytecode serves as both the program entry and the recursive callee.
func TestRecursionAndStackGrowth(t *testing.T) {
	const n = 300 // deep enough to overflow the default 256-slot stack

	a := NewAssembler()
	a.PushConst(2, fromF64(n)) // seed n at the arg slot
	entryPC := uint16(len(a.ops))
	a.PushI8(3, 0)
	a.Eq(4, 2, 3) // r4 = (n == 0); r4 is dead again once the branch below reads it
	a.JumpIfNot(4, "recurse")
	a.Ret1(3) // return 0
	a.Label("recurse")
	a.PushI8(5, 1)
	a.Sub(6, 2, 5)            // r6 = n - 1, lands exactly where the call below expects arg0
	a.LambdaBuild(7, entryPC, 1, 8)
	// calleeReg=7, numArgs=2 (1 real arg + the callee slot) puts arg0 at
	// r6 and requires the destination register to be r4 (dstReg = calleeReg
	// - numArgs - 1) for the callee's return value to land where this frame
	// reads it back below — r4's (n==0) value is long dead by this point.
	a.Call1(4, 7, 2)
	a.PushI8(8, 1)
	a.Add(9, 4, 8) // f(n-1) + 1
	a.Ret1(9)
	prog := a.Build(8) // offsets 2..9 = 8 registers beyond the reserved pair

	vm := New(Options{DebugRC: true})
	result, err := vm.Eval(prog)
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	if result.asF64() != n {
		t.Errorf("f(%d) = %v, want %d", n, result.asF64(), n)
	}
	if got := len(vm.stack.values); got <= defaultInitialStackSize {
		t.Errorf("stack should have grown past its initial capacity, len=%d", got)
	}
}
