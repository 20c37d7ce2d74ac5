package vm

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Options configures a VM via a New(Options) constructor: every field has
// a zero-value default that falls back to an OS stream or a sane numeric
// limit, so callers only set what they need to override.
type Options struct {
	// Standard output and error streams. VM.printf (used by host natives
	// such as a print builtin) writes to Stdout; Stderr is stored but
	// nothing in the core writes to it. Default os.Stdout/os.Stderr.
	Stdout, Stderr io.Writer

	// InitialStackSize is the value stack's starting capacity in slots.
	InitialStackSize int

	// MaxStackSize caps stack growth;
	// 0 means unbounded.
	MaxStackSize int

	// InitialHeapPages is accepted but not read by New: the heap always
	// starts with no pages and grows by the allocator's own rule.
	InitialHeapPages int

	// DebugRC installs the VM heap's verification rc counter so tests
	// can assert it returns to zero after eval.
	DebugRC bool
}

// VM owns one complete, independent execution context: its heap, symbol
// tables, value stack, and current fiber. Every field a caller might
// otherwise reach for as a package-level global instead lives on a value
// the caller constructs and threads explicitly, so multiple VMs can run in
// the same process without sharing state (see the concurrent-instance test
// in vm_fleet_test.go).
type VM struct {
	heap    *Heap
	symbols *SymbolTables
	stack   *valueStack

	mainFiber *HeapObject
	curFiber  *HeapObject

	stdout io.Writer
	stderr io.Writer

	debugRCCounter *int64
}

const defaultInitialStackSize = 256

// New constructs a VM ready to load a Program and eval it.
func New(options Options) *VM {
	vm := &VM{
		heap:    NewHeap(),
		symbols: NewSymbolTables(),
	}

	if vm.stdout = options.Stdout; vm.stdout == nil {
		vm.stdout = os.Stdout
	}
	if vm.stderr = options.Stderr; vm.stderr == nil {
		vm.stderr = os.Stderr
	}

	initialStack := options.InitialStackSize
	if initialStack == 0 {
		initialStack = defaultInitialStackSize
	}
	vm.stack = newValueStack(initialStack, options.MaxStackSize)

	if options.DebugRC {
		vm.debugRCCounter = vm.heap.EnableDebugRC()
	}

	vm.mainFiber = vm.heap.alloc()
	vm.mainFiber.structId = StructIDFiber
	vm.mainFiber.rc = 1
	vm.curFiber = vm.mainFiber

	return vm
}

// Symbols exposes the VM's append-only symbol tables for program binding
// (registering functions/structs/methods ahead of Eval).
func (vm *VM) Symbols() *SymbolTables { return vm.symbols }

// Heap exposes the VM's heap, primarily so tests can call CollectCycles
// and inspect DebugRC.
func (vm *VM) Heap() *Heap { return vm.heap }

// DebugRC reads the verification counter installed by Options.DebugRC, or
// 0 if it was never enabled.
func (vm *VM) DebugRC() int64 { return vm.heap.DebugRC() }

// Eval decodes and runs a bytecode Program to completion, returning its
// main-return value.
func (vm *VM) Eval(prog *Program) (Value, error) {
	return vm.EvalWithContext(context.Background(), prog)
}

// EvalWithContext is Eval with cancellation. The core itself has no
// cancellation concept of its own; this wrapper polls ctx between opcode
// batches inside runLoop, the only natural suspension point outside the
// fiber primitives themselves. Stack growth is folded into
// valueStack.reserve/push, which simply grow the backing Go slice — frame
// pointers stay valid across the move because they are stack offsets,
// never raw pointers.
func (vm *VM) EvalWithContext(ctx context.Context, prog *Program) (Value, error) {
	if _, err := vm.stack.reserve(frameFirstArgSlot + prog.MainLocalSize); err != nil {
		return 0, err
	}
	vm.stack.set(frameSlotReturnInfo, fromReturnInfo(0, 0, 1, false))

	result, pc, err := vm.runLoop(ctx, prog, 0, 0)
	if err != nil {
		return 0, vm.annotateError(prog, pc, err)
	}
	return result, nil
}

// annotateError attaches a stack trace to Panics via buildStackTrace.
func (vm *VM) annotateError(prog *Program, pc uint32, err error) error {
	p, ok := err.(*Panic)
	if !ok {
		return err
	}
	p.Trace = buildStackTrace(prog, vm.stack, pc, 0)
	return p
}

func (vm *VM) printf(format string, args ...any) {
	fmt.Fprintf(vm.stdout, format, args...)
}
