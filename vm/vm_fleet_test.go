package vm

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"golang.org/x/sync/errgroup"
)

// TestConcurrentVMInstancesDoNotShareState drives many independent VMs
// through the same program shape with distinct inputs on separate
// goroutines. Nothing here synchronizes between VMs — each owns its own
// heap, symbol tables, and value stack (see VM's doc comment on the
// singleton-removal redesign), so running a fleet of them concurrently is
// only safe if that ownership is real and not, say, a shared package-level
// allocator underneath.
func TestConcurrentVMInstancesDoNotShareState(t *testing.T) {
	const fleetSize = 32

	var g errgroup.Group
	results := make([]int32, fleetSize)
	outputs := make([]string, fleetSize)

	for i := 0; i < fleetSize; i++ {
		i := i
		g.Go(func() error {
			var out bytes.Buffer
			vm := New(Options{Stdout: &out, DebugRC: true})
			vm.symbols.RegisterNative("print", func(vm *VM, argsBase uint32, numArgs int) (Value, error) {
				v := vm.stack.get(argsBase)
				vm.printf("%s\n", vm.heap.stringify(v))
				vm.heap.releaseValue(v)
				return fromNone(), nil
			})

			n := int8(i + 1)
			a := NewAssembler()
			a.PushI8(0, n)
			a.PushI8(1, n)
			a.Mul(2, 0, 1) // print n*n, return n*n
			a.CallSym0(0, 1)
			a.Ret1(2)
			prog := a.Build(8)

			result, err := vm.Eval(prog)
			if err != nil {
				return fmt.Errorf("fleet member %d: eval failed: %w", i, err)
			}
			if rc := vm.DebugRC(); rc != 0 {
				return fmt.Errorf("fleet member %d: debug rc = %d, want 0", i, rc)
			}
			results[i] = int32(result.asF64())
			outputs[i] = strings.TrimSpace(out.String())
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < fleetSize; i++ {
		n := int32(i + 1)
		want := n * n
		if results[i] != want {
			t.Errorf("fleet member %d: result = %d, want %d", i, results[i], want)
		}
		if outputs[i] != fmt.Sprintf("%d", want) {
			t.Errorf("fleet member %d: stdout = %q, want %q", i, outputs[i], fmt.Sprintf("%d", want))
		}
	}
}

// TestConcurrentVMInstancesIndependentHeaps is a second angle on the same
// invariant: eight independent heaps each allocate a list of a different
// size on separate goroutines, run a cycle collection pass, then release
// the list — catching any accidental cross-VM page sharing that a
// result-only comparison (as above) could miss.
func TestConcurrentVMInstancesIndependentHeaps(t *testing.T) {
	var g errgroup.Group

	for i := 0; i < 8; i++ {
		size := i + 1
		g.Go(func() error {
			h := NewHeap()
			elems := make([]Value, size)
			for j := range elems {
				elems[j] = fromInt(int32(j))
			}
			listVal := h.newList(elems)
			report := h.CollectCycles()
			if report.CyclesFound != 0 {
				return fmt.Errorf("acyclic list of size %d falsely reported %d cycles", size, report.CyclesFound)
			}
			h.releaseValue(listVal)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}
