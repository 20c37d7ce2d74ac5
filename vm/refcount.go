package vm

import "sync/atomic"

// Every Value copy that crosses a storage boundary is classified at
// compile time into one of these traffic shapes. The
// interpreter loop (interp.go) picks the matching opcode variant for each
// site; this file only implements the two primitive operations those
// opcodes compose: retain and release.

// retain increments a pointer Value's reference count. No-op for non-
// pointer values.
func (h *Heap) retain(v Value) {
	if !v.isPointer() {
		return
	}
	p := v.asPointer()
	if debugChecks && p.structId == NullStructID {
		panic("vm: retain of a freed object (use-after-free)")
	}
	p.rc++
	if h.debugRC != nil {
		atomic.AddInt64(h.debugRC, 1)
	}
}

// releaseValue decrements a pointer Value's reference count, freeing the
// cell and recursively releasing its children when the count reaches zero
//. No-op for non-pointer values.
func (h *Heap) releaseValue(v Value) {
	if !v.isPointer() {
		return
	}
	p := v.asPointer()
	if debugChecks && p.structId == NullStructID {
		panic("vm: release of a freed object (use-after-free)")
	}
	if p.rc == 0 {
		panic("vm: release on an object with zero rc (internal invariant violation)")
	}
	p.rc--
	if h.debugRC != nil {
		atomic.AddInt64(h.debugRC, -1)
	}
	if p.rc == 0 {
		children := append([]Value(nil), p.children()...)
		h.free(p)
		for _, child := range children {
			h.releaseValue(child)
		}
	}
}

// EnableDebugRC installs this heap's verification counter tests can
// assert returns to zero after a program ends, and returns a pointer tests
// can read. Each Heap has its own counter.
func (h *Heap) EnableDebugRC() *int64 {
	h.debugRC = new(int64)
	return h.debugRC
}

// DebugRC reads the current value of the verification counter, or 0 if it
// was never enabled.
func (h *Heap) DebugRC() int64 {
	if h.debugRC == nil {
		return 0
	}
	return atomic.LoadInt64(h.debugRC)
}

// EnableDebugChecks turns on the use-after-free assertions (retain or
// release of a freed cell, double free); the zero-rc release check runs
// regardless. A process-wide package field, not a per-Heap option,
// intended for test binaries.
func EnableDebugChecks(on bool) { debugChecks = on }
