package vm

import "fmt"

// ParseError reports a malformed bytecode buffer. The compiler frontend is out of
// scope; this is only ever raised by DecodeProgram.
type ParseError struct {
	Offset int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("vm: parse error at offset %d: %s", e.Offset, e.Reason)
}

// CompileError reports a bytecode program that decodes cleanly but asks for
// something this VM does not implement, e.g. more than one return value
//.
type CompileError struct {
	Reason string
}

func (e *CompileError) Error() string { return "vm: compile error: " + e.Reason }

// Panic is a runtime fault surfaced to the host. It carries the faulting pc and a captured stack trace so a
// host embedding the VM can report a useful location.
type Panic struct {
	Message string
	Trace   []StackFrame
}

func (e *Panic) Error() string { return "vm: panic: " + e.Message }

// StackFrame is one entry of a captured Panic trace.
type StackFrame struct {
	PC       uint32
	FuncName string
	Line     int
}

// StackOverflowError is raised when the growable value stack would exceed
// its configured maximum.
type StackOverflowError struct {
	Limit int
}

func (e *StackOverflowError) Error() string {
	return fmt.Sprintf("vm: stack overflow (limit %d values)", e.Limit)
}

// OutOfMemoryError is raised when the heap cannot grow further under a
// configured page cap.
type OutOfMemoryError struct {
	PageLimit int
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("vm: out of memory (page limit %d)", e.PageLimit)
}

// OutOfBoundsError reports an out-of-range list index.
type OutOfBoundsError struct {
	Op    string
	Index int
	Len   int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("vm: %s: index %d out of bounds (len %d)", e.Op, e.Index, e.Len)
}

// NoDebugSymError is returned when a pc has no matching entry in the
// program's debug table.
type NoDebugSymError struct {
	PC uint32
}

func (e *NoDebugSymError) Error() string {
	return fmt.Sprintf("vm: no debug symbol for pc %d", e.PC)
}

// NoEndOpError is raised when the interpreter loop runs off the end of the
// instruction stream without hitting an explicit halt/return opcode; every
// function body must end in a return-class opcode.
type NoEndOpError struct {
	PC uint32
}

func (e *NoEndOpError) Error() string {
	return fmt.Sprintf("vm: fell off end of bytecode at pc %d with no terminating op", e.PC)
}

// ErrTooManyCaptures is returned by the closure constructor when asked to
// capture more than the three inline capture slots a Closure cell carries
//.
type ErrTooManyCaptures struct {
	Requested int
	Max       int
}

func (e *ErrTooManyCaptures) Error() string {
	return fmt.Sprintf("vm: closure requested %d captures, max is %d", e.Requested, e.Max)
}
