package vm

import "encoding/binary"

// Assembler builds a Program by hand, the same role a bytecode.go-style
// builder plays in a toolchain that already has a compiler: since this
// core excludes the compiler frontend, something still has to
// emit well-formed buffers for tests. Assembler is that something —
// label/patch semantics kept deliberately minimal (forward jumps only
// need one patch each, this is not a general linker).
type Assembler struct {
	ops        []byte
	consts     []Value
	strBuf     []byte
	debugTable []DebugEntry
	labels     map[string]int
	patches    []patch
}

type patch struct {
	at     int // offset of the u16 operand to patch
	opAt   int // offset of the opcode byte the jump is relative to
	label  string
}

func NewAssembler() *Assembler {
	return &Assembler{labels: map[string]int{}}
}

// Label marks the current ops offset under name, for a later Jump* to
// target.
func (a *Assembler) Label(name string) *Assembler {
	a.labels[name] = len(a.ops)
	return a
}

func (a *Assembler) emit(op Opcode, operands ...byte) *Assembler {
	a.ops = append(a.ops, byte(op))
	a.ops = append(a.ops, operands...)
	return a
}

func u16le(v uint16) (byte, byte) { return byte(v), byte(v >> 8) }

func (a *Assembler) PushTrue(dst byte) *Assembler  { return a.emit(OpPushTrue, dst) }
func (a *Assembler) PushFalse(dst byte) *Assembler { return a.emit(OpPushFalse, dst) }
func (a *Assembler) PushNone(dst byte) *Assembler  { return a.emit(OpPushNone, dst) }

func (a *Assembler) PushConst(dst byte, v Value) *Assembler {
	idx := uint16(len(a.consts))
	a.consts = append(a.consts, v)
	lo, hi := u16le(idx)
	return a.emit(OpPushConst, dst, lo, hi)
}

func (a *Assembler) PushI8(dst byte, v int8) *Assembler {
	return a.emit(OpPushI8, dst, byte(v))
}

func (a *Assembler) Add(dst, x, y byte) *Assembler { return a.emit(OpAdd, dst, x, y) }
func (a *Assembler) Sub(dst, x, y byte) *Assembler { return a.emit(OpSub, dst, x, y) }
func (a *Assembler) Mul(dst, x, y byte) *Assembler { return a.emit(OpMul, dst, x, y) }
func (a *Assembler) Div(dst, x, y byte) *Assembler { return a.emit(OpDiv, dst, x, y) }
func (a *Assembler) Lt(dst, x, y byte) *Assembler  { return a.emit(OpLt, dst, x, y) }
func (a *Assembler) Eq(dst, x, y byte) *Assembler  { return a.emit(OpEq, dst, x, y) }

func (a *Assembler) Copy(dst, src byte) *Assembler             { return a.emit(OpCopy, dst, src) }
func (a *Assembler) CopyRetainSrc(dst, src byte) *Assembler    { return a.emit(OpCopyRetainSrc, dst, src) }
func (a *Assembler) CopyReleaseDst(dst, src byte) *Assembler   { return a.emit(OpCopyReleaseDst, dst, src) }
func (a *Assembler) Retain(reg byte) *Assembler                { return a.emit(OpRetain, reg) }
func (a *Assembler) Release(reg byte) *Assembler               { return a.emit(OpRelease, reg) }
func (a *Assembler) SetInitN(base, n byte) *Assembler          { return a.emit(OpSetInitN, base, n) }

func (a *Assembler) ListBuild(base, n, dst byte) *Assembler {
	return a.emit(OpListBuild, base, n, dst, 0)
}

func (a *Assembler) IndexGet(dst, recv, idx byte) *Assembler {
	return a.emit(OpIndexGet, dst, recv, idx)
}

func (a *Assembler) LambdaBuild(dst byte, entryPC uint16, numParams byte, numLocals uint16) *Assembler {
	eLo, eHi := u16le(entryPC)
	nLo, nHi := u16le(numLocals)
	return a.emit(OpLambdaBuild, dst, eLo, eHi, numParams, nLo, nHi)
}

func (a *Assembler) Call1(dst, calleeReg, numArgs byte) *Assembler {
	return a.emit(OpCall1, calleeReg, numArgs, dst)
}

func (a *Assembler) Call0(dst, calleeReg, numArgs byte) *Assembler {
	return a.emit(OpCall0, calleeReg, numArgs, dst)
}

func (a *Assembler) CallSym1(symIdx uint16, numArgs byte) *Assembler {
	lo, hi := u16le(symIdx)
	return a.emit(OpCallSym1, lo, hi, numArgs)
}

func (a *Assembler) CallSym0(symIdx uint16, numArgs byte) *Assembler {
	lo, hi := u16le(symIdx)
	return a.emit(OpCallSym0, lo, hi, numArgs)
}

func (a *Assembler) Ret0() *Assembler          { return a.emit(OpRet0) }
func (a *Assembler) Ret1(srcReg byte) *Assembler { return a.emit(OpRet1, srcReg) }

// JumpIfNot emits a conditional jump to label, patched once Build runs.
func (a *Assembler) JumpIfNot(condReg byte, label string) *Assembler {
	opAt := len(a.ops)
	a.ops = append(a.ops, byte(OpJumpNotCond), condReg, 0, 0)
	a.patches = append(a.patches, patch{at: opAt + 2, opAt: opAt, label: label})
	return a
}

func (a *Assembler) Jump(label string) *Assembler {
	opAt := len(a.ops)
	a.ops = append(a.ops, byte(OpJump), 0, 0)
	a.patches = append(a.patches, patch{at: opAt + 1, opAt: opAt, label: label})
	return a
}

func (a *Assembler) ForIterInit(objReg byte) *Assembler { return a.emit(OpForIterInit, objReg) }

// ForIterNext emits a single-value loop step: on exhaustion it jumps to
// label instead of falling through to the loop body.
func (a *Assembler) ForIterNext(iterReg, dstReg byte, label string) *Assembler {
	opAt := len(a.ops)
	a.ops = append(a.ops, byte(OpForIterNext), iterReg, dstReg, 0, 0)
	a.patches = append(a.patches, patch{at: opAt + 3, opAt: opAt, label: label})
	return a
}

func (a *Assembler) ForRangeInit(objReg byte) *Assembler { return a.emit(OpForRangeInit, objReg) }

// ForRangeNext emits a (index, value) loop step: on exhaustion it jumps to
// label instead of falling through to the loop body.
func (a *Assembler) ForRangeNext(iterReg, idxReg, valReg byte, label string) *Assembler {
	opAt := len(a.ops)
	a.ops = append(a.ops, byte(OpForRangeNext), iterReg, idxReg, valReg, 0, 0)
	a.patches = append(a.patches, patch{at: opAt + 4, opAt: opAt, label: label})
	return a
}

func (a *Assembler) Coinit(dst, calleeReg, numArgs byte) *Assembler {
	return a.emit(OpCoinit, calleeReg, numArgs, dst)
}
func (a *Assembler) Coresume(fiberReg byte) *Assembler { return a.emit(OpCoresume, fiberReg) }
func (a *Assembler) Coyield() *Assembler               { return a.emit(OpCoyield) }
func (a *Assembler) Coreturn() *Assembler              { return a.emit(OpCoreturn) }

func (a *Assembler) End(slot byte) *Assembler { return a.emit(OpEnd, slot) }

// Build resolves all pending label patches and returns the finished
// Program. mainLocalSize is the stack capacity (slots 2..) the body
// requires.
func (a *Assembler) Build(mainLocalSize uint32) *Program {
	for _, p := range a.patches {
		target, ok := a.labels[p.label]
		if !ok {
			panic("vm: asm: unresolved label " + p.label)
		}
		rel := int32(target) - int32(p.opAt)
		binary.LittleEndian.PutUint16(a.ops[p.at:], uint16(int16(rel)))
	}
	return &Program{
		FormatVersion: CurrentFormatVersion,
		Ops:           a.ops,
		Consts:        a.consts,
		StrBuf:        a.strBuf,
		DebugTable:    a.debugTable,
		MainLocalSize: mainLocalSize,
	}
}
