package bytecode

import "encoding/binary"

// InstructionBuilder accumulates a function's instruction stream: a flat
// byte buffer of single-byte opcodes with fixed-width inline operands,
// little-endian for the 16-bit forms.
type InstructionBuilder struct {
	buf   []byte
	Jumps *JumpContainer
}

func NewInstructionBuilder() *InstructionBuilder {
	b := &InstructionBuilder{}
	b.Jumps = newJumpContainer(b)
	return b
}

// Len returns the current instruction-stream length — the PC a just-placed
// label should bind to.
func (b *InstructionBuilder) Len() int { return len(b.buf) }

func (b *InstructionBuilder) Bytes() []byte { return b.buf }

func (b *InstructionBuilder) emitOp(op Op) { b.buf = append(b.buf, byte(op)) }
func (b *InstructionBuilder) emitU8(v uint8) { b.buf = append(b.buf, v) }

func (b *InstructionBuilder) emitU16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *InstructionBuilder) emitI16(v int16) { b.emitU16(uint16(v)) }

// BuildConstant emits Constant(idx) or ConstantW(widx) depending on size.
func (b *InstructionBuilder) BuildConstant(idx int) {
	if idx <= 0xFF {
		b.emitOp(OpConstant)
		b.emitU8(uint8(idx))
	} else {
		b.emitOp(OpConstantW)
		b.emitU16(uint16(idx))
	}
}

// BuildLocalLoad emits LdLocal/LdLocalW (frame slot access; the VM follows
// an External cell stored in the slot transparently) or LdExternal, where
// id indexes the current function's externals table. isExtern means "a
// captured upvalue of this function", not "a promoted local of this
// frame".
func (b *InstructionBuilder) BuildLocalLoad(id int, isExtern bool) {
	if isExtern {
		b.emitOp(OpLdExternal)
		b.emitU8(uint8(id))
		return
	}
	if id <= 0xFF {
		b.emitOp(OpLdLocal)
		b.emitU8(uint8(id))
	} else {
		b.emitOp(OpLdLocalW)
		b.emitU16(uint16(id))
	}
}

// BuildLocalStore emits the store mirroring BuildLocalLoad. Store opcodes
// peek rather than pop, so an assignment expression's value remains on the
// stack as its result; statement contexts emit an explicit Pop after.
func (b *InstructionBuilder) BuildLocalStore(id int, isExtern bool) {
	if isExtern {
		b.emitOp(OpStExternal)
		b.emitU8(uint8(id))
		return
	}
	if id <= 0xFF {
		b.emitOp(OpStoreLocal)
		b.emitU8(uint8(id))
	} else {
		b.emitOp(OpStoreLocalW)
		b.emitU16(uint16(id))
	}
}

func (b *InstructionBuilder) BuildSimple(op Op) { b.emitOp(op) }

// BuildGlobalLoad/BuildGlobalStore address the global object by name
// constant index; identifier resolution that falls through every local and
// enclosing scope lands here.
func (b *InstructionBuilder) BuildGlobalLoad(nameConstIdx int) {
	b.emitOp(OpLdGlobal)
	b.emitU16(uint16(nameConstIdx))
}

func (b *InstructionBuilder) BuildGlobalStore(nameConstIdx int) {
	b.emitOp(OpStGlobal)
	b.emitU16(uint16(nameConstIdx))
}

// BuildYield emits Yield with the delegate bit (yield* vs yield).
func (b *InstructionBuilder) BuildYield(delegate bool) {
	b.emitOp(OpYield)
	b.emitU8(boolByte(delegate))
}

func (b *InstructionBuilder) BuildAwait() { b.emitOp(OpAwait) }

func (b *InstructionBuilder) BuildAdd() { b.emitOp(OpAdd) }

func (b *InstructionBuilder) BuildBinary(op Op) { b.emitOp(op) }

func (b *InstructionBuilder) BuildCall(meta CallMeta) {
	b.emitOp(OpCall)
	b.buf = append(b.buf, meta.Encode())
}

func (b *InstructionBuilder) BuildNewCall(meta CallMeta) {
	b.emitOp(OpNewCall)
	b.buf = append(b.buf, meta.Encode())
}

func (b *InstructionBuilder) BuildReturn(tryDepth uint16) {
	b.emitOp(OpReturn)
	b.emitU16(tryDepth)
}

func (b *InstructionBuilder) BuildClosure(constIdx int) {
	b.emitOp(OpClosure)
	b.emitU16(uint16(constIdx))
}

// BuildTryBegin emits TryBegin with a placeholder catch address (patched
// once the catch block's start is known) and the binding local index, with
// 0xFFFF meaning "no binding".
func (b *InstructionBuilder) BuildTryBegin(bindingLocal uint16) (patchAt int) {
	b.emitOp(OpTryBegin)
	patchAt = len(b.buf)
	b.emitU16(0) // patched later once catch_ip is known
	b.emitU16(bindingLocal)
	return patchAt
}

// PatchU16 overwrites a previously emitted u16 placeholder at byte offset
// at with v — used for TryBegin's catch offset once the catch block's
// start is known.
func (b *InstructionBuilder) PatchU16(at int, v uint16) {
	binary.LittleEndian.PutUint16(b.buf[at:at+2], v)
}

func (b *InstructionBuilder) BuildTryEnd() { b.emitOp(OpTryEnd) }
func (b *InstructionBuilder) BuildThrow()  { b.emitOp(OpThrow) }

func (b *InstructionBuilder) BuildArrayLit(n int) {
	b.emitOp(OpArrayLit)
	b.emitU16(uint16(n))
}

// BuildObjectLit emits ObjectLit(n) followed by one flag byte per entry:
// 0 = a normal (key, value) pair was pushed before the opcode, 1 = a single
// spread value was pushed, to be shallow-merged into the new object.
func (b *InstructionBuilder) BuildObjectLit(entryIsSpread []bool) {
	b.emitOp(OpObjectLit)
	b.emitU16(uint16(len(entryIsSpread)))
	for _, spread := range entryIsSpread {
		b.emitU8(boolByte(spread))
	}
}

func (b *InstructionBuilder) BuildObjectDestructure(pairs [][2]int) {
	b.emitOp(OpObjectDestruct)
	b.emitU16(uint16(len(pairs)))
	for _, p := range pairs {
		b.emitU16(uint16(p[0]))
		b.emitU16(uint16(p[1]))
	}
}

func (b *InstructionBuilder) BuildArrayDestructure(locals []int) {
	b.emitOp(OpArrayDestruct)
	b.emitU16(uint16(len(locals)))
	for _, l := range locals {
		b.emitU16(uint16(l))
	}
}

// BuildSwitch emits Switch(case_count, has_default) followed by an inline
// jump table: case_count absolute-IP u16 targets (one per case value, same
// order as the case-value comparisons the compiler pushed before this
// opcode), one more for the default case if hasDefault, and a final one for
// "no case matched, no default" (the switch's end). It returns the byte
// offset of each reserved u16 slot so the compiler can patch it once the
// corresponding body's start address is known — table entries are absolute
// instruction addresses rather than the PC-relative displacements ordinary
// Jmp opcodes use, since they are a data table read by the interpreter
// rather than a jump instruction's own operand.
func (b *InstructionBuilder) BuildSwitch(caseCount int, hasDefault bool) (caseSlots []int, defaultSlot, endSlot int) {
	b.emitOp(OpSwitch)
	b.emitU16(uint16(caseCount))
	b.emitU8(boolByte(hasDefault))
	caseSlots = make([]int, caseCount)
	for i := range caseSlots {
		caseSlots[i] = b.Len()
		b.emitU16(0)
	}
	if hasDefault {
		defaultSlot = b.Len()
		b.emitU16(0)
	}
	endSlot = b.Len()
	b.emitU16(0)
	return
}

// PatchAbsU16 overwrites a reserved switch-table slot with the absolute
// instruction address target.
func (b *InstructionBuilder) PatchAbsU16(at int, target int) {
	b.PatchU16(at, uint16(target))
}

func (b *InstructionBuilder) BuildCallIntrinsic(id uint8, argc uint8) {
	b.emitOp(OpCallIntrinsic)
	b.buf = append(b.buf, id, argc)
}

func (b *InstructionBuilder) BuildStaticPropGet(constIdx int, preserveThis bool) {
	b.emitOp(OpStaticPropGet)
	b.emitU16(uint16(constIdx))
	b.emitU8(boolByte(preserveThis))
}

func (b *InstructionBuilder) BuildStaticPropSet(constIdx int) {
	b.emitOp(OpStaticPropSet)
	b.emitU16(uint16(constIdx))
}

// BuildDynamicPropGet/Set/Delete mirror the Static forms for a computed
// property key already pushed on the stack above the object.
func (b *InstructionBuilder) BuildDynamicPropGet(preserveThis bool) {
	b.emitOp(OpDynamicPropGet)
	b.emitU8(boolByte(preserveThis))
}

func (b *InstructionBuilder) BuildDynamicPropSet() { b.emitOp(OpDynamicPropSet) }

func (b *InstructionBuilder) BuildStaticDelete(constIdx int) {
	b.emitOp(OpStaticDelete)
	b.emitU16(uint16(constIdx))
}

func (b *InstructionBuilder) BuildDynamicDelete() { b.emitOp(OpDynamicDelete) }

// BuildLocalNumUnary emits one of the Number-specialized increment/decrement
// opcodes against an 8-bit local slot.
func (b *InstructionBuilder) BuildLocalNumUnary(op Op, localID int) {
	b.emitOp(op)
	b.emitU8(uint8(localID))
}

// EmitI32 inlines a 4-byte little-endian signed operand directly after an
// opcode — used by the LtNumLConst32 constant-specialized comparison (and
// EmitI8 by its 8-bit sibling).
func (b *InstructionBuilder) EmitI32(v int64) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(int32(v)))
	b.buf = append(b.buf, tmp[:]...)
}

func (b *InstructionBuilder) EmitI8(v int64) {
	b.buf = append(b.buf, byte(int8(v)))
}

func (b *InstructionBuilder) BuildSymbolIterator() { b.emitOp(OpSymbolIterator) }
func (b *InstructionBuilder) BuildForInIterator()  { b.emitOp(OpForInIterator) }

// ImportKind is the u8 operand of StaticImport selecting which binding
// shape the import declaration used.
const (
	ImportNamed     = 0
	ImportNamespace = 1
	ImportDefault   = 2
)

// BuildStaticImport emits StaticImport(kind, name_id, path_id); the VM
// pushes the imported value and the compiler emits the local store
// separately.
func (b *InstructionBuilder) BuildStaticImport(kind uint8, nameConstIdx, pathConstIdx int) {
	b.emitOp(OpStaticImport)
	b.emitU8(kind)
	b.emitU16(uint16(nameConstIdx))
	b.emitU16(uint16(pathConstIdx))
}

func (b *InstructionBuilder) BuildDynamicImport() { b.emitOp(OpDynamicImport) }

// BuildNamedExport emits NamedExport(n) followed by n (name_const, local_id)
// pairs copied into the module's exports object by the VM.
func (b *InstructionBuilder) BuildNamedExport(pairs [][2]int) {
	b.emitOp(OpNamedExport)
	b.emitU16(uint16(len(pairs)))
	for _, p := range pairs {
		b.emitU16(uint16(p[0]))
		b.emitU16(uint16(p[1]))
	}
}

func (b *InstructionBuilder) BuildDefaultExport() { b.emitOp(OpDefaultExport) }

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
