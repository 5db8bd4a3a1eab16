package bytecode

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallMetaRoundTrip(t *testing.T) {
	tests := []CallMeta{
		{Argc: 0},
		{Argc: 3, HasThis: true},
		{Argc: 63, IsConstructor: true},
		{Argc: 5, IsConstructor: true, HasThis: true},
	}
	for _, m := range tests {
		assert.Equal(t, m, DecodeCallMeta(m.Encode()))
	}
}

func TestBuildConstantWidths(t *testing.T) {
	b := NewInstructionBuilder()
	b.BuildConstant(5)
	b.BuildConstant(300)
	code := b.Bytes()
	assert.Equal(t, Op(code[0]), OpConstant)
	assert.Equal(t, byte(5), code[1])
	assert.Equal(t, Op(code[2]), OpConstantW)
	assert.Equal(t, uint16(300), binary.LittleEndian.Uint16(code[3:]))
}

func TestBuildLocalLoadSelectsOpcode(t *testing.T) {
	b := NewInstructionBuilder()
	b.BuildLocalLoad(7, false)
	b.BuildLocalLoad(2, true)
	b.BuildLocalLoad(999, false)
	code := b.Bytes()
	assert.Equal(t, OpLdLocal, Op(code[0]))
	assert.Equal(t, OpLdExternal, Op(code[2]))
	assert.Equal(t, OpLdLocalW, Op(code[4]))
}

func TestForwardJumpPatching(t *testing.T) {
	b := NewInstructionBuilder()
	label := Label{Kind: LocalLabel, Name: "End", ID: 1}
	b.Jumps.EmitJump(OpJmp, label)
	b.BuildSimple(OpNop)
	b.BuildSimple(OpNop)
	b.Jumps.Place(label)

	code := b.Bytes()
	disp := int16(binary.LittleEndian.Uint16(code[1:]))
	// Displacement is measured from the byte after the operand: the two
	// Nops are skipped.
	assert.Equal(t, int16(2), disp)
	assert.Equal(t, len(code), 3+int(disp))
	assert.Empty(t, b.Jumps.Unresolved())
}

func TestBackwardJumpPatching(t *testing.T) {
	b := NewInstructionBuilder()
	label := Label{Kind: GlobalLabel, Name: "LoopCondition", ID: 1}
	b.Jumps.Place(label)
	b.BuildSimple(OpNop)
	b.Jumps.EmitJump(OpJmp, label)

	code := b.Bytes()
	disp := int16(binary.LittleEndian.Uint16(code[2:]))
	// From IP 4 (after the operand) back to IP 0.
	assert.Equal(t, int16(-4), disp)
}

func TestMultipleJumpsToOneLabel(t *testing.T) {
	b := NewInstructionBuilder()
	label := Label{Kind: GlobalLabel, Name: "LoopEnd", ID: 3}
	b.Jumps.EmitJump(OpJmpFalseP, label)
	b.Jumps.EmitJump(OpJmp, label)
	b.Jumps.Place(label)

	code := b.Bytes()
	d1 := int16(binary.LittleEndian.Uint16(code[1:]))
	d2 := int16(binary.LittleEndian.Uint16(code[4:]))
	assert.Equal(t, 6, 3+int(d1))
	assert.Equal(t, 6, 6+int(d2))
}

func TestUnresolvedLabelReported(t *testing.T) {
	b := NewInstructionBuilder()
	b.Jumps.EmitJump(OpJmp, Label{Kind: LocalLabel, Name: "Nowhere", ID: 9})
	assert.Len(t, b.Jumps.Unresolved(), 1)
}

func TestBuildSwitchReservesTable(t *testing.T) {
	b := NewInstructionBuilder()
	caseSlots, defaultSlot, endSlot := b.BuildSwitch(2, true)
	require.Len(t, caseSlots, 2)
	b.PatchAbsU16(caseSlots[0], 100)
	b.PatchAbsU16(caseSlots[1], 200)
	b.PatchAbsU16(defaultSlot, 300)
	b.PatchAbsU16(endSlot, 400)

	code := b.Bytes()
	assert.Equal(t, OpSwitch, Op(code[0]))
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(code[1:]))
	assert.Equal(t, byte(1), code[3])
	assert.Equal(t, uint16(100), binary.LittleEndian.Uint16(code[4:]))
	assert.Equal(t, uint16(200), binary.LittleEndian.Uint16(code[6:]))
	assert.Equal(t, uint16(300), binary.LittleEndian.Uint16(code[8:]))
	assert.Equal(t, uint16(400), binary.LittleEndian.Uint16(code[10:]))
}

func TestTryBeginPatching(t *testing.T) {
	b := NewInstructionBuilder()
	at := b.BuildTryBegin(0xFFFF)
	b.BuildSimple(OpNop)
	b.PatchU16(at, 42)

	code := b.Bytes()
	assert.Equal(t, OpTryBegin, Op(code[0]))
	assert.Equal(t, uint16(42), binary.LittleEndian.Uint16(code[1:]))
	assert.Equal(t, uint16(0xFFFF), binary.LittleEndian.Uint16(code[3:]))
}

func TestIntrinsicTable(t *testing.T) {
	id, ok := IntrinsicID("sqrt")
	require.True(t, ok)
	name, ok := IntrinsicName(id)
	require.True(t, ok)
	assert.Equal(t, "sqrt", name)

	_, ok = IntrinsicID("hypot")
	assert.False(t, ok)
	_, ok = IntrinsicName(200)
	assert.False(t, ok)
}

func TestOperandWidth(t *testing.T) {
	w, fixed := OperandWidth(OpLdLocal)
	require.True(t, fixed)
	assert.Equal(t, 1, w)

	w, fixed = OperandWidth(OpJmp)
	require.True(t, fixed)
	assert.Equal(t, 2, w)

	w, fixed = OperandWidth(OpStaticPropGet)
	require.True(t, fixed)
	assert.Equal(t, 3, w)

	w, fixed = OperandWidth(OpAdd)
	require.True(t, fixed)
	assert.Equal(t, 0, w)

	_, fixed = OperandWidth(OpSwitch)
	assert.False(t, fixed)
}
