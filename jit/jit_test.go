package jit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wudi/dashvm/bytecode"
	"github.com/wudi/dashvm/value"
)

// buildLoop assembles the canonical counted-loop trace region:
//
//	0: LdLocal 0
//	2: LtNumLConst8 10
//	4: JmpFalseP +6       (exit past the backedge)
//	7: PostfixIncLocalNum 0
//	9: Pop
//	10: Jmp -13           (back to 0)
func buildLoop() []byte {
	return []byte{
		byte(bytecode.OpLdLocal), 0,
		byte(bytecode.OpLtNumLConst8), 10,
		byte(bytecode.OpJmpFalseP), 6, 0,
		byte(bytecode.OpPostfixIncLocalNum), 0,
		byte(bytecode.OpPop),
		byte(bytecode.OpJmp), 0xF3, 0xFF, // -13
	}
}

func loopQuery(branches []bool) *Query {
	return &Query{
		TypeOfLocal:    func(id int) (Type, bool) { return TypeI64, true },
		TypeOfConstant: func(idx int) (Type, bool) { return TypeI64, true },
		NumberConstant: func(idx int) (float64, bool) { return 0, true },
		Branches:       branches,
	}
}

func TestInferLoopTrace(t *testing.T) {
	res, err := Infer(buildLoop(), loopQuery([]bool{false}))
	require.NoError(t, err)
	assert.Equal(t, TypeI64, res.LocalTys[0])
	// The backedge marks the loop header as a label; the untaken
	// conditional marks its fallthrough.
	assert.True(t, res.Labels[0])
	assert.True(t, res.Labels[7])
}

func TestInferRejectsUnsupportedOpcode(t *testing.T) {
	code := []byte{byte(bytecode.OpCall), 0}
	_, err := Infer(code, loopQuery(nil))
	var unsup *UnsupportedError
	require.ErrorAs(t, err, &unsup)
}

func TestInferRejectsMissingBranchDecision(t *testing.T) {
	_, err := Infer(buildLoop(), loopQuery(nil))
	var unsup *UnsupportedError
	require.ErrorAs(t, err, &unsup)
}

func TestInferNumericWidening(t *testing.T) {
	// Constant(f64) + LdLocal(i64) widens to f64 on the virtual stack and
	// into the local the result is stored to.
	code := []byte{
		byte(bytecode.OpLdLocal), 0,
		byte(bytecode.OpConstant), 0,
		byte(bytecode.OpAdd),
		byte(bytecode.OpStoreLocal), 1,
		byte(bytecode.OpPop),
	}
	q := &Query{
		TypeOfLocal:    func(id int) (Type, bool) { return TypeI64, true },
		TypeOfConstant: func(idx int) (Type, bool) { return TypeF64, true },
		NumberConstant: func(idx int) (float64, bool) { return 0.5, true },
	}
	res, err := Infer(code, q)
	require.NoError(t, err)
	assert.Equal(t, TypeI64, res.LocalTys[0])
	assert.Equal(t, TypeF64, res.LocalTys[1])
}

func TestInterpreterBackendExecutesLoop(t *testing.T) {
	backend := NewInterpreterBackend()
	q := loopQuery([]bool{false})
	cfg, err := backend.Lower(buildLoop(), q)
	require.NoError(t, err)
	fn, err := backend.CompileTypedCFG(buildLoop(), cfg, q)
	require.NoError(t, err)

	stack := []value.Value{value.Number(0)}
	var out int
	fn(stack, 0, &out)
	// The loop ran natively to completion: local 0 counted up to 10, and
	// the side exit lands just past the backedge (offset 13).
	assert.Equal(t, value.Number(10), stack[0])
	assert.Equal(t, 13, out)
}

func TestInterpreterBackendWritesThroughCells(t *testing.T) {
	backend := NewInterpreterBackend()
	q := loopQuery([]bool{false})
	cfg, err := backend.Lower(buildLoop(), q)
	require.NoError(t, err)
	fn, err := backend.CompileTypedCFG(buildLoop(), cfg, q)
	require.NoError(t, err)

	cell := &testCell{v: value.Number(7)}
	stack := []value.Value{value.FromExternal(cell)}
	var out int
	fn(stack, 0, &out)
	assert.Equal(t, value.Number(10), cell.v)
	// The slot still holds the cell, not a raw number.
	assert.True(t, stack[0].IsExternal())
}

type testCell struct{ v value.Value }

func (c *testCell) Load() value.Value   { return c.v }
func (c *testCell) Store(v value.Value) { c.v = v }

func newLoopFunction() *bytecode.CompiledFunction {
	return &bytecode.CompiledFunction{Buffer: buildLoop(), Locals: 1}
}

func TestFrontendCompileAndCache(t *testing.T) {
	f := NewFrontend(DefaultConfig(), NewInterpreterBackend())
	fn := newLoopFunction()

	f.StartRecording(fn, 0, len(fn.Buffer))
	f.ObserveBranch(false)
	compiled := f.FinishRecording(loopQuery(nil))
	require.NotNil(t, compiled)
	assert.Equal(t, 1, f.Stats().TracesCompiled)

	// A second trace for the same header reuses the cache entry.
	f.StartRecording(fn, 0, len(fn.Buffer))
	f.ObserveBranch(false)
	again := f.FinishRecording(loopQuery(nil))
	assert.Same(t, compiled, again)
	assert.Equal(t, 1, f.Stats().TracesCompiled)

	assert.Same(t, compiled, f.Compiled(fn, 0))
	assert.Nil(t, f.Compiled(fn, 2))
}

func TestFrontendPoisonsFailedTrace(t *testing.T) {
	f := NewFrontend(DefaultConfig(), NewInterpreterBackend())
	fn := &bytecode.CompiledFunction{Buffer: []byte{byte(bytecode.OpCall), 0}}

	f.StartRecording(fn, 0, len(fn.Buffer))
	compiled := f.FinishRecording(loopQuery(nil))
	assert.Nil(t, compiled)
	assert.True(t, f.Poisoned(fn, 0))
	assert.Equal(t, 1, f.Stats().PoisonedIPs)

	// Poisoning is per (function, ip), never global.
	other := newLoopFunction()
	assert.False(t, f.Poisoned(other, 0))
	assert.False(t, f.Poisoned(fn, 1))
}

func TestFrontendSingleRecordingAtATime(t *testing.T) {
	f := NewFrontend(DefaultConfig(), NewInterpreterBackend())
	a := newLoopFunction()
	b := newLoopFunction()

	f.StartRecording(a, 0, len(a.Buffer))
	f.StartRecording(b, 0, len(b.Buffer))
	require.NotNil(t, f.RecordingFor(a))
	assert.Nil(t, f.RecordingFor(b))
}

func TestCacheEviction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheCapacity = 2
	f := NewFrontend(cfg, NewInterpreterBackend())

	fns := []*bytecode.CompiledFunction{newLoopFunction(), newLoopFunction(), newLoopFunction()}
	for _, fn := range fns {
		f.StartRecording(fn, 0, len(fn.Buffer))
		f.ObserveBranch(false)
		require.NotNil(t, f.FinishRecording(loopQuery(nil)))
	}
	assert.Equal(t, 1, f.Stats().Evictions)
	assert.Nil(t, f.Compiled(fns[0], 0))
	assert.NotNil(t, f.Compiled(fns[2], 0))
}

func TestGenerationToken(t *testing.T) {
	a := NewFrontend(DefaultConfig(), NewInterpreterBackend())
	b := NewFrontend(DefaultConfig(), NewInterpreterBackend())
	require.NotEmpty(t, a.Generation())
	assert.NotEqual(t, a.Generation(), b.Generation())
}
