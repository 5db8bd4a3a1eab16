// Package jit implements the tracing JIT frontend: hot-loop detection off
// backedge counters, straight-line trace recording with branch
// observations, a forward type-inference pass over the trace slice, and a
// cache of compiled traces keyed by (function, header IP). The native
// code generator itself sits behind the Backend interface; this package
// ships an interpreting stand-in (see backend.go) so the whole pipeline
// runs end to end without a machine-code emitter.
package jit

import (
	"encoding/binary"
	"fmt"

	"github.com/wudi/dashvm/bytecode"
)

// Type is the three-point lattice the inference pass tracks.
type Type byte

const (
	TypeI64 Type = iota
	TypeF64
	TypeBoolean
)

func (t Type) String() string {
	switch t {
	case TypeI64:
		return "i64"
	case TypeF64:
		return "f64"
	default:
		return "boolean"
	}
}

// Query is the provider backing the inference pass — local and constant
// types plus the recorded branch decisions — supplied by the VM from the
// live frame at compile time.
type Query struct {
	TypeOfLocal    func(id int) (Type, bool)
	TypeOfConstant func(idx int) (Type, bool)
	NumberConstant func(idx int) (float64, bool)

	Branches []bool
	branchN  int
}

// DidTakeNthBranch consumes the next recorded branch decision.
func (q *Query) DidTakeNthBranch() (bool, bool) {
	if q.branchN >= len(q.Branches) {
		return false, false
	}
	taken := q.Branches[q.branchN]
	q.branchN++
	return taken, true
}

// UnsupportedError aborts inference; the enclosing trace is abandoned and
// its header poisoned.
type UnsupportedError struct {
	Pos int
	Msg string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported at trace offset %d: %s", e.Pos, e.Msg)
}

func unsupported(pos int, format string, args ...interface{}) *UnsupportedError {
	return &UnsupportedError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// InferResult is the pass output: the inferred type per touched local and
// a bitvec marking which instruction positions are jump targets.
type InferResult struct {
	LocalTys map[int]Type
	Labels   []bool
	// MaxStackDepth is the deepest the simulated type stack grew; the
	// backend sizes (or rejects against) its evaluation slots with it.
	MaxStackDepth int
}

// Infer runs a single forward pass over a trace byte-slice, maintaining a
// simulated type stack plus a map from local index to inferred type.
// Conditional jumps consult the recorded branch decisions to mark the
// taken side's target as a label.
func Infer(code []byte, q *Query) (*InferResult, error) {
	res := &InferResult{
		LocalTys: make(map[int]Type),
		Labels:   make([]bool, len(code)+1),
	}
	var stack []Type

	push := func(t Type) {
		stack = append(stack, t)
		if len(stack) > res.MaxStackDepth {
			res.MaxStackDepth = len(stack)
		}
	}
	pop := func(pos int) (Type, error) {
		if len(stack) == 0 {
			return 0, unsupported(pos, "type stack underflow")
		}
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return t, nil
	}
	markLabel := func(rel int) {
		if rel >= 0 && rel < len(res.Labels) {
			res.Labels[rel] = true
		}
	}

	localType := func(pos, id int) (Type, error) {
		if t, ok := res.LocalTys[id]; ok {
			return t, nil
		}
		t, ok := q.TypeOfLocal(id)
		if !ok {
			return 0, unsupported(pos, "local %d has no inferable type", id)
		}
		res.LocalTys[id] = t
		return t, nil
	}

	pc := 0
	for pc < len(code) {
		pos := pc
		op := bytecode.Op(code[pc])
		pc++

		switch op {
		case bytecode.OpNop:

		case bytecode.OpConstant, bytecode.OpConstantW:
			var idx int
			if op == bytecode.OpConstant {
				idx = int(code[pc])
				pc++
			} else {
				idx = int(binary.LittleEndian.Uint16(code[pc:]))
				pc += 2
			}
			t, ok := q.TypeOfConstant(idx)
			if !ok {
				return nil, unsupported(pos, "constant %d has no inferable type", idx)
			}
			push(t)

		case bytecode.OpLdLocal:
			t, err := localType(pos, int(code[pc]))
			if err != nil {
				return nil, err
			}
			pc++
			push(t)

		case bytecode.OpStoreLocal:
			if len(stack) == 0 {
				return nil, unsupported(pos, "type stack underflow")
			}
			res.LocalTys[int(code[pc])] = stack[len(stack)-1]
			pc++

		case bytecode.OpPop:
			if _, err := pop(pos); err != nil {
				return nil, err
			}

		case bytecode.OpDup:
			if len(stack) == 0 {
				return nil, unsupported(pos, "type stack underflow")
			}
			push(stack[len(stack)-1])

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpMod,
			bytecode.OpAddNumLR, bytecode.OpSubNumLR, bytecode.OpMulNumLR:
			b, err := pop(pos)
			if err != nil {
				return nil, err
			}
			a, err := pop(pos)
			if err != nil {
				return nil, err
			}
			t, err := binaryNumericType(pos, a, b)
			if err != nil {
				return nil, err
			}
			push(t)

		case bytecode.OpDiv:
			if _, err := pop(pos); err != nil {
				return nil, err
			}
			if _, err := pop(pos); err != nil {
				return nil, err
			}
			push(TypeF64)

		case bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe,
			bytecode.OpLtNumLR, bytecode.OpLeNumLR, bytecode.OpGtNumLR, bytecode.OpGeNumLR:
			if _, err := pop(pos); err != nil {
				return nil, err
			}
			if _, err := pop(pos); err != nil {
				return nil, err
			}
			push(TypeBoolean)

		case bytecode.OpLtNumLConst8:
			pc++
			if _, err := pop(pos); err != nil {
				return nil, err
			}
			push(TypeBoolean)

		case bytecode.OpLtNumLConst32:
			pc += 4
			if _, err := pop(pos); err != nil {
				return nil, err
			}
			push(TypeBoolean)

		case bytecode.OpPostfixIncLocalNum, bytecode.OpPostfixDecLocalNum,
			bytecode.OpPrefixIncLocalNum, bytecode.OpPrefixDecLocalNum:
			t, err := localType(pos, int(code[pc]))
			if err != nil {
				return nil, err
			}
			if t == TypeBoolean {
				return nil, unsupported(pos, "increment of boolean-typed local")
			}
			pc++
			push(t)

		case bytecode.OpJmp:
			disp := int(int16(binary.LittleEndian.Uint16(code[pc:])))
			pc += 2
			markLabel(pc + disp)

		case bytecode.OpJmpFalseP, bytecode.OpJmpTrueP:
			disp := int(int16(binary.LittleEndian.Uint16(code[pc:])))
			pc += 2
			if _, err := pop(pos); err != nil {
				return nil, err
			}
			taken, ok := q.DidTakeNthBranch()
			if !ok {
				return nil, unsupported(pos, "branch decision missing from trace")
			}
			if taken {
				markLabel(pc + disp)
			} else {
				markLabel(pc)
			}

		default:
			return nil, unsupported(pos, "opcode %d", op)
		}
	}
	return res, nil
}

func binaryNumericType(pos int, a, b Type) (Type, error) {
	if a == TypeBoolean && b == TypeBoolean {
		return TypeBoolean, nil
	}
	if a == TypeBoolean || b == TypeBoolean {
		return 0, unsupported(pos, "mixed boolean/numeric arithmetic")
	}
	if a == TypeI64 && b == TypeI64 {
		return TypeI64, nil
	}
	return TypeF64, nil
}
