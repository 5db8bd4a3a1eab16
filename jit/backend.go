package jit

import (
	"encoding/binary"
	"math"

	"github.com/wudi/dashvm/bytecode"
	"github.com/wudi/dashvm/value"
)

// JitFunction is the compiled-trace entry point, a Go rendering of the
// (stack_ptr, frame_sp, out_ip) native ABI. It executes the traced loop
// region, mutating the frame's local slots in place, and writes the
// side-exit target — an instruction offset relative to the trace start —
// through outIP.
type JitFunction func(stack []value.Value, sp int, outIP *int)

// Block is one straight-line region of the typed CFG.
type Block struct {
	Start, End int
}

// TypedCFG is what Lower hands the code generator: the inference result
// plus the straight-line blocks split at its label positions.
type TypedCFG struct {
	Infer  *InferResult
	Blocks []Block
}

// Backend is the contract to the native code generator.
type Backend interface {
	Lower(code []byte, q *Query) (*TypedCFG, error)
	CompileTypedCFG(code []byte, cfg *TypedCFG, q *Query) (JitFunction, error)
}

// interpBackend is the stand-in Backend: it lowers through the real
// inference pass, then "compiles" to a Go closure that executes the trace
// region over unboxed float slots, reading and writing the frame's local
// slots directly (through External cells where a local was promoted).
// It honors the full Backend contract so a real codegen can be swapped in.
type interpBackend struct{}

// NewInterpreterBackend returns the default stand-in backend.
func NewInterpreterBackend() Backend { return interpBackend{} }

func (interpBackend) Lower(code []byte, q *Query) (*TypedCFG, error) {
	infer, err := Infer(code, q)
	if err != nil {
		return nil, err
	}
	cfg := &TypedCFG{Infer: infer}
	start := 0
	pc := 0
	for pc < len(code) {
		op := bytecode.Op(code[pc])
		width, fixed := bytecode.OperandWidth(op)
		if !fixed {
			return nil, unsupported(pc, "variable-length opcode %d", op)
		}
		pc += 1 + width
		if pc < len(code) && infer.Labels[pc] {
			cfg.Blocks = append(cfg.Blocks, Block{Start: start, End: pc})
			start = pc
		}
	}
	cfg.Blocks = append(cfg.Blocks, Block{Start: start, End: pc})
	return cfg, nil
}

// tslot is one entry of the trace's virtual evaluation stack.
type tslot struct {
	f float64
	b bool
}

func (interpBackend) CompileTypedCFG(code []byte, cfg *TypedCFG, q *Query) (JitFunction, error) {
	if cfg.Infer.MaxStackDepth > 16 {
		return nil, unsupported(0, "trace needs %d evaluation slots", cfg.Infer.MaxStackDepth)
	}
	// Pre-validate: every opcode in the region must be in the executable
	// subset, so the returned function can never fail mid-trace.
	pc := 0
	for pc < len(code) {
		op := bytecode.Op(code[pc])
		switch op {
		case bytecode.OpNop, bytecode.OpConstant, bytecode.OpConstantW, bytecode.OpPop, bytecode.OpDup,
			bytecode.OpLdLocal, bytecode.OpStoreLocal,
			bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod,
			bytecode.OpAddNumLR, bytecode.OpSubNumLR, bytecode.OpMulNumLR,
			bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe,
			bytecode.OpLtNumLR, bytecode.OpLeNumLR, bytecode.OpGtNumLR, bytecode.OpGeNumLR,
			bytecode.OpLtNumLConst8, bytecode.OpLtNumLConst32,
			bytecode.OpPostfixIncLocalNum, bytecode.OpPostfixDecLocalNum,
			bytecode.OpPrefixIncLocalNum, bytecode.OpPrefixDecLocalNum,
			bytecode.OpJmp, bytecode.OpJmpFalseP, bytecode.OpJmpTrueP:
		default:
			return nil, unsupported(pc, "opcode %d not executable by this backend", op)
		}
		width, _ := bytecode.OperandWidth(op)
		pc += 1 + width
	}

	constant := q.NumberConstant
	loadLocal := func(stack []value.Value, sp, id int) float64 {
		v := stack[sp+id]
		if v.IsExternal() {
			v = v.Deref()
		}
		return v.Float()
	}
	storeLocal := func(stack []value.Value, sp, id int, f float64) {
		if cur := stack[sp+id]; cur.IsExternal() {
			cur.Cell().Store(value.Number(f))
			return
		}
		stack[sp+id] = value.Number(f)
	}

	return func(stack []value.Value, sp int, outIP *int) {
		var vs [16]tslot
		vsp := 0
		pc := 0
		for {
			if pc < 0 || pc >= len(code) {
				*outIP = pc
				return
			}
			op := bytecode.Op(code[pc])
			pc++
			switch op {
			case bytecode.OpNop:

			case bytecode.OpConstant:
				f, _ := constant(int(code[pc]))
				pc++
				vs[vsp] = tslot{f: f}
				vsp++

			case bytecode.OpConstantW:
				f, _ := constant(int(binary.LittleEndian.Uint16(code[pc:])))
				pc += 2
				vs[vsp] = tslot{f: f}
				vsp++

			case bytecode.OpPop:
				vsp--

			case bytecode.OpDup:
				vs[vsp] = vs[vsp-1]
				vsp++

			case bytecode.OpLdLocal:
				vs[vsp] = tslot{f: loadLocal(stack, sp, int(code[pc]))}
				pc++
				vsp++

			case bytecode.OpStoreLocal:
				storeLocal(stack, sp, int(code[pc]), vs[vsp-1].f)
				pc++

			case bytecode.OpAdd, bytecode.OpAddNumLR:
				vsp--
				vs[vsp-1].f += vs[vsp].f
			case bytecode.OpSub, bytecode.OpSubNumLR:
				vsp--
				vs[vsp-1].f -= vs[vsp].f
			case bytecode.OpMul, bytecode.OpMulNumLR:
				vsp--
				vs[vsp-1].f *= vs[vsp].f
			case bytecode.OpDiv:
				vsp--
				vs[vsp-1].f /= vs[vsp].f
			case bytecode.OpMod:
				vsp--
				vs[vsp-1].f = math.Mod(vs[vsp-1].f, vs[vsp].f)

			case bytecode.OpLt, bytecode.OpLtNumLR:
				vsp--
				vs[vsp-1] = tslot{b: vs[vsp-1].f < vs[vsp].f}
			case bytecode.OpLe, bytecode.OpLeNumLR:
				vsp--
				vs[vsp-1] = tslot{b: vs[vsp-1].f <= vs[vsp].f}
			case bytecode.OpGt, bytecode.OpGtNumLR:
				vsp--
				vs[vsp-1] = tslot{b: vs[vsp-1].f > vs[vsp].f}
			case bytecode.OpGe, bytecode.OpGeNumLR:
				vsp--
				vs[vsp-1] = tslot{b: vs[vsp-1].f >= vs[vsp].f}

			case bytecode.OpLtNumLConst8:
				rhs := float64(int8(code[pc]))
				pc++
				vs[vsp-1] = tslot{b: vs[vsp-1].f < rhs}

			case bytecode.OpLtNumLConst32:
				rhs := float64(int32(binary.LittleEndian.Uint32(code[pc:])))
				pc += 4
				vs[vsp-1] = tslot{b: vs[vsp-1].f < rhs}

			case bytecode.OpPostfixIncLocalNum:
				id := int(code[pc])
				pc++
				old := loadLocal(stack, sp, id)
				storeLocal(stack, sp, id, old+1)
				vs[vsp] = tslot{f: old}
				vsp++
			case bytecode.OpPostfixDecLocalNum:
				id := int(code[pc])
				pc++
				old := loadLocal(stack, sp, id)
				storeLocal(stack, sp, id, old-1)
				vs[vsp] = tslot{f: old}
				vsp++
			case bytecode.OpPrefixIncLocalNum:
				id := int(code[pc])
				pc++
				nv := loadLocal(stack, sp, id) + 1
				storeLocal(stack, sp, id, nv)
				vs[vsp] = tslot{f: nv}
				vsp++
			case bytecode.OpPrefixDecLocalNum:
				id := int(code[pc])
				pc++
				nv := loadLocal(stack, sp, id) - 1
				storeLocal(stack, sp, id, nv)
				vs[vsp] = tslot{f: nv}
				vsp++

			case bytecode.OpJmp:
				disp := int(int16(binary.LittleEndian.Uint16(code[pc:])))
				pc += 2
				pc += disp

			case bytecode.OpJmpFalseP:
				disp := int(int16(binary.LittleEndian.Uint16(code[pc:])))
				pc += 2
				vsp--
				if !vs[vsp].b {
					pc += disp
				}

			case bytecode.OpJmpTrueP:
				disp := int(int16(binary.LittleEndian.Uint16(code[pc:])))
				pc += 2
				vsp--
				if vs[vsp].b {
					pc += disp
				}
			}
		}
	}, nil
}
