package vm

import (
	"math"

	"github.com/wudi/dashvm/bytecode"
	"github.com/wudi/dashvm/jit"
	"github.com/wudi/dashvm/value"
)

// onBackedge is the interpreter side of the trace lifecycle. Every
// backward jump lands here with the loop-header target and the IP just
// past the jump (the trace region's exclusive end); counting, recording
// and compile-on-closing-backedge all hang off this one hook.
func (vm *Vm) onBackedge(frame *Frame, headerIP, endIP int) {
	if vm.jit == nil {
		return
	}
	cf := frame.compiled()
	if t := vm.jit.RecordingFor(cf); t != nil {
		if t.Start == headerIP {
			vm.jit.FinishRecording(vm.jitQuery(frame))
		}
		return
	}
	if vm.jit.Poisoned(cf, headerIP) || vm.jit.Compiled(cf, headerIP) != nil {
		return
	}
	frame.LoopCounter[headerIP]++
	if frame.LoopCounter[headerIP] > vm.jit.HotLoopThreshold() {
		vm.jit.StartRecording(cf, headerIP, endIP)
	}
}

// observeBranch feeds a conditional-branch decision into an active
// recording when the branch lies inside the traced region.
func (vm *Vm) observeBranch(frame *Frame, opIP int, taken bool) {
	if vm.jit == nil {
		return
	}
	if t := vm.jit.RecordingFor(frame.compiled()); t != nil && opIP >= t.Start && opIP < t.End {
		vm.jit.ObserveBranch(taken)
	}
}

// jitEntryGuard revalidates the trace's inferred local types against the
// live frame before dispatching compiled code; a mismatch falls back to
// the interpreter for this entry.
func (vm *Vm) jitEntryGuard(frame *Frame, ct *jit.CompiledTrace) bool {
	for id, ty := range ct.LocalTys {
		v := vm.stack[frame.SP+id].Deref()
		if ty == jit.TypeBoolean {
			if !v.IsBoolean() {
				return false
			}
			continue
		}
		if !v.IsNumber() {
			return false
		}
	}
	return true
}

// jitQuery builds the inference pass's query provider from the live
// frame: local types from the runtime values, constant types from the
// pool.
func (vm *Vm) jitQuery(frame *Frame) *jit.Query {
	cf := frame.compiled()
	return &jit.Query{
		TypeOfLocal: func(id int) (jit.Type, bool) {
			if id < 0 || frame.SP+id >= vm.sp {
				return 0, false
			}
			return jitTypeOf(vm.stack[frame.SP+id].Deref())
		},
		TypeOfConstant: func(idx int) (jit.Type, bool) {
			if idx < 0 || idx >= len(cf.Constants) {
				return 0, false
			}
			c := cf.Constants[idx]
			switch c.Kind {
			case bytecode.ConstNumber:
				return numberType(c.Num), true
			case bytecode.ConstBoolean:
				return jit.TypeBoolean, true
			default:
				return 0, false
			}
		},
		NumberConstant: func(idx int) (float64, bool) {
			if idx < 0 || idx >= len(cf.Constants) {
				return 0, false
			}
			c := cf.Constants[idx]
			if c.Kind != bytecode.ConstNumber {
				return 0, false
			}
			return c.Num, true
		},
	}
}

func jitTypeOf(v value.Value) (jit.Type, bool) {
	switch {
	case v.IsNumber():
		return numberType(v.Float()), true
	case v.IsBoolean():
		return jit.TypeBoolean, true
	default:
		return 0, false
	}
}

func numberType(n float64) jit.Type {
	if n == math.Trunc(n) && !math.IsInf(n, 0) && math.Abs(n) < 1<<53 {
		return jit.TypeI64
	}
	return jit.TypeF64
}
