package vm

import (
	"github.com/wudi/dashvm/heap"
	"github.com/wudi/dashvm/value"
)

// newGeneratorIterator allocates the iterator a generator call returns.
// Calling a generator function does not execute its body — the iterator
// wraps a detached frame whose locals live off-stack until resumed.
func (vm *Vm) newGeneratorIterator(fn *heap.Function, this value.Value, args []value.Value) *heap.GeneratorIterator {
	cf := fn.Compiled
	saved := make([]value.Value, cf.Locals)
	for i := range saved {
		saved[i] = value.Undefined()
	}
	n := cf.Params
	if len(args) < n {
		n = len(args)
	}
	copy(saved, args[:n])
	if cf.RestLocal >= 0 {
		var rest []value.Value
		if len(args) > cf.Params {
			rest = append(rest, args[cf.Params:]...)
		}
		saved[cf.RestLocal] = value.FromObject(vm.heap.NewArray(rest))
	}

	frame := &Frame{
		Fn:          fn,
		This:        this,
		HasThis:     true,
		LoopCounter: make(map[int]int),
		saved:       saved,
	}
	g := vm.heap.NewGeneratorIterator(frame)
	g.TraceSuspended = func(visit func(value.Object)) {
		visit(frame.Fn)
		if frame.This.IsObject() {
			visit(frame.This.Object())
		}
		for _, v := range frame.saved {
			if v.IsExternal() {
				v = v.Deref()
			}
			if v.IsObject() {
				visit(v.Object())
			}
		}
	}

	next := vm.heap.NewNativeFunction("next", func(ctx *heap.CallContext) (value.Value, error) {
		return vm.resumeGenerator(g, ctx.Arg(0))
	})
	g.SetHidden("next", value.FromObject(next))
	ret := vm.heap.NewNativeFunction("return", func(ctx *heap.CallContext) (value.Value, error) {
		g.Done = true
		return vm.stepResult(ctx.Arg(0), true), nil
	})
	g.SetHidden("return", value.FromObject(ret))
	return g
}

// resumeGenerator restores the suspended frame atop the stack, delivers
// the sent value as the pending yield expression's result, and runs until
// the next Yield or Return.
func (vm *Vm) resumeGenerator(g *heap.GeneratorIterator, sent value.Value) (value.Value, error) {
	if g.Done {
		return vm.stepResult(value.Undefined(), true), nil
	}
	frame := g.Suspended.(*Frame)

	entry := len(vm.frames)
	frame.SP = vm.sp
	need := frame.SP + len(frame.saved)
	vm.ensure(need)
	copy(vm.stack[frame.SP:], frame.saved)
	vm.sp = need
	if frame.IP > 0 {
		vm.push(sent)
	}
	vm.frames = append(vm.frames, frame)

	val, oc, err := vm.run(entry)
	if err != nil {
		g.Done = true
		return value.Undefined(), err
	}
	if oc == outcomeYield {
		return vm.stepResult(val, false), nil
	}
	g.Done = true
	return vm.stepResult(val, true), nil
}

// stepResult builds the iterator step object `{value, done}`.
func (vm *Vm) stepResult(v value.Value, done bool) value.Value {
	step := vm.heap.NewPlainObject()
	step.Set(value.String("value"), v)
	step.Set(value.String("done"), value.Boolean(done))
	return value.FromObject(step)
}
