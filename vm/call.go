package vm

import (
	"fmt"

	"github.com/wudi/dashvm/bytecode"
	"github.com/wudi/dashvm/heap"
	"github.com/wudi/dashvm/value"
)

// opCall pops argc arguments, then the receiver when has_this, then the
// callee.
func (vm *Vm) opCall(meta bytecode.CallMeta, isNew bool) error {
	argc := int(meta.Argc)
	args := make([]value.Value, argc)
	for i := argc - 1; i >= 0; i-- {
		args[i] = vm.pop()
	}
	var this value.Value
	hasThis := meta.HasThis
	if hasThis {
		this = vm.pop()
	}
	callee := vm.pop().Deref()
	return vm.callValue(callee, this, hasThis, args, isNew)
}

// callValue dispatches a call: native callees run immediately and push
// their result; user callees push a new frame the main loop descends into.
// Generator callees allocate a suspended iterator; async callees run to
// completion and push a settled promise.
func (vm *Vm) callValue(calleeV value.Value, this value.Value, hasThis bool, args []value.Value, isNew bool) error {
	if !calleeV.IsObject() {
		return value.Throw(value.String("TypeError: " + value.ToStringOrEmpty(calleeV) + " is not a function"))
	}
	fn, ok := calleeV.Object().(*heap.Function)
	if !ok {
		res, err := calleeV.Object().Apply(this, args)
		if err != nil {
			return err
		}
		vm.push(res)
		return nil
	}

	if isNew {
		protoV, _ := fn.Get(value.String("prototype"))
		newObj := vm.heap.NewPlainObject()
		if protoV.IsObject() {
			newObj.SetPrototype(protoV.Object())
		}
		this = value.FromObject(newObj)
		hasThis = true
	}

	if fn.Native != nil {
		sc := vm.heap.OpenScope(vm.baseScope)
		defer sc.Close()
		ctx := &heap.CallContext{
			Heap:    vm.heap,
			Scope:   sc,
			This:    this,
			Args:    args,
			IsNew:   isNew,
			Invoker: vm,
		}
		res, err := fn.Native(ctx)
		if err != nil {
			return err
		}
		if isNew && !res.IsObject() {
			res = this
		}
		vm.push(res)
		return nil
	}

	if fn.BoundThis != nil {
		this = *fn.BoundThis
		hasThis = true
	}

	switch fn.Compiled.Kind {
	case bytecode.KindGenerator:
		vm.push(value.FromObject(vm.newGeneratorIterator(fn, this, args)))
		return nil
	case bytecode.KindAsync:
		res, err := vm.callAsync(fn, this, args)
		if err != nil {
			return err
		}
		vm.push(res)
		return nil
	default:
		return vm.pushUserFrame(fn, this, hasThis, isNew, args)
	}
}

// pushUserFrame allocates an activation atop the frame stack: arguments
// copied into local slots 0..params, trailing arguments gathered into the
// rest local when present, remaining locals undefined.
func (vm *Vm) pushUserFrame(fn *heap.Function, this value.Value, hasThis, isCtor bool, args []value.Value) error {
	if len(vm.frames) >= maxFrames {
		return value.Throw(value.String("RangeError: maximum call stack size exceeded"))
	}
	cf := fn.Compiled
	base := vm.sp
	need := base + cf.Locals
	vm.ensure(need)
	for i := base; i < need; i++ {
		vm.stack[i] = value.Undefined()
	}
	n := cf.Params
	if len(args) < n {
		n = len(args)
	}
	copy(vm.stack[base:], args[:n])
	if cf.RestLocal >= 0 {
		var rest []value.Value
		if len(args) > cf.Params {
			rest = append(rest, args[cf.Params:]...)
		}
		vm.stack[base+cf.RestLocal] = value.FromObject(vm.heap.NewArray(rest))
	}
	vm.sp = need
	vm.frames = append(vm.frames, &Frame{
		Fn:          fn,
		SP:          base,
		This:        this,
		HasThis:     hasThis,
		IsCtor:      isCtor,
		LoopCounter: make(map[int]int),
	})
	return nil
}

// makeClosure implements the Closure opcode: resolve each external
// descriptor against the current frame, promoting the referenced local
// into a cell in place the first time it is captured; nested descriptors
// chain through the current function's own captured cells.
func (vm *Vm) makeClosure(frame *Frame, cf *bytecode.CompiledFunction) value.Value {
	cells := make([]value.Cell, len(cf.Externals))
	for i, d := range cf.Externals {
		if d.IsNested {
			cells[i] = frame.Fn.Externals[d.ID]
			continue
		}
		slot := vm.stack[frame.SP+d.ID]
		if slot.IsExternal() {
			cells[i] = slot.Cell()
			continue
		}
		cell := heap.NewExternalCell(slot)
		vm.stack[frame.SP+d.ID] = value.FromExternal(cell)
		cells[i] = cell
	}
	fn := vm.heap.NewUserFunction(cf, cells)
	if cf.Kind == bytecode.KindArrow {
		captured := frame.This
		fn.BoundThis = &captured
	}
	return value.FromObject(fn)
}

// callUserNested runs a user function to completion inside the current
// dispatch (used by Invoke, async bodies and constructors re-entered from
// natives).
func (vm *Vm) callUserNested(fn *heap.Function, this value.Value, hasThis bool, args []value.Value) (value.Value, error) {
	entry := len(vm.frames)
	if err := vm.pushUserFrame(fn, this, hasThis, false, args); err != nil {
		return value.Undefined(), err
	}
	val, oc, err := vm.run(entry)
	if err != nil {
		return value.Undefined(), err
	}
	if oc != outcomeReturn {
		return value.Undefined(), fmt.Errorf("vm: nested frame suspended outside generator resume")
	}
	return val, nil
}

// callAsync runs an async function body synchronously and settles the
// returned promise. With no host scheduler, awaits on settled promises
// resolve inline and awaits on pending promises throw.
func (vm *Vm) callAsync(fn *heap.Function, this value.Value, args []value.Value) (value.Value, error) {
	p := vm.heap.NewPromise()
	res, err := vm.callUserNested(fn, this, true, args)
	if err != nil {
		te, ok := err.(*value.ThrownError)
		if !ok {
			return value.Undefined(), err
		}
		p.Reject(te.Value)
	} else {
		p.Resolve(res)
	}
	return value.FromObject(p), nil
}

// opCallIntrinsic dispatches CallIntrinsic(id, argc): re-fetch the live
// Math member the id names and invoke it, so runtime tampering with the
// global is honored.
func (vm *Vm) opCallIntrinsic(id uint8, argc int) error {
	args := make([]value.Value, argc)
	for i := argc - 1; i >= 0; i-- {
		args[i] = vm.pop()
	}
	name, ok := bytecode.IntrinsicName(id)
	if !ok {
		return fmt.Errorf("vm: unknown intrinsic id %d", id)
	}
	mathV := vm.Global("Math")
	fnV, err := vm.getProp(mathV, vm.heap.InternString(name))
	if err != nil {
		return err
	}
	res, err := vm.Invoke(fnV, mathV, args)
	if err != nil {
		return err
	}
	vm.push(res)
	return nil
}
