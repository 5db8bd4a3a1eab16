package vm

import (
	"encoding/binary"
	"fmt"

	"github.com/wudi/dashvm/bytecode"
	"github.com/wudi/dashvm/heap"
	"github.com/wudi/dashvm/value"
)

// outcome reports how a run left its entry frame.
type outcome byte

const (
	outcomeReturn outcome = iota
	outcomeYield
)

func (vm *Vm) readU8(f *Frame) byte {
	b := f.compiled().Buffer[f.IP]
	f.IP++
	return b
}

func (vm *Vm) readU16(f *Frame) uint16 {
	v := binary.LittleEndian.Uint16(f.compiled().Buffer[f.IP:])
	f.IP += 2
	return v
}

func (vm *Vm) readI16(f *Frame) int16 { return int16(vm.readU16(f)) }

func (vm *Vm) readI32(f *Frame) int32 {
	v := int32(binary.LittleEndian.Uint32(f.compiled().Buffer[f.IP:]))
	f.IP += 4
	return v
}

func (vm *Vm) constant(f *Frame, idx int) bytecode.Constant {
	return f.compiled().Constants[idx]
}

// constantValue materializes a constant-pool entry onto the stack.
func (vm *Vm) constantValue(f *Frame, idx int) (value.Value, error) {
	c := vm.constant(f, idx)
	switch c.Kind {
	case bytecode.ConstNumber:
		return value.Number(c.Num), nil
	case bytecode.ConstBoolean:
		return value.Boolean(c.Bool), nil
	case bytecode.ConstString, bytecode.ConstIdentifier:
		return vm.heap.InternString(c.Str), nil
	case bytecode.ConstUndefined:
		return value.Undefined(), nil
	case bytecode.ConstNull:
		return value.Null(), nil
	case bytecode.ConstRegex:
		return value.Undefined(), value.Throw(value.String("TypeError: regular expressions are not supported"))
	default:
		return value.Undefined(), fmt.Errorf("vm: constant %d is not materializable", idx)
	}
}

// run dispatches until the frame stack shrinks back to entryDepth. It
// returns the entry frame's return value, or the yielded value when the
// entry frame suspended (generator resume).
func (vm *Vm) run(entryDepth int) (value.Value, outcome, error) {
	for len(vm.frames) > entryDepth {
		frame := vm.frames[len(vm.frames)-1]
		code := frame.compiled().Buffer
		if frame.IP < 0 || frame.IP >= len(code) {
			return value.Undefined(), outcomeReturn, fmt.Errorf("vm: instruction pointer %d out of bounds", frame.IP)
		}

		vm.maybeCollect()

		if vm.jit != nil {
			if ct := vm.jit.Compiled(frame.compiled(), frame.IP); ct != nil && vm.jitEntryGuard(frame, ct) {
				var out int
				ct.Entry(vm.stack, frame.SP, &out)
				vm.jit.CountDispatch()
				frame.IP += out
				continue
			}
		}

		opIP := frame.IP
		op := bytecode.Op(code[opIP])
		frame.IP++

		done, ret, oc, err := vm.step(frame, op, opIP, entryDepth)
		if err != nil {
			if te, ok := err.(*value.ThrownError); ok {
				if vm.unwind(te, entryDepth) {
					continue
				}
				return value.Undefined(), outcomeReturn, te
			}
			return value.Undefined(), outcomeReturn, err
		}
		if done {
			return ret, oc, nil
		}
	}
	return value.Undefined(), outcomeReturn, nil
}

// unwind walks frames top-down popping try-blocks; on a handler, restore
// sp, deliver the thrown value to the binding slot, and resume at the
// catch address. Frames below entryDepth are never unwound here — they
// belong to an enclosing run and receive the error as a Go return.
func (vm *Vm) unwind(te *value.ThrownError, entryDepth int) bool {
	for len(vm.frames) > entryDepth {
		frame := vm.frames[len(vm.frames)-1]
		if n := len(frame.TryStack); n > 0 {
			tb := frame.TryStack[n-1]
			frame.TryStack = frame.TryStack[:n-1]
			vm.sp = tb.SP
			vm.push(te.Value)
			if tb.Binding != noBinding {
				vm.storeLocalSlot(frame, int(tb.Binding), vm.peek())
			}
			vm.pop()
			frame.IP = tb.CatchIP
			return true
		}
		vm.sp = frame.SP
		vm.frames = vm.frames[:len(vm.frames)-1]
	}
	return false
}

// step executes one opcode. done is true when the entry frame completed
// (returned or yielded).
func (vm *Vm) step(frame *Frame, op bytecode.Op, opIP, entryDepth int) (done bool, ret value.Value, oc outcome, err error) {
	switch op {
	case bytecode.OpNop:

	case bytecode.OpConstant, bytecode.OpConstantW:
		var idx int
		if op == bytecode.OpConstant {
			idx = int(vm.readU8(frame))
		} else {
			idx = int(vm.readU16(frame))
		}
		c := vm.constant(frame, idx)
		if c.Kind == bytecode.ConstFunction {
			return false, ret, oc, fmt.Errorf("vm: function constant %d loaded outside Closure", idx)
		}
		v, cerr := vm.constantValue(frame, idx)
		if cerr != nil {
			return false, ret, oc, cerr
		}
		vm.push(v)

	case bytecode.OpPop:
		vm.pop()

	case bytecode.OpDup:
		vm.push(vm.peek())

	case bytecode.OpLdLocal:
		vm.push(vm.loadLocalSlot(frame, int(vm.readU8(frame))))
	case bytecode.OpLdLocalW:
		vm.push(vm.loadLocalSlot(frame, int(vm.readU16(frame))))
	case bytecode.OpStoreLocal:
		vm.storeLocalSlot(frame, int(vm.readU8(frame)), vm.peek())
	case bytecode.OpStoreLocalW:
		vm.storeLocalSlot(frame, int(vm.readU16(frame)), vm.peek())

	case bytecode.OpLdExternal:
		vm.push(frame.Fn.Externals[vm.readU8(frame)].Load())
	case bytecode.OpStExternal:
		frame.Fn.Externals[vm.readU8(frame)].Store(vm.peek())

	case bytecode.OpLdGlobal:
		name := vm.constant(frame, int(vm.readU16(frame))).Str
		vm.push(vm.Global(name))
	case bytecode.OpStGlobal:
		name := vm.constant(frame, int(vm.readU16(frame))).Str
		vm.heap.GlobalObject().Set(value.String(name), vm.peek())

	case bytecode.OpUndefined:
		vm.push(value.Undefined())
	case bytecode.OpNull:
		vm.push(value.Null())
	case bytecode.OpTrue:
		vm.push(value.Boolean(true))
	case bytecode.OpFalse:
		vm.push(value.Boolean(false))
	case bytecode.OpThis:
		vm.push(frame.This)

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod, bytecode.OpPow,
		bytecode.OpBitAnd, bytecode.OpBitOr, bytecode.OpBitXor, bytecode.OpShl, bytecode.OpShr, bytecode.OpUshr,
		bytecode.OpEq, bytecode.OpNeq, bytecode.OpStrictEq, bytecode.OpStrictNeq,
		bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
		b := vm.pop()
		a := vm.pop()
		v, berr := vm.binaryOp(op, a, b)
		if berr != nil {
			return false, ret, oc, berr
		}
		vm.push(v)

	case bytecode.OpAddNumLR, bytecode.OpSubNumLR, bytecode.OpMulNumLR,
		bytecode.OpLtNumLR, bytecode.OpLeNumLR, bytecode.OpGtNumLR, bytecode.OpGeNumLR:
		b := vm.pop()
		a := vm.pop()
		v, berr := vm.numericOp(op, a, b)
		if berr != nil {
			return false, ret, oc, berr
		}
		vm.push(v)

	case bytecode.OpLtNumLConst8:
		rhs := float64(int8(vm.readU8(frame)))
		v, berr := vm.ltConst(vm.pop(), rhs)
		if berr != nil {
			return false, ret, oc, berr
		}
		vm.push(v)
	case bytecode.OpLtNumLConst32:
		rhs := float64(vm.readI32(frame))
		v, berr := vm.ltConst(vm.pop(), rhs)
		if berr != nil {
			return false, ret, oc, berr
		}
		vm.push(v)

	case bytecode.OpNeg, bytecode.OpPos, bytecode.OpNot, bytecode.OpBitNot, bytecode.OpTypeof, bytecode.OpVoid:
		v, uerr := vm.unaryOp(op, vm.pop())
		if uerr != nil {
			return false, ret, oc, uerr
		}
		vm.push(v)

	case bytecode.OpPostfixIncLocalNum, bytecode.OpPostfixDecLocalNum,
		bytecode.OpPrefixIncLocalNum, bytecode.OpPrefixDecLocalNum:
		if uerr := vm.localNumUpdate(frame, op, int(vm.readU8(frame))); uerr != nil {
			return false, ret, oc, uerr
		}

	case bytecode.OpStaticPropGet:
		idx := int(vm.readU16(frame))
		preserve := vm.readU8(frame) == 1
		obj := vm.pop()
		v, gerr := vm.getProp(obj, vm.heap.InternString(vm.constant(frame, idx).Str))
		if gerr != nil {
			return false, ret, oc, gerr
		}
		vm.push(v)
		if preserve {
			vm.push(obj)
		}

	case bytecode.OpDynamicPropGet:
		preserve := vm.readU8(frame) == 1
		key := vm.pop()
		obj := vm.pop()
		v, gerr := vm.getProp(obj, key)
		if gerr != nil {
			return false, ret, oc, gerr
		}
		vm.push(v)
		if preserve {
			vm.push(obj)
		}

	case bytecode.OpStaticPropSet:
		idx := int(vm.readU16(frame))
		v := vm.pop()
		obj := vm.pop()
		if serr := vm.setProp(obj, vm.heap.InternString(vm.constant(frame, idx).Str), v); serr != nil {
			return false, ret, oc, serr
		}
		vm.push(v)

	case bytecode.OpDynamicPropSet:
		v := vm.pop()
		key := vm.pop()
		obj := vm.pop()
		if serr := vm.setProp(obj, key, v); serr != nil {
			return false, ret, oc, serr
		}
		vm.push(v)

	case bytecode.OpStaticDelete:
		idx := int(vm.readU16(frame))
		obj := vm.pop()
		vm.push(vm.deleteProp(obj, vm.heap.InternString(vm.constant(frame, idx).Str)))
	case bytecode.OpDynamicDelete:
		key := vm.pop()
		obj := vm.pop()
		vm.push(vm.deleteProp(obj, key))

	case bytecode.OpJmp:
		disp := int(vm.readI16(frame))
		vm.jump(frame, disp)

	case bytecode.OpJmpFalseP, bytecode.OpJmpTrueP:
		disp := int(vm.readI16(frame))
		cond := value.ToBoolean(vm.pop())
		taken := (op == bytecode.OpJmpTrueP) == cond
		vm.observeBranch(frame, opIP, taken)
		if taken {
			vm.jump(frame, disp)
		}

	case bytecode.OpJmpNullishP:
		disp := int(vm.readI16(frame))
		if vm.pop().IsNullish() {
			vm.jump(frame, disp)
		}
	case bytecode.OpJmpUndefinedP:
		disp := int(vm.readI16(frame))
		if vm.pop().IsUndefined() {
			vm.jump(frame, disp)
		}

	case bytecode.OpJmpTrueNP, bytecode.OpJmpFalseNP, bytecode.OpJmpNullishNP:
		disp := int(vm.readI16(frame))
		top := vm.peek()
		var taken bool
		switch op {
		case bytecode.OpJmpTrueNP:
			taken = value.ToBoolean(top)
		case bytecode.OpJmpFalseNP:
			taken = !value.ToBoolean(top)
		default:
			taken = !top.IsNullish()
		}
		if taken {
			vm.jump(frame, disp)
		}

	case bytecode.OpCall:
		meta := bytecode.DecodeCallMeta(vm.readU8(frame))
		if cerr := vm.opCall(meta, false); cerr != nil {
			return false, ret, oc, cerr
		}
	case bytecode.OpNewCall:
		meta := bytecode.DecodeCallMeta(vm.readU8(frame))
		if cerr := vm.opCall(meta, true); cerr != nil {
			return false, ret, oc, cerr
		}

	case bytecode.OpReturn:
		tryDepth := int(vm.readU16(frame))
		if tryDepth > len(frame.TryStack) {
			tryDepth = len(frame.TryStack)
		}
		frame.TryStack = frame.TryStack[:len(frame.TryStack)-tryDepth]
		rv := vm.pop()
		if frame.IsCtor && !rv.IsObject() {
			rv = frame.This
		}
		vm.sp = frame.SP
		vm.frames = vm.frames[:len(vm.frames)-1]
		if len(vm.frames) > entryDepth {
			vm.push(rv)
			break
		}
		return true, rv, outcomeReturn, nil

	case bytecode.OpClosure:
		idx := int(vm.readU16(frame))
		vm.push(vm.makeClosure(frame, vm.constant(frame, idx).Fn))

	case bytecode.OpYield:
		delegate := vm.readU8(frame) == 1
		if delegate {
			return false, ret, oc, value.Throw(value.String("TypeError: yield* is not supported"))
		}
		if len(vm.frames)-1 != entryDepth {
			return false, ret, oc, fmt.Errorf("vm: yield outside a generator entry frame")
		}
		yielded := vm.pop()
		frame.saved = append(frame.saved[:0], vm.stack[frame.SP:vm.sp]...)
		vm.sp = frame.SP
		vm.frames = vm.frames[:len(vm.frames)-1]
		return true, yielded, outcomeYield, nil

	case bytecode.OpAwait:
		v := vm.pop().Deref()
		if v.IsObject() {
			if p, ok := v.Object().(*heap.Promise); ok {
				switch p.State {
				case heap.PromiseFulfilled:
					vm.push(p.Result)
				case heap.PromiseRejected:
					return false, ret, oc, value.Throw(p.Result)
				default:
					return false, ret, oc, value.Throw(value.String("TypeError: await on a pending promise without a host scheduler"))
				}
				break
			}
		}
		vm.push(v)

	case bytecode.OpSymbolIterator:
		v, ierr := vm.symbolIterator(vm.pop())
		if ierr != nil {
			return false, ret, oc, ierr
		}
		vm.push(v)

	case bytecode.OpForInIterator:
		vm.push(vm.forInIterator(vm.pop()))

	case bytecode.OpArrayLit:
		n := int(vm.readU16(frame))
		elems := make([]value.Value, n)
		for i := n - 1; i >= 0; i-- {
			elems[i] = vm.pop()
		}
		vm.push(value.FromObject(vm.heap.NewArray(elems)))

	case bytecode.OpObjectLit:
		if lerr := vm.opObjectLit(frame); lerr != nil {
			return false, ret, oc, lerr
		}

	case bytecode.OpObjectDestruct:
		n := int(vm.readU16(frame))
		src := vm.peek()
		for i := 0; i < n; i++ {
			local := int(vm.readU16(frame))
			nameIdx := int(vm.readU16(frame))
			v, gerr := vm.getProp(src, vm.heap.InternString(vm.constant(frame, nameIdx).Str))
			if gerr != nil {
				return false, ret, oc, gerr
			}
			vm.storeLocalSlot(frame, local, v)
		}

	case bytecode.OpArrayDestruct:
		n := int(vm.readU16(frame))
		src := vm.peek()
		for i := 0; i < n; i++ {
			local := int(vm.readU16(frame))
			v, gerr := vm.getProp(src, value.Number(float64(i)))
			if gerr != nil {
				return false, ret, oc, gerr
			}
			vm.storeLocalSlot(frame, local, v)
		}

	case bytecode.OpTryBegin:
		catchIP := int(vm.readU16(frame))
		binding := vm.readU16(frame)
		frame.TryStack = append(frame.TryStack, TryBlock{CatchIP: catchIP, SP: vm.sp, Binding: binding})

	case bytecode.OpTryEnd:
		frame.TryStack = frame.TryStack[:len(frame.TryStack)-1]

	case bytecode.OpThrow:
		return false, ret, oc, value.Throw(vm.pop())

	case bytecode.OpStaticImport:
		if ierr := vm.opStaticImport(frame); ierr != nil {
			return false, ret, oc, ierr
		}
	case bytecode.OpDynamicImport:
		if ierr := vm.opDynamicImport(); ierr != nil {
			return false, ret, oc, ierr
		}
	case bytecode.OpNamedExport:
		n := int(vm.readU16(frame))
		for i := 0; i < n; i++ {
			nameIdx := int(vm.readU16(frame))
			local := int(vm.readU16(frame))
			if frame.Exports == nil {
				return false, ret, oc, value.Throw(value.String("SyntaxError: export outside a module"))
			}
			frame.Exports.Set(vm.heap.InternString(vm.constant(frame, nameIdx).Str), vm.loadLocalSlot(frame, local))
		}
	case bytecode.OpDefaultExport:
		v := vm.pop()
		if frame.Exports == nil {
			return false, ret, oc, value.Throw(value.String("SyntaxError: export outside a module"))
		}
		frame.Exports.Set(value.String("default"), v)

	case bytecode.OpSwitch:
		if serr := vm.opSwitch(frame); serr != nil {
			return false, ret, oc, serr
		}

	case bytecode.OpCallIntrinsic:
		id := vm.readU8(frame)
		argc := int(vm.readU8(frame))
		if cerr := vm.opCallIntrinsic(id, argc); cerr != nil {
			return false, ret, oc, cerr
		}

	case bytecode.OpNewTarget:
		if frame.IsCtor {
			vm.push(value.FromObject(frame.Fn))
		} else {
			vm.push(value.Undefined())
		}

	case bytecode.OpSetPrototype:
		proto := vm.pop()
		obj := vm.pop()
		if obj.IsObject() && proto.IsObject() {
			obj.Object().SetPrototype(proto.Object())
		}
		vm.push(obj)

	default:
		return false, ret, oc, fmt.Errorf("vm: unknown opcode %d at ip %d", op, opIP)
	}
	return false, ret, oc, nil
}

// jump moves the instruction pointer by a PC-relative displacement
// (measured from the byte after the operand) and reports backward jumps to
// the JIT frontend.
func (vm *Vm) jump(frame *Frame, disp int) {
	target := frame.IP + disp
	if disp < 0 {
		vm.onBackedge(frame, target, frame.IP)
	}
	frame.IP = target
}

// opSwitch implements Switch(case_count, has_default) + inline jump
// table: case values sit on the stack above the discriminant, the table
// holds absolute instruction addresses.
func (vm *Vm) opSwitch(frame *Frame) error {
	caseCount := int(vm.readU16(frame))
	hasDefault := vm.readU8(frame) == 1
	caseTargets := make([]int, caseCount)
	for i := range caseTargets {
		caseTargets[i] = int(vm.readU16(frame))
	}
	defaultTarget := -1
	if hasDefault {
		defaultTarget = int(vm.readU16(frame))
	}
	endTarget := int(vm.readU16(frame))

	caseValues := make([]value.Value, caseCount)
	for i := caseCount - 1; i >= 0; i-- {
		caseValues[i] = vm.pop()
	}
	disc := vm.pop()

	for i, cv := range caseValues {
		if value.StrictEquals(disc, cv) {
			frame.IP = caseTargets[i]
			return nil
		}
	}
	if hasDefault {
		frame.IP = defaultTarget
	} else {
		frame.IP = endTarget
	}
	return nil
}

func (vm *Vm) opObjectLit(frame *Frame) error {
	n := int(vm.readU16(frame))
	flags := make([]bool, n)
	for i := 0; i < n; i++ {
		flags[i] = vm.readU8(frame) == 1
	}
	type entry struct {
		spread   bool
		key, val value.Value
	}
	entries := make([]entry, n)
	for i := n - 1; i >= 0; i-- {
		if flags[i] {
			entries[i] = entry{spread: true, val: vm.pop()}
			continue
		}
		v := vm.pop()
		k := vm.pop()
		entries[i] = entry{key: k, val: v}
	}
	obj := vm.heap.NewPlainObject()
	for _, e := range entries {
		if e.spread {
			src := e.val.Deref()
			if !src.IsObject() {
				continue
			}
			so := src.Object()
			for _, k := range so.OwnKeys() {
				v, _ := so.Get(k)
				obj.Set(k, v)
			}
			continue
		}
		obj.Set(e.key, e.val)
	}
	vm.push(value.FromObject(obj))
	return nil
}

func (vm *Vm) opStaticImport(frame *Frame) error {
	kind := vm.readU8(frame)
	nameIdx := int(vm.readU16(frame))
	pathIdx := int(vm.readU16(frame))
	path := vm.constant(frame, pathIdx).Str
	if vm.moduleLoader == nil {
		return value.Throw(value.String("TypeError: cannot resolve module " + path + ": no module loader installed"))
	}
	ns, err := vm.moduleLoader(path)
	if err != nil {
		if te, ok := err.(*value.ThrownError); ok {
			return te
		}
		return value.Throw(value.String("TypeError: failed to load module " + path))
	}
	switch kind {
	case bytecode.ImportNamespace:
		vm.push(ns)
	case bytecode.ImportDefault:
		v, err := vm.getProp(ns, value.String("default"))
		if err != nil {
			return err
		}
		vm.push(v)
	default:
		name := vm.constant(frame, nameIdx).Str
		v, err := vm.getProp(ns, value.String(name))
		if err != nil {
			return err
		}
		vm.push(v)
	}
	return nil
}

func (vm *Vm) opDynamicImport() error {
	spec := vm.pop()
	path, err := value.ToString(spec, vm)
	if err != nil {
		return err
	}
	p := vm.heap.NewPromise()
	if vm.moduleLoader == nil {
		p.Reject(value.String("TypeError: cannot resolve module " + path + ": no module loader installed"))
	} else if ns, lerr := vm.moduleLoader(path); lerr != nil {
		if te, ok := lerr.(*value.ThrownError); ok {
			p.Reject(te.Value)
		} else {
			p.Reject(value.String("TypeError: failed to load module " + path))
		}
	} else {
		p.Resolve(ns)
	}
	vm.push(value.FromObject(p))
	return nil
}
