package vm

import (
	"math"
	"strings"
	"unicode/utf16"

	"github.com/wudi/dashvm/bytecode"
	"github.com/wudi/dashvm/heap"
	"github.com/wudi/dashvm/value"
)

// binaryOp implements the generic binary opcodes over the abstract
// ECMAScript conversions.
func (vm *Vm) binaryOp(op bytecode.Op, a, b value.Value) (value.Value, error) {
	a = a.Deref()
	b = b.Deref()
	switch op {
	case bytecode.OpAdd:
		return vm.abstractAdd(a, b)
	case bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod, bytecode.OpPow:
		an, err := value.ToNumber(a, vm)
		if err != nil {
			return value.Undefined(), err
		}
		bn, err := value.ToNumber(b, vm)
		if err != nil {
			return value.Undefined(), err
		}
		switch op {
		case bytecode.OpSub:
			return value.Number(an - bn), nil
		case bytecode.OpMul:
			return value.Number(an * bn), nil
		case bytecode.OpDiv:
			return value.Number(an / bn), nil
		case bytecode.OpMod:
			return value.Number(math.Mod(an, bn)), nil
		default:
			return value.Number(math.Pow(an, bn)), nil
		}

	case bytecode.OpBitAnd, bytecode.OpBitOr, bytecode.OpBitXor, bytecode.OpShl, bytecode.OpShr:
		ai, err := value.ToInt32(a, vm)
		if err != nil {
			return value.Undefined(), err
		}
		bi, err := value.ToInt32(b, vm)
		if err != nil {
			return value.Undefined(), err
		}
		switch op {
		case bytecode.OpBitAnd:
			return value.Number(float64(ai & bi)), nil
		case bytecode.OpBitOr:
			return value.Number(float64(ai | bi)), nil
		case bytecode.OpBitXor:
			return value.Number(float64(ai ^ bi)), nil
		case bytecode.OpShl:
			return value.Number(float64(ai << (uint32(bi) & 31))), nil
		default:
			return value.Number(float64(ai >> (uint32(bi) & 31))), nil
		}

	case bytecode.OpUshr:
		au, err := value.ToUint32(a, vm)
		if err != nil {
			return value.Undefined(), err
		}
		bi, err := value.ToUint32(b, vm)
		if err != nil {
			return value.Undefined(), err
		}
		return value.Number(float64(au >> (bi & 31))), nil

	case bytecode.OpEq:
		eq, err := value.AbstractEquals(a, b, vm)
		return value.Boolean(eq), err
	case bytecode.OpNeq:
		eq, err := value.AbstractEquals(a, b, vm)
		return value.Boolean(!eq), err
	case bytecode.OpStrictEq:
		return value.Boolean(value.StrictEquals(a, b)), nil
	case bytecode.OpStrictNeq:
		return value.Boolean(!value.StrictEquals(a, b)), nil

	case bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
		return vm.abstractCompare(op, a, b)
	}
	return value.Undefined(), value.Throw(value.String("TypeError: unsupported binary operation"))
}

// abstractAdd implements the `+` ladder: to_primitive both sides, string
// concatenation if either is a string, numeric addition otherwise.
func (vm *Vm) abstractAdd(a, b value.Value) (value.Value, error) {
	ap, err := value.ToPrimitive(a, "default", vm)
	if err != nil {
		return value.Undefined(), err
	}
	bp, err := value.ToPrimitive(b, "default", vm)
	if err != nil {
		return value.Undefined(), err
	}
	if ap.IsString() || bp.IsString() {
		as, err := value.ToString(ap, vm)
		if err != nil {
			return value.Undefined(), err
		}
		bs, err := value.ToString(bp, vm)
		if err != nil {
			return value.Undefined(), err
		}
		return value.String(as + bs), nil
	}
	an, err := value.ToNumber(ap, vm)
	if err != nil {
		return value.Undefined(), err
	}
	bn, err := value.ToNumber(bp, vm)
	if err != nil {
		return value.Undefined(), err
	}
	return value.Number(an + bn), nil
}

func (vm *Vm) abstractCompare(op bytecode.Op, a, b value.Value) (value.Value, error) {
	ap, err := value.ToPrimitive(a, "number", vm)
	if err != nil {
		return value.Undefined(), err
	}
	bp, err := value.ToPrimitive(b, "number", vm)
	if err != nil {
		return value.Undefined(), err
	}
	if ap.IsString() && bp.IsString() {
		c := strings.Compare(ap.Str(), bp.Str())
		switch op {
		case bytecode.OpLt:
			return value.Boolean(c < 0), nil
		case bytecode.OpLe:
			return value.Boolean(c <= 0), nil
		case bytecode.OpGt:
			return value.Boolean(c > 0), nil
		default:
			return value.Boolean(c >= 0), nil
		}
	}
	an, err := value.ToNumber(ap, vm)
	if err != nil {
		return value.Undefined(), err
	}
	bn, err := value.ToNumber(bp, vm)
	if err != nil {
		return value.Undefined(), err
	}
	if math.IsNaN(an) || math.IsNaN(bn) {
		return value.Boolean(false), nil
	}
	switch op {
	case bytecode.OpLt:
		return value.Boolean(an < bn), nil
	case bytecode.OpLe:
		return value.Boolean(an <= bn), nil
	case bytecode.OpGt:
		return value.Boolean(an > bn), nil
	default:
		return value.Boolean(an >= bn), nil
	}
}

// numericOp handles the number-specialized IntrinsicOps. The fast path
// assumes both operands are numbers; when compile-time inference was
// invalidated by a dynamic reassignment it falls back to the generic
// ladder rather than misbehave.
func (vm *Vm) numericOp(op bytecode.Op, a, b value.Value) (value.Value, error) {
	a = a.Deref()
	b = b.Deref()
	if a.IsNumber() && b.IsNumber() {
		an, bn := a.Float(), b.Float()
		switch op {
		case bytecode.OpAddNumLR:
			return value.Number(an + bn), nil
		case bytecode.OpSubNumLR:
			return value.Number(an - bn), nil
		case bytecode.OpMulNumLR:
			return value.Number(an * bn), nil
		case bytecode.OpLtNumLR:
			return value.Boolean(an < bn), nil
		case bytecode.OpLeNumLR:
			return value.Boolean(an <= bn), nil
		case bytecode.OpGtNumLR:
			return value.Boolean(an > bn), nil
		default:
			return value.Boolean(an >= bn), nil
		}
	}
	switch op {
	case bytecode.OpAddNumLR:
		return vm.binaryOp(bytecode.OpAdd, a, b)
	case bytecode.OpSubNumLR:
		return vm.binaryOp(bytecode.OpSub, a, b)
	case bytecode.OpMulNumLR:
		return vm.binaryOp(bytecode.OpMul, a, b)
	case bytecode.OpLtNumLR:
		return vm.binaryOp(bytecode.OpLt, a, b)
	case bytecode.OpLeNumLR:
		return vm.binaryOp(bytecode.OpLe, a, b)
	case bytecode.OpGtNumLR:
		return vm.binaryOp(bytecode.OpGt, a, b)
	default:
		return vm.binaryOp(bytecode.OpGe, a, b)
	}
}

func (vm *Vm) ltConst(a value.Value, rhs float64) (value.Value, error) {
	a = a.Deref()
	if a.IsNumber() {
		return value.Boolean(a.Float() < rhs), nil
	}
	return vm.binaryOp(bytecode.OpLt, a, value.Number(rhs))
}

func (vm *Vm) unaryOp(op bytecode.Op, v value.Value) (value.Value, error) {
	v = v.Deref()
	switch op {
	case bytecode.OpNeg:
		n, err := value.ToNumber(v, vm)
		if err != nil {
			return value.Undefined(), err
		}
		return value.Number(-n), nil
	case bytecode.OpPos:
		n, err := value.ToNumber(v, vm)
		if err != nil {
			return value.Undefined(), err
		}
		return value.Number(n), nil
	case bytecode.OpNot:
		return value.Boolean(!value.ToBoolean(v)), nil
	case bytecode.OpBitNot:
		n, err := value.ToInt32(v, vm)
		if err != nil {
			return value.Undefined(), err
		}
		return value.Number(float64(^n)), nil
	case bytecode.OpTypeof:
		return value.String(typeofString(v)), nil
	default: // OpVoid
		return value.Undefined(), nil
	}
}

func typeofString(v value.Value) string {
	switch v.Kind {
	case value.KindUndefined:
		return "undefined"
	case value.KindNull:
		return "object"
	case value.KindBoolean:
		return "boolean"
	case value.KindNumber:
		return "number"
	case value.KindString:
		return "string"
	case value.KindSymbol:
		return "symbol"
	case value.KindObject:
		if _, ok := v.Object().(*heap.Function); ok {
			return "function"
		}
		return "object"
	default:
		return "object"
	}
}

// localNumUpdate implements the Number-specialized increment/decrement
// opcodes: postfix pushes the old value, prefix the new.
func (vm *Vm) localNumUpdate(frame *Frame, op bytecode.Op, id int) error {
	old, err := value.ToNumber(vm.loadLocalSlot(frame, id), vm)
	if err != nil {
		return err
	}
	delta := 1.0
	if op == bytecode.OpPostfixDecLocalNum || op == bytecode.OpPrefixDecLocalNum {
		delta = -1
	}
	nv := old + delta
	vm.storeLocalSlot(frame, id, value.Number(nv))
	if op == bytecode.OpPostfixIncLocalNum || op == bytecode.OpPostfixDecLocalNum {
		vm.push(value.Number(old))
	} else {
		vm.push(value.Number(nv))
	}
	return nil
}

// getProp implements property reads over objects, with primitive
// receivers routed through their wrapper prototypes.
func (vm *Vm) getProp(objV, key value.Value) (value.Value, error) {
	objV = objV.Deref()
	switch objV.Kind {
	case value.KindObject:
		v, _ := objV.Object().Get(key)
		return v, nil
	case value.KindString:
		return vm.stringProp(objV, key)
	case value.KindNumber:
		v, _ := vm.heap.NumberProto.Get(key)
		return v, nil
	case value.KindBoolean:
		v, _ := vm.heap.BooleanProto.Get(key)
		return v, nil
	case value.KindNull, value.KindUndefined:
		return value.Undefined(), value.Throw(value.String(
			"TypeError: cannot read properties of " + value.ToStringOrEmpty(objV) +
				" (reading '" + value.ToStringOrEmpty(key) + "')"))
	default:
		return value.Undefined(), nil
	}
}

func (vm *Vm) stringProp(sv, key value.Value) (value.Value, error) {
	s := sv.Str()
	if key.IsString() {
		if key.Str() == "length" {
			return value.Number(float64(len(utf16.Encode([]rune(s))))), nil
		}
	}
	if key.IsNumber() || key.IsString() {
		if idx, ok := stringIndex(key); ok {
			runes := []rune(s)
			if idx >= 0 && idx < len(runes) {
				return value.String(string(runes[idx])), nil
			}
			return value.Undefined(), nil
		}
	}
	v, _ := vm.heap.StringProto.Get(key)
	return v, nil
}

func stringIndex(key value.Value) (int, bool) {
	if key.IsNumber() {
		n := key.Float()
		if n == math.Trunc(n) && n >= 0 {
			return int(n), true
		}
		return 0, false
	}
	s := key.Str()
	if s == "" {
		return 0, false
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

func (vm *Vm) setProp(objV, key, v value.Value) error {
	objV = objV.Deref()
	switch objV.Kind {
	case value.KindObject:
		return objV.Object().Set(key, v)
	case value.KindNull, value.KindUndefined:
		return value.Throw(value.String(
			"TypeError: cannot set properties of " + value.ToStringOrEmpty(objV)))
	default:
		// Property writes on primitives are silently dropped.
		return nil
	}
}

func (vm *Vm) deleteProp(objV, key value.Value) value.Value {
	objV = objV.Deref()
	if !objV.IsObject() {
		return value.Boolean(true)
	}
	return value.Boolean(objV.Object().Delete(key))
}

// symbolIterator implements the SymbolIterator opcode the for-of
// desugaring drives.
func (vm *Vm) symbolIterator(v value.Value) (value.Value, error) {
	v = v.Deref()
	if v.IsString() {
		return value.FromObject(vm.heap.NewStringIterator(v.Str())), nil
	}
	if !v.IsObject() {
		return value.Undefined(), value.Throw(value.String("TypeError: " + value.ToStringOrEmpty(v) + " is not iterable"))
	}
	switch o := v.Object().(type) {
	case *heap.Array:
		return value.FromObject(vm.heap.NewArrayIterator(o.Elements)), nil
	case *heap.SetObject:
		return value.FromObject(vm.heap.NewArrayIterator(o.Values())), nil
	case *heap.MapObject:
		return value.FromObject(vm.heap.NewArrayIterator(o.Entries(vm.heap))), nil
	case *heap.GeneratorIterator:
		return v, nil
	default:
		// Anything exposing a callable `next` is iterator-like already.
		if next, ok := o.Get(value.String("next")); ok && next.IsObject() {
			return v, nil
		}
		return value.Undefined(), value.Throw(value.String("TypeError: object is not iterable"))
	}
}

// forInIterator implements ForInIterator: key enumeration with integer
// keys ascending, then insertion order, then inherited keys.
func (vm *Vm) forInIterator(v value.Value) value.Value {
	v = v.Deref()
	if !v.IsObject() {
		return value.FromObject(vm.heap.NewArrayIterator(nil))
	}
	return value.FromObject(vm.heap.NewForInIterator(v.Object()))
}
