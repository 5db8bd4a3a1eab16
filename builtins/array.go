package builtins

import (
	"strings"

	"github.com/wudi/dashvm/heap"
	"github.com/wudi/dashvm/value"
)

func thisArray(ctx *heap.CallContext) (*heap.Array, error) {
	this := ctx.This.Deref()
	if this.IsObject() {
		if a, ok := this.Object().(*heap.Array); ok {
			return a, nil
		}
	}
	return nil, value.Throw(value.String("TypeError: receiver is not an array"))
}

func installArrayProto(h *heap.Heap) {
	p := h.ArrayProto

	p.SetHidden("push", native(h, "push", func(ctx *heap.CallContext) (value.Value, error) {
		a, err := thisArray(ctx)
		if err != nil {
			return value.Undefined(), err
		}
		a.Elements = append(a.Elements, ctx.Args...)
		return value.Number(float64(len(a.Elements))), nil
	}))

	p.SetHidden("pop", native(h, "pop", func(ctx *heap.CallContext) (value.Value, error) {
		a, err := thisArray(ctx)
		if err != nil {
			return value.Undefined(), err
		}
		if len(a.Elements) == 0 {
			return value.Undefined(), nil
		}
		last := a.Elements[len(a.Elements)-1]
		a.Elements = a.Elements[:len(a.Elements)-1]
		return last, nil
	}))

	p.SetHidden("reduce", native(h, "reduce", func(ctx *heap.CallContext) (value.Value, error) {
		a, err := thisArray(ctx)
		if err != nil {
			return value.Undefined(), err
		}
		cb := ctx.Arg(0)
		i := 0
		var acc value.Value
		if len(ctx.Args) >= 2 {
			acc = ctx.Args[1]
		} else {
			if len(a.Elements) == 0 {
				return value.Undefined(), value.Throw(value.String("TypeError: reduce of empty array with no initial value"))
			}
			acc = a.Elements[0]
			i = 1
		}
		for ; i < len(a.Elements); i++ {
			acc, err = ctx.Invoker.Invoke(cb, value.Undefined(), []value.Value{acc, a.Elements[i], value.Number(float64(i)), ctx.This})
			if err != nil {
				return value.Undefined(), err
			}
		}
		return acc, nil
	}))

	p.SetHidden("map", native(h, "map", func(ctx *heap.CallContext) (value.Value, error) {
		a, err := thisArray(ctx)
		if err != nil {
			return value.Undefined(), err
		}
		cb := ctx.Arg(0)
		out := make([]value.Value, len(a.Elements))
		for i, el := range a.Elements {
			out[i], err = ctx.Invoker.Invoke(cb, value.Undefined(), []value.Value{el, value.Number(float64(i)), ctx.This})
			if err != nil {
				return value.Undefined(), err
			}
		}
		return value.FromObject(h.NewArray(out)), nil
	}))

	p.SetHidden("filter", native(h, "filter", func(ctx *heap.CallContext) (value.Value, error) {
		a, err := thisArray(ctx)
		if err != nil {
			return value.Undefined(), err
		}
		cb := ctx.Arg(0)
		var out []value.Value
		for i, el := range a.Elements {
			keep, err := ctx.Invoker.Invoke(cb, value.Undefined(), []value.Value{el, value.Number(float64(i)), ctx.This})
			if err != nil {
				return value.Undefined(), err
			}
			if value.ToBoolean(keep) {
				out = append(out, el)
			}
		}
		return value.FromObject(h.NewArray(out)), nil
	}))

	p.SetHidden("forEach", native(h, "forEach", func(ctx *heap.CallContext) (value.Value, error) {
		a, err := thisArray(ctx)
		if err != nil {
			return value.Undefined(), err
		}
		cb := ctx.Arg(0)
		for i, el := range a.Elements {
			if _, err := ctx.Invoker.Invoke(cb, value.Undefined(), []value.Value{el, value.Number(float64(i)), ctx.This}); err != nil {
				return value.Undefined(), err
			}
		}
		return value.Undefined(), nil
	}))

	p.SetHidden("indexOf", native(h, "indexOf", func(ctx *heap.CallContext) (value.Value, error) {
		a, err := thisArray(ctx)
		if err != nil {
			return value.Undefined(), err
		}
		needle := ctx.Arg(0)
		for i, el := range a.Elements {
			if value.StrictEquals(el, needle) {
				return value.Number(float64(i)), nil
			}
		}
		return value.Number(-1), nil
	}))

	p.SetHidden("includes", native(h, "includes", func(ctx *heap.CallContext) (value.Value, error) {
		a, err := thisArray(ctx)
		if err != nil {
			return value.Undefined(), err
		}
		needle := ctx.Arg(0)
		for _, el := range a.Elements {
			if value.StrictEquals(el, needle) {
				return value.Boolean(true), nil
			}
		}
		return value.Boolean(false), nil
	}))

	p.SetHidden("join", native(h, "join", func(ctx *heap.CallContext) (value.Value, error) {
		a, err := thisArray(ctx)
		if err != nil {
			return value.Undefined(), err
		}
		sep := ","
		if len(ctx.Args) >= 1 && !ctx.Arg(0).IsUndefined() {
			sep, err = value.ToString(ctx.Arg(0), ctx.Invoker)
			if err != nil {
				return value.Undefined(), err
			}
		}
		parts := make([]string, len(a.Elements))
		for i, el := range a.Elements {
			if el.IsNullish() {
				continue
			}
			parts[i], err = value.ToString(el, ctx.Invoker)
			if err != nil {
				return value.Undefined(), err
			}
		}
		return value.String(strings.Join(parts, sep)), nil
	}))

	p.SetHidden("slice", native(h, "slice", func(ctx *heap.CallContext) (value.Value, error) {
		a, err := thisArray(ctx)
		if err != nil {
			return value.Undefined(), err
		}
		n := len(a.Elements)
		start := sliceIndex(ctx.Arg(0), 0, n, ctx)
		end := sliceIndex(ctx.Arg(1), n, n, ctx)
		if start >= end {
			return value.FromObject(h.NewArray(nil)), nil
		}
		out := append([]value.Value{}, a.Elements[start:end]...)
		return value.FromObject(h.NewArray(out)), nil
	}))
}

// sliceIndex resolves a relative slice bound against length n the way
// Array.prototype.slice does (negative counts from the end).
func sliceIndex(v value.Value, def, n int, ctx *heap.CallContext) int {
	if v.IsUndefined() {
		return def
	}
	f, err := value.ToIntegerOrInfinity(v, ctx.Invoker)
	if err != nil {
		return def
	}
	i := int(f)
	if i < 0 {
		i += n
	}
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}
