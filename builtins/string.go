package builtins

import (
	"math"
	"strings"

	"github.com/wudi/dashvm/heap"
	"github.com/wudi/dashvm/value"
)

func nan() float64 { return math.NaN() }

func thisString(ctx *heap.CallContext) (string, error) {
	this := ctx.This.Deref()
	if this.IsString() {
		return this.Str(), nil
	}
	if this.IsObject() {
		if b, ok := this.Object().(*heap.BoxedPrimitive); ok && b.Primitive.IsString() {
			return b.Primitive.Str(), nil
		}
	}
	return "", value.Throw(value.String("TypeError: receiver is not a string"))
}

func installStringProto(h *heap.Heap) {
	p := h.StringProto

	p.SetHidden("charAt", native(h, "charAt", func(ctx *heap.CallContext) (value.Value, error) {
		s, err := thisString(ctx)
		if err != nil {
			return value.Undefined(), err
		}
		i, err := value.ToIntegerOrInfinity(ctx.Arg(0), ctx.Invoker)
		if err != nil {
			return value.Undefined(), err
		}
		runes := []rune(s)
		if i < 0 || int(i) >= len(runes) {
			return value.String(""), nil
		}
		return value.String(string(runes[int(i)])), nil
	}))

	p.SetHidden("charCodeAt", native(h, "charCodeAt", func(ctx *heap.CallContext) (value.Value, error) {
		s, err := thisString(ctx)
		if err != nil {
			return value.Undefined(), err
		}
		i, err := value.ToIntegerOrInfinity(ctx.Arg(0), ctx.Invoker)
		if err != nil {
			return value.Undefined(), err
		}
		runes := []rune(s)
		if i < 0 || int(i) >= len(runes) {
			return value.Number(nan()), nil
		}
		return value.Number(float64(runes[int(i)])), nil
	}))

	p.SetHidden("indexOf", native(h, "indexOf", func(ctx *heap.CallContext) (value.Value, error) {
		s, err := thisString(ctx)
		if err != nil {
			return value.Undefined(), err
		}
		needle, err := value.ToString(ctx.Arg(0), ctx.Invoker)
		if err != nil {
			return value.Undefined(), err
		}
		return value.Number(float64(strings.Index(s, needle))), nil
	}))

	p.SetHidden("includes", native(h, "includes", func(ctx *heap.CallContext) (value.Value, error) {
		s, err := thisString(ctx)
		if err != nil {
			return value.Undefined(), err
		}
		needle, err := value.ToString(ctx.Arg(0), ctx.Invoker)
		if err != nil {
			return value.Undefined(), err
		}
		return value.Boolean(strings.Contains(s, needle)), nil
	}))

	p.SetHidden("slice", native(h, "slice", func(ctx *heap.CallContext) (value.Value, error) {
		s, err := thisString(ctx)
		if err != nil {
			return value.Undefined(), err
		}
		runes := []rune(s)
		n := len(runes)
		start := sliceIndex(ctx.Arg(0), 0, n, ctx)
		end := sliceIndex(ctx.Arg(1), n, n, ctx)
		if start >= end {
			return value.String(""), nil
		}
		return value.String(string(runes[start:end])), nil
	}))

	p.SetHidden("split", native(h, "split", func(ctx *heap.CallContext) (value.Value, error) {
		s, err := thisString(ctx)
		if err != nil {
			return value.Undefined(), err
		}
		if ctx.Arg(0).IsUndefined() {
			return value.FromObject(h.NewArray([]value.Value{value.String(s)})), nil
		}
		sep, err := value.ToString(ctx.Arg(0), ctx.Invoker)
		if err != nil {
			return value.Undefined(), err
		}
		parts := strings.Split(s, sep)
		out := make([]value.Value, len(parts))
		for i, part := range parts {
			out[i] = value.String(part)
		}
		return value.FromObject(h.NewArray(out)), nil
	}))

	p.SetHidden("toUpperCase", native(h, "toUpperCase", func(ctx *heap.CallContext) (value.Value, error) {
		s, err := thisString(ctx)
		if err != nil {
			return value.Undefined(), err
		}
		return value.String(strings.ToUpper(s)), nil
	}))

	p.SetHidden("toLowerCase", native(h, "toLowerCase", func(ctx *heap.CallContext) (value.Value, error) {
		s, err := thisString(ctx)
		if err != nil {
			return value.Undefined(), err
		}
		return value.String(strings.ToLower(s)), nil
	}))

	p.SetHidden("trim", native(h, "trim", func(ctx *heap.CallContext) (value.Value, error) {
		s, err := thisString(ctx)
		if err != nil {
			return value.Undefined(), err
		}
		return value.String(strings.TrimSpace(s)), nil
	}))
}
