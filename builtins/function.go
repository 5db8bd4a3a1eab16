package builtins

import (
	"strconv"

	"github.com/wudi/dashvm/heap"
	"github.com/wudi/dashvm/value"
	"github.com/wudi/dashvm/vm"
)

func installFunctionProto(v *vm.Vm, h *heap.Heap) {
	p := h.FunctionProto

	p.SetHidden("call", native(h, "call", func(ctx *heap.CallContext) (value.Value, error) {
		var args []value.Value
		if len(ctx.Args) > 1 {
			args = ctx.Args[1:]
		}
		return ctx.Invoker.Invoke(ctx.This, ctx.Arg(0), args)
	}))

	p.SetHidden("apply", native(h, "apply", func(ctx *heap.CallContext) (value.Value, error) {
		var args []value.Value
		if arr := ctx.Arg(1).Deref(); arr.IsObject() {
			if a, ok := arr.Object().(*heap.Array); ok {
				args = a.Elements
			} else {
				// Array-likes spread by length + index.
				n, err := value.LengthOfArrayLike(arr.Object(), ctx.Invoker)
				if err != nil {
					return value.Undefined(), err
				}
				for i := 0; i < n; i++ {
					el, _ := arr.Object().Get(value.String(strconv.Itoa(i)))
					args = append(args, el)
				}
			}
		}
		return ctx.Invoker.Invoke(ctx.This, ctx.Arg(0), args)
	}))

	p.SetHidden("bind", native(h, "bind", func(ctx *heap.CallContext) (value.Value, error) {
		this := ctx.This.Deref()
		if !this.IsObject() {
			return value.Undefined(), value.Throw(value.String("TypeError: bind receiver is not a function"))
		}
		fn, ok := this.Object().(*heap.Function)
		if !ok {
			return value.Undefined(), value.Throw(value.String("TypeError: bind receiver is not a function"))
		}
		var bound []value.Value
		if len(ctx.Args) > 1 {
			bound = append(bound, ctx.Args[1:]...)
		}
		return value.FromObject(h.NewBoundFunction(fn, ctx.Arg(0), bound)), nil
	}))
}
