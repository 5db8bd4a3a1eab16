package builtins

import (
	"github.com/wudi/dashvm/heap"
	"github.com/wudi/dashvm/value"
	"github.com/wudi/dashvm/vm"
)

// installCollections registers the Set, Map and Promise constructors.
// Instance methods are installed per instance: Set/Map are concrete heap
// kinds, not prototype-dispatched plain objects.
func installCollections(v *vm.Vm, h *heap.Heap) {
	setCtor := h.NewNativeFunction("Set", func(ctx *heap.CallContext) (value.Value, error) {
		s := h.NewSet()
		ctx.Scope.Root(s)
		if init := ctx.Arg(0).Deref(); init.IsObject() {
			if a, ok := init.Object().(*heap.Array); ok {
				for _, el := range a.Elements {
					s.Add(el)
				}
			}
		}
		installSetMethods(h, s)
		return value.FromObject(s), nil
	})
	v.SetGlobal("Set", value.FromObject(setCtor))

	mapCtor := h.NewNativeFunction("Map", func(ctx *heap.CallContext) (value.Value, error) {
		m := h.NewMap()
		ctx.Scope.Root(m)
		if init := ctx.Arg(0).Deref(); init.IsObject() {
			if a, ok := init.Object().(*heap.Array); ok {
				for _, el := range a.Elements {
					pair := el.Deref()
					if pair.IsObject() {
						if pa, ok := pair.Object().(*heap.Array); ok && len(pa.Elements) >= 2 {
							m.MapSet(pa.Elements[0], pa.Elements[1])
						}
					}
				}
			}
		}
		installMapMethods(h, m)
		return value.FromObject(m), nil
	})
	v.SetGlobal("Map", value.FromObject(mapCtor))

	bufCtor := h.NewNativeFunction("ArrayBuffer", func(ctx *heap.CallContext) (value.Value, error) {
		n, err := value.ToLength(ctx.Arg(0), ctx.Invoker)
		if err != nil {
			return value.Undefined(), err
		}
		return value.FromObject(h.NewArrayBuffer(n)), nil
	})
	v.SetGlobal("ArrayBuffer", value.FromObject(bufCtor))

	u8Ctor := h.NewNativeFunction("Uint8Array", func(ctx *heap.CallContext) (value.Value, error) {
		arg := ctx.Arg(0).Deref()
		if arg.IsObject() {
			if buf, ok := arg.Object().(*heap.ArrayBuffer); ok {
				return value.FromObject(h.NewTypedArray(buf)), nil
			}
		}
		n, err := value.ToLength(arg, ctx.Invoker)
		if err != nil {
			return value.Undefined(), err
		}
		return value.FromObject(h.NewTypedArray(h.NewArrayBuffer(n))), nil
	})
	v.SetGlobal("Uint8Array", value.FromObject(u8Ctor))

	promise := h.NewPlainObject()
	promise.SetHidden("resolve", native(h, "resolve", func(ctx *heap.CallContext) (value.Value, error) {
		p := h.NewPromise()
		p.Resolve(ctx.Arg(0))
		return value.FromObject(p), nil
	}))
	promise.SetHidden("reject", native(h, "reject", func(ctx *heap.CallContext) (value.Value, error) {
		p := h.NewPromise()
		p.Reject(ctx.Arg(0))
		return value.FromObject(p), nil
	}))
	v.SetGlobal("Promise", value.FromObject(promise))
}

func installSetMethods(h *heap.Heap, s *heap.SetObject) {
	s.SetHidden("add", native(h, "add", func(ctx *heap.CallContext) (value.Value, error) {
		s.Add(ctx.Arg(0))
		return value.FromObject(s), nil
	}))
	s.SetHidden("has", native(h, "has", func(ctx *heap.CallContext) (value.Value, error) {
		return value.Boolean(s.Has(ctx.Arg(0))), nil
	}))
	s.SetHidden("values", native(h, "values", func(ctx *heap.CallContext) (value.Value, error) {
		return value.FromObject(h.NewArray(s.Values())), nil
	}))
}

func installMapMethods(h *heap.Heap, m *heap.MapObject) {
	m.SetHidden("set", native(h, "set", func(ctx *heap.CallContext) (value.Value, error) {
		m.MapSet(ctx.Arg(0), ctx.Arg(1))
		return value.FromObject(m), nil
	}))
	m.SetHidden("get", native(h, "get", func(ctx *heap.CallContext) (value.Value, error) {
		v, _ := m.MapGet(ctx.Arg(0))
		return v, nil
	}))
	m.SetHidden("has", native(h, "has", func(ctx *heap.CallContext) (value.Value, error) {
		_, ok := m.MapGet(ctx.Arg(0))
		return value.Boolean(ok), nil
	}))
	m.SetHidden("delete", native(h, "delete", func(ctx *heap.CallContext) (value.Value, error) {
		return value.Boolean(m.MapDelete(ctx.Arg(0))), nil
	}))
}
