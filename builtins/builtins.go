// Package builtins installs the engine's global surface: the Math subset
// behind the compiler's intrinsic-call table, JSON parsing, the
// Array/String/Function prototype methods, the Set/Map/Promise and
// ArrayBuffer/Uint8Array constructors, and a console.
package builtins

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/wudi/dashvm/heap"
	"github.com/wudi/dashvm/value"
	"github.com/wudi/dashvm/vm"
)

// Install registers the full built-in surface on v, logging console output
// to stdout.
func Install(v *vm.Vm) { InstallWriter(v, os.Stdout) }

// InstallWriter is Install with a custom console sink.
func InstallWriter(v *vm.Vm, out io.Writer) {
	h := v.Heap()
	installMath(v, h)
	installJSON(v, h)
	installArrayProto(h)
	installStringProto(h)
	installFunctionProto(v, h)
	installCollections(v, h)
	installObject(v, h)
	installConsole(v, h, out)
}

func native(h *heap.Heap, name string, fn heap.NativeFunc) value.Value {
	return value.FromObject(h.NewNativeFunction(name, fn))
}

func installConsole(v *vm.Vm, h *heap.Heap, out io.Writer) {
	console := h.NewPlainObject()
	log := func(ctx *heap.CallContext) (value.Value, error) {
		parts := make([]string, len(ctx.Args))
		for i, a := range ctx.Args {
			parts[i] = Inspect(a)
		}
		fmt.Fprintln(out, strings.Join(parts, " "))
		return value.Undefined(), nil
	}
	console.SetHidden("log", native(h, "log", log))
	console.SetHidden("error", native(h, "error", log))
	v.SetGlobal("console", value.FromObject(console))
}

func installObject(v *vm.Vm, h *heap.Heap) {
	// Object is callable: Object(v) converts to an object, boxing
	// primitives and passing objects through.
	obj := h.NewNativeFunction("Object", func(ctx *heap.CallContext) (value.Value, error) {
		arg := ctx.Arg(0).Deref()
		switch {
		case arg.IsNullish():
			return value.FromObject(h.NewPlainObject()), nil
		case arg.IsObject():
			return arg, nil
		default:
			return value.FromObject(h.NewBoxedPrimitive(arg)), nil
		}
	})
	obj.SetHidden("keys", native(h, "keys", func(ctx *heap.CallContext) (value.Value, error) {
		target := ctx.Arg(0).Deref()
		if !target.IsObject() {
			return value.FromObject(h.NewArray(nil)), nil
		}
		return value.FromObject(h.NewArray(target.Object().OwnKeys())), nil
	}))
	obj.SetHidden("values", native(h, "values", func(ctx *heap.CallContext) (value.Value, error) {
		target := ctx.Arg(0).Deref()
		if !target.IsObject() {
			return value.FromObject(h.NewArray(nil)), nil
		}
		o := target.Object()
		var out []value.Value
		for _, k := range o.OwnKeys() {
			val, _ := o.Get(k)
			out = append(out, val)
		}
		return value.FromObject(h.NewArray(out)), nil
	}))
	obj.SetHidden("assign", native(h, "assign", func(ctx *heap.CallContext) (value.Value, error) {
		target := ctx.Arg(0).Deref()
		if !target.IsObject() {
			return value.Undefined(), value.Throw(value.String("TypeError: Object.assign target must be an object"))
		}
		to := target.Object()
		for _, src := range ctx.Args[1:] {
			src = src.Deref()
			if !src.IsObject() {
				continue
			}
			so := src.Object()
			for _, k := range so.OwnKeys() {
				val, _ := so.Get(k)
				if err := to.Set(k, val); err != nil {
					return value.Undefined(), err
				}
			}
		}
		return target, nil
	}))
	v.SetGlobal("Object", value.FromObject(obj))
}

// Inspect renders a value for console output: quoted-free strings at the
// top level, and arrays/objects displayed recursively (nested strings
// quoted) the way small REPLs print.
func Inspect(v value.Value) string {
	return inspect(v, false)
}

func inspect(v value.Value, nested bool) string {
	v = v.Deref()
	if v.IsString() {
		if nested {
			return "'" + v.Str() + "'"
		}
		return v.Str()
	}
	if !v.IsObject() {
		return value.ToStringOrEmpty(v)
	}
	switch o := v.Object().(type) {
	case *heap.Array:
		parts := make([]string, len(o.Elements))
		for i, el := range o.Elements {
			parts[i] = inspect(el, true)
		}
		return "[ " + strings.Join(parts, ", ") + " ]"
	case *heap.Function:
		if o.Name != "" {
			return "[Function: " + o.Name + "]"
		}
		return "[Function (anonymous)]"
	default:
		keys := o.OwnKeys()
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			val, _ := o.Get(k)
			parts = append(parts, value.ToStringOrEmpty(k)+": "+inspect(val, true))
		}
		if len(parts) == 0 {
			return "{}"
		}
		return "{ " + strings.Join(parts, ", ") + " }"
	}
}
