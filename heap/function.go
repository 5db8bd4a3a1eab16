package heap

import (
	"github.com/wudi/dashvm/bytecode"
	"github.com/wudi/dashvm/value"
)

// CallContext is handed to every native built-in: the receiver, the
// arguments, a rooted Scope for allocations the call makes, and an Invoker
// for re-entering the VM.
type CallContext struct {
	Heap    *Heap
	Scope   *Scope
	This    value.Value
	Args    []value.Value
	IsNew   bool
	Invoker value.Invoker // calls back into the VM for user-function callbacks
}

// Arg returns the i-th argument or Undefined when absent.
func (c *CallContext) Arg(i int) value.Value {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return value.Undefined()
}

// NativeFunc is the Go-side implementation of a native (built-in) function.
type NativeFunc func(ctx *CallContext) (value.Value, error)

// Function is the heap object wrapping either a compiled user function or a
// native Go function, plus the External cells it closed over.
type Function struct {
	PlainObject
	Compiled  *bytecode.CompiledFunction
	Native    NativeFunc
	Externals []value.Cell
	BoundThis *value.Value // captured `this` for arrows and bound functions
	BoundArgs []value.Value
	Name      string
}

func (h *Heap) NewUserFunction(fn *bytecode.CompiledFunction, externals []value.Cell) *Function {
	f := &Function{
		PlainObject: PlainObject{props: make(map[string]value.Value), class: "Function"},
		Compiled:    fn,
		Externals:   externals,
		Name:        fn.Name,
	}
	f.proto = h.FunctionProto
	h.register(f)
	if fn.Kind != bytecode.KindArrow {
		proto := h.NewPlainObject()
		proto.SetHidden("constructor", value.FromObject(f))
		f.SetHidden("prototype", value.FromObject(proto))
	}
	return f
}

func (h *Heap) NewNativeFunction(name string, fn NativeFunc) *Function {
	f := &Function{
		PlainObject: PlainObject{props: make(map[string]value.Value), class: "Function"},
		Native:      fn,
		Name:        name,
	}
	f.proto = h.FunctionProto
	h.register(f)
	return f
}

func (h *Heap) NewBoundFunction(target *Function, this value.Value, args []value.Value) *Function {
	f := &Function{
		PlainObject: PlainObject{props: make(map[string]value.Value), class: "Function"},
		BoundThis:   &this,
		BoundArgs:   args,
		Name:        "bound " + target.Name,
	}
	f.proto = h.FunctionProto
	f.Native = func(ctx *CallContext) (value.Value, error) {
		all := append(append([]value.Value{}, args...), ctx.Args...)
		if target.Native != nil {
			inner := *ctx
			inner.This = this
			inner.Args = all
			return target.Native(&inner)
		}
		if ctx.Invoker == nil {
			return value.Undefined(), value.Throw(value.String("TypeError: bound user function called without a VM"))
		}
		return ctx.Invoker.Invoke(value.FromObject(target), this, all)
	}
	h.register(f)
	return f
}

func (f *Function) TypeOf() string { return "function" }

// Apply invokes a native function directly. User functions are invoked by
// the VM (package vm), which knows how to push a Frame; Function.Apply
// only handles the native case so value.Object's contract is satisfiable
// without heap depending on vm.
func (f *Function) Apply(this value.Value, args []value.Value) (value.Value, error) {
	if f.Native != nil {
		return f.Native(&CallContext{This: this, Args: args})
	}
	return value.Undefined(), value.Throw(value.String("TypeError: user function called without a VM frame"))
}

func (f *Function) Trace(visit func(value.Object)) {
	for _, c := range f.Externals {
		if ec, ok := c.(*ExternalCell); ok && ec.value.IsObject() {
			visit(ec.value.Object())
		}
	}
	if f.BoundThis != nil && f.BoundThis.IsObject() {
		visit(f.BoundThis.Object())
	}
	for _, a := range f.BoundArgs {
		if a.IsObject() {
			visit(a.Object())
		}
	}
	f.PlainObject.Trace(visit)
}

// ExternalCell is the runtime representation of a captured variable: a
// single mutable slot shared between the defining frame and every closure
// that captured it.
type ExternalCell struct{ value value.Value }

func NewExternalCell(initial value.Value) *ExternalCell { return &ExternalCell{value: initial} }
func (c *ExternalCell) Load() value.Value               { return c.value }
func (c *ExternalCell) Store(v value.Value)             { c.value = v }
