package vm

import (
	"fmt"
	"io"
	"log"

	"github.com/wudi/dashvm/bytecode"
	"github.com/wudi/dashvm/heap"
	"github.com/wudi/dashvm/jit"
	"github.com/wudi/dashvm/value"
)

const maxFrames = 1024

// Options configures a Vm.
type Options struct {
	Jit        jit.Config
	DisableJit bool
	// DiagWriter backs the VM's own diagnostic logger, which no VM code
	// path writes to (JIT compile/poison events are logged by the frontend
	// itself through Jit.LogWriter). nil means io.Discard.
	DiagWriter io.Writer
}

// Vm is one engine instance: one frame stack, one operand stack, one
// heap, one JIT frontend. Execution is single-threaded and cooperative;
// nothing here is safe for concurrent use.
type Vm struct {
	heap   *heap.Heap
	stack  []value.Value
	sp     int
	frames []*Frame

	jit       *jit.Frontend
	baseScope *heap.Scope

	moduleLoader func(path string) (value.Value, error)

	diag  *log.Logger
	steps int
}

func New(opts Options) *Vm {
	h := heap.New()
	vm := &Vm{heap: h}
	vm.baseScope = h.OpenScope(nil)
	if !opts.DisableJit {
		vm.jit = jit.NewFrontend(opts.Jit, jit.NewInterpreterBackend())
	}
	diagWriter := opts.DiagWriter
	if diagWriter == nil {
		diagWriter = io.Discard
	}
	vm.diag = log.New(diagWriter, "vm: ", 0)
	return vm
}

func (vm *Vm) Heap() *heap.Heap { return vm.heap }

// Scope returns the VM's base rooting scope; callers open nested scopes
// off it.
func (vm *Vm) Scope() *heap.Scope { return vm.baseScope }

// SetGlobal registers a global binding; hosts use it to install native
// functions.
func (vm *Vm) SetGlobal(name string, v value.Value) {
	vm.heap.GlobalObject().SetHidden(name, v)
}

// Global reads a global binding, Undefined when absent.
func (vm *Vm) Global(name string) value.Value {
	v, _ := vm.heap.GlobalObject().Get(value.String(name))
	return v
}

// SetModuleLoader installs the host hook StaticImport/DynamicImport resolve
// through; the loader returns the module namespace value for a specifier.
func (vm *Vm) SetModuleLoader(loader func(path string) (value.Value, error)) {
	vm.moduleLoader = loader
}

// JitStats exposes the JIT frontend's internal counters for tests and
// diagnostics.
func (vm *Vm) JitStats() jit.Stats {
	if vm.jit == nil {
		return jit.Stats{}
	}
	return vm.jit.Stats()
}

// Execute runs a top-level compile result to completion. An uncaught
// JavaScript exception surfaces as *value.ThrownError; any other error is
// a fatal engine invariant violation.
func (vm *Vm) Execute(cf *bytecode.CompiledFunction) (result value.Value, err error) {
	defer vm.recoverInvariant(&err)
	fn := vm.heap.NewUserFunction(cf, nil)
	entry := len(vm.frames)
	if err := vm.pushUserFrame(fn, value.Undefined(), false, false, nil); err != nil {
		return value.Undefined(), err
	}
	val, oc, err := vm.run(entry)
	if err != nil {
		return value.Undefined(), err
	}
	if oc != outcomeReturn {
		return value.Undefined(), fmt.Errorf("vm: top-level frame suspended")
	}
	return val, nil
}

// ExecuteModule runs cf as a module top-level and returns its exports.
func (vm *Vm) ExecuteModule(cf *bytecode.CompiledFunction) (exports *heap.PlainObject, err error) {
	defer vm.recoverInvariant(&err)
	fn := vm.heap.NewUserFunction(cf, nil)
	entry := len(vm.frames)
	if err := vm.pushUserFrame(fn, value.Undefined(), false, false, nil); err != nil {
		return nil, err
	}
	frame := vm.frames[len(vm.frames)-1]
	frame.State = StateModule
	frame.Exports = vm.heap.NewPlainObject()
	if _, _, err := vm.run(entry); err != nil {
		return nil, err
	}
	return frame.Exports, nil
}

func (vm *Vm) recoverInvariant(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("vm: engine invariant violated: %v", r)
	}
}

// Invoke implements value.Invoker: call fn with this and args, running a
// nested dispatch when fn is a user function. Value conversions and
// built-ins use this to re-enter the VM.
func (vm *Vm) Invoke(fnV value.Value, this value.Value, args []value.Value) (value.Value, error) {
	fnV = fnV.Deref()
	if !fnV.IsObject() {
		return value.Undefined(), value.Throw(value.String("TypeError: " + value.ToStringOrEmpty(fnV) + " is not a function"))
	}
	entry := len(vm.frames)
	if err := vm.callValue(fnV, this, true, args, false); err != nil {
		return value.Undefined(), err
	}
	if len(vm.frames) > entry {
		val, oc, err := vm.run(entry)
		if err != nil {
			return value.Undefined(), err
		}
		if oc != outcomeReturn {
			return value.Undefined(), fmt.Errorf("vm: nested frame suspended outside generator resume")
		}
		return val, nil
	}
	return vm.pop(), nil
}

// --- operand stack ---

func (vm *Vm) push(v value.Value) {
	if vm.sp == len(vm.stack) {
		vm.stack = append(vm.stack, v)
		vm.sp++
		return
	}
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *Vm) pop() value.Value {
	vm.sp--
	return vm.stack[vm.sp]
}

func (vm *Vm) peek() value.Value { return vm.stack[vm.sp-1] }

func (vm *Vm) ensure(n int) {
	for len(vm.stack) < n {
		vm.stack = append(vm.stack, value.Undefined())
	}
}

func (vm *Vm) loadLocalSlot(f *Frame, id int) value.Value {
	return vm.stack[f.SP+id].Deref()
}

// storeLocalSlot writes through an External cell when the slot holds one,
// so promoted locals stay shared with every closure that captured them.
func (vm *Vm) storeLocalSlot(f *Frame, id int, v value.Value) {
	if cur := vm.stack[f.SP+id]; cur.IsExternal() {
		cur.Cell().Store(v)
		return
	}
	vm.stack[f.SP+id] = v
}

// --- GC safepoint ---

// maybeCollect runs the collector once the heap's allocation threshold is
// crossed. Collection only ever happens here, between opcodes, never in
// the middle of a dispatch step.
func (vm *Vm) maybeCollect() {
	vm.steps++
	if vm.steps&1023 != 0 || !vm.heap.ShouldCollect() {
		return
	}
	vm.collect()
}

func (vm *Vm) collect() {
	var roots []value.Object
	addValue := func(v value.Value) {
		if v.IsExternal() {
			v = v.Deref()
		}
		if v.IsObject() {
			roots = append(roots, v.Object())
		}
	}
	for i := 0; i < vm.sp; i++ {
		addValue(vm.stack[i])
	}
	for _, f := range vm.frames {
		roots = append(roots, f.Fn)
		addValue(f.This)
		if f.Exports != nil {
			roots = append(roots, f.Exports)
		}
		for _, v := range f.saved {
			addValue(v)
		}
	}
	// Open scopes (the base scope and any native-call scopes still live
	// under it) are rooted by the heap itself.
	vm.heap.Collect(roots)
}
