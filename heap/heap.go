// Package heap implements the managed, GC-traced object graph: the
// concrete value.Object kinds (plain object, array, function, boxed
// primitive, set, map, array-buffer, typed-array, promise, generator
// iterator), a non-moving mark-and-sweep collector, and the scoped
// rooting discipline native code uses to keep objects alive across
// allocations.
package heap

import (
	"container/list"
	"sync"

	"github.com/wudi/dashvm/value"
)

// Tracer is implemented by every heap object so the collector can walk the
// reference graph; Trace calls the visitor on each owned handle.
type Tracer interface {
	Trace(visit func(value.Object))
}

// Heap owns every allocated object and runs the tracing collector. The
// collector is non-moving: handles stay valid across collections, which is
// what lets compiled trace code hold raw references to operand-stack
// slots.
type Heap struct {
	mu        sync.Mutex
	allocated map[value.Object]struct{}

	scopeFreeList *list.List // of *Scope, released nodes awaiting reuse

	// openScopes tracks every Scope between OpenScope and Close. Nested
	// scopes hold no pointer to their children, so the collector cannot
	// find an open child through its parent; registering each open scope
	// here keeps objects rooted in any of them out of the sweep.
	openScopes map[*Scope]struct{}

	globalObject *PlainObject
	internedStr  map[string]value.Value

	// Shared prototype objects, populated with methods by package builtins.
	ObjectProto   *PlainObject
	ArrayProto    *PlainObject
	FunctionProto *PlainObject
	StringProto   *PlainObject
	NumberProto   *PlainObject
	BooleanProto  *PlainObject

	allocSinceGC int
	gcThreshold  int
}

func New() *Heap {
	h := &Heap{
		allocated:     make(map[value.Object]struct{}),
		scopeFreeList: list.New(),
		openScopes:    make(map[*Scope]struct{}),
		internedStr:   make(map[string]value.Value),
		gcThreshold:   4096,
	}
	h.ObjectProto = &PlainObject{props: make(map[string]value.Value), class: "Object"}
	h.register(h.ObjectProto)
	h.ArrayProto = h.NewPlainObject()
	h.FunctionProto = h.NewPlainObject()
	h.StringProto = h.NewPlainObject()
	h.NumberProto = h.NewPlainObject()
	h.BooleanProto = h.NewPlainObject()
	h.globalObject = h.NewPlainObject()
	return h
}

// GlobalObject returns the single global object rooted for the lifetime of
// the heap.
func (h *Heap) GlobalObject() *PlainObject { return h.globalObject }

// register tracks a freshly allocated object. Collection is never triggered
// here: the interpreter, not the allocator, decides when a safe point has
// been reached.
func (h *Heap) register(o value.Object) {
	h.mu.Lock()
	h.allocated[o] = struct{}{}
	h.allocSinceGC++
	h.mu.Unlock()
}

// ShouldCollect reports whether the allocation-count threshold has been
// crossed, letting the interpreter decide at a safe point whether to call
// Collect.
func (h *Heap) ShouldCollect() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocSinceGC >= h.gcThreshold
}

// AllocSinceGC reports allocations since the last Collect.
func (h *Heap) AllocSinceGC() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocSinceGC
}

// Live reports the number of objects currently considered allocated.
func (h *Heap) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.allocated)
}

// Collect runs one mark-and-sweep pass. The mark set starts from the
// global object, the shared prototypes, interned strings, every open
// scope's rooted vector, and the caller-supplied extra roots (the VM
// passes its live frames and operand-stack slice). Only ever called from
// the interpreter's safepoints between opcodes, never concurrently with
// dispatch.
func (h *Heap) Collect(extraRoots []value.Object) {
	h.mu.Lock()
	defer h.mu.Unlock()

	marked := make(map[value.Object]struct{}, len(h.allocated))
	var mark func(o value.Object)
	mark = func(o value.Object) {
		if o == nil {
			return
		}
		if _, ok := marked[o]; ok {
			return
		}
		marked[o] = struct{}{}
		if t, ok := o.(Tracer); ok {
			t.Trace(mark)
		}
		if proto := o.Prototype(); proto != nil {
			mark(proto)
		}
	}

	mark(h.globalObject)
	for _, proto := range []*PlainObject{h.ObjectProto, h.ArrayProto, h.FunctionProto, h.StringProto, h.NumberProto, h.BooleanProto} {
		mark(proto)
	}
	for _, v := range h.internedStr {
		if v.IsObject() {
			mark(v.Object())
		}
	}
	for s := range h.openScopes {
		for _, o := range s.rooted {
			mark(o)
		}
	}
	for _, root := range extraRoots {
		mark(root)
	}

	for o := range h.allocated {
		if _, live := marked[o]; !live {
			delete(h.allocated, o)
		}
	}
	h.allocSinceGC = 0
}

// InternString returns a shared Value for s, allocating it only once; the
// interned table is itself a collection root.
func (h *Heap) InternString(s string) value.Value {
	h.mu.Lock()
	defer h.mu.Unlock()
	if v, ok := h.internedStr[s]; ok {
		return v
	}
	v := value.String(s)
	h.internedStr[s] = v
	return v
}
