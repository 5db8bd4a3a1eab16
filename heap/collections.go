package heap

import "github.com/wudi/dashvm/value"

// BoxedPrimitive is the Number/String/Boolean wrapper object produced when
// a primitive is converted to an object.
type BoxedPrimitive struct {
	PlainObject
	Primitive value.Value
}

func (h *Heap) NewBoxedPrimitive(v value.Value) *BoxedPrimitive {
	b := &BoxedPrimitive{PlainObject: PlainObject{props: make(map[string]value.Value), class: "Boxed", proto: h.boxProto(v)}, Primitive: v}
	h.register(b)
	return b
}

func (b *BoxedPrimitive) ToPrimitive(string) (value.Value, bool) { return b.Primitive, true }
func (b *BoxedPrimitive) TypeOf() string                         { return "object" }

// boxProto picks the wrapper prototype matching the boxed primitive's kind.
func (h *Heap) boxProto(v value.Value) value.Object {
	switch v.Kind {
	case value.KindString:
		return h.StringProto
	case value.KindNumber:
		return h.NumberProto
	case value.KindBoolean:
		return h.BooleanProto
	default:
		return h.ObjectProto
	}
}

// SetObject backs the built-in `Set`.
type SetObject struct {
	PlainObject
	entries []value.Value
}

func (h *Heap) NewSet() *SetObject {
	s := &SetObject{PlainObject: PlainObject{props: make(map[string]value.Value), class: "Set"}}
	h.register(s)
	return s
}

func (s *SetObject) Add(v value.Value) {
	for _, e := range s.entries {
		if value.StrictEquals(e, v) {
			return
		}
	}
	s.entries = append(s.entries, v)
}

func (s *SetObject) Has(v value.Value) bool {
	for _, e := range s.entries {
		if value.StrictEquals(e, v) {
			return true
		}
	}
	return false
}

func (s *SetObject) Trace(visit func(value.Object)) {
	for _, e := range s.entries {
		if e.IsObject() {
			visit(e.Object())
		}
	}
	s.PlainObject.Trace(visit)
}

// Get answers the size pseudo-property dynamically; everything else falls
// through to the ordinary property path.
func (s *SetObject) Get(key value.Value) (value.Value, bool) {
	if key.IsString() && key.Str() == "size" {
		return value.Number(float64(len(s.entries))), true
	}
	return s.PlainObject.Get(key)
}

func (s *SetObject) Size() int       { return len(s.entries) }
func (s *SetObject) Values() []value.Value { return s.entries }
func (s *SetObject) TypeOf() string  { return "object" }

// MapObject backs the built-in `Map`.
type MapObject struct {
	PlainObject
	keys   []value.Value
	values []value.Value
}

func (h *Heap) NewMap() *MapObject {
	m := &MapObject{PlainObject: PlainObject{props: make(map[string]value.Value), class: "Map"}}
	h.register(m)
	return m
}

func (m *MapObject) indexOf(k value.Value) int {
	for i, existing := range m.keys {
		if value.StrictEquals(existing, k) {
			return i
		}
	}
	return -1
}

func (m *MapObject) MapSet(k, v value.Value) {
	if i := m.indexOf(k); i >= 0 {
		m.values[i] = v
		return
	}
	m.keys = append(m.keys, k)
	m.values = append(m.values, v)
}

func (m *MapObject) MapGet(k value.Value) (value.Value, bool) {
	if i := m.indexOf(k); i >= 0 {
		return m.values[i], true
	}
	return value.Undefined(), false
}

func (m *MapObject) MapDelete(k value.Value) bool {
	i := m.indexOf(k)
	if i < 0 {
		return false
	}
	m.keys = append(m.keys[:i], m.keys[i+1:]...)
	m.values = append(m.values[:i], m.values[i+1:]...)
	return true
}

// Entries materializes [key, value] pair arrays in insertion order, the
// shape a for-of over a Map iterates.
func (m *MapObject) Entries(h *Heap) []value.Value {
	out := make([]value.Value, len(m.keys))
	for i := range m.keys {
		out[i] = value.FromObject(h.NewArray([]value.Value{m.keys[i], m.values[i]}))
	}
	return out
}

func (m *MapObject) Get(key value.Value) (value.Value, bool) {
	if key.IsString() && key.Str() == "size" {
		return value.Number(float64(len(m.keys))), true
	}
	return m.PlainObject.Get(key)
}

func (m *MapObject) MapSize() int  { return len(m.keys) }
func (m *MapObject) TypeOf() string { return "object" }

func (m *MapObject) Trace(visit func(value.Object)) {
	for _, k := range m.keys {
		if k.IsObject() {
			visit(k.Object())
		}
	}
	for _, v := range m.values {
		if v.IsObject() {
			visit(v.Object())
		}
	}
	m.PlainObject.Trace(visit)
}

// ArrayBuffer is a fixed-length raw byte store.
type ArrayBuffer struct {
	PlainObject
	Data []byte
}

func (h *Heap) NewArrayBuffer(n int) *ArrayBuffer {
	b := &ArrayBuffer{PlainObject: PlainObject{props: make(map[string]value.Value), class: "ArrayBuffer"}, Data: make([]byte, n)}
	h.register(b)
	return b
}

func (b *ArrayBuffer) Get(key value.Value) (value.Value, bool) {
	if key.IsString() && key.Str() == "byteLength" {
		return value.Number(float64(len(b.Data))), true
	}
	return b.PlainObject.Get(key)
}

func (b *ArrayBuffer) TypeOf() string { return "object" }

// TypedArray is a uint8 view over an ArrayBuffer; indexed reads and writes
// go straight to the backing bytes.
type TypedArray struct {
	PlainObject
	Buffer *ArrayBuffer
}

func (h *Heap) NewTypedArray(buf *ArrayBuffer) *TypedArray {
	ta := &TypedArray{PlainObject: PlainObject{props: make(map[string]value.Value), class: "TypedArray"}, Buffer: buf}
	h.register(ta)
	return ta
}

func (t *TypedArray) Get(key value.Value) (value.Value, bool) {
	if key.IsString() {
		switch key.Str() {
		case "length":
			return value.Number(float64(len(t.Buffer.Data))), true
		case "buffer":
			return value.FromObject(t.Buffer), true
		}
	}
	if idx, ok := asArrayIndex(propKey(key)); ok {
		if idx < int64(len(t.Buffer.Data)) {
			return value.Number(float64(t.Buffer.Data[idx])), true
		}
		return value.Undefined(), false
	}
	return t.PlainObject.Get(key)
}

func (t *TypedArray) Set(key value.Value, v value.Value) error {
	if idx, ok := asArrayIndex(propKey(key)); ok && idx < int64(len(t.Buffer.Data)) {
		t.Buffer.Data[idx] = byte(int64(v.Float()))
		return nil
	}
	return t.PlainObject.Set(key, v)
}

func (t *TypedArray) Trace(visit func(value.Object)) {
	visit(t.Buffer)
	t.PlainObject.Trace(visit)
}

func (t *TypedArray) TypeOf() string { return "object" }

// PromiseState mirrors the three ECMAScript promise states.
type PromiseState byte

const (
	PromisePending PromiseState = iota
	PromiseFulfilled
	PromiseRejected
)

// Promise is the settled-or-pending result handle async functions return
// and Await consumes.
type Promise struct {
	PlainObject
	State  PromiseState
	Result value.Value
}

func (h *Heap) NewPromise() *Promise {
	p := &Promise{PlainObject: PlainObject{props: make(map[string]value.Value), class: "Promise"}}
	h.register(p)
	return p
}

func (p *Promise) Resolve(v value.Value) {
	if p.State == PromisePending {
		p.State = PromiseFulfilled
		p.Result = v
	}
}

func (p *Promise) Reject(v value.Value) {
	if p.State == PromisePending {
		p.State = PromiseRejected
		p.Result = v
	}
}

func (p *Promise) TypeOf() string { return "object" }

func (p *Promise) Trace(visit func(value.Object)) {
	if p.Result.IsObject() {
		visit(p.Result.Object())
	}
	p.PlainObject.Trace(visit)
}

// GeneratorIterator is the heap-resident handle a generator function
// returns; the suspended Frame it wraps lives in package vm (vm imports
// heap, not the reverse), referenced here only as an opaque interface{}
// so package heap stays free of vm's dependency.
type GeneratorIterator struct {
	PlainObject
	Suspended interface{}
	Done      bool
	// TraceSuspended is installed by the VM so the collector can reach the
	// suspended frame's operand-stack slice and locals, which package heap
	// cannot see into.
	TraceSuspended func(visit func(value.Object))
}

func (h *Heap) NewGeneratorIterator(suspended interface{}) *GeneratorIterator {
	g := &GeneratorIterator{PlainObject: PlainObject{props: make(map[string]value.Value), class: "Generator"}, Suspended: suspended}
	h.register(g)
	return g
}

func (g *GeneratorIterator) Trace(visit func(value.Object)) {
	if g.TraceSuspended != nil {
		g.TraceSuspended(visit)
	}
	g.PlainObject.Trace(visit)
}

func (g *GeneratorIterator) TypeOf() string { return "object" }
