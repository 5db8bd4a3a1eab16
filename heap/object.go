package heap

import (
	"sort"
	"strconv"

	"github.com/wudi/dashvm/value"
)

// PlainObject is the base value.Object kind: an ordered string/symbol-keyed
// property map plus a prototype link. Array, Function and the rest embed
// it and override behaviour selectively.
type PlainObject struct {
	props    map[string]value.Value
	keyOrder []string // insertion order, drives for-in enumeration
	proto    value.Object
	class    string
}

func (h *Heap) NewPlainObject() *PlainObject {
	o := &PlainObject{props: make(map[string]value.Value), class: "Object", proto: h.ObjectProto}
	h.register(o)
	return o
}

func (o *PlainObject) Get(key value.Value) (value.Value, bool) {
	k := propKey(key)
	if v, ok := o.props[k]; ok {
		return v, true
	}
	if o.proto != nil {
		return o.proto.Get(key)
	}
	return value.Undefined(), false
}

func (o *PlainObject) Set(key value.Value, v value.Value) error {
	k := propKey(key)
	if _, exists := o.props[k]; !exists {
		o.keyOrder = append(o.keyOrder, k)
	}
	o.props[k] = v
	return nil
}

// SetHidden stores a non-enumerable property: readable through Get but
// excluded from OwnKeys, so built-in methods installed on prototypes never
// surface in for-in enumeration.
func (o *PlainObject) SetHidden(key string, v value.Value) {
	o.props[key] = v
}

func (o *PlainObject) Delete(key value.Value) bool {
	k := propKey(key)
	if _, ok := o.props[k]; !ok {
		return false
	}
	delete(o.props, k)
	for i, name := range o.keyOrder {
		if name == k {
			o.keyOrder = append(o.keyOrder[:i], o.keyOrder[i+1:]...)
			break
		}
	}
	return true
}

func (o *PlainObject) Apply(this value.Value, args []value.Value) (value.Value, error) {
	return value.Undefined(), value.Throw(value.String("TypeError: object is not a function"))
}

func (o *PlainObject) Prototype() value.Object      { return o.proto }
func (o *PlainObject) SetPrototype(p value.Object)   { o.proto = p }
func (o *PlainObject) TypeOf() string                { return "object" }
func (o *PlainObject) AsAny() interface{}            { return o }
func (o *PlainObject) ToPrimitive(string) (value.Value, bool) { return value.Undefined(), false }

// OwnKeys returns keys in enumeration order: integer-indexed keys
// ascending, then string keys in insertion order; inherited keys are left
// to the caller via Prototype().
func (o *PlainObject) OwnKeys() []value.Value {
	var intKeys []int64
	var strKeys []string
	for _, k := range o.keyOrder {
		if n, ok := asArrayIndex(k); ok {
			intKeys = append(intKeys, n)
		} else {
			strKeys = append(strKeys, k)
		}
	}
	sort.Slice(intKeys, func(i, j int) bool { return intKeys[i] < intKeys[j] })
	out := make([]value.Value, 0, len(intKeys)+len(strKeys))
	for _, n := range intKeys {
		out = append(out, value.String(strconv.FormatInt(n, 10)))
	}
	for _, s := range strKeys {
		out = append(out, value.String(s))
	}
	return out
}

func (o *PlainObject) Trace(visit func(value.Object)) {
	for _, v := range o.props {
		if v.IsObject() {
			visit(v.Object())
		}
	}
}

func propKey(key value.Value) string {
	if key.IsString() {
		return key.Str()
	}
	if key.IsSymbol() {
		return "@@symbol:" + key.SymbolID()
	}
	return value.ToStringOrEmpty(key)
}

func asArrayIndex(k string) (int64, bool) {
	if k == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(k, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	if strconv.FormatInt(n, 10) != k {
		return 0, false
	}
	return n, true
}

// Array is a dense PlainObject specialization with an explicit element
// slice: an index write past the end extends the slice, filling the gap
// with undefined, and named properties live in the embedded PlainObject's
// map (`.length` excluded — it is computed).
type Array struct {
	PlainObject
	Elements []value.Value
}

func (h *Heap) NewArray(elems []value.Value) *Array {
	a := &Array{PlainObject: PlainObject{props: make(map[string]value.Value), class: "Array", proto: h.ArrayProto}, Elements: elems}
	h.register(a)
	return a
}

func (a *Array) Get(key value.Value) (value.Value, bool) {
	if key.IsString() && key.Str() == "length" {
		return value.Number(float64(len(a.Elements))), true
	}
	if idx, ok := asArrayIndex(propKey(key)); ok && idx < int64(len(a.Elements)) {
		return a.Elements[idx], true
	}
	return a.PlainObject.Get(key)
}

func (a *Array) Set(key value.Value, v value.Value) error {
	if key.IsString() && key.Str() == "length" {
		n := int(v.Float())
		if n < len(a.Elements) {
			a.Elements = a.Elements[:n]
		} else {
			for len(a.Elements) < n {
				a.Elements = append(a.Elements, value.Undefined())
			}
		}
		return nil
	}
	if idx, ok := asArrayIndex(propKey(key)); ok {
		for int64(len(a.Elements)) <= idx {
			a.Elements = append(a.Elements, value.Undefined())
		}
		a.Elements[idx] = v
		return nil
	}
	return a.PlainObject.Set(key, v)
}

func (a *Array) OwnKeys() []value.Value {
	out := make([]value.Value, 0, len(a.Elements))
	for i := range a.Elements {
		out = append(out, value.String(strconv.Itoa(i)))
	}
	return append(out, a.PlainObject.OwnKeys()...)
}

func (a *Array) Trace(visit func(value.Object)) {
	for _, v := range a.Elements {
		if v.IsObject() {
			visit(v.Object())
		}
	}
	a.PlainObject.Trace(visit)
}

func (a *Array) TypeOf() string { return "array" }
