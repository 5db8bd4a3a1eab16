package heap

import "github.com/wudi/dashvm/value"

// NewArrayIterator builds the iterator object the SymbolIterator opcode
// produces for an array-like operand. The returned object exposes a single
// `next` native method so the compiler's generic `iter.next()` call
// sequence (an ordinary property get + Call) drives it — no dedicated
// opcode is needed at the VM layer beyond SymbolIterator itself producing
// this object.
func (h *Heap) NewArrayIterator(elems []value.Value) *PlainObject {
	it := h.NewPlainObject()
	idx := 0
	next := h.NewNativeFunction("next", func(_ *CallContext) (value.Value, error) {
		step := h.NewPlainObject()
		if idx >= len(elems) {
			step.Set(value.String("done"), value.Boolean(true))
			step.Set(value.String("value"), value.Undefined())
			return value.FromObject(step), nil
		}
		step.Set(value.String("done"), value.Boolean(false))
		step.Set(value.String("value"), elems[idx])
		idx++
		return value.FromObject(step), nil
	})
	it.SetHidden("next", value.FromObject(next))
	return it
}

// NewStringIterator iterates a string by Unicode code point.
func (h *Heap) NewStringIterator(s string) *PlainObject {
	runes := []rune(s)
	elems := make([]value.Value, len(runes))
	for i, r := range runes {
		elems[i] = value.String(string(r))
	}
	return h.NewArrayIterator(elems)
}

// NewForInIterator builds the key iterator `for (x in obj)` desugars to,
// walking own keys then the prototype chain, de-duplicating shadowed
// names.
func (h *Heap) NewForInIterator(obj value.Object) *PlainObject {
	seen := make(map[string]struct{})
	var keys []value.Value
	for cur := obj; cur != nil; cur = cur.Prototype() {
		for _, k := range cur.OwnKeys() {
			ks := k.Str()
			if _, ok := seen[ks]; ok {
				continue
			}
			seen[ks] = struct{}{}
			keys = append(keys, k)
		}
	}
	return h.NewArrayIterator(keys)
}
