package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wudi/dashvm/bytecode"
	"github.com/wudi/dashvm/value"
)

func TestPlainObjectProperties(t *testing.T) {
	h := New()
	o := h.NewPlainObject()

	require.NoError(t, o.Set(value.String("a"), value.Number(1)))
	v, ok := o.Get(value.String("a"))
	require.True(t, ok)
	assert.Equal(t, value.Number(1), v)

	_, ok = o.Get(value.String("missing"))
	assert.False(t, ok)

	assert.True(t, o.Delete(value.String("a")))
	assert.False(t, o.Delete(value.String("a")))
}

func TestPrototypeChainLookup(t *testing.T) {
	h := New()
	proto := h.NewPlainObject()
	proto.Set(value.String("shared"), value.Number(7))
	o := h.NewPlainObject()
	o.SetPrototype(proto)

	v, ok := o.Get(value.String("shared"))
	require.True(t, ok)
	assert.Equal(t, value.Number(7), v)
}

func TestOwnKeysOrder(t *testing.T) {
	// Integer-indexed keys ascending, then string keys in insertion order.
	h := New()
	o := h.NewPlainObject()
	o.Set(value.String("b"), value.Number(1))
	o.Set(value.String("2"), value.Number(2))
	o.Set(value.String("a"), value.Number(3))
	o.Set(value.String("0"), value.Number(4))

	keys := o.OwnKeys()
	got := make([]string, len(keys))
	for i, k := range keys {
		got[i] = k.Str()
	}
	assert.Equal(t, []string{"0", "2", "b", "a"}, got)
}

func TestHiddenPropsExcludedFromOwnKeys(t *testing.T) {
	h := New()
	o := h.NewPlainObject()
	o.SetHidden("method", value.Number(1))
	o.Set(value.String("data"), value.Number(2))

	assert.Len(t, o.OwnKeys(), 1)
	v, ok := o.Get(value.String("method"))
	require.True(t, ok)
	assert.Equal(t, value.Number(1), v)
}

func TestArrayElements(t *testing.T) {
	h := New()
	a := h.NewArray([]value.Value{value.Number(1), value.Number(2)})

	v, ok := a.Get(value.String("length"))
	require.True(t, ok)
	assert.Equal(t, value.Number(2), v)

	v, ok = a.Get(value.String("1"))
	require.True(t, ok)
	assert.Equal(t, value.Number(2), v)

	require.NoError(t, a.Set(value.String("4"), value.Number(9)))
	assert.Len(t, a.Elements, 5)
	assert.Equal(t, value.Undefined(), a.Elements[2])

	require.NoError(t, a.Set(value.String("length"), value.Number(1)))
	assert.Len(t, a.Elements, 1)
}

func TestArrayInheritsFromArrayProto(t *testing.T) {
	h := New()
	h.ArrayProto.SetHidden("marker", value.Number(1))
	a := h.NewArray(nil)
	v, ok := a.Get(value.String("marker"))
	require.True(t, ok)
	assert.Equal(t, value.Number(1), v)
}

func TestCollectSweepsUnreachable(t *testing.T) {
	h := New()
	base := h.Live()

	kept := h.NewPlainObject()
	h.NewPlainObject() // unreachable
	h.NewPlainObject() // unreachable
	require.Equal(t, base+3, h.Live())

	h.Collect([]value.Object{kept})
	assert.Equal(t, base+1, h.Live())
}

func TestCollectTracesReferences(t *testing.T) {
	h := New()
	outer := h.NewPlainObject()
	inner := h.NewPlainObject()
	outer.Set(value.String("inner"), value.FromObject(inner))
	base := h.Live()

	h.Collect([]value.Object{outer})
	// inner survives through outer's property.
	assert.Equal(t, base, h.Live())
}

func TestScopeRooting(t *testing.T) {
	h := New()
	sc := h.OpenScope(nil)
	o := h.NewPlainObject()
	sc.Root(o)

	h.Collect(sc.Roots())
	v, ok := o.Get(value.String("x"))
	_ = v
	assert.False(t, ok) // o has no property x; reading it still works after the collection

	before := h.Live()
	sc.Close()
	h.Collect(nil)
	assert.Less(t, h.Live(), before)
}

func TestOpenChildScopeRootsSurviveCollection(t *testing.T) {
	// A scope opened as a child of another is unreachable through its
	// parent (parents hold no child pointers), so the collector must find
	// it through the heap's open-scope registry.
	h := New()
	parent := h.OpenScope(nil)
	child := h.OpenScope(parent)
	o := h.NewPlainObject()
	child.Root(o)

	before := h.Live()
	h.Collect(nil)
	assert.Equal(t, before, h.Live())

	child.Close()
	h.Collect(nil)
	assert.Less(t, h.Live(), before)
	parent.Close()
}

func TestScopeFreeListReuse(t *testing.T) {
	h := New()
	a := h.OpenScope(nil)
	a.Close()
	b := h.OpenScope(nil)
	// The released node is reused rather than reallocated.
	assert.Same(t, a, b)
	assert.Empty(t, b.Roots())
}

func TestNestedScopeRoots(t *testing.T) {
	h := New()
	parent := h.OpenScope(nil)
	child := h.OpenScope(parent)

	po := h.NewPlainObject()
	co := h.NewPlainObject()
	parent.Root(po)
	child.Root(co)

	roots := child.Roots()
	assert.Contains(t, roots, value.Object(po))
	assert.Contains(t, roots, value.Object(co))
}

func TestExternalCell(t *testing.T) {
	cell := NewExternalCell(value.Number(1))
	assert.Equal(t, value.Number(1), cell.Load())
	cell.Store(value.Number(2))
	assert.Equal(t, value.Number(2), cell.Load())
}

func TestUserFunctionGetsPrototype(t *testing.T) {
	h := New()
	fn := h.NewUserFunction(&bytecode.CompiledFunction{Name: "f", RestLocal: -1}, nil)
	protoV, ok := fn.Get(value.String("prototype"))
	require.True(t, ok)
	require.True(t, protoV.IsObject())
	ctor, ok := protoV.Object().Get(value.String("constructor"))
	require.True(t, ok)
	assert.Equal(t, value.Object(fn), ctor.Object())
}

func TestBoundFunction(t *testing.T) {
	h := New()
	target := h.NewNativeFunction("add", func(ctx *CallContext) (value.Value, error) {
		sum := ctx.This.Float()
		for _, a := range ctx.Args {
			sum += a.Float()
		}
		return value.Number(sum), nil
	})
	bound := h.NewBoundFunction(target, value.Number(100), []value.Value{value.Number(10)})
	out, err := bound.Apply(value.Undefined(), []value.Value{value.Number(1)})
	require.NoError(t, err)
	assert.Equal(t, value.Number(111), out)
	assert.Equal(t, "bound add", bound.Name)
}

func TestForInIteratorOrderAndDedup(t *testing.T) {
	h := New()
	proto := h.NewPlainObject()
	proto.Set(value.String("inherited"), value.Number(1))
	proto.Set(value.String("own"), value.Number(2))

	o := h.NewPlainObject()
	o.SetPrototype(proto)
	o.Set(value.String("own"), value.Number(3))
	o.Set(value.String("1"), value.Number(4))

	it := h.NewForInIterator(o)
	var keys []string
	for {
		nextV, ok := it.Get(value.String("next"))
		require.True(t, ok)
		step, err := nextV.Object().Apply(value.Undefined(), nil)
		require.NoError(t, err)
		done, _ := step.Object().Get(value.String("done"))
		if done.Bool() {
			break
		}
		k, _ := step.Object().Get(value.String("value"))
		keys = append(keys, k.Str())
	}
	// Integer keys first, own string keys next, inherited last; the
	// shadowed "own" key appears once.
	assert.Equal(t, []string{"1", "own", "inherited"}, keys)
}

func TestSetAndMapObjects(t *testing.T) {
	h := New()
	s := h.NewSet()
	s.Add(value.Number(1))
	s.Add(value.Number(1))
	s.Add(value.String("1"))
	assert.Equal(t, 2, s.Size())
	assert.True(t, s.Has(value.Number(1)))

	sizeV, ok := s.Get(value.String("size"))
	require.True(t, ok)
	assert.Equal(t, value.Number(2), sizeV)

	m := h.NewMap()
	m.MapSet(value.String("k"), value.Number(1))
	m.MapSet(value.String("k"), value.Number(2))
	v, ok := m.MapGet(value.String("k"))
	require.True(t, ok)
	assert.Equal(t, value.Number(2), v)
	assert.Equal(t, 1, m.MapSize())
	assert.True(t, m.MapDelete(value.String("k")))
	assert.Equal(t, 0, m.MapSize())
}

func TestPromiseSettlesOnce(t *testing.T) {
	h := New()
	p := h.NewPromise()
	assert.Equal(t, PromisePending, p.State)
	p.Resolve(value.Number(1))
	p.Reject(value.Number(2))
	assert.Equal(t, PromiseFulfilled, p.State)
	assert.Equal(t, value.Number(1), p.Result)
}

func TestStringInterning(t *testing.T) {
	h := New()
	a := h.InternString("hello")
	b := h.InternString("hello")
	assert.Equal(t, a, b)
}
