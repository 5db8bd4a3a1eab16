package value

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBoolean(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		want bool
	}{
		{"zero", Number(0), false},
		{"nan", Number(math.NaN()), false},
		{"negative", Number(-1), true},
		{"empty string", String(""), false},
		{"string", String("x"), true},
		{"null", Null(), false},
		{"undefined", Undefined(), false},
		{"true", Boolean(true), true},
		{"false", Boolean(false), false},
		{"symbol", Symbol("s"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToBoolean(tt.in))
		})
	}
}

func TestToNumber(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		want float64
	}{
		{"number", Number(3.5), 3.5},
		{"true", Boolean(true), 1},
		{"false", Boolean(false), 0},
		{"null", Null(), 0},
		{"numeric string", String("42"), 42},
		{"padded string", String("  42  "), 42},
		{"empty string", String(""), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := ToNumber(tt.in, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}

	t.Run("undefined is NaN", func(t *testing.T) {
		n, err := ToNumber(Undefined(), nil)
		require.NoError(t, err)
		assert.True(t, math.IsNaN(n))
	})
	t.Run("garbage string is NaN", func(t *testing.T) {
		n, err := ToNumber(String("12abc"), nil)
		require.NoError(t, err)
		assert.True(t, math.IsNaN(n))
	})
	t.Run("symbol throws", func(t *testing.T) {
		_, err := ToNumber(Symbol("s"), nil)
		var thrown *ThrownError
		require.ErrorAs(t, err, &thrown)
	})
}

func TestToStringNumberRoundTrip(t *testing.T) {
	// ToNumber(ToString(n)) == n for every finite non-NaN f64; FormatFloat
	// with -1 precision guarantees the round trip.
	for _, n := range []float64{0, 1, -1, 0.1, 1e21, -1e-7, 123456.789, math.MaxFloat64, math.SmallestNonzeroFloat64} {
		s, err := ToString(Number(n), nil)
		require.NoError(t, err)
		back, err := ToNumber(String(s), nil)
		require.NoError(t, err)
		assert.Equal(t, n, back, "round-trip of %v via %q", n, s)
	}
}

func TestToStringRendering(t *testing.T) {
	tests := []struct {
		in   Value
		want string
	}{
		{Number(math.NaN()), "NaN"},
		{Number(math.Inf(1)), "Infinity"},
		{Number(math.Inf(-1)), "-Infinity"},
		{Number(0), "0"},
		{Boolean(true), "true"},
		{Null(), "null"},
		{Undefined(), "undefined"},
		{String("hi"), "hi"},
	}
	for _, tt := range tests {
		s, err := ToString(tt.in, nil)
		require.NoError(t, err)
		assert.Equal(t, tt.want, s)
	}
}

func TestStrictEquals(t *testing.T) {
	assert.True(t, StrictEquals(Number(1), Number(1)))
	assert.False(t, StrictEquals(Number(1), String("1")))
	assert.False(t, StrictEquals(Number(math.NaN()), Number(math.NaN())))
	assert.True(t, StrictEquals(Null(), Null()))
	assert.True(t, StrictEquals(Undefined(), Undefined()))
	assert.False(t, StrictEquals(Null(), Undefined()))

	s := Symbol("x")
	assert.True(t, StrictEquals(s, s))
	assert.False(t, StrictEquals(Symbol("x"), Symbol("x")))
}

func TestAbstractEquals(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"number string", Number(1), String("1"), true},
		{"string number", String("2"), Number(2), true},
		{"bool number", Boolean(true), Number(1), true},
		{"null undefined", Null(), Undefined(), true},
		{"null zero", Null(), Number(0), false},
		{"mismatch", Number(1), String("2"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AbstractEquals(tt.a, tt.b, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToInt32(t *testing.T) {
	tests := []struct {
		in   float64
		want int32
	}{
		{0, 0},
		{1.9, 1},
		{-1.9, -1},
		{math.NaN(), 0},
		{math.Inf(1), 0},
		{float64(1 << 31), math.MinInt32},
		{float64(1<<32 + 5), 5},
	}
	for _, tt := range tests {
		got, err := ToInt32(Number(tt.in), nil)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "ToInt32(%v)", tt.in)
	}
}

func TestToLength(t *testing.T) {
	n, err := ToLength(Number(-5), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = ToLength(Number(3.7), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = ToLength(Number(math.Inf(1)), nil)
	require.NoError(t, err)
	assert.Equal(t, 1<<53-1, n)
}

func TestExternalDeref(t *testing.T) {
	cell := &fakeCell{v: Number(7)}
	ext := FromExternal(cell)
	assert.True(t, ext.IsExternal())
	assert.Equal(t, Number(7), ext.Deref())
	cell.Store(Number(8))
	assert.Equal(t, Number(8), ext.Deref())
	assert.Equal(t, Number(3), Number(3).Deref())
}

type fakeCell struct{ v Value }

func (c *fakeCell) Load() Value   { return c.v }
func (c *fakeCell) Store(v Value) { c.v = v }

func TestSymbolIdentity(t *testing.T) {
	a := Symbol("desc")
	b := Symbol("desc")
	require.NotEmpty(t, a.SymbolID())
	assert.NotEqual(t, a.SymbolID(), b.SymbolID())
	assert.Equal(t, "", Number(1).SymbolID())
}
