// Package value implements the tagged value representation shared by the
// compiler's constant pool and the virtual machine's operand stack.
package value

import (
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Kind tags the variant a Value currently holds.
type Kind byte

const (
	KindUndefined Kind = iota
	KindNull
	KindBoolean
	KindNumber
	KindString
	KindSymbol
	KindObject
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBoolean:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindSymbol:
		return "symbol"
	case KindObject:
		return "object"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Object is the interface every heap-resident value satisfies. Concrete
// kinds (plain object, array, function, boxed primitive, set, map,
// array-buffer, typed-array, promise, generator iterator) live in package
// heap, which imports this package rather than the reverse — value has no
// dependency on heap so the constant pool and conversion helpers stay free
// of GC concerns.
type Object interface {
	Get(key Value) (Value, bool)
	Set(key Value, v Value) error
	Delete(key Value) bool
	Prototype() Object
	SetPrototype(Object)
	OwnKeys() []Value
	TypeOf() string
	Apply(this Value, args []Value) (Value, error)
	AsAny() interface{}
	// ToPrimitive is the object's own primitive conversion: objects that
	// wrap a primitive (boxed Number/String/Boolean) or that define an
	// override return (value, true); anything else returns (Undefined,
	// false) and the caller falls through to toString/valueOf property
	// lookup via the supplied Invoker.
	ToPrimitive(hint string) (Value, bool)
}

// Cell is a single mutable slot, the runtime representation of a local
// that has been promoted into a closure-shared External.
type Cell interface {
	Load() Value
	Store(Value)
}

// Value is a tagged sum over the JavaScript primitive kinds plus heap and
// external-cell references. Only the fields relevant to Kind are
// meaningful; zero value is Undefined.
type Value struct {
	Kind Kind
	num  float64
	str  string
	obj  Object
	cell Cell
}

func Undefined() Value                { return Value{Kind: KindUndefined} }
func Null() Value                     { return Value{Kind: KindNull} }
func Boolean(b bool) Value            { return Value{Kind: KindBoolean, num: boolToFloat(b)} }
func Number(n float64) Value          { return Value{Kind: KindNumber, num: n} }
func String(s string) Value           { return Value{Kind: KindString, str: s} }
func FromObject(o Object) Value       { return Value{Kind: KindObject, obj: o} }
func FromExternal(c Cell) Value       { return Value{Kind: KindExternal, cell: c} }

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Symbol values carry a description plus a uuid identity, so two symbols
// with the same description are still distinct.
func Symbol(description string) Value {
	return Value{Kind: KindSymbol, str: description, obj: symbolBox{id: uuid.NewString()}}
}

// symbolBox lets a Symbol Value carry its uuid without widening Value. It
// satisfies Object only so it can ride in the obj field; every operation is
// inert and SymbolID type-asserts on it.
type symbolBox struct{ id string }

func (symbolBox) Get(Value) (Value, bool)         { return Undefined(), false }
func (symbolBox) Set(Value, Value) error          { return nil }
func (symbolBox) Delete(Value) bool               { return false }
func (symbolBox) Prototype() Object               { return nil }
func (symbolBox) SetPrototype(Object)             {}
func (symbolBox) OwnKeys() []Value                { return nil }
func (symbolBox) TypeOf() string                  { return "symbol" }
func (symbolBox) AsAny() interface{}              { return nil }
func (symbolBox) ToPrimitive(string) (Value, bool) { return Undefined(), false }
func (symbolBox) Apply(Value, []Value) (Value, error) {
	return Undefined(), Throw(String("TypeError: symbol is not a function"))
}

// SymbolID returns the unique identity of a symbol value, or "" if v is not
// a symbol.
func (v Value) SymbolID() string {
	if v.Kind != KindSymbol {
		return ""
	}
	if b, ok := v.obj.(symbolBox); ok {
		return b.id
	}
	return ""
}

func (v Value) IsUndefined() bool { return v.Kind == KindUndefined }
func (v Value) IsNull() bool      { return v.Kind == KindNull }
func (v Value) IsNullish() bool   { return v.Kind == KindNull || v.Kind == KindUndefined }
func (v Value) IsBoolean() bool   { return v.Kind == KindBoolean }
func (v Value) IsNumber() bool    { return v.Kind == KindNumber }
func (v Value) IsString() bool    { return v.Kind == KindString }
func (v Value) IsSymbol() bool    { return v.Kind == KindSymbol }
func (v Value) IsObject() bool    { return v.Kind == KindObject }
func (v Value) IsExternal() bool  { return v.Kind == KindExternal }

func (v Value) Bool() bool       { return v.num != 0 }
func (v Value) Float() float64   { return v.num }
func (v Value) Str() string      { return v.str }
func (v Value) Object() Object   { return v.obj }
func (v Value) Cell() Cell       { return v.cell }

// Deref transparently follows an External cell to the value it holds; used
// by LdExternal so callers never need to special-case the indirection.
func (v Value) Deref() Value {
	if v.Kind == KindExternal {
		return v.cell.Load()
	}
	return v
}

// ThrownError wraps a thrown Value so Go call chains can propagate it as an
// error without losing the original JavaScript value.
type ThrownError struct{ Value Value }

func (e *ThrownError) Error() string {
	return "uncaught exception: " + ToStringOrEmpty(e.Value)
}

func Throw(v Value) error { return &ThrownError{Value: v} }

// ToStringOrEmpty renders a best-effort string for diagnostics; it never
// invokes user code (unlike ToString), so it is safe to call while
// unwinding.
func ToStringOrEmpty(v Value) string {
	switch v.Kind {
	case KindString:
		return v.str
	case KindNumber:
		return formatNumber(v.num)
	case KindBoolean:
		if v.Bool() {
			return "true"
		}
		return "false"
	case KindNull:
		return "null"
	case KindUndefined:
		return "undefined"
	case KindSymbol:
		return "Symbol(" + v.str + ")"
	case KindObject:
		return "[object " + v.obj.TypeOf() + "]"
	default:
		return ""
	}
}

func formatNumber(n float64) string {
	if math.IsNaN(n) {
		return "NaN"
	}
	if math.IsInf(n, 1) {
		return "Infinity"
	}
	if math.IsInf(n, -1) {
		return "-Infinity"
	}
	if n == 0 {
		if math.Signbit(n) {
			return "0"
		}
		return "0"
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// Invoker is supplied by the VM so value conversions can call user-defined
// toString/valueOf/@@toPrimitive methods without value importing vm.
type Invoker interface {
	Invoke(fn Value, this Value, args []Value) (Value, error)
}

// ToBoolean applies the ECMAScript ToBoolean conversion.
func ToBoolean(v Value) bool {
	switch v.Kind {
	case KindBoolean:
		return v.Bool()
	case KindNumber:
		return !(math.IsNaN(v.num) || v.num == 0)
	case KindString:
		return v.str != ""
	case KindNull, KindUndefined:
		return false
	case KindObject, KindSymbol:
		return true
	default:
		return false
	}
}

// ToNumber applies the ECMAScript ToNumber conversion; objects convert
// through ToPrimitive with a number hint.
func ToNumber(v Value, inv Invoker) (float64, error) {
	switch v.Kind {
	case KindNumber:
		return v.num, nil
	case KindBoolean:
		return v.num, nil
	case KindNull:
		return 0, nil
	case KindUndefined:
		return math.NaN(), nil
	case KindString:
		return stringToNumber(v.str), nil
	case KindSymbol:
		return 0, Throw(String("TypeError: cannot convert a Symbol to a number"))
	case KindObject:
		prim, err := ToPrimitive(v, "number", inv)
		if err != nil {
			return 0, err
		}
		if prim.Kind == KindObject {
			return 0, Throw(String("TypeError: cannot convert object to primitive value"))
		}
		return ToNumber(prim, inv)
	default:
		return math.NaN(), nil
	}
}

func stringToNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// ToString applies the ECMAScript ToString conversion; symbols throw.
func ToString(v Value, inv Invoker) (string, error) {
	if v.Kind == KindSymbol {
		return "", Throw(String("TypeError: cannot convert a Symbol to a string"))
	}
	if v.Kind == KindObject {
		prim, err := ToPrimitive(v, "string", inv)
		if err != nil {
			return "", err
		}
		if prim.Kind == KindObject {
			return "", Throw(String("TypeError: cannot convert object to primitive value"))
		}
		return ToString(prim, inv)
	}
	return ToStringOrEmpty(v), nil
}

// ToPrimitive converts an object to a primitive by consulting the object's
// own override first, then its valueOf/toString methods in hint order.
func ToPrimitive(v Value, hint string, inv Invoker) (Value, error) {
	if v.Kind != KindObject {
		return v, nil
	}
	if prim, ok := v.obj.ToPrimitive(hint); ok {
		return prim, nil
	}
	order := []string{"valueOf", "toString"}
	if hint == "string" {
		order = []string{"toString", "valueOf"}
	}
	for _, name := range order {
		fn, ok := v.obj.Get(String(name))
		if !ok || fn.Kind != KindObject || inv == nil {
			continue
		}
		result, err := inv.Invoke(fn, v, nil)
		if err != nil {
			return Undefined(), err
		}
		if result.Kind != KindObject {
			return result, nil
		}
	}
	return Undefined(), Throw(String("TypeError: cannot convert object to primitive value"))
}

// ToInt32 applies the ECMAScript ToInt32 modular truncation.
func ToInt32(v Value, inv Invoker) (int32, error) {
	n, err := ToNumber(v, inv)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, nil
	}
	return int32(uint32(int64(math.Trunc(n)))), nil
}

// ToUint32 applies the ECMAScript ToUint32 modular truncation.
func ToUint32(v Value, inv Invoker) (uint32, error) {
	n, err := ToNumber(v, inv)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, nil
	}
	return uint32(int64(math.Trunc(n))), nil
}

// ToIntegerOrInfinity truncates toward zero, mapping NaN to 0 and passing
// infinities through.
func ToIntegerOrInfinity(v Value, inv Invoker) (float64, error) {
	n, err := ToNumber(v, inv)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(n) {
		return 0, nil
	}
	if math.IsInf(n, 0) {
		return n, nil
	}
	return math.Trunc(n), nil
}

const maxSafeLength = 1<<53 - 1

// ToLength coerces to an integer clamped to [0, 2^53-1].
func ToLength(v Value, inv Invoker) (int, error) {
	n, err := ToIntegerOrInfinity(v, inv)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, nil
	}
	if n > maxSafeLength {
		return maxSafeLength, nil
	}
	return int(n), nil
}

// LengthOfArrayLike reads the object's length property and coerces it with
// ToLength.
func LengthOfArrayLike(o Object, inv Invoker) (int, error) {
	lv, _ := o.Get(String("length"))
	return ToLength(lv, inv)
}

// StrictEquals implements `===`: tag equality first, then payload equality.
func StrictEquals(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindUndefined, KindNull:
		return true
	case KindBoolean, KindNumber:
		return a.num == b.num
	case KindString:
		return a.str == b.str
	case KindSymbol:
		return a.SymbolID() == b.SymbolID()
	case KindObject:
		return a.obj == b.obj
	case KindExternal:
		return a.cell == b.cell
	default:
		return false
	}
}

// AbstractEquals implements `==` via the ECMAScript coercion ladder.
func AbstractEquals(a, b Value, inv Invoker) (bool, error) {
	if a.Kind == b.Kind {
		return StrictEquals(a, b), nil
	}
	if a.IsNullish() && b.IsNullish() {
		return true, nil
	}
	if a.IsNullish() || b.IsNullish() {
		return false, nil
	}
	if a.Kind == KindNumber && b.Kind == KindString {
		bn, err := ToNumber(b, inv)
		if err != nil {
			return false, err
		}
		return a.num == bn, nil
	}
	if a.Kind == KindString && b.Kind == KindNumber {
		return AbstractEquals(b, a, inv)
	}
	if a.Kind == KindBoolean {
		an, err := ToNumber(a, inv)
		if err != nil {
			return false, err
		}
		return AbstractEquals(Number(an), b, inv)
	}
	if b.Kind == KindBoolean {
		return AbstractEquals(b, a, inv)
	}
	if (a.Kind == KindNumber || a.Kind == KindString) && b.Kind == KindObject {
		prim, err := ToPrimitive(b, "default", inv)
		if err != nil {
			return false, err
		}
		return AbstractEquals(a, prim, inv)
	}
	if a.Kind == KindObject && (b.Kind == KindNumber || b.Kind == KindString) {
		return AbstractEquals(b, a, inv)
	}
	return false, nil
}
