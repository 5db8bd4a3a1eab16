package bytecode

// FunctionKind classifies a compiled function's calling behaviour.
type FunctionKind byte

const (
	KindFunction FunctionKind = iota
	KindGenerator
	KindAsync
	KindArrow
	KindMethod
)

// ConstantKind tags a constant-pool entry's payload.
type ConstantKind byte

const (
	ConstNumber ConstantKind = iota
	ConstBoolean
	ConstString
	ConstIdentifier
	ConstUndefined
	ConstNull
	ConstFunction
	ConstRegex
)

// Constant is one entry of a function's constant pool: a deduplicated,
// per-function immutable operand table indexed by the Constant/ConstantW
// opcodes.
type Constant struct {
	Kind    ConstantKind
	Num     float64
	Str     string // String/Identifier payload
	Bool    bool
	Fn      *CompiledFunction
	Pattern string // Regex
	Flags   string // Regex
}

// ExternalDescriptor describes one captured-upvalue slot: the local it
// refers to in the immediately enclosing function, and whether that local
// is itself a capture to chain through.
type ExternalDescriptor struct {
	ID       int  // local index in the immediately enclosing function
	IsNested bool // true if that local is itself an External
}

// CompiledFunction is the immutable compiled artifact: bytecode, constant
// pool, capture descriptors and frame layout. It is produced by package
// compiler and never mutated after construction; function identity (for
// the JIT cache key) is the pointer to this struct.
type CompiledFunction struct {
	Buffer    []byte
	Constants []Constant
	Externals []ExternalDescriptor
	Locals    int
	Params    int
	RestLocal int // -1 if no rest parameter
	Kind      FunctionKind
	IsAsync   bool
	Name      string
}
