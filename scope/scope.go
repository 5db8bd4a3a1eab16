// Package scope implements the compile-time scope manager: per-function
// local tables, block nesting, and upvalue promotion across nested
// function scopes. An identifier that resolves into an enclosing function
// marks the defining local extern and records a capture descriptor in the
// referencing function, so the runtime can materialize a shared cell when
// the closure is created.
package scope

import "fmt"

// Kind classifies how a local was declared.
type Kind byte

const (
	KindVar Kind = iota
	KindLet
	KindConst
	KindUnnameable // compiler-synthesized locals (for-of iter/step, etc.)
)

// InferredType is the scope manager's lightweight static type, used by the
// compiler to select numeric-specialized opcodes and seed the JIT's type
// inference.
type InferredType byte

const (
	TypeUnknown InferredType = iota
	TypeNumber
	TypeBoolean
	TypeString
)

// Local is one entry in a function's local table.
type Local struct {
	Name         string
	Kind         Kind
	IsExtern     bool
	InferredType InferredType
}

// block is one lexical block within a function.
type block struct {
	locals map[string]int // name -> index into FunctionScope.Locals
	parent *block
}

// External describes one captured variable: the slot it lives in within
// the immediately enclosing function, and whether that slot is itself a
// capture to chain through.
type External struct {
	ID       int
	IsNested bool
}

// FunctionScope tracks one function's locals and its externals list, and
// links to the lexically enclosing function for upward resolution.
type FunctionScope struct {
	Locals    []Local
	Externals []External
	parent    *FunctionScope
	cur       *block
}

// New creates the top-level (module/script) function scope.
func New() *FunctionScope {
	fs := &FunctionScope{}
	fs.cur = &block{locals: make(map[string]int)}
	return fs
}

// Enter creates a nested function scope whose lexical parent is fs — used
// when the compiler starts visiting a nested function body.
func (fs *FunctionScope) Enter() *FunctionScope {
	child := &FunctionScope{parent: fs}
	child.cur = &block{locals: make(map[string]int)}
	return child
}

// EnterBlock pushes a new lexical block within the current function.
func (fs *FunctionScope) EnterBlock() {
	fs.cur = &block{locals: make(map[string]int), parent: fs.cur}
}

// ExitBlock pops the current lexical block.
func (fs *FunctionScope) ExitBlock() {
	fs.cur = fs.cur.parent
}

// AddLocal declares a new local in the current block. Duplicate Let/Const
// in the same block is an error; var tolerates redeclaration.
func (fs *FunctionScope) AddLocal(name string, kind Kind) (int, error) {
	if kind != KindVar && kind != KindUnnameable {
		if _, exists := fs.cur.locals[name]; exists {
			return 0, fmt.Errorf("identifier %q has already been declared", name)
		}
	}
	id := len(fs.Locals)
	fs.Locals = append(fs.Locals, Local{Name: name, Kind: kind})
	fs.cur.locals[name] = id
	return id, nil
}

// AddScopeLocal declares a local in the current block, bypassing
// duplicate-declaration checks; HoistDeclarations uses it for var bindings.
func (fs *FunctionScope) AddScopeLocal(name string, kind Kind) int {
	id := len(fs.Locals)
	fs.Locals = append(fs.Locals, Local{Name: name, Kind: kind})
	fs.cur.locals[name] = id
	return id
}

// SetInferredType records the compile-time type inferred for a local,
// consumed by the compiler's numeric opcode specialization.
func (fs *FunctionScope) SetInferredType(id int, t InferredType) {
	fs.Locals[id].InferredType = t
}

// FindLocal resolves name within the current function only (no upward
// walk); ok is false if not found in this function.
func (fs *FunctionScope) FindLocal(name string) (int, bool) {
	for b := fs.cur; b != nil; b = b.parent {
		if id, ok := b.locals[name]; ok {
			return id, true
		}
	}
	return 0, false
}

// Resolution describes how an identifier resolved.
type Resolution struct {
	IsLocal    bool
	LocalID    int
	IsExternal bool
	ExternalID int // index into fs.Externals, valid when IsExternal
	Found      bool
}

// Resolve walks the current function's scope first, then the enclosing
// function chain. A local found in an enclosing function is marked extern
// there, and an External descriptor is recorded in fs's externals list;
// if the enclosing local was itself a capture, the descriptor's IsNested
// bit is set so the runtime follows the external->external chain.
func (fs *FunctionScope) Resolve(name string) Resolution {
	if id, ok := fs.FindLocal(name); ok {
		return Resolution{IsLocal: true, LocalID: id, Found: true}
	}
	if fs.parent == nil {
		return Resolution{Found: false}
	}
	outer := fs.parent.Resolve(name)
	if !outer.Found {
		return Resolution{Found: false}
	}
	var desc External
	if outer.IsLocal {
		fs.parent.Locals[outer.LocalID].IsExtern = true
		desc = External{ID: outer.LocalID, IsNested: false}
	} else {
		desc = External{ID: outer.ExternalID, IsNested: true}
	}
	// Dedup: reuse an existing matching External rather than recording the
	// same capture twice for repeated references to the same outer local.
	for i, e := range fs.Externals {
		if e == desc {
			return Resolution{IsExternal: true, ExternalID: i, Found: true}
		}
	}
	fs.Externals = append(fs.Externals, desc)
	return Resolution{IsExternal: true, ExternalID: len(fs.Externals) - 1, Found: true}
}

// HoistDeclarations declares `var` bindings ahead of compiling the
// function body, at function scope rather than block scope. Callers
// collect var names via an AST walk and pass them here before compiling
// statements.
func (fs *FunctionScope) HoistDeclarations(names []string) {
	for _, n := range names {
		if _, ok := fs.cur.locals[n]; ok {
			continue
		}
		fs.AddScopeLocal(n, KindVar)
	}
}
