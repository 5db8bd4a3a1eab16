// Package compiler lowers an ast.Program into a bytecode.CompiledFunction:
// instruction stream, constant pool, externals table and locals count. It
// is a single-pass visitor over the AST emitting stack-machine code with
// inline 16-bit PC-relative jump patching; for-of/for-in and classes
// desugar at this level so the interpreter only ever sees plain loops and
// property assignments.
package compiler

import (
	"github.com/wudi/dashvm/ast"
	"github.com/wudi/dashvm/bytecode"
	"github.com/wudi/dashvm/scope"
)

const (
	maxLocals     = 1 << 16
	maxConstants  = 1 << 16
	maxLiteralLen = 1 << 16
	maxParams     = 1 << 8
	maxSwitchCase = 1 << 16
)

// breakableKind distinguishes a loop from a switch on the breakables
// stack, since continue may only target loops.
type breakableKind byte

const (
	breakLoop breakableKind = iota
	breakSwitch
)

type breakable struct {
	kind  breakableKind
	id    int
	label string // "" unless reached via a LabeledStatement
}

// funcCompiler compiles one function body (top-level script counts as one).
// It links to its lexically enclosing funcCompiler so identifier resolution
// can walk outward and promote captured locals.
type funcCompiler struct {
	parent *funcCompiler

	sc *scope.FunctionScope
	ib *bytecode.InstructionBuilder

	constants  []bytecode.Constant
	constIndex map[constKey]int

	breakables []breakable
	labelled   map[string]int // named label -> breakables index, for labelled break/continue

	nextLocalID  int
	nextGlobalID int

	kind      bytecode.FunctionKind
	isAsync   bool
	isCtorFor *ast.ClassExpression // set while compiling a desugared class constructor

	tryDepth uint16

	name      string
	params    int
	restLocal int
}

type constKey struct {
	kind bytecode.ConstantKind
	num  float64
	str  string
	b    bool
}

func newFuncCompiler(parent *funcCompiler, sc *scope.FunctionScope) *funcCompiler {
	return &funcCompiler{
		parent:     parent,
		sc:         sc,
		ib:         bytecode.NewInstructionBuilder(),
		constIndex: make(map[constKey]int),
		labelled:   make(map[string]int),
		restLocal:  -1,
	}
}

func (fc *funcCompiler) newLocalID() int  { fc.nextLocalID++; return fc.nextLocalID }
func (fc *funcCompiler) newGlobalID() int { fc.nextGlobalID++; return fc.nextGlobalID }

// addConstant interns a constant, except Function constants which are
// always appended fresh (each compiled closure is distinct).
func (fc *funcCompiler) addConstant(c bytecode.Constant) (int, error) {
	if c.Kind != bytecode.ConstFunction && c.Kind != bytecode.ConstRegex {
		key := constKey{kind: c.Kind, num: c.Num, str: c.Str, b: c.Bool}
		if idx, ok := fc.constIndex[key]; ok {
			return idx, nil
		}
		if len(fc.constants) >= maxConstants {
			return 0, errf(ErrLimitExceeded, "constant pool exceeds %d entries", maxConstants)
		}
		idx := len(fc.constants)
		fc.constants = append(fc.constants, c)
		fc.constIndex[key] = idx
		return idx, nil
	}
	if len(fc.constants) >= maxConstants {
		return 0, errf(ErrLimitExceeded, "constant pool exceeds %d entries", maxConstants)
	}
	idx := len(fc.constants)
	fc.constants = append(fc.constants, c)
	return idx, nil
}

func (fc *funcCompiler) addNumberConstant(n float64) (int, error) {
	return fc.addConstant(bytecode.Constant{Kind: bytecode.ConstNumber, Num: n})
}

func (fc *funcCompiler) addStringConstant(s string) (int, error) {
	return fc.addConstant(bytecode.Constant{Kind: bytecode.ConstString, Str: s})
}

func (fc *funcCompiler) addIdentConstant(s string) (int, error) {
	return fc.addConstant(bytecode.Constant{Kind: bytecode.ConstIdentifier, Str: s})
}

// addLocal wraps scope.FunctionScope.AddLocal, translating its error (a
// duplicate-declaration string) into a tagged CompileError and enforcing
// the locals-count limit.
func (fc *funcCompiler) addLocal(name string, kind scope.Kind) (int, error) {
	if len(fc.sc.Locals) >= maxLocals {
		return 0, errf(ErrLimitExceeded, "function declares more than %d locals", maxLocals)
	}
	id, err := fc.sc.AddLocal(name, kind)
	if err != nil {
		return 0, errf(ErrDuplicateDeclaration, "%s", err.Error())
	}
	return id, nil
}

// checkJumps rejects a function whose jumps are not all resolved: a label
// that was jumped to but never placed would leave a displacement pointing
// at offset zero of the emission site.
func (fc *funcCompiler) checkJumps() error {
	if unresolved := fc.ib.Jumps.Unresolved(); len(unresolved) > 0 {
		return errf(ErrUnsupported, "internal: unresolved jump labels %v", unresolved)
	}
	return nil
}

func (fc *funcCompiler) finish() *bytecode.CompiledFunction {
	return &bytecode.CompiledFunction{
		Buffer:    fc.ib.Bytes(),
		Constants: fc.constants,
		Externals: externalDescriptors(fc.sc.Externals),
		Locals:    len(fc.sc.Locals),
		Params:    fc.params,
		RestLocal: fc.restLocal,
		Kind:      fc.kind,
		IsAsync:   fc.isAsync,
		Name:      fc.name,
	}
}

func externalDescriptors(ext []scope.External) []bytecode.ExternalDescriptor {
	out := make([]bytecode.ExternalDescriptor, len(ext))
	for i, e := range ext {
		out[i] = bytecode.ExternalDescriptor{ID: e.ID, IsNested: e.IsNested}
	}
	return out
}

// CompileProgram is the compiler's public entry point. When implicitReturn
// is true and the program's final statement is an expression statement,
// the program returns that expression's value rather than undefined
// (matching a REPL's "last expression" convention); any other final
// statement leaves the result undefined.
func CompileProgram(prog *ast.Program, implicitReturn bool) (*bytecode.CompiledFunction, error) {
	fc := newFuncCompiler(nil, scope.New())
	hoistVarDecls(fc, prog.Body)
	if err := compileStatementsImplicitReturn(fc, prog.Body, implicitReturn); err != nil {
		return nil, err
	}
	emitImplicitReturn(fc)
	if err := fc.checkJumps(); err != nil {
		return nil, err
	}
	return fc.finish(), nil
}

// emitImplicitReturn appends a final `return undefined`. Any path that
// already returned never reaches this tail, so it is dead code there and a
// real terminator everywhere else, guaranteeing every control-flow path
// through the function ends in a Return.
func emitImplicitReturn(fc *funcCompiler) {
	fc.ib.BuildSimple(bytecode.OpUndefined)
	fc.ib.BuildReturn(0)
}
