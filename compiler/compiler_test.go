package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wudi/dashvm/ast"
	"github.com/wudi/dashvm/bytecode"
)

func num(n float64) *ast.NumberLiteral   { return &ast.NumberLiteral{Value: n} }
func str(s string) *ast.StringLiteral    { return &ast.StringLiteral{Value: s} }
func ident(n string) *ast.Identifier     { return &ast.Identifier{Name: n} }
func exprStmt(e ast.Expression) ast.Statement {
	return &ast.ExpressionStatement{Expression: e}
}

func letDecl(name string, init ast.Expression) ast.Statement {
	return &ast.VariableDeclaration{
		Kind:         ast.Let,
		Declarations: []ast.VariableDeclarator{{Target: ident(name), Init: init}},
	}
}

func program(stmts ...ast.Statement) *ast.Program { return &ast.Program{Body: stmts} }

// opcodes walks the instruction stream, decoding fixed-width operands, and
// returns the opcode sequence. Programs under test avoid the
// variable-length opcodes, which the walker rejects.
func opcodes(t *testing.T, code []byte) []bytecode.Op {
	t.Helper()
	var out []bytecode.Op
	pc := 0
	for pc < len(code) {
		op := bytecode.Op(code[pc])
		out = append(out, op)
		width, fixed := bytecode.OperandWidth(op)
		require.True(t, fixed, "unexpected variable-length opcode %d", op)
		pc += 1 + width
	}
	return out
}

func countOp(ops []bytecode.Op, want bytecode.Op) int {
	n := 0
	for _, op := range ops {
		if op == want {
			n++
		}
	}
	return n
}

func TestCompileEmptyProgramHasReturn(t *testing.T) {
	cf, err := CompileProgram(program(), false)
	require.NoError(t, err)
	ops := opcodes(t, cf.Buffer)
	assert.Equal(t, 1, countOp(ops, bytecode.OpReturn))
}

func TestEveryFunctionEndsInReturn(t *testing.T) {
	fn := &ast.FunctionLiteral{
		Name: "f",
		Body: &ast.BlockStatement{Body: []ast.Statement{
			&ast.IfStatement{
				Test:       ident("cond"),
				Consequent: &ast.ReturnStatement{Argument: num(1)},
			},
		}},
	}
	cf, err := CompileProgram(program(&ast.FunctionDeclaration{Function: fn}), false)
	require.NoError(t, err)
	require.Len(t, cf.Constants, 1)
	inner := cf.Constants[0].Fn
	require.NotNil(t, inner)
	ops := opcodes(t, inner.Buffer)
	// The explicit return plus the implicit trailing one.
	assert.Equal(t, 2, countOp(ops, bytecode.OpReturn))
	assert.Equal(t, bytecode.OpReturn, ops[len(ops)-1])
}

func TestClosureCaptureMarksExtern(t *testing.T) {
	// function mk() { let x = 0; return () => x; }
	arrow := &ast.FunctionLiteral{IsArrow: true, ExprBody: ident("x")}
	mk := &ast.FunctionLiteral{
		Name: "mk",
		Body: &ast.BlockStatement{Body: []ast.Statement{
			letDecl("x", num(0)),
			&ast.ReturnStatement{Argument: arrow},
		}},
	}
	cf, err := CompileProgram(program(&ast.FunctionDeclaration{Function: mk}), false)
	require.NoError(t, err)

	mkFn := cf.Constants[0].Fn
	require.NotNil(t, mkFn)
	var arrowFn *bytecode.CompiledFunction
	for _, c := range mkFn.Constants {
		if c.Kind == bytecode.ConstFunction {
			arrowFn = c.Fn
		}
	}
	require.NotNil(t, arrowFn)
	// The captured variable appears exactly once in the externals list.
	require.Len(t, arrowFn.Externals, 1)
	assert.Equal(t, bytecode.ExternalDescriptor{ID: 0, IsNested: false}, arrowFn.Externals[0])
	assert.Equal(t, bytecode.KindArrow, arrowFn.Kind)

	ops := opcodes(t, arrowFn.Buffer)
	assert.Equal(t, 1, countOp(ops, bytecode.OpLdExternal))
}

func TestNestedCaptureSetsIsNested(t *testing.T) {
	// f() { let x; g() { x; h() { x } } }
	h := &ast.FunctionLiteral{Name: "h", Body: &ast.BlockStatement{Body: []ast.Statement{exprStmt(ident("x"))}}}
	g := &ast.FunctionLiteral{Name: "g", Body: &ast.BlockStatement{Body: []ast.Statement{
		exprStmt(ident("x")),
		&ast.FunctionDeclaration{Function: h},
	}}}
	f := &ast.FunctionLiteral{Name: "f", Body: &ast.BlockStatement{Body: []ast.Statement{
		letDecl("x", num(0)),
		&ast.FunctionDeclaration{Function: g},
	}}}
	cf, err := CompileProgram(program(&ast.FunctionDeclaration{Function: f}), false)
	require.NoError(t, err)

	fFn := cf.Constants[0].Fn
	var gFn *bytecode.CompiledFunction
	for _, c := range fFn.Constants {
		if c.Kind == bytecode.ConstFunction {
			gFn = c.Fn
		}
	}
	require.NotNil(t, gFn)
	var hFn *bytecode.CompiledFunction
	for _, c := range gFn.Constants {
		if c.Kind == bytecode.ConstFunction {
			hFn = c.Fn
		}
	}
	require.NotNil(t, hFn)

	require.Len(t, gFn.Externals, 1)
	assert.False(t, gFn.Externals[0].IsNested)
	require.Len(t, hFn.Externals, 1)
	assert.True(t, hFn.Externals[0].IsNested)
}

func TestJumpTargetsWithinBuffer(t *testing.T) {
	prog := program(
		letDecl("s", num(0)),
		&ast.ForStatement{
			Init:   &ast.VariableDeclaration{Kind: ast.Let, Declarations: []ast.VariableDeclarator{{Target: ident("i"), Init: num(0)}}},
			Test:   &ast.BinaryExpression{Operator: "<", Left: ident("i"), Right: num(10)},
			Update: &ast.UpdateExpression{Operator: "++", Argument: ident("i")},
			Body: exprStmt(&ast.AssignmentExpression{
				Operator: "+=", Target: ident("s"), Value: ident("i"),
			}),
		},
	)
	cf, err := CompileProgram(prog, false)
	require.NoError(t, err)

	pc := 0
	for pc < len(cf.Buffer) {
		op := bytecode.Op(cf.Buffer[pc])
		width, fixed := bytecode.OperandWidth(op)
		require.True(t, fixed)
		switch op {
		case bytecode.OpJmp, bytecode.OpJmpFalseP, bytecode.OpJmpTrueP,
			bytecode.OpJmpNullishP, bytecode.OpJmpUndefinedP,
			bytecode.OpJmpTrueNP, bytecode.OpJmpFalseNP, bytecode.OpJmpNullishNP:
			disp := int(int16(uint16(cf.Buffer[pc+1]) | uint16(cf.Buffer[pc+2])<<8))
			target := pc + 3 + disp
			assert.GreaterOrEqual(t, target, 0)
			assert.LessOrEqual(t, target, len(cf.Buffer))
		}
		pc += 1 + width
	}
}

func TestNumericSpecialization(t *testing.T) {
	// let i = 0; i < 10 uses the constant-specialized comparison; i + i
	// uses the register-register numeric opcode.
	prog := program(
		letDecl("i", num(0)),
		exprStmt(&ast.BinaryExpression{Operator: "<", Left: ident("i"), Right: num(10)}),
		exprStmt(&ast.BinaryExpression{Operator: "+", Left: ident("i"), Right: ident("i")}),
		exprStmt(&ast.BinaryExpression{Operator: "<", Left: ident("i"), Right: num(100000)}),
	)
	cf, err := CompileProgram(prog, false)
	require.NoError(t, err)
	ops := opcodes(t, cf.Buffer)
	assert.Equal(t, 1, countOp(ops, bytecode.OpLtNumLConst8))
	assert.Equal(t, 1, countOp(ops, bytecode.OpLtNumLConst32))
	assert.Equal(t, 1, countOp(ops, bytecode.OpAddNumLR))
	assert.Equal(t, 0, countOp(ops, bytecode.OpLt))
}

func TestGenericOpForUntypedOperands(t *testing.T) {
	prog := program(
		letDecl("s", str("a")),
		exprStmt(&ast.BinaryExpression{Operator: "+", Left: ident("s"), Right: num(1)}),
	)
	cf, err := CompileProgram(prog, false)
	require.NoError(t, err)
	ops := opcodes(t, cf.Buffer)
	assert.Equal(t, 1, countOp(ops, bytecode.OpAdd))
	assert.Equal(t, 0, countOp(ops, bytecode.OpAddNumLR))
}

func TestSpecializedIncrement(t *testing.T) {
	prog := program(
		letDecl("i", num(0)),
		exprStmt(&ast.UpdateExpression{Operator: "++", Argument: ident("i")}),
		exprStmt(&ast.UpdateExpression{Operator: "--", Prefix: true, Argument: ident("i")}),
	)
	cf, err := CompileProgram(prog, false)
	require.NoError(t, err)
	ops := opcodes(t, cf.Buffer)
	assert.Equal(t, 1, countOp(ops, bytecode.OpPostfixIncLocalNum))
	assert.Equal(t, 1, countOp(ops, bytecode.OpPrefixDecLocalNum))
}

func TestTryBeginEndPairing(t *testing.T) {
	prog := program(
		letDecl("r", num(0)),
		&ast.TryStatement{
			Block: &ast.BlockStatement{Body: []ast.Statement{
				&ast.ThrowStatement{Argument: num(1)},
			}},
			Handler: &ast.CatchClause{
				Param: ident("e"),
				Body:  &ast.BlockStatement{Body: []ast.Statement{exprStmt(ident("e"))}},
			},
		},
	)
	cf, err := CompileProgram(prog, false)
	require.NoError(t, err)
	ops := opcodes(t, cf.Buffer)
	// Exactly one TryEnd on the non-exception path for the one TryBegin.
	assert.Equal(t, 1, countOp(ops, bytecode.OpTryBegin))
	assert.Equal(t, 1, countOp(ops, bytecode.OpTryEnd))
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		prog *ast.Program
		kind ErrorKind
	}{
		{
			"duplicate let",
			program(letDecl("x", num(1)), letDecl("x", num(2))),
			ErrDuplicateDeclaration,
		},
		{
			"break outside loop",
			program(&ast.BreakStatement{}),
			ErrIllegalBreakContinue,
		},
		{
			"continue outside loop",
			program(&ast.ContinueStatement{}),
			ErrIllegalBreakContinue,
		},
		{
			"continue in bare switch",
			program(&ast.SwitchStatement{
				Discriminant: num(1),
				Cases: []ast.SwitchCase{{
					Test: num(1),
					Body: []ast.Statement{&ast.ContinueStatement{}},
				}},
			}),
			ErrIllegalBreakContinue,
		},
		{
			"yield outside generator",
			program(exprStmt(&ast.YieldExpression{Argument: num(1)})),
			ErrYieldOutsideGenerator,
		},
		{
			"await outside async",
			program(exprStmt(&ast.AwaitExpression{Argument: num(1)})),
			ErrAwaitOutsideAsync,
		},
		{
			"class extends rejected",
			program(&ast.ClassDeclaration{Class: &ast.ClassExpression{
				Name:  "A",
				Super: ident("B"),
			}}),
			ErrUnsupportedClass,
		},
		{
			"destructuring without initializer",
			program(&ast.VariableDeclaration{
				Kind: ast.Let,
				Declarations: []ast.VariableDeclarator{{
					Target: &ast.ArrayPattern{Elements: []ast.Expression{ident("a")}},
				}},
			}),
			ErrInvalidAssignment,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileProgram(tt.prog, false)
			require.Error(t, err)
			var cerr *CompileError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.kind, cerr.Kind)
		})
	}
}

func TestConstantPoolDeduplication(t *testing.T) {
	prog := program(
		exprStmt(num(42)),
		exprStmt(num(42)),
		exprStmt(str("x")),
		exprStmt(str("x")),
	)
	cf, err := CompileProgram(prog, false)
	require.NoError(t, err)
	assert.Len(t, cf.Constants, 2)
}

func TestLabelledBreak(t *testing.T) {
	// outer: while (true) { while (true) { break outer; } }
	inner := &ast.WhileStatement{Test: &ast.BooleanLiteral{Value: true}, Body: &ast.BlockStatement{Body: []ast.Statement{
		&ast.BreakStatement{Label: "outer"},
	}}}
	prog := program(&ast.LabeledStatement{Label: "outer", Body: &ast.WhileStatement{
		Test: &ast.BooleanLiteral{Value: true},
		Body: &ast.BlockStatement{Body: []ast.Statement{inner}},
	}})
	_, err := CompileProgram(prog, false)
	require.NoError(t, err)

	// An unknown label is rejected.
	bad := program(&ast.WhileStatement{Test: &ast.BooleanLiteral{Value: true}, Body: &ast.BlockStatement{Body: []ast.Statement{
		&ast.BreakStatement{Label: "missing"},
	}}})
	_, err = CompileProgram(bad, false)
	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ErrIllegalBreakContinue, cerr.Kind)
}

func TestImplicitReturnOfLastExpression(t *testing.T) {
	cf, err := CompileProgram(program(exprStmt(num(7))), true)
	require.NoError(t, err)
	ops := opcodes(t, cf.Buffer)
	// Constant, Return(value), then the unconditional implicit tail.
	assert.Equal(t, bytecode.OpConstant, ops[0])
	assert.Equal(t, bytecode.OpReturn, ops[1])
}

func TestIntrinsicCallSpecialization(t *testing.T) {
	call := &ast.CallExpression{
		Callee:    &ast.MemberExpression{Object: ident("Math"), Property: ident("sqrt")},
		Arguments: []ast.Expression{num(9)},
	}
	cf, err := CompileProgram(program(exprStmt(call)), false)
	require.NoError(t, err)
	ops := opcodes(t, cf.Buffer)
	assert.Equal(t, 1, countOp(ops, bytecode.OpCallIntrinsic))
	assert.Equal(t, 0, countOp(ops, bytecode.OpCall))

	// A shadowed Math local disables the specialization.
	shadowed := program(
		letDecl("Math", num(1)),
		exprStmt(call),
	)
	cf, err = CompileProgram(shadowed, false)
	require.NoError(t, err)
	ops = opcodes(t, cf.Buffer)
	assert.Equal(t, 0, countOp(ops, bytecode.OpCallIntrinsic))
	assert.Equal(t, 1, countOp(ops, bytecode.OpCall))
}
