package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wudi/dashvm/ast"
	"github.com/wudi/dashvm/compiler"
	"github.com/wudi/dashvm/heap"
	"github.com/wudi/dashvm/value"
)

func num(n float64) *ast.NumberLiteral { return &ast.NumberLiteral{Value: n} }
func str(s string) *ast.StringLiteral  { return &ast.StringLiteral{Value: s} }
func ident(n string) *ast.Identifier   { return &ast.Identifier{Name: n} }

func exprStmt(e ast.Expression) ast.Statement {
	return &ast.ExpressionStatement{Expression: e}
}

func decl(kind ast.VariableKind, name string, init ast.Expression) ast.Statement {
	return &ast.VariableDeclaration{
		Kind:         kind,
		Declarations: []ast.VariableDeclarator{{Target: ident(name), Init: init}},
	}
}

func letDecl(name string, init ast.Expression) ast.Statement { return decl(ast.Let, name, init) }

func assign(target ast.Expression, v ast.Expression) ast.Expression {
	return &ast.AssignmentExpression{Operator: "=", Target: target, Value: v}
}

func binExpr(op string, l, r ast.Expression) ast.Expression {
	return &ast.BinaryExpression{Operator: op, Left: l, Right: r}
}

func call(callee ast.Expression, args ...ast.Expression) ast.Expression {
	return &ast.CallExpression{Callee: callee, Arguments: args}
}

func member(obj ast.Expression, name string) ast.Expression {
	return &ast.MemberExpression{Object: obj, Property: ident(name)}
}

func index(obj, idx ast.Expression) ast.Expression {
	return &ast.MemberExpression{Object: obj, Property: idx, Computed: true}
}

func block(stmts ...ast.Statement) *ast.BlockStatement { return &ast.BlockStatement{Body: stmts} }

func fnDecl(name string, body *ast.BlockStatement, params ...string) ast.Statement {
	return &ast.FunctionDeclaration{Function: fnLit(name, body, params...)}
}

func fnLit(name string, body *ast.BlockStatement, params ...string) *ast.FunctionLiteral {
	lit := &ast.FunctionLiteral{Name: name, Body: body}
	for _, p := range params {
		lit.Params = append(lit.Params, ast.Param{Pattern: ident(p)})
	}
	return lit
}

func arrow(body ast.Expression, params ...string) *ast.FunctionLiteral {
	lit := &ast.FunctionLiteral{IsArrow: true, ExprBody: body}
	for _, p := range params {
		lit.Params = append(lit.Params, ast.Param{Pattern: ident(p)})
	}
	return lit
}

func ret(e ast.Expression) ast.Statement { return &ast.ReturnStatement{Argument: e} }

// runProgram compiles stmts with implicit return and executes them on a
// fresh VM with the built-in surface installed by the test-local shim.
func runProgram(t *testing.T, stmts ...ast.Statement) value.Value {
	t.Helper()
	v, err := tryRunProgram(t, stmts...)
	require.NoError(t, err)
	return v
}

func tryRunProgram(t *testing.T, stmts ...ast.Statement) (value.Value, error) {
	t.Helper()
	cf, err := compiler.CompileProgram(&ast.Program{Body: stmts}, true)
	require.NoError(t, err)
	machine := New(Options{})
	installTestGlobals(machine)
	return machine.Execute(cf)
}

// installTestGlobals registers the handful of natives these tests need
// without importing package builtins (which depends on vm).
func installTestGlobals(machine *Vm) {
	h := machine.Heap()

	math := h.NewPlainObject()
	math.SetHidden("abs", value.FromObject(h.NewNativeFunction("abs", func(ctx *heap.CallContext) (value.Value, error) {
		n, err := value.ToNumber(ctx.Arg(0), ctx.Invoker)
		if err != nil {
			return value.Undefined(), err
		}
		if n < 0 {
			n = -n
		}
		return value.Number(n), nil
	})))
	machine.SetGlobal("Math", value.FromObject(math))

	h.ArrayProto.SetHidden("reduce", value.FromObject(h.NewNativeFunction("reduce", func(ctx *heap.CallContext) (value.Value, error) {
		arr := ctx.This.Deref().Object().(*heap.Array)
		cb := ctx.Arg(0)
		acc := ctx.Arg(1)
		for i, el := range arr.Elements {
			var err error
			acc, err = ctx.Invoker.Invoke(cb, value.Undefined(), []value.Value{acc, el, value.Number(float64(i)), ctx.This})
			if err != nil {
				return value.Undefined(), err
			}
		}
		return acc, nil
	})))
}

func requireNumber(t *testing.T, v value.Value, want float64) {
	t.Helper()
	require.True(t, v.IsNumber(), "expected number, got %s (%s)", v.Kind, value.ToStringOrEmpty(v))
	assert.Equal(t, want, v.Float())
}

// let s = 0; for (let i = 0; i < 10; i++) s += i; s  →  45.
func TestForLoopAccumulates(t *testing.T) {
	out := runProgram(t,
		letDecl("s", num(0)),
		&ast.ForStatement{
			Init:   letDecl("i", num(0)),
			Test:   binExpr("<", ident("i"), num(10)),
			Update: &ast.UpdateExpression{Operator: "++", Argument: ident("i")},
			Body:   exprStmt(&ast.AssignmentExpression{Operator: "+=", Target: ident("s"), Value: ident("i")}),
		},
		exprStmt(ident("s")),
	)
	requireNumber(t, out, 45)
}

// A closure shares its captured local across invocations.
func TestClosureSharesCapturedLocal(t *testing.T) {
	// function mk() { let x = 0; return () => ++x; }
	// let f = mk(); f(); f(); f()  →  3
	mk := fnDecl("mk", block(
		letDecl("x", num(0)),
		ret(arrow(&ast.UpdateExpression{Operator: "++", Prefix: true, Argument: ident("x")})),
	))
	out := runProgram(t,
		mk,
		letDecl("f", call(ident("mk"))),
		exprStmt(call(ident("f"))),
		exprStmt(call(ident("f"))),
		exprStmt(call(ident("f"))),
	)
	requireNumber(t, out, 3)
}

// try/catch binding and try-stack unwinding.
func TestThrowCatchBinding(t *testing.T) {
	// let r = 0; try { throw { code: 42 }; } catch (e) { r = e.code; } r
	thrown := &ast.ObjectLiteral{Properties: []ast.ObjectProperty{
		{Key: ident("code"), Value: num(42), Kind: "init"},
	}}
	out := runProgram(t,
		letDecl("r", num(0)),
		&ast.TryStatement{
			Block: block(&ast.ThrowStatement{Argument: thrown}),
			Handler: &ast.CatchClause{
				Param: ident("e"),
				Body:  block(exprStmt(assign(ident("r"), member(ident("e"), "code")))),
			},
		},
		exprStmt(ident("r")),
	)
	requireNumber(t, out, 42)
}

// [1,2,3,4].reduce((a,b)=>a+b, 0)  →  10.
func TestArrayReduce(t *testing.T) {
	arr := &ast.ArrayLiteral{Elements: []ast.Expression{num(1), num(2), num(3), num(4)}}
	out := runProgram(t,
		exprStmt(call(member(arr, "reduce"), arrow(binExpr("+", ident("a"), ident("b")), "a", "b"), num(0))),
	)
	requireNumber(t, out, 10)
}

// Generator suspension and resumption.
func TestGeneratorYields(t *testing.T) {
	// function* g(){ yield 1; yield 2; }
	// let it = g(); it.next().value + it.next().value  →  3
	g := &ast.FunctionDeclaration{Function: &ast.FunctionLiteral{
		Name:        "g",
		IsGenerator: true,
		Body: block(
			exprStmt(&ast.YieldExpression{Argument: num(1)}),
			exprStmt(&ast.YieldExpression{Argument: num(2)}),
		),
	}}
	out := runProgram(t,
		g,
		letDecl("it", call(ident("g"))),
		exprStmt(binExpr("+",
			member(call(member(ident("it"), "next")), "value"),
			member(call(member(ident("it"), "next")), "value"),
		)),
	)
	requireNumber(t, out, 3)
}

func TestGeneratorCompletion(t *testing.T) {
	g := &ast.FunctionDeclaration{Function: &ast.FunctionLiteral{
		Name:        "g",
		IsGenerator: true,
		Body: block(
			exprStmt(&ast.YieldExpression{Argument: num(1)}),
			ret(num(9)),
		),
	}}
	out := runProgram(t,
		g,
		letDecl("it", call(ident("g"))),
		letDecl("a", call(member(ident("it"), "next"))),
		letDecl("b", call(member(ident("it"), "next"))),
		letDecl("c", call(member(ident("it"), "next"))),
		exprStmt(&ast.ArrayLiteral{Elements: []ast.Expression{
			member(ident("a"), "done"), member(ident("b"), "value"),
			member(ident("b"), "done"), member(ident("c"), "done"),
		}}),
	)
	arr := out.Object().(*heap.Array)
	assert.Equal(t, value.Boolean(false), arr.Elements[0])
	assert.Equal(t, value.Number(9), arr.Elements[1])
	assert.Equal(t, value.Boolean(true), arr.Elements[2])
	assert.Equal(t, value.Boolean(true), arr.Elements[3])
}

// The hot loop is JIT-compiled exactly once and the final induction value
// is observable through a closure created afterwards.
func TestHotLoopCompilesOnce(t *testing.T) {
	// function run() { let i = 0; for (i = 0; i < 100000; i++) {} return () => i; }
	// run()()  →  100000
	run := fnDecl("run", block(
		letDecl("i", num(0)),
		&ast.ForStatement{
			Init:   assign(ident("i"), num(0)),
			Test:   binExpr("<", ident("i"), num(100000)),
			Update: &ast.UpdateExpression{Operator: "++", Argument: ident("i")},
			Body:   block(),
		},
		ret(arrow(ident("i"))),
	))
	cf, err := compiler.CompileProgram(&ast.Program{Body: []ast.Statement{
		run,
		exprStmt(call(call(ident("run")))),
	}}, true)
	require.NoError(t, err)

	machine := New(Options{})
	out, err := machine.Execute(cf)
	require.NoError(t, err)
	requireNumber(t, out, 100000)

	stats := machine.JitStats()
	assert.Equal(t, 1, stats.TracesCompiled, "hot header compiled exactly once")
	assert.Zero(t, stats.PoisonedIPs)
	assert.Greater(t, stats.Dispatches, 0)
}

func TestHotLoopResultMatchesInterpreter(t *testing.T) {
	// function sum() { let s = 0; for (let i = 0; i < 2000; i++) s += i; return s; }
	body := block(
		letDecl("s", num(0)),
		&ast.ForStatement{
			Init:   letDecl("i", num(0)),
			Test:   binExpr("<", ident("i"), num(2000)),
			Update: &ast.UpdateExpression{Operator: "++", Argument: ident("i")},
			Body:   exprStmt(&ast.AssignmentExpression{Operator: "+=", Target: ident("s"), Value: ident("i")}),
		},
		ret(ident("s")),
	)
	prog := &ast.Program{Body: []ast.Statement{
		fnDecl("sum", body),
		exprStmt(call(ident("sum"))),
	}}
	cf, err := compiler.CompileProgram(prog, true)
	require.NoError(t, err)

	jitted := New(Options{})
	withJit, err := jitted.Execute(cf)
	require.NoError(t, err)

	plain := New(Options{DisableJit: true})
	withoutJit, err := plain.Execute(cf)
	require.NoError(t, err)

	requireNumber(t, withJit, 1999*2000/2)
	assert.Equal(t, withoutJit, withJit)
	assert.Equal(t, 1, jitted.JitStats().TracesCompiled)
	assert.Zero(t, plain.JitStats().TracesCompiled)
}

func TestUncaughtThrowSurfacesValue(t *testing.T) {
	_, err := tryRunProgram(t, &ast.ThrowStatement{Argument: str("boom")})
	var thrown *value.ThrownError
	require.ErrorAs(t, err, &thrown)
	assert.Equal(t, "boom", thrown.Value.Str())
}

func TestNestedTryRethrow(t *testing.T) {
	// let log = ""; try { try { throw "inner"; } catch (e) { log = log + "a"; throw "outer"; } } catch (e2) { log = log + e2; } log
	out := runProgram(t,
		letDecl("log", str("")),
		&ast.TryStatement{
			Block: block(&ast.TryStatement{
				Block: block(&ast.ThrowStatement{Argument: str("inner")}),
				Handler: &ast.CatchClause{Param: ident("e"), Body: block(
					exprStmt(assign(ident("log"), binExpr("+", ident("log"), str("a")))),
					&ast.ThrowStatement{Argument: str("outer")},
				)},
			}),
			Handler: &ast.CatchClause{Param: ident("e2"), Body: block(
				exprStmt(assign(ident("log"), binExpr("+", ident("log"), ident("e2")))),
			)},
		},
		exprStmt(ident("log")),
	)
	assert.Equal(t, "aouter", out.Str())
}

func TestThrowAcrossFrames(t *testing.T) {
	// function f() { throw 7; } let r = 0; try { f(); } catch (e) { r = e; } r
	out := runProgram(t,
		fnDecl("f", block(&ast.ThrowStatement{Argument: num(7)})),
		letDecl("r", num(0)),
		&ast.TryStatement{
			Block: block(exprStmt(call(ident("f")))),
			Handler: &ast.CatchClause{Param: ident("e"), Body: block(
				exprStmt(assign(ident("r"), ident("e"))),
			)},
		},
		exprStmt(ident("r")),
	)
	requireNumber(t, out, 7)
}

func TestSwitchDispatchAndFallthrough(t *testing.T) {
	// switch (2) { case 1: r += "a"; case 2: r += "b"; case 3: r += "c"; break; default: r += "d"; } r
	addTo := func(s string) ast.Statement {
		return exprStmt(assign(ident("r"), binExpr("+", ident("r"), str(s))))
	}
	out := runProgram(t,
		letDecl("r", str("")),
		&ast.SwitchStatement{
			Discriminant: num(2),
			Cases: []ast.SwitchCase{
				{Test: num(1), Body: []ast.Statement{addTo("a")}},
				{Test: num(2), Body: []ast.Statement{addTo("b")}},
				{Test: num(3), Body: []ast.Statement{addTo("c"), &ast.BreakStatement{}}},
				{Test: nil, Body: []ast.Statement{addTo("d")}},
			},
		},
		exprStmt(ident("r")),
	)
	assert.Equal(t, "bc", out.Str())
}

func TestSwitchDefault(t *testing.T) {
	out := runProgram(t,
		letDecl("r", str("none")),
		&ast.SwitchStatement{
			Discriminant: num(9),
			Cases: []ast.SwitchCase{
				{Test: num(1), Body: []ast.Statement{exprStmt(assign(ident("r"), str("one")))}},
				{Test: nil, Body: []ast.Statement{exprStmt(assign(ident("r"), str("dflt")))}},
			},
		},
		exprStmt(ident("r")),
	)
	assert.Equal(t, "dflt", out.Str())
}

func TestForOfDesugar(t *testing.T) {
	// let s = 0; for (let x of [1,2,3]) s += x; s
	out := runProgram(t,
		letDecl("s", num(0)),
		&ast.ForOfStatement{
			Declares: true,
			Kind:     ast.Let,
			Target:   ident("x"),
			Iterable: &ast.ArrayLiteral{Elements: []ast.Expression{num(1), num(2), num(3)}},
			Body:     exprStmt(&ast.AssignmentExpression{Operator: "+=", Target: ident("s"), Value: ident("x")}),
		},
		exprStmt(ident("s")),
	)
	requireNumber(t, out, 6)
}

func TestForInEnumeratesKeys(t *testing.T) {
	// let keys = ""; let o = {b: 1, a: 2}; for (let k in o) keys = keys + k; keys
	obj := &ast.ObjectLiteral{Properties: []ast.ObjectProperty{
		{Key: ident("b"), Value: num(1), Kind: "init"},
		{Key: ident("a"), Value: num(2), Kind: "init"},
	}}
	out := runProgram(t,
		letDecl("keys", str("")),
		letDecl("o", obj),
		&ast.ForInStatement{
			Declares: true,
			Kind:     ast.Let,
			Target:   ident("k"),
			Object:   ident("o"),
			Body:     exprStmt(assign(ident("keys"), binExpr("+", ident("keys"), ident("k")))),
		},
		exprStmt(ident("keys")),
	)
	// Insertion order for non-integer keys.
	assert.Equal(t, "ba", out.Str())
}

func TestBreakAndContinue(t *testing.T) {
	// let s = 0; for (let i = 0; i < 10; i++) { if (i === 3) continue; if (i === 6) break; s += i; } s
	out := runProgram(t,
		letDecl("s", num(0)),
		&ast.ForStatement{
			Init:   letDecl("i", num(0)),
			Test:   binExpr("<", ident("i"), num(10)),
			Update: &ast.UpdateExpression{Operator: "++", Argument: ident("i")},
			Body: block(
				&ast.IfStatement{Test: binExpr("===", ident("i"), num(3)), Consequent: &ast.ContinueStatement{}},
				&ast.IfStatement{Test: binExpr("===", ident("i"), num(6)), Consequent: &ast.BreakStatement{}},
				exprStmt(&ast.AssignmentExpression{Operator: "+=", Target: ident("s"), Value: ident("i")}),
			),
		},
		exprStmt(ident("s")),
	)
	// 0+1+2+4+5 = 12
	requireNumber(t, out, 12)
}

func TestWhileAndDoWhile(t *testing.T) {
	out := runProgram(t,
		letDecl("n", num(0)),
		&ast.WhileStatement{
			Test: binExpr("<", ident("n"), num(3)),
			Body: exprStmt(&ast.UpdateExpression{Operator: "++", Argument: ident("n")}),
		},
		&ast.DoWhileStatement{
			Body: exprStmt(&ast.UpdateExpression{Operator: "++", Argument: ident("n")}),
			Test: &ast.BooleanLiteral{Value: false},
		},
		exprStmt(ident("n")),
	)
	requireNumber(t, out, 4)
}

func TestDestructuring(t *testing.T) {
	// let {a, b} = {a: 1, b: 2}; let [x, y] = [10, 20]; a + b + x + y
	objInit := &ast.ObjectLiteral{Properties: []ast.ObjectProperty{
		{Key: ident("a"), Value: num(1), Kind: "init"},
		{Key: ident("b"), Value: num(2), Kind: "init"},
	}}
	out := runProgram(t,
		&ast.VariableDeclaration{Kind: ast.Let, Declarations: []ast.VariableDeclarator{{
			Target: &ast.ObjectPattern{Properties: []ast.ObjectProperty{
				{Key: ident("a"), Value: ident("a")},
				{Key: ident("b"), Value: ident("b")},
			}},
			Init: objInit,
		}}},
		&ast.VariableDeclaration{Kind: ast.Let, Declarations: []ast.VariableDeclarator{{
			Target: &ast.ArrayPattern{Elements: []ast.Expression{ident("x"), ident("y")}},
			Init:   &ast.ArrayLiteral{Elements: []ast.Expression{num(10), num(20)}},
		}}},
		exprStmt(binExpr("+", binExpr("+", binExpr("+", ident("a"), ident("b")), ident("x")), ident("y"))),
	)
	requireNumber(t, out, 33)
}

func TestClassDesugar(t *testing.T) {
	// class Point { constructor(x, y) { this.x = x; this.y = y; }
	//               dist() { return Math.abs(this.x - this.y); }
	//               static origin() { return 0; } }
	// let p = new Point(3, 10); p.dist() + Point.origin()
	ctor := &ast.FunctionLiteral{Body: block(
		exprStmt(assign(member(&ast.ThisExpression{}, "x"), ident("x"))),
		exprStmt(assign(member(&ast.ThisExpression{}, "y"), ident("y"))),
	), Params: []ast.Param{{Pattern: ident("x")}, {Pattern: ident("y")}}}
	dist := &ast.FunctionLiteral{Body: block(
		ret(call(member(ident("Math"), "abs"), binExpr("-", member(&ast.ThisExpression{}, "x"), member(&ast.ThisExpression{}, "y")))),
	)}
	origin := &ast.FunctionLiteral{Body: block(ret(num(0)))}
	cls := &ast.ClassDeclaration{Class: &ast.ClassExpression{
		Name: "Point",
		Members: []ast.ClassMember{
			{Key: ident("constructor"), Value: ctor, Kind: "constructor"},
			{Key: ident("dist"), Value: dist, Kind: "method"},
			{Key: ident("origin"), Value: origin, Kind: "method", Static: true},
		},
	}}
	out := runProgram(t,
		cls,
		letDecl("p", &ast.NewExpression{Callee: ident("Point"), Arguments: []ast.Expression{num(3), num(10)}}),
		exprStmt(binExpr("+", call(member(ident("p"), "dist")), call(member(ident("Point"), "origin")))),
	)
	requireNumber(t, out, 7)
}

func TestClassFieldInitializers(t *testing.T) {
	// class Counter { count = 5; bump() { return this.count + 1; } }
	cls := &ast.ClassDeclaration{Class: &ast.ClassExpression{
		Name: "Counter",
		Members: []ast.ClassMember{
			{Key: ident("count"), Field: num(5), Kind: "field"},
			{Key: ident("bump"), Value: &ast.FunctionLiteral{Body: block(
				ret(binExpr("+", member(&ast.ThisExpression{}, "count"), num(1))),
			)}, Kind: "method"},
		},
	}}
	out := runProgram(t,
		cls,
		letDecl("c", &ast.NewExpression{Callee: ident("Counter")}),
		exprStmt(call(member(ident("c"), "bump"))),
	)
	requireNumber(t, out, 6)
}

func TestLogicalShortCircuit(t *testing.T) {
	tests := []struct {
		name string
		expr ast.Expression
		want value.Value
	}{
		{"and true path", &ast.LogicalExpression{Operator: "&&", Left: num(1), Right: num(2)}, value.Number(2)},
		{"and short", &ast.LogicalExpression{Operator: "&&", Left: num(0), Right: num(2)}, value.Number(0)},
		{"or short", &ast.LogicalExpression{Operator: "||", Left: num(1), Right: num(2)}, value.Number(1)},
		{"or false path", &ast.LogicalExpression{Operator: "||", Left: num(0), Right: num(2)}, value.Number(2)},
		{"nullish on null", &ast.LogicalExpression{Operator: "??", Left: &ast.NullLiteral{}, Right: num(5)}, value.Number(5)},
		{"nullish on zero", &ast.LogicalExpression{Operator: "??", Left: num(0), Right: num(5)}, value.Number(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := runProgram(t, exprStmt(tt.expr))
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestConditionalExpression(t *testing.T) {
	out := runProgram(t, exprStmt(&ast.ConditionalExpression{
		Test:       binExpr(">", num(3), num(2)),
		Consequent: str("yes"),
		Alternate:  str("no"),
	}))
	assert.Equal(t, "yes", out.Str())
}

func TestTemplateLiteral(t *testing.T) {
	out := runProgram(t,
		letDecl("n", num(7)),
		exprStmt(&ast.TemplateLiteral{
			Quasis:      []string{"n is ", "!"},
			Expressions: []ast.Expression{ident("n")},
		}),
	)
	assert.Equal(t, "n is 7!", out.Str())
}

func TestDefaultAndRestParams(t *testing.T) {
	// function f(a, b = 10, ...rest) { return a + b + rest.length; }
	f := &ast.FunctionLiteral{Name: "f", Params: []ast.Param{
		{Pattern: ident("a")},
		{Pattern: ident("b"), Default: num(10)},
		{Pattern: ident("rest"), Rest: true},
	}, Body: block(
		ret(binExpr("+", binExpr("+", ident("a"), ident("b")), member(ident("rest"), "length"))),
	)}
	out := runProgram(t,
		&ast.FunctionDeclaration{Function: f},
		exprStmt(binExpr("+",
			call(ident("f"), num(1)),                         // 1 + 10 + 0 = 11
			call(ident("f"), num(1), num(2), num(3), num(4)), // 1 + 2 + 2 = 5
		)),
	)
	requireNumber(t, out, 16)
}

func TestTypeofAndEquality(t *testing.T) {
	out := runProgram(t, exprStmt(&ast.UnaryExpression{Operator: "typeof", Argument: num(1)}))
	assert.Equal(t, "number", out.Str())

	out = runProgram(t, exprStmt(&ast.UnaryExpression{Operator: "typeof", Argument: ident("missing")}))
	assert.Equal(t, "undefined", out.Str())

	out = runProgram(t, exprStmt(binExpr("==", num(1), str("1"))))
	assert.Equal(t, value.Boolean(true), out)
	out = runProgram(t, exprStmt(binExpr("===", num(1), str("1"))))
	assert.Equal(t, value.Boolean(false), out)
}

func TestStringConcatAndCompare(t *testing.T) {
	out := runProgram(t, exprStmt(binExpr("+", str("foo"), num(1))))
	assert.Equal(t, "foo1", out.Str())

	out = runProgram(t, exprStmt(binExpr("<", str("apple"), str("banana"))))
	assert.Equal(t, value.Boolean(true), out)
}

func TestGlobalAssignment(t *testing.T) {
	out := runProgram(t,
		exprStmt(assign(ident("g"), num(11))),
		exprStmt(ident("g")),
	)
	requireNumber(t, out, 11)
}

func TestPropertyAccessOnNullThrows(t *testing.T) {
	_, err := tryRunProgram(t, exprStmt(member(&ast.NullLiteral{}, "x")))
	var thrown *value.ThrownError
	require.ErrorAs(t, err, &thrown)
	assert.Contains(t, thrown.Value.Str(), "TypeError")
}

func TestStackDepthBalancedAcrossStatements(t *testing.T) {
	// After a run to completion, the operand stack is fully unwound.
	cf, err := compiler.CompileProgram(&ast.Program{Body: []ast.Statement{
		letDecl("a", num(1)),
		exprStmt(binExpr("+", ident("a"), num(2))),
		&ast.IfStatement{Test: ident("a"), Consequent: exprStmt(num(9))},
	}}, false)
	require.NoError(t, err)
	machine := New(Options{})
	_, err = machine.Execute(cf)
	require.NoError(t, err)
	assert.Zero(t, machine.sp)
}

func TestAsyncFunctionSettles(t *testing.T) {
	// async function a() { return 5; } await in a sibling async consumer.
	aFn := &ast.FunctionLiteral{Name: "a", IsAsync: true, Body: block(ret(num(5)))}
	bFn := &ast.FunctionLiteral{Name: "b", IsAsync: true, Body: block(
		ret(binExpr("+", &ast.AwaitExpression{Argument: call(ident("a"))}, num(1))),
	)}
	out := runProgram(t,
		&ast.FunctionDeclaration{Function: aFn},
		&ast.FunctionDeclaration{Function: bFn},
		letDecl("p", call(ident("b"))),
		exprStmt(ident("p")),
	)
	require.True(t, out.IsObject())
	p, ok := out.Object().(*heap.Promise)
	require.True(t, ok)
	assert.Equal(t, heap.PromiseFulfilled, p.State)
	requireNumber(t, p.Result, 6)
}

func TestMethodCallReceiver(t *testing.T) {
	// let o = { v: 41, get() { return this.v; } }... methods in object
	// literals are plain function-valued properties here.
	getFn := fnLit("", block(ret(member(&ast.ThisExpression{}, "v"))))
	obj := &ast.ObjectLiteral{Properties: []ast.ObjectProperty{
		{Key: ident("v"), Value: num(41), Kind: "init"},
		{Key: ident("get"), Value: getFn, Kind: "init"},
	}}
	out := runProgram(t,
		letDecl("o", obj),
		exprStmt(call(member(ident("o"), "get"))),
	)
	requireNumber(t, out, 41)
}

func TestModuleExports(t *testing.T) {
	// export const answer = 42; export default answer + 1;
	prog := &ast.Program{Body: []ast.Statement{
		&ast.ExportNamedDeclaration{Declaration: decl(ast.Const, "answer", num(42))},
		&ast.ExportDefaultDeclaration{Declaration: binExpr("+", ident("answer"), num(1))},
	}}
	cf, err := compiler.CompileProgram(prog, false)
	require.NoError(t, err)
	machine := New(Options{})
	exports, err := machine.ExecuteModule(cf)
	require.NoError(t, err)

	v, ok := exports.Get(value.String("answer"))
	require.True(t, ok)
	requireNumber(t, v, 42)
	v, ok = exports.Get(value.String("default"))
	require.True(t, ok)
	requireNumber(t, v, 43)
}

func TestStaticImportThroughLoader(t *testing.T) {
	// import { answer } from "m"; answer
	prog := &ast.Program{Body: []ast.Statement{
		&ast.ImportDeclaration{
			Specifiers: []ast.ImportSpecifier{{Imported: "answer", Local: "answer"}},
			Source:     "m",
		},
		exprStmt(ident("answer")),
	}}
	cf, err := compiler.CompileProgram(prog, true)
	require.NoError(t, err)

	machine := New(Options{})
	ns := machine.Heap().NewPlainObject()
	ns.Set(value.String("answer"), value.Number(42))
	machine.SetModuleLoader(func(path string) (value.Value, error) {
		require.Equal(t, "m", path)
		return value.FromObject(ns), nil
	})
	out, err := machine.Execute(cf)
	require.NoError(t, err)
	requireNumber(t, out, 42)
}

func TestIntrinsicTamperGuard(t *testing.T) {
	// Math.abs(-5) via the intrinsic opcode honors a replaced Math.abs.
	prog := &ast.Program{Body: []ast.Statement{
		exprStmt(call(member(ident("Math"), "abs"), num(-5))),
	}}
	cf, err := compiler.CompileProgram(prog, true)
	require.NoError(t, err)

	machine := New(Options{})
	installTestGlobals(machine)
	out, err := machine.Execute(cf)
	require.NoError(t, err)
	requireNumber(t, out, 5)

	// Replace Math.abs and re-run the same bytecode.
	mathV := machine.Global("Math")
	mathV.Object().Set(value.String("abs"), value.FromObject(
		machine.Heap().NewNativeFunction("abs", func(ctx *heap.CallContext) (value.Value, error) {
			return value.Number(123), nil
		})))
	out, err = machine.Execute(cf)
	require.NoError(t, err)
	requireNumber(t, out, 123)
}

func TestRecursionDepthLimited(t *testing.T) {
	// function f() { return f(); } f()
	f := fnDecl("f", block(ret(call(ident("f")))))
	_, err := tryRunProgram(t, f, exprStmt(call(ident("f"))))
	var thrown *value.ThrownError
	require.ErrorAs(t, err, &thrown)
	assert.Contains(t, thrown.Value.Str(), "RangeError")
}

func TestSequenceAndCompoundAssignment(t *testing.T) {
	out := runProgram(t,
		letDecl("x", num(2)),
		exprStmt(&ast.AssignmentExpression{Operator: "*=", Target: ident("x"), Value: num(10)}),
		exprStmt(&ast.SequenceExpression{Expressions: []ast.Expression{num(0), ident("x")}}),
	)
	requireNumber(t, out, 20)
}
