package compiler

import (
	"strings"

	"github.com/wudi/dashvm/ast"
	"github.com/wudi/dashvm/bytecode"
	"github.com/wudi/dashvm/scope"
)

func compileAssignmentExpression(fc *funcCompiler, n *ast.AssignmentExpression) error {
	if n.Operator != "" && n.Operator != "=" {
		op := strings.TrimSuffix(n.Operator, "=")
		synthesized := &ast.AssignmentExpression{
			Operator: "=",
			Target:   n.Target,
			Value:    &ast.BinaryExpression{Operator: op, Left: n.Target, Right: n.Value},
		}
		return compileAssignmentExpression(fc, synthesized)
	}

	switch target := n.Target.(type) {
	case *ast.Identifier:
		res := fc.sc.Resolve(target.Name)
		if err := compileExprNamed(fc, n.Value, target.Name); err != nil {
			return err
		}
		// Store opcodes peek, so the assigned value remains on the stack
		// as the expression's result.
		if !res.Found {
			idx, err := fc.addIdentConstant(target.Name)
			if err != nil {
				return err
			}
			fc.ib.BuildGlobalStore(idx)
			return nil
		}
		if res.IsExternal {
			fc.ib.BuildLocalStore(res.ExternalID, true)
			return nil
		}
		fc.ib.BuildLocalStore(res.LocalID, false)
		return nil

	case *ast.MemberExpression:
		if err := compileExpr(fc, target.Object); err != nil {
			return err
		}
		if target.Computed {
			if err := compileExpr(fc, target.Property); err != nil {
				return err
			}
			if err := compileExpr(fc, n.Value); err != nil {
				return err
			}
			fc.ib.BuildDynamicPropSet()
			return nil
		}
		if err := compileExpr(fc, n.Value); err != nil {
			return err
		}
		idx, err := fc.addIdentConstant(target.Property.(*ast.Identifier).Name)
		if err != nil {
			return err
		}
		fc.ib.BuildStaticPropSet(idx)
		return nil

	case *ast.ArrayPattern, *ast.ObjectPattern:
		if err := compileExpr(fc, n.Value); err != nil {
			return err
		}
		return compileDestructureAssign(fc, target)

	default:
		return unimplemented("assignment target")
	}
}

// compileDestructureDeclare emits ObjectDestructure/ArrayDestructure
// against the value already on top of the stack, declaring each bound
// identifier as a new local of kind k. Nested patterns, computed keys,
// defaults and object-pattern rest elements are not supported by this
// primitive.
func compileDestructureDeclare(fc *funcCompiler, target ast.Expression, k scope.Kind) error {
	switch t := target.(type) {
	case *ast.ObjectPattern:
		var pairs [][2]int
		for _, p := range t.Properties {
			name, ok := staticKeyName(p)
			if !ok {
				return unimplemented("computed/nested object-destructuring key")
			}
			ident, ok := unwrapDefault(p.Value).(*ast.Identifier)
			if !ok {
				return unimplemented("nested object-destructuring pattern")
			}
			id, err := fc.addLocal(ident.Name, k)
			if err != nil {
				return err
			}
			nameIdx, err := fc.addIdentConstant(name)
			if err != nil {
				return err
			}
			pairs = append(pairs, [2]int{id, nameIdx})
		}
		if t.Rest != nil {
			return unimplemented("object-destructuring rest binding")
		}
		fc.ib.BuildObjectDestructure(pairs)
		return nil

	case *ast.ArrayPattern:
		var locals []int
		for _, el := range t.Elements {
			if el == nil {
				id, err := fc.sc.AddLocal("", scope.KindUnnameable)
				if err != nil {
					return err
				}
				locals = append(locals, id)
				continue
			}
			if _, ok := el.(*ast.SpreadElement); ok {
				return unimplemented("array-destructuring rest binding")
			}
			ident, ok := unwrapDefault(el).(*ast.Identifier)
			if !ok {
				return unimplemented("nested array-destructuring pattern")
			}
			id, err := fc.addLocal(ident.Name, k)
			if err != nil {
				return err
			}
			locals = append(locals, id)
		}
		fc.ib.BuildArrayDestructure(locals)
		return nil

	default:
		return unimplemented("destructuring target")
	}
}

// compileDestructureAssign mirrors compileDestructureDeclare for assignment
// (not declaration) targets: every bound identifier must already resolve.
func compileDestructureAssign(fc *funcCompiler, target ast.Expression) error {
	switch t := target.(type) {
	case *ast.ObjectPattern:
		var pairs [][2]int
		for _, p := range t.Properties {
			name, ok := staticKeyName(p)
			if !ok {
				return unimplemented("computed/nested object-destructuring key")
			}
			ident, ok := unwrapDefault(p.Value).(*ast.Identifier)
			if !ok {
				return unimplemented("nested object-destructuring pattern")
			}
			res := fc.sc.Resolve(ident.Name)
			if !res.Found {
				return errf(ErrInvalidAssignment, "assignment to undeclared identifier %q", ident.Name)
			}
			if !res.IsLocal {
				return unimplemented("destructuring assignment to a captured variable")
			}
			nameIdx, err := fc.addIdentConstant(name)
			if err != nil {
				return err
			}
			pairs = append(pairs, [2]int{res.LocalID, nameIdx})
		}
		fc.ib.BuildObjectDestructure(pairs)
		return nil
	case *ast.ArrayPattern:
		var locals []int
		for _, el := range t.Elements {
			if el == nil {
				id, err := fc.sc.AddLocal("", scope.KindUnnameable)
				if err != nil {
					return err
				}
				locals = append(locals, id)
				continue
			}
			ident, ok := unwrapDefault(el).(*ast.Identifier)
			if !ok {
				return unimplemented("nested array-destructuring pattern")
			}
			res := fc.sc.Resolve(ident.Name)
			if !res.Found {
				return errf(ErrInvalidAssignment, "assignment to undeclared identifier %q", ident.Name)
			}
			if !res.IsLocal {
				return unimplemented("destructuring assignment to a captured variable")
			}
			locals = append(locals, res.LocalID)
		}
		fc.ib.BuildArrayDestructure(locals)
		return nil
	default:
		return unimplemented("destructuring target")
	}
}

func staticKeyName(p ast.ObjectProperty) (string, bool) {
	if p.Computed {
		return "", false
	}
	switch k := p.Key.(type) {
	case *ast.Identifier:
		return k.Name, true
	case *ast.StringLiteral:
		return k.Value, true
	}
	return "", false
}

func hasSpread(args []ast.Expression) bool {
	for _, a := range args {
		if _, ok := a.(*ast.SpreadElement); ok {
			return true
		}
	}
	return false
}

// compileCallExpression emits the intrinsic specialization for
// `Math.<name>(...)` when the name is in the fixed table and Math is not
// shadowed, else the generic calling sequence; method calls keep `this`
// via StaticPropGet's preserve_this bit.
func compileCallExpression(fc *funcCompiler, n *ast.CallExpression) error {
	if me, ok := n.Callee.(*ast.MemberExpression); ok && !me.Computed && !hasSpread(n.Arguments) && len(n.Arguments) <= 63 {
		if obj, ok := me.Object.(*ast.Identifier); ok && obj.Name == "Math" {
			if !fc.sc.Resolve("Math").Found {
				if name, ok := me.Property.(*ast.Identifier); ok {
					if id, ok := bytecode.IntrinsicID(name.Name); ok {
						for _, a := range n.Arguments {
							if err := compileExpr(fc, a); err != nil {
								return err
							}
						}
						fc.ib.BuildCallIntrinsic(id, uint8(len(n.Arguments)))
						return nil
					}
				}
			}
		}
	}

	hasThis := false
	if me, ok := n.Callee.(*ast.MemberExpression); ok {
		if err := compileExpr(fc, me.Object); err != nil {
			return err
		}
		if err := emitMemberGetAfterObject(fc, me, true); err != nil {
			return err
		}
		hasThis = true
	} else {
		if err := compileExpr(fc, n.Callee); err != nil {
			return err
		}
	}
	argc, err := compileCallArgs(fc, n.Arguments)
	if err != nil {
		return err
	}
	fc.ib.BuildCall(bytecode.CallMeta{Argc: uint8(argc), HasThis: hasThis})
	return nil
}

func compileCallArgs(fc *funcCompiler, args []ast.Expression) (int, error) {
	if hasSpread(args) {
		return 0, unimplemented("spread in call arguments")
	}
	// CallMeta packs argc into the 6 low bits of its operand byte.
	if len(args) > 63 {
		return 0, errf(ErrLimitExceeded, "call exceeds 63 arguments")
	}
	for _, a := range args {
		if err := compileExpr(fc, a); err != nil {
			return 0, err
		}
	}
	return len(args), nil
}

func compileNewExpression(fc *funcCompiler, n *ast.NewExpression) error {
	if err := compileExpr(fc, n.Callee); err != nil {
		return err
	}
	argc, err := compileCallArgs(fc, n.Arguments)
	if err != nil {
		return err
	}
	fc.ib.BuildNewCall(bytecode.CallMeta{Argc: uint8(argc), IsConstructor: true})
	return nil
}

func compileFunctionLiteral(fc *funcCompiler, lit *ast.FunctionLiteral) error {
	return compileFunctionLiteralNamed(fc, lit, lit.Name)
}

// compileFunctionLiteralNamed compiles lit in a fresh funcCompiler whose
// scope's lexical parent is fc's, then emits Closure(constIdx) in fc's own
// stream referencing the freshly compiled function as a constant.
func compileFunctionLiteralNamed(fc *funcCompiler, lit *ast.FunctionLiteral, name string) error {
	if len(lit.Params) > maxParams {
		return errf(ErrLimitExceeded, "function declares more than %d parameters", maxParams)
	}
	childSc := fc.sc.Enter()
	child := newFuncCompiler(fc, childSc)
	child.name = name

	switch {
	case lit.IsArrow:
		child.kind = bytecode.KindArrow
	case lit.IsGenerator:
		child.kind = bytecode.KindGenerator
	default:
		child.kind = bytecode.KindFunction
	}
	if lit.IsAsync {
		child.isAsync = true
		child.kind = bytecode.KindAsync
	}

	var restIdent *ast.Identifier
	for _, p := range lit.Params {
		if p.Rest {
			ident, ok := p.Pattern.(*ast.Identifier)
			if !ok {
				return unimplemented("destructuring rest parameter")
			}
			restIdent = ident
			continue
		}
		ident, ok := p.Pattern.(*ast.Identifier)
		if !ok {
			return unimplemented("destructuring parameter")
		}
		id, err := child.addLocal(ident.Name, scope.KindLet)
		if err != nil {
			return err
		}
		child.params++
		if p.Default != nil {
			if err := emitParamDefault(child, id, p.Default); err != nil {
				return err
			}
		}
	}
	if restIdent != nil {
		id, err := child.addLocal(restIdent.Name, scope.KindLet)
		if err != nil {
			return err
		}
		child.restLocal = id
	}

	if lit.Body != nil {
		hoistVarDecls(child, lit.Body.Body)
		if err := compileStatements(child, lit.Body.Body); err != nil {
			return err
		}
	} else if lit.ExprBody != nil {
		if err := compileExpr(child, lit.ExprBody); err != nil {
			return err
		}
		child.ib.BuildReturn(0)
	}
	emitImplicitReturn(child)

	if err := child.checkJumps(); err != nil {
		return err
	}
	compiled := child.finish()
	idx, err := fc.addConstant(bytecode.Constant{Kind: bytecode.ConstFunction, Fn: compiled})
	if err != nil {
		return err
	}
	fc.ib.BuildClosure(idx)
	return nil
}

// emitParamDefault emits the default-parameter prologue at the head of the
// function body: test the slot with JmpUndefinedP, compute the default and
// store it only when the argument was absent.
func emitParamDefault(fc *funcCompiler, localID int, def ast.Expression) error {
	fc.ib.BuildLocalLoad(localID, false)
	defaultLabel := bytecode.Label{Kind: bytecode.LocalLabel, Name: "ParamDefault", ID: fc.newLocalID()}
	afterLabel := bytecode.Label{Kind: bytecode.LocalLabel, Name: "ParamDefaultEnd", ID: fc.newLocalID()}
	fc.ib.Jumps.EmitJump(bytecode.OpJmpUndefinedP, defaultLabel)
	fc.ib.Jumps.EmitJump(bytecode.OpJmp, afterLabel)
	fc.ib.Jumps.Place(defaultLabel)
	if err := compileExpr(fc, def); err != nil {
		return err
	}
	fc.ib.BuildLocalStore(localID, false)
	fc.ib.BuildSimple(bytecode.OpPop)
	fc.ib.Jumps.Place(afterLabel)
	return nil
}

func compileYieldExpression(fc *funcCompiler, n *ast.YieldExpression) error {
	if fc.kind != bytecode.KindGenerator {
		return errf(ErrYieldOutsideGenerator, "yield used outside a generator function")
	}
	if n.Argument != nil {
		if err := compileExpr(fc, n.Argument); err != nil {
			return err
		}
	} else {
		fc.ib.BuildSimple(bytecode.OpUndefined)
	}
	fc.ib.BuildYield(n.Delegate)
	return nil
}
