package compiler

import (
	"strconv"

	"github.com/wudi/dashvm/ast"
	"github.com/wudi/dashvm/bytecode"
	"github.com/wudi/dashvm/scope"
)

func compileExpr(fc *funcCompiler, e ast.Expression) error {
	return compileExprNamed(fc, e, "")
}

// compileExprNamed compiles e, passing assignedName through to a nested
// FunctionLiteral so `let f = function(){}`/`let f = () => {}` get a
// usable Function.Name even though the literal itself is anonymous —
// mirrors how engines name the inferred-name case.
func compileExprNamed(fc *funcCompiler, e ast.Expression, assignedName string) error {
	switch n := e.(type) {
	case *ast.NumberLiteral:
		idx, err := fc.addNumberConstant(n.Value)
		if err != nil {
			return err
		}
		fc.ib.BuildConstant(idx)
		return nil

	case *ast.StringLiteral:
		idx, err := fc.addStringConstant(n.Value)
		if err != nil {
			return err
		}
		fc.ib.BuildConstant(idx)
		return nil

	case *ast.BooleanLiteral:
		if n.Value {
			fc.ib.BuildSimple(bytecode.OpTrue)
		} else {
			fc.ib.BuildSimple(bytecode.OpFalse)
		}
		return nil

	case *ast.NullLiteral:
		fc.ib.BuildSimple(bytecode.OpNull)
		return nil

	case *ast.UndefinedLiteral:
		fc.ib.BuildSimple(bytecode.OpUndefined)
		return nil

	case *ast.ThisExpression:
		fc.ib.BuildSimple(bytecode.OpThis)
		return nil

	case *ast.Identifier:
		return compileIdentifierLoad(fc, n.Name)

	case *ast.RegexLiteral:
		idx, err := fc.addConstant(bytecode.Constant{Kind: bytecode.ConstRegex, Pattern: n.Pattern, Flags: n.Flags})
		if err != nil {
			return err
		}
		fc.ib.BuildConstant(idx)
		return nil

	case *ast.TemplateLiteral:
		return compileTemplateLiteral(fc, n)

	case *ast.BinaryExpression:
		return compileBinaryExpression(fc, n)

	case *ast.LogicalExpression:
		return compileLogicalExpression(fc, n)

	case *ast.UnaryExpression:
		return compileUnaryExpression(fc, n)

	case *ast.UpdateExpression:
		return compileUpdateExpression(fc, n)

	case *ast.AssignmentExpression:
		return compileAssignmentExpression(fc, n)

	case *ast.ConditionalExpression:
		return compileConditionalExpression(fc, n)

	case *ast.SequenceExpression:
		for i, sub := range n.Expressions {
			if err := compileExpr(fc, sub); err != nil {
				return err
			}
			if i != len(n.Expressions)-1 {
				fc.ib.BuildSimple(bytecode.OpPop)
			}
		}
		return nil

	case *ast.ArrayLiteral:
		return compileArrayLiteral(fc, n)

	case *ast.ObjectLiteral:
		return compileObjectLiteral(fc, n)

	case *ast.MemberExpression:
		return compileMemberGet(fc, n, false)

	case *ast.CallExpression:
		return compileCallExpression(fc, n)

	case *ast.NewExpression:
		return compileNewExpression(fc, n)

	case *ast.FunctionLiteral:
		name := n.Name
		if name == "" {
			name = assignedName
		}
		return compileFunctionLiteralNamed(fc, n, name)

	case *ast.ClassExpression:
		return compileClassExpression(fc, n)

	case *ast.YieldExpression:
		return compileYieldExpression(fc, n)

	case *ast.AwaitExpression:
		if !fc.isAsync {
			return errf(ErrAwaitOutsideAsync, "await used outside an async function")
		}
		if err := compileExpr(fc, n.Argument); err != nil {
			return err
		}
		fc.ib.BuildAwait()
		return nil

	case *ast.ImportExpression:
		if err := compileExpr(fc, n.Source); err != nil {
			return err
		}
		fc.ib.BuildSimple(bytecode.OpDynamicImport)
		return nil

	case *ast.SpreadElement:
		return unimplemented("bare spread element outside call/array/object context")

	default:
		return unimplemented("expression")
	}
}

func compileTemplateLiteral(fc *funcCompiler, n *ast.TemplateLiteral) error {
	idx, err := fc.addStringConstant(n.Quasis[0])
	if err != nil {
		return err
	}
	fc.ib.BuildConstant(idx)
	for i, expr := range n.Expressions {
		if err := compileExpr(fc, expr); err != nil {
			return err
		}
		fc.ib.BuildBinary(bytecode.OpAdd)
		if i+1 < len(n.Quasis) {
			qidx, err := fc.addStringConstant(n.Quasis[i+1])
			if err != nil {
				return err
			}
			fc.ib.BuildConstant(qidx)
			fc.ib.BuildBinary(bytecode.OpAdd)
		}
	}
	return nil
}

// compileIdentifierLoad resolves name via the compile-time scope chain and
// emits the matching local/external/global load.
func compileIdentifierLoad(fc *funcCompiler, name string) error {
	res := fc.sc.Resolve(name)
	if !res.Found {
		idx, err := fc.addIdentConstant(name)
		if err != nil {
			return err
		}
		fc.ib.BuildGlobalLoad(idx)
		return nil
	}
	if res.IsExternal {
		fc.ib.BuildLocalLoad(res.ExternalID, true)
		return nil
	}
	fc.ib.BuildLocalLoad(res.LocalID, false)
	return nil
}

// binaryOps maps an AST operator string to its generic opcode.
var binaryOps = map[string]bytecode.Op{
	"+": bytecode.OpAdd, "-": bytecode.OpSub, "*": bytecode.OpMul, "/": bytecode.OpDiv,
	"%": bytecode.OpMod, "**": bytecode.OpPow,
	"==": bytecode.OpEq, "!=": bytecode.OpNeq, "===": bytecode.OpStrictEq, "!==": bytecode.OpStrictNeq,
	"<": bytecode.OpLt, "<=": bytecode.OpLe, ">": bytecode.OpGt, ">=": bytecode.OpGe,
	"&": bytecode.OpBitAnd, "|": bytecode.OpBitOr, "^": bytecode.OpBitXor,
	"<<": bytecode.OpShl, ">>": bytecode.OpShr, ">>>": bytecode.OpUshr,
}

// numericIntrinsics maps an operator to its specialized variant used when
// both operands are statically inferred Number.
var numericIntrinsics = map[string]bytecode.Op{
	"+": bytecode.OpAddNumLR, "-": bytecode.OpSubNumLR, "*": bytecode.OpMulNumLR,
	"<": bytecode.OpLtNumLR, "<=": bytecode.OpLeNumLR, ">": bytecode.OpGtNumLR, ">=": bytecode.OpGeNumLR,
}

// exprStaticType gives the scope-inference-pass view of an expression's
// type, used purely to pick between a generic opcode and a numeric
// IntrinsicOp; unknown for anything not trivially Number.
func exprStaticType(fc *funcCompiler, e ast.Expression) scope.InferredType {
	switch n := e.(type) {
	case *ast.NumberLiteral:
		return scope.TypeNumber
	case *ast.Identifier:
		res := fc.sc.Resolve(n.Name)
		if res.Found && res.IsLocal {
			return fc.sc.Locals[res.LocalID].InferredType
		}
		return scope.TypeUnknown
	case *ast.BinaryExpression:
		if _, ok := numericIntrinsics[n.Operator]; ok {
			if exprStaticType(fc, n.Left) == scope.TypeNumber && exprStaticType(fc, n.Right) == scope.TypeNumber {
				return scope.TypeNumber
			}
		}
		return scope.TypeUnknown
	default:
		return scope.TypeUnknown
	}
}

// compileBinaryExpression selects the most specialized opcode available: a
// constant-specialized `LtNumLConst{8,32}` when comparing a Number-typed
// operand against an integer literal via `<`, a numeric variant when both
// operands are statically Number, else the generic opcode.
func compileBinaryExpression(fc *funcCompiler, n *ast.BinaryExpression) error {
	if n.Operator == "<" {
		if lit, ok := n.Right.(*ast.NumberLiteral); ok && exprStaticType(fc, n.Left) == scope.TypeNumber {
			if iv := int64(lit.Value); float64(iv) == lit.Value {
				if err := compileExpr(fc, n.Left); err != nil {
					return err
				}
				if iv >= -128 && iv <= 127 {
					fc.ib.BuildSimple(bytecode.OpLtNumLConst8)
					fc.ib.EmitI8(iv)
					return nil
				} else if iv >= -(1<<31) && iv <= (1<<31)-1 {
					fc.ib.BuildSimple(bytecode.OpLtNumLConst32)
					fc.ib.EmitI32(iv)
					return nil
				}
				if err := compileExpr(fc, n.Right); err != nil {
					return err
				}
				fc.ib.BuildBinary(bytecode.OpLt)
				return nil
			}
		}
	}

	if err := compileExpr(fc, n.Left); err != nil {
		return err
	}
	if err := compileExpr(fc, n.Right); err != nil {
		return err
	}
	if op, ok := numericIntrinsics[n.Operator]; ok &&
		exprStaticType(fc, n.Left) == scope.TypeNumber && exprStaticType(fc, n.Right) == scope.TypeNumber {
		fc.ib.BuildBinary(op)
		return nil
	}
	op, ok := binaryOps[n.Operator]
	if !ok {
		return unimplemented("binary operator " + n.Operator)
	}
	fc.ib.BuildBinary(op)
	return nil
}

// compileLogicalExpression emits the jump-not-popping short-circuit
// opcodes: the short-circuit path keeps the LHS value on the stack, the
// non-short-circuit path pops it and evaluates the RHS.
func compileLogicalExpression(fc *funcCompiler, n *ast.LogicalExpression) error {
	if err := compileExpr(fc, n.Left); err != nil {
		return err
	}
	var op bytecode.Op
	switch n.Operator {
	case "&&":
		op = bytecode.OpJmpFalseNP
	case "||":
		op = bytecode.OpJmpTrueNP
	case "??":
		op = bytecode.OpJmpNullishNP
	default:
		return unimplemented("logical operator " + n.Operator)
	}
	end := bytecode.Label{Kind: bytecode.LocalLabel, Name: "LogicalEnd", ID: fc.newLocalID()}
	fc.ib.Jumps.EmitJump(op, end)
	fc.ib.BuildSimple(bytecode.OpPop)
	if err := compileExpr(fc, n.Right); err != nil {
		return err
	}
	fc.ib.Jumps.Place(end)
	return nil
}

func compileUnaryExpression(fc *funcCompiler, n *ast.UnaryExpression) error {
	if n.Operator == "delete" {
		return compileDelete(fc, n.Argument)
	}
	if err := compileExpr(fc, n.Argument); err != nil {
		return err
	}
	switch n.Operator {
	case "-":
		fc.ib.BuildSimple(bytecode.OpNeg)
	case "+":
		fc.ib.BuildSimple(bytecode.OpPos)
	case "!":
		fc.ib.BuildSimple(bytecode.OpNot)
	case "~":
		fc.ib.BuildSimple(bytecode.OpBitNot)
	case "typeof":
		fc.ib.BuildSimple(bytecode.OpTypeof)
	case "void":
		fc.ib.BuildSimple(bytecode.OpVoid)
	default:
		return unimplemented("unary operator " + n.Operator)
	}
	return nil
}

func compileDelete(fc *funcCompiler, target ast.Expression) error {
	m, ok := target.(*ast.MemberExpression)
	if !ok {
		fc.ib.BuildSimple(bytecode.OpTrue)
		return nil
	}
	if err := compileExpr(fc, m.Object); err != nil {
		return err
	}
	if m.Computed {
		if err := compileExpr(fc, m.Property); err != nil {
			return err
		}
		fc.ib.BuildSimple(bytecode.OpDynamicDelete)
		return nil
	}
	idx, err := fc.addIdentConstant(m.Property.(*ast.Identifier).Name)
	if err != nil {
		return err
	}
	fc.ib.BuildStaticDelete(idx)
	return nil
}

// compileUpdateExpression emits the specialized PostfixIncLocalNum/
// PrefixIncLocalNum family for a Number-typed local, otherwise desugars to
// `x = x +/- 1`.
func compileUpdateExpression(fc *funcCompiler, n *ast.UpdateExpression) error {
	ident, ok := n.Argument.(*ast.Identifier)
	if ok {
		res := fc.sc.Resolve(ident.Name)
		if res.Found && res.IsLocal && !fc.sc.Locals[res.LocalID].IsExtern &&
			fc.sc.Locals[res.LocalID].InferredType == scope.TypeNumber && res.LocalID <= 0xFF {
			var op bytecode.Op
			switch {
			case n.Operator == "++" && n.Prefix:
				op = bytecode.OpPrefixIncLocalNum
			case n.Operator == "++" && !n.Prefix:
				op = bytecode.OpPostfixIncLocalNum
			case n.Operator == "--" && n.Prefix:
				op = bytecode.OpPrefixDecLocalNum
			default:
				op = bytecode.OpPostfixDecLocalNum
			}
			fc.ib.BuildLocalNumUnary(op, res.LocalID)
			return nil
		}
	}
	one := &ast.NumberLiteral{Value: 1}
	op := "+"
	if n.Operator == "--" {
		op = "-"
	}
	assign := &ast.AssignmentExpression{
		Operator: "=",
		Target:   n.Argument,
		Value:    &ast.BinaryExpression{Operator: op, Left: n.Argument, Right: one},
	}
	if n.Prefix {
		return compileAssignmentExpression(fc, assign)
	}
	// Postfix on the general path: evaluate old value, perform the
	// assignment, discard the assignment's result, restore old value.
	if err := compileExpr(fc, n.Argument); err != nil {
		return err
	}
	if err := compileAssignmentExpression(fc, assign); err != nil {
		return err
	}
	fc.ib.BuildSimple(bytecode.OpPop)
	return nil
}

func compileConditionalExpression(fc *funcCompiler, n *ast.ConditionalExpression) error {
	if err := compileExpr(fc, n.Test); err != nil {
		return err
	}
	elseLabel := bytecode.Label{Kind: bytecode.LocalLabel, Name: "CondElse", ID: fc.newLocalID()}
	endLabel := bytecode.Label{Kind: bytecode.LocalLabel, Name: "CondEnd", ID: fc.newLocalID()}
	fc.ib.Jumps.EmitJump(bytecode.OpJmpFalseP, elseLabel)
	if err := compileExpr(fc, n.Consequent); err != nil {
		return err
	}
	fc.ib.Jumps.EmitJump(bytecode.OpJmp, endLabel)
	fc.ib.Jumps.Place(elseLabel)
	if err := compileExpr(fc, n.Alternate); err != nil {
		return err
	}
	fc.ib.Jumps.Place(endLabel)
	return nil
}

func compileArrayLiteral(fc *funcCompiler, n *ast.ArrayLiteral) error {
	if len(n.Elements) > maxLiteralLen {
		return errf(ErrLimitExceeded, "array literal exceeds %d entries", maxLiteralLen)
	}
	for _, el := range n.Elements {
		if el == nil {
			fc.ib.BuildSimple(bytecode.OpUndefined)
			continue
		}
		if _, ok := el.(*ast.SpreadElement); ok {
			return unimplemented("spread in array literal")
		}
		if err := compileExpr(fc, el); err != nil {
			return err
		}
	}
	fc.ib.BuildArrayLit(len(n.Elements))
	return nil
}

func compileObjectLiteral(fc *funcCompiler, n *ast.ObjectLiteral) error {
	if len(n.Properties) > maxLiteralLen {
		return errf(ErrLimitExceeded, "object literal exceeds %d entries", maxLiteralLen)
	}
	flags := make([]bool, len(n.Properties))
	for i, p := range n.Properties {
		if p.Kind == "spread" {
			if err := compileExpr(fc, p.Value); err != nil {
				return err
			}
			flags[i] = true
			continue
		}
		if err := compileObjectKey(fc, p); err != nil {
			return err
		}
		if err := compileExpr(fc, p.Value); err != nil {
			return err
		}
	}
	fc.ib.BuildObjectLit(flags)
	return nil
}

func compileObjectKey(fc *funcCompiler, p ast.ObjectProperty) error {
	if p.Computed {
		return compileExpr(fc, p.Key)
	}
	switch k := p.Key.(type) {
	case *ast.Identifier:
		idx, err := fc.addStringConstant(k.Name)
		if err != nil {
			return err
		}
		fc.ib.BuildConstant(idx)
		return nil
	case *ast.StringLiteral:
		idx, err := fc.addStringConstant(k.Value)
		if err != nil {
			return err
		}
		fc.ib.BuildConstant(idx)
		return nil
	case *ast.NumberLiteral:
		idx, err := fc.addStringConstant(strconv.FormatFloat(k.Value, 'g', -1, 64))
		if err != nil {
			return err
		}
		fc.ib.BuildConstant(idx)
		return nil
	default:
		return unimplemented("object literal key")
	}
}

func compileMemberGet(fc *funcCompiler, m *ast.MemberExpression, preserveThis bool) error {
	if err := compileExpr(fc, m.Object); err != nil {
		return err
	}
	return emitMemberGetAfterObject(fc, m, preserveThis)
}

func emitMemberGetAfterObject(fc *funcCompiler, m *ast.MemberExpression, preserveThis bool) error {
	if m.Computed {
		if err := compileExpr(fc, m.Property); err != nil {
			return err
		}
		fc.ib.BuildDynamicPropGet(preserveThis)
		return nil
	}
	name := m.Property.(*ast.Identifier).Name
	return emitPropGetStatic(fc, name, preserveThis)
}

func emitPropGetStatic(fc *funcCompiler, name string, preserveThis bool) error {
	idx, err := fc.addIdentConstant(name)
	if err != nil {
		return err
	}
	fc.ib.BuildStaticPropGet(idx, preserveThis)
	return nil
}
