package compiler

import (
	"github.com/wudi/dashvm/ast"
	"github.com/wudi/dashvm/bytecode"
	"github.com/wudi/dashvm/scope"
)

// hoistVarDecls declares `var` bindings (and function declarations, which
// behave like an initialized var binding) ahead of compiling the body, at
// function scope. It does not descend into nested FunctionLiteral bodies.
func hoistVarDecls(fc *funcCompiler, stmts []ast.Statement) {
	var names []string
	var walk func(s ast.Statement)
	walkExpr := func(e ast.Expression) {} // var declarations never hide inside expressions we care about here
	_ = walkExpr
	walk = func(s ast.Statement) {
		switch n := s.(type) {
		case *ast.VariableDeclaration:
			if n.Kind == ast.Var {
				for _, d := range n.Declarations {
					names = append(names, bindingNames(d.Target)...)
				}
			}
		case *ast.FunctionDeclaration:
			if n.Function.Name != "" {
				names = append(names, n.Function.Name)
			}
		case *ast.ClassDeclaration:
			// class bindings are block-scoped (Let), not hoisted.
		case *ast.BlockStatement:
			for _, st := range n.Body {
				walk(st)
			}
		case *ast.IfStatement:
			walk(n.Consequent)
			if n.Alternate != nil {
				walk(n.Alternate)
			}
		case *ast.WhileStatement:
			walk(n.Body)
		case *ast.DoWhileStatement:
			walk(n.Body)
		case *ast.ForStatement:
			if vd, ok := n.Init.(*ast.VariableDeclaration); ok && vd.Kind == ast.Var {
				for _, d := range vd.Declarations {
					names = append(names, bindingNames(d.Target)...)
				}
			}
			walk(n.Body)
		case *ast.ForInStatement:
			walk(n.Body)
		case *ast.ForOfStatement:
			walk(n.Body)
		case *ast.TryStatement:
			for _, st := range n.Block.Body {
				walk(st)
			}
			if n.Handler != nil {
				for _, st := range n.Handler.Body.Body {
					walk(st)
				}
			}
			if n.Finally != nil {
				for _, st := range n.Finally.Body {
					walk(st)
				}
			}
		case *ast.SwitchStatement:
			for _, c := range n.Cases {
				for _, st := range c.Body {
					walk(st)
				}
			}
		case *ast.LabeledStatement:
			walk(n.Body)
		}
	}
	for _, s := range stmts {
		walk(s)
	}
	fc.sc.HoistDeclarations(names)
}

// bindingNames flattens an Identifier/ArrayPattern/ObjectPattern target
// into the flat list of names it binds.
func bindingNames(target ast.Expression) []string {
	switch t := target.(type) {
	case *ast.Identifier:
		return []string{t.Name}
	case *ast.ArrayPattern:
		var out []string
		for _, el := range t.Elements {
			if el == nil {
				continue
			}
			out = append(out, bindingNames(unwrapDefault(el))...)
		}
		return out
	case *ast.ObjectPattern:
		var out []string
		for _, p := range t.Properties {
			out = append(out, bindingNames(unwrapDefault(p.Value))...)
		}
		if t.Rest != nil {
			out = append(out, bindingNames(t.Rest)...)
		}
		return out
	}
	return nil
}

func unwrapDefault(e ast.Expression) ast.Expression {
	if ae, ok := e.(*ast.AssignmentExpression); ok {
		return ae.Target
	}
	if se, ok := e.(*ast.SpreadElement); ok {
		return se.Argument
	}
	return e
}

func scopeKind(k ast.VariableKind) scope.Kind {
	switch k {
	case ast.Let:
		return scope.KindLet
	case ast.Const:
		return scope.KindConst
	default:
		return scope.KindVar
	}
}

func compileStatements(fc *funcCompiler, stmts []ast.Statement) error {
	return compileStatementsImplicitReturn(fc, stmts, false)
}

// compileStatementsImplicitReturn compiles stmts; when implicitReturn is
// true and the final statement is an ExpressionStatement, its value is
// returned instead of discarded.
func compileStatementsImplicitReturn(fc *funcCompiler, stmts []ast.Statement, implicitReturn bool) error {
	for i, s := range stmts {
		if implicitReturn && i == len(stmts)-1 {
			if es, ok := s.(*ast.ExpressionStatement); ok {
				if err := compileExpr(fc, es.Expression); err != nil {
					return err
				}
				fc.ib.BuildReturn(fc.tryDepth)
				continue
			}
		}
		if err := compileStatement(fc, s); err != nil {
			return err
		}
	}
	return nil
}

func compileStatement(fc *funcCompiler, s ast.Statement) error {
	switch n := s.(type) {
	case *ast.ExpressionStatement:
		if err := compileExpr(fc, n.Expression); err != nil {
			return err
		}
		fc.ib.BuildSimple(bytecode.OpPop)
		return nil

	case *ast.EmptyStatement:
		return nil

	case *ast.BlockStatement:
		fc.sc.EnterBlock()
		defer fc.sc.ExitBlock()
		return compileStatements(fc, n.Body)

	case *ast.VariableDeclaration:
		return compileVariableDeclaration(fc, n)

	case *ast.FunctionDeclaration:
		return compileFunctionDeclaration(fc, n)

	case *ast.ClassDeclaration:
		return compileClassDeclaration(fc, n)

	case *ast.ReturnStatement:
		if n.Argument != nil {
			if err := compileExpr(fc, n.Argument); err != nil {
				return err
			}
		} else {
			fc.ib.BuildSimple(bytecode.OpUndefined)
		}
		fc.ib.BuildReturn(fc.tryDepth)
		return nil

	case *ast.IfStatement:
		return compileIf(fc, n)

	case *ast.WhileStatement:
		return compileWhile(fc, n, n.Label)

	case *ast.DoWhileStatement:
		return compileDoWhile(fc, n, n.Label)

	case *ast.ForStatement:
		return compileFor(fc, n, n.Label)

	case *ast.ForInStatement:
		return compileForIn(fc, n, n.Label)

	case *ast.ForOfStatement:
		return compileForOf(fc, n, n.Label)

	case *ast.BreakStatement:
		return compileBreak(fc, n.Label)

	case *ast.ContinueStatement:
		return compileContinue(fc, n.Label)

	case *ast.LabeledStatement:
		return compileLabeled(fc, n)

	case *ast.SwitchStatement:
		return compileSwitch(fc, n)

	case *ast.TryStatement:
		return compileTry(fc, n)

	case *ast.ThrowStatement:
		if err := compileExpr(fc, n.Argument); err != nil {
			return err
		}
		fc.ib.BuildSimple(bytecode.OpThrow)
		return nil

	case *ast.ImportDeclaration:
		return compileImportDeclaration(fc, n)

	case *ast.ExportNamedDeclaration:
		return compileExportNamed(fc, n)

	case *ast.ExportDefaultDeclaration:
		return compileExportDefault(fc, n)

	default:
		return unimplemented("statement")
	}
}

func compileVariableDeclaration(fc *funcCompiler, n *ast.VariableDeclaration) error {
	k := scopeKind(n.Kind)
	for _, d := range n.Declarations {
		switch target := d.Target.(type) {
		case *ast.Identifier:
			var id int
			var err error
			if n.Kind == ast.Var {
				// already hoisted; resolve rather than redeclare.
				res, ok := fc.sc.FindLocal(target.Name)
				if !ok {
					id, err = fc.addLocal(target.Name, scope.KindVar)
					if err != nil {
						return err
					}
				} else {
					id = res
				}
			} else {
				id, err = fc.addLocal(target.Name, k)
				if err != nil {
					return err
				}
			}
			if d.Init != nil {
				if err := compileExprNamed(fc, d.Init, target.Name); err != nil {
					return err
				}
				fc.ib.BuildLocalStore(id, false)
				fc.ib.BuildSimple(bytecode.OpPop)
				if isNumberLiteral(d.Init) {
					fc.sc.SetInferredType(id, scope.TypeNumber)
				}
			} else if n.Kind != ast.Var {
				fc.ib.BuildSimple(bytecode.OpUndefined)
				fc.ib.BuildLocalStore(id, false)
				fc.ib.BuildSimple(bytecode.OpPop)
			}
		default:
			if d.Init == nil {
				return errf(ErrInvalidAssignment, "destructuring declaration requires an initializer")
			}
			if err := compileExpr(fc, d.Init); err != nil {
				return err
			}
			if err := compileDestructureDeclare(fc, target, k); err != nil {
				return err
			}
			// Destructure opcodes peek at the source value; discard it here.
			fc.ib.BuildSimple(bytecode.OpPop)
		}
	}
	return nil
}

func isNumberLiteral(e ast.Expression) bool {
	_, ok := e.(*ast.NumberLiteral)
	return ok
}

func compileFunctionDeclaration(fc *funcCompiler, n *ast.FunctionDeclaration) error {
	id, ok := fc.sc.FindLocal(n.Function.Name)
	if !ok {
		var err error
		id, err = fc.addLocal(n.Function.Name, scope.KindVar)
		if err != nil {
			return err
		}
	}
	if err := compileFunctionLiteral(fc, n.Function); err != nil {
		return err
	}
	fc.ib.BuildLocalStore(id, false)
	fc.ib.BuildSimple(bytecode.OpPop)
	return nil
}

// compileIf recurses directly on the Alternate branch, which is either
// nil, another *IfStatement, or a plain block, so an else-if chain
// compiles as uniformly as if each trailing else were itself a
// conditional.
func compileIf(fc *funcCompiler, n *ast.IfStatement) error {
	if err := compileExpr(fc, n.Test); err != nil {
		return err
	}
	elseLabel := bytecode.Label{Kind: bytecode.LocalLabel, Name: "IfBranch", ID: fc.newLocalID()}
	fc.ib.Jumps.EmitJump(bytecode.OpJmpFalseP, elseLabel)
	if err := compileStatement(fc, n.Consequent); err != nil {
		return err
	}
	if n.Alternate != nil {
		endLabel := bytecode.Label{Kind: bytecode.LocalLabel, Name: "IfEnd", ID: fc.newLocalID()}
		fc.ib.Jumps.EmitJump(bytecode.OpJmp, endLabel)
		fc.ib.Jumps.Place(elseLabel)
		if err := compileStatement(fc, n.Alternate); err != nil {
			return err
		}
		fc.ib.Jumps.Place(endLabel)
		return nil
	}
	fc.ib.Jumps.Place(elseLabel)
	return nil
}

func (fc *funcCompiler) pushBreakable(kind breakableKind, id int, label string) {
	fc.breakables = append(fc.breakables, breakable{kind: kind, id: id, label: label})
	if label != "" {
		fc.labelled[label] = len(fc.breakables) - 1
	}
}

func (fc *funcCompiler) popBreakable() {
	b := fc.breakables[len(fc.breakables)-1]
	if b.label != "" {
		delete(fc.labelled, b.label)
	}
	fc.breakables = fc.breakables[:len(fc.breakables)-1]
}

func loopEndLabel(id int) bytecode.Label {
	return bytecode.Label{Kind: bytecode.GlobalLabel, Name: "LoopEnd", ID: id}
}
func loopConditionLabel(id int) bytecode.Label {
	return bytecode.Label{Kind: bytecode.GlobalLabel, Name: "LoopCondition", ID: id}
}
func loopIncrementLabel(id int) bytecode.Label {
	return bytecode.Label{Kind: bytecode.GlobalLabel, Name: "LoopIncrement", ID: id}
}
func switchEndLabel(id int) bytecode.Label {
	return bytecode.Label{Kind: bytecode.GlobalLabel, Name: "SwitchEnd", ID: id}
}

func compileWhile(fc *funcCompiler, n *ast.WhileStatement, label string) error {
	id := fc.newGlobalID()
	fc.pushBreakable(breakLoop, id, label)
	defer fc.popBreakable()

	fc.ib.Jumps.Place(loopConditionLabel(id))
	if err := compileExpr(fc, n.Test); err != nil {
		return err
	}
	fc.ib.Jumps.EmitJump(bytecode.OpJmpFalseP, loopEndLabel(id))
	if err := compileStatement(fc, n.Body); err != nil {
		return err
	}
	fc.ib.Jumps.Place(loopIncrementLabel(id))
	fc.ib.Jumps.EmitJump(bytecode.OpJmp, loopConditionLabel(id))
	fc.ib.Jumps.Place(loopEndLabel(id))
	return nil
}

func compileDoWhile(fc *funcCompiler, n *ast.DoWhileStatement, label string) error {
	id := fc.newGlobalID()
	fc.pushBreakable(breakLoop, id, label)
	defer fc.popBreakable()

	bodyStart := bytecode.Label{Kind: bytecode.LocalLabel, Name: "DoWhileBody", ID: fc.newLocalID()}
	fc.ib.Jumps.Place(bodyStart)
	if err := compileStatement(fc, n.Body); err != nil {
		return err
	}
	fc.ib.Jumps.Place(loopIncrementLabel(id))
	fc.ib.Jumps.Place(loopConditionLabel(id))
	if err := compileExpr(fc, n.Test); err != nil {
		return err
	}
	fc.ib.Jumps.EmitJump(bytecode.OpJmpTrueP, bodyStart)
	fc.ib.Jumps.Place(loopEndLabel(id))
	return nil
}

func compileFor(fc *funcCompiler, n *ast.ForStatement, label string) error {
	fc.sc.EnterBlock()
	defer fc.sc.ExitBlock()

	switch init := n.Init.(type) {
	case *ast.VariableDeclaration:
		if err := compileVariableDeclaration(fc, init); err != nil {
			return err
		}
	case ast.Expression:
		if err := compileExpr(fc, init); err != nil {
			return err
		}
		fc.ib.BuildSimple(bytecode.OpPop)
	}

	id := fc.newGlobalID()
	fc.pushBreakable(breakLoop, id, label)
	defer fc.popBreakable()

	fc.ib.Jumps.Place(loopConditionLabel(id))
	if n.Test != nil {
		if err := compileExpr(fc, n.Test); err != nil {
			return err
		}
		fc.ib.Jumps.EmitJump(bytecode.OpJmpFalseP, loopEndLabel(id))
	}
	if err := compileStatement(fc, n.Body); err != nil {
		return err
	}
	fc.ib.Jumps.Place(loopIncrementLabel(id))
	if n.Update != nil {
		if err := compileExpr(fc, n.Update); err != nil {
			return err
		}
		fc.ib.BuildSimple(bytecode.OpPop)
	}
	fc.ib.Jumps.EmitJump(bytecode.OpJmp, loopConditionLabel(id))
	fc.ib.Jumps.Place(loopEndLabel(id))
	return nil
}

// forceBlock wraps a non-block body in a block so the loop-variable
// binding statement can be prepended at a well-defined position.
func forceBlock(body ast.Statement) *ast.BlockStatement {
	if b, ok := body.(*ast.BlockStatement); ok {
		return b
	}
	return &ast.BlockStatement{Body: []ast.Statement{body}}
}

// compileForOf desugars `for (x of e) body` into a plain while loop:
// allocate unnameable `iter`/`step` locals, iter = symbolIterator(e), loop
// while !(step = iter.next()).done, binding x = step.value at the head of
// a forced block body. The interpreter never sees a for-of construct.
func compileForOf(fc *funcCompiler, n *ast.ForOfStatement, label string) error {
	fc.sc.EnterBlock()
	defer fc.sc.ExitBlock()

	iterID, err := fc.sc.AddLocal("", scope.KindUnnameable)
	if err != nil {
		return err
	}
	stepID, err := fc.sc.AddLocal("", scope.KindUnnameable)
	if err != nil {
		return err
	}

	if err := compileExpr(fc, n.Iterable); err != nil {
		return err
	}
	fc.ib.BuildSimple(bytecode.OpSymbolIterator)
	fc.ib.BuildLocalStore(iterID, false)
	fc.ib.BuildSimple(bytecode.OpPop)

	id := fc.newGlobalID()
	fc.pushBreakable(breakLoop, id, label)
	defer fc.popBreakable()

	fc.ib.Jumps.Place(loopConditionLabel(id))
	if err := emitIteratorNext(fc, iterID); err != nil {
		return err
	}
	fc.ib.BuildLocalStore(stepID, false)
	if err := emitPropGetStatic(fc, "done", false); err != nil {
		return err
	}
	fc.ib.Jumps.EmitJump(bytecode.OpJmpTrueP, loopEndLabel(id))

	body := forceBlock(n.Body)
	fc.sc.EnterBlock()
	if err := bindForTarget(fc, n.Target, n.Declares, n.Kind, stepID); err != nil {
		fc.sc.ExitBlock()
		return err
	}
	if err := compileStatements(fc, body.Body); err != nil {
		fc.sc.ExitBlock()
		return err
	}
	fc.sc.ExitBlock()

	fc.ib.Jumps.Place(loopIncrementLabel(id))
	fc.ib.Jumps.EmitJump(bytecode.OpJmp, loopConditionLabel(id))
	fc.ib.Jumps.Place(loopEndLabel(id))
	return nil
}

func compileForIn(fc *funcCompiler, n *ast.ForInStatement, label string) error {
	fc.sc.EnterBlock()
	defer fc.sc.ExitBlock()

	iterID, err := fc.sc.AddLocal("", scope.KindUnnameable)
	if err != nil {
		return err
	}
	stepID, err := fc.sc.AddLocal("", scope.KindUnnameable)
	if err != nil {
		return err
	}

	if err := compileExpr(fc, n.Object); err != nil {
		return err
	}
	fc.ib.BuildSimple(bytecode.OpForInIterator)
	fc.ib.BuildLocalStore(iterID, false)
	fc.ib.BuildSimple(bytecode.OpPop)

	id := fc.newGlobalID()
	fc.pushBreakable(breakLoop, id, label)
	defer fc.popBreakable()

	fc.ib.Jumps.Place(loopConditionLabel(id))
	if err := emitIteratorNext(fc, iterID); err != nil {
		return err
	}
	fc.ib.BuildLocalStore(stepID, false)
	if err := emitPropGetStatic(fc, "done", false); err != nil {
		return err
	}
	fc.ib.Jumps.EmitJump(bytecode.OpJmpTrueP, loopEndLabel(id))

	body := forceBlock(n.Body)
	fc.sc.EnterBlock()
	if err := bindForTarget(fc, n.Target, n.Declares, n.Kind, stepID); err != nil {
		fc.sc.ExitBlock()
		return err
	}
	if err := compileStatements(fc, body.Body); err != nil {
		fc.sc.ExitBlock()
		return err
	}
	fc.sc.ExitBlock()

	fc.ib.Jumps.Place(loopIncrementLabel(id))
	fc.ib.Jumps.EmitJump(bytecode.OpJmp, loopConditionLabel(id))
	fc.ib.Jumps.Place(loopEndLabel(id))
	return nil
}

// emitIteratorNext emits `iter.next()`: load iter, get "next" with
// preserve_this so the call sequence has {callee, this}, then Call(0,has_this).
func emitIteratorNext(fc *funcCompiler, iterID int) error {
	fc.ib.BuildLocalLoad(iterID, false)
	if err := emitPropGetStatic(fc, "next", true); err != nil {
		return err
	}
	fc.ib.BuildCall(bytecode.CallMeta{Argc: 0, HasThis: true})
	return nil
}

func bindForTarget(fc *funcCompiler, target ast.Expression, declares bool, kind ast.VariableKind, stepID int) error {
	fc.ib.BuildLocalLoad(stepID, false)
	if err := emitPropGetStatic(fc, "value", false); err != nil {
		return err
	}
	if ident, ok := target.(*ast.Identifier); ok {
		if declares {
			id, err := fc.addLocal(ident.Name, scopeKind(kind))
			if err != nil {
				return err
			}
			fc.ib.BuildLocalStore(id, false)
			fc.ib.BuildSimple(bytecode.OpPop)
			return nil
		}
		res := fc.sc.Resolve(ident.Name)
		if !res.Found {
			return errf(ErrInvalidAssignment, "assignment to undeclared identifier %q", ident.Name)
		}
		if res.IsExternal {
			fc.ib.BuildLocalStore(res.ExternalID, true)
		} else {
			fc.ib.BuildLocalStore(res.LocalID, false)
		}
		fc.ib.BuildSimple(bytecode.OpPop)
		return nil
	}
	if declares {
		if err := compileDestructureDeclare(fc, target, scopeKind(kind)); err != nil {
			return err
		}
		fc.ib.BuildSimple(bytecode.OpPop)
		return nil
	}
	return unimplemented("for-in/for-of destructuring assignment target")
}

func compileBreak(fc *funcCompiler, label string) error {
	idx, err := findBreakable(fc, label, false)
	if err != nil {
		return err
	}
	b := fc.breakables[idx]
	if b.kind == breakLoop {
		fc.ib.Jumps.EmitJump(bytecode.OpJmp, loopEndLabel(b.id))
	} else {
		fc.ib.Jumps.EmitJump(bytecode.OpJmp, switchEndLabel(b.id))
	}
	return nil
}

func compileContinue(fc *funcCompiler, label string) error {
	idx, err := findBreakable(fc, label, true)
	if err != nil {
		return err
	}
	fc.ib.Jumps.EmitJump(bytecode.OpJmp, loopIncrementLabel(fc.breakables[idx].id))
	return nil
}

// findBreakable resolves a break/continue target: unlabelled break
// targets the innermost breakable; unlabelled continue targets the nearest
// loop, skipping switch entries; labelled forms look up the breakable a
// LabeledStatement attached that label to.
func findBreakable(fc *funcCompiler, label string, mustBeLoop bool) (int, error) {
	if label != "" {
		idx, ok := fc.labelled[label]
		if !ok {
			return 0, errf(ErrIllegalBreakContinue, "undefined label %q", label)
		}
		if mustBeLoop && fc.breakables[idx].kind != breakLoop {
			return 0, errf(ErrIllegalBreakContinue, "continue label %q does not name a loop", label)
		}
		return idx, nil
	}
	for i := len(fc.breakables) - 1; i >= 0; i-- {
		if !mustBeLoop || fc.breakables[i].kind == breakLoop {
			return i, nil
		}
	}
	if mustBeLoop {
		return 0, errf(ErrIllegalBreakContinue, "continue used outside of a loop")
	}
	return 0, errf(ErrIllegalBreakContinue, "break used outside of a loop or switch")
}

// compileLabeled attaches the label to the loop/switch breakable the
// labelled statement directly wraps, so break/continue can name a target
// other than the innermost one.
func compileLabeled(fc *funcCompiler, n *ast.LabeledStatement) error {
	switch body := n.Body.(type) {
	case *ast.WhileStatement:
		return compileWhile(fc, body, n.Label)
	case *ast.DoWhileStatement:
		return compileDoWhile(fc, body, n.Label)
	case *ast.ForStatement:
		return compileFor(fc, body, n.Label)
	case *ast.ForInStatement:
		return compileForIn(fc, body, n.Label)
	case *ast.ForOfStatement:
		return compileForOf(fc, body, n.Label)
	case *ast.SwitchStatement:
		return compileSwitchLabeled(fc, body, n.Label)
	default:
		return compileStatement(fc, n.Body)
	}
}

func compileSwitch(fc *funcCompiler, n *ast.SwitchStatement) error {
	return compileSwitchLabeled(fc, n, "")
}

// compileSwitchLabeled pushes the discriminant and every case value, then
// emits Switch with its inline jump table and patches each table slot once
// the matching body's start address is known.
func compileSwitchLabeled(fc *funcCompiler, n *ast.SwitchStatement, label string) error {
	if len(n.Cases) > maxSwitchCase {
		return errf(ErrLimitExceeded, "switch declares more than %d cases", maxSwitchCase)
	}
	id := fc.newGlobalID()
	fc.pushBreakable(breakSwitch, id, label)
	defer fc.popBreakable()

	if err := compileExpr(fc, n.Discriminant); err != nil {
		return err
	}

	var nonDefault []ast.SwitchCase
	var defaultCase *ast.SwitchCase
	for i := range n.Cases {
		c := n.Cases[i]
		if c.Test == nil {
			defaultCase = &n.Cases[i]
		} else {
			nonDefault = append(nonDefault, c)
		}
	}
	for _, c := range nonDefault {
		if err := compileExpr(fc, c.Test); err != nil {
			return err
		}
	}

	caseSlots, defaultSlot, endSlot := fc.ib.BuildSwitch(len(nonDefault), defaultCase != nil)

	// Every case body (including default) is compiled in source order,
	// each preceded by placing its table target; bodies fall through to
	// the next one exactly like a native JS switch unless a body ends in
	// break/return/throw, matching ECMAScript fallthrough semantics.
	bodyStarts := make(map[*ast.SwitchCase]int)
	order := make([]*ast.SwitchCase, len(n.Cases))
	for i := range n.Cases {
		order[i] = &n.Cases[i]
	}
	fc.sc.EnterBlock()
	for _, c := range order {
		bodyStarts[c] = fc.ib.Len()
		if err := compileStatements(fc, c.Body); err != nil {
			fc.sc.ExitBlock()
			return err
		}
	}
	fc.sc.ExitBlock()
	endPos := fc.ib.Len()

	ndIdx := 0
	for _, c := range order {
		if c.Test == nil {
			continue
		}
		fc.ib.PatchAbsU16(caseSlots[ndIdx], bodyStarts[c])
		ndIdx++
	}
	if defaultCase != nil {
		fc.ib.PatchAbsU16(defaultSlot, bodyStarts[defaultCase])
	}
	fc.ib.PatchAbsU16(endSlot, endPos)
	fc.ib.Jumps.Place(switchEndLabel(id))
	return nil
}

// compileTry emits TryBegin/TryEnd around the protected block with the
// catch address patched in afterwards. finally, when present, is compiled
// once after the try/catch and executed on the fall-through
// (normal-completion and caught-exception) paths; it is not re-spliced
// into every early return/break/continue exit.
func compileTry(fc *funcCompiler, n *ast.TryStatement) error {
	if n.Handler == nil {
		// try/finally without a catch: no handler to unwind to, so no
		// TryBegin is emitted; the finally body simply follows the block.
		if err := compileStatement(fc, n.Block); err != nil {
			return err
		}
		if n.Finally != nil {
			return compileStatement(fc, n.Finally)
		}
		return nil
	}

	bindingLocal := uint16(0xFFFF)
	fc.sc.EnterBlock()
	if id, ok := n.Handler.Param.(*ast.Identifier); ok {
		bindingID, err := fc.addLocal(id.Name, scope.KindLet)
		if err != nil {
			fc.sc.ExitBlock()
			return err
		}
		if bindingID > 0xFFFE {
			fc.sc.ExitBlock()
			return errf(ErrLimitExceeded, "catch binding local index out of range")
		}
		bindingLocal = uint16(bindingID)
	}
	tryBeginPatch := fc.ib.BuildTryBegin(bindingLocal)

	fc.tryDepth++
	if err := compileStatement(fc, n.Block); err != nil {
		fc.tryDepth--
		fc.sc.ExitBlock()
		return err
	}
	fc.tryDepth--

	fc.ib.BuildTryEnd()
	endLabel := bytecode.Label{Kind: bytecode.LocalLabel, Name: "TryEnd", ID: fc.newLocalID()}
	fc.ib.Jumps.EmitJump(bytecode.OpJmp, endLabel)

	catchIP := fc.ib.Len()
	fc.ib.PatchU16(tryBeginPatch, uint16(catchIP))
	if err := compileStatement(fc, n.Handler.Body); err != nil {
		fc.sc.ExitBlock()
		return err
	}
	fc.ib.Jumps.Place(endLabel)
	fc.sc.ExitBlock()

	if n.Finally != nil {
		if err := compileStatement(fc, n.Finally); err != nil {
			return err
		}
	}
	return nil
}

// compileImportDeclaration lowers each specifier to StaticImport(kind,
// name_id, path_id) + a store into its const binding.
func compileImportDeclaration(fc *funcCompiler, n *ast.ImportDeclaration) error {
	pathIdx, err := fc.addStringConstant(n.Source)
	if err != nil {
		return err
	}
	for _, spec := range n.Specifiers {
		id, err := fc.addLocal(spec.Local, scope.KindConst)
		if err != nil {
			return err
		}
		kind := uint8(bytecode.ImportNamed)
		nameIdx := 0
		switch spec.Imported {
		case "*":
			kind = bytecode.ImportNamespace
		case "":
			kind = bytecode.ImportDefault
		default:
			nameIdx, err = fc.addIdentConstant(spec.Imported)
			if err != nil {
				return err
			}
		}
		fc.ib.BuildStaticImport(kind, nameIdx, pathIdx)
		fc.ib.BuildLocalStore(id, false)
		fc.ib.BuildSimple(bytecode.OpPop)
	}
	return nil
}

// compileExportNamed compiles the wrapped declaration (if any), then emits
// NamedExport(n) with (name, local) pairs for every binding it introduced
// or every listed specifier.
func compileExportNamed(fc *funcCompiler, n *ast.ExportNamedDeclaration) error {
	if n.Source != "" {
		return unimplemented("re-export from another module")
	}
	var names [][2]string // exported name, local name
	if n.Declaration != nil {
		if err := compileStatement(fc, n.Declaration); err != nil {
			return err
		}
		for _, name := range declaredNames(n.Declaration) {
			names = append(names, [2]string{name, name})
		}
	}
	for _, spec := range n.Specifiers {
		exported := spec.Imported
		if exported == "" {
			exported = spec.Local
		}
		names = append(names, [2]string{exported, spec.Local})
	}
	var pairs [][2]int
	for _, nm := range names {
		res := fc.sc.Resolve(nm[1])
		if !res.Found || !res.IsLocal {
			return errf(ErrInvalidAssignment, "export of undeclared identifier %q", nm[1])
		}
		nameIdx, err := fc.addIdentConstant(nm[0])
		if err != nil {
			return err
		}
		pairs = append(pairs, [2]int{nameIdx, res.LocalID})
	}
	fc.ib.BuildNamedExport(pairs)
	return nil
}

// declaredNames lists the bindings a declaration statement introduces.
func declaredNames(s ast.Statement) []string {
	switch d := s.(type) {
	case *ast.VariableDeclaration:
		var out []string
		for _, decl := range d.Declarations {
			out = append(out, bindingNames(decl.Target)...)
		}
		return out
	case *ast.FunctionDeclaration:
		return []string{d.Function.Name}
	case *ast.ClassDeclaration:
		return []string{d.Class.Name}
	}
	return nil
}

func compileExportDefault(fc *funcCompiler, n *ast.ExportDefaultDeclaration) error {
	switch d := n.Declaration.(type) {
	case *ast.FunctionDeclaration:
		if err := compileFunctionLiteral(fc, d.Function); err != nil {
			return err
		}
	case *ast.ClassDeclaration:
		if err := compileClassExpression(fc, d.Class); err != nil {
			return err
		}
	case ast.Expression:
		if err := compileExpr(fc, d); err != nil {
			return err
		}
	default:
		return unimplemented("export default declaration")
	}
	fc.ib.BuildDefaultExport()
	return nil
}
