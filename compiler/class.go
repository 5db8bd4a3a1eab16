package compiler

import (
	"github.com/wudi/dashvm/ast"
	"github.com/wudi/dashvm/bytecode"
	"github.com/wudi/dashvm/scope"
)

// compileClassDeclaration binds the desugared class constructor to a
// block-scoped local carrying the class name.
func compileClassDeclaration(fc *funcCompiler, n *ast.ClassDeclaration) error {
	id, err := fc.addLocal(n.Class.Name, scope.KindLet)
	if err != nil {
		return err
	}
	if err := compileClassExpression(fc, n.Class); err != nil {
		return err
	}
	fc.ib.BuildLocalStore(id, false)
	fc.ib.BuildSimple(bytecode.OpPop)
	return nil
}

// compileClassExpression desugars a class into its constructor function
// plus a sequence of property assignments on the prototype (instance
// members) or the constructor object itself (static members). Field
// initializers are prepended to the constructor body as `this.field =
// value` statements. `extends` is rejected at compile time.
func compileClassExpression(fc *funcCompiler, n *ast.ClassExpression) error {
	if n.Super != nil {
		return errf(ErrUnsupportedClass, "class %q uses extends, which is not supported", n.Name)
	}

	var ctor *ast.FunctionLiteral
	var fieldInits []ast.Statement
	var methods []ast.ClassMember
	var staticFields []ast.ClassMember

	for _, m := range n.Members {
		switch m.Kind {
		case "constructor":
			ctor = m.Value
		case "method":
			methods = append(methods, m)
		case "field":
			if m.Static {
				staticFields = append(staticFields, m)
				continue
			}
			name, ok := memberKeyName(m.Key)
			if !ok {
				return errf(ErrUnsupportedClass, "computed class field name")
			}
			init := m.Field
			if init == nil {
				init = &ast.UndefinedLiteral{}
			}
			fieldInits = append(fieldInits, &ast.ExpressionStatement{
				Expression: &ast.AssignmentExpression{
					Operator: "=",
					Target: &ast.MemberExpression{
						Object:   &ast.ThisExpression{},
						Property: &ast.Identifier{Name: name},
					},
					Value: init,
				},
			})
		case "get", "set":
			return errf(ErrUnsupportedClass, "class accessors are not supported")
		default:
			return errf(ErrUnsupportedClass, "unsupported class member kind %q", m.Kind)
		}
	}

	if ctor == nil {
		ctor = &ast.FunctionLiteral{Body: &ast.BlockStatement{}}
	}
	if len(fieldInits) > 0 {
		body := append(append([]ast.Statement{}, fieldInits...), ctor.Body.Body...)
		ctor = &ast.FunctionLiteral{
			Params:  ctor.Params,
			Body:    &ast.BlockStatement{Body: body},
			IsAsync: ctor.IsAsync,
		}
	}
	if err := compileFunctionLiteralNamed(fc, ctor, n.Name); err != nil {
		return err
	}

	protoIdx, err := fc.addIdentConstant("prototype")
	if err != nil {
		return err
	}
	for _, m := range methods {
		name, ok := memberKeyName(m.Key)
		if !ok {
			return errf(ErrUnsupportedClass, "computed class method name")
		}
		nameIdx, err := fc.addIdentConstant(name)
		if err != nil {
			return err
		}
		fc.ib.BuildSimple(bytecode.OpDup)
		if !m.Static {
			fc.ib.BuildStaticPropGet(protoIdx, false)
		}
		lit := *m.Value
		if err := compileFunctionLiteralNamed(fc, &lit, name); err != nil {
			return err
		}
		fc.ib.BuildStaticPropSet(nameIdx)
		fc.ib.BuildSimple(bytecode.OpPop)
	}
	for _, m := range staticFields {
		name, ok := memberKeyName(m.Key)
		if !ok {
			return errf(ErrUnsupportedClass, "computed class field name")
		}
		nameIdx, err := fc.addIdentConstant(name)
		if err != nil {
			return err
		}
		fc.ib.BuildSimple(bytecode.OpDup)
		if m.Field != nil {
			if err := compileExpr(fc, m.Field); err != nil {
				return err
			}
		} else {
			fc.ib.BuildSimple(bytecode.OpUndefined)
		}
		fc.ib.BuildStaticPropSet(nameIdx)
		fc.ib.BuildSimple(bytecode.OpPop)
	}
	return nil
}

func memberKeyName(key ast.Expression) (string, bool) {
	switch k := key.(type) {
	case *ast.Identifier:
		return k.Name, true
	case *ast.StringLiteral:
		return k.Value, true
	}
	return "", false
}
