package main

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/wudi/dashvm/ast"
)

// The reader turns a line of driver input into the AST subset the engine
// core consumes. The engine's contract starts at the AST (the full
// lexer/parser is an external collaborator); this reader exists so the
// REPL and -e have an input surface, and deliberately covers only
// declarations and expressions — not control flow or function bodies.

type reader struct {
	src []rune
	pos int
}

func parseSource(src string) (*ast.Program, error) {
	r := &reader{src: []rune(src)}
	prog := &ast.Program{}
	for {
		r.skipSpace()
		if r.eof() {
			break
		}
		stmt, err := r.statement()
		if err != nil {
			return nil, err
		}
		prog.Body = append(prog.Body, stmt)
		r.skipSpace()
		for !r.eof() && r.src[r.pos] == ';' {
			r.pos++
			r.skipSpace()
		}
	}
	return prog, nil
}

func (r *reader) eof() bool { return r.pos >= len(r.src) }

func (r *reader) skipSpace() {
	for !r.eof() && unicode.IsSpace(r.src[r.pos]) {
		r.pos++
	}
}

func (r *reader) errf(format string, args ...interface{}) error {
	return fmt.Errorf("parse error at offset %d: %s", r.pos, fmt.Sprintf(format, args...))
}

func (r *reader) peekWord() string {
	i := r.pos
	for i < len(r.src) && (unicode.IsLetter(r.src[i]) || r.src[i] == '_' || r.src[i] == '$' || unicode.IsDigit(r.src[i])) {
		i++
	}
	return string(r.src[r.pos:i])
}

func (r *reader) statement() (ast.Statement, error) {
	switch w := r.peekWord(); w {
	case "let", "const", "var":
		r.pos += len(w)
		return r.declaration(w)
	default:
		e, err := r.expression()
		if err != nil {
			return nil, err
		}
		return &ast.ExpressionStatement{Expression: e}, nil
	}
}

func (r *reader) declaration(kw string) (ast.Statement, error) {
	kind := ast.Var
	switch kw {
	case "let":
		kind = ast.Let
	case "const":
		kind = ast.Const
	}
	decl := &ast.VariableDeclaration{Kind: kind}
	for {
		r.skipSpace()
		name := r.peekWord()
		if name == "" {
			return nil, r.errf("expected identifier")
		}
		r.pos += len(name)
		d := ast.VariableDeclarator{Target: &ast.Identifier{Name: name}}
		r.skipSpace()
		if !r.eof() && r.src[r.pos] == '=' && (r.pos+1 >= len(r.src) || r.src[r.pos+1] != '=') {
			r.pos++
			init, err := r.expression()
			if err != nil {
				return nil, err
			}
			d.Init = init
		}
		decl.Declarations = append(decl.Declarations, d)
		r.skipSpace()
		if r.eof() || r.src[r.pos] != ',' {
			break
		}
		r.pos++
	}
	return decl, nil
}

// binaryLevels orders operators loosest-first for the precedence climb.
var binaryLevels = [][]string{
	{"||", "??"},
	{"&&"},
	{"===", "!==", "==", "!="},
	{"<=", ">=", "<", ">"},
	{"+", "-"},
	{"*", "/", "%"},
}

func (r *reader) expression() (ast.Expression, error) { return r.assignment() }

func (r *reader) assignment() (ast.Expression, error) {
	left, err := r.binary(0)
	if err != nil {
		return nil, err
	}
	r.skipSpace()
	if !r.eof() && r.src[r.pos] == '=' && (r.pos+1 >= len(r.src) || r.src[r.pos+1] != '=') {
		switch left.(type) {
		case *ast.Identifier, *ast.MemberExpression:
		default:
			return nil, r.errf("invalid assignment target")
		}
		r.pos++
		right, err := r.assignment()
		if err != nil {
			return nil, err
		}
		return &ast.AssignmentExpression{Operator: "=", Target: left, Value: right}, nil
	}
	return left, nil
}

func (r *reader) binary(level int) (ast.Expression, error) {
	if level >= len(binaryLevels) {
		return r.unary()
	}
	left, err := r.binary(level + 1)
	if err != nil {
		return nil, err
	}
	for {
		r.skipSpace()
		op := r.matchOp(binaryLevels[level])
		if op == "" {
			return left, nil
		}
		right, err := r.binary(level + 1)
		if err != nil {
			return nil, err
		}
		if op == "||" || op == "&&" || op == "??" {
			left = &ast.LogicalExpression{Operator: op, Left: left, Right: right}
		} else {
			left = &ast.BinaryExpression{Operator: op, Left: left, Right: right}
		}
	}
}

func (r *reader) matchOp(ops []string) string {
	rest := string(r.src[r.pos:])
	for _, op := range ops {
		if strings.HasPrefix(rest, op) {
			r.pos += len(op)
			return op
		}
	}
	return ""
}

func (r *reader) unary() (ast.Expression, error) {
	r.skipSpace()
	if r.eof() {
		return nil, r.errf("unexpected end of input")
	}
	if w := r.peekWord(); w == "typeof" {
		r.pos += len(w)
		arg, err := r.unary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpression{Operator: "typeof", Argument: arg}, nil
	}
	switch r.src[r.pos] {
	case '-', '+', '!':
		op := string(r.src[r.pos])
		r.pos++
		arg, err := r.unary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpression{Operator: op, Argument: arg}, nil
	}
	return r.postfix()
}

func (r *reader) postfix() (ast.Expression, error) {
	e, err := r.primary()
	if err != nil {
		return nil, err
	}
	for {
		r.skipSpace()
		if r.eof() {
			return e, nil
		}
		switch r.src[r.pos] {
		case '.':
			r.pos++
			r.skipSpace()
			name := r.peekWord()
			if name == "" {
				return nil, r.errf("expected property name")
			}
			r.pos += len(name)
			e = &ast.MemberExpression{Object: e, Property: &ast.Identifier{Name: name}}
		case '[':
			r.pos++
			idx, err := r.expression()
			if err != nil {
				return nil, err
			}
			if err := r.expect(']'); err != nil {
				return nil, err
			}
			e = &ast.MemberExpression{Object: e, Property: idx, Computed: true}
		case '(':
			r.pos++
			var args []ast.Expression
			r.skipSpace()
			if !r.eof() && r.src[r.pos] == ')' {
				r.pos++
			} else {
				for {
					a, err := r.expression()
					if err != nil {
						return nil, err
					}
					args = append(args, a)
					r.skipSpace()
					if r.eof() {
						return nil, r.errf("unterminated call")
					}
					if r.src[r.pos] == ',' {
						r.pos++
						continue
					}
					if r.src[r.pos] == ')' {
						r.pos++
						break
					}
					return nil, r.errf("expected , or )")
				}
			}
			e = &ast.CallExpression{Callee: e, Arguments: args}
		default:
			return e, nil
		}
	}
}

func (r *reader) expect(c rune) error {
	r.skipSpace()
	if r.eof() || r.src[r.pos] != c {
		return r.errf("expected %q", string(c))
	}
	r.pos++
	return nil
}

func (r *reader) primary() (ast.Expression, error) {
	r.skipSpace()
	if r.eof() {
		return nil, r.errf("unexpected end of input")
	}
	c := r.src[r.pos]
	switch {
	case c == '(':
		r.pos++
		e, err := r.expression()
		if err != nil {
			return nil, err
		}
		if err := r.expect(')'); err != nil {
			return nil, err
		}
		return e, nil

	case c == '[':
		r.pos++
		var elems []ast.Expression
		r.skipSpace()
		if !r.eof() && r.src[r.pos] == ']' {
			r.pos++
			return &ast.ArrayLiteral{}, nil
		}
		for {
			e, err := r.expression()
			if err != nil {
				return nil, err
			}
			elems = append(elems, e)
			r.skipSpace()
			if r.eof() {
				return nil, r.errf("unterminated array literal")
			}
			if r.src[r.pos] == ',' {
				r.pos++
				continue
			}
			if r.src[r.pos] == ']' {
				r.pos++
				return &ast.ArrayLiteral{Elements: elems}, nil
			}
			return nil, r.errf("expected , or ]")
		}

	case c == '{':
		return r.objectLiteral()

	case c == '"' || c == '\'':
		return r.stringLiteral(c)

	case unicode.IsDigit(c):
		return r.numberLiteral()

	case unicode.IsLetter(c) || c == '_' || c == '$':
		w := r.peekWord()
		r.pos += len(w)
		switch w {
		case "true":
			return &ast.BooleanLiteral{Value: true}, nil
		case "false":
			return &ast.BooleanLiteral{Value: false}, nil
		case "null":
			return &ast.NullLiteral{}, nil
		case "undefined":
			return &ast.UndefinedLiteral{}, nil
		default:
			return &ast.Identifier{Name: w}, nil
		}

	default:
		return nil, r.errf("unexpected character %q", string(c))
	}
}

func (r *reader) objectLiteral() (ast.Expression, error) {
	r.pos++ // {
	obj := &ast.ObjectLiteral{}
	r.skipSpace()
	if !r.eof() && r.src[r.pos] == '}' {
		r.pos++
		return obj, nil
	}
	for {
		r.skipSpace()
		var key ast.Expression
		if !r.eof() && (r.src[r.pos] == '"' || r.src[r.pos] == '\'') {
			k, err := r.stringLiteral(r.src[r.pos])
			if err != nil {
				return nil, err
			}
			key = k
		} else {
			w := r.peekWord()
			if w == "" {
				return nil, r.errf("expected property key")
			}
			r.pos += len(w)
			key = &ast.Identifier{Name: w}
		}
		if err := r.expect(':'); err != nil {
			return nil, err
		}
		v, err := r.expression()
		if err != nil {
			return nil, err
		}
		obj.Properties = append(obj.Properties, ast.ObjectProperty{Key: key, Value: v, Kind: "init"})
		r.skipSpace()
		if r.eof() {
			return nil, r.errf("unterminated object literal")
		}
		if r.src[r.pos] == ',' {
			r.pos++
			continue
		}
		if r.src[r.pos] == '}' {
			r.pos++
			return obj, nil
		}
		return nil, r.errf("expected , or }")
	}
}

func (r *reader) stringLiteral(quote rune) (*ast.StringLiteral, error) {
	r.pos++ // opening quote
	var b strings.Builder
	for !r.eof() {
		c := r.src[r.pos]
		if c == quote {
			r.pos++
			return &ast.StringLiteral{Value: b.String()}, nil
		}
		if c == '\\' && r.pos+1 < len(r.src) {
			r.pos++
			switch e := r.src[r.pos]; e {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			default:
				b.WriteRune(e)
			}
			r.pos++
			continue
		}
		b.WriteRune(c)
		r.pos++
	}
	return nil, r.errf("unterminated string literal")
}

func (r *reader) numberLiteral() (*ast.NumberLiteral, error) {
	start := r.pos
	for !r.eof() && (unicode.IsDigit(r.src[r.pos]) || r.src[r.pos] == '.' || r.src[r.pos] == 'e' || r.src[r.pos] == 'E') {
		r.pos++
	}
	n, err := strconv.ParseFloat(string(r.src[start:r.pos]), 64)
	if err != nil {
		return nil, r.errf("invalid number literal")
	}
	return &ast.NumberLiteral{Value: n}, nil
}
