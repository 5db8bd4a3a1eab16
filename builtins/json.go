package builtins

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/wudi/dashvm/heap"
	"github.com/wudi/dashvm/value"
	"github.com/wudi/dashvm/vm"
)

// installJSON registers JSON.parse and JSON.stringify. The reader is
// hand-rolled over the input bytes: it has to produce engine values
// (heap.Array/heap.PlainObject) directly, which rules out unmarshalling
// through an intermediate Go representation.
func installJSON(v *vm.Vm, h *heap.Heap) {
	j := h.NewPlainObject()
	j.SetHidden("parse", native(h, "parse", func(ctx *heap.CallContext) (value.Value, error) {
		src, err := value.ToString(ctx.Arg(0), ctx.Invoker)
		if err != nil {
			return value.Undefined(), err
		}
		p := &jsonParser{src: src, heap: h}
		out, err := p.parseValue()
		if err != nil {
			return value.Undefined(), err
		}
		p.skipSpace()
		if p.pos != len(p.src) {
			return value.Undefined(), p.syntaxError("unexpected trailing characters")
		}
		return out, nil
	}))
	j.SetHidden("stringify", native(h, "stringify", func(ctx *heap.CallContext) (value.Value, error) {
		s, ok := stringifyJSON(ctx.Arg(0).Deref())
		if !ok {
			return value.Undefined(), nil
		}
		return value.String(s), nil
	}))
	v.SetGlobal("JSON", value.FromObject(j))
}

type jsonParser struct {
	src  string
	pos  int
	heap *heap.Heap
}

func (p *jsonParser) syntaxError(msg string) error {
	return value.Throw(value.String(fmt.Sprintf("SyntaxError: JSON.parse: %s at position %d", msg, p.pos)))
}

func (p *jsonParser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *jsonParser) parseValue() (value.Value, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return value.Undefined(), p.syntaxError("unexpected end of input")
	}
	switch c := p.src[p.pos]; {
	case c == '{':
		return p.parseObject()
	case c == '[':
		return p.parseArray()
	case c == '"':
		s, err := p.parseString()
		if err != nil {
			return value.Undefined(), err
		}
		return value.String(s), nil
	case c == 't':
		return p.parseKeyword("true", value.Boolean(true))
	case c == 'f':
		return p.parseKeyword("false", value.Boolean(false))
	case c == 'n':
		return p.parseKeyword("null", value.Null())
	case c == '-' || (c >= '0' && c <= '9'):
		return p.parseNumber()
	default:
		return value.Undefined(), p.syntaxError("unexpected character " + string(c))
	}
}

func (p *jsonParser) parseKeyword(kw string, out value.Value) (value.Value, error) {
	if !strings.HasPrefix(p.src[p.pos:], kw) {
		return value.Undefined(), p.syntaxError("invalid literal")
	}
	p.pos += len(kw)
	return out, nil
}

func (p *jsonParser) parseNumber() (value.Value, error) {
	start := p.pos
	if p.pos < len(p.src) && p.src[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if (c >= '0' && c <= '9') || c == '.' || c == 'e' || c == 'E' || c == '+' || c == '-' {
			p.pos++
			continue
		}
		break
	}
	n, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return value.Undefined(), p.syntaxError("invalid number")
	}
	return value.Number(n), nil
}

func (p *jsonParser) parseString() (string, error) {
	p.pos++ // opening quote
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '"':
			p.pos++
			return b.String(), nil
		case c == '\\':
			p.pos++
			if p.pos >= len(p.src) {
				return "", p.syntaxError("unterminated escape")
			}
			switch e := p.src[p.pos]; e {
			case '"', '\\', '/':
				b.WriteByte(e)
			case 'b':
				b.WriteByte('\b')
			case 'f':
				b.WriteByte('\f')
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'u':
				if p.pos+4 >= len(p.src) {
					return "", p.syntaxError("truncated unicode escape")
				}
				n, err := strconv.ParseUint(p.src[p.pos+1:p.pos+5], 16, 32)
				if err != nil {
					return "", p.syntaxError("invalid unicode escape")
				}
				p.pos += 4
				r := rune(n)
				if utf16.IsSurrogate(r) && p.pos+6 < len(p.src) && p.src[p.pos+1] == '\\' && p.src[p.pos+2] == 'u' {
					lo, err := strconv.ParseUint(p.src[p.pos+3:p.pos+7], 16, 32)
					if err == nil {
						if dec := utf16.DecodeRune(r, rune(lo)); dec != utf8.RuneError {
							r = dec
							p.pos += 6
						}
					}
				}
				b.WriteRune(r)
			default:
				return "", p.syntaxError("invalid escape character")
			}
			p.pos++
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return "", p.syntaxError("unterminated string")
}

func (p *jsonParser) parseArray() (value.Value, error) {
	p.pos++ // [
	var elems []value.Value
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == ']' {
		p.pos++
		return value.FromObject(p.heap.NewArray(nil)), nil
	}
	for {
		v, err := p.parseValue()
		if err != nil {
			return value.Undefined(), err
		}
		elems = append(elems, v)
		p.skipSpace()
		if p.pos >= len(p.src) {
			return value.Undefined(), p.syntaxError("unterminated array")
		}
		switch p.src[p.pos] {
		case ',':
			p.pos++
		case ']':
			p.pos++
			return value.FromObject(p.heap.NewArray(elems)), nil
		default:
			return value.Undefined(), p.syntaxError("expected , or ]")
		}
	}
}

func (p *jsonParser) parseObject() (value.Value, error) {
	p.pos++ // {
	obj := p.heap.NewPlainObject()
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == '}' {
		p.pos++
		return value.FromObject(obj), nil
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) || p.src[p.pos] != '"' {
			return value.Undefined(), p.syntaxError("expected property name")
		}
		key, err := p.parseString()
		if err != nil {
			return value.Undefined(), err
		}
		p.skipSpace()
		if p.pos >= len(p.src) || p.src[p.pos] != ':' {
			return value.Undefined(), p.syntaxError("expected :")
		}
		p.pos++
		v, err := p.parseValue()
		if err != nil {
			return value.Undefined(), err
		}
		obj.Set(value.String(key), v)
		p.skipSpace()
		if p.pos >= len(p.src) {
			return value.Undefined(), p.syntaxError("unterminated object")
		}
		switch p.src[p.pos] {
		case ',':
			p.pos++
		case '}':
			p.pos++
			return value.FromObject(obj), nil
		default:
			return value.Undefined(), p.syntaxError("expected , or }")
		}
	}
}

func stringifyJSON(v value.Value) (string, bool) {
	v = v.Deref()
	switch v.Kind {
	case value.KindNull:
		return "null", true
	case value.KindBoolean, value.KindNumber:
		return value.ToStringOrEmpty(v), true
	case value.KindString:
		return strconv.Quote(v.Str()), true
	case value.KindObject:
		switch o := v.Object().(type) {
		case *heap.Array:
			parts := make([]string, len(o.Elements))
			for i, el := range o.Elements {
				s, ok := stringifyJSON(el)
				if !ok {
					s = "null"
				}
				parts[i] = s
			}
			return "[" + strings.Join(parts, ",") + "]", true
		case *heap.Function:
			return "", false
		default:
			var parts []string
			for _, k := range o.OwnKeys() {
				pv, _ := o.Get(k)
				s, ok := stringifyJSON(pv)
				if !ok {
					continue
				}
				parts = append(parts, strconv.Quote(value.ToStringOrEmpty(k))+":"+s)
			}
			return "{" + strings.Join(parts, ",") + "}", true
		}
	default:
		return "", false
	}
}
