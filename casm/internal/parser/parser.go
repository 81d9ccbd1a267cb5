package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/continuations/casm/internal/token"
	"github.com/wippyai/continuations/classfile"
	"github.com/wippyai/continuations/errors"
)

type Parser struct {
	tokens []token.Token
	pos    int
}

func New(tokens []token.Token) *Parser {
	return &Parser{tokens: tokens}
}

// Parse reads a single class form and requires the input to end after it.
func (p *Parser) Parse() (*classfile.Class, error) {
	c, err := p.parseClass()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t != nil {
		return nil, p.errorf(t, "unexpected %q after class", t.Value)
	}
	return c, nil
}

func (p *Parser) peek() *token.Token {
	if p.pos >= len(p.tokens) {
		return nil
	}
	return &p.tokens[p.pos]
}

func (p *Parser) next() *token.Token {
	if p.pos >= len(p.tokens) {
		return nil
	}
	t := &p.tokens[p.pos]
	p.pos++
	return t
}

func (p *Parser) lastLine() int {
	if len(p.tokens) == 0 {
		return 1
	}
	return p.tokens[len(p.tokens)-1].Line
}

func (p *Parser) errorf(t *token.Token, format string, args ...any) error {
	line := p.lastLine()
	if t != nil {
		line = t.Line
	}
	return errors.New(errors.PhaseParse, errors.KindInvalidInput).
		Value(line).
		Detail("line %d: %s", line, fmt.Sprintf(format, args...)).
		Build()
}

func (p *Parser) expect(typ token.Type) (*token.Token, error) {
	t := p.next()
	if t == nil {
		return nil, p.errorf(nil, "unexpected end of input")
	}
	if t.Type != typ {
		return nil, p.errorf(t, "expected %v, got %q", typ, t.Value)
	}
	return t, nil
}

func (p *Parser) expectKeyword(kw string) error {
	t, err := p.expect(token.Ident)
	if err != nil {
		return err
	}
	if t.Value != kw {
		return p.errorf(t, "expected '%s', got %q", kw, t.Value)
	}
	return nil
}

// form reports whether the next tokens open a parenthesized form with the
// given keyword.
func (p *Parser) form(kw string) bool {
	if p.pos+1 >= len(p.tokens) {
		return false
	}
	return p.tokens[p.pos].Type == token.LParen &&
		p.tokens[p.pos+1].Type == token.Ident &&
		p.tokens[p.pos+1].Value == kw
}

func (p *Parser) closeForm() error {
	_, err := p.expect(token.RParen)
	return err
}

func (p *Parser) parseString() (string, error) {
	t, err := p.expect(token.String)
	if err != nil {
		return "", err
	}
	s, uerr := strconv.Unquote(`"` + t.Value + `"`)
	if uerr != nil {
		return "", p.errorf(t, "invalid string literal %q", t.Value)
	}
	return s, nil
}

func (p *Parser) parseInt(bits int) (int64, error) {
	t, err := p.expect(token.Number)
	if err != nil {
		return 0, err
	}
	v, perr := strconv.ParseInt(strings.ReplaceAll(t.Value, "_", ""), 0, bits)
	if perr != nil {
		return 0, p.errorf(t, "invalid i%d: %s", bits, t.Value)
	}
	return v, nil
}

func (p *Parser) parseU32() (uint32, error) {
	t, err := p.expect(token.Number)
	if err != nil {
		return 0, err
	}
	v, perr := strconv.ParseUint(strings.ReplaceAll(t.Value, "_", ""), 0, 32)
	if perr != nil {
		return 0, p.errorf(t, "invalid number: %s", t.Value)
	}
	return uint32(v), nil
}

func (p *Parser) parseFloat(bits int) (float64, error) {
	t, err := p.expect(token.Number)
	if err != nil {
		return 0, err
	}
	v, perr := strconv.ParseFloat(strings.ReplaceAll(t.Value, "_", ""), bits)
	if perr != nil {
		return 0, p.errorf(t, "invalid f%d: %s", bits, t.Value)
	}
	return v, nil
}

// parseFlags reads modifier keywords up to the closing paren of a flags form.
func (p *Parser) parseFlags() (classfile.AccessFlags, error) {
	if err := p.expectKeyword("flags"); err != nil {
		return 0, err
	}
	var flags classfile.AccessFlags
	for {
		t := p.peek()
		if t == nil {
			return 0, p.errorf(nil, "unexpected end of input")
		}
		if t.Type == token.RParen {
			p.next()
			return flags, nil
		}
		p.next()
		f, ok := classfile.FlagByName(t.Value)
		if !ok || t.Type != token.Ident {
			return 0, p.errorf(t, "unknown flag %q", t.Value)
		}
		flags |= f
	}
}

func (p *Parser) parseClass() (*classfile.Class, error) {
	if _, err := p.expect(token.LParen); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("class"); err != nil {
		return nil, err
	}
	name, err := p.parseString()
	if err != nil {
		return nil, err
	}
	c := &classfile.Class{Name: name, Super: classfile.ObjectClass}

	for {
		t := p.peek()
		if t == nil {
			return nil, p.errorf(nil, "unexpected end of input")
		}
		if t.Type == token.RParen {
			p.next()
			return c, nil
		}
		if t.Type != token.LParen {
			return nil, p.errorf(t, "expected class member, got %q", t.Value)
		}
		p.next()
		kw, err := p.expect(token.Ident)
		if err != nil {
			return nil, err
		}
		switch kw.Value {
		case "super":
			if c.Super, err = p.parseString(); err != nil {
				return nil, err
			}
			if err := p.closeForm(); err != nil {
				return nil, err
			}
		case "flags":
			p.pos--
			if c.Flags, err = p.parseFlags(); err != nil {
				return nil, err
			}
		case "field":
			f, err := p.parseField()
			if err != nil {
				return nil, err
			}
			c.Fields = append(c.Fields, f)
		case "method":
			m, err := p.parseMethod(kw)
			if err != nil {
				return nil, err
			}
			if c.Method(m.Name, m.Descriptor) != nil {
				return nil, p.errorf(kw, "duplicate method %s", m.Key())
			}
			c.Methods = append(c.Methods, m)
		default:
			return nil, p.errorf(kw, "unknown class member %q", kw.Value)
		}
	}
}

func (p *Parser) parseField() (classfile.Field, error) {
	var f classfile.Field
	var err error
	if f.Name, err = p.parseString(); err != nil {
		return f, err
	}
	descTok := p.peek()
	if f.Descriptor, err = p.parseString(); err != nil {
		return f, err
	}
	if _, derr := classfile.ParseFieldDescriptor(f.Descriptor); derr != nil {
		return f, p.errorf(descTok, "invalid field descriptor %q", f.Descriptor)
	}
	if p.form("flags") {
		p.next()
		if f.Flags, err = p.parseFlags(); err != nil {
			return f, err
		}
	}
	return f, p.closeForm()
}
