package parser

import (
	"strconv"
	"strings"

	"github.com/wippyai/continuations/casm/internal/token"
	"github.com/wippyai/continuations/classfile"
)

// fixup is an instruction whose branch operands name labels.
type fixup struct {
	labels []*token.Token
	pc     int
}

type catchForm struct {
	start, end, target *token.Token
	catchType          string
}

type methodBuilder struct {
	m        *classfile.Method
	labels   map[string]uint32
	fixups   []fixup
	catches  []catchForm
	maxSlot  int
	localsOK bool
}

func (p *Parser) parseMethod(start *token.Token) (*classfile.Method, error) {
	b := &methodBuilder{
		m:       &classfile.Method{},
		labels:  make(map[string]uint32),
		maxSlot: -1,
	}
	m := b.m
	var err error
	if m.Name, err = p.parseString(); err != nil {
		return nil, err
	}
	descTok := p.peek()
	if m.Descriptor, err = p.parseString(); err != nil {
		return nil, err
	}
	if _, derr := classfile.ParseMethodDescriptor(m.Descriptor); derr != nil {
		return nil, p.errorf(descTok, "invalid method descriptor %q", m.Descriptor)
	}

	for {
		t := p.peek()
		if t == nil {
			return nil, p.errorf(nil, "unexpected end of input")
		}
		switch t.Type {
		case token.RParen:
			p.next()
			return p.finishMethod(start, b)
		case token.LParen:
			if err := p.parseMethodForm(b); err != nil {
				return nil, err
			}
		case token.Ident:
			if err := p.parseInstruction(b); err != nil {
				return nil, err
			}
		default:
			return nil, p.errorf(t, "unexpected %v %q in method body", t.Type, t.Value)
		}
	}
}

func (p *Parser) parseMethodForm(b *methodBuilder) error {
	p.next()
	kw, err := p.expect(token.Ident)
	if err != nil {
		return err
	}
	switch kw.Value {
	case "flags":
		p.pos--
		b.m.Flags, err = p.parseFlags()
		return err
	case "locals":
		if b.m.MaxLocals, err = p.parseU32(); err != nil {
			return err
		}
		b.localsOK = true
	case "throws":
		for {
			t := p.peek()
			if t == nil || t.Type != token.String {
				break
			}
			s, err := p.parseString()
			if err != nil {
				return err
			}
			b.m.Exceptions = append(b.m.Exceptions, s)
		}
	case "label":
		t, err := p.expect(token.Ident)
		if err != nil {
			return err
		}
		if !strings.HasPrefix(t.Value, "$") {
			return p.errorf(t, "label name must start with '$', got %q", t.Value)
		}
		if _, dup := b.labels[t.Value]; dup {
			return p.errorf(t, "duplicate label %s", t.Value)
		}
		b.labels[t.Value] = uint32(len(b.m.Code))
	case "catch":
		var c catchForm
		if c.start, err = p.expect(token.Ident); err != nil {
			return err
		}
		if c.end, err = p.expect(token.Ident); err != nil {
			return err
		}
		if c.target, err = p.expect(token.Ident); err != nil {
			return err
		}
		if t := p.peek(); t != nil && t.Type == token.String {
			if c.catchType, err = p.parseString(); err != nil {
				return err
			}
		}
		b.catches = append(b.catches, c)
	default:
		return p.errorf(kw, "unknown method form %q", kw.Value)
	}
	return p.closeForm()
}

func (p *Parser) parseInstruction(b *methodBuilder) error {
	t := p.next()
	op, ok := classfile.OpcodeByName(t.Value)
	if !ok {
		return p.errorf(t, "unknown instruction %q", t.Value)
	}
	ins := classfile.Instruction{Opcode: op}
	pc := len(b.m.Code)

	switch classfile.Immediate(op) {
	case classfile.ImmLocal:
		idx, err := p.parseU32()
		if err != nil {
			return err
		}
		b.useSlot(idx)
		ins.Imm = classfile.LocalImm{Index: idx}
	case classfile.ImmIinc:
		idx, err := p.parseU32()
		if err != nil {
			return err
		}
		d, err := p.parseInt(32)
		if err != nil {
			return err
		}
		b.useSlot(idx)
		ins.Imm = classfile.IincImm{Index: idx, Delta: int32(d)}
	case classfile.ImmI32:
		v, err := p.parseInt(32)
		if err != nil {
			return err
		}
		ins.Imm = classfile.I32Imm{Value: int32(v)}
	case classfile.ImmI64:
		v, err := p.parseInt(64)
		if err != nil {
			return err
		}
		ins.Imm = classfile.I64Imm{Value: v}
	case classfile.ImmF32:
		v, err := p.parseFloat(32)
		if err != nil {
			return err
		}
		ins.Imm = classfile.F32Imm{Value: float32(v)}
	case classfile.ImmF64:
		v, err := p.parseFloat(64)
		if err != nil {
			return err
		}
		ins.Imm = classfile.F64Imm{Value: v}
	case classfile.ImmString:
		s, err := p.parseString()
		if err != nil {
			return err
		}
		ins.Imm = classfile.StringImm{Value: s}
	case classfile.ImmBranch:
		l, err := p.expect(token.Ident)
		if err != nil {
			return err
		}
		ins.Imm = classfile.BranchImm{}
		b.fixups = append(b.fixups, fixup{pc: pc, labels: []*token.Token{l}})
	case classfile.ImmTable:
		low, err := p.parseInt(32)
		if err != nil {
			return err
		}
		var labels []*token.Token
		for {
			l, err := p.expect(token.Ident)
			if err != nil {
				return err
			}
			if l.Value == "default" {
				break
			}
			labels = append(labels, l)
		}
		def, err := p.expect(token.Ident)
		if err != nil {
			return err
		}
		ins.Imm = classfile.TableSwitchImm{Low: int32(low)}
		b.fixups = append(b.fixups, fixup{pc: pc, labels: append(labels, def)})
	case classfile.ImmMember:
		var m classfile.MemberImm
		var err error
		if m.Owner, err = p.parseString(); err != nil {
			return err
		}
		if m.Name, err = p.parseString(); err != nil {
			return err
		}
		descTok := p.peek()
		if m.Descriptor, err = p.parseString(); err != nil {
			return err
		}
		if err := checkMemberDescriptor(op, m.Descriptor); err != nil {
			return p.errorf(descTok, "%s: invalid descriptor %q", t.Value, m.Descriptor)
		}
		ins.Imm = m
	case classfile.ImmClass:
		name, err := p.parseString()
		if err != nil {
			return err
		}
		ins.Imm = classfile.ClassImm{Name: name}
	}
	b.m.Code = append(b.m.Code, ins)
	return nil
}

func checkMemberDescriptor(op byte, desc string) error {
	switch op {
	case classfile.OpGetfield, classfile.OpPutfield, classfile.OpGetstatic, classfile.OpPutstatic:
		_, err := classfile.ParseFieldDescriptor(desc)
		return err
	}
	_, err := classfile.ParseMethodDescriptor(desc)
	return err
}

func (b *methodBuilder) useSlot(idx uint32) {
	if int(idx) > b.maxSlot {
		b.maxSlot = int(idx)
	}
}

func (p *Parser) resolve(b *methodBuilder, t *token.Token) (uint32, error) {
	if strings.HasPrefix(t.Value, "@") {
		v, err := strconv.ParseUint(t.Value[1:], 10, 32)
		if err != nil {
			return 0, p.errorf(t, "invalid instruction index %q", t.Value)
		}
		return uint32(v), nil
	}
	pc, ok := b.labels[t.Value]
	if !ok {
		return 0, p.errorf(t, "unknown label %s", t.Value)
	}
	return pc, nil
}

func (p *Parser) finishMethod(start *token.Token, b *methodBuilder) (*classfile.Method, error) {
	m := b.m
	for _, f := range b.fixups {
		targets := make([]uint32, len(f.labels))
		for i, l := range f.labels {
			pc, err := p.resolve(b, l)
			if err != nil {
				return nil, err
			}
			targets[i] = pc
		}
		ins := &m.Code[f.pc]
		switch imm := ins.Imm.(type) {
		case classfile.BranchImm:
			imm.Target = targets[0]
			ins.Imm = imm
		case classfile.TableSwitchImm:
			n := len(targets) - 1
			imm.Targets = targets[:n:n]
			imm.Default = targets[n]
			ins.Imm = imm
		}
	}

	for _, c := range b.catches {
		var h classfile.Handler
		var err error
		if h.Start, err = p.resolve(b, c.start); err != nil {
			return nil, err
		}
		if h.End, err = p.resolve(b, c.end); err != nil {
			return nil, err
		}
		if h.Target, err = p.resolve(b, c.target); err != nil {
			return nil, err
		}
		h.CatchType = c.catchType
		m.Handlers = append(m.Handlers, h)
	}

	if !b.localsOK {
		args, err := m.ArgSlots()
		if err != nil {
			return nil, p.errorf(start, "%v", err)
		}
		m.MaxLocals = uint32(max(args, b.maxSlot+1))
	}
	if err := classfile.CheckBounds(m); err != nil {
		return nil, p.errorf(start, "method %s: %v", m.Key(), err)
	}
	return m, nil
}
