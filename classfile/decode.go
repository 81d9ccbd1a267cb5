package classfile

import (
	stderrors "errors"
	"fmt"
	"io"

	"github.com/wippyai/continuations/classfile/internal/binary"
	"github.com/wippyai/continuations/errors"
)

// Upper bounds on counts read from untrusted input, checked before allocation.
const (
	maxCount = 1 << 20
)

// Decode parses a class from its binary form. Decoding is strict: truncated
// input, unknown opcodes, out-of-range branch targets or handler bounds and
// trailing bytes are all rejected.
func Decode(data []byte) (*Class, error) {
	r := binary.NewReader(data)
	c, err := decodeClass(r)
	if err != nil {
		return nil, decodeError(err)
	}
	if r.Remaining() != 0 {
		return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Path(c.Name).
			Detail("%d trailing bytes after class", r.Remaining()).
			Build()
	}
	return c, nil
}

func decodeError(err error) error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return err
	}
	kind := errors.KindInvalidData
	if stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) {
		kind = errors.KindTruncated
	}
	return errors.Wrap(errors.PhaseDecode, kind, err, "decode class")
}

func decodeClass(r *binary.Reader) (*Class, error) {
	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, r.WrapError("header", fmt.Errorf("bad magic 0x%08x", magic))
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, r.WrapError("header", fmt.Errorf("unsupported version %d", version))
	}

	c := &Class{}
	if c.Name, err = r.ReadName(); err != nil {
		return nil, r.WrapError("class name", err)
	}
	if c.Super, err = r.ReadName(); err != nil {
		return nil, r.WrapError("super name", err)
	}
	flags, err := r.ReadU32()
	if err != nil {
		return nil, r.WrapError("class flags", err)
	}
	c.Flags = AccessFlags(flags)

	n, err := readCount(r, "field count")
	if err != nil {
		return nil, err
	}
	c.Fields = make([]Field, n)
	for i := range c.Fields {
		f := &c.Fields[i]
		if f.Name, err = r.ReadName(); err != nil {
			return nil, r.WrapError("field", err)
		}
		if f.Descriptor, err = r.ReadName(); err != nil {
			return nil, r.WrapError("field", err)
		}
		if _, err := ParseFieldDescriptor(f.Descriptor); err != nil {
			return nil, err
		}
		fl, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("field", err)
		}
		f.Flags = AccessFlags(fl)
	}
	if len(c.Fields) == 0 {
		c.Fields = nil
	}

	n, err = readCount(r, "method count")
	if err != nil {
		return nil, err
	}
	c.Methods = make([]*Method, n)
	for i := range c.Methods {
		m, err := decodeMethod(r)
		if err != nil {
			return nil, err
		}
		c.Methods[i] = m
	}
	return c, nil
}

func readCount(r *binary.Reader, section string) (int, error) {
	n, err := r.ReadU32()
	if err != nil {
		return 0, r.WrapError(section, err)
	}
	// every counted element occupies at least one byte
	if n > maxCount || int(n) > r.Remaining() {
		return 0, r.WrapError(section, fmt.Errorf("count %d exceeds input: %w", n, io.ErrUnexpectedEOF))
	}
	return int(n), nil
}

func decodeMethod(r *binary.Reader) (*Method, error) {
	m := &Method{}
	var err error
	if m.Name, err = r.ReadName(); err != nil {
		return nil, r.WrapError("method", err)
	}
	if m.Descriptor, err = r.ReadName(); err != nil {
		return nil, r.WrapError("method", err)
	}
	if _, err := ParseMethodDescriptor(m.Descriptor); err != nil {
		return nil, err
	}
	flags, err := r.ReadU32()
	if err != nil {
		return nil, r.WrapError("method", err)
	}
	m.Flags = AccessFlags(flags)
	if m.MaxLocals, err = r.ReadU32(); err != nil {
		return nil, r.WrapError("method", err)
	}

	n, err := readCount(r, "exceptions")
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		e, err := r.ReadName()
		if err != nil {
			return nil, r.WrapError("exceptions", err)
		}
		m.Exceptions = append(m.Exceptions, e)
	}

	n, err = readCount(r, "code")
	if err != nil {
		return nil, err
	}
	m.Code = make([]Instruction, n)
	for i := range m.Code {
		ins, err := decodeInstruction(r)
		if err != nil {
			return nil, r.WrapError(fmt.Sprintf("%s%s instruction %d", m.Name, m.Descriptor, i), err)
		}
		m.Code[i] = ins
	}

	n, err = readCount(r, "handlers")
	if err != nil {
		return nil, err
	}
	m.Handlers = make([]Handler, n)
	for i := range m.Handlers {
		h := &m.Handlers[i]
		if h.Start, err = r.ReadU32(); err != nil {
			return nil, r.WrapError("handlers", err)
		}
		if h.End, err = r.ReadU32(); err != nil {
			return nil, r.WrapError("handlers", err)
		}
		if h.Target, err = r.ReadU32(); err != nil {
			return nil, r.WrapError("handlers", err)
		}
		if h.CatchType, err = r.ReadName(); err != nil {
			return nil, r.WrapError("handlers", err)
		}
	}
	if len(m.Handlers) == 0 {
		m.Handlers = nil
	}
	if len(m.Code) == 0 {
		m.Code = nil
	}

	if err := CheckBounds(m); err != nil {
		return nil, err
	}
	return m, nil
}

// CheckBounds validates branch targets, local indices and handler ranges
// against the method's code length.
func CheckBounds(m *Method) error {
	n := uint32(len(m.Code))
	if !m.HasCode() {
		if n != 0 {
			return errors.InvalidData(errors.PhaseDecode, []string{m.Key()}, "abstract or native method has code")
		}
		return nil
	}
	if n == 0 {
		return errors.InvalidData(errors.PhaseDecode, []string{m.Key()}, "empty method body")
	}
	for pc, ins := range m.Code {
		for _, t := range ins.Targets() {
			if t >= n {
				return errors.OutOfBounds(errors.PhaseDecode, []string{m.Key(), fmt.Sprint(pc)}, int(t), int(n))
			}
		}
		var slot uint32
		switch imm := ins.Imm.(type) {
		case LocalImm:
			slot = imm.Index
		case IincImm:
			slot = imm.Index
		default:
			continue
		}
		if slot >= m.MaxLocals {
			return errors.OutOfBounds(errors.PhaseDecode, []string{m.Key(), fmt.Sprint(pc)}, int(slot), int(m.MaxLocals))
		}
	}
	for _, h := range m.Handlers {
		if h.Start >= h.End || h.End > n || h.Target >= n {
			return errors.InvalidData(errors.PhaseDecode, []string{m.Key()},
				fmt.Sprintf("handler [%d,%d)->%d out of range", h.Start, h.End, h.Target))
		}
	}
	return nil
}

// DecodeInstructions parses an unframed instruction sequence.
func DecodeInstructions(data []byte) ([]Instruction, error) {
	r := binary.NewReader(data)
	var out []Instruction
	for r.Remaining() > 0 {
		ins, err := decodeInstruction(r)
		if err != nil {
			return nil, decodeError(r.WrapError("instruction", err))
		}
		out = append(out, ins)
	}
	return out, nil
}

func decodeInstruction(r *binary.Reader) (Instruction, error) {
	op, err := r.ReadByte()
	if err != nil {
		return Instruction{}, err
	}
	if !ValidOpcode(op) {
		return Instruction{}, fmt.Errorf("unknown opcode 0x%02x", op)
	}
	ins := Instruction{Opcode: op}
	switch Immediate(op) {
	case ImmLocal:
		idx, err := r.ReadU32()
		if err != nil {
			return ins, err
		}
		ins.Imm = LocalImm{Index: idx}
	case ImmIinc:
		idx, err := r.ReadU32()
		if err != nil {
			return ins, err
		}
		d, err := r.ReadS32()
		if err != nil {
			return ins, err
		}
		ins.Imm = IincImm{Index: idx, Delta: d}
	case ImmI32:
		v, err := r.ReadS32()
		if err != nil {
			return ins, err
		}
		ins.Imm = I32Imm{Value: v}
	case ImmI64:
		v, err := r.ReadS64()
		if err != nil {
			return ins, err
		}
		ins.Imm = I64Imm{Value: v}
	case ImmF32:
		v, err := r.ReadF32()
		if err != nil {
			return ins, err
		}
		ins.Imm = F32Imm{Value: v}
	case ImmF64:
		v, err := r.ReadF64()
		if err != nil {
			return ins, err
		}
		ins.Imm = F64Imm{Value: v}
	case ImmString:
		s, err := r.ReadName()
		if err != nil {
			return ins, err
		}
		ins.Imm = StringImm{Value: s}
	case ImmBranch:
		t, err := r.ReadU32()
		if err != nil {
			return ins, err
		}
		ins.Imm = BranchImm{Target: t}
	case ImmTable:
		low, err := r.ReadS32()
		if err != nil {
			return ins, err
		}
		n, err := r.ReadU32()
		if err != nil {
			return ins, err
		}
		if int(n) > r.Remaining() {
			return ins, io.ErrUnexpectedEOF
		}
		ts := TableSwitchImm{Low: low, Targets: make([]uint32, n)}
		for i := range ts.Targets {
			if ts.Targets[i], err = r.ReadU32(); err != nil {
				return ins, err
			}
		}
		if ts.Default, err = r.ReadU32(); err != nil {
			return ins, err
		}
		ins.Imm = ts
	case ImmMember:
		var m MemberImm
		if m.Owner, err = r.ReadName(); err != nil {
			return ins, err
		}
		if m.Name, err = r.ReadName(); err != nil {
			return ins, err
		}
		if m.Descriptor, err = r.ReadName(); err != nil {
			return ins, err
		}
		ins.Imm = m
	case ImmClass:
		name, err := r.ReadName()
		if err != nil {
			return ins, err
		}
		ins.Imm = ClassImm{Name: name}
	}
	return ins, nil
}
