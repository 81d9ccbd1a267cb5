package classfile

import (
	"fmt"

	"github.com/wippyai/continuations/classfile/internal/binary"
	"github.com/wippyai/continuations/errors"
)

// Encode serializes a class to its binary form.
func Encode(c *Class) ([]byte, error) {
	w := binary.NewWriter()
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)
	w.WriteName(c.Name)
	w.WriteName(c.Super)
	w.WriteU32(uint32(c.Flags))

	w.WriteU32(uint32(len(c.Fields)))
	for _, f := range c.Fields {
		w.WriteName(f.Name)
		w.WriteName(f.Descriptor)
		w.WriteU32(uint32(f.Flags))
	}

	w.WriteU32(uint32(len(c.Methods)))
	for _, m := range c.Methods {
		if err := encodeMethod(w, m); err != nil {
			return nil, errors.New(errors.PhaseEncode, errors.KindInvalidData).
				Path(c.Name, m.Key()).
				Cause(err).
				Build()
		}
	}
	return w.Bytes(), nil
}

func encodeMethod(w *binary.Writer, m *Method) error {
	w.WriteName(m.Name)
	w.WriteName(m.Descriptor)
	w.WriteU32(uint32(m.Flags))
	w.WriteU32(m.MaxLocals)

	w.WriteU32(uint32(len(m.Exceptions)))
	for _, e := range m.Exceptions {
		w.WriteName(e)
	}

	w.WriteU32(uint32(len(m.Code)))
	for i, ins := range m.Code {
		if err := encodeInstruction(w, ins); err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
	}

	w.WriteU32(uint32(len(m.Handlers)))
	for _, h := range m.Handlers {
		w.WriteU32(h.Start)
		w.WriteU32(h.End)
		w.WriteU32(h.Target)
		w.WriteName(h.CatchType)
	}
	return nil
}

// EncodeInstructions serializes an instruction sequence without framing.
func EncodeInstructions(code []Instruction) ([]byte, error) {
	w := binary.NewWriter()
	for i, ins := range code {
		if err := encodeInstruction(w, ins); err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
	}
	return w.Bytes(), nil
}

func encodeInstruction(w *binary.Writer, ins Instruction) error {
	if !ValidOpcode(ins.Opcode) {
		return fmt.Errorf("unknown opcode 0x%02x", ins.Opcode)
	}
	w.Byte(ins.Opcode)

	kind := Immediate(ins.Opcode)
	bad := func() error {
		return fmt.Errorf("%s: immediate %T does not match", OpcodeName(ins.Opcode), ins.Imm)
	}
	switch kind {
	case ImmNone:
		if ins.Imm != nil {
			return bad()
		}
	case ImmLocal:
		imm, ok := ins.Imm.(LocalImm)
		if !ok {
			return bad()
		}
		w.WriteU32(imm.Index)
	case ImmIinc:
		imm, ok := ins.Imm.(IincImm)
		if !ok {
			return bad()
		}
		w.WriteU32(imm.Index)
		w.WriteS32(imm.Delta)
	case ImmI32:
		imm, ok := ins.Imm.(I32Imm)
		if !ok {
			return bad()
		}
		w.WriteS32(imm.Value)
	case ImmI64:
		imm, ok := ins.Imm.(I64Imm)
		if !ok {
			return bad()
		}
		w.WriteS64(imm.Value)
	case ImmF32:
		imm, ok := ins.Imm.(F32Imm)
		if !ok {
			return bad()
		}
		w.WriteF32(imm.Value)
	case ImmF64:
		imm, ok := ins.Imm.(F64Imm)
		if !ok {
			return bad()
		}
		w.WriteF64(imm.Value)
	case ImmString:
		imm, ok := ins.Imm.(StringImm)
		if !ok {
			return bad()
		}
		w.WriteName(imm.Value)
	case ImmBranch:
		imm, ok := ins.Imm.(BranchImm)
		if !ok {
			return bad()
		}
		w.WriteU32(imm.Target)
	case ImmTable:
		imm, ok := ins.Imm.(TableSwitchImm)
		if !ok {
			return bad()
		}
		w.WriteS32(imm.Low)
		w.WriteU32(uint32(len(imm.Targets)))
		for _, t := range imm.Targets {
			w.WriteU32(t)
		}
		w.WriteU32(imm.Default)
	case ImmMember:
		imm, ok := ins.Imm.(MemberImm)
		if !ok {
			return bad()
		}
		w.WriteName(imm.Owner)
		w.WriteName(imm.Name)
		w.WriteName(imm.Descriptor)
	case ImmClass:
		imm, ok := ins.Imm.(ClassImm)
		if !ok {
			return bad()
		}
		w.WriteName(imm.Name)
	}
	return nil
}
