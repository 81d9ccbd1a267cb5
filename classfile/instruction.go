package classfile

import (
	"fmt"
	"strconv"
	"strings"
)

// Instruction is a decoded instruction. Imm holds one of the *Imm types
// according to Immediate(Opcode), or nil.
type Instruction struct {
	Imm    interface{}
	Opcode byte
}

// LocalImm holds the slot index for typed loads and stores.
type LocalImm struct {
	Index uint32
}

// IincImm holds the slot and signed delta for iinc.
type IincImm struct {
	Index uint32
	Delta int32
}

// I32Imm holds the constant value for iconst.
type I32Imm struct {
	Value int32
}

// I64Imm holds the constant value for lconst.
type I64Imm struct {
	Value int64
}

// F32Imm holds the constant value for fconst.
type F32Imm struct {
	Value float32
}

// F64Imm holds the constant value for dconst.
type F64Imm struct {
	Value float64
}

// StringImm holds the string constant for ldc.
type StringImm struct {
	Value string
}

// BranchImm holds an absolute instruction index.
type BranchImm struct {
	Target uint32
}

// TableSwitchImm jumps to Targets[v-Low] when v is in range, else Default.
type TableSwitchImm struct {
	Targets []uint32
	Low     int32
	Default uint32
}

// MemberImm references a field or method.
type MemberImm struct {
	Owner      string
	Name       string
	Descriptor string
}

// ClassImm references a class by name.
type ClassImm struct {
	Name string
}

func (m MemberImm) String() string {
	return m.Owner + "." + m.Name + m.Descriptor
}

// Op constructs an instruction without immediate.
func Op(op byte) Instruction { return Instruction{Opcode: op} }

// Local constructs a load or store.
func Local(op byte, idx uint32) Instruction {
	return Instruction{Opcode: op, Imm: LocalImm{Index: idx}}
}

// Iconst constructs an int constant.
func Iconst(v int32) Instruction { return Instruction{Opcode: OpIconst, Imm: I32Imm{Value: v}} }

// Lconst constructs a long constant.
func Lconst(v int64) Instruction { return Instruction{Opcode: OpLconst, Imm: I64Imm{Value: v}} }

// Fconst constructs a float constant.
func Fconst(v float32) Instruction { return Instruction{Opcode: OpFconst, Imm: F32Imm{Value: v}} }

// Dconst constructs a double constant.
func Dconst(v float64) Instruction { return Instruction{Opcode: OpDconst, Imm: F64Imm{Value: v}} }

// Ldc constructs a string constant load.
func Ldc(s string) Instruction { return Instruction{Opcode: OpLdc, Imm: StringImm{Value: s}} }

// Branch constructs a branch to target.
func Branch(op byte, target uint32) Instruction {
	return Instruction{Opcode: op, Imm: BranchImm{Target: target}}
}

// Member constructs a field access or invoke.
func Member(op byte, owner, name, desc string) Instruction {
	return Instruction{Opcode: op, Imm: MemberImm{Owner: owner, Name: name, Descriptor: desc}}
}

// ClassRef constructs new, checkcast or instanceof.
func ClassRef(op byte, name string) Instruction {
	return Instruction{Opcode: op, Imm: ClassImm{Name: name}}
}

// IsInvoke reports whether the instruction is a method call.
func (i Instruction) IsInvoke() bool {
	switch i.Opcode {
	case OpInvokevirtual, OpInvokespecial, OpInvokestatic, OpInvokeinterface:
		return true
	}
	return false
}

// IsReturn reports whether the instruction returns from the method.
func (i Instruction) IsReturn() bool {
	return i.Opcode >= OpIreturn && i.Opcode <= OpReturn
}

// IsTerminator reports whether control never falls through to the next instruction.
func (i Instruction) IsTerminator() bool {
	switch i.Opcode {
	case OpGoto, OpTableswitch, OpAthrow:
		return true
	}
	return i.IsReturn()
}

// Member returns the member immediate, if any.
func (i Instruction) Member() (MemberImm, bool) {
	m, ok := i.Imm.(MemberImm)
	return m, ok
}

// Targets returns the branch targets of the instruction.
func (i Instruction) Targets() []uint32 {
	switch imm := i.Imm.(type) {
	case BranchImm:
		return []uint32{imm.Target}
	case TableSwitchImm:
		out := make([]uint32, 0, len(imm.Targets)+1)
		out = append(out, imm.Targets...)
		return append(out, imm.Default)
	}
	return nil
}

// Retarget returns a copy of the instruction with every branch target mapped by f.
func (i Instruction) Retarget(f func(uint32) uint32) Instruction {
	switch imm := i.Imm.(type) {
	case BranchImm:
		return Instruction{Opcode: i.Opcode, Imm: BranchImm{Target: f(imm.Target)}}
	case TableSwitchImm:
		ts := TableSwitchImm{Low: imm.Low, Default: f(imm.Default), Targets: make([]uint32, len(imm.Targets))}
		for k, t := range imm.Targets {
			ts.Targets[k] = f(t)
		}
		return Instruction{Opcode: i.Opcode, Imm: ts}
	}
	return i
}

func (i Instruction) clone() Instruction {
	if ts, ok := i.Imm.(TableSwitchImm); ok {
		ts.Targets = append([]uint32(nil), ts.Targets...)
		return Instruction{Opcode: i.Opcode, Imm: ts}
	}
	return i
}

// String renders the instruction in assembler syntax with numeric targets.
func (i Instruction) String() string {
	return i.Format(func(t uint32) string { return "@" + strconv.FormatUint(uint64(t), 10) })
}

// Format renders the instruction, naming branch targets with label.
func (i Instruction) Format(label func(uint32) string) string {
	name := OpcodeName(i.Opcode)
	if name == "" {
		return fmt.Sprintf("<invalid 0x%02x>", i.Opcode)
	}
	switch imm := i.Imm.(type) {
	case LocalImm:
		return fmt.Sprintf("%s %d", name, imm.Index)
	case IincImm:
		return fmt.Sprintf("%s %d %d", name, imm.Index, imm.Delta)
	case I32Imm:
		return fmt.Sprintf("%s %d", name, imm.Value)
	case I64Imm:
		return fmt.Sprintf("%s %d", name, imm.Value)
	case F32Imm:
		return name + " " + strconv.FormatFloat(float64(imm.Value), 'g', -1, 32)
	case F64Imm:
		return name + " " + strconv.FormatFloat(imm.Value, 'g', -1, 64)
	case StringImm:
		return name + " " + strconv.Quote(imm.Value)
	case BranchImm:
		return name + " " + label(imm.Target)
	case TableSwitchImm:
		var b strings.Builder
		fmt.Fprintf(&b, "%s %d", name, imm.Low)
		for _, t := range imm.Targets {
			b.WriteByte(' ')
			b.WriteString(label(t))
		}
		b.WriteString(" default ")
		b.WriteString(label(imm.Default))
		return b.String()
	case MemberImm:
		return fmt.Sprintf("%s %q %q %q", name, imm.Owner, imm.Name, imm.Descriptor)
	case ClassImm:
		return fmt.Sprintf("%s %q", name, imm.Name)
	}
	return name
}
