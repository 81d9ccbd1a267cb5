package casm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/continuations/classfile"
)

// Disassemble renders c in assembler syntax. Parse(Disassemble(c)) yields a
// class equal to c.
func Disassemble(c *classfile.Class) string {
	var b strings.Builder
	fmt.Fprintf(&b, "(class %s (super %s)", strconv.Quote(c.Name), strconv.Quote(c.Super))
	writeFlags(&b, c.Flags)
	for _, f := range c.Fields {
		fmt.Fprintf(&b, "\n  (field %s %s", strconv.Quote(f.Name), strconv.Quote(f.Descriptor))
		writeFlags(&b, f.Flags)
		b.WriteByte(')')
	}
	for _, m := range c.Methods {
		b.WriteString("\n")
		writeMethod(&b, m)
	}
	b.WriteString(")\n")
	return b.String()
}

func writeFlags(b *strings.Builder, flags classfile.AccessFlags) {
	if names := flags.Names(); len(names) > 0 {
		fmt.Fprintf(b, " (flags %s)", strings.Join(names, " "))
	}
}

func writeMethod(b *strings.Builder, m *classfile.Method) {
	fmt.Fprintf(b, "  (method %s %s", strconv.Quote(m.Name), strconv.Quote(m.Descriptor))
	writeFlags(b, m.Flags)
	fmt.Fprintf(b, " (locals %d)", m.MaxLocals)
	if len(m.Exceptions) > 0 {
		b.WriteString(" (throws")
		for _, e := range m.Exceptions {
			b.WriteByte(' ')
			b.WriteString(strconv.Quote(e))
		}
		b.WriteByte(')')
	}

	targets := labelTargets(m)
	label := func(pc uint32) string { return "$L" + strconv.FormatUint(uint64(pc), 10) }
	for pc, ins := range m.Code {
		if targets[uint32(pc)] {
			fmt.Fprintf(b, "\n    (label %s)", label(uint32(pc)))
		}
		b.WriteString("\n    ")
		b.WriteString(ins.Format(label))
	}
	if targets[uint32(len(m.Code))] {
		fmt.Fprintf(b, "\n    (label %s)", label(uint32(len(m.Code))))
	}
	for _, h := range m.Handlers {
		fmt.Fprintf(b, "\n    (catch %s %s %s", label(h.Start), label(h.End), label(h.Target))
		if h.CatchType != "" {
			b.WriteByte(' ')
			b.WriteString(strconv.Quote(h.CatchType))
		}
		b.WriteByte(')')
	}
	b.WriteByte(')')
}

func labelTargets(m *classfile.Method) map[uint32]bool {
	out := make(map[uint32]bool)
	for _, ins := range m.Code {
		for _, t := range ins.Targets() {
			out[t] = true
		}
	}
	for _, h := range m.Handlers {
		out[h.Start] = true
		out[h.End] = true
		out[h.Target] = true
	}
	return out
}

// Listing renders a method's code with instruction indices, one per line.
// It is meant for diagnostics rather than reassembly.
func Listing(m *classfile.Method) string {
	var b strings.Builder
	width := len(strconv.Itoa(len(m.Code)))
	for pc, ins := range m.Code {
		fmt.Fprintf(&b, "%*d: %s\n", width, pc, ins)
	}
	for _, h := range m.Handlers {
		typ := h.CatchType
		if typ == "" {
			typ = "any"
		}
		fmt.Fprintf(&b, "catch [%d,%d) -> %d %s\n", h.Start, h.End, h.Target, typ)
	}
	return b.String()
}
