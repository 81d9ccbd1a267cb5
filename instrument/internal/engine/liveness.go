// Liveness analysis for capture-site local saving.
//
// A local is LIVE at a program point if some path from that point reads it
// before writing it. Only live locals are saved when a frame is captured; a
// dead local is restored as whatever the restore path leaves in the slot,
// which is never observed.
//
// Algorithm (backward dataflow to a fixpoint):
//  1. Successors of pc are its branch targets and the next instruction
//     unless pc is a terminator.
//  2. live-in(pc) = use(pc) ∪ (live-out(pc) − def(pc)) ∪ live-in(h) for every
//     handler h covering pc, since pc may throw before its store happens.
//  3. Instructions are swept in reverse order until no set changes.
package engine

import (
	"github.com/wippyai/continuations/classfile"
)

// Liveness holds live-in sets per instruction.
type Liveness struct {
	in []*BitSet
}

// LiveIn returns the locals live before the instruction at pc, ascending.
func (l *Liveness) LiveIn(pc int) []uint32 {
	return l.in[pc].ToSlice()
}

// IsLive reports whether slot is live before pc.
func (l *Liveness) IsLive(pc int, slot uint32) bool {
	return l.in[pc].Has(slot)
}

// ComputeLiveness runs the analysis over m's code.
func ComputeLiveness(m *classfile.Method) *Liveness {
	code := m.Code
	n := len(code)
	in := make([]*BitSet, n)
	for i := range in {
		in[i] = NewBitSet(int(m.MaxLocals))
	}
	succs, handlers := successors(m)

	out := NewBitSet(int(m.MaxLocals))
	for changed := true; changed; {
		changed = false
		for pc := n - 1; pc >= 0; pc-- {
			out.Reset()
			for _, s := range succs[pc] {
				out.Union(in[s])
			}
			transfer(code[pc], out)
			for _, h := range handlers[pc] {
				out.Union(in[h])
			}
			if in[pc].Union(out) {
				changed = true
			}
		}
	}
	return &Liveness{in: in}
}

// transfer turns live-out into live-in in place.
func transfer(ins classfile.Instruction, live *BitSet) {
	switch ins.Opcode {
	case classfile.OpIload, classfile.OpLload, classfile.OpFload, classfile.OpDload, classfile.OpAload:
		live.Set(ins.Imm.(classfile.LocalImm).Index)
	case classfile.OpIstore, classfile.OpLstore, classfile.OpFstore, classfile.OpDstore, classfile.OpAstore:
		live.Clear(ins.Imm.(classfile.LocalImm).Index)
	case classfile.OpIinc:
		live.Set(ins.Imm.(classfile.IincImm).Index)
	}
}

func successors(m *classfile.Method) (succs, handlers [][]int) {
	n := len(m.Code)
	succs = make([][]int, n)
	handlers = make([][]int, n)
	for pc, ins := range m.Code {
		for _, t := range ins.Targets() {
			succs[pc] = append(succs[pc], int(t))
		}
		if !ins.IsTerminator() && pc+1 < n {
			succs[pc] = append(succs[pc], pc+1)
		}
		for _, h := range m.Handlers {
			if uint32(pc) >= h.Start && uint32(pc) < h.End {
				handlers[pc] = append(handlers[pc], int(h.Target))
			}
		}
	}
	return succs, handlers
}
