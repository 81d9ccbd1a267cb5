package codegen

import (
	continuations "github.com/wippyai/continuations"
	"github.com/wippyai/continuations/classfile"
	"github.com/wippyai/continuations/errors"
)

// Label names a position in the emitted code. Branches and handler bounds
// refer to labels and are resolved when the code is finished.
type Label int

type fixup struct {
	labels []Label
	pc     int
}

type handler struct {
	catchType          string
	start, end, target Label
}

// Emitter builds an instruction sequence with symbolic branch targets.
type Emitter struct {
	code     []classfile.Instruction
	bound    []int
	fixups   []fixup
	handlers []handler
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// Len returns the number of emitted instructions.
func (e *Emitter) Len() int { return len(e.code) }

// Reset discards all code, labels and handlers.
func (e *Emitter) Reset() {
	e.code = e.code[:0]
	e.bound = e.bound[:0]
	e.fixups = e.fixups[:0]
	e.handlers = e.handlers[:0]
}

// NewLabel allocates an unbound label.
func (e *Emitter) NewLabel() Label {
	e.bound = append(e.bound, -1)
	return Label(len(e.bound) - 1)
}

// Mark binds l to the position of the next emitted instruction.
func (e *Emitter) Mark(l Label) *Emitter {
	e.bound[l] = len(e.code)
	return e
}

// Emit appends an instruction without symbolic targets.
func (e *Emitter) Emit(ins classfile.Instruction) *Emitter {
	e.code = append(e.code, ins)
	return e
}

func (e *Emitter) Op(op byte) *Emitter {
	return e.Emit(classfile.Op(op))
}

func (e *Emitter) Iconst(v int32) *Emitter {
	return e.Emit(classfile.Iconst(v))
}

func (e *Emitter) Ldc(s string) *Emitter {
	return e.Emit(classfile.Ldc(s))
}

var loadOps = map[classfile.ValType]byte{
	classfile.ValInt:    classfile.OpIload,
	classfile.ValFloat:  classfile.OpFload,
	classfile.ValLong:   classfile.OpLload,
	classfile.ValDouble: classfile.OpDload,
	classfile.ValRef:    classfile.OpAload,
}

var storeOps = map[classfile.ValType]byte{
	classfile.ValInt:    classfile.OpIstore,
	classfile.ValFloat:  classfile.OpFstore,
	classfile.ValLong:   classfile.OpLstore,
	classfile.ValDouble: classfile.OpDstore,
	classfile.ValRef:    classfile.OpAstore,
}

var returnOps = map[classfile.ValType]byte{
	classfile.ValInt:    classfile.OpIreturn,
	classfile.ValFloat:  classfile.OpFreturn,
	classfile.ValLong:   classfile.OpLreturn,
	classfile.ValDouble: classfile.OpDreturn,
	classfile.ValRef:    classfile.OpAreturn,
	classfile.ValVoid:   classfile.OpReturn,
}

// LoadOf returns the typed load of slot.
func LoadOf(vt classfile.ValType, slot uint32) classfile.Instruction {
	return classfile.Local(loadOps[vt], slot)
}

// StoreOf returns the typed store to slot.
func StoreOf(vt classfile.ValType, slot uint32) classfile.Instruction {
	return classfile.Local(storeOps[vt], slot)
}

// Load emits the typed load of slot.
func (e *Emitter) Load(vt classfile.ValType, slot uint32) *Emitter {
	return e.Emit(LoadOf(vt, slot))
}

// Store emits the typed store to slot.
func (e *Emitter) Store(vt classfile.ValType, slot uint32) *Emitter {
	return e.Emit(StoreOf(vt, slot))
}

// Zero pushes the default value of a category. Void pushes nothing.
func (e *Emitter) Zero(vt classfile.ValType) *Emitter {
	switch vt {
	case classfile.ValInt:
		return e.Emit(classfile.Iconst(0))
	case classfile.ValFloat:
		return e.Emit(classfile.Fconst(0))
	case classfile.ValLong:
		return e.Emit(classfile.Lconst(0))
	case classfile.ValDouble:
		return e.Emit(classfile.Dconst(0))
	case classfile.ValRef:
		return e.Op(classfile.OpAconstNull)
	}
	return e
}

// Return emits the typed return for a result category.
func (e *Emitter) Return(vt classfile.ValType) *Emitter {
	return e.Op(returnOps[vt])
}

// Runtime emits a static call to a runtime method.
func (e *Emitter) Runtime(m continuations.RuntimeMethod) *Emitter {
	return e.Emit(classfile.Member(classfile.OpInvokestatic, continuations.RuntimeClass, m.Name, m.Descriptor))
}

// Jump emits a branch to l.
func (e *Emitter) Jump(op byte, l Label) *Emitter {
	e.fixups = append(e.fixups, fixup{pc: len(e.code), labels: []Label{l}})
	return e.Emit(classfile.Branch(op, 0))
}

// Switch emits a tableswitch over targets with a default.
func (e *Emitter) Switch(low int32, targets []Label, def Label) *Emitter {
	labels := make([]Label, 0, len(targets)+1)
	labels = append(labels, targets...)
	e.fixups = append(e.fixups, fixup{pc: len(e.code), labels: append(labels, def)})
	return e.Emit(classfile.Instruction{
		Opcode: classfile.OpTableswitch,
		Imm:    classfile.TableSwitchImm{Low: low, Targets: make([]uint32, len(targets))},
	})
}

// Handler adds an exception table entry. Entries keep the order in which
// they are added.
func (e *Emitter) Handler(start, end, target Label, catchType string) *Emitter {
	e.handlers = append(e.handlers, handler{start: start, end: end, target: target, catchType: catchType})
	return e
}

func (e *Emitter) resolve(l Label) (uint32, error) {
	if int(l) < 0 || int(l) >= len(e.bound) || e.bound[l] < 0 {
		return 0, errors.New(errors.PhaseRewrite, errors.KindInvalidData).
			Value(int(l)).
			Detail("label %d is not bound", l).
			Build()
	}
	return uint32(e.bound[l]), nil
}

// Finish resolves labels and returns the code and exception table.
func (e *Emitter) Finish() ([]classfile.Instruction, []classfile.Handler, error) {
	code := make([]classfile.Instruction, len(e.code))
	copy(code, e.code)
	for _, f := range e.fixups {
		targets := make([]uint32, len(f.labels))
		for i, l := range f.labels {
			pc, err := e.resolve(l)
			if err != nil {
				return nil, nil, err
			}
			targets[i] = pc
		}
		switch imm := code[f.pc].Imm.(type) {
		case classfile.BranchImm:
			code[f.pc].Imm = classfile.BranchImm{Target: targets[0]}
		case classfile.TableSwitchImm:
			n := len(targets) - 1
			code[f.pc].Imm = classfile.TableSwitchImm{Low: imm.Low, Targets: targets[:n:n], Default: targets[n]}
		}
	}

	handlers := make([]classfile.Handler, 0, len(e.handlers))
	for _, h := range e.handlers {
		var out classfile.Handler
		var err error
		if out.Start, err = e.resolve(h.start); err != nil {
			return nil, nil, err
		}
		if out.End, err = e.resolve(h.end); err != nil {
			return nil, nil, err
		}
		if out.Target, err = e.resolve(h.target); err != nil {
			return nil, nil, err
		}
		out.CatchType = h.catchType
		handlers = append(handlers, out)
	}
	return code, handlers, nil
}
