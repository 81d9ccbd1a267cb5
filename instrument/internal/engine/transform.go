package engine

import (
	"strconv"

	continuations "github.com/wippyai/continuations"
	"github.com/wippyai/continuations/classfile"
	"github.com/wippyai/continuations/instrument/internal/codegen"
)

// Rewritten method layout:
//
//	<this|null> owner name desc overridable; enter; istore I
//	start:                              ; exit handler covers start..exit
//	  [block]                           ; synchronized methods
//	  [aload 0; astore T]               ; instance methods
//	  isRestoring; ifeq body            ; methods with capturing sites
//	  popI; istore X; iload X; tableswitch 0 R0..Rn default invalid
//	invalid:
//	  iload X; invalidIndex; aconst_null; athrow
//	Rk:
//	  pop live locals; pop stack below the call; [popA receiver]
//	  zero arguments; goto Sk
//	body:
//	  original code with each site expanded
//	exit:
//	  iload I; ifne +1; unblock; [unblock]; athrow
//
// A capturing site k expands to
//
//	Sk: ldc owner name desc; expect; <invoke>
//	    isCapturing; ifeq next
//	    [pop result]; push stack below the call; push live locals
//	    iconst k; pushI; [aload T; pushA]
//	    <zero>; <return>
//
// and a blocking site to
//
//	block; s: <invoke>; e: unblock; goto next
//	h: unblock; athrow                 ; handler s..e, first in the table
//
// Saved values are pushed in an order that lets the restore path pop them
// straight back into place. The receiver is pushed last, so the caller's
// restore block, or the continuation target for the outermost frame, finds
// it on top.

type savedLocal struct {
	slot uint32
	vt   classfile.ValType
}

type site struct {
	ref      classfile.MemberImm
	mt       classfile.MethodType
	below    []classfile.ValType
	locals   []savedLocal
	label    codegen.Label
	index    int
	pc       int
	receiver bool
}

type transformer struct {
	class       *classfile.Class
	m           *classfile.Method
	mt          classfile.MethodType
	frames      *classfile.Frames
	kinds       []SiteKind
	em          *codegen.Emitter
	orig        []codegen.Label
	captures    []*site
	byPC        map[int]*site
	blocking    int
	intercepted uint32
	self        uint32
	index       uint32
	maxLocals   uint32
	sync        bool
}

func newTransformer(e *Engine, c *classfile.Class, m *classfile.Method, frames *classfile.Frames) (*transformer, error) {
	mt, err := m.Type()
	if err != nil {
		return nil, err
	}
	t := &transformer{
		class:  c,
		m:      m,
		mt:     mt,
		frames: frames,
		kinds:  e.sites(c, m),
		em:     codegen.NewEmitter(),
		byPC:   make(map[int]*site),
		sync:   m.Flags.Has(classfile.AccSynchronized),
	}
	live := ComputeLiveness(m)
	for pc, k := range t.kinds {
		if !frames.Reachable(pc) {
			continue
		}
		switch k {
		case SiteBlocking:
			t.blocking++
		case SiteCapturing:
			s, err := t.capture(pc, live)
			if err != nil {
				return nil, err
			}
			s.label = t.em.NewLabel()
			s.index = len(t.captures)
			t.captures = append(t.captures, s)
			t.byPC[pc] = s
		}
	}

	next := m.MaxLocals
	t.intercepted = next
	next++
	if !m.IsStatic() {
		t.self = next
		next++
	}
	if len(t.captures) > 0 {
		t.index = next
		next++
	}
	t.maxLocals = next
	return t, nil
}

// capture describes what a capturing site saves.
func (t *transformer) capture(pc int, live *Liveness) (*site, error) {
	ins := t.m.Code[pc]
	ref, _ := ins.Member()
	mt, err := classfile.ParseMethodDescriptor(ref.Descriptor)
	if err != nil {
		return nil, err
	}
	s := &site{ref: ref, mt: mt, pc: pc, receiver: ins.Opcode != classfile.OpInvokestatic}
	f := t.frames.In[pc]

	n := len(f.Stack) - len(mt.Params)
	if s.receiver {
		n--
	}
	for _, v := range f.Stack[:n] {
		if v.IsUninit() {
			return nil, reject(t.class, t.m, pc, "uninitialized reference on the stack at a capturing call")
		}
		s.below = append(s.below, v.Category())
	}
	for _, slot := range live.LiveIn(pc) {
		v := f.Locals[slot]
		if v.IsUninit() {
			return nil, reject(t.class, t.m, pc, "uninitialized reference in local "+strconv.Itoa(int(slot))+" at a capturing call")
		}
		if vt := v.Category(); vt != 0 {
			s.locals = append(s.locals, savedLocal{slot: slot, vt: vt})
		}
	}
	return s, nil
}

func (t *transformer) run() (*classfile.Method, error) {
	em, m := t.em, t.m
	t.orig = make([]codegen.Label, len(m.Code)+1)
	for i := range t.orig {
		t.orig[i] = em.NewLabel()
	}

	if m.IsStatic() {
		em.Op(classfile.OpAconstNull)
	} else {
		em.Load(classfile.ValRef, 0)
	}
	overridable := int32(0)
	if Overridable(t.class, m) {
		overridable = 1
	}
	em.Ldc(t.class.Name).Ldc(m.Name).Ldc(m.Descriptor).Iconst(overridable).
		Runtime(continuations.Enter).
		Store(classfile.ValInt, t.intercepted)

	start := em.NewLabel()
	em.Mark(start)
	if t.sync {
		em.Runtime(continuations.Block)
	}
	if !m.IsStatic() {
		em.Load(classfile.ValRef, 0).Store(classfile.ValRef, t.self)
	}
	if len(t.captures) > 0 {
		t.dispatch()
	}

	for pc := range m.Code {
		em.Mark(t.orig[pc])
		t.instruction(pc)
	}
	em.Mark(t.orig[len(m.Code)])

	for _, h := range m.Handlers {
		em.Handler(t.orig[h.Start], t.orig[h.End], t.orig[h.Target], h.CatchType)
	}
	exit := em.NewLabel()
	em.Mark(exit)
	t.release()
	em.Op(classfile.OpAthrow)
	em.Handler(start, exit, exit, "")

	code, handlers, err := em.Finish()
	if err != nil {
		return nil, err
	}
	return &classfile.Method{
		Name:       m.Name,
		Descriptor: m.Descriptor,
		Exceptions: append([]string(nil), m.Exceptions...),
		Code:       code,
		Handlers:   handlers,
		Flags:      m.Flags,
		MaxLocals:  t.maxLocals,
	}, nil
}

// dispatch emits the restore entry: the saved index selects the block that
// rebuilds the frame of the matching capturing site.
func (t *transformer) dispatch() {
	em := t.em
	em.Runtime(continuations.IsRestoring).Jump(classfile.OpIfeq, t.orig[0])
	em.Runtime(continuations.Pop(classfile.ValInt)).
		Store(classfile.ValInt, t.index).
		Load(classfile.ValInt, t.index)

	blocks := make([]codegen.Label, len(t.captures))
	for i := range blocks {
		blocks[i] = em.NewLabel()
	}
	invalid := em.NewLabel()
	em.Switch(0, blocks, invalid)
	em.Mark(invalid).
		Load(classfile.ValInt, t.index).
		Runtime(continuations.InvalidIndex).
		Op(classfile.OpAconstNull).
		Op(classfile.OpAthrow)

	for k, s := range t.captures {
		em.Mark(blocks[k])
		for i := len(s.locals) - 1; i >= 0; i-- {
			l := s.locals[i]
			em.Runtime(continuations.Pop(l.vt)).Store(l.vt, l.slot)
		}
		for _, vt := range s.below {
			em.Runtime(continuations.Pop(vt))
		}
		if s.receiver {
			em.Runtime(continuations.Pop(classfile.ValRef))
		}
		for _, p := range s.mt.Params {
			em.Zero(p)
		}
		em.Jump(classfile.OpGoto, s.label)
	}
}

func (t *transformer) instruction(pc int) {
	em := t.em
	ins := t.m.Code[pc]
	if !t.frames.Reachable(pc) {
		t.original(ins)
		return
	}

	switch {
	case t.kinds[pc] == SiteCapturing:
		s := t.byPC[pc]
		em.Mark(s.label).
			Ldc(s.ref.Owner).Ldc(s.ref.Name).Ldc(s.ref.Descriptor).
			Runtime(continuations.Expect)
		em.Emit(ins)
		resume := em.NewLabel()
		em.Runtime(continuations.IsCapturing).Jump(classfile.OpIfeq, resume)
		if s.mt.Result != classfile.ValVoid {
			em.Op(classfile.OpPop)
		}
		for i := len(s.below) - 1; i >= 0; i-- {
			em.Runtime(continuations.Push(s.below[i]))
		}
		for _, l := range s.locals {
			em.Load(l.vt, l.slot).Runtime(continuations.Push(l.vt))
		}
		em.Iconst(int32(s.index)).Runtime(continuations.Push(classfile.ValInt))
		if !t.m.IsStatic() {
			em.Load(classfile.ValRef, t.self).Runtime(continuations.Push(classfile.ValRef))
		}
		em.Zero(t.mt.Result).Return(t.mt.Result)
		em.Mark(resume)

	case t.kinds[pc] == SiteBlocking:
		start, end, handler := em.NewLabel(), em.NewLabel(), em.NewLabel()
		em.Runtime(continuations.Block).Mark(start)
		em.Emit(ins)
		em.Mark(end).Runtime(continuations.Unblock).Jump(classfile.OpGoto, t.orig[pc+1])
		em.Mark(handler).Runtime(continuations.Unblock).Op(classfile.OpAthrow)
		em.Handler(start, end, handler, "")

	case ins.Opcode == classfile.OpMonitorenter:
		em.Emit(ins).Runtime(continuations.Block)

	case ins.Opcode == classfile.OpMonitorexit:
		em.Emit(ins).Runtime(continuations.Unblock)

	case ins.IsReturn():
		t.release()
		em.Emit(ins)

	default:
		t.original(ins)
	}
}

// release undoes the blocking done on entry: the block taken when the call
// was not intercepted and the one held by a synchronized method.
func (t *transformer) release() {
	em := t.em
	skip := em.NewLabel()
	em.Load(classfile.ValInt, t.intercepted).
		Jump(classfile.OpIfne, skip).
		Runtime(continuations.Unblock).
		Mark(skip)
	if t.sync {
		em.Runtime(continuations.Unblock)
	}
}

// original emits an instruction with branch targets bound to the labels of
// the original code.
func (t *transformer) original(ins classfile.Instruction) {
	switch imm := ins.Imm.(type) {
	case classfile.BranchImm:
		t.em.Jump(ins.Opcode, t.orig[imm.Target])
	case classfile.TableSwitchImm:
		targets := make([]codegen.Label, len(imm.Targets))
		for i, pc := range imm.Targets {
			targets[i] = t.orig[pc]
		}
		t.em.Switch(imm.Low, targets, t.orig[imm.Default])
	default:
		t.em.Emit(ins)
	}
}
