package classfile

import (
	"fmt"
	"strconv"

	"github.com/wippyai/continuations/errors"
)

// VKind is the verification type of a local or stack entry.
type VKind uint8

const (
	VTop VKind = iota
	VInt
	VFloat
	VLong
	VDouble
	VRef
	VNull
	VUninit
	VUninitThis
)

// VType is a verification type. NewAt is the index of the allocating new
// instruction for VUninit.
type VType struct {
	Kind  VKind
	NewAt uint32
}

// Common verification types.
var (
	TopType        = VType{Kind: VTop}
	IntType        = VType{Kind: VInt}
	FloatType      = VType{Kind: VFloat}
	LongType       = VType{Kind: VLong}
	DoubleType     = VType{Kind: VDouble}
	RefType        = VType{Kind: VRef}
	NullType       = VType{Kind: VNull}
	UninitThisType = VType{Kind: VUninitThis}
)

// UninitType returns the type of a reference allocated at pc and not yet initialized.
func UninitType(pc uint32) VType { return VType{Kind: VUninit, NewAt: pc} }

// TypeOf returns the verification type of a value category.
func TypeOf(v ValType) VType {
	switch v {
	case ValInt:
		return IntType
	case ValFloat:
		return FloatType
	case ValLong:
		return LongType
	case ValDouble:
		return DoubleType
	case ValRef:
		return RefType
	}
	return TopType
}

// Category returns the value category, or 0 for Top.
func (t VType) Category() ValType {
	switch t.Kind {
	case VInt:
		return ValInt
	case VFloat:
		return ValFloat
	case VLong:
		return ValLong
	case VDouble:
		return ValDouble
	case VRef, VNull, VUninit, VUninitThis:
		return ValRef
	}
	return 0
}

// IsUninit reports whether the type is an uninitialized reference.
func (t VType) IsUninit() bool { return t.Kind == VUninit || t.Kind == VUninitThis }

func (t VType) isRef() bool { return t.Kind == VRef || t.Kind == VNull }

func (t VType) String() string {
	switch t.Kind {
	case VTop:
		return "top"
	case VInt:
		return "int"
	case VFloat:
		return "float"
	case VLong:
		return "long"
	case VDouble:
		return "double"
	case VRef:
		return "ref"
	case VNull:
		return "null"
	case VUninit:
		return "uninit@" + strconv.FormatUint(uint64(t.NewAt), 10)
	case VUninitThis:
		return "uninitThis"
	}
	return "?"
}

// Frame is the verifier state before an instruction.
type Frame struct {
	Locals []VType
	Stack  []VType
}

func (f *Frame) clone() *Frame {
	return &Frame{
		Locals: append([]VType(nil), f.Locals...),
		Stack:  append([]VType(nil), f.Stack...),
	}
}

// Frames holds the result of analyzing one method. In[pc] is nil for
// unreachable instructions.
type Frames struct {
	In       []*Frame
	MaxStack int
}

// Reachable reports whether pc can execute.
func (fs *Frames) Reachable(pc int) bool {
	return pc >= 0 && pc < len(fs.In) && fs.In[pc] != nil
}

// Analyze computes and verifies the frame before every reachable instruction.
// It checks stack depth and type agreement at merges, typed operand use,
// local initialization, return types and use of uninitialized references.
func Analyze(c *Class, m *Method) (*Frames, error) {
	a, err := newAnalyzer(c, m)
	if err != nil {
		return nil, err
	}
	if err := a.run(); err != nil {
		return nil, err
	}
	return &Frames{In: a.in, MaxStack: a.maxStack}, nil
}

type analyzer struct {
	class    *Class
	method   *Method
	mt       MethodType
	in       []*Frame
	queued   []bool
	work     []int
	maxStack int
}

func newAnalyzer(c *Class, m *Method) (*analyzer, error) {
	a := &analyzer{class: c, method: m}
	mt, err := m.Type()
	if err != nil {
		return nil, err
	}
	a.mt = mt
	if !m.HasCode() {
		return nil, a.fail(0, errors.KindInvalidInput, "method has no code")
	}
	if err := CheckBounds(m); err != nil {
		return nil, err
	}
	slots, _ := m.ArgSlots()
	if int(m.MaxLocals) < slots {
		return nil, a.fail(0, errors.KindOutOfBounds,
			fmt.Sprintf("max locals %d below argument slots %d", m.MaxLocals, slots))
	}

	entry := &Frame{Locals: make([]VType, m.MaxLocals)}
	i := 0
	if !m.IsStatic() {
		if m.IsConstructor() && c.Name != ObjectClass {
			entry.Locals[0] = UninitThisType
		} else {
			entry.Locals[0] = RefType
		}
		i = 1
	}
	for _, p := range mt.Params {
		entry.Locals[i] = TypeOf(p)
		i++
	}

	a.in = make([]*Frame, len(m.Code))
	a.queued = make([]bool, len(m.Code))
	a.in[0] = entry
	a.enqueue(0)
	return a, nil
}

func (a *analyzer) enqueue(pc int) {
	if !a.queued[pc] {
		a.queued[pc] = true
		a.work = append(a.work, pc)
	}
}

func (a *analyzer) run() error {
	for len(a.work) > 0 {
		pc := a.work[len(a.work)-1]
		a.work = a.work[:len(a.work)-1]
		a.queued[pc] = false

		f := a.in[pc].clone()
		ins := a.method.Code[pc]

		for _, h := range a.method.Handlers {
			if uint32(pc) >= h.Start && uint32(pc) < h.End {
				hf := &Frame{Locals: f.Locals, Stack: []VType{RefType}}
				if err := a.merge(pc, int(h.Target), hf); err != nil {
					return err
				}
			}
		}

		if err := a.step(pc, ins, f); err != nil {
			return err
		}
		if len(f.Stack) > a.maxStack {
			a.maxStack = len(f.Stack)
		}

		for _, t := range ins.Targets() {
			if err := a.merge(pc, int(t), f); err != nil {
				return err
			}
		}
		if !ins.IsTerminator() {
			if pc+1 >= len(a.method.Code) {
				return a.fail(pc, errors.KindInvalidData, "control falls off the end of the method")
			}
			if err := a.merge(pc, pc+1, f); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *analyzer) merge(from, to int, f *Frame) error {
	cur := a.in[to]
	if cur == nil {
		a.in[to] = f.clone()
		a.enqueue(to)
		return nil
	}
	if len(cur.Stack) != len(f.Stack) {
		return a.fail(to, errors.KindTypeMismatch,
			fmt.Sprintf("stack depth %d from %d disagrees with %d", len(f.Stack), from, len(cur.Stack)))
	}
	changed := false
	for i, t := range f.Stack {
		m, ok := mergeType(cur.Stack[i], t)
		if !ok {
			return a.fail(to, errors.KindTypeMismatch,
				fmt.Sprintf("stack slot %d: %s from %d disagrees with %s", i, t, from, cur.Stack[i]))
		}
		if m != cur.Stack[i] {
			cur.Stack[i] = m
			changed = true
		}
	}
	for i, t := range f.Locals {
		m, ok := mergeType(cur.Locals[i], t)
		if !ok {
			m = TopType
		}
		if m != cur.Locals[i] {
			cur.Locals[i] = m
			changed = true
		}
	}
	if changed {
		a.enqueue(to)
	}
	return nil
}

func mergeType(a, b VType) (VType, bool) {
	if a == b {
		return a, true
	}
	if a.isRef() && b.isRef() {
		return RefType, true
	}
	return TopType, false
}

func (a *analyzer) fail(pc int, kind errors.Kind, detail string) error {
	return errors.New(errors.PhaseVerify, kind).
		Path(a.class.Name, a.method.Key(), strconv.Itoa(pc)).
		Detail("%s", detail).
		Build()
}

func (a *analyzer) pop(pc int, f *Frame) (VType, error) {
	if len(f.Stack) == 0 {
		return TopType, a.fail(pc, errors.KindStackUnderflow, OpcodeName(a.method.Code[pc].Opcode)+" on empty stack")
	}
	t := f.Stack[len(f.Stack)-1]
	f.Stack = f.Stack[:len(f.Stack)-1]
	return t, nil
}

func (a *analyzer) popCat(pc int, f *Frame, want ValType) (VType, error) {
	t, err := a.pop(pc, f)
	if err != nil {
		return t, err
	}
	if want == ValRef {
		if !t.isRef() {
			return t, a.fail(pc, errors.KindTypeMismatch, "expected ref, got "+t.String())
		}
		return t, nil
	}
	if t.Category() != want {
		return t, a.fail(pc, errors.KindTypeMismatch, "expected "+want.String()+", got "+t.String())
	}
	return t, nil
}

func (a *analyzer) push(f *Frame, t VType) {
	f.Stack = append(f.Stack, t)
}

func (a *analyzer) load(pc int, f *Frame, idx uint32, want ValType) error {
	t := f.Locals[idx]
	if t.Kind == VTop {
		return a.fail(pc, errors.KindInvalidData, fmt.Sprintf("read of unset local %d", idx))
	}
	if t.Category() != want {
		return a.fail(pc, errors.KindTypeMismatch, fmt.Sprintf("local %d: expected %s, got %s", idx, want, t))
	}
	a.push(f, t)
	return nil
}

func (a *analyzer) store(pc int, f *Frame, idx uint32, want ValType) error {
	t, err := a.pop(pc, f)
	if err != nil {
		return err
	}
	if t.Category() != want {
		return a.fail(pc, errors.KindTypeMismatch, fmt.Sprintf("store to local %d: expected %s, got %s", idx, want, t))
	}
	f.Locals[idx] = t
	return nil
}

var loadStoreCat = map[byte]ValType{
	OpIload: ValInt, OpLload: ValLong, OpFload: ValFloat, OpDload: ValDouble, OpAload: ValRef,
	OpIstore: ValInt, OpLstore: ValLong, OpFstore: ValFloat, OpDstore: ValDouble, OpAstore: ValRef,
}

func binaryCat(op byte) (ValType, bool) {
	switch op {
	case OpIadd, OpIsub, OpImul, OpIdiv, OpIrem, OpIshl, OpIshr, OpIushr, OpIand, OpIor, OpIxor:
		return ValInt, true
	case OpLadd, OpLsub, OpLmul, OpLdiv, OpLrem:
		return ValLong, true
	case OpFadd, OpFsub, OpFmul, OpFdiv:
		return ValFloat, true
	case OpDadd, OpDsub, OpDmul, OpDdiv:
		return ValDouble, true
	}
	return 0, false
}

var conversions = map[byte][2]ValType{
	OpI2L: {ValInt, ValLong}, OpI2F: {ValInt, ValFloat}, OpI2D: {ValInt, ValDouble},
	OpL2I: {ValLong, ValInt}, OpL2F: {ValLong, ValFloat}, OpL2D: {ValLong, ValDouble},
	OpF2I: {ValFloat, ValInt}, OpF2L: {ValFloat, ValLong}, OpF2D: {ValFloat, ValDouble},
	OpD2I: {ValDouble, ValInt}, OpD2L: {ValDouble, ValLong}, OpD2F: {ValDouble, ValFloat},
	OpIneg: {ValInt, ValInt}, OpLneg: {ValLong, ValLong}, OpFneg: {ValFloat, ValFloat}, OpDneg: {ValDouble, ValDouble},
}

var compares = map[byte]ValType{
	OpLcmp: ValLong, OpFcmpl: ValFloat, OpFcmpg: ValFloat, OpDcmpl: ValDouble, OpDcmpg: ValDouble,
}

var returns = map[byte]ValType{
	OpIreturn: ValInt, OpLreturn: ValLong, OpFreturn: ValFloat, OpDreturn: ValDouble, OpAreturn: ValRef, OpReturn: ValVoid,
}

func (a *analyzer) step(pc int, ins Instruction, f *Frame) error {
	op := ins.Opcode

	if cat, ok := loadStoreCat[op]; ok {
		idx := ins.Imm.(LocalImm).Index
		if op <= OpAload {
			if op == OpAload {
				t := f.Locals[idx]
				if t.Category() != ValRef {
					return a.fail(pc, errors.KindTypeMismatch, fmt.Sprintf("local %d: expected ref, got %s", idx, t))
				}
				a.push(f, t)
				return nil
			}
			return a.load(pc, f, idx, cat)
		}
		return a.store(pc, f, idx, cat)
	}
	if cat, ok := binaryCat(op); ok {
		if _, err := a.popCat(pc, f, cat); err != nil {
			return err
		}
		if _, err := a.popCat(pc, f, cat); err != nil {
			return err
		}
		a.push(f, TypeOf(cat))
		return nil
	}
	if conv, ok := conversions[op]; ok {
		if _, err := a.popCat(pc, f, conv[0]); err != nil {
			return err
		}
		a.push(f, TypeOf(conv[1]))
		return nil
	}
	if cat, ok := compares[op]; ok {
		if _, err := a.popCat(pc, f, cat); err != nil {
			return err
		}
		if _, err := a.popCat(pc, f, cat); err != nil {
			return err
		}
		a.push(f, IntType)
		return nil
	}
	if cat, ok := returns[op]; ok {
		if cat != a.mt.Result {
			return a.fail(pc, errors.KindTypeMismatch, fmt.Sprintf("%s in method returning %s", OpcodeName(op), a.mt.Result))
		}
		if cat != ValVoid {
			if _, err := a.popCat(pc, f, cat); err != nil {
				return err
			}
		}
		if a.method.IsConstructor() && len(f.Locals) > 0 && f.Locals[0].Kind == VUninitThis {
			return a.fail(pc, errors.KindInvalidData, "constructor returns before super initialization")
		}
		return nil
	}

	switch op {
	case OpNop:
	case OpAconstNull:
		a.push(f, NullType)
	case OpIconst:
		a.push(f, IntType)
	case OpLconst:
		a.push(f, LongType)
	case OpFconst:
		a.push(f, FloatType)
	case OpDconst:
		a.push(f, DoubleType)
	case OpLdc:
		a.push(f, RefType)
	case OpIinc:
		idx := ins.Imm.(IincImm).Index
		if f.Locals[idx].Kind != VInt {
			return a.fail(pc, errors.KindTypeMismatch, fmt.Sprintf("iinc on local %d of type %s", idx, f.Locals[idx]))
		}
	case OpPop:
		if _, err := a.pop(pc, f); err != nil {
			return err
		}
	case OpDup:
		t, err := a.pop(pc, f)
		if err != nil {
			return err
		}
		a.push(f, t)
		a.push(f, t)
	case OpSwap:
		t1, err := a.pop(pc, f)
		if err != nil {
			return err
		}
		t2, err := a.pop(pc, f)
		if err != nil {
			return err
		}
		a.push(f, t1)
		a.push(f, t2)
	case OpIfeq, OpIfne, OpIflt, OpIfge, OpIfgt, OpIfle, OpTableswitch:
		if _, err := a.popCat(pc, f, ValInt); err != nil {
			return err
		}
	case OpIfIcmpeq, OpIfIcmpne, OpIfIcmplt, OpIfIcmpge, OpIfIcmpgt, OpIfIcmple:
		for k := 0; k < 2; k++ {
			if _, err := a.popCat(pc, f, ValInt); err != nil {
				return err
			}
		}
	case OpIfAcmpeq, OpIfAcmpne:
		for k := 0; k < 2; k++ {
			if _, err := a.popCat(pc, f, ValRef); err != nil {
				return err
			}
		}
	case OpIfnull, OpIfnonnull, OpAthrow, OpMonitorenter, OpMonitorexit:
		if _, err := a.popCat(pc, f, ValRef); err != nil {
			return err
		}
	case OpGoto:
	case OpGetstatic, OpPutstatic, OpGetfield, OpPutfield:
		return a.stepField(pc, ins, f)
	case OpInvokevirtual, OpInvokespecial, OpInvokestatic, OpInvokeinterface:
		return a.stepInvoke(pc, ins, f)
	case OpNew:
		a.push(f, UninitType(uint32(pc)))
	case OpCheckcast:
		t, err := a.popCat(pc, f, ValRef)
		if err != nil {
			return err
		}
		a.push(f, t)
	case OpInstanceof:
		if _, err := a.popCat(pc, f, ValRef); err != nil {
			return err
		}
		a.push(f, IntType)
	default:
		return a.fail(pc, errors.KindUnsupported, fmt.Sprintf("opcode 0x%02x", op))
	}
	return nil
}

func (a *analyzer) stepField(pc int, ins Instruction, f *Frame) error {
	m := ins.Imm.(MemberImm)
	vt, err := ParseFieldDescriptor(m.Descriptor)
	if err != nil {
		return err
	}
	switch ins.Opcode {
	case OpGetstatic:
		a.push(f, TypeOf(vt))
	case OpPutstatic:
		if _, err := a.popCat(pc, f, vt); err != nil {
			return err
		}
	case OpGetfield:
		if _, err := a.popCat(pc, f, ValRef); err != nil {
			return err
		}
		a.push(f, TypeOf(vt))
	case OpPutfield:
		if _, err := a.popCat(pc, f, vt); err != nil {
			return err
		}
		recv, err := a.pop(pc, f)
		if err != nil {
			return err
		}
		if !recv.isRef() && recv.Kind != VUninitThis {
			return a.fail(pc, errors.KindTypeMismatch, "putfield receiver is "+recv.String())
		}
	}
	return nil
}

func (a *analyzer) stepInvoke(pc int, ins Instruction, f *Frame) error {
	m := ins.Imm.(MemberImm)
	mt, err := ParseMethodDescriptor(m.Descriptor)
	if err != nil {
		return err
	}
	for k := len(mt.Params) - 1; k >= 0; k-- {
		if _, err := a.popCat(pc, f, mt.Params[k]); err != nil {
			return err
		}
	}
	if ins.Opcode != OpInvokestatic {
		recv, err := a.pop(pc, f)
		if err != nil {
			return err
		}
		if m.Name == InitName {
			if ins.Opcode != OpInvokespecial || mt.Result != ValVoid {
				return a.fail(pc, errors.KindInvalidData, "constructor must be invoked with invokespecial")
			}
			if !recv.IsUninit() {
				return a.fail(pc, errors.KindTypeMismatch, "constructor receiver is "+recv.String())
			}
			replace(f, recv, RefType)
		} else if !recv.isRef() {
			return a.fail(pc, errors.KindTypeMismatch, "receiver is "+recv.String())
		}
	} else if m.Name == InitName {
		return a.fail(pc, errors.KindInvalidData, "static call to constructor")
	}
	if mt.Result != ValVoid {
		a.push(f, TypeOf(mt.Result))
	}
	return nil
}

func replace(f *Frame, from, to VType) {
	for i, t := range f.Stack {
		if t == from {
			f.Stack[i] = to
		}
	}
	for i, t := range f.Locals {
		if t == from {
			f.Locals[i] = to
		}
	}
}
