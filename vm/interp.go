package vm

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/wippyai/continuations/classfile"
	"github.com/wippyai/continuations/errors"
)

type frame struct {
	m      *method
	locals []any
	stack  []any
}

func (f *frame) push(v any) { f.stack = append(f.stack, v) }

func (f *frame) pop() any {
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *frame) popInt() int32     { return f.pop().(int32) }
func (f *frame) popLong() int64    { return f.pop().(int64) }
func (f *frame) popFloat() float32 { return f.pop().(float32) }
func (f *frame) popDouble() float64 {
	return f.pop().(float64)
}

// invoke runs m with fully evaluated arguments.
func (vm *VM) invoke(ctx context.Context, th *thread, m *method, args []any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, asException(err)
	}
	if th.depth >= vm.maxDepth {
		return nil, asException(fault(errors.KindOverflow, "call depth exceeds %d at %s", vm.maxDepth, m))
	}
	th.depth++
	defer func() { th.depth-- }()

	if ce := vm.log.Check(zap.DebugLevel, "invoke"); ce != nil {
		ce.Write(zap.Stringer("method", m), zap.Int("depth", th.depth))
	}

	if m.flags.Has(classfile.AccSynchronized) {
		var key any = m.owner
		if !m.isStatic() {
			key = args[0]
		}
		if err := vm.monitors.enter(ctx, th, key); err != nil {
			return nil, asException(err)
		}
		defer func() { _ = vm.monitors.exit(th, key) }()
	}

	switch {
	case m.host != nil:
		res, err := m.host(ctx, args)
		if err != nil {
			return nil, asException(err)
		}
		if m.mt.Result == classfile.ValVoid {
			return nil, nil
		}
		if !checkValue(m.mt.Result, res) {
			return nil, asException(fault(errors.KindTypeMismatch, "host %s returned %T", m, res))
		}
		return res, nil
	case m.def == nil || !m.def.HasCode():
		return nil, asException(errors.New(errors.PhaseRuntime, errors.KindLinkage).
			Path(m.owner.name, m.name).
			Detail("no implementation for %s", m).
			Build())
	}
	return vm.interpret(ctx, th, m, args)
}

func (vm *VM) interpret(ctx context.Context, th *thread, m *method, args []any) (any, error) {
	code := m.def.Code
	f := &frame{
		m:      m,
		locals: make([]any, m.def.MaxLocals),
		stack:  make([]any, 0, 8),
	}
	copy(f.locals, args)

	pc := 0
	for {
		next, ret, done, err := vm.step(ctx, th, f, pc, code[pc])
		if err != nil {
			ex := asException(err)
			target, ok := vm.findHandler(m, pc, ex)
			if !ok {
				return nil, ex
			}
			if ce := vm.log.Check(zap.DebugLevel, "exception caught"); ce != nil {
				ce.Write(zap.Stringer("method", m), zap.Int("pc", pc), zap.Int("handler", target), zap.Error(ex))
			}
			f.stack = f.stack[:0]
			if ex.Object != nil {
				f.push(ex.Object)
			} else {
				f.push(ex)
			}
			pc = target
			continue
		}
		if done {
			return ret, nil
		}
		pc = next
	}
}

func (vm *VM) findHandler(m *method, pc int, ex *Exception) (int, bool) {
	for _, h := range m.def.Handlers {
		if uint32(pc) < h.Start || uint32(pc) >= h.End {
			continue
		}
		if h.CatchType == "" || (ex.Object != nil && ex.Object.class.isSubclassOf(h.CatchType)) {
			return int(h.Target), true
		}
	}
	return 0, false
}

// step executes one instruction and returns the next pc, or the method
// result when done is set.
func (vm *VM) step(ctx context.Context, th *thread, f *frame, pc int, ins classfile.Instruction) (next int, ret any, done bool, err error) {
	next = pc + 1
	op := ins.Opcode
	switch op {
	case classfile.OpNop:
	case classfile.OpAconstNull:
		f.push(nil)
	case classfile.OpIconst:
		f.push(ins.Imm.(classfile.I32Imm).Value)
	case classfile.OpLconst:
		f.push(ins.Imm.(classfile.I64Imm).Value)
	case classfile.OpFconst:
		f.push(ins.Imm.(classfile.F32Imm).Value)
	case classfile.OpDconst:
		f.push(ins.Imm.(classfile.F64Imm).Value)
	case classfile.OpLdc:
		f.push(ins.Imm.(classfile.StringImm).Value)

	case classfile.OpIload, classfile.OpLload, classfile.OpFload, classfile.OpDload, classfile.OpAload:
		f.push(f.locals[ins.Imm.(classfile.LocalImm).Index])
	case classfile.OpIstore, classfile.OpLstore, classfile.OpFstore, classfile.OpDstore, classfile.OpAstore:
		f.locals[ins.Imm.(classfile.LocalImm).Index] = f.pop()
	case classfile.OpIinc:
		imm := ins.Imm.(classfile.IincImm)
		f.locals[imm.Index] = f.locals[imm.Index].(int32) + imm.Delta

	case classfile.OpPop:
		f.pop()
	case classfile.OpDup:
		f.push(f.stack[len(f.stack)-1])
	case classfile.OpSwap:
		n := len(f.stack)
		f.stack[n-1], f.stack[n-2] = f.stack[n-2], f.stack[n-1]

	case classfile.OpIadd, classfile.OpIsub, classfile.OpImul, classfile.OpIdiv, classfile.OpIrem,
		classfile.OpIshl, classfile.OpIshr, classfile.OpIushr, classfile.OpIand, classfile.OpIor, classfile.OpIxor:
		b, a := f.popInt(), f.popInt()
		v, err := intOp(op, a, b)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(v)
	case classfile.OpLadd, classfile.OpLsub, classfile.OpLmul, classfile.OpLdiv, classfile.OpLrem:
		b, a := f.popLong(), f.popLong()
		v, err := longOp(op, a, b)
		if err != nil {
			return 0, nil, false, err
		}
		f.push(v)
	case classfile.OpFadd, classfile.OpFsub, classfile.OpFmul, classfile.OpFdiv:
		b, a := f.popFloat(), f.popFloat()
		f.push(float32(floatOp(op, float64(a), float64(b))))
	case classfile.OpDadd, classfile.OpDsub, classfile.OpDmul, classfile.OpDdiv:
		b, a := f.popDouble(), f.popDouble()
		f.push(floatOp(op, a, b))
	case classfile.OpIneg:
		f.push(-f.popInt())
	case classfile.OpLneg:
		f.push(-f.popLong())
	case classfile.OpFneg:
		f.push(-f.popFloat())
	case classfile.OpDneg:
		f.push(-f.popDouble())

	case classfile.OpI2L:
		f.push(int64(f.popInt()))
	case classfile.OpI2F:
		f.push(float32(f.popInt()))
	case classfile.OpI2D:
		f.push(float64(f.popInt()))
	case classfile.OpL2I:
		f.push(int32(f.popLong()))
	case classfile.OpL2F:
		f.push(float32(f.popLong()))
	case classfile.OpL2D:
		f.push(float64(f.popLong()))
	case classfile.OpF2I:
		f.push(toInt32(float64(f.popFloat())))
	case classfile.OpF2L:
		f.push(toInt64(float64(f.popFloat())))
	case classfile.OpF2D:
		f.push(float64(f.popFloat()))
	case classfile.OpD2I:
		f.push(toInt32(f.popDouble()))
	case classfile.OpD2L:
		f.push(toInt64(f.popDouble()))
	case classfile.OpD2F:
		f.push(float32(f.popDouble()))

	case classfile.OpLcmp:
		b, a := f.popLong(), f.popLong()
		f.push(compare(a, b))
	case classfile.OpFcmpl, classfile.OpFcmpg:
		b, a := f.popFloat(), f.popFloat()
		f.push(fcompare(float64(a), float64(b), op == classfile.OpFcmpg))
	case classfile.OpDcmpl, classfile.OpDcmpg:
		b, a := f.popDouble(), f.popDouble()
		f.push(fcompare(a, b, op == classfile.OpDcmpg))

	case classfile.OpIfeq, classfile.OpIfne, classfile.OpIflt, classfile.OpIfge, classfile.OpIfgt, classfile.OpIfle:
		if intCond(op-classfile.OpIfeq, f.popInt(), 0) {
			return vm.branch(ctx, pc, ins.Imm.(classfile.BranchImm).Target)
		}
	case classfile.OpIfIcmpeq, classfile.OpIfIcmpne, classfile.OpIfIcmplt, classfile.OpIfIcmpge, classfile.OpIfIcmpgt, classfile.OpIfIcmple:
		b, a := f.popInt(), f.popInt()
		if intCond(op-classfile.OpIfIcmpeq, a, b) {
			return vm.branch(ctx, pc, ins.Imm.(classfile.BranchImm).Target)
		}
	case classfile.OpIfAcmpeq, classfile.OpIfAcmpne:
		b, a := f.pop(), f.pop()
		if (a == b) == (op == classfile.OpIfAcmpeq) {
			return vm.branch(ctx, pc, ins.Imm.(classfile.BranchImm).Target)
		}
	case classfile.OpIfnull, classfile.OpIfnonnull:
		if (f.pop() == nil) == (op == classfile.OpIfnull) {
			return vm.branch(ctx, pc, ins.Imm.(classfile.BranchImm).Target)
		}
	case classfile.OpGoto:
		return vm.branch(ctx, pc, ins.Imm.(classfile.BranchImm).Target)
	case classfile.OpTableswitch:
		imm := ins.Imm.(classfile.TableSwitchImm)
		key := int64(f.popInt()) - int64(imm.Low)
		target := imm.Default
		if key >= 0 && key < int64(len(imm.Targets)) {
			target = imm.Targets[key]
		}
		return vm.branch(ctx, pc, target)

	case classfile.OpIreturn, classfile.OpLreturn, classfile.OpFreturn, classfile.OpDreturn, classfile.OpAreturn:
		return 0, f.pop(), true, nil
	case classfile.OpReturn:
		return 0, nil, true, nil

	case classfile.OpGetstatic, classfile.OpPutstatic:
		return next, nil, false, vm.staticField(f, ins)
	case classfile.OpGetfield:
		ref := ins.Imm.(classfile.MemberImm)
		o, err := objectOperand(f.pop(), "getfield "+ref.Name)
		if err != nil {
			return 0, nil, false, err
		}
		v, ok := o.fields[ref.Name]
		if !ok {
			return 0, nil, false, fieldLinkage(ref)
		}
		f.push(v)
	case classfile.OpPutfield:
		ref := ins.Imm.(classfile.MemberImm)
		v := f.pop()
		o, err := objectOperand(f.pop(), "putfield "+ref.Name)
		if err != nil {
			return 0, nil, false, err
		}
		if _, ok := o.fields[ref.Name]; !ok {
			return 0, nil, false, fieldLinkage(ref)
		}
		o.fields[ref.Name] = v

	case classfile.OpInvokevirtual, classfile.OpInvokespecial, classfile.OpInvokestatic, classfile.OpInvokeinterface:
		return next, nil, false, vm.call(ctx, th, f, op, ins.Imm.(classfile.MemberImm))

	case classfile.OpNew:
		c, err := vm.class(ins.Imm.(classfile.ClassImm).Name)
		if err != nil {
			return 0, nil, false, err
		}
		if c.flags.Has(classfile.AccAbstract) || c.flags.Has(classfile.AccInterface) {
			return 0, nil, false, fault(errors.KindInvalidInput, "cannot instantiate %s", c.name)
		}
		f.push(newObject(c))
	case classfile.OpCheckcast:
		v := f.stack[len(f.stack)-1]
		name := ins.Imm.(classfile.ClassImm).Name
		if v != nil && !vm.instanceOf(v, name) {
			return 0, nil, false, fault(errors.KindTypeMismatch, "cannot cast %v to %s", v, name)
		}
	case classfile.OpInstanceof:
		f.push(boolValue(vm.instanceOf(f.pop(), ins.Imm.(classfile.ClassImm).Name)))
	case classfile.OpAthrow:
		switch v := f.pop().(type) {
		case *Object:
			return 0, nil, false, &Exception{Object: v}
		case *Exception:
			return 0, nil, false, v
		case nil:
			return 0, nil, false, nullPointer("athrow")
		default:
			return 0, nil, false, fault(errors.KindTypeMismatch, "cannot throw %T", v)
		}
	case classfile.OpMonitorenter:
		key, err := monitorKey(f.pop())
		if err != nil {
			return 0, nil, false, err
		}
		if err := vm.monitors.enter(ctx, th, key); err != nil {
			return 0, nil, false, err
		}
	case classfile.OpMonitorexit:
		key, err := monitorKey(f.pop())
		if err != nil {
			return 0, nil, false, err
		}
		if err := vm.monitors.exit(th, key); err != nil {
			return 0, nil, false, err
		}
	default:
		return 0, nil, false, fault(errors.KindUnsupported, "opcode 0x%02x", op)
	}
	return next, nil, false, nil
}

// branch checks for cancellation on backward jumps so loops stay interruptible.
func (vm *VM) branch(ctx context.Context, pc int, target uint32) (int, any, bool, error) {
	if int(target) <= pc {
		if err := ctx.Err(); err != nil {
			return 0, nil, false, err
		}
	}
	return int(target), nil, false, nil
}

func (vm *VM) call(ctx context.Context, th *thread, f *frame, op byte, ref classfile.MemberImm) error {
	mt, err := vm.methodType(ref.Descriptor)
	if err != nil {
		return err
	}
	n := len(mt.Params)
	if op != classfile.OpInvokestatic {
		n++
	}
	args := make([]any, n)
	copy(args, f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]

	var receiver any
	if op != classfile.OpInvokestatic {
		receiver = args[0]
		if receiver == nil {
			return nullPointer("invoke " + ref.String())
		}
	}
	m, err := vm.resolve(op, ref, receiver)
	if err != nil {
		return err
	}
	res, err := vm.invoke(ctx, th, m, args)
	if err != nil {
		return err
	}
	if mt.Result != classfile.ValVoid {
		f.push(res)
	}
	return nil
}

func (vm *VM) staticField(f *frame, ins classfile.Instruction) error {
	ref := ins.Imm.(classfile.MemberImm)
	c, err := vm.class(ref.Owner)
	if err != nil {
		return err
	}
	sc, err := staticOwner(c, ref.Owner, ref.Name)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if ins.Opcode == classfile.OpGetstatic {
		f.push(sc.statics[ref.Name])
	} else {
		sc.statics[ref.Name] = f.pop()
	}
	return nil
}

func objectOperand(v any, what string) (*Object, error) {
	switch o := v.(type) {
	case *Object:
		return o, nil
	case nil:
		return nil, nullPointer(what)
	}
	return nil, fault(errors.KindTypeMismatch, "%s on %T", what, v)
}

func monitorKey(v any) (any, error) {
	switch v.(type) {
	case *Object, *Exception:
		return v, nil
	case nil:
		return nil, nullPointer("monitor")
	}
	return nil, fault(errors.KindTypeMismatch, "cannot lock %T", v)
}

func fieldLinkage(ref classfile.MemberImm) error {
	return errors.New(errors.PhaseRuntime, errors.KindLinkage).
		Path(ref.Owner, ref.Name).
		Detail("no field %s.%s", ref.Owner, ref.Name).
		Build()
}

func intOp(op byte, a, b int32) (int32, error) {
	switch op {
	case classfile.OpIadd:
		return a + b, nil
	case classfile.OpIsub:
		return a - b, nil
	case classfile.OpImul:
		return a * b, nil
	case classfile.OpIdiv, classfile.OpIrem:
		if b == 0 {
			return 0, fault(errors.KindInvalidInput, "division by zero")
		}
		if op == classfile.OpIdiv {
			return a / b, nil
		}
		return a % b, nil
	case classfile.OpIshl:
		return a << (uint32(b) & 31), nil
	case classfile.OpIshr:
		return a >> (uint32(b) & 31), nil
	case classfile.OpIushr:
		return int32(uint32(a) >> (uint32(b) & 31)), nil
	case classfile.OpIand:
		return a & b, nil
	case classfile.OpIor:
		return a | b, nil
	case classfile.OpIxor:
		return a ^ b, nil
	}
	return 0, fault(errors.KindUnsupported, "int opcode 0x%02x", op)
}

func longOp(op byte, a, b int64) (int64, error) {
	switch op {
	case classfile.OpLadd:
		return a + b, nil
	case classfile.OpLsub:
		return a - b, nil
	case classfile.OpLmul:
		return a * b, nil
	case classfile.OpLdiv, classfile.OpLrem:
		if b == 0 {
			return 0, fault(errors.KindInvalidInput, "division by zero")
		}
		if op == classfile.OpLdiv {
			return a / b, nil
		}
		return a % b, nil
	}
	return 0, fault(errors.KindUnsupported, "long opcode 0x%02x", op)
}

func floatOp(op byte, a, b float64) float64 {
	switch op {
	case classfile.OpFadd, classfile.OpDadd:
		return a + b
	case classfile.OpFsub, classfile.OpDsub:
		return a - b
	case classfile.OpFmul, classfile.OpDmul:
		return a * b
	}
	return a / b
}

func compare[T int64 | float64](a, b T) int32 {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func fcompare(a, b float64, nanIsGreater bool) int32 {
	if math.IsNaN(a) || math.IsNaN(b) {
		if nanIsGreater {
			return 1
		}
		return -1
	}
	return compare(a, b)
}

// intCond evaluates the comparison selected by its offset in the
// eq, ne, lt, ge, gt, le opcode runs.
func intCond(cond byte, a, b int32) bool {
	switch cond {
	case 0:
		return a == b
	case 1:
		return a != b
	case 2:
		return a < b
	case 3:
		return a >= b
	case 4:
		return a > b
	}
	return a <= b
}

func toInt32(v float64) int32 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}

func toInt64(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= math.MinInt64:
		return math.MinInt64
	}
	return int64(v)
}
