package vm

import (
	"context"

	"go.uber.org/zap"

	continuations "github.com/wippyai/continuations"
	"github.com/wippyai/continuations/classfile"
	"github.com/wippyai/continuations/continuation"
	"github.com/wippyai/continuations/errors"
)

// runtimeHost binds the methods called by rewritten code to the continuation
// active in the calling context. Without a continuation the code runs as if
// never rewritten: every call counts as intercepted and nothing is captured.
func (vm *VM) runtimeHost() Host {
	h := &hostClass{name: continuations.RuntimeClass, methods: map[string]HostMethod{}}
	add := func(m continuations.RuntimeMethod, fn HostFunc) {
		h.methods[m.Name+m.Descriptor] = static(fn)
	}

	add(continuations.Enter, func(ctx context.Context, args []any) (any, error) {
		c, ok := continuation.FromContext(ctx)
		if !ok {
			return int32(1), nil
		}
		self := args[0]
		owner, name, desc := args[1].(string), args[2].(string), args[3].(string)
		overridable := args[4].(int32) != 0
		intercepted := c.Enter(func(expected continuation.Marker, entry bool) bool {
			return vm.conforms(expected, entry, self, owner, name, desc, overridable)
		})
		return boolValue(intercepted), nil
	})
	add(continuations.Expect, func(ctx context.Context, args []any) (any, error) {
		if c, ok := continuation.FromContext(ctx); ok {
			owner, _ := args[0].(string)
			name, _ := args[1].(string)
			desc, _ := args[2].(string)
			c.Expect(continuation.Marker{Owner: owner, Name: name, Descriptor: desc})
		}
		return nil, nil
	})
	add(continuations.IsCapturing, func(ctx context.Context, _ []any) (any, error) {
		c, ok := continuation.FromContext(ctx)
		if !ok {
			return int32(0), nil
		}
		c.ClearExpectation()
		return boolValue(c.IsSuspending()), nil
	})
	add(continuations.IsRestoring, func(ctx context.Context, _ []any) (any, error) {
		c, ok := continuation.FromContext(ctx)
		return boolValue(ok && c.IsRestoring()), nil
	})
	add(continuations.Block, func(ctx context.Context, _ []any) (any, error) {
		if c, ok := continuation.FromContext(ctx); ok {
			c.Block()
		}
		return nil, nil
	})
	add(continuations.Unblock, func(ctx context.Context, _ []any) (any, error) {
		if c, ok := continuation.FromContext(ctx); ok {
			return nil, c.Unblock()
		}
		return nil, nil
	})
	add(continuations.Suspend, func(ctx context.Context, _ []any) (any, error) {
		return nil, continuation.Suspend(ctx)
	})
	add(continuations.InvalidIndex, func(_ context.Context, args []any) (any, error) {
		return nil, errors.New(errors.PhaseRuntime, errors.KindIllegalState).
			Value(args[0]).
			Detail("invalid resume index %d", args[0]).
			Build()
	})

	for _, vt := range []classfile.ValType{classfile.ValInt, classfile.ValFloat, classfile.ValLong, classfile.ValDouble, classfile.ValRef} {
		add(continuations.Push(vt), func(ctx context.Context, args []any) (any, error) {
			s, err := shadowStack(ctx)
			if err != nil {
				return nil, err
			}
			switch vt {
			case classfile.ValInt:
				s.PushInt(args[0].(int32))
			case classfile.ValFloat:
				s.PushFloat(args[0].(float32))
			case classfile.ValLong:
				s.PushLong(args[0].(int64))
			case classfile.ValDouble:
				s.PushDouble(args[0].(float64))
			default:
				s.PushRef(args[0])
			}
			return nil, nil
		})
		add(continuations.Pop(vt), func(ctx context.Context, _ []any) (any, error) {
			s, err := shadowStack(ctx)
			if err != nil {
				return nil, err
			}
			switch vt {
			case classfile.ValInt:
				return s.PopInt()
			case classfile.ValFloat:
				return s.PopFloat()
			case classfile.ValLong:
				return s.PopLong()
			case classfile.ValDouble:
				return s.PopDouble()
			}
			return s.PopRef()
		})
	}
	return h
}

func shadowStack(ctx context.Context) (*continuation.Stack, error) {
	c, ok := continuation.FromContext(ctx)
	if !ok {
		return nil, errors.IllegalState(errors.PhaseRuntime, "shadow stack access with no active continuation")
	}
	return c.Stack(), nil
}

// conforms decides whether the expected call identity leads to the method
// being entered. A call site names the static type it invokes through, so an
// overridable method matches when virtual dispatch on the receiver from that
// type selects it. Methods that cannot be overridden are only ever called
// through blocking sites and match only as the continuation's entry method.
func (vm *VM) conforms(expected continuation.Marker, entry bool, self any, owner, name, desc string, overridable bool) bool {
	if expected.Name != name || expected.Descriptor != desc {
		return false
	}
	key := name + desc
	if !overridable {
		if !entry {
			return false
		}
		c, err := vm.class(expected.Owner)
		if err != nil {
			return false
		}
		m := c.lookup(key)
		return m != nil && m.owner.name == owner
	}
	if expected.Owner == owner {
		return true
	}
	rc, err := vm.classOf(self)
	if err != nil {
		return false
	}
	// Interfaces are not part of the super chain.
	if ec, err := vm.class(expected.Owner); err != nil || !ec.flags.Has(classfile.AccInterface) {
		if !rc.isSubclassOf(expected.Owner) {
			return false
		}
	}
	m := rc.lookup(key)
	ok := m != nil && m.owner.name == owner
	if !ok {
		vm.log.Debug("expectation does not conform",
			zap.Stringer("expected", expected),
			zap.String("owner", owner),
			zap.String("receiver", rc.name))
	}
	return ok
}
