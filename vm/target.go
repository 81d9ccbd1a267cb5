package vm

import (
	"context"

	"github.com/wippyai/continuations/continuation"
	"github.com/wippyai/continuations/errors"
)

// Target adapts a rewritten method into a continuation target. Each run
// records the method as the expected entry, so the first instrumented frame
// counts as intercepted. For instance methods the receiver is passed on the
// first run; on restore the receiver saved at capture time is used instead,
// which keeps decoded continuations bound to their decoded objects.
func (vm *VM) Target(owner, name, desc string, receiver any, args ...any) continuation.Target {
	return func(ctx context.Context) error {
		c, ok := continuation.FromContext(ctx)
		if !ok {
			return errors.IllegalState(errors.PhaseRuntime, "target run outside a continuation")
		}
		cls, err := vm.class(owner)
		if err != nil {
			return err
		}
		m := cls.lookup(name + desc)
		if m == nil {
			return errors.Linkage(owner, name, desc)
		}

		call := args
		if !m.isStatic() {
			self := receiver
			if c.IsRestoring() {
				if self, err = c.Stack().PopRef(); err != nil {
					return err
				}
			}
			call = append([]any{self}, args...)
		}
		c.ExpectEntry(continuation.Marker{Owner: owner, Name: name, Descriptor: desc})
		_, err = vm.Invoke(ctx, owner, name, desc, call...)
		return err
	}
}
