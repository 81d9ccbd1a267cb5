// Package vm interprets classes in the classfile format.
//
// The interpreter exists to run rewritten code end to end: it implements the
// continuation runtime class that instrumented methods call, and adapts
// methods into continuation targets.
//
// # Values
//
// Operand stack entries and locals hold one Go value each:
//
//	Category   Go type
//	─────────────────────────────────────────
//	I          int32 (also boolean, byte, char, short)
//	F          float32
//	J          int64
//	D          float64
//	A          nil, string, *Object or *Exception
//
// Classes are verified with classfile.Analyze when loaded, so the
// interpreter does not re-check operand categories.
//
// # Host Classes
//
// Go functions are installed as methods with RegisterHost or RegisterFunc.
// A host method may also back a native method declared in bytecode. The
// built-in classes are:
//
//	Object                 <init>()V, equals(LObject;)Z, toString()LString;
//	String                 length()I, concat(LString;)LString;, valueOf(I)LString;
//	sys/Out                static print and println overloads
//	continuation/Runtime   the rewritten-code protocol
//
// # Exceptions
//
// athrow of an object and errors from host functions or runtime faults all
// surface as *Exception. Handlers match thrown objects by class hierarchy;
// Go errors are only caught by catch-all handlers. Exception.Unwrap exposes
// the Go error, so errors.Is works across the VM boundary:
//
//	_, err := c.Resume(ctx)
//	if errors.Is(err, continuation.ErrUnsuspendable) { ... }
//
// # Continuations
//
// Target adapts a rewritten method into a continuation.Target, and
// Scheduler drives one to completion:
//
//	c := continuation.New(machine.Target("demo/Job", "run", "()V", job))
//	s := vm.NewScheduler(c, func(ctx context.Context, c *continuation.Continuation, step int) error {
//		return checkpoint.Save(ctx, store, "job", c, machine.ObjectCodec(), "")
//	})
//	err := s.Run(ctx)
//
// ObjectCodec serializes the reference stack as an object graph so that
// suspended continuations holding VM objects can be persisted.
package vm
