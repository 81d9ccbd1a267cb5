// Package instrument rewrites class files so that their methods can be
// suspended and resumed by package continuation.
//
// # Overview
//
// A suspension unwinds every instrumented frame between the suspend call and
// the continuation target. Each frame saves its live locals, the operand
// values below the pending call, a resume index and its receiver on the
// continuation's typed shadow stack, then returns. Resuming calls the target
// again; each frame sees the restoring flag, pops its state, rebuilds the
// operand stack and re-issues the call it was suspended in, until the
// suspend call itself is reached and execution continues after it.
//
// # Call sites
//
// Every call is classified:
//
//   - capturing: virtual and interface calls, and the suspend primitive;
//     the frame is saved around them
//   - blocking: static, special, private and final calls; suspension in
//     the callee is refused with continuation.ErrUnsuspendable
//   - excluded: calls named by Config.Exclude, left untouched
//   - runtime: calls into the continuation runtime class, left untouched
//
// A method is entered "intercepted" only when its caller's expectation
// conforms to it. Entries that are not intercepted block suspension until
// they return, so code reached through uninstrumented or unexpected paths
// can never be captured halfway.
//
// # Constructors
//
// A capturing call inside constructor arguments would have to save an
// uninitialized reference. Such arguments are evaluated before the
// allocation and spilled to fresh locals, preserving evaluation order.
//
// # Usage
//
//	cfg, err := instrument.LoadConfig("rewrite.toml")
//	if err != nil {
//	    return err
//	}
//	out, err := instrument.RewriteClass(data, cfg)
//
// Rewritten classes run on package vm, whose continuation runtime host
// implements the calls the rewrite emits.
package instrument
