// Package continuation implements resumable computations over a typed shadow
// stack.
//
// A Continuation wraps a Target. Resume runs the target until it either
// completes or suspends. Suspension unwinds the target: each instrumented
// frame saves its live values on the continuation's Stack and returns. The
// next Resume re-invokes the target with IsRestoring set, and each frame pops
// its values back and jumps to the call it was suspended in, until the
// original Suspend call is reached again.
//
// Suspension is only honored when every frame between the entry method and
// the Suspend call was intercepted. The Runtime ABI calls Expect before each
// instrumented call and Enter on entry to each instrumented method; a frame
// that was entered without a matching expectation, or a region guarded with
// Block, makes Suspend fail with ErrUnsuspendable.
//
// Encode and Decode serialize a suspended continuation so it can be resumed
// in another process.
//
// # Lifecycle
//
//	New -> Running -> Suspending -> Suspended -> Running -> ... -> Done
//
// Resume on a Done continuation, Suspend outside a running continuation and
// Suspend while already suspending all fail with ErrIllegalState.
package continuation
