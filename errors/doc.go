// Package errors provides structured error types for the continuations module.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries a location path, the offending value and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseVerify, errors.KindTypeMismatch).
//		Path("demo/Counter", "run", "12").
//		Detail("expected int, got ref").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Truncated(errors.PhaseCodec, "int stack", 17)
//	err := errors.OutOfBounds(errors.PhaseDecode, path, 10, 5)
//
// All errors implement the standard error interface and support errors.Is/As.
// Two errors match under errors.Is when their Phase and Kind agree, which lets
// packages export sentinel values such as an unsuspendable-call error.
package errors
