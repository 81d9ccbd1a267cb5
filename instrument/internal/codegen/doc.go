// Package codegen emits instrumented method bodies for the continuation
// rewriter.
//
// The emitter appends classfile instructions and refers to positions through
// labels, so the rewriter can expand instructions and add dispatch and
// restore blocks without computing offsets by hand. Finish resolves every
// label into an absolute instruction index.
//
// This package is internal to the rewriter.
package codegen
