// Package classfile models the class-file format of a typed stack machine:
// classes, fields, methods, instructions and exception tables, with a strict
// binary reader and writer.
//
// The instruction set follows the JVM closely but simplifies it in two ways:
// every local slot and operand stack entry holds one value of any category
// (longs and doubles are single-slot), and branch targets are absolute
// instruction indices rather than byte offsets.
//
// # Decoding
//
//	c, err := classfile.Decode(data)
//	if err != nil {
//	    // *errors.Error with PhaseDecode
//	}
//
// Decoding is strict: truncated input, unknown opcodes, out-of-range branch
// targets and trailing bytes are rejected rather than repaired.
//
// # Frame analysis
//
// Analyze runs an abstract interpreter over a method and returns the local
// and operand stack types before every reachable instruction, tracking
// uninitialized references produced by new until their constructor runs.
// It is the verifier used before and after instrumentation.
package classfile
