// Package casm provides a textual assembler for class files.
//
// A class is one S-expression. Instructions are written flat inside a method
// form; labels and handlers are nested forms:
//
//	(class "demo/Counter" (super "Object")
//	  (field "n" "I")
//	  (method "run" "()V" (flags public) (locals 2)
//	    aload 0
//	    invokevirtual "demo/Counter" "step" "()V"
//	    (label $done)
//	    return))
//
// Method forms:
//   - (flags public static final synchronized ...)
//   - (locals N); when omitted, the highest slot used or the argument count
//   - (throws "demo/Err" ...)
//   - (label $name) marks the next instruction
//   - (catch $start $end $handler ["Type"]); no type catches everything
//
// Branch operands are labels or absolute indices written @N. tableswitch
// takes a low key, the case labels, the keyword default and a default label.
// Member operands are three strings: owner, name and descriptor.
//
// Comments: line (;;) and block (; ;).
//
// Disassemble prints a class in the same syntax, so its output parses back
// to an equal class.
package casm
