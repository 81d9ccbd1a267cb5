// Package continuations adds cooperative, resumable execution to a typed
// stack machine that has no native support for pausing a call chain.
//
// A method rewritten by the instrument package saves exactly the live locals
// and operand values it needs into a typed shadow stack when a callee
// suspends, returns immediately, and on resume jumps back to the suspended
// call site through a dispatch table at method entry. A dynamic interception
// check refuses suspension whenever the call chain runs through code that
// cannot be replayed symmetrically.
//
// # Architecture Overview
//
//	continuations/       Root package with the runtime host-class ABI
//	├── continuation/    Continuation state machine, shadow stack, tracker, codec
//	├── instrument/      Bytecode rewriter and constructor-call relocator
//	├── classfile/       Class-file model, binary codec and frame analysis
//	├── casm/            Assembler and disassembler for class files
//	├── vm/              Interpreter that executes original and rewritten code
//	├── checkpoint/      Persistence of suspended continuations (file, sqlite)
//	├── errors/          Structured error types
//	└── cmd/contrun/     Command-line driver and interactive stepper
//
// # Quick Start
//
//	class, _ := casm.Parse(source)
//	rewritten, _ := instrument.RewriteClassModel(class, instrument.Config{})
//
//	machine, _ := vm.New()
//	machine.Load(rewritten)
//
//	c := continuation.New(machine.Target("demo/Main", "run", "()V", nil))
//	for {
//	    suspended, err := c.Resume(ctx)
//	    if err != nil || !suspended {
//	        break
//	    }
//	}
//
// Suspended continuations can be encoded with continuation.Encode and stored
// with the checkpoint package, then decoded and resumed in another process.
package continuations
