package continuations

import "github.com/wippyai/continuations/classfile"

// RuntimeClass is the host class rewritten code calls into. Its methods are
// implemented by the interpreter and bound to the continuation that is active
// in the calling context.
const RuntimeClass = "continuation/Runtime"

// RuntimeMethod names one static method of RuntimeClass.
type RuntimeMethod struct {
	Name       string
	Descriptor string
}

// Runtime methods emitted by the instrumentation pass.
var (
	// Enter consumes the pending call expectation on method entry and
	// returns nonzero when the call was intercepted. Arguments are the
	// receiver (null for static methods), the declaring class, the method
	// name and descriptor, and whether the method can be overridden.
	Enter = RuntimeMethod{"enter", "(LObject;LString;LString;LString;Z)Z"}

	// Expect records the call about to be made at a capturing call site.
	Expect = RuntimeMethod{"expect", "(LString;LString;LString;)V"}

	IsCapturing = RuntimeMethod{"isCapturing", "()Z"}
	IsRestoring = RuntimeMethod{"isRestoring", "()Z"}
	Block       = RuntimeMethod{"block", "()V"}
	Unblock     = RuntimeMethod{"unblock", "()V"}

	// Suspend is the suspension primitive target code calls.
	Suspend = RuntimeMethod{"suspend", "()V"}

	// InvalidIndex always fails; it guards the resume dispatch default.
	InvalidIndex = RuntimeMethod{"invalidIndex", "(I)V"}
)

var pushMethods = map[classfile.ValType]RuntimeMethod{
	classfile.ValInt:    {"pushI", "(I)V"},
	classfile.ValFloat:  {"pushF", "(F)V"},
	classfile.ValLong:   {"pushJ", "(J)V"},
	classfile.ValDouble: {"pushD", "(D)V"},
	classfile.ValRef:    {"pushA", "(LObject;)V"},
}

var popMethods = map[classfile.ValType]RuntimeMethod{
	classfile.ValInt:    {"popI", "()I"},
	classfile.ValFloat:  {"popF", "()F"},
	classfile.ValLong:   {"popJ", "()J"},
	classfile.ValDouble: {"popD", "()D"},
	classfile.ValRef:    {"popA", "()LObject;"},
}

// Push returns the runtime method saving a value of category v.
func Push(v classfile.ValType) RuntimeMethod { return pushMethods[v] }

// Pop returns the runtime method restoring a value of category v.
func Pop(v classfile.ValType) RuntimeMethod { return popMethods[v] }

// IsRuntimeCall reports whether a member reference targets RuntimeClass.
func IsRuntimeCall(owner string) bool { return owner == RuntimeClass }
