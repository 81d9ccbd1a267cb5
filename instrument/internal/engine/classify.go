package engine

import (
	continuations "github.com/wippyai/continuations"
	"github.com/wippyai/continuations/classfile"
)

// SiteKind is how a call site is instrumented.
type SiteKind uint8

const (
	// SiteNone is not a call.
	SiteNone SiteKind = iota
	// SiteRuntime calls the continuation runtime and is left as is.
	SiteRuntime
	// SiteExcluded is excluded by configuration and left as is.
	SiteExcluded
	// SiteBlocking calls a statically bound method. Suspension inside the
	// callee is refused for the duration of the call.
	SiteBlocking
	// SiteCapturing may suspend. The frame is saved after the call returns
	// while capturing and rebuilt before it on restore.
	SiteCapturing
)

func (k SiteKind) String() string {
	switch k {
	case SiteNone:
		return "none"
	case SiteRuntime:
		return "runtime"
	case SiteExcluded:
		return "excluded"
	case SiteBlocking:
		return "blocking"
	case SiteCapturing:
		return "capturing"
	}
	return "invalid"
}

// Classify decides how the instruction is instrumented inside class c.
//
// Static and special invocations are bound at rewrite time. Virtual and
// interface invocations are bound when the Final matcher names them, when
// the current class declares the method private or final, or when the call
// goes through the current class and that class is final.
func (e *Engine) Classify(c *classfile.Class, ins classfile.Instruction) SiteKind {
	if !ins.IsInvoke() {
		return SiteNone
	}
	ref, _ := ins.Member()
	if continuations.IsRuntimeCall(ref.Owner) {
		if ref.Name == continuations.Suspend.Name && ref.Descriptor == continuations.Suspend.Descriptor {
			return SiteCapturing
		}
		return SiteRuntime
	}
	if e.exclude != nil && e.exclude.Match(ref.Owner, ref.Name, ref.Descriptor) {
		return SiteExcluded
	}
	switch ins.Opcode {
	case classfile.OpInvokestatic, classfile.OpInvokespecial:
		return SiteBlocking
	}
	if e.final != nil && e.final.Match(ref.Owner, ref.Name, ref.Descriptor) {
		return SiteBlocking
	}
	if ref.Owner == c.Name {
		if c.Flags.Has(classfile.AccFinal) {
			return SiteBlocking
		}
		if m := c.Method(ref.Name, ref.Descriptor); m != nil &&
			(m.Flags.Has(classfile.AccPrivate) || m.Flags.Has(classfile.AccFinal)) {
			return SiteBlocking
		}
	}
	return SiteCapturing
}

// Overridable reports whether m can be replaced by a subclass, which decides
// how its entry is matched against the caller's expectation.
func Overridable(c *classfile.Class, m *classfile.Method) bool {
	return !m.IsStatic() && !m.IsConstructor() &&
		!m.Flags.Has(classfile.AccPrivate) && !m.Flags.Has(classfile.AccFinal) &&
		!c.Flags.Has(classfile.AccFinal)
}

// sites classifies every instruction of m.
func (e *Engine) sites(c *classfile.Class, m *classfile.Method) []SiteKind {
	kinds := make([]SiteKind, len(m.Code))
	for pc, ins := range m.Code {
		kinds[pc] = e.Classify(c, ins)
	}
	return kinds
}

// needsRewrite reports whether m makes an intercepted call. A method that
// does not is left unchanged: nothing it runs can suspend.
func needsRewrite(kinds []SiteKind) bool {
	for _, k := range kinds {
		if k == SiteBlocking || k == SiteCapturing {
			return true
		}
	}
	return false
}
