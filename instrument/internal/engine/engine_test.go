package engine

import (
	stderrors "errors"
	"testing"

	continuations "github.com/wippyai/continuations"
	"github.com/wippyai/continuations/casm"
	"github.com/wippyai/continuations/classfile"
	"github.com/wippyai/continuations/errors"
)

type matchFunc func(owner, name, desc string) bool

func (f matchFunc) Match(owner, name, desc string) bool { return f(owner, name, desc) }

func opcodes(code []classfile.Instruction) []byte {
	out := make([]byte, len(code))
	for i, ins := range code {
		out[i] = ins.Opcode
	}
	return out
}

func sameOps(t *testing.T, code []classfile.Instruction, want []byte) {
	t.Helper()
	got := opcodes(code)
	if len(got) != len(want) {
		t.Fatalf("code has %d instructions, want %d:\n%v", len(got), len(want), code)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("instr[%d] = %s, want %s", i, classfile.OpcodeName(got[i]), classfile.OpcodeName(want[i]))
		}
	}
}

func TestClassify(t *testing.T) {
	open := casm.MustParse(`
(class "demo/C" (super "Object")
  (method "p" "()V" (flags private) return)
  (method "f" "()V" (flags final) return)
  (method "v" "()V" return))`)
	sealed := casm.MustParse(`
(class "demo/F" (super "Object") (flags final)
  (method "v" "()V" return))`)

	e := New(Config{
		Exclude: matchFunc(func(owner, _, _ string) bool { return owner == "demo/Log" }),
		Final:   matchFunc(func(_, name, _ string) bool { return name == "done" }),
	})
	call := func(op byte, owner, name string) classfile.Instruction {
		return classfile.Member(op, owner, name, "()V")
	}
	tests := []struct {
		name  string
		class *classfile.Class
		ins   classfile.Instruction
		want  SiteKind
	}{
		{"not a call", open, classfile.Iconst(1), SiteNone},
		{"suspend", open, call(classfile.OpInvokestatic, continuations.RuntimeClass, "suspend"), SiteCapturing},
		{"runtime", open, call(classfile.OpInvokestatic, continuations.RuntimeClass, "block"), SiteRuntime},
		{"static", open, call(classfile.OpInvokestatic, "demo/C", "s"), SiteBlocking},
		{"special", open, call(classfile.OpInvokespecial, "Object", "v"), SiteBlocking},
		{"private", open, call(classfile.OpInvokevirtual, "demo/C", "p"), SiteBlocking},
		{"final method", open, call(classfile.OpInvokevirtual, "demo/C", "f"), SiteBlocking},
		{"final class", sealed, call(classfile.OpInvokevirtual, "demo/F", "v"), SiteBlocking},
		{"virtual", open, call(classfile.OpInvokevirtual, "demo/C", "v"), SiteCapturing},
		{"other class", sealed, call(classfile.OpInvokevirtual, "demo/C", "v"), SiteCapturing},
		{"interface", open, call(classfile.OpInvokeinterface, "demo/Run", "run"), SiteCapturing},
		{"excluded", open, call(classfile.OpInvokevirtual, "demo/Log", "write"), SiteExcluded},
		{"final hint", open, call(classfile.OpInvokevirtual, "demo/Job", "done"), SiteBlocking},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Classify(tt.class, tt.ins); got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestOverridable(t *testing.T) {
	c := casm.MustParse(`
(class "demo/O" (super "Object")
  (method "<init>" "()V" aload 0 invokespecial "Object" "<init>" "()V" return)
  (method "v" "()V" return)
  (method "p" "()V" (flags private) return)
  (method "f" "()V" (flags final) return)
  (method "s" "()V" (flags static) return))`)
	want := map[string]bool{"<init>": false, "v": true, "p": false, "f": false, "s": false}
	for name, w := range want {
		if got := Overridable(c, byName(c, name)); got != w {
			t.Errorf("Overridable(%s) = %v, want %v", name, got, w)
		}
	}
}

const suspendCall = `invokestatic "continuation/Runtime" "suspend" "()V"`

func TestRelocateSingle(t *testing.T) {
	c := casm.MustParse(`
(class "demo/R" (super "Object")
  (method "make" "()LObject;" (flags static)
    new "demo/P"
    dup
    iconst 1
    ` + suspendCall + `
    iconst 2
    invokespecial "demo/P" "<init>" "(II)V"
    areturn))`)
	m := c.Method("make", "()LObject;")
	rm, frames, err := New(Config{}).Relocate(c, m)
	if err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	if rm == m {
		t.Fatal("expected a relocated copy")
	}
	sameOps(t, rm.Code, []byte{
		classfile.OpIconst, classfile.OpInvokestatic, classfile.OpIconst,
		classfile.OpIstore, classfile.OpIstore,
		classfile.OpNew, classfile.OpDup,
		classfile.OpIload, classfile.OpIload,
		classfile.OpInvokespecial, classfile.OpAreturn,
	})
	if rm.Code[3].Imm != (classfile.LocalImm{Index: 1}) || rm.Code[4].Imm != (classfile.LocalImm{Index: 0}) {
		t.Errorf("stores = %v, %v; want last argument first", rm.Code[3], rm.Code[4])
	}
	if rm.Code[7].Imm != (classfile.LocalImm{Index: 0}) || rm.Code[8].Imm != (classfile.LocalImm{Index: 1}) {
		t.Errorf("loads = %v, %v; want argument order", rm.Code[7], rm.Code[8])
	}
	if rm.MaxLocals != 2 {
		t.Errorf("MaxLocals = %d, want 2", rm.MaxLocals)
	}
	if len(frames.In[1].Stack) != 0 {
		t.Errorf("stack at capturing call = %v, want empty", frames.In[1].Stack)
	}
	if len(m.Code) != 7 || m.Code[0].Opcode != classfile.OpNew {
		t.Error("input method was modified")
	}
}

func TestRelocateNestedInnermostFirst(t *testing.T) {
	c := casm.MustParse(`
(class "demo/R" (super "Object")
  (method "make" "()LObject;" (flags static)
    new "demo/A"
    dup
    new "demo/B"
    dup
    ` + suspendCall + `
    iconst 1
    invokespecial "demo/B" "<init>" "(I)V"
    invokespecial "demo/A" "<init>" "(LObject;)V"
    areturn))`)
	rm, _, err := New(Config{}).Relocate(c, c.Method("make", "()LObject;"))
	if err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	sameOps(t, rm.Code, []byte{
		classfile.OpInvokestatic,
		classfile.OpIconst, classfile.OpIstore,
		classfile.OpNew, classfile.OpDup, classfile.OpIload, classfile.OpInvokespecial,
		classfile.OpAstore,
		classfile.OpNew, classfile.OpDup, classfile.OpAload, classfile.OpInvokespecial,
		classfile.OpAreturn,
	})
	if got := rm.Code[3].Imm.(classfile.ClassImm).Name; got != "demo/B" {
		t.Errorf("first allocation = %s, want demo/B", got)
	}
}

func TestRelocateRemapsBranchesAndHandlers(t *testing.T) {
	c := casm.MustParse(`
(class "demo/R" (super "Object")
  (method "make" "(I)LObject;" (flags static)
    (label $s)
    new "demo/P"
    dup
    ` + suspendCall + `
    iload 0
    ifeq $zero
    iconst 1
    goto $call
    (label $zero)
    iconst 0
    (label $call)
    invokespecial "demo/P" "<init>" "(I)V"
    (label $e)
    areturn
    (label $h)
    areturn
    (catch $s $e $h))`)
	rm, _, err := New(Config{}).Relocate(c, c.Method("make", "(I)LObject;"))
	if err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	// suspend iload ifeq iconst goto iconst istore new dup iload invokespecial areturn areturn
	if got := rm.Code[2].Imm.(classfile.BranchImm).Target; got != 5 {
		t.Errorf("ifeq target = %d, want 5", got)
	}
	if got := rm.Code[4].Imm.(classfile.BranchImm).Target; got != 6 {
		t.Errorf("goto target = %d, want the spill at 6", got)
	}
	h := rm.Handlers[0]
	if h.Start != 0 || h.End != 11 || h.Target != 12 {
		t.Errorf("handler = %+v, want 0..11 -> 12", h)
	}
	if _, err := classfile.Analyze(c, rm); err != nil {
		t.Errorf("relocated method does not verify: %v", err)
	}
}

func TestRelocateRejects(t *testing.T) {
	c := casm.MustParse(`
(class "demo/R" (super "Object")
  (method "make" "()LObject;" (flags static)
    new "demo/P"
    ` + suspendCall + `
    dup
    invokespecial "demo/P" "<init>" "()V"
    areturn))`)
	_, _, err := New(Config{}).Relocate(c, c.Method("make", "()LObject;"))
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseRewrite, Kind: errors.KindUnsupported}) {
		t.Fatalf("err = %v, want unsupported rewrite", err)
	}
}

const workerSrc = `
(class "demo/W" (super "Object")
  (method "<init>" "()V" aload 0 invokespecial "Object" "<init>" "()V" return)
  (method "leaf" "(I)I" (flags static)
    iload 0 iconst 1 iadd ireturn)
  (method "step" "()V" return)
  (method "run" "(I)I" (locals 3)
    iconst 0
    istore 2
    (label $loop)
    iload 1
    ifle $done
    aload 0
    invokevirtual "demo/W" "step" "()V"
    iload 2
    iload 1
    invokestatic "demo/W" "leaf" "(I)I"
    iadd
    istore 2
    iinc 1 -1
    goto $loop
    (label $done)
    iload 2
    ireturn)
  (method "sync" "()V" (flags synchronized)
    aload 0
    invokevirtual "demo/W" "step" "()V"
    return))`

func TestRewriteMethod(t *testing.T) {
	c := casm.MustParse(workerSrc)
	e := New(Config{})

	for _, name := range []string{"<init>", "leaf"} {
		m := byName(c, name)
		out, ok, err := e.RewriteMethod(c, m)
		if err != nil || ok || out != m {
			t.Errorf("%s: RewriteMethod = %v, %v; want unchanged", name, ok, err)
		}
	}

	m := c.Method("run", "(I)I")
	out, ok, err := e.RewriteMethod(c, m)
	if err != nil || !ok {
		t.Fatalf("run: RewriteMethod = %v, %v", ok, err)
	}
	if out.MaxLocals != m.MaxLocals+3 {
		t.Errorf("MaxLocals = %d, want %d", out.MaxLocals, m.MaxLocals+3)
	}
	enter := out.Code[5]
	if ref, _ := enter.Member(); ref.Name != continuations.Enter.Name {
		t.Errorf("instr[5] = %v, want the entry check", enter)
	}
	if out.Code[4] != classfile.Iconst(1) {
		t.Errorf("overridable flag = %v, want 1", out.Code[4])
	}
	var switches int
	for _, ins := range out.Code {
		if ts, ok := ins.Imm.(classfile.TableSwitchImm); ok {
			switches++
			if len(ts.Targets) != 1 {
				t.Errorf("dispatch has %d targets, want one per capturing call", len(ts.Targets))
			}
		}
	}
	if switches != 1 {
		t.Errorf("found %d dispatch switches", switches)
	}
	last := out.Handlers[len(out.Handlers)-1]
	if last.CatchType != "" || last.Target != last.End {
		t.Errorf("last handler = %+v, want the catch-all exit handler", last)
	}
	first := out.Handlers[0]
	if ref, _ := out.Code[first.Start].Member(); ref.Name != "leaf" || first.End != first.Start+1 {
		t.Errorf("first handler = %+v, want the blocking call guard", first)
	}
	if _, err := classfile.Analyze(c, out); err != nil {
		t.Errorf("rewritten method does not verify: %v", err)
	}
}

func TestRewriteSynchronized(t *testing.T) {
	c := casm.MustParse(workerSrc)
	out, ok, err := New(Config{}).RewriteMethod(c, c.Method("sync", "()V"))
	if err != nil || !ok {
		t.Fatalf("RewriteMethod = %v, %v", ok, err)
	}
	if ref, _ := out.Code[7].Member(); ref.Name != continuations.Block.Name {
		t.Errorf("instr[7] = %v, want block after the entry check", out.Code[7])
	}
}

func TestRewriteClass(t *testing.T) {
	c := casm.MustParse(workerSrc)
	out, changed, err := New(Config{}).RewriteClass(c)
	if err != nil {
		t.Fatalf("RewriteClass: %v", err)
	}
	if changed != 2 {
		t.Errorf("changed = %d, want 2", changed)
	}
	if out == c || out.Methods[3] == c.Methods[3] {
		t.Error("RewriteClass must not share rewritten methods with its input")
	}
	if len(c.Methods[3].Code) != 15 {
		t.Error("input class was modified")
	}

	if _, _, err := New(Config{}).RewriteClass(out); !stderrors.Is(err, &errors.Error{Phase: errors.PhaseRewrite, Kind: errors.KindInvalidInput}) {
		t.Errorf("second rewrite err = %v, want already instrumented", err)
	}
}

func TestRewriteRejectsUnverifiable(t *testing.T) {
	c := casm.MustParse(`
(class "demo/Bad" (super "Object")
  (method "m" "()V" (flags static)
    iadd
    ` + suspendCall + `
    return))`)
	if _, _, err := New(Config{}).RewriteMethod(c, c.Method("m", "()V")); err == nil {
		t.Fatal("expected verification error")
	}
}

func TestRewriteExcluded(t *testing.T) {
	c := casm.MustParse(`
(class "demo/X" (super "Object")
  (method "m" "(LObject;)V" (flags static)
    aload 0
    invokevirtual "demo/Log" "write" "()V"
    return))`)
	e := New(Config{Exclude: matchFunc(func(owner, _, _ string) bool { return owner == "demo/Log" })})
	m := c.Method("m", "(LObject;)V")
	out, ok, err := e.RewriteMethod(c, m)
	if err != nil || ok || out != m {
		t.Errorf("RewriteMethod = %v, %v; want unchanged", ok, err)
	}
}
