package classfile

import (
	stderrors "errors"
	"testing"

	"github.com/wippyai/continuations/errors"
)

func analyzeCode(t *testing.T, desc string, flags AccessFlags, maxLocals uint32, code []Instruction, handlers ...Handler) (*Frames, error) {
	t.Helper()
	c := &Class{Name: "demo/T", Super: ObjectClass}
	m := &Method{Name: "m", Descriptor: desc, Flags: flags, MaxLocals: maxLocals, Code: code, Handlers: handlers}
	c.Methods = []*Method{m}
	return Analyze(c, m)
}

func TestAnalyzeTracksLocalsAndStack(t *testing.T) {
	fs, err := analyzeCode(t, "(I)J", AccStatic, 3, []Instruction{
		Local(OpIload, 0), // 0
		Op(OpI2L),         // 1
		Local(OpLstore, 1),
		Ldc("x"),
		Local(OpAstore, 2),
		Local(OpLload, 1),
		Op(OpLreturn),
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	f := fs.In[5]
	if f.Locals[0] != IntType || f.Locals[1] != LongType || f.Locals[2] != RefType {
		t.Errorf("locals at 5 = %v", f.Locals)
	}
	if len(fs.In[1].Stack) != 1 || fs.In[1].Stack[0] != IntType {
		t.Errorf("stack at 1 = %v", fs.In[1].Stack)
	}
	if fs.MaxStack != 1 {
		t.Errorf("MaxStack = %d, want 1", fs.MaxStack)
	}
}

func TestAnalyzeMergesToTop(t *testing.T) {
	fs, err := analyzeCode(t, "(I)V", AccStatic, 2, []Instruction{
		Local(OpIload, 0),   // 0
		Branch(OpIfeq, 5),   // 1
		Fconst(1),           // 2
		Local(OpFstore, 1),  // 3
		Branch(OpGoto, 7),   // 4
		Iconst(1),           // 5
		Local(OpIstore, 1),  // 6
		Op(OpReturn),        // 7
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got := fs.In[7].Locals[1]; got != TopType {
		t.Errorf("merged local = %v, want top", got)
	}
}

func TestAnalyzeUninitialized(t *testing.T) {
	fs, err := analyzeCode(t, "()LObject;", AccStatic, 1, []Instruction{
		ClassRef(OpNew, "demo/P"), // 0
		Op(OpDup),                 // 1
		Iconst(3),                 // 2
		Member(OpInvokespecial, "demo/P", InitName, "(I)V"), // 3
		Op(OpAreturn), // 4
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	st := fs.In[3].Stack
	if len(st) != 3 || st[0] != UninitType(0) || st[1] != UninitType(0) || st[2] != IntType {
		t.Errorf("stack before <init> = %v", st)
	}
	if st := fs.In[4].Stack; len(st) != 1 || st[0] != RefType {
		t.Errorf("stack after <init> = %v", st)
	}
}

func TestAnalyzeHandlerFrame(t *testing.T) {
	fs, err := analyzeCode(t, "()V", AccStatic, 1, []Instruction{
		Iconst(1),          // 0
		Local(OpIstore, 0), // 1
		Op(OpReturn),       // 2
		Op(OpPop),          // 3 handler
		Op(OpReturn),       // 4
	}, Handler{Start: 0, End: 2, Target: 3})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	h := fs.In[3]
	if h == nil || len(h.Stack) != 1 || h.Stack[0] != RefType {
		t.Fatalf("handler frame = %+v", h)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	tests := []struct {
		name  string
		desc  string
		kind  errors.Kind
		code  []Instruction
		flags AccessFlags
		local uint32
	}{
		{
			name: "type mismatch", desc: "()V", flags: AccStatic, local: 1, kind: errors.KindTypeMismatch,
			code: []Instruction{Fconst(1), Iconst(1), Op(OpIadd), Op(OpPop), Op(OpReturn)},
		},
		{
			name: "underflow", desc: "()V", flags: AccStatic, local: 1, kind: errors.KindStackUnderflow,
			code: []Instruction{Op(OpPop), Op(OpReturn)},
		},
		{
			name: "unset local", desc: "()I", flags: AccStatic, local: 1, kind: errors.KindInvalidData,
			code: []Instruction{Local(OpIload, 0), Op(OpIreturn)},
		},
		{
			name: "falls off end", desc: "()V", flags: AccStatic, local: 1, kind: errors.KindInvalidData,
			code: []Instruction{Op(OpNop)},
		},
		{
			name: "wrong return", desc: "()I", flags: AccStatic, local: 1, kind: errors.KindTypeMismatch,
			code: []Instruction{Op(OpReturn)},
		},
		{
			name: "depth disagreement", desc: "(I)V", flags: AccStatic, local: 1, kind: errors.KindTypeMismatch,
			code: []Instruction{
				Local(OpIload, 0), Branch(OpIfeq, 3), Iconst(1), Op(OpReturn),
			},
		},
		{
			name: "call on uninitialized", desc: "()V", flags: AccStatic, local: 1, kind: errors.KindTypeMismatch,
			code: []Instruction{
				ClassRef(OpNew, "demo/P"), Member(OpInvokevirtual, "demo/P", "run", "()V"), Op(OpReturn),
			},
		},
		{
			name: "uninitialized argument", desc: "()V", flags: AccStatic, local: 1, kind: errors.KindTypeMismatch,
			code: []Instruction{
				ClassRef(OpNew, "demo/P"), Member(OpInvokestatic, "demo/Q", "take", "(LObject;)V"), Op(OpReturn),
			},
		},
		{
			name: "too few locals", desc: "(IJ)V", flags: AccStatic, local: 1, kind: errors.KindOutOfBounds,
			code: []Instruction{Op(OpReturn)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := analyzeCode(t, tt.desc, tt.flags, tt.local, tt.code)
			if err == nil {
				t.Fatal("expected verify error")
			}
			var e *errors.Error
			if !stderrors.As(err, &e) {
				t.Fatalf("expected *errors.Error, got %T: %v", err, err)
			}
			if e.Kind != tt.kind {
				t.Errorf("kind = %v, want %v (%v)", e.Kind, tt.kind, err)
			}
		})
	}
}

func TestAnalyzeConstructorMustInitializeThis(t *testing.T) {
	c := &Class{Name: "demo/P", Super: ObjectClass}
	bad := &Method{Name: InitName, Descriptor: "()V", MaxLocals: 1, Code: []Instruction{Op(OpReturn)}}
	good := &Method{Name: InitName, Descriptor: "()V", MaxLocals: 1, Code: []Instruction{
		Local(OpAload, 0),
		Member(OpInvokespecial, ObjectClass, InitName, "()V"),
		Op(OpReturn),
	}}
	c.Methods = []*Method{bad, good}
	if _, err := Analyze(c, bad); err == nil {
		t.Error("expected error for constructor without super call")
	}
	if _, err := Analyze(c, good); err != nil {
		t.Errorf("Analyze(good): %v", err)
	}
}
