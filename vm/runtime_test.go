package vm

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"

	"github.com/wippyai/continuations/continuation"
)

// jobSrc is instrumented by hand the way the rewriter would: a single
// capturing site around the suspend primitive.
const jobSrc = `
(class "demo/Job" (super "Object")
  (method "run" "()V" (flags static)
    invokestatic "continuation/Runtime" "isRestoring" "()Z"
    ifne $site
    ldc "before"
    invokestatic "sys/Out" "println" "(LString;)V"
    (label $site)
    ldc "continuation/Runtime"
    ldc "suspend"
    ldc "()V"
    invokestatic "continuation/Runtime" "expect" "(LString;LString;LString;)V"
    invokestatic "continuation/Runtime" "suspend" "()V"
    invokestatic "continuation/Runtime" "isCapturing" "()Z"
    ifeq $after
    return
    (label $after)
    ldc "after"
    invokestatic "sys/Out" "println" "(LString;)V"
    return)
  (method "blocked" "()V" (flags static)
    invokestatic "continuation/Runtime" "block" "()V"
    ldc "continuation/Runtime"
    ldc "suspend"
    ldc "()V"
    invokestatic "continuation/Runtime" "expect" "(LString;LString;LString;)V"
    invokestatic "continuation/Runtime" "suspend" "()V"
    return)
  (method "save" "(I)V" (flags static)
    iload 0
    invokestatic "continuation/Runtime" "pushI" "(I)V"
    return)
  (method "bad" "()V" (flags static)
    iconst 9
    invokestatic "continuation/Runtime" "invalidIndex" "(I)V"
    return))
`

const tickSrc = `
(class "demo/Ticker" (super "Object")
  (field "n" "I")
  (method "<init>" "()V"
    aload 0
    invokespecial "Object" "<init>" "()V"
    return)
  (method "tick" "()V"
    invokestatic "continuation/Runtime" "isRestoring" "()Z"
    ifne $site
    aload 0
    aload 0
    getfield "demo/Ticker" "n" "I"
    iconst 1
    iadd
    putfield "demo/Ticker" "n" "I"
    (label $site)
    ldc "continuation/Runtime"
    ldc "suspend"
    ldc "()V"
    invokestatic "continuation/Runtime" "expect" "(LString;LString;LString;)V"
    invokestatic "continuation/Runtime" "suspend" "()V"
    invokestatic "continuation/Runtime" "isCapturing" "()Z"
    ifeq $after
    aload 0
    invokestatic "continuation/Runtime" "pushA" "(LObject;)V"
    return
    (label $after)
    aload 0
    aload 0
    getfield "demo/Ticker" "n" "I"
    iconst 10
    iadd
    putfield "demo/Ticker" "n" "I"
    aload 0
    getfield "demo/Ticker" "n" "I"
    invokestatic "sys/Out" "println" "(I)V"
    return))
`

func TestTargetSuspendAndRestore(t *testing.T) {
	var out bytes.Buffer
	machine := newVM(t, WithOutput(&out))
	load(t, machine, jobSrc)
	ctx := context.Background()

	c := continuation.New(machine.Target("demo/Job", "run", "()V", nil))
	suspended, err := c.Resume(ctx)
	if err != nil || !suspended {
		t.Fatalf("first Resume = %v, %v", suspended, err)
	}
	if out.String() != "before\n" {
		t.Errorf("output after suspend = %q", out.String())
	}
	suspended, err = c.Resume(ctx)
	if err != nil || suspended {
		t.Fatalf("second Resume = %v, %v", suspended, err)
	}
	if out.String() != "before\nafter\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestRuntimeWithoutContinuation(t *testing.T) {
	var out bytes.Buffer
	machine := newVM(t, WithOutput(&out))
	load(t, machine, jobSrc)
	ctx := context.Background()

	tests := []struct {
		name string
		desc string
		args []any
	}{
		{"run", "()V", nil},
		{"save", "(I)V", []any{int32(1)}},
		{"bad", "()V", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := machine.Invoke(ctx, "demo/Job", tt.name, tt.desc, tt.args...)
			if !stderrors.Is(err, continuation.ErrIllegalState) {
				t.Fatalf("err = %v, want illegal state", err)
			}
		})
	}
}

func TestBlockedSuspendIsRefused(t *testing.T) {
	machine := newVM(t)
	load(t, machine, jobSrc)

	c := continuation.New(machine.Target("demo/Job", "blocked", "()V", nil))
	_, err := c.Resume(context.Background())
	if !stderrors.Is(err, continuation.ErrUnsuspendable) {
		t.Fatalf("err = %v, want unsuspendable", err)
	}
	if !c.IsDone() {
		t.Errorf("state = %v, want done", c.State())
	}
}

func TestTargetRestoresDecodedReceiver(t *testing.T) {
	var out bytes.Buffer
	machine := newVM(t, WithOutput(&out))
	load(t, machine, tickSrc)
	ctx := context.Background()

	ticker, err := machine.Instantiate(ctx, "demo/Ticker", "()V")
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	c := continuation.New(machine.Target("demo/Ticker", "tick", "()V", ticker))
	if suspended, err := c.Resume(ctx); err != nil || !suspended {
		t.Fatalf("Resume = %v, %v", suspended, err)
	}

	data, err := continuation.Encode(c, machine.ObjectCodec())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	restored, err := continuation.Decode(data, machine.Target("demo/Ticker", "tick", "()V", nil), machine.ObjectCodec())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if suspended, err := restored.Resume(ctx); err != nil || suspended {
		t.Fatalf("restored Resume = %v, %v", suspended, err)
	}
	if out.String() != "11\n" {
		t.Errorf("output = %q, want the decoded receiver's count", out.String())
	}
	if n, _ := ticker.Field("n"); n != int32(1) {
		t.Errorf("original n = %v, want 1", n)
	}
}

func TestConforms(t *testing.T) {
	machine := newVM(t)
	load(t, machine, `
(class "demo/Base" (super "Object")
  (method "<init>" "()V" aload 0 invokespecial "Object" "<init>" "()V" return)
  (method "m" "()V" return)
  (method "n" "()V" return)
  (method "s" "()V" (flags static) return))`, `
(class "demo/Derived" (super "demo/Base")
  (method "<init>" "()V" aload 0 invokespecial "demo/Base" "<init>" "()V" return)
  (method "m" "()V" return))`)
	derived, err := machine.Instantiate(context.Background(), "demo/Derived", "()V")
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}

	marker := func(owner, name string) continuation.Marker {
		return continuation.Marker{Owner: owner, Name: name, Descriptor: "()V"}
	}
	tests := []struct {
		name        string
		expected    continuation.Marker
		entry       bool
		self        any
		owner       string
		method      string
		overridable bool
		want        bool
	}{
		{"override through base type", marker("demo/Base", "m"), false, derived, "demo/Derived", "m", true, true},
		{"inherited method", marker("demo/Derived", "n"), false, derived, "demo/Base", "n", true, true},
		{"same owner", marker("demo/Base", "n"), false, derived, "demo/Base", "n", true, true},
		{"unrelated owner", marker("demo/Other", "m"), false, derived, "demo/Derived", "m", true, false},
		{"overridden away", marker("demo/Derived", "m"), false, derived, "demo/Base", "m", true, false},
		{"name mismatch", marker("demo/Base", "n"), false, derived, "demo/Base", "m", true, false},
		{"static entry", marker("demo/Derived", "s"), true, nil, "demo/Base", "s", false, true},
		{"static not entry", marker("demo/Base", "s"), false, nil, "demo/Base", "s", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := machine.conforms(tt.expected, tt.entry, tt.self, tt.owner, tt.method, "()V", tt.overridable)
			if got != tt.want {
				t.Errorf("conforms = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScheduler(t *testing.T) {
	var out bytes.Buffer
	machine := newVM(t, WithOutput(&out))
	load(t, machine, jobSrc)

	var hooked []int
	s := NewScheduler(continuation.New(machine.Target("demo/Job", "run", "()V", nil)),
		func(_ context.Context, c *continuation.Continuation, step int) error {
			if !c.IsSuspended() {
				t.Errorf("hook saw state %v", c.State())
			}
			hooked = append(hooked, step)
			return nil
		})
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Steps() != 2 || len(hooked) != 1 || hooked[0] != 1 {
		t.Errorf("steps = %d, hooked = %v", s.Steps(), hooked)
	}
	if !s.Continuation().IsDone() {
		t.Errorf("state = %v", s.Continuation().State())
	}

	stop := stderrors.New("stop")
	s = NewScheduler(continuation.New(machine.Target("demo/Job", "run", "()V", nil)),
		func(context.Context, *continuation.Continuation, int) error { return stop })
	if err := s.Run(context.Background()); !stderrors.Is(err, stop) {
		t.Errorf("Run err = %v, want hook error", err)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindUnknown},
		{context.Canceled, KindCanceled},
		{&Exception{Err: context.DeadlineExceeded}, KindTimeout},
		{&Exception{Err: continuation.ErrUnsuspendable}, KindUnsuspendable},
		{continuation.ErrIllegalState, KindInvalid},
		{stderrors.New("other"), KindUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("ClassifyError(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
