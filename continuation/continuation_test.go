package continuation

import (
	"context"
	"errors"
	"testing"
)

// suspendPoint performs an intercepted call to the suspension primitive the
// way rewritten code does, and reports whether the caller must unwind.
func suspendPoint(ctx context.Context) (bool, error) {
	c, ok := FromContext(ctx)
	if !ok {
		return false, Suspend(ctx)
	}
	c.Expect(SuspendMarker)
	if err := Suspend(ctx); err != nil {
		return false, err
	}
	return c.IsSuspending(), nil
}

// summer adds 1..n, suspending before every addition. Its loop state lives in
// Go locals, saved to the shadow stack on suspension.
func summer(n int32, out *[]int32) Target {
	return func(ctx context.Context) error {
		c, _ := FromContext(ctx)
		i, sum := int32(1), int32(0)
		restored := c.IsRestoring()
		if restored {
			var err error
			if sum, err = c.Stack().PopInt(); err != nil {
				return err
			}
			if i, err = c.Stack().PopInt(); err != nil {
				return err
			}
			if _, err := suspendPoint(ctx); err != nil {
				return err
			}
		}
		for ; i <= n; i++ {
			if restored {
				restored = false
			} else {
				suspended, err := suspendPoint(ctx)
				if err != nil {
					return err
				}
				if suspended {
					c.Stack().PushInt(i)
					c.Stack().PushInt(sum)
					return nil
				}
			}
			sum += i
		}
		*out = append(*out, sum)
		return nil
	}
}

func drive(t *testing.T, c *Continuation) int {
	t.Helper()
	suspensions := 0
	for {
		suspended, err := c.Resume(context.Background())
		if err != nil {
			t.Fatalf("Resume: %v", err)
		}
		if !suspended {
			return suspensions
		}
		suspensions++
		if !c.IsSuspended() {
			t.Fatalf("state after suspension = %s", c.State())
		}
	}
}

func TestResumeWithoutSuspension(t *testing.T) {
	ran := 0
	c := New(func(ctx context.Context) error {
		ran++
		return nil
	})
	if !c.IsNew() {
		t.Fatalf("state = %s, want new", c.State())
	}
	suspended, err := c.Resume(context.Background())
	if err != nil || suspended {
		t.Fatalf("Resume = %v, %v", suspended, err)
	}
	if !c.IsDone() || ran != 1 {
		t.Errorf("state = %s, ran = %d", c.State(), ran)
	}
}

func TestSuspendAndRestore(t *testing.T) {
	var out []int32
	c := New(summer(4, &out))
	if n := drive(t, c); n != 4 {
		t.Errorf("suspensions = %d, want 4", n)
	}
	if len(out) != 1 || out[0] != 10 {
		t.Errorf("result = %v, want [10]", out)
	}
	if !c.Stack().Empty() {
		t.Error("stack not empty after completion")
	}
}

func TestResumeAfterDone(t *testing.T) {
	c := New(func(context.Context) error { return nil })
	if _, err := c.Resume(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Resume(context.Background()); !errors.Is(err, ErrIllegalState) {
		t.Errorf("err = %v, want ErrIllegalState", err)
	}
}

func TestResumeWhileRunning(t *testing.T) {
	var inner error
	var c *Continuation
	c = New(func(ctx context.Context) error {
		_, inner = c.Resume(ctx)
		return nil
	})
	if _, err := c.Resume(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(inner, ErrIllegalState) {
		t.Errorf("reentrant Resume = %v, want ErrIllegalState", inner)
	}
}

func TestTargetErrorIsReturnedUnchanged(t *testing.T) {
	want := errors.New("boom")
	c := New(func(context.Context) error { return want })
	suspended, err := c.Resume(context.Background())
	if err != want || suspended {
		t.Fatalf("Resume = %v, %v; want %v", suspended, err, want)
	}
	if !c.IsDone() || c.Err() != want {
		t.Errorf("state = %s, Err = %v", c.State(), c.Err())
	}
}

func TestTargetPanicFinishes(t *testing.T) {
	c := New(func(ctx context.Context) error {
		mustContinuation(t, ctx).Stack().PushInt(1)
		panic("kaboom")
	})
	func() {
		defer func() {
			if r := recover(); r != "kaboom" {
				t.Errorf("recovered %v", r)
			}
		}()
		_, _ = c.Resume(context.Background())
	}()
	if !c.IsDone() {
		t.Errorf("state = %s, want done", c.State())
	}
	if !c.Stack().Empty() {
		t.Error("stack not cleared after panic")
	}
}

func mustContinuation(t *testing.T, ctx context.Context) *Continuation {
	t.Helper()
	c, ok := FromContext(ctx)
	if !ok {
		t.Fatal("no continuation in context")
	}
	return c
}

func TestSuspendWithoutContinuation(t *testing.T) {
	if err := Suspend(context.Background()); !errors.Is(err, ErrIllegalState) {
		t.Errorf("err = %v, want ErrIllegalState", err)
	}
	c := New(func(context.Context) error { return nil })
	if err := c.Suspend(); !errors.Is(err, ErrIllegalState) {
		t.Errorf("Suspend on new continuation = %v, want ErrIllegalState", err)
	}
}

func TestSuspendRefused(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *Continuation)
	}{
		{"no expectation", func(c *Continuation) {}},
		{"wrong expectation", func(c *Continuation) {
			c.Expect(Marker{Owner: "demo/A", Name: "run", Descriptor: "()V"})
		}},
		{"blocked", func(c *Continuation) {
			c.Block()
			c.Expect(SuspendMarker)
		}},
		{"entered without interception", func(c *Continuation) {
			c.EnterExact(Marker{Owner: "demo/A", Name: "run", Descriptor: "()V"})
			c.Expect(SuspendMarker)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got error
			c := New(func(ctx context.Context) error {
				c := mustContinuation(t, ctx)
				tt.setup(c)
				got = c.Suspend()
				return nil
			})
			if _, err := c.Resume(context.Background()); err != nil {
				t.Fatal(err)
			}
			if !errors.Is(got, ErrUnsuspendable) {
				t.Errorf("Suspend = %v, want ErrUnsuspendable", got)
			}
			if !c.IsDone() {
				t.Errorf("state = %s, want done", c.State())
			}
		})
	}
}

func TestDoubleSuspend(t *testing.T) {
	var second error
	c := New(func(ctx context.Context) error {
		if _, err := suspendPoint(ctx); err != nil {
			return err
		}
		second = Suspend(ctx)
		return nil
	})
	suspended, err := c.Resume(context.Background())
	if err != nil || !suspended {
		t.Fatalf("Resume = %v, %v", suspended, err)
	}
	if !errors.Is(second, ErrIllegalState) {
		t.Errorf("second Suspend = %v, want ErrIllegalState", second)
	}
}

func TestRestoreMustReachSuspensionPoint(t *testing.T) {
	c := New(func(ctx context.Context) error {
		c := mustContinuation(t, ctx)
		if c.IsRestoring() {
			return nil
		}
		_, err := suspendPoint(ctx)
		return err
	})
	if _, err := c.Resume(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Resume(context.Background()); !errors.Is(err, ErrIllegalState) {
		t.Errorf("err = %v, want ErrIllegalState", err)
	}
	if !c.IsDone() {
		t.Errorf("state = %s", c.State())
	}
}

func TestRestoreRequiresDrainedStack(t *testing.T) {
	c := New(func(ctx context.Context) error {
		c := mustContinuation(t, ctx)
		suspended, err := suspendPoint(ctx)
		if suspended {
			c.Stack().PushLong(42)
		}
		return err
	})
	if _, err := c.Resume(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Resume(context.Background()); !errors.Is(err, ErrIllegalState) {
		t.Errorf("err = %v, want ErrIllegalState", err)
	}
}

func TestNestedContinuations(t *testing.T) {
	var innerOut []int32
	inner := New(summer(2, &innerOut))
	var outerSeen []*Continuation
	outer := New(func(ctx context.Context) error {
		for !inner.IsDone() {
			if _, err := inner.Resume(ctx); err != nil {
				return err
			}
			c, _ := FromContext(ctx)
			outerSeen = append(outerSeen, c)
		}
		_, err := suspendPoint(ctx)
		return err
	})
	if n := drive(t, outer); n != 1 {
		t.Errorf("outer suspensions = %d, want 1", n)
	}
	if len(innerOut) != 1 || innerOut[0] != 3 {
		t.Errorf("inner result = %v", innerOut)
	}
	for i, c := range outerSeen {
		if c != outer {
			t.Errorf("binding %d after inner resume is %p, want outer", i, c)
		}
	}
}

func TestRecursiveIndependence(t *testing.T) {
	var a, b []int32
	ca := New(summer(3, &a))
	cb := New(summer(5, &b))
	for !ca.IsDone() || !cb.IsDone() {
		for _, c := range []*Continuation{ca, cb} {
			if c.IsDone() {
				continue
			}
			if _, err := c.Resume(context.Background()); err != nil {
				t.Fatal(err)
			}
		}
	}
	if len(a) != 1 || a[0] != 6 || len(b) != 1 || b[0] != 15 {
		t.Errorf("results = %v, %v", a, b)
	}
}

func TestInterceptionTracker(t *testing.T) {
	c := New(nil)
	m := Marker{Owner: "demo/A", Name: "run", Descriptor: "()V"}

	if c.EnterExact(m) {
		t.Error("Enter without expectation intercepted")
	}
	if c.BlockDepth() != 1 {
		t.Fatalf("depth = %d, want 1", c.BlockDepth())
	}
	if err := c.Unblock(); err != nil {
		t.Fatal(err)
	}

	c.Expect(m)
	if got, ok := c.Expected(); !ok || got != m {
		t.Errorf("Expected = %v, %v", got, ok)
	}
	if !c.EnterExact(m) {
		t.Error("matching Enter not intercepted")
	}
	if _, ok := c.Expected(); ok {
		t.Error("Enter did not consume the expectation")
	}
	if c.BlockDepth() != 0 {
		t.Errorf("depth = %d, want 0", c.BlockDepth())
	}

	c.ExpectEntry(m)
	var sawEntry bool
	c.Enter(func(_ Marker, entry bool) bool {
		sawEntry = entry
		return true
	})
	if !sawEntry {
		t.Error("entry flag not passed to matcher")
	}

	if err := c.Unblock(); !errors.Is(err, ErrIllegalState) {
		t.Errorf("unbalanced Unblock = %v, want ErrIllegalState", err)
	}
}

func TestResumeWithoutTarget(t *testing.T) {
	c := New(nil)
	if _, err := c.Resume(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if !c.IsDone() {
		t.Errorf("state = %s", c.State())
	}
}
