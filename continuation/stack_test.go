package continuation

import (
	"errors"
	"math"
	"testing"
)

func TestStackRoundTrip(t *testing.T) {
	s := NewStack()
	ints := []int32{0, 1, -1, math.MaxInt32, math.MinInt32}
	floats := []float32{0, -0.5, float32(math.Inf(1)), math.MaxFloat32}
	longs := []int64{0, 1 << 40, math.MinInt64}
	doubles := []float64{math.Pi, math.Inf(-1), -0}
	refs := []any{nil, "x", &struct{}{}}

	for _, v := range ints {
		s.PushInt(v)
	}
	for _, v := range floats {
		s.PushFloat(v)
	}
	for _, v := range longs {
		s.PushLong(v)
	}
	for _, v := range doubles {
		s.PushDouble(v)
	}
	for _, v := range refs {
		s.PushRef(v)
	}

	for i := len(refs) - 1; i >= 0; i-- {
		got, err := s.PopRef()
		if err != nil {
			t.Fatalf("PopRef: %v", err)
		}
		if got != refs[i] {
			t.Errorf("ref %d = %v, want %v", i, got, refs[i])
		}
	}
	for i := len(doubles) - 1; i >= 0; i-- {
		got, err := s.PopDouble()
		if err != nil {
			t.Fatalf("PopDouble: %v", err)
		}
		if math.Float64bits(got) != math.Float64bits(doubles[i]) {
			t.Errorf("double %d = %v, want %v", i, got, doubles[i])
		}
	}
	for i := len(longs) - 1; i >= 0; i-- {
		got, err := s.PopLong()
		if err != nil {
			t.Fatalf("PopLong: %v", err)
		}
		if got != longs[i] {
			t.Errorf("long %d = %d, want %d", i, got, longs[i])
		}
	}
	for i := len(floats) - 1; i >= 0; i-- {
		got, err := s.PopFloat()
		if err != nil {
			t.Fatalf("PopFloat: %v", err)
		}
		if got != floats[i] {
			t.Errorf("float %d = %v, want %v", i, got, floats[i])
		}
	}
	for i := len(ints) - 1; i >= 0; i-- {
		got, err := s.PopInt()
		if err != nil {
			t.Fatalf("PopInt: %v", err)
		}
		if got != ints[i] {
			t.Errorf("int %d = %d, want %d", i, got, ints[i])
		}
	}
	if !s.Empty() {
		t.Error("stack not empty after popping everything")
	}
}

func TestStackKindsAreIndependent(t *testing.T) {
	s := NewStack()
	s.PushInt(7)
	if _, err := s.PopLong(); !errors.Is(err, ErrEmptyStack) {
		t.Fatalf("PopLong = %v, want ErrEmptyStack", err)
	}
	if s.Len(IntStack) != 1 {
		t.Errorf("int depth = %d, want 1", s.Len(IntStack))
	}
}

func TestStackGrowsByDoubling(t *testing.T) {
	s := NewStack()
	if c := s.Cap(IntStack); c != 0 {
		t.Fatalf("initial cap = %d", c)
	}
	s.PushInt(1)
	if c := s.Cap(IntStack); c != initialStackCap {
		t.Fatalf("cap after first push = %d, want %d", c, initialStackCap)
	}
	for i := 0; i < initialStackCap; i++ {
		s.PushInt(int32(i))
	}
	if c := s.Cap(IntStack); c != 2*initialStackCap {
		t.Fatalf("cap after overflow = %d, want %d", c, 2*initialStackCap)
	}
	for s.Len(IntStack) > 0 {
		if _, err := s.PopInt(); err != nil {
			t.Fatal(err)
		}
	}
	if c := s.Cap(IntStack); c != 2*initialStackCap {
		t.Errorf("stack shrank to %d", c)
	}
}

func TestStackPopEmpty(t *testing.T) {
	s := NewStack()
	pops := map[StackKind]func() error{
		IntStack:    func() error { _, err := s.PopInt(); return err },
		FloatStack:  func() error { _, err := s.PopFloat(); return err },
		LongStack:   func() error { _, err := s.PopLong(); return err },
		DoubleStack: func() error { _, err := s.PopDouble(); return err },
		RefStack:    func() error { _, err := s.PopRef(); return err },
	}
	for kind, pop := range pops {
		if err := pop(); !errors.Is(err, ErrEmptyStack) {
			t.Errorf("%s: err = %v, want ErrEmptyStack", kind, err)
		}
	}
}

func TestStackReset(t *testing.T) {
	s := NewStack()
	s.PushRef("a")
	s.PushDouble(1)
	s.Reset()
	if !s.Empty() {
		t.Fatal("Reset left values behind")
	}
	if s.refs.data[0] != nil {
		t.Error("Reset kept a reference alive")
	}
}
