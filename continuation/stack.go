package continuation

import (
	"github.com/wippyai/continuations/errors"
)

// StackKind selects one of the five typed stacks.
type StackKind uint8

const (
	IntStack StackKind = iota
	FloatStack
	LongStack
	DoubleStack
	RefStack
)

var stackKindNames = [...]string{"int", "float", "long", "double", "ref"}

func (k StackKind) String() string {
	if int(k) < len(stackKindNames) {
		return stackKindNames[k]
	}
	return "invalid"
}

const initialStackCap = 8

type typedStack[T any] struct {
	data []T
	top  int
}

func (s *typedStack[T]) push(v T) {
	if s.top == len(s.data) {
		n := len(s.data) * 2
		if n == 0 {
			n = initialStackCap
		}
		grown := make([]T, n)
		copy(grown, s.data)
		s.data = grown
	}
	s.data[s.top] = v
	s.top++
}

func (s *typedStack[T]) pop(kind StackKind) (T, error) {
	var zero T
	if s.top == 0 {
		return zero, errors.New(errors.PhaseRuntime, errors.KindEmptyStack).
			Detail("pop from empty %s stack", kind).
			Build()
	}
	s.top--
	v := s.data[s.top]
	s.data[s.top] = zero
	return v, nil
}

func (s *typedStack[T]) values() []T {
	return s.data[:s.top]
}

func (s *typedStack[T]) reset() {
	var zero T
	for i := 0; i < s.top; i++ {
		s.data[i] = zero
	}
	s.top = 0
}

// Stack is the typed shadow stack owned by a continuation: five independent
// growable stacks, one per value category. Each stack grows by doubling and
// never shrinks while the continuation lives. Values are popped in the
// reverse order they were pushed, per category.
type Stack struct {
	ints    typedStack[int32]
	floats  typedStack[float32]
	longs   typedStack[int64]
	doubles typedStack[float64]
	refs    typedStack[any]
}

// NewStack creates an empty shadow stack.
func NewStack() *Stack {
	return &Stack{}
}

func (s *Stack) PushInt(v int32)      { s.ints.push(v) }
func (s *Stack) PushFloat(v float32)  { s.floats.push(v) }
func (s *Stack) PushLong(v int64)     { s.longs.push(v) }
func (s *Stack) PushDouble(v float64) { s.doubles.push(v) }
func (s *Stack) PushRef(v any)        { s.refs.push(v) }

func (s *Stack) PopInt() (int32, error)      { return s.ints.pop(IntStack) }
func (s *Stack) PopFloat() (float32, error)  { return s.floats.pop(FloatStack) }
func (s *Stack) PopLong() (int64, error)     { return s.longs.pop(LongStack) }
func (s *Stack) PopDouble() (float64, error) { return s.doubles.pop(DoubleStack) }
func (s *Stack) PopRef() (any, error)        { return s.refs.pop(RefStack) }

// Len returns the depth of one stack.
func (s *Stack) Len(k StackKind) int {
	switch k {
	case IntStack:
		return s.ints.top
	case FloatStack:
		return s.floats.top
	case LongStack:
		return s.longs.top
	case DoubleStack:
		return s.doubles.top
	case RefStack:
		return s.refs.top
	}
	return 0
}

// Cap returns the backing capacity of one stack.
func (s *Stack) Cap(k StackKind) int {
	switch k {
	case IntStack:
		return len(s.ints.data)
	case FloatStack:
		return len(s.floats.data)
	case LongStack:
		return len(s.longs.data)
	case DoubleStack:
		return len(s.doubles.data)
	case RefStack:
		return len(s.refs.data)
	}
	return 0
}

// Empty reports whether all five stacks are empty.
func (s *Stack) Empty() bool {
	return s.ints.top == 0 && s.floats.top == 0 && s.longs.top == 0 &&
		s.doubles.top == 0 && s.refs.top == 0
}

// Reset empties all stacks, keeping their capacity.
func (s *Stack) Reset() {
	s.ints.reset()
	s.floats.reset()
	s.longs.reset()
	s.doubles.reset()
	s.refs.reset()
}
