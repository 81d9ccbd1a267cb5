package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseVerify,
				Kind:   KindTypeMismatch,
				Path:   []string{"demo/Counter", "run", "7"},
				Detail: "expected int, got ref",
			},
			contains: []string{"[verify]", "type_mismatch", "demo/Counter.run.7", "expected int, got ref"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDecode,
				Kind:  KindOutOfBounds,
			},
			contains: []string{"[decode]", "out_of_bounds"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseStore,
				Kind:   KindInvalidData,
				Detail: "corrupt envelope",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[store]", "invalid_data", "corrupt envelope", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseCodec,
		Kind:  KindInvalidData,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase:  PhaseRuntime,
		Kind:   KindUnsuspendable,
		Detail: "blocked by monitor",
	}

	if !err.Is(&Error{Phase: PhaseRuntime, Kind: KindUnsuspendable}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseCodec, Kind: KindUnsuspendable}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseRuntime, Kind: KindIllegalState}) {
		t.Error("Is should not match different kind")
	}

	sentinel := &Error{Phase: PhaseRuntime, Kind: KindUnsuspendable}
	wrapped := Wrap(PhaseRewrite, KindInvalidData, err, "outer")
	if !errors.Is(wrapped, sentinel) {
		t.Error("errors.Is should match through a cause chain")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseVerify, KindStackUnderflow).
		Path("demo/A", "m").
		Value(42).
		Cause(cause).
		Detail("pop from depth %d", 0).
		Build()

	if err.Phase != PhaseVerify {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseVerify)
	}
	if err.Kind != KindStackUnderflow {
		t.Errorf("Kind = %v, want %v", err.Kind, KindStackUnderflow)
	}
	if len(err.Path) != 2 || err.Path[0] != "demo/A" || err.Path[1] != "m" {
		t.Errorf("Path = %v, want [demo/A m]", err.Path)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "pop from depth 0" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		err  *Error
		name string
		kind Kind
	}{
		{name: "TypeMismatch", err: TypeMismatch(PhaseVerify, nil, "int", "float"), kind: KindTypeMismatch},
		{name: "Truncated", err: Truncated(PhaseCodec, "long stack", 9), kind: KindTruncated},
		{name: "Unsupported", err: Unsupported(PhaseRewrite, "jsr"), kind: KindUnsupported},
		{name: "OutOfBounds", err: OutOfBounds(PhaseDecode, nil, 10, 5), kind: KindOutOfBounds},
		{name: "Overflow", err: Overflow(PhaseDecode, nil, 1<<40, "u32"), kind: KindOverflow},
		{name: "InvalidData", err: InvalidData(PhaseDecode, nil, "bad magic"), kind: KindInvalidData},
		{name: "NotFound", err: NotFound(PhaseStore, "checkpoint", "x"), kind: KindNotFound},
		{name: "InvalidInput", err: InvalidInput(PhaseRuntime, "nil target"), kind: KindInvalidInput},
		{name: "IllegalState", err: IllegalState(PhaseRuntime, "resume after done"), kind: KindIllegalState},
		{name: "Linkage", err: Linkage("demo/A", "m", "()V"), kind: KindLinkage},
		{name: "ParseFailed", err: ParseFailed("class", errors.New("eof")), kind: KindInvalidData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
			if tt.err.Error() == "" {
				t.Error("empty message")
			}
		})
	}

	if v := OutOfBounds(PhaseDecode, nil, 10, 5).Value; v != 10 {
		t.Errorf("OutOfBounds Value = %v, want 10", v)
	}
	if d := Linkage("demo/A", "m", "()V").Detail; !strings.Contains(d, "demo/A.m()V") {
		t.Errorf("Linkage detail = %q", d)
	}
}
