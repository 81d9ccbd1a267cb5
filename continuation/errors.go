package continuation

import (
	"github.com/wippyai/continuations/errors"
)

// Sentinels for errors.Is. Errors returned by this package carry a detail
// message but match these by phase and kind.
var (
	// ErrUnsuspendable is returned by Suspend when the running call chain
	// passes through a blocked region or a call that was not intercepted.
	ErrUnsuspendable = &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindUnsuspendable}

	// ErrIllegalState is returned for invalid lifecycle transitions.
	ErrIllegalState = &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindIllegalState}

	// ErrEmptyStack is returned when popping an empty shadow stack.
	ErrEmptyStack = &errors.Error{Phase: errors.PhaseRuntime, Kind: errors.KindEmptyStack}

	// ErrFormat is returned when decoding malformed continuation state.
	ErrFormat = &errors.Error{Phase: errors.PhaseCodec, Kind: errors.KindInvalidData}
)

func illegalState(format string, args ...any) error {
	return errors.New(errors.PhaseRuntime, errors.KindIllegalState).Detail(format, args...).Build()
}

func unsuspendable(format string, args ...any) error {
	return errors.New(errors.PhaseRuntime, errors.KindUnsuspendable).Detail(format, args...).Build()
}
