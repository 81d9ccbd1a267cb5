package continuation

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/continuations/errors"
)

// State is the lifecycle state of a continuation.
type State int32

const (
	StateNew State = iota
	StateRunning
	StateSuspending
	StateSuspended
	StateDone
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateRunning:
		return "running"
	case StateSuspending:
		return "suspending"
	case StateSuspended:
		return "suspended"
	case StateDone:
		return "done"
	}
	return "invalid"
}

// Target is the entry computation of a continuation. It is invoked once per
// Resume with a context bound to the continuation. An instrumented target
// returns normally while the continuation is suspending; any error it
// returns ends the continuation and is passed to the Resume caller as is.
type Target func(ctx context.Context) error

// Option configures a Continuation.
type Option func(*Continuation)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l *zap.Logger) Option {
	return func(c *Continuation) {
		if l != nil {
			c.log = l
		}
	}
}

// Continuation is a suspendable unit of work. It is not safe for concurrent
// use: callers serialize Resume calls, though successive calls may come from
// different goroutines.
type Continuation struct {
	target      Target
	stack       *Stack
	err         error
	log         *zap.Logger
	expected    Marker
	state       State
	blockDepth  int
	hasExpected bool
	expectEntry bool
	restoring   bool
}

// New creates a continuation in state New holding only its target.
func New(target Target, opts ...Option) *Continuation {
	c := &Continuation{
		target: target,
		stack:  NewStack(),
		log:    Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resume starts or continues the target. It reports true when the target
// suspended and false when it ran to completion. A target error moves the
// continuation to Done and is returned unchanged. A panic in the target also
// moves it to Done and continues unwinding.
func (c *Continuation) Resume(ctx context.Context) (bool, error) {
	switch c.state {
	case StateNew:
	case StateSuspended:
		c.restoring = true
	case StateDone:
		return false, illegalState("resume of a finished continuation")
	default:
		return false, illegalState("resume while %s", c.state)
	}
	if c.target == nil {
		c.state = StateDone
		return false, errors.InvalidInput(errors.PhaseRuntime, "continuation has no target")
	}

	c.state = StateRunning
	c.blockDepth = 0
	c.ClearExpectation()
	c.log.Debug("resume", zap.Bool("restoring", c.restoring))

	finished := false
	defer func() {
		if !finished {
			c.finish()
			c.log.Debug("target panicked")
		}
	}()
	err := c.target(WithContinuation(ctx, c))
	finished = true

	switch {
	case err != nil:
		c.finish()
		c.err = err
		c.log.Debug("target failed", zap.Error(err))
		return false, err
	case c.state == StateSuspending:
		c.state = StateSuspended
		c.log.Debug("suspended",
			zap.Int("ints", c.stack.Len(IntStack)),
			zap.Int("refs", c.stack.Len(RefStack)))
		return true, nil
	case c.restoring:
		c.finish()
		c.err = illegalState("target returned without reaching its suspension point")
		return false, c.err
	}
	c.finish()
	c.log.Debug("done")
	return false, nil
}

func (c *Continuation) finish() {
	c.state = StateDone
	c.restoring = false
	c.blockDepth = 0
	c.ClearExpectation()
	c.stack.Reset()
}

// Suspend requests suspension. It must be called from within the target's
// dynamic extent while the continuation is running. On the restore path it
// marks the recorded suspension point as reached and returns nil so that
// execution continues after it.
func (c *Continuation) Suspend() error {
	if c.state != StateRunning {
		return illegalState("suspend while %s", c.state)
	}
	if c.restoring {
		c.restoring = false
		c.ClearExpectation()
		if !c.stack.Empty() {
			return illegalState("shadow stack not drained at the suspension point")
		}
		c.log.Debug("restored")
		return nil
	}
	if c.blockDepth > 0 {
		return unsuspendable("suspension blocked (depth %d)", c.blockDepth)
	}
	if !c.hasExpected || c.expected != SuspendMarker {
		return unsuspendable("suspend call was not intercepted")
	}
	c.ClearExpectation()
	c.state = StateSuspending
	return nil
}

// State returns the lifecycle state.
func (c *Continuation) State() State { return c.state }

// IsNew reports whether the continuation has never been resumed.
func (c *Continuation) IsNew() bool { return c.state == StateNew }

// IsSuspending reports whether a suspension is unwinding the target.
func (c *Continuation) IsSuspending() bool { return c.state == StateSuspending }

// IsSuspended reports whether the continuation is paused.
func (c *Continuation) IsSuspended() bool { return c.state == StateSuspended }

// IsDone reports whether the continuation has finished.
func (c *Continuation) IsDone() bool { return c.state == StateDone }

// IsRestoring reports whether the target is being re-entered toward its
// recorded suspension point.
func (c *Continuation) IsRestoring() bool { return c.restoring }

// Stack returns the typed shadow stack.
func (c *Continuation) Stack() *Stack { return c.stack }

// Err returns the terminal error, if the target failed.
func (c *Continuation) Err() error { return c.err }
