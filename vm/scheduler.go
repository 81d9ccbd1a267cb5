package vm

import (
	"context"
	stderrors "errors"

	"go.uber.org/zap"

	"github.com/wippyai/continuations/continuation"
	"github.com/wippyai/continuations/errors"
)

// ErrorKind categorizes errors for integration with external error handling.
type ErrorKind string

const (
	KindUnknown       ErrorKind = "Unknown"
	KindCanceled      ErrorKind = "Canceled"
	KindTimeout       ErrorKind = "Timeout"
	KindInvalid       ErrorKind = "Invalid"
	KindUnsuspendable ErrorKind = "Unsuspendable"
)

func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case stderrors.Is(err, context.Canceled):
		return KindCanceled
	case stderrors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case stderrors.Is(err, continuation.ErrUnsuspendable):
		return KindUnsuspendable
	case stderrors.Is(err, continuation.ErrIllegalState):
		return KindInvalid
	}
	return KindUnknown
}

type StepStatus int

const (
	StepContinue StepStatus = iota // suspended, expects another step
	StepDone                       // execution complete
)

type StepResult struct {
	Error     error
	ErrorKind ErrorKind
	Status    StepStatus
	Step      int
}

// SuspendFunc is called after each suspension, before the next step. It may
// persist or inspect the continuation; an error stops Run.
type SuspendFunc func(ctx context.Context, c *continuation.Continuation, step int) error

// Scheduler drives a continuation step by step for integration with external
// event loops.
type Scheduler struct {
	cont      *continuation.Continuation
	onSuspend SuspendFunc
	log       *zap.Logger
	steps     int
}

func NewScheduler(c *continuation.Continuation, onSuspend SuspendFunc) *Scheduler {
	return &Scheduler{cont: c, onSuspend: onSuspend, log: Logger()}
}

// Continuation returns the driven continuation.
func (s *Scheduler) Continuation() *continuation.Continuation { return s.cont }

// Steps returns the number of completed steps.
func (s *Scheduler) Steps() int { return s.steps }

// Step resumes the continuation once.
func (s *Scheduler) Step(ctx context.Context) (StepResult, error) {
	if err := ctx.Err(); err != nil {
		return StepResult{Error: err, ErrorKind: ClassifyError(err)}, err
	}
	if s.cont == nil {
		err := errors.InvalidInput(errors.PhaseRuntime, "scheduler has no continuation")
		return StepResult{Error: err, ErrorKind: KindInvalid}, err
	}

	suspended, err := s.cont.Resume(ctx)
	s.steps++
	if err != nil {
		return StepResult{Error: err, ErrorKind: ClassifyError(err), Step: s.steps}, err
	}
	if suspended {
		s.log.Debug("step suspended", zap.Int("step", s.steps))
		return StepResult{Status: StepContinue, Step: s.steps}, nil
	}
	return StepResult{Status: StepDone, Step: s.steps}, nil
}

// Run steps until the continuation finishes, calling the suspend hook after
// every suspension.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		sr, err := s.Step(ctx)
		if err != nil {
			return err
		}
		if sr.Status == StepDone {
			return nil
		}
		if s.onSuspend != nil {
			if err := s.onSuspend(ctx, s.cont, sr.Step); err != nil {
				return err
			}
		}
	}
}
