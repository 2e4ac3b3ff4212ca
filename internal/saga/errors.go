package saga

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrStepExecution          = errors.New("step execution failed")
	ErrCompensation           = errors.New("compensation failed")
	ErrTimeout                = errors.New("saga timed out")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrCapacityExceeded       = errors.New("capacity exceeded")
	ErrInvalidDefinition      = errors.New("invalid saga definition")

	// ErrStepTimeout marks a single attempt that ran past the step's Timeout.
	ErrStepTimeout = errors.New("step attempt timed out")
)

// StepError reports a forward action that failed after exhausting its
// retries.
type StepError struct {
	Step     string
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed after %d attempt(s): %v", e.Step, e.Attempts, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func (e *StepError) Is(target error) bool { return target == ErrStepExecution }

// CompensationFailure records one compensating action that did not succeed.
type CompensationFailure struct {
	Step string
	Err  error
}

// CompensationError reports that rollback left residual state behind.
// Cause is the failure that triggered the rollback.
type CompensationError struct {
	Failures []CompensationFailure
	Cause    error
}

func (e *CompensationError) Error() string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Step
	}
	msg := fmt.Sprintf("compensation failed for step(s) %s", strings.Join(names, ", "))
	if e.Cause != nil {
		msg += fmt.Sprintf(" after: %v", e.Cause)
	}
	return msg
}

// Unwrap exposes the triggering cause and every compensation error.
func (e *CompensationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

func (e *CompensationError) Is(target error) bool { return target == ErrCompensation }

// TimeoutError reports that the execution deadline expired. Err is the step
// failure the deadline caused, if any.
type TimeoutError struct {
	SagaID  string
	Step    string
	Timeout time.Duration
	Elapsed time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("saga %s exceeded its deadline of %s (elapsed %s)", e.SagaID, e.Timeout, e.Elapsed.Round(time.Millisecond))
	if e.Step != "" {
		msg += fmt.Sprintf(" during step %q", e.Step)
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// TransitionError reports an operation that is not allowed from the saga's
// current status.
type TransitionError struct {
	SagaID string
	From   Status
	Op     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s saga %s in status %s", e.Op, e.SagaID, e.From)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidStateTransition }

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the step is not retried. Use it for failures a
// retry cannot fix, such as a collaborator rejecting the request.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
