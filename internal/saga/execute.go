package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ExecuteOptions control a single Execute call.
type ExecuteOptions struct {
	// Timeout bounds the whole execution. Zero leaves only the parent
	// context's deadline.
	Timeout time.Duration
	Hooks   Hooks
	// Logger receives hook panics. Nil discards them.
	Logger *slog.Logger
}

// Result is the outcome of an Execute call.
type Result struct {
	SagaID        string
	TransactionID string
	Status        Status
	// CompletedSteps counts forward steps that succeeded, before any rollback.
	CompletedSteps int
	TotalSteps     int
	FailedStep     string
	// Err is nil for completed, paused and cancelled executions.
	Err                  error
	CompensationExecuted bool
	CompensatedSteps     []string
	FailedCompensations  []CompensationFailure
	Duration             time.Duration
}

// RequiresIntervention reports whether rollback left residual state that an
// operator has to clean up.
func (r *Result) RequiresIntervention() bool {
	return len(r.FailedCompensations) > 0
}

type rollback struct {
	executed    bool
	compensated []string
	failures    []CompensationFailure
}

// Execute runs the saga from its current step until it completes, fails,
// is rolled back, or stops at a step boundary because it was cancelled or
// paused. Step and compensation failures are reported in the Result; the
// error return is reserved for sagas that cannot be executed from their
// current status.
func (s *Saga) Execute(ctx context.Context, opts ExecuteOptions) (*Result, error) {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	started := time.Now()
	if err := s.begin(); err != nil {
		return nil, err
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	for {
		step, ok := s.next()
		if !ok {
			return s.result(started, "", nil, rollback{}), nil
		}

		if ctx.Err() != nil {
			s.mu.Lock()
			s.setStatusLocked(StatusCompensating)
			s.mu.Unlock()
			return s.compensate(ctx, opts, started, "", s.abortError(ctx, opts, started, "", nil)), nil
		}

		s.emit(ctx, opts.Logger, "OnStepStarted", func() {
			if opts.Hooks.OnStepStarted != nil {
				opts.Hooks.OnStepStarted(ctx, step.Name)
			}
		})

		stepStart := time.Now()
		attempts, err := s.runAction(ctx, opts, step, step.Action, true)
		now := time.Now().UTC()

		if err == nil {
			s.mu.Lock()
			step.outcome = StepCompleted
			step.err = nil
			step.executedAt = now
			s.state.CompletedSteps++
			s.state.CurrentStep++
			s.state.UpdatedAt = now
			s.mu.Unlock()

			s.emit(ctx, opts.Logger, "OnStepCompleted", func() {
				if opts.Hooks.OnStepCompleted != nil {
					opts.Hooks.OnStepCompleted(ctx, step.Name, time.Since(stepStart))
				}
			})
			continue
		}

		s.mu.Lock()
		step.outcome = StepFailed
		step.err = err
		step.executedAt = now
		cancelled := s.state.Status == StatusCancelled
		if !cancelled {
			s.setStatusLocked(StatusCompensating)
		} else {
			s.state.UpdatedAt = now
		}
		s.mu.Unlock()

		s.emit(ctx, opts.Logger, "OnStepFailed", func() {
			if opts.Hooks.OnStepFailed != nil {
				opts.Hooks.OnStepFailed(ctx, step.Name, err)
			}
		})

		if cancelled {
			return s.result(started, step.Name, nil, rollback{}), nil
		}

		var cause error = &StepError{Step: step.Name, Attempts: attempts, Err: err}
		if ctx.Err() != nil {
			cause = s.abortError(ctx, opts, started, step.Name, cause)
		}
		return s.compensate(ctx, opts, started, step.Name, cause), nil
	}
}

func (s *Saga) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Status != StatusCreated && s.state.Status != StatusPaused {
		return &TransitionError{SagaID: s.id, From: s.state.Status, Op: "execute"}
	}
	if s.state.StartedAt.IsZero() {
		s.state.StartedAt = time.Now().UTC()
	}
	s.setStatusLocked(StatusExecuting)
	return nil
}

// next returns the step to run, or false when execution has to stop at this
// boundary. Reaching the end of the step list completes the saga.
func (s *Saga) next() (*Step, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Status != StatusExecuting {
		return nil, false
	}
	if s.state.CurrentStep >= len(s.steps) {
		s.setStatusLocked(StatusCompleted)
		return nil, false
	}
	return s.steps[s.state.CurrentStep], true
}

// abortError describes why ctx ended the execution.
func (s *Saga) abortError(ctx context.Context, opts ExecuteOptions, started time.Time, step string, cause error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{
			SagaID:  s.id,
			Step:    step,
			Timeout: opts.Timeout,
			Elapsed: time.Since(started),
			Err:     cause,
		}
	}
	if cause != nil {
		return cause
	}
	return fmt.Errorf("saga %s aborted: %w", s.id, ctx.Err())
}

// runAction runs action under the step's retry policy and returns the number
// of attempts made. Retries stop early on permanent errors, on context
// expiry, and for forward actions once the saga is cancelled.
func (s *Saga) runAction(ctx context.Context, opts ExecuteOptions, step *Step, action Action, forward bool) (int, error) {
	policy := s.retry
	if step.Retry != nil {
		policy = *step.Retry
	}
	policy = policy.normalized()

	for attempt := 1; ; attempt++ {
		err := attemptAction(ctx, step.Name, step.Timeout, action)
		if err == nil {
			return attempt, nil
		}
		if attempt >= policy.MaxAttempts || IsPermanent(err) || ctx.Err() != nil {
			return attempt, err
		}
		if forward && s.Status() == StatusCancelled {
			return attempt, err
		}

		if forward {
			s.emit(ctx, opts.Logger, "OnStepRetry", func() {
				if opts.Hooks.OnStepRetry != nil {
					opts.Hooks.OnStepRetry(ctx, step.Name, attempt, err)
				}
			})
		}

		timer := time.NewTimer(policy.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, err
		case <-timer.C:
		}
	}
}

func attemptAction(ctx context.Context, name string, timeout time.Duration, action Action) (err error) {
	actx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step %q panicked: %v", name, r)
		}
	}()

	err = action(actx)
	if err != nil && timeout > 0 && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %w", ErrStepTimeout, timeout, err)
	}
	return err
}

// compensate rolls back every completed step in reverse order. It runs on a
// context detached from ctx's cancellation so the deadline that triggered
// the rollback cannot cut it short.
func (s *Saga) compensate(ctx context.Context, opts ExecuteOptions, started time.Time, failedStep string, cause error) *Result {
	cctx := context.WithoutCancel(ctx)

	s.mu.RLock()
	completed := make([]*Step, 0, len(s.steps))
	for i := len(s.steps) - 1; i >= 0; i-- {
		if s.steps[i].outcome == StepCompleted {
			completed = append(completed, s.steps[i])
		}
	}
	s.mu.RUnlock()

	var rb rollback
	for _, step := range completed {
		if step.Compensation != nil {
			rb.executed = true
			if _, err := s.runAction(cctx, opts, step, step.Compensation, false); err != nil {
				s.mu.Lock()
				step.err = err
				s.state.UpdatedAt = time.Now().UTC()
				s.mu.Unlock()

				rb.failures = append(rb.failures, CompensationFailure{Step: step.Name, Err: err})
				s.emit(cctx, opts.Logger, "OnCompensationFailed", func() {
					if opts.Hooks.OnCompensationFailed != nil {
						opts.Hooks.OnCompensationFailed(cctx, step.Name, err)
					}
				})
				continue
			}
		}

		s.mu.Lock()
		step.outcome = StepCompensated
		s.state.UpdatedAt = time.Now().UTC()
		s.mu.Unlock()

		rb.compensated = append(rb.compensated, step.Name)
		s.emit(cctx, opts.Logger, "OnCompensated", func() {
			if opts.Hooks.OnCompensated != nil {
				opts.Hooks.OnCompensated(cctx, step.Name)
			}
		})
	}

	final := StatusCompensated
	if errors.Is(cause, ErrTimeout) {
		final = StatusTimedOut
	}
	err := cause
	if len(rb.failures) > 0 {
		final = StatusFailed
		err = &CompensationError{Failures: rb.failures, Cause: cause}
	}

	s.mu.Lock()
	s.setStatusLocked(final)
	s.mu.Unlock()

	return s.result(started, failedStep, err, rb)
}

func (s *Saga) result(started time.Time, failedStep string, err error, rb rollback) *Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Result{
		SagaID:               s.id,
		TransactionID:        s.transactionID,
		Status:               s.state.Status,
		CompletedSteps:       s.state.CompletedSteps,
		TotalSteps:           s.state.TotalSteps,
		FailedStep:           failedStep,
		Err:                  err,
		CompensationExecuted: rb.executed,
		CompensatedSteps:     rb.compensated,
		FailedCompensations:  rb.failures,
		Duration:             time.Since(started),
	}
}
