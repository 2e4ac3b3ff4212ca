// Package saga implements the per-workflow state machine: ordered steps with
// forward and compensating actions, retries, cooperative cancellation and
// reverse-order rollback.
package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Action is a forward or compensating unit of work against one collaborator.
type Action func(ctx context.Context) error

// Step is one unit of a saga. Compensation may be nil, in which case rolling
// the step back is a no-op.
type Step struct {
	Name         string
	Action       Action
	Compensation Action
	// Retry overrides the saga-wide retry policy for this step.
	Retry *RetryPolicy
	// Timeout bounds each attempt of Action and Compensation. Zero means
	// no per-attempt bound.
	Timeout time.Duration

	outcome    StepOutcome
	err        error
	executedAt time.Time
}

// State is the mutable progress of a saga.
type State struct {
	Status         Status
	CurrentStep    int
	CompletedSteps int
	TotalSteps     int
	StartedAt      time.Time
	UpdatedAt      time.Time
}

// Saga is safe for concurrent use. Status queries and Cancel never wait for
// an in-flight action.
type Saga struct {
	id            string
	transactionID string
	createdAt     time.Time
	retry         RetryPolicy

	// execMu serialises Execute calls; mu guards steps and state.
	execMu sync.Mutex
	mu     sync.RWMutex
	steps  []*Step
	state  State
}

// Option configures a Saga at construction.
type Option func(*Saga)

// WithID sets the saga id instead of generating one.
func WithID(id string) Option {
	return func(s *Saga) { s.id = id }
}

// WithRetryPolicy sets the default retry policy for every step.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Saga) { s.retry = p }
}

// New builds a saga in status created. Steps are copied, so the caller may
// not observe outcomes through the values it passed in.
func New(transactionID string, steps []*Step, opts ...Option) (*Saga, error) {
	now := time.Now().UTC()
	s := &Saga{
		id:            uuid.NewString(),
		transactionID: transactionID,
		createdAt:     now,
		retry:         DefaultRetryPolicy(),
		steps:         make([]*Step, 0, len(steps)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		return nil, fmt.Errorf("%w: empty saga id", ErrInvalidDefinition)
	}

	seen := make(map[string]struct{}, len(steps))
	for i, st := range steps {
		if st == nil || st.Action == nil {
			return nil, fmt.Errorf("%w: step %d has no action", ErrInvalidDefinition, i)
		}
		if st.Name == "" {
			return nil, fmt.Errorf("%w: step %d has no name", ErrInvalidDefinition, i)
		}
		if _, dup := seen[st.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate step name %q", ErrInvalidDefinition, st.Name)
		}
		seen[st.Name] = struct{}{}

		cp := &Step{
			Name:         st.Name,
			Action:       st.Action,
			Compensation: st.Compensation,
			Retry:        st.Retry,
			Timeout:      st.Timeout,
			outcome:      StepPending,
		}
		s.steps = append(s.steps, cp)
	}

	s.state = State{
		Status:     StatusCreated,
		TotalSteps: len(s.steps),
		UpdatedAt:  now,
	}
	return s, nil
}

func (s *Saga) ID() string            { return s.id }
func (s *Saga) TransactionID() string { return s.transactionID }
func (s *Saga) CreatedAt() time.Time  { return s.createdAt }

// State returns a copy of the current state.
func (s *Saga) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status returns the current status.
func (s *Saga) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Status
}

// Progress returns completed/total as a percentage in [0, 100]. A saga with
// no steps reports 0.
func (s *Saga) Progress() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return progress(s.state.CompletedSteps, s.state.TotalSteps)
}

func progress(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(completed) / float64(total) * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// CanCancel reports whether Cancel would succeed.
func (s *Saga) CanCancel() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return canCancel(s.state.Status)
}

func canCancel(st Status) bool {
	return st == StatusCreated || st == StatusExecuting || st == StatusPaused
}

// Cancel moves the saga to cancelled. Execution stops at the next step
// boundary; completed steps are not compensated.
func (s *Saga) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canCancel(s.state.Status) {
		return &TransitionError{SagaID: s.id, From: s.state.Status, Op: "cancel"}
	}
	s.setStatusLocked(StatusCancelled)
	return nil
}

// Pause stops execution at the next step boundary. Execute resumes a paused
// saga from its current step.
func (s *Saga) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Status != StatusCreated && s.state.Status != StatusExecuting {
		return &TransitionError{SagaID: s.id, From: s.state.Status, Op: "pause"}
	}
	s.setStatusLocked(StatusPaused)
	return nil
}

func (s *Saga) setStatusLocked(st Status) {
	s.state.Status = st
	s.state.UpdatedAt = time.Now().UTC()
}

// StepSnapshot is the recorded outcome of one step.
type StepSnapshot struct {
	Name       string
	Outcome    StepOutcome
	Error      string
	ExecutedAt time.Time
}

// Snapshot is an immutable copy of a saga taken under its lock.
type Snapshot struct {
	ID            string
	TransactionID string
	CreatedAt     time.Time
	State         State
	Steps         []StepSnapshot
}

// Progress is the snapshot's completion percentage.
func (sn Snapshot) Progress() float64 {
	return progress(sn.State.CompletedSteps, sn.State.TotalSteps)
}

// CurrentStepName is the name of the step at CurrentStep, or "" once every
// step has run.
func (sn Snapshot) CurrentStepName() string {
	if sn.State.CurrentStep < 0 || sn.State.CurrentStep >= len(sn.Steps) {
		return ""
	}
	return sn.Steps[sn.State.CurrentStep].Name
}

func (s *Saga) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	steps := make([]StepSnapshot, len(s.steps))
	for i, st := range s.steps {
		steps[i] = StepSnapshot{
			Name:       st.Name,
			Outcome:    st.outcome,
			ExecutedAt: st.executedAt,
		}
		if st.err != nil {
			steps[i].Error = st.err.Error()
		}
	}
	return Snapshot{
		ID:            s.id,
		TransactionID: s.transactionID,
		CreatedAt:     s.createdAt,
		State:         s.state,
		Steps:         steps,
	}
}
