package saga

// Status is the lifecycle status of a saga.
type Status string

const (
	StatusCreated      Status = "created"
	StatusExecuting    Status = "executing"
	StatusPaused       Status = "paused"
	StatusCompleted    Status = "completed"
	StatusCompensating Status = "compensating"
	StatusCompensated  Status = "compensated"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
	StatusTimedOut     Status = "timed_out"
)

// IsTerminal reports whether no further execution or cancellation is
// possible from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompensated, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// IsActive is the complement of IsTerminal.
func (s Status) IsActive() bool {
	return !s.IsTerminal()
}

func (s Status) String() string {
	return string(s)
}

// StepOutcome is the per-step execution outcome.
type StepOutcome string

const (
	StepPending     StepOutcome = "pending"
	StepCompleted   StepOutcome = "completed"
	StepFailed      StepOutcome = "failed"
	StepCompensated StepOutcome = "compensated"
)
