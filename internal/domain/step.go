package domain

import (
	"time"
)

// Saga step status constants.
const (
	SagaStepPending     = "pending"
	SagaStepCompleted   = "completed"
	SagaStepFailed      = "failed"
	SagaStepCompensated = "compensated"
)

// SagaStep is the persisted outcome of a single saga step.
type SagaStep struct {
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
}

// IsDone reports whether the step's forward action took effect and was not
// rolled back.
func (s SagaStep) IsDone() bool {
	return s.Status == SagaStepCompleted
}

// Step names used by the laboratory workflows.
const (
	StepReserveSample         = "reserve_sample"
	StepAllocateStorage       = "allocate_storage"
	StepNotifySubmitter       = "notify_submitter"
	StepLockSamples           = "lock_samples"
	StepReserveReagents       = "reserve_reagents"
	StepScheduleSequencingRun = "schedule_sequencing_run"
)

// Transaction types.
const (
	TransactionTypeSampleRegistration = "sample_registration"
	TransactionTypeLibraryPrep        = "library_prep"
)
