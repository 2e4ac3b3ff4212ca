package domain

import (
	"time"
)

// Saga status values as persisted and reported by the API.
const (
	StatusCreated      = "created"
	StatusExecuting    = "executing"
	StatusPaused       = "paused"
	StatusCompleted    = "completed"
	StatusCompensating = "compensating"
	StatusCompensated  = "compensated"
	StatusFailed       = "failed"
	StatusCancelled    = "cancelled"
	StatusTimedOut     = "timed_out"
)

// ActiveStatuses returns the non-terminal statuses.
func ActiveStatuses() []string {
	return []string{StatusCreated, StatusExecuting, StatusPaused, StatusCompensating}
}

// TerminalStatuses returns the statuses a saga never leaves.
func TerminalStatuses() []string {
	return []string{StatusCompleted, StatusCompensated, StatusFailed, StatusCancelled, StatusTimedOut}
}

// IsTerminalStatus reports whether status is one a saga never leaves.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusCompensated, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// Result outcomes a caller branches on.
const (
	OutcomeCompleted            = "completed"
	OutcomeRolledBack           = "rolled_back"
	OutcomeRequiresIntervention = "requires_intervention"
	OutcomeStopped              = "stopped"
)

// Error categories reported on transaction.failed events and results.
const (
	ErrorCategoryStepExecution = "step_execution_failure"
	ErrorCategoryCompensation  = "compensation_failure"
	ErrorCategoryTimeout       = "timeout"
	ErrorCategoryInternal      = "internal"
)

// TransactionRequest describes one workflow instance submitted alongside the
// saga that implements it.
type TransactionRequest struct {
	Name            string            `json:"name" validate:"required,max=255"`
	TransactionType string            `json:"transaction_type" validate:"required,max=100,identifier"`
	UserID          string            `json:"user_id,omitempty" validate:"omitempty,max=255"`
	CorrelationID   string            `json:"correlation_id,omitempty" validate:"omitempty,max=255"`
	TimeoutMs       int64             `json:"timeout_ms,omitempty" validate:"gte=0,lte=86400000"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	ContextData     map[string]any    `json:"context_data,omitempty"`
}

// Timeout returns the requested execution bound, or fallback when none was
// requested.
func (r *TransactionRequest) Timeout(fallback time.Duration) time.Duration {
	if r.TimeoutMs > 0 {
		return time.Duration(r.TimeoutMs) * time.Millisecond
	}
	return fallback
}

// SagaStatusRecord is the status projection returned without rebuilding the
// saga.
type SagaStatusRecord struct {
	ID              string     `json:"id"`
	TransactionID   string     `json:"transaction_id"`
	Name            string     `json:"name"`
	TransactionType string     `json:"transaction_type"`
	Status          string     `json:"status"`
	Progress        float64    `json:"progress"`
	CurrentStep     int        `json:"current_step"`
	CurrentStepName string     `json:"current_step_name,omitempty"`
	CompletedSteps  int        `json:"completed_steps"`
	TotalSteps      int        `json:"total_steps"`
	Error           string     `json:"error,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsActive reports whether the record describes a running saga.
func (r *SagaStatusRecord) IsActive() bool {
	return !IsTerminalStatus(r.Status)
}

// StatusRecord returns the record's status projection with progress filled
// in.
func (r *SagaRecord) StatusRecord() SagaStatusRecord {
	status := r.SagaStatusRecord
	status.Progress = Progress(status.CompletedSteps, status.TotalSteps)
	return status
}

// Progress is completed/total as a percentage in [0, 100]; 0 when total is 0.
func Progress(completed, total int) float64 {
	if total <= 0 || completed <= 0 {
		return 0
	}
	if completed >= total {
		return 100
	}
	return float64(completed) / float64(total) * 100
}

// CompensationFailureRecord is a compensation that did not succeed.
type CompensationFailureRecord struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

// SagaRecord is the persisted saga.
type SagaRecord struct {
	SagaStatusRecord

	UserID               string                      `json:"user_id,omitempty"`
	CorrelationID        string                      `json:"correlation_id,omitempty"`
	Metadata             map[string]string           `json:"metadata,omitempty"`
	ContextData          map[string]any              `json:"context_data,omitempty"`
	Steps                []SagaStep                  `json:"steps"`
	ErrorCategory        string                      `json:"error_category,omitempty"`
	CompensationExecuted bool                        `json:"compensation_executed"`
	FailedCompensations  []CompensationFailureRecord `json:"failed_compensations,omitempty"`
	ExecutionTimeMs      int64                       `json:"execution_time_ms"`
}

// CoordinatorStatistics aggregates persisted sagas by status.
type CoordinatorStatistics struct {
	Active             int64   `json:"active"`
	Completed          int64   `json:"completed"`
	Failed             int64   `json:"failed"`
	Compensated        int64   `json:"compensated"`
	Cancelled          int64   `json:"cancelled"`
	TimedOut           int64   `json:"timed_out"`
	Total              int64   `json:"total"`
	AvgExecutionTimeMs float64 `json:"avg_execution_time_ms"`
}

// ExecutionResult is what the coordinator returns for one transaction.
type ExecutionResult struct {
	SagaID               string                      `json:"saga_id"`
	TransactionID        string                      `json:"transaction_id"`
	Status               string                      `json:"status"`
	CompletedSteps       int                         `json:"completed_steps"`
	TotalSteps           int                         `json:"total_steps"`
	FailedStep           string                      `json:"failed_step,omitempty"`
	Error                string                      `json:"error,omitempty"`
	ErrorCategory        string                      `json:"error_category,omitempty"`
	CompensationExecuted bool                        `json:"compensation_executed"`
	CompensatedSteps     []string                    `json:"compensated_steps,omitempty"`
	FailedCompensations  []CompensationFailureRecord `json:"failed_compensations,omitempty"`
	ExecutionTimeMs      int64                       `json:"execution_time_ms"`
}

// Outcome classifies the result into the shape a caller acts on: the work is
// done, it was cleanly rolled back, an operator has to fix residual state, or
// the saga was stopped (cancelled or paused) before finishing.
func (r *ExecutionResult) Outcome() string {
	switch {
	case len(r.FailedCompensations) > 0:
		return OutcomeRequiresIntervention
	case r.Status == StatusCompleted:
		return OutcomeCompleted
	case r.Status == StatusCompensated, r.Status == StatusTimedOut, r.Status == StatusFailed:
		return OutcomeRolledBack
	default:
		return OutcomeStopped
	}
}
