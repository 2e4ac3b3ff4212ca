package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/poglesbyg/tracseq2.0-sub001/pkg/validator"
)

// ============================================================================
// TransactionRequest Tests
// ============================================================================

func validRequest() TransactionRequest {
	return TransactionRequest{
		Name:            "register sample S-100",
		TransactionType: TransactionTypeSampleRegistration,
	}
}

func TestTransactionRequest_Valid(t *testing.T) {
	req := validRequest()
	assert.NoError(t, validator.Validate(&req))
}

func TestTransactionRequest_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TransactionRequest)
		field  string
	}{
		{"missing name", func(r *TransactionRequest) { r.Name = "" }, "name"},
		{"missing type", func(r *TransactionRequest) { r.TransactionType = "" }, "transaction_type"},
		{"type not snake case", func(r *TransactionRequest) { r.TransactionType = "Sample-Registration" }, "transaction_type"},
		{"negative timeout", func(r *TransactionRequest) { r.TimeoutMs = -1 }, "timeout_ms"},
		{"timeout over a day", func(r *TransactionRequest) { r.TimeoutMs = 86400001 }, "timeout_ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			err := validator.Validate(&req)
			var ve *validator.ValidationError
			if assert.ErrorAs(t, err, &ve) {
				assert.Contains(t, ve.Fields(), tt.field)
			}
		})
	}
}

func TestTransactionRequest_Timeout(t *testing.T) {
	req := validRequest()
	assert.Equal(t, 5*time.Minute, req.Timeout(5*time.Minute))

	req.TimeoutMs = 1500
	assert.Equal(t, 1500*time.Millisecond, req.Timeout(5*time.Minute))
}

// ============================================================================
// Status Tests
// ============================================================================

func TestIsTerminalStatus(t *testing.T) {
	for _, s := range ActiveStatuses() {
		assert.False(t, IsTerminalStatus(s), s)
	}
	for _, s := range []string{StatusCompleted, StatusCompensated, StatusFailed, StatusCancelled, StatusTimedOut} {
		assert.True(t, IsTerminalStatus(s), s)
	}

	rec := SagaStatusRecord{Status: StatusPaused}
	assert.True(t, rec.IsActive())
}

// ============================================================================
// ExecutionResult.Outcome Tests
// ============================================================================

func TestExecutionResult_Outcome(t *testing.T) {
	tests := []struct {
		name   string
		result ExecutionResult
		want   string
	}{
		{"completed", ExecutionResult{Status: StatusCompleted}, OutcomeCompleted},
		{"compensated", ExecutionResult{Status: StatusCompensated}, OutcomeRolledBack},
		{"timed out cleanly", ExecutionResult{Status: StatusTimedOut}, OutcomeRolledBack},
		{
			"compensation failed",
			ExecutionResult{Status: StatusFailed, FailedCompensations: []CompensationFailureRecord{{Step: StepReserveSample, Error: "x"}}},
			OutcomeRequiresIntervention,
		},
		{"cancelled", ExecutionResult{Status: StatusCancelled}, OutcomeStopped},
		{"paused", ExecutionResult{Status: StatusPaused}, OutcomeStopped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.Outcome())
		})
	}
}

func TestSagaStep_IsDone(t *testing.T) {
	assert.True(t, SagaStep{Status: SagaStepCompleted}.IsDone())
	assert.False(t, SagaStep{Status: SagaStepCompensated}.IsDone())
	assert.False(t, SagaStep{Status: SagaStepPending}.IsDone())
}

func TestProgress(t *testing.T) {
	tests := []struct {
		completed, total int
		want             float64
	}{
		{0, 0, 0},
		{3, 0, 0},
		{0, 4, 0},
		{1, 4, 25},
		{3, 4, 75},
		{4, 4, 100},
		{5, 4, 100},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, Progress(tt.completed, tt.total), 1e-9, "%d/%d", tt.completed, tt.total)
	}
}

func TestSagaRecord_StatusRecord(t *testing.T) {
	rec := SagaRecord{SagaStatusRecord: SagaStatusRecord{CompletedSteps: 1, TotalSteps: 2}}
	assert.InDelta(t, 50.0, rec.StatusRecord().Progress, 1e-9)
}
