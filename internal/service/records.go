package service

import (
	"errors"
	"maps"
	"time"

	"github.com/poglesbyg/tracseq2.0-sub001/internal/domain"
	"github.com/poglesbyg/tracseq2.0-sub001/internal/saga"
)

// buildRecord projects a saga snapshot and its request into the persisted
// form.
func buildRecord(req *domain.TransactionRequest, snap saga.Snapshot) *domain.SagaRecord {
	st := snap.State
	rec := &domain.SagaRecord{
		SagaStatusRecord: domain.SagaStatusRecord{
			ID:              snap.ID,
			TransactionID:   snap.TransactionID,
			Name:            req.Name,
			TransactionType: req.TransactionType,
			Status:          st.Status.String(),
			Progress:        snap.Progress(),
			CurrentStep:     st.CurrentStep,
			CurrentStepName: snap.CurrentStepName(),
			CompletedSteps:  st.CompletedSteps,
			TotalSteps:      st.TotalSteps,
			CreatedAt:       snap.CreatedAt,
			UpdatedAt:       st.UpdatedAt,
		},
		UserID:        req.UserID,
		CorrelationID: req.CorrelationID,
		Metadata:      maps.Clone(req.Metadata),
		ContextData:   maps.Clone(req.ContextData),
		Steps:         make([]domain.SagaStep, len(snap.Steps)),
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = snap.CreatedAt
	}
	if !st.StartedAt.IsZero() {
		started := st.StartedAt
		rec.StartedAt = &started
	}

	for i, s := range snap.Steps {
		step := domain.SagaStep{
			Name:   s.Name,
			Status: string(s.Outcome),
			Error:  s.Error,
		}
		if !s.ExecutedAt.IsZero() {
			at := s.ExecutedAt
			step.ExecutedAt = &at
		}
		rec.Steps[i] = step
		if s.Error != "" && rec.Error == "" {
			rec.Error = s.Error
		}
	}
	return rec
}

// applyResult copies execution detail onto the final record.
func applyResult(rec *domain.SagaRecord, res *domain.ExecutionResult) {
	rec.Status = res.Status
	rec.Error = res.Error
	rec.ErrorCategory = res.ErrorCategory
	rec.CompensationExecuted = res.CompensationExecuted
	rec.FailedCompensations = res.FailedCompensations
	rec.ExecutionTimeMs = res.ExecutionTimeMs
	if domain.IsTerminalStatus(res.Status) {
		done := rec.UpdatedAt
		if done.IsZero() {
			done = time.Now().UTC()
		}
		rec.CompletedAt = &done
	}
}

func toExecutionResult(r *saga.Result) *domain.ExecutionResult {
	res := &domain.ExecutionResult{
		SagaID:               r.SagaID,
		TransactionID:        r.TransactionID,
		Status:               r.Status.String(),
		CompletedSteps:       r.CompletedSteps,
		TotalSteps:           r.TotalSteps,
		FailedStep:           r.FailedStep,
		CompensationExecuted: r.CompensationExecuted,
		CompensatedSteps:     r.CompensatedSteps,
		ExecutionTimeMs:      r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		res.Error = r.Err.Error()
		res.ErrorCategory = errorCategory(r.Err)
	}
	for _, f := range r.FailedCompensations {
		res.FailedCompensations = append(res.FailedCompensations, domain.CompensationFailureRecord{
			Step:  f.Step,
			Error: f.Err.Error(),
		})
	}
	return res
}

// errorCategory classifies an execution error. A failed rollback outranks
// the failure that triggered it.
func errorCategory(err error) string {
	switch {
	case errors.Is(err, saga.ErrCompensation):
		return domain.ErrorCategoryCompensation
	case errors.Is(err, saga.ErrTimeout):
		return domain.ErrorCategoryTimeout
	case errors.Is(err, saga.ErrStepExecution):
		return domain.ErrorCategoryStepExecution
	default:
		return domain.ErrorCategoryInternal
	}
}
