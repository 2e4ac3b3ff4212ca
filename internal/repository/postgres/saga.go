package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/poglesbyg/tracseq2.0-sub001/internal/domain"
	"github.com/poglesbyg/tracseq2.0-sub001/pkg/database"
	apperrors "github.com/poglesbyg/tracseq2.0-sub001/pkg/errors"
)

const (
	saveSagaQuery = `
		INSERT INTO sagas (
			id, transaction_id, name, transaction_type, status,
			current_step, current_step_name, completed_steps, total_steps,
			user_id, correlation_id, metadata, context_data, steps,
			error, error_category, compensation_executed, failed_compensations,
			execution_time_ms, started_at, completed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16, $17, $18,
			$19, $20, $21, $22, $23
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_step = EXCLUDED.current_step,
			current_step_name = EXCLUDED.current_step_name,
			completed_steps = EXCLUDED.completed_steps,
			steps = EXCLUDED.steps,
			error = EXCLUDED.error,
			error_category = EXCLUDED.error_category,
			compensation_executed = EXCLUDED.compensation_executed,
			failed_compensations = EXCLUDED.failed_compensations,
			execution_time_ms = EXCLUDED.execution_time_ms,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at`

	updateSagaQuery = `
		UPDATE sagas
		SET status = $1, current_step = $2, current_step_name = $3, completed_steps = $4,
			steps = $5, error = $6, error_category = $7,
			compensation_executed = $8, failed_compensations = $9, execution_time_ms = $10,
			started_at = $11, completed_at = $12, updated_at = $13
		WHERE id = $14`

	statusColumns = `id, transaction_id, name, transaction_type, status,
			current_step, current_step_name, completed_steps, total_steps,
			error, started_at, completed_at, created_at, updated_at`

	getSagaStatusQuery = `
		SELECT ` + statusColumns + `
		FROM sagas
		WHERE id = $1`

	listActiveSagasQuery = `
		SELECT ` + statusColumns + `
		FROM sagas
		WHERE status = ANY($1)
		ORDER BY updated_at DESC`

	statisticsQuery = `
		SELECT
			COUNT(*) FILTER (WHERE status = ANY($1)),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'compensated'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COUNT(*) FILTER (WHERE status = 'timed_out'),
			COUNT(*),
			COALESCE(AVG(execution_time_ms) FILTER (WHERE completed_at IS NOT NULL), 0)::float8
		FROM sagas`

	cleanupQuery = `
		DELETE FROM sagas
		WHERE status = ANY($1) AND updated_at < $2`
)

// SagaRepository implements repository.SagaRepository on PostgreSQL.
type SagaRepository struct {
	db database.DBTX
}

// NewSagaRepository creates a PostgreSQL-backed saga repository.
func NewSagaRepository(db database.DBTX) *SagaRepository {
	return &SagaRepository{db: db}
}

type jsonColumns struct {
	metadata            []byte
	contextData         []byte
	steps               []byte
	failedCompensations []byte
}

func marshalColumns(s *domain.SagaRecord) (jsonColumns, error) {
	var (
		cols jsonColumns
		err  error
	)

	metadata := s.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	if cols.metadata, err = json.Marshal(metadata); err != nil {
		return cols, fmt.Errorf("marshal metadata: %w", err)
	}

	contextData := s.ContextData
	if contextData == nil {
		contextData = map[string]any{}
	}
	if cols.contextData, err = json.Marshal(contextData); err != nil {
		return cols, fmt.Errorf("marshal context data: %w", err)
	}

	steps := s.Steps
	if steps == nil {
		steps = []domain.SagaStep{}
	}
	if cols.steps, err = json.Marshal(steps); err != nil {
		return cols, fmt.Errorf("marshal steps: %w", err)
	}

	failed := s.FailedCompensations
	if failed == nil {
		failed = []domain.CompensationFailureRecord{}
	}
	if cols.failedCompensations, err = json.Marshal(failed); err != nil {
		return cols, fmt.Errorf("marshal failed compensations: %w", err)
	}

	return cols, nil
}

// SaveSaga inserts the snapshot, or replaces the mutable columns of an
// existing row with the same id.
func (r *SagaRepository) SaveSaga(ctx context.Context, s *domain.SagaRecord) (err error) {
	cols, err := marshalColumns(s)
	if err != nil {
		return err
	}

	ctx, end := database.TraceQuery(ctx, "SaveSaga", saveSagaQuery)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, saveSagaQuery,
		s.ID,
		s.TransactionID,
		s.Name,
		s.TransactionType,
		s.Status,
		s.CurrentStep,
		nullableString(s.CurrentStepName),
		s.CompletedSteps,
		s.TotalSteps,
		nullableString(s.UserID),
		nullableString(s.CorrelationID),
		cols.metadata,
		cols.contextData,
		cols.steps,
		nullableString(s.Error),
		nullableString(s.ErrorCategory),
		s.CompensationExecuted,
		cols.failedCompensations,
		s.ExecutionTimeMs,
		s.StartedAt,
		s.CompletedAt,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert saga: %w", err)
	}
	return nil
}

// UpdateSaga overwrites the mutable columns of an existing saga.
func (r *SagaRepository) UpdateSaga(ctx context.Context, s *domain.SagaRecord) (err error) {
	cols, err := marshalColumns(s)
	if err != nil {
		return err
	}

	ctx, end := database.TraceQuery(ctx, "UpdateSaga", updateSagaQuery)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, updateSagaQuery,
		s.Status,
		s.CurrentStep,
		nullableString(s.CurrentStepName),
		s.CompletedSteps,
		cols.steps,
		nullableString(s.Error),
		nullableString(s.ErrorCategory),
		s.CompensationExecuted,
		cols.failedCompensations,
		s.ExecutionTimeMs,
		s.StartedAt,
		s.CompletedAt,
		s.UpdatedAt,
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("update saga: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("saga", s.ID)
	}
	return nil
}

// GetSagaStatus returns the status projection of one saga.
func (r *SagaRepository) GetSagaStatus(ctx context.Context, id string) (rec *domain.SagaStatusRecord, err error) {
	ctx, end := database.TraceQuery(ctx, "GetSagaStatus", getSagaStatusQuery)
	defer func() {
		if errors.Is(err, apperrors.ErrNotFound) {
			end(nil)
			return
		}
		end(err)
	}()

	rec, err = scanStatus(r.db.QueryRow(ctx, getSagaStatusQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("saga", id)
		}
		return nil, fmt.Errorf("scan saga status: %w", err)
	}
	return rec, nil
}

// ListActiveSagas returns non-terminal sagas, most recently updated first.
func (r *SagaRepository) ListActiveSagas(ctx context.Context) (_ []domain.SagaStatusRecord, err error) {
	ctx, end := database.TraceQuery(ctx, "ListActiveSagas", listActiveSagasQuery)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, listActiveSagasQuery, domain.ActiveStatuses())
	if err != nil {
		return nil, fmt.Errorf("list active sagas: %w", err)
	}
	defer rows.Close()

	records := []domain.SagaStatusRecord{}
	for rows.Next() {
		rec, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("scan active saga row: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active saga rows: %w", err)
	}

	return records, nil
}

// GetStatistics aggregates all stored sagas in a single query.
func (r *SagaRepository) GetStatistics(ctx context.Context) (_ *domain.CoordinatorStatistics, err error) {
	ctx, end := database.TraceQuery(ctx, "GetStatistics", statisticsQuery)
	defer func() { end(err) }()

	var stats domain.CoordinatorStatistics
	err = r.db.QueryRow(ctx, statisticsQuery, domain.ActiveStatuses()).Scan(
		&stats.Active,
		&stats.Completed,
		&stats.Failed,
		&stats.Compensated,
		&stats.Cancelled,
		&stats.TimedOut,
		&stats.Total,
		&stats.AvgExecutionTimeMs,
	)
	if err != nil {
		return nil, fmt.Errorf("query saga statistics: %w", err)
	}
	return &stats, nil
}

// CleanupOldSagas deletes terminal sagas last updated before olderThan.
func (r *SagaRepository) CleanupOldSagas(ctx context.Context, olderThan time.Time) (_ int64, err error) {
	ctx, end := database.TraceQuery(ctx, "CleanupOldSagas", cleanupQuery)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, cleanupQuery, domain.TerminalStatuses(), olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete old sagas: %w", err)
	}
	return ct.RowsAffected(), nil
}

func scanStatus(row pgx.Row) (*domain.SagaStatusRecord, error) {
	var (
		rec             domain.SagaStatusRecord
		currentStepName *string
		errMsg          *string
	)

	if err := row.Scan(
		&rec.ID,
		&rec.TransactionID,
		&rec.Name,
		&rec.TransactionType,
		&rec.Status,
		&rec.CurrentStep,
		&currentStepName,
		&rec.CompletedSteps,
		&rec.TotalSteps,
		&errMsg,
		&rec.StartedAt,
		&rec.CompletedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if currentStepName != nil {
		rec.CurrentStepName = *currentStepName
	}
	if errMsg != nil {
		rec.Error = *errMsg
	}
	rec.Progress = domain.Progress(rec.CompletedSteps, rec.TotalSteps)
	return &rec, nil
}

// nullableString returns nil for empty strings so they are stored as NULL.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
