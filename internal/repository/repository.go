package repository

import (
	"context"
	"time"

	"github.com/poglesbyg/tracseq2.0-sub001/internal/domain"
	apperrors "github.com/poglesbyg/tracseq2.0-sub001/pkg/errors"
)

// SagaRepository persists saga snapshots and aggregate statistics.
// Implementations return apperrors.ErrNotFound (possibly wrapped) for unknown
// ids.
type SagaRepository interface {
	// SaveSaga stores the initial snapshot, replacing any existing row with
	// the same id.
	SaveSaga(ctx context.Context, saga *domain.SagaRecord) error

	// UpdateSaga overwrites an existing snapshot.
	UpdateSaga(ctx context.Context, saga *domain.SagaRecord) error

	// GetSagaStatus returns the status projection of one saga.
	GetSagaStatus(ctx context.Context, id string) (*domain.SagaStatusRecord, error)

	// ListActiveSagas returns every non-terminal saga, most recently
	// updated first.
	ListActiveSagas(ctx context.Context) ([]domain.SagaStatusRecord, error)

	// GetStatistics aggregates stored sagas by status.
	GetStatistics(ctx context.Context) (*domain.CoordinatorStatistics, error)

	// CleanupOldSagas deletes terminal sagas last updated before olderThan
	// and returns how many were removed.
	CleanupOldSagas(ctx context.Context, olderThan time.Time) (int64, error)
}

// NoopRepository is used when persistence is disabled. Writes succeed and
// reads return nothing.
type NoopRepository struct{}

func (NoopRepository) SaveSaga(context.Context, *domain.SagaRecord) error   { return nil }
func (NoopRepository) UpdateSaga(context.Context, *domain.SagaRecord) error { return nil }

func (NoopRepository) GetSagaStatus(_ context.Context, id string) (*domain.SagaStatusRecord, error) {
	return nil, apperrors.NotFound("saga", id)
}

func (NoopRepository) ListActiveSagas(context.Context) ([]domain.SagaStatusRecord, error) {
	return []domain.SagaStatusRecord{}, nil
}

func (NoopRepository) GetStatistics(context.Context) (*domain.CoordinatorStatistics, error) {
	return &domain.CoordinatorStatistics{}, nil
}

func (NoopRepository) CleanupOldSagas(context.Context, time.Time) (int64, error) {
	return 0, nil
}
