package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poglesbyg/tracseq2.0-sub001/internal/domain"
	"github.com/poglesbyg/tracseq2.0-sub001/internal/repository"
	apperrors "github.com/poglesbyg/tracseq2.0-sub001/pkg/errors"
)

var _ repository.SagaRepository = (*SagaRepository)(nil)

func record(id, status string, updated time.Time) *domain.SagaRecord {
	return &domain.SagaRecord{
		SagaStatusRecord: domain.SagaStatusRecord{
			ID:             id,
			TransactionID:  "tx-" + id,
			Status:         status,
			CompletedSteps: 1,
			TotalSteps:     4,
			CreatedAt:      updated,
			UpdatedAt:      updated,
		},
		Metadata: map[string]string{"k": "v"},
	}
}

func TestSagaRepository_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewSagaRepository()

	rec := record("a", domain.StatusExecuting, time.Now())
	require.NoError(t, repo.SaveSaga(ctx, rec))

	rec.Metadata["k"] = "changed"

	got, err := repo.GetSagaStatus(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "tx-a", got.TransactionID)
	assert.Equal(t, 25.0, got.Progress)

	_, err = repo.GetSagaStatus(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSagaRepository_SaveStoresCopy(t *testing.T) {
	ctx := context.Background()
	repo := NewSagaRepository()

	rec := record("a", domain.StatusExecuting, time.Now())
	require.NoError(t, repo.SaveSaga(ctx, rec))
	rec.Metadata["k"] = "changed"

	repo.mu.RLock()
	stored, _ := repo.sagas.Get("a")
	repo.mu.RUnlock()
	assert.Equal(t, "v", stored.Metadata["k"])
}

func TestSagaRepository_UpdateRequiresExisting(t *testing.T) {
	ctx := context.Background()
	repo := NewSagaRepository()

	rec := record("a", domain.StatusExecuting, time.Now())
	assert.ErrorIs(t, repo.UpdateSaga(ctx, rec), apperrors.ErrNotFound)

	require.NoError(t, repo.SaveSaga(ctx, rec))
	rec.Status = domain.StatusCompleted
	require.NoError(t, repo.UpdateSaga(ctx, rec))

	got, err := repo.GetSagaStatus(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
}

func TestSagaRepository_ListActiveSagas(t *testing.T) {
	ctx := context.Background()
	repo := NewSagaRepository()
	now := time.Now()

	require.NoError(t, repo.SaveSaga(ctx, record("old", domain.StatusExecuting, now.Add(-time.Hour))))
	require.NoError(t, repo.SaveSaga(ctx, record("new", domain.StatusPaused, now)))
	require.NoError(t, repo.SaveSaga(ctx, record("done", domain.StatusCompleted, now)))

	active, err := repo.ListActiveSagas(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "new", active[0].ID)
	assert.Equal(t, "old", active[1].ID)
}

func TestSagaRepository_GetStatistics(t *testing.T) {
	ctx := context.Background()
	repo := NewSagaRepository()
	now := time.Now()

	finished := func(id, status string, ms int64) *domain.SagaRecord {
		r := record(id, status, now)
		r.CompletedAt = &now
		r.ExecutionTimeMs = ms
		return r
	}

	require.NoError(t, repo.SaveSaga(ctx, record("run", domain.StatusExecuting, now)))
	require.NoError(t, repo.SaveSaga(ctx, finished("c1", domain.StatusCompleted, 100)))
	require.NoError(t, repo.SaveSaga(ctx, finished("c2", domain.StatusCompleted, 300)))
	require.NoError(t, repo.SaveSaga(ctx, finished("f", domain.StatusFailed, 200)))
	require.NoError(t, repo.SaveSaga(ctx, finished("r", domain.StatusCompensated, 400)))

	stats, err := repo.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Total)
	assert.Equal(t, int64(1), stats.Active)
	assert.Equal(t, int64(2), stats.Completed)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Compensated)
	assert.Equal(t, 250.0, stats.AvgExecutionTimeMs)
}

func TestSagaRepository_CleanupOldSagas(t *testing.T) {
	ctx := context.Background()
	repo := NewSagaRepository()
	now := time.Now()

	require.NoError(t, repo.SaveSaga(ctx, record("old-done", domain.StatusCompleted, now.Add(-48*time.Hour))))
	require.NoError(t, repo.SaveSaga(ctx, record("old-running", domain.StatusExecuting, now.Add(-48*time.Hour))))
	require.NoError(t, repo.SaveSaga(ctx, record("fresh-done", domain.StatusFailed, now)))

	n, err := repo.CleanupOldSagas(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetSagaStatus(ctx, "old-done")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = repo.GetSagaStatus(ctx, "old-running")
	assert.NoError(t, err)
	_, err = repo.GetSagaStatus(ctx, "fresh-done")
	assert.NoError(t, err)
}
