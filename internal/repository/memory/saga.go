// Package memory is an in-process saga store for single-node deployments and
// local development. Nothing survives a restart.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/tidwall/btree"

	"github.com/poglesbyg/tracseq2.0-sub001/internal/domain"
	apperrors "github.com/poglesbyg/tracseq2.0-sub001/pkg/errors"
)

// SagaRepository keeps saga records ordered by id.
type SagaRepository struct {
	mu    sync.RWMutex
	sagas *btree.Map[string, domain.SagaRecord]
}

func NewSagaRepository() *SagaRepository {
	return &SagaRepository{
		sagas: btree.NewMap[string, domain.SagaRecord](32),
	}
}

// SaveSaga stores a copy of s, replacing any record with the same id.
func (r *SagaRepository) SaveSaga(_ context.Context, s *domain.SagaRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sagas.Set(s.ID, cloneRecord(s))
	return nil
}

// UpdateSaga replaces an existing record.
func (r *SagaRepository) UpdateSaga(_ context.Context, s *domain.SagaRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sagas.Get(s.ID); !ok {
		return apperrors.NotFound("saga", s.ID)
	}
	r.sagas.Set(s.ID, cloneRecord(s))
	return nil
}

func (r *SagaRepository) GetSagaStatus(_ context.Context, id string) (*domain.SagaStatusRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.sagas.Get(id)
	if !ok {
		return nil, apperrors.NotFound("saga", id)
	}
	status := rec.StatusRecord()
	return &status, nil
}

func (r *SagaRepository) ListActiveSagas(_ context.Context) ([]domain.SagaStatusRecord, error) {
	r.mu.RLock()
	records := []domain.SagaStatusRecord{}
	r.sagas.Scan(func(_ string, rec domain.SagaRecord) bool {
		if !domain.IsTerminalStatus(rec.Status) {
			records = append(records, rec.StatusRecord())
		}
		return true
	})
	r.mu.RUnlock()

	slices.SortStableFunc(records, func(a, b domain.SagaStatusRecord) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return records, nil
}

func (r *SagaRepository) GetStatistics(_ context.Context) (*domain.CoordinatorStatistics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		stats    domain.CoordinatorStatistics
		finished int64
		totalMs  int64
	)
	r.sagas.Scan(func(_ string, rec domain.SagaRecord) bool {
		stats.Total++
		switch rec.Status {
		case domain.StatusCompleted:
			stats.Completed++
		case domain.StatusFailed:
			stats.Failed++
		case domain.StatusCompensated:
			stats.Compensated++
		case domain.StatusCancelled:
			stats.Cancelled++
		case domain.StatusTimedOut:
			stats.TimedOut++
		default:
			stats.Active++
		}
		if rec.CompletedAt != nil {
			finished++
			totalMs += rec.ExecutionTimeMs
		}
		return true
	})
	if finished > 0 {
		stats.AvgExecutionTimeMs = float64(totalMs) / float64(finished)
	}
	return &stats, nil
}

// CleanupOldSagas removes terminal records last updated before olderThan.
func (r *SagaRepository) CleanupOldSagas(_ context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []string
	r.sagas.Scan(func(id string, rec domain.SagaRecord) bool {
		if domain.IsTerminalStatus(rec.Status) && rec.UpdatedAt.Before(olderThan) {
			expired = append(expired, id)
		}
		return true
	})
	for _, id := range expired {
		r.sagas.Delete(id)
	}
	return int64(len(expired)), nil
}

func cloneRecord(s *domain.SagaRecord) domain.SagaRecord {
	c := *s
	c.Metadata = maps.Clone(s.Metadata)
	c.ContextData = maps.Clone(s.ContextData)
	c.Steps = slices.Clone(s.Steps)
	c.FailedCompensations = slices.Clone(s.FailedCompensations)
	return c
}
