package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/poglesbyg/tracseq2.0-sub001/internal/domain"
	"github.com/poglesbyg/tracseq2.0-sub001/internal/repository"
)

const keyPrefix = "saga:status:"

// StatusCache wraps a repository.SagaRepository and caches status
// projections in Redis. Writes go to the wrapped repository first and then
// refresh the cache. Redis failures are logged and never surface to callers.
type StatusCache struct {
	next   repository.SagaRepository
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewStatusCache creates a Redis status cache in front of next.
func NewStatusCache(next repository.SagaRepository, client *redis.Client, ttl time.Duration, logger *slog.Logger) *StatusCache {
	return &StatusCache{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func key(id string) string {
	return keyPrefix + id
}

func (c *StatusCache) SaveSaga(ctx context.Context, s *domain.SagaRecord) error {
	if err := c.next.SaveSaga(ctx, s); err != nil {
		c.invalidate(ctx, s.ID)
		return err
	}
	c.store(ctx, s.StatusRecord())
	return nil
}

func (c *StatusCache) UpdateSaga(ctx context.Context, s *domain.SagaRecord) error {
	if err := c.next.UpdateSaga(ctx, s); err != nil {
		c.invalidate(ctx, s.ID)
		return err
	}
	c.store(ctx, s.StatusRecord())
	return nil
}

// GetSagaStatus serves from Redis when possible and fills the cache on a
// miss.
func (c *StatusCache) GetSagaStatus(ctx context.Context, id string) (*domain.SagaStatusRecord, error) {
	rec, err := c.load(ctx, id)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, redis.Nil) {
		c.logger.WarnContext(ctx, "status cache read failed",
			slog.String("saga_id", id),
			slog.String("error", err.Error()),
		)
	}

	rec, err = c.next.GetSagaStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, *rec)
	return rec, nil
}

func (c *StatusCache) ListActiveSagas(ctx context.Context) ([]domain.SagaStatusRecord, error) {
	return c.next.ListActiveSagas(ctx)
}

func (c *StatusCache) GetStatistics(ctx context.Context) (*domain.CoordinatorStatistics, error) {
	return c.next.GetStatistics(ctx)
}

// CleanupOldSagas deletes from the wrapped repository. Cached entries of
// removed sagas expire with their TTL.
func (c *StatusCache) CleanupOldSagas(ctx context.Context, olderThan time.Time) (int64, error) {
	return c.next.CleanupOldSagas(ctx, olderThan)
}

func (c *StatusCache) load(ctx context.Context, id string) (*domain.SagaStatusRecord, error) {
	data, err := c.client.Get(ctx, key(id)).Bytes()
	if err != nil {
		return nil, err
	}

	var rec domain.SagaStatusRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal cached status: %w", err)
	}
	return &rec, nil
}

func (c *StatusCache) store(ctx context.Context, rec domain.SagaStatusRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		c.logger.WarnContext(ctx, "status cache marshal failed",
			slog.String("saga_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := c.client.Set(ctx, key(rec.ID), data, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "status cache write failed",
			slog.String("saga_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *StatusCache) invalidate(ctx context.Context, id string) {
	if err := c.client.Del(ctx, key(id)).Err(); err != nil {
		c.logger.WarnContext(ctx, "status cache invalidate failed",
			slog.String("saga_id", id),
			slog.String("error", err.Error()),
		)
	}
}
