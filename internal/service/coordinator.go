package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/poglesbyg/tracseq2.0-sub001/internal/domain"
	"github.com/poglesbyg/tracseq2.0-sub001/internal/repository"
	"github.com/poglesbyg/tracseq2.0-sub001/internal/saga"
	apperrors "github.com/poglesbyg/tracseq2.0-sub001/pkg/errors"
	"github.com/poglesbyg/tracseq2.0-sub001/pkg/logger"
	"github.com/poglesbyg/tracseq2.0-sub001/pkg/validator"
)

const tracerName = "github.com/poglesbyg/tracseq2.0-sub001/internal/service"

// EventPublisher emits transaction lifecycle events. *event.Producer
// satisfies it.
type EventPublisher interface {
	PublishTransactionStarted(ctx context.Context, rec *domain.SagaRecord) error
	PublishTransactionCompleted(ctx context.Context, res *domain.ExecutionResult) error
	PublishTransactionFailed(ctx context.Context, res *domain.ExecutionResult) error
	PublishTransactionCancelled(ctx context.Context, rec *domain.SagaStatusRecord) error
}

// CoordinatorConfig bounds the coordinator.
type CoordinatorConfig struct {
	MaxConcurrentSagas int
	// DefaultTimeout applies when a request carries no timeout_ms.
	DefaultTimeout time.Duration
}

// DefaultCoordinatorConfig returns 100 concurrent sagas with a 5 minute
// timeout.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		MaxConcurrentSagas: 100,
		DefaultTimeout:     5 * time.Minute,
	}
}

type activeSaga struct {
	saga *saga.Saga
	req  domain.TransactionRequest
}

// TransactionCoordinator admits, executes and tracks sagas. Each coordinator
// owns its registry of active sagas, so independent coordinators can coexist.
type TransactionCoordinator struct {
	cfg    CoordinatorConfig
	repo   repository.SagaRepository
	events EventPublisher
	logger *slog.Logger
	tracer trace.Tracer

	active *xsync.MapOf[string, *activeSaga]

	// mu orders inflight.Add against Shutdown's Wait.
	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup
}

// NewTransactionCoordinator creates a coordinator. A nil repo disables
// persistence and a nil events publisher disables lifecycle events.
func NewTransactionCoordinator(
	cfg CoordinatorConfig,
	repo repository.SagaRepository,
	events EventPublisher,
	logger *slog.Logger,
) *TransactionCoordinator {
	if repo == nil {
		repo = repository.NoopRepository{}
	}
	if events == nil {
		events = noopPublisher{}
	}
	if cfg.MaxConcurrentSagas <= 0 {
		cfg.MaxConcurrentSagas = DefaultCoordinatorConfig().MaxConcurrentSagas
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultCoordinatorConfig().DefaultTimeout
	}
	return &TransactionCoordinator{
		cfg:    cfg,
		repo:   repo,
		events: events,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		active: xsync.NewMapOf[string, *activeSaga](),
	}
}

// ActiveCount returns the number of registered sagas.
func (c *TransactionCoordinator) ActiveCount() int {
	return c.active.Size()
}

// ExecuteTransaction admits sg, runs it to a terminal status (or until it is
// cancelled or paused) and returns the outcome. Step and compensation
// failures are reported in the result; the error return covers rejected
// submissions only. Persistence and event failures are logged and never
// change the outcome.
func (c *TransactionCoordinator) ExecuteTransaction(ctx context.Context, req *domain.TransactionRequest, sg *saga.Saga) (*domain.ExecutionResult, error) {
	if req == nil {
		return nil, apperrors.InvalidInput("transaction request is required")
	}
	if sg == nil {
		return nil, apperrors.InvalidInput("saga is required")
	}
	if err := validator.Validate(req); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}
	if st := sg.Status(); st != saga.StatusCreated {
		return nil, apperrors.Conflict("INVALID_STATE_TRANSITION",
			fmt.Sprintf("saga %s has already been submitted (status %s)", sg.ID(), st), saga.ErrInvalidStateTransition)
	}

	// Admission is check-then-insert; concurrent submissions may briefly
	// exceed the limit.
	if c.ActiveCount() >= c.cfg.MaxConcurrentSagas {
		admissionRejected.Inc()
		return nil, apperrors.CapacityExceeded(c.cfg.MaxConcurrentSagas)
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil, apperrors.ServiceUnavailable("transaction coordinator is shutting down")
	}
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()

	entry := &activeSaga{saga: sg, req: *req}
	if _, loaded := c.active.LoadOrStore(sg.ID(), entry); loaded {
		return nil, apperrors.AlreadyExists("saga", "id", sg.ID())
	}
	transactionsActive.Inc()
	transactionsStarted.WithLabelValues(req.TransactionType).Inc()

	ctx = logger.WithSagaID(ctx, sg.ID())
	if req.CorrelationID != "" {
		ctx = logger.WithCorrelationID(ctx, req.CorrelationID)
	}
	ctx, span := c.tracer.Start(ctx, "saga.execute", trace.WithAttributes(
		attribute.String("saga.id", sg.ID()),
		attribute.String("saga.transaction_id", sg.TransactionID()),
		attribute.String("saga.transaction_type", req.TransactionType),
		attribute.Int("saga.total_steps", sg.State().TotalSteps),
	))
	defer span.End()
	log := logger.WithContext(ctx, c.logger)

	initial := c.record(entry)
	if err := c.repo.SaveSaga(ctx, initial); err != nil {
		log.WarnContext(ctx, "failed to persist initial saga snapshot", slog.String("error", err.Error()))
	}
	if err := c.events.PublishTransactionStarted(ctx, initial); err != nil {
		log.WarnContext(ctx, "failed to publish transaction.started", slog.String("error", err.Error()))
	}
	log.InfoContext(ctx, "transaction started",
		slog.String("transaction_id", sg.TransactionID()),
		slog.String("transaction_type", req.TransactionType),
		slog.Int("total_steps", initial.TotalSteps),
	)

	sr := func() *saga.Result {
		defer c.evict(sg.ID())
		sr := c.run(ctx, log, entry)
		c.persist(ctx, log, c.record(entry), "post-execution")
		return sr
	}()

	res := toExecutionResult(sr)
	final := c.record(entry)
	applyResult(final, res)
	c.persist(ctx, log, final, "final")

	executionDuration.WithLabelValues(req.TransactionType, res.Status).Observe(sr.Duration.Seconds())
	transactionsFinished.WithLabelValues(req.TransactionType, res.Status).Inc()
	span.SetAttributes(
		attribute.String("saga.status", res.Status),
		attribute.Int("saga.completed_steps", res.CompletedSteps),
		attribute.Bool("saga.compensation_executed", res.CompensationExecuted),
	)

	switch res.Status {
	case domain.StatusFailed, domain.StatusTimedOut:
		span.SetStatus(codes.Error, res.Error)
		if err := c.events.PublishTransactionFailed(ctx, res); err != nil {
			log.WarnContext(ctx, "failed to publish transaction.failed", slog.String("error", err.Error()))
		}
		log.ErrorContext(ctx, "transaction failed",
			slog.String("status", res.Status),
			slog.String("failed_step", res.FailedStep),
			slog.String("error_category", res.ErrorCategory),
			slog.String("error", res.Error),
			slog.Int("failed_compensations", len(res.FailedCompensations)),
		)
	default:
		if err := c.events.PublishTransactionCompleted(ctx, res); err != nil {
			log.WarnContext(ctx, "failed to publish transaction.completed", slog.String("error", err.Error()))
		}
		log.InfoContext(ctx, "transaction finished",
			slog.String("status", res.Status),
			slog.Int("completed_steps", res.CompletedSteps),
			slog.Bool("compensation_executed", res.CompensationExecuted),
			slog.Int64("execution_time_ms", res.ExecutionTimeMs),
		)
	}

	return res, nil
}

// run executes the saga, checkpointing after every completed step.
func (c *TransactionCoordinator) run(ctx context.Context, log *slog.Logger, entry *activeSaga) *saga.Result {
	sg := entry.saga
	hooks := saga.Hooks{
		OnStepStarted: func(ctx context.Context, step string) {
			log.DebugContext(ctx, "step started", slog.String("step", step))
		},
		OnStepCompleted: func(ctx context.Context, step string, took time.Duration) {
			log.DebugContext(ctx, "step completed", slog.String("step", step), slog.Duration("duration", took))
			c.persist(ctx, log, c.record(entry), "checkpoint")
		},
		OnStepRetry: func(ctx context.Context, step string, attempt int, err error) {
			log.WarnContext(ctx, "step failed, retrying",
				slog.String("step", step),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		},
		OnStepFailed: func(ctx context.Context, step string, err error) {
			log.WarnContext(ctx, "step failed", slog.String("step", step), slog.String("error", err.Error()))
		},
		OnCompensated: func(ctx context.Context, step string) {
			compensations.WithLabelValues("success").Inc()
			log.InfoContext(ctx, "step compensated", slog.String("step", step))
		},
		OnCompensationFailed: func(ctx context.Context, step string, err error) {
			compensations.WithLabelValues("failure").Inc()
			log.ErrorContext(ctx, "compensation failed", slog.String("step", step), slog.String("error", err.Error()))
		},
	}

	sr, err := sg.Execute(ctx, saga.ExecuteOptions{
		Timeout: entry.req.Timeout(c.cfg.DefaultTimeout),
		Hooks:   hooks,
		Logger:  log,
	})
	if err != nil {
		// Cancelled between registration and the first step.
		log.InfoContext(ctx, "saga not executed", slog.String("reason", err.Error()))
		snap := sg.Snapshot()
		return &saga.Result{
			SagaID:         snap.ID,
			TransactionID:  snap.TransactionID,
			Status:         snap.State.Status,
			CompletedSteps: snap.State.CompletedSteps,
			TotalSteps:     snap.State.TotalSteps,
		}
	}
	return sr
}

func (c *TransactionCoordinator) evict(id string) {
	if _, ok := c.active.LoadAndDelete(id); ok {
		transactionsActive.Dec()
	}
}

func (c *TransactionCoordinator) persist(ctx context.Context, log *slog.Logger, rec *domain.SagaRecord, phase string) {
	if err := c.repo.UpdateSaga(ctx, rec); err != nil {
		log.WarnContext(ctx, "failed to persist saga snapshot",
			slog.String("phase", phase),
			slog.String("status", rec.Status),
			slog.String("error", err.Error()),
		)
	}
}

func (c *TransactionCoordinator) record(entry *activeSaga) *domain.SagaRecord {
	return buildRecord(&entry.req, entry.saga.Snapshot())
}

// GetTransactionStatus returns the live status of an active saga, falling
// back to the persisted projection once it has been evicted.
func (c *TransactionCoordinator) GetTransactionStatus(ctx context.Context, id string) (*domain.SagaStatusRecord, error) {
	if entry, ok := c.active.Load(id); ok {
		status := c.record(entry).StatusRecord()
		return &status, nil
	}

	rec, err := c.repo.GetSagaStatus(ctx, id)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			c.logger.WarnContext(ctx, "failed to load saga status",
				slog.String("saga_id", id),
				slog.String("error", err.Error()),
			)
		}
		return nil, apperrors.NotFound("transaction", id)
	}
	return rec, nil
}

// ListActiveTransactions merges in-memory sagas with persisted active
// records, preferring the in-memory copy, most recently updated first.
func (c *TransactionCoordinator) ListActiveTransactions(ctx context.Context) ([]domain.SagaStatusRecord, error) {
	byID := make(map[string]domain.SagaStatusRecord)
	c.active.Range(func(id string, entry *activeSaga) bool {
		byID[id] = c.record(entry).StatusRecord()
		return true
	})

	persisted, err := c.repo.ListActiveSagas(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to list persisted active sagas", slog.String("error", err.Error()))
	}
	for _, rec := range persisted {
		if _, ok := byID[rec.ID]; !ok {
			byID[rec.ID] = rec
		}
	}

	records := make([]domain.SagaStatusRecord, 0, len(byID))
	for _, rec := range byID {
		records = append(records, rec)
	}
	slices.SortFunc(records, func(a, b domain.SagaStatusRecord) int {
		if n := b.UpdatedAt.Compare(a.UpdatedAt); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return records, nil
}

// CancelTransaction cancels an active saga. Execution stops at the next step
// boundary and completed steps are left in place.
func (c *TransactionCoordinator) CancelTransaction(ctx context.Context, id string) (*domain.SagaStatusRecord, error) {
	entry, ok := c.active.Load(id)
	if !ok {
		return nil, apperrors.NotFound("transaction", id)
	}

	if err := entry.saga.Cancel(); err != nil {
		if errors.Is(err, saga.ErrInvalidStateTransition) {
			return nil, apperrors.Conflict("INVALID_STATE_TRANSITION", err.Error(), err)
		}
		return nil, apperrors.Internal(err)
	}

	ctx = logger.WithSagaID(ctx, id)
	log := logger.WithContext(ctx, c.logger)

	rec := c.record(entry)
	c.persist(ctx, log, rec, "cancel")
	status := rec.StatusRecord()
	if err := c.events.PublishTransactionCancelled(ctx, &status); err != nil {
		log.WarnContext(ctx, "failed to publish transaction.cancelled", slog.String("error", err.Error()))
	}

	log.InfoContext(ctx, "transaction cancelled", slog.Int("completed_steps", status.CompletedSteps))
	return &status, nil
}

// GetStatistics returns persisted aggregates. Zero values are returned when
// persistence is disabled or unavailable.
func (c *TransactionCoordinator) GetStatistics(ctx context.Context) (*domain.CoordinatorStatistics, error) {
	stats, err := c.repo.GetStatistics(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to load statistics", slog.String("error", err.Error()))
		return &domain.CoordinatorStatistics{}, nil
	}
	return stats, nil
}

// CleanupOldSagas removes terminal sagas not updated in the last hours hours.
func (c *TransactionCoordinator) CleanupOldSagas(ctx context.Context, hours int) (int64, error) {
	if hours <= 0 {
		return 0, apperrors.InvalidInput("older_than_hours must be positive")
	}

	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	n, err := c.repo.CleanupOldSagas(ctx, cutoff)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to clean up old sagas",
			slog.Int("older_than_hours", hours),
			slog.String("error", err.Error()),
		)
		return 0, nil
	}

	if n > 0 {
		c.logger.InfoContext(ctx, "cleaned up old sagas",
			slog.Int64("deleted", n),
			slog.Int("older_than_hours", hours),
		)
	}
	return n, nil
}

// Shutdown stops admitting transactions and waits for in-flight executions
// until ctx is done.
func (c *TransactionCoordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%d transaction(s) still running: %w", c.ActiveCount(), ctx.Err())
	}
}

type noopPublisher struct{}

func (noopPublisher) PublishTransactionStarted(context.Context, *domain.SagaRecord) error {
	return nil
}

func (noopPublisher) PublishTransactionCompleted(context.Context, *domain.ExecutionResult) error {
	return nil
}

func (noopPublisher) PublishTransactionFailed(context.Context, *domain.ExecutionResult) error {
	return nil
}

func (noopPublisher) PublishTransactionCancelled(context.Context, *domain.SagaStatusRecord) error {
	return nil
}
