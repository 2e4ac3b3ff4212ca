package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poglesbyg/tracseq2.0-sub001/internal/domain"
	pkgkafka "github.com/poglesbyg/tracseq2.0-sub001/pkg/kafka"
	"github.com/poglesbyg/tracseq2.0-sub001/pkg/logger"
)

// Transaction lifecycle event types.
const (
	EventTransactionStarted   = "transaction.started"
	EventTransactionCompleted = "transaction.completed"
	EventTransactionFailed    = "transaction.failed"
	EventTransactionCancelled = "transaction.cancelled"
)

// AggregateTypeSaga is the aggregate type of every coordinator event.
const AggregateTypeSaga = "saga_transaction"

// SourceSagaCoordinator identifies events originating from the coordinator.
const SourceSagaCoordinator = "saga-coordinator"

// TransactionStartedData is the payload for a transaction.started event.
type TransactionStartedData struct {
	TransactionID   string    `json:"transaction_id"`
	SagaID          string    `json:"saga_id"`
	Name            string    `json:"name"`
	TransactionType string    `json:"transaction_type"`
	UserID          string    `json:"user_id,omitempty"`
	TotalSteps      int       `json:"total_steps"`
	Timestamp       time.Time `json:"timestamp"`
}

// TransactionCompletedData is the payload for a transaction.completed event.
type TransactionCompletedData struct {
	TransactionID        string    `json:"transaction_id"`
	SagaID               string    `json:"saga_id"`
	Status               string    `json:"status"`
	CompletedSteps       int       `json:"completed_steps"`
	ExecutionTimeMs      int64     `json:"execution_time_ms"`
	CompensationExecuted bool      `json:"compensation_executed"`
	Timestamp            time.Time `json:"timestamp"`
}

// TransactionFailedData is the payload for a transaction.failed event.
type TransactionFailedData struct {
	TransactionID       string                             `json:"transaction_id"`
	SagaID              string                             `json:"saga_id"`
	Status              string                             `json:"status"`
	FailedStep          string                             `json:"failed_step,omitempty"`
	Error               string                             `json:"error"`
	ErrorCategory       string                             `json:"error_category"`
	FailedCompensations []domain.CompensationFailureRecord `json:"failed_compensations,omitempty"`
	ExecutionTimeMs     int64                              `json:"execution_time_ms"`
	Timestamp           time.Time                          `json:"timestamp"`
}

// TransactionCancelledData is the payload for a transaction.cancelled event.
type TransactionCancelledData struct {
	TransactionID  string    `json:"transaction_id"`
	SagaID         string    `json:"saga_id"`
	CompletedSteps int       `json:"completed_steps"`
	Timestamp      time.Time `json:"timestamp"`
}

// Producer publishes transaction lifecycle events.
type Producer struct {
	bus    Bus
	logger *slog.Logger
}

// NewProducer creates a new event producer on top of bus.
func NewProducer(bus Bus, logger *slog.Logger) *Producer {
	return &Producer{
		bus:    bus,
		logger: logger,
	}
}

// PublishEvent wraps data in an envelope keyed by the saga id and publishes
// it to the topic derived from eventType ("transaction.started" goes to
// "tracseq.transaction.started").
func (p *Producer) PublishEvent(ctx context.Context, eventType, sagaID, transactionID string, data any) error {
	event, err := pkgkafka.NewEvent(eventType, sagaID, AggregateTypeSaga, SourceSagaCoordinator, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", eventType, err)
	}
	event.WithMetadata("transaction_id", transactionID)
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}

	topic := pkgkafka.TopicPrefix + "." + eventType
	if err := p.bus.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}

	p.logger.DebugContext(ctx, "published "+eventType+" event",
		slog.String("saga_id", sagaID),
		slog.String("transaction_id", transactionID),
	)
	return nil
}

// PublishTransactionStarted publishes a transaction.started event.
func (p *Producer) PublishTransactionStarted(ctx context.Context, rec *domain.SagaRecord) error {
	return p.PublishEvent(ctx, EventTransactionStarted, rec.ID, rec.TransactionID, TransactionStartedData{
		TransactionID:   rec.TransactionID,
		SagaID:          rec.ID,
		Name:            rec.Name,
		TransactionType: rec.TransactionType,
		UserID:          rec.UserID,
		TotalSteps:      rec.TotalSteps,
		Timestamp:       time.Now().UTC(),
	})
}

// PublishTransactionCompleted publishes a transaction.completed event.
func (p *Producer) PublishTransactionCompleted(ctx context.Context, res *domain.ExecutionResult) error {
	return p.PublishEvent(ctx, EventTransactionCompleted, res.SagaID, res.TransactionID, TransactionCompletedData{
		TransactionID:        res.TransactionID,
		SagaID:               res.SagaID,
		Status:               res.Status,
		CompletedSteps:       res.CompletedSteps,
		ExecutionTimeMs:      res.ExecutionTimeMs,
		CompensationExecuted: res.CompensationExecuted,
		Timestamp:            time.Now().UTC(),
	})
}

// PublishTransactionFailed publishes a transaction.failed event.
func (p *Producer) PublishTransactionFailed(ctx context.Context, res *domain.ExecutionResult) error {
	return p.PublishEvent(ctx, EventTransactionFailed, res.SagaID, res.TransactionID, TransactionFailedData{
		TransactionID:       res.TransactionID,
		SagaID:              res.SagaID,
		Status:              res.Status,
		FailedStep:          res.FailedStep,
		Error:               res.Error,
		ErrorCategory:       res.ErrorCategory,
		FailedCompensations: res.FailedCompensations,
		ExecutionTimeMs:     res.ExecutionTimeMs,
		Timestamp:           time.Now().UTC(),
	})
}

// PublishTransactionCancelled publishes a transaction.cancelled event.
func (p *Producer) PublishTransactionCancelled(ctx context.Context, rec *domain.SagaStatusRecord) error {
	return p.PublishEvent(ctx, EventTransactionCancelled, rec.ID, rec.TransactionID, TransactionCancelledData{
		TransactionID:  rec.TransactionID,
		SagaID:         rec.ID,
		CompletedSteps: rec.CompletedSteps,
		Timestamp:      time.Now().UTC(),
	})
}

// Close closes the underlying bus.
func (p *Producer) Close() error {
	return p.bus.Close()
}
