package http

import (
	"context"
	"log/slog"

	"github.com/poglesbyg/tracseq2.0-sub001/internal/domain"
	"github.com/poglesbyg/tracseq2.0-sub001/internal/saga"
	"github.com/poglesbyg/tracseq2.0-sub001/internal/service"
	"github.com/poglesbyg/tracseq2.0-sub001/internal/workflow"
)

// Coordinator is the part of *service.TransactionCoordinator the API uses.
type Coordinator interface {
	ExecuteTransaction(ctx context.Context, req *domain.TransactionRequest, sg *saga.Saga) (*domain.ExecutionResult, error)
	GetTransactionStatus(ctx context.Context, id string) (*domain.SagaStatusRecord, error)
	ListActiveTransactions(ctx context.Context) ([]domain.SagaStatusRecord, error)
	CancelTransaction(ctx context.Context, id string) (*domain.SagaStatusRecord, error)
	GetStatistics(ctx context.Context) (*domain.CoordinatorStatistics, error)
	CleanupOldSagas(ctx context.Context, hours int) (int64, error)
}

// WorkflowBuilder builds the sagas behind the workflow endpoints.
type WorkflowBuilder interface {
	SampleRegistration(in workflow.SampleRegistrationInput) (*workflow.Workflow, error)
	LibraryPrep(in workflow.LibraryPrepInput) (*workflow.Workflow, error)
}

var (
	_ Coordinator     = (*service.TransactionCoordinator)(nil)
	_ WorkflowBuilder = (*workflow.Builder)(nil)
)

// Handler serves the operator API.
type Handler struct {
	coordinator Coordinator
	workflows   WorkflowBuilder
	logger      *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(coordinator Coordinator, workflows WorkflowBuilder, logger *slog.Logger) *Handler {
	return &Handler{
		coordinator: coordinator,
		workflows:   workflows,
		logger:      logger,
	}
}
