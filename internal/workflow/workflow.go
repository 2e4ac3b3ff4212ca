// Package workflow builds the laboratory sagas run by the coordinator. Each
// step calls a collaborator service over HTTP and, where the call reserves
// something, registers a compensating call that releases it.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/poglesbyg/tracseq2.0-sub001/internal/domain"
	"github.com/poglesbyg/tracseq2.0-sub001/internal/saga"
	apperrors "github.com/poglesbyg/tracseq2.0-sub001/pkg/errors"
	"github.com/poglesbyg/tracseq2.0-sub001/pkg/httpclient"
)

// Collaborator service names, used in error messages and circuit breaker
// names.
const (
	SampleService       = "sample-service"
	StorageService      = "storage-service"
	NotificationService = "notification-service"
	SequencingService   = "sequencing-service"
)

// CircuitOpenFallback replaces the raw breaker error with a 503 so the step
// is retried under its policy instead of failing with an opaque error.
func CircuitOpenFallback(_ context.Context, _ error) (*http.Response, error) {
	return nil, apperrors.ServiceUnavailable("downstream service is temporarily unavailable, please retry after 30 seconds")
}

// Endpoints holds collaborator base URLs.
type Endpoints struct {
	SampleServiceURL       string
	StorageServiceURL      string
	NotificationServiceURL string
	SequencingServiceURL   string
}

// Options tune the sagas a Builder produces.
type Options struct {
	Retry saga.RetryPolicy
	// StepTimeout bounds each attempt of every step. Zero means unbounded.
	StepTimeout time.Duration
}

// Workflow is a built saga together with the request the coordinator
// records for it.
type Workflow struct {
	Saga    *saga.Saga
	Request *domain.TransactionRequest
}

// Builder constructs workflow sagas wired to collaborator services.
type Builder struct {
	doer      httpclient.Doer
	endpoints Endpoints
	opts      Options
	logger    *slog.Logger
}

// NewBuilder creates a Builder. doer is normally a
// *httpclient.CircuitBreakerClient per collaborator set.
func NewBuilder(doer httpclient.Doer, endpoints Endpoints, opts Options, logger *slog.Logger) *Builder {
	endpoints.SampleServiceURL = strings.TrimRight(endpoints.SampleServiceURL, "/")
	endpoints.StorageServiceURL = strings.TrimRight(endpoints.StorageServiceURL, "/")
	endpoints.NotificationServiceURL = strings.TrimRight(endpoints.NotificationServiceURL, "/")
	endpoints.SequencingServiceURL = strings.TrimRight(endpoints.SequencingServiceURL, "/")
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = saga.DefaultRetryPolicy()
	}
	return &Builder{
		doer:      doer,
		endpoints: endpoints,
		opts:      opts,
		logger:    logger,
	}
}

func (b *Builder) newSaga(steps []*saga.Step) (*saga.Saga, error) {
	for _, st := range steps {
		st.Timeout = b.opts.StepTimeout
	}
	return saga.New(uuid.NewString(), steps, saga.WithRetryPolicy(b.opts.Retry))
}

// call performs one collaborator request. Client errors other than 408 and
// 429 are marked permanent since repeating the same request cannot succeed.
func (b *Builder) call(ctx context.Context, method, url, service string, in, out any) error {
	err := httpclient.DoJSON(ctx, b.doer, method, url, service, in, out)
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && httpclient.IsClientError(appErr.Status) &&
		appErr.Status != http.StatusRequestTimeout && appErr.Status != http.StatusTooManyRequests {
		return saga.Permanent(err)
	}
	return err
}

// release performs a compensating call. A 404 means the resource is already
// gone, which is what the compensation wants.
func (b *Builder) release(ctx context.Context, method, url, service string, in any) error {
	err := b.call(ctx, method, url, service, in, nil)
	if errors.Is(err, apperrors.ErrNotFound) {
		b.logger.InfoContext(ctx, "compensation target already released",
			slog.String("service", service),
			slog.String("url", url),
		)
		return nil
	}
	return err
}
