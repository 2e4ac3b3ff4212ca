package workflow

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poglesbyg/tracseq2.0-sub001/internal/domain"
	"github.com/poglesbyg/tracseq2.0-sub001/internal/saga"
	apperrors "github.com/poglesbyg/tracseq2.0-sub001/pkg/errors"
	"github.com/poglesbyg/tracseq2.0-sub001/pkg/httpclient"
	"github.com/poglesbyg/tracseq2.0-sub001/pkg/validator"
)

// labServer fakes every collaborator service on one mux and records the
// calls it received.
type labServer struct {
	*httptest.Server

	mu    sync.Mutex
	calls []string
	// failures maps "METHOD path" to the status to answer with.
	failures map[string]int
}

func newLabServer(t *testing.T) *labServer {
	t.Helper()
	ls := &labServer{failures: make(map[string]int)}

	mux := http.NewServeMux()
	handle := func(pattern string, body any) {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			key := r.Method + " " + r.URL.Path
			ls.mu.Lock()
			ls.calls = append(ls.calls, key)
			status, fail := ls.failures[key]
			ls.mu.Unlock()

			w.Header().Set("Content-Type", "application/json")
			if fail {
				w.WriteHeader(status)
				_, _ = w.Write([]byte(`{"error":{"code":"REJECTED","message":"rejected by fake"}}`))
				return
			}
			if body == nil {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(body)
		})
	}

	handle("POST /api/v1/samples/reservations", map[string]string{"reservation_id": "res-1", "sample_id": "smp-1"})
	handle("DELETE /api/v1/samples/reservations/{id}", nil)
	handle("POST /api/v1/storage/allocations", map[string]string{"allocation_id": "alloc-1", "location": "FRZ-2/R3/B7"})
	handle("DELETE /api/v1/storage/allocations/{id}", nil)
	handle("POST /api/v1/notifications", nil)
	handle("POST /api/v1/samples/locks", map[string]string{"lock_id": "lock-1"})
	handle("DELETE /api/v1/samples/locks/{id}", nil)
	handle("POST /api/v1/reagents/reservations", map[string]string{"reservation_id": "rgt-1"})
	handle("DELETE /api/v1/reagents/reservations/{id}", nil)
	handle("POST /api/v1/runs", map[string]string{"run_id": "run-1"})
	handle("POST /api/v1/runs/{id}/cancel", nil)

	ls.Server = httptest.NewServer(mux)
	t.Cleanup(ls.Close)
	return ls
}

func (ls *labServer) fail(key string, status int) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.failures[key] = status
}

func (ls *labServer) received() []string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return append([]string(nil), ls.calls...)
}

func newTestBuilder(ls *labServer, retry saga.RetryPolicy) *Builder {
	client := httpclient.New(httpclient.Config{
		Timeout:         5 * time.Second,
		MaxConnsPerHost: 10,
	})
	endpoints := Endpoints{
		SampleServiceURL:       ls.URL + "/",
		StorageServiceURL:      ls.URL,
		NotificationServiceURL: ls.URL,
		SequencingServiceURL:   ls.URL,
	}
	return NewBuilder(client, endpoints, Options{Retry: retry, StepTimeout: time.Second},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func fastRetry(attempts int) saga.RetryPolicy {
	return saga.RetryPolicy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
}

func sampleInput() SampleRegistrationInput {
	return SampleRegistrationInput{
		SampleName:      "PBMC-0042",
		SampleType:      "blood",
		SubmitterID:     "user-7",
		SubmitterEmail:  "lab@example.org",
		VolumeUL:        250,
		TemperatureZone: "-80c",
		CorrelationID:   "corr-9",
	}
}

func libraryInput() LibraryPrepInput {
	return LibraryPrepInput{
		BatchName:   "B-17",
		SampleIDs:   []string{"smp-1", "smp-2"},
		ReagentKit:  "truseq-dna",
		Platform:    "novaseq",
		ReadLength:  150,
		RequestedBy: "user-7",
	}
}

func execute(t *testing.T, sg *saga.Saga) *saga.Result {
	t.Helper()
	res, err := sg.Execute(context.Background(), saga.ExecuteOptions{Timeout: 5 * time.Second})
	require.NoError(t, err)
	return res
}

// ============================================================================
// Sample registration
// ============================================================================

func TestSampleRegistration_Completes(t *testing.T) {
	ls := newLabServer(t)
	wf, err := newTestBuilder(ls, saga.NoRetry()).SampleRegistration(sampleInput())
	require.NoError(t, err)

	assert.Equal(t, domain.TransactionTypeSampleRegistration, wf.Request.TransactionType)
	assert.Equal(t, "Register sample PBMC-0042", wf.Request.Name)
	assert.Equal(t, "user-7", wf.Request.UserID)
	assert.Equal(t, "corr-9", wf.Request.CorrelationID)
	assert.NoError(t, validator.Validate(wf.Request))

	res := execute(t, wf.Saga)
	assert.Equal(t, saga.StatusCompleted, res.Status)
	assert.Equal(t, []string{
		"POST /api/v1/samples/reservations",
		"POST /api/v1/storage/allocations",
		"POST /api/v1/notifications",
	}, ls.received())

	snap := wf.Saga.Snapshot()
	require.Len(t, snap.Steps, 3)
	assert.Equal(t, domain.StepReserveSample, snap.Steps[0].Name)
	assert.Equal(t, domain.StepAllocateStorage, snap.Steps[1].Name)
	assert.Equal(t, domain.StepNotifySubmitter, snap.Steps[2].Name)
}

func TestSampleRegistration_NotificationFailureReleasesInReverse(t *testing.T) {
	ls := newLabServer(t)
	ls.fail("POST /api/v1/notifications", http.StatusBadGateway)

	wf, err := newTestBuilder(ls, saga.NoRetry()).SampleRegistration(sampleInput())
	require.NoError(t, err)

	res := execute(t, wf.Saga)
	assert.Equal(t, saga.StatusCompensated, res.Status)
	assert.Equal(t, domain.StepNotifySubmitter, res.FailedStep)
	assert.Equal(t, []string{domain.StepAllocateStorage, domain.StepReserveSample}, res.CompensatedSteps)
	assert.Equal(t, []string{
		"POST /api/v1/samples/reservations",
		"POST /api/v1/storage/allocations",
		"POST /api/v1/notifications",
		"DELETE /api/v1/storage/allocations/alloc-1",
		"DELETE /api/v1/samples/reservations/res-1",
	}, ls.received())
}

func TestSampleRegistration_ClientErrorIsNotRetried(t *testing.T) {
	ls := newLabServer(t)
	ls.fail("POST /api/v1/storage/allocations", http.StatusUnprocessableEntity)

	wf, err := newTestBuilder(ls, fastRetry(3)).SampleRegistration(sampleInput())
	require.NoError(t, err)

	res := execute(t, wf.Saga)
	assert.Equal(t, saga.StatusCompensated, res.Status)
	assert.ErrorIs(t, res.Err, apperrors.ErrUnprocessable)

	allocations := 0
	for _, c := range ls.received() {
		if c == "POST /api/v1/storage/allocations" {
			allocations++
		}
	}
	assert.Equal(t, 1, allocations)
}

func TestSampleRegistration_ServerErrorIsRetried(t *testing.T) {
	ls := newLabServer(t)
	ls.fail("POST /api/v1/notifications", http.StatusInternalServerError)

	wf, err := newTestBuilder(ls, fastRetry(3)).SampleRegistration(sampleInput())
	require.NoError(t, err)

	res := execute(t, wf.Saga)
	assert.Equal(t, saga.StatusCompensated, res.Status)

	notifications := 0
	for _, c := range ls.received() {
		if c == "POST /api/v1/notifications" {
			notifications++
		}
	}
	assert.Equal(t, 3, notifications)
}

func TestSampleRegistration_AlreadyReleasedCountsAsCompensated(t *testing.T) {
	ls := newLabServer(t)
	ls.fail("DELETE /api/v1/samples/reservations/res-1", http.StatusNotFound)
	ls.fail("POST /api/v1/storage/allocations", http.StatusConflict)

	wf, err := newTestBuilder(ls, saga.NoRetry()).SampleRegistration(sampleInput())
	require.NoError(t, err)

	res := execute(t, wf.Saga)
	assert.Equal(t, saga.StatusCompensated, res.Status)
	assert.Empty(t, res.FailedCompensations)
}

func TestSampleRegistration_CompensationFailure(t *testing.T) {
	ls := newLabServer(t)
	ls.fail("POST /api/v1/storage/allocations", http.StatusBadRequest)
	ls.fail("DELETE /api/v1/samples/reservations/res-1", http.StatusServiceUnavailable)

	wf, err := newTestBuilder(ls, saga.NoRetry()).SampleRegistration(sampleInput())
	require.NoError(t, err)

	res := execute(t, wf.Saga)
	assert.Equal(t, saga.StatusFailed, res.Status)
	require.Len(t, res.FailedCompensations, 1)
	assert.Equal(t, domain.StepReserveSample, res.FailedCompensations[0].Step)
	assert.ErrorIs(t, res.Err, saga.ErrCompensation)
}

func TestSampleRegistration_InvalidInput(t *testing.T) {
	ls := newLabServer(t)
	b := newTestBuilder(ls, saga.NoRetry())

	in := sampleInput()
	in.SubmitterEmail = "not-an-email"
	in.TemperatureZone = "warm"
	_, err := b.SampleRegistration(in)

	var verr *validator.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields(), "submitter_email")
	assert.Contains(t, verr.Fields(), "temperature_zone")
	assert.Empty(t, ls.received())
}

// ============================================================================
// Library prep
// ============================================================================

func TestLibraryPrep_Completes(t *testing.T) {
	ls := newLabServer(t)
	wf, err := newTestBuilder(ls, saga.NoRetry()).LibraryPrep(libraryInput())
	require.NoError(t, err)

	assert.Equal(t, domain.TransactionTypeLibraryPrep, wf.Request.TransactionType)
	assert.Equal(t, 2, wf.Request.ContextData["sample_count"])

	res := execute(t, wf.Saga)
	assert.Equal(t, saga.StatusCompleted, res.Status)
	assert.Equal(t, []string{
		"POST /api/v1/samples/locks",
		"POST /api/v1/reagents/reservations",
		"POST /api/v1/runs",
	}, ls.received())
}

func TestLibraryPrep_SchedulingFailureUnlocksSamples(t *testing.T) {
	ls := newLabServer(t)
	ls.fail("POST /api/v1/runs", http.StatusConflict)

	wf, err := newTestBuilder(ls, saga.NoRetry()).LibraryPrep(libraryInput())
	require.NoError(t, err)

	res := execute(t, wf.Saga)
	assert.Equal(t, saga.StatusCompensated, res.Status)
	assert.Equal(t, domain.StepScheduleSequencingRun, res.FailedStep)
	assert.Equal(t, []string{
		"POST /api/v1/samples/locks",
		"POST /api/v1/reagents/reservations",
		"POST /api/v1/runs",
		"DELETE /api/v1/reagents/reservations/rgt-1",
		"DELETE /api/v1/samples/locks/lock-1",
	}, ls.received())
}

func TestLibraryPrep_InvalidInput(t *testing.T) {
	b := newTestBuilder(newLabServer(t), saga.NoRetry())

	in := libraryInput()
	in.SampleIDs = nil
	_, err := b.LibraryPrep(in)
	require.Error(t, err)

	in = libraryInput()
	in.Platform = "NovaSeq 6000"
	_, err = b.LibraryPrep(in)
	require.Error(t, err)
}

// ============================================================================
// Circuit breaker
// ============================================================================

func TestCircuitOpenFallback(t *testing.T) {
	resp, err := CircuitOpenFallback(context.Background(), httpclient.ErrCircuitOpen)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
}

func TestBuilder_OpenCircuitFailsStepWithoutCallingService(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cb := httpclient.NewCircuitBreakerClient(
		httpclient.New(httpclient.Config{Timeout: time.Second, MaxConnsPerHost: 4}),
		httpclient.CircuitBreakerConfig{
			Name:         "workflow-test",
			MaxRequests:  1,
			Timeout:      time.Minute,
			FailureRatio: 0.5,
			MinRequests:  2,
		},
		logger,
	).WithFallback(CircuitOpenFallback)

	b := NewBuilder(cb, Endpoints{SampleServiceURL: srv.URL}, Options{Retry: fastRetry(4)}, logger)
	wf, err := b.SampleRegistration(sampleInput())
	require.NoError(t, err)

	res := execute(t, wf.Saga)
	assert.Equal(t, saga.StatusCompensated, res.Status)
	assert.ErrorIs(t, res.Err, apperrors.ErrServiceUnavail)
	assert.Equal(t, int32(2), hits.Load())
}
