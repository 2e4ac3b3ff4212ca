package http

import (
	"context"
	"net/http"

	"github.com/poglesbyg/tracseq2.0-sub001/internal/domain"
	"github.com/poglesbyg/tracseq2.0-sub001/internal/workflow"
	"github.com/poglesbyg/tracseq2.0-sub001/pkg/httputil"
	"github.com/poglesbyg/tracseq2.0-sub001/pkg/logger"
	"github.com/poglesbyg/tracseq2.0-sub001/pkg/validator"
)

// ExecutionResponse is the body returned after a workflow ran.
type ExecutionResponse struct {
	*domain.ExecutionResult
	Outcome string `json:"outcome"`
}

// RegisterSample handles POST /api/v1/workflows/sample-registration.
// The saga runs to completion before the response is written.
func (h *Handler) RegisterSample(w http.ResponseWriter, r *http.Request) {
	var in workflow.SampleRegistrationInput
	if err := validator.DecodeAndValidate(r, &in); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	wf, err := h.workflows.SampleRegistration(in)
	if err != nil {
		httputil.WriteValidationError(w, err)
		return
	}
	h.run(w, r, wf)
}

// PrepareLibrary handles POST /api/v1/workflows/library-prep.
func (h *Handler) PrepareLibrary(w http.ResponseWriter, r *http.Request) {
	var in workflow.LibraryPrepInput
	if err := validator.DecodeAndValidate(r, &in); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	wf, err := h.workflows.LibraryPrep(in)
	if err != nil {
		httputil.WriteValidationError(w, err)
		return
	}
	h.run(w, r, wf)
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request, wf *workflow.Workflow) {
	// A client disconnect must not abort a saga midway; the coordinator's
	// deadline still bounds it.
	ctx := context.WithoutCancel(r.Context())
	if wf.Request.CorrelationID == "" {
		wf.Request.CorrelationID = logger.CorrelationIDFromContext(ctx)
	}

	res, err := h.coordinator.ExecuteTransaction(ctx, wf.Request, wf.Saga)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, ExecutionResponse{ExecutionResult: res, Outcome: res.Outcome()})
}
