package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/poglesbyg/tracseq2.0-sub001/internal/domain"
	"github.com/poglesbyg/tracseq2.0-sub001/pkg/httputil"
	"github.com/poglesbyg/tracseq2.0-sub001/pkg/validator"
)

// CleanupRequest is the body of POST /api/v1/transactions/cleanup.
type CleanupRequest struct {
	OlderThanHours int `json:"older_than_hours" validate:"required,gt=0,lte=87600"`
}

// CleanupResponse reports how many sagas were removed.
type CleanupResponse struct {
	Deleted        int64 `json:"deleted"`
	OlderThanHours int   `json:"older_than_hours"`
}

// ListTransactionsResponse wraps the active transaction list.
type ListTransactionsResponse struct {
	Transactions []domain.SagaStatusRecord `json:"transactions"`
	Count        int                       `json:"count"`
}

// GetTransaction handles GET /api/v1/transactions/{id}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := httputil.ParseUUID(w, id); !ok {
		return
	}

	status, err := h.coordinator.GetTransactionStatus(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, status)
}

// ListTransactions handles GET /api/v1/transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	records, err := h.coordinator.ListActiveTransactions(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if records == nil {
		records = []domain.SagaStatusRecord{}
	}
	httputil.WriteData(w, http.StatusOK, ListTransactionsResponse{Transactions: records, Count: len(records)})
}

// CancelTransaction handles POST /api/v1/transactions/{id}/cancel.
func (h *Handler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := httputil.ParseUUID(w, id); !ok {
		return
	}

	status, err := h.coordinator.CancelTransaction(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, status)
}

// GetStatistics handles GET /api/v1/transactions/statistics.
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.coordinator.GetStatistics(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, stats)
}

// CleanupTransactions handles POST /api/v1/transactions/cleanup.
func (h *Handler) CleanupTransactions(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	deleted, err := h.coordinator.CleanupOldSagas(r.Context(), req.OlderThanHours)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, CleanupResponse{Deleted: deleted, OlderThanHours: req.OlderThanHours})
}
