package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/poglesbyg/tracseq2.0-sub001/pkg/errors"
)

func errorResponse(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func envelope(code, message string) string {
	return `{"error":{"code":"` + code + `","message":"` + message + `"}}`
}

func TestParseResponseError_Structured(t *testing.T) {
	tests := []struct {
		status int
		target error
		code   string
	}{
		{http.StatusNotFound, apperrors.ErrNotFound, "NOT_FOUND"},
		{http.StatusBadRequest, apperrors.ErrInvalidInput, "INVALID_INPUT"},
		{http.StatusConflict, apperrors.ErrConflict, "SAMPLE_LOCKED"},
		{http.StatusUnauthorized, apperrors.ErrUnauthorized, "UNAUTHORIZED"},
		{http.StatusForbidden, apperrors.ErrForbidden, "FORBIDDEN"},
		{http.StatusGone, apperrors.ErrGone, "GONE"},
		{http.StatusUnprocessableEntity, apperrors.ErrUnprocessable, "UNPROCESSABLE"},
		{http.StatusServiceUnavailable, apperrors.ErrServiceUnavail, "SAMPLE_LOCKED"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := ParseResponseError(errorResponse(tt.status, envelope("SAMPLE_LOCKED", "sample busy")), "sample-service")

			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.status, appErr.Status)
			assert.Equal(t, tt.code, appErr.Code)
			assert.True(t, errors.Is(err, tt.target))
		})
	}
}

func TestParseResponseError_ServerError(t *testing.T) {
	err := ParseResponseError(errorResponse(http.StatusBadGateway, envelope("UPSTREAM", "freezer offline")), "storage-service")

	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "storage-service", serverErr.Service)
	assert.Contains(t, err.Error(), "freezer offline")
}

func TestParseResponseError_Unstructured(t *testing.T) {
	for _, body := range []string{"plain text", "", "<html>bad gateway</html>", `{"error":null}`} {
		err := ParseResponseError(errorResponse(http.StatusBadRequest, body), "sample-service")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sample-service returned status 400")
	}
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(400))
	assert.True(t, IsClientError(499))
	assert.False(t, IsClientError(500))
	assert.False(t, IsClientError(200))
}

func TestDoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"reservation_id":"r-` + in["sample_id"] + `"}`))
	}))
	defer srv.Close()

	var out struct {
		ReservationID string `json:"reservation_id"`
	}
	err := DoJSON(context.Background(), New(fastConfig(0)), http.MethodPost, srv.URL, "sample-service",
		map[string]string{"sample_id": "s1"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "r-s1", out.ReservationID)
}

func TestDoJSON_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(envelope("ALREADY_RESERVED", "sample already reserved")))
	}))
	defer srv.Close()

	err := DoJSON(context.Background(), New(fastConfig(0)), http.MethodDelete, srv.URL, "sample-service", nil, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, apperrors.HTTPStatus(err))
}
