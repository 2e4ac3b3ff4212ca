package middleware

import (
	"log/slog"
	"net/http"

	"github.com/poglesbyg/tracseq2.0-sub001/pkg/logger"
)

const userHeader = "X-User-ID"

// RequestLogger stores a request-scoped logger carrying correlation_id,
// user_id, trace_id and span_id in the context for logger.FromContext.
// Mount it after RequestLogging and Tracing.
//
// The operator API sits behind the lab gateway, which authenticates the
// caller and forwards its id in X-User-ID.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if userID := r.Header.Get(userHeader); userID != "" {
				ctx = logger.WithUserID(ctx, userID)
			}
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
