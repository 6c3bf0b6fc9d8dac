package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/lumenandco/atelier-backend/pkg/logger"
)

const (
	requestIDHeader     = "X-Request-Id"
	correlationIDHeader = "X-Correlation-Id"
)

// RequestID assigns every request an id, echoes it back on the response, and
// threads it through the logging context. When the storefront supplies its own
// X-Correlation-Id the same checkout attempt can be traced across the start,
// confirm, and webhook hops; otherwise the request id doubles as the
// correlation id.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(requestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, reqID)

			corrID := r.Header.Get(correlationIDHeader)
			if corrID == "" {
				corrID = reqID
			}
			w.Header().Set(correlationIDHeader, corrID)

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
				ctx = logg.WithCorrelationID(ctx, corrID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
