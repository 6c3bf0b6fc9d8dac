package middleware

import (
	"net/http"
	"time"

	"github.com/lumenandco/atelier-backend/pkg/logger"
)

// responseMeta captures what the handler wrote so the completion log line can
// report it.
type responseMeta struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (m *responseMeta) WriteHeader(status int) {
	m.status = status
	m.ResponseWriter.WriteHeader(status)
}

func (m *responseMeta) Write(p []byte) (int, error) {
	if m.status == 0 {
		m.status = http.StatusOK
	}
	n, err := m.ResponseWriter.Write(p)
	m.bytes += n
	return n, err
}

// Logging emits one entry when a request arrives and one when it completes,
// carrying method, path, caller ip, status, and latency.
func Logging(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if logg == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := logg.WithFields(r.Context(), map[string]any{
				"method":    r.Method,
				"path":      r.URL.Path,
				"caller_ip": ClientIP(r),
			})
			logg.Info(ctx, "request.start")

			meta := &responseMeta{ResponseWriter: w}
			start := time.Now()

			next.ServeHTTP(meta, r.WithContext(ctx))

			if meta.status == 0 {
				meta.status = http.StatusOK
			}
			ctx = logg.WithFields(ctx, map[string]any{
				"status":      meta.status,
				"bytes":       meta.bytes,
				"duration_ms": time.Since(start).Milliseconds(),
			})
			logg.Info(ctx, "request.complete")
		})
	}
}
