package httpapi

import (
	"expvar"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"servicedesk/internal/logging"
)

var (
	requestsTotal  = expvar.NewInt("requests_total")
	requestsErrors = expvar.NewInt("requests_errors_total")
	requestsByCode = expvar.NewMap("requests_by_status")
)

// LoggingMiddleware writes one line per request and keeps the expvar
// counters served on /metrics. The wrapped writer still exposes Flusher and
// Hijacker for the realtime routes.
func LoggingMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			writer := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(writer, r)
			duration := time.Since(start)

			status := writer.Status()
			if status == 0 {
				status = http.StatusOK
			}
			requestsTotal.Add(1)
			requestsByCode.Add(http.StatusText(status), 1)
			if status >= http.StatusBadRequest {
				requestsErrors.Add(1)
			}
			logger.Infof("http", "request method=%s path=%s status=%d duration_ms=%d request_id=%s",
				r.Method, r.URL.Path, status, duration.Milliseconds(), middleware.GetReqID(r.Context()))
		})
	}
}
