package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/flowforge/orchestrator/internal/logger"
	"github.com/flowforge/orchestrator/internal/metrics"
)

// RequestLogger logs each request's method, path, status and duration, and
// records it against the HTTP request metric.
func RequestLogger() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", duration).
				Msg("request handled")
			metrics.RecordHTTPRequest(r.Method, r.URL.Path, http.StatusText(ww.Status()), duration.Seconds())
		})
	}
}
