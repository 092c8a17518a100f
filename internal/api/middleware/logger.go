package middleware

import (
	"net/http"
	"time"

	"cdr.dev/slog"
)

// statusWriter records the response status for logging
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Logger logs one line per request with method, path, status and latency.
func Logger(log slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			log.Debug(r.Context(), "request",
				slog.F("method", r.Method),
				slog.F("path", r.URL.Path),
				slog.F("status", sw.status),
				slog.F("elapsed", time.Since(start)),
			)
		})
	}
}
