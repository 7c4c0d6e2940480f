package middleware

import (
	"net/http"
	"strings"
	"time"

	"quotaledger/internal/metrics"

	"github.com/rs/zerolog"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// LoggerMiddleware logs every request and records its latency.
func LoggerMiddleware(logger zerolog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			route := routeLabel(r.URL.Path, rec.status)
			m.RecordHTTPRequest(r.Method, route, rec.status, elapsed)

			ev := logger.Debug()
			if rec.status >= http.StatusInternalServerError {
				ev = logger.Warn()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.RequestURI()).
				Int("status", rec.status).
				Dur("latency", elapsed).
				Msg("HTTP request")
		})
	}
}

// routeLabel keeps the metrics label set bounded.
func routeLabel(path string, status int) string {
	if status == http.StatusNotFound {
		return "not_found"
	}
	if strings.HasPrefix(path, "/v1/quota/") {
		if strings.HasSuffix(path, "/authorize") {
			return "/v1/quota/{action}/authorize"
		}
		return "/v1/quota/{action}"
	}
	return path
}
