package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// unmatchedRoute labels requests that hit no route, so scanners probing
// random paths cannot grow label cardinality.
const unmatchedRoute = "unmatched"

// MetricsRecorder defines the interface for recording HTTP metrics.
type MetricsRecorder interface {
	RecordHTTPRequest(method, route, status string, duration time.Duration)
	IncActiveConnections()
	DecActiveConnections()
}

// contextMetricsRecorder is implemented by recorders that attach trace
// exemplars to latency samples.
type contextMetricsRecorder interface {
	RecordHTTPRequestWithContext(ctx context.Context, method, route, status string, duration time.Duration)
}

// Metrics records request count and latency labelled by the chi route
// pattern. Websocket upgrades only count toward active connections; their
// lifetime is not a request latency.
func Metrics(recorder MetricsRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/metrics") {
				next.ServeHTTP(w, r)
				return
			}

			recorder.IncActiveConnections()
			defer recorder.DecActiveConnections()

			if isWebSocketUpgrade(r) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			defer func() {
				if rec := recover(); rec != nil {
					record(recorder, r, http.StatusInternalServerError, time.Since(start))
					panic(rec)
				}
			}()

			next.ServeHTTP(wrapped, r)
			record(recorder, r, wrapped.statusCode, time.Since(start))
		})
	}
}

func record(recorder MetricsRecorder, r *http.Request, status int, duration time.Duration) {
	route := metricsRoute(r)
	code := strconv.Itoa(status)
	if cr, ok := recorder.(contextMetricsRecorder); ok {
		cr.RecordHTTPRequestWithContext(r.Context(), r.Method, route, code, duration)
		return
	}
	recorder.RecordHTTPRequest(r.Method, route, code, duration)
}

// metricsRoute returns the matched route pattern. Outside a chi router the
// raw path is used with id-looking segments collapsed.
func metricsRoute(r *http.Request) string {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return normalizePath(r.URL.Path)
	}
	if pattern := rc.RoutePattern(); pattern != "" {
		return pattern
	}
	return unmatchedRoute
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *metricsResponseWriter) Write(b []byte) (int, error) {
	rw.written = true
	return rw.ResponseWriter.Write(b)
}

// normalizePath replaces uuid and numeric segments with ":id".
func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if len(part) == 36 && strings.Count(part, "-") == 4 {
			parts[i] = ":id"
			continue
		}
		if _, err := strconv.Atoi(part); err == nil && part != "" {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}
