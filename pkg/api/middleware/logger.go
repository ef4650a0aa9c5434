// Package middleware provides HTTP middleware components.
package middleware

import (
	"net/http"
	"time"

	"github.com/ideaforge/ideaforge/pkg/logger"
)

// quietPaths are logged at debug level; probes would otherwise drown the
// request log.
var quietPaths = map[string]struct{}{
	"/health":  {},
	"/ready":   {},
	"/metrics": {},
}

// responseWriter wraps http.ResponseWriter to capture status code and size.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// Logger logs one line per request once the handler returns. 5xx responses
// log at error, 4xx at warn and everything else at info.
func Logger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			args := []any{
				"request_id", GetRequestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"route", routePattern(r),
				"status", wrapped.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
				"size", wrapped.size,
				"remote_addr", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			}

			ctx := r.Context()
			switch {
			case wrapped.statusCode >= http.StatusInternalServerError:
				log.ErrorContext(ctx, "HTTP request", args...)
			case wrapped.statusCode >= http.StatusBadRequest:
				log.WarnContext(ctx, "HTTP request", args...)
			case isQuietPath(r.URL.Path):
				log.DebugContext(ctx, "HTTP request", args...)
			default:
				log.InfoContext(ctx, "HTTP request", args...)
			}
		})
	}
}

func isQuietPath(path string) bool {
	_, ok := quietPaths[path]
	return ok
}
