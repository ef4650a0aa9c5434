package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/ideaforge/ideaforge/pkg/api/response"
	"github.com/ideaforge/ideaforge/pkg/logger"
)

// Recovery turns a handler panic into a 500 error body. The panic value is
// logged with the stack but never echoed to the client, since prompts and
// provider replies can end up in it. http.ErrAbortHandler is re-raised so
// net/http can abort the connection quietly.
func Recovery(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				requestID := GetRequestID(r.Context())
				if requestID == "" {
					requestID = "unknown"
				}

				log.ErrorContext(r.Context(), "panic recovered",
					"error", rec,
					"request_id", requestID,
					"method", r.Method,
					"path", r.URL.Path,
					"route", routePattern(r),
					"stack", string(debug.Stack()),
				)

				response.Error(w,
					http.StatusInternalServerError,
					response.ErrCodeInternalServer,
					"internal server error",
					requestID,
				)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
