package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const httpTracerName = "ideaforge.http"

// TracingOptions defines HTTP tracing middleware behavior.
type TracingOptions struct {
	// SkipPaths are endpoints that never get a span.
	SkipPaths map[string]struct{}
}

// DefaultTracingOptions skips probes, the scrape endpoint and the event
// stream, whose span would last as long as the websocket.
func DefaultTracingOptions() TracingOptions {
	return TracingOptions{
		SkipPaths: map[string]struct{}{
			"/health":        {},
			"/ready":         {},
			"/metrics":       {},
			"/api/v1/events": {},
		},
	}
}

// routeParamAttributes maps chi URL params to span attributes. Only params
// that identify a domain object are recorded.
var routeParamAttributes = map[string]string{
	"id": "ideaforge.resource_id",
}

// Tracing creates HTTP server spans from incoming requests, continuing any
// inbound W3C trace context. The span is renamed to the matched route once
// the router has run.
func Tracing(opts TracingOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if shouldSkipTracing(r.URL.Path, opts) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := otel.Tracer(httpTracerName).Start(ctx, "HTTP "+r.Method, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()

			span.SetAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			)
			if id := GetRequestID(r.Context()); id != "" {
				span.SetAttributes(attribute.String("http.request_id", id))
			}

			wrapped := &tracingResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			r = r.WithContext(ctx)
			next.ServeHTTP(wrapped, r)

			route := routePattern(r)
			span.SetName(r.Method + " " + route)
			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.response.status_code", wrapped.statusCode),
			)
			span.SetAttributes(routeAttributes(r)...)
			recordHTTPSpanStatus(span, wrapped.statusCode)
		})
	}
}

func shouldSkipTracing(path string, opts TracingOptions) bool {
	if len(opts.SkipPaths) == 0 {
		return false
	}
	_, found := opts.SkipPaths[strings.TrimRight(strings.TrimSpace(path), "/")]
	return found
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := strings.TrimSpace(rc.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func routeAttributes(r *http.Request) []attribute.KeyValue {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return nil
	}
	var attrs []attribute.KeyValue
	for i, key := range rc.URLParams.Keys {
		name, ok := routeParamAttributes[key]
		if !ok || i >= len(rc.URLParams.Values) {
			continue
		}
		attrs = append(attrs, attribute.String(name, rc.URLParams.Values[i]))
	}
	return attrs
}

func recordHTTPSpanStatus(span trace.Span, statusCode int) {
	// Server spans fail only on 5xx.
	if statusCode >= http.StatusInternalServerError {
		span.SetStatus(otelcodes.Error, http.StatusText(statusCode))
		return
	}
	span.SetStatus(otelcodes.Ok, http.StatusText(statusCode))
}

type tracingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *tracingResponseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *tracingResponseWriter) Write(b []byte) (int, error) {
	rw.written = true
	return rw.ResponseWriter.Write(b)
}
