package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name      string
		inbound   string
		wantReuse bool
	}{
		{name: "generated when absent", inbound: "", wantReuse: false},
		{name: "reuses well-formed id", inbound: "existing-123", wantReuse: true},
		{name: "reuses uuid", inbound: "5f0c3c2e-8d7a-4a55-9a1c-0b8f5a3b2c11", wantReuse: true},
		{name: "rejects whitespace", inbound: "bad id", wantReuse: false},
		{name: "rejects log injection", inbound: "abc\nlevel=ERROR", wantReuse: false},
		{name: "rejects overlong id", inbound: strings.Repeat("a", maxRequestIDLength+1), wantReuse: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = GetRequestID(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
			if tt.inbound != "" {
				req.Header[RequestIDHeader] = []string{tt.inbound}
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if got := w.Header().Get(RequestIDHeader); got != captured {
				t.Fatalf("response id %q != context id %q", got, captured)
			}
			if tt.wantReuse {
				if captured != tt.inbound {
					t.Errorf("id = %q, want %q", captured, tt.inbound)
				}
				return
			}
			if _, err := uuid.Parse(captured); err != nil {
				t.Errorf("generated id %q is not a uuid: %v", captured, err)
			}
		})
	}
}

func TestWithRequestID(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Fatalf("empty context id = %q", got)
	}
	ctx := WithRequestID(context.Background(), "run-req")
	if got := GetRequestID(ctx); got != "run-req" {
		t.Fatalf("id = %q", got)
	}
}
