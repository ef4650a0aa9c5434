package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ideaforge/ideaforge/pkg/api/response"
	"github.com/ideaforge/ideaforge/pkg/catalog"
	"github.com/ideaforge/ideaforge/pkg/engine"
	"github.com/ideaforge/ideaforge/pkg/logger"
	"github.com/ideaforge/ideaforge/pkg/service"
	"github.com/ideaforge/ideaforge/pkg/storage/memory"
	"github.com/ideaforge/ideaforge/pkg/textgen"
)

// scriptedGenerator answers with the first line of the prompt. Prompts
// containing "FAIL" return a provider error.
type scriptedGenerator struct {
	calls atomic.Int32
}

func (g *scriptedGenerator) Generate(_ context.Context, req textgen.Request) (string, error) {
	g.calls.Add(1)
	if strings.Contains(req.Prompt, "FAIL") {
		return "", &textgen.ProviderError{StatusCode: http.StatusBadRequest, Message: "rejected"}
	}
	first, _, _ := strings.Cut(req.Prompt, "\n")
	return "generated: " + first, nil
}

type testEnv struct {
	gen     *scriptedGenerator
	catalog *catalog.Catalog
	store   *memory.MemoryStorage
	svc     *service.Service
	runs    *RunHandler
	flows   *WorkflowHandler
	agents  *AgentHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		gen:     &scriptedGenerator{},
		catalog: catalog.New(),
		store:   memory.NewMemoryStorage(),
	}
	t.Cleanup(func() { _ = env.store.Close() })

	log := logger.NewNop()
	orch := engine.NewOrchestrator(env.gen, engine.WithSerialDelay(0), engine.WithLogger(log))
	env.svc = service.New(orch, env.catalog, env.store, service.WithLogger(log))
	env.runs = NewRunHandler(env.svc, log, catalog.DefaultWorkflow)
	env.flows = NewWorkflowHandler(env.svc, log, catalog.DefaultWorkflow)
	env.agents = NewAgentHandler(env.catalog, log)
	return env
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "test-request")
	return req
}

// withURLParams attaches chi route parameters without a router.
func withURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp response.ErrorResponse
	decodeBody(t, w, &resp)
	if resp.Error.RequestID != "test-request" {
		t.Errorf("request_id = %q, want test-request", resp.Error.RequestID)
	}
	return resp.Error.Code
}
