package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ideaforge/ideaforge/pkg/api/models"
	"github.com/ideaforge/ideaforge/pkg/api/response"
	"github.com/ideaforge/ideaforge/pkg/model"
	"github.com/ideaforge/ideaforge/pkg/storage"
)

func customWorkflow() map[string]any {
	return map[string]any{
		"id":   "wf-custom",
		"name": "Custom",
		"steps": []map[string]any{
			{"agent_id": "writer", "order": 0, "document_title": "Draft"},
			{"agent_id": "critic", "order": 1, "use_output_from": 0, "produce_document": false},
		},
	}
}

func customAgents() []map[string]any {
	return []map[string]any{
		{"id": "writer", "name": "Writer", "prompt_template": "write about {{input}}"},
		{"id": "critic", "name": "Critic", "prompt_template": "critique {{input}}"},
	}
}

func TestRunHandler_CreateRun(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	env.runs.CreateRun(w, jsonRequest(t, http.MethodPost, "/api/v1/runs", map[string]any{
		"workflow": customWorkflow(),
		"agents":   customAgents(),
		"input":    "a garden planner",
	}))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var resp models.RunResponse
	decodeBody(t, w, &resp)

	if !resp.Run.Success || resp.Run.Status != model.RunStateCompleted {
		t.Fatalf("run = %+v, want completed success", resp.Run)
	}
	if resp.Run.WorkflowID != "wf-custom" {
		t.Errorf("workflow_id = %q", resp.Run.WorkflowID)
	}
	if len(resp.Run.Outputs) != 2 {
		t.Errorf("outputs = %v, want 2 entries", resp.Run.Outputs)
	}
	if len(resp.Documents) != 1 || resp.Documents[0].Title != "Draft" {
		t.Fatalf("documents = %+v, want one Draft", resp.Documents)
	}

	stored, err := env.store.GetRun(context.Background(), resp.Run.ID)
	if err != nil {
		t.Fatalf("stored run: %v", err)
	}
	if stored.DocumentCount != 1 {
		t.Errorf("stored document_count = %d, want 1", stored.DocumentCount)
	}
}

func TestRunHandler_CreateRunAcceptsLongLanguageName(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	env.runs.CreateRun(w, jsonRequest(t, http.MethodPost, "/api/v1/runs", map[string]any{
		"workflow": customWorkflow(),
		"agents":   customAgents(),
		"input":    "a phrasebook",
		"language": "Vietnamese (Vietnam)",
	}))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var resp models.RunResponse
	decodeBody(t, w, &resp)
	if resp.Run.Language != "Vietnamese (Vietnam)" {
		t.Errorf("language = %q, want Vietnamese (Vietnam)", resp.Run.Language)
	}
}

func TestRunHandler_CreateRunUsesDefaultWorkflow(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	env.runs.CreateRun(w, jsonRequest(t, http.MethodPost, "/api/v1/runs", map[string]any{
		"input": "a todo list for teams",
	}))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var resp models.RunResponse
	decodeBody(t, w, &resp)
	if resp.Run.WorkflowID != "default" {
		t.Errorf("workflow_id = %q, want default", resp.Run.WorkflowID)
	}
	if got := int(env.gen.calls.Load()); got != 5 {
		t.Errorf("generator calls = %d, want 5", got)
	}
	if len(resp.Documents) != 5 {
		t.Errorf("documents = %d, want 5", len(resp.Documents))
	}
}

func TestRunHandler_CreateRunFailedRunIsCreated(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	env.runs.CreateRun(w, jsonRequest(t, http.MethodPost, "/api/v1/runs", map[string]any{
		"workflow": customWorkflow(),
		"agents":   customAgents(),
		"input":    "FAIL please",
	}))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var resp models.RunResponse
	decodeBody(t, w, &resp)
	if resp.Run.Success || resp.Run.Status != model.RunStateFailed {
		t.Fatalf("run = %+v, want failed", resp.Run)
	}
	if resp.Run.Error == "" {
		t.Error("failed run should carry an error message")
	}
	if len(resp.Documents) != 0 {
		t.Errorf("failed run produced %d documents", len(resp.Documents))
	}
}

func TestRunHandler_CreateRunRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		wantCode string
	}{
		{
			name:     "malformed json",
			body:     `{"input":`,
			wantCode: response.ErrCodeBadRequest,
		},
		{
			name:     "empty body",
			body:     "",
			wantCode: response.ErrCodeBadRequest,
		},
		{
			name:     "missing input",
			body:     map[string]any{"workflow": customWorkflow(), "agents": customAgents()},
			wantCode: response.ErrCodeValidationFailed,
		},
		{
			name:     "language too long",
			body:     map[string]any{"input": "x", "workflow": customWorkflow(), "agents": customAgents(), "language": strings.Repeat("a", 65)},
			wantCode: response.ErrCodeValidationFailed,
		},
		{
			name: "bad category",
			body: map[string]any{
				"input": "x",
				"workflow": map[string]any{
					"name":  "Bad",
					"steps": []map[string]any{{"agent_id": "writer", "order": 0, "document_title": "T", "document_category": "poetry"}},
				},
				"agents": customAgents(),
			},
			wantCode: response.ErrCodeValidationFailed,
		},
		{
			name: "unknown agent",
			body: map[string]any{
				"input": "x",
				"workflow": map[string]any{
					"name":  "Ghost",
					"steps": []map[string]any{{"agent_id": "ghost", "order": 0, "document_title": "T"}},
				},
			},
			wantCode: response.ErrCodeValidationFailed,
		},
		{
			name: "missing document title",
			body: map[string]any{
				"input": "x",
				"workflow": map[string]any{
					"name":  "Untitled",
					"steps": []map[string]any{{"agent_id": "writer", "order": 0}},
				},
				"agents": customAgents(),
			},
			wantCode: response.ErrCodeValidationFailed,
		},
		{
			name: "forward reference",
			body: map[string]any{
				"input": "x",
				"workflow": map[string]any{
					"name": "Forward",
					"steps": []map[string]any{
						{"agent_id": "writer", "order": 0, "use_output_from": 1, "document_title": "A"},
						{"agent_id": "critic", "order": 1, "document_title": "B"},
					},
				},
				"agents": customAgents(),
			},
			wantCode: response.ErrCodeValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			w := httptest.NewRecorder()
			env.runs.CreateRun(w, jsonRequest(t, http.MethodPost, "/api/v1/runs", tt.body))

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
			}
			if code := errorCode(t, w); code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
			if env.gen.calls.Load() != 0 {
				t.Error("rejected request must not reach the provider")
			}
			_, total, _ := env.store.ListRuns(context.Background(), nil)
			if total != 0 {
				t.Errorf("rejected request stored %d runs", total)
			}
		})
	}
}

func TestRunHandler_GetListAndDocuments(t *testing.T) {
	env := newTestEnv(t)

	var ids []string
	for _, input := range []string{"first idea", "FAIL second", "third idea"} {
		w := httptest.NewRecorder()
		env.runs.CreateRun(w, jsonRequest(t, http.MethodPost, "/api/v1/runs", map[string]any{
			"workflow": customWorkflow(),
			"agents":   customAgents(),
			"input":    input,
		}))
		var resp models.RunResponse
		decodeBody(t, w, &resp)
		ids = append(ids, resp.Run.ID)
	}

	t.Run("get", func(t *testing.T) {
		w := httptest.NewRecorder()
		env.runs.GetRun(w, withURLParams(jsonRequest(t, http.MethodGet, "/api/v1/runs/"+ids[0], nil), "id", ids[0]))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var run storage.RunRecord
		decodeBody(t, w, &run)
		if run.Input != "first idea" {
			t.Errorf("input = %q", run.Input)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		w := httptest.NewRecorder()
		env.runs.GetRun(w, withURLParams(jsonRequest(t, http.MethodGet, "/api/v1/runs/nope", nil), "id", "nope"))
		if w.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", w.Code)
		}
		if code := errorCode(t, w); code != response.ErrCodeNotFound {
			t.Errorf("code = %q", code)
		}
	})

	t.Run("list all", func(t *testing.T) {
		w := httptest.NewRecorder()
		env.runs.ListRuns(w, jsonRequest(t, http.MethodGet, "/api/v1/runs", nil))
		var list models.RunListResponse
		decodeBody(t, w, &list)
		if list.Total != 3 || len(list.Runs) != 3 || list.Limit != defaultListLimit {
			t.Fatalf("list = %+v", list)
		}
	})

	t.Run("list failed with paging", func(t *testing.T) {
		w := httptest.NewRecorder()
		env.runs.ListRuns(w, jsonRequest(t, http.MethodGet, "/api/v1/runs?status=failed&limit=1&offset=0", nil))
		var list models.RunListResponse
		decodeBody(t, w, &list)
		if list.Total != 1 || len(list.Runs) != 1 || list.Runs[0].ID != ids[1] {
			t.Fatalf("list = %+v", list)
		}
	})

	t.Run("list clamps limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		env.runs.ListRuns(w, jsonRequest(t, http.MethodGet, "/api/v1/runs?limit=1000", nil))
		var list models.RunListResponse
		decodeBody(t, w, &list)
		if list.Limit != maxListLimit {
			t.Fatalf("limit = %d, want %d", list.Limit, maxListLimit)
		}
	})

	for _, q := range []string{"limit=abc", "limit=0", "offset=-1", "status=paused"} {
		t.Run("bad query "+q, func(t *testing.T) {
			w := httptest.NewRecorder()
			env.runs.ListRuns(w, jsonRequest(t, http.MethodGet, "/api/v1/runs?"+q, nil))
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
		})
	}

	t.Run("documents", func(t *testing.T) {
		w := httptest.NewRecorder()
		env.runs.ListDocuments(w, withURLParams(jsonRequest(t, http.MethodGet, "/", nil), "id", ids[2]))
		var docs models.DocumentListResponse
		decodeBody(t, w, &docs)
		if docs.RunID != ids[2] || len(docs.Documents) != 1 {
			t.Fatalf("documents = %+v", docs)
		}
	})

	t.Run("documents of failed run", func(t *testing.T) {
		w := httptest.NewRecorder()
		env.runs.ListDocuments(w, withURLParams(jsonRequest(t, http.MethodGet, "/", nil), "id", ids[1]))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var docs models.DocumentListResponse
		decodeBody(t, w, &docs)
		if docs.Documents == nil || len(docs.Documents) != 0 {
			t.Fatalf("documents = %#v, want empty list", docs.Documents)
		}
	})

	t.Run("delete", func(t *testing.T) {
		w := httptest.NewRecorder()
		env.runs.DeleteRun(w, withURLParams(jsonRequest(t, http.MethodDelete, "/", nil), "id", ids[0]))
		if w.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want 204", w.Code)
		}
		w = httptest.NewRecorder()
		env.runs.DeleteRun(w, withURLParams(jsonRequest(t, http.MethodDelete, "/", nil), "id", ids[0]))
		if w.Code != http.StatusNotFound {
			t.Fatalf("second delete status = %d, want 404", w.Code)
		}
	})
}

type unavailableRuns struct {
	RunService
}

func (unavailableRuns) ListRuns(context.Context, *storage.RunFilter) ([]*storage.RunRecord, int, error) {
	return nil, 0, &storage.StorageUnavailableError{Cause: errors.New("connection refused")}
}

func TestRunHandler_StorageUnavailable(t *testing.T) {
	h := NewRunHandler(unavailableRuns{}, nil, nil)
	w := httptest.NewRecorder()
	h.ListRuns(w, jsonRequest(t, http.MethodGet, "/api/v1/runs", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestRunHandler_NoDefaultWorkflow(t *testing.T) {
	env := newTestEnv(t)
	h := NewRunHandler(env.svc, nil, nil)

	w := httptest.NewRecorder()
	h.CreateRun(w, jsonRequest(t, http.MethodPost, "/api/v1/runs", map[string]any{"input": "x"}))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
