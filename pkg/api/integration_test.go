package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ideaforge/ideaforge/pkg/api/events"
	"github.com/ideaforge/ideaforge/pkg/api/models"
	"github.com/ideaforge/ideaforge/pkg/logger"
	"github.com/ideaforge/ideaforge/pkg/model"
)

func setupIntegrationTest(t *testing.T) (*testStack, *httptest.Server) {
	t.Helper()
	st := newTestStack(t)
	server := httptest.NewServer(NewRouter(st.cfg, logger.NewNop(), st.handlers))
	t.Cleanup(server.Close)
	return st, server
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func getJSON(t *testing.T, url string, dst any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

// TestIntegration_RunLifecycle creates a custom agent, runs a workflow that
// uses it, and reads the run back through every endpoint.
func TestIntegration_RunLifecycle(t *testing.T) {
	st, server := setupIntegrationTest(t)

	resp := postJSON(t, server.URL+"/api/v1/agents", map[string]any{
		"id":              "marketer",
		"name":            "Marketer",
		"prompt_template": "Write a launch plan for {{input}}",
		"model":           "marketing-model",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create agent status = %d", resp.StatusCode)
	}

	resp = postJSON(t, server.URL+"/api/v1/runs", map[string]any{
		"input": "a bike sharing app",
		"workflow": map[string]any{
			"id":   "launch",
			"name": "Launch",
			"steps": []map[string]any{
				{"agent_id": "idea-analysis", "order": 0, "document_title": "Analysis"},
				{"agent_id": "marketer", "order": 1, "execute_in_parallel": true, "use_output_from": 0, "document_title": "Launch Plan"},
				{"agent_id": "backend-architecture", "order": 1, "use_output_from": 0, "document_title": "Backend"},
			},
		},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("create run status = %d: %s", resp.StatusCode, body)
	}
	var created models.RunResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if !created.Run.Success || len(created.Documents) != 3 {
		t.Fatalf("run = %+v, documents = %d", created.Run, len(created.Documents))
	}
	if created.Run.Outputs[1] == "" {
		t.Fatalf("stage 1 output missing: %v", created.Run.Outputs)
	}

	var fetched models.RunResponse
	if code := getJSON(t, server.URL+"/api/v1/runs/"+created.Run.ID, &fetched.Run); code != http.StatusOK {
		t.Fatalf("get run status = %d", code)
	}
	if fetched.Run.Status != model.RunStateCompleted {
		t.Errorf("status = %s", fetched.Run.Status)
	}

	var docs models.DocumentListResponse
	getJSON(t, server.URL+"/api/v1/runs/"+created.Run.ID+"/documents", &docs)
	titles := make(map[string]bool)
	for _, d := range docs.Documents {
		titles[d.Title] = true
	}
	for _, want := range []string{"Analysis", "Launch Plan", "Backend"} {
		if !titles[want] {
			t.Errorf("document %q missing from %v", want, titles)
		}
	}

	var list models.RunListResponse
	getJSON(t, server.URL+"/api/v1/runs?workflow_id=launch", &list)
	if list.Total != 1 {
		t.Errorf("runs for workflow = %d, want 1", list.Total)
	}

	scrape := httptest.NewRecorder()
	st.metrics.Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	for _, want := range []string{
		`run_executions_total{status="completed"} 1`,
		`step_executions_total`,
		`documents_produced_total`,
		`http_requests_total`,
	} {
		if !strings.Contains(scrape.Body.String(), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestIntegration_EventStream(t *testing.T) {
	st, server := setupIntegrationTest(t)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	defer conn.Close()

	// The client registers after the upgrade response is written.
	for deadline := time.Now().Add(2 * time.Second); st.handlers.Events.Count() == 0; time.Sleep(10 * time.Millisecond) {
		if time.Now().After(deadline) {
			t.Fatal("websocket client never registered")
		}
	}

	var (
		mu       sync.Mutex
		received []events.Event
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
			var ev events.Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			mu.Lock()
			received = append(received, ev)
			finished := ev.Type == events.TypeRunStateChanged && ev.Payload.(map[string]any)["new_state"] == "completed"
			mu.Unlock()
			if finished {
				return
			}
		}
	}()

	resp := postJSON(t, server.URL+"/api/v1/runs", map[string]any{
		"input": "a recipe planner",
		"workflow": map[string]any{
			"name":  "Single",
			"steps": []map[string]any{{"agent_id": "idea-analysis", "order": 0, "document_title": "Analysis"}},
		},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create run status = %d", resp.StatusCode)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for run completion event")
	}

	mu.Lock()
	defer mu.Unlock()
	var runEvents, stepEvents int
	for _, ev := range received {
		switch ev.Type {
		case events.TypeRunStateChanged:
			runEvents++
		case events.TypeStepStateChanged:
			stepEvents++
		}
	}
	if runEvents < 2 || stepEvents < 2 {
		t.Fatalf("run events = %d, step events = %d, want at least 2 of each", runEvents, stepEvents)
	}
}

func TestIntegration_ConcurrentRuns(t *testing.T) {
	_, server := setupIntegrationTest(t)

	const n = 8
	var wg sync.WaitGroup
	codes := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, _ := json.Marshal(map[string]any{"input": "concurrent idea"})
			resp, err := http.Post(server.URL+"/api/v1/runs", "application/json", bytes.NewReader(data))
			if err != nil {
				codes <- 0
				return
			}
			resp.Body.Close()
			codes <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(codes)

	for code := range codes {
		if code != http.StatusCreated {
			t.Errorf("status = %d, want 201", code)
		}
	}

	var list models.RunListResponse
	getJSON(t, server.URL+"/api/v1/runs?limit=100", &list)
	if list.Total != n {
		t.Fatalf("total = %d, want %d", list.Total, n)
	}
	ids := make(map[string]bool)
	for _, r := range list.Runs {
		ids[r.ID] = true
	}
	if len(ids) != n {
		t.Fatalf("distinct run ids = %d, want %d", len(ids), n)
	}
}

func TestIntegration_Pagination(t *testing.T) {
	_, server := setupIntegrationTest(t)

	for i := 0; i < 5; i++ {
		resp := postJSON(t, server.URL+"/api/v1/runs", map[string]any{
			"input":    "idea",
			"workflow": map[string]any{"name": "Empty", "steps": []any{}},
		})
		resp.Body.Close()
	}

	seen := make(map[string]bool)
	for offset := 0; offset < 5; offset += 2 {
		var page models.RunListResponse
		getJSON(t, server.URL+"/api/v1/runs?limit=2&offset="+strconv.Itoa(offset), &page)
		if page.Total != 5 {
			t.Fatalf("total = %d, want 5", page.Total)
		}
		for _, r := range page.Runs {
			if seen[r.ID] {
				t.Fatalf("run %s returned twice", r.ID)
			}
			seen[r.ID] = true
		}
	}
	if len(seen) != 5 {
		t.Fatalf("paged through %d runs, want 5", len(seen))
	}
}
