package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ideaforge/ideaforge/pkg/logger"
)

func setupBenchmarkServer(b *testing.B) *httptest.Server {
	b.Helper()
	st := newTestStack(b)
	server := httptest.NewServer(NewRouter(st.cfg, logger.NewNop(), st.handlers))
	b.Cleanup(server.Close)
	return server
}

func BenchmarkHealthCheck(b *testing.B) {
	server := setupBenchmarkServer(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp, err := http.Get(server.URL + "/health")
		if err != nil {
			b.Fatal(err)
		}
		resp.Body.Close()
	}
}

func BenchmarkCreateRun(b *testing.B) {
	server := setupBenchmarkServer(b)
	body := []byte(`{"input":"benchmark idea","workflow":{"name":"Bench","steps":[{"agent_id":"idea-analysis","order":0,"document_title":"Analysis"}]}}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp, err := http.Post(server.URL+"/api/v1/runs", "application/json", bytes.NewReader(body))
		if err != nil {
			b.Fatal(err)
		}
		if resp.StatusCode != http.StatusCreated {
			b.Fatalf("status = %d", resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func BenchmarkListRuns(b *testing.B) {
	server := setupBenchmarkServer(b)
	body := []byte(`{"input":"seed","workflow":{"name":"Empty","steps":[]}}`)
	for i := 0; i < 50; i++ {
		resp, err := http.Post(server.URL+"/api/v1/runs", "application/json", bytes.NewReader(body))
		if err != nil {
			b.Fatal(err)
		}
		resp.Body.Close()
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp, err := http.Get(server.URL + "/api/v1/runs?limit=20")
		if err != nil {
			b.Fatal(err)
		}
		resp.Body.Close()
	}
}
