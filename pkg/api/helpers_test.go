package api

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ideaforge/ideaforge/config"
	"github.com/ideaforge/ideaforge/pkg/api/events"
	"github.com/ideaforge/ideaforge/pkg/api/handlers"
	"github.com/ideaforge/ideaforge/pkg/catalog"
	"github.com/ideaforge/ideaforge/pkg/engine"
	"github.com/ideaforge/ideaforge/pkg/logger"
	"github.com/ideaforge/ideaforge/pkg/metrics"
	"github.com/ideaforge/ideaforge/pkg/service"
	"github.com/ideaforge/ideaforge/pkg/storage/memory"
	"github.com/ideaforge/ideaforge/pkg/textgen"
)

// stubGenerator returns a short reply derived from the prompt.
type stubGenerator struct{}

func (stubGenerator) Generate(_ context.Context, req textgen.Request) (string, error) {
	if strings.Contains(req.Prompt, "FAIL") {
		return "", &textgen.ProviderError{StatusCode: 400, Message: "rejected"}
	}
	return "reply (" + req.Model + ")", nil
}

type testStack struct {
	cfg         *config.Config
	handlers    *Handlers
	broadcaster *events.Broadcaster
	store       *memory.MemoryStorage
	metrics     *metrics.Manager
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.HTTP.ReadTimeout = 5 * time.Second
	cfg.Server.HTTP.WriteTimeout = 5 * time.Second
	cfg.Server.HTTP.IdleTimeout = 10 * time.Second
	return cfg
}

// newTestStack wires the handlers the way the binary does, over memory
// storage and a stub generator.
func newTestStack(tb testing.TB) *testStack {
	tb.Helper()
	log := logger.NewNop()
	st := &testStack{
		cfg:         testConfig(),
		broadcaster: events.NewBroadcaster(),
		store:       memory.NewMemoryStorage(),
		metrics:     metrics.NewManager(metrics.DefaultConfig()),
	}

	cat := catalog.New()
	orch := engine.NewOrchestrator(stubGenerator{},
		engine.WithSerialDelay(0),
		engine.WithLogger(log),
		engine.WithMetrics(st.metrics),
		engine.WithEventBroadcaster(st.broadcaster),
	)
	svc := service.New(orch, cat, st.store, service.WithLogger(log), service.WithMetrics(st.metrics))

	ws := handlers.NewWebSocketHandler(log, handlers.WebSocketConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	go ws.Relay(ctx, st.broadcaster.Subscribe(64))

	st.handlers = &Handlers{
		Runs:      handlers.NewRunHandler(svc, log, catalog.DefaultWorkflow),
		Workflows: handlers.NewWorkflowHandler(svc, log, catalog.DefaultWorkflow),
		Agents:    handlers.NewAgentHandler(cat, log),
		Events:    ws,
		Health: handlers.NewHealthHandler("test", map[string]handlers.ReadinessCheck{
			"storage": func(ctx context.Context) error {
				_, _, err := st.store.ListRuns(ctx, nil)
				return err
			},
		}),
		Metrics: st.metrics,
	}

	tb.Cleanup(func() {
		cancel()
		ws.Close()
		st.broadcaster.Close()
		_ = st.store.Close()
	})
	return st
}
