package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ideaforge/ideaforge/config"
	"github.com/ideaforge/ideaforge/pkg/api"
	"github.com/ideaforge/ideaforge/pkg/api/events"
	"github.com/ideaforge/ideaforge/pkg/api/handlers"
	"github.com/ideaforge/ideaforge/pkg/catalog"
	"github.com/ideaforge/ideaforge/pkg/engine"
	"github.com/ideaforge/ideaforge/pkg/logger"
	"github.com/ideaforge/ideaforge/pkg/metrics"
	"github.com/ideaforge/ideaforge/pkg/service"
	"github.com/ideaforge/ideaforge/pkg/storage"
	"github.com/ideaforge/ideaforge/pkg/storage/badger"
	"github.com/ideaforge/ideaforge/pkg/storage/memory"
	"github.com/ideaforge/ideaforge/pkg/storage/redis"
	"github.com/ideaforge/ideaforge/pkg/telemetry/tracing"
	"github.com/ideaforge/ideaforge/pkg/textgen"
	"github.com/ideaforge/ideaforge/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")

	// CLI overrides
	appName    = flag.String("app-name", "", "Override app name")
	serverPort = flag.Int("port", 0, "Override server port")
	logLevel   = flag.String("log-level", "", "Override log level")
	debugMode  = flag.Bool("debug", false, "Enable debug mode")
)

// eventBuffer is the broadcaster subscription size for the websocket relay.
const eventBuffer = 256

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}

	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	overrides := buildOverrides(*appName, *serverPort, *logLevel, *debugMode)

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg, *debugMode)
	logger.SetGlobal(log)
	defer log.Close()

	log.Info("Starting IdeaForge",
		"version", version.Version,
		"buildTime", version.BuildTime,
		"gitCommit", version.GitCommit,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)
	log.Debug("Configuration loaded", "config", cfg.String())
	if log.GetLevel() == logger.DebugLevel {
		log.Debug("Effective configuration\n" + loader.Redacted())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}

	if *configPath != "" {
		startWatcher(ctx, *configPath, loader, log, newReloadHandler(cfg, log, app.orchestrator, *logLevel != "" || *debugMode))
	}

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
		if err := app.server.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	log.Info("IdeaForge is running",
		"http_port", cfg.Server.Port,
		"metrics_port", cfg.Metrics.Port,
		"storage", cfg.Storage.Type,
		"model", cfg.Provider.Model,
	)
	log.Info("Press Ctrl+C to stop")

	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErrChan:
		log.Error("HTTP server error", "error", err)
	case <-ctx.Done():
		log.Info("Context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer shutdownCancel()

	app.shutdown(shutdownCtx)
	cancel()

	log.Info("IdeaForge stopped gracefully")
}

// application holds the wired components owned by the process.
type application struct {
	cfg          *config.Config
	log          logger.Logger
	store        storage.Storage
	metrics      *metrics.Manager
	broadcaster  *events.Broadcaster
	orchestrator *engine.Orchestrator
	service      *service.Service
	server       *api.HTTPServer

	stopRelay    context.CancelFunc
	stopTracing  tracing.ShutdownFunc
	stopMetrics  context.CancelFunc
	shutdownOnce sync.Once
}

// newApplication builds every component from cfg. Nothing listens on the
// HTTP port until server.Start is called.
func newApplication(ctx context.Context, cfg *config.Config, log logger.Logger) (*application, error) {
	app := &application{cfg: cfg, log: log}

	stopTracing, err := tracing.Init(ctx, cfg.Tracing, tracing.Service{
		Name:        cfg.App.Name,
		Version:     version.String(),
		Environment: cfg.App.Environment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	app.stopTracing = stopTracing

	store, err := newStorage(ctx, cfg.Storage, log)
	if err != nil {
		_ = stopTracing(ctx)
		return nil, err
	}
	app.store = store

	app.metrics = metrics.NewManager(metricsConfig(cfg.Metrics))
	metricsCtx, stopMetrics := context.WithCancel(ctx)
	app.stopMetrics = stopMetrics
	if app.metrics.Enabled() {
		go func() {
			log.Info("Starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := app.metrics.StartServer(metricsCtx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	if cfg.Provider.APIKey == "" {
		log.Warn("No provider API key configured; generation requests will be rejected upstream",
			"env", config.FallbackAPIKeyEnv)
	}
	client := textgen.NewClient(providerConfig(cfg.Provider),
		textgen.WithMetrics(app.metrics),
		textgen.WithLogger(log.With("component", "textgen")),
	)

	app.broadcaster = events.NewBroadcaster()
	app.orchestrator = engine.NewOrchestrator(client,
		engine.WithMetrics(app.metrics),
		engine.WithEventBroadcaster(app.broadcaster),
		engine.WithSerialDelay(cfg.Execution.SerialDelay),
		engine.WithLogger(log.With("component", "engine")),
	)

	agents := catalog.New()
	app.service = service.New(app.orchestrator, agents, store,
		service.WithLogger(log.With("component", "service")),
		service.WithMetrics(app.metrics),
		service.WithDefaultLanguage(cfg.Execution.DefaultLanguage),
		service.WithRunTimeout(cfg.Execution.RunTimeout),
	)

	ws := handlers.NewWebSocketHandler(log, handlers.WebSocketConfig{
		AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
	})
	relayCtx, stopRelay := context.WithCancel(ctx)
	app.stopRelay = stopRelay
	go ws.Relay(relayCtx, app.broadcaster.Subscribe(eventBuffer))

	apiHandlers := &api.Handlers{
		Runs:      handlers.NewRunHandler(app.service, log, catalog.DefaultWorkflow),
		Workflows: handlers.NewWorkflowHandler(app.service, log, catalog.DefaultWorkflow),
		Agents:    handlers.NewAgentHandler(agents, log),
		Events:    ws,
		Health: handlers.NewHealthHandler(version.String(), map[string]handlers.ReadinessCheck{
			"storage": storageCheck(store),
		}),
	}
	if app.metrics.Enabled() {
		apiHandlers.Metrics = app.metrics
	}

	app.server = api.NewHTTPServer(cfg, log, apiHandlers)
	return app, nil
}

// shutdown stops the HTTP server first so no new runs start, then releases
// the relay, storage and exporters.
func (a *application) shutdown(ctx context.Context) {
	a.shutdownOnce.Do(func() {
		a.log.Info("Shutting down HTTP server")
		if err := a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Error shutting down HTTP server", "error", err)
		}

		a.stopRelay()
		a.broadcaster.Close()
		if n := a.broadcaster.Dropped(); n > 0 {
			a.log.Warn("Events dropped for slow subscribers", "count", n)
		}
		a.stopMetrics()

		if err := a.store.Close(); err != nil {
			a.log.Error("Error closing storage", "error", err)
		}
		if err := a.stopTracing(ctx); err != nil {
			a.log.Error("Error flushing traces", "error", err)
		}
	})
}

func newLogger(cfg *config.Config, debug bool) logger.Logger {
	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug || debug {
		logCfg.Level = logger.DebugLevel
	}
	return logger.New(logCfg)
}

func newStorage(ctx context.Context, cfg config.StorageConfig, log logger.Logger) (storage.Storage, error) {
	switch cfg.Type {
	case "badger":
		badgerCfg := &badger.Config{
			Path:             cfg.Badger.Path,
			SyncWrites:       cfg.Badger.SyncWrites,
			ValueLogFileSize: cfg.Badger.ValueLogFileSize,
		}
		store, err := badger.NewBadgerStorage(badgerCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create badger storage: %w", err)
		}
		log.Info("Initialized Badger storage", "path", badgerCfg.Path)
		return store, nil
	case "redis":
		store, err := redis.NewRedisStorage(ctx, &redis.Config{
			Addr:      cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis storage: %w", err)
		}
		log.Info("Initialized Redis storage", "address", cfg.Redis.Address)
		return store, nil
	case "memory", "":
		log.Info("Initialized memory storage")
		return memory.NewMemoryStorage(), nil
	default:
		log.Warn("Unknown storage type, using memory storage", "type", cfg.Type)
		return memory.NewMemoryStorage(), nil
	}
}

func metricsConfig(cfg config.MetricsConfig) metrics.Config {
	defaults := metrics.DefaultConfig()
	return metrics.Config{
		Enabled:                 cfg.Enabled,
		Port:                    cfg.Port,
		Path:                    cfg.Path,
		RunDurationBuckets:      defaults.RunDurationBuckets,
		StepDurationBuckets:     defaults.StepDurationBuckets,
		ProviderDurationBuckets: defaults.ProviderDurationBuckets,
		HTTPDurationBuckets:     defaults.HTTPDurationBuckets,
	}
}

func providerConfig(cfg config.ProviderConfig) textgen.Config {
	tc := textgen.DefaultConfig()
	tc.BaseURL = cfg.BaseURL
	tc.APIKey = cfg.APIKey
	tc.DefaultModel = cfg.Model
	tc.MaxAttempts = cfg.MaxAttempts
	tc.BackoffBase = cfg.BackoffBase
	tc.Timeout = cfg.Timeout
	tc.RequestsPerSecond = cfg.RequestsPerSecond
	tc.Burst = cfg.Burst
	return tc
}

func storageCheck(store storage.Storage) handlers.ReadinessCheck {
	return func(ctx context.Context) error {
		_, _, err := store.ListRuns(ctx, &storage.RunFilter{Limit: 1})
		return err
	}
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.HTTP.ShutdownTimeout > 0 {
		return cfg.Server.HTTP.ShutdownTimeout
	}
	return 30 * time.Second
}

// serialDelaySetter is satisfied by *engine.Orchestrator.
type serialDelaySetter interface {
	SetSerialDelay(d time.Duration)
}

// newReloadHandler applies hot-reloadable values from a reloaded config.
// A log level given on the command line is kept across reloads.
func newReloadHandler(cfg *config.Config, log logger.Logger, target serialDelaySetter, pinnedLevel bool) func(*config.Config) {
	var mu sync.Mutex
	current := config.ExtractHotReloadable(cfg)

	return func(next *config.Config) {
		mu.Lock()
		defer mu.Unlock()

		updated := config.ExtractHotReloadable(next)
		if pinnedLevel {
			updated.LogLevel = current.LogLevel
		}
		if !current.Changed(updated) {
			return
		}

		if updated.LogLevel != current.LogLevel {
			log.SetLevel(logger.ParseLevel(updated.LogLevel))
			log.Info("Log level changed", "from", current.LogLevel, "to", updated.LogLevel)
		}
		if updated.SerialDelay != current.SerialDelay {
			target.SetSerialDelay(updated.SerialDelay)
			log.Info("Serial delay changed", "from", current.SerialDelay, "to", updated.SerialDelay)
		}
		current = updated
	}
}

func startWatcher(ctx context.Context, path string, loader *config.Loader, log logger.Logger, onChange func(*config.Config)) {
	watcher, err := config.NewWatcher(path, loader, config.WithWatcherLogger(log))
	if err != nil {
		log.Warn("Config hot reload disabled", "error", err)
		return
	}
	watcher.OnChange(onChange)

	go func() {
		if err := watcher.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("Config watcher stopped", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = watcher.Stop()
	}()
}

func buildOverrides(name string, port int, level string, debug bool) map[string]interface{} {
	overrides := make(map[string]interface{})

	if name != "" {
		overrides["app.name"] = name
	}
	if port != 0 {
		overrides["server.port"] = port
	}
	if level != "" {
		overrides["log.level"] = level
	}
	if debug {
		overrides["app.debug"] = true
	}

	return overrides
}

func printVersion() {
	fmt.Printf("IdeaForge - LLM Workflow Execution Engine\n")
	fmt.Printf("Version:    %s\n", version.Version)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Printf("Git Commit: %s\n", version.GitCommit)
	fmt.Printf("Go Version: %s\n", version.GoVersion)
}

func printHelp() {
	fmt.Printf("IdeaForge - runs staged agent workflows against an OpenAI-compatible model\n\n")
	fmt.Printf("Usage: ideaforge [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nEnvironment:\n")
	fmt.Printf("  %s_PROVIDER_API_KEY or %s    Provider API key\n", config.EnvPrefix, config.FallbackAPIKeyEnv)
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  ideaforge                                 # Run with default config\n")
	fmt.Printf("  ideaforge -config config.yaml             # Use specific config file\n")
	fmt.Printf("  ideaforge -port 9090 -log-level debug     # Override specific options\n")
	fmt.Printf("  ideaforge -version                        # Print version info\n")
}
