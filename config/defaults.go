package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "ideaforge",
			Version:     "dev",
			Environment: "development",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			HTTP: HTTPConfig{
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    15 * time.Minute,
				IdleTimeout:     120 * time.Second,
				ShutdownTimeout: 30 * time.Second,
				MaxHeaderBytes:  1 << 20, // 1MB
				MaxBodyBytes:    4 << 20, // 4MB
			},
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
				ExposedHeaders: []string{"X-Request-ID"},
				MaxAge:         300,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Provider: ProviderConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxAttempts: 3,
			BackoffBase: 2 * time.Second,
			Timeout:     120 * time.Second,
		},
		Execution: ExecutionConfig{
			SerialDelay: 2 * time.Second,
		},
		Storage: StorageConfig{
			Type: "memory",
			Badger: BadgerConfig{
				Path:             "./data/badger",
				SyncWrites:       true,
				ValueLogFileSize: 1 << 28, // 256MB
			},
			Redis: RedisConfig{
				Address:   "localhost:6379",
				KeyPrefix: "ideaforge:",
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlpgrpc",
			Endpoint:   "localhost:4317",
			Timeout:    5 * time.Second,
			Sampler:    "parentbased_traceidratio",
			SampleRate: 0.1,
		},
	}
}
