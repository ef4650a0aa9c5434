package config

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "IDEAFORGE_"
	// EnvNestingSeparator separates nested keys in environment variable names,
	// e.g. IDEAFORGE_PROVIDER__API_KEY sets provider.api_key.
	EnvNestingSeparator = "__"
	// Delimiter is the key delimiter for nested config.
	Delimiter = "."
	// FallbackAPIKeyEnv is read when provider.api_key is not set anywhere else.
	FallbackAPIKeyEnv = "OPENAI_API_KEY"
)

// searchPaths are tried in order when Load is given no file.
var searchPaths = []string{
	"ideaforge.yaml",
	"config.yaml",
	"config.yml",
	"config.json",
	"configs/config.yaml",
	"/etc/ideaforge/config.yaml",
}

// secretKeys are masked by Redacted.
var secretKeys = map[string]bool{
	"provider.api_key":       true,
	"storage.redis.password": true,
}

// Loader merges the configuration sources. It remembers the overrides of
// the last Load so Reload can repeat it after the file changes.
type Loader struct {
	mu        sync.Mutex
	k         *koanf.Koanf
	path      string
	overrides map[string]interface{}
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{k: koanf.New(Delimiter)}
}

// Load merges configuration sources, later ones winning: defaults, the
// config file, environment variables, then overrides. An empty configPath
// searches the standard locations.
func (l *Loader) Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.path = configPath
	l.overrides = maps.Clone(overrides)
	return l.load()
}

// Reload loads configPath again with the current environment. The
// overrides given to the last Load still win, so command line flags
// survive a reload.
func (l *Loader) Reload(configPath string) (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.path = configPath
	return l.load()
}

func (l *Loader) load() (*Config, error) {
	k := koanf.New(Delimiter)

	if err := k.Load(confmap.Provider(structToMap(DefaultConfig(), ""), Delimiter), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if l.path != "" {
		if err := loadFile(k, l.path); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		loadFirstFound(k)
	}

	envProvider := env.Provider(EnvPrefix, Delimiter, envKey)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if len(l.overrides) > 0 {
		if err := k.Load(confmap.Provider(l.overrides, Delimiter), nil); err != nil {
			return nil, fmt.Errorf("failed to apply overrides: %w", err)
		}
	}

	if k.String("provider.api_key") == "" {
		if key := os.Getenv(FallbackAPIKeyEnv); key != "" {
			_ = k.Set("provider.api_key", key)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "mapstructure"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := ValidateWithDetails(&cfg); err != nil {
		return nil, err
	}

	// Only a valid result replaces what Redacted reports.
	l.k = k
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	var parser koanf.Parser
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config file not found: %s", path)
	}
	return k.Load(file.Provider(path), parser)
}

// loadFirstFound loads the first file of searchPaths that exists. A broken
// file there is ignored rather than failing startup.
func loadFirstFound(k *koanf.Koanf) {
	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			_ = loadFile(k, path)
			return
		}
	}
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, EnvNestingSeparator, Delimiter)
}

// Redacted renders the merged configuration of the last successful load as
// sorted key = value lines with secrets masked.
func (l *Loader) Redacted() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	all := l.k.All()
	keys := make([]string, 0, len(all))
	for key := range all {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		value := all[key]
		if secretKeys[key] && fmt.Sprint(value) != "" {
			value = "******"
		}
		fmt.Fprintf(&b, "%s = %v\n", key, value)
	}
	return b.String()
}

// structToMap flattens a struct into dot-separated keys taken from its
// mapstructure tags. Durations stay time.Duration values.
func structToMap(v interface{}, prefix string) map[string]interface{} {
	result := make(map[string]interface{})
	val := reflect.Indirect(reflect.ValueOf(v))
	if val.Kind() != reflect.Struct {
		return result
	}

	durationType := reflect.TypeOf(time.Duration(0))
	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		key := field.Tag.Get("mapstructure")
		if !field.IsExported() || key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + Delimiter + key
		}

		fv := val.Field(i)
		switch {
		case fv.Type() == durationType:
			result[key] = fv.Interface()
		case fv.Kind() == reflect.Struct:
			maps.Copy(result, structToMap(fv.Interface(), key))
		case fv.Kind() == reflect.Slice:
			items := make([]interface{}, fv.Len())
			for j := range items {
				items[j] = fv.Index(j).Interface()
			}
			result[key] = items
		case fv.Kind() == reflect.Map:
			if !fv.IsNil() {
				result[key] = fv.Interface()
			}
		default:
			result[key] = fv.Interface()
		}
	}
	return result
}
