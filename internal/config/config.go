// Package config loads the runtime configuration of the weft binary and the
// YAML graph definitions it executes.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/weft/pkg/provider"
	"github.com/aretw0/weft/pkg/workspace"
)

// EnvPrefix marks environment variables that override the config file.
const EnvPrefix = "WEFT_"

// Runtime is the process-wide configuration.
type Runtime struct {
	Warehouse         string        `yaml:"warehouse" mapstructure:"warehouse"`
	MaxParallel       int           `yaml:"max_parallel" mapstructure:"max_parallel"`
	LogLevel          string        `yaml:"log_level" mapstructure:"log_level"`
	LogFormat         string        `yaml:"log_format" mapstructure:"log_format"`
	PythonInterpreter string        `yaml:"python_interpreter" mapstructure:"python_interpreter"`
	ToolsFile         string        `yaml:"tools_file" mapstructure:"tools_file"`
	HumanTimeout      time.Duration `yaml:"human_timeout" mapstructure:"human_timeout"`

	Watcher WatcherConfig        `yaml:"watcher" mapstructure:"watcher"`
	Retry   provider.RetryPolicy `yaml:"retry" mapstructure:"retry"`
	Redis   RedisConfig          `yaml:"redis" mapstructure:"redis"`
	HTTP    HTTPConfig           `yaml:"http" mapstructure:"http"`
}

// WatcherConfig caps workspace scans and selects the node types observed.
type WatcherConfig struct {
	MaxFiles  int      `yaml:"max_files" mapstructure:"max_files"`
	MaxBytes  int64    `yaml:"max_bytes" mapstructure:"max_bytes"`
	NodeTypes []string `yaml:"node_types" mapstructure:"node_types"`
	Excludes  []string `yaml:"excludes" mapstructure:"excludes"`
}

// Limits converts the caps for the workspace package.
func (w WatcherConfig) Limits() workspace.Limits {
	return workspace.Limits{MaxFiles: w.MaxFiles, MaxBytes: w.MaxBytes}
}

// RedisConfig enables the redis event queue and lock when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr" mapstructure:"addr"`
	Password string        `yaml:"password" mapstructure:"password"`
	DB       int           `yaml:"db" mapstructure:"db"`
	Prefix   string        `yaml:"prefix" mapstructure:"prefix"`
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// Enabled reports whether a redis address is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Addr) != "" }

type HTTPConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() Runtime {
	return Runtime{
		Warehouse:         "WareHouse",
		LogLevel:          "info",
		LogFormat:         "text",
		PythonInterpreter: "python3",
		HumanTimeout:      0,
		Watcher: WatcherConfig{
			MaxFiles:  workspace.DefaultLimits.MaxFiles,
			MaxBytes:  workspace.DefaultLimits.MaxBytes,
			NodeTypes: []string{"python", "agent"},
		},
		Retry: provider.DefaultRetryPolicy(),
		Redis: RedisConfig{Prefix: "weft:", TTL: 24 * time.Hour},
		HTTP:  HTTPConfig{Addr: ":8080"},
	}
}

// envKeys maps each supported variable (without prefix) to its config path.
var envKeys = map[string]string{
	"WAREHOUSE":          "warehouse",
	"MAX_PARALLEL":       "max_parallel",
	"LOG_LEVEL":          "log_level",
	"LOG_FORMAT":         "log_format",
	"PYTHON_INTERPRETER": "python_interpreter",
	"TOOLS_FILE":         "tools_file",
	"HUMAN_TIMEOUT":      "human_timeout",
	"WATCHER_MAX_FILES":  "watcher.max_files",
	"WATCHER_MAX_BYTES":  "watcher.max_bytes",
	"WATCHER_NODE_TYPES": "watcher.node_types",
	"WATCHER_EXCLUDES":   "watcher.excludes",
	"RETRY_MAX_ATTEMPTS": "retry.max_attempts",
	"RETRY_MIN_WAIT":     "retry.min_wait",
	"RETRY_MAX_WAIT":     "retry.max_wait",
	"REDIS_ADDR":         "redis.addr",
	"REDIS_PASSWORD":     "redis.password",
	"REDIS_DB":           "redis.db",
	"REDIS_PREFIX":       "redis.prefix",
	"REDIS_TTL":          "redis.ttl",
	"HTTP_ADDR":          "http.addr",
}

// Load reads path over the defaults and applies WEFT_* overrides from the
// process environment. An empty path skips the file.
func Load(path string) (Runtime, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Runtime{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAMLStrict(b, &cfg); err != nil {
			return Runtime{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := ApplyEnv(&cfg, os.Environ()); err != nil {
		return Runtime{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Runtime{}, err
	}
	return cfg, nil
}

func decodeYAMLStrict(b []byte, cfg *Runtime) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

// ApplyEnv overlays WEFT_* variables from environ (KEY=VALUE pairs) onto cfg.
// Unknown WEFT_* names are ignored. List values are comma separated.
func ApplyEnv(cfg *Runtime, environ []string) error {
	overlay := map[string]any{}
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		path, known := envKeys[strings.TrimPrefix(name, EnvPrefix)]
		if !known {
			continue
		}
		setPath(overlay, strings.Split(path, "."), value)
	}
	if len(overlay) == 0 {
		return nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(overlay); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	return nil
}

func setPath(m map[string]any, path []string, value string) {
	for _, key := range path[:len(path)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[key] = next
		}
		m = next
	}
	m[path[len(path)-1]] = value
}

// Validate rejects values the runtime cannot use.
func (r Runtime) Validate() error {
	var errs []error
	if strings.TrimSpace(r.Warehouse) == "" {
		errs = append(errs, errors.New("warehouse is required"))
	}
	if r.MaxParallel < 0 {
		errs = append(errs, fmt.Errorf("max_parallel must not be negative, got %d", r.MaxParallel))
	}
	switch strings.ToLower(r.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", r.LogFormat))
	}
	if r.HumanTimeout < 0 {
		errs = append(errs, errors.New("human_timeout must not be negative"))
	}
	return errors.Join(errs...)
}
