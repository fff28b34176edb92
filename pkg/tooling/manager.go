// Package tooling resolves the tools an agent node may call and executes them
// with schema-validated arguments.
package tooling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/aretw0/weft/pkg/domain"
)

// ErrToolNotFound is returned when a call names a tool no spec provides.
var ErrToolNotFound = errors.New("tool not found")

// Func implements a tool.
type Func func(ctx context.Context, args map[string]any) (any, error)

// Definition is a tool as offered by a source.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
	Func        Func
}

// Source type names accepted in Config.Type.
const (
	SourceFunction = "function"
	SourceMCP      = "mcp"
)

// Config is one entry of an agent node's tooling list.
type Config struct {
	Type   string    `mapstructure:"type" yaml:"type"`
	Names  []string  `mapstructure:"names" yaml:"names"`
	Prefix string    `mapstructure:"prefix" yaml:"prefix"`
	Server MCPServer `mapstructure:"server" yaml:"server"`
}

func (c Config) sourceType() string {
	if c.Type == "" {
		return SourceFunction
	}
	return strings.ToLower(c.Type)
}

func (c Config) allows(name string) bool {
	if len(c.Names) == 0 {
		return true
	}
	for _, n := range c.Names {
		if n == name {
			return true
		}
	}
	return false
}

// Spec is a resolved tool ready to be offered to a model.
// Tool.Name is the display name, which carries the config prefix.
type Spec struct {
	Tool         domain.Tool
	OriginalName string
	ConfigIndex  int

	schema *jsonschema.Schema
	fn     Func
}

// Metadata is the pointer back to where the spec came from.
func (s Spec) Metadata() map[string]any {
	return map[string]any{
		"config_index":  s.ConfigIndex,
		"original_name": s.OriginalName,
	}
}

// Source lists tools from somewhere other than the in-process function table.
type Source interface {
	Tools(ctx context.Context) ([]Definition, error)
	Close() error
}

// SourceFactory opens a source for a config entry.
type SourceFactory func(ctx context.Context, cfg Config) (Source, error)

type registered struct {
	def    Definition
	schema *jsonschema.Schema
}

// Manager owns the function table and any opened sources.
type Manager struct {
	logger *slog.Logger

	mu        sync.RWMutex
	functions map[string]registered
	factories map[string]SourceFactory
	sources   map[string]Source
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithSourceFactory registers how to open sources of type name.
func WithSourceFactory(name string, f SourceFactory) Option {
	return func(m *Manager) { m.factories[strings.ToLower(name)] = f }
}

// NewManager returns a manager that knows the function and mcp source types.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		logger:    slog.Default(),
		functions: make(map[string]registered),
		factories: map[string]SourceFactory{SourceMCP: OpenMCPSource},
		sources:   make(map[string]Source),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a function tool. Its parameter schema is compiled up front.
func (m *Manager) Register(def Definition) error {
	if strings.TrimSpace(def.Name) == "" {
		return errors.New("tool name is required")
	}
	if def.Func == nil {
		return fmt.Errorf("tool %s missing function", def.Name)
	}
	schema, err := compileSchema(def.Parameters)
	if err != nil {
		return fmt.Errorf("tool %s schema: %w", def.Name, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.functions[def.Name] = registered{def: def, schema: schema}
	return nil
}

// Names lists the registered function tools.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.functions))
	for k := range m.functions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Specs resolves the tools offered by configs, in config order.
func (m *Manager) Specs(ctx context.Context, configs []Config) ([]Spec, error) {
	var specs []Spec
	for i, cfg := range configs {
		defs, err := m.definitions(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("tooling[%d]: %w", i, err)
		}
		for _, d := range defs {
			if !cfg.allows(d.def.Name) {
				continue
			}
			specs = append(specs, Spec{
				Tool: domain.Tool{
					Name:        cfg.Prefix + d.def.Name,
					Description: d.def.Description,
					Parameters:  d.def.Parameters,
				},
				OriginalName: d.def.Name,
				ConfigIndex:  i,
				schema:       d.schema,
				fn:           d.def.Func,
			})
		}
	}
	return specs, nil
}

func (m *Manager) definitions(ctx context.Context, cfg Config) ([]registered, error) {
	if cfg.sourceType() == SourceFunction {
		m.mu.RLock()
		defer m.mu.RUnlock()
		names := make([]string, 0, len(m.functions))
		for name := range m.functions {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]registered, 0, len(names))
		for _, name := range names {
			out = append(out, m.functions[name])
		}
		return out, nil
	}

	src, err := m.source(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defs, err := src.Tools(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]registered, 0, len(defs))
	for _, d := range defs {
		schema, err := compileSchema(d.Parameters)
		if err != nil {
			m.logger.Warn("skipping tool with invalid schema", "tool", d.Name, "err", err)
			continue
		}
		out = append(out, registered{def: d, schema: schema})
	}
	return out, nil
}

func (m *Manager) source(ctx context.Context, cfg Config) (Source, error) {
	key := sourceKey(cfg)
	m.mu.RLock()
	src, ok := m.sources[key]
	factory, known := m.factories[cfg.sourceType()]
	m.mu.RUnlock()
	if ok {
		return src, nil
	}
	if !known {
		return nil, fmt.Errorf("unknown tool source type %q", cfg.Type)
	}
	src, err := factory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sources[key]; ok {
		_ = src.Close()
		return existing, nil
	}
	m.sources[key] = src
	return src, nil
}

func sourceKey(cfg Config) string {
	raw, _ := json.Marshal(struct {
		Type   string
		Server MCPServer
	}{cfg.sourceType(), cfg.Server})
	return string(raw)
}

// Resolve finds the spec a model called by name. Display names win; original
// names are the fallback when the model dropped the prefix.
func Resolve(specs []Spec, name string) (Spec, bool) {
	for _, s := range specs {
		if s.Tool.Name == name {
			return s, true
		}
	}
	for _, s := range specs {
		if s.OriginalName == name {
			return s, true
		}
	}
	return Spec{}, false
}

// Execute validates args against the spec's schema and runs the tool.
func (m *Manager) Execute(ctx context.Context, spec Spec, args map[string]any) (any, error) {
	if spec.fn == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, spec.Tool.Name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if spec.schema != nil {
		doc, err := toJSONValue(args)
		if err != nil {
			return nil, err
		}
		if err := spec.schema.Validate(doc); err != nil {
			return nil, fmt.Errorf("tool args schema validation failed: %w", err)
		}
	}
	return spec.fn(ctx, args)
}

// Close shuts down every opened source.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for key, src := range m.sources {
		if err := src.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(m.sources, key)
	}
	return errors.Join(errs...)
}

// ParseArguments decodes a tool call's JSON arguments. Malformed or non-object
// input yields an empty map.
func ParseArguments(raw string) map[string]any {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

func compileSchema(params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		params = map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}

// toJSONValue round-trips v through JSON so the validator only sees JSON types.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
