package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/weft/pkg/domain"
)

// Config selects and parameterizes a provider for one agent node.
type Config struct {
	Provider string         `mapstructure:"provider" yaml:"provider"`
	Model    string         `mapstructure:"model" yaml:"model"`
	BaseURL  string         `mapstructure:"base_url" yaml:"base_url"`
	APIKey   string         `mapstructure:"api_key" yaml:"api_key"`
	Extra    map[string]any `mapstructure:",remain" yaml:",inline"`
}

// Factory builds a provider from its config.
type Factory func(cfg Config) (Provider, error)

// Registry maps provider names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with the built-in echo provider.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(EchoName, func(Config) (Provider, error) { return Echo{}, nil })
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalizeName(name)] = f
}

// Names lists registered providers in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build instantiates the provider named in cfg.
func (r *Registry) Build(cfg Config) (Provider, error) {
	name := normalizeName(cfg.Provider)
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider: %q", cfg.Provider)
	}
	return f(cfg)
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// EchoName is the name of the built-in provider.
const EchoName = "echo"

// Echo answers with the text of the last user message. It exists so graphs can be
// exercised without a model backend.
type Echo struct{}

func (Echo) Name() string { return EchoName }

func (Echo) Call(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	text := ""
	for i := len(req.Conversation) - 1; i >= 0; i-- {
		if req.Conversation[i].Role == domain.RoleUser {
			text = req.Conversation[i].TextContent()
			break
		}
	}
	n := len(strings.Fields(text))
	return Response{
		Message: domain.NewMessage(domain.RoleAssistant, text),
		Usage:   Usage{InputTokens: n, OutputTokens: n, TotalTokens: 2 * n},
	}, nil
}
