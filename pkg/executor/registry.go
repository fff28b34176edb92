package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/aretw0/weft/pkg/domain"
)

// Executor runs one node. An empty result suppresses propagation downstream.
type Executor interface {
	Execute(ctx context.Context, node domain.Node, inputs []domain.Message) ([]domain.Message, error)
}

// Func adapts a function to Executor.
type Func func(ctx context.Context, node domain.Node, inputs []domain.Message) ([]domain.Message, error)

func (f Func) Execute(ctx context.Context, node domain.Node, inputs []domain.Message) ([]domain.Message, error) {
	return f(ctx, node, inputs)
}

// Factory builds the executor for node within a run.
type Factory func(rc *Context, node domain.Node) (Executor, error)

// Capabilities describe scheduling constraints of a node type.
// Nodes sharing a ResourceKey never run more than ResourceLimit at a time,
// across nested graph runs too.
type Capabilities struct {
	ResourceKey   string
	ResourceLimit int
}

// Spec describes a node type.
type Spec struct {
	// Schema is the JSON schema of node.config. Nil accepts anything.
	Schema       map[string]any
	Factory      Factory
	Capabilities Capabilities
}

type entry struct {
	spec   Spec
	schema *jsonschema.Schema
}

// Registry maps node types to their specs.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]entry)}
}

// DefaultRegistry returns a registry with every built-in node type.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(domain.NodeTypePassthrough, Spec{Schema: passthroughSchema, Factory: NewPassthrough})
	r.MustRegister(domain.NodeTypeLiteral, Spec{Schema: literalSchema, Factory: NewLiteral})
	r.MustRegister(domain.NodeTypeLoopCounter, Spec{Schema: loopCounterSchema, Factory: NewLoopCounter})
	r.MustRegister(domain.NodeTypeHuman, Spec{
		Schema:       humanSchema,
		Factory:      NewHuman,
		Capabilities: Capabilities{ResourceKey: "human", ResourceLimit: 1},
	})
	r.MustRegister(domain.NodeTypePython, Spec{Schema: pythonSchema, Factory: NewPython})
	r.MustRegister(domain.NodeTypeSubgraph, Spec{Schema: subgraphSchema, Factory: NewSubgraph})
	r.MustRegister(domain.NodeTypeAgent, Spec{Schema: agentSchema, Factory: NewAgent})
	return r
}

// Register adds or replaces a node type. The schema is compiled up front.
func (r *Registry) Register(name string, spec Spec) error {
	if name == "" {
		return errors.New("node type name is required")
	}
	if spec.Factory == nil {
		return fmt.Errorf("node type %s missing factory", name)
	}
	var schema *jsonschema.Schema
	if spec.Schema != nil {
		var err error
		if schema, err = compileSchema(name, spec.Schema); err != nil {
			return fmt.Errorf("node type %s schema: %w", name, err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[name] = entry{spec: spec, schema: schema}
	return nil
}

// MustRegister is Register for built-in types; it panics on a bad schema.
func (r *Registry) MustRegister(name string, spec Spec) {
	if err := r.Register(name, spec); err != nil {
		panic(err)
	}
}

// Lookup returns the spec of a node type.
func (r *Registry) Lookup(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.specs[name]
	return e.spec, ok
}

// Types lists the registered node types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.specs))
	for k := range r.specs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Capabilities returns the scheduling constraints of a node type.
func (r *Registry) Capabilities(nodeType string) Capabilities {
	spec, _ := r.Lookup(nodeType)
	return spec.Capabilities
}

// Validate checks that the node type is known and its config matches the schema.
func (r *Registry) Validate(node domain.Node) error {
	r.mu.RLock()
	e, ok := r.specs[node.Type]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("node %s: %w %q", node.ID, domain.ErrUnknownNodeType, node.Type)
	}
	if e.schema == nil {
		return nil
	}
	cfg := node.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	doc, err := toJSONValue(cfg)
	if err != nil {
		return fmt.Errorf("node %s config: %w", node.ID, err)
	}
	if err := e.schema.Validate(doc); err != nil {
		return fmt.Errorf("node %s config: %w", node.ID, err)
	}
	return nil
}

// ValidateGraph validates the structure of g and every node config, subgraphs included.
func (r *Registry) ValidateGraph(g *domain.Graph) error {
	if err := g.Validate(); err != nil {
		return err
	}
	var errs []error
	for _, n := range g.Nodes {
		if err := r.Validate(n); err != nil {
			errs = append(errs, err)
		}
		if sub, ok := g.Subgraphs[n.ID]; ok && n.Type == domain.NodeTypeSubgraph {
			if err := r.ValidateGraph(sub); err != nil {
				errs = append(errs, fmt.Errorf("subgraph %s: %w", n.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Build validates node and constructs its executor for the run rc.
func (r *Registry) Build(rc *Context, node domain.Node) (Executor, error) {
	if err := r.Validate(node); err != nil {
		return nil, err
	}
	spec, _ := r.Lookup(node.Type)
	return spec.Factory(rc, node)
}

// DecodeConfig decodes a raw node config into out with weak typing, so YAML
// scalars like "30s" or "3" land in durations and ints.
func DecodeConfig(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return dec.Decode(raw)
}

func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	url := name + ".schema.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

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
