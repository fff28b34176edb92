package process

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/weft/pkg/tooling"
)

// ToolConfig describes a command exposed to agents as a function tool.
type ToolConfig struct {
	Name        string            `yaml:"name" json:"name"`
	Command     string            `yaml:"command" json:"command"`
	Args        []string          `yaml:"args" json:"args"`
	Environment map[string]string `yaml:"env" json:"env"`
	Description string            `yaml:"description" json:"description"`
	Parameters  map[string]any    `yaml:"parameters" json:"parameters"`
}

// ConfigFile is the layout of tools.yaml.
type ConfigFile struct {
	Tools []ToolConfig `yaml:"tools" json:"tools"`
}

// LoadTools reads a tools file (YAML, or JSON by extension). A missing file
// means no tools are configured.
func LoadTools(path string) (map[string]ToolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]ToolConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read tools config: %w", err)
	}

	var cfg ConfigFile
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	out := make(map[string]ToolConfig, len(cfg.Tools))
	for _, tool := range cfg.Tools {
		if tool.Name == "" {
			continue
		}
		out[tool.Name] = tool
	}
	return out, nil
}

// Definitions registers every tool with r and returns the matching function
// tools. A non-zero exit becomes a tool error carrying stderr.
func Definitions(r *Runner, tools map[string]ToolConfig) []tooling.Definition {
	defs := make([]tooling.Definition, 0, len(tools))
	for name, cfg := range tools {
		r.registry[name] = Registered{
			Command: cfg.Command,
			Args:    cfg.Args,
			Env:     envList(cfg.Environment),
		}
		toolName := name
		defs = append(defs, tooling.Definition{
			Name:        toolName,
			Description: cfg.Description,
			Parameters:  cfg.Parameters,
			Func: func(ctx context.Context, args map[string]any) (any, error) {
				res, err := r.Execute(ctx, toolName, args)
				if err != nil {
					return nil, err
				}
				if res.ExitCode != 0 {
					return nil, fmt.Errorf("exit status %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
				}
				return ParseOutput(res.Stdout), nil
			},
		})
	}
	return defs
}

func envList(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}
