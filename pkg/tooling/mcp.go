package tooling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPServer describes a stdio MCP server to spawn.
type MCPServer struct {
	Command string   `mapstructure:"command" yaml:"command" json:"command,omitempty"`
	Args    []string `mapstructure:"args" yaml:"args" json:"args,omitempty"`
	Env     []string `mapstructure:"env" yaml:"env" json:"env,omitempty"`
}

// MCPSource exposes the tools of an MCP server.
type MCPSource struct {
	client *client.Client
}

// OpenMCPSource spawns cfg.Server and performs the MCP handshake.
func OpenMCPSource(ctx context.Context, cfg Config) (Source, error) {
	if strings.TrimSpace(cfg.Server.Command) == "" {
		return nil, errors.New("mcp tool source requires server.command")
	}
	c, err := client.NewStdioMCPClient(cfg.Server.Command, cfg.Server.Env, cfg.Server.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to start mcp server %s: %w", cfg.Server.Command, err)
	}
	src, err := NewMCPSource(ctx, c)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return src, nil
}

// NewMCPSource initializes an already started client.
func NewMCPSource(ctx context.Context, c *client.Client) (*MCPSource, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "weft", Version: "dev"}
	if _, err := c.Initialize(ctx, req); err != nil {
		return nil, fmt.Errorf("mcp initialize: %w", err)
	}
	return &MCPSource{client: c}, nil
}

// Tools lists the server's tools. Each definition calls back into the server.
func (s *MCPSource) Tools(ctx context.Context) ([]Definition, error) {
	res, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcp list tools: %w", err)
	}
	out := make([]Definition, 0, len(res.Tools))
	for _, t := range res.Tools {
		name := t.Name
		out = append(out, Definition{
			Name:        name,
			Description: t.Description,
			Parameters:  inputSchema(t),
			Func: func(ctx context.Context, args map[string]any) (any, error) {
				return s.call(ctx, name, args)
			},
		})
	}
	return out, nil
}

func (s *MCPSource) call(ctx context.Context, name string, args map[string]any) (any, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := s.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcp call %s: %w", name, err)
	}
	var parts []string
	for _, c := range res.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
			continue
		}
		raw, _ := json.Marshal(c)
		parts = append(parts, string(raw))
	}
	text := strings.Join(parts, "\n")
	if res.IsError {
		return nil, errors.New(text)
	}
	if res.StructuredContent != nil && text == "" {
		return res.StructuredContent, nil
	}
	return text, nil
}

// Close stops the server.
func (s *MCPSource) Close() error {
	return s.client.Close()
}

func inputSchema(t mcp.Tool) map[string]any {
	if len(t.RawInputSchema) > 0 {
		var m map[string]any
		if err := json.Unmarshal(t.RawInputSchema, &m); err == nil {
			return m
		}
	}
	raw, err := json.Marshal(t.InputSchema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
