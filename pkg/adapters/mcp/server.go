// Package mcp exposes weft workflows as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/executor"
	"github.com/aretw0/weft/pkg/graph"
	"github.com/aretw0/weft/pkg/human"
	"github.com/aretw0/weft/pkg/ports"
)

// NodeTypesURI is the resource listing the registered node types.
const NodeTypesURI = "weft://node-types"

// RunRequest is the argument set of the run_workflow tool.
type RunRequest struct {
	Graph       string `json:"graph"`
	Task        string `json:"task"`
	SessionName string `json:"session_name,omitempty"`
}

// RunResponse is the structured result of run_workflow.
type RunResponse struct {
	FinalMessage string            `json:"final_message" jsonschema_description:"Text of the final message"`
	SessionName  string            `json:"session_name" jsonschema_description:"Session the run was stored under"`
	LogID        string            `json:"log_id,omitempty" jsonschema_description:"Structured log id"`
	OutputDir    string            `json:"output_dir,omitempty" jsonschema_description:"Directory holding the run's files"`
	Outputs      map[string]string `json:"outputs,omitempty" jsonschema_description:"Last message text per node"`
	Cancelled    bool              `json:"cancelled" jsonschema_description:"Whether the run was cancelled"`
}

// ValidateResponse is the structured result of validate_graph.
type ValidateResponse struct {
	Valid     bool     `json:"valid"`
	Error     string   `json:"error,omitempty"`
	Nodes     int      `json:"nodes"`
	Edges     int      `json:"edges"`
	BackEdges []string `json:"back_edges,omitempty" jsonschema_description:"Edges closing a cycle, as from->to"`
}

// NodeType describes a registered node type.
type NodeType struct {
	Name          string `json:"name"`
	ResourceKey   string `json:"resource_key,omitempty"`
	ResourceLimit int    `json:"resource_limit,omitempty"`
}

// RunFunc executes a workflow for an MCP client.
type RunFunc func(ctx context.Context, req RunRequest) (RunResponse, error)

// Server exposes run_workflow, validate_graph and list_node_types.
type Server struct {
	run       RunFunc
	registry  *executor.Registry
	loader    ports.GraphLoader
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a new MCP Server instance.
func NewServer(run RunFunc, registry *executor.Registry, loader ports.GraphLoader, version string, opts ...Option) *Server {
	s := &Server{
		run:       run,
		registry:  registry,
		loader:    loader,
		mcpServer: server.NewMCPServer("weft-mcp", strings.TrimSpace(version)),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the SSE transport on port until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	runTool := mcp.NewTool("run_workflow",
		mcp.WithDescription("Run a workflow graph to completion and return its final message."),
		mcp.WithString("graph", mcp.Required(), mcp.Description("Graph reference, e.g. a YAML file name")),
		mcp.WithString("task", mcp.Description("Task prompt handed to the start node")),
		mcp.WithString("session_name", mcp.Description("Session directory name (optional)")),
		mcp.WithOutputSchema[RunResponse](),
	)
	s.mcpServer.AddTool(runTool, mcp.NewStructuredToolHandler(s.handleRunWorkflow))

	validateTool := mcp.NewTool("validate_graph",
		mcp.WithDescription("Load a workflow graph and check its structure and node configs."),
		mcp.WithString("graph", mcp.Required(), mcp.Description("Graph reference")),
		mcp.WithOutputSchema[ValidateResponse](),
	)
	s.mcpServer.AddTool(validateTool, mcp.NewStructuredToolHandler(s.handleValidateGraph))

	s.mcpServer.AddTool(mcp.NewTool("list_node_types",
		mcp.WithDescription("List the node types this runtime can execute."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jsonBytes, err := json.Marshal(s.nodeTypes())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode node types: %v", err)), nil
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})
}

func (s *Server) handleRunWorkflow(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (RunResponse, error) {
	req := RunRequest{}
	req.Graph, _ = args["graph"].(string)
	req.Task, _ = args["task"].(string)
	req.SessionName, _ = args["session_name"].(string)
	if strings.TrimSpace(req.Graph) == "" {
		return RunResponse{}, errors.New("graph is required")
	}
	req.Task = human.Sanitize(req.Task)

	s.logger.Info("MCP run_workflow", "graph", req.Graph, "session", req.SessionName)
	resp, err := s.run(ctx, req)
	if err != nil && !resp.Cancelled {
		s.logger.Error("MCP run_workflow failed", "graph", req.Graph, "err", err)
		return RunResponse{}, fmt.Errorf("run failed: %w", err)
	}
	return resp, nil
}

func (s *Server) handleValidateGraph(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (ValidateResponse, error) {
	ref, _ := args["graph"].(string)
	if strings.TrimSpace(ref) == "" {
		return ValidateResponse{}, errors.New("graph is required")
	}
	return Validate(ctx, s.loader, s.registry, ref), nil
}

// Validate loads ref and reports whether it can run. Failures are reported
// in the response, not as an error.
func Validate(ctx context.Context, loader ports.GraphLoader, registry *executor.Registry, ref string) ValidateResponse {
	g, err := loader.Load(ctx, ref)
	if err != nil {
		return ValidateResponse{Error: err.Error()}
	}
	resp := ValidateResponse{Nodes: len(g.Nodes), Edges: len(g.Edges)}
	for _, ei := range graph.BackEdges(g) {
		e := g.Edges[ei]
		resp.BackEdges = append(resp.BackEdges, e.From+"->"+e.To)
	}
	if registry != nil {
		err = registry.ValidateGraph(g)
	} else {
		err = g.Validate()
	}
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.Valid = true
	return resp
}

func (s *Server) nodeTypes() []NodeType {
	names := s.registry.Types()
	out := make([]NodeType, len(names))
	for i, name := range names {
		caps := s.registry.Capabilities(name)
		out[i] = NodeType{Name: name, ResourceKey: caps.ResourceKey, ResourceLimit: caps.ResourceLimit}
	}
	return out
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(NodeTypesURI, "Registered node types",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(s.nodeTypes())
		if err != nil {
			return nil, fmt.Errorf("failed to encode node types: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      NodeTypesURI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}

// Summarize converts run outputs to the text-only form MCP clients receive.
func Summarize(final *domain.Message, outputs map[string]domain.Message) (string, map[string]string) {
	text := ""
	if final != nil {
		text = final.TextContent()
	}
	out := make(map[string]string, len(outputs))
	for id, m := range outputs {
		out[id] = m.TextContent()
	}
	return text, out
}
