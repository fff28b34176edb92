package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/aretw0/weft/pkg/adapters/process"
	"github.com/aretw0/weft/pkg/domain"
)

var pythonSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"interpreter":     map[string]any{"type": "string"},
		"timeout_seconds": map[string]any{"type": "number", "exclusiveMinimum": 0},
		"args":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"env": map[string]any{
			"type":                 "object",
			"additionalProperties": map[string]any{"type": "string"},
		},
		"keep_history": map[string]any{"type": "boolean"},
	},
}

// Python executor defaults and the environment it exports to scripts.
const (
	DefaultInterpreter    = "python3"
	DefaultPythonTimeout  = 60 * time.Second
	CodeFailurePrefix     = "==CODE EXECUTION FAILED=="
	EnvCodeWorkspace      = "MAC_CODE_WORKSPACE"
	EnvCodeScript         = "MAC_CODE_SCRIPT"
	EnvNodeID             = "MAC_NODE_ID"
	interpreterVarName    = "python_interpreter"
	pythonRunCounterScope = "python:"
)

var (
	fencedBlock = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\r?\n(.*?)```")
	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
)

// PythonConfig configures a python node.
type PythonConfig struct {
	Interpreter    string            `mapstructure:"interpreter"`
	TimeoutSeconds float64           `mapstructure:"timeout_seconds"`
	Args           []string          `mapstructure:"args"`
	Env            map[string]string `mapstructure:"env"`
	KeepHistory    bool              `mapstructure:"keep_history"`
}

// Python writes the code found in its latest input to the workspace and runs it.
type Python struct {
	rc      *Context
	cfg     PythonConfig
	timeout time.Duration
}

// NewPython is the python factory. The interpreter falls back to the
// python_interpreter run var, then python3.
func NewPython(rc *Context, node domain.Node) (Executor, error) {
	var cfg PythonConfig
	if err := DecodeConfig(node.Config, &cfg); err != nil {
		return nil, fmt.Errorf("python %s: %w", node.ID, err)
	}
	if cfg.Interpreter == "" {
		if v, ok := rc.Var(interpreterVarName); ok {
			cfg.Interpreter, _ = v.(string)
		}
	}
	if cfg.Interpreter == "" {
		cfg.Interpreter = DefaultInterpreter
	}
	timeout := DefaultPythonTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds * float64(time.Second))
	}
	return &Python{rc: rc, cfg: cfg, timeout: timeout}, nil
}

// ExtractCode returns the first fenced block of text, or the whole text.
func ExtractCode(text string) string {
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

// SafeID turns a node id into a file name component.
func SafeID(id string) string {
	s := strings.Trim(unsafeChars.ReplaceAllString(id, "_"), "_")
	if s == "" {
		return "node"
	}
	return s
}

func (p *Python) Execute(ctx context.Context, node domain.Node, inputs []domain.Message) ([]domain.Message, error) {
	if err := p.rc.CheckCancelled(ctx); err != nil {
		return nil, err
	}
	run := p.rc.Increment(pythonRunCounterScope + node.ID)
	workspace := p.rc.Workspace
	if workspace == "" {
		workspace = filepath.Join(os.TempDir(), "weft-code")
	}

	var code string
	if len(inputs) > 0 {
		code = ExtractCode(inputs[len(inputs)-1].TextContent())
	}
	if code == "" {
		return p.failure(node, -1, "no code segment found in input", workspace, ""), nil
	}

	name := SafeID(node.ID)
	if p.cfg.KeepHistory && run > 1 {
		name = fmt.Sprintf("%s_run-%d", name, run)
	}
	script := filepath.Join(workspace, name+".py")
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("python %s: workspace: %w", node.ID, err)
	}
	if err := os.WriteFile(script, []byte(code+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("python %s: write script: %w", node.ID, err)
	}

	env := []string{
		EnvCodeWorkspace + "=" + workspace,
		EnvCodeScript + "=" + script,
		EnvNodeID + "=" + node.ID,
	}
	for k, v := range p.cfg.Env {
		env = append(env, k+"="+v)
	}
	args := append(append([]string(nil), p.cfg.Args...), script)

	runner := p.rc.Process
	if runner == nil {
		runner = process.NewRunner(process.WithLogger(p.rc.logger()))
	}
	p.rc.Log.Info(node.ID, "python run", map[string]any{"script_path": script, "run": run, "interpreter": p.cfg.Interpreter})
	res, err := runner.Run(ctx, process.Command{
		Path:    p.cfg.Interpreter,
		Args:    args,
		Env:     env,
		Dir:     workspace,
		Timeout: p.timeout,
	})
	switch {
	case ctx.Err() != nil:
		return nil, domain.Cancelled(ctx)
	case errors.Is(err, process.ErrTimeout):
		return p.failure(node, -1, fmt.Sprintf("execution timed out after %s\n%s", p.timeout, res.Stderr), workspace, script), nil
	case errors.Is(err, process.ErrCommandNotFound):
		return p.failure(node, -1, fmt.Sprintf("interpreter %q not found", p.cfg.Interpreter), workspace, script), nil
	case err != nil:
		return p.failure(node, res.ExitCode, err.Error(), workspace, script), nil
	case res.ExitCode != 0:
		return p.failure(node, res.ExitCode, res.Stderr, workspace, script), nil
	}

	msg := domain.NewMessage(domain.RoleAssistant, res.Stdout).
		WithMeta(domain.MetaSource, node.ID).
		WithMeta("workspace", workspace).
		WithMeta("script_path", script)
	return []domain.Message{msg}, nil
}

func (p *Python) failure(node domain.Node, exitCode int, stderr, workspace, script string) []domain.Message {
	p.rc.Log.Warn(node.ID, "python execution failed", map[string]any{"exit_code": exitCode, "script_path": script})
	text := CodeFailurePrefix
	if detail := strings.TrimSpace(stderr); detail != "" {
		text += "\n" + detail
	}
	msg := domain.NewMessage(domain.RoleAssistant, text).
		WithMeta(domain.MetaSource, node.ID).
		WithMeta("exit_code", exitCode).
		WithMeta("stderr", stderr).
		WithMeta("workspace", workspace).
		WithMeta("script_path", script)
	return []domain.Message{msg}
}
