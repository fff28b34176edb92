// Package process runs local commands on behalf of nodes and tools.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

var (
	// ErrNotRegistered is returned by Execute for names outside the allow-list.
	ErrNotRegistered = errors.New("process not registered")
	// ErrCommandNotFound is returned when the executable cannot be resolved.
	ErrCommandNotFound = errors.New("command not found")
	// ErrTimeout is returned when a command outlives its timeout.
	ErrTimeout = errors.New("command timed out")
)

// DefaultGracePeriod is how long a command may take to exit after being interrupted.
const DefaultGracePeriod = 5 * time.Second

// ArgEnvPrefix prefixes the environment variables that carry tool arguments.
const ArgEnvPrefix = "WEFT_ARG_"

// Command is a single invocation.
type Command struct {
	Path    string
	Args    []string
	Env     []string
	Dir     string
	Timeout time.Duration
}

// Result is what a finished command left behind.
// ExitCode is -1 when the process never started or was killed.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes commands. Named executions follow a strict allow-list.
type Runner struct {
	registry map[string]Registered
	baseDir  string
	grace    time.Duration
	logger   *slog.Logger
}

// Registered is an allowed command.
type Registered struct {
	Command string
	Args    []string
	Env     []string
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithBaseDir sets the default working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// WithGracePeriod sets how long an interrupted process gets before it is killed.
func WithGracePeriod(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.grace = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a new process runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: make(map[string]Registered),
		grace:    DefaultGracePeriod,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted command to the allow-list.
func (r *Runner) Register(name string, command string, args ...string) {
	r.registry[name] = Registered{
		Command: command,
		Args:    args,
	}
}

// Lookup returns the registered command for name.
func (r *Runner) Lookup(name string) (Registered, bool) {
	p, ok := r.registry[name]
	return p, ok
}

// Run executes cmd and waits for it. A non-zero exit is not an error: the code is
// in the result. Errors are reserved for commands that could not run to completion.
func (r *Runner) Run(ctx context.Context, c Command) (Result, error) {
	res := Result{ExitCode: -1}
	if strings.TrimSpace(c.Path) == "" {
		return res, fmt.Errorf("%w: empty command", ErrCommandNotFound)
	}
	if _, err := exec.LookPath(c.Path); err != nil {
		return res, fmt.Errorf("%w: %s", ErrCommandNotFound, c.Path)
	}

	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	if cmd.Dir == "" {
		cmd.Dir = r.baseDir
	}
	cmd.Env = append(cmd.Environ(), c.Env...)
	setProcessGroup(cmd)
	// Our own timeout kills the whole group at once. A cancelled parent gets
	// an interrupt and the grace period to clean up.
	cmd.Cancel = func() error {
		if ctx.Err() == nil {
			return killGroup(cmd)
		}
		return interruptGroup(cmd)
	}
	cmd.WaitDelay = r.grace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case ctx.Err() != nil:
		return res, ctx.Err()
	case runCtx.Err() != nil:
		return res, fmt.Errorf("%w after %s", ErrTimeout, c.Timeout)
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return res, fmt.Errorf("run %s: %w", c.Path, err)
	}
	r.logger.Debug("process finished", "command", c.Path, "exit_code", res.ExitCode, "duration", res.Duration)
	return res, nil
}

// Execute runs the registered command name. Arguments are passed as
// WEFT_ARG_<NAME> environment variables, never as flags, so a caller cannot
// inject options into the command line.
func (r *Runner) Execute(ctx context.Context, name string, args map[string]any) (Result, error) {
	proc, ok := r.registry[name]
	if !ok {
		return Result{ExitCode: -1}, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	env := append([]string(nil), proc.Env...)
	env = append(env, ArgEnv(args)...)
	return r.Run(ctx, Command{
		Path: proc.Command,
		Args: proc.Args,
		Env:  env,
	})
}

// ArgEnv renders args as environment assignments. Primitives are formatted
// directly, everything else as JSON.
func ArgEnv(args map[string]any) []string {
	env := make([]string, 0, len(args))
	for k, v := range args {
		var val string
		switch v.(type) {
		case string, int, int64, float64, bool:
			val = fmt.Sprintf("%v", v)
		case nil:
			val = ""
		default:
			if raw, err := json.Marshal(v); err == nil {
				val = string(raw)
			} else {
				val = fmt.Sprintf("%v", v)
			}
		}
		env = append(env, fmt.Sprintf("%s%s=%s", ArgEnvPrefix, strings.ToUpper(k), val))
	}
	return env
}

// ParseOutput returns JSON-looking stdout as a decoded value, otherwise the
// trimmed text.
func ParseOutput(stdout string) any {
	trimmed := strings.TrimSpace(stdout)
	if (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return trimmed
}
