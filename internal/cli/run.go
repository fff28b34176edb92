package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aretw0/weft"
	"github.com/aretw0/weft/internal/config"
)

// RunOptions contains all the configuration for the Run command.
type RunOptions struct {
	GraphRef    string
	Prompt      string
	Files       []string // "path" or "path=description"
	SessionName string
	Vars        string // Raw JSON object
	ConfigPath  string
	Warehouse   string // overrides the configured warehouse
	LogLevel    string
	LogFormat   string
	Watch       bool
	JSON        bool
	Quiet       bool
	Debug       bool

	Stdin  io.Reader
	Stdout io.Writer
}

func (o RunOptions) stdout() io.Writer {
	if o.Stdout != nil {
		return o.Stdout
	}
	return os.Stdout
}

// loadConfig reads the runtime config and applies the option overrides.
func (o RunOptions) loadConfig() (config.Runtime, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Runtime{}, err
	}
	if o.Warehouse != "" {
		cfg.Warehouse = o.Warehouse
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.LogFormat = o.LogFormat
	}
	return cfg, nil
}

func (o RunOptions) stdin() io.Reader {
	if o.Stdin != nil {
		return o.Stdin
	}
	return os.Stdin
}

// task builds the run input from the prompt and --file flags.
func (o RunOptions) task() weft.TaskInput {
	b := weft.NewTaskInput().WithPrompt(o.Prompt)
	for _, f := range o.Files {
		path, desc, _ := strings.Cut(f, "=")
		b = b.AddFile(strings.TrimSpace(path), strings.TrimSpace(desc))
	}
	return b.Build()
}

func (o RunOptions) vars() (map[string]any, error) {
	if strings.TrimSpace(o.Vars) == "" {
		return nil, nil
	}
	var vars map[string]any
	if err := json.Unmarshal([]byte(o.Vars), &vars); err != nil {
		return nil, fmt.Errorf("error parsing --vars JSON: %w", err)
	}
	return vars, nil
}

// Execute handles the 'run' command logic, dispatching to Session or Watch mode.
func Execute(opts RunOptions) error {
	if opts.GraphRef == "" {
		return errors.New("a graph file or directory is required")
	}
	if _, err := opts.vars(); err != nil {
		return err
	}

	if opts.Watch {
		if opts.JSON {
			return fmt.Errorf("--watch and --json cannot be used together")
		}
		return RunWatch(opts)
	}
	return RunSession(opts)
}
