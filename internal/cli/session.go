package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aretw0/weft"
	"github.com/aretw0/weft/internal/config"
	"github.com/aretw0/weft/internal/presentation/tui"
	"github.com/aretw0/weft/pkg/human"
)

// RunSession executes a single run of the graph and prints its final message.
func RunSession(opts RunOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := NewLogger(cfg, opts.Debug)
	out := opts.stdout()
	interactive := !opts.JSON && !opts.Quiet

	if interactive {
		tui.PrintBanner(out, weft.Version)
	}

	engine, err := newSessionEngine(cfg, logger, opts)
	if err != nil {
		return err
	}
	defer engine.Close()

	sigCtx := NewSignalContext(context.Background())
	defer sigCtx.Cancel()

	res, runErr := runOnce(sigCtx, engine, opts)
	if sigCtx.Err() != nil && runErr == nil {
		runErr = sigCtx.Err()
	}

	if res.MetaInfo.SessionName != "" {
		if err := printResult(out, res, opts); err != nil {
			logger.Warn("Failed to print result", "err", err)
		}
		if interactive {
			logCompletion(out, res.MetaInfo.SessionName, runErr, sigCtx.Signal())
		}
		if _, err := engine.Cleanup(res.MetaInfo.SessionName); err != nil {
			logger.Warn("Attachment cleanup failed", "err", err)
		}
	}

	return handleExecutionError(runErr)
}

// newSessionEngine prompts human nodes on the terminal. In JSON mode the
// prompts go to stderr so stdout stays machine readable.
func newSessionEngine(cfg config.Runtime, logger *slog.Logger, opts RunOptions) (*weft.Engine, error) {
	promptOut := opts.stdout()
	var chOpts []human.CLIOption
	if opts.JSON {
		promptOut = os.Stderr
		chOpts = append(chOpts, human.WithMarkdown(false))
	}
	channel := human.NewCLIChannel(opts.stdin(), promptOut, chOpts...)
	return NewEngine(cfg, logger, weft.WithHumanChannel(channel))
}

func runOnce(ctx context.Context, engine *weft.Engine, opts RunOptions) (weft.WorkflowRunResult, error) {
	path, err := ResolveGraphPath(opts.GraphRef)
	if err != nil {
		return weft.WorkflowRunResult{}, err
	}
	vars, err := opts.vars()
	if err != nil {
		return weft.WorkflowRunResult{}, err
	}
	runOpts := []weft.RunOption{weft.WithVars(vars)}
	if opts.SessionName != "" {
		runOpts = append(runOpts, weft.WithSessionName(opts.SessionName))
	}
	return engine.Run(ctx, path, opts.task(), runOpts...)
}

func printResult(w io.Writer, res weft.WorkflowRunResult, opts RunOptions) error {
	if opts.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if res.FinalMessage == nil {
		return nil
	}
	text := tui.FormatMessage(*res.FinalMessage)
	if opts.Quiet {
		_, err := fmt.Fprintln(w, text)
		return err
	}
	rendered, err := tui.NewRenderer()(text)
	if err != nil {
		rendered = text
	}
	fmt.Fprint(w, rendered)
	printSystemMessage(w, "Outputs in %s (log %s).", res.MetaInfo.OutputDir, res.MetaInfo.LogID)
	return nil
}
