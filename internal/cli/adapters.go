package cli

import (
	"context"
	"time"

	"github.com/aretw0/weft"
	httpadapter "github.com/aretw0/weft/pkg/adapters/http"
	"github.com/aretw0/weft/pkg/adapters/mcp"
	"github.com/aretw0/weft/pkg/session"
)

// Launcher runs HTTP-started workflows on engine. Human nodes prompt on the
// session's web channel and artifacts go through the session's dispatcher.
// Every run gets its own directory, named after the session and start time.
func Launcher(engine *weft.Engine) httpadapter.LaunchFunc {
	return func(ctx context.Context, s *session.Session, req httpadapter.RunRequest) error {
		b := weft.NewTaskInput().WithPrompt(req.Task)
		for _, path := range req.Attachments {
			b = b.AddFile(path, "")
		}
		name := s.ID + "_" + time.Now().UTC().Format("20060102-150405")
		res, err := engine.Run(ctx, req.Graph, b.Build(),
			weft.WithSessionName(name),
			weft.WithChannel(s.Channel()),
			weft.WithDispatcher(s.Dispatcher),
			weft.WithVars(req.Vars),
		)
		if res.MetaInfo.SessionName != "" {
			s.SetResult(res)
		}
		return err
	}
}

// MCPRunner adapts engine to the MCP run_workflow tool. MCP clients cannot
// answer prompts, so human nodes use whatever channel the engine was built with.
func MCPRunner(engine *weft.Engine) mcp.RunFunc {
	return func(ctx context.Context, req mcp.RunRequest) (mcp.RunResponse, error) {
		var opts []weft.RunOption
		if req.SessionName != "" {
			opts = append(opts, weft.WithSessionName(req.SessionName))
		}
		res, err := engine.Run(ctx, req.Graph, weft.Prompt(req.Task), opts...)
		if res.MetaInfo.SessionName == "" {
			return mcp.RunResponse{}, err
		}
		final, outputs := mcp.Summarize(res.FinalMessage, res.MetaInfo.Outputs)
		return mcp.RunResponse{
			FinalMessage: final,
			SessionName:  res.MetaInfo.SessionName,
			LogID:        res.MetaInfo.LogID,
			OutputDir:    res.MetaInfo.OutputDir,
			Outputs:      outputs,
			Cancelled:    res.Cancelled,
		}, err
	}
}
