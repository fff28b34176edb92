package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/weft/internal/cli"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <graph.yaml | dir>",
	Short: "Run a workflow graph",
	Long: `Runs the graph to completion with the task given by --task and --file.
Human nodes prompt on the terminal. The final message is rendered as markdown,
or printed as JSON with --json.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := cli.RunOptions{GraphRef: args[0]}
		opts.Prompt, _ = cmd.Flags().GetString("task")
		opts.Files, _ = cmd.Flags().GetStringArray("file")
		opts.SessionName, _ = cmd.Flags().GetString("session")
		opts.Vars, _ = cmd.Flags().GetString("vars")
		opts.Watch, _ = cmd.Flags().GetBool("watch")
		opts.JSON, _ = cmd.Flags().GetBool("json")
		opts.Quiet, _ = cmd.Flags().GetBool("quiet")
		opts.ConfigPath, _ = cmd.Flags().GetString("config")
		opts.Debug, _ = cmd.Flags().GetBool("debug")
		opts.Warehouse, _ = cmd.Flags().GetString("warehouse")
		opts.LogLevel, _ = cmd.Flags().GetString("log-level")
		opts.LogFormat, _ = cmd.Flags().GetString("log-format")
		return cli.Execute(opts)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("task", "t", "", "Task prompt handed to the start node")
	runCmd.Flags().StringArrayP("file", "f", nil, "Attach a file, as path or path=description (repeatable)")
	runCmd.Flags().String("session", "", "Session directory name (default: {graph}_{timestamp})")
	runCmd.Flags().String("vars", "", "Run variables as a JSON object")
	runCmd.Flags().Bool("json", false, "Print the run result as JSON")
	runCmd.Flags().BoolP("quiet", "q", false, "Print only the final message")
	runCmd.Flags().BoolP("watch", "w", false, "Re-run the graph whenever its YAML changes")
}
