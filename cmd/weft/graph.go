package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/weft"
	"github.com/aretw0/weft/internal/cli"
	"github.com/aretw0/weft/internal/presentation/graph"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph <graph.yaml | dir>",
	Short: "Export the graph visualization",
	Long: `Loads the graph and outputs a Mermaid diagram (graph TD). With --session,
nodes that ran in that session are highlighted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime(cmd)
		if err != nil {
			return err
		}
		engine, err := weft.New(cfg.Warehouse, weft.WithLogger(logger))
		if err != nil {
			return err
		}
		defer engine.Close()

		ref, err := cli.ResolveGraphPath(args[0])
		if err != nil {
			return err
		}
		g, err := engine.Loader().Load(cmd.Context(), ref)
		if err != nil {
			return fmt.Errorf("error loading graph: %w", err)
		}

		var overlay *graph.GraphOverlay
		if name, _ := cmd.Flags().GetString("session"); name != "" {
			s, err := cli.InspectSession(engine.Warehouse(), name)
			if err != nil {
				return err
			}
			overlay = &graph.GraphOverlay{VisitedNodes: s.Visited, FinalNode: s.LastNode()}
		}

		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(g, overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("session", "", "Highlight the nodes visited in this session")
}
