package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/weft"
	"github.com/aretw0/weft/internal/cli"
	"github.com/aretw0/weft/pkg/adapters/mcp"
)

var validateCmd = &cobra.Command{
	Use:   "validate <graph.yaml | dir>...",
	Short: "Check graphs for consistency",
	Long: `Loads each graph with its subgraphs and checks the structure and every
node's config against its type. Edges closing a cycle are listed.`,
	Args: cobra.MinimumNArgs(1),
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

		out := cmd.OutOrStdout()
		failed := 0
		for _, arg := range args {
			ref, err := cli.ResolveGraphPath(arg)
			if err != nil {
				fmt.Fprintf(out, "%s: %v\n", arg, err)
				failed++
				continue
			}
			res := mcp.Validate(cmd.Context(), engine.Loader(), engine.Registry(), ref)
			if !res.Valid {
				fmt.Fprintf(out, "%s: %s\n", arg, res.Error)
				failed++
				continue
			}
			fmt.Fprintf(out, "%s: valid ✅ (%d nodes, %d edges)\n", arg, res.Nodes, res.Edges)
			if len(res.BackEdges) > 0 {
				fmt.Fprintf(out, "  loops: %s\n", strings.Join(res.BackEdges, ", "))
			}
		}
		if failed > 0 {
			return errors.New("validation failed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
