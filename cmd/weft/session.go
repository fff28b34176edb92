package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/weft/internal/cli"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage run sessions in the warehouse",
	Long:  `List, inspect, and remove the session directories runs leave in the warehouse.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadRuntime(cmd)
		if err != nil {
			return err
		}
		sessions, err := cli.ListSessions(cfg.Warehouse)
		if err != nil {
			return fmt.Errorf("error listing sessions: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(sessions) == 0 {
			fmt.Fprintln(out, "No sessions found.")
			return nil
		}
		for _, s := range sessions {
			status := "ok"
			if len(s.Errors) > 0 {
				status = fmt.Sprintf("%d errors", len(s.Errors))
			}
			fmt.Fprintf(out, "- %s\t%s\t%s\t%s\n", s.Name, s.Graph, s.Modified.Format("2006-01-02 15:04:05"), status)
		}
		return nil
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session>",
	Short: "Summarize a session's run log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadRuntime(cmd)
		if err != nil {
			return err
		}
		s, err := cli.InspectSession(cfg.Warehouse, args[0])
		if err != nil {
			return err
		}

		// Pretty print JSON
		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return fmt.Errorf("error marshaling session: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session>...",
	Short: "Remove one or more sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadRuntime(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		hasError := false
		for _, name := range args {
			if err := cli.RemoveSession(cfg.Warehouse, name); err != nil {
				fmt.Fprintf(out, "Error removing '%s': %v\n", name, err)
				hasError = true
				continue
			}
			fmt.Fprintf(out, "Removed session '%s'\n", name)
		}
		if hasError {
			return errors.New("some sessions could not be removed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionInspectCmd)
	sessionCmd.AddCommand(sessionRmCmd)
}
