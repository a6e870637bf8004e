package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/sprintpilot/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets a coding agent read and edit tracker issues and dispatch other
agents. Configure it in the agent with:

  {
    "mcpServers": {
      "sprintpilot": { "command": "sp", "args": ["mcp"] }
    }
  }

Available tools: sp_list_sprints, sp_list_issues, sp_get_issue,
sp_create_issue, sp_update_issue, sp_issue_statuses, sp_dispatch_agent,
sp_list_dispatches, sp_close_dispatch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun() error {
	tc, err := getTracker()
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	defer s.Close()

	// Stdout carries the protocol, so agent output goes to stderr.
	d, err := newDispatcher(tc, s, os.Stderr)
	if err != nil {
		return err
	}
	d.Detach = true

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	defer stop()

	srv := mcp.NewServer(tc, d, s, mcp.Defaults{
		Board:   viper.GetInt("jira.board"),
		Project: viper.GetString("jira.project"),
	})
	return srv.ServeStdio(ctx, buildVersion)
}
