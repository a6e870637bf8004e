package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/sprintpilot/internal/models"
	"github.com/joescharf/sprintpilot/internal/output"
)

var sprintBoard int

var sprintCmd = &cobra.Command{
	Use:   "sprint",
	Short: "List sprints and their issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sprintListRun()
	},
}

var sprintListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List sprints on a board",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sprintListRun()
	},
}

var sprintIssuesCmd = &cobra.Command{
	Use:   "issues [sprint-id]",
	Short: "List issues in a sprint (default: the active sprint)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var ref string
		if len(args) > 0 {
			ref = args[0]
		}
		return sprintIssuesRun(ref)
	},
}

func init() {
	sprintCmd.PersistentFlags().IntVar(&sprintBoard, "board", 0, "Board id (default: jira.board)")

	sprintCmd.AddCommand(sprintListCmd)
	sprintCmd.AddCommand(sprintIssuesCmd)
	rootCmd.AddCommand(sprintCmd)
}

func boardArg() (int, error) {
	if sprintBoard != 0 {
		return sprintBoard, nil
	}
	if b := viper.GetInt("jira.board"); b != 0 {
		return b, nil
	}
	return 0, fmt.Errorf("no board given (use --board or set jira.board)")
}

func sprintListRun() error {
	board, err := boardArg()
	if err != nil {
		return err
	}
	tc, err := getTracker()
	if err != nil {
		return err
	}

	sprints, err := tc.FetchSprints(context.Background(), board)
	if err != nil {
		return fmt.Errorf("fetch sprints: %w", err)
	}
	if len(sprints) == 0 {
		ui.Info("No active or future sprints on board %d", board)
		return nil
	}

	table := ui.Table([]string{"ID", "Name", "State"})
	for _, s := range sprints {
		state := string(s.State)
		if s.State == models.SprintStateActive {
			state = output.Green(state)
		}
		_ = table.Append([]string{strconv.Itoa(s.ID), s.Name, state})
	}
	_ = table.Render()
	return nil
}

func sprintIssuesRun(ref string) error {
	tc, err := getTracker()
	if err != nil {
		return err
	}
	ctx := context.Background()

	var sprintID int
	if ref != "" {
		sprintID, err = strconv.Atoi(ref)
		if err != nil {
			return fmt.Errorf("sprint id must be a number: %q", ref)
		}
	} else {
		board, err := boardArg()
		if err != nil {
			return err
		}
		sprints, err := tc.FetchSprints(ctx, board)
		if err != nil {
			return fmt.Errorf("fetch sprints: %w", err)
		}
		for _, s := range sprints {
			if s.State == models.SprintStateActive {
				sprintID = s.ID
				break
			}
		}
		if sprintID == 0 {
			return fmt.Errorf("no active sprint on board %d", board)
		}
	}

	issues, err := tc.FetchIssuesForSprint(ctx, sprintID)
	if err != nil {
		return fmt.Errorf("fetch sprint issues: %w", err)
	}
	printIssues(issues)
	return nil
}
