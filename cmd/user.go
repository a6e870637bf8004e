package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Look up tracker users",
}

var userSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search users by name or email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return userSearchRun(args[0])
	},
}

var userWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the user the API token belongs to",
	RunE: func(cmd *cobra.Command, args []string) error {
		return userWhoamiRun()
	},
}

func init() {
	userCmd.AddCommand(userSearchCmd)
	userCmd.AddCommand(userWhoamiCmd)
	rootCmd.AddCommand(userCmd)
}

func userSearchRun(query string) error {
	tc, err := getTracker()
	if err != nil {
		return err
	}
	users, err := tc.SearchUsers(context.Background(), query)
	if err != nil {
		return fmt.Errorf("search users: %w", err)
	}
	if len(users) == 0 {
		ui.Info("No users match %q", query)
		return nil
	}

	table := ui.Table([]string{"Name", "Email", "Account ID"})
	for _, u := range users {
		_ = table.Append([]string{u.DisplayName, u.Email, u.AccountID})
	}
	_ = table.Render()
	return nil
}

func userWhoamiRun() error {
	tc, err := getTracker()
	if err != nil {
		return err
	}
	me, err := tc.CurrentUser(context.Background())
	if err != nil {
		return fmt.Errorf("fetch current user: %w", err)
	}
	fmt.Fprintf(ui.Out, "%s <%s>\n", me.DisplayName, me.Email)
	fmt.Fprintf(ui.Out, "  Account ID: %s\n", me.AccountID)
	fmt.Fprintf(ui.Out, "  Site:       %s\n", tc.BaseURL())
	return nil
}
