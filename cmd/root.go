package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/sprintpilot/internal/output"
	"github.com/joescharf/sprintpilot/internal/store"
	"github.com/joescharf/sprintpilot/internal/tracker"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "sp",
	Short: "sprintpilot - sprint board, issue editing and agent dispatch",
	Long: `sp works a tracker sprint board from the terminal and the editor.
It lists sprints and issues, edits issue fields, moves issues through
their workflow, and dispatches coding agents (claude, codex, gemini,
cursor) onto an issue in a terminal.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/sprintpilot/config.yaml)")
}

func initConfig() {
	// A project .env is loaded first so SP_* values in it are seen by
	// AutomaticEnv. Variables already set in the environment win.
	_ = godotenv.Load()

	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key with its default value.
func setDefaults() {
	dir, _ := configDirFunc()

	viper.SetDefault("db_path", filepath.Join(dir, "sprintpilot.db"))
	viper.SetDefault("port", 8787)

	viper.SetDefault("jira.base_url", "")
	viper.SetDefault("jira.username", "")
	viper.SetDefault("jira.api_token", "")
	viper.SetDefault("jira.project", "")
	viper.SetDefault("jira.board", 0)
	viper.SetDefault("jira.story_points_field", tracker.DefaultStoryPointsField)
	viper.SetDefault("jira.sprint_field", tracker.DefaultSprintField)
	viper.SetDefault("jira.epic_color_field", "")
	viper.SetDefault("jira.strict_transitions", false)

	viper.SetDefault("agent.default", "claude")
	viper.SetDefault("terminal.kind", "exec")
	viper.SetDefault("terminal.idle_timeout", "")
	viper.SetDefault("terminal.total_timeout", "")
	viper.SetDefault("terminal.tmux_socket", "")

	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "")

	viper.SetDefault("accesslog.endpoint", "")
	viper.SetDefault("accesslog.app_name", "sprintpilot")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// The store and tracker are built lazily, only when commands need them,
	// so config/version run without credentials or a db.
}

// trackerConfig reads the jira.* keys.
func trackerConfig() tracker.Config {
	return tracker.Config{
		BaseURL:           viper.GetString("jira.base_url"),
		Username:          viper.GetString("jira.username"),
		APIToken:          viper.GetString("jira.api_token"),
		DefaultProject:    viper.GetString("jira.project"),
		StoryPointsField:  viper.GetString("jira.story_points_field"),
		SprintField:       viper.GetString("jira.sprint_field"),
		EpicColorField:    viper.GetString("jira.epic_color_field"),
		StrictTransitions: viper.GetBool("jira.strict_transitions"),
	}
}

// trackerClient builds the tracker client from config.
func trackerClient() *tracker.Client {
	return tracker.New(trackerConfig())
}

// getTracker builds the tracker client. Missing credentials are reported
// before any request is made.
func getTracker() (*tracker.Client, error) {
	c := trackerClient()
	if !c.Configured() {
		ui.Warning("Tracker credentials are not configured")
		ui.Info("Set jira.base_url, jira.username and jira.api_token (run 'sp config init')")
		return nil, tracker.ErrNotConfigured
	}
	return c, nil
}

// projectArg returns the explicit project or the configured default.
func projectArg(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if p := viper.GetString("jira.project"); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("no project given (use --project or set jira.project)")
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}
