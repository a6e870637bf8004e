package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/sprintpilot/internal/accesslog"
	"github.com/joescharf/sprintpilot/internal/agent"
	"github.com/joescharf/sprintpilot/internal/dispatch"
	"github.com/joescharf/sprintpilot/internal/git"
	"github.com/joescharf/sprintpilot/internal/models"
	"github.com/joescharf/sprintpilot/internal/output"
	"github.com/joescharf/sprintpilot/internal/store"
	"github.com/joescharf/sprintpilot/internal/terminal"
	"github.com/joescharf/sprintpilot/internal/tracker"
)

var (
	agentName   string
	agentDir    string
	agentBrief  bool
	agentCopy   bool
	agentIssue  string
	agentOpen   bool
	agentLimit  int
	agentStatus string
	agentReason string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Dispatch coding agents onto issues",
	Long:  "Launch an agent CLI on a tracker issue and track the dispatch history.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentHistoryRun()
	},
}

var agentDispatchCmd = &cobra.Command{
	Use:   "dispatch <key>",
	Short: "Launch an agent on an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentDispatchRun(args[0])
	},
}

var agentHistoryCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"ls"},
	Short:   "Show dispatch history",
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentHistoryRun()
	},
}

var agentCloseCmd = &cobra.Command{
	Use:   "close <dispatch-id>",
	Short: "Mark a dispatch completed, failed or abandoned",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentCloseRun(args[0])
	},
}

var agentReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Abandon open dispatches whose working directory is gone",
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentReconcileRun()
	},
}

var agentListCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the agents that can be dispatched",
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentListRun()
	},
}

func init() {
	agentDispatchCmd.Flags().StringVarP(&agentName, "agent", "a", "", "Agent to launch (default: agent.default)")
	agentDispatchCmd.Flags().StringVar(&agentDir, "dir", "", "Directory to work in (default: current directory)")
	agentDispatchCmd.Flags().BoolVar(&agentBrief, "brief", false, "Ask the LLM for an implementation brief first")
	agentDispatchCmd.Flags().BoolVar(&agentCopy, "copy", false, "Also copy the agent command to the clipboard")

	agentHistoryCmd.Flags().StringVar(&agentIssue, "issue", "", "Only dispatches for this issue key")
	agentHistoryCmd.Flags().BoolVar(&agentOpen, "open", false, "Only dispatches still running")
	agentHistoryCmd.Flags().IntVar(&agentLimit, "limit", 20, "Max dispatches to show")

	agentCloseCmd.Flags().StringVar(&agentStatus, "status", string(models.DispatchStatusCompleted), "Final status: completed, failed or abandoned")
	agentCloseCmd.Flags().StringVar(&agentReason, "reason", "", "Why the dispatch failed or was abandoned")

	agentCmd.AddCommand(agentDispatchCmd)
	agentCmd.AddCommand(agentHistoryCmd)
	agentCmd.AddCommand(agentCloseCmd)
	agentCmd.AddCommand(agentReconcileCmd)
	agentCmd.AddCommand(agentListCmd)
	rootCmd.AddCommand(agentCmd)
}

// configuredAgents returns the built-in agents with agent.templates applied.
func configuredAgents() map[string]dispatch.Agent {
	return dispatch.Agents(viper.GetStringMapString("agent.templates"))
}

// newLauncher builds the terminal launcher selected by terminal.kind. Output
// of the exec launcher goes to out.
func newLauncher(out io.Writer) (terminal.Launcher, string, error) {
	kind := strings.ToLower(viper.GetString("terminal.kind"))
	idle, err := terminal.ParseDuration(viper.GetString("terminal.idle_timeout"))
	if err != nil {
		return nil, "", fmt.Errorf("terminal.idle_timeout: %w", err)
	}
	total, err := terminal.ParseDuration(viper.GetString("terminal.total_timeout"))
	if err != nil {
		return nil, "", fmt.Errorf("terminal.total_timeout: %w", err)
	}

	l, err := terminal.New(kind, terminal.Options{
		Exec: terminal.ExecLauncher{Output: out, IdleTimeout: idle, TotalTimeout: total},
		Tmux: terminal.TmuxLauncher{Socket: viper.GetString("terminal.tmux_socket")},
	})
	if err != nil {
		return nil, "", err
	}
	if kind == "" {
		kind = terminal.KindExec
	}
	return l, kind, nil
}

// newDispatcher wires the dispatcher from config. The store is optional;
// without it dispatches are launched but not recorded.
func newDispatcher(tc *tracker.Client, s store.Store, out io.Writer) (*dispatch.Dispatcher, error) {
	launcher, kind, err := newLauncher(out)
	if err != nil {
		return nil, err
	}

	d := &dispatch.Dispatcher{
		Issues:       tc,
		Launcher:     launcher,
		Agents:       configuredAgents(),
		TerminalKind: kind,
		WaitForExit:  kind == terminal.KindExec,
		DefaultAgent: viper.GetString("agent.default"),
		Git:          git.NewClient(),
		Processes:    &agent.OSProcessDetector{},
		AccessLog: accesslog.New(accesslog.Config{
			Endpoint: viper.GetString("accesslog.endpoint"),
			AppName:  viper.GetString("accesslog.app_name"),
		}),
		User:   viper.GetString("jira.username"),
		Logger: slog.Default(),
	}
	if s != nil {
		d.Store = s
	}
	if lc := newLLMClient(); lc != nil {
		d.Briefer = lc
	}
	return d, nil
}

func agentDispatchRun(key string) error {
	tc, err := getTracker()
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		ui.Warning("Dispatch history unavailable: %v", err)
		s = nil
	}

	if dryRun {
		name := agentName
		if name == "" {
			name = viper.GetString("agent.default")
		}
		ui.DryRunMsg("Would dispatch %s on %s", name, key)
		return nil
	}

	d, err := newDispatcher(tc, s, ui.Out)
	if err != nil {
		return err
	}
	if agentBrief && d.Briefer == nil {
		ui.Warning("No LLM configured; dispatching without a brief")
	}

	ctx := context.Background()
	ui.Info("Dispatching %s", output.Cyan(key))
	res, err := d.Dispatch(ctx, dispatch.Request{
		IssueKey: key,
		Agent:    agentName,
		Dir:      agentDir,
		Brief:    agentBrief,
	})
	if res != nil {
		for _, w := range res.Warnings {
			ui.Warning("%s", w)
		}
	}
	if err != nil {
		return err
	}

	rec := res.Dispatch
	if rec.Status.Open() {
		ui.Success("%s launched in %s (%s)", output.Cyan(rec.Label), rec.WorkDir, rec.Terminal)
	} else {
		ui.Success("%s finished in %s", output.Cyan(rec.Label), rec.WorkDir)
	}
	if rec.Branch != "" {
		ui.VerboseLog("branch %s at %s", rec.Branch, rec.BaseCommit)
	}
	if rec.ID != "" {
		ui.VerboseLog("dispatch id %s", rec.ID)
	}
	if agentCopy {
		if err := clipboard.WriteAll(rec.Command); err != nil {
			ui.Warning("Could not copy command: %v", err)
		} else {
			ui.Info("Command copied to clipboard")
		}
	}
	return nil
}

func agentHistoryRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	filter := store.DispatchFilter{IssueKey: agentIssue, Limit: agentLimit}
	if agentOpen {
		filter.Statuses = []models.DispatchStatus{models.DispatchStatusLaunched}
	}
	ds, err := s.ListDispatches(context.Background(), filter)
	if err != nil {
		return err
	}
	if len(ds) == 0 {
		ui.Info("No dispatches found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Issue", "Agent", "Status", "Terminal", "Started", "Duration", "Dir"})
	for _, d := range ds {
		_ = table.Append([]string{
			shortID(d.ID),
			output.Cyan(d.IssueKey),
			d.Agent,
			output.DispatchStatusColor(string(d.Status)),
			d.Terminal,
			d.StartedAt.Local().Format("2006-01-02 15:04"),
			dispatchDuration(d),
			d.WorkDir,
		})
	}
	_ = table.Render()
	return nil
}

// shortID returns the last 8 characters of a ULID, the random part.
func shortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}

func dispatchDuration(d *models.Dispatch) string {
	if d.EndedAt == nil {
		if d.Status.Open() {
			return "running"
		}
		return ""
	}
	return d.EndedAt.Sub(d.StartedAt).Round(time.Second).String()
}

// resolveDispatch accepts a full id or a unique suffix of one.
func resolveDispatch(ctx context.Context, s store.Store, ref string) (*models.Dispatch, error) {
	if d, err := s.GetDispatch(ctx, ref); err == nil {
		return d, nil
	}
	ds, err := s.ListDispatches(ctx, store.DispatchFilter{})
	if err != nil {
		return nil, err
	}
	var match *models.Dispatch
	for _, d := range ds {
		if strings.HasSuffix(strings.ToUpper(d.ID), strings.ToUpper(ref)) {
			if match != nil {
				return nil, fmt.Errorf("dispatch id %q is ambiguous", ref)
			}
			match = d
		}
	}
	if match == nil {
		return nil, fmt.Errorf("dispatch %q not found", ref)
	}
	return match, nil
}

func agentCloseRun(ref string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	d, err := resolveDispatch(ctx, s, ref)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would mark %s %s", d.Label, agentStatus)
		return nil
	}

	closed, err := agent.CloseDispatch(ctx, s, d.ID, models.DispatchStatus(agentStatus), agentReason)
	if err != nil {
		return err
	}
	ui.Success("%s on %s marked %s", closed.Agent, output.Cyan(closed.IssueKey), output.DispatchStatusColor(string(closed.Status)))
	return nil
}

func agentReconcileRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	open, err := s.ListDispatches(ctx, store.DispatchFilter{
		Statuses: []models.DispatchStatus{models.DispatchStatusLaunched},
	})
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would check %d open dispatches", len(open))
		return nil
	}

	n := agent.ReconcileDispatches(ctx, s, open)
	if n == 0 {
		ui.Info("All %d open dispatches still have a working directory", len(open))
		return nil
	}
	ui.Success("Abandoned %d dispatches with a missing working directory", n)
	return nil
}

func agentListRun() error {
	agents := configuredAgents()
	def := viper.GetString("agent.default")

	table := ui.Table([]string{"Agent", "Binary", "Command"})
	for _, name := range dispatch.AgentNames(agents) {
		a := agents[name]
		label := name
		if name == def {
			label = name + " *"
		}
		_ = table.Append([]string{label, a.Binary, truncate(a.Command, 70)})
	}
	_ = table.Render()
	return nil
}
