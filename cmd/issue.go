package cmd

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/sprintpilot/internal/async"
	"github.com/joescharf/sprintpilot/internal/edit"
	"github.com/joescharf/sprintpilot/internal/models"
	"github.com/joescharf/sprintpilot/internal/output"
	"github.com/joescharf/sprintpilot/internal/tracker"
)

var (
	issueProject  string
	issueSummary  string
	issueDesc     string
	issueType     string
	issuePriority string
	issueAssignee string
	issueParent   string
	issuePoints   float64
	issueSprint   int
	issueStatus   string
	issueCreate   bool
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "List, create and edit tracker issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun()
	},
}

var issueListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List issues in a project, most recently updated first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun()
	},
}

var issueShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Show issue details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueShowRun(args[0])
	},
}

var issueCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an issue",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueCreateRun(cmd)
	},
}

var issueUpdateCmd = &cobra.Command{
	Use:   "update <key>",
	Short: "Update several fields of an issue at once",
	Long: `Update the fields given as flags. Unset flags are left alone.
Pass an empty --assignee or --parent to clear it, and --points -1 to
clear story points. --status is applied through a workflow transition
after the other fields.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueUpdateRun(cmd, args[0])
	},
}

var issueSetCmd = &cobra.Command{
	Use:   "set <key> <field> <value>",
	Short: "Edit one field, applying it locally before the tracker confirms",
	Long: `Edit a single field: summary, status, description, points, assignee
or parent. The new value is shown right away; if the tracker rejects it
the previous value is restored and the error reported.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueSetRun(args[0], args[1], args[2])
	},
}

var issueStatusesCmd = &cobra.Command{
	Use:   "statuses <key>",
	Short: "List the statuses an issue can move to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueStatusesRun(args[0])
	},
}

var issueTransitionCmd = &cobra.Command{
	Use:   "transition <key> <status>",
	Short: "Move an issue to a status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueTransitionRun(args[0], args[1])
	},
}

var issueTypesCmd = &cobra.Command{
	Use:   "types",
	Short: "List issue types for a project",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueTypesRun()
	},
}

var issueEpicsCmd = &cobra.Command{
	Use:   "epics",
	Short: "List epics that can be used as parents",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueEpicsRun()
	},
}

var issueDraftCmd = &cobra.Command{
	Use:   "draft <notes>",
	Short: "Draft an issue from free-form notes using the LLM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueDraftRun(args[0])
	},
}

func init() {
	issueCmd.PersistentFlags().StringVarP(&issueProject, "project", "p", "", "Project key (default: jira.project)")

	issueCreateCmd.Flags().StringVarP(&issueSummary, "summary", "s", "", "Issue summary")
	issueCreateCmd.Flags().StringVarP(&issueDesc, "desc", "d", "", "Description (plain text)")
	issueCreateCmd.Flags().StringVarP(&issueType, "type", "t", "Task", "Issue type name or id")
	issueCreateCmd.Flags().StringVar(&issuePriority, "priority", "", "Priority name")
	issueCreateCmd.Flags().StringVar(&issueAssignee, "assignee", "", "Assignee account id")
	issueCreateCmd.Flags().StringVar(&issueParent, "parent", "", "Parent issue key")
	issueCreateCmd.Flags().Float64Var(&issuePoints, "points", 0, "Story points")
	issueCreateCmd.Flags().IntVar(&issueSprint, "sprint", 0, "Sprint id to rank the issue into")
	_ = issueCreateCmd.MarkFlagRequired("summary")

	issueUpdateCmd.Flags().StringVarP(&issueSummary, "summary", "s", "", "New summary")
	issueUpdateCmd.Flags().StringVarP(&issueDesc, "desc", "d", "", "New description")
	issueUpdateCmd.Flags().StringVar(&issuePriority, "priority", "", "New priority")
	issueUpdateCmd.Flags().StringVar(&issueAssignee, "assignee", "", "Assignee display name (empty unassigns)")
	issueUpdateCmd.Flags().StringVar(&issueParent, "parent", "", "Parent key (empty removes)")
	issueUpdateCmd.Flags().Float64Var(&issuePoints, "points", 0, "Story points (-1 clears)")
	issueUpdateCmd.Flags().StringVar(&issueStatus, "status", "", "Target status")

	issueDraftCmd.Flags().BoolVar(&issueCreate, "create", false, "Create the drafted issue")

	issueCmd.AddCommand(issueListCmd)
	issueCmd.AddCommand(issueShowCmd)
	issueCmd.AddCommand(issueCreateCmd)
	issueCmd.AddCommand(issueUpdateCmd)
	issueCmd.AddCommand(issueSetCmd)
	issueCmd.AddCommand(issueStatusesCmd)
	issueCmd.AddCommand(issueTransitionCmd)
	issueCmd.AddCommand(issueTypesCmd)
	issueCmd.AddCommand(issueEpicsCmd)
	issueCmd.AddCommand(issueDraftCmd)
	rootCmd.AddCommand(issueCmd)
}

func issueListRun() error {
	project, err := projectArg(issueProject)
	if err != nil {
		return err
	}
	tc, err := getTracker()
	if err != nil {
		return err
	}

	issues, err := tc.FetchIssuesForProject(context.Background(), project)
	if err != nil {
		return fmt.Errorf("fetch issues: %w", err)
	}
	printIssues(issues)
	return nil
}

// printIssues renders issues as a table.
func printIssues(issues []*models.Issue) {
	if len(issues) == 0 {
		ui.Info("No issues found.")
		return
	}

	table := ui.Table([]string{"Key", "Summary", "Status", "Type", "Assignee", "Points", "Parent"})
	for _, issue := range issues {
		_ = table.Append([]string{
			output.Cyan(issue.Key),
			truncate(issue.Summary, 60),
			output.StatusColor(issue.Status),
			issue.Type.Name,
			issue.AssigneeName(),
			output.Points(issue.StoryPoints),
			issue.ParentKey(),
		})
	}
	_ = table.Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func issueShowRun(key string) error {
	tc, err := getTracker()
	if err != nil {
		return err
	}

	// The issue and its workflow options are fetched concurrently.
	ctx := context.Background()
	a := tracker.NewAsync(tc)
	issueF := a.FetchIssue(ctx, key)
	statusF := a.FetchIssueStatuses(ctx, key)

	issue, err := issueF.Wait(ctx)
	if err != nil {
		if tracker.IsNotFound(err) {
			return fmt.Errorf("issue %s not found", key)
		}
		return err
	}
	statuses, err := statusF.Wait(ctx)
	if err != nil {
		ui.VerboseLog("statuses for %s: %v", key, err)
	}
	printIssue(issue, tc.BrowseURL(issue.Key), nextStatuses(issue.Status, statuses))
	return nil
}

// nextStatuses drops the current status from the list of reachable ones.
func nextStatuses(current string, statuses []string) []string {
	var out []string
	for _, s := range statuses {
		if s != current {
			out = append(out, s)
		}
	}
	return out
}

func printIssue(issue *models.Issue, url string, next []string) {
	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(issue.Key), issue.Summary)
	fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(issue.Status))
	if len(next) > 0 {
		fmt.Fprintf(ui.Out, "  Moves to:   %s\n", strings.Join(next, ", "))
	}
	fmt.Fprintf(ui.Out, "  Type:       %s\n", issue.Type.Name)
	if issue.Priority != nil {
		fmt.Fprintf(ui.Out, "  Priority:   %s\n", issue.Priority.Name)
	}
	fmt.Fprintf(ui.Out, "  Assignee:   %s\n", orDash(issue.AssigneeName()))
	if issue.Reporter != nil {
		fmt.Fprintf(ui.Out, "  Reporter:   %s\n", issue.Reporter.DisplayName)
	}
	fmt.Fprintf(ui.Out, "  Points:     %s\n", orDash(output.Points(issue.StoryPoints)))
	if issue.Parent != nil {
		fmt.Fprintf(ui.Out, "  Parent:     %s %s\n", issue.Parent.Key, issue.Parent.Summary)
	}
	if issue.Sprint != nil {
		fmt.Fprintf(ui.Out, "  Sprint:     %s\n", issue.Sprint.Name)
	}
	if url != "" {
		fmt.Fprintf(ui.Out, "  URL:        %s\n", url)
	}
	if issue.Description != "" {
		fmt.Fprintf(ui.Out, "\n%s", output.Markdown(issue.Description, 80))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func issueCreateRun(cmd *cobra.Command) error {
	project, err := projectArg(issueProject)
	if err != nil {
		return err
	}

	issue := &models.Issue{
		Summary:     issueSummary,
		Description: issueDesc,
		ProjectKey:  project,
		Type:        issueTypeRef(issueType),
	}
	if issuePriority != "" {
		issue.Priority = &models.Priority{Name: issuePriority}
	}
	if issueAssignee != "" {
		issue.Assignee = &models.UserRef{AccountID: issueAssignee}
	}
	if issueParent != "" {
		issue.Parent = &models.ParentRef{Key: issueParent}
	}
	if cmd.Flags().Changed("points") {
		p := issuePoints
		issue.StoryPoints = &p
	}
	if issueSprint != 0 {
		issue.Sprint = &models.SprintRef{ID: issueSprint}
	}

	if dryRun {
		ui.DryRunMsg("Would create %s in %s: %s", issueType, project, issue.Summary)
		return nil
	}

	tc, err := getTracker()
	if err != nil {
		return err
	}
	created, err := tc.CreateIssue(context.Background(), issue)
	if err != nil {
		return fmt.Errorf("create issue: %w", err)
	}

	ui.Success("Created %s: %s", output.Cyan(created.Key), created.Summary)
	if url := tc.BrowseURL(created.Key); url != "" {
		ui.Info("%s", url)
	}
	return nil
}

// issueTypeRef treats an all-digit value as a type id.
func issueTypeRef(v string) models.IssueType {
	if _, err := strconv.Atoi(v); err == nil {
		return models.IssueType{ID: v}
	}
	return models.IssueType{Name: v}
}

func issueUpdateRun(cmd *cobra.Command, key string) error {
	var u tracker.IssueUpdate
	flags := cmd.Flags()
	if flags.Changed("summary") {
		u.Summary = &issueSummary
	}
	if flags.Changed("desc") {
		u.Description = &issueDesc
	}
	if flags.Changed("priority") {
		u.Priority = &issuePriority
	}
	if flags.Changed("assignee") {
		u.Assignee = &issueAssignee
	}
	if flags.Changed("parent") {
		u.Parent = &issueParent
	}
	if flags.Changed("points") {
		u.SetStoryPoints = true
		if issuePoints >= 0 {
			p := issuePoints
			u.StoryPoints = &p
		}
	}
	if flags.Changed("status") {
		u.Status = &issueStatus
	}
	if u.Empty() {
		return fmt.Errorf("nothing to update (pass at least one field flag)")
	}

	if dryRun {
		ui.DryRunMsg("Would update %s", key)
		return nil
	}

	tc, err := getTracker()
	if err != nil {
		return err
	}
	if err := tc.UpdateIssue(context.Background(), key, u); err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	ui.Success("Updated %s", output.Cyan(key))
	return nil
}

func issueSetRun(key, field, value string) error {
	tc, err := getTracker()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := tc.FetchIssue(ctx, key)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", key, err)
	}

	var failed bool
	fields := edit.BindIssue(issue, tc, edit.Options{
		Render: func(name string) {
			ui.VerboseLog("%s %s = %s", key, name, fieldValue(issue, name))
		},
		Notify: func(name string, err error) {
			failed = true
			ui.Error("Could not save %s on %s: %v", name, key, err)
			ui.Info("%s restored to %s", name, orDash(fieldValue(issue, name)))
		},
	})

	if dryRun {
		ui.DryRunMsg("Would set %s %s to %q", key, field, value)
		return nil
	}

	commit, err := commitField(ctx, fields, field, value)
	if err != nil {
		return err
	}
	if _, err := commit.Wait(ctx); err != nil {
		if !failed {
			return err
		}
		return fmt.Errorf("%s not changed", field)
	}
	ui.Success("%s %s set to %s", output.Cyan(key), field, orDash(fieldValue(issue, field)))
	return nil
}

// commitField parses value for field and starts the commit.
func commitField(ctx context.Context, f *edit.IssueFields, field, value string) (*async.Future[struct{}], error) {
	switch strings.ToLower(field) {
	case edit.FieldSummary:
		if strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("summary cannot be empty")
		}
		return f.Summary.Commit(ctx, value), nil
	case edit.FieldStatus:
		return f.Status.Commit(ctx, value), nil
	case edit.FieldDescription, "desc":
		return f.Description.Commit(ctx, value), nil
	case "points", strings.ToLower(edit.FieldStoryPoints):
		if value == "" || value == "-" {
			return f.StoryPoints.Commit(ctx, nil), nil
		}
		p, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("points must be a number: %q", value)
		}
		return f.StoryPoints.Commit(ctx, &p), nil
	case edit.FieldAssignee:
		if value == "" || value == "-" {
			return f.Assignee.Commit(ctx, nil), nil
		}
		return f.Assignee.Commit(ctx, &models.UserRef{DisplayName: value}), nil
	case edit.FieldParent:
		if value == "" || value == "-" {
			return f.Parent.Commit(ctx, nil), nil
		}
		return f.Parent.Commit(ctx, &models.ParentRef{Key: value}), nil
	}
	return nil, fmt.Errorf("unknown field %q (want summary, status, description, points, assignee or parent)", field)
}

// fieldValue formats the local value of a field for display.
func fieldValue(issue *models.Issue, field string) string {
	switch strings.ToLower(field) {
	case edit.FieldSummary:
		return issue.Summary
	case edit.FieldStatus:
		return issue.Status
	case edit.FieldDescription, "desc":
		return truncate(issue.Description, 40)
	case "points", strings.ToLower(edit.FieldStoryPoints):
		return output.Points(issue.StoryPoints)
	case edit.FieldAssignee:
		return issue.AssigneeName()
	case edit.FieldParent:
		return issue.ParentKey()
	}
	return ""
}

func issueStatusesRun(key string) error {
	tc, err := getTracker()
	if err != nil {
		return err
	}
	statuses, err := tc.FetchIssueStatuses(context.Background(), key)
	if err != nil {
		return fmt.Errorf("fetch statuses: %w", err)
	}
	for i, s := range statuses {
		marker := " "
		if i == 0 {
			marker = "*"
		}
		fmt.Fprintf(ui.Out, "%s %s\n", marker, output.StatusColor(s))
	}
	return nil
}

func issueTransitionRun(key, status string) error {
	if dryRun {
		ui.DryRunMsg("Would move %s to %s", key, status)
		return nil
	}
	tc, err := getTracker()
	if err != nil {
		return err
	}
	if err := tc.TransitionIssue(context.Background(), key, status); err != nil {
		return fmt.Errorf("transition %s: %w", key, err)
	}
	ui.Success("%s moved to %s", output.Cyan(key), output.StatusColor(status))
	return nil
}

func issueTypesRun() error {
	project, err := projectArg(issueProject)
	if err != nil {
		return err
	}
	tc, err := getTracker()
	if err != nil {
		return err
	}
	types, err := tc.IssueTypes(context.Background(), project)
	if err != nil {
		return fmt.Errorf("fetch issue types: %w", err)
	}

	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)

	table := ui.Table([]string{"Name", "ID"})
	for _, name := range names {
		_ = table.Append([]string{name, types[name]})
	}
	_ = table.Render()
	return nil
}

func issueEpicsRun() error {
	project, err := projectArg(issueProject)
	if err != nil {
		return err
	}
	tc, err := getTracker()
	if err != nil {
		return err
	}
	epics, err := tc.FetchEpics(context.Background(), project)
	if err != nil {
		return fmt.Errorf("fetch epics: %w", err)
	}
	if len(epics) == 0 {
		ui.Info("No epics in %s", project)
		return nil
	}

	table := ui.Table([]string{"Key", "Summary", "Color"})
	for _, e := range epics {
		_ = table.Append([]string{output.Cyan(e.Key), e.Summary, e.Color})
	}
	_ = table.Render()
	return nil
}

func issueDraftRun(notes string) error {
	lc := newLLMClient()
	if lc == nil {
		return fmt.Errorf("LLM not configured (set anthropic.api_key or ANTHROPIC_API_KEY)")
	}
	project, err := projectArg(issueProject)
	if err != nil {
		return err
	}
	tc, err := getTracker()
	if err != nil {
		return err
	}
	ctx := context.Background()

	var typeNames []string
	if types, err := tc.IssueTypes(ctx, project); err != nil {
		ui.Warning("Could not load issue types: %v", err)
	} else {
		for name := range types {
			typeNames = append(typeNames, name)
		}
		sort.Strings(typeNames)
	}

	draft, err := lc.DraftIssue(ctx, notes, typeNames)
	if err != nil {
		return fmt.Errorf("draft issue: %w", err)
	}

	fmt.Fprintf(ui.Out, "%s  [%s/%s]\n", draft.Summary, orDash(draft.Type), orDash(draft.Priority))
	if draft.Description != "" {
		fmt.Fprintf(ui.Out, "\n%s", output.Markdown(draft.Description, 80))
	}
	if !issueCreate {
		return nil
	}
	if dryRun {
		ui.DryRunMsg("Would create drafted issue in %s", project)
		return nil
	}

	issue := &models.Issue{
		Summary:     draft.Summary,
		Description: draft.Description,
		ProjectKey:  project,
		Type:        models.IssueType{Name: draft.Type},
	}
	if issue.Type.Name == "" {
		issue.Type.Name = "Task"
	}
	if draft.Priority != "" {
		issue.Priority = &models.Priority{Name: draft.Priority}
	}
	created, err := tc.CreateIssue(ctx, issue)
	if err != nil {
		return fmt.Errorf("create issue: %w", err)
	}
	fmt.Fprintln(ui.Out)
	ui.Success("Created %s", output.Cyan(created.Key))
	return nil
}
