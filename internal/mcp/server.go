package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/sprintpilot/internal/agent"
	"github.com/joescharf/sprintpilot/internal/dispatch"
	"github.com/joescharf/sprintpilot/internal/models"
	"github.com/joescharf/sprintpilot/internal/store"
	"github.com/joescharf/sprintpilot/internal/tracker"
)

// Tracker is the part of the tracker client the tools use.
type Tracker interface {
	FetchSprints(ctx context.Context, boardID int) ([]models.Sprint, error)
	FetchIssuesForSprint(ctx context.Context, sprintID int) ([]*models.Issue, error)
	FetchIssuesForProject(ctx context.Context, projectKey string) ([]*models.Issue, error)
	FetchIssue(ctx context.Context, key string) (*models.Issue, error)
	CreateIssue(ctx context.Context, issue *models.Issue) (*models.Issue, error)
	UpdateIssue(ctx context.Context, key string, u tracker.IssueUpdate) error
	FetchIssueStatuses(ctx context.Context, key string) ([]string, error)
}

// Dispatcher launches agents on issues.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
}

// Defaults fill in arguments the caller leaves out.
type Defaults struct {
	Board   int
	Project string
}

// Server exposes the tracker and agent dispatch as MCP tools.
type Server struct {
	tracker    Tracker
	dispatcher Dispatcher
	store      store.Store
	defaults   Defaults
}

// NewServer creates the MCP server wrapper. dispatcher and s may be nil, in
// which case the dispatch tools report that dispatch is unavailable.
func NewServer(t Tracker, d Dispatcher, s store.Store, defaults Defaults) *Server {
	return &Server{
		tracker:    t,
		dispatcher: d,
		store:      s,
		defaults:   defaults,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer(version string) *server.MCPServer {
	srv := server.NewMCPServer("sprintpilot", version, server.WithToolCapabilities(true))

	srv.AddTool(s.listSprintsTool())
	srv.AddTool(s.listIssuesTool())
	srv.AddTool(s.getIssueTool())
	srv.AddTool(s.createIssueTool())
	srv.AddTool(s.updateIssueTool())
	srv.AddTool(s.issueStatusesTool())
	srv.AddTool(s.dispatchAgentTool())
	srv.AddTool(s.listDispatchesTool())
	srv.AddTool(s.closeDispatchTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context, version string) error {
	stdioServer := server.NewStdioServer(s.MCPServer(version))
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// sp_list_sprints
func (s *Server) listSprintsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("sp_list_sprints",
		mcp.WithDescription("List the active and future sprints of a board. Closed sprints are never returned."),
		mcp.WithNumber("board", mcp.Description("Board id (defaults to the configured board)")),
	)
	return tool, s.handleListSprints
}

func (s *Server) handleListSprints(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	board := request.GetInt("board", s.defaults.Board)
	if board == 0 {
		return mcp.NewToolResultError("no board given and none configured (jira.board)"), nil
	}
	sprints, err := s.tracker.FetchSprints(ctx, board)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sprints: %v", err)), nil
	}
	return jsonResult(sprints)
}

// sp_list_issues
func (s *Server) listIssuesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("sp_list_issues",
		mcp.WithDescription("List issues of a sprint, or the 500 most recently updated issues of a project when no sprint is given."),
		mcp.WithNumber("sprint", mcp.Description("Sprint id")),
		mcp.WithString("project", mcp.Description("Project key (defaults to the configured project)")),
	)
	return tool, s.handleListIssues
}

func (s *Server) handleListIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var issues []*models.Issue
	var err error
	if sprint := request.GetInt("sprint", 0); sprint != 0 {
		issues, err = s.tracker.FetchIssuesForSprint(ctx, sprint)
	} else {
		project := request.GetString("project", s.defaults.Project)
		if project == "" {
			return mcp.NewToolResultError("give a sprint or a project"), nil
		}
		issues, err = s.tracker.FetchIssuesForProject(ctx, project)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list issues: %v", err)), nil
	}
	if issues == nil {
		issues = []*models.Issue{}
	}
	return jsonResult(issues)
}

// sp_get_issue
func (s *Server) getIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("sp_get_issue",
		mcp.WithDescription("Get one issue by key, including its plain-text description."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Issue key, e.g. PROJ-12")),
	)
	return tool, s.handleGetIssue
}

func (s *Server) handleGetIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := request.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: key"), nil
	}
	issue, err := s.tracker.FetchIssue(ctx, key)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get issue %s: %v", key, err)), nil
	}
	return jsonResult(issue)
}

// sp_create_issue
func (s *Server) createIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("sp_create_issue",
		mcp.WithDescription("Create an issue. Returns the created issue with its server-assigned key. If a sprint is given the issue is ranked into it; a failure there does not fail the creation."),
		mcp.WithString("summary", mcp.Required(), mcp.Description("Issue summary")),
		mcp.WithString("type", mcp.Required(), mcp.Description("Issue type name, e.g. Bug, Story, Task")),
		mcp.WithString("project", mcp.Description("Project key (defaults to the configured project)")),
		mcp.WithString("description", mcp.Description("Plain-text description")),
		mcp.WithString("priority", mcp.Description("Priority name")),
		mcp.WithString("parent", mcp.Description("Parent or epic key")),
		mcp.WithNumber("story_points", mcp.Description("Story point estimate")),
		mcp.WithNumber("sprint", mcp.Description("Sprint id to rank the issue into")),
	)
	return tool, s.handleCreateIssue
}

func (s *Server) handleCreateIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary, err := request.RequireString("summary")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: summary"), nil
	}
	typeName, err := request.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: type"), nil
	}

	issue := &models.Issue{
		Summary:     summary,
		Description: request.GetString("description", ""),
		Type:        models.IssueType{Name: typeName},
		ProjectKey:  request.GetString("project", s.defaults.Project),
	}
	if p := request.GetString("priority", ""); p != "" {
		issue.Priority = &models.Priority{Name: p}
	}
	if p := request.GetString("parent", ""); p != "" {
		issue.Parent = &models.ParentRef{Key: p}
	}
	if pts, ok := numberArg(request, "story_points"); ok {
		issue.StoryPoints = &pts
	}
	if sprint := request.GetInt("sprint", 0); sprint != 0 {
		issue.Sprint = &models.SprintRef{ID: sprint}
	}

	created, err := s.tracker.CreateIssue(ctx, issue)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create issue: %v", err)), nil
	}
	return jsonResult(created)
}

// sp_update_issue
func (s *Server) updateIssueTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("sp_update_issue",
		mcp.WithDescription("Update fields of an issue. Only the fields given are sent. A status change is applied through a workflow transition after the other fields."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Issue key")),
		mcp.WithString("summary", mcp.Description("New summary")),
		mcp.WithString("description", mcp.Description("New plain-text description")),
		mcp.WithString("priority", mcp.Description("New priority name")),
		mcp.WithString("assignee", mcp.Description("Assignee display name; empty string unassigns")),
		mcp.WithString("parent", mcp.Description("Parent key; empty string removes the parent")),
		mcp.WithNumber("story_points", mcp.Description("Story point estimate; negative clears it")),
		mcp.WithString("status", mcp.Description("Target status name")),
	)
	return tool, s.handleUpdateIssue
}

func (s *Server) handleUpdateIssue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := request.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: key"), nil
	}

	var u tracker.IssueUpdate
	u.Summary = stringArg(request, "summary")
	u.Description = stringArg(request, "description")
	u.Priority = stringArg(request, "priority")
	u.Assignee = stringArg(request, "assignee")
	u.Parent = stringArg(request, "parent")
	u.Status = stringArg(request, "status")
	if pts, ok := numberArg(request, "story_points"); ok {
		u.SetStoryPoints = true
		if pts >= 0 {
			u.StoryPoints = &pts
		}
	}
	if u.Empty() {
		return mcp.NewToolResultError("no fields to update"), nil
	}

	if err := s.tracker.UpdateIssue(ctx, key, u); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update issue %s: %v", key, err)), nil
	}

	issue, err := s.tracker.FetchIssue(ctx, key)
	if err != nil {
		return mcp.NewToolResultText(fmt.Sprintf("updated %s", key)), nil
	}
	return jsonResult(issue)
}

// sp_issue_statuses
func (s *Server) issueStatusesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("sp_issue_statuses",
		mcp.WithDescription("List the statuses an issue can move to. The first entry is its current status."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Issue key")),
	)
	return tool, s.handleIssueStatuses
}

func (s *Server) handleIssueStatuses(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := request.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: key"), nil
	}
	statuses, err := s.tracker.FetchIssueStatuses(ctx, key)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list statuses for %s: %v", key, err)), nil
	}
	return jsonResult(statuses)
}

// sp_dispatch_agent
func (s *Server) dispatchAgentTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("sp_dispatch_agent",
		mcp.WithDescription("Hand an issue to an AI coding agent. Opens a terminal in the repository and runs the agent with a prompt built from the issue. Returns the dispatch record and any warnings."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Issue key")),
		mcp.WithString("agent", mcp.Description("Agent name: claude, codex, gemini, cursor or a configured one")),
		mcp.WithString("dir", mcp.Description("Directory to work in (defaults to the server's working directory)")),
		mcp.WithBoolean("brief", mcp.Description("Ask the LLM for an implementation brief to include in the prompt")),
	)
	return tool, s.handleDispatchAgent
}

func (s *Server) handleDispatchAgent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.dispatcher == nil {
		return mcp.NewToolResultError("agent dispatch is not available"), nil
	}
	key, err := request.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: key"), nil
	}

	res, err := s.dispatcher.Dispatch(ctx, dispatch.Request{
		IssueKey: key,
		Agent:    request.GetString("agent", ""),
		Dir:      request.GetString("dir", ""),
		Brief:    request.GetBool("brief", false),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to dispatch %s: %v", key, err)), nil
	}

	type dispatchOut struct {
		Dispatch *models.Dispatch `json:"dispatch"`
		Warnings []string         `json:"warnings,omitempty"`
	}
	return jsonResult(dispatchOut{Dispatch: res.Dispatch, Warnings: res.Warnings})
}

// sp_list_dispatches
func (s *Server) listDispatchesTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("sp_list_dispatches",
		mcp.WithDescription("List recorded agent dispatches, newest first."),
		mcp.WithString("key", mcp.Description("Only dispatches for this issue key")),
		mcp.WithBoolean("open", mcp.Description("Only dispatches still marked launched")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 20)")),
	)
	return tool, s.handleListDispatches
}

func (s *Server) handleListDispatches(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("dispatch history is not available"), nil
	}
	filter := store.DispatchFilter{
		IssueKey: request.GetString("key", ""),
		Limit:    request.GetInt("limit", 20),
	}
	if request.GetBool("open", false) {
		filter.Statuses = []models.DispatchStatus{models.DispatchStatusLaunched}
	}
	ds, err := s.store.ListDispatches(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list dispatches: %v", err)), nil
	}
	if ds == nil {
		ds = []*models.Dispatch{}
	}
	return jsonResult(ds)
}

// sp_close_dispatch
func (s *Server) closeDispatchTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("sp_close_dispatch",
		mcp.WithDescription("Mark a launched dispatch completed, failed or abandoned."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Dispatch id")),
		mcp.WithString("status", mcp.Description("Target status: completed (default), failed, abandoned")),
		mcp.WithString("reason", mcp.Description("Why the dispatch failed or was abandoned")),
	)
	return tool, s.handleCloseDispatch
}

func (s *Server) handleCloseDispatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("dispatch history is not available"), nil
	}
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}
	target := models.DispatchStatus(request.GetString("status", string(models.DispatchStatusCompleted)))

	d, err := agent.CloseDispatch(ctx, s.store, id, target, request.GetString("reason", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to close dispatch: %v", err)), nil
	}
	return jsonResult(d)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// stringArg returns a pointer to the argument when it was given, so an
// explicit empty string can be told apart from an absent one.
func stringArg(request mcp.CallToolRequest, name string) *string {
	v, ok := request.GetArguments()[name]
	if !ok {
		return nil
	}
	str, ok := v.(string)
	if !ok {
		return nil
	}
	return &str
}

func numberArg(request mcp.CallToolRequest, name string) (float64, bool) {
	v, ok := request.GetArguments()[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
