// Package dispatch hands a tracker issue to an AI coding agent: it renders
// the agent's command line from a template, opens a terminal session in the
// issue's repository, runs the command there and records the dispatch.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joescharf/sprintpilot/internal/accesslog"
	"github.com/joescharf/sprintpilot/internal/agent"
	"github.com/joescharf/sprintpilot/internal/git"
	"github.com/joescharf/sprintpilot/internal/models"
	"github.com/joescharf/sprintpilot/internal/terminal"
)

// ErrUnknownAgent is returned for an agent name with no command template.
var ErrUnknownAgent = errors.New("dispatch: unknown agent")

// IssueSource loads the issue being dispatched.
type IssueSource interface {
	FetchIssue(ctx context.Context, key string) (*models.Issue, error)
	BrowseURL(key string) string
}

// Briefer writes an implementation brief for an issue.
type Briefer interface {
	AgentBrief(ctx context.Context, issue *models.Issue) (string, error)
}

// Recorder persists dispatch history.
type Recorder interface {
	CreateDispatch(ctx context.Context, d *models.Dispatch) error
	UpdateDispatch(ctx context.Context, d *models.Dispatch) error
}

// Dispatcher launches agents. Issues, Launcher and Agents are required; the
// rest are optional.
type Dispatcher struct {
	Issues   IssueSource
	Launcher terminal.Launcher
	Agents   map[string]Agent

	// TerminalKind is recorded on each dispatch.
	TerminalKind string

	// WaitForExit marks launchers whose Run blocks until the agent exits, so
	// the outcome can be recorded as completed or failed.
	WaitForExit bool

	// Detach runs blocking sessions in the background, detached from the
	// request context. Dispatch then returns as soon as the session is open
	// and the outcome is recorded when the agent exits.
	Detach bool

	DefaultAgent string
	Store        Recorder
	Git          git.Client
	Processes    agent.ProcessDetector
	Briefer      Briefer
	AccessLog    *accesslog.Client
	User         string
	Logger       *slog.Logger

	running sync.WaitGroup
}

// Request names the issue and agent to dispatch.
type Request struct {
	IssueKey string

	// Issue, when set, is used instead of fetching IssueKey.
	Issue *models.Issue

	Agent string

	// Dir is the directory to work in; the enclosing git repository root is
	// used when there is one.
	Dir string

	// Brief asks the Briefer for an implementation brief to embed.
	Brief bool
}

// Result describes a launched dispatch.
type Result struct {
	Dispatch *models.Dispatch
	Issue    *models.Issue

	// Warnings are non-fatal problems found while launching.
	Warnings []string
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Label is the terminal label for an agent working on an issue.
func Label(agentName, key string) string {
	return agentName + ":" + key
}

// Dispatch launches req.Agent on the issue. Launch failures after the
// dispatch was recorded mark it failed and are returned.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	res := &Result{}
	warn := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		res.Warnings = append(res.Warnings, msg)
		d.logger().Warn("dispatch: " + msg)
	}

	name := req.Agent
	if name == "" {
		name = d.DefaultAgent
	}
	if name == "" {
		name = DefaultAgent
	}
	ag, ok := d.Agents[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %v)", ErrUnknownAgent, name, AgentNames(d.Agents))
	}

	issue := req.Issue
	if issue == nil {
		if req.IssueKey == "" {
			return nil, errors.New("dispatch: issue key is required")
		}
		var err error
		issue, err = d.Issues.FetchIssue(ctx, req.IssueKey)
		if err != nil {
			return nil, fmt.Errorf("fetch issue %s: %w", req.IssueKey, err)
		}
	}
	res.Issue = issue

	workDir := d.workDir(req.Dir, warn)

	if d.Processes != nil && ag.Binary != "" && d.Processes.IsRunning(ag.Binary, workDir) {
		warn("%s is already running in %s", ag.Binary, workDir)
	}

	data := TemplateData{
		Key:         issue.Key,
		Summary:     issue.Summary,
		Description: issue.Description,
		Type:        issue.Type.Name,
		Status:      issue.Status,
		URL:         d.Issues.BrowseURL(issue.Key),
		WorkDir:     workDir,
	}
	if req.Brief {
		data.Brief = d.brief(ctx, issue, warn)
	}

	command, err := ag.Render(data)
	if err != nil {
		return nil, err
	}

	label := Label(ag.Name, issue.Key)
	rec := &models.Dispatch{
		IssueKey: issue.Key,
		Agent:    ag.Name,
		Command:  command,
		WorkDir:  workDir,
		Terminal: d.TerminalKind,
		Label:    label,
		Status:   models.DispatchStatusLaunched,
	}
	agent.EnrichDispatchWithGitInfo(rec, d.Git)
	res.Dispatch = rec

	if d.Store != nil {
		if err := d.Store.CreateDispatch(ctx, rec); err != nil {
			warn("record dispatch: %v", err)
		}
	}

	d.AccessLog.Log(ctx, "dispatch", d.User, fmt.Sprintf("%s %s", ag.Name, issue.Key))

	session, err := d.Launcher.Open(ctx, workDir, label)
	if err != nil {
		d.finish(ctx, rec, models.DispatchStatusFailed, err.Error(), warn)
		return res, fmt.Errorf("launch %s: %w", label, err)
	}

	if d.Detach && d.WaitForExit {
		// The caller gets a snapshot; the goroutine owns rec from here on.
		snapshot := *rec
		res.Dispatch = &snapshot
		bg := context.WithoutCancel(ctx)
		d.running.Add(1)
		go func() {
			defer d.running.Done()
			d.complete(bg, rec, session.Run(bg, command), func(format string, args ...any) {
				d.logger().Warn("dispatch: "+fmt.Sprintf(format, args...), "label", label)
			})
		}()
		return res, nil
	}

	if runErr := d.complete(ctx, rec, session.Run(ctx, command), warn); runErr != nil {
		return res, fmt.Errorf("launch %s: %w", label, runErr)
	}
	return res, nil
}

// complete records the outcome of a session run and returns runErr.
func (d *Dispatcher) complete(ctx context.Context, rec *models.Dispatch, runErr error, warn func(string, ...any)) error {
	switch {
	case runErr != nil:
		d.finish(ctx, rec, models.DispatchStatusFailed, runErr.Error(), warn)
	case d.WaitForExit:
		d.finish(ctx, rec, models.DispatchStatusCompleted, "", warn)
	}
	return runErr
}

// Wait blocks until every detached agent has exited.
func (d *Dispatcher) Wait() {
	d.running.Wait()
}

// workDir resolves dir to its repository root, falling back to dir.
func (d *Dispatcher) workDir(dir string, warn func(string, ...any)) string {
	if dir == "" {
		dir = "."
	}
	if d.Git == nil {
		return dir
	}
	root, err := d.Git.RepoRoot(dir)
	if err != nil || root == "" {
		warn("%s is not inside a git repository", dir)
		return dir
	}
	return root
}

func (d *Dispatcher) brief(ctx context.Context, issue *models.Issue, warn func(string, ...any)) string {
	if d.Briefer == nil {
		warn("no LLM configured, dispatching without a brief")
		return ""
	}
	brief, err := d.Briefer.AgentBrief(ctx, issue)
	if err != nil {
		warn("brief for %s: %v", issue.Key, err)
		return ""
	}
	return brief
}

func (d *Dispatcher) finish(ctx context.Context, rec *models.Dispatch, status models.DispatchStatus, reason string, warn func(string, ...any)) {
	now := time.Now().UTC()
	rec.Status = status
	rec.Error = reason
	rec.EndedAt = &now
	if d.Store == nil || rec.ID == "" {
		return
	}
	if err := d.Store.UpdateDispatch(ctx, rec); err != nil {
		warn("update dispatch: %v", err)
	}
}
