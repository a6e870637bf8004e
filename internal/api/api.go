package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/joescharf/sprintpilot/internal/agent"
	"github.com/joescharf/sprintpilot/internal/dispatch"
	"github.com/joescharf/sprintpilot/internal/llm"
	"github.com/joescharf/sprintpilot/internal/models"
	"github.com/joescharf/sprintpilot/internal/store"
	"github.com/joescharf/sprintpilot/internal/tracker"
)

// Tracker is the part of the tracker client the editor plugin reaches through
// the local API.
type Tracker interface {
	FetchSprints(ctx context.Context, boardID int) ([]models.Sprint, error)
	FetchIssuesForSprint(ctx context.Context, sprintID int) ([]*models.Issue, error)
	FetchIssuesForProject(ctx context.Context, projectKey string) ([]*models.Issue, error)
	FetchIssue(ctx context.Context, key string) (*models.Issue, error)
	CreateIssue(ctx context.Context, issue *models.Issue) (*models.Issue, error)
	UpdateIssue(ctx context.Context, key string, u tracker.IssueUpdate) error
	FetchIssueStatuses(ctx context.Context, key string) ([]string, error)
	TransitionIssue(ctx context.Context, key, status string) error
	SearchUsers(ctx context.Context, query string) ([]models.UserRef, error)
	CurrentUser(ctx context.Context) (*models.UserRef, error)
	IssueTypes(ctx context.Context, projectKey string) (map[string]string, error)
	FetchEpics(ctx context.Context, projectKey string) ([]models.ParentRef, error)
}

// Dispatcher launches agents on issues.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
}

// Defaults fill in the board and project when a request leaves them out.
type Defaults struct {
	Board   int
	Project string
}

// Server provides the REST API handlers.
type Server struct {
	tracker    Tracker
	dispatcher Dispatcher
	store      store.Store
	llm        *llm.Client
	agents     []string
	defaults   Defaults
}

// NewServer creates a new API server.
// The dispatcher, store and llmClient may be nil; the routes that need them
// answer 503.
func NewServer(t Tracker, d Dispatcher, s store.Store, llmClient *llm.Client, defaults Defaults) *Server {
	return &Server{
		tracker:    t,
		dispatcher: d,
		store:      s,
		llm:        llmClient,
		defaults:   defaults,
	}
}

// SetAgents sets the agent names reported by GET /api/v1/agents.
func (s *Server) SetAgents(names []string) {
	s.agents = names
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/sprints", s.listSprints)
	mux.HandleFunc("GET /api/v1/sprints/{id}/issues", s.listSprintIssues)

	mux.HandleFunc("GET /api/v1/projects/{key}/issues", s.listProjectIssues)
	mux.HandleFunc("GET /api/v1/projects/{key}/issue-types", s.listIssueTypes)
	mux.HandleFunc("GET /api/v1/projects/{key}/epics", s.listEpics)

	mux.HandleFunc("POST /api/v1/issues", s.createIssue)
	mux.HandleFunc("POST /api/v1/issues/draft", s.draftIssue)
	mux.HandleFunc("GET /api/v1/issues/{key}", s.getIssue)
	mux.HandleFunc("PATCH /api/v1/issues/{key}", s.updateIssue)
	mux.HandleFunc("GET /api/v1/issues/{key}/statuses", s.issueStatuses)
	mux.HandleFunc("POST /api/v1/issues/{key}/transition", s.transitionIssue)
	mux.HandleFunc("POST /api/v1/issues/{key}/dispatch", s.dispatchIssue)

	mux.HandleFunc("GET /api/v1/users", s.searchUsers)
	mux.HandleFunc("GET /api/v1/myself", s.currentUser)

	mux.HandleFunc("GET /api/v1/agents", s.listAgents)
	mux.HandleFunc("GET /api/v1/dispatches", s.listDispatches)
	mux.HandleFunc("GET /api/v1/dispatches/{id}", s.getDispatch)
	mux.HandleFunc("POST /api/v1/dispatches/{id}/close", s.closeDispatch)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeTrackerError maps a tracker failure onto a response status.
func writeTrackerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tracker.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, tracker.ErrInvalidIssue):
		writeError(w, http.StatusBadRequest, err.Error())
	case tracker.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case tracker.IsUnauthorized(err), tracker.IsDecode(err), tracker.StatusCode(err) != 0:
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		slog.Warn("tracker request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// --- Sprints ---

func (s *Server) listSprints(w http.ResponseWriter, r *http.Request) {
	board := s.defaults.Board
	if v := r.URL.Query().Get("board"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "board must be a number")
			return
		}
		board = n
	}
	if board == 0 {
		writeError(w, http.StatusBadRequest, "board is required")
		return
	}

	sprints, err := s.tracker.FetchSprints(r.Context(), board)
	if err != nil {
		writeTrackerError(w, err)
		return
	}
	if sprints == nil {
		sprints = []models.Sprint{}
	}
	writeJSON(w, http.StatusOK, sprints)
}

func (s *Server) listSprintIssues(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "sprint id must be a number")
		return
	}
	issues, err := s.tracker.FetchIssuesForSprint(r.Context(), id)
	if err != nil {
		writeTrackerError(w, err)
		return
	}
	writeIssues(w, issues)
}

// --- Projects ---

func (s *Server) projectKey(r *http.Request) string {
	if key := r.PathValue("key"); key != "" && key != "-" {
		return key
	}
	return s.defaults.Project
}

func (s *Server) listProjectIssues(w http.ResponseWriter, r *http.Request) {
	issues, err := s.tracker.FetchIssuesForProject(r.Context(), s.projectKey(r))
	if err != nil {
		writeTrackerError(w, err)
		return
	}
	writeIssues(w, issues)
}

func (s *Server) listIssueTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.tracker.IssueTypes(r.Context(), s.projectKey(r))
	if err != nil {
		writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types)
}

func (s *Server) listEpics(w http.ResponseWriter, r *http.Request) {
	epics, err := s.tracker.FetchEpics(r.Context(), s.projectKey(r))
	if err != nil {
		writeTrackerError(w, err)
		return
	}
	if epics == nil {
		epics = []models.ParentRef{}
	}
	writeJSON(w, http.StatusOK, epics)
}

func writeIssues(w http.ResponseWriter, issues []*models.Issue) {
	if issues == nil {
		issues = []*models.Issue{}
	}
	writeJSON(w, http.StatusOK, issues)
}

// --- Issues ---

func (s *Server) createIssue(w http.ResponseWriter, r *http.Request) {
	var issue models.Issue
	if err := json.NewDecoder(r.Body).Decode(&issue); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if issue.Key != "" {
		writeError(w, http.StatusBadRequest, "key is assigned by the tracker")
		return
	}
	if issue.ProjectKey == "" {
		issue.ProjectKey = s.defaults.Project
	}

	created, err := s.tracker.CreateIssue(r.Context(), &issue)
	if err != nil {
		writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getIssue(w http.ResponseWriter, r *http.Request) {
	issue, err := s.tracker.FetchIssue(r.Context(), r.PathValue("key"))
	if err != nil {
		writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// updateIssue applies a partial update. Only the keys present in the body are
// changed; null clears assignee, parent and storyPoints. assigneeAccountId
// sets the assignee without a name lookup.
func (s *Server) updateIssue(w http.ResponseWriter, r *http.Request) {
	var patch map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	u, err := parseIssuePatch(patch)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if u.Empty() {
		writeError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	key := r.PathValue("key")
	if err := s.tracker.UpdateIssue(r.Context(), key, u); err != nil {
		writeTrackerError(w, err)
		return
	}

	issue, err := s.tracker.FetchIssue(r.Context(), key)
	if err != nil {
		// The update went through; the caller still has its own copy.
		slog.Warn("failed to re-fetch issue after update", "key", key, "error", err)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// parseIssuePatch turns a JSON patch body into an IssueUpdate.
func parseIssuePatch(patch map[string]json.RawMessage) (tracker.IssueUpdate, error) {
	var u tracker.IssueUpdate
	for name, raw := range patch {
		switch name {
		case "summary":
			v, err := patchString(raw, name, false)
			if err != nil {
				return u, err
			}
			u.Summary = v
		case "description":
			v, err := patchString(raw, name, true)
			if err != nil {
				return u, err
			}
			u.Description = v
		case "priority":
			v, err := patchString(raw, name, false)
			if err != nil {
				return u, err
			}
			u.Priority = v
		case "status":
			v, err := patchString(raw, name, false)
			if err != nil {
				return u, err
			}
			u.Status = v
		case "assignee":
			v, err := patchString(raw, name, true)
			if err != nil {
				return u, err
			}
			u.Assignee = v
		case "assigneeAccountId":
			v, err := patchString(raw, name, false)
			if err != nil {
				return u, err
			}
			u.AssigneeAccountID = *v
		case "parent":
			v, err := patchString(raw, name, true)
			if err != nil {
				return u, err
			}
			u.Parent = v
		case "storyPoints":
			u.SetStoryPoints = true
			if string(raw) == "null" {
				continue
			}
			var f float64
			if err := json.Unmarshal(raw, &f); err != nil {
				return u, fmt.Errorf("storyPoints must be a number or null")
			}
			u.StoryPoints = &f
		default:
			return u, fmt.Errorf("unknown field %q", name)
		}
	}
	return u, nil
}

// patchString decodes a string value. With nullable, a JSON null becomes "",
// which clears the field.
func patchString(raw json.RawMessage, name string, nullable bool) (*string, error) {
	if string(raw) == "null" {
		if !nullable {
			return nil, fmt.Errorf("%s cannot be null", name)
		}
		empty := ""
		return &empty, nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%s must be a string", name)
	}
	if !nullable && strings.TrimSpace(v) == "" {
		return nil, fmt.Errorf("%s cannot be empty", name)
	}
	return &v, nil
}

func (s *Server) issueStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.tracker.FetchIssueStatuses(r.Context(), r.PathValue("key"))
	if err != nil {
		writeTrackerError(w, err)
		return
	}
	if statuses == nil {
		statuses = []string{}
	}
	writeJSON(w, http.StatusOK, statuses)
}

// TransitionRequest is the body of POST /api/v1/issues/{key}/transition.
type TransitionRequest struct {
	Status string `json:"status"`
}

func (s *Server) transitionIssue(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	if err := s.tracker.TransitionIssue(r.Context(), r.PathValue("key"), req.Status); err != nil {
		if errors.Is(err, tracker.ErrNoTransition) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeTrackerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DraftRequest is the body of POST /api/v1/issues/draft.
type DraftRequest struct {
	Notes   string `json:"notes"`
	Project string `json:"project,omitempty"`
}

func (s *Server) draftIssue(w http.ResponseWriter, r *http.Request) {
	if s.llm == nil {
		writeError(w, http.StatusServiceUnavailable, "LLM not configured (set anthropic.api_key)")
		return
	}
	var req DraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Notes) == "" {
		writeError(w, http.StatusBadRequest, "notes is required")
		return
	}

	project := req.Project
	if project == "" {
		project = s.defaults.Project
	}
	var typeNames []string
	if types, err := s.tracker.IssueTypes(r.Context(), project); err != nil {
		slog.Warn("failed to load issue types for draft", "project", project, "error", err)
	} else {
		for name := range types {
			typeNames = append(typeNames, name)
		}
	}

	draft, err := s.llm.DraftIssue(r.Context(), req.Notes, typeNames)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// --- Users ---

func (s *Server) searchUsers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	users, err := s.tracker.SearchUsers(r.Context(), query)
	if err != nil {
		writeTrackerError(w, err)
		return
	}
	if users == nil {
		users = []models.UserRef{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.tracker.CurrentUser(r.Context())
	if err != nil {
		writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// --- Dispatch ---

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	names := s.agents
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

// DispatchRequest is the body of POST /api/v1/issues/{key}/dispatch.
type DispatchRequest struct {
	Agent string `json:"agent"`
	Dir   string `json:"dir"`
	Brief bool   `json:"brief"`
}

func (s *Server) dispatchIssue(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		writeError(w, http.StatusServiceUnavailable, "agent dispatch is not available")
		return
	}
	var req DispatchRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	res, err := s.dispatcher.Dispatch(r.Context(), dispatch.Request{
		IssueKey: r.PathValue("key"),
		Agent:    req.Agent,
		Dir:      req.Dir,
		Brief:    req.Brief,
	})
	if err != nil {
		if errors.Is(err, dispatch.ErrUnknownAgent) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if res == nil {
			writeTrackerError(w, err)
			return
		}
		// The dispatch was recorded but the terminal failed.
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "result": res})
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) listDispatches(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "dispatch history is not available")
		return
	}
	q := r.URL.Query()
	filter := store.DispatchFilter{
		IssueKey: q.Get("issue"),
		WorkDir:  q.Get("dir"),
		Limit:    50,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative number")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("status"); v != "" {
		for _, st := range strings.Split(v, ",") {
			filter.Statuses = append(filter.Statuses, models.DispatchStatus(strings.TrimSpace(st)))
		}
	}

	ds, err := s.store.ListDispatches(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ds == nil {
		ds = []*models.Dispatch{}
	}
	writeJSON(w, http.StatusOK, ds)
}

func (s *Server) getDispatch(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "dispatch history is not available")
		return
	}
	d, err := s.store.GetDispatch(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "dispatch not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// CloseDispatchRequest is the body of POST /api/v1/dispatches/{id}/close.
type CloseDispatchRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (s *Server) closeDispatch(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "dispatch history is not available")
		return
	}
	var req CloseDispatchRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	target := models.DispatchStatus(req.Status)
	if target == "" {
		target = models.DispatchStatusCompleted
	}

	d, err := agent.CloseDispatch(r.Context(), s.store, r.PathValue("id"), target, req.Reason)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "dispatch not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d)
}
