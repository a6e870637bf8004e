package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/sprintpilot/internal/dispatch"
	"github.com/joescharf/sprintpilot/internal/models"
	"github.com/joescharf/sprintpilot/internal/store"
	"github.com/joescharf/sprintpilot/internal/terminal"
	"github.com/joescharf/sprintpilot/internal/tracker"
)

type fakeTracker struct {
	issues      map[string]*models.Issue
	sprints     []models.Sprint
	boards      []int
	updates     []tracker.IssueUpdate
	transitions []string
	created     *models.Issue
	err         error
	transErr    error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{issues: map[string]*models.Issue{
		"PROJ-1": {Key: "PROJ-1", Summary: "First", Status: "To Do", ProjectKey: "PROJ"},
	}}
}

func (f *fakeTracker) FetchSprints(_ context.Context, boardID int) ([]models.Sprint, error) {
	f.boards = append(f.boards, boardID)
	return f.sprints, f.err
}

func (f *fakeTracker) FetchIssuesForSprint(context.Context, int) ([]*models.Issue, error) {
	return nil, f.err
}

func (f *fakeTracker) FetchIssuesForProject(_ context.Context, key string) ([]*models.Issue, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*models.Issue
	for _, i := range f.issues {
		if i.ProjectKey == key {
			out = append(out, i)
		}
	}
	return out, nil
}

func (f *fakeTracker) FetchIssue(_ context.Context, key string) (*models.Issue, error) {
	if f.err != nil {
		return nil, f.err
	}
	i, ok := f.issues[key]
	if !ok {
		return nil, &tracker.APIError{Method: "GET", Path: "rest/api/3/issue/" + key, StatusCode: http.StatusNotFound}
	}
	return i, nil
}

func (f *fakeTracker) CreateIssue(_ context.Context, issue *models.Issue) (*models.Issue, error) {
	if issue.Summary == "" {
		return nil, tracker.ErrInvalidIssue
	}
	f.created = issue
	out := *issue
	out.Key = issue.ProjectKey + "-2"
	return &out, nil
}

func (f *fakeTracker) UpdateIssue(_ context.Context, key string, u tracker.IssueUpdate) error {
	f.updates = append(f.updates, u)
	if i, ok := f.issues[key]; ok && u.Summary != nil {
		i.Summary = *u.Summary
	}
	return f.err
}

func (f *fakeTracker) FetchIssueStatuses(context.Context, string) ([]string, error) {
	return []string{"To Do", "In Progress", "Done"}, f.err
}

func (f *fakeTracker) TransitionIssue(_ context.Context, key, status string) error {
	f.transitions = append(f.transitions, key+"->"+status)
	return f.transErr
}

func (f *fakeTracker) SearchUsers(_ context.Context, query string) ([]models.UserRef, error) {
	return []models.UserRef{{AccountID: "acc-1", DisplayName: query}}, f.err
}

func (f *fakeTracker) CurrentUser(context.Context) (*models.UserRef, error) {
	return &models.UserRef{AccountID: "me", DisplayName: "Me"}, f.err
}

func (f *fakeTracker) IssueTypes(context.Context, string) (map[string]string, error) {
	return map[string]string{"Bug": "1", "Story": "2"}, f.err
}

func (f *fakeTracker) FetchEpics(context.Context, string) ([]models.ParentRef, error) {
	return nil, f.err
}

type fakeDispatcher struct {
	got dispatch.Request
	err error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req dispatch.Request) (*dispatch.Result, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &dispatch.Result{
		Dispatch: &models.Dispatch{ID: "d1", IssueKey: req.IssueKey, Agent: req.Agent, Status: models.DispatchStatusLaunched},
	}, nil
}

func setupTestServer(t *testing.T) (*Server, *fakeTracker, *fakeDispatcher, store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	ft := newFakeTracker()
	fd := &fakeDispatcher{}
	srv := NewServer(ft, fd, s, nil, Defaults{Board: 7, Project: "PROJ"})
	return srv, ft, fd, s
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestListSprints_DefaultBoard(t *testing.T) {
	srv, ft, _, _ := setupTestServer(t)

	w := do(t, srv, "GET", "/api/v1/sprints", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
	assert.Equal(t, []int{7}, ft.boards)

	w = do(t, srv, "GET", "/api/v1/sprints?board=12", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int{7, 12}, ft.boards)

	w = do(t, srv, "GET", "/api/v1/sprints?board=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListProjectIssues(t *testing.T) {
	srv, _, _, _ := setupTestServer(t)

	w := do(t, srv, "GET", "/api/v1/projects/PROJ/issues", "")
	require.Equal(t, http.StatusOK, w.Code)

	var issues []*models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issues))
	require.Len(t, issues, 1)
	assert.Equal(t, "PROJ-1", issues[0].Key)

	// "-" selects the default project.
	w = do(t, srv, "GET", "/api/v1/projects/-/issues", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issues))
	assert.Len(t, issues, 1)
}

func TestGetIssue_NotFound(t *testing.T) {
	srv, _, _, _ := setupTestServer(t)

	w := do(t, srv, "GET", "/api/v1/issues/PROJ-99", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTrackerErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not configured", tracker.ErrNotConfigured, http.StatusServiceUnavailable},
		{"unauthorized", &tracker.APIError{StatusCode: http.StatusUnauthorized}, http.StatusBadGateway},
		{"server error", &tracker.APIError{StatusCode: http.StatusInternalServerError}, http.StatusBadGateway},
		{"decode", &tracker.DecodeError{Path: "x", Err: errors.New("bad")}, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, ft, _, _ := setupTestServer(t)
			ft.err = tt.err
			w := do(t, srv, "GET", "/api/v1/issues/PROJ-1", "")
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestCreateIssue(t *testing.T) {
	srv, ft, _, _ := setupTestServer(t)

	w := do(t, srv, "POST", "/api/v1/issues", `{"summary":"New thing","issueType":{"name":"Bug"}}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var got models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "PROJ-2", got.Key)
	assert.Equal(t, "PROJ", ft.created.ProjectKey)
	assert.Equal(t, "Bug", ft.created.Type.Name)
}

func TestCreateIssue_Rejects(t *testing.T) {
	srv, _, _, _ := setupTestServer(t)

	w := do(t, srv, "POST", "/api/v1/issues", `{"key":"PROJ-5","summary":"x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, "POST", "/api/v1/issues", `{"issueType":{"name":"Bug"}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, "POST", "/api/v1/issues", `{`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateIssue_Partial(t *testing.T) {
	srv, ft, _, _ := setupTestServer(t)

	w := do(t, srv, "PATCH", "/api/v1/issues/PROJ-1", `{"summary":"Renamed","assignee":null,"storyPoints":null}`)
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, ft.updates, 1)
	u := ft.updates[0]
	require.NotNil(t, u.Summary)
	assert.Equal(t, "Renamed", *u.Summary)
	require.NotNil(t, u.Assignee)
	assert.Equal(t, "", *u.Assignee)
	assert.True(t, u.SetStoryPoints)
	assert.Nil(t, u.StoryPoints)
	assert.Nil(t, u.Status)
	assert.Nil(t, u.Description)

	var got models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Renamed", got.Summary)
}

func TestUpdateIssue_StoryPointsAndStatus(t *testing.T) {
	srv, ft, _, _ := setupTestServer(t)

	w := do(t, srv, "PATCH", "/api/v1/issues/PROJ-1", `{"storyPoints":5,"status":"Done"}`)
	require.Equal(t, http.StatusOK, w.Code)
	u := ft.updates[0]
	require.NotNil(t, u.StoryPoints)
	assert.Equal(t, 5.0, *u.StoryPoints)
	require.NotNil(t, u.Status)
	assert.Equal(t, "Done", *u.Status)
}

func TestUpdateIssue_AssigneeAccountID(t *testing.T) {
	srv, ft, _, _ := setupTestServer(t)

	w := do(t, srv, "PATCH", "/api/v1/issues/PROJ-1", `{"assigneeAccountId":"acc-9"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, ft.updates, 1)
	assert.Equal(t, "acc-9", ft.updates[0].AssigneeAccountID)
	assert.Nil(t, ft.updates[0].Assignee)
}

func TestUpdateIssue_BadPatch(t *testing.T) {
	srv, ft, _, _ := setupTestServer(t)

	for _, body := range []string{
		`{}`,
		`{"summary":null}`,
		`{"summary":"  "}`,
		`{"storyPoints":"five"}`,
		`{"key":"PROJ-2"}`,
		`{"assigneeAccountId":null}`,
		`{"assigneeAccountId":""}`,
	} {
		w := do(t, srv, "PATCH", "/api/v1/issues/PROJ-1", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Empty(t, ft.updates)
}

func TestIssueStatuses(t *testing.T) {
	srv, _, _, _ := setupTestServer(t)

	w := do(t, srv, "GET", "/api/v1/issues/PROJ-1/statuses", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["To Do","In Progress","Done"]`, w.Body.String())
}

func TestTransitionIssue(t *testing.T) {
	srv, ft, _, _ := setupTestServer(t)

	w := do(t, srv, "POST", "/api/v1/issues/PROJ-1/transition", `{"status":"Done"}`)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"PROJ-1->Done"}, ft.transitions)

	w = do(t, srv, "POST", "/api/v1/issues/PROJ-1/transition", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ft.transErr = tracker.ErrNoTransition
	w = do(t, srv, "POST", "/api/v1/issues/PROJ-1/transition", `{"status":"Nowhere"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDraftIssue_NoLLM(t *testing.T) {
	srv, _, _, _ := setupTestServer(t)

	w := do(t, srv, "POST", "/api/v1/issues/draft", `{"notes":"login broken"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestUsers(t *testing.T) {
	srv, _, _, _ := setupTestServer(t)

	w := do(t, srv, "GET", "/api/v1/users?query=ada", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"accountId":"acc-1","displayName":"ada"}]`, w.Body.String())

	w = do(t, srv, "GET", "/api/v1/users", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, "GET", "/api/v1/myself", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"me"`)
}

func TestIssueTypesAndEpics(t *testing.T) {
	srv, _, _, _ := setupTestServer(t)

	w := do(t, srv, "GET", "/api/v1/projects/PROJ/issue-types", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"Bug":"1","Story":"2"}`, w.Body.String())

	w = do(t, srv, "GET", "/api/v1/projects/PROJ/epics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestDispatchIssue(t *testing.T) {
	srv, _, fd, _ := setupTestServer(t)

	w := do(t, srv, "POST", "/api/v1/issues/PROJ-1/dispatch", `{"agent":"codex","dir":"/tmp/repo","brief":true}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, dispatch.Request{IssueKey: "PROJ-1", Agent: "codex", Dir: "/tmp/repo", Brief: true}, fd.got)

	w = do(t, srv, "POST", "/api/v1/issues/PROJ-1/dispatch", "")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "", fd.got.Agent)

	fd.err = dispatch.ErrUnknownAgent
	w = do(t, srv, "POST", "/api/v1/issues/PROJ-1/dispatch", `{"agent":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type issueSource struct{ ft *fakeTracker }

func (i issueSource) FetchIssue(ctx context.Context, key string) (*models.Issue, error) {
	return i.ft.FetchIssue(ctx, key)
}

func (i issueSource) BrowseURL(key string) string { return "https://jira.test/browse/" + key }

func TestDispatchIssue_AgentOutlivesRequest(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	ft := newFakeTracker()
	d := &dispatch.Dispatcher{
		Issues:       issueSource{ft},
		Launcher:     &terminal.ExecLauncher{},
		Agents:       dispatch.Agents(map[string]string{"slow": "sleep 0.3 && touch done"}),
		TerminalKind: terminal.KindExec,
		WaitForExit:  true,
		Detach:       true,
		Store:        s,
	}
	srv := NewServer(ft, d, s, nil, Defaults{Project: "PROJ"})

	dir := t.TempDir()
	body, _ := json.Marshal(DispatchRequest{Agent: "slow", Dir: dir})
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("POST", "/api/v1/issues/PROJ-1/dispatch", bytes.NewReader(body)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	// The client goes away as soon as it has the response.
	cancel()

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res dispatch.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotNil(t, res.Dispatch)
	assert.Equal(t, models.DispatchStatusLaunched, res.Dispatch.Status)

	d.Wait()

	_, err = os.Stat(filepath.Join(dir, "done"))
	assert.NoError(t, err, "agent was killed with the request")

	rec, err := s.GetDispatch(context.Background(), res.Dispatch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DispatchStatusCompleted, rec.Status)
	assert.NotNil(t, rec.EndedAt)
}

func TestDispatchIssue_Unavailable(t *testing.T) {
	srv := NewServer(newFakeTracker(), nil, nil, nil, Defaults{})

	w := do(t, srv, "POST", "/api/v1/issues/PROJ-1/dispatch", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(t, srv, "GET", "/api/v1/dispatches", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDispatchHistory(t *testing.T) {
	srv, _, _, s := setupTestServer(t)
	ctx := context.Background()

	d1 := &models.Dispatch{IssueKey: "PROJ-1", Agent: "claude", Status: models.DispatchStatusLaunched}
	d2 := &models.Dispatch{IssueKey: "PROJ-2", Agent: "codex", Status: models.DispatchStatusFailed}
	require.NoError(t, s.CreateDispatch(ctx, d1))
	require.NoError(t, s.CreateDispatch(ctx, d2))

	w := do(t, srv, "GET", "/api/v1/dispatches", "")
	require.Equal(t, http.StatusOK, w.Code)
	var ds []*models.Dispatch
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ds))
	assert.Len(t, ds, 2)

	w = do(t, srv, "GET", "/api/v1/dispatches?issue=PROJ-1", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ds))
	require.Len(t, ds, 1)
	assert.Equal(t, d1.ID, ds[0].ID)

	w = do(t, srv, "GET", "/api/v1/dispatches?status=failed", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ds))
	require.Len(t, ds, 1)
	assert.Equal(t, d2.ID, ds[0].ID)

	w = do(t, srv, "GET", "/api/v1/dispatches?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, "GET", "/api/v1/dispatches/"+d1.ID, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, "GET", "/api/v1/dispatches/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCloseDispatch(t *testing.T) {
	srv, _, _, s := setupTestServer(t)
	ctx := context.Background()

	d := &models.Dispatch{IssueKey: "PROJ-1", Agent: "claude", Status: models.DispatchStatusLaunched}
	require.NoError(t, s.CreateDispatch(ctx, d))

	w := do(t, srv, "POST", "/api/v1/dispatches/"+d.ID+"/close", `{"status":"abandoned","reason":"superseded"}`)
	require.Equal(t, http.StatusOK, w.Code)

	got, err := s.GetDispatch(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DispatchStatusAbandoned, got.Status)
	assert.Equal(t, "superseded", got.Error)

	// Already closed.
	w = do(t, srv, "POST", "/api/v1/dispatches/"+d.ID+"/close", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, "POST", "/api/v1/dispatches/missing/close", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _, _ := setupTestServer(t)

	w := do(t, srv, "OPTIONS", "/api/v1/issues/PROJ-1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}

func TestListAgents(t *testing.T) {
	srv, _, _, _ := setupTestServer(t)
	srv.SetAgents([]string{"claude", "codex"})

	w := do(t, srv, "GET", "/api/v1/agents", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["claude","codex"]`, w.Body.String())
}
