package tracker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordedRequest is a request seen by the fake tracker.
type recordedRequest struct {
	Method string
	Path   string
	Query  map[string][]string
	Body   map[string]any
	User   string
	Pass   string
}

// fakeTracker serves canned responses keyed by "METHOD /path".
type fakeTracker struct {
	t      *testing.T
	srv    *httptest.Server
	mu     sync.Mutex
	routes map[string]http.HandlerFunc
	reqs   []recordedRequest
}

func newFakeTracker(t *testing.T) *fakeTracker {
	t.Helper()
	f := &fakeTracker{t: t, routes: make(map[string]http.HandlerFunc)}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeTracker) serve(w http.ResponseWriter, r *http.Request) {
	rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query()}
	rec.User, rec.Pass, _ = r.BasicAuth()
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &rec.Body)
	}

	f.mu.Lock()
	f.reqs = append(f.reqs, rec)
	h := f.routes[r.Method+" "+r.URL.Path]
	f.mu.Unlock()

	if h == nil {
		http.Error(w, `{"errorMessages":["no route"]}`, http.StatusNotFound)
		return
	}
	h(w, r)
}

func (f *fakeTracker) handle(method, path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+path] = h
}

func (f *fakeTracker) json(method, path string, status int, body string) {
	f.handle(method, path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
}

func (f *fakeTracker) requests(method, path string) []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedRequest
	for _, r := range f.reqs {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeTracker) client(cfg Config) *Client {
	cfg.BaseURL = f.srv.URL
	cfg.Username = "dev@example.com"
	cfg.APIToken = "secret"
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg)
}

func TestConfigure_NormalizesBaseURL(t *testing.T) {
	c := New(Config{})
	c.Configure("https://example.atlassian.net", "u", "t")
	assert.Equal(t, "https://example.atlassian.net/", c.BaseURL())

	c.Configure("https://other.atlassian.net/", "u", "t")
	assert.Equal(t, "https://other.atlassian.net/", c.BaseURL())
}

func TestConfigure_BlankInputIsNoop(t *testing.T) {
	c := New(Config{BaseURL: "https://a.example/", Username: "u", APIToken: "t"})

	c.Configure("", "someone", "token")
	c.Configure("https://b.example", "  ", "token")
	c.Configure("https://b.example", "someone", "")

	assert.Equal(t, "https://a.example/", c.BaseURL())
	assert.Equal(t, "u", c.Username())
}

func TestUnconfiguredClient_FailsBeforeRequest(t *testing.T) {
	c := New(Config{})
	assert.False(t, c.Configured())

	_, err := c.FetchSprints(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestRequests_UseBasicAuth(t *testing.T) {
	f := newFakeTracker(t)
	f.json("GET", "/rest/api/3/myself", 200, `{"accountId":"acc-1","displayName":"Dev"}`)

	user, err := f.client(Config{}).CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "acc-1", user.AccountID)

	reqs := f.requests("GET", "/rest/api/3/myself")
	require.Len(t, reqs, 1)
	assert.Equal(t, "dev@example.com", reqs[0].User)
	assert.Equal(t, "secret", reqs[0].Pass)
}

func TestNonSuccessStatus_ReturnsAPIError(t *testing.T) {
	f := newFakeTracker(t)
	f.json("GET", "/rest/agile/1.0/board/9/sprint", 401, `{"errorMessages":["bad token"]}`)

	_, err := f.client(Config{}).FetchSprints(context.Background(), 9)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "bad token")
	assert.True(t, IsUnauthorized(err))
	assert.False(t, IsDecode(err))
}

func TestMalformedBody_ReturnsDecodeError(t *testing.T) {
	f := newFakeTracker(t)
	f.json("GET", "/rest/agile/1.0/board/9/sprint", 200, `{"values": "nope"`)

	_, err := f.client(Config{}).FetchSprints(context.Background(), 9)
	require.Error(t, err)
	assert.True(t, IsDecode(err))
	assert.Equal(t, 0, StatusCode(err))
}

func TestIsNotFound(t *testing.T) {
	f := newFakeTracker(t)
	_, err := f.client(Config{}).ProjectID(context.Background(), "NOPE")
	assert.True(t, IsNotFound(err))
}
