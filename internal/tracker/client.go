// Package tracker is a typed client for the issue tracker's REST API
// (Jira Cloud path layout). It builds authenticated requests, shapes JSON
// payloads and maps responses onto the models package.
//
// The client keeps no issue state between calls. There is no retry, backoff
// or client-side timeout: a failed call fails once and callers decide what to
// do. Cancellation is only through the caller's context.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

const (
	// DefaultStoryPointsField is the custom field most Jira Cloud sites use
	// for story points. Sites differ; override with Config.StoryPointsField.
	DefaultStoryPointsField = "customfield_10016"

	// DefaultSprintField is the custom field that carries sprint membership
	// in search results.
	DefaultSprintField = "customfield_10020"

	// FallbackProjectKey is used for new issues when neither the issue nor
	// the configuration names a project.
	FallbackProjectKey = "PROJ"

	searchMaxResults = 500
)

// Config holds everything the client needs. It is read once when the client
// is built; Configure replaces the connection settings afterwards.
type Config struct {
	BaseURL  string
	Username string
	APIToken string

	// DefaultProject is the project key used when an issue names none.
	DefaultProject string

	// StoryPointsField is the custom field id holding story points.
	StoryPointsField string

	// SprintField is the custom field id holding sprint membership.
	SprintField string

	// EpicColorField optionally names the field holding an epic's color.
	EpicColorField string

	// StrictTransitions makes TransitionIssue fail with ErrNoTransition
	// instead of logging and returning nil when no transition matches.
	StrictTransitions bool

	// HTTPClient is shared by all calls. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Logger receives diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client talks to one tracker site.
type Client struct {
	mu       sync.RWMutex
	baseURL  string
	username string
	token    string

	project          string
	storyPointsField string
	sprintField      string
	epicColorField   string
	strict           bool

	httpClient *http.Client
	logger     *slog.Logger
}

// New builds a Client from cfg. Blank connection settings leave the client
// unconfigured; calls then fail with ErrNotConfigured.
func New(cfg Config) *Client {
	c := &Client{
		project:          cfg.DefaultProject,
		storyPointsField: cfg.StoryPointsField,
		sprintField:      cfg.SprintField,
		epicColorField:   cfg.EpicColorField,
		strict:           cfg.StrictTransitions,
		httpClient:       cfg.HTTPClient,
		logger:           cfg.Logger,
	}
	if c.storyPointsField == "" {
		c.storyPointsField = DefaultStoryPointsField
	}
	if c.sprintField == "" {
		c.sprintField = DefaultSprintField
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.Configure(cfg.BaseURL, cfg.Username, cfg.APIToken)
	return c
}

// Configure sets the site URL and Basic-Auth credentials. The URL gets a
// trailing slash. If any input is blank the call does nothing; validating
// input is the caller's job.
func (c *Client) Configure(baseURL, username, apiToken string) {
	baseURL = strings.TrimSpace(baseURL)
	username = strings.TrimSpace(username)
	apiToken = strings.TrimSpace(apiToken)
	if baseURL == "" || username == "" || apiToken == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = normalizeBaseURL(baseURL)
	c.username = username
	c.token = apiToken
}

// Configured reports whether the client has a URL and credentials.
func (c *Client) Configured() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL != ""
}

// BaseURL returns the normalized site URL ("" when unconfigured).
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// Username returns the configured account name.
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// BrowseURL returns the web URL of an issue.
func (c *Client) BrowseURL(key string) string {
	base := c.BaseURL()
	if base == "" {
		return ""
	}
	return base + "browse/" + key
}

func normalizeBaseURL(u string) string {
	if !strings.HasSuffix(u, "/") {
		u += "/"
	}
	return u
}

// do sends one request. path is relative to the base URL. A nil out skips
// decoding; a non-nil body is sent as JSON.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	c.mu.RLock()
	base, user, token := c.baseURL, c.username, c.token
	c.mu.RUnlock()
	if base == "" {
		return ErrNotConfigured
	}

	target := base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("tracker: encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("tracker: build request: %w", err)
	}
	req.SetBasicAuth(user, token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tracker: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("tracker: read %s response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &DecodeError{Path: path, Err: err}
	}
	return nil
}
