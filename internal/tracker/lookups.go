package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/joescharf/sprintpilot/internal/models"
)

// SearchUsers finds users whose name or email matches query.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]models.UserRef, error) {
	var raw []userJSON
	if err := c.do(ctx, http.MethodGet, "rest/api/3/user/search", url.Values{"query": {query}}, nil, &raw); err != nil {
		return nil, err
	}
	users := make([]models.UserRef, 0, len(raw))
	for _, u := range raw {
		users = append(users, *u.ref())
	}
	return users, nil
}

// CurrentUser returns the account the client authenticates as.
func (c *Client) CurrentUser(ctx context.Context) (*models.UserRef, error) {
	var raw userJSON
	if err := c.do(ctx, http.MethodGet, "rest/api/3/myself", nil, nil, &raw); err != nil {
		return nil, err
	}
	return raw.ref(), nil
}

// ProjectID resolves a project key to its numeric id.
func (c *Client) ProjectID(ctx context.Context, key string) (string, error) {
	path := "rest/api/3/project/" + url.PathEscape(key)
	var raw projectRefJSON
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &raw); err != nil {
		return "", err
	}
	if raw.ID == "" {
		return "", &DecodeError{Path: path, Err: errors.New("project has no id")}
	}
	return raw.ID, nil
}

// IssueTypes returns the project's standard issue types as name -> id.
// Sub-task and epic-level types are left out. Nothing is cached.
func (c *Client) IssueTypes(ctx context.Context, projectKey string) (map[string]string, error) {
	projectID, err := c.ProjectID(ctx, projectKey)
	if err != nil {
		return nil, fmt.Errorf("resolve project %s: %w", projectKey, err)
	}

	var raw []issueTypeJSON
	query := url.Values{"projectId": {projectID}}
	if err := c.do(ctx, http.MethodGet, "rest/api/3/issuetype/project", query, nil, &raw); err != nil {
		return nil, err
	}

	types := make(map[string]string, len(raw))
	for _, t := range raw {
		if t.HierarchyLevel != 0 || t.Subtask {
			continue
		}
		types[t.Name] = t.ID
	}
	return types, nil
}

// FetchEpics lists a project's open epics for parent selection.
func (c *Client) FetchEpics(ctx context.Context, projectKey string) ([]models.ParentRef, error) {
	jql := fmt.Sprintf("project = %q AND issuetype = Epic AND statusCategory != Done ORDER BY updated DESC", projectKey)
	fields := []string{"summary"}
	if c.epicColorField != "" {
		fields = append(fields, c.epicColorField)
	}

	const path = "rest/api/3/search"
	query := url.Values{
		"jql":        {jql},
		"fields":     {strings.Join(fields, ",")},
		"maxResults": {fmt.Sprint(searchMaxResults)},
	}
	var page issuePage
	if err := c.do(ctx, http.MethodGet, path, query, nil, &page); err != nil {
		return nil, err
	}

	epics := make([]models.ParentRef, 0, len(page.Issues))
	for _, raw := range page.Issues {
		ref := models.ParentRef{Key: raw.Key}
		if err := decodeField(raw.Fields, "summary", &ref.Summary); err != nil {
			return nil, &DecodeError{Path: path, Err: err}
		}
		if c.epicColorField != "" {
			ref.Color = epicColor(raw.Fields[c.epicColorField])
		}
		epics = append(epics, ref)
	}
	return epics, nil
}

// epicColor accepts both a bare color key and the {"key": ...} object form.
func epicColor(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Key string `json:"key"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.Key
	}
	return ""
}

// fillParentColors sets Parent.Color from the epic color field, with one
// search over the distinct parent keys. It does nothing unless the field is
// configured. A failed lookup is logged and leaves the colors empty.
func (c *Client) fillParentColors(ctx context.Context, issues []*models.Issue) {
	if c.epicColorField == "" {
		return
	}
	var keys []string
	seen := make(map[string]bool)
	for _, issue := range issues {
		if issue.Parent == nil || issue.Parent.Color != "" || seen[issue.Parent.Key] {
			continue
		}
		seen[issue.Parent.Key] = true
		keys = append(keys, fmt.Sprintf("%q", issue.Parent.Key))
	}
	if len(keys) == 0 {
		return
	}

	query := url.Values{
		"jql":        {"key in (" + strings.Join(keys, ", ") + ")"},
		"fields":     {c.epicColorField},
		"maxResults": {fmt.Sprint(searchMaxResults)},
	}
	var page issuePage
	if err := c.do(ctx, http.MethodGet, "rest/api/3/search", query, nil, &page); err != nil {
		c.logger.Warn("tracker: parent color lookup failed", "parents", len(keys), "error", err)
		return
	}

	colors := make(map[string]string, len(page.Issues))
	for _, raw := range page.Issues {
		if color := epicColor(raw.Fields[c.epicColorField]); color != "" {
			colors[raw.Key] = color
		}
	}
	for _, issue := range issues {
		if issue.Parent != nil && issue.Parent.Color == "" {
			issue.Parent.Color = colors[issue.Parent.Key]
		}
	}
}
