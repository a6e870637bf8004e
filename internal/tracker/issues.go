package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/joescharf/sprintpilot/internal/adf"
	"github.com/joescharf/sprintpilot/internal/models"
)

// ErrInvalidIssue is returned when an issue lacks fields required to create it.
var ErrInvalidIssue = errors.New("tracker: invalid issue")

// FetchIssuesForProject returns up to 500 issues of a project, most recently
// updated first. No further pages are requested.
func (c *Client) FetchIssuesForProject(ctx context.Context, projectKey string) ([]*models.Issue, error) {
	jql := fmt.Sprintf("project = %q ORDER BY updated DESC", projectKey)
	issues, err := c.search(ctx, jql, c.issueFields())
	if err != nil {
		return nil, err
	}
	c.fillParentColors(ctx, issues)
	return issues, nil
}

func (c *Client) search(ctx context.Context, jql string, fields []string) ([]*models.Issue, error) {
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
	return c.toIssues(path, page.Issues)
}

// FetchIssue returns a single issue.
func (c *Client) FetchIssue(ctx context.Context, key string) (*models.Issue, error) {
	path := "rest/api/3/issue/" + url.PathEscape(key)
	query := url.Values{"fields": {strings.Join(c.issueFields(), ",")}}

	var raw issueJSON
	if err := c.do(ctx, http.MethodGet, path, query, nil, &raw); err != nil {
		return nil, err
	}
	issue, err := c.toIssue(raw)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	c.fillParentColors(ctx, []*models.Issue{issue})
	return issue, nil
}

// CreateIssue creates issue and returns a copy carrying the server-assigned
// key. Summary and an issue type (id or name) are required. When a sprint is
// set the issue is ranked into it afterwards; that step is best-effort and a
// failure there is logged without failing the creation.
func (c *Client) CreateIssue(ctx context.Context, issue *models.Issue) (*models.Issue, error) {
	if issue == nil || strings.TrimSpace(issue.Summary) == "" {
		return nil, fmt.Errorf("%w: summary is required", ErrInvalidIssue)
	}
	if issue.Type.ID == "" && issue.Type.Name == "" {
		return nil, fmt.Errorf("%w: issue type is required", ErrInvalidIssue)
	}

	project := issue.ProjectKey
	if project == "" {
		project = c.project
	}
	if project == "" {
		project = FallbackProjectKey
	}

	fields := map[string]any{
		"project": map[string]string{"key": project},
		"summary": issue.Summary,
	}
	if issue.Type.ID != "" {
		fields["issuetype"] = map[string]string{"id": issue.Type.ID}
	} else {
		fields["issuetype"] = map[string]string{"name": issue.Type.Name}
	}
	if issue.Description != "" {
		fields["description"] = adf.Encode(issue.Description)
	}
	if issue.Priority != nil && issue.Priority.Name != "" {
		fields["priority"] = map[string]string{"name": issue.Priority.Name}
	}
	if issue.Parent != nil && issue.Parent.Key != "" {
		fields["parent"] = map[string]string{"key": issue.Parent.Key}
	}
	if issue.StoryPoints != nil {
		fields[c.storyPointsField] = *issue.StoryPoints
	}
	if issue.Assignee != nil {
		if issue.Assignee.AccountID != "" {
			fields["assignee"] = map[string]string{"accountId": issue.Assignee.AccountID}
		} else if issue.Assignee.DisplayName != "" {
			fields["assignee"] = c.assigneeValue(ctx, issue.Assignee.DisplayName)
		}
	}

	const path = "rest/api/3/issue"
	var created createdJSON
	if err := c.do(ctx, http.MethodPost, path, nil, map[string]any{"fields": fields}, &created); err != nil {
		return nil, err
	}
	if created.Key == "" {
		return nil, &DecodeError{Path: path, Err: errors.New("response has no issue key")}
	}

	out := *issue
	out.Key = created.Key
	out.ProjectKey = project
	c.logger.Info("tracker: issue created", "key", out.Key, "project", project)

	if issue.Sprint != nil && issue.Sprint.ID != 0 {
		if err := c.rankInSprint(ctx, out.Key, issue.Sprint.ID); err != nil {
			c.logger.Warn("tracker: issue created but sprint assignment failed",
				"key", out.Key, "sprint", issue.Sprint.ID, "error", err)
		}
	}
	return &out, nil
}

// IssueUpdate names the fields to change. Nil pointers are left alone.
type IssueUpdate struct {
	Summary     *string
	Description *string
	Priority    *string

	// Assignee is a display name; "" unassigns.
	Assignee *string

	// AssigneeAccountID sets the assignee by account id, skipping the
	// display-name lookup. It wins over Assignee.
	AssigneeAccountID string

	// Parent is an issue key; "" removes the parent.
	Parent *string

	// SetStoryPoints marks StoryPoints as present; a nil StoryPoints clears it.
	SetStoryPoints bool
	StoryPoints    *float64

	// Status is applied through a workflow transition after the field update.
	Status *string
}

// Empty reports whether the update changes nothing.
func (u IssueUpdate) Empty() bool {
	return u.Summary == nil && u.Description == nil && u.Priority == nil &&
		u.Assignee == nil && u.AssigneeAccountID == "" && u.Parent == nil &&
		!u.SetStoryPoints && u.Status == nil
}

// UpdateIssue writes the fields present in u. Status is never sent as a field;
// it goes through TransitionIssue once the field update has succeeded.
func (c *Client) UpdateIssue(ctx context.Context, key string, u IssueUpdate) error {
	fields := c.updateFields(ctx, u)
	if len(fields) > 0 {
		path := "rest/api/3/issue/" + url.PathEscape(key)
		if err := c.do(ctx, http.MethodPut, path, nil, map[string]any{"fields": fields}, nil); err != nil {
			return err
		}
	}
	if u.Status != nil {
		return c.TransitionIssue(ctx, key, *u.Status)
	}
	return nil
}

// updateFields builds the partial fields payload for u.
func (c *Client) updateFields(ctx context.Context, u IssueUpdate) map[string]any {
	fields := make(map[string]any)
	if u.Summary != nil {
		fields["summary"] = *u.Summary
	}
	if u.Description != nil {
		fields["description"] = adf.Encode(*u.Description)
	}
	if u.Priority != nil {
		fields["priority"] = map[string]string{"name": *u.Priority}
	}
	if u.AssigneeAccountID != "" {
		fields["assignee"] = map[string]string{"accountId": u.AssigneeAccountID}
	} else if u.Assignee != nil {
		if *u.Assignee == "" {
			fields["assignee"] = nil
		} else {
			fields["assignee"] = c.assigneeValue(ctx, *u.Assignee)
		}
	}
	if u.Parent != nil {
		if *u.Parent == "" {
			fields["parent"] = nil
		} else {
			fields["parent"] = map[string]string{"key": *u.Parent}
		}
	}
	if u.SetStoryPoints {
		if u.StoryPoints == nil {
			fields[c.storyPointsField] = nil
		} else {
			fields[c.storyPointsField] = *u.StoryPoints
		}
	}
	return fields
}

// assigneeValue resolves a display name to an account id. If the lookup
// fails or finds nobody the raw name is sent instead and a warning logged.
func (c *Client) assigneeValue(ctx context.Context, displayName string) map[string]string {
	users, err := c.SearchUsers(ctx, displayName)
	if err == nil {
		if id := pickAccount(users, displayName); id != "" {
			return map[string]string{"accountId": id}
		}
		err = errors.New("no matching user")
	}
	c.logger.Warn("tracker: assignee lookup failed, sending raw name",
		"name", displayName, "error", err)
	return map[string]string{"name": displayName}
}

// pickAccount prefers an exact display-name match, then the first result.
func pickAccount(users []models.UserRef, name string) string {
	for _, u := range users {
		if strings.EqualFold(u.DisplayName, name) && u.AccountID != "" {
			return u.AccountID
		}
	}
	for _, u := range users {
		if u.AccountID != "" {
			return u.AccountID
		}
	}
	return ""
}
