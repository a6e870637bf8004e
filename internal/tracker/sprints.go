package tracker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/joescharf/sprintpilot/internal/models"
)

// FetchSprints returns the board's sprints, leaving out closed ones.
func (c *Client) FetchSprints(ctx context.Context, boardID int) ([]models.Sprint, error) {
	path := fmt.Sprintf("rest/agile/1.0/board/%d/sprint", boardID)

	var page sprintPage
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &page); err != nil {
		return nil, err
	}

	sprints := make([]models.Sprint, 0, len(page.Values))
	for _, s := range page.Values {
		state := models.SprintState(strings.ToLower(s.State))
		if state == models.SprintStateClosed {
			continue
		}
		board := s.OriginBoardID
		if board == 0 {
			board = boardID
		}
		sprints = append(sprints, models.Sprint{
			ID:      s.ID,
			Name:    s.Name,
			State:   state,
			BoardID: board,
		})
	}
	return sprints, nil
}

// FetchIssuesForSprint returns the issues in a sprint as one page.
func (c *Client) FetchIssuesForSprint(ctx context.Context, sprintID int) ([]*models.Issue, error) {
	path := fmt.Sprintf("rest/agile/1.0/sprint/%d/issue", sprintID)
	query := url.Values{
		"fields":     {strings.Join(c.issueFields(), ",")},
		"maxResults": {fmt.Sprint(searchMaxResults)},
	}

	var page issuePage
	if err := c.do(ctx, http.MethodGet, path, query, nil, &page); err != nil {
		return nil, err
	}
	issues, err := c.toIssues(path, page.Issues)
	if err != nil {
		return nil, err
	}
	c.fillParentColors(ctx, issues)
	return issues, nil
}

// rankInSprint moves an issue into a sprint.
func (c *Client) rankInSprint(ctx context.Context, key string, sprintID int) error {
	body := map[string]any{
		"idOrKeys":     []string{key},
		"sprintId":     sprintID,
		"addToBacklog": false,
	}
	return c.do(ctx, http.MethodPut, "rest/greenhopper/1.0/sprint/rank", nil, body, nil)
}
