package tracker

import (
	"context"

	"github.com/joescharf/sprintpilot/internal/async"
	"github.com/joescharf/sprintpilot/internal/models"
)

// Async runs Client calls in the background. Each method returns at once
// with a Future; deliver results to a UI thread with Future.Then.
type Async struct {
	c *Client
}

// NewAsync wraps c.
func NewAsync(c *Client) *Async {
	return &Async{c: c}
}

// Client returns the wrapped client.
func (a *Async) Client() *Client { return a.c }

func (a *Async) FetchSprints(ctx context.Context, boardID int) *async.Future[[]models.Sprint] {
	return async.Go(ctx, func(ctx context.Context) ([]models.Sprint, error) {
		return a.c.FetchSprints(ctx, boardID)
	})
}

func (a *Async) FetchIssuesForSprint(ctx context.Context, sprintID int) *async.Future[[]*models.Issue] {
	return async.Go(ctx, func(ctx context.Context) ([]*models.Issue, error) {
		return a.c.FetchIssuesForSprint(ctx, sprintID)
	})
}

func (a *Async) FetchIssuesForProject(ctx context.Context, projectKey string) *async.Future[[]*models.Issue] {
	return async.Go(ctx, func(ctx context.Context) ([]*models.Issue, error) {
		return a.c.FetchIssuesForProject(ctx, projectKey)
	})
}

func (a *Async) CreateIssue(ctx context.Context, issue *models.Issue) *async.Future[*models.Issue] {
	return async.Go(ctx, func(ctx context.Context) (*models.Issue, error) {
		return a.c.CreateIssue(ctx, issue)
	})
}

func (a *Async) UpdateIssue(ctx context.Context, key string, u IssueUpdate) *async.Future[struct{}] {
	return async.Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.c.UpdateIssue(ctx, key, u)
	})
}

func (a *Async) TransitionIssue(ctx context.Context, key, status string) *async.Future[struct{}] {
	return async.Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.c.TransitionIssue(ctx, key, status)
	})
}

func (a *Async) FetchIssueStatuses(ctx context.Context, key string) *async.Future[[]string] {
	return async.Go(ctx, func(ctx context.Context) ([]string, error) {
		return a.c.FetchIssueStatuses(ctx, key)
	})
}

func (a *Async) SearchUsers(ctx context.Context, query string) *async.Future[[]models.UserRef] {
	return async.Go(ctx, func(ctx context.Context) ([]models.UserRef, error) {
		return a.c.SearchUsers(ctx, query)
	})
}

func (a *Async) IssueTypes(ctx context.Context, projectKey string) *async.Future[map[string]string] {
	return async.Go(ctx, func(ctx context.Context) (map[string]string, error) {
		return a.c.IssueTypes(ctx, projectKey)
	})
}

func (a *Async) FetchIssue(ctx context.Context, key string) *async.Future[*models.Issue] {
	return async.Go(ctx, func(ctx context.Context) (*models.Issue, error) {
		return a.c.FetchIssue(ctx, key)
	})
}

func (a *Async) CurrentUser(ctx context.Context) *async.Future[*models.UserRef] {
	return async.Go(ctx, func(ctx context.Context) (*models.UserRef, error) {
		return a.c.CurrentUser(ctx)
	})
}

func (a *Async) ProjectID(ctx context.Context, key string) *async.Future[string] {
	return async.Go(ctx, func(ctx context.Context) (string, error) {
		return a.c.ProjectID(ctx, key)
	})
}

func (a *Async) FetchEpics(ctx context.Context, projectKey string) *async.Future[[]models.ParentRef] {
	return async.Go(ctx, func(ctx context.Context) ([]models.ParentRef, error) {
		return a.c.FetchEpics(ctx, projectKey)
	})
}
