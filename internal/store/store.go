package store

import (
	"context"

	"github.com/joescharf/sprintpilot/internal/models"
)

// DispatchFilter narrows ListDispatches.
type DispatchFilter struct {
	IssueKey string
	WorkDir  string
	Statuses []models.DispatchStatus
	Limit    int
}

// Store defines the persistence interface for sprintpilot. Only dispatch
// history is stored locally; issues always come from the tracker.
type Store interface {
	CreateDispatch(ctx context.Context, d *models.Dispatch) error
	GetDispatch(ctx context.Context, id string) (*models.Dispatch, error)
	ListDispatches(ctx context.Context, filter DispatchFilter) ([]*models.Dispatch, error)
	UpdateDispatch(ctx context.Context, d *models.Dispatch) error
	DeleteDispatch(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
