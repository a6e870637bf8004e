package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/joescharf/sprintpilot/internal/models"
)

// DispatchStore is the subset of store.Store needed for dispatch lifecycle.
type DispatchStore interface {
	GetDispatch(ctx context.Context, id string) (*models.Dispatch, error)
	UpdateDispatch(ctx context.Context, d *models.Dispatch) error
}

// CloseDispatch moves a launched dispatch to a final status.
// Valid targets: completed, failed, abandoned.
func CloseDispatch(ctx context.Context, s DispatchStore, id string, target models.DispatchStatus, reason string) (*models.Dispatch, error) {
	switch target {
	case models.DispatchStatusCompleted, models.DispatchStatusFailed, models.DispatchStatusAbandoned:
	default:
		return nil, fmt.Errorf("invalid close status %q", target)
	}

	d, err := s.GetDispatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.Status.Open() {
		return nil, fmt.Errorf("dispatch %s is already %s", id, d.Status)
	}

	now := time.Now().UTC()
	d.Status = target
	d.EndedAt = &now
	if reason != "" {
		d.Error = reason
	}

	if err := s.UpdateDispatch(ctx, d); err != nil {
		return nil, fmt.Errorf("update dispatch: %w", err)
	}
	return d, nil
}
