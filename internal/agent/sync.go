package agent

import (
	"context"
	"os"

	"github.com/joescharf/sprintpilot/internal/models"
)

// ReconcileDispatches marks launched dispatches whose working directory is
// gone as abandoned. Returns the count of dispatches cleaned up.
func ReconcileDispatches(ctx context.Context, s DispatchStore, dispatches []*models.Dispatch) int {
	cleaned := 0
	for _, d := range dispatches {
		if !d.Status.Open() || d.WorkDir == "" {
			continue
		}
		if _, err := os.Stat(d.WorkDir); err == nil {
			continue
		}
		if _, err := CloseDispatch(ctx, s, d.ID, models.DispatchStatusAbandoned, "working directory removed"); err == nil {
			cleaned++
		}
	}
	return cleaned
}
