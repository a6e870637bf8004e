package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/joescharf/sprintpilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDispatchStore implements DispatchStore using an in-memory map.
type mockDispatchStore struct {
	dispatches map[string]*models.Dispatch
}

func (m *mockDispatchStore) GetDispatch(_ context.Context, id string) (*models.Dispatch, error) {
	d, ok := m.dispatches[id]
	if !ok {
		return nil, fmt.Errorf("dispatch %s not found", id)
	}
	return d, nil
}

func (m *mockDispatchStore) UpdateDispatch(_ context.Context, d *models.Dispatch) error {
	if _, ok := m.dispatches[d.ID]; !ok {
		return fmt.Errorf("dispatch %s not found", d.ID)
	}
	m.dispatches[d.ID] = d
	return nil
}

func newMockStore(ds ...*models.Dispatch) *mockDispatchStore {
	m := &mockDispatchStore{dispatches: make(map[string]*models.Dispatch)}
	for _, d := range ds {
		m.dispatches[d.ID] = d
	}
	return m
}

func TestCloseDispatch_Completed(t *testing.T) {
	store := newMockStore(&models.Dispatch{ID: "d-1", Status: models.DispatchStatusLaunched})

	d, err := CloseDispatch(context.Background(), store, "d-1", models.DispatchStatusCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, models.DispatchStatusCompleted, d.Status)
	assert.NotNil(t, d.EndedAt)
	assert.Empty(t, d.Error)
}

func TestCloseDispatch_FailedKeepsReason(t *testing.T) {
	store := newMockStore(&models.Dispatch{ID: "d-1", Status: models.DispatchStatusLaunched})

	d, err := CloseDispatch(context.Background(), store, "d-1", models.DispatchStatusFailed, "agent crashed")
	require.NoError(t, err)
	assert.Equal(t, "agent crashed", d.Error)
}

func TestCloseDispatch_AlreadyClosed(t *testing.T) {
	store := newMockStore(&models.Dispatch{ID: "d-1", Status: models.DispatchStatusAbandoned})

	_, err := CloseDispatch(context.Background(), store, "d-1", models.DispatchStatusCompleted, "")
	assert.ErrorContains(t, err, "already abandoned")
}

func TestCloseDispatch_InvalidTarget(t *testing.T) {
	store := newMockStore(&models.Dispatch{ID: "d-1", Status: models.DispatchStatusLaunched})

	_, err := CloseDispatch(context.Background(), store, "d-1", models.DispatchStatusLaunched, "")
	assert.Error(t, err)
	assert.Equal(t, models.DispatchStatusLaunched, store.dispatches["d-1"].Status)
}

func TestCloseDispatch_NotFound(t *testing.T) {
	_, err := CloseDispatch(context.Background(), newMockStore(), "missing", models.DispatchStatusCompleted, "")
	assert.Error(t, err)
}

func TestReconcileDispatches(t *testing.T) {
	live := t.TempDir()
	ds := []*models.Dispatch{
		{ID: "live", WorkDir: live, Status: models.DispatchStatusLaunched},
		{ID: "gone", WorkDir: "/nonexistent/sprintpilot/dir", Status: models.DispatchStatusLaunched},
		{ID: "done", WorkDir: "/nonexistent/sprintpilot/dir", Status: models.DispatchStatusCompleted},
		{ID: "nodir", Status: models.DispatchStatusLaunched},
	}
	store := newMockStore(ds...)

	n := ReconcileDispatches(context.Background(), store, ds)
	assert.Equal(t, 1, n)
	assert.Equal(t, models.DispatchStatusAbandoned, store.dispatches["gone"].Status)
	assert.Equal(t, models.DispatchStatusLaunched, store.dispatches["live"].Status)
	assert.Equal(t, models.DispatchStatusCompleted, store.dispatches["done"].Status)
}
