package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studysync-collab/core"
)

func newTestStore(t *testing.T) *stateStore {
	t.Helper()
	if !CGOEnabled {
		t.Skip("sqlite store requires cgo")
	}
	return NewStateStore(filepath.Join(t.TempDir(), "collab-test.db"))
}

func TestStateStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	state := &core.WhiteboardState{
		Paths: []core.Path{
			{ID: "p1", Points: []core.Point{{X: 1, Y: 2}}, Color: "#000000", StrokeWidth: 2, UserID: "u-1", CreatedAt: 1700000000000},
			{ID: "p2", Points: []core.Point{{X: 3, Y: 4}}, CompositeMode: "destination-out", UserID: "u-2"},
		},
		Settings: core.CanvasSettings{Background: "#fafafa", Width: 800, Height: 600},
	}
	require.NoError(t, s.SaveState(ctx, "wb-1", state))

	got, err := s.LoadState(ctx, "wb-1")
	require.NoError(t, err)
	assert.Equal(t, state.Paths, got.Paths)
	assert.Equal(t, state.Settings, got.Settings)
}

func TestStateStore_UnknownArtifactIsEmpty(t *testing.T) {
	s := newTestStore(t)

	got, err := s.LoadState(context.Background(), "never-saved")
	require.NoError(t, err)
	assert.Empty(t, got.Paths)
}

func TestStateStore_OverwriteKeepsLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveState(ctx, "wb-1", &core.WhiteboardState{Paths: []core.Path{{ID: "p1"}}}))
	require.NoError(t, s.SaveState(ctx, "wb-1", &core.WhiteboardState{Paths: []core.Path{{ID: "p1"}, {ID: "p2"}}}))

	got, err := s.LoadState(ctx, "wb-1")
	require.NoError(t, err)
	require.Len(t, got.Paths, 2)
}

func TestStateStore_CheckpointHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < checkpointHistoryLimit+3; i++ {
		require.NoError(t, s.SaveState(ctx, "wb-1", &core.WhiteboardState{Paths: []core.Path{}}))
	}
	require.NoError(t, s.SaveState(ctx, "wb-other", &core.WhiteboardState{Paths: []core.Path{}}))

	checkpoints, err := s.ListCheckpoints(ctx, "wb-1")
	require.NoError(t, err)
	assert.Len(t, checkpoints, checkpointHistoryLimit, "history is pruned to the limit")

	other, err := s.ListCheckpoints(ctx, "wb-other")
	require.NoError(t, err)
	assert.Len(t, other, 1, "history is scoped per artifact")
}
