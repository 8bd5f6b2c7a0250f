package collab

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studysync-collab/core"
)

type recordingStore struct {
	mu      sync.Mutex
	saves   []*core.WhiteboardState
	failN   int
	started chan struct{}
	release chan struct{}
}

func (s *recordingStore) LoadState(ctx context.Context, artifactID string) (*core.WhiteboardState, error) {
	return core.EmptyWhiteboardState(), nil
}

func (s *recordingStore) SaveState(ctx context.Context, artifactID string, state *core.WhiteboardState) error {
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failN > 0 {
		s.failN--
		return errors.New("persistence gateway unavailable")
	}
	snap := &core.WhiteboardState{
		Paths:    append([]core.Path{}, state.Paths...),
		Settings: state.Settings,
	}
	s.saves = append(s.saves, snap)
	return nil
}

func (s *recordingStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func (s *recordingStore) lastSave() *core.WhiteboardState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return nil
	}
	return s.saves[len(s.saves)-1]
}

func path(id string) core.Path {
	return core.Path{
		ID:     id,
		Points: []core.Point{{X: 0, Y: 0}, {X: 10, Y: 10}},
		Color:  "#000000",
		UserID: "u-a",
	}
}

func newWhiteboardFixture(t *testing.T, store core.StateStore, debounce time.Duration) (*Registry, *Synchronizer, *mockConn, *mockConn) {
	t.Helper()
	r := NewRegistry()
	s := NewSynchronizer(r, store, debounce)
	a := &mockConn{id: "a"}
	b := &mockConn{id: "b"}
	join(r, core.RoomKindWhiteboard, "wb-1", a, "u-a")
	join(r, core.RoomKindWhiteboard, "wb-1", b, "u-b")
	return r, s, a, b
}

func TestSynchronizer_SubmitPathIdempotent(t *testing.T) {
	store := &recordingStore{}
	_, s, a, b := newWhiteboardFixture(t, store, time.Hour)

	s.SubmitPaths("wb-1", "a", []core.Path{path("p1")})
	s.SubmitPaths("wb-1", "b", []core.Path{path("p1")})

	assert.Len(t, s.Paths("wb-1"), 1, "duplicate id merges to one entry")

	// the duplicate is still rebroadcast for reconnect catch-up
	assert.Len(t, a.receivedOf(EventWhiteboardSync), 1)
	assert.Len(t, b.receivedOf(EventWhiteboardSync), 1)
}

func TestSynchronizer_RemoveAbsentStillBroadcasts(t *testing.T) {
	store := &recordingStore{}
	_, s, a, b := newWhiteboardFixture(t, store, time.Hour)

	s.RemovePaths("wb-1", "a", []string{"never-seen"})

	assert.Empty(t, a.received())
	got := b.receivedOf(EventWhiteboardSync)
	require.Len(t, got, 1)
	payload, ok := got[0].payload.(WhiteboardSyncPayload)
	require.True(t, ok)
	require.NotNil(t, payload.Meta)
	assert.Equal(t, SyncActionRemove, payload.Meta.Action)
	assert.Equal(t, []string{"never-seen"}, payload.Meta.PathIDs)
}

func TestSynchronizer_RemoveThenResubmit(t *testing.T) {
	store := &recordingStore{}
	_, s, _, _ := newWhiteboardFixture(t, store, time.Hour)

	s.SubmitPaths("wb-1", "a", []core.Path{path("p1"), path("p2")})
	s.RemovePaths("wb-1", "a", []string{"p1"})
	require.Len(t, s.Paths("wb-1"), 1)

	// redo is modeled client-side as resubmitting the same path
	s.SubmitPaths("wb-1", "a", []core.Path{path("p1")})
	got := s.Paths("wb-1")
	require.Len(t, got, 2)
	assert.Equal(t, "p2", got[0].ID, "surviving path keeps its place")
	assert.Equal(t, "p1", got[1].ID)
}

func TestSynchronizer_Clear(t *testing.T) {
	store := &recordingStore{}
	_, s, a, b := newWhiteboardFixture(t, store, time.Hour)

	s.SubmitPaths("wb-1", "a", []core.Path{path("p1"), path("p2")})
	s.Clear("wb-1", "a")

	assert.Empty(t, s.Paths("wb-1"))
	assert.Len(t, b.receivedOf(EventWhiteboardClear), 1)
	assert.Empty(t, a.receivedOf(EventWhiteboardClear))
}

func TestSynchronizer_DebounceCoalesces(t *testing.T) {
	store := &recordingStore{}
	_, s, _, _ := newWhiteboardFixture(t, store, 50*time.Millisecond)

	for i := 0; i < 5; i++ {
		s.SubmitPaths("wb-1", "a", []core.Path{path(string(rune('a' + i)))})
	}

	require.Eventually(t, func() bool { return store.saveCount() == 1 },
		2*time.Second, 10*time.Millisecond, "one checkpoint per debounce window")

	last := store.lastSave()
	require.NotNil(t, last)
	assert.Len(t, last.Paths, 5, "checkpoint reflects the whole burst")

	// quiet period: no further checkpoints
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, store.saveCount())
}

func TestSynchronizer_RapidClearSubmitSavesFinalStateOnce(t *testing.T) {
	store := &recordingStore{}
	_, s, _, _ := newWhiteboardFixture(t, store, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		s.Clear("wb-1", "a")
		s.SubmitPaths("wb-1", "a", []core.Path{path("p-final")})
	}

	require.Eventually(t, func() bool { return store.saveCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	last := store.lastSave()
	require.NotNil(t, last)
	require.Len(t, last.Paths, 1, "payload is the final state, not an intermediate")
	assert.Equal(t, "p-final", last.Paths[0].ID)
}

func TestSynchronizer_MutationDuringSaveLandsInNextCheckpoint(t *testing.T) {
	store := &recordingStore{
		started: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	_, s, _, _ := newWhiteboardFixture(t, store, 20*time.Millisecond)

	s.SubmitPaths("wb-1", "a", []core.Path{path("p1")})

	// wait for the first SaveState to be in flight, then mutate
	select {
	case <-store.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first checkpoint never started")
	}
	s.SubmitPaths("wb-1", "a", []core.Path{path("p2")})
	close(store.release)
	<-store.started // second checkpoint begins

	require.Eventually(t, func() bool { return store.saveCount() == 2 },
		2*time.Second, 10*time.Millisecond, "dirty-again state triggers a follow-up checkpoint")

	last := store.lastSave()
	require.NotNil(t, last)
	assert.Len(t, last.Paths, 2, "the mid-save mutation is not lost")
}

func TestSynchronizer_FailedSaveRetries(t *testing.T) {
	store := &recordingStore{failN: 1}
	_, s, _, _ := newWhiteboardFixture(t, store, 20*time.Millisecond)

	s.SubmitPaths("wb-1", "a", []core.Path{path("p1")})

	require.Eventually(t, func() bool { return store.saveCount() == 1 },
		2*time.Second, 10*time.Millisecond, "next debounce cycle retries after a failed write")
	assert.Len(t, store.lastSave().Paths, 1)
}

func TestSynchronizer_FlushOnRoomDiscard(t *testing.T) {
	store := &recordingStore{}
	r, s, _, _ := newWhiteboardFixture(t, store, time.Hour)

	s.SubmitPaths("wb-1", "a", []core.Path{path("p1")})
	require.Equal(t, 0, store.saveCount(), "debounce window still open")

	r.Leave(core.RoomKindWhiteboard, "wb-1", "a")
	r.Leave(core.RoomKindWhiteboard, "wb-1", "b")

	require.Eventually(t, func() bool { return store.saveCount() == 1 },
		2*time.Second, 10*time.Millisecond, "dirty state is flushed when the room is discarded")
	assert.Len(t, store.lastSave().Paths, 1)
}

func TestSynchronizer_DiscardedRoomStartsEmpty(t *testing.T) {
	store := &recordingStore{}
	r, s, _, _ := newWhiteboardFixture(t, store, time.Hour)

	s.SubmitPaths("wb-1", "a", []core.Path{path("p1")})
	r.Disconnect("a")
	r.Disconnect("b")

	// a later join sees fresh in-memory state; durable history comes back
	// through the persistence gateway, not the room
	c := &mockConn{id: "c"}
	join(r, core.RoomKindWhiteboard, "wb-1", c, "u-c")
	assert.Empty(t, s.Paths("wb-1"))
}

func TestSynchronizer_ToolUpdateIsAdvisory(t *testing.T) {
	store := &recordingStore{}
	_, s, a, b := newWhiteboardFixture(t, store, 20*time.Millisecond)

	s.ToolUpdate("wb-1", "a", ToolPayload{Tool: "pen", Color: "#ff0000", StrokeWidth: 3, UserID: "u-a"})

	assert.Empty(t, a.received())
	assert.Len(t, b.receivedOf(EventWhiteboardTool), 1)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, store.saveCount(), "tool updates are never persisted")
}
