package collab

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studysync-collab/core"
)

type sentEvent struct {
	event   string
	payload interface{}
}

type mockConn struct {
	id      string
	mu      sync.Mutex
	sent    []sentEvent
	sendErr error
}

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(event string, payload interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentEvent{event: event, payload: payload})
	return nil
}

func (m *mockConn) received() []sentEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentEvent{}, m.sent...)
}

func (m *mockConn) receivedOf(event string) []sentEvent {
	var out []sentEvent
	for _, e := range m.received() {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func join(r *Registry, kind core.RoomKind, artifactID string, c *mockConn, userID string) core.Participant {
	p, _ := r.Join(kind, artifactID, c, core.Participant{UserID: userID, Username: userID})
	return p
}

func TestRegistry_JoinReturnsFullMemberList(t *testing.T) {
	r := NewRegistry()
	a := &mockConn{id: "conn-a"}
	b := &mockConn{id: "conn-b"}

	_, members := r.Join(core.RoomKindDocument, "doc-1", a, core.Participant{UserID: "u-a", Username: "Alice"})
	require.Len(t, members, 1)

	_, members = r.Join(core.RoomKindDocument, "doc-1", b, core.Participant{UserID: "u-b", Username: "Bob"})
	require.Len(t, members, 2)

	ids := []string{members[0].ConnectionID, members[1].ConnectionID}
	assert.ElementsMatch(t, []string{"conn-a", "conn-b"}, ids)
}

func TestRegistry_JoinAssignsConnectionIdentity(t *testing.T) {
	r := NewRegistry()

	p, _ := r.Join(core.RoomKindDocument, "doc-1", nil, core.Participant{UserID: "u-a"})
	assert.NotEmpty(t, p.ConnectionID)
}

func TestRegistry_MultipleTabsAreDistinctParticipants(t *testing.T) {
	r := NewRegistry()
	tab1 := &mockConn{id: "tab-1"}
	tab2 := &mockConn{id: "tab-2"}

	join(r, core.RoomKindDocument, "doc-1", tab1, "u-a")
	_, members := r.Join(core.RoomKindDocument, "doc-1", tab2, core.Participant{UserID: "u-a"})

	assert.Len(t, members, 2)
}

func TestRegistry_BroadcastExceptSelf(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(r *Registry) (origin *mockConn, others []*mockConn)
		wantRecv map[string]int
	}{
		{
			name: "origin never receives its own event",
			setup: func(r *Registry) (*mockConn, []*mockConn) {
				a := &mockConn{id: "a"}
				b := &mockConn{id: "b"}
				c := &mockConn{id: "c"}
				join(r, core.RoomKindDocument, "doc-1", a, "u-a")
				join(r, core.RoomKindDocument, "doc-1", b, "u-b")
				join(r, core.RoomKindDocument, "doc-1", c, "u-c")
				return a, []*mockConn{b, c}
			},
			wantRecv: map[string]int{"b": 1, "c": 1},
		},
		{
			name: "no cross-room delivery",
			setup: func(r *Registry) (*mockConn, []*mockConn) {
				a := &mockConn{id: "a"}
				b := &mockConn{id: "b"}
				join(r, core.RoomKindDocument, "doc-1", a, "u-a")
				join(r, core.RoomKindDocument, "doc-2", b, "u-b")
				return a, []*mockConn{b}
			},
			wantRecv: map[string]int{"b": 0},
		},
		{
			name: "same artifact, different kind, no delivery",
			setup: func(r *Registry) (*mockConn, []*mockConn) {
				a := &mockConn{id: "a"}
				b := &mockConn{id: "b"}
				join(r, core.RoomKindDocument, "art-1", a, "u-a")
				join(r, core.RoomKindWhiteboard, "art-1", b, "u-b")
				return a, []*mockConn{b}
			},
			wantRecv: map[string]int{"b": 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			origin, others := tt.setup(r)

			r.BroadcastExceptSelf(core.RoomKindDocument, "doc-1", origin.ID(), "test-event", "payload")

			assert.Empty(t, origin.received(), "origin must not echo")
			for _, o := range others {
				assert.Len(t, o.received(), tt.wantRecv[o.ID()], "receiver %s", o.ID())
			}
		})
	}
}

func TestRegistry_SendFailureIsIsolated(t *testing.T) {
	r := NewRegistry()
	a := &mockConn{id: "a"}
	saturated := &mockConn{id: "b", sendErr: assert.AnError}
	c := &mockConn{id: "c"}
	join(r, core.RoomKindDocument, "doc-1", a, "u-a")
	join(r, core.RoomKindDocument, "doc-1", saturated, "u-b")
	join(r, core.RoomKindDocument, "doc-1", c, "u-c")

	r.BroadcastExceptSelf(core.RoomKindDocument, "doc-1", "a", "test-event", nil)

	assert.Len(t, c.received(), 1, "healthy recipient still receives")
}

func TestRegistry_LeaveEvictsEmptyRoom(t *testing.T) {
	r := NewRegistry()
	var evicted []string
	r.OnEvict(func(kind core.RoomKind, artifactID string) {
		evicted = append(evicted, string(kind)+"/"+artifactID)
	})

	a := &mockConn{id: "a"}
	b := &mockConn{id: "b"}
	join(r, core.RoomKindWhiteboard, "wb-1", a, "u-a")
	join(r, core.RoomKindWhiteboard, "wb-1", b, "u-b")

	require.NotNil(t, r.Leave(core.RoomKindWhiteboard, "wb-1", "a"))
	assert.Empty(t, evicted, "room still populated")

	require.NotNil(t, r.Leave(core.RoomKindWhiteboard, "wb-1", "b"))
	assert.Equal(t, []string{"whiteboard/wb-1"}, evicted)
	assert.Empty(t, r.Rooms(), "no membership leak after last leave")
}

func TestRegistry_LeaveIsIdempotent(t *testing.T) {
	r := NewRegistry()

	assert.Nil(t, r.Leave(core.RoomKindDocument, "doc-1", "ghost"))

	a := &mockConn{id: "a"}
	join(r, core.RoomKindDocument, "doc-1", a, "u-a")
	require.NotNil(t, r.Leave(core.RoomKindDocument, "doc-1", "a"))
	assert.Nil(t, r.Leave(core.RoomKindDocument, "doc-1", "a"))
}

func TestRegistry_DisconnectLeavesEveryRoom(t *testing.T) {
	r := NewRegistry()
	a := &mockConn{id: "a"}
	other := &mockConn{id: "b"}
	join(r, core.RoomKindDocument, "doc-1", a, "u-a")
	join(r, core.RoomKindWhiteboard, "wb-1", a, "u-a")
	join(r, core.RoomKindDocument, "doc-1", other, "u-b")

	departures := r.Disconnect("a")

	require.Len(t, departures, 2)
	infos := r.Rooms()
	require.Len(t, infos, 1)
	assert.Equal(t, core.RoomKindDocument, infos[0].Kind)
	assert.Equal(t, 1, infos[0].Participants)

	assert.Empty(t, r.Disconnect("a"), "second disconnect is a no-op")
}

func TestRegistry_RoomsCounts(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.Rooms())

	join(r, core.RoomKindDocument, "doc-1", &mockConn{id: "a"}, "u-a")
	join(r, core.RoomKindDocument, "doc-1", &mockConn{id: "b"}, "u-b")
	join(r, core.RoomKindWhiteboard, "wb-1", &mockConn{id: "c"}, "u-c")

	infos := r.Rooms()
	require.Len(t, infos, 2)
	counts := map[string]int{}
	for _, info := range infos {
		counts[string(info.Kind)+"/"+info.ArtifactID] = info.Participants
	}
	assert.Equal(t, map[string]int{"document/doc-1": 2, "whiteboard/wb-1": 1}, counts)
}
