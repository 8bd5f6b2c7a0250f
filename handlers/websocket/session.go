package websocket

import (
	"sync"

	"studysync-collab/core"
)

// session tracks which room of each kind a connection currently occupies.
// By protocol convention that is at most one document room and one
// whiteboard room; the registry itself does not rely on this.
type session struct {
	mu    sync.Mutex
	rooms map[core.RoomKind]string
}

func newSession() *session {
	return &session{rooms: make(map[core.RoomKind]string)}
}

func (s *session) set(kind core.RoomKind, artifactID string) {
	s.mu.Lock()
	s.rooms[kind] = artifactID
	s.mu.Unlock()
}

func (s *session) get(kind core.RoomKind) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.rooms[kind]
	return id, ok
}

// take returns and clears the room of the given kind.
func (s *session) take(kind core.RoomKind) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.rooms[kind]
	delete(s.rooms, kind)
	return id, ok
}

func (s *session) all() map[core.RoomKind]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[core.RoomKind]string, len(s.rooms))
	for k, v := range s.rooms {
		out[k] = v
	}
	return out
}

func (s *session) clear() {
	s.mu.Lock()
	s.rooms = make(map[core.RoomKind]string)
	s.mu.Unlock()
}
