package collab

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"studysync-collab/core"
)

// Conn is the transport half of a participant. Send must not block: a
// saturated recipient drops the event for itself only.
type Conn interface {
	ID() string
	Send(event string, payload interface{}) error
}

type roomKey struct {
	kind       core.RoomKind
	artifactID string
}

type member struct {
	conn        Conn
	participant core.Participant
}

// room serializes every membership mutation and broadcast for one
// (kind, artifactID) pair, which yields a total event order per room.
type room struct {
	mu      sync.Mutex
	members map[string]*member
}

// Departure records one room a disconnecting connection was evicted from.
type Departure struct {
	Kind        core.RoomKind
	ArtifactID  string
	Participant core.Participant
}

// Registry is the single source of truth for room membership. Rooms are
// created on first join and discarded as soon as they empty; persisted
// artifact state outlives them.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[roomKey]*room
	byConn  map[string]map[roomKey]struct{}
	onEvict []func(kind core.RoomKind, artifactID string)
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[roomKey]*room),
		byConn: make(map[string]map[roomKey]struct{}),
	}
}

// OnEvict registers a hook invoked after a room has been discarded
// because its last participant left. Hooks run outside any room lock.
func (r *Registry) OnEvict(fn func(kind core.RoomKind, artifactID string)) {
	r.mu.Lock()
	r.onEvict = append(r.onEvict, fn)
	r.mu.Unlock()
}

// Join admits conn into the (kind, artifactID) room, creating it if
// absent, and returns the full current member list including the joiner.
// A participant without a connection identity is assigned one.
func (r *Registry) Join(kind core.RoomKind, artifactID string, conn Conn, p core.Participant) (core.Participant, []core.Participant) {
	if p.ConnectionID == "" {
		if conn != nil && conn.ID() != "" {
			p.ConnectionID = conn.ID()
		} else {
			p.ConnectionID = uuid.NewString()
		}
	}

	key := roomKey{kind: kind, artifactID: artifactID}

	r.mu.Lock()
	rm, ok := r.rooms[key]
	if !ok {
		rm = &room{members: make(map[string]*member)}
		r.rooms[key] = rm
	}
	conns, ok := r.byConn[p.ConnectionID]
	if !ok {
		conns = make(map[roomKey]struct{})
		r.byConn[p.ConnectionID] = conns
	}
	conns[key] = struct{}{}
	r.mu.Unlock()

	rm.mu.Lock()
	rm.members[p.ConnectionID] = &member{conn: conn, participant: p}
	snapshot := rm.snapshotLocked()
	rm.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"kind":          kind,
		"artifact_id":   artifactID,
		"connection_id": p.ConnectionID,
		"members":       len(snapshot),
	}).Info("participant joined room")

	return p, snapshot
}

// Leave removes the connection from the room. Leaving a room you are not
// in is a no-op and returns nil. Emptied rooms are discarded immediately.
func (r *Registry) Leave(kind core.RoomKind, artifactID, connID string) *core.Participant {
	key := roomKey{kind: kind, artifactID: artifactID}

	r.mu.RLock()
	rm, ok := r.rooms[key]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	rm.mu.Lock()
	m, ok := rm.members[connID]
	if !ok {
		rm.mu.Unlock()
		return nil
	}
	delete(rm.members, connID)
	remaining := len(rm.members)
	rm.mu.Unlock()

	r.mu.Lock()
	if conns, ok := r.byConn[connID]; ok {
		delete(conns, key)
		if len(conns) == 0 {
			delete(r.byConn, connID)
		}
	}
	evicted := false
	if remaining == 0 {
		// Re-check under the registry lock: a concurrent Join may have
		// repopulated the room between the two critical sections.
		rm.mu.Lock()
		if len(rm.members) == 0 {
			delete(r.rooms, key)
			evicted = true
		}
		rm.mu.Unlock()
	}
	hooks := r.onEvict
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"kind":          kind,
		"artifact_id":   artifactID,
		"connection_id": connID,
		"members":       remaining,
	}).Info("participant left room")

	if evicted {
		logrus.WithFields(logrus.Fields{
			"kind":        kind,
			"artifact_id": artifactID,
		}).Info("room discarded")
		for _, fn := range hooks {
			fn(kind, artifactID)
		}
	}

	p := m.participant
	return &p
}

// Disconnect evicts the connection from every room it appears in and
// returns the departures so the gateway can announce them. Safe to call
// for unknown connections.
func (r *Registry) Disconnect(connID string) []Departure {
	r.mu.RLock()
	keys := make([]roomKey, 0, len(r.byConn[connID]))
	for key := range r.byConn[connID] {
		keys = append(keys, key)
	}
	r.mu.RUnlock()

	departures := make([]Departure, 0, len(keys))
	for _, key := range keys {
		if p := r.Leave(key.kind, key.artifactID, connID); p != nil {
			departures = append(departures, Departure{
				Kind:        key.kind,
				ArtifactID:  key.artifactID,
				Participant: *p,
			})
		}
	}
	return departures
}

// BroadcastExceptSelf delivers the event to every current room member
// except the origin. Delivery is fire-and-forget: a failed send is
// isolated to that recipient and never aborts the fan-out.
func (r *Registry) BroadcastExceptSelf(kind core.RoomKind, artifactID, originConnID, event string, payload interface{}) {
	key := roomKey{kind: kind, artifactID: artifactID}

	r.mu.RLock()
	rm, ok := r.rooms[key]
	r.mu.RUnlock()
	if !ok {
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	for id, m := range rm.members {
		if id == originConnID || m.conn == nil {
			continue
		}
		if err := m.conn.Send(event, payload); err != nil {
			logrus.WithFields(logrus.Fields{
				"event":         event,
				"artifact_id":   artifactID,
				"connection_id": id,
			}).WithError(err).Debug("dropped event for saturated recipient")
		}
	}
}

// UpdateParticipant applies fn to the participant's cached record under
// the room lock. Returns false if the participant is not a member.
func (r *Registry) UpdateParticipant(kind core.RoomKind, artifactID, connID string, fn func(*core.Participant)) bool {
	key := roomKey{kind: kind, artifactID: artifactID}

	r.mu.RLock()
	rm, ok := r.rooms[key]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	m, ok := rm.members[connID]
	if !ok {
		return false
	}
	fn(&m.participant)
	return true
}

// Members returns a point-in-time copy of the room's member list.
func (r *Registry) Members(kind core.RoomKind, artifactID string) []core.Participant {
	key := roomKey{kind: kind, artifactID: artifactID}

	r.mu.RLock()
	rm, ok := r.rooms[key]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.snapshotLocked()
}

// Rooms lists every live room with its participant count.
func (r *Registry) Rooms() []core.RoomInfo {
	r.mu.RLock()
	keys := make([]roomKey, 0, len(r.rooms))
	rooms := make([]*room, 0, len(r.rooms))
	for key, rm := range r.rooms {
		keys = append(keys, key)
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	infos := make([]core.RoomInfo, 0, len(keys))
	for i, rm := range rooms {
		rm.mu.Lock()
		count := len(rm.members)
		rm.mu.Unlock()
		if count == 0 {
			continue
		}
		infos = append(infos, core.RoomInfo{
			Kind:         keys[i].kind,
			ArtifactID:   keys[i].artifactID,
			Participants: count,
		})
	}
	return infos
}

func (rm *room) snapshotLocked() []core.Participant {
	out := make([]core.Participant, 0, len(rm.members))
	for _, m := range rm.members {
		out = append(out, m.participant)
	}
	return out
}
