package collab

import (
	"encoding/json"

	"studysync-collab/core"
)

type (
	CursorPayload struct {
		ConnectionID string          `json:"connectionId"`
		UserID       string          `json:"userId"`
		Cursor       json.RawMessage `json:"cursor,omitempty"`
		Selection    json.RawMessage `json:"selection,omitempty"`
	}

	TypingPayload struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}

	PresencePayload struct {
		ConnectionID string `json:"connectionId"`
		UserID       string `json:"userId"`
		IsActive     bool   `json:"isActive"`
	}
)

// Presence relays ephemeral awareness signals. Nothing here is durable:
// the only state it touches is the participant's cached cursor/selection
// and activity flag, which seed the member snapshot handed to joiners.
type Presence struct {
	registry *Registry
}

func NewPresence(registry *Registry) *Presence {
	return &Presence{registry: registry}
}

// CursorUpdate caches the latest cursor/selection for the participant and
// relays it to the rest of the room. Last value wins.
func (p *Presence) CursorUpdate(kind core.RoomKind, artifactID, connID string, cursor, selection json.RawMessage) {
	var userID string
	p.registry.UpdateParticipant(kind, artifactID, connID, func(part *core.Participant) {
		part.Cursor = cursor
		part.Selection = selection
		userID = part.UserID
	})
	p.registry.BroadcastExceptSelf(kind, artifactID, connID, EventCursorUpdate, CursorPayload{
		ConnectionID: connID,
		UserID:       userID,
		Cursor:       cursor,
		Selection:    selection,
	})
}

// Typing relays a typing-start or typing-stop notification. The server
// keeps no typing state; receivers self-expire a start without a stop.
func (p *Presence) Typing(kind core.RoomKind, artifactID, connID string, started bool, payload TypingPayload) {
	event := EventTypingStop
	if started {
		event = EventTypingStart
	}
	p.registry.BroadcastExceptSelf(kind, artifactID, connID, event, payload)
}

// SetActive updates the participant's cached activity flag and announces
// it. The flag is informational only and never drives eviction.
func (p *Presence) SetActive(kind core.RoomKind, artifactID, connID string, active bool) {
	var userID string
	p.registry.UpdateParticipant(kind, artifactID, connID, func(part *core.Participant) {
		part.IsActive = active
		userID = part.UserID
	})
	p.registry.BroadcastExceptSelf(kind, artifactID, connID, EventPresenceUpdate, PresencePayload{
		ConnectionID: connID,
		UserID:       userID,
		IsActive:     active,
	})
}
