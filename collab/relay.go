package collab

import (
	"encoding/json"
	"time"

	"studysync-collab/core"
)

type (
	ContentChangePayload struct {
		Content   json.RawMessage `json:"content"`
		UserID    string          `json:"userId"`
		Timestamp int64           `json:"timestamp"`
	}

	CommentAddedPayload struct {
		Comment json.RawMessage `json:"comment"`
	}

	CommentResolvedPayload struct {
		CommentID string `json:"commentId"`
		Resolved  bool   `json:"resolved"`
	}
)

// Relay propagates document body changes and comment lifecycle events
// between collaborators. It persists nothing: durable saves happen on a
// separate REST path, and clients apply incoming deltas optimistically.
// Concurrent edits are last-write-wins at the rendering layer.
type Relay struct {
	registry *Registry
	now      func() time.Time
}

func NewRelay(registry *Registry) *Relay {
	return &Relay{registry: registry, now: time.Now}
}

// ContentChange rebroadcasts the content verbatim to the other members of
// the document room, with a server timestamp attached.
func (r *Relay) ContentChange(artifactID, connID, userID string, content json.RawMessage) {
	r.registry.BroadcastExceptSelf(core.RoomKindDocument, artifactID, connID, EventContentChange, ContentChangePayload{
		Content:   content,
		UserID:    userID,
		Timestamp: r.now().UnixMilli(),
	})
}

// CommentAdded mirrors a REST-side comment creation into the open room so
// connected clients update without polling. The mutation already happened
// over REST, so every member receives it.
func (r *Relay) CommentAdded(artifactID string, comment json.RawMessage) {
	r.registry.BroadcastExceptSelf(core.RoomKindDocument, artifactID, "", EventCommentAdded, CommentAddedPayload{
		Comment: comment,
	})
}

// CommentResolved mirrors a REST-side comment resolution.
func (r *Relay) CommentResolved(artifactID, commentID string, resolved bool) {
	r.registry.BroadcastExceptSelf(core.RoomKindDocument, artifactID, "", EventCommentResolved, CommentResolvedPayload{
		CommentID: commentID,
		Resolved:  resolved,
	})
}
