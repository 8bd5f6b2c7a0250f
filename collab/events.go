package collab

// Wire event names. Names match the client protocol verbatim; the payload
// structs below are the server-side view of each message body.
const (
	EventRoomMembers     = "room-members"
	EventUserJoined      = "user-joined"
	EventUserLeft        = "user-left"
	EventCursorUpdate    = "cursor-update"
	EventContentChange   = "content-change"
	EventTypingStart     = "typing-start"
	EventTypingStop      = "typing-stop"
	EventCommentAdded    = "comment-added"
	EventCommentResolved = "comment-resolved"
	EventPresenceUpdate  = "presence-update"
	EventWhiteboardSync  = "whiteboard-sync"
	EventWhiteboardClear = "whiteboard-clear"
	EventWhiteboardTool  = "whiteboard-tool-update"
)

// Whiteboard sync meta actions.
const (
	SyncActionAdd    = "add"
	SyncActionRemove = "remove"
)
