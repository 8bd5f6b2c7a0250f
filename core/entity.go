package core

import (
	"context"
	"encoding/json"
)

type (
	// RoomKind distinguishes the two collaboration room flavors. A
	// connection may be in at most one room of each kind at a time by
	// protocol convention, though nothing below enforces that.
	RoomKind string

	// Participant is one connection's membership record inside a room.
	// It is keyed by ConnectionID, not UserID: two browser tabs of the
	// same user are two participants.
	Participant struct {
		ConnectionID string          `json:"connectionId"`
		UserID       string          `json:"userId"`
		Username     string          `json:"username"`
		Color        string          `json:"color,omitempty"`
		Cursor       json.RawMessage `json:"cursor,omitempty"`
		Selection    json.RawMessage `json:"selection,omitempty"`
		IsActive     bool            `json:"isActive"`
	}

	Point struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}

	// Path is one immutable whiteboard stroke. Erasing is a new Path
	// with a destination-out composite mode, never a mutation.
	Path struct {
		ID            string  `json:"id"`
		Points        []Point `json:"points"`
		Color         string  `json:"color"`
		StrokeWidth   float64 `json:"strokeWidth"`
		Opacity       float64 `json:"opacity"`
		CompositeMode string  `json:"compositeMode,omitempty"`
		UserID        string  `json:"userId"`
		CreatedAt     int64   `json:"createdAt"`
	}

	CanvasSettings struct {
		Background string `json:"background,omitempty"`
		Width      int    `json:"width,omitempty"`
		Height     int    `json:"height,omitempty"`
	}

	// WhiteboardState is the durable checkpoint payload for one board.
	WhiteboardState struct {
		Paths    []Path         `json:"paths"`
		Settings CanvasSettings `json:"settings"`
	}

	// ChangeEvent is the transient routing envelope for everything the
	// relay fans out. It is never stored.
	ChangeEvent struct {
		RoomID    string      `json:"roomId"`
		Type      string      `json:"type"`
		Payload   interface{} `json:"payload,omitempty"`
		Origin    string      `json:"origin,omitempty"`
		Timestamp int64       `json:"timestamp"`
	}

	RoomInfo struct {
		Kind         RoomKind `json:"kind"`
		ArtifactID   string   `json:"artifactId"`
		Participants int      `json:"participants"`
	}

	// StateStore is the persistence gateway consumed by the whiteboard
	// synchronizer. LoadState on an artifact that was never checkpointed
	// returns an empty state, not an error.
	StateStore interface {
		LoadState(ctx context.Context, artifactID string) (*WhiteboardState, error)
		SaveState(ctx context.Context, artifactID string, state *WhiteboardState) error
	}
)

const (
	RoomKindDocument   RoomKind = "document"
	RoomKindWhiteboard RoomKind = "whiteboard"
)

// EmptyWhiteboardState returns a fresh zero-stroke state.
func EmptyWhiteboardState() *WhiteboardState {
	return &WhiteboardState{Paths: []Path{}}
}
