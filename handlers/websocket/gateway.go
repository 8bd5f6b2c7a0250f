package websocket

import (
	"encoding/json"
	"errors"
	"os"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"

	"studysync-collab/collab"
	"studysync-collab/core"
)

type (
	joinPayload struct {
		ArtifactID string `json:"artifactId"`
		UserID     string `json:"userId"`
		Username   string `json:"username"`
		Color      string `json:"color,omitempty"`
	}

	cursorPayload struct {
		Cursor    json.RawMessage `json:"cursor"`
		Selection json.RawMessage `json:"selection"`
	}

	contentPayload struct {
		Content json.RawMessage `json:"content"`
		UserID  string          `json:"userId"`
	}

	typingPayload struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}

	presencePayload struct {
		IsActive bool `json:"isActive"`
	}

	syncPayload struct {
		Paths []core.Path      `json:"paths,omitempty"`
		Meta  *collab.SyncMeta `json:"meta,omitempty"`
	}

	memberListPayload struct {
		ArtifactID string             `json:"artifactId"`
		Kind       core.RoomKind      `json:"kind"`
		Members    []core.Participant `json:"members"`
	}

	memberDeltaPayload struct {
		UserID       string `json:"userId"`
		Username     string `json:"username"`
		ConnectionID string `json:"connectionId"`
	}
)

// Gateway accepts socket.io connections, validates inbound frames and
// dispatches them into the collab core. Malformed payloads are dropped
// and logged; the connection itself stays up.
type Gateway struct {
	registry   *collab.Registry
	presence   *collab.Presence
	relay      *collab.Relay
	whiteboard *collab.Synchronizer
}

func NewGateway(registry *collab.Registry, presence *collab.Presence, relay *collab.Relay, whiteboard *collab.Synchronizer) *Gateway {
	return &Gateway{
		registry:   registry,
		presence:   presence,
		relay:      relay,
		whiteboard: whiteboard,
	}
}

// SetupSocketIO builds the socket.io server and registers the event
// handlers for the collaboration wire protocol.
func (g *Gateway) SetupSocketIO() *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(corsConfig())
	srv := socketio.NewServer(nil, opts)

	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}
		g.handleConnection(socket)
	})

	return srv
}

func corsConfig() *types.Cors {
	origins := os.Getenv("CORS_ORIGINS")
	if origins == "" {
		localhost := regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)
		return &types.Cors{Origin: []any{localhost}, Credentials: true}
	}

	allowed := make([]any, 0)
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed = append(allowed, o)
		}
	}
	return &types.Cors{Origin: allowed, Credentials: true}
}

func (g *Gateway) handleConnection(socket *socketio.Socket) {
	conn := newSocketConn(socket)
	sess := newSession()
	log := logrus.WithField("connection_id", conn.ID())
	log.Info("client connected")

	socket.On("join-document", func(datas ...any) {
		g.join(core.RoomKindDocument, socket, conn, sess, datas)
	})
	socket.On("join-whiteboard", func(datas ...any) {
		g.join(core.RoomKindWhiteboard, socket, conn, sess, datas)
	})
	socket.On("leave-document", func(datas ...any) {
		g.leave(core.RoomKindDocument, conn, sess)
	})
	socket.On("leave-whiteboard", func(datas ...any) {
		g.leave(core.RoomKindWhiteboard, conn, sess)
	})

	socket.On(collab.EventCursorUpdate, func(datas ...any) {
		var req cursorPayload
		if err := bindPayload(datas, &req); err != nil {
			log.WithError(err).Debug("malformed cursor-update dropped")
			return
		}
		kind, artifactID, ok := currentRoom(sess)
		if !ok {
			return
		}
		g.presence.CursorUpdate(kind, artifactID, conn.ID(), req.Cursor, req.Selection)
	})

	socket.On(collab.EventTypingStart, func(datas ...any) {
		g.typing(conn, sess, datas, true)
	})
	socket.On(collab.EventTypingStop, func(datas ...any) {
		g.typing(conn, sess, datas, false)
	})

	socket.On(collab.EventPresenceUpdate, func(datas ...any) {
		var req presencePayload
		if err := bindPayload(datas, &req); err != nil {
			log.WithError(err).Debug("malformed presence-update dropped")
			return
		}
		for kind, artifactID := range sess.all() {
			g.presence.SetActive(kind, artifactID, conn.ID(), req.IsActive)
		}
	})

	socket.On(collab.EventContentChange, func(datas ...any) {
		var req contentPayload
		if err := bindPayload(datas, &req); err != nil {
			log.WithError(err).Debug("malformed content-change dropped")
			return
		}
		artifactID, ok := sess.get(core.RoomKindDocument)
		if !ok {
			return
		}
		g.relay.ContentChange(artifactID, conn.ID(), req.UserID, req.Content)
	})

	socket.On(collab.EventWhiteboardSync, func(datas ...any) {
		var req syncPayload
		if err := bindPayload(datas, &req); err != nil {
			log.WithError(err).Debug("malformed whiteboard-sync dropped")
			return
		}
		artifactID, ok := sess.get(core.RoomKindWhiteboard)
		if !ok {
			return
		}
		if req.Meta != nil && req.Meta.Action == collab.SyncActionRemove {
			g.whiteboard.RemovePaths(artifactID, conn.ID(), req.Meta.PathIDs)
			return
		}
		g.whiteboard.SubmitPaths(artifactID, conn.ID(), req.Paths)
	})

	socket.On(collab.EventWhiteboardClear, func(datas ...any) {
		artifactID, ok := sess.get(core.RoomKindWhiteboard)
		if !ok {
			return
		}
		g.whiteboard.Clear(artifactID, conn.ID())
	})

	socket.On(collab.EventWhiteboardTool, func(datas ...any) {
		var req collab.ToolPayload
		if err := bindPayload(datas, &req); err != nil {
			log.WithError(err).Debug("malformed whiteboard-tool-update dropped")
			return
		}
		artifactID, ok := sess.get(core.RoomKindWhiteboard)
		if !ok {
			return
		}
		g.whiteboard.ToolUpdate(artifactID, conn.ID(), req)
	})

	socket.On("disconnecting", func(datas ...any) {
		departures := g.registry.Disconnect(conn.ID())
		for _, d := range departures {
			g.registry.BroadcastExceptSelf(d.Kind, d.ArtifactID, conn.ID(), collab.EventUserLeft, memberDeltaPayload{
				UserID:       d.Participant.UserID,
				Username:     d.Participant.Username,
				ConnectionID: d.Participant.ConnectionID,
			})
		}
		sess.clear()
		log.WithField("rooms", len(departures)).Info("client disconnecting")
	})

	socket.On("disconnect", func(datas ...any) {
		conn.close()
		socket.RemoveAllListeners("")
	})
}

func (g *Gateway) join(kind core.RoomKind, socket *socketio.Socket, conn *socketConn, sess *session, datas []any) {
	var req joinPayload
	if err := bindPayload(datas, &req); err != nil || req.ArtifactID == "" {
		logrus.WithField("connection_id", conn.ID()).WithError(err).Warn("malformed join payload dropped")
		return
	}

	// one room per kind: joining a second artifact leaves the first
	if prev, ok := sess.get(kind); ok && prev != req.ArtifactID {
		g.leave(kind, conn, sess)
	}

	p, members := g.registry.Join(kind, req.ArtifactID, conn, core.Participant{
		ConnectionID: conn.ID(),
		UserID:       req.UserID,
		Username:     req.Username,
		Color:        req.Color,
		IsActive:     true,
	})
	sess.set(kind, req.ArtifactID)

	// the joiner gets the full member snapshot; everyone else a delta
	_ = socket.Emit(collab.EventRoomMembers, memberListPayload{
		ArtifactID: req.ArtifactID,
		Kind:       kind,
		Members:    members,
	})
	g.registry.BroadcastExceptSelf(kind, req.ArtifactID, p.ConnectionID, collab.EventUserJoined, memberDeltaPayload{
		UserID:       p.UserID,
		Username:     p.Username,
		ConnectionID: p.ConnectionID,
	})
}

func (g *Gateway) leave(kind core.RoomKind, conn *socketConn, sess *session) {
	artifactID, ok := sess.take(kind)
	if !ok {
		return
	}
	p := g.registry.Leave(kind, artifactID, conn.ID())
	if p == nil {
		return
	}
	g.registry.BroadcastExceptSelf(kind, artifactID, conn.ID(), collab.EventUserLeft, memberDeltaPayload{
		UserID:       p.UserID,
		Username:     p.Username,
		ConnectionID: p.ConnectionID,
	})
}

func (g *Gateway) typing(conn *socketConn, sess *session, datas []any, started bool) {
	var req typingPayload
	if err := bindPayload(datas, &req); err != nil {
		logrus.WithField("connection_id", conn.ID()).WithError(err).Debug("malformed typing payload dropped")
		return
	}
	artifactID, ok := sess.get(core.RoomKindDocument)
	if !ok {
		return
	}
	g.presence.Typing(core.RoomKindDocument, artifactID, conn.ID(), started, collab.TypingPayload{
		UserID:   req.UserID,
		Username: req.Username,
	})
}

// currentRoom resolves the room a roomless payload applies to: the
// document room when joined, otherwise the whiteboard room.
func currentRoom(sess *session) (core.RoomKind, string, bool) {
	if artifactID, ok := sess.get(core.RoomKindDocument); ok {
		return core.RoomKindDocument, artifactID, true
	}
	if artifactID, ok := sess.get(core.RoomKindWhiteboard); ok {
		return core.RoomKindWhiteboard, artifactID, true
	}
	return "", "", false
}

// bindPayload decodes the first socket.io argument into out via a JSON
// round-trip, the parser hands objects over as map[string]any.
func bindPayload(datas []any, out interface{}) error {
	if len(datas) == 0 {
		return errors.New("missing payload")
	}
	raw, err := json.Marshal(datas[0])
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
