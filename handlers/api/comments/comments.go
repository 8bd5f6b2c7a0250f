package comments

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"studysync-collab/collab"
)

type NotifyRequest struct {
	Action    string          `json:"action"`
	Comment   json.RawMessage `json:"comment,omitempty"`
	CommentID string          `json:"commentId,omitempty"`
	Resolved  bool            `json:"resolved"`
}

const (
	ActionAdded    = "added"
	ActionResolved = "resolved"
)

// HandleNotify is the bridge the comment CRUD path calls after a REST
// mutation so clients with the document open update without polling. The
// mutation is already durable by the time this runs; here it only fans out.
func HandleNotify(relay *collab.Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		artifactID := chi.URLParam(r, "artifactID")

		var req NotifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logrus.WithField("artifact_id", artifactID).WithError(err).Error("Failed to decode comment notification")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		switch req.Action {
		case ActionAdded:
			if len(req.Comment) == 0 {
				http.Error(w, "comment is required", http.StatusBadRequest)
				return
			}
			relay.CommentAdded(artifactID, req.Comment)
		case ActionResolved:
			if req.CommentID == "" {
				http.Error(w, "commentId is required", http.StatusBadRequest)
				return
			}
			relay.CommentResolved(artifactID, req.CommentID, req.Resolved)
		default:
			http.Error(w, "unknown action", http.StatusBadRequest)
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}
