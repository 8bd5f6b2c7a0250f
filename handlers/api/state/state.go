package state

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"studysync-collab/core"
)

// HandleGet returns the last durable checkpoint for a whiteboard. Joining
// clients call this to restore history; the live room itself starts empty.
func HandleGet(store core.StateStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		artifactID := chi.URLParam(r, "artifactID")

		state, err := store.LoadState(r.Context(), artifactID)
		if err != nil {
			logrus.WithField("artifact_id", artifactID).WithError(err).Error("Failed to load whiteboard state")
			http.Error(w, "Failed to load whiteboard state", http.StatusInternalServerError)
			return
		}
		if state == nil {
			state = core.EmptyWhiteboardState()
		}

		render.JSON(w, r, state)
	}
}

// HandleSave writes a whiteboard state directly, the manual REST save path
// that exists beside the debounced checkpointer.
func HandleSave(store core.StateStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		artifactID := chi.URLParam(r, "artifactID")

		var state core.WhiteboardState
		if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
			logrus.WithField("artifact_id", artifactID).WithError(err).Error("Failed to decode state")
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if state.Paths == nil {
			state.Paths = []core.Path{}
		}

		if err := store.SaveState(r.Context(), artifactID, &state); err != nil {
			logrus.WithField("artifact_id", artifactID).WithError(err).Error("Failed to save whiteboard state")
			http.Error(w, "Failed to save whiteboard state", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
