package state

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"studysync-collab/stores/sqlite"
)

// CheckpointLister is satisfied by store backends that keep a bounded
// checkpoint history (currently sqlite).
type CheckpointLister interface {
	ListCheckpoints(ctx context.Context, artifactID string) ([]sqlite.Checkpoint, error)
}

// HandleListCheckpoints returns a board's checkpoint history, newest first.
func HandleListCheckpoints(store CheckpointLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		artifactID := chi.URLParam(r, "artifactID")

		checkpoints, err := store.ListCheckpoints(r.Context(), artifactID)
		if err != nil {
			logrus.WithField("artifact_id", artifactID).WithError(err).Error("Failed to list checkpoints")
			http.Error(w, "Failed to list checkpoints", http.StatusInternalServerError)
			return
		}
		if checkpoints == nil {
			checkpoints = []sqlite.Checkpoint{}
		}

		render.JSON(w, r, checkpoints)
	}
}
