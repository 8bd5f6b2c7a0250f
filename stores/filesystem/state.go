package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"studysync-collab/core"
)

// stateStore keeps one JSON file per whiteboard under basePath. Writes
// go through a temp file plus rename so a crashed save never leaves a
// half-written checkpoint behind.
type stateStore struct {
	basePath string
}

func NewStateStore(basePath string) *stateStore {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		stdlog.Fatalf("failed to create base directory: %v", err)
	}
	return &stateStore{basePath: basePath}
}

func (s *stateStore) LoadState(ctx context.Context, artifactID string) (*core.WhiteboardState, error) {
	path, err := s.statePath(artifactID)
	if err != nil {
		return nil, err
	}
	log := logrus.WithField("artifact_id", artifactID)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug("No checkpoint file, returning empty state")
			return core.EmptyWhiteboardState(), nil
		}
		log.WithError(err).Error("Failed to read whiteboard state")
		return nil, err
	}

	var state core.WhiteboardState
	if err := json.Unmarshal(data, &state); err != nil {
		log.WithError(err).Error("Failed to decode stored whiteboard state")
		return nil, fmt.Errorf("corrupt state for artifact %s: %w", artifactID, err)
	}
	if state.Paths == nil {
		state.Paths = []core.Path{}
	}
	return &state, nil
}

func (s *stateStore) SaveState(ctx context.Context, artifactID string, state *core.WhiteboardState) error {
	path, err := s.statePath(artifactID)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{
		"artifact_id": artifactID,
		"paths":       len(state.Paths),
	})

	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.basePath, "state-*.tmp")
	if err != nil {
		log.WithError(err).Error("Failed to create temp file")
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		log.WithError(err).Error("Failed to write whiteboard state")
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		log.WithError(err).Error("Failed to finalize whiteboard state")
		return err
	}

	log.Debug("Whiteboard state saved")
	return nil
}

// statePath rejects artifact ids that would escape the base directory.
func (s *stateStore) statePath(artifactID string) (string, error) {
	if artifactID == "" || artifactID == "." || artifactID == ".." || filepath.Base(artifactID) != artifactID {
		return "", fmt.Errorf("invalid artifact id %q", artifactID)
	}
	return filepath.Join(s.basePath, artifactID+".json"), nil
}
