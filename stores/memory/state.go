package memory

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"studysync-collab/core"
)

// stateStore keeps whiteboard checkpoints in process memory. Default
// backend for development and tests.
type stateStore struct {
	mu     sync.RWMutex
	states map[string]*core.WhiteboardState
}

func NewStateStore() *stateStore {
	return &stateStore{states: make(map[string]*core.WhiteboardState)}
}

func (s *stateStore) LoadState(ctx context.Context, artifactID string) (*core.WhiteboardState, error) {
	s.mu.RLock()
	state, ok := s.states[artifactID]
	s.mu.RUnlock()

	if !ok {
		return core.EmptyWhiteboardState(), nil
	}
	return copyState(state), nil
}

func (s *stateStore) SaveState(ctx context.Context, artifactID string, state *core.WhiteboardState) error {
	snap := copyState(state)

	s.mu.Lock()
	s.states[artifactID] = snap
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"artifact_id": artifactID,
		"paths":       len(snap.Paths),
	}).Debug("Whiteboard state saved")
	return nil
}

func copyState(state *core.WhiteboardState) *core.WhiteboardState {
	return &core.WhiteboardState{
		Paths:    append([]core.Path{}, state.Paths...),
		Settings: state.Settings,
	}
}
