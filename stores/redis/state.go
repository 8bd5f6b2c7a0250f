package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"studysync-collab/core"
)

const keyPrefix = "whiteboard:state:"

// stateStore keeps whiteboard checkpoints as JSON values in redis, one
// key per artifact. Useful when several relay instances share a cache.
type stateStore struct {
	client *redis.Client
}

func NewStateStore(addr string) *stateStore {
	return &stateStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
	}
}

func (s *stateStore) LoadState(ctx context.Context, artifactID string) (*core.WhiteboardState, error) {
	log := logrus.WithField("artifact_id", artifactID)

	data, err := s.client.Get(ctx, keyPrefix+artifactID).Bytes()
	if err != nil {
		if err == redis.Nil {
			log.Debug("No checkpoint key, returning empty state")
			return core.EmptyWhiteboardState(), nil
		}
		log.WithError(err).Error("Failed to load whiteboard state")
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
	log := logrus.WithFields(logrus.Fields{
		"artifact_id": artifactID,
		"paths":       len(state.Paths),
	})

	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, keyPrefix+artifactID, data, 0).Err(); err != nil {
		log.WithError(err).Error("Failed to save whiteboard state")
		return err
	}

	log.Debug("Whiteboard state saved")
	return nil
}
