package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"studysync-collab/core"
)

const keyPrefix = "whiteboards"

// stateStore keeps whiteboard checkpoints as JSON objects in an S3
// bucket, one object per artifact.
type stateStore struct {
	client *s3.Client
	bucket string
}

func NewStateStore(bucketName string) *stateStore {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		stdlog.Fatalf("unable to load SDK config, %v", err)
	}

	return &stateStore{
		client: s3.NewFromConfig(cfg),
		bucket: bucketName,
	}
}

func (s *stateStore) LoadState(ctx context.Context, artifactID string) (*core.WhiteboardState, error) {
	key, err := stateKey(artifactID)
	if err != nil {
		return nil, err
	}
	log := logrus.WithField("artifact_id", artifactID)

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			log.Debug("No checkpoint object, returning empty state")
			return core.EmptyWhiteboardState(), nil
		}
		log.WithError(err).Error("Failed to load whiteboard state")
		return nil, fmt.Errorf("failed to get state for artifact %s: %w", artifactID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read state data: %w", err)
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
	key, err := stateKey(artifactID)
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

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		log.WithError(err).Error("Failed to save whiteboard state")
		return fmt.Errorf("failed to save state for artifact %s: %w", artifactID, err)
	}

	log.Debug("Whiteboard state saved")
	return nil
}

// stateKey rejects artifact ids that would escape the key prefix.
func stateKey(artifactID string) (string, error) {
	if artifactID == "" || artifactID == "." || artifactID == ".." || path.Base(artifactID) != artifactID {
		return "", fmt.Errorf("invalid artifact id %q", artifactID)
	}
	return path.Join(keyPrefix, artifactID+".json"), nil
}
