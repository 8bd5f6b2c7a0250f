package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	stdlog "log"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"studysync-collab/core"
)

// checkpointHistoryLimit caps the per-board checkpoint history; the
// oldest row is pruned when a new checkpoint would exceed it.
const checkpointHistoryLimit = 10

type stateStore struct {
	db *sql.DB
}

func NewStateStore(dataSourceName string) *stateStore {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		stdlog.Fatal(err)
	}

	boards := `CREATE TABLE IF NOT EXISTS whiteboards (
		artifact_id TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);`
	if _, err = db.Exec(boards); err != nil {
		stdlog.Fatal(err)
	}

	history := `CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT PRIMARY KEY,
		artifact_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		data BLOB NOT NULL
	);`
	if _, err = db.Exec(history); err != nil {
		stdlog.Fatal(err)
	}

	return &stateStore{db}
}

func (s *stateStore) LoadState(ctx context.Context, artifactID string) (*core.WhiteboardState, error) {
	log := logrus.WithField("artifact_id", artifactID)

	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM whiteboards WHERE artifact_id = ?", artifactID).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Debug("No checkpoint for artifact, returning empty state")
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

	now := ulid.Now()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO whiteboards (artifact_id, data, updated_at) VALUES (?, ?, ?) ON CONFLICT(artifact_id) DO UPDATE SET data = ?, updated_at = ?",
		artifactID, data, now, data, now)
	if err != nil {
		log.WithError(err).Error("Failed to save whiteboard state")
		return err
	}

	s.appendHistory(ctx, artifactID, data, now)
	log.Debug("Whiteboard state saved")
	return nil
}

// appendHistory records the checkpoint in the bounded history table.
// Best effort: a history failure never fails the save itself.
func (s *stateStore) appendHistory(ctx context.Context, artifactID string, data []byte, now uint64) {
	log := logrus.WithField("artifact_id", artifactID)

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM checkpoints WHERE artifact_id = ?", artifactID).Scan(&count); err != nil {
		log.WithError(err).Warn("Failed to count checkpoints")
		return
	}
	if count >= checkpointHistoryLimit {
		_, err := s.db.ExecContext(ctx,
			"DELETE FROM checkpoints WHERE id = (SELECT id FROM checkpoints WHERE artifact_id = ? ORDER BY created_at ASC LIMIT 1)",
			artifactID)
		if err != nil {
			log.WithError(err).Warn("Failed to prune oldest checkpoint")
		}
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO checkpoints (id, artifact_id, created_at, data) VALUES (?, ?, ?, ?)",
		ulid.Make().String(), artifactID, now, data)
	if err != nil {
		log.WithError(err).Warn("Failed to record checkpoint history")
	}
}

// ListCheckpoints returns the checkpoint history for a board, newest first.
func (s *stateStore) ListCheckpoints(ctx context.Context, artifactID string) ([]Checkpoint, error) {
	log := logrus.WithField("artifact_id", artifactID)

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, artifact_id, created_at FROM checkpoints WHERE artifact_id = ? ORDER BY created_at DESC",
		artifactID)
	if err != nil {
		log.WithError(err).Error("Failed to list checkpoints")
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			log.WithError(cerr).Warn("Failed to close checkpoint rows")
		}
	}()

	var checkpoints []Checkpoint
	for rows.Next() {
		var c Checkpoint
		if err := rows.Scan(&c.ID, &c.ArtifactID, &c.CreatedAt); err != nil {
			log.WithError(err).Error("Failed to scan checkpoint")
			continue
		}
		checkpoints = append(checkpoints, c)
	}
	return checkpoints, nil
}

// Checkpoint is one row of a board's save history.
type Checkpoint struct {
	ID         string `json:"id"`
	ArtifactID string `json:"artifactId"`
	CreatedAt  int64  `json:"createdAt"`
}
