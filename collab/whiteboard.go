package collab

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"studysync-collab/core"
)

const (
	// DefaultDebounce is the checkpoint coalescing window: a burst of
	// strokes inside one window produces exactly one SaveState call.
	DefaultDebounce = 2 * time.Second

	saveTimeout = 10 * time.Second
)

type saveState int

const (
	stateClean saveState = iota
	stateDirty
	stateSaving
)

type (
	SyncMeta struct {
		Action  string   `json:"action"`
		PathIDs []string `json:"pathIds,omitempty"`
		UserID  string   `json:"userId,omitempty"`
	}

	WhiteboardSyncPayload struct {
		Paths []core.Path `json:"paths,omitempty"`
		Meta  *SyncMeta   `json:"meta,omitempty"`
	}

	ToolPayload struct {
		Tool        string  `json:"tool"`
		Color       string  `json:"color"`
		StrokeWidth float64 `json:"strokeWidth"`
		UserID      string  `json:"userId"`
	}
)

// board holds the authoritative in-memory path sequence for one live
// whiteboard room plus its checkpoint state machine. All fields are
// guarded by mu; the timer fires outside it.
type board struct {
	mu         sync.Mutex
	paths      []core.Path
	ids        map[string]struct{}
	settings   core.CanvasSettings
	state      saveState
	dirtyAgain bool
	timer      *time.Timer
	closed     bool
}

// Synchronizer maintains per-room path sequences for whiteboard rooms,
// fans mutations out to peers, and drives debounced persistence into the
// state store. At most one checkpoint write per board is in flight at a
// time; a mutation arriving mid-save marks the board dirty again so the
// next cycle picks it up.
type Synchronizer struct {
	registry *Registry
	store    core.StateStore
	debounce time.Duration

	mu     sync.Mutex
	boards map[string]*board
}

func NewSynchronizer(registry *Registry, store core.StateStore, debounce time.Duration) *Synchronizer {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	s := &Synchronizer{
		registry: registry,
		store:    store,
		debounce: debounce,
		boards:   make(map[string]*board),
	}
	registry.OnEvict(func(kind core.RoomKind, artifactID string) {
		if kind == core.RoomKindWhiteboard {
			s.dropBoard(artifactID)
		}
	})
	return s
}

// SubmitPaths merges fully-formed client paths into the board. Path ids
// already present are skipped (idempotent merge: reconnecting clients
// resend their buffered tail), but the batch is still rebroadcast so a
// resent tail reaches peers that missed it.
func (s *Synchronizer) SubmitPaths(artifactID, connID string, paths []core.Path) {
	if len(paths) > 0 {
		b := s.board(artifactID)
		b.mu.Lock()
		accepted := 0
		for _, p := range paths {
			if p.ID == "" {
				continue
			}
			if _, dup := b.ids[p.ID]; dup {
				continue
			}
			b.ids[p.ID] = struct{}{}
			b.paths = append(b.paths, p)
			accepted++
		}
		if accepted > 0 {
			s.markDirtyLocked(artifactID, b)
		}
		b.mu.Unlock()
	}

	s.registry.BroadcastExceptSelf(core.RoomKindWhiteboard, artifactID, connID, EventWhiteboardSync, WhiteboardSyncPayload{
		Paths: paths,
		Meta:  &SyncMeta{Action: SyncActionAdd},
	})
}

// RemovePaths drops the given ids from the authoritative sequence (undo).
// Absent ids are a no-op, but the removal is still broadcast: a peer must
// be able to apply a removal for a path it never received.
func (s *Synchronizer) RemovePaths(artifactID, connID string, pathIDs []string) {
	if len(pathIDs) > 0 {
		b := s.board(artifactID)
		b.mu.Lock()
		removed := 0
		for _, id := range pathIDs {
			if _, ok := b.ids[id]; !ok {
				continue
			}
			delete(b.ids, id)
			removed++
		}
		if removed > 0 {
			kept := b.paths[:0]
			for _, p := range b.paths {
				if _, ok := b.ids[p.ID]; ok {
					kept = append(kept, p)
				}
			}
			b.paths = kept
			s.markDirtyLocked(artifactID, b)
		}
		b.mu.Unlock()
	}

	s.registry.BroadcastExceptSelf(core.RoomKindWhiteboard, artifactID, connID, EventWhiteboardSync, WhiteboardSyncPayload{
		Meta: &SyncMeta{Action: SyncActionRemove, PathIDs: pathIDs},
	})
}

// Clear atomically empties the board and broadcasts the clear.
func (s *Synchronizer) Clear(artifactID, connID string) {
	b := s.board(artifactID)
	b.mu.Lock()
	b.paths = nil
	b.ids = make(map[string]struct{})
	s.markDirtyLocked(artifactID, b)
	b.mu.Unlock()

	s.registry.BroadcastExceptSelf(core.RoomKindWhiteboard, artifactID, connID, EventWhiteboardClear, struct{}{})
}

// ToolUpdate relays an advisory tool change. Not persisted.
func (s *Synchronizer) ToolUpdate(artifactID, connID string, payload ToolPayload) {
	s.registry.BroadcastExceptSelf(core.RoomKindWhiteboard, artifactID, connID, EventWhiteboardTool, payload)
}

// Paths returns a copy of the board's current path sequence. An unknown
// artifact yields an empty slice.
func (s *Synchronizer) Paths(artifactID string) []core.Path {
	s.mu.Lock()
	b, ok := s.boards[artifactID]
	s.mu.Unlock()
	if !ok {
		return []core.Path{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]core.Path{}, b.paths...)
}

// board returns the live board for the artifact, creating it on first
// mutation. A new board starts with an empty path sequence; clients
// restore durable history through the REST state endpoint. Settings are
// seeded from the last checkpoint so a debounced save does not clobber
// them with zero values.
func (s *Synchronizer) board(artifactID string) *board {
	s.mu.Lock()
	b, ok := s.boards[artifactID]
	if !ok {
		b = &board{ids: make(map[string]struct{})}
		s.boards[artifactID] = b
	}
	s.mu.Unlock()
	if ok {
		return b
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if prev, err := s.store.LoadState(ctx, artifactID); err == nil && prev != nil {
		b.mu.Lock()
		b.settings = prev.Settings
		b.mu.Unlock()
	}
	return b
}

// markDirtyLocked records a mutation. Caller holds b.mu. The debounce
// timer is armed once per dirty window and is not pushed back by further
// mutations, so the coalescing window stays bounded.
func (s *Synchronizer) markDirtyLocked(artifactID string, b *board) {
	if b.closed {
		return
	}
	switch b.state {
	case stateClean:
		b.state = stateDirty
		b.timer = time.AfterFunc(s.debounce, func() {
			s.checkpoint(artifactID, b)
		})
	case stateDirty:
		// timer already armed
	case stateSaving:
		b.dirtyAgain = true
	}
}

// checkpoint performs one debounced write. The board lock is released for
// the duration of the store call so mutations keep landing; they mark the
// board dirty again rather than being delayed.
func (s *Synchronizer) checkpoint(artifactID string, b *board) {
	b.mu.Lock()
	if b.state != stateDirty {
		b.mu.Unlock()
		return
	}
	b.state = stateSaving
	b.dirtyAgain = false
	snap := b.snapshotLocked()
	b.mu.Unlock()

	err := s.save(artifactID, snap)

	b.mu.Lock()
	if b.closed {
		redo := err != nil || b.dirtyAgain
		if redo {
			snap = b.snapshotLocked()
		}
		b.state = stateClean
		b.dirtyAgain = false
		b.mu.Unlock()
		if redo {
			// room already discarded; one last attempt so the final
			// mutations are not lost
			if err := s.save(artifactID, snap); err != nil {
				logrus.WithField("artifact_id", artifactID).WithError(err).Error("final checkpoint failed")
			}
		}
		return
	}
	if err != nil || b.dirtyAgain {
		// failed write or mutation during the save: next cycle retries
		b.state = stateDirty
		b.dirtyAgain = false
		b.timer = time.AfterFunc(s.debounce, func() {
			s.checkpoint(artifactID, b)
		})
	} else {
		b.state = stateClean
	}
	b.mu.Unlock()
}

// dropBoard discards the in-memory board after its room emptied, flushing
// a pending dirty state first. Persisted state outlives the room.
func (s *Synchronizer) dropBoard(artifactID string) {
	s.mu.Lock()
	b, ok := s.boards[artifactID]
	delete(s.boards, artifactID)
	s.mu.Unlock()
	if !ok {
		return
	}

	b.mu.Lock()
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	flush := b.state == stateDirty
	var snap *core.WhiteboardState
	if flush {
		snap = b.snapshotLocked()
		b.state = stateClean
	}
	// stateSaving: the in-flight checkpoint sees closed and flushes
	b.mu.Unlock()

	if flush {
		if err := s.save(artifactID, snap); err != nil {
			logrus.WithField("artifact_id", artifactID).WithError(err).Error("flush on room discard failed")
		}
	}
}

func (s *Synchronizer) save(artifactID string, snap *core.WhiteboardState) error {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	err := s.store.SaveState(ctx, artifactID, snap)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"artifact_id": artifactID,
			"paths":       len(snap.Paths),
		}).WithError(err).Warn("checkpoint write failed, will retry")
	} else {
		logrus.WithFields(logrus.Fields{
			"artifact_id": artifactID,
			"paths":       len(snap.Paths),
		}).Debug("checkpoint written")
	}
	return err
}

func (b *board) snapshotLocked() *core.WhiteboardState {
	return &core.WhiteboardState{
		Paths:    append([]core.Path{}, b.paths...),
		Settings: b.settings,
	}
}
