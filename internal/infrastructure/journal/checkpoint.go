// Package journal persists a run's durable state to disk: the
// latest-wins checkpoint snapshot and the append-only transcript log.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/agentrt/core/internal/domain/entity"
)

// CheckpointStore writes {dir}/{run_id}.json atomically: a
// temp file in the same directory, flushed and renamed over the target,
// so a crash mid-write never leaves a truncated checkpoint behind.
type CheckpointStore struct {
	dir string
	mu  sync.Mutex
}

// NewCheckpointStore opens a store rooted at dir, creating it if absent.
func NewCheckpointStore(dir string) (*CheckpointStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &CheckpointStore{dir: dir}, nil
}

func (s *CheckpointStore) path(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}

// Save atomically writes cp to its run's checkpoint file.
func (s *CheckpointStore) Save(cp *entity.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	target := s.path(cp.RunID)
	tmp, err := os.CreateTemp(s.dir, "checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename checkpoint into place: %w", err)
	}
	return nil
}

// Load reads the checkpoint for runID, or (nil, nil) if none exists yet.
func (s *CheckpointStore) Load(runID string) (*entity.Checkpoint, error) {
	data, err := os.ReadFile(s.path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp entity.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return &cp, nil
}

// Delete removes a run's checkpoint file once the run has finished
// cleanly and there is nothing left to resume.
func (s *CheckpointStore) Delete(runID string) error {
	err := os.Remove(s.path(runID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}
