package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/oicur0t/loglwatch/pkg/models"
	"go.uber.org/zap"
)

const (
	historyFile  = "restart_state.json"
	snapshotFile = "health_status.json"
)

// FileStore keeps state as JSON files in a directory
type FileStore struct {
	dir    string
	logger *zap.Logger
	mu     sync.Mutex
}

// NewFileStore creates dir if needed
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, persistErr("create state directory", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

// LoadHistory reads restart_state.json. A missing file is an empty history.
func (s *FileStore) LoadHistory(_ context.Context) (models.RestartHistory, error) {
	history := make(models.RestartHistory)
	if err := s.load(historyFile, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// SaveHistory replaces restart_state.json atomically
func (s *FileStore) SaveHistory(_ context.Context, history models.RestartHistory) error {
	return s.save(historyFile, history)
}

// LoadSnapshots reads health_status.json. A missing file yields no snapshots.
func (s *FileStore) LoadSnapshots(_ context.Context) (models.Snapshots, error) {
	snapshots := make(models.Snapshots)
	if err := s.load(snapshotFile, &snapshots); err != nil {
		return nil, err
	}
	return snapshots, nil
}

// SaveSnapshots replaces health_status.json atomically
func (s *FileStore) SaveSnapshots(_ context.Context, snapshots models.Snapshots) error {
	return s.save(snapshotFile, snapshots)
}

// Close is a no-op for the file store
func (s *FileStore) Close(context.Context) error {
	return nil
}

func (s *FileStore) load(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return persistErr("read "+name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return persistErr("decode "+name, err)
	}
	return nil
}

// save writes to a temporary file in the same directory, syncs it and renames
// it over the target so readers see either the old or the new content.
func (s *FileStore) save(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return persistErr("encode "+name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return persistErr("create temp file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return persistErr("write "+name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return persistErr("sync "+name, err)
	}
	if err := tmp.Close(); err != nil {
		return persistErr("close "+name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		return persistErr("replace "+name, err)
	}

	s.logger.Debug("State saved", zap.String("file", name), zap.Int("bytes", len(data)))
	return nil
}
