package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Iron-Ham/groundsync/internal/flight"
	"github.com/Iron-Ham/groundsync/internal/logging"
)

// FileStore keeps the latest snapshot in one msgpack file.
type FileStore struct {
	path   string
	logger *logging.Logger
	mu     sync.RWMutex
}

// NewFileStore creates a store writing to path. The parent directory is
// created if it doesn't exist.
func NewFileStore(path string, logger *logging.Logger) (*FileStore, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileStore{path: path, logger: logger.WithComponent("snapshot")}, nil
}

// Path returns the snapshot file path.
func (fs *FileStore) Path() string {
	return fs.path
}

// Save writes s atomically, replacing the previous snapshot.
func (fs *FileStore) Save(ctx context.Context, s flight.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(s)
	if err != nil {
		return fmt.Errorf("refusing to save snapshot: %w", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	return atomicWriteFile(fs.path, data, 0644)
}

// Load reads the snapshot file. A missing file is silent; a corrupt or
// invalid one is logged and ignored.
func (fs *FileStore) Load(ctx context.Context) (flight.Snapshot, bool) {
	if ctx.Err() != nil {
		return flight.Snapshot{}, false
	}

	fs.mu.RLock()
	data, err := os.ReadFile(fs.path)
	fs.mu.RUnlock()
	if err != nil {
		if !os.IsNotExist(err) {
			fs.logger.Warn("snapshot unreadable, starting fresh", "path", fs.path, "error", err)
		}
		return flight.Snapshot{}, false
	}

	s, err := decode(data)
	if err != nil {
		fs.logger.Warn("snapshot rejected, starting fresh", "path", fs.path, "error", err)
		return flight.Snapshot{}, false
	}
	return s, true
}

// Close implements Store.
func (fs *FileStore) Close() error {
	return nil
}

// atomicWriteFile writes data to a temporary file in the same directory and
// renames it over path, so readers never see a partial snapshot.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
