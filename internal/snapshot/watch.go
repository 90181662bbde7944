package snapshot

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/groundsync/internal/logging"
)

// DefaultDebounce collapses the burst of events a single save produces
// (temp file create, write, rename; or sqlite journal writes).
const DefaultDebounce = 50 * time.Millisecond

// Watcher reports changes to a snapshot store's file.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	logger   *logging.Logger
}

// NewWatcher watches the directory holding path. Saves replace the file
// by rename, so the file itself cannot be watched. logger may be nil.
func NewWatcher(path string, debounce time.Duration, logger *logging.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &Watcher{watcher: w, path: filepath.Clean(path), debounce: debounce, logger: logger}, nil
}

// relevant matches the store file and its sidecars (e.g. "-wal", ".tmp").
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	return strings.HasPrefix(filepath.Clean(ev.Name), w.path)
}

// Run calls onChange once per debounced burst of changes until ctx is done.
// The watcher is closed on return.
func (w *Watcher) Run(ctx context.Context, onChange func()) error {
	defer func() { _ = w.watcher.Close() }()

	debounce := time.NewTimer(0)
	<-debounce.C
	pending := false

	for {
		select {
		case <-ctx.Done():
			debounce.Stop()
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			pending = true
			debounce.Reset(w.debounce)

		case <-debounce.C:
			if pending {
				pending = false
				onChange()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("snapshot watch error", "error", err)
		}
	}
}
