// Package snapshot persists flight state machine snapshots between runs.
//
// Stores fail closed: a missing, unreadable or invalid snapshot loads as
// "no prior state" and the machine starts from PREFLIGHT.
package snapshot

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Iron-Ham/groundsync/internal/config"
	"github.com/Iron-Ham/groundsync/internal/errors"
	"github.com/Iron-Ham/groundsync/internal/flight"
	"github.com/Iron-Ham/groundsync/internal/logging"
)

// Store saves and loads the latest machine snapshot.
type Store interface {
	Save(ctx context.Context, s flight.Snapshot) error
	// Load returns the latest valid snapshot, or false when there is none
	// or it cannot be trusted.
	Load(ctx context.Context) (flight.Snapshot, bool)
	Close() error
}

// Open returns the store selected by cfg.
func Open(cfg config.SnapshotConfig, logger *logging.Logger) (Store, error) {
	switch cfg.Backend {
	case config.SnapshotBackendFile:
		fs, err := NewFileStore(cfg.ResolvePath(), logger)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case config.SnapshotBackendSQLite:
		st, err := NewSQLiteStore(cfg.ResolvePath(), logger)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.SnapshotBackendNone, "":
		return NopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.Backend)
	}
}

// NopStore discards snapshots.
type NopStore struct{}

func (NopStore) Save(context.Context, flight.Snapshot) error { return nil }

func (NopStore) Load(context.Context) (flight.Snapshot, bool) { return flight.Snapshot{}, false }

func (NopStore) Close() error { return nil }

func encode(s flight.Snapshot) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return msgpack.Marshal(&s)
}

// decode unmarshals and validates data. Any failure wraps ErrSnapshotCorrupt.
func decode(data []byte) (flight.Snapshot, error) {
	var s flight.Snapshot
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return flight.Snapshot{}, fmt.Errorf("%w: %v", errors.ErrSnapshotCorrupt, err)
	}
	if err := s.Validate(); err != nil {
		return flight.Snapshot{}, err
	}
	return s, nil
}
