package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Iron-Ham/groundsync/internal/flight"
	"github.com/Iron-Ham/groundsync/internal/logging"
)

// DefaultRetain is how many snapshots the sqlite store keeps.
const DefaultRetain = 50

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshot (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	saved_at INTEGER NOT NULL,
	phase    TEXT    NOT NULL,
	data     BLOB    NOT NULL
);
CREATE INDEX IF NOT EXISTS snapshot_saved_at ON snapshot(saved_at);`

// Entry summarizes one stored snapshot.
type Entry struct {
	ID      int64
	SavedAt time.Time
	Phase   string
}

// SQLiteStore keeps a bounded history of snapshots in a sqlite database.
// Load returns the newest valid one.
type SQLiteStore struct {
	db     *sql.DB
	retain int
	logger *logging.Logger
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string, logger *logging.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot database: %w", err)
	}
	// sqlite serializes writers anyway
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping snapshot database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create snapshot schema: %w", err)
	}
	return &SQLiteStore{db: db, retain: DefaultRetain, logger: logger.WithComponent("snapshot")}, nil
}

// Save inserts s and prunes rows beyond the retention limit.
func (st *SQLiteStore) Save(ctx context.Context, s flight.Snapshot) error {
	data, err := encode(s)
	if err != nil {
		return fmt.Errorf("refusing to save snapshot: %w", err)
	}

	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshot (saved_at, phase, data) VALUES (?, ?, ?)`,
		s.SavedAt.UnixNano(), s.Phase.String(), data); err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM snapshot WHERE id NOT IN (SELECT id FROM snapshot ORDER BY id DESC LIMIT ?)`,
		st.retain); err != nil {
		return fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return tx.Commit()
}

// Load returns the newest snapshot that decodes and validates. Older rows
// are not consulted when the newest is bad: restoring an older state would
// roll the flight back silently.
func (st *SQLiteStore) Load(ctx context.Context) (flight.Snapshot, bool) {
	var data []byte
	err := st.db.QueryRowContext(ctx, `SELECT data FROM snapshot ORDER BY id DESC LIMIT 1`).Scan(&data)
	if err != nil {
		if err != sql.ErrNoRows {
			st.logger.Warn("snapshot query failed, starting fresh", "error", err)
		}
		return flight.Snapshot{}, false
	}

	s, err := decode(data)
	if err != nil {
		st.logger.Warn("snapshot rejected, starting fresh", "error", err)
		return flight.Snapshot{}, false
	}
	return s, true
}

// Recent lists up to limit stored snapshots, newest first.
func (st *SQLiteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := st.db.QueryContext(ctx,
		`SELECT id, saved_at, phase FROM snapshot ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var nanos int64
		if err := rows.Scan(&e.ID, &nanos, &e.Phase); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		e.SavedAt = time.Unix(0, nanos)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (st *SQLiteStore) Close() error {
	return st.db.Close()
}
