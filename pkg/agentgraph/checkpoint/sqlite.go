package checkpoint

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps checkpoints in a SQLite file, one row per checkpoint.
// Only one process should write to the file at a time.
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore opens or creates the database at path. ":memory:" gives a
// throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared across calls.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	err = execAll(db, `
		CREATE TABLE IF NOT EXISTS agent_checkpoints (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			auto INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			data BLOB NOT NULL
		)`, `
		CREATE INDEX IF NOT EXISTS idx_agent_checkpoints_agent
		ON agent_checkpoints(agent_id, seq)`)
	if err != nil {
		return nil, err
	}

	return &SQLiteStore{sqlStore{db: db}}, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, agentID string, cp *Checkpoint) error {
	return s.save(ctx, agentID, cp)
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, agentID, id string) (*Checkpoint, error) {
	return s.get(ctx, agentID, id)
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, agentID string, filter Filter) ([]*Checkpoint, error) {
	return s.list(ctx, agentID, filter)
}

// Latest implements Store.
func (s *SQLiteStore) Latest(ctx context.Context, agentID string, filter Filter) (*Checkpoint, error) {
	return s.latest(ctx, agentID, filter)
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, agentID string) error {
	return s.deleteAgent(ctx, agentID)
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.close()
}
