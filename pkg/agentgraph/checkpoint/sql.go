package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// sqlStore holds the Store logic shared by the SQLite and MySQL backends.
// Rows are ordered by an auto-increment seq column; the checkpoint body is
// stored as JSON in data.
type sqlStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

func (s *sqlStore) save(ctx context.Context, agentID string, cp *Checkpoint) error {
	stored, err := prepare(agentID, cp)
	if err != nil {
		return err
	}
	data, err := stored.Marshal()
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_checkpoints (agent_id, id, run_id, version, auto, created_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, agentID, stored.ID, stored.RunID, stored.Version, stored.Auto,
		stored.CreatedAt.UTC().Format(time.RFC3339Nano), data)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *sqlStore) get(ctx context.Context, agentID, id string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM agent_checkpoints
		WHERE agent_id = ? AND id = ?
		ORDER BY seq DESC LIMIT 1
	`, agentID, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return decodeRow(data)
}

func (s *sqlStore) list(ctx context.Context, agentID string, filter Filter) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM agent_checkpoints
		WHERE agent_id = ? AND (? = '' OR run_id = ?)
		ORDER BY seq
	`, agentID, filter.RunID, filter.RunID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	out := make([]*Checkpoint, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp, err := decodeRow(data)
		if err != nil {
			return nil, err
		}
		if filter.Match(cp) {
			out = append(out, cp)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}

// latest walks rows newest first and stops at the first match.
func (s *sqlStore) latest(ctx context.Context, agentID string, filter Filter) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM agent_checkpoints
		WHERE agent_id = ? AND (? = '' OR run_id = ?)
		ORDER BY seq DESC
	`, agentID, filter.RunID, filter.RunID)
	if err != nil {
		return nil, fmt.Errorf("latest checkpoint: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp, err := decodeRow(data)
		if err != nil {
			return nil, err
		}
		if filter.Match(cp) {
			return cp, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return nil, ErrNotFound
}

func (s *sqlStore) deleteAgent(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM agent_checkpoints WHERE agent_id = ?`, agentID); err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	return nil
}

func (s *sqlStore) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func decodeRow(data []byte) (*Checkpoint, error) {
	cp, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp, nil
}

// execAll runs schema statements, closing db on the first failure.
func execAll(db *sql.DB, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}
