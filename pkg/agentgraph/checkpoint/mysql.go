package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// MySQLStore persists checkpoints to MySQL so several processes can share
// one checkpoint history.
type MySQLStore struct {
	sqlStore
}

// NewMySQLStore connects to MySQL and creates the schema if needed.
// dsn uses the go-sql-driver format, e.g. "user:pass@tcp(localhost:3306)/agents".
func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	err = execAll(db, `
		CREATE TABLE IF NOT EXISTS agent_checkpoints (
			seq BIGINT AUTO_INCREMENT PRIMARY KEY,
			agent_id VARCHAR(255) NOT NULL,
			id VARCHAR(64) NOT NULL,
			run_id VARCHAR(255) NOT NULL,
			version BIGINT NOT NULL,
			auto BOOLEAN NOT NULL DEFAULT FALSE,
			created_at VARCHAR(40) NOT NULL,
			data LONGBLOB NOT NULL,
			INDEX idx_agent_checkpoints_agent (agent_id, seq)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`)
	if err != nil {
		return nil, err
	}

	return &MySQLStore{sqlStore{db: db}}, nil
}

// Save implements Store.
func (s *MySQLStore) Save(ctx context.Context, agentID string, cp *Checkpoint) error {
	return s.save(ctx, agentID, cp)
}

// Get implements Store.
func (s *MySQLStore) Get(ctx context.Context, agentID, id string) (*Checkpoint, error) {
	return s.get(ctx, agentID, id)
}

// List implements Store.
func (s *MySQLStore) List(ctx context.Context, agentID string, filter Filter) ([]*Checkpoint, error) {
	return s.list(ctx, agentID, filter)
}

// Latest implements Store.
func (s *MySQLStore) Latest(ctx context.Context, agentID string, filter Filter) (*Checkpoint, error) {
	return s.latest(ctx, agentID, filter)
}

// Delete implements Store.
func (s *MySQLStore) Delete(ctx context.Context, agentID string) error {
	return s.deleteAgent(ctx, agentID)
}

// Close implements Store.
func (s *MySQLStore) Close() error {
	return s.close()
}
