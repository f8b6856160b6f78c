// Package checkpoint provides checkpoint records and pluggable storage for
// pausing, resuming and rolling back agent runs.
//
// Stores keep checkpoints per agent in insertion order. Implementations:
// MemoryStore (tests, single process), SQLiteStore and BadgerStore (local
// persistence), MySQLStore and RedisStore (shared across processes).
package checkpoint

import (
	"context"
	"errors"
	"time"
)

// Store persists checkpoints keyed by agent ID.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save appends a checkpoint to the agent's sequence.
	// The stored copy has AgentID set to agentID.
	Save(ctx context.Context, agentID string, cp *Checkpoint) error

	// Get returns a checkpoint by ID, or ErrNotFound.
	Get(ctx context.Context, agentID, id string) (*Checkpoint, error)

	// List returns the agent's checkpoints matching filter, oldest first.
	// Returns an empty slice (not an error) when there are none.
	List(ctx context.Context, agentID string, filter Filter) ([]*Checkpoint, error)

	// Latest returns the most recently saved matching checkpoint, or ErrNotFound.
	Latest(ctx context.Context, agentID string, filter Filter) (*Checkpoint, error)

	// Delete removes all checkpoints of an agent.
	Delete(ctx context.Context, agentID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Kind selects manual or continuous checkpoints.
type Kind int

// Checkpoint kinds for filtering.
const (
	KindAny Kind = iota
	KindManual
	KindAuto
)

// Filter narrows List and Latest. The zero value matches everything.
type Filter struct {
	RunID string
	Kind  Kind
	Since time.Time
}

// Match reports whether cp passes the filter.
func (f Filter) Match(cp *Checkpoint) bool {
	if f.RunID != "" && cp.RunID != f.RunID {
		return false
	}
	switch f.Kind {
	case KindManual:
		if cp.Auto {
			return false
		}
	case KindAuto:
		if !cp.Auto {
			return false
		}
	}
	if !f.Since.IsZero() && cp.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")

	// ErrInvalidCheckpoint indicates a nil checkpoint or missing ID.
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")
)

// filterAll returns the checkpoints matching f, preserving order.
func filterAll(cps []*Checkpoint, f Filter) []*Checkpoint {
	out := make([]*Checkpoint, 0, len(cps))
	for _, cp := range cps {
		if f.Match(cp) {
			out = append(out, cp)
		}
	}
	return out
}

// lastMatch returns the newest checkpoint matching f, or ErrNotFound.
func lastMatch(cps []*Checkpoint, f Filter) (*Checkpoint, error) {
	for i := len(cps) - 1; i >= 0; i-- {
		if f.Match(cps[i]) {
			return cps[i], nil
		}
	}
	return nil, ErrNotFound
}

// prepare validates cp and returns the copy to persist.
func prepare(agentID string, cp *Checkpoint) (*Checkpoint, error) {
	if cp == nil || cp.ID == "" {
		return nil, ErrInvalidCheckpoint
	}
	stored := cp.Clone()
	stored.AgentID = agentID
	if stored.FormatVersion == 0 {
		stored.FormatVersion = FormatVersion
	}
	return stored, nil
}
