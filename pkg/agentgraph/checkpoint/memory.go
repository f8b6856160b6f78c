package checkpoint

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore keeps checkpoints in process memory. They are gone when the
// process exits, so it suits tests and single runs.
type MemoryStore struct {
	mu sync.RWMutex
	// byAgent holds each agent's checkpoints in save order. It is nil once
	// the store is closed.
	byAgent map[string][]*Checkpoint
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byAgent: make(map[string][]*Checkpoint)}
}

func (m *MemoryStore) read(fn func(map[string][]*Checkpoint) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.byAgent == nil {
		return ErrStoreClosed
	}
	return fn(m.byAgent)
}

func (m *MemoryStore) write(fn func(map[string][]*Checkpoint)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byAgent == nil {
		return ErrStoreClosed
	}
	fn(m.byAgent)
	return nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, agentID string, cp *Checkpoint) error {
	stored, err := prepare(agentID, cp)
	if err != nil {
		return err
	}
	return m.write(func(byAgent map[string][]*Checkpoint) {
		byAgent[agentID] = append(byAgent[agentID], stored)
	})
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, agentID, id string) (cp *Checkpoint, err error) {
	err = m.read(func(byAgent map[string][]*Checkpoint) error {
		cps := byAgent[agentID]
		i := slices.IndexFunc(cps, func(c *Checkpoint) bool { return c.ID == id })
		if i < 0 {
			return ErrNotFound
		}
		cp = cps[i].Clone()
		return nil
	})
	return cp, err
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, agentID string, filter Filter) (out []*Checkpoint, err error) {
	err = m.read(func(byAgent map[string][]*Checkpoint) error {
		out = filterAll(byAgent[agentID], filter)
		for i, cp := range out {
			out[i] = cp.Clone()
		}
		return nil
	})
	return out, err
}

// Latest implements Store.
func (m *MemoryStore) Latest(_ context.Context, agentID string, filter Filter) (cp *Checkpoint, err error) {
	err = m.read(func(byAgent map[string][]*Checkpoint) error {
		found, err := lastMatch(byAgent[agentID], filter)
		if err != nil {
			return err
		}
		cp = found.Clone()
		return nil
	})
	return cp, err
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, agentID string) error {
	return m.write(func(byAgent map[string][]*Checkpoint) {
		delete(byAgent, agentID)
	})
}

// Close implements Store. Later calls fail with ErrStoreClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.byAgent = nil
	m.mu.Unlock()
	return nil
}

// Len returns the number of checkpoints held for all agents.
func (m *MemoryStore) Len() int {
	n := 0
	_ = m.read(func(byAgent map[string][]*Checkpoint) error {
		for _, cps := range byAgent {
			n += len(cps)
		}
		return nil
	})
	return n
}
