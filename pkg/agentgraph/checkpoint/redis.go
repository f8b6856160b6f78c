package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// RedisStore persists checkpoints in Redis.
//
// Each agent owns a list of checkpoint JSON documents in save order and a
// hash from checkpoint ID to the same document.
type RedisStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration

	mu     sync.RWMutex
	closed bool
}

// redisPage is how many list entries Latest reads per round trip.
const redisPage = 32

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisTTL expires an agent's checkpoints ttl after the last save.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithRedisPrefix sets the key prefix. Defaults to "agentgraph:checkpoint:".
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore connects to Redis at address.
func NewRedisStore(address, password string, db int, opts ...RedisOption) *RedisStore {
	return NewRedisStoreFromClient(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewRedisStoreFromClient wraps an existing client. Close closes the client.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: "agentgraph:checkpoint:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) listKey(agentID string) string {
	return s.prefix + agentID + ":list"
}

func (s *RedisStore) hashKey(agentID string) string {
	return s.prefix + agentID + ":ids"
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, agentID string, cp *Checkpoint) error {
	stored, err := prepare(agentID, cp)
	if err != nil {
		return err
	}
	data, err := stored.Marshal()
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.listKey(agentID), data)
	pipe.HSet(ctx, s.hashKey(agentID), stored.ID, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.listKey(agentID), s.ttl)
		pipe.Expire(ctx, s.hashKey(agentID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, agentID, id string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	val, err := s.client.HGet(ctx, s.hashKey(agentID), id).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return decodeRow(val)
}

func (s *RedisStore) all(ctx context.Context, agentID string) ([]*Checkpoint, error) {
	vals, err := s.client.LRange(ctx, s.listKey(agentID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	out := make([]*Checkpoint, 0, len(vals))
	for _, v := range vals {
		cp, err := decodeRow([]byte(v))
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, agentID string, filter Filter) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	cps, err := s.all(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return filterAll(cps, filter), nil
}

// Latest implements Store.
func (s *RedisStore) Latest(ctx context.Context, agentID string, filter Filter) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	key := s.listKey(agentID)
	for end := int64(-1); ; end -= redisPage {
		vals, err := s.client.LRange(ctx, key, end-redisPage+1, end).Result()
		if err != nil {
			return nil, fmt.Errorf("latest checkpoint: %w", err)
		}
		for i := len(vals) - 1; i >= 0; i-- {
			cp, err := decodeRow([]byte(vals[i]))
			if err != nil {
				return nil, err
			}
			if filter.Match(cp) {
				return cp, nil
			}
		}
		if len(vals) < redisPage {
			return nil, ErrNotFound
		}
	}
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, agentID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	if err := s.client.Del(ctx, s.listKey(agentID), s.hashKey(agentID)).Err(); err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
