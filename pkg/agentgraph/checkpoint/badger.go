package checkpoint

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps all data in memory. Useful for tests.
	InMemory bool

	// SyncWrites fsyncs every write. Slower but durable across crashes.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger
}

// BadgerStore persists checkpoints in an embedded BadgerDB.
//
// Layout per agent:
//
//	cp\x00<agent>\x00<seq:8 bytes BE>  -> checkpoint JSON
//	ix\x00<agent>\x00<checkpoint id>   -> seq
//	sq\x00<agent>                      -> last seq
type BadgerStore struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
}

// NewBadgerStore opens a BadgerDB-backed store.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger path is required when not in memory")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func agentPrefix(kind, agentID string) []byte {
	return []byte(kind + "\x00" + agentID + "\x00")
}

func dataKey(agentID string, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(agentPrefix("cp", agentID), seq)
}

func indexKey(agentID, id string) []byte {
	return append(agentPrefix("ix", agentID), id...)
}

func seqKey(agentID string) []byte {
	return []byte("sq\x00" + agentID)
}

// Save implements Store.
func (s *BadgerStore) Save(_ context.Context, agentID string, cp *Checkpoint) error {
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

	err = s.db.Update(func(txn *badger.Txn) error {
		var seq uint64
		item, err := txn.Get(seqKey(agentID))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error {
				seq = binary.BigEndian.Uint64(val)
				return nil
			}); err != nil {
				return err
			}
		}
		seq++

		seqBytes := binary.BigEndian.AppendUint64(nil, seq)
		if err := txn.Set(seqKey(agentID), seqBytes); err != nil {
			return err
		}
		if err := txn.Set(indexKey(agentID, stored.ID), seqBytes); err != nil {
			return err
		}
		return txn.Set(dataKey(agentID, seq), data)
	})
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *BadgerStore) Get(_ context.Context, agentID, id string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var cp *Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey(agentID, id))
		if err != nil {
			return err
		}
		seqBytes, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(dataKey(agentID, binary.BigEndian.Uint64(seqBytes)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			cp, err = decodeRow(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return cp, nil
}

// scan visits the agent's checkpoints in save order, or newest first when
// reverse is set. Returning false from fn stops the scan.
func (s *BadgerStore) scan(agentID string, reverse bool, fn func(*Checkpoint) bool) error {
	prefix := agentPrefix("cp", agentID)
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = reverse
		it := txn.NewIterator(opts)
		defer it.Close()

		start := prefix
		if reverse {
			start = append(append([]byte(nil), prefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		}
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			var cp *Checkpoint
			err := it.Item().Value(func(val []byte) error {
				var err error
				cp, err = decodeRow(val)
				return err
			})
			if err != nil {
				return err
			}
			if !fn(cp) {
				return nil
			}
		}
		return nil
	})
}

// List implements Store.
func (s *BadgerStore) List(_ context.Context, agentID string, filter Filter) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	out := make([]*Checkpoint, 0)
	err := s.scan(agentID, false, func(cp *Checkpoint) bool {
		if filter.Match(cp) {
			out = append(out, cp)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return out, nil
}

// Latest implements Store.
func (s *BadgerStore) Latest(_ context.Context, agentID string, filter Filter) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var found *Checkpoint
	err := s.scan(agentID, true, func(cp *Checkpoint) bool {
		if filter.Match(cp) {
			found = cp
			return false
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("latest checkpoint: %w", err)
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// Delete implements Store.
func (s *BadgerStore) Delete(_ context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if err := s.db.DropPrefix(agentPrefix("cp", agentID), agentPrefix("ix", agentID)); err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(seqKey(agentID))
	})
	if err != nil {
		return fmt.Errorf("delete checkpoint sequence: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
