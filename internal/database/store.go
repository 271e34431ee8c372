package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Kind namespaces entity state
type Kind string

const (
	KindTenant       Kind = "tenant"
	KindBackupJob    Kind = "backup-job"
	KindDRPlan       Kind = "dr-plan"
	KindDRActivation Kind = "dr-activation"
)

// ErrNotFound is returned by Load when no state exists for the key
var ErrNotFound = errors.New("state not found")

// Store persists the full state of one entity per (kind, id).
// A Save is durable once it returns nil, and a subsequent Load by the same
// owner observes it.
type Store interface {
	Load(ctx context.Context, kind Kind, id string, v any) error
	Save(ctx context.Context, kind Kind, id string, v any) error
	Delete(ctx context.Context, kind Kind, id string) error
	Keys(ctx context.Context, kind Kind) ([]string, error)
	Close() error
}

// MemoryStore keeps JSON snapshots in memory
type MemoryStore struct {
	mu    sync.RWMutex
	state map[Kind]map[string][]byte
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: make(map[Kind]map[string][]byte)}
}

// Load decodes the stored snapshot into v
func (s *MemoryStore) Load(ctx context.Context, kind Kind, id string, v any) error {
	s.mu.RLock()
	data, ok := s.state[kind][id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return nil
}

// Save stores a snapshot of v
func (s *MemoryStore) Save(ctx context.Context, kind Kind, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", kind, id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state[kind] == nil {
		s.state[kind] = make(map[string][]byte)
	}
	s.state[kind][id] = data
	return nil
}

// Delete removes the snapshot; deleting a missing key is not an error
func (s *MemoryStore) Delete(ctx context.Context, kind Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state[kind], id)
	return nil
}

// Keys lists ids stored under kind in lexical order
func (s *MemoryStore) Keys(ctx context.Context, kind Kind) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.state[kind]))
	for id := range s.state[kind] {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }
