package checkpoint

import (
	"context"
	"sort"
	"sync"

	"github.com/BaSui01/pipeflow/state"
)

// MemoryStore keeps encoded snapshots in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	enc    *Encoder
	data   map[string][]byte
	closed bool
}

// NewMemoryStore creates an empty store using JSON encoding.
func NewMemoryStore() *MemoryStore {
	enc, _ := NewEncoder(CodecJSON)
	return &MemoryStore{enc: enc, data: make(map[string][]byte)}
}

func (s *MemoryStore) Save(_ context.Context, runID string, rs *state.RunState) error {
	if err := validate(runID, rs); err != nil {
		return err
	}
	b, err := s.enc.Encode(rs)
	if err != nil {
		return storageErr("save", runID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storageErr("save", runID, ErrStoreClosed)
	}
	s.data[runID] = b
	return nil
}

func (s *MemoryStore) Load(_ context.Context, runID string) (*state.RunState, error) {
	s.mu.RLock()
	b, ok := s.data[runID]
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, storageErr("load", runID, ErrStoreClosed)
	}
	if !ok {
		return nil, storageErr("load", runID, ErrNotFound)
	}
	rs, err := s.enc.Decode(b)
	if err != nil {
		return nil, storageErr("load", runID, err)
	}
	return rs, nil
}

func (s *MemoryStore) Delete(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storageErr("delete", runID, ErrStoreClosed)
	}
	delete(s.data, runID)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
