package api

import (
	"sync"
	"time"

	"github.com/samcharles93/lattice/internal/loader"
)

// Entry is one loaded graph held by the service. The raw container bytes are
// retained because the plan's constant tensors alias them.
type Entry struct {
	ID        string
	Name      string
	CreatedAt time.Time
	Plan      *loader.Plan

	raw []byte
}

// GraphStore is the in-memory registry of loaded graphs, keyed by handle id.
type GraphStore struct {
	mu     sync.RWMutex
	graphs map[string]*Entry
}

func NewGraphStore() *GraphStore {
	return &GraphStore{graphs: make(map[string]*Entry)}
}

func (s *GraphStore) Add(e *Entry) {
	s.mu.Lock()
	s.graphs[e.ID] = e
	s.mu.Unlock()
}

func (s *GraphStore) Get(id string) (*Entry, bool) {
	s.mu.RLock()
	e, ok := s.graphs[id]
	s.mu.RUnlock()
	return e, ok
}

// Remove detaches the entry from the store and returns it so the caller can
// release plan resources outside the lock.
func (s *GraphStore) Remove(id string) (*Entry, bool) {
	s.mu.Lock()
	e, ok := s.graphs[id]
	if ok {
		delete(s.graphs, id)
	}
	s.mu.Unlock()
	return e, ok
}

func (s *GraphStore) List() []*Entry {
	s.mu.RLock()
	out := make([]*Entry, 0, len(s.graphs))
	for _, e := range s.graphs {
		out = append(out, e)
	}
	s.mu.RUnlock()
	return out
}
