package storage

import (
	"sync"

	"github.com/xraygo/xray/trace"
)

// MemoryStore keeps traces in process memory. Useful for tests and for
// runs that do not need persistence. Stored executions are deep-copied
// both ways, so callers can never mutate a stored trace.
type MemoryStore struct {
	mu         sync.RWMutex
	executions map[string]*trace.Execution
	order      []string // insertion order, oldest first
}

// NewMemoryStore creates an empty in-memory trace store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[string]*trace.Execution),
	}
}

// Save stores a deep copy of the execution, overwriting any previous
// trace under the same id.
func (s *MemoryStore) Save(execution *trace.Execution) error {
	clone := execution.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[clone.ID]; !exists {
		s.order = append(s.order, clone.ID)
	}
	s.executions[clone.ID] = clone
	return nil
}

// Get returns a deep copy of the stored trace.
func (s *MemoryStore) Get(id string) (*trace.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	execution, ok := s.executions[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return execution.Clone(), nil
}

// List returns summaries newest-first.
func (s *MemoryStore) List(limit int) ([]trace.ExecutionSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]trace.ExecutionSummary, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(summaries) < limit; i-- {
		if execution, ok := s.executions[s.order[i]]; ok {
			summaries = append(summaries, execution.Summary())
		}
	}
	return summaries, nil
}

// Delete removes a stored execution.
func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[id]; !ok {
		return &NotFoundError{ID: id}
	}
	delete(s.executions, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}
