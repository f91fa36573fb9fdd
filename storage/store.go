// Package storage persists execution traces. Backends store the full
// nested step/evaluation/check graph; save is idempotent by execution id
// with last-write-wins overwrite.
package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/xraygo/xray/trace"
)

// Store is the trace persistence contract.
type Store interface {
	// Save persists the execution, overwriting any trace stored under
	// the same id. Concurrent saves to one id are serialized.
	Save(execution *trace.Execution) error

	// Get retrieves a full trace by id.
	Get(id string) (*trace.Execution, error)

	// List returns the most recent execution summaries, newest first,
	// without materializing evaluation or check bodies.
	List(limit int) ([]trace.ExecutionSummary, error)

	// Delete removes an execution and its steps.
	Delete(id string) error
}

// NotFoundError reports a read of an unknown execution id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("execution %s not found", e.ID)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// WriteError wraps an underlying persistence failure. The in-memory
// execution remains valid and retrying Save is safe.
type WriteError struct {
	ID  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to save execution %s: %v", e.ID, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// DefaultListLimit applies when a caller asks for a non-positive limit.
const DefaultListLimit = 50

// idLocks hands out one mutex per execution id, so writers to the same
// id serialize while distinct ids proceed concurrently.
type idLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *idLocks) lock(id string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
