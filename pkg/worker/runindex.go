package worker

import (
	"sync"

	"github.com/google/uuid"
)

// RunIndex maps a dispatched run back to the session that started it, so
// worker callbacks can land their result cards in the right conversation.
type RunIndex struct {
	mu        sync.RWMutex
	bySession map[uuid.UUID]uuid.UUID
}

// NewRunIndex creates an empty index.
func NewRunIndex() *RunIndex {
	return &RunIndex{bySession: make(map[uuid.UUID]uuid.UUID)}
}

// Bind records that runID belongs to sessionID.
func (r *RunIndex) Bind(runID, sessionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySession[runID] = sessionID
}

// Lookup resolves the session for a run.
func (r *RunIndex) Lookup(runID uuid.UUID) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessionID, ok := r.bySession[runID]
	return sessionID, ok
}

// Release drops a finished run from the index.
func (r *RunIndex) Release(runID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bySession, runID)
}
