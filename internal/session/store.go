// Package session persists the per-document tracking session (whether
// track changes is on and who the current author is) between requests.
package session

import (
	"context"
	"sync"

	"redline/api/internal/trackchanges"
)

// Store loads and saves tracking sessions keyed by document id. Load reports
// ok=false when nothing was saved for the document.
type Store interface {
	Load(ctx context.Context, documentID string) (state trackchanges.SessionState, ok bool, err error)
	Save(ctx context.Context, documentID string, state trackchanges.SessionState) error
	Delete(ctx context.Context, documentID string) error
	Ping(ctx context.Context) error
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]trackchanges.SessionState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]trackchanges.SessionState)}
}

func (m *MemoryStore) Load(_ context.Context, documentID string) (trackchanges.SessionState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[documentID]
	return state, ok, nil
}

func (m *MemoryStore) Save(_ context.Context, documentID string, state trackchanges.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[documentID] = state
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, documentID)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}
