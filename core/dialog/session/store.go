// Package session keeps the live per-client dialog sessions and serializes
// message handling per client.
package session

import (
	"sync"

	"github.com/m3rciful/flowbot/core/dialog"
)

// Store caches sessions between messages. The engine treats it as the source
// of truth for the current process; repositories hold the durable copy.
type Store interface {
	Get(clientID int64) (dialog.Session, bool)
	Put(s dialog.Session)
	Delete(clientID int64)
	Len() int
}

type memoryStore struct {
	mu       sync.RWMutex
	sessions map[int64]dialog.Session
}

// NewMemoryStore constructs an in-memory Store. Sessions are copied on the
// way in and out so callers never share FlowData maps.
func NewMemoryStore() Store {
	return &memoryStore{sessions: make(map[int64]dialog.Session)}
}

// Get returns the cached session for a client.
func (m *memoryStore) Get(clientID int64) (dialog.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[clientID]
	if !ok {
		return dialog.Session{}, false
	}
	return s.Clone(), true
}

// Put replaces the cached session for s.ClientID.
func (m *memoryStore) Put(s dialog.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[s.ClientID] = s.Clone()
}

// Delete drops the cached session, forcing the next load from storage.
func (m *memoryStore) Delete(clientID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, clientID)
}

func (m *memoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
