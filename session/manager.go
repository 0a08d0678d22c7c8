package session

import (
	"sync"

	"github.com/lodevel/procstudio/contract"
)

// Manager creates sessions lazily per tab and keeps them until the tab is
// closed.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Get returns the session for tabID, creating it on first use with the
// given task type. The task type of an existing session is not changed.
func (m *Manager) Get(tabID string, task contract.TaskType) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[tabID]; ok {
		return s
	}
	s := New(tabID, task)
	m.sessions[tabID] = s
	return s
}

// Close removes the session for tabID. The returned session, if any, lets
// the caller release per-session store state.
func (m *Manager) Close(tabID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[tabID]
	delete(m.sessions, tabID)
	return s
}

// IDs returns the ids of all live sessions.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}
