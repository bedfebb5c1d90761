package session

import (
	"fmt"
	"sync"
)

// Factory builds a session for a room/user pair on first access.
type Factory func(roomID string, userID int64) (*Session, error)

// Manager keeps at most one live session per room and user. Rooms do not
// interfere with each other; eviction happens on explicit leave.
type Manager struct {
	mu       sync.Mutex
	factory  Factory
	sessions map[sessionKey]*Session
}

type sessionKey struct {
	roomID string
	userID int64
}

func NewManager(factory Factory) *Manager {
	return &Manager{
		factory:  factory,
		sessions: make(map[sessionKey]*Session),
	}
}

// Get returns the existing session or builds one through the factory.
func (m *Manager) Get(roomID string, userID int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessionKey{roomID: roomID, userID: userID}
	if s, ok := m.sessions[key]; ok {
		return s, nil
	}
	if m.factory == nil {
		return nil, fmt.Errorf("session: no factory for room %s", roomID)
	}
	s, err := m.factory(roomID, userID)
	if err != nil {
		return nil, err
	}
	m.sessions[key] = s
	return s, nil
}

// Peek returns a session only if it already exists.
func (m *Manager) Peek(roomID string, userID int64) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionKey{roomID: roomID, userID: userID}]
	return s, ok
}

// ByRoom returns every live session attached to a room, across users.
func (m *Manager) ByRoom(roomID string) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Session
	for key, s := range m.sessions {
		if key.roomID == roomID {
			out = append(out, s)
		}
	}
	return out
}

// All returns every live session.
func (m *Manager) All() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Remove closes and evicts a session.
func (m *Manager) Remove(roomID string, userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := sessionKey{roomID: roomID, userID: userID}
	if s, ok := m.sessions[key]; ok {
		s.Close()
		delete(m.sessions, key)
	}
}
