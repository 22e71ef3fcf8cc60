package video

import (
	"context"
	"sync"

	"github.com/brightdesk/dialtone/internal/token"
)

// Manager owns one room session per room name.
type Manager struct {
	provider RoomProvider
	tokens   token.Source

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(provider RoomProvider, tokens token.Source) *Manager {
	return &Manager{
		provider: provider,
		tokens:   tokens,
		sessions: make(map[string]*Session),
	}
}

// Connect joins a room under the given identity. One live session per room
// name; a second join for the same room is rejected.
func (m *Manager) Connect(ctx context.Context, roomName, identity string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[roomName]; ok && s.Connected() {
		m.mu.Unlock()
		return nil, ErrRoomExists
	}
	s := NewSession(m.provider, m.tokens)
	m.sessions[roomName] = s
	m.mu.Unlock()

	if err := s.Connect(ctx, roomName, identity); err != nil {
		m.mu.Lock()
		if m.sessions[roomName] == s {
			delete(m.sessions, roomName)
		}
		m.mu.Unlock()
		return nil, err
	}
	return s, nil
}

func (m *Manager) Get(roomName string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[roomName]
	m.mu.Unlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	return s, nil
}

// Disconnect leaves the named room and forgets its session.
func (m *Manager) Disconnect(roomName string) error {
	m.mu.Lock()
	s, ok := m.sessions[roomName]
	delete(m.sessions, roomName)
	m.mu.Unlock()
	if !ok {
		return ErrRoomNotFound
	}
	s.Disconnect()
	return nil
}

// DisconnectAll leaves every room, used on shutdown.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.Disconnect()
	}
}
