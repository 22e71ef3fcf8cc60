package video

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/brightdesk/dialtone/internal/token"
)

// Session is one joined room for one local identity. Unlike the telephony
// session it carries no renewal scheduler; the room credential only needs to
// outlive the join handshake.
type Session struct {
	provider RoomProvider
	tokens   token.Source

	mu        sync.Mutex
	room      Room
	roomName  string
	identity  string
	roster    map[string]struct{}
	audioOn   bool
	videoOn   bool
	connected bool
}

// Snapshot is a copy of the room session's externally visible state.
type Snapshot struct {
	RoomName     string   `json:"room_name"`
	Identity     string   `json:"identity"`
	Connected    bool     `json:"connected"`
	Participants []string `json:"participants"`
	AudioEnabled bool     `json:"audio_enabled"`
	VideoEnabled bool     `json:"video_enabled"`
}

func NewSession(provider RoomProvider, tokens token.Source) *Session {
	return &Session{
		provider: provider,
		tokens:   tokens,
		roster:   make(map[string]struct{}),
	}
}

// Connect mints a room credential, joins and seeds the roster with anyone
// already present. Tracks start enabled.
func (s *Session) Connect(ctx context.Context, roomName, identity string) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return ErrRoomExists
	}
	s.mu.Unlock()

	cred, err := s.tokens.RoomToken(ctx, roomName, identity)
	if err != nil {
		return fmt.Errorf("request room token: %w", err)
	}
	room, err := s.provider.JoinRoom(ctx, cred.Token, roomName, identity)
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}

	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		_ = room.Disconnect()
		return ErrRoomExists
	}
	s.room = room
	s.roomName = roomName
	s.identity = identity
	s.roster = make(map[string]struct{})
	for _, p := range room.Participants() {
		s.roster[p.Identity()] = struct{}{}
	}
	s.audioOn = true
	s.videoOn = true
	s.connected = true
	s.mu.Unlock()

	go s.watchRoom(room)
	return nil
}

func (s *Session) watchRoom(room Room) {
	for ev := range room.Events() {
		switch ev.Type {
		case RoomEventParticipantJoined:
			s.mu.Lock()
			if s.room == room && ev.Participant != nil {
				s.roster[ev.Participant.Identity()] = struct{}{}
			}
			s.mu.Unlock()
		case RoomEventParticipantLeft:
			s.mu.Lock()
			if s.room == room && ev.Participant != nil {
				delete(s.roster, ev.Participant.Identity())
			}
			s.mu.Unlock()
		case RoomEventDisconnected:
			s.mu.Lock()
			if s.room == room {
				s.clearLocked()
			}
			s.mu.Unlock()
		}
	}
}

// Disconnect leaves the room and clears the roster. Idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	room := s.room
	s.clearLocked()
	s.mu.Unlock()

	if room != nil {
		if err := room.Disconnect(); err != nil {
			log.Printf("video: room disconnect failed (room=%s): %v", room.Name(), err)
		}
	}
}

func (s *Session) clearLocked() {
	s.room = nil
	s.connected = false
	s.roster = make(map[string]struct{})
	s.audioOn = false
	s.videoOn = false
}

func (s *Session) SetAudioEnabled(on bool) error {
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	if room == nil {
		return ErrNotConnected
	}
	if err := room.SetAudioEnabled(on); err != nil {
		return err
	}
	s.mu.Lock()
	if s.room == room {
		s.audioOn = on
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) SetVideoEnabled(on bool) error {
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	if room == nil {
		return ErrNotConnected
	}
	if err := room.SetVideoEnabled(on); err != nil {
		return err
	}
	s.mu.Lock()
	if s.room == room {
		s.videoOn = on
	}
	s.mu.Unlock()
	return nil
}

// Roster returns the remote identities currently in the room, sorted.
func (s *Session) Roster() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rosterLocked()
}

func (s *Session) rosterLocked() []string {
	out := make([]string, 0, len(s.roster))
	for id := range s.roster {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		RoomName:     s.roomName,
		Identity:     s.identity,
		Connected:    s.connected,
		Participants: s.rosterLocked(),
		AudioEnabled: s.audioOn,
		VideoEnabled: s.videoOn,
	}
}
