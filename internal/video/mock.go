package video

import (
	"context"
	"fmt"
	"sync"
)

// MockRoomProvider is the in-process room provider used when no hosted video
// backend is configured, and by tests.
type MockRoomProvider struct {
	mu      sync.Mutex
	rooms   []*MockRoom
	joinErr error
}

func NewMockRoomProvider() *MockRoomProvider { return &MockRoomProvider{} }

func (p *MockRoomProvider) Name() string { return "mock" }

func (p *MockRoomProvider) JoinRoom(_ context.Context, tok, roomName, identity string) (Room, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.joinErr != nil {
		err := p.joinErr
		p.joinErr = nil
		return nil, err
	}
	if tok == "" {
		return nil, fmt.Errorf("mock room: token is required")
	}
	r := &MockRoom{
		name:     roomName,
		identity: identity,
		token:    tok,
		events:   make(chan RoomEvent, 16),
	}
	p.rooms = append(p.rooms, r)
	return r, nil
}

// FailNextJoin makes the next JoinRoom call fail once.
func (p *MockRoomProvider) FailNextJoin(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.joinErr = err
}

// LastRoom returns the most recently joined room, or nil.
func (p *MockRoomProvider) LastRoom() *MockRoom {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.rooms) == 0 {
		return nil
	}
	return p.rooms[len(p.rooms)-1]
}

type mockParticipant string

func (p mockParticipant) Identity() string { return string(p) }

type MockRoom struct {
	mu           sync.Mutex
	name         string
	identity     string
	token        string
	participants []RemoteParticipant
	audioOn      bool
	videoOn      bool
	disconnected bool
	events       chan RoomEvent
}

func (r *MockRoom) Name() string { return r.name }

func (r *MockRoom) Participants() []RemoteParticipant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RemoteParticipant(nil), r.participants...)
}

func (r *MockRoom) SetAudioEnabled(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disconnected {
		return fmt.Errorf("mock room disconnected")
	}
	r.audioOn = on
	return nil
}

func (r *MockRoom) SetVideoEnabled(on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disconnected {
		return fmt.Errorf("mock room disconnected")
	}
	r.videoOn = on
	return nil
}

func (r *MockRoom) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disconnected {
		return nil
	}
	r.disconnected = true
	r.events <- RoomEvent{Type: RoomEventDisconnected}
	close(r.events)
	return nil
}

func (r *MockRoom) Events() <-chan RoomEvent { return r.events }

func (r *MockRoom) AudioEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.audioOn
}

func (r *MockRoom) VideoEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.videoOn
}

func (r *MockRoom) Disconnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnected
}

// PushParticipantJoined simulates a remote identity joining the room.
func (r *MockRoom) PushParticipantJoined(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disconnected {
		return
	}
	p := mockParticipant(identity)
	r.participants = append(r.participants, p)
	r.events <- RoomEvent{Type: RoomEventParticipantJoined, Participant: p}
}

// PushParticipantLeft simulates a remote identity leaving the room.
func (r *MockRoom) PushParticipantLeft(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disconnected {
		return
	}
	for i, p := range r.participants {
		if p.Identity() == identity {
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			break
		}
	}
	r.events <- RoomEvent{Type: RoomEventParticipantLeft, Participant: mockParticipant(identity)}
}
