package video

import (
	"context"
	"errors"
)

var (
	ErrNotConnected = errors.New("room session is not connected")
	ErrRoomExists   = errors.New("room session already connected")
	ErrRoomNotFound = errors.New("room session not found")
)

// RemoteParticipant is another identity present in the room.
type RemoteParticipant interface {
	Identity() string
}

type RoomEventType string

const (
	RoomEventParticipantJoined RoomEventType = "participant_joined"
	RoomEventParticipantLeft   RoomEventType = "participant_left"
	RoomEventDisconnected      RoomEventType = "disconnected"
)

type RoomEvent struct {
	Type        RoomEventType
	Participant RemoteParticipant
}

// Room is one joined video room at the provider. The events channel closes
// after the disconnected event.
type Room interface {
	Name() string
	Participants() []RemoteParticipant
	SetAudioEnabled(on bool) error
	SetVideoEnabled(on bool) error
	Disconnect() error
	Events() <-chan RoomEvent
}

// RoomProvider joins hosted video rooms with a room-scoped credential.
type RoomProvider interface {
	Name() string
	JoinRoom(ctx context.Context, tok, roomName, identity string) (Room, error)
}
