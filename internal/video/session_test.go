package video

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/brightdesk/dialtone/internal/token"
)

type stubTokens struct{ err error }

func (s *stubTokens) SignalingToken(_ context.Context, workspaceID string) (token.Credential, error) {
	return token.Credential{Token: "sig-" + workspaceID}, nil
}

func (s *stubTokens) RoomToken(_ context.Context, roomName, identity string) (token.Credential, error) {
	if s.err != nil {
		return token.Credential{}, s.err
	}
	return token.Credential{Token: "room-" + roomName + "-" + identity, IssuedAt: time.Now()}, nil
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestConnectJoinsAndTracksRoster(t *testing.T) {
	prov := NewMockRoomProvider()
	s := NewSession(prov, &stubTokens{})
	t.Cleanup(s.Disconnect)

	if err := s.Connect(context.Background(), "deal-review", "agent7"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !s.Connected() {
		t.Fatalf("Connected() = false after join")
	}
	room := prov.LastRoom()
	if room == nil || room.Name() != "deal-review" {
		t.Fatalf("room not joined")
	}

	room.PushParticipantJoined("lead42")
	room.PushParticipantJoined("manager1")
	waitFor(t, func() bool { return len(s.Roster()) == 2 }, "two participants")
	if got := s.Roster(); !reflect.DeepEqual(got, []string{"lead42", "manager1"}) {
		t.Fatalf("Roster() = %v", got)
	}

	room.PushParticipantLeft("lead42")
	waitFor(t, func() bool { return len(s.Roster()) == 1 }, "participant left")
	if got := s.Roster(); got[0] != "manager1" {
		t.Fatalf("Roster() = %v, want [manager1]", got)
	}
}

func TestConnectRejectsSecondJoin(t *testing.T) {
	s := NewSession(NewMockRoomProvider(), &stubTokens{})
	t.Cleanup(s.Disconnect)

	if err := s.Connect(context.Background(), "r1", "a"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := s.Connect(context.Background(), "r2", "a"); !errors.Is(err, ErrRoomExists) {
		t.Fatalf("second Connect() error = %v, want %v", err, ErrRoomExists)
	}
}

func TestConnectTokenFailure(t *testing.T) {
	s := NewSession(NewMockRoomProvider(), &stubTokens{err: errors.New("issuer down")})
	if err := s.Connect(context.Background(), "r1", "a"); err == nil {
		t.Fatalf("Connect() should fail when the token source fails")
	}
	if s.Connected() {
		t.Fatalf("session must not be connected after a failed join")
	}
}

func TestTrackToggles(t *testing.T) {
	prov := NewMockRoomProvider()
	s := NewSession(prov, &stubTokens{})
	t.Cleanup(s.Disconnect)

	if err := s.SetAudioEnabled(false); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("SetAudioEnabled() before join error = %v, want %v", err, ErrNotConnected)
	}

	if err := s.Connect(context.Background(), "r1", "a"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	snap := s.Snapshot()
	if !snap.AudioEnabled || !snap.VideoEnabled {
		t.Fatalf("tracks should start enabled, got %+v", snap)
	}

	if err := s.SetAudioEnabled(false); err != nil {
		t.Fatalf("SetAudioEnabled() error = %v", err)
	}
	if err := s.SetVideoEnabled(false); err != nil {
		t.Fatalf("SetVideoEnabled() error = %v", err)
	}
	room := prov.LastRoom()
	if room.AudioEnabled() || room.VideoEnabled() {
		t.Fatalf("toggles should reach the provider room")
	}
	snap = s.Snapshot()
	if snap.AudioEnabled || snap.VideoEnabled {
		t.Fatalf("Snapshot() = %+v, want both tracks off", snap)
	}
}

func TestDisconnectClearsRoster(t *testing.T) {
	prov := NewMockRoomProvider()
	s := NewSession(prov, &stubTokens{})

	if err := s.Connect(context.Background(), "r1", "a"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	prov.LastRoom().PushParticipantJoined("b")
	waitFor(t, func() bool { return len(s.Roster()) == 1 }, "participant joined")

	s.Disconnect()
	if s.Connected() {
		t.Fatalf("Connected() = true after Disconnect()")
	}
	if len(s.Roster()) != 0 {
		t.Fatalf("Roster() = %v, want empty", s.Roster())
	}
	if !prov.LastRoom().Disconnected() {
		t.Fatalf("provider room should be disconnected")
	}
	// Idempotent.
	s.Disconnect()
}

func TestRemoteDisconnectClearsSession(t *testing.T) {
	prov := NewMockRoomProvider()
	s := NewSession(prov, &stubTokens{})

	if err := s.Connect(context.Background(), "r1", "a"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	prov.LastRoom().Disconnect()
	waitFor(t, func() bool { return !s.Connected() }, "remote disconnect observed")
}

func TestManagerRoomLifecycle(t *testing.T) {
	prov := NewMockRoomProvider()
	m := NewManager(prov, &stubTokens{})
	t.Cleanup(m.DisconnectAll)

	s, err := m.Connect(context.Background(), "r1", "agent7")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if _, err := m.Connect(context.Background(), "r1", "agent8"); !errors.Is(err, ErrRoomExists) {
		t.Fatalf("duplicate room Connect() error = %v, want %v", err, ErrRoomExists)
	}

	got, err := m.Get("r1")
	if err != nil || got != s {
		t.Fatalf("Get() = %v, %v; want the live session", got, err)
	}

	if err := m.Disconnect("r1"); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if _, err := m.Get("r1"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("Get() after Disconnect() error = %v, want %v", err, ErrRoomNotFound)
	}
	if err := m.Disconnect("r1"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("second Disconnect() error = %v, want %v", err, ErrRoomNotFound)
	}

	// The name is reusable after disconnect.
	if _, err := m.Connect(context.Background(), "r1", "agent7"); err != nil {
		t.Fatalf("rejoin Connect() error = %v", err)
	}
}
