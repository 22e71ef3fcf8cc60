package dialer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brightdesk/dialtone/internal/calllog"
	"github.com/brightdesk/dialtone/internal/presence"
	"github.com/brightdesk/dialtone/internal/provider"
)

func newTestRegistry(t *testing.T) (*Registry, *provider.MockProvider, presence.Guard) {
	t.Helper()
	prov := provider.NewMockProvider()
	guard := presence.NewLocalGuard(1)
	r := NewRegistry(prov, &stubTokens{}, calllog.NewMemoryRecorder(), guard, nil, testConfig())
	t.Cleanup(r.DestroyAll)
	return r, prov, guard
}

func TestRegistryInitializeReturnsExistingSession(t *testing.T) {
	r, prov, _ := newTestRegistry(t)

	s1, err := r.Initialize(context.Background(), "ws1")
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	s2, err := r.Initialize(context.Background(), "ws1")
	if err != nil {
		t.Fatalf("second Initialize() error = %v", err)
	}
	if s1 != s2 {
		t.Fatalf("Initialize() must reuse the live session")
	}
	if prov.Registrations() != 1 {
		t.Fatalf("Registrations() = %d, want 1", prov.Registrations())
	}
	if r.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", r.ActiveCount())
	}
}

func TestRegistryRejectsEmptyWorkspace(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	if _, err := r.Initialize(context.Background(), ""); err == nil {
		t.Fatalf("Initialize() with empty workspace should fail")
	}
}

func TestRegistryEnforcesEndpointCap(t *testing.T) {
	prov := provider.NewMockProvider()
	guard := presence.NewLocalGuard(1)
	r := NewRegistry(prov, &stubTokens{}, calllog.NewMemoryRecorder(), guard, nil, testConfig())
	t.Cleanup(r.DestroyAll)

	if _, err := r.Initialize(context.Background(), "ws1"); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	// A second service instance sharing the guard is turned away.
	other := NewRegistry(prov, &stubTokens{}, calllog.NewMemoryRecorder(), guard, nil, testConfig())
	t.Cleanup(other.DestroyAll)
	if _, err := other.Initialize(context.Background(), "ws1"); !errors.Is(err, ErrWorkspaceBusy) {
		t.Fatalf("Initialize() on occupied slot error = %v, want %v", err, ErrWorkspaceBusy)
	}

	// Destroying the holder frees the slot.
	if err := r.Destroy("ws1"); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if _, err := other.Initialize(context.Background(), "ws1"); err != nil {
		t.Fatalf("Initialize() after release error = %v", err)
	}
}

func TestRegistryReplacesErroredSession(t *testing.T) {
	r, prov, _ := newTestRegistry(t)

	s1, err := r.Initialize(context.Background(), "ws1")
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	prov.LastEndpoint().PushError(31000, "transport down")
	waitFor(t, time.Second, func() bool { return s1.State() == StateError }, "session error state")

	s2, err := r.Initialize(context.Background(), "ws1")
	if err != nil {
		t.Fatalf("replacement Initialize() error = %v", err)
	}
	if s2 == s1 {
		t.Fatalf("errored session must be replaced")
	}
	if s2.State() != StateReady {
		t.Fatalf("replacement State() = %q, want %q", s2.State(), StateReady)
	}
	if prov.Registrations() != 2 {
		t.Fatalf("Registrations() = %d, want 2", prov.Registrations())
	}
}

func TestRegistryDestroyUnknownWorkspace(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	if err := r.Destroy("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Destroy() error = %v, want %v", err, ErrSessionNotFound)
	}
	if _, err := r.Get("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get() error = %v, want %v", err, ErrSessionNotFound)
	}
}

func TestRegistryInitializeFailureReleasesSlot(t *testing.T) {
	r, prov, guard := newTestRegistry(t)
	prov.FailNextRegister(errors.New("registration rejected"))

	if _, err := r.Initialize(context.Background(), "ws1"); err == nil {
		t.Fatalf("Initialize() should surface registration failure")
	}
	if r.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0 after failure", r.ActiveCount())
	}
	ok, err := guard.Acquire(context.Background(), "ws1")
	if err != nil || !ok {
		t.Fatalf("slot should be free after failed init: %v, %v", ok, err)
	}
	_ = guard.Release(context.Background(), "ws1")

	if _, err := r.Initialize(context.Background(), "ws1"); err != nil {
		t.Fatalf("Initialize() retry error = %v", err)
	}
}

func TestRegistryDestroyAll(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	s1, err := r.Initialize(context.Background(), "ws1")
	if err != nil {
		t.Fatalf("Initialize(ws1) error = %v", err)
	}
	s2, err := r.Initialize(context.Background(), "ws2")
	if err != nil {
		t.Fatalf("Initialize(ws2) error = %v", err)
	}

	r.DestroyAll()
	if r.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", r.ActiveCount())
	}
	if s1.State() != StateDestroyed || s2.State() != StateDestroyed {
		t.Fatalf("sessions should be destroyed, got %q and %q", s1.State(), s2.State())
	}
}
