package dialer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brightdesk/dialtone/internal/calllog"
	"github.com/brightdesk/dialtone/internal/provider"
)

func readySession(t *testing.T, cfg Config) (*Session, *provider.MockProvider, *calllog.MemoryRecorder) {
	t.Helper()
	prov := provider.NewMockProvider()
	rec := calllog.NewMemoryRecorder()
	s := NewSession("ws1", prov, &stubTokens{}, rec, nil, cfg)
	t.Cleanup(s.Destroy)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return s, prov, rec
}

func TestPlaceRequiresReadySession(t *testing.T) {
	prov := provider.NewMockProvider()
	s := NewSession("ws1", prov, &stubTokens{}, calllog.NewMemoryRecorder(), nil, testConfig())
	t.Cleanup(s.Destroy)

	if _, err := s.Place(context.Background(), "+15550100", "+15550199", ""); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Place() on uninitialized session error = %v, want %v", err, ErrNotReady)
	}
}

func TestPlaceRejectsSecondCall(t *testing.T) {
	s, _, _ := readySession(t, testConfig())

	if _, err := s.Place(context.Background(), "+15550100", "+15550199", "lead1"); err != nil {
		t.Fatalf("first Place() error = %v", err)
	}
	if _, err := s.Place(context.Background(), "+15550101", "+15550199", ""); !errors.Is(err, ErrCallInProgress) {
		t.Fatalf("second Place() error = %v, want %v", err, ErrCallInProgress)
	}
}

func TestOutboundCallLifecycle(t *testing.T) {
	s, prov, rec := readySession(t, testConfig())

	info, err := s.Place(context.Background(), "+15550100", "+15550199", "lead1")
	if err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	if info.State != CallConnecting {
		t.Fatalf("Place() state = %q, want %q", info.State, CallConnecting)
	}

	call := prov.LastEndpoint().LastCall()
	call.FireRinging()
	waitFor(t, time.Second, func() bool { return s.CallInfo().State == CallRinging }, "ringing state")

	call.FireAccepted()
	waitFor(t, time.Second, func() bool { return s.CallInfo().State == CallInProgress }, "in-progress state")
	if s.CallInfo().SID == "" {
		t.Fatalf("accepted call should carry a SID")
	}

	// The 10ms tick stands in for the 1s production counter.
	waitFor(t, time.Second, func() bool { return s.CallInfo().DurationSeconds >= 3 }, "duration ticks")

	if err := s.End(context.Background(), "left voicemail"); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	waitFor(t, time.Second, func() bool { return s.CallInfo().State == CallIdle }, "call slot cleared")

	waitFor(t, time.Second, func() bool {
		recs, _ := rec.ListByWorkspace(context.Background(), "ws1", "", 10)
		return len(recs) == 1 && recs[0].Notes == "left voicemail" && recs[0].DurationSeconds >= 3
	}, "finished call record")

	recs, _ := rec.ListByWorkspace(context.Background(), "ws1", "", 10)
	if recs[0].LeadID != "lead1" || recs[0].ToNumber != "+15550100" {
		t.Fatalf("call record = %+v, want lead1 / +15550100", recs[0])
	}
}

func TestDurationStopsAfterDisconnect(t *testing.T) {
	s, prov, _ := readySession(t, testConfig())

	if _, err := s.Place(context.Background(), "+15550100", "+15550199", ""); err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	call := prov.LastEndpoint().LastCall()
	call.FireAccepted()
	waitFor(t, time.Second, func() bool { return s.CallInfo().DurationSeconds >= 1 }, "first tick")

	call.FireDisconnected()
	waitFor(t, time.Second, func() bool { return s.CallInfo().State == CallIdle }, "call ended")
	time.Sleep(50 * time.Millisecond)
	if got := s.CallInfo().DurationSeconds; got != 0 {
		t.Fatalf("idle slot duration = %d, want 0", got)
	}
}

func TestRemoteHangupClearsSlot(t *testing.T) {
	s, prov, _ := readySession(t, testConfig())

	if _, err := s.Place(context.Background(), "+15550100", "+15550199", ""); err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	call := prov.LastEndpoint().LastCall()
	call.FireAccepted()
	waitFor(t, time.Second, func() bool { return s.CallInfo().State == CallInProgress }, "in-progress state")

	call.FireDisconnected()
	waitFor(t, time.Second, func() bool { return s.CallInfo().State == CallIdle }, "slot cleared")
	if got := s.State(); got != StateReady {
		t.Fatalf("State() = %q, session must stay ready after hangup", got)
	}

	// The slot is reusable.
	if _, err := s.Place(context.Background(), "+15550101", "+15550199", ""); err != nil {
		t.Fatalf("Place() after hangup error = %v", err)
	}
}

func TestCancelledBeforeAnswer(t *testing.T) {
	s, prov, _ := readySession(t, testConfig())

	if _, err := s.Place(context.Background(), "+15550100", "+15550199", ""); err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	call := prov.LastEndpoint().LastCall()
	call.FireRinging()
	call.FireCancelled()

	waitFor(t, time.Second, func() bool { return s.CallInfo().State == CallIdle }, "slot cleared")
	if got := s.State(); got != StateReady {
		t.Fatalf("State() = %q, want %q", got, StateReady)
	}
}

func TestCallErrorLeavesSessionReady(t *testing.T) {
	s, prov, _ := readySession(t, testConfig())

	if _, err := s.Place(context.Background(), "+15550100", "+15550199", ""); err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	call := prov.LastEndpoint().LastCall()
	call.FireError(31003, "destination unreachable")

	waitFor(t, time.Second, func() bool { return s.CallInfo().State == CallIdle }, "slot cleared")
	if got := s.State(); got != StateReady {
		t.Fatalf("State() = %q, call errors must not kill the session", got)
	}
	if got := s.Status(); got != StatusConnected {
		t.Fatalf("Status() = %q, want %q", got, StatusConnected)
	}
}

func TestMuteAndDigitsRequireActiveCall(t *testing.T) {
	s, prov, _ := readySession(t, testConfig())

	if err := s.Mute(true); !errors.Is(err, ErrNoActiveCall) {
		t.Fatalf("Mute() with no call error = %v, want %v", err, ErrNoActiveCall)
	}
	if err := s.SendDigits(context.Background(), "1"); !errors.Is(err, ErrNoActiveCall) {
		t.Fatalf("SendDigits() with no call error = %v, want %v", err, ErrNoActiveCall)
	}

	if _, err := s.Place(context.Background(), "+15550100", "+15550199", ""); err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	// Still ringing, not yet active.
	if err := s.Mute(true); !errors.Is(err, ErrNoActiveCall) {
		t.Fatalf("Mute() while connecting error = %v, want %v", err, ErrNoActiveCall)
	}

	call := prov.LastEndpoint().LastCall()
	call.FireAccepted()
	waitFor(t, time.Second, func() bool { return s.CallInfo().State == CallInProgress }, "in-progress state")

	if err := s.Mute(true); err != nil {
		t.Fatalf("Mute() error = %v", err)
	}
	if !call.Muted() || !s.CallInfo().Muted {
		t.Fatalf("mute should reach the provider and the slot state")
	}
	if err := s.Mute(false); err != nil {
		t.Fatalf("unmute error = %v", err)
	}
	if call.Muted() {
		t.Fatalf("unmute should reach the provider")
	}

	if err := s.SendDigits(context.Background(), "123#"); err != nil {
		t.Fatalf("SendDigits() error = %v", err)
	}
	if got := call.Digits(); len(got) != 1 || got[0] != "123#" {
		t.Fatalf("Digits() = %v, want [123#]", got)
	}
}

func TestEndWithNoCall(t *testing.T) {
	s, _, _ := readySession(t, testConfig())
	if err := s.End(context.Background(), ""); !errors.Is(err, ErrNoActiveCall) {
		t.Fatalf("End() with no call error = %v, want %v", err, ErrNoActiveCall)
	}
}

// gatedConnectProvider holds Connect until the gate channel is closed so a
// test can interleave other operations with the connect round trip.
type gatedConnectProvider struct {
	inner *provider.MockProvider
	gate  chan struct{}
}

func (p *gatedConnectProvider) Name() string { return p.inner.Name() }

func (p *gatedConnectProvider) NewEndpoint(ctx context.Context, token string) (provider.Endpoint, error) {
	ep, err := p.inner.NewEndpoint(ctx, token)
	if err != nil {
		return nil, err
	}
	return &gatedConnectEndpoint{Endpoint: ep, gate: p.gate}, nil
}

type gatedConnectEndpoint struct {
	provider.Endpoint
	gate chan struct{}
}

func (e *gatedConnectEndpoint) Connect(ctx context.Context, params provider.ConnectParams) (provider.CallHandle, error) {
	select {
	case <-e.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return e.Endpoint.Connect(ctx, params)
}

func TestEndDuringConnectHangsUpResolvedHandle(t *testing.T) {
	inner := provider.NewMockProvider()
	gate := make(chan struct{})
	prov := &gatedConnectProvider{inner: inner, gate: gate}
	s := NewSession("ws1", prov, &stubTokens{}, calllog.NewMemoryRecorder(), nil, testConfig())
	t.Cleanup(s.Destroy)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	placed := make(chan error, 1)
	go func() {
		_, err := s.Place(context.Background(), "+15550100", "+15550199", "")
		placed <- err
	}()
	waitFor(t, time.Second, func() bool { return s.CallInfo().State == CallConnecting }, "slot claimed")

	if err := s.End(context.Background(), ""); err != nil {
		t.Fatalf("End() during connect error = %v", err)
	}
	if got := s.CallInfo().State; got != CallDisconnecting {
		t.Fatalf("CallInfo().State = %q, want %q", got, CallDisconnecting)
	}

	close(gate)
	if err := <-placed; err != nil {
		t.Fatalf("Place() error = %v", err)
	}

	call := inner.LastEndpoint().LastCall()
	waitFor(t, time.Second, func() bool { return call.DisconnectRequests() == 1 }, "hangup reaches the provider")
	if got := s.CallInfo().State; got != CallIdle {
		t.Fatalf("CallInfo().State = %q, want %q after hangup before connect", got, CallIdle)
	}

	// A late accepted event from the dead handle must not revive the slot.
	call.FireAccepted()
	time.Sleep(30 * time.Millisecond)
	if got := s.CallInfo().State; got != CallIdle {
		t.Fatalf("CallInfo().State = %q after late accept, want %q", got, CallIdle)
	}
	if got := s.State(); got != StateReady {
		t.Fatalf("State() = %q, want %q", got, StateReady)
	}

	// The slot is reusable.
	if _, err := s.Place(context.Background(), "+15550101", "+15550199", ""); err != nil {
		t.Fatalf("Place() after hangup error = %v", err)
	}
}

func TestIncomingCallAnswer(t *testing.T) {
	s, prov, rec := readySession(t, testConfig())

	inbound := prov.LastEndpoint().PushIncoming("+15550177")
	waitFor(t, time.Second, func() bool { return s.CallInfo().State == CallIncoming }, "incoming state")
	if got := s.CallInfo().From; got != "+15550177" {
		t.Fatalf("CallInfo().From = %q, want +15550177", got)
	}

	if err := s.Answer(context.Background()); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	waitFor(t, time.Second, func() bool { return s.CallInfo().State == CallInProgress }, "answered state")

	if err := s.End(context.Background(), ""); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	waitFor(t, time.Second, func() bool { return s.CallInfo().State == CallIdle }, "slot cleared")
	if inbound.DisconnectRequests() != 1 {
		t.Fatalf("DisconnectRequests() = %d, want 1", inbound.DisconnectRequests())
	}

	waitFor(t, time.Second, func() bool {
		recs, _ := rec.ListByWorkspace(context.Background(), "ws1", "", 10)
		return len(recs) == 1
	}, "inbound call record")
}

func TestIncomingCallReject(t *testing.T) {
	s, prov, _ := readySession(t, testConfig())

	prov.LastEndpoint().PushIncoming("+15550177")
	waitFor(t, time.Second, func() bool { return s.CallInfo().State == CallIncoming }, "incoming state")

	if err := s.Reject(context.Background()); err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	waitFor(t, time.Second, func() bool { return s.CallInfo().State == CallIdle }, "slot cleared")
}

func TestIncomingRejectedWhileBusy(t *testing.T) {
	s, prov, _ := readySession(t, testConfig())

	if _, err := s.Place(context.Background(), "+15550100", "+15550199", ""); err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	outbound := prov.LastEndpoint().LastCall()
	outbound.FireAccepted()
	waitFor(t, time.Second, func() bool { return s.CallInfo().State == CallInProgress }, "outbound active")

	prov.LastEndpoint().PushIncoming("+15550177")
	time.Sleep(30 * time.Millisecond)
	if got := s.CallInfo().State; got != CallInProgress {
		t.Fatalf("CallInfo().State = %q, active call must survive a busy inbound", got)
	}
	if got := s.CallInfo().From; got == "+15550177" {
		t.Fatalf("busy inbound call must not take the slot")
	}
}

func TestAnswerWithoutIncoming(t *testing.T) {
	s, prov, _ := readySession(t, testConfig())

	if err := s.Answer(context.Background()); !errors.Is(err, ErrNoIncomingCall) {
		t.Fatalf("Answer() with no call error = %v, want %v", err, ErrNoIncomingCall)
	}

	if _, err := s.Place(context.Background(), "+15550100", "+15550199", ""); err != nil {
		t.Fatalf("Place() error = %v", err)
	}
	prov.LastEndpoint().LastCall().FireAccepted()
	waitFor(t, time.Second, func() bool { return s.CallInfo().State == CallInProgress }, "outbound active")

	if err := s.Answer(context.Background()); !errors.Is(err, ErrNoIncomingCall) {
		t.Fatalf("Answer() on outbound call error = %v, want %v", err, ErrNoIncomingCall)
	}
}
