package dialer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/brightdesk/dialtone/internal/calllog"
	"github.com/brightdesk/dialtone/internal/provider"
)

// Call is the session's single call slot. Fields are guarded by the owning
// session's mutex; the provider handle itself is safe to use outside it.
type Call struct {
	handle    provider.CallHandle
	inbound   bool
	state     CallState
	to        string
	from      string
	leadID    string
	sid       string
	startedAt time.Time
	duration  int
	muted     bool
	notes     string
	stopTick  chan struct{}
	detached  bool
}

func (c *Call) infoLocked() CallInfo {
	return CallInfo{
		State:           c.state,
		To:              c.to,
		From:            c.from,
		LeadID:          c.leadID,
		SID:             c.sid,
		DurationSeconds: c.duration,
		Muted:           c.muted,
		StartedAt:       c.startedAt,
	}
}

func (s *Session) callInfoLocked() CallInfo {
	if s.call == nil {
		return CallInfo{State: CallIdle}
	}
	return s.call.infoLocked()
}

// CallInfo returns a copy of the current call slot state.
func (s *Session) CallInfo() CallInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callInfoLocked()
}

// Place starts an outbound call. The slot is claimed before the provider
// round trip so a second Place cannot slip in while the first connects.
func (s *Session) Place(ctx context.Context, to, from, leadID string) (CallInfo, error) {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return CallInfo{}, ErrNotReady
	}
	if s.call != nil {
		s.mu.Unlock()
		return CallInfo{}, ErrCallInProgress
	}
	ep := s.endpoint
	gen := s.gen
	c := &Call{
		state:    CallConnecting,
		to:       to,
		from:     from,
		leadID:   leadID,
		stopTick: make(chan struct{}),
	}
	s.call = c
	s.mu.Unlock()
	s.notifyCall()

	handle, err := ep.Connect(ctx, provider.ConnectParams{
		To:          to,
		From:        from,
		WorkspaceID: s.workspaceID,
		LeadID:      leadID,
	})
	if err != nil {
		s.mu.Lock()
		if s.call == c {
			s.call = nil
		}
		s.mu.Unlock()
		s.observeCallEvent("connect_failed")
		s.notifyCall()
		return CallInfo{}, fmt.Errorf("connect call: %w", err)
	}

	s.mu.Lock()
	if gen != s.gen || s.call != c {
		s.mu.Unlock()
		_ = handle.Disconnect(context.Background())
		return CallInfo{}, ErrDestroyed
	}
	if c.state == CallDisconnecting {
		// End() arrived while the connect round trip was in flight. The
		// handle only exists now, so hang it up here and clear the slot.
		c.detached = true
		s.call = nil
		close(c.stopTick)
		s.mu.Unlock()
		_ = handle.Disconnect(context.Background())
		s.observeCallEvent("cancelled_before_connect")
		s.notifyCall()
		return CallInfo{State: CallIdle}, nil
	}
	c.handle = handle
	info := c.infoLocked()
	s.mu.Unlock()

	go s.watchCall(c, handle)
	s.observeCallEvent("placed")
	s.notifyCall()
	return info, nil
}

func (s *Session) handleIncoming(gen int, handle provider.CallHandle) {
	if handle == nil {
		return
	}
	s.mu.Lock()
	if gen != s.gen || s.state != StateReady || s.call != nil {
		busy := s.call != nil
		s.mu.Unlock()
		if busy {
			s.observeCallEvent("incoming_rejected_busy")
		}
		_ = handle.Reject(context.Background())
		return
	}
	params := handle.Params()
	c := &Call{
		handle:   handle,
		inbound:  true,
		state:    CallIncoming,
		to:       params.To,
		from:     params.From,
		leadID:   params.LeadID,
		stopTick: make(chan struct{}),
	}
	s.call = c
	s.mu.Unlock()

	go s.watchCall(c, handle)
	s.observeCallEvent("incoming")
	s.notifyCall()
}

func (s *Session) watchCall(c *Call, handle provider.CallHandle) {
	for ev := range handle.Events() {
		switch ev.Type {
		case provider.CallEventRinging:
			s.mu.Lock()
			if s.call == c && c.state == CallConnecting {
				c.state = CallRinging
				s.mu.Unlock()
				s.observeCallEvent("ringing")
				s.notifyCall()
				continue
			}
			s.mu.Unlock()
		case provider.CallEventAccepted:
			s.callAccepted(c, ev.SID)
		case provider.CallEventDisconnected, provider.CallEventCancelled:
			s.callEnded(c, string(ev.Type), "")
		case provider.CallEventError:
			s.callEnded(c, "error", ev.Message)
		}
	}
}

func (s *Session) callAccepted(c *Call, sid string) {
	s.mu.Lock()
	if s.call != c || c.detached || c.state == CallDisconnecting {
		s.mu.Unlock()
		return
	}
	c.state = CallInProgress
	c.sid = sid
	c.startedAt = time.Now().UTC()
	c.duration = 0
	stop := c.stopTick
	info := c.infoLocked()
	s.mu.Unlock()

	go s.tickDuration(c, stop)
	go s.logAcceptedCall(info)
	s.observeCallEvent("accepted")
	s.notifyCall()
}

func (s *Session) tickDuration(c *Call, stop chan struct{}) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			if s.call != c || c.state != CallInProgress {
				s.mu.Unlock()
				return
			}
			c.duration++
			s.mu.Unlock()
			s.notifyCall()
		case <-stop:
			return
		}
	}
}

// callEnded detaches the call from the slot exactly once and publishes the
// terminal state. Late events from an already detached call are dropped.
func (s *Session) callEnded(c *Call, reason, detail string) {
	s.mu.Lock()
	if s.call != c || c.detached {
		s.mu.Unlock()
		return
	}
	c.detached = true
	s.call = nil
	hadSID := c.sid != ""
	duration := c.duration
	sid := c.sid
	notes := c.notes
	close(c.stopTick)
	final := c.infoLocked()
	s.mu.Unlock()

	final.State = CallIdle
	if hadSID {
		go s.finishCallRecord(sid, duration, notes)
	}
	s.observeCallEvent(reason)
	if s.metrics != nil && hadSID {
		s.metrics.ObserveCallDuration(time.Duration(duration) * time.Second)
	}
	if detail != "" {
		log.Printf("dialer: call failed (workspace=%s sid=%s): %s", s.workspaceID, sid, detail)
		s.publish(Update{Kind: UpdateError, ErrorDetail: detail})
	}
	s.publish(Update{Kind: UpdateCall, Call: &final})
}

// teardownCall disconnects a call that was already detached from its session
// slot (by Destroy or a fatal endpoint error).
func (s *Session) teardownCall(c *Call) {
	if c == nil {
		return
	}
	s.mu.Lock()
	if c.detached {
		s.mu.Unlock()
		return
	}
	c.detached = true
	close(c.stopTick)
	handle := c.handle
	sid := c.sid
	duration := c.duration
	notes := c.notes
	s.mu.Unlock()

	if handle != nil {
		_ = handle.Disconnect(context.Background())
	}
	if sid != "" {
		go s.finishCallRecord(sid, duration, notes)
	}
	s.observeCallEvent("torn_down")
}

// Answer accepts a pending inbound call.
func (s *Session) Answer(ctx context.Context) error {
	s.mu.Lock()
	c := s.call
	if c == nil || c.state != CallIncoming {
		s.mu.Unlock()
		return ErrNoIncomingCall
	}
	c.state = CallConnecting
	handle := c.handle
	s.mu.Unlock()
	s.notifyCall()
	return handle.Accept(ctx)
}

// Reject declines a pending inbound call.
func (s *Session) Reject(ctx context.Context) error {
	s.mu.Lock()
	c := s.call
	if c == nil || c.state != CallIncoming {
		s.mu.Unlock()
		return ErrNoIncomingCall
	}
	handle := c.handle
	s.mu.Unlock()
	return handle.Reject(ctx)
}

// Mute toggles the microphone on the active call.
func (s *Session) Mute(on bool) error {
	s.mu.Lock()
	c := s.call
	if c == nil || c.state != CallInProgress {
		s.mu.Unlock()
		return ErrNoActiveCall
	}
	handle := c.handle
	s.mu.Unlock()

	if err := handle.Mute(on); err != nil {
		return err
	}
	s.mu.Lock()
	if s.call == c {
		c.muted = on
	}
	s.mu.Unlock()
	s.notifyCall()
	return nil
}

// SendDigits plays DTMF tones on the active call.
func (s *Session) SendDigits(ctx context.Context, digits string) error {
	s.mu.Lock()
	c := s.call
	if c == nil || c.state != CallInProgress {
		s.mu.Unlock()
		return ErrNoActiveCall
	}
	handle := c.handle
	s.mu.Unlock()
	return handle.SendDigits(ctx, digits)
}

// End hangs up the current call in any non-terminal state. Notes are attached
// to the call record when one exists.
func (s *Session) End(ctx context.Context, notes string) error {
	s.mu.Lock()
	c := s.call
	if c == nil {
		s.mu.Unlock()
		return ErrNoActiveCall
	}
	c.state = CallDisconnecting
	if notes != "" {
		c.notes = notes
	}
	handle := c.handle
	s.mu.Unlock()
	s.notifyCall()

	if handle == nil {
		// Connect round trip still in flight; Place hangs up the handle
		// and clears the slot when it resolves.
		return nil
	}
	return handle.Disconnect(ctx)
}

func (s *Session) finishCallRecord(sid string, duration int, notes string) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.recorder.FinishCallRecord(ctx, sid, duration, notes); err != nil {
		log.Printf("dialer: finish call record failed (sid=%s): %v", sid, err)
	}
}

func (s *Session) logAcceptedCall(info CallInfo) {
	if s.recorder == nil || info.SID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.recorder.SaveCallRecord(ctx, calllog.Record{
		WorkspaceID: s.workspaceID,
		LeadID:      info.LeadID,
		CallSID:     info.SID,
		ToNumber:    info.To,
		FromNumber:  info.From,
		PlacedAt:    info.StartedAt,
	})
	if err != nil {
		log.Printf("dialer: save call record failed (sid=%s): %v", info.SID, err)
	}
}
